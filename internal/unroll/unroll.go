// Package unroll reconstructs every ancestor payload on a message's
// cascade path. Cascade ids are a lossless linearisation of
// provenance, so this is a stateless walk driven entirely by point
// lookups: no back-pointers or separate lineage table is maintained
// anywhere in the system.
package unroll

import (
	"context"
	"fmt"
	"strings"

	"github.com/cockroachdb/errors"

	"github.com/cascadeflow/cascadeflow/cascade"
	"github.com/cascadeflow/cascadeflow/internal/store"
)

// Unroll reconstructs the mapping step_name -> payload for every
// ancestor message on cascadeID's path, recursing into merge roots
// under synthetic keys root0, root1, .... If the same step name
// appears more than once on a path, later occurrences are suffixed
// _0, _1, ....
func Unroll(ctx context.Context, st store.Store, cascadeID string) (map[string]any, error) {
	result := make(map[string]any)

	roots, path := cascade.SplitRoots(cascadeID)
	for i, root := range roots {
		rootResult, err := Unroll(ctx, st, root)
		if err != nil {
			return nil, errors.Wrapf(err, "unroll: root %q", root)
		}
		result[fmt.Sprintf("root%d", i)] = rootResult
	}

	prefix := ""
	seen := make(map[string]int)
	for _, token := range cascade.SplitPath(path) {
		if prefix == "" {
			prefix = token
		} else {
			prefix = prefix + "/" + token
		}

		fullID := prefix
		if len(roots) > 0 {
			fullID = joinRootsAndPath(roots, prefix)
		}

		msg, err := st.Get(ctx, fullID)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, errors.Wrapf(err, "unroll: lookup %q", fullID)
		}

		stepName, _, err := cascade.ParseToken(token)
		if err != nil {
			return nil, errors.Wrapf(err, "unroll: parse token %q", token)
		}

		key := stepName
		if n, ok := seen[stepName]; ok {
			key = fmt.Sprintf("%s_%d", stepName, n)
			seen[stepName] = n + 1
		} else {
			seen[stepName] = 0
		}

		result[key] = msg.Payload
	}

	return result, nil
}

// joinRootsAndPath rebuilds a full cascade id from the roots already
// split off of the original id and a (possibly partial) path prefix.
// roots arrive pre-sorted and de-duplicated since they were produced
// by cascade.Merge when the message was originally derived.
func joinRootsAndPath(roots []string, path string) string {
	return strings.Join(roots, ";") + "@" + path
}
