// Package cascade implements the pure string algebra used to derive and
// parse cascade ids: the provenance-encoding identifiers that uniquely name
// every message flowing through a pipeline.
//
// A cascade id is built from two productions. Extension appends a step (and
// its sorted parameter bindings) onto a single parent: "P/S:k1=v1,k2=v2".
// Merge folds a set of parent ids into one, sorting them for set-equality,
// and appends a step: "sort(P1;...;Pm)@S". Both productions are pure and
// side-effect free; nothing in this package touches storage or the network.
package cascade

import (
	"sort"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"
)

// reservedAlphabet lists the bytes step names and parameter values must not
// contain, since they are structurally significant in a cascade id.
const reservedAlphabet = "/:,=;@"

var (
	// ErrReservedCharacter is returned when a step name or a string
	// parameter value contains a byte from reservedAlphabet.
	ErrReservedCharacter = errors.New("cascade: step name or param value contains a reserved character")

	// ErrUnsupportedParamType is returned when a parameter value's type
	// cannot be canonically stringified (nested maps, slices, structs).
	ErrUnsupportedParamType = errors.New("cascade: unsupported parameter type")

	// ErrEmptyStep is returned when Derive or Merge is called with an
	// empty step name.
	ErrEmptyStep = errors.New("cascade: step name must not be empty")

	// ErrNoParents is returned when Merge is called with zero parents.
	ErrNoParents = errors.New("cascade: merge requires at least one parent")
)

// Derive extends parent with step and its sorted parameter bindings,
// producing "parent/step:k1=v1,k2=v2,...". When parent is empty the leading
// slash is omitted, yielding "step[:params]". When params is empty the
// trailing ":..." is omitted entirely.
func Derive(parent, step string, params map[string]any) (string, error) {
	if step == "" {
		return "", ErrEmptyStep
	}
	if err := checkReserved(step); err != nil {
		return "", err
	}

	token, err := renderToken(step, params)
	if err != nil {
		return "", err
	}

	if parent == "" {
		return token, nil
	}
	return parent + "/" + token, nil
}

// Merge de-duplicates and lexicographically sorts parents, joins them with
// ";", and appends "@step". A single-parent merge is that parent followed
// by "@step".
func Merge(parents []string, step string) (string, error) {
	if step == "" {
		return "", ErrEmptyStep
	}
	if err := checkReserved(step); err != nil {
		return "", err
	}
	if len(parents) == 0 {
		return "", ErrNoParents
	}

	dedup := make(map[string]struct{}, len(parents))
	unique := make([]string, 0, len(parents))
	for _, p := range parents {
		if _, seen := dedup[p]; seen {
			continue
		}
		dedup[p] = struct{}{}
		unique = append(unique, p)
	}
	sort.Strings(unique)

	return strings.Join(unique, ";") + "@" + step, nil
}

// SplitRoots splits a cascade id on the first "@" into its merge roots and
// the remaining path. If "@" is absent, roots is empty and path is the
// whole id.
func SplitRoots(id string) (roots []string, path string) {
	idx := strings.IndexByte(id, '@')
	if idx < 0 {
		return nil, id
	}
	rootsPart := id[:idx]
	path = id[idx+1:]
	if rootsPart == "" {
		return nil, path
	}
	return strings.Split(rootsPart, ";"), path
}

// SplitPath splits a path on "/", discarding empty tokens (which can occur
// only for a malformed or empty path).
func SplitPath(path string) []string {
	if path == "" {
		return nil
	}
	raw := strings.Split(path, "/")
	tokens := make([]string, 0, len(raw))
	for _, t := range raw {
		if t != "" {
			tokens = append(tokens, t)
		}
	}
	return tokens
}

// ParseToken splits a single path token "step[:k1=v1,k2=v2]" into its step
// name and parameter map.
func ParseToken(token string) (step string, params map[string]string, err error) {
	idx := strings.IndexByte(token, ':')
	if idx < 0 {
		return token, nil, nil
	}
	step = token[:idx]
	paramStr := token[idx+1:]
	if paramStr == "" {
		return step, nil, nil
	}

	params = make(map[string]string)
	for _, kv := range strings.Split(paramStr, ",") {
		eq := strings.IndexByte(kv, '=')
		if eq < 0 {
			return "", nil, errors.Newf("cascade: malformed parameter %q in token %q", kv, token)
		}
		params[kv[:eq]] = kv[eq+1:]
	}
	return step, params, nil
}

// renderToken canonicalizes a step name and its parameters into "step" or
// "step:k1=v1,k2=v2,..." with keys sorted lexicographically.
func renderToken(step string, params map[string]any) (string, error) {
	if len(params) == 0 {
		return step, nil
	}

	keys := make([]string, 0, len(params))
	for k := range params {
		if err := checkReserved(k); err != nil {
			return "", err
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(step)
	b.WriteByte(':')
	for i, k := range keys {
		if i > 0 {
			b.WriteByte(',')
		}
		rendered, err := stringify(params[k])
		if err != nil {
			return "", err
		}
		if err := checkReserved(rendered); err != nil {
			return "", err
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(rendered)
	}
	return b.String(), nil
}

// stringify renders a parameter value per the canonical encoding: strings
// pass through unquoted, integers render in base-10, bools as true/false,
// and whole-number float64s render as the shortest lossless decimal.
// Nested structures are rejected.
func stringify(v any) (string, error) {
	switch t := v.(type) {
	case string:
		return t, nil
	case bool:
		return strconv.FormatBool(t), nil
	case int:
		return strconv.Itoa(t), nil
	case int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return formatAnyInt(t), nil
	case float64:
		if t != float64(int64(t)) {
			return "", errors.Wrapf(ErrUnsupportedParamType, "non-integral float64 %v has no lossless decimal form", t)
		}
		return strconv.FormatInt(int64(t), 10), nil
	case float32:
		return stringify(float64(t))
	default:
		return "", errors.Wrapf(ErrUnsupportedParamType, "value %#v", v)
	}
}

func formatAnyInt(v any) string {
	switch t := v.(type) {
	case int8:
		return strconv.FormatInt(int64(t), 10)
	case int16:
		return strconv.FormatInt(int64(t), 10)
	case int32:
		return strconv.FormatInt(int64(t), 10)
	case int64:
		return strconv.FormatInt(t, 10)
	case uint:
		return strconv.FormatUint(uint64(t), 10)
	case uint8:
		return strconv.FormatUint(uint64(t), 10)
	case uint16:
		return strconv.FormatUint(uint64(t), 10)
	case uint32:
		return strconv.FormatUint(uint64(t), 10)
	case uint64:
		return strconv.FormatUint(t, 10)
	}
	return ""
}

func checkReserved(s string) error {
	if strings.ContainsAny(s, reservedAlphabet) {
		return errors.Wrapf(ErrReservedCharacter, "value %q", s)
	}
	return nil
}
