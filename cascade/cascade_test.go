package cascade

import (
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDerive_NoParentNoParams(t *testing.T) {
	id, err := Derive("", "src", nil)
	require.NoError(t, err)
	assert.Equal(t, "src", id)
}

func TestDerive_WithParent(t *testing.T) {
	id, err := Derive("src:count=0", "up", nil)
	require.NoError(t, err)
	assert.Equal(t, "src:count=0/up", id)
}

func TestDerive_ParamsSortedByKey(t *testing.T) {
	id, err := Derive("p", "step", map[string]any{"model": "M", "index": 2})
	require.NoError(t, err)
	assert.Equal(t, "p/step:index=2,model=M", id)
}

func TestDerive_RejectsReservedCharacters(t *testing.T) {
	_, err := Derive("p", "bad/step", nil)
	assert.ErrorIs(t, err, ErrReservedCharacter)

	_, err = Derive("p", "step", map[string]any{"k": "has;semi"})
	assert.ErrorIs(t, err, ErrReservedCharacter)
}

func TestDerive_RejectsUnsupportedParamTypes(t *testing.T) {
	_, err := Derive("p", "step", map[string]any{"nested": map[string]any{"a": 1}})
	assert.ErrorIs(t, err, ErrUnsupportedParamType)

	_, err = Derive("p", "step", map[string]any{"frac": 1.5})
	assert.ErrorIs(t, err, ErrUnsupportedParamType)
}

func TestDerive_EmptyStep(t *testing.T) {
	_, err := Derive("p", "", nil)
	assert.ErrorIs(t, err, ErrEmptyStep)
}

// Property 2: derivation soundness — derive(parent, S, params) parses back
// to (parent, S, params) up to key ordering.
func TestDerivationSoundness(t *testing.T) {
	parent := "src:count=0"
	params := map[string]any{"model": "gpt", "index": 3}

	id, err := Derive(parent, "fanout", params)
	require.NoError(t, err)

	roots, path := SplitRoots(id)
	assert.Empty(t, roots)

	tokens := SplitPath(path)
	require.Len(t, tokens, 2)
	assert.Equal(t, "src:count=0", tokens[0])

	step, gotParams, err := ParseToken(tokens[1])
	require.NoError(t, err)
	assert.Equal(t, "fanout", step)
	assert.Equal(t, map[string]string{"model": "gpt", "index": "3"}, gotParams)
}

func TestMerge_SingleParent(t *testing.T) {
	id, err := Merge([]string{"p"}, "j")
	require.NoError(t, err)
	assert.Equal(t, "p@j", id)
}

func TestMerge_SortsParents(t *testing.T) {
	id, err := Merge([]string{"q", "p"}, "j")
	require.NoError(t, err)
	assert.Equal(t, "p;q@j", id)
}

func TestMerge_DeduplicatesParents(t *testing.T) {
	id, err := Merge([]string{"p", "p", "q"}, "j")
	require.NoError(t, err)
	assert.Equal(t, "p;q@j", id)
}

func TestMerge_NoParents(t *testing.T) {
	_, err := Merge(nil, "j")
	assert.ErrorIs(t, err, ErrNoParents)
}

// Property 3: merge canonicalisation — any permutation of a parent set
// produces an identical merged id.
func TestMergeCanonicalisation(t *testing.T) {
	base := []string{"a", "b", "c", "d"}

	first, err := Merge(base, "s")
	require.NoError(t, err)

	perm := []string{"d", "b", "a", "c"}
	sort.Sort(sort.Reverse(sort.StringSlice(perm))) // scramble further
	second, err := Merge(perm, "s")
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestSplitRoots_Merge(t *testing.T) {
	roots, path := SplitRoots("p;q@j")
	assert.Equal(t, []string{"p", "q"}, roots)
	assert.Equal(t, "j", path)
}

func TestSplitRoots_NoAt(t *testing.T) {
	roots, path := SplitRoots("src:count=0/up")
	assert.Empty(t, roots)
	assert.Equal(t, "src:count=0/up", path)
}

func TestSplitPath_DiscardsEmptyTokens(t *testing.T) {
	assert.Equal(t, []string{"a", "b"}, SplitPath("/a//b/"))
	assert.Nil(t, SplitPath(""))
}

func TestParseToken_NoParams(t *testing.T) {
	step, params, err := ParseToken("up")
	require.NoError(t, err)
	assert.Equal(t, "up", step)
	assert.Nil(t, params)
}

func TestParseToken_Malformed(t *testing.T) {
	_, _, err := ParseToken("step:missingvalue")
	assert.Error(t, err)
}

func TestRouteHash_DeterministicAndDistinct(t *testing.T) {
	a := RouteHash("src:count=0/up")
	b := RouteHash("src:count=0/up")
	c := RouteHash("src:count=1/up")

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
}
