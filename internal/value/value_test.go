package value

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFromJSONSortsKeysAndPreservesWidth(t *testing.T) {
	raw := []byte(`{"b":1,"a":2,"big":123456789012345678901}`)
	v, err := FromJSON(raw)
	require.NoError(t, err)
	require.Equal(t, []string{"a", "b", "big"}, v.Keys())

	out, err := json.Marshal(v)
	require.NoError(t, err)
	require.JSONEq(t, `{"b":1,"a":2,"big":"123456789012345678901"}`, string(out))
}

func TestMergeShallow(t *testing.T) {
	base := Object().Set("a", Int(1)).Set("b", String("x")).Build()
	patch := Object().Set("b", String("y")).Set("c", Bool(true)).Build()
	merged := Merge(base, patch)

	bv, _ := merged.Get("b")
	s, _ := bv.Str()
	require.Equal(t, "y", s)
	require.Equal(t, []string{"a", "b", "c"}, merged.Keys())
}

func TestIntWidthBoundary(t *testing.T) {
	v, err := FromJSON([]byte(`42`))
	require.NoError(t, err)
	i, ok := v.Int()
	require.True(t, ok)
	require.Equal(t, int64(42), i)
}
