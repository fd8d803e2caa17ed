package typetag

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStringRendersStructuralKinds(t *testing.T) {
	require.Equal(t, "int", Int().String())
	require.Equal(t, "list<str>", List(Str()).String())
	require.Equal(t, "map<str,int>", Map(Str(), Int()).String())
	require.Equal(t, "optional<int>", Optional(Int()).String())
	require.Equal(t, "stream<bytes>", Stream(Bytes()).String())
	require.Equal(t, "union<int,str>", Union(Int(), Str()).String())
}

func TestIsStream(t *testing.T) {
	elem, ok := Stream(Int()).IsStream()
	require.True(t, ok)
	require.Equal(t, Int(), elem)

	_, ok = Int().IsStream()
	require.False(t, ok)
}

func TestEqual(t *testing.T) {
	require.True(t, Equal(List(Int()), List(Int())))
	require.False(t, Equal(List(Int()), List(Str())))
	require.True(t, Equal(Map(Str(), Int()), Map(Str(), Int())))
	require.False(t, Equal(Union(Int(), Str()), Union(Str(), Int())))
	require.True(t, Equal(Any(), Any()))
}
