package ident

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseRoundTrip(t *testing.T) {
	for _, s := range []string{"left-pad", "@babel/core", "@types/node"} {
		id, err := Parse(s)
		require.NoError(t, err)
		require.Equal(t, s, id.String())
	}
}

func TestParseRejectsInvalid(t *testing.T) {
	for _, s := range []string{"", "@scope/", "foo@bar", "@/name"} {
		_, err := Parse(s)
		require.Error(t, err, s)
	}
}

func TestSlug(t *testing.T) {
	id := MustParse("@babel/core")
	require.Equal(t, "@babel-core", id.Slug())
	require.Equal(t, "left-pad", MustParse("left-pad").Slug())
}

func TestTypeIdent(t *testing.T) {
	require.Equal(t, "@types/left-pad", MustParse("left-pad").TypeIdent().String())
	require.Equal(t, "@types/babel__core", MustParse("@babel/core").TypeIdent().String())
}

func TestMatchGlob(t *testing.T) {
	require.True(t, MustParse("left-pad").MatchGlob("left-*"))
	require.False(t, MustParse("right-pad").MatchGlob("left-*"))
}
