package semver

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestVersionCompare(t *testing.T) {
	require.True(t, MustParse("1.2.3-rc.1").Less(MustParse("1.2.3")))
	require.True(t, MustParse("1.2.3-alpha").Less(MustParse("1.2.3-beta")))
	require.True(t, MustParse("1.2.3-1").Less(MustParse("1.2.3-alpha")))
	require.True(t, MustParse("1.0.0").Less(MustParse("1.1.0")))
	require.True(t, MustParse("1.9.0").Less(MustParse("2.0.0")))
}

func TestVersionParseRejectsOversizeComponents(t *testing.T) {
	_, err := Parse("12345678901234567.0.0")
	require.Error(t, err)

	_, err = Parse("99999999999999999.0.0")
	require.Error(t, err)
}

func TestVersionRoundTrip(t *testing.T) {
	for _, s := range []string{"1.2.3", "1.2.3-rc.1", "1.2.3-rc.1.2", "0.0.0", "1.2.3+build.5"} {
		v, err := Parse(s)
		require.NoError(t, err)
		require.Equal(t, s, v.String())
	}
}

func TestRangeCheck(t *testing.T) {
	r, err := ParseRange("^1.2.3 || 2.x")
	require.NoError(t, err)

	for _, s := range []string{"1.2.3", "1.9.0", "2.0.0", "2.5.1"} {
		require.Truef(t, r.Check(MustParse(s)), "%s should satisfy range", s)
	}
	for _, s := range []string{"1.2.2", "3.0.0", "2.0.0-rc.1"} {
		require.Falsef(t, r.Check(MustParse(s)), "%s should not satisfy range", s)
	}
}

func TestRangeHyphen(t *testing.T) {
	r, err := ParseRange("1.2.3 - 2.3.4")
	require.NoError(t, err)
	require.True(t, r.Check(MustParse("1.2.3")))
	require.True(t, r.Check(MustParse("2.3.4")))
	require.False(t, r.Check(MustParse("2.3.5")))
}

func TestRangeTilde(t *testing.T) {
	r, err := ParseRange("~1.2.3")
	require.NoError(t, err)
	require.True(t, r.Check(MustParse("1.2.9")))
	require.False(t, r.Check(MustParse("1.3.0")))
}

func TestRangeTokens(t *testing.T) {
	r, err := ParseRange("^1.2.3")
	require.NoError(t, err)
	toks := r.Tokens()
	require.Equal(t, TokenAnd, toks[0].Kind)
	require.Equal(t, TokenComparator, toks[1].Kind)
	require.Equal(t, OpGE, toks[1].Op)
}

func TestRangeWildcard(t *testing.T) {
	r, err := ParseRange("*")
	require.NoError(t, err)
	require.True(t, r.Check(MustParse("0.0.1")))
	require.True(t, r.Check(MustParse("9.9.9")))
}
