package version

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCompareNumeric(t *testing.T) {
	require.Equal(t, Less, Compare("1.0", "1.1"))
	require.Equal(t, Greater, Compare("2.0", "1.9"))
	require.Equal(t, Equal, Compare("1.0", "1.0"))
}

func TestCompareNumericWidthIndependence(t *testing.T) {
	// "9" < "10" numerically even though "9" > "10" lexicographically.
	require.Equal(t, Less, Compare("1.9", "1.10"))
}

func TestCompareMissingComponentSortsBeforeNumeric(t *testing.T) {
	require.Equal(t, Less, Compare("1.2", "1.2.1"))
}

func TestCompareAlphaSortsBeforeMissingComponent(t *testing.T) {
	require.Equal(t, Less, Compare("1.0a", "1.0"))
}

func TestCompareAlphaRuns(t *testing.T) {
	require.Equal(t, Less, Compare("1.0alpha", "1.0beta"))
}

func TestCompareEpoch(t *testing.T) {
	require.Equal(t, Greater, Compare("2,1.0", "1.0"))
	require.Equal(t, Less, Compare("1.0", "2,1.0"))
}

func TestCompareRevisionSuffix(t *testing.T) {
	require.Equal(t, Less, Compare("1.0_1", "1.0_2"))
	require.Equal(t, Greater, Compare("1.0_1", "1.0"))
	require.Equal(t, Equal, Compare("1.0_0", "1.0"))
}

func TestCompareReflexiveAndAntisymmetric(t *testing.T) {
	versions := []string{"1.0", "1.0.1", "1.0a", "2,1.0", "1.0_5", "1.10", "1.9"}
	for _, v := range versions {
		require.Equal(t, Equal, Compare(v, v))
	}
	for _, a := range versions {
		for _, b := range versions {
			ab := Compare(a, b)
			ba := Compare(b, a)
			switch ab {
			case Less:
				require.Equal(t, Greater, ba, "%s vs %s", a, b)
			case Greater:
				require.Equal(t, Less, ba, "%s vs %s", a, b)
			default:
				require.Equal(t, Equal, ba, "%s vs %s", a, b)
			}
		}
	}
}

func TestEqualHelper(t *testing.T) {
	require.True(t, Equal("1.0", "1.0"))
	require.False(t, Equal("1.0", "1.1"))
}

func TestParseOp(t *testing.T) {
	cases := map[string]Op{
		"":   Any,
		"=":  Eq,
		"==": Eq,
		"<":  Lt,
		"<=": Le,
		">":  Gt,
		">=": Ge,
	}
	for s, want := range cases {
		op, err := ParseOp(s)
		require.NoError(t, err)
		require.Equal(t, want, op)
	}

	_, err := ParseOp("~>")
	require.Error(t, err)
}

func TestConstraintSatisfies(t *testing.T) {
	c := Constraint{Op: Ge, Version: "1.0"}
	require.True(t, c.Satisfies("1.0"))
	require.True(t, c.Satisfies("1.5"))
	require.False(t, c.Satisfies("0.9"))

	any := Constraint{}
	require.True(t, any.Satisfies("anything"))

	lt := Constraint{Op: Lt, Version: "2.0"}
	require.True(t, lt.Satisfies("1.9"))
	require.False(t, lt.Satisfies("2.0"))
}
