package uid

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewProducesValidUID(t *testing.T) {
	got := New()
	require.True(t, Valid(got))
}

func TestNewIsRandom(t *testing.T) {
	require.NotEqual(t, New(), New())
}

func TestValidRejectsNonUUID(t *testing.T) {
	require.False(t, Valid("not-a-uuid"))
	require.False(t, Valid(""))
}
