package direrr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

////////////////////////////////////////////////////////////////////////////////

func TestRetriableAndNonRetriableUnwrapCorrectly(t *testing.T) {
	base := errors.New("boom")

	require.True(t, errors.Is(NewRetriableError(base), base))
	require.True(t, Retriable(NewRetriableError(base)))

	nonRetriable := NewNonRetriableError(NewRetriableError(base))
	require.True(t, errors.Is(nonRetriable, base))
	require.False(t, Retriable(nonRetriable))
}

func TestRetriableIsFalseForPlainErrors(t *testing.T) {
	require.False(t, Retriable(errors.New("plain")))
	require.False(t, Retriable(nil))
}

////////////////////////////////////////////////////////////////////////////////

func TestChainMismatchErrorMessage(t *testing.T) {
	err := NewChainMismatchError(
		[16]byte{0x01},
		[16]byte{0x02},
		"/vhds/base.vhd",
	)

	require.Contains(t, err.Error(), "/vhds/base.vhd")
}

func TestParentNotFoundErrorMessage(t *testing.T) {
	err := NewParentNotFoundError("/vhds/child.vhd", []string{"../base.vhd", "base.vhd"})
	require.Contains(t, err.Error(), "../base.vhd")
}

func TestMissingExtentErrorMessage(t *testing.T) {
	err := NewMissingExtentError(uint32(12), 100)
	require.Contains(t, err.Error(), "100")
}

func TestSliceTooShortIsASentinel(t *testing.T) {
	wrapped := fmt.Errorf("reading footer: %w", ErrSliceTooShort)
	require.True(t, errors.Is(wrapped, ErrSliceTooShort))
}
