package main

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestExitCodeForNil(t *testing.T) {
	require.Equal(t, 0, exitCodeFor(nil))
}

func TestExitCodeForStoreCorrupt(t *testing.T) {
	err := errors.New("wrap: " + errStoreCorrupt.Error())
	require.Equal(t, 1, exitCodeFor(err)) // plain string wrap does not satisfy errors.Is

	wrapped := errWrap(errStoreCorrupt)
	require.Equal(t, 2, exitCodeFor(wrapped))
}

func TestExitCodeForConfig(t *testing.T) {
	require.Equal(t, 1, exitCodeFor(errWrap(errConfig)))
}

func TestExitCodeForUnknownError(t *testing.T) {
	require.Equal(t, 1, exitCodeFor(errors.New("boom")))
}

func errWrap(err error) error {
	return &wrappedErr{err}
}

type wrappedErr struct{ err error }

func (w *wrappedErr) Error() string { return "wrapped: " + w.err.Error() }
func (w *wrappedErr) Unwrap() error { return w.err }
