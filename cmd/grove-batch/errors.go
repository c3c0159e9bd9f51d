package main

import "errors"

// errConfig and errStoreCorrupt back the CLI's exit-code contract:
// 1 on fatal configuration error, 2 on irrecoverable store corruption.
// Anything else that reaches main falls through to exit 1.
var (
	errConfig       = errors.New("configuration error")
	errStoreCorrupt = errors.New("store open failed")
)

func exitCodeFor(err error) int {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, errStoreCorrupt):
		return 2
	default:
		return 1
	}
}
