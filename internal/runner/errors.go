package runner

import "errors"

// Runner errors.
var (
	// ErrNoProvider indicates no provider is configured.
	ErrNoProvider = errors.New("runner: no provider configured")

	// ErrNoStore indicates a persistence call on a runner without storage.
	ErrNoStore = errors.New("runner: no session store configured")
)
