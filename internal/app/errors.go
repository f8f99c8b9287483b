package app

import "errors"

// Sentinel error kinds for this package. These allow errors.Is/As from callers.
var (
	ErrJobActive   = errors.New("a batch job is already running")
	ErrJobNotFound = errors.New("job not found")
	ErrNotRunning  = errors.New("job is not running")
	ErrNoSegments  = errors.New("segments not available until the job completes")
	ErrInvalidVIN  = errors.New("invalid vin")
	ErrFetchFailed = errors.New("vehicle input fetch failed")
	ErrStoreFailed = errors.New("result store write failed")
	ErrNotStarted  = errors.New("service not started")
)
