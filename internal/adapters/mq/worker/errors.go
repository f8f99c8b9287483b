package worker

import "errors"

// ErrAlreadyStarted is returned when Start is called on a running pool.
var ErrAlreadyStarted = errors.New("worker pool already started")
