package stressor

import "errors"

// Sentinel error kinds for this package. These allow errors.Is/As from callers.
var (
	ErrUnknownKind    = errors.New("unknown stressor kind")
	ErrInvalidParams  = errors.New("invalid normalization params")
	ErrDataValidation = errors.New("data validation failed")
)
