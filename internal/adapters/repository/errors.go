package repository

import "errors"

// Sentinel kinds for store errors.
var (
	ErrNotFound = errors.New("vin not found")
	ErrExpired  = errors.New("score expired")
)
