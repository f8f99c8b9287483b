package risk

import "errors"

// Sentinel error kinds for this package. These allow errors.Is/As from callers.
var (
	// ErrCalculation marks a numeric invariant violation reaching the
	// calculator. Unreachable while the matcher and evaluator contracts
	// hold, so every occurrence is also a data-quality alert.
	ErrCalculation = errors.New("calculation invariant violated")
)
