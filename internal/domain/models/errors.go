package models

import "errors"

var (
	// ErrOutOfOrderBar rejects an append whose timestamp is not strictly
	// greater than the newest retained bar. The ring is left untouched.
	ErrOutOfOrderBar = errors.New("bar timestamp not after newest retained bar")

	// ErrInsufficientHistory means a feature's required lookback exceeds the
	// retained window; the feature stays out of the vector until enough
	// history accumulates.
	ErrInsufficientHistory = errors.New("insufficient history for lookback")

	// ErrInferenceTimeout marks an abandoned model call.
	ErrInferenceTimeout = errors.New("inference call timed out")

	// ErrContractMismatch means the feature column order does not match the
	// contract the inference service was built against.
	ErrContractMismatch = errors.New("feature contract hash mismatch")

	// ErrNoPrediction means neither a fresh nor a cached prediction is
	// available for a symbol.
	ErrNoPrediction = errors.New("no prediction available")
)
