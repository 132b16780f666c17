package services

import (
	"errors"
	"fmt"
)

var (
	// ErrScheduleNotFound is returned when cancelling or inspecting a
	// schedule key with no active schedule.
	ErrScheduleNotFound = errors.New("schedule not found")

	// ErrScheduleExists is returned when creating a schedule for a
	// (chain, contract) pair that already has one. Cancel it first.
	ErrScheduleExists = errors.New("schedule already exists for this chain and contract")

	// ErrNoSigner is returned when no signer or RPC endpoint is configured
	// for the requested chain.
	ErrNoSigner = errors.New("no signer configured for chain")

	// ErrChainNotFound is returned when a chain ID is not registered.
	ErrChainNotFound = errors.New("chain not found")
)

// ValidationError marks a malformed request. Surfaced as HTTP 400 and never
// retried.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

func NewValidationError(format string, args ...any) *ValidationError {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}
