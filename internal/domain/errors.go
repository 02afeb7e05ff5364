package domain

import "errors"

// Sentinel errors surfaced by the engine. Callers test with errors.Is; most
// components wrap these with fmt.Errorf("...: %w", err) to add context.
var (
	// ErrInvalidInterval reports a malformed interval string or an hourly
	// interval, which the engine rejects outright.
	ErrInvalidInterval = errors.New("invalid interval")

	// ErrNoBarIntervals reports a stream configuration that requests only
	// quotes; at least one bar interval is required.
	ErrNoBarIntervals = errors.New("no bar intervals requested")

	// ErrOutOfOrderBar reports an append whose timestamp is not strictly
	// greater than the last bar of the same (symbol, interval).
	ErrOutOfOrderBar = errors.New("out-of-order bar")

	// ErrSymbolNotFound reports an operation against a symbol that is not
	// registered in the session.
	ErrSymbolNotFound = errors.New("symbol not found")

	// ErrDuplicateSymbol reports an add of an already-active symbol whose
	// existing provisioning is incompatible with the request.
	ErrDuplicateSymbol = errors.New("duplicate symbol")

	// ErrValidationFailed reports a per-symbol provisioning validation
	// failure (no data source coverage, unsupported interval, missing
	// historical data).
	ErrValidationFailed = errors.New("validation failed")

	// ErrAllSymbolsFailed reports a provisioning batch in which every symbol
	// failed validation.
	ErrAllSymbolsFailed = errors.New("all symbols failed validation")

	// ErrSessionInactive reports an external read issued while the session
	// is gated inactive.
	ErrSessionInactive = errors.New("session inactive")
)
