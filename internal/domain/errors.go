package domain

import "errors"

// Sentinel errors for the failure taxonomy. Callers wrap these with
// fmt.Errorf("...: %w", err) to attach the offending symbol, interval, and
// date range, and match with errors.Is.
var (
	// ErrNoData indicates an empty or unavailable series. Fatal to a run,
	// raised before any strategy callback.
	ErrNoData = errors.New("no data for requested range")

	// ErrVendorUnavailable indicates a transient vendor failure. The cache
	// retries with backoff; it surfaces only when retries are exhausted.
	ErrVendorUnavailable = errors.New("vendor unavailable")

	// ErrInsufficientData indicates a metric cannot be computed from the
	// given equity curve. Fatal to that computation only.
	ErrInsufficientData = errors.New("insufficient data")

	// ErrInvalidBar indicates a bar violating the OHLC ordering invariant.
	ErrInvalidBar = errors.New("invalid bar")

	// ErrDuplicateBar indicates an append with an already-present timestamp.
	ErrDuplicateBar = errors.New("duplicate bar timestamp")

	// ErrOutOfOrderBar indicates an append that would break timestamp order.
	ErrOutOfOrderBar = errors.New("out-of-order bar timestamp")
)
