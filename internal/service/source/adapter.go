package source

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"FinSight/internal/domain/models"
)

// Adapter wraps one external provider for one data type. Fetch must
// honor the caller's context deadline and classify failures via
// *FetchError so the registry and health monitor can react differently
// to rate limiting versus genuine unavailability.
type Adapter interface {
	ID() string
	DataType() models.DataType
	Fetch(ctx context.Context, params FetchParams) (*FetchResult, error)
	Probe(ctx context.Context) (time.Duration, error)
}

// FetchParams identifies what to fetch from a provider.
type FetchParams struct {
	Symbol    string
	Qualifier string // date, horizon or report period; empty means latest
}

// FetchResult carries the normalized payload plus the estimated cost of
// the call for metered providers.
type FetchResult struct {
	Data     any
	Cost     float64
	Provider string
}

// Descriptor describes a registered adapter. Immutable after
// registration except the enabled flag, which the registry owns.
type Descriptor struct {
	ID       string
	DataType models.DataType
	Priority int // lower = preferred
	Enabled  bool
}

// ErrorKind classifies adapter failures.
type ErrorKind string

const (
	ErrKindRateLimited     ErrorKind = "rate_limited"
	ErrKindUnavailable     ErrorKind = "unavailable"
	ErrKindInvalidResponse ErrorKind = "invalid_response"
	ErrKindTimeout         ErrorKind = "timeout"
	ErrKindCircuitOpen     ErrorKind = "circuit_open"
)

// FetchError is the classified failure of a single adapter call.
type FetchError struct {
	AdapterID  string
	Kind       ErrorKind
	RetryAfter time.Duration // only meaningful for rate_limited
	Err        error
}

func (e *FetchError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.AdapterID, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.AdapterID, e.Kind)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// NewRateLimited builds a rate-limited failure with a provider-given
// retry delay (zero when the provider did not say).
func NewRateLimited(adapterID string, retryAfter time.Duration, err error) *FetchError {
	return &FetchError{AdapterID: adapterID, Kind: ErrKindRateLimited, RetryAfter: retryAfter, Err: err}
}

// NewUnavailable builds an unreachable-provider failure.
func NewUnavailable(adapterID string, err error) *FetchError {
	return &FetchError{AdapterID: adapterID, Kind: ErrKindUnavailable, Err: err}
}

// NewInvalidResponse builds an unparseable-payload failure.
func NewInvalidResponse(adapterID string, err error) *FetchError {
	return &FetchError{AdapterID: adapterID, Kind: ErrKindInvalidResponse, Err: err}
}

// NewTimeout builds a deadline-exceeded failure.
func NewTimeout(adapterID string, err error) *FetchError {
	return &FetchError{AdapterID: adapterID, Kind: ErrKindTimeout, Err: err}
}

// Classify maps an arbitrary fetch error to its kind. Context deadline
// errors become timeouts; anything unclassified counts as unavailable.
func Classify(err error) ErrorKind {
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return ErrKindTimeout
	}
	return ErrKindUnavailable
}

// AttemptFailure is one adapter's outcome inside an exhausted execute.
type AttemptFailure struct {
	AdapterID string
	Kind      ErrorKind
	Err       error
}

// ExhaustedError aggregates every candidate's failure after the registry
// ran out of adapters for a data type.
type ExhaustedError struct {
	DataType models.DataType
	Attempts []AttemptFailure
}

func (e *ExhaustedError) Error() string {
	if len(e.Attempts) == 0 {
		return fmt.Sprintf("no adapters registered for %s", e.DataType)
	}
	parts := make([]string, 0, len(e.Attempts))
	for _, a := range e.Attempts {
		parts = append(parts, fmt.Sprintf("%s=%s", a.AdapterID, a.Kind))
	}
	return fmt.Sprintf("all %s adapters failed: %s", e.DataType, strings.Join(parts, ", "))
}

// DeadlineError signals that the overall execute deadline expired before
// the candidate list was exhausted.
type DeadlineError struct {
	DataType models.DataType
	Attempts []AttemptFailure
}

func (e *DeadlineError) Error() string {
	return fmt.Sprintf("deadline exceeded fetching %s after %d attempts", e.DataType, len(e.Attempts))
}
