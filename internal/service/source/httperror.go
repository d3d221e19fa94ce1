package source

import (
	"context"
	"errors"
	"net/http"

	xhttp "FinSight/pkg/http"
)

// ClassifyHTTP converts a transport-level error from pkg/http into a
// classified *FetchError for the given adapter. 429 maps to rate_limited
// with the server's Retry-After, 5xx to unavailable, other 4xx to
// invalid_response (the request itself was malformed or rejected).
func ClassifyHTTP(adapterID string, err error) error {
	if err == nil {
		return nil
	}

	var se *xhttp.StatusError
	if errors.As(err, &se) {
		switch {
		case se.StatusCode == http.StatusTooManyRequests:
			return NewRateLimited(adapterID, se.RetryAfter, se)
		case se.StatusCode >= 500:
			return NewUnavailable(adapterID, se)
		default:
			return NewInvalidResponse(adapterID, se)
		}
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return NewTimeout(adapterID, err)
	}

	return NewUnavailable(adapterID, err)
}
