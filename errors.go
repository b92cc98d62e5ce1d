package duckchat

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrTokenReused is returned when a token that already authorized a request
// is supplied again.
var ErrTokenReused = errors.New("duckchat: token already used")

// Sources reported by ChallengeEvalError.
const (
	SourceStatus   = "status"
	SourceResponse = "response"
)

// TokenFetchError is returned when the status endpoint cannot be reached or
// answers with a non-success status.
type TokenFetchError struct {
	StatusCode int
	Err        error
}

func (e *TokenFetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("duckchat: token fetch failed with status %d", e.StatusCode)
	}
	return fmt.Sprintf("duckchat: token fetch failed: %v", e.Err)
}

func (e *TokenFetchError) Unwrap() error {
	return e.Err
}

// ChallengeEvalError is returned when a challenge fragment is missing,
// invalid or throws. Source tells whether it came from the status endpoint
// or from a completion response.
type ChallengeEvalError struct {
	Source string
	Err    error
}

func (e *ChallengeEvalError) Error() string {
	return fmt.Sprintf("duckchat: %s challenge evaluation failed: %v", e.Source, e.Err)
}

func (e *ChallengeEvalError) Unwrap() error {
	return e.Err
}

// CompletionRequestError is returned when the chat endpoint cannot be reached
// or answers with a non-success status. The response body is not read.
type CompletionRequestError struct {
	StatusCode int
	Err        error
}

func (e *CompletionRequestError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("duckchat: completion request failed with status %d", e.StatusCode)
	}
	return fmt.Sprintf("duckchat: completion request failed: %v", e.Err)
}

func (e *CompletionRequestError) Unwrap() error {
	return e.Err
}

// IsRateLimit returns true for a 429 response.
func (e *CompletionRequestError) IsRateLimit() bool {
	return e.StatusCode == http.StatusTooManyRequests
}

// IsServerError returns true for a 5xx response.
func (e *CompletionRequestError) IsServerError() bool {
	return e.StatusCode >= 500
}

// StreamReadError is returned when reading the event stream fails. Partial
// holds the text assembled before the failure; it is incomplete and must not
// be treated as a reply.
type StreamReadError struct {
	Err     error
	Partial string
}

func (e *StreamReadError) Error() string {
	return fmt.Sprintf("duckchat: stream read failed: %v", e.Err)
}

func (e *StreamReadError) Unwrap() error {
	return e.Err
}

// IsRetryable reports whether err is a rate limit or server side failure
// worth retrying with a fresh token. No call is ever retried internally.
func IsRetryable(err error) bool {
	var reqErr *CompletionRequestError
	if errors.As(err, &reqErr) {
		return reqErr.IsRateLimit() || reqErr.IsServerError()
	}

	var fetchErr *TokenFetchError
	if errors.As(err, &fetchErr) {
		return fetchErr.StatusCode == http.StatusTooManyRequests || fetchErr.StatusCode >= 500
	}
	return false
}

// IsTokenError reports whether err came from obtaining or deriving a token.
func IsTokenError(err error) bool {
	var fetchErr *TokenFetchError
	var evalErr *ChallengeEvalError
	return errors.As(err, &fetchErr) || errors.As(err, &evalErr) || errors.Is(err, ErrTokenReused)
}
