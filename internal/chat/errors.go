package chat

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrCancelled is the terminal element yielded by a delta stream that was
// stopped through its context. Callers can rely on it to tell an explicit
// cancellation apart from a network failure.
var ErrCancelled = errors.New("generation cancelled")

// ErrEmptyMessage is returned by Session.Submit when the message is empty
// after trimming. Nothing is created and no request is issued.
var ErrEmptyMessage = errors.New("message is empty")

// ErrTurnActive is returned by Session.Submit while another turn is still
// pending or streaming. The session serializes turns by rejection, not by
// queueing.
var ErrTurnActive = errors.New("a turn is already in progress")

// genericErrorMessage is surfaced on a failed turn when the error body
// carries no recognizable detail.
const genericErrorMessage = "Something went wrong while generating the response."

// RequestError reports a non-2xx response received before any streaming
// began. Body holds the raw response body for diagnostics.
type RequestError struct {
	StatusCode int
	Body       []byte
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("request failed with status %d: %s", e.StatusCode, e.Body)
}

// Message extracts the human-readable message from the error body. It
// prefers a nested detail.message field, then a plain string detail, and
// falls back to a generic message for unrecognized shapes.
func (e *RequestError) Message() string {
	var withMessage struct {
		Detail struct {
			Message string `json:"message"`
		} `json:"detail"`
	}
	if err := json.Unmarshal(e.Body, &withMessage); err == nil && withMessage.Detail.Message != "" {
		return withMessage.Detail.Message
	}

	var withDetail struct {
		Detail string `json:"detail"`
	}
	if err := json.Unmarshal(e.Body, &withDetail); err == nil && withDetail.Detail != "" {
		return withDetail.Detail
	}

	return genericErrorMessage
}

// StreamError reports a transport or decode failure after streaming has
// begun. Deltas already delivered remain valid.
type StreamError struct {
	Cause error
}

func (e *StreamError) Error() string {
	return fmt.Sprintf("stream failed: %v", e.Cause)
}

func (e *StreamError) Unwrap() error {
	return e.Cause
}

// errorMessage derives the user-visible text for a failed turn from the
// terminal error.
func errorMessage(err error) string {
	var reqErr *RequestError
	if errors.As(err, &reqErr) {
		return reqErr.Message()
	}
	return genericErrorMessage
}
