package client

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/vizzle/studio/internal/model"
)

// Default user-facing messages
const (
	MsgUploadFailed    = "Failed to upload image"
	MsgRequestFailed   = "Request failed"
	MsgUnexpectedError = "An unexpected error occurred"
)

// UploadError is returned when a media upload is rejected or cannot be sent.
type UploadError struct {
	Role       model.ImageRole
	StatusCode int
	Message    string
	Err        error
}

func (e *UploadError) Error() string { return e.Message }
func (e *UploadError) Unwrap() error { return e.Err }

// SubmissionError is returned when a job cannot be created.
type SubmissionError struct {
	Kind       model.JobKind
	StatusCode int
	Message    string
	Err        error
}

func (e *SubmissionError) Error() string { return e.Message }
func (e *SubmissionError) Unwrap() error { return e.Err }

// PollError is returned when status queries keep failing.
type PollError struct {
	Kind     model.JobKind
	JobID    string
	Attempts int
	Message  string
	Err      error
}

func (e *PollError) Error() string { return e.Message }
func (e *PollError) Unwrap() error { return e.Err }

// TimeoutError is returned when a job does not reach a terminal status within the
// polling ceiling.
type TimeoutError struct {
	Kind  model.JobKind
	JobID string
	After time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("job %s timed out after %v", e.JobID, e.After)
}

// APIError is a non-success response from the job service.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("job service error (status %d): %s", e.StatusCode, e.Message)
}

// extractMessage pulls a human readable message from an error body. FastAPI style
// bodies carry "detail" as a string or a list of {msg}; others use "message" or
// "error". Returns "" when nothing usable is present.
func extractMessage(body []byte) string {
	var payload map[string]json.RawMessage
	if err := json.Unmarshal(body, &payload); err != nil {
		return ""
	}
	for _, key := range []string{"detail", "message", "error"} {
		raw, ok := payload[key]
		if !ok {
			continue
		}
		var s string
		if err := json.Unmarshal(raw, &s); err == nil && strings.TrimSpace(s) != "" {
			return s
		}
		var items []struct {
			Msg string `json:"msg"`
		}
		if err := json.Unmarshal(raw, &items); err == nil && len(items) > 0 && items[0].Msg != "" {
			return items[0].Msg
		}
	}
	return ""
}
