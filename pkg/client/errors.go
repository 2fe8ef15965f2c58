package client

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

var (
	ErrInputNotFound    = errors.New("input file not found")
	ErrJobNotFound      = errors.New("conversion job not found")
	ErrConversionFailed = errors.New("conversion failed")
	ErrTimeout          = errors.New("conversion did not finish in time")
)

// Error describes a failed step of a conversion run.
type Error struct {
	// Op is the step that failed: "stat", "start", "poll" or "download".
	Op    string
	JobID string
	Err   error
}

func (e *Error) Error() string {
	if e.JobID != "" {
		return fmt.Sprintf("convert.%s job %s: %v", e.Op, e.JobID, e.Err)
	}
	return fmt.Sprintf("convert.%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// StatusError is returned when the gateway or the download host answers with a
// status other than 200.
type StatusError struct {
	Op   string
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s: unexpected status %d", e.Op, e.Code)
	}
	return fmt.Sprintf("%s: unexpected status %d: %s", e.Op, e.Code, e.Body)
}

func newStatusError(op string, resp *http.Response) *StatusError {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
	body := strings.TrimSpace(string(raw))

	// prefer the gateway's {"error": "..."} message over the raw body
	var payload struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(raw, &payload) == nil && payload.Error != "" {
		body = payload.Error
	}
	return &StatusError{Op: op, Code: resp.StatusCode, Body: body}
}
