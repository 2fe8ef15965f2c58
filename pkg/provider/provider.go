// Package provider talks to the upstream conversion services the gateway fronts.
//
// A Provider accepts a file as base64, starts an asynchronous conversion job and
// reports the job's progress in the gateway's own status vocabulary (job.Report).
package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/imalyk/go-file-converter/pkg/job"
)

var (
	ErrMissingKey  = errors.New("provider api key not configured")
	ErrJobNotFound = errors.New("conversion job not found")
)

// APIError is returned when an upstream service answers with an unexpected status.
type APIError struct {
	Provider   string
	Op         string
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s.%s: unexpected status %d", e.Provider, e.Op, e.StatusCode)
	}
	return fmt.Sprintf("%s.%s: status %d: %s", e.Provider, e.Op, e.StatusCode, e.Message)
}

type Upload struct {
	Filename     string
	OutputFormat string
	Data         []byte
}

type Provider interface {
	Name() string
	// CreateJob submits the upload and returns the upstream job id.
	CreateJob(ctx context.Context, up Upload) (string, error)
	// JobStatus returns the current state of a job.
	JobStatus(ctx context.Context, id string) (job.Report, error)
}

type Options struct {
	Key        string
	BaseURL    string
	Timeout    time.Duration
	HTTPClient *http.Client
}

func (o Options) httpClient() *http.Client {
	if o.HTTPClient != nil {
		return o.HTTPClient
	}
	return &http.Client{}
}

func (o Options) timeout() time.Duration {
	if o.Timeout <= 0 {
		return 30 * time.Second
	}
	return o.Timeout
}

// New builds the provider registered under name.
func New(name string, opts Options) (Provider, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "cloudconvert":
		return NewCloudConvert(opts), nil
	case "convertio":
		return NewConvertio(opts), nil
	default:
		return nil, fmt.Errorf("unknown provider %q", name)
	}
}

// doJSON sends body (if any) as JSON and decodes a 2xx answer into out.
// Non-2xx answers are returned as *APIError with the raw body as message.
func doJSON(ctx context.Context, hc *http.Client, timeout time.Duration, method, url string, header http.Header, body, out any) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return 0, fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return 0, err
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := hc.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return resp.StatusCode, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return resp.StatusCode, &APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(raw))}
	}
	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return resp.StatusCode, fmt.Errorf("decode response: %w", err)
		}
	}
	return resp.StatusCode, nil
}

// tag fills in the provider and operation of an *APIError coming out of doJSON.
func tag(err error, provider, op string) error {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		apiErr.Provider = provider
		apiErr.Op = op
	}
	return err
}
