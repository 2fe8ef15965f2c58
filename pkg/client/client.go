// Package client is the caller's side of the conversion gateway: it uploads a file,
// polls the job until it settles and downloads the converted result.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/imalyk/go-file-converter/pkg/job"
)

const (
	DefaultUploadTimeout   = 120 * time.Second
	DefaultStatusTimeout   = 15 * time.Second
	DefaultDownloadTimeout = 60 * time.Second
)

// API is the subset of the gateway the Converter depends on.
type API interface {
	StartConversion(ctx context.Context, path, format string) (string, error)
	Status(ctx context.Context, id string) (job.Report, error)
	Download(ctx context.Context, url, dst string) (int64, error)
}

type Client struct {
	baseURL         string
	hc              *http.Client
	uploadTimeout   time.Duration
	statusTimeout   time.Duration
	downloadTimeout time.Duration
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.hc = hc }
}

// WithTimeouts overrides the per-call timeouts. Zero values keep the defaults.
func WithTimeouts(upload, status, download time.Duration) Option {
	return func(c *Client) {
		if upload > 0 {
			c.uploadTimeout = upload
		}
		if status > 0 {
			c.statusTimeout = status
		}
		if download > 0 {
			c.downloadTimeout = download
		}
	}
}

func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:         strings.TrimRight(baseURL, "/"),
		hc:              &http.Client{},
		uploadTimeout:   DefaultUploadTimeout,
		statusTimeout:   DefaultStatusTimeout,
		downloadTimeout: DefaultDownloadTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// StartConversion streams the file at path to the gateway as multipart form data and
// returns the job id the gateway hands back.
func (c *Client) StartConversion(ctx context.Context, path, format string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	ctx, cancel := context.WithTimeout(ctx, c.uploadTimeout)
	defer cancel()

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		pw.CloseWithError(writeForm(mw, f, filepath.Base(path), format))
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/start-conversion", pr)
	if err != nil {
		_ = pr.Close()
		return "", err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.hc.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", newStatusError("start", resp)
	}

	var out job.StartResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode start response: %w", err)
	}
	if out.ID == "" {
		return "", fmt.Errorf("start response without job id")
	}
	return out.ID, nil
}

func writeForm(mw *multipart.Writer, src io.Reader, filename, format string) error {
	part, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return err
	}
	if _, err := io.Copy(part, src); err != nil {
		return err
	}
	if err := mw.WriteField("outputformat", format); err != nil {
		return err
	}
	return mw.Close()
}

func (c *Client) Status(ctx context.Context, id string) (job.Report, error) {
	ctx, cancel := context.WithTimeout(ctx, c.statusTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/conversion-status/"+url.PathEscape(id), nil)
	if err != nil {
		return job.Report{}, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.hc.Do(req)
	if err != nil {
		return job.Report{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return job.Report{}, newStatusError("status", resp)
	}

	var rep job.Report
	if err := json.NewDecoder(resp.Body).Decode(&rep); err != nil {
		return job.Report{}, fmt.Errorf("decode status response: %w", err)
	}
	rep.Status = job.ParseStatus(string(rep.Status))
	if rep.ID == "" {
		rep.ID = id
	}
	return rep, nil
}

// Download fetches rawURL into dst. The body is written to dst+".part" first and renamed
// once complete, so dst never holds a truncated file.
func (c *Client) Download(ctx context.Context, rawURL, dst string) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, c.downloadTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return 0, err
	}
	resp, err := c.hc.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, newStatusError("download", resp)
	}

	if dir := filepath.Dir(dst); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return 0, err
		}
	}

	tmpPath := dst + ".part"
	out, err := os.Create(tmpPath)
	if err != nil {
		return 0, err
	}
	n, err := io.Copy(out, resp.Body)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(tmpPath)
		return n, err
	}
	if err := os.Rename(tmpPath, dst); err != nil {
		_ = os.Remove(tmpPath)
		return n, err
	}
	return n, nil
}
