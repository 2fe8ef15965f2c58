package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/imalyk/go-file-converter/pkg/job"
)

const (
	DefaultAttempts = 30
	DefaultInterval = 5 * time.Second
)

var errNotReady = errors.New("conversion still running")

// Converter runs one conversion end to end: upload, bounded polling, download.
type Converter struct {
	API      API
	Attempts int
	Interval time.Duration
	Logger   *slog.Logger
}

func NewConverter(api API, attempts int, interval time.Duration, logger *slog.Logger) *Converter {
	return &Converter{API: api, Attempts: attempts, Interval: interval, Logger: logger}
}

type Request struct {
	Input  string
	Format string
	// Output is the destination file or an existing directory. Empty means next to Input.
	Output string
}

type Result struct {
	JobID       string
	Output      string
	DownloadURL string
	InputSize   int64
	OutputSize  int64
	Attempts    int
}

// Ratio is the size reduction of the output relative to the input, in percent.
func (r *Result) Ratio() float64 {
	if r.InputSize == 0 {
		return 0
	}
	return float64(r.InputSize-r.OutputSize) / float64(r.InputSize) * 100
}

// ResolveOutput picks the destination path: output itself, a file inside output when it
// is a directory, or <name>_converted.<format> beside input.
func ResolveOutput(input, format, output string) string {
	name := strings.TrimSuffix(filepath.Base(input), filepath.Ext(input)) + "_converted." + strings.TrimPrefix(format, ".")
	if output == "" {
		return filepath.Join(filepath.Dir(input), name)
	}
	if info, err := os.Stat(output); err == nil && info.IsDir() {
		return filepath.Join(output, name)
	}
	return output
}

func (c *Converter) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.Default()
}

func (c *Converter) Convert(ctx context.Context, req Request) (*Result, error) {
	log := c.logger()

	info, err := os.Stat(req.Input)
	if err != nil || info.IsDir() {
		if err == nil || errors.Is(err, os.ErrNotExist) {
			err = ErrInputNotFound
		}
		return nil, &Error{Op: "stat", Err: fmt.Errorf("%s: %w", req.Input, err)}
	}
	if strings.TrimSpace(req.Format) == "" {
		return nil, &Error{Op: "start", Err: errors.New("output format required")}
	}

	res := &Result{
		Output:    ResolveOutput(req.Input, req.Format, req.Output),
		InputSize: info.Size(),
	}
	log.Info("starting conversion", "input", req.Input, "size", res.InputSize, "format", req.Format)

	id, err := c.API.StartConversion(ctx, req.Input, req.Format)
	if err != nil {
		return nil, &Error{Op: "start", Err: err}
	}
	res.JobID = id
	log.Info("conversion started", "job_id", id)

	report, attempts, err := c.poll(ctx, id)
	res.Attempts = attempts
	if err != nil {
		return res, &Error{Op: "poll", JobID: id, Err: err}
	}
	res.DownloadURL = report.Output.URL
	log.Info("conversion finished", "job_id", id, "url", report.Output.URL, "size", report.Output.Size)

	n, err := c.API.Download(ctx, report.Output.URL, res.Output)
	if err != nil {
		return res, &Error{Op: "download", JobID: id, Err: err}
	}
	res.OutputSize = n
	log.Info("result saved", "job_id", id, "output", res.Output, "size", n)
	return res, nil
}

// poll checks the job status up to Attempts times, Interval apart. Failed status checks
// are logged and retried; a job in error or an unknown job stops the loop.
func (c *Converter) poll(ctx context.Context, id string) (job.Report, int, error) {
	log := c.logger()

	maxAttempts := c.Attempts
	if maxAttempts <= 0 {
		maxAttempts = DefaultAttempts
	}
	interval := c.Interval
	if interval < 0 {
		interval = DefaultInterval
	}

	var (
		report  job.Report
		attempt int
	)
	op := func() error {
		attempt++
		log.Debug("checking status", "job_id", id, "attempt", attempt, "max_attempts", maxAttempts)

		rep, err := c.API.Status(ctx, id)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			var se *StatusError
			if errors.As(err, &se) && se.Code == http.StatusNotFound {
				return backoff.Permanent(ErrJobNotFound)
			}
			log.Warn("status check failed", "job_id", id, "attempt", attempt, "error", err)
			return err
		}

		log.Info("conversion status", "job_id", id, "attempt", attempt,
			"status", rep.Status, "step", rep.Step, "percent", rep.StepPercent)

		switch {
		case rep.Ready():
			report = rep
			return nil
		case rep.Status == job.StatusError:
			msg := rep.Error
			if msg == "" {
				msg = "remote job reported error"
			}
			return backoff.Permanent(fmt.Errorf("%w: %s", ErrConversionFailed, msg))
		default:
			return errNotReady
		}
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(interval), uint64(maxAttempts-1)),
		ctx,
	)
	err := backoff.Retry(op, policy)
	switch {
	case err == nil:
		return report, attempt, nil
	case errors.Is(err, ErrConversionFailed), errors.Is(err, ErrJobNotFound):
		return job.Report{}, attempt, err
	case ctx.Err() != nil:
		return job.Report{}, attempt, ctx.Err()
	case errors.Is(err, errNotReady):
		return job.Report{}, attempt, fmt.Errorf("%w after %d attempts", ErrTimeout, attempt)
	default:
		return job.Report{}, attempt, fmt.Errorf("%w after %d attempts: %w", ErrTimeout, attempt, err)
	}
}
