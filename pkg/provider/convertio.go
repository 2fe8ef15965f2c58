package provider

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/imalyk/go-file-converter/pkg/job"
)

const convertioBaseURL = "https://api.convertio.co"

// Convertio drives the Convertio REST API. The key travels in the request body and
// status lookups are keyed by conversion id only.
type Convertio struct {
	opts Options
	hc   *http.Client
}

func NewConvertio(opts Options) *Convertio {
	if opts.BaseURL == "" {
		opts.BaseURL = convertioBaseURL
	}
	opts.BaseURL = strings.TrimRight(opts.BaseURL, "/")
	return &Convertio{opts: opts, hc: opts.httpClient()}
}

func (c *Convertio) Name() string { return "convertio" }

type cvEnvelope struct {
	Code   int    `json:"code"`
	Status string `json:"status"`
	Error  string `json:"error"`
	Data   cvData `json:"data"`
}

type cvData struct {
	ID          string    `json:"id"`
	Step        string    `json:"step"`
	StepPercent int       `json:"step_percent"`
	Output      *cvOutput `json:"output"`
}

type cvOutput struct {
	URL  string      `json:"url"`
	Size json.Number `json:"size"`
}

func (c *Convertio) CreateJob(ctx context.Context, up Upload) (string, error) {
	if c.opts.Key == "" {
		return "", ErrMissingKey
	}

	body := map[string]any{
		"apikey":       c.opts.Key,
		"input":        "base64",
		"file":         base64.StdEncoding.EncodeToString(up.Data),
		"filename":     up.Filename,
		"outputformat": strings.ToLower(up.OutputFormat),
	}

	var env cvEnvelope
	if _, err := doJSON(ctx, c.hc, c.opts.timeout(), http.MethodPost, c.opts.BaseURL+"/convert", nil, body, &env); err != nil {
		return "", tag(err, c.Name(), "create_job")
	}
	if env.Status == "error" {
		return "", &APIError{Provider: c.Name(), Op: "create_job", StatusCode: env.Code, Message: env.Error}
	}
	if env.Data.ID == "" {
		return "", errors.New("convertio.create_job: response without job id")
	}
	return env.Data.ID, nil
}

func (c *Convertio) JobStatus(ctx context.Context, id string) (job.Report, error) {
	var env cvEnvelope
	status, err := doJSON(ctx, c.hc, c.opts.timeout(), http.MethodGet, c.opts.BaseURL+"/convert/"+url.PathEscape(id)+"/status", nil, nil, &env)
	if err != nil {
		if status == http.StatusNotFound {
			return job.Report{}, fmt.Errorf("convertio job %s: %w", id, ErrJobNotFound)
		}
		return job.Report{}, tag(err, c.Name(), "job_status")
	}
	if env.Data.ID == "" {
		env.Data.ID = id
	}
	return convertioReport(env), nil
}

func convertioReport(env cvEnvelope) job.Report {
	d := env.Data
	rep := job.Report{ID: d.ID, Step: d.Step, StepPercent: d.StepPercent}

	if env.Status == "error" {
		rep.Status = job.StatusError
		rep.Step = "error"
		rep.Error = env.Error
		if rep.Error == "" {
			rep.Error = "conversion job failed"
		}
		return rep
	}

	switch job.ParseStatus(d.Step) {
	case job.StatusFinished:
		if d.Output != nil && d.Output.URL != "" {
			rep.Status = job.StatusFinished
			rep.StepPercent = 100
			size, _ := d.Output.Size.Int64()
			rep.Output = &job.Output{URL: d.Output.URL, Size: size}
		} else {
			rep.Status = job.StatusProcessing
		}
	case job.StatusError:
		rep.Status = job.StatusError
		rep.Error = "conversion job failed"
	case job.StatusWaiting:
		rep.Status = job.StatusWaiting
	default:
		rep.Status = job.StatusProcessing
	}
	if rep.Step == "" {
		rep.Step = "wait"
	}
	return rep
}
