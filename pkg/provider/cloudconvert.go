package provider

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/imalyk/go-file-converter/pkg/job"
)

const (
	cloudConvertBaseURL = "https://api.cloudconvert.com/v2"

	taskImport  = "import-file"
	taskConvert = "convert-file"
	taskExport  = "export-file"
)

// CloudConvert drives the CloudConvert v2 jobs API: one job with an import, a convert
// and an export task per upload.
type CloudConvert struct {
	opts Options
	hc   *http.Client
}

func NewCloudConvert(opts Options) *CloudConvert {
	if opts.BaseURL == "" {
		opts.BaseURL = cloudConvertBaseURL
	}
	opts.BaseURL = strings.TrimRight(opts.BaseURL, "/")
	return &CloudConvert{opts: opts, hc: opts.httpClient()}
}

func (c *CloudConvert) Name() string { return "cloudconvert" }

type ccTask struct {
	Name      string    `json:"name"`
	Operation string    `json:"operation"`
	Status    string    `json:"status"`
	Message   string    `json:"message"`
	Result    *ccResult `json:"result"`
}

type ccResult struct {
	Files []ccFile `json:"files"`
}

type ccFile struct {
	Filename string `json:"filename"`
	URL      string `json:"url"`
	Size     int64  `json:"size"`
}

type ccJob struct {
	ID     string   `json:"id"`
	Status string   `json:"status"`
	Tasks  []ccTask `json:"tasks"`
}

type ccEnvelope struct {
	Data ccJob `json:"data"`
}

func (c *CloudConvert) header() http.Header {
	h := http.Header{}
	h.Set("Authorization", "Bearer "+c.opts.Key)
	return h
}

func (c *CloudConvert) CreateJob(ctx context.Context, up Upload) (string, error) {
	if c.opts.Key == "" {
		return "", ErrMissingKey
	}

	format := strings.ToLower(up.OutputFormat)
	options := map[string]any{}
	if format == "jpg" || format == "jpeg" {
		options["quality"] = 90
	}

	body := map[string]any{
		"tasks": map[string]any{
			taskImport: map[string]any{
				"operation": "import/base64",
				"file":      base64.StdEncoding.EncodeToString(up.Data),
				"filename":  up.Filename,
			},
			taskConvert: map[string]any{
				"operation":     "convert",
				"input":         taskImport,
				"output_format": format,
				"options":       options,
			},
			taskExport: map[string]any{
				"operation": "export/url",
				"input":     taskConvert,
			},
		},
	}

	var env ccEnvelope
	if _, err := doJSON(ctx, c.hc, c.opts.timeout(), http.MethodPost, c.opts.BaseURL+"/jobs", c.header(), body, &env); err != nil {
		return "", tag(err, c.Name(), "create_job")
	}
	if env.Data.ID == "" {
		return "", fmt.Errorf("cloudconvert.create_job: response without job id")
	}
	return env.Data.ID, nil
}

func (c *CloudConvert) JobStatus(ctx context.Context, id string) (job.Report, error) {
	if c.opts.Key == "" {
		return job.Report{}, ErrMissingKey
	}

	var env ccEnvelope
	status, err := doJSON(ctx, c.hc, c.opts.timeout(), http.MethodGet, c.opts.BaseURL+"/jobs/"+url.PathEscape(id), c.header(), nil, &env)
	if err != nil {
		if status == http.StatusNotFound {
			return job.Report{}, fmt.Errorf("cloudconvert job %s: %w", id, ErrJobNotFound)
		}
		return job.Report{}, tag(err, c.Name(), "job_status")
	}
	if env.Data.ID == "" {
		env.Data.ID = id
	}
	return cloudConvertReport(env.Data), nil
}

func cloudConvertReport(j ccJob) job.Report {
	rep := job.Report{ID: j.ID, Status: job.ParseStatus(j.Status), Step: "wait", StepPercent: 10}

	switch rep.Status {
	case job.StatusFinished:
		rep.Step = "processing"
		rep.StepPercent = 50
		for _, t := range j.Tasks {
			if t.Operation != "export/url" || t.Result == nil || len(t.Result.Files) == 0 {
				continue
			}
			f := t.Result.Files[0]
			rep.Step = "finish"
			rep.StepPercent = 100
			rep.Output = &job.Output{URL: f.URL, Size: f.Size}
			break
		}
		if rep.Output == nil {
			// finished without an exported file: keep polling until the export shows up
			rep.Status = job.StatusProcessing
		}
	case job.StatusError:
		rep.Step = "error"
		rep.StepPercent = 0
		rep.Error = "conversion job failed"
		for _, t := range j.Tasks {
			if t.Status == "error" && t.Message != "" {
				rep.Error = t.Message
				break
			}
		}
	case job.StatusProcessing:
		rep.Step = "convert"
		rep.StepPercent = 50
	default:
		rep.Status = job.StatusWaiting
	}
	return rep
}
