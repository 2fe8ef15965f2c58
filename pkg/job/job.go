package job

import (
	"path/filepath"
	"strings"
	"time"
)

type Status string

const (
	StatusWaiting    Status = "waiting"
	StatusProcessing Status = "processing"
	StatusFinished   Status = "finished"
	StatusError      Status = "error"
	StatusUnknown    Status = "unknown"
)

// ParseStatus normalises a status string reported by a gateway or provider.
func ParseStatus(s string) Status {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "waiting", "queued", "wait":
		return StatusWaiting
	case "processing", "convert":
		return StatusProcessing
	case "finished", "finish":
		return StatusFinished
	case "error", "failed":
		return StatusError
	default:
		return StatusUnknown
	}
}

func (s Status) Terminal() bool {
	return s == StatusFinished || s == StatusError
}

type StartResponse struct {
	ID string `json:"id"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

type Output struct {
	URL  string `json:"url"`
	Size int64  `json:"size,omitempty"`
}

// Report is the status payload served by the gateway for a single job.
type Report struct {
	ID          string  `json:"id"`
	Status      Status  `json:"status"`
	Step        string  `json:"step"`
	StepPercent int     `json:"step_percent"`
	Output      *Output `json:"output,omitempty"`
	Error       string  `json:"error,omitempty"`
}

// Ready reports whether the job finished and a result can be downloaded.
func (r Report) Ready() bool {
	return r.Status == StatusFinished && r.Output != nil && r.Output.URL != ""
}

type ArchiveStatus string

const (
	ArchiveNone      ArchiveStatus = ""
	ArchiveQueued    ArchiveStatus = "queued"
	ArchiveRunning   ArchiveStatus = "archiving"
	ArchiveCompleted ArchiveStatus = "archived"
	ArchiveFailed    ArchiveStatus = "failed"
)

type Record struct {
	ID              string        `json:"id"`
	Provider        string        `json:"provider"`
	Filename        string        `json:"filename"`
	OutputFormat    string        `json:"output_format"`
	ContentType     string        `json:"content_type,omitempty"`
	InputSize       int64         `json:"input_size"`
	Status          Status        `json:"status"`
	Step            string        `json:"step,omitempty"`
	Progress        int           `json:"progress"`
	OutputURL       string        `json:"output_url,omitempty"`
	OutputSize      int64         `json:"output_size,omitempty"`
	Error           string        `json:"error,omitempty"`
	ArchiveStatus   ArchiveStatus `json:"archive_status,omitempty"`
	ArchivedObject  string        `json:"archived_object,omitempty"`
	ArchiveError    string        `json:"archive_error,omitempty"`
	ArchiveAttempts int64         `json:"archive_attempts,omitempty"`
	CreatedAt       time.Time     `json:"created_at"`
	UpdatedAt       time.Time     `json:"updated_at"`
}

// Apply copies the progress fields of a report onto the record.
func (r *Record) Apply(rep Report, now time.Time) {
	r.Status = rep.Status
	r.Step = rep.Step
	r.Progress = rep.StepPercent
	r.Error = rep.Error
	if rep.Output != nil {
		r.OutputURL = rep.Output.URL
		r.OutputSize = rep.Output.Size
	}
	r.UpdatedAt = now
}

type ArchiveMessage struct {
	JobID        string `json:"job_id"`
	URL          string `json:"url"`
	Filename     string `json:"filename"`
	OutputFormat string `json:"output_format"`
}

// ConvertedName swaps the extension of filename for format.
func ConvertedName(filename, format string) string {
	base := filepath.Base(filename)
	name := strings.TrimSuffix(base, filepath.Ext(base))
	if name == "" || name == "." || name == string(filepath.Separator) {
		name = "output"
	}
	return name + "." + strings.TrimPrefix(format, ".")
}
