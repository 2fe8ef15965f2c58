package provider

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imalyk/go-file-converter/pkg/job"
)

func TestNew(t *testing.T) {
	p, err := New("cloudconvert", Options{})
	require.NoError(t, err)
	assert.Equal(t, "cloudconvert", p.Name())

	p, err = New("Convertio", Options{})
	require.NoError(t, err)
	assert.Equal(t, "convertio", p.Name())

	_, err = New("zamzar", Options{})
	assert.Error(t, err)
}

func TestCloudConvert_CreateJob(t *testing.T) {
	var got map[string]map[string]map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v2/jobs", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"data":{"id":"job-123","status":"waiting"}}`))
	}))
	defer srv.Close()

	cc := NewCloudConvert(Options{Key: "test-key", BaseURL: srv.URL + "/v2/"})
	id, err := cc.CreateJob(context.Background(), Upload{Filename: "shot.png", OutputFormat: "JPG", Data: []byte("png-bytes")})
	require.NoError(t, err)
	assert.Equal(t, "job-123", id)

	tasks := got["tasks"]
	require.Len(t, tasks, 3)
	assert.Equal(t, "import/base64", tasks["import-file"]["operation"])
	assert.Equal(t, base64.StdEncoding.EncodeToString([]byte("png-bytes")), tasks["import-file"]["file"])
	assert.Equal(t, "shot.png", tasks["import-file"]["filename"])
	assert.Equal(t, "jpg", tasks["convert-file"]["output_format"])
	assert.Equal(t, "import-file", tasks["convert-file"]["input"])
	assert.Equal(t, map[string]any{"quality": float64(90)}, tasks["convert-file"]["options"])
	assert.Equal(t, "export/url", tasks["export-file"]["operation"])
}

func TestCloudConvert_CreateJobErrors(t *testing.T) {
	_, err := NewCloudConvert(Options{}).CreateJob(context.Background(), Upload{})
	assert.ErrorIs(t, err, ErrMissingKey)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{"message":"invalid format"}`))
	}))
	defer srv.Close()

	_, err = NewCloudConvert(Options{Key: "k", BaseURL: srv.URL}).CreateJob(context.Background(), Upload{OutputFormat: "xyz"})
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "cloudconvert", apiErr.Provider)
	assert.Equal(t, "create_job", apiErr.Op)
	assert.Equal(t, http.StatusUnprocessableEntity, apiErr.StatusCode)
	assert.Contains(t, apiErr.Error(), "invalid format")
}

func TestCloudConvert_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(time.Second):
		}
	}))
	defer srv.Close()

	_, err := NewCloudConvert(Options{Key: "k", BaseURL: srv.URL, Timeout: 20 * time.Millisecond}).
		JobStatus(context.Background(), "slow")
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestCloudConvert_JobStatus(t *testing.T) {
	tests := []struct {
		name string
		body string
		want job.Report
	}{
		{
			name: "waiting",
			body: `{"data":{"id":"j1","status":"waiting","tasks":[]}}`,
			want: job.Report{ID: "j1", Status: job.StatusWaiting, Step: "wait", StepPercent: 10},
		},
		{
			name: "processing",
			body: `{"data":{"id":"j1","status":"processing"}}`,
			want: job.Report{ID: "j1", Status: job.StatusProcessing, Step: "convert", StepPercent: 50},
		},
		{
			name: "finished with export",
			body: `{"data":{"id":"j1","status":"finished","tasks":[
				{"name":"convert-file","operation":"convert","status":"finished"},
				{"name":"export-file","operation":"export/url","status":"finished",
				 "result":{"files":[{"filename":"shot.jpg","url":"https://storage/shot.jpg","size":4096}]}}]}}`,
			want: job.Report{ID: "j1", Status: job.StatusFinished, Step: "finish", StepPercent: 100,
				Output: &job.Output{URL: "https://storage/shot.jpg", Size: 4096}},
		},
		{
			name: "finished without export yet",
			body: `{"data":{"id":"j1","status":"finished","tasks":[{"operation":"export/url","status":"processing"}]}}`,
			want: job.Report{ID: "j1", Status: job.StatusProcessing, Step: "processing", StepPercent: 50},
		},
		{
			name: "error with task message",
			body: `{"data":{"id":"j1","status":"error","tasks":[
				{"operation":"import/base64","status":"finished"},
				{"operation":"convert","status":"error","message":"unsupported input"}]}}`,
			want: job.Report{ID: "j1", Status: job.StatusError, Step: "error", Error: "unsupported input"},
		},
		{
			name: "error without message",
			body: `{"data":{"id":"j1","status":"error","tasks":[]}}`,
			want: job.Report{ID: "j1", Status: job.StatusError, Step: "error", Error: "conversion job failed"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "/jobs/j1", r.URL.Path)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			rep, err := NewCloudConvert(Options{Key: "k", BaseURL: srv.URL}).JobStatus(context.Background(), "j1")
			require.NoError(t, err)
			assert.Equal(t, tt.want, rep)
		})
	}
}

func TestCloudConvert_JobNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"message":"not found"}`, http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := NewCloudConvert(Options{Key: "k", BaseURL: srv.URL}).JobStatus(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrJobNotFound)
}

func TestConvertio_CreateJob(t *testing.T) {
	var got map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/convert", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"code":200,"status":"ok","data":{"id":"cv-1","minutes":1}}`))
	}))
	defer srv.Close()

	id, err := NewConvertio(Options{Key: "cv-key", BaseURL: srv.URL}).
		CreateJob(context.Background(), Upload{Filename: "a.png", OutputFormat: "webp", Data: []byte{1, 2, 3}})
	require.NoError(t, err)
	assert.Equal(t, "cv-1", id)
	assert.Equal(t, "cv-key", got["apikey"])
	assert.Equal(t, "base64", got["input"])
	assert.Equal(t, "AQID", got["file"])
	assert.Equal(t, "a.png", got["filename"])
	assert.Equal(t, "webp", got["outputformat"])
}

func TestConvertio_CreateJobRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"code":401,"status":"error","error":"Invalid API Key"}`))
	}))
	defer srv.Close()

	_, err := NewConvertio(Options{Key: "bad", BaseURL: srv.URL}).CreateJob(context.Background(), Upload{})
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, 401, apiErr.StatusCode)
	assert.Equal(t, "Invalid API Key", apiErr.Message)
}

func TestConvertio_JobStatus(t *testing.T) {
	tests := []struct {
		name    string
		code    int
		body    string
		want    job.Report
		wantErr error
	}{
		{
			name: "wait",
			body: `{"code":200,"status":"ok","data":{"id":"cv-1","step":"wait","step_percent":0}}`,
			want: job.Report{ID: "cv-1", Status: job.StatusWaiting, Step: "wait"},
		},
		{
			name: "convert",
			body: `{"code":200,"status":"ok","data":{"id":"cv-1","step":"convert","step_percent":40}}`,
			want: job.Report{ID: "cv-1", Status: job.StatusProcessing, Step: "convert", StepPercent: 40},
		},
		{
			name: "finish with string size",
			body: `{"code":200,"status":"ok","data":{"id":"cv-1","step":"finish","step_percent":100,"output":{"url":"https://cv/out.jpg","size":"512"}}}`,
			want: job.Report{ID: "cv-1", Status: job.StatusFinished, Step: "finish", StepPercent: 100,
				Output: &job.Output{URL: "https://cv/out.jpg", Size: 512}},
		},
		{
			name: "finish with numeric size",
			body: `{"code":200,"status":"ok","data":{"id":"cv-1","step":"finish","step_percent":100,"output":{"url":"https://cv/out.jpg","size":1024}}}`,
			want: job.Report{ID: "cv-1", Status: job.StatusFinished, Step: "finish", StepPercent: 100,
				Output: &job.Output{URL: "https://cv/out.jpg", Size: 1024}},
		},
		{
			name: "error envelope",
			body: `{"code":422,"status":"error","error":"No convertation found"}`,
			want: job.Report{ID: "cv-1", Status: job.StatusError, Step: "error", Error: "No convertation found"},
		},
		{
			name: "error step",
			body: `{"code":200,"status":"ok","data":{"id":"cv-1","step":"error","step_percent":0}}`,
			want: job.Report{ID: "cv-1", Status: job.StatusError, Step: "error", Error: "conversion job failed"},
		},
		{
			name: "failed step",
			body: `{"code":200,"status":"ok","data":{"id":"cv-1","step":"failed","step_percent":30}}`,
			want: job.Report{ID: "cv-1", Status: job.StatusError, Step: "failed", StepPercent: 30, Error: "conversion job failed"},
		},
		{
			name: "finish without output",
			body: `{"code":200,"status":"ok","data":{"id":"cv-1","step":"finish","step_percent":100}}`,
			want: job.Report{ID: "cv-1", Status: job.StatusProcessing, Step: "finish", StepPercent: 100},
		},
		{
			name: "finish with empty output url",
			body: `{"code":200,"status":"ok","data":{"id":"cv-1","step":"finish","step_percent":100,"output":{"url":"","size":0}}}`,
			want: job.Report{ID: "cv-1", Status: job.StatusProcessing, Step: "finish", StepPercent: 100},
		},
		{
			name:    "unknown job",
			code:    http.StatusNotFound,
			body:    `{"code":404,"status":"error","error":"No convertation found"}`,
			wantErr: ErrJobNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "/convert/cv-1/status", r.URL.Path)
				if tt.code != 0 {
					w.WriteHeader(tt.code)
				}
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			rep, err := NewConvertio(Options{BaseURL: srv.URL}).JobStatus(context.Background(), "cv-1")
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, rep)
		})
	}
}
