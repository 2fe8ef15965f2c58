package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"

	"github.com/imalyk/go-file-converter/pkg/config"
	"github.com/imalyk/go-file-converter/pkg/job"
	"github.com/imalyk/go-file-converter/pkg/store"
)

const (
	maxErrorLen = 1024
	// bookkeeping after shutdown has started gets this long to reach Redis
	cleanupTimeout = 5 * time.Second
)

type archiveQueue interface {
	DequeueArchive(ctx context.Context, timeout time.Duration) (job.ArchiveMessage, error)
	RequeueArchive(ctx context.Context, msg job.ArchiveMessage) error
	ReleaseArchive(ctx context.Context, msg job.ArchiveMessage) error
	IncrArchiveAttempts(ctx context.Context, id string) (int64, error)
	MarkArchive(ctx context.Context, id string, status job.ArchiveStatus, object, errMsg string) error
}

type objectStore interface {
	PutObject(ctx context.Context, bucket, object string, r io.Reader, size int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
}

type worker struct {
	cfg     *config.Config
	logger  *slog.Logger
	queue   archiveQueue
	objects objectStore
	http    *http.Client
	closer  func() error
}

func (w *worker) close() {
	if w.closer != nil {
		_ = w.closer()
	}
}

func (w *worker) run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		msg, err := w.queue.DequeueArchive(ctx, w.cfg.Worker.PollTimeout)
		if err != nil {
			if errors.Is(err, store.ErrQueueEmpty) {
				continue
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			w.logger.Error("failed to pop from queue", "error", err)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Second):
			}
			continue
		}

		w.logger.Info("received archive job", "job_id", msg.JobID, "filename", msg.Filename)
		if err := w.processJob(ctx, msg); err != nil {
			w.logger.Error("archive failed", "job_id", msg.JobID, "error", err)
		}
	}
}

func (w *worker) processJob(ctx context.Context, msg job.ArchiveMessage) error {
	attempt, err := w.queue.IncrArchiveAttempts(ctx, msg.JobID)
	if err != nil {
		return fmt.Errorf("increment attempts: %w", err)
	}

	if err := w.queue.MarkArchive(ctx, msg.JobID, job.ArchiveRunning, "", ""); err != nil {
		return fmt.Errorf("mark archiving: %w", err)
	}

	localPath, size, err := w.download(ctx, msg)
	if err != nil {
		if ctx.Err() != nil {
			return w.release(ctx, msg)
		}
		if w.handleFailure(ctx, msg, attempt, fmt.Errorf("download result: %w", err)) {
			return nil
		}
		return err
	}
	defer os.Remove(localPath)

	object, err := w.upload(ctx, localPath, size, msg)
	if err != nil {
		if ctx.Err() != nil {
			return w.release(ctx, msg)
		}
		if w.handleFailure(ctx, msg, attempt, fmt.Errorf("upload result: %w", err)) {
			return nil
		}
		return err
	}

	markCtx, cancel := cleanupContext(ctx)
	defer cancel()
	if err := w.queue.MarkArchive(markCtx, msg.JobID, job.ArchiveCompleted, object, ""); err != nil {
		return fmt.Errorf("mark archived: %w", err)
	}

	w.logger.Info("job archived", "job_id", msg.JobID, "object", object, "size", humanize.Bytes(uint64(size)))
	return nil
}

func (w *worker) download(ctx context.Context, msg job.ArchiveMessage) (string, int64, error) {
	if msg.URL == "" {
		return "", 0, errors.New("archive message without url")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, msg.URL, nil)
	if err != nil {
		return "", 0, err
	}
	resp, err := w.http.Do(req)
	if err != nil {
		return "", 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", 0, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	localPath := filepath.Join(w.cfg.Worker.TempDir, fmt.Sprintf("%s-%s%s", msg.JobID, uuid.NewString(), filepath.Ext(w.filename(msg))))
	file, err := os.Create(localPath)
	if err != nil {
		return "", 0, err
	}

	n, err := io.Copy(file, resp.Body)
	if cerr := file.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(localPath)
		return "", 0, err
	}
	return localPath, n, nil
}

func (w *worker) upload(ctx context.Context, localPath string, size int64, msg job.ArchiveMessage) (string, error) {
	file, err := os.Open(localPath)
	if err != nil {
		return "", err
	}
	defer file.Close()

	contentType := "application/octet-stream"
	if mt, err := mimetype.DetectReader(file); err == nil {
		contentType = mt.String()
	}
	if _, err := file.Seek(0, io.SeekStart); err != nil {
		return "", err
	}

	object := path.Join(w.cfg.Minio.Prefix, msg.JobID, w.filename(msg))
	_, err = w.objects.PutObject(ctx, w.cfg.Minio.Bucket, object, file, size, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return "", err
	}
	return object, nil
}

func (w *worker) filename(msg job.ArchiveMessage) string {
	if name := filepath.Base(msg.Filename); msg.Filename != "" && name != "." && name != "/" {
		return name
	}
	return job.ConvertedName("output", msg.OutputFormat)
}

// release puts an interrupted message back on the queue so the next worker picks it up.
func (w *worker) release(ctx context.Context, msg job.ArchiveMessage) error {
	cleanupCtx, cancel := cleanupContext(ctx)
	defer cancel()

	if err := w.queue.ReleaseArchive(cleanupCtx, msg); err != nil {
		return fmt.Errorf("release interrupted job: %w", err)
	}
	w.logger.Info("archive interrupted, job released", "job_id", msg.JobID)
	return ctx.Err()
}

// cleanupContext keeps ctx's values but survives its cancellation for a short while.
func cleanupContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
}

func (w *worker) markFailure(ctx context.Context, jobID string, cause error) {
	if err := w.queue.MarkArchive(ctx, jobID, job.ArchiveFailed, "", truncate(cause.Error())); err != nil {
		w.logger.Error("failed to mark archive failure", "job_id", jobID, "error", err)
	}
}

// handleFailure requeues msg while retries remain and reports whether it did.
func (w *worker) handleFailure(ctx context.Context, msg job.ArchiveMessage, attempt int64, cause error) bool {
	ctx, cancel := cleanupContext(ctx)
	defer cancel()

	maxRetries := int64(w.cfg.Worker.MaxRetries)
	errMsg := truncate(cause.Error())

	if maxRetries > 0 && attempt >= maxRetries {
		w.logger.Error("archive failed with no retries remaining", "job_id", msg.JobID, "attempts", attempt, "error", errMsg)
		w.markFailure(ctx, msg.JobID, cause)
		return false
	}

	w.logger.Warn("archive failed, retrying", "job_id", msg.JobID, "attempt", attempt, "error", errMsg)
	if err := w.queue.MarkArchive(ctx, msg.JobID, job.ArchiveQueued, "", errMsg); err != nil {
		w.logger.Error("failed to update job for retry", "job_id", msg.JobID, "error", err)
	}

	if err := w.queue.RequeueArchive(ctx, msg); err != nil {
		w.logger.Error("failed to enqueue archive retry", "job_id", msg.JobID, "error", err)
		w.markFailure(ctx, msg.JobID, cause)
		return false
	}
	return true
}

func truncate(s string) string {
	if len(s) > maxErrorLen {
		return s[:maxErrorLen]
	}
	return s
}
