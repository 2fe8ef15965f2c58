package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/imalyk/go-file-converter/pkg/job"
)

// Redis keeps one hash per job and doubles as the archive queue (a Redis list).
type Redis struct {
	client *redis.Client
	prefix string
	queue  string
	now    func() time.Time
}

func NewRedis(client *redis.Client, prefix, queue string) *Redis {
	if prefix == "" {
		prefix = "conversion:"
	}
	if queue == "" {
		queue = "conversion:archive:queue"
	}
	return &Redis{client: client, prefix: prefix, queue: queue, now: time.Now}
}

func (r *Redis) Client() *redis.Client { return r.client }

func (r *Redis) Close() error { return r.client.Close() }

func (r *Redis) key(id string) string {
	return r.prefix + id
}

func (r *Redis) stamp() string {
	return r.now().UTC().Format(time.RFC3339Nano)
}

func (r *Redis) Create(ctx context.Context, rec job.Record) error {
	if rec.ID == "" {
		return errors.New("record without id")
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = r.now().UTC()
	}
	fields := map[string]interface{}{
		"id":            rec.ID,
		"provider":      rec.Provider,
		"filename":      rec.Filename,
		"output_format": rec.OutputFormat,
		"content_type":  rec.ContentType,
		"input_size":    rec.InputSize,
		"status":        string(rec.Status),
		"step":          rec.Step,
		"progress":      rec.Progress,
		"created_at":    rec.CreatedAt.UTC().Format(time.RFC3339Nano),
		"updated_at":    r.stamp(),
	}
	if err := r.client.HSet(ctx, r.key(rec.ID), fields).Err(); err != nil {
		return fmt.Errorf("create record %s: %w", rec.ID, err)
	}
	return nil
}

func (r *Redis) Get(ctx context.Context, id string) (job.Record, error) {
	values, err := r.client.HGetAll(ctx, r.key(id)).Result()
	if err != nil {
		return job.Record{}, fmt.Errorf("get record %s: %w", id, err)
	}
	if len(values) == 0 {
		return job.Record{}, ErrNotFound
	}
	return decodeRecord(values), nil
}

func (r *Redis) ApplyReport(ctx context.Context, rep job.Report) (job.Record, error) {
	key := r.key(rep.ID)
	n, err := r.client.Exists(ctx, key).Result()
	if err != nil {
		return job.Record{}, fmt.Errorf("apply report %s: %w", rep.ID, err)
	}
	if n == 0 {
		return job.Record{}, ErrNotFound
	}

	fields := map[string]interface{}{
		"status":     string(rep.Status),
		"step":       rep.Step,
		"progress":   rep.StepPercent,
		"error":      rep.Error,
		"updated_at": r.stamp(),
	}
	if rep.Output != nil {
		fields["output_url"] = rep.Output.URL
		fields["output_size"] = rep.Output.Size
	}
	if err := r.client.HSet(ctx, key, fields).Err(); err != nil {
		return job.Record{}, fmt.Errorf("apply report %s: %w", rep.ID, err)
	}
	return r.Get(ctx, rep.ID)
}

func (r *Redis) EnqueueArchive(ctx context.Context, msg job.ArchiveMessage) (bool, error) {
	ok, err := r.client.HSetNX(ctx, r.key(msg.JobID), "archive_status", string(job.ArchiveQueued)).Result()
	if err != nil {
		return false, fmt.Errorf("mark archive queued: %w", err)
	}
	if !ok {
		return false, nil
	}
	if err := r.push(ctx, msg); err != nil {
		_ = r.client.HDel(ctx, r.key(msg.JobID), "archive_status").Err()
		return false, err
	}
	return true, nil
}

// RequeueArchive pushes msg back onto the queue without the once-only guard.
func (r *Redis) RequeueArchive(ctx context.Context, msg job.ArchiveMessage) error {
	return r.push(ctx, msg)
}

// ReleaseArchive hands back a message whose attempt was interrupted before it could
// finish. The message goes to the head of the queue and the attempt is not counted.
func (r *Redis) ReleaseArchive(ctx context.Context, msg job.ArchiveMessage) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode archive message: %w", err)
	}
	key := r.key(msg.JobID)
	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HIncrBy(ctx, key, "archive_attempts", -1)
		pipe.HSet(ctx, key, "archive_status", string(job.ArchiveQueued), "updated_at", r.stamp())
		pipe.LPush(ctx, r.queue, payload)
		return nil
	})
	if err != nil {
		return fmt.Errorf("release archive %s: %w", msg.JobID, err)
	}
	return nil
}

func (r *Redis) push(ctx context.Context, msg job.ArchiveMessage) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode archive message: %w", err)
	}
	if err := r.client.RPush(ctx, r.queue, payload).Err(); err != nil {
		return fmt.Errorf("enqueue archive %s: %w", msg.JobID, err)
	}
	return nil
}

// DequeueArchive blocks for up to timeout waiting for the next message.
func (r *Redis) DequeueArchive(ctx context.Context, timeout time.Duration) (job.ArchiveMessage, error) {
	res, err := r.client.BLPop(ctx, timeout, r.queue).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return job.ArchiveMessage{}, ErrQueueEmpty
		}
		return job.ArchiveMessage{}, err
	}
	if len(res) < 2 {
		return job.ArchiveMessage{}, ErrQueueEmpty
	}

	var msg job.ArchiveMessage
	if err := json.Unmarshal([]byte(res[1]), &msg); err != nil {
		return job.ArchiveMessage{}, fmt.Errorf("invalid archive payload: %w", err)
	}
	return msg, nil
}

func (r *Redis) IncrArchiveAttempts(ctx context.Context, id string) (int64, error) {
	return r.client.HIncrBy(ctx, r.key(id), "archive_attempts", 1).Result()
}

// MarkArchive records the archive state of a job. object and errMsg are written as given,
// so an empty errMsg clears a previous failure.
func (r *Redis) MarkArchive(ctx context.Context, id string, status job.ArchiveStatus, object, errMsg string) error {
	fields := map[string]interface{}{
		"archive_status": string(status),
		"archive_error":  errMsg,
		"updated_at":     r.stamp(),
	}
	if object != "" {
		fields["archived_object"] = object
	}
	return r.client.HSet(ctx, r.key(id), fields).Err()
}

func decodeRecord(v map[string]string) job.Record {
	rec := job.Record{
		ID:             v["id"],
		Provider:       v["provider"],
		Filename:       v["filename"],
		OutputFormat:   v["output_format"],
		ContentType:    v["content_type"],
		Status:         job.Status(v["status"]),
		Step:           v["step"],
		OutputURL:      v["output_url"],
		Error:          v["error"],
		ArchiveStatus:  job.ArchiveStatus(v["archive_status"]),
		ArchivedObject: v["archived_object"],
		ArchiveError:   v["archive_error"],
	}
	rec.InputSize = parseInt64(v["input_size"])
	rec.OutputSize = parseInt64(v["output_size"])
	rec.ArchiveAttempts = parseInt64(v["archive_attempts"])
	rec.Progress = int(parseInt64(v["progress"]))
	rec.CreatedAt = parseTime(v["created_at"])
	rec.UpdatedAt = parseTime(v["updated_at"])
	return rec
}

func parseInt64(value string) int64 {
	if value == "" {
		return 0
	}
	n, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return 0
	}
	return n
}

func parseTime(value string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}
	}
	return t
}
