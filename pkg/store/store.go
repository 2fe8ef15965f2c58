// Package store keeps the gateway's view of conversion jobs.
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/imalyk/go-file-converter/pkg/config"
	"github.com/imalyk/go-file-converter/pkg/job"
)

var (
	ErrNotFound   = errors.New("job record not found")
	ErrQueueEmpty = errors.New("archive queue empty")
)

type Store interface {
	Create(ctx context.Context, rec job.Record) error
	Get(ctx context.Context, id string) (job.Record, error)
	// ApplyReport records the latest provider report and returns the updated record.
	ApplyReport(ctx context.Context, rep job.Report) (job.Record, error)
}

// ArchiveQueue is implemented by stores that can hand finished jobs to the archive worker.
type ArchiveQueue interface {
	// EnqueueArchive queues msg unless the job was queued before. It reports whether
	// the message was pushed.
	EnqueueArchive(ctx context.Context, msg job.ArchiveMessage) (bool, error)
}

// New opens the store selected by cfg.Store.Driver.
func New(ctx context.Context, cfg *config.Config) (Store, error) {
	switch strings.ToLower(cfg.Store.Driver) {
	case "", "memory":
		return NewMemory(), nil
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("redis ping: %w", err)
		}
		return NewRedis(client, cfg.Redis.KeyPrefix, cfg.Redis.ArchiveQueue), nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
}

// Memory is a process-local Store.
type Memory struct {
	mu   sync.RWMutex
	jobs map[string]job.Record
	now  func() time.Time
}

func NewMemory() *Memory {
	return &Memory{jobs: make(map[string]job.Record), now: time.Now}
}

func (m *Memory) Create(_ context.Context, rec job.Record) error {
	if rec.ID == "" {
		return errors.New("record without id")
	}
	now := m.now().UTC()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	rec.UpdatedAt = now

	m.mu.Lock()
	m.jobs[rec.ID] = rec
	m.mu.Unlock()
	return nil
}

func (m *Memory) Get(_ context.Context, id string) (job.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.jobs[id]
	if !ok {
		return job.Record{}, ErrNotFound
	}
	return rec, nil
}

func (m *Memory) ApplyReport(_ context.Context, rep job.Report) (job.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.jobs[rep.ID]
	if !ok {
		return job.Record{}, ErrNotFound
	}
	rec.Apply(rep, m.now().UTC())
	m.jobs[rep.ID] = rec
	return rec, nil
}
