package mirror

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config selects the bucket run artifacts are copied to. Enabled stays false
// unless TURNFORGE_MIRROR_ENABLED is set, so a bare environment uploads
// nothing.
type Config struct {
	Enabled         bool          `env:"ENABLED"`
	Endpoint        string        `env:"ENDPOINT"`
	Bucket          string        `env:"BUCKET"`
	Region          string        `env:"REGION" envDefault:"auto"`
	AccessKeyID     string        `env:"ACCESS_KEY_ID"`
	SecretAccessKey string        `env:"SECRET_ACCESS_KEY"`
	Prefix          string        `env:"PREFIX" envDefault:"runs"`
	Workers         int           `env:"WORKERS" envDefault:"2"`
	QueueCapacity   int           `env:"QUEUE" envDefault:"64"`
	EnqueueWait     time.Duration `env:"ENQUEUE_WAIT" envDefault:"250ms"`
}

// ConfigFromEnv reads TURNFORGE_MIRROR_* variables.
func ConfigFromEnv() (Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: "TURNFORGE_MIRROR_"}); err != nil {
		return cfg, fmt.Errorf("mirror env: %w", err)
	}
	return cfg, nil
}

type Stats struct {
	QueueDepth          int
	QueueCapacity       int
	EnqueuedTotal       uint64
	QueueSaturatedTotal uint64
	DroppedTotal        uint64
	UploadSuccessTotal  uint64
	UploadFailTotal     uint64
}

// Mirror uploads finished run artifacts in the background under
// Artifact.Key(prefix).
type Mirror struct {
	client *Client
	prefix string
	logger *log.Logger

	jobs        chan Artifact
	enqueueWait time.Duration
	wg          sync.WaitGroup
	closeOnce   sync.Once

	enqueuedTotal       atomic.Uint64
	queueSaturatedTotal atomic.Uint64
	droppedTotal        atomic.Uint64
	uploadSuccessTotal  atomic.Uint64
	uploadFailTotal     atomic.Uint64
}

// Open returns nil when the mirror is disabled.
func Open(cfg Config, logger *log.Logger) (*Mirror, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	client, err := New(cfg)
	if err != nil {
		return nil, err
	}
	return NewMirror(client, cfg.Prefix, cfg.Workers, cfg.QueueCapacity, cfg.EnqueueWait, logger), nil
}

func NewMirror(client *Client, prefix string, workers, queueCapacity int, enqueueWait time.Duration, logger *log.Logger) *Mirror {
	if workers <= 0 {
		workers = 1
	}
	if queueCapacity <= 0 {
		queueCapacity = 64
	}
	if enqueueWait <= 0 {
		enqueueWait = 25 * time.Millisecond
	}
	m := &Mirror{
		client:      client,
		prefix:      strings.Trim(strings.ReplaceAll(prefix, "\\", "/"), "/"),
		logger:      logger,
		jobs:        make(chan Artifact, queueCapacity),
		enqueueWait: enqueueWait,
	}
	for i := 0; i < workers; i++ {
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			for a := range m.jobs {
				m.uploadOne(a)
			}
		}()
	}
	return m
}

// EnqueueRun schedules every existing file in paths under the run's key
// prefix. Empty paths are skipped.
func (m *Mirror) EnqueueRun(runID string, paths ...string) {
	if m == nil || m.client == nil {
		return
	}
	for _, p := range paths {
		if p == "" {
			continue
		}
		a, err := NewArtifact(runID, p)
		if err != nil {
			m.printf("mirror skip local=%s err=%v", p, err)
			continue
		}
		m.enqueue(a)
	}
}

func (m *Mirror) enqueue(a Artifact) {
	m.enqueuedTotal.Add(1)

	select {
	case m.jobs <- a:
		return
	default:
	}

	m.queueSaturatedTotal.Add(1)
	timer := time.NewTimer(m.enqueueWait)
	defer timer.Stop()
	select {
	case m.jobs <- a:
	case <-timer.C:
		dropped := m.droppedTotal.Add(1)
		m.printf("mirror drop run=%s kind=%s reason=queue_saturated wait_ms=%d dropped_total=%d", a.RunID, a.Kind, m.enqueueWait.Milliseconds(), dropped)
	}
}

// Close waits for queued uploads to finish.
func (m *Mirror) Close() {
	if m == nil {
		return
	}
	m.closeOnce.Do(func() { close(m.jobs) })
	m.wg.Wait()
}

func (m *Mirror) Stats() Stats {
	if m == nil {
		return Stats{}
	}
	return Stats{
		QueueDepth:          len(m.jobs),
		QueueCapacity:       cap(m.jobs),
		EnqueuedTotal:       m.enqueuedTotal.Load(),
		QueueSaturatedTotal: m.queueSaturatedTotal.Load(),
		DroppedTotal:        m.droppedTotal.Load(),
		UploadSuccessTotal:  m.uploadSuccessTotal.Load(),
		UploadFailTotal:     m.uploadFailTotal.Load(),
	}
}

func (m *Mirror) uploadOne(a Artifact) {
	key := a.Key(m.prefix)
	if err := m.uploadWithRetry(a); err != nil {
		m.uploadFailTotal.Add(1)
		m.printf("mirror upload failed key=%s kind=%s err=%v", key, a.Kind, err)
		return
	}
	m.uploadSuccessTotal.Add(1)
	m.printf("mirror uploaded key=%s kind=%s", key, a.Kind)
}

func (m *Mirror) uploadWithRetry(a Artifact) error {
	const maxAttempts = 4
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		err := m.client.Put(ctx, m.prefix, a)
		cancel()
		if err == nil {
			return nil
		}
		lastErr = err
		if attempt < maxAttempts {
			time.Sleep(time.Duration(attempt*attempt) * 200 * time.Millisecond)
		}
	}
	return lastErr
}

func (m *Mirror) printf(format string, args ...any) {
	if m.logger != nil {
		m.logger.Printf(format, args...)
	}
}
