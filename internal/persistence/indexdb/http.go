package indexdb

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"turnforge.ai/internal/result"
)

// HTTPConfig configures a remote ingest endpoint that receives batched JSON
// events.
type HTTPConfig struct {
	Endpoint      string
	Token         string
	BatchSize     int
	FlushInterval time.Duration
	HTTPTimeout   time.Duration
	Logger        *log.Logger
}

// HTTPIndex ships rounds and finished runs to a remote ingest endpoint. A
// failed batch is retried on the next flush.
type HTTPIndex struct {
	cfg        HTTPConfig
	httpClient *http.Client

	ch   chan event
	wg   sync.WaitGroup
	once sync.Once

	closed atomic.Bool

	dropTotal      atomic.Uint64
	flushFailTotal atomic.Uint64
}

type event struct {
	Kind    string `json:"kind"`
	RunID   string `json:"run_id"`
	Payload any    `json:"payload"`
}

type runPayload struct {
	StartedAt  time.Time        `json:"started_at"`
	FinishedAt time.Time        `json:"finished_at"`
	Agents     []result.Agent   `json:"agents"`
	Scores     map[int]int      `json:"scores"`
	Rounds     int              `json:"rounds"`
	Tooltips   []result.Tooltip `json:"tooltips,omitempty"`
	FailCause  string           `json:"fail_cause,omitempty"`
	FailCode   string           `json:"fail_code,omitempty"`
}

// HTTPStats reports queue and delivery health.
type HTTPStats struct {
	QueueDroppedTotal uint64
	FlushFailTotal    uint64
	QueueDepth        int
}

func OpenHTTP(cfg HTTPConfig) (*HTTPIndex, error) {
	cfg.Endpoint = strings.TrimSpace(cfg.Endpoint)
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("empty ingest endpoint")
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 64
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 500 * time.Millisecond
	}
	if cfg.HTTPTimeout <= 0 {
		cfg.HTTPTimeout = 10 * time.Second
	}

	d := &HTTPIndex{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.HTTPTimeout},
		ch:         make(chan event, 8192),
	}
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.loop()
	}()
	return d, nil
}

// Close flushes what is queued and stops the sender.
func (d *HTTPIndex) Close() error {
	if d == nil {
		return nil
	}
	d.once.Do(func() {
		d.closed.Store(true)
		close(d.ch)
		d.wg.Wait()
	})
	return nil
}

func (d *HTTPIndex) Stats() HTTPStats {
	return HTTPStats{
		QueueDroppedTotal: d.dropTotal.Load(),
		FlushFailTotal:    d.flushFailTotal.Load(),
		QueueDepth:        len(d.ch),
	}
}

func (d *HTTPIndex) WriteRound(r result.Round) error {
	d.enqueue(event{Kind: "round", RunID: r.RunID, Payload: r})
	return nil
}

func (d *HTTPIndex) Finish(res *result.GameResult) error {
	if res == nil {
		return nil
	}
	d.enqueue(event{Kind: "run", RunID: res.RunID, Payload: runPayload{
		StartedAt:  res.StartedAt,
		FinishedAt: res.FinishedAt,
		Agents:     res.Agents,
		Scores:     res.Scores,
		Rounds:     len(res.Views),
		Tooltips:   res.Tooltips,
		FailCause:  res.FailCause,
		FailCode:   res.FailCode,
	}})
	return nil
}

func (d *HTTPIndex) enqueue(ev event) {
	if d == nil || d.closed.Load() {
		return
	}
	select {
	case d.ch <- ev:
	default:
		d.dropTotal.Add(1)
		d.printf("index queue full; drop kind=%s run=%s", ev.Kind, ev.RunID)
	}
}

func (d *HTTPIndex) loop() {
	ticker := time.NewTicker(d.cfg.FlushInterval)
	defer ticker.Stop()

	batch := make([]event, 0, d.cfg.BatchSize)
	flush := func(final bool) {
		if len(batch) == 0 {
			return
		}
		if err := d.sendBatch(batch); err != nil {
			d.flushFailTotal.Add(1)
			d.printf("index flush failed batch=%d err=%v", len(batch), err)
			if !final {
				// Keep the batch for the next tick.
				return
			}
		}
		batch = batch[:0]
	}

	for {
		select {
		case ev, ok := <-d.ch:
			if !ok {
				flush(true)
				return
			}
			batch = append(batch, ev)
			if len(batch) >= d.cfg.BatchSize {
				flush(false)
			}
		case <-ticker.C:
			flush(false)
		}
	}
}

func (d *HTTPIndex) sendBatch(events []event) error {
	body := struct {
		Events []event `json:"events"`
	}{Events: events}
	buf, err := json.Marshal(body)
	if err != nil {
		return err
	}

	var lastErr error
	for attempt := 0; attempt < 3; attempt++ {
		req, err := http.NewRequest(http.MethodPost, d.cfg.Endpoint, bytes.NewReader(buf))
		if err != nil {
			return err
		}
		req.Header.Set("content-type", "application/json")
		if d.cfg.Token != "" {
			req.Header.Set("x-tf-index-token", d.cfg.Token)
		}

		resp, err := d.httpClient.Do(req)
		if err == nil {
			respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 16*1024))
			_ = resp.Body.Close()
			if resp.StatusCode >= 200 && resp.StatusCode < 300 {
				return nil
			}
			err = fmt.Errorf("status=%d body=%s", resp.StatusCode, strings.TrimSpace(string(respBody)))
		}
		lastErr = err
		time.Sleep(time.Duration(100*(1<<attempt)) * time.Millisecond)
	}
	return lastErr
}

func (d *HTTPIndex) printf(format string, args ...any) {
	if d != nil && d.cfg.Logger != nil {
		d.cfg.Logger.Printf(format, args...)
	}
}
