package agent

import (
	"context"
	"io"
	"log"
	"sync"
	"time"
)

// Limits bounds what is captured from one agent.
type Limits struct {
	// ErrChunk is the per-call stderr capture size.
	ErrChunk int
	// ErrChunkReduced replaces ErrChunk once ErrThreshold cumulative stderr
	// bytes have been captured.
	ErrChunkReduced int
	ErrThreshold    int
	// ErrBuffer caps buffered stderr; bytes past it are discarded.
	ErrBuffer int
	// OutBuffer caps buffered stdout; past it the agent blocks on its pipe.
	OutBuffer int
}

func DefaultLimits() Limits {
	return Limits{
		ErrChunk:        4096,
		ErrChunkReduced: 1024,
		ErrThreshold:    4096 * 50,
		ErrBuffer:       64 * 1024,
		OutBuffer:       1024 * 1024,
	}
}

// Agent supervises one process: best-effort input, deadline-bounded reads of
// its output and non-blocking drains of its stderr.
type Agent struct {
	ID       int
	Nickname string
	Avatar   string

	proc   Process
	limits Limits
	logger *log.Logger

	out *stream
	err *stream

	mu        sync.Mutex
	stdinDead bool
	failed    bool
	errBytes  int
	spent     time.Duration
}

// Start launches the process built by f and begins buffering its output.
func Start(ctx context.Context, id int, f Factory, limits Limits, logger *log.Logger) (*Agent, error) {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	defaults := DefaultLimits()
	if limits.ErrChunk <= 0 {
		limits.ErrChunk, limits.ErrChunkReduced, limits.ErrThreshold = defaults.ErrChunk, defaults.ErrChunkReduced, defaults.ErrThreshold
	}
	if limits.ErrBuffer <= 0 {
		limits.ErrBuffer = defaults.ErrBuffer
	}
	if limits.OutBuffer <= 0 {
		limits.OutBuffer = defaults.OutBuffer
	}
	proc, err := f(ctx)
	if err != nil {
		return nil, err
	}
	return &Agent{
		ID:     id,
		proc:   proc,
		limits: limits,
		logger: logger,
		out:    newStream(proc.Stdout(), limits.OutBuffer, overflowBlock),
		err:    newStream(proc.Stderr(), limits.ErrBuffer, overflowDrop),
	}, nil
}

// SendInput writes s to the agent's stdin. The first write error disables the
// stdin for good; later calls are no-ops.
func (a *Agent) SendInput(s string) {
	if s == "" {
		return
	}
	_, _ = a.Stdin().Write([]byte(s))
}

// GetOutput reads until maxLines line breaks have been captured, maxBytes bytes
// have been captured, the stream ends or timeout elapses, whichever is first.
// It never blocks past the deadline and returns whatever was captured. "\r\n"
// and a lone "\r" are both returned as "\n".
func (a *Agent) GetOutput(maxLines int, timeout time.Duration, maxBytes int) string {
	start := time.Now()
	s := a.out.read(maxLines, maxBytes, start.Add(timeout))
	a.mu.Lock()
	a.spent += time.Since(start)
	a.mu.Unlock()
	return s
}

// ReadError drains at most one chunk of buffered stderr without blocking. The
// chunk shrinks once the agent has produced more than the threshold.
func (a *Agent) ReadError() string {
	a.mu.Lock()
	limit := a.limits.ErrChunk
	if a.errBytes > a.limits.ErrThreshold {
		limit = a.limits.ErrChunkReduced
	}
	a.mu.Unlock()
	b := a.err.drain(limit)
	if len(b) == 0 {
		return ""
	}
	a.mu.Lock()
	a.errBytes += len(b)
	a.mu.Unlock()
	return string(b)
}

// Stdin exposes the raw input stream for a Pump.
func (a *Agent) Stdin() io.Writer { return agentWriter{a} }

func (a *Agent) SetFailed(v bool) {
	a.mu.Lock()
	a.failed = v
	a.mu.Unlock()
}

func (a *Agent) Failed() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.failed
}

// TimeSpent is the total time spent waiting on this agent's output.
func (a *Agent) TimeSpent() time.Duration {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.spent
}

// ErrDropped is the number of stderr bytes discarded on a full buffer.
func (a *Agent) ErrDropped() int { return a.err.droppedBytes() }

// Close closes the agent's streams. The process itself is left to exit; its
// remaining output is read and discarded so it never blocks on a full pipe.
func (a *Agent) Close() error {
	a.mu.Lock()
	a.stdinDead = true
	a.mu.Unlock()
	a.out.stop()
	a.err.stop()
	return a.proc.Close()
}

type agentWriter struct{ a *Agent }

func (w agentWriter) Write(p []byte) (int, error) {
	w.a.mu.Lock()
	dead := w.a.stdinDead
	w.a.mu.Unlock()
	if dead {
		return 0, io.ErrClosedPipe
	}
	// The write itself is done unlocked: it may block on a full pipe.
	n, err := w.a.proc.Stdin().Write(p)
	if err != nil {
		w.a.mu.Lock()
		w.a.stdinDead = true
		w.a.mu.Unlock()
		w.a.logger.Printf("agent %d: stdin closed: %v", w.a.ID, err)
	}
	return n, err
}

// overflow says what a stream does once its buffer is full.
type overflow int

const (
	// overflowBlock stops reading so the pipe pushes back on the writer.
	overflowBlock overflow = iota
	// overflowDrop keeps reading and discards what does not fit.
	overflowDrop
)

// stream buffers what is read from r on a background goroutine, holding at
// most max bytes.
type stream struct {
	mu      sync.Mutex
	buf     []byte
	max     int
	policy  overflow
	dropped int
	closed  bool
	lastCR  bool
	notify  chan struct{}
	// room is signalled when a reader frees buffer space.
	room chan struct{}
	// quit switches the stream to discarding everything until EOF.
	quit     chan struct{}
	quitOnce sync.Once
}

func newStream(r io.Reader, max int, policy overflow) *stream {
	if max <= 0 {
		max = 64 * 1024
	}
	s := &stream{
		max:    max,
		policy: policy,
		notify: make(chan struct{}, 1),
		room:   make(chan struct{}, 1),
		quit:   make(chan struct{}),
	}
	go s.pump(r)
	return s
}

func (s *stream) pump(r io.Reader) {
	chunk := make([]byte, 4096)
	for {
		n := s.waitRoom(len(chunk))
		if n == 0 {
			n = len(chunk)
		}
		n, err := r.Read(chunk[:n])
		if n > 0 {
			s.store(chunk[:n])
		}
		if err != nil {
			s.mu.Lock()
			s.closed = true
			s.mu.Unlock()
			s.signal()
			return
		}
	}
}

// waitRoom returns how many bytes the next read may take. A blocking stream
// waits until a reader frees space; 0 means read freely and discard.
func (s *stream) waitRoom(want int) int {
	for {
		select {
		case <-s.quit:
			return 0
		default:
		}
		s.mu.Lock()
		free := s.max - len(s.buf)
		s.mu.Unlock()
		if s.policy == overflowDrop {
			return want
		}
		if free > 0 {
			if free < want {
				return free
			}
			return want
		}
		select {
		case <-s.room:
		case <-s.quit:
			return 0
		}
	}
}

func (s *stream) store(p []byte) {
	select {
	case <-s.quit:
		return
	default:
	}
	s.mu.Lock()
	free := s.max - len(s.buf)
	if free < 0 {
		free = 0
	}
	if len(p) > free {
		s.dropped += len(p) - free
		p = p[:free]
	}
	s.buf = append(s.buf, p...)
	s.mu.Unlock()
	if len(p) > 0 {
		s.signal()
	}
}

// stop makes the stream discard further input so a writer blocked on a full
// pipe can finish.
func (s *stream) stop() {
	s.quitOnce.Do(func() { close(s.quit) })
}

// droppedBytes reports how many bytes were discarded because the buffer was full.
func (s *stream) droppedBytes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

func (s *stream) freed() {
	select {
	case s.room <- struct{}{}:
	default:
	}
}

func (s *stream) signal() {
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// lineRead accumulates one GetOutput call.
type lineRead struct {
	out      []byte
	lines    int
	maxLines int
	maxBytes int
}

func (r *lineRead) done() bool { return r.lines >= r.maxLines || len(r.out) >= r.maxBytes }

func (s *stream) read(maxLines, maxBytes int, deadline time.Time) string {
	r := &lineRead{maxLines: maxLines, maxBytes: maxBytes}
	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()
	for {
		exhausted := s.take(r)
		if r.done() || exhausted {
			return string(r.out)
		}
		wait := time.Until(deadline)
		if wait <= 0 {
			return string(r.out)
		}
		if timer == nil {
			timer = time.NewTimer(wait)
		}
		select {
		case <-s.notify:
		case <-timer.C:
			s.take(r)
			return string(r.out)
		}
	}
}

// take moves buffered bytes into r and reports whether the stream is closed
// and fully consumed.
func (s *stream) take(r *lineRead) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	consumed := 0
	for consumed < len(s.buf) && !r.done() {
		b := s.buf[consumed]
		consumed++
		if b == '\n' && s.lastCR {
			s.lastCR = false
			continue
		}
		s.lastCR = b == '\r'
		if b == '\r' {
			b = '\n'
		}
		r.out = append(r.out, b)
		if b == '\n' {
			r.lines++
		}
	}
	s.buf = s.buf[consumed:]
	if consumed > 0 {
		s.freed()
	}
	return s.closed && len(s.buf) == 0
}

func (s *stream) drain(limit int) []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.buf)
	if n > limit {
		n = limit
	}
	if n == 0 {
		return nil
	}
	b := make([]byte, n)
	copy(b, s.buf[:n])
	s.buf = s.buf[n:]
	s.freed()
	return b
}
