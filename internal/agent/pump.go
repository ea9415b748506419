package agent

import (
	"io"
	"sync"
	"sync/atomic"
)

// Pump writes queued input to one agent on its own goroutine so a slow reader
// never blocks the caller.
type Pump struct {
	w     io.Writer
	queue chan string
	done  chan struct{}

	mu      sync.Mutex
	stopped bool
	dropped atomic.Uint64
}

// NewPump starts a pump with a queue of the given capacity.
func NewPump(w io.Writer, capacity int) *Pump {
	if capacity <= 0 {
		capacity = 1024
	}
	p := &Pump{w: w, queue: make(chan string, capacity), done: make(chan struct{})}
	go p.run()
	return p
}

func (p *Pump) run() {
	defer close(p.done)
	for s := range p.queue {
		if s == "" {
			continue
		}
		// Write errors are absorbed by the writer; keep draining.
		_, _ = io.WriteString(p.w, s)
	}
}

// Enqueue hands s to the pump. It never blocks: input is dropped when the queue
// is full or the pump has been stopped.
func (p *Pump) Enqueue(s string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		return false
	}
	select {
	case p.queue <- s:
		return true
	default:
		p.dropped.Add(1)
		return false
	}
}

// Dropped reports how many inputs were discarded on a full queue.
func (p *Pump) Dropped() uint64 { return p.dropped.Load() }

// Stop ends the pump after the queued input has been written. Safe to call
// more than once.
func (p *Pump) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		return
	}
	p.stopped = true
	close(p.queue)
}

// Done is closed when the pump goroutine has exited.
func (p *Pump) Done() <-chan struct{} { return p.done }
