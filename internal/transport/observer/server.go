package observer

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"turnforge.ai/internal/observerproto"
	"turnforge.ai/internal/result"
)

// Server streams the rounds of one run to websocket observers. It is a round
// sink: rounds are kept as a backlog for late subscribers and fanned out to
// live ones without blocking the run.
type Server struct {
	log *log.Logger

	upgrader websocket.Upgrader
	nextID   atomic.Uint64

	mu       sync.Mutex
	runID    string
	agents   []result.Agent
	backlog  []result.Round
	finish   []byte
	subs     map[string]*subscriber
	dropped  atomic.Uint64
	queueCap int
}

type subscriber struct {
	id  string
	out chan []byte

	mu    sync.Mutex
	views bool
	// closed is set once the FINISH message was queued.
	closed bool
}

func NewServer(runID string, agents []result.Agent, logger *log.Logger) *Server {
	return &Server{
		log:      logger,
		runID:    runID,
		agents:   agents,
		subs:     map[string]*subscriber{},
		queueCap: 4096,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  64 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
	}
}

// Dropped counts messages not delivered to slow observers.
func (s *Server) Dropped() uint64 { return s.dropped.Load() }

func (s *Server) WriteRound(r result.Round) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.backlog = append(s.backlog, r)
	for _, sub := range s.subs {
		s.sendLocked(sub, r)
	}
	return nil
}

func (s *Server) Finish(res *result.GameResult) error {
	b, err := json.Marshal(observerproto.FinishMsg{
		Type:            observerproto.TypeFinish,
		ProtocolVersion: observerproto.Version,
		RunID:           res.RunID,
		Rounds:          len(res.Views),
		Scores:          res.Scores,
		FailCause:       res.FailCause,
		FailCode:        res.FailCode,
	})
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.finish = b
	for _, sub := range s.subs {
		s.finishLocked(sub)
	}
	return nil
}

func (s *Server) sendLocked(sub *subscriber, r result.Round) {
	sub.mu.Lock()
	views := sub.views
	sub.mu.Unlock()
	if !views {
		r.View = nil
	}
	b, err := json.Marshal(observerproto.RoundMsg{Type: observerproto.TypeRound, ProtocolVersion: observerproto.Version, Round: r})
	if err != nil {
		return
	}
	s.queue(sub, b)
}

func (s *Server) finishLocked(sub *subscriber) {
	sub.mu.Lock()
	defer sub.mu.Unlock()
	if sub.closed {
		return
	}
	sub.closed = true
	select {
	case sub.out <- s.finish:
	default:
		s.dropped.Add(1)
	}
	close(sub.out)
}

func (s *Server) queue(sub *subscriber, b []byte) {
	sub.mu.Lock()
	defer sub.mu.Unlock()
	if sub.closed {
		return
	}
	select {
	case sub.out <- b:
	default:
		// Slow observer; it may resubscribe from the last round it saw.
		s.dropped.Add(1)
	}
}

// join registers sub and queues the backlog from fromRound on.
func (s *Server) join(sub *subscriber, fromRound int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subs[sub.id] = sub
	for _, r := range s.backlog {
		if r.Index >= fromRound {
			s.sendLocked(sub, r)
		}
	}
	if s.finish != nil {
		s.finishLocked(sub)
	}
}

func (s *Server) leave(id string) {
	s.mu.Lock()
	delete(s.subs, id)
	s.mu.Unlock()
}

// Handler serves the bootstrap endpoint and the websocket.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/observer/bootstrap", s.BootstrapHandler())
	mux.HandleFunc("/observer/ws", s.WSHandler())
	return mux
}

func (s *Server) BootstrapHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			rw.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}

		s.mu.Lock()
		resp := observerproto.BootstrapResponse{
			ProtocolVersion: observerproto.Version,
			RunID:           s.runID,
			Agents:          s.agents,
			Rounds:          len(s.backlog),
			Finished:        s.finish != nil,
		}
		s.mu.Unlock()

		rw.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(rw).Encode(resp)
	}
}

func (s *Server) WSHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}

		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		// Handshake: must send SUBSCRIBE first.
		_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var sub observerproto.SubscribeMsg
		if err := json.Unmarshal(msg, &sub); err != nil {
			_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "bad subscribe"), time.Now().Add(time.Second))
			return
		}
		if sub.Type != observerproto.TypeSubscribe || sub.ProtocolVersion != observerproto.Version {
			_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "expected SUBSCRIBE"), time.Now().Add(time.Second))
			return
		}

		o := &subscriber{
			id:    fmt.Sprintf("O%d", s.nextID.Add(1)),
			out:   make(chan []byte, s.queueCap),
			views: sub.IncludeViews,
		}
		s.join(o, sub.FromRound)
		defer s.leave(o.id)
		if s.log != nil {
			s.log.Printf("observer %s joined run %s", o.id, s.runID)
		}

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		// Writer goroutine.
		writeErr := make(chan error, 1)
		go func() {
			for {
				select {
				case <-ctx.Done():
					writeErr <- ctx.Err()
					return
				case b, ok := <-o.out:
					if !ok {
						_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "run finished"), time.Now().Add(time.Second))
						writeErr <- nil
						return
					}
					_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
					if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
						writeErr <- err
						return
					}
				}
			}
		}()

		// Reader loop: allow SUBSCRIBE updates of the view setting.
		for {
			_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			_, msg, err := conn.ReadMessage()
			if err != nil {
				break
			}
			var upd observerproto.SubscribeMsg
			if err := json.Unmarshal(msg, &upd); err != nil {
				continue
			}
			if upd.Type != observerproto.TypeSubscribe || upd.ProtocolVersion != observerproto.Version {
				continue
			}
			o.mu.Lock()
			o.views = upd.IncludeViews
			o.mu.Unlock()
		}

		cancel()
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"), time.Now().Add(time.Second))

		// Best-effort wait for the writer to stop so it doesn't outlive conn.
		select {
		case <-writeErr:
		case <-time.After(500 * time.Millisecond):
		}
	}
}

func isLoopbackRemote(remoteAddr string) bool {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	host = strings.TrimPrefix(host, "[")
	host = strings.TrimSuffix(host, "]")
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
