package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"

	"github.com/gorilla/websocket"

	"turnforge.ai/internal/observerproto"
)

// watch follows a running game through the runner's observer endpoint and
// prints one line per round.
func main() {
	var (
		url   = flag.String("url", "ws://127.0.0.1:8081/observer/ws", "observer ws url")
		views = flag.Bool("views", false, "request views and print their size")
		from  = flag.Int("from", 0, "skip rounds before this one")
	)
	flag.Parse()

	logger := log.New(os.Stderr, "[watch] ", log.LstdFlags|log.Lmicroseconds)
	conn, _, err := websocket.DefaultDialer.Dial(*url, nil)
	if err != nil {
		logger.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	sub := observerproto.SubscribeMsg{
		Type:            observerproto.TypeSubscribe,
		ProtocolVersion: observerproto.Version,
		IncludeViews:    *views,
		FromRound:       *from,
	}
	if err := conn.WriteJSON(sub); err != nil {
		logger.Fatalf("send SUBSCRIBE: %v", err)
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt)
	go func() {
		<-stop
		_ = conn.Close()
	}()

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				logger.Printf("read: %v", err)
			}
			return
		}
		if done := handle(msg, logger); done {
			return
		}
	}
}

func handle(msg []byte, logger *log.Logger) bool {
	var base struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(msg, &base); err != nil {
		logger.Printf("bad message: %v", err)
		return false
	}
	switch base.Type {
	case observerproto.TypeRound:
		var m observerproto.RoundMsg
		if err := json.Unmarshal(msg, &m); err != nil {
			logger.Printf("bad ROUND: %v", err)
			return false
		}
		fmt.Println(describeRound(m))
	case observerproto.TypeFinish:
		var m observerproto.FinishMsg
		if err := json.Unmarshal(msg, &m); err != nil {
			logger.Printf("bad FINISH: %v", err)
			return true
		}
		fmt.Printf("finished run=%s rounds=%d scores=%v", m.RunID, m.Rounds, m.Scores)
		if m.FailCause != "" {
			fmt.Printf(" fail=%s %q", m.FailCode, m.FailCause)
		}
		fmt.Println()
		return true
	}
	return false
}

func describeRound(m observerproto.RoundMsg) string {
	r := m.Round
	s := fmt.Sprintf("round %d", r.Index)
	if r.Player >= 0 {
		s += fmt.Sprintf(" player=%d", r.Player)
		if r.TimedOut {
			s += " timeout"
		} else if r.Output != nil {
			s += fmt.Sprintf(" output=%q", *r.Output)
		}
	}
	if r.Summary != nil && *r.Summary != "" {
		s += fmt.Sprintf(" summary=%q", *r.Summary)
	}
	if r.View != nil {
		s += fmt.Sprintf(" view=%dB", len(*r.View))
	}
	if !r.Valid {
		s += " invalid"
	}
	return s
}
