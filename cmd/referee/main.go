package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"turnforge.ai/internal/engine"
	"turnforge.ai/internal/game/duel"
)

// referee runs a game referee on stdin/stdout so it can be driven by the
// runner as a child process.
func main() {
	game := flag.String("game", "duel", "game to referee: duel or solo")
	flag.Parse()

	logger := log.New(os.Stderr, "[referee] ", log.LstdFlags|log.Lmicroseconds)

	var ref engine.Referee
	opts := engine.Options{Logger: logger}
	switch *game {
	case "duel":
		ref = duel.New()
	case "solo":
		ref = duel.NewSolo()
		opts.Solo = true
	default:
		fmt.Fprintf(os.Stderr, "unknown game %q\n", *game)
		os.Exit(2)
	}

	e := engine.New(ref, opts)
	if err := e.Run(os.Stdin, os.Stdout); err != nil {
		logger.Fatalf("run: %v", err)
	}
}
