package main

import (
	"log"
	"os"

	"turnforge.ai/internal/game/duel"
)

// bot plays the duel over stdin/stdout. Diagnostics go to stderr, which the
// runner records per round.
func main() {
	logger := log.New(os.Stderr, "[bot] ", log.LstdFlags|log.Lmicroseconds)
	if err := (&duel.Bot{}).Play(os.Stdin, os.Stdout); err != nil {
		logger.Fatalf("play: %v", err)
	}
}
