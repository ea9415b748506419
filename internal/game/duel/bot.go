package duel

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// Bot plays the duel by bisection on the feedback it receives.
type Bot struct {
	lo, hi int
	last   int
}

// Play answers every input line until in is exhausted.
func (b *Bot) Play(in io.Reader, out io.Writer) error {
	sc := bufio.NewScanner(in)
	for sc.Scan() {
		g, err := b.Next(sc.Text())
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintln(out, g); err != nil {
			return err
		}
	}
	return sc.Err()
}

// Next parses one "max feedback" line and returns the next guess.
func (b *Bot) Next(line string) (int, error) {
	f := strings.Fields(line)
	if len(f) != 2 {
		return 0, fmt.Errorf("bot: bad input %q", line)
	}
	max, err := strconv.Atoi(f[0])
	if err != nil {
		return 0, fmt.Errorf("bot: bad max %q: %w", f[0], err)
	}
	switch f[1] {
	case FeedbackHigher:
		b.lo = b.last + 1
	case FeedbackLower:
		b.hi = b.last - 1
	default:
		b.lo, b.hi = 1, max
	}
	if b.lo > b.hi || b.lo < 1 || b.hi > max {
		b.lo, b.hi = 1, max
	}
	b.last = (b.lo + b.hi) / 2
	return b.last, nil
}
