package main

import (
	"fmt"
	"strconv"

	persistlog "turnforge.ai/internal/persistence/log"
	"turnforge.ai/internal/result"
)

// verifyResult checks that the per-round slices of a result line up.
func verifyResult(res *result.GameResult) error {
	n := len(res.Views)
	if len(res.Summaries) != n {
		return fmt.Errorf("summaries=%d views=%d", len(res.Summaries), n)
	}
	for key, errs := range res.Errors {
		if key == "referee" {
			continue
		}
		if len(errs) != n+1 {
			return fmt.Errorf("errors[%s]=%d want %d", key, len(errs), n+1)
		}
	}
	for i := range res.Agents {
		outs := res.Outputs[strconv.Itoa(i)]
		if len(outs) != n+1 {
			return fmt.Errorf("outputs[%d]=%d want %d", i, len(outs), n+1)
		}
	}
	if res.FailCause != "" && res.FailCode == "" {
		return fmt.Errorf("fail cause without a code")
	}
	return nil
}

type journalSummary struct {
	rounds   int
	timeouts int
	finished bool
}

// verifyJournal checks that rounds are contiguous from 0 and that a finish
// entry, when present, is last and agrees with the rounds (and with res when
// given).
func verifyJournal(entries []persistlog.Entry, res *result.GameResult) (journalSummary, error) {
	var sum journalSummary
	var finish *persistlog.FinishEntry
	for i, e := range entries {
		if finish != nil {
			return sum, fmt.Errorf("entry %d after finish", i)
		}
		switch e.Type {
		case persistlog.EntryRound:
			if e.Round == nil {
				return sum, fmt.Errorf("entry %d: round entry without round", i)
			}
			if e.Round.Index != sum.rounds {
				return sum, fmt.Errorf("entry %d: round %d want %d", i, e.Round.Index, sum.rounds)
			}
			if e.Round.TimedOut {
				sum.timeouts++
			}
			sum.rounds++
		case persistlog.EntryFinish:
			if e.Finish == nil {
				return sum, fmt.Errorf("entry %d: finish entry without payload", i)
			}
			finish = e.Finish
		default:
			return sum, fmt.Errorf("entry %d: unknown type %q", i, e.Type)
		}
	}
	if finish == nil {
		return sum, nil
	}
	sum.finished = true
	if finish.Rounds != sum.rounds {
		return sum, fmt.Errorf("finish says %d rounds, journal has %d", finish.Rounds, sum.rounds)
	}
	if res == nil {
		return sum, nil
	}
	if finish.RunID != res.RunID {
		return sum, fmt.Errorf("run id %s does not match result %s", finish.RunID, res.RunID)
	}
	if finish.Rounds != len(res.Views) {
		return sum, fmt.Errorf("journal has %d rounds, result %d", finish.Rounds, len(res.Views))
	}
	for p, s := range res.Scores {
		if finish.Scores[p] != s {
			return sum, fmt.Errorf("score of player %d: journal %d result %d", p, finish.Scores[p], s)
		}
	}
	return sum, nil
}
