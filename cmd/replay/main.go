package main

import (
	"flag"
	"fmt"
	"os"

	persistlog "turnforge.ai/internal/persistence/log"
	"turnforge.ai/internal/result"
)

func main() {
	var (
		resultPath  = flag.String("result", "", "path to <run>.json.zst")
		journalPath = flag.String("journal", "", "path to <run>.jsonl.zst (optional)")
		showRounds  = flag.Bool("rounds", false, "print one line per round")
	)
	flag.Parse()

	if *resultPath == "" && *journalPath == "" {
		fmt.Fprintln(os.Stderr, "missing -result or -journal")
		os.Exit(2)
	}

	var res *result.GameResult
	if *resultPath != "" {
		r, err := result.ReadFile(*resultPath)
		if err != nil {
			fmt.Fprintln(os.Stderr, "read result:", err)
			os.Exit(1)
		}
		res = r
		printResult(res)
		if err := verifyResult(res); err != nil {
			fmt.Fprintln(os.Stderr, "result:", err)
			os.Exit(1)
		}
	}

	if *journalPath == "" {
		return
	}
	entries, err := persistlog.ReadJournal(*journalPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "read journal:", err)
		os.Exit(1)
	}
	sum, err := verifyJournal(entries, res)
	if err != nil {
		fmt.Fprintln(os.Stderr, "journal:", err)
		os.Exit(1)
	}
	if *showRounds {
		for _, e := range entries {
			if e.Round != nil {
				fmt.Println(roundLine(*e.Round))
			}
		}
	}
	fmt.Printf("journal ok: rounds=%d timeouts=%d finished=%v\n", sum.rounds, sum.timeouts, sum.finished)
}

func printResult(res *result.GameResult) {
	fmt.Printf("run %s rounds=%d started=%s finished=%s\n",
		res.RunID, len(res.Views), res.StartedAt.Format("2006-01-02T15:04:05Z"), res.FinishedAt.Format("2006-01-02T15:04:05Z"))
	for _, a := range res.Agents {
		fmt.Printf("  %d %-16s avatar=%s score=%d\n", a.Index, a.Name, a.Avatar, res.Scores[a.Index])
	}
	if len(res.GameParameters) > 0 {
		fmt.Printf("  params %v\n", res.GameParameters)
	}
	if res.FailCause != "" {
		fmt.Printf("  failed %s: %s\n", res.FailCode, res.FailCause)
	}
}

func roundLine(r result.Round) string {
	s := fmt.Sprintf("round %d valid=%v", r.Index, r.Valid)
	if r.Player >= 0 {
		s += fmt.Sprintf(" player=%d", r.Player)
	}
	if r.TimedOut {
		s += " timeout"
	}
	if r.Summary != nil {
		s += fmt.Sprintf(" summary=%q", *r.Summary)
	}
	if r.Terminal {
		s += fmt.Sprintf(" scores=%v", r.Scores)
	}
	return s
}
