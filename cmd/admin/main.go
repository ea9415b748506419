package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"turnforge.ai/internal/persistence/indexdb"
)

func main() {
	if len(os.Args) >= 2 {
		switch os.Args[1] {
		case "runs":
			runsCmd(os.Args[2:])
			return
		case "timeouts":
			timeoutsCmd(os.Args[2:])
			return
		case "db":
			dbCmd(os.Args[2:])
			return
		case "results":
			resultsCmd(os.Args[2:])
			return
		}
	}
	runsCmd(os.Args[1:])
}

func indexPath(dataDir, dbPath string) string {
	if p := strings.TrimSpace(dbPath); p != "" {
		return p
	}
	return filepath.Join(dataDir, "index", "runs.sqlite")
}

func openIndex(path string) *indexdb.SQLiteIndex {
	if _, err := os.Stat(path); err != nil {
		fmt.Fprintln(os.Stderr, "index:", err)
		os.Exit(1)
	}
	idx, err := indexdb.OpenSQLite(path)
	if err != nil {
		fmt.Fprintln(os.Stderr, "open:", err)
		os.Exit(1)
	}
	return idx
}

func runsCmd(args []string) {
	fs := flag.NewFlagSet("runs", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	dbPath := fs.String("db", "", "sqlite db path (optional)")
	limit := fs.Int("limit", 20, "result limit")
	_ = fs.Parse(args)

	idx := openIndex(indexPath(*dataDir, *dbPath))
	defer idx.Close()

	rows, err := idx.Runs(context.Background(), *limit)
	if err != nil {
		fmt.Fprintln(os.Stderr, "query:", err)
		os.Exit(1)
	}
	for _, r := range rows {
		printJSON(struct {
			RunID      string `json:"run_id"`
			FinishedAt string `json:"finished_at"`
			Players    int    `json:"players"`
			Rounds     int    `json:"rounds"`
			FailCode   string `json:"fail_code,omitempty"`
		}{r.RunID, r.FinishedAt, r.Players, r.Rounds, r.FailCode})
	}
}

func timeoutsCmd(args []string) {
	fs := flag.NewFlagSet("timeouts", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	dbPath := fs.String("db", "", "sqlite db path (optional)")
	runID := fs.String("run", "", "run id (required)")
	players := fs.Int("players", 0, "number of players (default: from the index)")
	_ = fs.Parse(args)

	if strings.TrimSpace(*runID) == "" {
		fmt.Fprintln(os.Stderr, "missing -run")
		os.Exit(2)
	}
	idx := openIndex(indexPath(*dataDir, *dbPath))
	defer idx.Close()
	ctx := context.Background()

	n := *players
	if n <= 0 {
		rows, err := idx.Runs(ctx, 1_000_000)
		if err != nil {
			fmt.Fprintln(os.Stderr, "query:", err)
			os.Exit(1)
		}
		for _, r := range rows {
			if r.RunID == *runID {
				n = r.Players
				break
			}
		}
		if n == 0 {
			fmt.Fprintln(os.Stderr, "run not indexed:", *runID)
			os.Exit(1)
		}
	}
	for p := 0; p < n; p++ {
		c, err := idx.TimeoutCount(ctx, *runID, p)
		if err != nil {
			fmt.Fprintln(os.Stderr, "query:", err)
			os.Exit(1)
		}
		printJSON(struct {
			RunID    string `json:"run_id"`
			Player   int    `json:"player"`
			Timeouts int    `json:"timeouts"`
		}{*runID, p, c})
	}
}

func resultsCmd(args []string) {
	fs := flag.NewFlagSet("results", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	_ = fs.Parse(args)

	entries, err := os.ReadDir(filepath.Join(*dataDir, "results"))
	if err != nil {
		fmt.Fprintln(os.Stderr, "read:", err)
		os.Exit(1)
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".json.zst") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	for _, n := range names {
		fmt.Println(n)
	}
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(v)
}
