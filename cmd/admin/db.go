package main

import (
	"database/sql"
	"flag"
	"fmt"
	"os"
	"strings"

	_ "modernc.org/sqlite"
)

// dbCmd dumps the per-run tables of the index as JSON lines.
func dbCmd(args []string) {
	fs := flag.NewFlagSet("db", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	dbPath := fs.String("db", "", "sqlite db path (optional)")
	runID := fs.String("run", "", "run id (required)")
	_ = fs.Parse(args)

	q := "scores"
	if fs.NArg() > 0 {
		q = strings.TrimSpace(fs.Arg(0))
	}
	if strings.TrimSpace(*runID) == "" {
		fmt.Fprintln(os.Stderr, "missing -run")
		os.Exit(2)
	}

	db, err := sql.Open("sqlite", indexPath(*dataDir, *dbPath))
	if err != nil {
		fmt.Fprintln(os.Stderr, "open:", err)
		os.Exit(1)
	}
	defer db.Close()

	switch q {
	case "agents":
		rows, err := db.Query(`SELECT idx,name,avatar FROM agents WHERE run_id=? ORDER BY idx`, *runID)
		exitOn("query", err)
		defer rows.Close()
		for rows.Next() {
			var r struct {
				Index  int    `json:"index"`
				Name   string `json:"name"`
				Avatar string `json:"avatar"`
			}
			exitOn("scan", rows.Scan(&r.Index, &r.Name, &r.Avatar))
			printJSON(r)
		}
		exitOn("rows", rows.Err())

	case "scores":
		rows, err := db.Query(`SELECT idx,score FROM scores WHERE run_id=? ORDER BY idx`, *runID)
		exitOn("query", err)
		defer rows.Close()
		for rows.Next() {
			var r struct {
				Index int `json:"index"`
				Score int `json:"score"`
			}
			exitOn("scan", rows.Scan(&r.Index, &r.Score))
			printJSON(r)
		}
		exitOn("rows", rows.Err())

	case "rounds":
		rows, err := db.Query(`SELECT round,valid,player,timed_out,terminal,COALESCE(summary,'') FROM rounds WHERE run_id=? ORDER BY round`, *runID)
		exitOn("query", err)
		defer rows.Close()
		for rows.Next() {
			var r struct {
				Round    int    `json:"round"`
				Valid    bool   `json:"valid"`
				Player   int    `json:"player"`
				TimedOut bool   `json:"timed_out"`
				Terminal bool   `json:"terminal"`
				Summary  string `json:"summary,omitempty"`
			}
			exitOn("scan", rows.Scan(&r.Round, &r.Valid, &r.Player, &r.TimedOut, &r.Terminal, &r.Summary))
			printJSON(r)
		}
		exitOn("rows", rows.Err())

	case "tooltips":
		rows, err := db.Query(`SELECT seq,turn,player,text FROM tooltips WHERE run_id=? ORDER BY seq`, *runID)
		exitOn("query", err)
		defer rows.Close()
		for rows.Next() {
			var r struct {
				Seq    int    `json:"seq"`
				Turn   int    `json:"turn"`
				Player int    `json:"player"`
				Text   string `json:"text"`
			}
			exitOn("scan", rows.Scan(&r.Seq, &r.Turn, &r.Player, &r.Text))
			printJSON(r)
		}
		exitOn("rows", rows.Err())

	default:
		fmt.Fprintln(os.Stderr, "unknown query:", q)
		fmt.Fprintln(os.Stderr, "usage: admin db [-data ./data] [-db PATH] -run RUN agents|scores|rounds|tooltips")
		os.Exit(2)
	}
}

func exitOn(what string, err error) {
	if err != nil {
		fmt.Fprintln(os.Stderr, what+":", err)
		os.Exit(1)
	}
}
