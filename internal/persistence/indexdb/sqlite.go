package indexdb

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"turnforge.ai/internal/result"
	"turnforge.ai/internal/tuning"
)

// SQLiteIndex is a queryable secondary index of finished runs and their
// rounds. Writes are queued to a single writer goroutine and dropped when the
// queue is full; the result file and the journal remain the source of truth.
type SQLiteIndex struct {
	db *sql.DB

	ch   chan req
	wg   sync.WaitGroup
	once sync.Once

	closed atomic.Bool

	dropRound atomic.Uint64
	dropRun   atomic.Uint64
}

type reqKind int

const (
	reqRound reqKind = iota + 1
	reqRun
)

type req struct {
	kind reqKind

	round result.Round
	run   *result.GameResult
}

// Stats reports queue health.
type Stats struct {
	DropRoundTotal uint64
	DropRunTotal   uint64
	QueueDepth     int
	QueueCapacity  int
}

func OpenSQLite(path string) (*SQLiteIndex, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &SQLiteIndex{
		db: db,
		ch: make(chan req, 8192),
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
	return s, nil
}

func initPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA foreign_keys=ON;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS configs (
			name TEXT PRIMARY KEY,
			digest TEXT NOT NULL,
			json TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS runs (
			run_id TEXT PRIMARY KEY,
			started_at TEXT NOT NULL,
			finished_at TEXT NOT NULL,
			players INTEGER NOT NULL,
			rounds INTEGER NOT NULL,
			params_json TEXT NOT NULL,
			metadata TEXT,
			fail_cause TEXT,
			fail_code TEXT
		);`,
		`CREATE INDEX IF NOT EXISTS idx_runs_finished ON runs(finished_at);`,
		`CREATE TABLE IF NOT EXISTS agents (
			run_id TEXT NOT NULL,
			idx INTEGER NOT NULL,
			name TEXT NOT NULL,
			avatar TEXT NOT NULL,
			PRIMARY KEY (run_id, idx)
		);`,
		`CREATE TABLE IF NOT EXISTS scores (
			run_id TEXT NOT NULL,
			idx INTEGER NOT NULL,
			score INTEGER NOT NULL,
			PRIMARY KEY (run_id, idx)
		);`,
		`CREATE TABLE IF NOT EXISTS rounds (
			run_id TEXT NOT NULL,
			round INTEGER NOT NULL,
			valid INTEGER NOT NULL,
			player INTEGER NOT NULL,
			timed_out INTEGER NOT NULL,
			terminal INTEGER NOT NULL,
			summary TEXT,
			raw_json TEXT NOT NULL,
			PRIMARY KEY (run_id, round)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_rounds_player ON rounds(run_id, player);`,
		`CREATE TABLE IF NOT EXISTS tooltips (
			run_id TEXT NOT NULL,
			seq INTEGER NOT NULL,
			turn INTEGER NOT NULL,
			player INTEGER NOT NULL,
			text TEXT NOT NULL,
			PRIMARY KEY (run_id, seq)
		);`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteIndex) Close() error {
	var err error
	s.once.Do(func() {
		s.closed.Store(true)
		close(s.ch)
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}

func (s *SQLiteIndex) Stats() Stats {
	if s == nil {
		return Stats{}
	}
	return Stats{
		DropRoundTotal: s.dropRound.Load(),
		DropRunTotal:   s.dropRun.Load(),
		QueueDepth:     len(s.ch),
		QueueCapacity:  cap(s.ch),
	}
}

func (s *SQLiteIndex) WriteRound(r result.Round) error {
	if s == nil || s.closed.Load() {
		return nil
	}
	select {
	case s.ch <- req{kind: reqRound, round: r}:
	default:
		s.dropRound.Add(1)
	}
	return nil
}

// Finish indexes the run row with its agents, scores and tooltips.
func (s *SQLiteIndex) Finish(res *result.GameResult) error {
	if s == nil || s.closed.Load() || res == nil {
		return nil
	}
	select {
	case s.ch <- req{kind: reqRun, run: res}:
	default:
		s.dropRun.Add(1)
	}
	return nil
}

// UpsertTuning stores the tuning actually applied, keyed by its digest.
func (s *SQLiteIndex) UpsertTuning(t tuning.Tuning) error {
	if s == nil {
		return nil
	}
	b, err := json.Marshal(t)
	if err != nil {
		return err
	}
	sum := sha256.Sum256(b)
	now := time.Now().UTC().Format(time.RFC3339Nano)

	tx, err := s.db.BeginTx(context.Background(), nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`INSERT OR REPLACE INTO meta(key,value) VALUES('schema_version','1')`); err != nil {
		return err
	}
	if _, err := tx.Exec(`INSERT OR REPLACE INTO configs(name,digest,json,updated_at) VALUES(?,?,?,?)`,
		"tuning", hex.EncodeToString(sum[:]), string(b), now); err != nil {
		return err
	}
	return tx.Commit()
}

// RunRow is one indexed run.
type RunRow struct {
	RunID      string
	FinishedAt string
	Players    int
	Rounds     int
	FailCode   string
}

// Runs lists indexed runs, most recent first.
func (s *SQLiteIndex) Runs(ctx context.Context, limit int) ([]RunRow, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `SELECT run_id, finished_at, players, rounds, COALESCE(fail_code,'') FROM runs ORDER BY finished_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []RunRow
	for rows.Next() {
		var r RunRow
		if err := rows.Scan(&r.RunID, &r.FinishedAt, &r.Players, &r.Rounds, &r.FailCode); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// TimeoutCount returns how many rounds of runID ended without an answer from
// player.
func (s *SQLiteIndex) TimeoutCount(ctx context.Context, runID string, player int) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM rounds WHERE run_id=? AND player=? AND timed_out=1`, runID, player).Scan(&n)
	return n, err
}

func (s *SQLiteIndex) loop() {
	ctx := context.Background()

	insertRound, _ := s.db.Prepare(`INSERT OR REPLACE INTO rounds(run_id,round,valid,player,timed_out,terminal,summary,raw_json) VALUES(?,?,?,?,?,?,?,?)`)
	insertRun, _ := s.db.Prepare(`INSERT OR REPLACE INTO runs(run_id,started_at,finished_at,players,rounds,params_json,metadata,fail_cause,fail_code) VALUES(?,?,?,?,?,?,?,?,?)`)
	insertAgent, _ := s.db.Prepare(`INSERT OR REPLACE INTO agents(run_id,idx,name,avatar) VALUES(?,?,?,?)`)
	insertScore, _ := s.db.Prepare(`INSERT OR REPLACE INTO scores(run_id,idx,score) VALUES(?,?,?)`)
	insertTooltip, _ := s.db.Prepare(`INSERT OR REPLACE INTO tooltips(run_id,seq,turn,player,text) VALUES(?,?,?,?,?)`)
	defer func() {
		for _, st := range []*sql.Stmt{insertRound, insertRun, insertAgent, insertScore, insertTooltip} {
			if st != nil {
				_ = st.Close()
			}
		}
	}()

	var (
		tx            *sql.Tx
		opCount       int
		lastCommit    = time.Now()
		commitEvery   = 500
		commitMaxWait = 2 * time.Second
	)

	begin := func() {
		if tx != nil {
			return
		}
		txx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			time.Sleep(50 * time.Millisecond)
			return
		}
		tx = txx
		opCount = 0
		lastCommit = time.Now()
	}
	commit := func() {
		if tx == nil {
			return
		}
		_ = tx.Commit()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	rollback := func() {
		if tx == nil {
			return
		}
		_ = tx.Rollback()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	exec := func(st *sql.Stmt, args ...any) bool {
		if st == nil || tx == nil {
			return false
		}
		if _, err := tx.Stmt(st).Exec(args...); err != nil {
			rollback()
			return false
		}
		opCount++
		return true
	}

	for r := range s.ch {
		begin()
		if tx == nil {
			continue
		}
		switch r.kind {
		case reqRound:
			rd := r.round
			raw, _ := json.Marshal(rd)
			var summary any
			if rd.Summary != nil {
				summary = *rd.Summary
			}
			exec(insertRound, rd.RunID, rd.Index, boolInt(rd.Valid), rd.Player, boolInt(rd.TimedOut), boolInt(rd.Terminal), summary, string(raw))

		case reqRun:
			res := r.run
			params, _ := json.Marshal(res.GameParameters)
			if !exec(insertRun,
				res.RunID,
				res.StartedAt.Format(time.RFC3339Nano),
				res.FinishedAt.Format(time.RFC3339Nano),
				len(res.Agents),
				len(res.Views),
				string(params),
				res.Metadata,
				res.FailCause,
				res.FailCode,
			) {
				continue
			}
			for _, a := range res.Agents {
				if !exec(insertAgent, res.RunID, a.Index, a.Name, a.Avatar) {
					break
				}
			}
			for idx, score := range res.Scores {
				if !exec(insertScore, res.RunID, idx, score) {
					break
				}
			}
			for i, tt := range res.Tooltips {
				if !exec(insertTooltip, res.RunID, i, tt.Turn, tt.Event, tt.Text) {
					break
				}
			}
			// A finished run is committed right away so it can be queried.
			commit()
		}
		if tx != nil && (opCount >= commitEvery || time.Since(lastCommit) >= commitMaxWait) {
			commit()
		}
	}

	commit()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
