package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"

	persistlog "turnforge.ai/internal/persistence/log"
	"turnforge.ai/internal/persistence/mirror"
	"turnforge.ai/internal/result"
	"turnforge.ai/internal/runner"
	"turnforge.ai/internal/transport/observer"
	"turnforge.ai/internal/tuning"
)

func main() {
	var (
		players listFlag
		names   listFlag
		params  listFlag

		refereeSpec = flag.String("referee", "builtin:duel", "referee: builtin:duel, builtin:solo or a command line")
		testCase    = flag.String("testcase", "", "solo test case file; its lines replace the game parameters in INIT")
		tuningPath  = flag.String("tuning", "./configs/tuning.yaml", "path to tuning.yaml")
		envFile     = flag.String("env_file", ".env", "dotenv file loaded before reading TURNFORGE_* (skipped when missing)")
		dataDir     = flag.String("data", "./data", "runtime data directory")
		outPath     = flag.String("out", "", "result file (default: <data>/results/<run>.json.zst)")
		noJournal   = flag.Bool("no_journal", false, "do not write the per-round journal")
		disableDB   = flag.Bool("disable_db", false, "disable run indexing")
		observeAddr = flag.String("observe", "", "observer http listen address, e.g. 127.0.0.1:8081 (empty to disable)")
		linger      = flag.Duration("linger", 0, "keep the observer up this long after the game ends")
		runID       = flag.String("run_id", "", "run id (default: random uuid)")
	)
	flag.Var(&players, "player", "player: builtin:bot, builtin:idle or a command line (repeatable)")
	flag.Var(&names, "name", "nickname of the player at the same position (repeatable)")
	flag.Var(&params, "param", "game parameter key=value sent to the referee (repeatable)")
	flag.Parse()

	logger := log.New(os.Stderr, "[runner] ", log.LstdFlags|log.Lmicroseconds)

	if err := loadEnvFile(*envFile); err != nil {
		logger.Fatalf("env file: %v", err)
	}
	tune, err := tuning.Load(*tuningPath)
	if err != nil {
		logger.Fatalf("load tuning: %v", err)
	}

	ref, err := refereeFactory(*refereeSpec)
	if err != nil {
		logger.Fatalf("referee: %v", err)
	}
	if len(players) == 0 {
		players = listFlag{"builtin:bot", "builtin:bot"}
		if *testCase != "" {
			players = listFlag{"builtin:bot"}
		}
	}
	specs, err := buildPlayers(players, names)
	if err != nil {
		logger.Fatalf("players: %v", err)
	}
	gameParams, err := parseParams(params)
	if err != nil {
		logger.Fatalf("%v", err)
	}

	var testLines []string
	if *testCase != "" {
		if testLines, err = readTestCase(*testCase); err != nil {
			logger.Fatalf("%v", err)
		}
	}

	id := strings.TrimSpace(*runID)
	if id == "" {
		id = uuid.NewString()
	}
	cfg := runner.Config{
		Referee:  ref,
		Players:  specs,
		Params:   gameParams,
		TestCase: testLines,
		Tuning:   tune,
		Logger:   logger,
		RunID:    id,
	}

	var journal *persistlog.RoundJournal
	if !*noJournal {
		journal = persistlog.NewRoundJournal(filepath.Join(*dataDir, "journal"), id)
		cfg.Sinks = append(cfg.Sinks, journal)
	}

	index, err := openRuntimeIndex(*dataDir, *disableDB, tune, logger)
	if err != nil {
		logger.Fatalf("open index: %v", err)
	}
	if index != nil {
		cfg.Sinks = append(cfg.Sinks, index)
	}

	mirrorCfg, err := mirror.ConfigFromEnv()
	if err != nil {
		logger.Fatalf("%v", err)
	}
	artifacts, err := mirror.Open(mirrorCfg, logger)
	if err != nil {
		logger.Fatalf("artifact mirror: %v", err)
	}

	var obsSrv *http.Server
	if addr := strings.TrimSpace(*observeAddr); addr != "" {
		obs := observer.NewServer(id, cfg.Agents(), log.New(os.Stderr, "[observer] ", log.LstdFlags|log.Lmicroseconds))
		cfg.Sinks = append(cfg.Sinks, obs)
		ln, err := net.Listen("tcp", addr)
		if err != nil {
			logger.Fatalf("observer listen: %v", err)
		}
		obsSrv = &http.Server{Handler: obs.Handler(), ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := obsSrv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Printf("observer serve: %v", err)
			}
		}()
		logger.Printf("observer listening on http://%s/observer/ws", ln.Addr())
	}

	r, err := runner.New(cfg)
	if err != nil {
		logger.Fatalf("runner: %v", err)
	}

	ctx, cancel := signalContext()
	defer cancel()

	res, runErr := r.Run(ctx)
	if res == nil {
		logger.Fatalf("run: %v", runErr)
	}
	if runErr != nil {
		logger.Printf("run: %v", runErr)
	}

	path := strings.TrimSpace(*outPath)
	if path == "" {
		path = filepath.Join(*dataDir, "results", id+".json.zst")
	}
	if err := result.WriteFile(path, res); err != nil {
		logger.Fatalf("write result: %v", err)
	}
	logger.Printf("result written: %s", path)

	if index != nil {
		closeLogged(logger, "index", index)
	}
	uploads := []string{path}
	// A journal that failed to close may be truncated; keep it local only.
	if journal != nil && closeLogged(logger, "journal", journal) {
		uploads = append(uploads, journal.Path())
	}
	artifacts.EnqueueRun(id, uploads...)

	printSummary(res)

	if obsSrv != nil {
		if *linger > 0 && ctx.Err() == nil {
			logger.Printf("observer lingering for %s", *linger)
			select {
			case <-time.After(*linger):
			case <-ctx.Done():
			}
		}
		shutdownCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
		_ = obsSrv.Shutdown(shutdownCtx)
		stop()
	}
	artifacts.Close()

	if res.FailCause != "" || runErr != nil {
		os.Exit(1)
	}
}

// closeLogged closes c and logs a failure. It reports whether c closed cleanly.
func closeLogged(logger *log.Logger, what string, c io.Closer) bool {
	if err := c.Close(); err != nil {
		logger.Printf("close %s: %v", what, err)
		return false
	}
	return true
}

func loadEnvFile(path string) error {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return godotenv.Load(path)
}

func printSummary(res *result.GameResult) {
	fmt.Printf("run %s rounds=%d\n", res.RunID, len(res.Views))
	for _, a := range res.Agents {
		fmt.Printf("  %d %-16s score=%d\n", a.Index, a.Name, res.Scores[a.Index])
	}
	if res.FailCause != "" {
		fmt.Printf("  failed %s: %s\n", res.FailCode, res.FailCause)
	}
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ch
		cancel()
	}()
	return ctx, cancel
}
