package main

import (
	"fmt"
	"log"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"

	"turnforge.ai/internal/persistence/indexdb"
	"turnforge.ai/internal/runner"
	"turnforge.ai/internal/tuning"
)

type runtimeIndex interface {
	runner.Sink
	Close() error
}

type indexEnv struct {
	Backend   string `env:"TURNFORGE_INDEX_BACKEND" envDefault:"sqlite"`
	HTTPURL   string `env:"TURNFORGE_INDEX_HTTP_URL"`
	HTTPToken string `env:"TURNFORGE_INDEX_HTTP_TOKEN"`
	FlushMs   int    `env:"TURNFORGE_INDEX_HTTP_FLUSH_MS" envDefault:"500"`
	BatchSize int    `env:"TURNFORGE_INDEX_HTTP_BATCH_SIZE" envDefault:"128"`
}

// openRuntimeIndex picks the index backend from the environment. A nil index
// with a nil error means indexing is off.
func openRuntimeIndex(dataDir string, disable bool, tune tuning.Tuning, logger *log.Logger) (runtimeIndex, error) {
	if disable {
		return nil, nil
	}
	var cfg indexEnv
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("index env: %w", err)
	}

	switch strings.ToLower(strings.TrimSpace(cfg.Backend)) {
	case "none", "off", "disabled":
		return nil, nil
	case "", "sqlite":
		idx, err := indexdb.OpenSQLite(filepath.Join(dataDir, "index", "runs.sqlite"))
		if err != nil {
			return nil, err
		}
		if err := idx.UpsertTuning(tune); err != nil {
			logger.Printf("index: upsert tuning: %v", err)
		}
		return idx, nil
	case "http":
		endpoint := strings.TrimSpace(cfg.HTTPURL)
		if endpoint == "" {
			return nil, fmt.Errorf("TURNFORGE_INDEX_BACKEND=http but TURNFORGE_INDEX_HTTP_URL is empty")
		}
		idx, err := indexdb.OpenHTTP(indexdb.HTTPConfig{
			Endpoint:      endpoint,
			Token:         strings.TrimSpace(cfg.HTTPToken),
			BatchSize:     cfg.BatchSize,
			FlushInterval: time.Duration(cfg.FlushMs) * time.Millisecond,
			Logger:        logger,
		})
		if err != nil {
			return nil, err
		}
		return idx, nil
	default:
		return nil, fmt.Errorf("unknown TURNFORGE_INDEX_BACKEND=%q (want sqlite|http|none)", cfg.Backend)
	}
}
