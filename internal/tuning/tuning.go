package tuning

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// Tuning holds the runner's operational limits. Values come from Defaults,
// then the YAML file, then TURNFORGE_* environment variables.
type Tuning struct {
	SettleMs         int `yaml:"settle_ms" env:"TURNFORGE_SETTLE_MS"`
	RefereeTimeoutMs int `yaml:"referee_timeout_ms" env:"TURNFORGE_REFEREE_TIMEOUT_MS"`

	PlayerMaxBytes            int `yaml:"player_max_bytes" env:"TURNFORGE_PLAYER_MAX_BYTES"`
	RefereeMaxBytes           int `yaml:"referee_max_bytes" env:"TURNFORGE_REFEREE_MAX_BYTES"`
	RefereeFirstRoundMaxBytes int `yaml:"referee_first_round_max_bytes" env:"TURNFORGE_REFEREE_FIRST_ROUND_MAX_BYTES"`
	// StdoutBufferBytes caps unread stdout per agent; a fuller pipe blocks the agent.
	StdoutBufferBytes int `yaml:"stdout_buffer_bytes" env:"TURNFORGE_STDOUT_BUFFER_BYTES"`

	Stderr Stderr `yaml:"stderr" envPrefix:"TURNFORGE_STDERR_"`

	PumpQueue  int `yaml:"pump_queue" env:"TURNFORGE_PUMP_QUEUE"`
	MaxPlayers int `yaml:"max_players" env:"TURNFORGE_MAX_PLAYERS"`
}

type Stderr struct {
	ChunkBytes        int `yaml:"chunk_bytes" env:"CHUNK_BYTES"`
	ReducedChunkBytes int `yaml:"reduced_chunk_bytes" env:"REDUCED_CHUNK_BYTES"`
	ThresholdBytes    int `yaml:"threshold_bytes" env:"THRESHOLD_BYTES"`
	// BufferBytes caps unread stderr per agent; the excess is discarded.
	BufferBytes int `yaml:"buffer_bytes" env:"BUFFER_BYTES"`
}

func Defaults() Tuning {
	return Tuning{
		SettleMs:                  100,
		RefereeTimeoutMs:          150_000,
		PlayerMaxBytes:            10_000,
		RefereeMaxBytes:           30_000,
		RefereeFirstRoundMaxBytes: 100_000,
		StdoutBufferBytes:         1 << 20,
		Stderr: Stderr{
			ChunkBytes:        4096,
			ReducedChunkBytes: 1024,
			ThresholdBytes:    4096 * 50,
			BufferBytes:       64 * 1024,
		},
		PumpQueue:  1024,
		MaxPlayers: 8,
	}
}

// Load starts from Defaults, applies the YAML file at path when it exists
// (an empty path skips the file) and then the environment.
func Load(path string) (Tuning, error) {
	t := Defaults()
	if path != "" {
		raw, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return t, err
		default:
			if err := yaml.Unmarshal(raw, &t); err != nil {
				return t, fmt.Errorf("tuning.yaml: %w", err)
			}
		}
	}
	if err := env.Parse(&t); err != nil {
		return t, fmt.Errorf("parse env: %w", err)
	}
	if err := t.Validate(); err != nil {
		return t, err
	}
	return t, nil
}

func (t Tuning) Validate() error {
	if t.SettleMs < 0 {
		return fmt.Errorf("tuning: settle_ms must be >= 0")
	}
	if t.RefereeTimeoutMs <= 0 {
		return fmt.Errorf("tuning: referee_timeout_ms must be > 0")
	}
	if t.PlayerMaxBytes <= 0 || t.RefereeMaxBytes <= 0 || t.RefereeFirstRoundMaxBytes <= 0 {
		return fmt.Errorf("tuning: byte budgets must be > 0")
	}
	if t.Stderr.ChunkBytes <= 0 || t.Stderr.ReducedChunkBytes <= 0 || t.Stderr.ThresholdBytes < 0 {
		return fmt.Errorf("tuning: invalid stderr limits")
	}
	if t.Stderr.BufferBytes < t.Stderr.ChunkBytes {
		return fmt.Errorf("tuning: stderr.buffer_bytes must be >= stderr.chunk_bytes")
	}
	if t.StdoutBufferBytes < t.RefereeFirstRoundMaxBytes || t.StdoutBufferBytes < t.RefereeMaxBytes || t.StdoutBufferBytes < t.PlayerMaxBytes {
		return fmt.Errorf("tuning: stdout_buffer_bytes must hold the largest output budget")
	}
	if t.PumpQueue <= 0 {
		return fmt.Errorf("tuning: pump_queue must be > 0")
	}
	if t.MaxPlayers <= 0 {
		return fmt.Errorf("tuning: max_players must be > 0")
	}
	return nil
}

func (t Tuning) Settle() time.Duration { return time.Duration(t.SettleMs) * time.Millisecond }

func (t Tuning) RefereeTimeout() time.Duration {
	return time.Duration(t.RefereeTimeoutMs) * time.Millisecond
}
