// Package config loads the control-surface record the core accepts from
// environment variables, with an optional .env file.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"
)

// Config is the control-surface record the core accepts.
type Config struct {
	RepoPath         string // base directory for backtest/out/montecarlo/<run_name>
	RunName          string
	NPerCell         int     // default 200000
	Jobs             int     // default min(8, cores); 0 means "compute default"
	CheckpointEvery  int     // default 2000
	GlobalSeed       uint32  // default 1337
	FixedDelay       int     // -1 means "no filter"
	SlipMin          float64 // -1 means "no filter"
	SlipMax          float64 // -1 means "no filter"
	IncludeZeroSlip  bool
	StatusOnly       bool
	LogLevel         string
	SubprocessWorkers bool // dispatch cell chunks to "<self> worker" subprocesses

	// Optional ambient surfaces, never required for the core run to proceed.
	StatusServerAddr string // empty disables the status HTTP server
	ArchiveBucket    string // empty disables S3 archival on completion
	ArchiveEndpoint  string // optional S3-compatible endpoint override
	RegistryPath     string // sqlite run registry path; defaults under RepoPath
}

// Load reads configuration from environment variables, loading a .env file
// first if one exists in the working directory. Settings are resolved in
// order: .env, then env vars, then (for callers that parse flags) explicit
// overrides applied by the caller after Load returns.
func Load() (*Config, error) {
	_ = godotenv.Load()

	repoPath := getEnv("MC_REPO_PATH", "")
	if repoPath == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("failed to resolve working directory: %w", err)
		}
		repoPath = wd
	}
	absRepoPath, err := filepath.Abs(repoPath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve repo path: %w", err)
	}

	cfg := &Config{
		RepoPath:        absRepoPath,
		RunName:         getEnv("MC_RUN_NAME", "default"),
		NPerCell:        getEnvAsInt("MC_N_PER_CELL", 200000),
		Jobs:            getEnvAsInt("MC_JOBS", 0),
		CheckpointEvery: getEnvAsInt("MC_CHECKPOINT_EVERY", 2000),
		GlobalSeed:      uint32(getEnvAsInt("MC_GLOBAL_SEED", 1337)),
		FixedDelay:      getEnvAsInt("MC_FIXED_DELAY", -1),
		SlipMin:         getEnvAsFloat("MC_SLIP_MIN", -1),
		SlipMax:         getEnvAsFloat("MC_SLIP_MAX", -1),
		IncludeZeroSlip: getEnvAsBool("MC_INCLUDE_ZERO_SLIP", true),
		StatusOnly:      getEnvAsBool("MC_STATUS_ONLY", false),
		LogLevel:        getEnv("MC_LOG_LEVEL", "info"),
		SubprocessWorkers: getEnvAsBool("MC_SUBPROCESS_WORKERS", false),

		StatusServerAddr: getEnv("MC_STATUS_SERVER_ADDR", ""),
		ArchiveBucket:    getEnv("MC_ARCHIVE_BUCKET", ""),
		ArchiveEndpoint:  getEnv("MC_ARCHIVE_ENDPOINT", ""),
		RegistryPath:     getEnv("MC_REGISTRY_PATH", ""),
	}

	if cfg.RegistryPath == "" {
		cfg.RegistryPath = filepath.Join(cfg.RepoPath, "backtest", "out", "montecarlo", "runs.db")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks invariants that must hold before the grid scheduler starts.
func (c *Config) Validate() error {
	if c.RunName == "" {
		return fmt.Errorf("run name must not be empty")
	}
	if c.NPerCell <= 0 {
		return fmt.Errorf("n_per_cell must be positive, got %d", c.NPerCell)
	}
	if c.CheckpointEvery <= 0 {
		return fmt.Errorf("checkpoint_every must be positive, got %d", c.CheckpointEvery)
	}
	return nil
}

// RunDir returns backtest/out/montecarlo/<run_name> under RepoPath.
func (c *Config) RunDir() string {
	return filepath.Join(c.RepoPath, "backtest", "out", "montecarlo", c.RunName)
}

// AggregatedDir returns the scheduler-owned aggregated directory for this run.
func (c *Config) AggregatedDir() string {
	return filepath.Join(c.RunDir(), "aggregated")
}

// PerCellDir returns the cell-runner-owned directory for one cell.
func (c *Config) PerCellDir(cellID string) string {
	return filepath.Join(c.RunDir(), "per_cell", cellID)
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func getEnvAsFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return f
}

func getEnvAsBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}
