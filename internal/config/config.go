// Package config resolves the daemon's CLI flags and environment variables,
// in the precedence order CLI flag > env var > .env file > built-in default,
// following the teacher's envOr/envRequired + godotenv.Load() style.
package config

import (
	"flag"
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Config is the fully-resolved process configuration (spec.md §6).
type Config struct {
	LogFile     bool
	LogLevel    string
	LogPath     string
	LogMaxSizeMB int

	MetricsEnabled bool
	MetricsAddress string

	MonitorPath string // --monitor-path: directory holding monitors/networks/triggers json

	// One-shot evaluation mode: --network + --block evaluates a single
	// block against configured monitors and exits instead of watching.
	Network string
	Block   *uint64

	// --check: validate all configuration and exit 0/1 without watching.
	Check bool

	InDocker bool
}

// Load parses flags and environment (after loading .env, if present) into a
// Config. CLI flags win over environment, which wins over .env, which wins
// over built-in defaults.
func Load(args []string) (Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		fmt.Fprintf(os.Stderr, "warning: could not load .env: %v\n", err)
	}

	fs := flag.NewFlagSet("chainwatch", flag.ContinueOnError)

	logFile := fs.Bool("log-file", envBool("LOG_MODE", false), "write logs to a rotating file in addition to stdout")
	logLevel := fs.String("log-level", envOr("LOG_LEVEL", envOr("RUST_LOG", "info")), "log level: debug|info|warn|error")
	logPath := fs.String("log-path", envOr("LOG_DATA_DIR", "logs/chainwatch.log"), "log file path, used when --log-file is set")
	logMaxSize := fs.Int("log-max-size", envInt("LOG_MAX_SIZE", 50), "max log file size in MB before rotation")

	metricsHost := "127.0.0.1"
	if envBool("IN_DOCKER", false) {
		metricsHost = "0.0.0.0"
	}
	metrics := fs.Bool("metrics", envBool("METRICS_ENABLED", false), "expose a metrics HTTP endpoint (/healthz and a JSON /metrics snapshot)")
	metricsAddress := fs.String("metrics-address", fmt.Sprintf("%s:%s", metricsHost, envOr("METRICS_PORT", "8081")), "metrics listen address")

	monitorPath := fs.String("monitor-path", envOr("MONITOR_PATH", "config"), "directory containing monitors/, networks/, triggers/")

	network := fs.String("network", "", "one-shot mode: network slug to evaluate")
	blockStr := fs.String("block", "", "one-shot mode: block number to evaluate (requires --network)")

	check := fs.Bool("check", false, "validate configuration and exit")

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	cfg := Config{
		LogFile:        *logFile,
		LogLevel:       *logLevel,
		LogPath:        *logPath,
		LogMaxSizeMB:   *logMaxSize,
		MetricsEnabled: *metrics,
		MetricsAddress: *metricsAddress,
		MonitorPath:    *monitorPath,
		Network:        *network,
		Check:          *check,
		InDocker:       envBool("IN_DOCKER", false),
	}

	if *blockStr != "" {
		n, err := strconv.ParseUint(*blockStr, 10, 64)
		if err != nil {
			return Config{}, fmt.Errorf("--block: invalid block number %q: %w", *blockStr, err)
		}
		cfg.Block = &n
	}

	if cfg.Block != nil && cfg.Network == "" {
		return Config{}, fmt.Errorf("--block requires --network")
	}

	return cfg, nil
}

func envOr(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func envInt(key string, fallback int) int {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}
