// Package config handles runner configuration and environment loading.
package config

import (
	"bufio"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
)

// Snapshot store backends selected by SNAPSHOT_STORE.
const (
	StoreS3    = "s3"
	StoreGCS   = "gcs"
	StoreAzure = "azure"
)

// SnapshotStoreConfig holds the optional remote snapshot store. Bucket is
// the Azure container for the azure backend.
type SnapshotStoreConfig struct {
	Backend           string
	Bucket            string
	Prefix            string
	Endpoint          string
	Region            string // s3
	KeyID             string // s3
	Secret            string // s3
	CredentialsFile   string // gcs service account key
	AccountName       string // azure
	AccountKey        string // azure
	RequestsPerSecond float64 // 0 means unlimited
}

// Enabled reports whether a bucket is configured.
func (s SnapshotStoreConfig) Enabled() bool { return s.Bucket != "" }

// Config holds the locations and limits of an ETL checkout.
type Config struct {
	DataDir      string // built datasets (default "data")
	SnapshotsDir string // snapshot files and .dvc metadata (default "data/snapshots")
	DAGFile      string // root DAG file (default "dag/main.yml")
	StepsDir     string // step code and .meta.yml files (default "etl/steps")
	StateDB      string // SQLite run ledger (default "etl_state.sqlite")
	Workers      int    // concurrent steps per tier (default 4)
	LogLevel     string // debug, info, warn, error (default "info")

	SnapshotStore SnapshotStoreConfig

	// Warnings collects non-fatal warnings generated during config loading.
	// These are logged by the caller after the logger is initialised.
	Warnings []string
}

// SlogLevel maps the LogLevel string to an slog.Level.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// LoadFromEnv loads configuration from environment variables. Invalid
// numbers fall back to defaults and are reported in Warnings.
func LoadFromEnv() (*Config, error) {
	cfg := &Config{
		DataDir:      envDefault("ETL_DATA_DIR", "data"),
		SnapshotsDir: os.Getenv("ETL_SNAPSHOTS_DIR"),
		DAGFile:      envDefault("ETL_DAG_FILE", "dag/main.yml"),
		StepsDir:     envDefault("ETL_STEPS_DIR", "etl/steps"),
		StateDB:      envDefault("ETL_STATE_DB", "etl_state.sqlite"),
		Workers:      4,
		LogLevel:     envDefault("LOG_LEVEL", "info"),
	}
	if cfg.SnapshotsDir == "" {
		cfg.SnapshotsDir = cfg.DataDir + "/snapshots"
	}

	if v := os.Getenv("ETL_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Workers = n
		} else {
			cfg.Warnings = append(cfg.Warnings, fmt.Sprintf("ETL_WORKERS=%q is not a positive integer, using %d", v, cfg.Workers))
		}
	}
	store, err := loadSnapshotStore(cfg)
	if err != nil {
		return nil, err
	}
	cfg.SnapshotStore = store
	return cfg, nil
}

// loadSnapshotStore reads the SNAPSHOT_<BACKEND>_* variables of the backend
// named by SNAPSHOT_STORE (default s3).
func loadSnapshotStore(cfg *Config) (SnapshotStoreConfig, error) {
	s := SnapshotStoreConfig{Backend: strings.ToLower(envDefault("SNAPSHOT_STORE", StoreS3))}
	var prefix, bucketVar string
	switch s.Backend {
	case StoreS3:
		prefix, bucketVar = "SNAPSHOT_S3_", "SNAPSHOT_S3_BUCKET"
		s.Region = os.Getenv(prefix + "REGION")
		s.KeyID = os.Getenv(prefix + "KEY_ID")
		s.Secret = os.Getenv(prefix + "SECRET")
	case StoreGCS:
		prefix, bucketVar = "SNAPSHOT_GCS_", "SNAPSHOT_GCS_BUCKET"
		s.CredentialsFile = os.Getenv(prefix + "CREDENTIALS_FILE")
	case StoreAzure:
		prefix, bucketVar = "SNAPSHOT_AZURE_", "SNAPSHOT_AZURE_CONTAINER"
		s.AccountName = os.Getenv(prefix + "ACCOUNT")
		s.AccountKey = os.Getenv(prefix + "KEY")
	default:
		return s, fmt.Errorf("SNAPSHOT_STORE=%q: use %s, %s or %s", s.Backend, StoreS3, StoreGCS, StoreAzure)
	}
	s.Bucket = os.Getenv(bucketVar)
	s.Prefix = os.Getenv(prefix + "PREFIX")
	s.Endpoint = os.Getenv(prefix + "ENDPOINT")

	if v := os.Getenv(prefix + "RPS"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f >= 0 {
			s.RequestsPerSecond = f
		} else {
			cfg.Warnings = append(cfg.Warnings, fmt.Sprintf("%sRPS=%q is not a non-negative number, ignoring", prefix, v))
		}
	}

	configured := s.Endpoint != "" || s.KeyID != "" || s.Secret != "" || s.CredentialsFile != "" || s.AccountKey != ""
	if !s.Enabled() && configured {
		cfg.Warnings = append(cfg.Warnings, fmt.Sprintf("%s* settings are ignored without %s", prefix, bucketVar))
	}
	if (s.KeyID == "") != (s.Secret == "") {
		return s, fmt.Errorf("both SNAPSHOT_S3_KEY_ID and SNAPSHOT_S3_SECRET must be set together")
	}
	if s.Enabled() && s.Backend == StoreAzure && s.AccountName == "" && s.Endpoint == "" {
		return s, fmt.Errorf("SNAPSHOT_AZURE_ACCOUNT or SNAPSHOT_AZURE_ENDPOINT is required")
	}
	if s.AccountKey != "" && s.AccountName == "" {
		return s, fmt.Errorf("SNAPSHOT_AZURE_KEY requires SNAPSHOT_AZURE_ACCOUNT")
	}
	return s, nil
}

func envDefault(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

// LoadDotEnv reads a .env file and sets any variables not already in the environment.
// Lines must be in KEY=VALUE format. Comments (#) and blank lines are skipped.
func LoadDotEnv(path string) error {
	f, err := os.Open(path) //nolint:gosec // path is caller-controlled
	if err != nil {
		if os.IsNotExist(err) {
			return nil // .env not found is not an error
		}
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close() //nolint:errcheck

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimPrefix(line, "export ")
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		value = stripQuotes(strings.TrimSpace(value))
		// Environment variables take precedence.
		if _, set := os.LookupEnv(key); !set {
			if err := os.Setenv(key, value); err != nil {
				return fmt.Errorf("setenv %s: %w", key, err)
			}
		}
	}
	return scanner.Err()
}

// stripQuotes removes matching surrounding double or single quotes.
func stripQuotes(s string) string {
	if len(s) >= 2 {
		if (s[0] == '"' && s[len(s)-1] == '"') || (s[0] == '\'' && s[len(s)-1] == '\'') {
			return s[1 : len(s)-1]
		}
	}
	return s
}
