// Package config loads Arbor's repository and client configuration.
//
// Configuration is loaded from ARBOR_*-prefixed environment variables via
// LoadFromEnv, mirroring the corpus convention of environment-variable-first
// configuration. A per-repository `db/format.yaml` overlay (see Overlay,
// LoadOverlay) is loaded separately and is not merged into Config; it is
// optional — every field has a working default so a freshly initialized
// repository needs no file at all.
//
// Example:
//
//	cfg := config.LoadFromEnv()
//	if err := cfg.Validate(); err != nil {
//		log.Fatalf("invalid config: %v", err)
//	}
//	overlay, err := config.LoadOverlay(filepath.Join(cfg.Database.DataDir, "db", "format.yaml"))
//	if err != nil {
//		log.Fatalf("invalid overlay: %v", err)
//	}
//	log.Printf("max_dir_entries=%d", overlay.MaxDirEntries)
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all Arbor configuration loaded from environment variables.
type Config struct {
	// Database holds on-disk layout and transaction settings.
	Database DatabaseConfig
	// WorkingCopy holds client-side working-copy driver settings.
	WorkingCopy WorkingCopyConfig
	// Logging controls diagnostic output verbosity.
	Logging LoggingConfig
}

// DatabaseConfig holds repository storage settings.
type DatabaseConfig struct {
	// DataDir is the repository root (contains db/).
	DataDir string
	// ReadOnly is loaded from ARBOR_READ_ONLY. No other package reads it;
	// pkg/fs handles always take the write lock when committing.
	ReadOnly bool
	// CommitTimeout is loaded from ARBOR_COMMIT_TIMEOUT and checked by
	// Validate. pkg/fs does not read it: a commit waits for the write lock
	// without a time limit.
	CommitTimeout time.Duration
	// InMemory is loaded from ARBOR_IN_MEMORY. cmd/arbor does not read it
	// and always opens a Badger node store on disk.
	InMemory bool
}

// WorkingCopyConfig holds client-side settings for the reporter driver.
type WorkingCopyConfig struct {
	// AdminDirName is the administrative subdirectory name (".arbor").
	// pkg/wc does not read it and always uses ".arbor".
	AdminDirName string
	// CredentialCacheDir holds cached repository credentials.
	CredentialCacheDir string
}

// LoggingConfig controls diagnostic logging verbosity.
type LoggingConfig struct {
	// Verbose enables per-operation diagnostic logging.
	Verbose bool
}

// DefaultConfig returns the configuration a freshly initialized repository
// uses when no environment variables or overlay file are present.
func DefaultConfig() *Config {
	return &Config{
		Database: DatabaseConfig{
			DataDir:       "./data",
			ReadOnly:      false,
			CommitTimeout: 30 * time.Second,
			InMemory:      false,
		},
		WorkingCopy: WorkingCopyConfig{
			AdminDirName:       ".arbor",
			CredentialCacheDir: "",
		},
		Logging: LoggingConfig{
			Verbose: false,
		},
	}
}

// LoadFromEnv builds a Config from ARBOR_*-prefixed environment variables,
// falling back to DefaultConfig's values for anything unset.
func LoadFromEnv() *Config {
	c := DefaultConfig()

	c.Database.DataDir = getEnv("ARBOR_DATA_DIR", c.Database.DataDir)
	c.Database.ReadOnly = getEnvBool("ARBOR_READ_ONLY", c.Database.ReadOnly)
	c.Database.CommitTimeout = getEnvDuration("ARBOR_COMMIT_TIMEOUT", c.Database.CommitTimeout)
	c.Database.InMemory = getEnvBool("ARBOR_IN_MEMORY", c.Database.InMemory)

	c.WorkingCopy.AdminDirName = getEnv("ARBOR_ADMIN_DIR", c.WorkingCopy.AdminDirName)
	c.WorkingCopy.CredentialCacheDir = getEnv("ARBOR_CREDENTIAL_CACHE_DIR", c.WorkingCopy.CredentialCacheDir)

	c.Logging.Verbose = getEnvBool("ARBOR_VERBOSE", c.Logging.Verbose)

	return c
}

// Validate checks the configuration for internal consistency.
func (c *Config) Validate() error {
	if c.Database.DataDir == "" {
		return fmt.Errorf("config: database.data_dir must not be empty")
	}
	if c.Database.CommitTimeout < 0 {
		return fmt.Errorf("config: database.commit_timeout must not be negative")
	}
	if c.WorkingCopy.AdminDirName == "" {
		return fmt.Errorf("config: working_copy.admin_dir_name must not be empty")
	}
	return nil
}

func getEnv(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultVal
	}
	return b
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}
