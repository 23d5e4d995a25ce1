package store

import (
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"
)

// Resource profiles understood by buildBadgerOptions.
const (
	ProfileIngestHeavy = "Ingest-Heavy"
	ProfileSafeServing = "Safe-Serving"
	ProfileLowMem      = "Cloud-Run-LowMem"
)

// Config holds the configuration for the BadgerDB-backed blob store.
type Config struct {
	// DataDir is the directory where BadgerDB will store its data.
	DataDir string

	// InMemory enables in-memory mode (useful for testing).
	InMemory bool

	// BlockCacheSize is the size of the block cache in bytes.
	BlockCacheSize int64

	// IndexCacheSize is the size of the index cache in bytes.
	IndexCacheSize int64

	// Compression enables ZSTD block compression inside BadgerDB.
	// Payloads are always S2-compressed before they reach Badger.
	Compression bool

	// SyncWrites enables synchronous writes.
	SyncWrites bool

	// MemTableSize is the size of the memtable in bytes. Zero keeps Badger's default.
	MemTableSize int64

	// Profile specifies the resource profile (ProfileIngestHeavy, ProfileSafeServing, ProfileLowMem).
	Profile string

	// ReadOnly enables read-only mode.
	ReadOnly bool

	// BypassLockGuard allows bypassing the directory lock.
	BypassLockGuard bool
}

// Validate checks if the configuration is valid and returns an error if not.
func (c *Config) Validate() error {
	if c.DataDir == "" && !c.InMemory {
		return fmt.Errorf("DataDir must be specified when InMemory is false")
	}
	if c.BlockCacheSize <= 0 {
		return fmt.Errorf("BlockCacheSize must be positive, got %d", c.BlockCacheSize)
	}
	if c.IndexCacheSize <= 0 {
		return fmt.Errorf("IndexCacheSize must be positive, got %d", c.IndexCacheSize)
	}
	if c.MemTableSize < 0 {
		return fmt.Errorf("MemTableSize must be non-negative, got %d", c.MemTableSize)
	}
	switch c.Profile {
	case "", ProfileIngestHeavy, ProfileSafeServing, ProfileLowMem:
	default:
		return fmt.Errorf("unknown profile %q", c.Profile)
	}
	if c.InMemory && c.ReadOnly {
		return fmt.Errorf("ReadOnly cannot be combined with InMemory")
	}
	return nil
}

// DefaultConfig returns a configuration suited to a single-node blob store.
func DefaultConfig(dataDir string) *Config {
	return &Config{
		DataDir:        dataDir,
		BlockCacheSize: 256 << 20, // 256MB
		IndexCacheSize: 64 << 20,  // 64MB
		Compression:    false,     // payloads are already S2-compressed
		SyncWrites:     false,
		Profile:        ProfileSafeServing,
	}
}

// InMemoryConfig returns a configuration that never touches disk.
func InMemoryConfig() *Config {
	cfg := DefaultConfig("")
	cfg.InMemory = true
	return cfg
}

// buildBadgerOptions converts Config to badger.Options based on Profile.
func buildBadgerOptions(cfg *Config) badger.Options {
	opts := badger.DefaultOptions(filepath.Join(cfg.DataDir, "badger"))
	opts.Logger = badgerLogger{}

	if cfg.InMemory {
		opts = badger.DefaultOptions("")
		opts.InMemory = true
		opts.Logger = badgerLogger{}
		return opts
	}

	opts.BypassLockGuard = cfg.BypassLockGuard
	opts.ReadOnly = cfg.ReadOnly

	if cfg.Compression {
		opts.Compression = options.ZSTD
	} else {
		opts.Compression = options.None
	}

	switch cfg.Profile {
	case ProfileLowMem:
		opts.ValueLogFileSize = 32 << 20 // 32MB
		opts.NumCompactors = 2

	case ProfileSafeServing:
		// Badger v4 requires at least 2 compactors.
		opts.ValueLogFileSize = 64 << 20 // 64MB
		opts.NumCompactors = 2

	case ProfileIngestHeavy:
		fallthrough
	default:
		opts.ValueLogFileSize = 1 << 30 // 1GB
		opts.NumCompactors = 4
	}

	opts.BlockCacheSize = cfg.BlockCacheSize
	opts.IndexCacheSize = cfg.IndexCacheSize
	opts.SyncWrites = cfg.SyncWrites

	if cfg.MemTableSize > 0 {
		opts.MemTableSize = cfg.MemTableSize
	}

	return opts
}

// OpenBadgerDB opens a BadgerDB instance with the given configuration.
func OpenBadgerDB(cfg *Config) (*badger.DB, error) {
	return badger.Open(buildBadgerOptions(cfg))
}

// badgerLogger routes Badger's internal logging through slog.
// Info and debug chatter is demoted to debug level.
type badgerLogger struct{}

func (badgerLogger) Errorf(format string, args ...interface{}) {
	slog.Error(fmt.Sprintf(format, args...), "component", "badger")
}

func (badgerLogger) Warningf(format string, args ...interface{}) {
	slog.Warn(fmt.Sprintf(format, args...), "component", "badger")
}

func (badgerLogger) Infof(format string, args ...interface{}) {
	slog.Debug(fmt.Sprintf(format, args...), "component", "badger")
}

func (badgerLogger) Debugf(format string, args ...interface{}) {
	slog.Debug(fmt.Sprintf(format, args...), "component", "badger")
}
