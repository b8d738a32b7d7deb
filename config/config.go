// Package config provides centralized configuration for neosqlite-go,
// loaded from environment variables (with .env support) plus an optional
// TOML file for the one config shape env vars fit poorly: the list of
// custom FTS5 tokenizers to register at connection open.
package config

import (
	"os"
	"strconv"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Config holds all process-wide configuration values.
type Config struct {
	DataDir       string // Directory for SQLite database files
	PrimaryDBPath string // Path to the primary database file

	MaxQueryDepth        int   // Maximum aggregation pipeline nesting depth
	MaxQueryLimit        int   // Maximum rows per query (0 = unlimited)
	DefaultLimit         int   // Default limit when find() doesn't specify one
	MemoryThresholdBytes int64 // Aggregation cursor quez activation threshold
	QuezBatchSize        int   // Producer->consumer batch size for quez mode

	ForceFallback bool // Read from NEOSQLITE_FORCE_FALLBACK; aggregate's kill switch does not read it (see aggregate.SetForceFallback)

	TokenizerConfigPath string // Optional TOML file of custom FTS5 tokenizers
	Tokenizers          []Tokenizer
}

// Tokenizer names a custom FTS5 tokenizer and the shared library it's
// loaded from, per spec.md §4.9/§9 ("Custom FTS tokenizers").
type Tokenizer struct {
	Name string `toml:"name"`
	Path string `toml:"path"`
}

type tokenizerFile struct {
	Tokenizers []Tokenizer `toml:"tokenizer"`
}

// Cfg is the global configuration instance, loaded at package init the
// way atomicbase's api/config.Cfg is.
var Cfg Config

func init() {
	Cfg = Load()
}

// Load reads configuration from environment variables (and .env, if
// present) with sensible defaults, matching atomicbase's config.Load().
func Load() Config {
	godotenv.Load()

	cfg := Config{
		DataDir:       getEnv("NEOSQLITE_DATA_DIR", "neosqlite-data"),
		PrimaryDBPath: getEnv("NEOSQLITE_DB_PATH", "neosqlite-data/primary.db"),

		MaxQueryDepth:        getEnvInt("NEOSQLITE_MAX_QUERY_DEPTH", 8),
		MaxQueryLimit:        getEnvInt("NEOSQLITE_MAX_QUERY_LIMIT", 10_000),
		DefaultLimit:         getEnvInt("NEOSQLITE_DEFAULT_LIMIT", 1_000),
		MemoryThresholdBytes: int64(getEnvInt("NEOSQLITE_MEMORY_THRESHOLD_BYTES", 100*1024*1024)),
		QuezBatchSize:        getEnvInt("NEOSQLITE_QUEZ_BATCH_SIZE", 1000),

		ForceFallback: getEnvBool("NEOSQLITE_FORCE_FALLBACK", false),

		TokenizerConfigPath: os.Getenv("NEOSQLITE_TOKENIZER_CONFIG"),
	}

	if cfg.TokenizerConfigPath != "" {
		if toks, err := loadTokenizers(cfg.TokenizerConfigPath); err == nil {
			cfg.Tokenizers = toks
		}
	}

	return cfg
}

func loadTokenizers(path string) ([]Tokenizer, error) {
	var tf tokenizerFile
	if _, err := toml.DecodeFile(path, &tf); err != nil {
		return nil, err
	}
	return tf.Tokenizers, nil
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			return n
		}
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return defaultVal
}
