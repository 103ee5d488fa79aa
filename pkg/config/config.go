// Package config handles Kvasir configuration via environment variables and YAML files.
//
// Kvasir reads its configuration from three layers, lowest precedence first:
//
//  1. Built-in defaults (DefaultConfig)
//  2. An optional YAML file (LoadConfig)
//  3. Environment variables prefixed with KVASIR_ (LoadFromEnv)
//
// LoadFromEnvOrFile applies all three in that order, so an environment
// variable always wins over the file, which always wins over the default.
// That makes container deployments easy: bake a config file into the image
// and override single knobs per environment.
//
// Supported environment variables:
//
//	KVASIR_RATINGS_PATH              Path to the ratings CSV
//	KVASIR_ITEMS_PATH                Path to the item vectors CSV
//	KVASIR_NUM_PREDICTIONS          Recommendations per user (default 10)
//	KVASIR_PARTITIONS               Scoring worker partitions (default 20)
//	KVASIR_CLUSTER_K                Number of clusters, 0 = auto (default 10)
//	KVASIR_CLUSTER_MAX_ITERATIONS   K-means iteration cap (default 100)
//	KVASIR_CLUSTER_TOLERANCE        Centroid shift convergence bound (default 1e-4)
//	KVASIR_CLUSTER_INIT_METHOD      "kmeans++" or "random" (default "kmeans++")
//	KVASIR_CLUSTER_SEED             Clustering RNG seed (default 1)
//	KVASIR_STORE_ENABLED            Persist runs to BadgerDB (default false)
//	KVASIR_STORE_DATA_DIR           Badger data directory (default ./data/kvasir)
//	KVASIR_STORE_IN_MEMORY          Keep Badger in memory, no files (default false)
//	KVASIR_STORE_SYNC_WRITES        Sync Badger writes to disk (default false)
//	KVASIR_EVAL_K                   Cutoff for ranking metrics (default 10)
//	KVASIR_EVAL_RELEVANCE_THRESHOLD Rating at or above which an item is relevant (default 3.5)
//	KVASIR_EVAL_HOLDOUT_FRACTION    Share of ratings held out per user (default 0.2)
//	KVASIR_EVAL_SEED                Holdout split RNG seed (default 42)
//	KVASIR_MEMORY_LIMIT             Go runtime memory limit, e.g. "512m", "2g", 0 = off
//	KVASIR_GC_PERCENT               GOGC target percentage (default 100)
//	KVASIR_VERBOSE                  Chatty progress output (default false)
package config

import (
	"fmt"
	"os"
	"runtime/debug"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/orneryd/kvasir/pkg/eval"
	"github.com/orneryd/kvasir/pkg/kmeans"
	"github.com/orneryd/kvasir/pkg/recommend"
)

// Config holds all Kvasir settings.
type Config struct {
	Data     DataConfig     `yaml:"data"`
	Pipeline PipelineConfig `yaml:"pipeline"`
	Cluster  ClusterConfig  `yaml:"cluster"`
	Store    StoreConfig    `yaml:"store"`
	Eval     EvalConfig     `yaml:"eval"`
	Runtime  RuntimeConfig  `yaml:"runtime"`

	// Verbose enables progress output on stderr.
	Verbose bool `yaml:"verbose"`
}

// DataConfig locates the input files.
type DataConfig struct {
	// RatingsPath is the CSV of (user, item, rating) rows.
	RatingsPath string `yaml:"ratings_path"`
	// ItemsPath is the CSV of item content vectors.
	ItemsPath string `yaml:"items_path"`
}

// PipelineConfig controls the recommendation pipeline.
type PipelineConfig struct {
	// NumPredictions is the number of recommendations produced per user.
	NumPredictions int `yaml:"num_predictions"`
	// Partitions is the number of concurrent scoring workers.
	Partitions int `yaml:"partitions"`
}

// ClusterConfig controls catalog clustering.
type ClusterConfig struct {
	// K is the number of clusters. Zero selects a size-based heuristic.
	K int `yaml:"k"`
	// MaxIterations caps Lloyd iterations.
	MaxIterations int `yaml:"max_iterations"`
	// Tolerance is the centroid-shift convergence bound.
	Tolerance float64 `yaml:"tolerance"`
	// InitMethod is "kmeans++" or "random".
	InitMethod string `yaml:"init_method"`
	// Seed fixes the clustering RNG for reproducible runs.
	Seed int64 `yaml:"seed"`
}

// StoreConfig controls run persistence.
type StoreConfig struct {
	// Enabled turns on saving runs to BadgerDB.
	Enabled bool `yaml:"enabled"`
	// DataDir is where Badger keeps its files.
	DataDir string `yaml:"data_dir"`
	// InMemory keeps Badger entirely in memory. Nothing survives a restart.
	InMemory bool `yaml:"in_memory"`
	// SyncWrites syncs every write to disk. Slower, safer.
	SyncWrites bool `yaml:"sync_writes"`
}

// EvalConfig controls the evaluation harness.
type EvalConfig struct {
	// K is the ranking cutoff for Precision@K and HitRate.
	K int `yaml:"k"`
	// RelevanceThreshold is the rating at or above which a holdout item
	// counts as relevant.
	RelevanceThreshold float64 `yaml:"relevance_threshold"`
	// HoldoutFraction is the share of each user's ratings held out for
	// evaluation. Must be strictly between 0 and 1.
	HoldoutFraction float64 `yaml:"holdout_fraction"`
	// Seed fixes the holdout split RNG.
	Seed int64 `yaml:"seed"`
}

// RuntimeConfig tunes the Go runtime for large catalogs.
type RuntimeConfig struct {
	// MemoryLimitStr is a human-friendly soft memory limit ("512m", "2g").
	// "0" or "" disables the limit.
	MemoryLimitStr string `yaml:"memory_limit"`
	// MemoryLimit is MemoryLimitStr parsed to bytes. Derived, not set directly.
	MemoryLimit int64 `yaml:"-"`
	// GCPercent is the GOGC target. 100 is the Go default.
	GCPercent int `yaml:"gc_percent"`
}

// Apply applies the runtime settings to the Go runtime.
// Call early in main(), before heavy allocations.
func (r *RuntimeConfig) Apply() {
	if r.MemoryLimit > 0 {
		debug.SetMemoryLimit(r.MemoryLimit)
	}
	if r.GCPercent != 100 && r.GCPercent != 0 {
		debug.SetGCPercent(r.GCPercent)
	}
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() *Config {
	return &Config{
		Data: DataConfig{},
		Pipeline: PipelineConfig{
			NumPredictions: 10,
			Partitions:     20,
		},
		Cluster: ClusterConfig{
			K:             10,
			MaxIterations: 100,
			Tolerance:     1e-4,
			InitMethod:    "kmeans++",
			Seed:          1,
		},
		Store: StoreConfig{
			Enabled:    false,
			DataDir:    "./data/kvasir",
			InMemory:   false,
			SyncWrites: false,
		},
		Eval: EvalConfig{
			K:                  10,
			RelevanceThreshold: 3.5,
			HoldoutFraction:    0.2,
			Seed:               42,
		},
		Runtime: RuntimeConfig{
			MemoryLimitStr: "0",
			GCPercent:      100,
		},
		Verbose: false,
	}
}

// LoadFromEnv builds a Config from defaults plus KVASIR_ environment variables.
func LoadFromEnv() *Config {
	cfg := DefaultConfig()
	applyEnv(cfg)
	cfg.finalize()
	return cfg
}

// LoadConfig reads a YAML config file. Fields absent from the file keep
// their defaults.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	cfg.finalize()
	return cfg, nil
}

// LoadConfigOrDefault reads a YAML config file, falling back to defaults
// if the file is missing or malformed.
func LoadConfigOrDefault(path string) *Config {
	cfg, err := LoadConfig(path)
	if err != nil {
		return DefaultConfig()
	}
	return cfg
}

// LoadFromEnvOrFile layers defaults, then the YAML file at path (if any),
// then environment variables. Environment variables win.
func LoadFromEnvOrFile(path string) *Config {
	var cfg *Config
	if path != "" {
		cfg = LoadConfigOrDefault(path)
	} else {
		cfg = DefaultConfig()
	}
	applyEnv(cfg)
	cfg.finalize()
	return cfg
}

// applyEnv overlays KVASIR_ environment variables onto cfg. The current
// value of each field is the fallback, which is what gives env precedence
// over whatever was loaded before.
func applyEnv(cfg *Config) {
	cfg.Data.RatingsPath = getEnv("KVASIR_RATINGS_PATH", cfg.Data.RatingsPath)
	cfg.Data.ItemsPath = getEnv("KVASIR_ITEMS_PATH", cfg.Data.ItemsPath)

	cfg.Pipeline.NumPredictions = getEnvInt("KVASIR_NUM_PREDICTIONS", cfg.Pipeline.NumPredictions)
	cfg.Pipeline.Partitions = getEnvInt("KVASIR_PARTITIONS", cfg.Pipeline.Partitions)

	cfg.Cluster.K = getEnvInt("KVASIR_CLUSTER_K", cfg.Cluster.K)
	cfg.Cluster.MaxIterations = getEnvInt("KVASIR_CLUSTER_MAX_ITERATIONS", cfg.Cluster.MaxIterations)
	cfg.Cluster.Tolerance = getEnvFloat("KVASIR_CLUSTER_TOLERANCE", cfg.Cluster.Tolerance)
	cfg.Cluster.InitMethod = getEnv("KVASIR_CLUSTER_INIT_METHOD", cfg.Cluster.InitMethod)
	cfg.Cluster.Seed = getEnvInt64("KVASIR_CLUSTER_SEED", cfg.Cluster.Seed)

	cfg.Store.Enabled = getEnvBool("KVASIR_STORE_ENABLED", cfg.Store.Enabled)
	cfg.Store.DataDir = getEnv("KVASIR_STORE_DATA_DIR", cfg.Store.DataDir)
	cfg.Store.InMemory = getEnvBool("KVASIR_STORE_IN_MEMORY", cfg.Store.InMemory)
	cfg.Store.SyncWrites = getEnvBool("KVASIR_STORE_SYNC_WRITES", cfg.Store.SyncWrites)

	cfg.Eval.K = getEnvInt("KVASIR_EVAL_K", cfg.Eval.K)
	cfg.Eval.RelevanceThreshold = getEnvFloat("KVASIR_EVAL_RELEVANCE_THRESHOLD", cfg.Eval.RelevanceThreshold)
	cfg.Eval.HoldoutFraction = getEnvFloat("KVASIR_EVAL_HOLDOUT_FRACTION", cfg.Eval.HoldoutFraction)
	cfg.Eval.Seed = getEnvInt64("KVASIR_EVAL_SEED", cfg.Eval.Seed)

	cfg.Runtime.MemoryLimitStr = getEnv("KVASIR_MEMORY_LIMIT", cfg.Runtime.MemoryLimitStr)
	cfg.Runtime.GCPercent = getEnvInt("KVASIR_GC_PERCENT", cfg.Runtime.GCPercent)

	cfg.Verbose = getEnvBool("KVASIR_VERBOSE", cfg.Verbose)
}

// finalize recomputes derived fields after any load path.
func (c *Config) finalize() {
	c.Runtime.MemoryLimit = parseMemorySize(c.Runtime.MemoryLimitStr)
}

// Validate checks the configuration for values the pipeline would reject.
func (c *Config) Validate() error {
	if c.Pipeline.NumPredictions < 1 {
		return fmt.Errorf("pipeline.num_predictions must be at least 1, got %d", c.Pipeline.NumPredictions)
	}
	if c.Pipeline.Partitions < 0 {
		return fmt.Errorf("pipeline.partitions must not be negative, got %d", c.Pipeline.Partitions)
	}
	if c.Cluster.K < 0 {
		return fmt.Errorf("cluster.k must not be negative, got %d", c.Cluster.K)
	}
	if c.Cluster.MaxIterations < 1 {
		return fmt.Errorf("cluster.max_iterations must be at least 1, got %d", c.Cluster.MaxIterations)
	}
	if c.Cluster.Tolerance < 0 {
		return fmt.Errorf("cluster.tolerance must not be negative, got %g", c.Cluster.Tolerance)
	}
	switch c.Cluster.InitMethod {
	case "kmeans++", "random":
	default:
		return fmt.Errorf("cluster.init_method must be %q or %q, got %q", "kmeans++", "random", c.Cluster.InitMethod)
	}
	if c.Eval.K < 1 {
		return fmt.Errorf("eval.k must be at least 1, got %d", c.Eval.K)
	}
	if c.Eval.HoldoutFraction <= 0 || c.Eval.HoldoutFraction >= 1 {
		return fmt.Errorf("eval.holdout_fraction must be in (0, 1), got %g", c.Eval.HoldoutFraction)
	}
	if c.Store.Enabled && !c.Store.InMemory && c.Store.DataDir == "" {
		return fmt.Errorf("store.data_dir is required when the store is enabled")
	}
	return nil
}

// String returns a one-line summary suitable for logging.
func (c *Config) String() string {
	storeDesc := "off"
	if c.Store.Enabled {
		if c.Store.InMemory {
			storeDesc = "memory"
		} else {
			storeDesc = c.Store.DataDir
		}
	}
	return fmt.Sprintf("Config{Predictions: %d, K: %d, Partitions: %d, Store: %s, Verbose: %v}",
		c.Pipeline.NumPredictions, c.Cluster.K, c.Pipeline.Partitions, storeDesc, c.Verbose)
}

// ClusterConfig converts the cluster section into a kmeans.Config.
func (c *Config) ClusterConfig() kmeans.Config {
	return kmeans.Config{
		K:             c.Cluster.K,
		MaxIterations: c.Cluster.MaxIterations,
		Tolerance:     c.Cluster.Tolerance,
		InitMethod:    c.Cluster.InitMethod,
		Seed:          c.Cluster.Seed,
	}
}

// PipelineOptions converts the pipeline and cluster sections into
// recommend.Options.
func (c *Config) PipelineOptions() recommend.Options {
	return recommend.Options{
		NumPredictions: c.Pipeline.NumPredictions,
		K:              c.Cluster.K,
		Partitions:     c.Pipeline.Partitions,
	}
}

// EvalOptions converts the eval section into eval.Options.
func (c *Config) EvalOptions() eval.Options {
	return eval.Options{
		K:                  c.Eval.K,
		RelevanceThreshold: c.Eval.RelevanceThreshold,
	}
}

// ============================================================================
// Environment helpers
// ============================================================================

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvInt64(key string, defaultVal int64) int64 {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.ParseInt(val, 10, 64); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvFloat(key string, defaultVal float64) float64 {
	if val := os.Getenv(key); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	switch strings.ToLower(val) {
	case "true", "1", "yes", "on":
		return true
	case "false", "0", "no", "off":
		return false
	}
	return defaultVal
}

// parseMemorySize parses human-friendly memory sizes like "512m", "2g",
// "1024k" into bytes. Returns 0 for empty, "0", or unparseable input.
func parseMemorySize(s string) int64 {
	s = strings.TrimSpace(strings.ToUpper(s))
	if s == "" || s == "0" || s == "UNLIMITED" {
		return 0
	}

	s = strings.TrimSuffix(s, "B")

	var multiplier int64 = 1
	switch {
	case strings.HasSuffix(s, "K"):
		multiplier = 1024
		s = strings.TrimSuffix(s, "K")
	case strings.HasSuffix(s, "M"):
		multiplier = 1024 * 1024
		s = strings.TrimSuffix(s, "M")
	case strings.HasSuffix(s, "G"):
		multiplier = 1024 * 1024 * 1024
		s = strings.TrimSuffix(s, "G")
	case strings.HasSuffix(s, "T"):
		multiplier = 1024 * 1024 * 1024 * 1024
		s = strings.TrimSuffix(s, "T")
	}

	val, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0
	}
	return val * multiplier
}

// FormatMemorySize formats bytes as a human-readable string.
func FormatMemorySize(bytes int64) string {
	const (
		KB = 1024
		MB = KB * 1024
		GB = MB * 1024
		TB = GB * 1024
	)

	switch {
	case bytes >= TB:
		return fmt.Sprintf("%.2f TB", float64(bytes)/float64(TB))
	case bytes >= GB:
		return fmt.Sprintf("%.2f GB", float64(bytes)/float64(GB))
	case bytes >= MB:
		return fmt.Sprintf("%.2f MB", float64(bytes)/float64(MB))
	case bytes >= KB:
		return fmt.Sprintf("%.2f KB", float64(bytes)/float64(KB))
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}
