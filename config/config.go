package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	apperrors "github.com/Skryldev/sketch/errors"
)

// EnvPrefix prefixes every environment override.  "__" separates nesting
// levels, e.g. SKETCH_DOWNLOAD_CACHE__DIR sets DownloadCache.Dir.
const EnvPrefix = "SKETCH_"

// CacheBackend selects the disk cache adapter.
type CacheBackend string

const (
	CacheLocal  CacheBackend = "local"
	CacheSQLite CacheBackend = "sqlite"
	CacheNone   CacheBackend = "none"
)

// Config is the top-level configuration struct.  All fields have safe defaults
// so callers can start with Default() and override only what they need.
type Config struct {
	// Dispatch bounds.
	NetworkParallelism int `koanf:"network_parallelism"` // default: 10
	DecodeParallelism  int `koanf:"decode_parallelism"`  // default: 4

	MemoryCache   MemoryCacheConfig `koanf:"memory_cache"`
	DownloadCache DiskCacheConfig   `koanf:"download_cache"`
	ResultCache   DiskCacheConfig   `koanf:"result_cache"`

	HTTP HTTPConfig `koanf:"http"`

	// JPEG quality for result-cache entries; 0 stores PNG.
	ResultCacheQuality int `koanf:"result_cache_quality"`

	// Logging.
	LogLevel  string `koanf:"log_level"`  // "debug", "info", "warn", "error"
	LogFormat string `koanf:"log_format"` // "json" or "console"
}

// MemoryCacheConfig configures the weighted LRU memory cache.
type MemoryCacheConfig struct {
	MaxSizeBytes int64 `koanf:"max_size_bytes"` // 0 disables the cache
}

// DiskCacheConfig configures one disk cache tier.
type DiskCacheConfig struct {
	Backend      CacheBackend `koanf:"backend"`
	Dir          string       `koanf:"dir"`
	MaxSizeBytes int64        `koanf:"max_size_bytes"`
	Permissions  uint32       `koanf:"permissions"` // local backend only; default 0644
}

// HTTPConfig configures the default HTTP stack.
type HTTPConfig struct {
	Timeout      time.Duration `koanf:"timeout"`
	UserAgent    string        `koanf:"user_agent"`
	MaxBodyBytes int64         `koanf:"max_body_bytes"` // 0 = no limit
	Tracing      bool          `koanf:"tracing"`
}

// Default returns a Config populated with sensible production defaults.
// Disk caches are off until a directory is configured.
func Default() Config {
	return Config{
		NetworkParallelism: 10,
		DecodeParallelism:  4,
		MemoryCache:        MemoryCacheConfig{MaxSizeBytes: 64 << 20},
		DownloadCache:      DiskCacheConfig{Backend: CacheNone, MaxSizeBytes: 256 << 20, Permissions: 0o644},
		ResultCache:        DiskCacheConfig{Backend: CacheNone, MaxSizeBytes: 128 << 20, Permissions: 0o644},
		HTTP: HTTPConfig{
			Timeout:      30 * time.Second,
			UserAgent:    "sketch/1.0",
			MaxBodyBytes: 64 << 20,
		},
		LogLevel:  "info",
		LogFormat: "console",
	}
}

// Validate returns an error if the configuration is inconsistent.
func Validate(c Config) error {
	if c.NetworkParallelism <= 0 {
		return errors.New("config: NetworkParallelism must be positive")
	}
	if c.DecodeParallelism <= 0 {
		return errors.New("config: DecodeParallelism must be positive")
	}
	if c.MemoryCache.MaxSizeBytes < 0 {
		return errors.New("config: MemoryCache.MaxSizeBytes must not be negative")
	}
	if c.ResultCacheQuality < 0 || c.ResultCacheQuality > 100 {
		return errors.New("config: ResultCacheQuality must be between 0 and 100")
	}
	if c.HTTP.MaxBodyBytes < 0 {
		return errors.New("config: HTTP.MaxBodyBytes must not be negative")
	}
	for name, dc := range map[string]DiskCacheConfig{"DownloadCache": c.DownloadCache, "ResultCache": c.ResultCache} {
		switch dc.Backend {
		case CacheNone, "":
		case CacheLocal, CacheSQLite:
			if dc.Dir == "" {
				return fmt.Errorf("config: %s.Dir is required for backend %q", name, dc.Backend)
			}
		default:
			return fmt.Errorf("config: %s.Backend %q is not one of local, sqlite, none", name, dc.Backend)
		}
	}
	return nil
}

// Load reads path (YAML, optional: "" or a missing file is skipped), then
// applies SKETCH_* environment overrides on top of Default(), and validates.
func Load(path string) (Config, error) {
	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			// A missing file is fine; env vars may carry everything.
			if !errors.Is(err, os.ErrNotExist) {
				return Config{}, apperrors.Wrap(apperrors.CategoryConfig, "config.load.file", err)
			}
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		return strings.Replace(strings.ToLower(strings.TrimPrefix(s, EnvPrefix)), "__", ".", -1)
	}), nil); err != nil {
		return Config{}, apperrors.Wrap(apperrors.CategoryConfig, "config.load.env", err)
	}

	cfg := Default()
	if err := k.Unmarshal("", &cfg); err != nil {
		return Config{}, apperrors.Wrap(apperrors.CategoryConfig, "config.unmarshal", err)
	}
	if err := Validate(cfg); err != nil {
		return Config{}, apperrors.New(apperrors.CategoryConfig, "config.validate", err)
	}
	return cfg, nil
}
