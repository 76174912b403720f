// Package config загружает YAML конфигурацию сервера.
package config

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/iudanet/pymirror/internal/models"
	"github.com/iudanet/pymirror/internal/pyversion"
	"github.com/iudanet/pymirror/internal/server/filter"
)

const minSecretLen = 32

// Config represents the complete server configuration
type Config struct {
	Server       ServerConfig       `yaml:"server"`
	Storage      StorageConfig      `yaml:"storage"`
	Log          LogConfig          `yaml:"log"`
	Remotes      []RemoteConfig     `yaml:"remotes"`
	Repositories []RepositoryConfig `yaml:"repositories"`
	Sync         SyncConfig         `yaml:"sync"`
	Upload       UploadConfig       `yaml:"upload"`
}

// ServerConfig configures the HTTP task API
type ServerConfig struct {
	ListenAddr string   `yaml:"listen_addr"`
	JWTSecret  string   `yaml:"jwt_secret"`
	TokenTTL   Duration `yaml:"token_ttl"`
	RateWindow Duration `yaml:"rate_window"`
	RateLimit  int      `yaml:"rate_limit"`
	Workers    int      `yaml:"workers"`
}

// StorageConfig configures the database and blob directory
type StorageConfig struct {
	DatabasePath string `yaml:"database_path"`
	BlobDir      string `yaml:"blob_dir"`
}

// SyncConfig configures remote fetching
type SyncConfig struct {
	DownloadConcurrency int      `yaml:"download_concurrency"`
	Retries             int      `yaml:"retries"`
	FetchTimeout        Duration `yaml:"fetch_timeout"`
	SyncTimeout         Duration `yaml:"sync_timeout"`
	Backoff             Duration `yaml:"backoff"`
}

// UploadConfig configures upload coalescing
type UploadConfig struct {
	Window    Duration `yaml:"window"`
	MaxSizeMB int64    `yaml:"max_size_mb"`
}

// LogConfig configures the logger
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// RemoteConfig describes one remote index
type RemoteConfig struct {
	ID            string        `yaml:"id"`
	URL           string        `yaml:"url"`
	Policy        string        `yaml:"policy"`
	Filters       FiltersConfig `yaml:"filters"`
	IncludeYanked bool          `yaml:"include_yanked"`
}

// FiltersConfig - фильтры remote. Includes и Excludes в виде "name>=1.0,<2.0".
type FiltersConfig struct {
	Includes         []string `yaml:"includes"`
	Excludes         []string `yaml:"excludes"`
	PackageTypes     []string `yaml:"package_types"`
	ExcludePlatforms []string `yaml:"exclude_platforms"`
	KeepLatest       int      `yaml:"keep_latest"`
	Prereleases      bool     `yaml:"prereleases"`
}

// RepositoryConfig describes one repository and its default remote
type RepositoryConfig struct {
	ID     string `yaml:"id"`
	Remote string `yaml:"remote"`
}

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	path = os.ExpandEnv(path)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.expandEnv()
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// expandEnv expands environment variables in string fields
func (c *Config) expandEnv() {
	c.Server.ListenAddr = os.ExpandEnv(c.Server.ListenAddr)
	c.Server.JWTSecret = os.ExpandEnv(c.Server.JWTSecret)
	c.Storage.DatabasePath = os.ExpandEnv(c.Storage.DatabasePath)
	c.Storage.BlobDir = os.ExpandEnv(c.Storage.BlobDir)
	for i := range c.Remotes {
		c.Remotes[i].URL = os.ExpandEnv(c.Remotes[i].URL)
	}
}

// applyDefaults fills in zero-value fields
func (c *Config) applyDefaults() {
	if c.Server.ListenAddr == "" {
		c.Server.ListenAddr = ":8080"
	}
	if c.Server.TokenTTL == 0 {
		c.Server.TokenTTL = Duration(24 * time.Hour)
	}
	if c.Server.RateLimit == 0 {
		c.Server.RateLimit = 100
	}
	if c.Server.RateWindow == 0 {
		c.Server.RateWindow = Duration(time.Minute)
	}
	if c.Server.Workers == 0 {
		c.Server.Workers = 4
	}
	if c.Sync.DownloadConcurrency == 0 {
		c.Sync.DownloadConcurrency = 8
	}
	if c.Sync.Retries == 0 {
		c.Sync.Retries = 3
	}
	if c.Sync.FetchTimeout == 0 {
		c.Sync.FetchTimeout = Duration(60 * time.Second)
	}
	if c.Sync.SyncTimeout == 0 {
		c.Sync.SyncTimeout = Duration(6 * time.Hour)
	}
	if c.Sync.Backoff == 0 {
		c.Sync.Backoff = Duration(500 * time.Millisecond)
	}
	if c.Upload.Window == 0 {
		c.Upload.Window = Duration(5 * time.Second)
	}
	if c.Upload.MaxSizeMB == 0 {
		c.Upload.MaxSizeMB = 512
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
	for i := range c.Remotes {
		if c.Remotes[i].Policy == "" {
			c.Remotes[i].Policy = string(models.PolicyImmediate)
		}
	}
}

// Validate checks the configuration for errors
func (c *Config) Validate() error {
	if len(c.Server.JWTSecret) < minSecretLen {
		return fmt.Errorf("server.jwt_secret must be at least %d characters", minSecretLen)
	}
	if c.Storage.DatabasePath == "" {
		return fmt.Errorf("storage.database_path is required")
	}
	if c.Storage.BlobDir == "" {
		return fmt.Errorf("storage.blob_dir is required")
	}
	if c.Sync.DownloadConcurrency < 0 || c.Sync.Retries < 0 || c.Server.Workers < 0 {
		return fmt.Errorf("sync.download_concurrency, sync.retries and server.workers must not be negative")
	}

	if _, err := parseLevel(c.Log.Level); err != nil {
		return err
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("invalid log.format: %s (must be text or json)", c.Log.Format)
	}

	remotes := make(map[string]bool, len(c.Remotes))
	for _, r := range c.Remotes {
		if r.ID == "" {
			return fmt.Errorf("remotes: id is required")
		}
		if remotes[r.ID] {
			return fmt.Errorf("remotes: duplicate id %s", r.ID)
		}
		remotes[r.ID] = true

		// URL проверяется при синхронизации, remote без URL допустим
		if _, err := r.Model(); err != nil {
			return fmt.Errorf("remote %s: %w", r.ID, err)
		}
	}

	repos := make(map[string]bool, len(c.Repositories))
	for _, r := range c.Repositories {
		if r.ID == "" {
			return fmt.Errorf("repositories: id is required")
		}
		if repos[r.ID] {
			return fmt.Errorf("repositories: duplicate id %s", r.ID)
		}
		repos[r.ID] = true

		if r.Remote != "" && !remotes[r.Remote] {
			return fmt.Errorf("repository %s: unknown remote %s", r.ID, r.Remote)
		}
	}

	return nil
}

// Model converts the remote configuration into the domain remote
func (r RemoteConfig) Model() (*models.Remote, error) {
	policy := models.DownloadPolicy(r.Policy)
	switch policy {
	case models.PolicyImmediate, models.PolicyOnDemand, models.PolicyStreamed:
	default:
		return nil, fmt.Errorf("invalid policy: %s (must be immediate, on_demand or streamed)", r.Policy)
	}

	includes, err := parseRequirements(r.Filters.Includes)
	if err != nil {
		return nil, fmt.Errorf("filters.includes: %w", err)
	}
	excludes, err := parseRequirements(r.Filters.Excludes)
	if err != nil {
		return nil, fmt.Errorf("filters.excludes: %w", err)
	}

	spec := models.FilterSpec{
		Includes:         includes,
		Excludes:         excludes,
		PackageTypes:     r.Filters.PackageTypes,
		ExcludePlatforms: r.Filters.ExcludePlatforms,
		KeepLatest:       r.Filters.KeepLatest,
		Prereleases:      r.Filters.Prereleases,
	}
	if _, err := filter.New(spec); err != nil {
		return nil, err
	}

	return &models.Remote{
		ID:            r.ID,
		URL:           r.URL,
		Policy:        policy,
		Filters:       spec,
		IncludeYanked: r.IncludeYanked,
	}, nil
}

func parseRequirements(raw []string) ([]models.ProjectSpecifier, error) {
	out := make([]models.ProjectSpecifier, 0, len(raw))
	for _, req := range raw {
		name, spec, err := pyversion.ParseRequirement(req)
		if err != nil {
			return nil, err
		}
		out = append(out, models.ProjectSpecifier{Name: name, Specifier: spec})
	}
	return out, nil
}

// Logger создает логгер по настройкам log
func (l LogConfig) Logger(w io.Writer) *slog.Logger {
	level, err := parseLevel(l.Level)
	if err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}

	if l.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func parseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("invalid log.level: %s", s)
	}
}

// Duration is a time.Duration that can be unmarshaled from YAML
// as "30s" or as a number of seconds
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler
func (d *Duration) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		var i int
		if err := unmarshal(&i); err != nil {
			return err
		}
		*d = Duration(time.Duration(i) * time.Second)
		return nil
	}
	if secs, err := strconv.Atoi(s); err == nil {
		*d = Duration(time.Duration(secs) * time.Second)
		return nil
	}
	dur, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(dur)
	return nil
}

// Duration returns the time.Duration value
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}
