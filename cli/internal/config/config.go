// Package config provides Carve configuration with a defined load order:
// CLI flags > environment variables > repo config > global config > defaults.
//
// Paths:
//   - Repo: .carve/config.toml (relative to repo root)
//   - Global: XDG config dir, e.g. ~/.config/carve/config.toml (see os.UserConfigDir)
//
// Environment variables (override config files when set):
//   - CARVE_MODEL, CARVE_API_KEY (falls back to ANTHROPIC_API_KEY),
//   - CARVE_TIMEOUT (Go duration string or integer seconds),
//   - CARVE_MAX_GROUPS, CARVE_MAX_TOKENS (classifier limits),
//   - CARVE_SCOPE (staged, unstaged, or all),
//   - CARVE_AUTHOR (commit author override, "Name <email>"),
//   - CARVE_LISTEN_ADDR, CARVE_WATCH_DEBOUNCE (carve serve).
package config

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"carve/cli/internal/erruser"
	"carve/cli/internal/git"
)

// Config holds all Carve configuration. Empty string or zero values mean
// "use default behavior".
type Config struct {
	Model   string        `toml:"model"`
	APIKey  string        `toml:"api_key"`
	Timeout time.Duration `toml:"timeout"`
	// MaxGroups caps the number of commits a single split may produce (0 = no cap).
	MaxGroups int `toml:"max_groups"`
	// MaxTokens is the classifier response token budget.
	MaxTokens int `toml:"max_tokens"`
	// Scope selects which changes to split: staged, unstaged, or all.
	Scope git.Scope `toml:"scope"`
	// Author overrides the commit author ("Name <email>"). Empty uses git config.
	Author string `toml:"author"`
	// Exclude lists glob patterns for files to leave out of the split.
	Exclude []string `toml:"exclude"`
	// ListenAddr is the carve serve bind address.
	ListenAddr string `toml:"listen_addr"`
	// WatchDebounce is the quiet period before serve re-scans the working tree.
	WatchDebounce time.Duration `toml:"watch_debounce"`
}

// Overrides represents optional CLI flag overrides. Non-nil pointer means
// "override with this value".
type Overrides struct {
	Model         *string
	APIKey        *string
	Timeout       *time.Duration
	MaxGroups     *int
	MaxTokens     *int
	Scope         *git.Scope
	Author        *string
	Exclude       *[]string
	ListenAddr    *string
	WatchDebounce *time.Duration
}

// LoadOptions configures Load. All fields are optional.
type LoadOptions struct {
	// RepoRoot is the repository root; if set, repo config is RepoRoot/.carve/config.toml.
	RepoRoot string
	// GlobalConfigPath is the global config file path; if empty, XDG path is used.
	GlobalConfigPath string
	// Env is the environment key=value slice; if nil, os.Environ() is used.
	Env []string
	// Overrides are applied last (highest precedence).
	Overrides *Overrides
}

const (
	_defaultModel         = "claude-sonnet-4-5"
	_defaultTimeout       = 2 * time.Minute
	_defaultMaxGroups     = 0
	_defaultMaxTokens     = 8192
	_defaultScope         = git.ScopeAll
	_defaultListenAddr    = "127.0.0.1:7341"
	_defaultWatchDebounce = 300 * time.Millisecond
)

// validateScope normalizes s (trim, lowercase) and returns it if valid.
func validateScope(s string) (git.Scope, error) {
	norm := git.Scope(strings.TrimSpace(strings.ToLower(s)))
	switch norm {
	case git.ScopeStaged, git.ScopeUnstaged, git.ScopeAll:
		return norm, nil
	}
	return "", erruser.New("Invalid scope; use staged, unstaged, or all.", nil)
}

// errIntOverflow is returned when an int64 value does not fit in int.
var errIntOverflow = errors.New("value out of range for int")

func int64ToInt(n int64) (int, error) {
	if n < int64(math.MinInt) || n > int64(math.MaxInt) {
		return 0, errIntOverflow
	}
	return int(n), nil
}

// DefaultConfig returns the default configuration (no I/O).
func DefaultConfig() Config {
	return Config{
		Model:         _defaultModel,
		Timeout:       _defaultTimeout,
		MaxGroups:     _defaultMaxGroups,
		MaxTokens:     _defaultMaxTokens,
		Scope:         _defaultScope,
		ListenAddr:    _defaultListenAddr,
		WatchDebounce: _defaultWatchDebounce,
	}
}

// Load loads configuration with precedence: defaults < global file < repo file < env < overrides.
// Missing config files are ignored. Invalid TOML or invalid env values return an error.
func Load(ctx context.Context, opts LoadOptions) (*Config, error) {
	if opts.Env == nil {
		opts.Env = os.Environ()
	}
	cfg := DefaultConfig()

	globalPath := opts.GlobalConfigPath
	if globalPath == "" {
		dir, err := os.UserConfigDir()
		if err != nil {
			return nil, erruser.New("Could not determine config directory.", err)
		}
		globalPath = filepath.Join(dir, "carve", "config.toml")
	}
	if err := mergeFile(&cfg, globalPath); err != nil {
		return nil, err
	}

	if opts.RepoRoot != "" {
		repoPath := filepath.Join(opts.RepoRoot, ".carve", "config.toml")
		if err := mergeFile(&cfg, repoPath); err != nil {
			return nil, err
		}
	}

	if err := applyEnv(&cfg, opts.Env); err != nil {
		return nil, err
	}

	applyOverrides(&cfg, opts.Overrides)
	return &cfg, nil
}

// mergeFile reads path and merges into cfg. Only overwrites fields that are
// present and non-zero in the file (so explicit empty/zero in TOML keeps previous value).
// Missing file or unreadable path is skipped (no error).
func mergeFile(cfg *Config, path string) error {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return erruser.New("Invalid configuration file.", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return erruser.New("Could not read configuration file.", err)
	}
	var file struct {
		Model         *string   `toml:"model"`
		APIKey        *string   `toml:"api_key"`
		Timeout       *string   `toml:"timeout"`
		MaxGroups     *int64    `toml:"max_groups"`
		MaxTokens     *int64    `toml:"max_tokens"`
		Scope         *string   `toml:"scope"`
		Author        *string   `toml:"author"`
		Exclude       *[]string `toml:"exclude"`
		ListenAddr    *string   `toml:"listen_addr"`
		WatchDebounce *string   `toml:"watch_debounce"`
	}
	if _, err := toml.Decode(string(data), &file); err != nil {
		return erruser.New("Invalid configuration in .carve/config.toml.", err)
	}
	if file.Model != nil && *file.Model != "" {
		cfg.Model = *file.Model
	}
	if file.APIKey != nil && *file.APIKey != "" {
		cfg.APIKey = *file.APIKey
	}
	if file.Timeout != nil && *file.Timeout != "" {
		d, err := parseDuration(*file.Timeout)
		if err != nil {
			return erruser.New("Configuration timeout is invalid.", err)
		}
		cfg.Timeout = d
	}
	if file.MaxGroups != nil && *file.MaxGroups >= 0 {
		v, err := int64ToInt(*file.MaxGroups)
		if err != nil {
			return erruser.New("Configuration max_groups value out of range.", err)
		}
		cfg.MaxGroups = v
	}
	if file.MaxTokens != nil && *file.MaxTokens > 0 {
		v, err := int64ToInt(*file.MaxTokens)
		if err != nil {
			return erruser.New("Configuration max_tokens value out of range.", err)
		}
		cfg.MaxTokens = v
	}
	if file.Scope != nil && *file.Scope != "" {
		norm, err := validateScope(*file.Scope)
		if err != nil {
			return err
		}
		cfg.Scope = norm
	}
	if file.Author != nil {
		cfg.Author = *file.Author
	}
	if file.Exclude != nil {
		cfg.Exclude = *file.Exclude
	}
	if file.ListenAddr != nil && *file.ListenAddr != "" {
		cfg.ListenAddr = *file.ListenAddr
	}
	if file.WatchDebounce != nil && *file.WatchDebounce != "" {
		d, err := parseDuration(*file.WatchDebounce)
		if err != nil {
			return erruser.New("Configuration watch_debounce is invalid.", err)
		}
		cfg.WatchDebounce = d
	}
	return nil
}

func parseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty duration")
	}
	// Try Go duration first (e.g. "5m", "30s")
	d, err := time.ParseDuration(s)
	if err == nil {
		return d, nil
	}
	// Try integer seconds
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q: %w", s, err)
	}
	return time.Duration(n) * time.Second, nil
}

// env key names for config
const (
	envModel         = "CARVE_MODEL"
	envAPIKey        = "CARVE_API_KEY"
	envAnthropicKey  = "ANTHROPIC_API_KEY"
	envTimeout       = "CARVE_TIMEOUT"
	envMaxGroups     = "CARVE_MAX_GROUPS"
	envMaxTokens     = "CARVE_MAX_TOKENS"
	envScope         = "CARVE_SCOPE"
	envAuthor        = "CARVE_AUTHOR"
	envListenAddr    = "CARVE_LISTEN_ADDR"
	envWatchDebounce = "CARVE_WATCH_DEBOUNCE"
)

func applyEnv(cfg *Config, env []string) error {
	vals := make(map[string]string)
	for _, e := range env {
		idx := strings.Index(e, "=")
		if idx <= 0 {
			continue
		}
		key := strings.TrimSpace(e[:idx])
		val := strings.TrimSpace(e[idx+1:])
		vals[key] = val
	}
	if v, ok := vals[envModel]; ok && v != "" {
		cfg.Model = v
	}
	if v, ok := vals[envAPIKey]; ok && v != "" {
		cfg.APIKey = v
	} else if v, ok := vals[envAnthropicKey]; ok && v != "" && cfg.APIKey == "" {
		cfg.APIKey = v
	}
	if v, ok := vals[envTimeout]; ok && v != "" {
		d, err := parseDuration(v)
		if err != nil {
			return erruser.New("CARVE_TIMEOUT must be a valid duration.", err)
		}
		cfg.Timeout = d
	}
	if v, ok := vals[envMaxGroups]; ok && v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return erruser.New("CARVE_MAX_GROUPS must be a valid number.", err)
		}
		if n < 0 {
			return erruser.New("CARVE_MAX_GROUPS must be non-negative.", nil)
		}
		cfg.MaxGroups, err = int64ToInt(n)
		if err != nil {
			return erruser.New("CARVE_MAX_GROUPS value out of range.", err)
		}
	}
	if v, ok := vals[envMaxTokens]; ok && v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return erruser.New("CARVE_MAX_TOKENS must be a valid number.", err)
		}
		if n <= 0 {
			return erruser.New("CARVE_MAX_TOKENS must be positive.", nil)
		}
		cfg.MaxTokens, err = int64ToInt(n)
		if err != nil {
			return erruser.New("CARVE_MAX_TOKENS value out of range.", err)
		}
	}
	if v, ok := vals[envScope]; ok && v != "" {
		norm, err := validateScope(v)
		if err != nil {
			return err
		}
		cfg.Scope = norm
	}
	if v, ok := vals[envAuthor]; ok {
		cfg.Author = v
	}
	if v, ok := vals[envListenAddr]; ok && v != "" {
		cfg.ListenAddr = v
	}
	if v, ok := vals[envWatchDebounce]; ok && v != "" {
		d, err := parseDuration(v)
		if err != nil {
			return erruser.New("CARVE_WATCH_DEBOUNCE must be a valid duration.", err)
		}
		cfg.WatchDebounce = d
	}
	return nil
}

func applyOverrides(cfg *Config, o *Overrides) {
	if o == nil {
		return
	}
	if o.Model != nil {
		cfg.Model = *o.Model
	}
	if o.APIKey != nil {
		cfg.APIKey = *o.APIKey
	}
	if o.Timeout != nil {
		cfg.Timeout = *o.Timeout
	}
	if o.MaxGroups != nil {
		v := *o.MaxGroups
		if v < 0 {
			v = 0
		}
		cfg.MaxGroups = v
	}
	if o.MaxTokens != nil && *o.MaxTokens > 0 {
		cfg.MaxTokens = *o.MaxTokens
	}
	if o.Scope != nil && *o.Scope != "" {
		if norm, err := validateScope(string(*o.Scope)); err == nil {
			cfg.Scope = norm
		}
	}
	if o.Author != nil {
		cfg.Author = *o.Author
	}
	if o.Exclude != nil {
		cfg.Exclude = *o.Exclude
	}
	if o.ListenAddr != nil && *o.ListenAddr != "" {
		cfg.ListenAddr = *o.ListenAddr
	}
	if o.WatchDebounce != nil && *o.WatchDebounce > 0 {
		cfg.WatchDebounce = *o.WatchDebounce
	}
}
