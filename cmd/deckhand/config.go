package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/opsline/deckhand/internal/core/domain"
)

// =============================================================================
// Config Types
// =============================================================================

// Config holds all daemon configuration.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Log        LogConfig        `mapstructure:"log"`
	Hook       HookConfig       `mapstructure:"hook"`
	API        APIConfig        `mapstructure:"api"`
	Docker     DockerConfig     `mapstructure:"docker"`
	Executor   ExecutorConfig   `mapstructure:"executor"`
	Dispatcher DispatcherConfig `mapstructure:"dispatcher"`
	Janitor    JanitorConfig    `mapstructure:"janitor"`
	Notify     NotifyConfig     `mapstructure:"notify"`
	Deploy     DeployConfig     `mapstructure:"deploy"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// Address returns the server address in host:port format.
func (c ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// DatabaseConfig holds run journal configuration.
type DatabaseConfig struct {
	DSN string `mapstructure:"dsn"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// HookConfig holds webhook intake configuration.
type HookConfig struct {
	// Secret is the shared HMAC key push payloads are signed with. The
	// push hook refuses every request while it is empty.
	Secret string `mapstructure:"secret"`
}

// APIConfig holds management API configuration.
type APIConfig struct {
	// Token guards /api/v1 as a static bearer token. Empty leaves the API
	// open, which is only sensible on localhost or behind a reverse proxy.
	Token string `mapstructure:"token"`
}

// DockerConfig holds local Docker daemon access configuration.
type DockerConfig struct {
	// Enabled wires the container inspector used for local targets. The
	// daemon must be reachable at startup when set.
	Enabled bool   `mapstructure:"enabled"`
	Host    string `mapstructure:"host"`
}

// ExecutorConfig holds command execution configuration.
type ExecutorConfig struct {
	CommandTimeout time.Duration `mapstructure:"command_timeout"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
}

// DispatcherConfig holds dispatch lane configuration.
type DispatcherConfig struct {
	MaxQueuePerTarget int           `mapstructure:"max_queue_per_target"`
	DrainTimeout      time.Duration `mapstructure:"drain_timeout"`
}

// JanitorConfig holds run journal pruning configuration.
type JanitorConfig struct {
	Enabled       bool          `mapstructure:"enabled"`
	Interval      time.Duration `mapstructure:"interval"`
	Retention     time.Duration `mapstructure:"retention"`
	KeepPerTarget int           `mapstructure:"keep_per_target"`
}

// NotifyConfig holds run notification configuration.
type NotifyConfig struct {
	// URL receives a POST per finished run. Empty disables notifications.
	URL     string        `mapstructure:"url"`
	Token   string        `mapstructure:"token"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// DeployConfig holds the deploy targets.
type DeployConfig struct {
	Targets []TargetConfig `mapstructure:"targets"`
}

// TargetConfig describes one deploy target in the config file.
type TargetConfig struct {
	Name        string `mapstructure:"name"`
	Executor    string `mapstructure:"executor"`
	Host        string `mapstructure:"host"`
	Port        int    `mapstructure:"port"`
	User        string `mapstructure:"user"`
	KeyFile     string `mapstructure:"key_file"`
	KeyEnv      string `mapstructure:"key_env"`
	Dir         string `mapstructure:"dir"`
	Branch      string `mapstructure:"branch"`
	ComposeFile string `mapstructure:"compose_file"`
}

// toDomain converts a config entry to a domain target with defaults applied.
func (c TargetConfig) toDomain() domain.Target {
	t := domain.Target{
		Name:        c.Name,
		Executor:    domain.ExecutorKind(c.Executor),
		Host:        c.Host,
		Port:        c.Port,
		User:        c.User,
		KeyFile:     c.KeyFile,
		KeyEnv:      c.KeyEnv,
		Dir:         c.Dir,
		Branch:      c.Branch,
		ComposeFile: c.ComposeFile,
	}
	t.ApplyDefaults()
	return t
}

// =============================================================================
// Config Loading
// =============================================================================

// LoadConfig loads configuration from file and environment.
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8411)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.shutdown_timeout", "30s")
	v.SetDefault("database.dsn", "./data/deckhand.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("hook.secret", "")
	v.SetDefault("api.token", "")
	v.SetDefault("docker.enabled", false)
	v.SetDefault("docker.host", "")
	v.SetDefault("executor.command_timeout", "15m")
	v.SetDefault("executor.connect_timeout", "10s")
	v.SetDefault("dispatcher.max_queue_per_target", 8)
	v.SetDefault("dispatcher.drain_timeout", "10s")
	v.SetDefault("janitor.enabled", true)
	v.SetDefault("janitor.interval", "1h")
	v.SetDefault("janitor.retention", "720h")
	v.SetDefault("janitor.keep_per_target", 20)
	v.SetDefault("notify.url", "")
	v.SetDefault("notify.token", "")
	v.SetDefault("notify.timeout", "10s")

	// Load from file if provided
	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			// Only return error if file was explicitly specified and is invalid
			if _, ok := err.(viper.ConfigParseError); ok {
				return nil, fmt.Errorf("failed to parse config file: %w", err)
			}
			// File not found is OK, we'll use defaults
		}
	}

	// Enable environment variable overrides
	v.SetEnvPrefix("DECKHAND")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Unmarshal config
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate rejects configurations the daemon cannot run with.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d is out of range", c.Server.Port)
	}
	if c.Database.DSN == "" {
		return fmt.Errorf("database.dsn must not be empty")
	}

	seen := make(map[string]bool, len(c.Deploy.Targets))
	for i, tc := range c.Deploy.Targets {
		t := tc.toDomain()
		if err := t.Validate(); err != nil {
			return fmt.Errorf("deploy.targets[%d]: %w", i, err)
		}
		// An SSH target with no key source can never deploy; refuse to
		// boot instead of failing its first run.
		if t.Executor == domain.ExecutorSSH && t.KeyFile == "" && t.KeyEnv == "" {
			return fmt.Errorf("deploy.targets[%d]: %w", i, domain.ErrSSHKeyRequired)
		}
		if seen[t.Name] {
			return fmt.Errorf("deploy.targets[%d]: duplicate target name %q", i, t.Name)
		}
		seen[t.Name] = true
	}

	return nil
}

// Targets converts every configured target to a domain target.
func (c *Config) Targets() []domain.Target {
	targets := make([]domain.Target, 0, len(c.Deploy.Targets))
	for _, tc := range c.Deploy.Targets {
		targets = append(targets, tc.toDomain())
	}
	return targets
}

// =============================================================================
// Logger Setup
// =============================================================================

// SetupLogger creates a logger with the configured level and format.
func SetupLogger(cfg *Config) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Log.Level) {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	var handler slog.Handler
	if strings.ToLower(cfg.Log.Format) == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}
