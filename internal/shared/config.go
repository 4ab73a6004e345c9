package shared

import (
	_ "embed"
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
	"golang.org/x/oauth2"
)

//go:embed config.example.toml
var exampleConf []byte

// EncryptionKeyEnv overrides [SecurityConfig.EncryptionKey] when set.
const EncryptionKeyEnv = "CADENCE_ENCRYPTION_KEY"

// Config represents the application configuration loaded from a TOML file.
type Config struct {
	Credentials CredentialsConfig `toml:"credentials"`
	Database    DatabaseConfig    `toml:"database"`
	Server      ServerConfig      `toml:"server"`
	Scheduler   SchedulerConfig   `toml:"scheduler"`
	Retry       RetryConfig       `toml:"retry"`
	API         APIConfig         `toml:"api"`
	Security    SecurityConfig    `toml:"security"`
	Log         LogConfig         `toml:"log"`
}

// CredentialsConfig contains service-specific credentials.
type CredentialsConfig struct {
	Spotify SpotifyConfig `toml:"spotify"`
}

// SpotifyConfig contains Spotify API credentials.
type SpotifyConfig struct {
	ClientID     string `toml:"client_id"`
	ClientSecret string `toml:"client_secret"`
	RedirectURI  string `toml:"redirect_uri"`
	AuthURL      string `toml:"auth_url"`
	TokenURL     string `toml:"token_url"`
	APIBaseURL   string `toml:"api_base_url"`
}

// Endpoint returns the OAuth2 endpoint, using Spotify's accounts service when unset.
func (c SpotifyConfig) Endpoint() oauth2.Endpoint {
	ep := oauth2.Endpoint{
		AuthURL:   "https://accounts.spotify.com/authorize",
		TokenURL:  "https://accounts.spotify.com/api/token",
		AuthStyle: oauth2.AuthStyleInHeader,
	}
	if c.AuthURL != "" {
		ep.AuthURL = c.AuthURL
	}
	if c.TokenURL != "" {
		ep.TokenURL = c.TokenURL
	}
	return ep
}

// DatabaseConfig contains database connection settings.
type DatabaseConfig struct {
	Path         string `toml:"path"`
	MaxOpenConns int    `toml:"max_open_conns"`
	MaxIdleConns int    `toml:"max_idle_conns"`
}

// ServerConfig contains HTTP server settings used by the OAuth callback.
type ServerConfig struct {
	Host string `toml:"host"`
	Port int    `toml:"port"`
}

// SchedulerConfig controls the tick engine, execution limits and the stuck-run sweeper.
type SchedulerConfig struct {
	InstanceID           string   `toml:"instance_id"`
	TickInterval         Duration `toml:"tick_interval"`
	BatchSize            int      `toml:"batch_size"`
	GlobalConcurrency    int      `toml:"global_concurrency"`
	PerOwnerConcurrency  int      `toml:"per_owner_concurrency"`
	ExecutionTimeout     Duration `toml:"execution_timeout"`
	ClaimTTL             Duration `toml:"claim_ttl"`
	AuthFailureThreshold int      `toml:"auth_failure_threshold"`
	SweepInterval        Duration `toml:"sweep_interval"`
	SweepGrace           Duration `toml:"sweep_grace"`
}

// RetryConfig controls backoff for transient provider errors.
type RetryConfig struct {
	BaseDelay   Duration `toml:"base_delay"`
	MaxDelay    Duration `toml:"max_delay"`
	MaxAttempts int      `toml:"max_attempts"`
}

// APIConfig controls outbound request pacing shared across all sessions.
type APIConfig struct {
	RequestsPerSecond float64  `toml:"requests_per_second"`
	Burst             int      `toml:"burst"`
	RequestTimeout    Duration `toml:"request_timeout"`
}

// SecurityConfig holds the key used to seal stored refresh tokens.
type SecurityConfig struct {
	EncryptionKey string `toml:"encryption_key"`
}

// Key returns the configured encryption key, preferring [EncryptionKeyEnv].
func (c SecurityConfig) Key() string {
	if v := os.Getenv(EncryptionKeyEnv); v != "" {
		return v
	}
	return c.EncryptionKey
}

// LogConfig contains logger settings.
type LogConfig struct {
	Level string `toml:"level"`
}

// Duration wraps [time.Duration] so it can be written as "30s" in TOML.
type Duration struct {
	time.Duration
}

// UnmarshalText implements [encoding.TextUnmarshaler].
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("%w: duration %q: %v", ErrInvalidConfig, string(text), err)
	}
	d.Duration = v
	return nil
}

// MarshalText implements [encoding.TextMarshaler].
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// LoadConfig reads and parses a TOML configuration file from the specified path.
//
// Values missing from the file keep the embedded defaults.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig()
	if err := toml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// DefaultConfig returns a Config with sensible defaults loaded from the embedded example config.
func DefaultConfig() *Config {
	var config Config
	if err := toml.Unmarshal(exampleConf, &config); err != nil {
		panic(fmt.Sprintf("failed to parse embedded default config: %v", err))
	}
	return &config
}

// Validate checks scheduler limits that would otherwise deadlock or spin.
func (c *Config) Validate() error {
	switch {
	case c.Scheduler.TickInterval.Duration <= 0:
		return fmt.Errorf("%w: scheduler.tick_interval must be positive", ErrInvalidConfig)
	case c.Scheduler.GlobalConcurrency <= 0:
		return fmt.Errorf("%w: scheduler.global_concurrency must be positive", ErrInvalidConfig)
	case c.Scheduler.PerOwnerConcurrency <= 0:
		return fmt.Errorf("%w: scheduler.per_owner_concurrency must be positive", ErrInvalidConfig)
	case c.Scheduler.ExecutionTimeout.Duration <= 0:
		return fmt.Errorf("%w: scheduler.execution_timeout must be positive", ErrInvalidConfig)
	case c.Retry.MaxAttempts <= 0:
		return fmt.Errorf("%w: retry.max_attempts must be positive", ErrInvalidConfig)
	}
	return nil
}

// CreateConfigFile creates a config.toml file at the specified path using the embedded example config.
func CreateConfigFile(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("%w: config file already exists at %s", ErrInvalidConfig, path)
	}

	if err := os.WriteFile(path, exampleConf, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}
