package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	Remote          RemoteConfig       `yaml:"remote"`
	Control         ControlConfig      `yaml:"control"`
	Notifications   NotificationConfig `yaml:"notifications"`
	Reservoir       ReservoirConfig    `yaml:"reservoir"`
	API             APIConfig          `yaml:"api"`
	Database        DatabaseConfig     `yaml:"database"`
	Ledger          LedgerConfig       `yaml:"ledger"`
	EventBus        EventBusConfig     `yaml:"eventbus"`
	Log             LogConfig          `yaml:"log"`
	ShutdownTimeout Duration           `yaml:"shutdown_timeout"` // General shutdown timeout for graceful stops
}

// RemoteConfig contains greenhouse device API settings
type RemoteConfig struct {
	BaseURL      string   `yaml:"base_url"`
	Timeout      Duration `yaml:"timeout"`        // HTTP timeout per request
	RateLimitRPS float64  `yaml:"rate_limit_rps"` // Write requests per second

	// Endpoint paths, relative to BaseURL
	AutomationPath string `yaml:"automation_path"`
	StatusPath     string `yaml:"status_path"`
	ManualPath     string `yaml:"manual_path"`
}

// ControlConfig contains sync engine settings
type ControlConfig struct {
	PulseHold            Duration `yaml:"pulse_hold"`             // How long a manual pulse stays on
	DefaultIntervalHours int      `yaml:"default_interval_hours"` // Irrigation interval used at bootstrap
	BootstrapTimeout     Duration `yaml:"bootstrap_timeout"`      // Upper bound on the initial fetch
	WriteTimeout         Duration `yaml:"write_timeout"`          // Upper bound on a single confirming write
}

// NotificationConfig contains notification lifecycle timings
type NotificationConfig struct {
	Display Duration `yaml:"display"`
	Exit    Duration `yaml:"exit"`
}

// ReservoirConfig contains low-water watcher settings
type ReservoirConfig struct {
	Enabled      *bool    `yaml:"enabled"` // Default: true
	PollInterval Duration `yaml:"poll_interval"`
	LowThreshold float64  `yaml:"low_threshold_cm"` // Distance to water surface above which the reservoir is low
	Message      string   `yaml:"message"`
}

// APIConfig contains operator API server settings
type APIConfig struct {
	Enabled *bool  `yaml:"enabled"` // Default: true
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
}

// IsEnabled returns whether the operator API should be served
func (c *APIConfig) IsEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}

// IsEnabled returns whether the reservoir watcher should run
func (c *ReservoirConfig) IsEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}

// DatabaseConfig contains database settings
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// LedgerConfig contains action ledger settings
type LedgerConfig struct {
	CleanupInterval Duration `yaml:"cleanup_interval"`
	RetentionDays   int      `yaml:"retention_days"`
}

// EventBusConfig contains event bus settings
type EventBusConfig struct {
	Workers   int `yaml:"workers"`    // Number of worker goroutines (default: 4)
	QueueSize int `yaml:"queue_size"` // Event queue size (default: 100)
}

// LogConfig contains logging settings
type LogConfig struct {
	Level   string `yaml:"level"`
	UseJSON bool   `yaml:"json"`
	Colors  bool   `yaml:"colors"`
}

// GetLevel returns the log level with default
func (c *LogConfig) GetLevel() string {
	if c.Level == "" {
		return "info"
	}
	return c.Level
}

// Addr returns the listen address for the operator API
func (c *APIConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Duration is a wrapper around time.Duration for YAML unmarshalling
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler for Duration
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// Duration returns the underlying time.Duration
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse parses configuration bytes, expanding environment variables and
// filling in defaults.
func Parse(data []byte) (*Config, error) {
	expanded := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, err
	}

	cfg.applyDefaults()

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (cfg *Config) applyDefaults() {
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Database.Path == "" {
		cfg.Database.Path = "./growd.sqlite"
	}

	// Remote defaults
	if cfg.Remote.BaseURL == "" {
		cfg.Remote.BaseURL = "https://smartgrow-ajtn.onrender.com"
	}
	cfg.Remote.BaseURL = strings.TrimRight(cfg.Remote.BaseURL, "/")
	if cfg.Remote.Timeout == 0 {
		cfg.Remote.Timeout = Duration(10 * time.Second)
	}
	if cfg.Remote.RateLimitRPS == 0 {
		cfg.Remote.RateLimitRPS = 5.0
	}
	if cfg.Remote.AutomationPath == "" {
		cfg.Remote.AutomationPath = "/config_automacao"
	}
	if cfg.Remote.StatusPath == "" {
		cfg.Remote.StatusPath = "/status_sistema"
	}
	if cfg.Remote.ManualPath == "" {
		cfg.Remote.ManualPath = "/controle_manual"
	}

	// Control defaults
	if cfg.Control.PulseHold == 0 {
		cfg.Control.PulseHold = Duration(3 * time.Second)
	}
	if cfg.Control.DefaultIntervalHours == 0 {
		cfg.Control.DefaultIntervalHours = 24
	}
	if cfg.Control.BootstrapTimeout == 0 {
		cfg.Control.BootstrapTimeout = Duration(15 * time.Second)
	}
	if cfg.Control.WriteTimeout == 0 {
		cfg.Control.WriteTimeout = Duration(15 * time.Second)
	}

	// Notification defaults
	if cfg.Notifications.Display == 0 {
		cfg.Notifications.Display = Duration(5 * time.Second)
	}
	if cfg.Notifications.Exit == 0 {
		cfg.Notifications.Exit = Duration(300 * time.Millisecond)
	}

	// Reservoir defaults
	if cfg.Reservoir.PollInterval == 0 {
		cfg.Reservoir.PollInterval = Duration(time.Minute)
	}
	if cfg.Reservoir.LowThreshold == 0 {
		cfg.Reservoir.LowThreshold = 26
	}
	if cfg.Reservoir.Message == "" {
		cfg.Reservoir.Message = "Reservoir level is low!"
	}

	// API defaults
	if cfg.API.Port == 0 {
		cfg.API.Port = 8080
	}
	if cfg.API.Host == "" {
		cfg.API.Host = "0.0.0.0"
	}

	// Ledger defaults
	if cfg.Ledger.CleanupInterval == 0 {
		cfg.Ledger.CleanupInterval = Duration(24 * time.Hour)
	}
	if cfg.Ledger.RetentionDays == 0 {
		cfg.Ledger.RetentionDays = 30
	}

	// General shutdown timeout
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = Duration(5 * time.Second)
	}
}

// validate rejects settings that would break timer semantics
func (cfg *Config) validate() error {
	positive := map[string]Duration{
		"control.pulse_hold":      cfg.Control.PulseHold,
		"notifications.display":   cfg.Notifications.Display,
		"notifications.exit":      cfg.Notifications.Exit,
		"reservoir.poll_interval": cfg.Reservoir.PollInterval,
		"remote.timeout":          cfg.Remote.Timeout,
	}
	for name, d := range positive {
		if d < 0 {
			return fmt.Errorf("%s must be positive, got %s", name, d.Duration())
		}
	}
	if cfg.Control.DefaultIntervalHours < 0 {
		return fmt.Errorf("control.default_interval_hours must be positive, got %d", cfg.Control.DefaultIntervalHours)
	}
	if cfg.Remote.RateLimitRPS <= 0 {
		return fmt.Errorf("remote.rate_limit_rps must be positive, got %v", cfg.Remote.RateLimitRPS)
	}
	return nil
}

// GetWorkers returns worker count with default
func (c *EventBusConfig) GetWorkers() int {
	if c.Workers <= 0 {
		return 4
	}
	return c.Workers
}

// GetQueueSize returns queue size with default
func (c *EventBusConfig) GetQueueSize() int {
	if c.QueueSize <= 0 {
		return 100
	}
	return c.QueueSize
}

// expandEnvVars expands environment variables in the format ${VAR} or ${VAR:default}
func expandEnvVars(input string) string {
	re := regexp.MustCompile(`\$\{([^}:]+)(?::([^}]*))?\}`)

	return re.ReplaceAllStringFunc(input, func(match string) string {
		parts := re.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}

		varName := parts[1]
		defaultVal := ""
		if len(parts) >= 3 {
			defaultVal = parts[2]
		}

		if val := os.Getenv(varName); val != "" {
			return val
		}
		return defaultVal
	})
}
