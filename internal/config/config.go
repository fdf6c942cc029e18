// File: internal/config/config.go
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
)

// Config holds the entire application configuration.
type Config struct {
	Logger   LoggerConfig   `mapstructure:"logger" yaml:"logger"`
	IPC      IPCConfig      `mapstructure:"ipc" yaml:"ipc"`
	Capture  CaptureConfig  `mapstructure:"capture" yaml:"capture"`
	Dispatch DispatchConfig `mapstructure:"dispatch" yaml:"dispatch"`
	AppIndex AppIndexConfig `mapstructure:"app_index" yaml:"app_index"`
	Agent    AgentConfig    `mapstructure:"agent" yaml:"agent"`
	Events   EventsConfig   `mapstructure:"events" yaml:"events"`
	Engine   EngineConfig   `mapstructure:"engine" yaml:"engine"`
}

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string `mapstructure:"level" yaml:"level"`
	Format      string `mapstructure:"format" yaml:"format"`
	AddSource   bool   `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int    `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int    `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int    `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool   `mapstructure:"compress" yaml:"compress"`
}

// IPCConfig describes the channel to the privileged automation server. The
// secret authenticates both sides; it is bound to an env var, never the file.
type IPCConfig struct {
	Host           string        `mapstructure:"host" yaml:"host"`
	Port           int           `mapstructure:"port" yaml:"port"`
	Secret         string        `mapstructure:"secret" yaml:"-"`
	DialTimeout    time.Duration `mapstructure:"dial_timeout" yaml:"dial_timeout"`
	ScopedAnalyze  time.Duration `mapstructure:"scoped_analyze_timeout" yaml:"scoped_analyze_timeout"`
	FullAnalyze    time.Duration `mapstructure:"full_analyze_timeout" yaml:"full_analyze_timeout"`
	InteractWait   time.Duration `mapstructure:"interact_timeout" yaml:"interact_timeout"`
	ProbeWait      time.Duration `mapstructure:"probe_timeout" yaml:"probe_timeout"`
	TelemetryWait  time.Duration `mapstructure:"telemetry_timeout" yaml:"telemetry_timeout"`
}

// Address renders host:port for dialing.
func (c IPCConfig) Address() string { return fmt.Sprintf("%s:%d", c.Host, c.Port) }

// CaptureConfig tunes the capture & fusion engine.
type CaptureConfig struct {
	Monitor          int    `mapstructure:"monitor" yaml:"monitor"`
	DensityThreshold int    `mapstructure:"density_threshold" yaml:"density_threshold"`
	MinCropSize      int    `mapstructure:"min_crop_size" yaml:"min_crop_size"`
	DebugDir         string `mapstructure:"debug_dir" yaml:"debug_dir"`
}

// DispatchConfig tunes the action dispatcher.
type DispatchConfig struct {
	ShellTimeout       time.Duration `mapstructure:"shell_timeout" yaml:"shell_timeout"`
	LaunchAttempts     int           `mapstructure:"launch_attempts" yaml:"launch_attempts"`
	LaunchPollInterval time.Duration `mapstructure:"launch_poll_interval" yaml:"launch_poll_interval"`
	SettleDelay        time.Duration `mapstructure:"settle_delay" yaml:"settle_delay"`
}

// AppIndexConfig configures the name-to-launch-command index.
type AppIndexConfig struct {
	// IndexCommand is the shell pipeline that emits the installed-application
	// JSON listing. Left empty, the index serves manual aliases only.
	IndexCommand string        `mapstructure:"index_command" yaml:"index_command"`
	IndexTimeout time.Duration `mapstructure:"index_timeout" yaml:"index_timeout"`
}

// AgentConfig holds settings for the decision function boundary.
type AgentConfig struct {
	PlannerModel string        `mapstructure:"planner_model" yaml:"planner_model"`
	APIKey       string        `mapstructure:"api_key" yaml:"-"`
	APITimeout   time.Duration `mapstructure:"api_timeout" yaml:"api_timeout"`
}

// EventsConfig configures the observability event bus.
type EventsConfig struct {
	BufferSize int `mapstructure:"buffer_size" yaml:"buffer_size"`
}

// EngineConfig configures the per-objective control loop.
type EngineConfig struct {
	MaxPhases       int           `mapstructure:"max_phases" yaml:"max_phases"`
	MaxSprintSteps  int           `mapstructure:"max_sprint_steps" yaml:"max_sprint_steps"`
	SettleTime      time.Duration `mapstructure:"settle_time" yaml:"settle_time"`
}

// NewDefaultConfig creates a configuration populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		// Cannot happen with defaults, but fail loudly if it ever does.
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// SetDefaults initializes default values for all configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "deskpilot-cli")
	v.SetDefault("logger.log_file", "deskpilot.log")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)

	// -- IPC --
	v.SetDefault("ipc.host", "127.0.0.1")
	v.SetDefault("ipc.port", 6000)
	v.SetDefault("ipc.dial_timeout", "3s")
	v.SetDefault("ipc.scoped_analyze_timeout", "2s")
	v.SetDefault("ipc.full_analyze_timeout", "120s")
	v.SetDefault("ipc.interact_timeout", "15s")
	v.SetDefault("ipc.probe_timeout", "1s")
	v.SetDefault("ipc.telemetry_timeout", "2s")

	// -- Capture --
	v.SetDefault("capture.monitor", 1)
	v.SetDefault("capture.density_threshold", 5)
	v.SetDefault("capture.min_crop_size", 20)
	v.SetDefault("capture.debug_dir", "")

	// -- Dispatch --
	v.SetDefault("dispatch.shell_timeout", "15s")
	v.SetDefault("dispatch.launch_attempts", 20)
	v.SetDefault("dispatch.launch_poll_interval", "1s")
	v.SetDefault("dispatch.settle_delay", "300ms")

	// -- App index --
	v.SetDefault("app_index.index_command", "")
	v.SetDefault("app_index.index_timeout", "20s")

	// -- Agent --
	v.SetDefault("agent.planner_model", "gemini-2.5-pro")
	v.SetDefault("agent.api_timeout", "120s")

	// -- Events --
	v.SetDefault("events.buffer_size", 64)

	// -- Engine --
	v.SetDefault("engine.max_phases", 15)
	v.SetDefault("engine.max_sprint_steps", 25)
	v.SetDefault("engine.settle_time", "500ms")
}

// NewConfigFromViper creates a configuration instance from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	// Bind environment variables for sensitive data.
	v.BindEnv("ipc.secret", "DESKPILOT_IPC_SECRET")
	v.BindEnv("agent.api_key", "DESKPILOT_API_KEY")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	// Pick up the secrets directly if Unmarshal missed the env binding.
	if cfg.IPC.Secret == "" {
		cfg.IPC.Secret = os.Getenv("DESKPILOT_IPC_SECRET")
	}
	if cfg.Agent.APIKey == "" {
		cfg.Agent.APIKey = os.Getenv("DESKPILOT_API_KEY")
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	if c.IPC.Port <= 0 || c.IPC.Port > 65535 {
		return fmt.Errorf("ipc.port must be a valid TCP port, got %d", c.IPC.Port)
	}
	if c.IPC.ScopedAnalyze <= 0 || c.IPC.FullAnalyze <= 0 {
		return fmt.Errorf("ipc analyze timeouts must be positive durations")
	}
	if c.Capture.DensityThreshold < 0 {
		return fmt.Errorf("capture.density_threshold must not be negative")
	}
	if c.Capture.MinCropSize <= 0 {
		return fmt.Errorf("capture.min_crop_size must be a positive pixel count")
	}
	if c.Dispatch.LaunchAttempts <= 0 {
		return fmt.Errorf("dispatch.launch_attempts must be a positive integer")
	}
	if c.Engine.MaxPhases <= 0 {
		return fmt.Errorf("engine.max_phases must be greater than 0")
	}
	if c.Engine.MaxSprintSteps <= 0 {
		return fmt.Errorf("engine.max_sprint_steps must be greater than 0")
	}
	return nil
}
