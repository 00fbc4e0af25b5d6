// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/tallshot/tallshot/internal/capture"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server   ServerConfig       `mapstructure:"server"`
	Capture  CaptureConfig      `mapstructure:"capture"`
	Batch    BatchConfig        `mapstructure:"batch"`
	Logging  LoggingConfig      `mapstructure:"logging"`
	Profiles map[string]Profile `mapstructure:"profiles"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// CaptureConfig governs target resolution and per-attempt behavior.
type CaptureConfig struct {
	BaseURL        string  `mapstructure:"base_url"`
	OutputDir      string  `mapstructure:"output_dir"`
	UserAgent      string  `mapstructure:"user_agent"`
	DefaultProfile string  `mapstructure:"default_profile"`
	TimeoutSeconds int     `mapstructure:"timeout_seconds"`
	HostQPS        float64 `mapstructure:"host_qps"`
}

// BatchConfig governs dispatcher defaults and record retention.
type BatchConfig struct {
	Concurrency        int  `mapstructure:"concurrency"`
	Retries            int  `mapstructure:"retries"`
	EvictionEnabled    bool `mapstructure:"eviction_enabled"`
	RecordTTLMinutes   int  `mapstructure:"record_ttl_minutes"`
	EvictIntervalMin   int  `mapstructure:"evict_interval_minutes"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Profile is a named capture option set. The source system grew many
// near-duplicate capture variants differing only in tuned constants;
// profiles are the single configuration surface replacing them.
type Profile struct {
	Width         int64 `mapstructure:"width"`
	InitialHeight int64 `mapstructure:"initial_height"`
	SectionHeight int64 `mapstructure:"section_height"`
	ScrollStepPx  int64 `mapstructure:"scroll_step_px"`
	ScrollPauseMs int   `mapstructure:"scroll_pause_ms"`
	WaitMs        int   `mapstructure:"wait_ms"`
	Headless      bool  `mapstructure:"headless"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("TALLSHOT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("capture.base_url", "http://localhost:3000/pages/{id}")
	v.SetDefault("capture.output_dir", "captures")
	v.SetDefault("capture.user_agent", "tallshot/0.1")
	v.SetDefault("capture.default_profile", "desktop")
	v.SetDefault("capture.timeout_seconds", 90)
	v.SetDefault("capture.host_qps", 0)
	v.SetDefault("batch.concurrency", 4)
	v.SetDefault("batch.retries", 2)
	v.SetDefault("batch.eviction_enabled", false)
	v.SetDefault("batch.record_ttl_minutes", 240)
	v.SetDefault("batch.evict_interval_minutes", 10)
	v.SetDefault("logging.development", true)
	v.SetDefault("profiles.desktop.width", 1920)
	v.SetDefault("profiles.desktop.initial_height", 3000)
	v.SetDefault("profiles.desktop.scroll_step_px", 800)
	v.SetDefault("profiles.desktop.scroll_pause_ms", 400)
	v.SetDefault("profiles.desktop.wait_ms", 2000)
	v.SetDefault("profiles.desktop.headless", true)
	v.SetDefault("profiles.lowmem.width", 1280)
	v.SetDefault("profiles.lowmem.initial_height", 2000)
	v.SetDefault("profiles.lowmem.section_height", 2000)
	v.SetDefault("profiles.lowmem.scroll_step_px", 600)
	v.SetDefault("profiles.lowmem.scroll_pause_ms", 300)
	v.SetDefault("profiles.lowmem.wait_ms", 1500)
	v.SetDefault("profiles.lowmem.headless", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Capture.BaseURL == "" {
		return fmt.Errorf("capture.base_url must be set")
	}
	if c.Capture.TimeoutSeconds <= 0 {
		return fmt.Errorf("capture.timeout_seconds must be > 0")
	}
	if c.Batch.Concurrency <= 0 {
		return fmt.Errorf("batch.concurrency must be > 0")
	}
	if c.Batch.Retries <= 0 {
		return fmt.Errorf("batch.retries must be > 0")
	}
	if _, ok := c.Profiles[c.Capture.DefaultProfile]; !ok {
		return fmt.Errorf("capture.default_profile %q has no profile entry", c.Capture.DefaultProfile)
	}
	if c.Batch.EvictionEnabled && c.Batch.RecordTTLMinutes <= 0 {
		return fmt.Errorf("batch.record_ttl_minutes must be > 0 when eviction is enabled")
	}
	return nil
}

// CaptureOptions resolves a named profile into capture options. An
// unknown name falls back to the default profile.
func (c Config) CaptureOptions(profile string) capture.Options {
	p, ok := c.Profiles[profile]
	if !ok {
		p = c.Profiles[c.Capture.DefaultProfile]
	}
	return capture.Options{
		Timeout:       time.Duration(c.Capture.TimeoutSeconds) * time.Second,
		Wait:          time.Duration(p.WaitMs) * time.Millisecond,
		Headless:      p.Headless,
		Width:         p.Width,
		InitialHeight: p.InitialHeight,
		ScrollStep:    p.ScrollStepPx,
		ScrollPause:   time.Duration(p.ScrollPauseMs) * time.Millisecond,
		SectionHeight: p.SectionHeight,
	}
}
