// Package config provides configuration management for the lip-sync
// pipeline.
package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	Pipeline    PipelineConfig    `mapstructure:"pipeline"`
	Audio       AudioConfig       `mapstructure:"audio"`
	Server      ServerConfig      `mapstructure:"server"`
	Calibration CalibrationConfig `mapstructure:"calibration"`
	Log         LogConfig         `mapstructure:"log"`
}

// PipelineConfig tunes the classification pipeline
type PipelineConfig struct {
	Sensitivity          float64       `mapstructure:"sensitivity"`          // [0,1]
	IntensityMultiplier  float64       `mapstructure:"intensity_multiplier"` // [1,8]
	MinIntensity         float64       `mapstructure:"min_intensity"`        // [0,1]
	Smoothing            float64       `mapstructure:"smoothing"`            // [0,1]
	MaxReconnectAttempts int           `mapstructure:"max_reconnect_attempts"`
	ReconnectDelay       time.Duration `mapstructure:"reconnect_delay"`
	SettleDelay          time.Duration `mapstructure:"settle_delay"`
}

// AudioConfig configures audio ingestion
type AudioConfig struct {
	SampleRate   int           `mapstructure:"sample_rate"` // Default: 16000 Hz
	WindowSize   time.Duration `mapstructure:"window_size"` // Analysis window, default 25ms
	RTPListen    string        `mapstructure:"rtp_listen"`  // UDP addr for remote RTP sources
	SpectrumSize int           `mapstructure:"spectrum_size"`
}

// ServerConfig configures the renderer-facing websocket feed
type ServerConfig struct {
	Addr string `mapstructure:"addr"`
	Path string `mapstructure:"path"`
}

// CalibrationConfig configures per-speaker template banks
type CalibrationConfig struct {
	Dir   string `mapstructure:"dir"`   // directory of YAML calibration files
	Watch bool   `mapstructure:"watch"` // hot-reload on change
}

// LogConfig configures logging
type LogConfig struct {
	Level   string `mapstructure:"level"`
	Dir     string `mapstructure:"dir"`
	Console bool   `mapstructure:"console"`
}

// DefaultConfig returns sensible default configuration
func DefaultConfig() *Config {
	home, _ := os.UserHomeDir()
	return &Config{
		Pipeline: PipelineConfig{
			Sensitivity:          0.5,
			IntensityMultiplier:  1.5,
			MinIntensity:         0.05,
			Smoothing:            0.3,
			MaxReconnectAttempts: 5,
			ReconnectDelay:       500 * time.Millisecond,
			SettleDelay:          30 * time.Millisecond,
		},
		Audio: AudioConfig{
			SampleRate:   16000,
			WindowSize:   25 * time.Millisecond,
			RTPListen:    ":5004",
			SpectrumSize: 512,
		},
		Server: ServerConfig{
			Addr: ":8790",
			Path: "/visemes",
		},
		Calibration: CalibrationConfig{
			Dir:   filepath.Join(home, ".lipsync", "calibration"),
			Watch: true,
		},
		Log: LogConfig{
			Level:   "info",
			Console: true,
		},
	}
}

// Load reads configuration from file and environment
func Load() (*Config, error) {
	cfg := DefaultConfig()

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return cfg, err
	}

	configDir := filepath.Join(homeDir, ".lipsync")
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return cfg, err
	}

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(configDir)
	viper.AddConfigPath(".")

	viper.SetEnvPrefix("LIPSYNC")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return cfg, err
		}
		// no config file: run on defaults
	}

	if err := viper.Unmarshal(cfg); err != nil {
		return cfg, err
	}

	return cfg, nil
}
