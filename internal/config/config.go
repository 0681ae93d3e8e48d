// Package config loads application configuration from a YAML file,
// environment variables, and an optional .env file, in that order of
// increasing precedence for the environment.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	App       App       `mapstructure:"app"`
	Gemini    Gemini    `mapstructure:"gemini"`
	SMTP      SMTP      `mapstructure:"smtp"`
	Scheduler Scheduler `mapstructure:"scheduler"`
	Ranker    Ranker    `mapstructure:"ranker"`
	Ingest    Ingest    `mapstructure:"ingest"`
	Sources   []Source  `mapstructure:"sources"`
}

// App holds general application configuration.
type App struct {
	LogLevel string `mapstructure:"log_level"`
	DataDir  string `mapstructure:"data_dir"`
}

// Gemini holds the summarization model configuration.
type Gemini struct {
	APIKey  string `mapstructure:"api_key"`
	Model   string `mapstructure:"model"`
	Timeout string `mapstructure:"timeout"`
}

// SMTP holds digest delivery configuration.
type SMTP struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	From     string `mapstructure:"from"`
}

// Scheduler holds the daily run loop configuration.
type Scheduler struct {
	Workers      int    `mapstructure:"workers"`
	RecoveryDays int    `mapstructure:"recovery_days"`
	Tick         string `mapstructure:"tick"`
	Timezone     string `mapstructure:"timezone"`
}

// Ranker holds ranking configuration.
type Ranker struct {
	LookbackDays int `mapstructure:"lookback_days"`
}

// Ingest holds ingestion configuration.
type Ingest struct {
	Window   string `mapstructure:"window"`
	Interval string `mapstructure:"interval"`
}

// Source describes one configured upstream. Kind selects the fetcher:
// "feed" for RSS/Atom (including YouTube channel feeds), "blog" for an
// HTML index page scraped with CSS selectors.
type Source struct {
	Name          string `mapstructure:"name"`
	Kind          string `mapstructure:"kind"`
	Type          string `mapstructure:"type"` // video or blog
	URL           string `mapstructure:"url"`
	ItemSelector  string `mapstructure:"item_selector"`
	TitleSelector string `mapstructure:"title_selector"`
	LinkSelector  string `mapstructure:"link_selector"`
}

var globalConfig *Config

// Load loads the configuration from the given file (or the default
// search path when empty), layered with environment variables.
func Load(configFile string) (*Config, error) {
	if globalConfig != nil {
		return globalConfig, nil
	}

	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(".env"); err != nil {
			fmt.Printf("Warning: Error loading .env file: %v\n", err)
		}
	}

	if configFile != "" {
		viper.SetConfigFile(configFile)
	} else {
		viper.AddConfigPath(".")
		viper.AddConfigPath("$HOME")
		viper.SetConfigName(".dailybrief")
		viper.SetConfigType("yaml")
	}

	setDefaults()
	bindEnvironmentVariables()

	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	config := &Config{}
	if err := viper.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := validateConfig(config); err != nil {
		return nil, err
	}

	globalConfig = config
	return config, nil
}

// Get returns the global configuration, loading it if necessary.
func Get() *Config {
	if globalConfig == nil {
		config, err := Load("")
		if err != nil {
			panic(fmt.Sprintf("Failed to load configuration: %v", err))
		}
		return config
	}
	return globalConfig
}

func setDefaults() {
	viper.SetDefault("app.log_level", "info")
	viper.SetDefault("app.data_dir", ".dailybrief")

	viper.SetDefault("gemini.model", "gemini-flash-lite-latest")
	viper.SetDefault("gemini.timeout", "30s")

	viper.SetDefault("smtp.port", 587)

	viper.SetDefault("scheduler.workers", 4)
	viper.SetDefault("scheduler.recovery_days", 3)
	viper.SetDefault("scheduler.tick", "1m")
	viper.SetDefault("scheduler.timezone", "UTC")

	viper.SetDefault("ranker.lookback_days", 14)

	viper.SetDefault("ingest.window", "24h")
	viper.SetDefault("ingest.interval", "15m")
}

func bindEnvironmentVariables() {
	viper.BindEnv("gemini.api_key", "GEMINI_API_KEY")
	viper.BindEnv("smtp.host", "SMTP_HOST")
	viper.BindEnv("smtp.port", "SMTP_PORT")
	viper.BindEnv("smtp.username", "SMTP_USERNAME")
	viper.BindEnv("smtp.password", "SMTP_PASSWORD")
	viper.BindEnv("smtp.from", "SMTP_FROM")
}

func validateConfig(config *Config) error {
	if _, err := time.LoadLocation(config.Scheduler.Timezone); err != nil {
		return fmt.Errorf("invalid scheduler.timezone %q: %w", config.Scheduler.Timezone, err)
	}
	if _, err := time.ParseDuration(config.Scheduler.Tick); err != nil {
		return fmt.Errorf("invalid scheduler.tick %q: %w", config.Scheduler.Tick, err)
	}
	if _, err := time.ParseDuration(config.Gemini.Timeout); err != nil {
		return fmt.Errorf("invalid gemini.timeout %q: %w", config.Gemini.Timeout, err)
	}
	if _, err := time.ParseDuration(config.Ingest.Window); err != nil {
		return fmt.Errorf("invalid ingest.window %q: %w", config.Ingest.Window, err)
	}
	if _, err := time.ParseDuration(config.Ingest.Interval); err != nil {
		return fmt.Errorf("invalid ingest.interval %q: %w", config.Ingest.Interval, err)
	}

	for i, src := range config.Sources {
		if src.Name == "" || src.URL == "" {
			return fmt.Errorf("sources[%d]: name and url are required", i)
		}
		switch src.Kind {
		case "feed", "blog":
		default:
			return fmt.Errorf("sources[%d] %s: kind must be feed or blog", i, src.Name)
		}
		switch src.Type {
		case "video", "blog":
		default:
			return fmt.Errorf("sources[%d] %s: type must be video or blog", i, src.Name)
		}
		if src.Kind == "blog" && src.ItemSelector == "" {
			return fmt.Errorf("sources[%d] %s: blog sources need item_selector", i, src.Name)
		}
	}
	return nil
}

// Location returns the scheduler's time zone. Validation guarantees the
// name parses, so a lookup failure here falls back to UTC.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Scheduler.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Tick returns the parsed scheduler tick interval.
func (c *Config) Tick() time.Duration {
	d, err := time.ParseDuration(c.Scheduler.Tick)
	if err != nil {
		return time.Minute
	}
	return d
}

// GeminiTimeout returns the parsed per-call summarization timeout.
func (c *Config) GeminiTimeout() time.Duration {
	d, err := time.ParseDuration(c.Gemini.Timeout)
	if err != nil {
		return 30 * time.Second
	}
	return d
}

// IngestWindow returns the parsed ingestion fetch lookback.
func (c *Config) IngestWindow() time.Duration {
	d, err := time.ParseDuration(c.Ingest.Window)
	if err != nil {
		return 24 * time.Hour
	}
	return d
}

// IngestInterval returns the parsed spacing between ingestion passes.
func (c *Config) IngestInterval() time.Duration {
	d, err := time.ParseDuration(c.Ingest.Interval)
	if err != nil {
		return 15 * time.Minute
	}
	return d
}
