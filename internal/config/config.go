package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

// RCConfig holds the application configuration
type RCConfig struct {
	Database struct {
		Host     string `mapstructure:"host"`
		Port     int    `mapstructure:"port"`
		User     string `mapstructure:"user"`
		Password string `mapstructure:"password"`
		Name     string `mapstructure:"name"`
		SSLMode  string `mapstructure:"sslmode"`
	} `mapstructure:"database"`

	Server struct {
		Host string `mapstructure:"host"`
		Port int    `mapstructure:"port"`
	} `mapstructure:"server"`

	Queue struct {
		Host     string `mapstructure:"host"`
		Password string `mapstructure:"password"`
		DB       int    `mapstructure:"db"`
	} `mapstructure:"queue"`

	Nats struct {
		URL     string `mapstructure:"url"`
		Stream  string `mapstructure:"stream"`
		Subject string `mapstructure:"subject"`
	} `mapstructure:"nats"`

	Relay struct {
		Sink            string `mapstructure:"sink"` // either "redis" or "nats"
		PollIntervalSec int    `mapstructure:"poll_interval_sec"`
		BatchSize       int    `mapstructure:"batch_size"`
		MaxRetries      int    `mapstructure:"max_retries"`
	} `mapstructure:"relay"`

	Reaper struct {
		Schedule        string `mapstructure:"schedule"`
		MaxAgeMinutes   int    `mapstructure:"max_age_minutes"`
		MessageTemplate string `mapstructure:"message_template"`
	} `mapstructure:"reaper"`

	Admin struct {
		Token string `mapstructure:"token"`
	} `mapstructure:"admin"`

	Trigger struct {
		RequireTrustedAuthor bool `mapstructure:"require_trusted_author"`
	} `mapstructure:"trigger"`

	LogLevel  string `mapstructure:"log_level"`
	LogPretty bool   `mapstructure:"log_pretty"`
}

// LoadConfig reads the configuration from a file or environment variables
func LoadConfig(configPaths ...string) (*RCConfig, error) {
	// can specify config path from environment
	if path, exists := os.LookupEnv("REGCI_CONFIG_PATH"); exists {
		configPaths = append(configPaths, path)
	}
	for _, path := range configPaths {
		fi, err := os.Stat(path)
		if errors.Is(err, os.ErrNotExist) {
			continue
		} else if err != nil {
			return nil, err
		}
		mode := fi.Mode()
		switch {
		case mode.IsRegular():
			v := newViper()
			v.SetConfigFile(path)
			config, err := readConfig(v, path)
			if err != nil {
				continue
			}
			return config, nil

		case mode.IsDir():
			v := newViper()
			v.AddConfigPath(path)
			v.SetConfigName("config")
			v.SetConfigType("yaml")
			config, err := readConfig(v, path)
			if err != nil {
				continue
			}
			return config, nil
		}
	}

	v := newViper()
	// finally read from current working directory
	v.AddConfigPath(".")
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	cwd, _ := os.Getwd()

	config, err := readConfig(v, cwd)
	var notFound viper.ConfigFileNotFoundError
	if errors.As(err, &notFound) {
		// no config file anywhere, run on defaults and environment variables only
		var defaults RCConfig
		if err := v.Unmarshal(&defaults); err != nil {
			return nil, err
		}
		return &defaults, nil
	}
	if err != nil {
		return nil, err
	}
	return config, nil
}

func newViper() *viper.Viper {
	v := viper.New()

	// Database defaults
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "postgres")
	v.SetDefault("database.name", "regci")
	v.SetDefault("database.sslmode", "disable")

	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)

	v.SetDefault("queue.host", "localhost:6379")
	v.SetDefault("queue.password", "redis")
	v.SetDefault("queue.db", 0)

	v.SetDefault("nats.url", "nats://localhost:4222")
	v.SetDefault("nats.stream", "REGCI")
	v.SetDefault("nats.subject", "regci.notifications")

	// Relay defaults
	v.SetDefault("relay.sink", "redis")
	v.SetDefault("relay.poll_interval_sec", 5)
	v.SetDefault("relay.batch_size", 50)
	v.SetDefault("relay.max_retries", 3)

	// Reaper defaults. A max age of 0 disables reaping
	v.SetDefault("reaper.schedule", "@every 5m")
	v.SetDefault("reaper.max_age_minutes", 0)
	v.SetDefault("reaper.message_template", "Run {0} was cancelled because it exceeded the time limit")

	v.SetDefault("admin.token", "")
	v.SetDefault("trigger.require_trusted_author", false)

	v.SetDefault("log_level", "info")
	v.SetDefault("log_pretty", false)

	v.SetEnvPrefix("REGCI")                            // Prefix for environment variables
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_")) // Replace dots with underscores in env vars
	v.AutomaticEnv()                                   // Read environment variables

	return v
}

func readConfig(v *viper.Viper, path string) (*RCConfig, error) {
	var config RCConfig

	if err := v.ReadInConfig(); err != nil {
		log.Warn().
			Str("path", path).
			Msg("Could not read config file")
		return nil, err
	}
	if err := v.Unmarshal(&config); err != nil {
		log.Warn().
			Str("path", path).
			Msg("Could not unmarshall config")
		return nil, err
	}

	return &config, nil
}

// GetDatabaseURL returns a formatted database connection string
func (c *RCConfig) GetDatabaseURL() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.Database.User,
		c.Database.Password,
		c.Database.Host,
		c.Database.Port,
		c.Database.Name,
		c.Database.SSLMode,
	)
}

// ServerAddress returns the host:port the HTTP server listens on
func (c *RCConfig) ServerAddress() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// RelayPollInterval is the time between two outbox drains
func (c *RCConfig) RelayPollInterval() time.Duration {
	if c.Relay.PollIntervalSec <= 0 {
		return time.Second
	}
	return time.Duration(c.Relay.PollIntervalSec) * time.Second
}

// ConfigureLogging sets the global zerolog level and output from the config. An unknown
// level falls back to info.
func (c *RCConfig) ConfigureLogging() {
	level, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(c.LogLevel)))
	if err != nil || level == zerolog.NoLevel {
		log.Warn().Str("log_level", c.LogLevel).Msg("Unknown log level, using info")
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if c.LogPretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}
}
