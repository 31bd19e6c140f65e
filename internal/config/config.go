package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is the prefix of environment variables read automatically.
const EnvPrefix = "IOSWEEP"

// Config holds all application configuration
type Config struct {
	Launcher LauncherConfig `mapstructure:"launcher"`
	Sweep    SweepConfig    `mapstructure:"sweep"`
	Database DatabaseConfig `mapstructure:"database"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
	API      APIConfig      `mapstructure:"api"`
	Archive  ArchiveConfig  `mapstructure:"archive"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// LauncherConfig holds the MPI launcher and benchmark binaries
type LauncherConfig struct {
	Executable string `mapstructure:"executable"`
	Interface  string `mapstructure:"interface"` // network interface for the TCP transport
	PML        string `mapstructure:"pml"`
	BTL        string `mapstructure:"btl"`
	IOR        string `mapstructure:"ior"`
	MDTest     string `mapstructure:"mdtest"`
}

// SweepConfig holds defaults for sweep runs. CLI flags override these.
type SweepConfig struct {
	LogDir   string        `mapstructure:"log_dir"`
	Output   string        `mapstructure:"output"`
	Parquet  string        `mapstructure:"parquet"`
	Cooldown time.Duration `mapstructure:"cooldown"`
	Progress bool          `mapstructure:"progress"`
}

// DatabaseConfig holds database configuration. An empty path disables
// persistence of sweeps.
type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// MetricsConfig holds Prometheus configuration
type MetricsConfig struct {
	// TextfilePath, when set, receives the sweep metrics in the node
	// exporter textfile format after every sweep.
	TextfilePath string `mapstructure:"textfile_path"`
}

// APIConfig holds HTTP server configuration
type APIConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// ArchiveConfig holds SFTP archival configuration
type ArchiveConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	Host           string        `mapstructure:"host"`
	Port           int           `mapstructure:"port"`
	User           string        `mapstructure:"user"`
	KeyFile        string        `mapstructure:"key_file"`
	KnownHosts     string        `mapstructure:"known_hosts"` // empty skips host key checking
	RemoteDir      string        `mapstructure:"remote_dir"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // "json" or "text"
}

// Load loads configuration from file and environment
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	} else {
		v.SetConfigName("iosweep")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.config/iosweep")
		if err := v.ReadInConfig(); err != nil {
			// Config file is optional when not given explicitly
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	bindEnvVars(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	// Launcher defaults
	v.SetDefault("launcher.executable", "mpirun")
	v.SetDefault("launcher.interface", "eth0")
	v.SetDefault("launcher.pml", "ob1")
	v.SetDefault("launcher.btl", "tcp,self")
	v.SetDefault("launcher.ior", "ior")
	v.SetDefault("launcher.mdtest", "mdtest")

	// Sweep defaults
	v.SetDefault("sweep.log_dir", ".")
	v.SetDefault("sweep.cooldown", time.Duration(0))
	v.SetDefault("sweep.progress", false)

	v.SetDefault("database.path", "./data/iosweep.db")

	v.SetDefault("api.host", "0.0.0.0")
	v.SetDefault("api.port", 8080)

	// Archive defaults
	v.SetDefault("archive.enabled", false)
	v.SetDefault("archive.port", 22)
	v.SetDefault("archive.connect_timeout", 30*time.Second)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
}

func bindEnvVars(v *viper.Viper) {
	bindEnv := func(key string, envVar string) {
		if err := v.BindEnv(key, envVar); err != nil {
			slog.Warn("failed to bind environment variable",
				slog.String("key", key),
				slog.String("env_var", envVar),
				slog.String("error", err.Error()))
		}
	}

	bindEnv("launcher.executable", "MPIRUN")

	bindEnv("database.path", "DATABASE_PATH")

	bindEnv("api.host", "SERVER_HOST")
	bindEnv("api.port", "SERVER_PORT")

	bindEnv("logging.level", "LOG_LEVEL")
	bindEnv("logging.format", "LOG_FORMAT")
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Launcher.Executable == "" {
		return fmt.Errorf("launcher.executable cannot be empty")
	}
	if c.Launcher.IOR == "" || c.Launcher.MDTest == "" {
		return fmt.Errorf("launcher.ior and launcher.mdtest cannot be empty")
	}
	if c.Sweep.Cooldown < 0 {
		return fmt.Errorf("sweep.cooldown cannot be negative")
	}
	if c.API.Port <= 0 || c.API.Port > 65535 {
		return fmt.Errorf("api.port must be between 1 and 65535")
	}

	if c.Archive.Enabled {
		if c.Archive.Host == "" {
			return fmt.Errorf("archive.host is required when archival is enabled")
		}
		if c.Archive.User == "" {
			return fmt.Errorf("archive.user is required when archival is enabled")
		}
		if c.Archive.KeyFile == "" {
			return fmt.Errorf("archive.key_file is required when archival is enabled")
		}
		if c.Archive.RemoteDir == "" {
			return fmt.Errorf("archive.remote_dir is required when archival is enabled")
		}
	}

	return nil
}
