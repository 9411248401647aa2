// Package config loads the bot configuration from a YAML file, .env and the
// environment.
package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"pingguard/model"
	"pingguard/utils/database"
)

// EnvPrefix prefixes every environment override, e.g. PINGGUARD_PING_BLOCK_TIMEOUT.
const EnvPrefix = "PINGGUARD"

func setDefaults(v *viper.Viper) {
	v.SetDefault("token", "")
	v.SetDefault("prefix", "!")
	v.SetDefault("guild", "")
	v.SetDefault("log_channel_id", "")
	v.SetDefault("owners", []string{})
	v.SetDefault("moderator_roles", []string{})

	v.SetDefault("database.driver", database.DriverSQLite)
	v.SetDefault("database.dsn", "data/pingguard.db")
	v.SetDefault("database.max_open_conns", 0)

	v.SetDefault("ping.block_timeout", 15*time.Minute)
	v.SetDefault("ping.notify_timeout", 15*time.Minute)
	v.SetDefault("ping.debounce_delay", 5*time.Second)
	v.SetDefault("ping.extend_default", 15*time.Minute)
	v.SetDefault("ping.notify_channels", []string{})
	v.SetDefault("ping.notify_roles", []string{})

	v.SetDefault("guard.excluded_channels", []string{})
	v.SetDefault("guard.notice_delete_after", 10*time.Second)

	v.SetDefault("punish.lenient_roles", []string{})
	v.SetDefault("punish.muted_role", "")
	v.SetDefault("punish.dry_run", false)
	v.SetDefault("punish.history_expiry", 30*24*time.Hour)
	v.SetDefault("punish.ban_delete_days", 0)
	v.SetDefault("punish.cooldown", time.Duration(0))
	v.SetDefault("punish.embed_color", "#E74C3C")

	v.SetDefault("sync.interval", time.Minute)
	v.SetDefault("sync.full_every", 10)
	v.SetDefault("sync.concurrency", 8)
	v.SetDefault("sync.lift_rate", 5.0)

	v.SetDefault("metrics.addr", "")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)
}

// Load reads the configuration. path may be empty, in which case the CONFIG
// environment variable is used, then ./config.yml and ./data/config.yml if
// present. BOT_TOKEN and LOG_CHANNEL_ID are honoured when the file leaves
// them unset.
func Load(path string) (*model.Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Println("Info: .env file not found, relying on environment variables")
	}

	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path == "" {
		path = os.Getenv("CONFIG")
	}
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("data")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	cfg := &model.Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	if cfg.BotToken == "" {
		cfg.BotToken = os.Getenv("BOT_TOKEN")
	}
	if cfg.LogChannelID == "" {
		cfg.LogChannelID = os.Getenv("LOG_CHANNEL_ID")
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the settings that have no usable default.
func Validate(cfg *model.Config) error {
	if cfg.BotToken == "" {
		return errors.New("BOT_TOKEN environment variable not set")
	}
	if cfg.Prefix == "" {
		return errors.New("prefix must not be empty")
	}
	switch cfg.Database.Driver {
	case database.DriverSQLite, database.DriverPostgres:
	default:
		return fmt.Errorf("database driver %q is not supported", cfg.Database.Driver)
	}
	if cfg.Ping.BlockTimeout <= 0 {
		return errors.New("ping.block_timeout must be positive")
	}
	if cfg.Punish.BanDeleteDays < 0 || cfg.Punish.BanDeleteDays > 7 {
		return errors.New("punish.ban_delete_days must be between 0 and 7")
	}
	return nil
}
