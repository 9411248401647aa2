package model

import "time"

// DatabaseConfig selects the SQL driver and connection string.
type DatabaseConfig struct {
	Driver       string `mapstructure:"driver"` // "sqlite3" or "pgx"
	DSN          string `mapstructure:"dsn"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
}

// PingConfig drives the ping-eligibility tracker.
type PingConfig struct {
	BlockTimeout   time.Duration `mapstructure:"block_timeout"`
	NotifyTimeout  time.Duration `mapstructure:"notify_timeout"`
	DebounceDelay  time.Duration `mapstructure:"debounce_delay"`
	ExtendDefault  time.Duration `mapstructure:"extend_default"`
	NotifyChannels []string      `mapstructure:"notify_channels"`
	NotifyRoles    []string      `mapstructure:"notify_roles"`
}

// GuardConfig drives the mention guard.
type GuardConfig struct {
	ExcludedChannels  []string      `mapstructure:"excluded_channels"`
	NoticeDeleteAfter time.Duration `mapstructure:"notice_delete_after"`
}

// PunishConfig drives the punishment engine.
type PunishConfig struct {
	LenientRoles  []string      `mapstructure:"lenient_roles"`
	MutedRole     string        `mapstructure:"muted_role"`
	DryRun        bool          `mapstructure:"dry_run"`
	HistoryExpiry time.Duration `mapstructure:"history_expiry"`
	BanDeleteDays int           `mapstructure:"ban_delete_days"`
	Cooldown      time.Duration `mapstructure:"cooldown"`    // zero disables
	EmbedColor    string        `mapstructure:"embed_color"` // hex, e.g. "#E74C3C"
}

// SyncConfig drives the reconciliation loop.
type SyncConfig struct {
	Interval    time.Duration `mapstructure:"interval"`
	FullEvery   int           `mapstructure:"full_every"`
	Concurrency int           `mapstructure:"concurrency"`
	LiftRate    float64       `mapstructure:"lift_rate"` // lifts per second, zero is unlimited
}

type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

type LogConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

// Config stores the application configuration.
type Config struct {
	BotToken       string         `mapstructure:"token"`
	Prefix         string         `mapstructure:"prefix"`
	GuildID        string         `mapstructure:"guild"`
	LogChannelID   string         `mapstructure:"log_channel_id"`
	Owners         []string       `mapstructure:"owners"`
	ModeratorRoles []string       `mapstructure:"moderator_roles"`
	Database       DatabaseConfig `mapstructure:"database"`
	Ping           PingConfig     `mapstructure:"ping"`
	Guard          GuardConfig    `mapstructure:"guard"`
	Punish         PunishConfig   `mapstructure:"punish"`
	Sync           SyncConfig     `mapstructure:"sync"`
	Metrics        MetricsConfig  `mapstructure:"metrics"`
	Log            LogConfig      `mapstructure:"log"`
}
