package model

// BotConfigProvider provides the bot's current configuration.
type BotConfigProvider interface {
	GetConfig() *Config
}
