package handlers

import (
	"context"
	"time"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"

	"pingguard/bot"
	"pingguard/handlers/commands"
)

const messageTimeout = 30 * time.Second

// Register builds the router for b and attaches the gateway handlers.
func Register(b *bot.Bot) *Router {
	cmds := commands.New(commands.Deps{
		Config:   b,
		Platform: b.Platform,
		Store:    b.Store,
		Database: b.Store,
		Rules:    b.Rules,
		Tracker:  b.Tracker,
		Pardoner: b.Sync,
		Latency:  b.Session.HeartbeatLatency,
		Started:  time.Now(),
		Logger:   b.Logger,
	})
	router := NewRouter(b, b.Tracker, b.Guard, cmds, b.Platform, b.Logger)
	addHandlers(b, router)
	return router
}

// Stop cancels the router's pending reply deletions.
func (r *Router) Stop() {
	r.commands.Stop()
}

func addHandlers(b *bot.Bot, router *Router) {
	b.Session.AddHandler(func(s *discordgo.Session, r *discordgo.Ready) {
		b.Logger.Info("logged in", zap.String("user", s.State.User.Username), zap.Int("guilds", len(r.Guilds)))
	})
	b.Session.AddHandler(func(s *discordgo.Session, m *discordgo.MessageCreate) {
		ctx, cancel := context.WithTimeout(context.Background(), messageTimeout)
		defer cancel()
		router.HandleMessage(ctx, m.Message)
	})
}
