package commands

import (
	"fmt"
	"runtime"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"
	"go.uber.org/zap"

	"pingguard/utils"
)

func (s *Set) status(inv *Invocation) error {
	cpuCount, _ := cpu.Counts(true)
	cpuUsage := "unknown"
	if percent, err := cpu.Percent(0, false); err == nil && len(percent) > 0 {
		cpuUsage = fmt.Sprintf("%.1f%%", percent[0])
	}

	memory := "unknown"
	if vm, err := mem.VirtualMemory(); err == nil {
		memory = fmt.Sprintf("%.1f%% (%d MB / %d MB)", vm.UsedPercent, vm.Used/1024/1024, vm.Total/1024/1024)
	}

	osVersion, kernel := "unknown", "unknown"
	if info, err := host.Info(); err == nil {
		osVersion = fmt.Sprintf("%s %s", info.Platform, info.PlatformVersion)
		kernel = info.KernelVersion
	}

	database := "not configured"
	if s.deps.Database != nil {
		open, inUse := s.deps.Database.Stats()
		health := "ok"
		if err := s.deps.Database.Ping(inv.Ctx); err != nil {
			s.logger.Warn("database ping failed", zap.Error(err))
			health = "unreachable"
		}
		database = fmt.Sprintf("%s, %s (%d open, %d in use)", s.deps.Database.Driver(), health, open, inUse)
	}

	pingable := 0
	now := s.now()
	for _, until := range s.deps.Tracker.Snapshot() {
		if now.Before(until) {
			pingable++
		}
	}

	embed := &discordgo.MessageEmbed{
		Title: "System Status",
		Color: 0x5865F2,
		Fields: []*discordgo.MessageEmbedField{
			{Name: "💻 OS", Value: osVersion, Inline: true},
			{Name: "🔧 Kernel", Value: kernel, Inline: true},
			{Name: "🐹 Go", Value: runtime.Version(), Inline: true},
			{Name: "🔼 CPUs", Value: fmt.Sprintf("%d", cpuCount), Inline: true},
			{Name: "🔥 CPU usage", Value: cpuUsage, Inline: true},
			{Name: "🧠 Memory", Value: memory, Inline: true},
			{Name: "🗃️ Database", Value: database, Inline: true},
			{Name: "⏱️ WebSocket latency", Value: s.latency().String(), Inline: true},
			{Name: "🚀 Goroutines", Value: fmt.Sprintf("%d", runtime.NumGoroutine()), Inline: true},
			{Name: "📜 Rules loaded", Value: fmt.Sprintf("%d", s.deps.Rules.Len()), Inline: true},
			{Name: "👀 Pingable now", Value: fmt.Sprintf("%d", pingable), Inline: true},
			{Name: "💾 Pending writes", Value: fmt.Sprintf("%d", s.deps.Tracker.PendingWrites()), Inline: true},
		},
		Footer: &discordgo.MessageEmbedFooter{
			Text: fmt.Sprintf("Up for %s", utils.FormatDuration(now.Sub(s.deps.Started))),
		},
	}
	return s.send(inv, "", embed)
}

func (s *Set) latency() time.Duration {
	if s.deps.Latency == nil {
		return 0
	}
	return s.deps.Latency()
}

func (s *Set) ping(inv *Invocation) error {
	_, err := utils.Reply(inv.Ctx, s.deps.Platform, inv.Message,
		fmt.Sprintf("Pong! Bot latency %dms.", s.latency().Milliseconds()))
	return err
}
