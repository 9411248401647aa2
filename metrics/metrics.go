// Package metrics holds the Prometheus collectors of the bot.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

var MessagesHandled = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "pingguard_messages_handled_total",
	Help: "Number of inbound messages by classification",
}, []string{"kind"})

var MentionsBlocked = promauto.NewCounter(prometheus.CounterOpts{
	Name: "pingguard_mentions_blocked_total",
	Help: "Number of messages deleted for mentioning a protected user or role",
})

var Punishments = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "pingguard_punishments_total",
	Help: "Number of punishments handed out",
}, []string{"type", "result"})

var PunishmentsLifted = promauto.NewCounter(prometheus.CounterOpts{
	Name: "pingguard_punishments_lifted_total",
	Help: "Number of punishments lifted by reconciliation",
})

var LiftFailures = promauto.NewCounter(prometheus.CounterOpts{
	Name: "pingguard_lift_failures_total",
	Help: "Number of failed attempts to lift a punishment",
})

var SyncDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Name:    "pingguard_sync_duration_seconds",
	Help:    "Duration of reconciliation sweeps",
	Buckets: prometheus.DefBuckets,
}, []string{"full"})

var RulesLoaded = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "pingguard_rules_loaded",
	Help: "Number of active punishment rules in the cache",
})

// Serve exposes /metrics on addr until ctx is done.
func Serve(ctx context.Context, addr string, logger *zap.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("serving metrics", zap.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
