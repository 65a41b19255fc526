package workers

import (
	"context"
	"log/slog"
	"time"

	"chat-gateway/contract"
	"chat-gateway/observability"
)

// ConnectionCounter reports the number of live connections, decoupled
// from the gateway type so the worker stays testable in isolation.
type ConnectionCounter interface {
	ConnectionCount() int
}

// StatsWorker periodically samples the registry and the connection table
// into gauges. Reading the counts only takes the registry's read lock
// for the duration of a map length lookup, so sampling cannot interfere
// with fanout.
type StatsWorker struct {
	log         *slog.Logger
	registry    contract.Registry
	connections ConnectionCounter
	metrics     *observability.Metrics
	interval    time.Duration
}

func NewStatsWorker(log *slog.Logger, registry contract.Registry,
	connections ConnectionCounter, metrics *observability.Metrics,
	interval time.Duration) *StatsWorker {
	return &StatsWorker{
		log: log, registry: registry,
		connections: connections,
		metrics:     metrics,
		interval:    interval,
	}
}

func (w *StatsWorker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			w.log.Debug("Context done, stopping stats sampling")
			return nil
		case <-ticker.C:
			topics := w.registry.TopicCount()
			sessions := w.registry.SessionCount()
			connections := w.connections.ConnectionCount()

			w.metrics.Topics.Set(float64(topics))
			w.metrics.Sessions.Set(float64(sessions))
			w.metrics.Connections.Set(float64(connections))

			w.log.Debug("Gateway stats",
				"topics", topics,
				"sessions", sessions,
				"connections", connections)
		}
	}
}
