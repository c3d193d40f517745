package offline

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
)

// ProbeFunc returns nil when the API is reachable.
type ProbeFunc func(ctx context.Context) error

// Monitor periodically probes connectivity and feeds the result to a Queue.
type Monitor struct {
	queue  *Queue
	probe  ProbeFunc
	logger *zap.SugaredLogger
}

// NewMonitor creates a connectivity monitor for q.
func NewMonitor(q *Queue, probe ProbeFunc, logger *zap.SugaredLogger) *Monitor {
	return &Monitor{queue: q, probe: probe, logger: logger}
}

// Start probes once immediately and then every interval until ctx is done.
func (m *Monitor) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	m.check(ctx, interval)

	for {
		select {
		case <-ctx.Done():
			m.logger.Info("Connectivity monitor stopped")
			return
		case <-ticker.C:
			m.check(ctx, interval)
		}
	}
}

func (m *Monitor) check(ctx context.Context, timeout time.Duration) {
	probeCtx, cancel := context.WithTimeout(ctx, timeout)
	err := m.probe(probeCtx)
	cancel()
	if ctx.Err() != nil {
		return
	}
	if err != nil {
		m.logger.Debugw("API unreachable", "error", err)
	}

	n, err := m.queue.SetOnline(ctx, err == nil)
	switch {
	case errors.Is(err, ErrSyncFailure):
		m.logger.Warnw("Automatic flush incomplete", "error", err, "queued", m.queue.Len())
	case err != nil:
		m.logger.Errorw("Automatic flush failed", "error", err)
	case n > 0:
		m.logger.Infow("Automatic flush complete", "count", n)
	}
}
