// Package offline holds reports that could not be delivered and replays
// them once the API is reachable again.
package offline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/civicpulse/civicpulse-server/internal/geo"
	"github.com/civicpulse/civicpulse-server/internal/models"
	"github.com/civicpulse/civicpulse-server/internal/services"
	"github.com/civicpulse/civicpulse-server/internal/state"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	// ErrSyncFailure marks a flush that stopped early. Nothing was removed.
	ErrSyncFailure = errors.New("sync failed")
	// ErrInvalidReport rejects pending reports the server would never accept.
	ErrInvalidReport = errors.New("invalid pending report")
)

// SubmitFunc delivers one pending report.
type SubmitFunc func(ctx context.Context, p models.PendingReport) error

// Queue is a durable FIFO of pending reports. Every change is saved to the
// state store before it is applied in memory.
type Queue struct {
	mu    sync.Mutex // held for the whole of a flush
	items []models.PendingReport

	statusMu sync.Mutex
	online   bool

	state  state.Store
	submit SubmitFunc
	now    func() time.Time
	logger *zap.SugaredLogger
}

// NewQueue restores any pending reports saved in st. submit is used for the
// automatic flush on reconnect and may be nil.
func NewQueue(ctx context.Context, st state.Store, submit SubmitFunc, logger *zap.SugaredLogger) (*Queue, error) {
	q := &Queue{
		state:  st,
		submit: submit,
		now:    time.Now,
		logger: logger,
	}

	var saved []models.PendingReport
	err := st.Load(ctx, state.KeyPending, &saved)
	switch {
	case errors.Is(err, state.ErrNotFound):
	case err != nil:
		return nil, fmt.Errorf("load pending reports: %w", err)
	default:
		q.items = saved
	}
	if len(q.items) > 0 {
		logger.Infow("Pending reports restored", "count", len(q.items))
	}
	return q, nil
}

// Enqueue appends p and persists the queue. A missing idempotency key is
// generated; the stored copy is returned.
func (q *Queue) Enqueue(ctx context.Context, p models.PendingReport) (models.PendingReport, error) {
	if err := validatePending(&p); err != nil {
		return models.PendingReport{}, err
	}
	if p.IdempotencyKey == "" {
		p.IdempotencyKey = uuid.NewString()
	}
	if p.QueuedAt.IsZero() {
		p.QueuedAt = q.now().UTC()
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	next := append(q.snapshotLocked(), p)
	if err := q.state.Save(ctx, state.KeyPending, next); err != nil {
		return models.PendingReport{}, fmt.Errorf("persist pending report: %w", err)
	}
	q.items = next

	q.logger.Infow("Report queued", "key", p.IdempotencyKey, "category", p.Category, "queued", len(q.items))
	return p, nil
}

// Flush submits every queued report in order. The queue and its durable
// copy are cleared only when all of them succeed; on the first failure both
// are left as they were and the error wraps ErrSyncFailure.
func (q *Queue) Flush(ctx context.Context, submit SubmitFunc) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	total := len(q.items)
	if total == 0 {
		return 0, nil
	}

	for i, p := range q.items {
		if err := ctx.Err(); err != nil {
			return i, fmt.Errorf("%w: %w", ErrSyncFailure, err)
		}
		if err := submit(ctx, p); err != nil {
			q.logger.Warnw("Flush stopped",
				"key", p.IdempotencyKey,
				"position", i+1,
				"queued", total,
				"error", err,
			)
			return i, fmt.Errorf("%w: report %d of %d: %w", ErrSyncFailure, i+1, total, err)
		}
	}

	if err := q.state.Delete(ctx, state.KeyPending); err != nil {
		return total, fmt.Errorf("%w: clear pending reports: %w", ErrSyncFailure, err)
	}
	q.items = nil

	q.logger.Infow("Pending reports flushed", "count", total)
	return total, nil
}

// Discard removes one report by idempotency key. It returns false when no
// report has that key.
func (q *Queue) Discard(ctx context.Context, key string) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	next := make([]models.PendingReport, 0, len(q.items))
	for _, p := range q.items {
		if p.IdempotencyKey != key {
			next = append(next, p)
		}
	}
	if len(next) == len(q.items) {
		return false, nil
	}

	var err error
	if len(next) == 0 {
		err = q.state.Delete(ctx, state.KeyPending)
	} else {
		err = q.state.Save(ctx, state.KeyPending, next)
	}
	if err != nil {
		return false, fmt.Errorf("persist pending reports: %w", err)
	}
	q.items = next
	return true, nil
}

// SetOnline records a connectivity signal. Going from offline to online
// triggers one flush with the queue's submit function.
func (q *Queue) SetOnline(ctx context.Context, online bool) (int, error) {
	q.statusMu.Lock()
	wasOnline := q.online
	q.online = online
	q.statusMu.Unlock()

	if wasOnline != online {
		q.logger.Infow("Connectivity changed", "online", online)
	}
	if wasOnline || !online || q.submit == nil {
		return 0, nil
	}
	return q.Flush(ctx, q.submit)
}

// Online reports the last connectivity signal.
func (q *Queue) Online() bool {
	q.statusMu.Lock()
	defer q.statusMu.Unlock()
	return q.online
}

// Pending returns a copy of the queued reports in order.
func (q *Queue) Pending() []models.PendingReport {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.snapshotLocked()
}

// Len returns the number of queued reports.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func (q *Queue) snapshotLocked() []models.PendingReport {
	out := make([]models.PendingReport, len(q.items), len(q.items)+1)
	copy(out, q.items)
	return out
}

func validatePending(p *models.PendingReport) error {
	var missing []string
	if strings.TrimSpace(p.Description) == "" {
		missing = append(missing, "description")
	}
	if strings.TrimSpace(p.Category) == "" {
		missing = append(missing, "category")
	}
	if len(p.PhotoData) == 0 && p.PhotoURL == "" {
		missing = append(missing, "photo")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", ErrInvalidReport, strings.Join(missing, ", "))
	}
	if !geo.ValidCoordinate(p.Latitude, p.Longitude) {
		return fmt.Errorf("%w: coordinate (%v, %v) out of range", ErrInvalidReport, p.Latitude, p.Longitude)
	}
	if _, err := services.ParsePriority(string(p.Priority)); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidReport, err)
	}
	return nil
}
