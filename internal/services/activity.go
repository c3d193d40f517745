package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/civicpulse/civicpulse-server/internal/models"
	"github.com/civicpulse/civicpulse-server/internal/state"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ActivityLogService keeps the per-report timeline of submissions and status
// changes. Like the report store, every entry is saved to the state store
// before it becomes visible.
type ActivityLogService struct {
	mu       sync.RWMutex
	byReport map[string][]models.ActivityLog
	all      []models.ActivityLog
	state    state.Store
	now      func() time.Time
	logger   *zap.SugaredLogger
}

// NewActivityLogService creates a new activity log service
func NewActivityLogService(st state.Store, logger *zap.SugaredLogger) *ActivityLogService {
	return &ActivityLogService{
		byReport: make(map[string][]models.ActivityLog),
		state:    st,
		now:      time.Now,
		logger:   logger,
	}
}

// SetClock overrides the time source (for testing).
func (s *ActivityLogService) SetClock(now func() time.Time) {
	s.now = now
}

// Restore reloads the saved timelines. A missing snapshot leaves the log empty.
func (s *ActivityLogService) Restore(ctx context.Context) error {
	var saved []models.ActivityLog
	if err := s.state.Load(ctx, state.KeyActivity, &saved); err != nil {
		if errors.Is(err, state.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("restore activity: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.all = s.all[:0]
	s.byReport = make(map[string][]models.ActivityLog)
	for _, e := range saved {
		if e.ReportID == "" || e.Type == "" {
			continue
		}
		s.all = append(s.all, e)
		s.byReport[e.ReportID] = append(s.byReport[e.ReportID], e)
	}

	s.logger.Infow("Activity restored", "count", len(s.all))
	return nil
}

// Log records an entry on a report's timeline.
func (s *ActivityLogService) Log(ctx context.Context, entry *models.ActivityLog) error {
	if entry.ReportID == "" || entry.Type == "" {
		return fmt.Errorf("%w: activity needs report id and type", ErrValidationFailed)
	}

	e := *entry
	e.ID = uuid.NewString()
	if e.CreatedAt.IsZero() {
		e.CreatedAt = s.now().UTC()
	}
	if e.Actor == "" {
		e.Actor = "SYSTEM"
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	next := make([]models.ActivityLog, len(s.all), len(s.all)+1)
	copy(next, s.all)
	next = append(next, e)
	if err := s.state.Save(ctx, state.KeyActivity, next); err != nil {
		return fmt.Errorf("persist activity: %w", err)
	}
	s.all = next
	s.byReport[e.ReportID] = append(s.byReport[e.ReportID], e)

	s.logger.Infow("Activity logged",
		"report", e.ReportID,
		"type", e.Type,
		"actor", e.Actor,
	)
	return nil
}

// FetchByReport returns up to limit entries for a report, newest first.
func (s *ActivityLogService) FetchByReport(_ context.Context, reportID string, limit int) []models.ActivityLog {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return newestFirst(s.byReport[reportID], limit)
}

// FetchRecent returns up to limit entries across all reports, newest first.
func (s *ActivityLogService) FetchRecent(_ context.Context, limit int) []models.ActivityLog {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return newestFirst(s.all, limit)
}

func newestFirst(entries []models.ActivityLog, limit int) []models.ActivityLog {
	n := len(entries)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]models.ActivityLog, 0, n)
	for i := len(entries) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, entries[i])
	}
	return out
}
