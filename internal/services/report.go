// Package services contains business logic layers.
// Services are called by handlers and own the in-memory collections.
package services

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/civicpulse/civicpulse-server/internal/geo"
	"github.com/civicpulse/civicpulse-server/internal/models"
	"github.com/civicpulse/civicpulse-server/internal/state"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// TicketPrefix starts every ticket code.
const TicketPrefix = "CP"

// ReportRepository is the report store as seen by handlers.
type ReportRepository interface {
	// Submit creates a report, or returns the earlier report created with
	// the same idempotency key. created is false in that case.
	Submit(ctx context.Context, in *models.ReportInput) (report *models.Report, created bool, err error)
	Create(ctx context.Context, in *models.ReportInput) (*models.Report, error)
	Get(ctx context.Context, id string) (*models.Report, error)
	List(ctx context.Context, f models.ReportFilter) ([]models.Report, error)
	SetStatus(ctx context.Context, id, status string) (*models.Report, error)
	// ChangeStatus is SetStatus that also returns the status replaced.
	ChangeStatus(ctx context.Context, id, status string) (report *models.Report, previous models.Status, err error)
	All(ctx context.Context) ([]models.Report, error)
}

// ReportService is an ordered in-memory report collection. Every mutation
// is written through to the state store as a full snapshot before it is
// applied, so memory and the durable copy never disagree.
type ReportService struct {
	mu     sync.RWMutex
	order  []string
	byID   map[string]*models.Report
	byKey  map[string]string // idempotency key -> report id
	state  state.Store
	now    func() time.Time
	logger *zap.SugaredLogger
}

var _ ReportRepository = (*ReportService)(nil)

// NewReportService creates a report service persisting into st.
func NewReportService(st state.Store, logger *zap.SugaredLogger) *ReportService {
	return &ReportService{
		byID:   make(map[string]*models.Report),
		byKey:  make(map[string]string),
		state:  st,
		now:    time.Now,
		logger: logger,
	}
}

// SetClock overrides the time source (for testing).
func (s *ReportService) SetClock(now func() time.Time) {
	s.now = now
}

// Restore loads the persisted snapshot, normalizing legacy statuses.
// A missing snapshot leaves the store empty.
func (s *ReportService) Restore(ctx context.Context) error {
	var saved []models.Report
	if err := s.state.Load(ctx, state.KeyReports, &saved); err != nil {
		if errors.Is(err, state.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("restore reports: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.order = s.order[:0]
	s.byID = make(map[string]*models.Report, len(saved))
	s.byKey = make(map[string]string)

	for i := range saved {
		r := saved[i]
		if r.ID == "" {
			continue
		}
		if _, dup := s.byID[r.ID]; dup {
			s.logger.Warnw("Duplicate report id in snapshot", "id", r.ID)
			continue
		}
		status, err := ParseStatus(string(r.Status))
		if err != nil {
			s.logger.Warnw("Unknown status in snapshot, reopening report", "id", r.ID, "status", r.Status)
			status = models.StatusOpen
		}
		r.Status = status
		if priority, err := ParsePriority(string(r.Priority)); err == nil {
			r.Priority = priority
		} else {
			r.Priority = models.PriorityMedium
		}
		if r.UpdatedAt.Before(r.CreatedAt) {
			r.UpdatedAt = r.CreatedAt
		}
		s.order = append(s.order, r.ID)
		s.byID[r.ID] = &r
		if r.IdempotencyKey != "" {
			s.byKey[r.IdempotencyKey] = r.ID
		}
	}

	s.logger.Infow("Reports restored", "count", len(s.order))
	return nil
}

// Create stores a new report.
func (s *ReportService) Create(ctx context.Context, in *models.ReportInput) (*models.Report, error) {
	r, _, err := s.Submit(ctx, in)
	return r, err
}

// Submit validates the input, assigns identifiers and appends the report.
func (s *ReportService) Submit(ctx context.Context, in *models.ReportInput) (*models.Report, bool, error) {
	if err := validateInput(in); err != nil {
		return nil, false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if in.IdempotencyKey != "" {
		if id, ok := s.byKey[in.IdempotencyKey]; ok {
			existing := *s.byID[id]
			return &existing, false, nil
		}
	}

	now := s.now().UTC()
	owner := strings.TrimSpace(in.UserID)
	if owner == "" {
		owner = models.AnonymousOwner
	}

	priority, _ := ParsePriority(string(in.Priority))
	address := strings.TrimSpace(in.Address)
	if address == "" {
		address = CoordinateAddress(*in.Coordinate)
	}

	report := models.Report{
		ID:                      uuid.NewString(),
		TicketID:                TicketCode(now),
		Description:             strings.TrimSpace(in.Description),
		Category:                strings.TrimSpace(in.Category),
		Latitude:                in.Coordinate.Latitude,
		Longitude:               in.Coordinate.Longitude,
		Address:                 address,
		Landmark:                strings.TrimSpace(in.Landmark),
		CitizenName:             strings.TrimSpace(in.CitizenName),
		CitizenPhone:            strings.TrimSpace(in.CitizenPhone),
		Photo:                   in.Photo,
		UserID:                  owner,
		Status:                  models.StatusOpen,
		Priority:                priority,
		CreatedAt:               now,
		UpdatedAt:               now,
		EstimatedResolutionDays: EstimatedResolutionDays(strings.TrimSpace(in.Category)),
		IdempotencyKey:          in.IdempotencyKey,
	}

	snapshot := append(s.snapshotLocked(), report)
	if err := s.state.Save(ctx, state.KeyReports, snapshot); err != nil {
		return nil, false, fmt.Errorf("persist report: %w", err)
	}

	s.order = append(s.order, report.ID)
	stored := report
	s.byID[report.ID] = &stored
	if report.IdempotencyKey != "" {
		s.byKey[report.IdempotencyKey] = report.ID
	}

	s.logger.Infow("Report created",
		"id", report.ID,
		"ticket", report.TicketID,
		"category", report.Category,
		"anonymous", owner == models.AnonymousOwner,
	)
	return &report, true, nil
}

// Get returns a copy of the report with the given id.
func (s *ReportService) Get(_ context.Context, id string) (*models.Report, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.byID[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	out := *r
	return &out, nil
}

// List returns matching reports in insertion order. Nearby results are not
// sorted by distance.
func (s *ReportService) List(_ context.Context, f models.ReportFilter) ([]models.Report, error) {
	match, err := compileFilter(f)
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.Report, 0, len(s.order))
	for _, id := range s.order {
		r := s.byID[id]
		if match(r) {
			out = append(out, *r)
		}
	}
	return out, nil
}

// All returns every report in insertion order.
func (s *ReportService) All(ctx context.Context) ([]models.Report, error) {
	return s.List(ctx, models.ReportFilter{Kind: models.FilterAll})
}

// SetStatus moves a report to any accepted status. Backward moves such as
// resolved → open are allowed.
func (s *ReportService) SetStatus(ctx context.Context, id, status string) (*models.Report, error) {
	r, _, err := s.ChangeStatus(ctx, id, status)
	return r, err
}

// ChangeStatus applies a status change and returns the updated report with
// the status it replaced, read under the same lock as the write.
func (s *ReportService) ChangeStatus(ctx context.Context, id, status string) (*models.Report, models.Status, error) {
	next, err := ParseStatus(status)
	if err != nil {
		return nil, "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.byID[id]
	if !ok {
		return nil, "", fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	updated := *current
	updated.Status = next
	updated.UpdatedAt = s.now().UTC()
	if updated.UpdatedAt.Before(updated.CreatedAt) {
		updated.UpdatedAt = updated.CreatedAt
	}

	snapshot := s.snapshotLocked()
	for i := range snapshot {
		if snapshot[i].ID == id {
			snapshot[i] = updated
			break
		}
	}
	if err := s.state.Save(ctx, state.KeyReports, snapshot); err != nil {
		return nil, "", fmt.Errorf("persist status: %w", err)
	}

	previous := current.Status
	*current = updated

	s.logger.Infow("Report status changed",
		"id", id,
		"from", previous,
		"to", next,
	)
	out := updated
	return &out, previous, nil
}

// Count returns the number of stored reports.
func (s *ReportService) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.order)
}

// snapshotLocked copies the collection in order. Caller holds s.mu.
func (s *ReportService) snapshotLocked() []models.Report {
	out := make([]models.Report, 0, len(s.order)+1)
	for _, id := range s.order {
		out = append(out, *s.byID[id])
	}
	return out
}

// TicketCode derives the display code from the last six digits of the
// creation time in Unix milliseconds.
func TicketCode(t time.Time) string {
	return fmt.Sprintf("%s%06d", TicketPrefix, t.UnixMilli()%1_000_000)
}

func validateInput(in *models.ReportInput) error {
	if in == nil {
		return fmt.Errorf("%w: empty submission", ErrValidationFailed)
	}
	var missing []string
	if strings.TrimSpace(in.Description) == "" {
		missing = append(missing, "description")
	}
	if strings.TrimSpace(in.Category) == "" {
		missing = append(missing, "category")
	}
	if in.Coordinate == nil {
		missing = append(missing, "latitude", "longitude")
	}
	if strings.TrimSpace(in.Photo) == "" {
		missing = append(missing, "photo")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing required fields: %s", ErrValidationFailed, strings.Join(missing, ", "))
	}
	if !geo.ValidCoordinate(in.Coordinate.Latitude, in.Coordinate.Longitude) {
		return fmt.Errorf("%w: coordinate (%v, %v) out of range",
			ErrValidationFailed, in.Coordinate.Latitude, in.Coordinate.Longitude)
	}
	if _, err := ParsePriority(string(in.Priority)); err != nil {
		return err
	}
	return nil
}

// ParsePriority accepts low, medium or high in any case. Empty means medium.
func ParsePriority(s string) (models.Priority, error) {
	switch p := models.Priority(strings.ToLower(strings.TrimSpace(s))); p {
	case "":
		return models.PriorityMedium, nil
	case models.PriorityLow, models.PriorityMedium, models.PriorityHigh:
		return p, nil
	}
	return "", fmt.Errorf("%w: unknown priority %q", ErrValidationFailed, s)
}

// CoordinateAddress is the address recorded when a report has none.
func CoordinateAddress(c models.Coordinate) string {
	return fmt.Sprintf("%.6f, %.6f", c.Latitude, c.Longitude)
}

// compileFilter turns a filter into a predicate, rejecting filters that
// cannot match anything meaningful.
func compileFilter(f models.ReportFilter) (func(*models.Report) bool, error) {
	var base func(*models.Report) bool

	switch f.Kind {
	case "", models.FilterAll:
		base = func(*models.Report) bool { return true }
	case models.FilterMine:
		owner := strings.TrimSpace(f.OwnerID)
		if owner == "" {
			return nil, fmt.Errorf("%w: owner is required for filter %q", ErrValidationFailed, f.Kind)
		}
		base = func(r *models.Report) bool { return r.UserID == owner }
	case models.FilterNearby:
		radius := f.RadiusKm
		if radius == 0 {
			radius = models.DefaultNearbyRadiusKm
		}
		if math.IsNaN(radius) || radius < 0 {
			return nil, fmt.Errorf("%w: radius must be positive", ErrValidationFailed)
		}
		center := f.Center
		if !geo.ValidCoordinate(center.Latitude, center.Longitude) {
			return nil, fmt.Errorf("%w: reference coordinate out of range", ErrValidationFailed)
		}
		base = func(r *models.Report) bool {
			d := geo.DistanceKm(center.Latitude, center.Longitude, r.Latitude, r.Longitude)
			return !math.IsNaN(d) && d <= radius
		}
	default:
		return nil, fmt.Errorf("%w: unknown filter %q", ErrValidationFailed, f.Kind)
	}

	q := strings.ToLower(strings.TrimSpace(f.Query))
	if q == "" {
		return base, nil
	}
	return func(r *models.Report) bool {
		return base(r) && matchesQuery(r, q)
	}, nil
}

func matchesQuery(r *models.Report, q string) bool {
	return strings.Contains(strings.ToLower(r.Description), q) ||
		strings.Contains(strings.ToLower(r.Category), q) ||
		strings.Contains(strings.ToLower(r.Address), q)
}
