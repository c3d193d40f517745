package services

import (
	"context"
	"errors"
	"math"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/civicpulse/civicpulse-server/internal/geo"
	"github.com/civicpulse/civicpulse-server/internal/models"
	"github.com/civicpulse/civicpulse-server/internal/state"
	"go.uber.org/zap"
)

// failingState rejects every Save so tests can check nothing is applied in memory.
type failingState struct {
	*state.MemoryStore
}

func (failingState) Save(context.Context, string, any) error {
	return errors.New("disk full")
}

var testNow = time.Date(2025, 3, 14, 9, 30, 0, 0, time.UTC)

func newTestReportService(t *testing.T, st state.Store) *ReportService {
	t.Helper()
	if st == nil {
		st = state.NewMemoryStore()
	}
	s := NewReportService(st, zap.NewNop().Sugar())
	s.SetClock(func() time.Time { return testNow })
	return s
}

func validInput(category string, lat, lon float64) *models.ReportInput {
	return &models.ReportInput{
		Description: "Large pothole near the bus stop",
		Category:    category,
		Coordinate:  &models.Coordinate{Latitude: lat, Longitude: lon},
		Address:     "Banjara Hills, Hyderabad",
		Photo:       "/uploads/photo-1.jpg",
		UserID:      "session-1",
	}
}

func TestCreateAssignsDefaults(t *testing.T) {
	s := newTestReportService(t, nil)

	r, err := s.Create(context.Background(), validInput("Roads", 17.3850, 78.4867))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if r.ID == "" {
		t.Error("ID is empty")
	}
	if r.Status != models.StatusOpen {
		t.Errorf("Status = %q, want open", r.Status)
	}
	if !r.CreatedAt.Equal(r.UpdatedAt) {
		t.Errorf("CreatedAt %v != UpdatedAt %v", r.CreatedAt, r.UpdatedAt)
	}
	if r.EstimatedResolutionDays != 7 {
		t.Errorf("EstimatedResolutionDays = %d, want 7", r.EstimatedResolutionDays)
	}
	if want := TicketCode(testNow); r.TicketID != want {
		t.Errorf("TicketID = %q, want %q", r.TicketID, want)
	}
	if r.UserID != "session-1" {
		t.Errorf("UserID = %q, want session-1", r.UserID)
	}
	if r.Priority != models.PriorityMedium {
		t.Errorf("Priority = %q, want medium", r.Priority)
	}
}

func TestCreateCitizenDetails(t *testing.T) {
	s := newTestReportService(t, nil)
	in := validInput("Safety", 17.4, 78.5)
	in.Address = ""
	in.CitizenName = " Lakshmi R "
	in.CitizenPhone = "+91 98480 22338"
	in.Priority = "HIGH"

	r, err := s.Create(context.Background(), in)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if r.Address != "17.400000, 78.500000" {
		t.Errorf("Address = %q, want coordinate fallback", r.Address)
	}
	if r.CitizenName != "Lakshmi R" || r.CitizenPhone != "+91 98480 22338" {
		t.Errorf("citizen = %q %q", r.CitizenName, r.CitizenPhone)
	}
	if r.Priority != models.PriorityHigh {
		t.Errorf("Priority = %q, want high", r.Priority)
	}
}

func TestCreateAnonymousOwner(t *testing.T) {
	s := newTestReportService(t, nil)
	in := validInput("Water", 17.38, 78.48)
	in.UserID = "  "

	r, err := s.Create(context.Background(), in)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if r.UserID != models.AnonymousOwner {
		t.Errorf("UserID = %q, want %q", r.UserID, models.AnonymousOwner)
	}
}

func TestCreateUniqueIDs(t *testing.T) {
	s := newTestReportService(t, nil)
	seen := make(map[string]bool)
	for i := 0; i < 50; i++ {
		r, err := s.Create(context.Background(), validInput("Waste", 17.38, 78.48))
		if err != nil {
			t.Fatalf("Create %d: %v", i, err)
		}
		if seen[r.ID] {
			t.Fatalf("duplicate id %s", r.ID)
		}
		seen[r.ID] = true
	}
	if s.Count() != 50 {
		t.Errorf("Count = %d, want 50", s.Count())
	}
}

func TestCreateValidation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(in *models.ReportInput)
	}{
		{"missing description", func(in *models.ReportInput) { in.Description = " " }},
		{"missing category", func(in *models.ReportInput) { in.Category = "" }},
		{"missing coordinate", func(in *models.ReportInput) { in.Coordinate = nil }},
		{"missing photo", func(in *models.ReportInput) { in.Photo = "" }},
		{"latitude too high", func(in *models.ReportInput) { in.Coordinate.Latitude = 90.5 }},
		{"latitude too low", func(in *models.ReportInput) { in.Coordinate.Latitude = -91 }},
		{"longitude too high", func(in *models.ReportInput) { in.Coordinate.Longitude = 180.01 }},
		{"longitude too low", func(in *models.ReportInput) { in.Coordinate.Longitude = -200 }},
		{"latitude NaN", func(in *models.ReportInput) { in.Coordinate.Latitude = math.NaN() }},
		{"unknown priority", func(in *models.ReportInput) { in.Priority = "urgent" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestReportService(t, nil)
			in := validInput("Roads", 17.385, 78.4867)
			tt.mutate(in)

			_, err := s.Create(context.Background(), in)
			if !errors.Is(err, ErrValidationFailed) {
				t.Fatalf("got %v, want ErrValidationFailed", err)
			}
			if s.Count() != 0 {
				t.Errorf("store has %d reports after rejected create", s.Count())
			}
		})
	}
}

func TestCreateBoundaryCoordinates(t *testing.T) {
	s := newTestReportService(t, nil)
	for _, c := range [][2]float64{{90, 180}, {-90, -180}, {0, 0}} {
		if _, err := s.Create(context.Background(), validInput("Other", c[0], c[1])); err != nil {
			t.Errorf("Create at %v: %v", c, err)
		}
	}
}

func TestSubmitIdempotencyKey(t *testing.T) {
	s := newTestReportService(t, nil)
	ctx := context.Background()

	in := validInput("Roads", 17.385, 78.4867)
	in.IdempotencyKey = "queued-1"

	first, created, err := s.Submit(ctx, in)
	if err != nil || !created {
		t.Fatalf("first Submit: created=%v err=%v", created, err)
	}
	second, created, err := s.Submit(ctx, in)
	if err != nil {
		t.Fatalf("second Submit: %v", err)
	}
	if created {
		t.Error("second Submit reported created=true")
	}
	if second.ID != first.ID {
		t.Errorf("second Submit id %s, want %s", second.ID, first.ID)
	}
	if s.Count() != 1 {
		t.Errorf("Count = %d, want 1", s.Count())
	}
}

func TestGet(t *testing.T) {
	s := newTestReportService(t, nil)
	ctx := context.Background()

	created, err := s.Create(ctx, validInput("Roads", 17.385, 78.4867))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	got, err := s.Get(ctx, created.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.ID != created.ID || got.TicketID != created.TicketID {
		t.Errorf("Get = %+v, want %+v", got, created)
	}

	// Returned reports are copies.
	got.Description = "changed"
	again, _ := s.Get(ctx, created.ID)
	if again.Description == "changed" {
		t.Error("mutating a returned report changed the store")
	}

	if _, err := s.Get(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get missing: got %v, want ErrNotFound", err)
	}
}

func TestSetStatus(t *testing.T) {
	s := newTestReportService(t, nil)
	ctx := context.Background()

	r, err := s.Create(ctx, validInput("Roads", 17.385, 78.4867))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	later := testNow.Add(2 * time.Hour)
	s.SetClock(func() time.Time { return later })

	tests := []struct {
		in   string
		want models.Status
	}{
		{"inProgress", models.StatusInProgress},
		{"resolved", models.StatusResolved},
		{"open", models.StatusOpen}, // backward moves are allowed
		{"closed", models.StatusResolved},
		{"pending", models.StatusOpen},
		{"in_progress", models.StatusInProgress},
	}
	for _, tt := range tests {
		updated, err := s.SetStatus(ctx, r.ID, tt.in)
		if err != nil {
			t.Fatalf("SetStatus(%q): %v", tt.in, err)
		}
		if updated.Status != tt.want {
			t.Errorf("SetStatus(%q) status = %q, want %q", tt.in, updated.Status, tt.want)
		}
		if !updated.UpdatedAt.Equal(later) {
			t.Errorf("UpdatedAt = %v, want %v", updated.UpdatedAt, later)
		}
		if !updated.CreatedAt.Equal(testNow) {
			t.Errorf("CreatedAt changed to %v", updated.CreatedAt)
		}
	}
}

func TestChangeStatusReturnsPrevious(t *testing.T) {
	s := newTestReportService(t, nil)
	ctx := context.Background()
	r, _ := s.Create(ctx, validInput("Roads", 17.385, 78.4867))

	steps := []struct {
		in       string
		previous models.Status
	}{
		{"inProgress", models.StatusOpen},
		{"closed", models.StatusInProgress},
		{"pending", models.StatusResolved},
	}
	for _, tt := range steps {
		_, previous, err := s.ChangeStatus(ctx, r.ID, tt.in)
		if err != nil {
			t.Fatalf("ChangeStatus(%q): %v", tt.in, err)
		}
		if previous != tt.previous {
			t.Errorf("ChangeStatus(%q) previous = %q, want %q", tt.in, previous, tt.previous)
		}
	}
}

// Concurrent changes must chain: every returned previous status is the
// result of exactly one earlier change, or the initial status.
func TestChangeStatusConcurrentChain(t *testing.T) {
	s := newTestReportService(t, nil)
	ctx := context.Background()
	r, _ := s.Create(ctx, validInput("Roads", 17.385, 78.4867))

	targets := []string{"inProgress", "resolved", "open"}
	var (
		mu      sync.Mutex
		balance = make(map[models.Status]int)
		wg      sync.WaitGroup
	)
	for i := 0; i < 60; i++ {
		wg.Add(1)
		go func(target string) {
			defer wg.Done()
			updated, previous, err := s.ChangeStatus(ctx, r.ID, target)
			if err != nil {
				t.Errorf("ChangeStatus: %v", err)
				return
			}
			mu.Lock()
			balance[previous]++
			balance[updated.Status]--
			mu.Unlock()
		}(targets[i%len(targets)])
	}
	wg.Wait()

	final, _ := s.Get(ctx, r.ID)
	balance[models.StatusOpen]--
	balance[final.Status]++
	for status, n := range balance {
		if n != 0 {
			t.Errorf("status %q appears %+d times more as previous than as result", status, n)
		}
	}
}

func TestSetStatusInvalid(t *testing.T) {
	s := newTestReportService(t, nil)
	ctx := context.Background()
	r, _ := s.Create(ctx, validInput("Roads", 17.385, 78.4867))

	if _, err := s.SetStatus(ctx, r.ID, "archived"); !errors.Is(err, ErrInvalidStatus) {
		t.Fatalf("got %v, want ErrInvalidStatus", err)
	}
	got, _ := s.Get(ctx, r.ID)
	if got.Status != models.StatusOpen || !got.UpdatedAt.Equal(r.UpdatedAt) {
		t.Errorf("report changed after invalid status: %+v", got)
	}
}

func TestSetStatusUnknownIDLeavesStoreUnchanged(t *testing.T) {
	st := state.NewMemoryStore()
	s := newTestReportService(t, st)
	ctx := context.Background()
	s.Create(ctx, validInput("Roads", 17.385, 78.4867))

	before, _ := s.All(ctx)
	if _, err := s.SetStatus(ctx, "nope", "resolved"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("got %v, want ErrNotFound", err)
	}
	after, _ := s.All(ctx)
	if len(before) != len(after) || before[0] != after[0] {
		t.Errorf("store changed: before %+v after %+v", before, after)
	}
}

func TestFailedPersistLeavesMemoryUnchanged(t *testing.T) {
	mem := state.NewMemoryStore()
	s := newTestReportService(t, mem)
	ctx := context.Background()
	r, err := s.Create(ctx, validInput("Roads", 17.385, 78.4867))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	s.state = failingState{mem}
	if _, err := s.Create(ctx, validInput("Water", 17.38, 78.48)); err == nil {
		t.Fatal("expected Create to fail when persistence fails")
	}
	if _, err := s.SetStatus(ctx, r.ID, "resolved"); err == nil {
		t.Fatal("expected SetStatus to fail when persistence fails")
	}
	if s.Count() != 1 {
		t.Errorf("Count = %d, want 1", s.Count())
	}
	got, _ := s.Get(ctx, r.ID)
	if got.Status != models.StatusOpen {
		t.Errorf("Status = %q, want open", got.Status)
	}
}

func TestListNearbyScenario(t *testing.T) {
	s := newTestReportService(t, nil)
	ctx := context.Background()

	roads, err := s.Create(ctx, validInput("Roads", 17.3850, 78.4867))
	if err != nil {
		t.Fatalf("Create roads: %v", err)
	}
	safety, err := s.Create(ctx, validInput("Safety", 17.40, 78.50))
	if err != nil {
		t.Fatalf("Create safety: %v", err)
	}
	if roads.EstimatedResolutionDays != 7 {
		t.Errorf("roads days = %d, want 7", roads.EstimatedResolutionDays)
	}
	if safety.EstimatedResolutionDays != 1 {
		t.Errorf("safety days = %d, want 1", safety.EstimatedResolutionDays)
	}

	got, err := s.List(ctx, models.ReportFilter{
		Kind:   models.FilterNearby,
		Center: models.Coordinate{Latitude: 17.3850, Longitude: 78.4867},
	})
	if err != nil {
		t.Fatalf("List: %v", err)
	}

	ids := make(map[string]bool)
	for _, r := range got {
		ids[r.ID] = true
	}
	if !ids[roads.ID] {
		t.Error("nearby listing is missing the report at the reference point")
	}
	d := geo.DistanceKm(17.3850, 78.4867, 17.40, 78.50)
	if d > models.DefaultNearbyRadiusKm && ids[safety.ID] {
		t.Errorf("safety report %.2f km away was included", d)
	}
	if d <= models.DefaultNearbyRadiusKm && !ids[safety.ID] {
		t.Errorf("safety report %.2f km away was excluded", d)
	}
}

func TestListNearbyNeverExceedsRadius(t *testing.T) {
	s := newTestReportService(t, nil)
	ctx := context.Background()

	center := models.Coordinate{Latitude: 17.3850, Longitude: 78.4867}
	for i := 0; i < 40; i++ {
		lat := center.Latitude + float64(i-20)*0.01
		lon := center.Longitude + float64(i%7-3)*0.02
		if _, err := s.Create(ctx, validInput("Other", lat, lon)); err != nil {
			t.Fatalf("Create: %v", err)
		}
	}

	for _, radius := range []float64{0.5, 1, 2.5, 5, 10} {
		got, err := s.List(ctx, models.ReportFilter{Kind: models.FilterNearby, Center: center, RadiusKm: radius})
		if err != nil {
			t.Fatalf("List radius %v: %v", radius, err)
		}
		for _, r := range got {
			if d := geo.DistanceKm(center.Latitude, center.Longitude, r.Latitude, r.Longitude); d > radius {
				t.Errorf("radius %v: included report %.3f km away", radius, d)
			}
		}
		all, _ := s.All(ctx)
		want := 0
		for _, r := range all {
			if geo.DistanceKm(center.Latitude, center.Longitude, r.Latitude, r.Longitude) <= radius {
				want++
			}
		}
		if len(got) != want {
			t.Errorf("radius %v: got %d reports, want %d", radius, len(got), want)
		}
	}
}

func TestListKeepsInsertionOrder(t *testing.T) {
	s := newTestReportService(t, nil)
	ctx := context.Background()

	// Farthest first, so a distance sort would reverse the order.
	far, _ := s.Create(ctx, validInput("Roads", 17.40, 78.50))
	near, _ := s.Create(ctx, validInput("Roads", 17.3851, 78.4867))

	got, err := s.List(ctx, models.ReportFilter{
		Kind:   models.FilterNearby,
		Center: models.Coordinate{Latitude: 17.3850, Longitude: 78.4867},
	})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(got) != 2 || got[0].ID != far.ID || got[1].ID != near.ID {
		t.Errorf("order = %v, want [%s %s]", reportIDs(got), far.ID, near.ID)
	}
}

func TestListOwnedByAndSearch(t *testing.T) {
	s := newTestReportService(t, nil)
	ctx := context.Background()

	mine := validInput("Roads", 17.385, 78.4867)
	mine.Description = "Broken STREETLIGHT on main road"
	a, _ := s.Create(ctx, mine)

	other := validInput("Water", 17.385, 78.4867)
	other.UserID = "session-2"
	other.Description = "Leaking pipe"
	other.Address = "Jubilee Hills"
	b, _ := s.Create(ctx, other)

	mineWater := validInput("Water", 17.385, 78.4867)
	mineWater.Description = "No supply since Monday"
	mineWater.Address = "Gachibowli"
	c, _ := s.Create(ctx, mineWater)

	tests := []struct {
		name   string
		filter models.ReportFilter
		want   []string
	}{
		{"all", models.ReportFilter{Kind: models.FilterAll}, []string{a.ID, b.ID, c.ID}},
		{"empty kind means all", models.ReportFilter{}, []string{a.ID, b.ID, c.ID}},
		{"owned", models.ReportFilter{Kind: models.FilterMine, OwnerID: "session-1"}, []string{a.ID, c.ID}},
		{"owned other", models.ReportFilter{Kind: models.FilterMine, OwnerID: "session-2"}, []string{b.ID}},
		{"search description case-insensitive", models.ReportFilter{Query: "streetlight"}, []string{a.ID}},
		{"search category", models.ReportFilter{Query: "WATER"}, []string{b.ID, c.ID}},
		{"search address", models.ReportFilter{Query: "jubilee"}, []string{b.ID}},
		{"owned and search", models.ReportFilter{Kind: models.FilterMine, OwnerID: "session-1", Query: "water"}, []string{c.ID}},
		{"no match", models.ReportFilter{Query: "volcano"}, []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.List(ctx, tt.filter)
			if err != nil {
				t.Fatalf("List: %v", err)
			}
			if strings.Join(reportIDs(got), ",") != strings.Join(tt.want, ",") {
				t.Errorf("got %v, want %v", reportIDs(got), tt.want)
			}
		})
	}
}

func TestListRejectsBadFilters(t *testing.T) {
	s := newTestReportService(t, nil)
	tests := []models.ReportFilter{
		{Kind: models.FilterMine},
		{Kind: models.FilterNearby, Center: models.Coordinate{Latitude: 95}},
		{Kind: models.FilterNearby, RadiusKm: -1},
		{Kind: models.FilterNearby, RadiusKm: math.NaN()},
		{Kind: "popular"},
	}
	for _, f := range tests {
		if _, err := s.List(context.Background(), f); !errors.Is(err, ErrValidationFailed) {
			t.Errorf("List(%+v): got %v, want ErrValidationFailed", f, err)
		}
	}
}

func TestListDoesNotMutate(t *testing.T) {
	s := newTestReportService(t, nil)
	ctx := context.Background()
	s.Create(ctx, validInput("Roads", 17.385, 78.4867))

	got, _ := s.List(ctx, models.ReportFilter{})
	got[0].Status = models.StatusResolved

	again, _ := s.All(ctx)
	if again[0].Status != models.StatusOpen {
		t.Error("mutating a listed report changed the store")
	}
}

func TestRestore(t *testing.T) {
	ctx := context.Background()
	st := state.NewMemoryStore()

	created := testNow.Add(-48 * time.Hour)
	saved := []models.Report{
		{ID: "a", Category: "Roads", Status: "pending", CreatedAt: created, UpdatedAt: created, IdempotencyKey: "k-a"},
		{ID: "b", Category: "Water", Status: "closed", CreatedAt: created, UpdatedAt: created},
		{ID: "c", Category: "Waste", Status: "in_progress", CreatedAt: created, UpdatedAt: created},
		{ID: "d", Category: "Other", Status: "bogus", CreatedAt: created, UpdatedAt: created.Add(-time.Hour)},
		{ID: "a", Category: "Duplicate", Status: "open"},
	}
	if err := st.Save(ctx, state.KeyReports, saved); err != nil {
		t.Fatalf("seed: %v", err)
	}

	s := newTestReportService(t, st)
	if err := s.Restore(ctx); err != nil {
		t.Fatalf("Restore: %v", err)
	}

	got, _ := s.All(ctx)
	want := map[string]models.Status{
		"a": models.StatusOpen,
		"b": models.StatusResolved,
		"c": models.StatusInProgress,
		"d": models.StatusOpen,
	}
	if len(got) != len(want) {
		t.Fatalf("restored %d reports, want %d", len(got), len(want))
	}
	for _, r := range got {
		if r.Status != want[r.ID] {
			t.Errorf("report %s status = %q, want %q", r.ID, r.Status, want[r.ID])
		}
		if r.UpdatedAt.Before(r.CreatedAt) {
			t.Errorf("report %s updatedAt before createdAt", r.ID)
		}
	}
	if got[0].Category != "Roads" {
		t.Errorf("duplicate id overwrote the first entry: %+v", got[0])
	}

	// Idempotency keys survive a restore.
	in := validInput("Roads", 17.385, 78.4867)
	in.IdempotencyKey = "k-a"
	r, isNew, err := s.Submit(ctx, in)
	if err != nil || isNew || r.ID != "a" {
		t.Errorf("Submit with restored key: id=%v created=%v err=%v", r, isNew, err)
	}
}

func TestRestoreEmptyState(t *testing.T) {
	s := newTestReportService(t, nil)
	if err := s.Restore(context.Background()); err != nil {
		t.Fatalf("Restore on empty state: %v", err)
	}
	if s.Count() != 0 {
		t.Errorf("Count = %d, want 0", s.Count())
	}
}

func TestMutationsArePersisted(t *testing.T) {
	ctx := context.Background()
	st := state.NewMemoryStore()
	s := newTestReportService(t, st)

	r, _ := s.Create(ctx, validInput("Roads", 17.385, 78.4867))
	s.SetStatus(ctx, r.ID, "resolved")

	fresh := newTestReportService(t, st)
	if err := fresh.Restore(ctx); err != nil {
		t.Fatalf("Restore: %v", err)
	}
	got, err := fresh.Get(ctx, r.ID)
	if err != nil {
		t.Fatalf("Get after restore: %v", err)
	}
	if got.Status != models.StatusResolved {
		t.Errorf("Status = %q, want resolved", got.Status)
	}
}

func TestTicketCode(t *testing.T) {
	tests := []struct {
		ms   int64
		want string
	}{
		{1710408600123, "CP600123"},
		{1710400000042, "CP000042"},
	}
	for _, tt := range tests {
		if got := TicketCode(time.UnixMilli(tt.ms)); got != tt.want {
			t.Errorf("TicketCode(%d) = %q, want %q", tt.ms, got, tt.want)
		}
	}
}

func reportIDs(reports []models.Report) []string {
	ids := make([]string, 0, len(reports))
	for _, r := range reports {
		ids = append(ids, r.ID)
	}
	return ids
}
