package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/civicpulse/civicpulse-server/internal/middleware"
	"github.com/civicpulse/civicpulse-server/internal/models"
	"github.com/civicpulse/civicpulse-server/internal/services"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// ReportOptions tunes ReportHandler behaviour.
type ReportOptions struct {
	NearbyRadiusKm   float64
	MaxUploadBytes   int64
	SimulatedLatency time.Duration
}

// ReportHandler handles report endpoints
type ReportHandler struct {
	reports  services.ReportRepository
	activity *services.ActivityLogService
	photos   *services.PhotoStore
	opts     ReportOptions
	now      func() time.Time
	logger   *zap.SugaredLogger
}

// NewReportHandler creates a new report handler
func NewReportHandler(rs services.ReportRepository, as *services.ActivityLogService, ps *services.PhotoStore, opts ReportOptions, logger *zap.SugaredLogger) *ReportHandler {
	if opts.NearbyRadiusKm <= 0 {
		opts.NearbyRadiusKm = models.DefaultNearbyRadiusKm
	}
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = 10 << 20
	}
	return &ReportHandler{
		reports:  rs,
		activity: as,
		photos:   ps,
		opts:     opts,
		now:      time.Now,
		logger:   logger,
	}
}

// List handles GET /api/reports
func (h *ReportHandler) List(w http.ResponseWriter, r *http.Request) {
	filter, err := h.parseFilter(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	reports, err := h.reports.List(r.Context(), filter)
	if err != nil {
		respondServiceError(w, h.logger, err, "list reports")
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"reports": services.Views(reports, h.now()),
		"count":   len(reports),
	})
}

func (h *ReportHandler) parseFilter(r *http.Request) (models.ReportFilter, error) {
	q := r.URL.Query()
	f := models.ReportFilter{
		Kind:  models.FilterKind(q.Get("filter")),
		Query: q.Get("q"),
	}

	switch f.Kind {
	case models.FilterMine:
		f.OwnerID = q.Get("userId")
		if f.OwnerID == "" {
			if sess, ok := middleware.SessionFromContext(r.Context()); ok {
				f.OwnerID = sess.ID
			}
		}
		if f.OwnerID == "" {
			return f, fmt.Errorf("userId is required for filter=my")
		}
	case models.FilterNearby:
		lat, errLat := parseFloatParam(q.Get("lat"))
		lng, errLng := parseFloatParam(q.Get("lng"))
		if errLat != nil || errLng != nil {
			return f, fmt.Errorf("lat and lng are required for filter=nearby")
		}
		f.Center = models.Coordinate{Latitude: lat, Longitude: lng}
		f.RadiusKm = h.opts.NearbyRadiusKm
		if raw := q.Get("radius"); raw != "" {
			radius, err := parseFloatParam(raw)
			if err != nil || radius <= 0 {
				return f, fmt.Errorf("radius must be a positive number")
			}
			f.RadiusKm = radius
		}
	}
	return f, nil
}

// Create handles POST /api/reports (multipart form with a photo file).
func (h *ReportHandler) Create(w http.ResponseWriter, r *http.Request) {
	if err := simulateLatency(r.Context(), h.opts.SimulatedLatency); err != nil {
		respondServiceError(w, h.logger, err, "create report")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.opts.MaxUploadBytes)
	var err error
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		err = r.ParseMultipartForm(8 << 20)
	} else {
		err = r.ParseForm()
	}
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			respondServiceError(w, h.logger, err, "create report")
			return
		}
		respondError(w, http.StatusBadRequest, "Invalid form body")
		return
	}

	in, err := h.parseInput(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	uploaded := false
	if file, header, ferr := r.FormFile("photo"); ferr == nil {
		ref, err := h.photos.Save(header.Filename, file)
		file.Close()
		if err != nil {
			respondServiceError(w, h.logger, err, "store photo")
			return
		}
		in.Photo = ref
		uploaded = true
	}

	report, created, err := h.reports.Submit(r.Context(), in)
	if uploaded && (err != nil || !created) {
		if rerr := h.photos.Remove(in.Photo); rerr != nil {
			h.logger.Warnw("Failed to remove unused photo", "photo", in.Photo, "error", rerr)
		}
	}
	if err != nil {
		respondServiceError(w, h.logger, err, "create report")
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
		h.logActivity(r, &models.ActivityLog{
			ReportID:    report.ID,
			Type:        models.ActivitySubmission,
			Description: fmt.Sprintf("Report %s submitted", report.TicketID),
			Actor:       report.UserID,
			ToStatus:    report.Status,
		})
	}

	respondJSON(w, status, map[string]interface{}{
		"success":  true,
		"report":   services.View(*report, h.now()),
		"ticketId": report.TicketID,
	})
}

func (h *ReportHandler) parseInput(r *http.Request) (*models.ReportInput, error) {
	in := &models.ReportInput{
		Description:    r.FormValue("description"),
		Category:       r.FormValue("category"),
		Address:        r.FormValue("address"),
		Landmark:       r.FormValue("landmark"),
		CitizenName:    r.FormValue("citizenName"),
		CitizenPhone:   r.FormValue("citizenPhone"),
		Priority:       models.Priority(r.FormValue("priority")),
		Photo:          r.FormValue("photo"),
		UserID:         r.FormValue("userId"),
		IdempotencyKey: strings.TrimSpace(r.FormValue("idempotencyKey")),
	}
	if in.UserID == "" {
		if sess, ok := middleware.SessionFromContext(r.Context()); ok {
			in.UserID = sess.ID
		}
	}

	rawLat, rawLng := r.FormValue("latitude"), r.FormValue("longitude")
	if rawLat == "" || rawLng == "" {
		// Left nil so validation reports the missing fields.
		return in, nil
	}
	lat, errLat := parseFloatParam(rawLat)
	lng, errLng := parseFloatParam(rawLng)
	if errLat != nil || errLng != nil {
		return nil, fmt.Errorf("%w: latitude and longitude must be numbers", services.ErrValidationFailed)
	}
	in.Coordinate = &models.Coordinate{Latitude: lat, Longitude: lng}
	return in, nil
}

// Get handles GET /api/reports/{id}
func (h *ReportHandler) Get(w http.ResponseWriter, r *http.Request) {
	report, err := h.reports.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondServiceError(w, h.logger, err, "get report")
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"report":  services.View(*report, h.now()),
	})
}

// UpdateStatus handles PUT /api/reports/{id}/status
func (h *ReportHandler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	report, previous, err := h.reports.ChangeStatus(r.Context(), chi.URLParam(r, "id"), req.Status)
	if err != nil {
		respondServiceError(w, h.logger, err, "update status")
		return
	}

	actor := ""
	if sess, ok := middleware.SessionFromContext(r.Context()); ok {
		actor = sess.ID
	}
	h.logActivity(r, &models.ActivityLog{
		ReportID:    report.ID,
		Type:        models.ActivityStatusChange,
		Description: fmt.Sprintf("Status changed to %s", services.DisplayStatus(string(report.Status))),
		Actor:       actor,
		FromStatus:  previous,
		ToStatus:    report.Status,
	})

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"report":  services.View(*report, h.now()),
	})
}

// logActivity records a timeline entry. The report change has already been
// saved, so a failure here is logged rather than returned to the caller.
func (h *ReportHandler) logActivity(r *http.Request, entry *models.ActivityLog) {
	if err := h.activity.Log(r.Context(), entry); err != nil {
		h.logger.Warnw("Failed to record activity", "report", entry.ReportID, "type", entry.Type, "error", err)
	}
}

func parseFloatParam(s string) (float64, error) {
	if s == "" {
		return 0, fmt.Errorf("empty")
	}
	return strconv.ParseFloat(strings.TrimSpace(s), 64)
}
