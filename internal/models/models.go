// Package models defines the data structures used across the application.
// JSON field names match the web client so cached state and API
// payloads stay interchangeable.
package models

import (
	"time"
)

// AnonymousOwner is the ownerId recorded for reports submitted without a session.
const AnonymousOwner = "anonymous"

// Status is the lifecycle state of a report.
type Status string

const (
	StatusOpen       Status = "open"
	StatusInProgress Status = "inProgress"
	StatusResolved   Status = "resolved"

	// Legacy spellings accepted on input and normalized on read.
	StatusPending          Status = "pending"
	StatusClosed           Status = "closed"
	StatusInProgressLegacy Status = "in_progress"
)

// Priority is the urgency a citizen attaches to a report.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

// Coordinate is a WGS84 latitude/longitude pair in degrees.
type Coordinate struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Report is a single citizen-submitted civic issue.
type Report struct {
	ID                      string    `json:"id"`
	TicketID                string    `json:"ticketId"`
	Description             string    `json:"description"`
	Category                string    `json:"category"`
	Latitude                float64   `json:"latitude"`
	Longitude               float64   `json:"longitude"`
	Address                 string    `json:"address,omitempty"`
	Landmark                string    `json:"landmark,omitempty"`
	CitizenName             string    `json:"citizenName,omitempty"`
	CitizenPhone            string    `json:"citizenPhone,omitempty"`
	Photo                   string    `json:"photo"`
	UserID                  string    `json:"userId"`
	Status                  Status    `json:"status"`
	Priority                Priority  `json:"priority"`
	CreatedAt               time.Time `json:"createdAt"`
	UpdatedAt               time.Time `json:"updatedAt"`
	EstimatedResolutionDays int       `json:"estimatedResolutionDays"`
	IdempotencyKey          string    `json:"idempotencyKey,omitempty"`
}

// Coordinate returns the report location.
func (r *Report) Coordinate() Coordinate {
	return Coordinate{Latitude: r.Latitude, Longitude: r.Longitude}
}

// ReportInput is the submission payload for a new report. Coordinate is a
// pointer so an absent location can be told apart from (0, 0).
type ReportInput struct {
	Description    string      `json:"description"`
	Category       string      `json:"category"`
	Coordinate     *Coordinate `json:"coordinate,omitempty"`
	Address        string      `json:"address,omitempty"`
	Landmark       string      `json:"landmark,omitempty"`
	CitizenName    string      `json:"citizenName,omitempty"`
	CitizenPhone   string      `json:"citizenPhone,omitempty"`
	Priority       Priority    `json:"priority,omitempty"`
	Photo          string      `json:"photo"`
	UserID         string      `json:"userId,omitempty"`
	IdempotencyKey string      `json:"idempotencyKey,omitempty"`
}

// ReportView is a report decorated with derived lifecycle fields for display.
type ReportView struct {
	Report
	DisplayStatus    string `json:"displayStatus"`
	SLARemainingDays int    `json:"slaRemainingDays"`
}

// FilterKind selects the base report filter.
type FilterKind string

const (
	FilterAll    FilterKind = "all"
	FilterMine   FilterKind = "my"
	FilterNearby FilterKind = "nearby"
)

// DefaultNearbyRadiusKm is used when a nearby filter omits its radius.
const DefaultNearbyRadiusKm = 5.0

// ReportFilter narrows a report listing. Query is matched conjunctively
// with the base filter.
type ReportFilter struct {
	Kind     FilterKind
	OwnerID  string
	Center   Coordinate
	RadiusKm float64
	Query    string
}

// Session is an authenticated identity issued after a verified challenge.
type Session struct {
	ID         string    `json:"id"`
	Identifier string    `json:"phoneOrEmail"`
	CreatedAt  time.Time `json:"createdAt"`
	ExpiresAt  time.Time `json:"expiresAt"`
}

// StoredSession is what the client keeps in durable local state.
type StoredSession struct {
	Session
	Token string `json:"token"`
}

// PendingReport is a submission held by the offline queue until it reaches the server.
type PendingReport struct {
	IdempotencyKey string    `json:"idempotencyKey"`
	Description    string    `json:"description"`
	Category       string    `json:"category"`
	Latitude       float64   `json:"latitude"`
	Longitude      float64   `json:"longitude"`
	Address        string    `json:"address,omitempty"`
	Landmark       string    `json:"landmark,omitempty"`
	CitizenName    string    `json:"citizenName,omitempty"`
	CitizenPhone   string    `json:"citizenPhone,omitempty"`
	Priority       Priority  `json:"priority,omitempty"`
	UserID         string    `json:"userId,omitempty"`
	PhotoName      string    `json:"photoName,omitempty"`
	PhotoData      []byte    `json:"photoData,omitempty"`
	PhotoURL       string    `json:"photoUrl,omitempty"`
	QueuedAt       time.Time `json:"queuedAt"`
}

// Activity types recorded on a report timeline.
const (
	ActivitySubmission   = "submission"
	ActivityStatusChange = "status_change"
)

// ActivityLog is one entry on a report's timeline.
type ActivityLog struct {
	ID          string    `json:"id"`
	ReportID    string    `json:"reportId"`
	Type        string    `json:"type"`
	Description string    `json:"description"`
	Actor       string    `json:"actor"`
	FromStatus  Status    `json:"fromStatus,omitempty"`
	ToStatus    Status    `json:"toStatus,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Summary aggregates report counts for the analytics dashboard.
type Summary struct {
	Total          int            `json:"total"`
	Open           int            `json:"open"`
	InProgress     int            `json:"inProgress"`
	Resolved       int            `json:"resolved"`
	ByCategory     map[string]int `json:"categoryStats"`
	ThisMonth      int            `json:"thisMonth"`
	ResolutionRate int            `json:"resolutionRate"`
}

// AnalyticsTrend represents a daily submission count.
type AnalyticsTrend struct {
	Date  string `json:"date"`
	Count int    `json:"count"`
}

// CategoryDistribution for pie/bar charts
type CategoryDistribution struct {
	Category string `json:"category"`
	Count    int    `json:"count"`
}

// HealthStatus represents the server health check response
type HealthStatus struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
	Version string `json:"version"`
	Uptime  string `json:"uptime,omitempty"`
	State   string `json:"state,omitempty"`
}
