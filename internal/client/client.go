// Package client is a typed HTTP client for the Civic Pulse API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/civicpulse/civicpulse-server/internal/models"
)

// ErrUnavailable wraps transport failures and gateway errors: the request
// may be retried later.
var ErrUnavailable = errors.New("api unavailable")

// APIError is a non-2xx response carrying the server's error message.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error %d: %s", e.StatusCode, e.Message)
}

// StatusCode returns the HTTP status of an *APIError in err's chain, or 0.
func StatusCode(err error) int {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode
	}
	return 0
}

// Client talks to one API base URL such as http://localhost:5000/api.
type Client struct {
	baseURL string
	http    *http.Client
	token   string
}

// New creates a client with a 30 second request timeout.
func New(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

// SetToken sets the bearer token sent with every request.
func (c *Client) SetToken(token string) {
	c.token = token
}

// ListOptions selects which reports ListReports returns.
type ListOptions struct {
	Filter   models.FilterKind
	UserID   string
	Center   *models.Coordinate
	RadiusKm float64
	Query    string
}

type envelope struct {
	Success  bool                 `json:"success"`
	Error    string               `json:"error"`
	Report   *models.ReportView   `json:"report"`
	Reports  []models.ReportView  `json:"reports"`
	User     *models.Session      `json:"user"`
	Token    string               `json:"token"`
	Activity []models.ActivityLog `json:"activity"`
	Summary  *models.Summary      `json:"summary"`
}

// Health fetches the liveness status.
func (c *Client) Health(ctx context.Context) (*models.HealthStatus, error) {
	var out models.HealthStatus
	if _, err := c.do(ctx, http.MethodGet, "/health", nil, "", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Ping reports whether the API answers its health check.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.Health(ctx)
	return err
}

// SendOTP asks the server to issue a login code.
func (c *Client) SendOTP(ctx context.Context, identifier string) error {
	body := map[string]string{"phoneOrEmail": identifier}
	_, err := c.doJSON(ctx, http.MethodPost, "/auth/send-otp", body, nil)
	return err
}

// VerifyOTP exchanges a login code for a session and bearer token. The
// token is also installed on the client.
func (c *Client) VerifyOTP(ctx context.Context, identifier, code string) (*models.Session, string, error) {
	var env envelope
	body := map[string]string{"phoneOrEmail": identifier, "otp": code}
	if _, err := c.doJSON(ctx, http.MethodPost, "/auth/verify-otp", body, &env); err != nil {
		return nil, "", err
	}
	if env.User == nil || env.Token == "" {
		return nil, "", fmt.Errorf("verify otp: response missing session")
	}
	c.token = env.Token
	return env.User, env.Token, nil
}

// Logout ends the current session.
func (c *Client) Logout(ctx context.Context) error {
	_, err := c.doJSON(ctx, http.MethodPost, "/auth/logout", nil, nil)
	return err
}

// SubmitReport uploads a pending report. created is false when the server
// already had a report with the same idempotency key.
func (c *Client) SubmitReport(ctx context.Context, p models.PendingReport) (*models.ReportView, bool, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fields := map[string]string{
		"description":    p.Description,
		"category":       p.Category,
		"latitude":       strconv.FormatFloat(p.Latitude, 'f', -1, 64),
		"longitude":      strconv.FormatFloat(p.Longitude, 'f', -1, 64),
		"address":        p.Address,
		"landmark":       p.Landmark,
		"citizenName":    p.CitizenName,
		"citizenPhone":   p.CitizenPhone,
		"priority":       string(p.Priority),
		"userId":         p.UserID,
		"idempotencyKey": p.IdempotencyKey,
	}
	if len(p.PhotoData) == 0 {
		fields["photo"] = p.PhotoURL
	}
	for k, v := range fields {
		if v == "" {
			continue
		}
		if err := mw.WriteField(k, v); err != nil {
			return nil, false, fmt.Errorf("encode report: %w", err)
		}
	}
	if len(p.PhotoData) > 0 {
		name := p.PhotoName
		if name == "" {
			name = "photo.jpg"
		}
		part, err := mw.CreateFormFile("photo", name)
		if err != nil {
			return nil, false, fmt.Errorf("encode photo: %w", err)
		}
		if _, err := part.Write(p.PhotoData); err != nil {
			return nil, false, fmt.Errorf("encode photo: %w", err)
		}
	}
	if err := mw.Close(); err != nil {
		return nil, false, fmt.Errorf("encode report: %w", err)
	}

	var env envelope
	status, err := c.do(ctx, http.MethodPost, "/reports", &buf, mw.FormDataContentType(), &env)
	if err != nil {
		return nil, false, err
	}
	if env.Report == nil {
		return nil, false, fmt.Errorf("submit report: response missing report")
	}
	return env.Report, status == http.StatusCreated, nil
}

// ListReports fetches reports matching opts.
func (c *Client) ListReports(ctx context.Context, opts ListOptions) ([]models.ReportView, error) {
	q := url.Values{}
	if opts.Filter != "" {
		q.Set("filter", string(opts.Filter))
	}
	if opts.UserID != "" {
		q.Set("userId", opts.UserID)
	}
	if opts.Center != nil {
		q.Set("lat", strconv.FormatFloat(opts.Center.Latitude, 'f', -1, 64))
		q.Set("lng", strconv.FormatFloat(opts.Center.Longitude, 'f', -1, 64))
	}
	if opts.RadiusKm > 0 {
		q.Set("radius", strconv.FormatFloat(opts.RadiusKm, 'f', -1, 64))
	}
	if opts.Query != "" {
		q.Set("q", opts.Query)
	}
	path := "/reports"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var env envelope
	if _, err := c.doJSON(ctx, http.MethodGet, path, nil, &env); err != nil {
		return nil, err
	}
	return env.Reports, nil
}

// GetReport fetches one report.
func (c *Client) GetReport(ctx context.Context, id string) (*models.ReportView, error) {
	var env envelope
	if _, err := c.doJSON(ctx, http.MethodGet, "/reports/"+url.PathEscape(id), nil, &env); err != nil {
		return nil, err
	}
	return env.Report, nil
}

// UpdateStatus moves a report to status.
func (c *Client) UpdateStatus(ctx context.Context, id, status string) (*models.ReportView, error) {
	var env envelope
	body := map[string]string{"status": status}
	if _, err := c.doJSON(ctx, http.MethodPut, "/reports/"+url.PathEscape(id)+"/status", body, &env); err != nil {
		return nil, err
	}
	return env.Report, nil
}

// Activity fetches a report's timeline, newest first.
func (c *Client) Activity(ctx context.Context, id string) ([]models.ActivityLog, error) {
	var env envelope
	if _, err := c.doJSON(ctx, http.MethodGet, "/reports/"+url.PathEscape(id)+"/activity", nil, &env); err != nil {
		return nil, err
	}
	return env.Activity, nil
}

// Summary fetches the analytics summary.
func (c *Client) Summary(ctx context.Context) (*models.Summary, error) {
	var env envelope
	if _, err := c.doJSON(ctx, http.MethodGet, "/analytics/summary", nil, &env); err != nil {
		return nil, err
	}
	if env.Summary == nil {
		return nil, fmt.Errorf("summary: response missing summary")
	}
	return env.Summary, nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, body, out any) (int, error) {
	var r io.Reader
	contentType := ""
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return 0, fmt.Errorf("encode request: %w", err)
		}
		r = bytes.NewReader(b)
		contentType = "application/json"
	}
	return c.do(ctx, method, path, r, contentType, out)
}

func (c *Client) do(ctx context.Context, method, path string, body io.Reader, contentType string, out any) (int, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return 0, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return 0, ctx.Err()
		}
		return 0, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return resp.StatusCode, fmt.Errorf("%w: read response: %w", ErrUnavailable, err)
	}

	if resp.StatusCode >= 300 {
		var env envelope
		msg := http.StatusText(resp.StatusCode)
		if json.Unmarshal(data, &env) == nil && env.Error != "" {
			msg = env.Error
		}
		apiErr := &APIError{StatusCode: resp.StatusCode, Message: msg}
		switch resp.StatusCode {
		case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
			return resp.StatusCode, fmt.Errorf("%w: %w", ErrUnavailable, apiErr)
		}
		return resp.StatusCode, apiErr
	}

	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return resp.StatusCode, fmt.Errorf("decode response: %w", err)
		}
	}
	return resp.StatusCode, nil
}
