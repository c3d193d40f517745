package services

import (
	"fmt"
	"math"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/civicpulse/civicpulse-server/internal/models"
)

// SLAWindowDays is the resolution target for every report, whatever its category.
const SLAWindowDays = 7

// DefaultResolutionDays applies to categories missing from the lookup.
const DefaultResolutionDays = 7

var resolutionDays = map[string]int{
	"Roads":       7,
	"Water":       10,
	"Electricity": 5,
	"Waste":       3,
	"Safety":      1,
	"Other":       7,
}

var statusLabels = map[string]string{
	"open":        "Open",
	"inProgress":  "In Progress",
	"in_progress": "In Progress",
	"resolved":    "Resolved",
	"pending":     "Pending",
	"closed":      "Closed",
}

// EstimatedResolutionDays returns the expected turnaround for a category.
// Lookup is exact-match on the category name.
func EstimatedResolutionDays(category string) int {
	if d, ok := resolutionDays[category]; ok {
		return d
	}
	return DefaultResolutionDays
}

// ParseStatus accepts every known status spelling and returns its canonical
// form: pending → open, in_progress → inProgress, closed → resolved.
func ParseStatus(s string) (models.Status, error) {
	switch models.Status(strings.TrimSpace(s)) {
	case models.StatusOpen, models.StatusPending:
		return models.StatusOpen, nil
	case models.StatusInProgress, models.StatusInProgressLegacy:
		return models.StatusInProgress, nil
	case models.StatusResolved, models.StatusClosed:
		return models.StatusResolved, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidStatus, s)
}

// SLARemainingDays returns max(0, 7 - ceil(days since creation)).
// A creation time in the future counts as zero elapsed days.
func SLARemainingDays(r *models.Report, now time.Time) int {
	elapsed := now.Sub(r.CreatedAt)
	if elapsed < 0 {
		elapsed = 0
	}
	days := int(math.Ceil(elapsed.Hours() / 24))
	remaining := SLAWindowDays - days
	if remaining < 0 {
		return 0
	}
	return remaining
}

// DisplayStatus renders a status for people. Unknown values are label-cased.
func DisplayStatus(status string) string {
	if label, ok := statusLabels[status]; ok {
		return label
	}
	return labelCase(status)
}

// labelCase turns camelCase into "Camel Case".
func labelCase(s string) string {
	if s == "" {
		return ""
	}
	var b strings.Builder
	for _, r := range s {
		if unicode.IsUpper(r) {
			b.WriteRune(' ')
		}
		b.WriteRune(r)
	}
	out := b.String()
	first, size := utf8.DecodeRuneInString(out)
	out = string(unicode.ToUpper(first)) + out[size:]
	return strings.TrimSpace(out)
}

// FormatCategory capitalizes the first letter of each word and lowercases the rest.
func FormatCategory(category string) string {
	if category == "" {
		return ""
	}
	words := strings.Split(category, " ")
	for i, w := range words {
		if w == "" {
			continue
		}
		first, size := utf8.DecodeRuneInString(w)
		words[i] = string(unicode.ToUpper(first)) + strings.ToLower(w[size:])
	}
	return strings.Join(words, " ")
}

// Truncate shortens text to maxLen runes and appends an ellipsis.
func Truncate(text string, maxLen int) string {
	if maxLen <= 0 || utf8.RuneCountInString(text) <= maxLen {
		return text
	}
	runes := []rune(text)
	return strings.TrimSpace(string(runes[:maxLen])) + "..."
}

// View decorates a report with its display status and SLA countdown.
func View(r models.Report, now time.Time) models.ReportView {
	return models.ReportView{
		Report:           r,
		DisplayStatus:    DisplayStatus(string(r.Status)),
		SLARemainingDays: SLARemainingDays(&r, now),
	}
}

// Views applies View to each report, keeping order.
func Views(reports []models.Report, now time.Time) []models.ReportView {
	out := make([]models.ReportView, 0, len(reports))
	for _, r := range reports {
		out = append(out, View(r, now))
	}
	return out
}
