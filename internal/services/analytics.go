package services

import (
	"math"
	"sort"
	"time"

	"github.com/civicpulse/civicpulse-server/internal/models"
)

// Summarize counts reports by canonical status and category. thisMonth uses
// the calendar month of now in now's location.
func Summarize(reports []models.Report, now time.Time) models.Summary {
	sum := models.Summary{
		Total:      len(reports),
		ByCategory: make(map[string]int),
	}
	year, month, _ := now.Date()

	for i := range reports {
		r := &reports[i]
		status, err := ParseStatus(string(r.Status))
		if err == nil {
			switch status {
			case models.StatusOpen:
				sum.Open++
			case models.StatusInProgress:
				sum.InProgress++
			case models.StatusResolved:
				sum.Resolved++
			}
		}
		sum.ByCategory[r.Category]++

		y, m, _ := r.CreatedAt.In(now.Location()).Date()
		if y == year && m == month {
			sum.ThisMonth++
		}
	}

	if sum.Total > 0 {
		sum.ResolutionRate = int(math.Round(float64(sum.Resolved) / float64(sum.Total) * 100))
	}
	return sum
}

// CategoryDistribution returns category counts, largest first, ties by name.
func CategoryDistribution(reports []models.Report) []models.CategoryDistribution {
	counts := make(map[string]int)
	for i := range reports {
		counts[reports[i].Category]++
	}

	out := make([]models.CategoryDistribution, 0, len(counts))
	for cat, n := range counts {
		out = append(out, models.CategoryDistribution{Category: cat, Count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Category < out[j].Category
	})
	return out
}

// Trends returns one entry per UTC day for the last days days ending at
// now, newest first, including days without submissions.
func Trends(reports []models.Report, days int, now time.Time) []models.AnalyticsTrend {
	if days <= 0 {
		return []models.AnalyticsTrend{}
	}
	const layout = "2006-01-02"

	today := now.UTC().Truncate(24 * time.Hour)
	oldest := today.AddDate(0, 0, -(days - 1))

	counts := make(map[string]int, days)
	for i := range reports {
		created := reports[i].CreatedAt.UTC()
		if created.Before(oldest) || !created.Before(today.AddDate(0, 0, 1)) {
			continue
		}
		counts[created.Format(layout)]++
	}

	out := make([]models.AnalyticsTrend, 0, days)
	for d := 0; d < days; d++ {
		key := today.AddDate(0, 0, -d).Format(layout)
		out = append(out, models.AnalyticsTrend{Date: key, Count: counts[key]})
	}
	return out
}
