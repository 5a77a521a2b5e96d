package exam

import (
	"fmt"
	"math"
	"sort"
	"strconv"

	"github.com/proficienthub/mockexam-engine/internal/models"
)

// aggregateResults computes the overall band and percentage from an
// attempt's completed sections. Per-section results pass through
// unchanged; only the attempt-level roll-up is derived here.
func aggregateResults(sections []*models.ExamSection, halfBandRounding bool) (band string, percentage *float64) {
	var bands, percentages []float64

	for _, s := range sections {
		if s.BandScore != "" {
			if v, err := strconv.ParseFloat(s.BandScore, 64); err == nil {
				bands = append(bands, v)
			}
		}
		if s.PercentageScore != nil {
			percentages = append(percentages, *s.PercentageScore)
		}
	}

	if len(bands) > 0 {
		avg := mean(bands)
		if halfBandRounding {
			// Discrete half-point band scale: round half up
			avg = math.Round(avg*2) / 2
		}
		band = fmt.Sprintf("%.1f", avg)
	}

	if len(percentages) > 0 {
		p := mean(percentages)
		percentage = &p
	}

	return band, percentage
}

func mean(values []float64) float64 {
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// computeProgress derives the display-only completion indicator. An
// in-progress section counts as half done; credits are unaffected.
func computeProgress(a *models.MockExamAttempt) models.Progress {
	total := len(a.Sections)
	if total == 0 {
		return models.Progress{}
	}

	completed, inProgress := 0, 0
	for _, s := range a.Sections {
		switch s.Status {
		case models.SectionCompleted:
			completed++
		case models.SectionInProgress:
			inProgress++
		}
	}

	pct := float64(completed*100+inProgress*50) / float64(total)

	return models.Progress{
		Percentage: int(math.Round(pct)),
		Completed:  completed,
		InProgress: inProgress,
		Total:      total,
	}
}

// computeStats summarizes a student's attempt history for the dashboard.
// Attempts must be ordered oldest first for the improvement trend.
func computeStats(attempts []*models.MockExamAttempt) models.DashboardStats {
	stats := models.DashboardStats{
		TotalAttempts: len(attempts),
	}

	var bands []float64
	for _, a := range attempts {
		switch a.Status {
		case models.AttemptCompleted:
			stats.CompletedAttempts++
			if a.OverallBand != "" {
				if v, err := strconv.ParseFloat(a.OverallBand, 64); err == nil {
					bands = append(bands, v)
				}
			}
		case models.AttemptInProgress:
			stats.InProgress++
		}
	}

	if len(bands) == 0 {
		return stats
	}

	best := bands[0]
	for _, b := range bands[1:] {
		if b > best {
			best = b
		}
	}

	stats.AverageBand = fmt.Sprintf("%.1f", mean(bands))
	stats.BestBand = fmt.Sprintf("%.1f", best)

	// Trend: average of the last three results vs the first three
	if len(bands) >= 3 {
		trend := math.Round((mean(bands[len(bands)-3:])-mean(bands[:3]))*10) / 10
		stats.ImprovementTrend = &trend
	}

	return stats
}

// computeSectionAverages aggregates band scores per section type across
// completed attempts.
func computeSectionAverages(attempts []*models.MockExamAttempt) map[string]models.SectionTypeStats {
	scores := make(map[string][]float64)

	for _, a := range attempts {
		if a.Status != models.AttemptCompleted {
			continue
		}
		for _, s := range a.Sections {
			if s.BandScore == "" {
				continue
			}
			if v, err := strconv.ParseFloat(s.BandScore, 64); err == nil {
				scores[s.SectionType] = append(scores[s.SectionType], v)
			}
		}
	}

	averages := make(map[string]models.SectionTypeStats, len(scores))
	for sectionType, values := range scores {
		sort.Float64s(values)
		averages[sectionType] = models.SectionTypeStats{
			Average:  math.Round(mean(values)*10) / 10,
			Best:     values[len(values)-1],
			Attempts: len(values),
		}
	}

	return averages
}
