package activity

import (
	"math"
	"sort"
	"time"

	"github.com/jordanlanch/entityhub/pkg/models"
)

const dayLayout = "2006-01-02"

// Summarize aggregates events created at or after since. It is pure: the
// result depends only on its arguments.
func Summarize(events []models.ActivityEvent, since time.Time) models.ActivitySummary {
	s := models.ActivitySummary{
		Since:    since.UTC(),
		ByType:   map[string]int{},
		ByModule: map[string]int{},
		ByUser:   map[string]int{},
		ByEntity: map[string]int{},
		ByDay:    map[string]int{},
	}

	for _, ev := range events {
		if ev.CreatedAt.Before(since) {
			continue
		}
		s.Total++
		s.ByType[ev.Type]++
		s.ByModule[ev.Module]++
		s.ByEntity[ev.EntityID]++
		s.ByDay[ev.CreatedAt.UTC().Format(dayLayout)]++
		if ev.UserID != "" {
			s.ByUser[ev.UserID]++
		}

		at := ev.CreatedAt.UTC()
		if s.FirstActivityAt == nil || at.Before(*s.FirstActivityAt) {
			first := at
			s.FirstActivityAt = &first
		}
		if s.LastActivityAt == nil || at.After(*s.LastActivityAt) {
			last := at
			s.LastActivityAt = &last
		}
	}

	s.UniqueEntities = len(s.ByEntity)
	s.UniqueUsers = len(s.ByUser)
	return s
}

// Insights ranks the summary and derives engagement signals relative to now
func Insights(s models.ActivitySummary, topN int, now time.Time) models.ActivityInsights {
	if topN <= 0 {
		topN = defaultTopN
	}
	window := s.WindowDays
	if window <= 0 {
		window = defaultWindowDays
	}

	in := models.ActivityInsights{
		Summary:     s,
		TopTypes:    Rank(s.ByType, topN),
		TopModules:  Rank(s.ByModule, topN),
		TopUsers:    Rank(s.ByUser, topN),
		TopEntities: Rank(s.ByEntity, topN),
		ActiveDays:  len(s.ByDay),
	}
	in.AveragePerDay = math.Round(float64(s.Total)/float64(window)*100) / 100
	in.EngagementScore = engagementScore(s, in.ActiveDays, window)
	in.Trend = trend(s, window)

	if s.LastActivityAt != nil {
		days := int(now.Sub(*s.LastActivityAt).Hours() / 24)
		if days < 0 {
			days = 0
		}
		in.DaysSinceLastActivity = &days
	}
	return in
}

// Rank returns the n largest counts, ties broken by key
func Rank(counts map[string]int, n int) []models.RankedCount {
	out := make([]models.RankedCount, 0, len(counts))
	for k, c := range counts {
		out = append(out, models.RankedCount{Key: k, Count: c})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Key < out[j].Key
	})
	if n > 0 && len(out) > n {
		out = out[:n]
	}
	return out
}

// engagementScore weighs consistency (active days), volume (events per day,
// saturating at 5) and breadth (distinct actors, saturating at 5) into 0..100.
func engagementScore(s models.ActivitySummary, activeDays, window int) int {
	if s.Total == 0 {
		return 0
	}
	consistency := math.Min(float64(activeDays)/float64(window), 1) * 50
	volume := math.Min(float64(s.Total)/float64(window), 5) / 5 * 30
	breadth := math.Min(float64(s.UniqueUsers), 5) / 5 * 20
	return int(math.Round(consistency + volume + breadth))
}

// trend compares the second half of the window with the first
func trend(s models.ActivitySummary, window int) string {
	if s.Total == 0 {
		return models.TrendInactive
	}
	mid := s.Since.Add(time.Duration(window) * 12 * time.Hour).Format(dayLayout)

	var earlier, recent int
	for day, c := range s.ByDay {
		if day < mid {
			earlier += c
		} else {
			recent += c
		}
	}

	switch {
	case float64(recent) > float64(earlier)*1.2:
		return models.TrendIncreasing
	case float64(recent) < float64(earlier)*0.8:
		return models.TrendDecreasing
	default:
		return models.TrendStable
	}
}
