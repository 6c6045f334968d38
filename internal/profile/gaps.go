package profile

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// detectGaps finds the stretches of the employment timeline with no known
// job. Besides gaps between entries it reports a leading gap before the
// first job (measured against the lookback horizon) and a trailing gap
// between the last job and the present.
func (analyzer *Analyzer) detectGaps(history []EmploymentEntry) []EmploymentGap {
	if len(history) == 0 {
		return nil
	}

	entries := make([]EmploymentEntry, len(history))
	copy(entries, history)
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].StartDate.Before(entries[j].StartDate.Time)
	})

	now := analyzer.cfg.Now()
	threshold := analyzer.cfg.GapThresholdMonths
	gaps := make([]EmploymentGap, 0)

	horizon := now.AddDate(-analyzer.cfg.LookbackYears, 0, 0)
	if monthsBetween(horizon, entries[0].StartDate.Time) > threshold {
		gaps = append(gaps, analyzer.describeGap(Date{horizon}, entries[0].StartDate))
	}

	for i := 0; i < len(entries)-1; i++ {
		end := entries[i].effectiveEnd()
		next := entries[i+1].StartDate

		if monthsBetween(end.Time, next.Time) > threshold {
			gaps = append(gaps, analyzer.describeGap(end, next))
		}
	}

	last := entries[len(entries)-1].effectiveEnd()
	if monthsBetween(last.Time, now) > threshold {
		gaps = append(gaps, analyzer.describeGap(last, Date{now}))
	}

	return gaps
}

func (analyzer *Analyzer) describeGap(start, end Date) EmploymentGap {
	gap := EmploymentGap{StartDate: start, EndDate: end}
	gap.SuggestedIndustries = analyzer.suggestIndustries(start)
	gap.FollowUpQuestions = analyzer.gapQuestions(gap)

	return gap
}

// suggestIndustries picks likely industries for the era the gap started in.
// The decade map is configurable; the defaults skew toward the sectors
// callers in this population most often worked in.
func (analyzer *Analyzer) suggestIndustries(start Date) []string {
	decade := (start.Year() / 10) * 10

	if industries, ok := analyzer.cfg.IndustriesByDecade[decade]; ok {
		return industries
	}

	if start.Year() < 1990 {
		return []string{"manufacturing", "construction", "retail"}
	}

	return []string{"retail", "food service", "healthcare", "warehouse"}
}

func (analyzer *Analyzer) gapQuestions(gap EmploymentGap) []string {
	startYear := gap.StartDate.Year()
	endYear := gap.EndDate.Year()
	years := endYear - startYear

	questions := make([]string, 0, 3)

	switch {
	case years > 10:
		midYear := startYear + years/2
		questions = append(questions,
			fmt.Sprintf(
				"That's a long period from %d to %d. Let's break it down - what were you doing around %d?",
				startYear, endYear, midYear,
			),
			fmt.Sprintf(
				"Were you perhaps working in construction, manufacturing, or retail during the %ds?",
				(startYear/10)*10,
			),
		)
	case years >= 3:
		questions = append(questions,
			fmt.Sprintf(
				"What about between %d and %d? Were you working anywhere during that time?",
				startYear, endYear,
			),
			fmt.Sprintf(
				"Did you have any jobs, even part-time or temporary, between %d and %d?",
				startYear, endYear,
			),
		)
	default:
		questions = append(questions,
			fmt.Sprintf("What were you doing between %d and %d?", startYear, endYear),
		)
	}

	if len(gap.SuggestedIndustries) > 0 {
		limit := len(gap.SuggestedIndustries)
		if limit > 3 {
			limit = 3
		}

		questions = append(questions, fmt.Sprintf(
			"Were you perhaps working in %s during that time?",
			strings.Join(gap.SuggestedIndustries[:limit], ", "),
		))
	}

	return questions
}

// monthsBetween counts whole calendar months from a to b, zero when b is
// not after a.
func monthsBetween(a, b time.Time) int {
	if !b.After(a) {
		return 0
	}

	months := (b.Year()-a.Year())*12 + int(b.Month()) - int(a.Month())
	if b.Day() < a.Day() {
		months--
	}

	if months < 0 {
		return 0
	}

	return months
}
