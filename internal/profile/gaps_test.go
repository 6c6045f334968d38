package profile

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func fixedNow() time.Time {
	return time.Date(2024, time.June, 1, 12, 0, 0, 0, time.UTC)
}

func newTestAnalyzer() *Analyzer {
	cfg := DefaultConfig()
	cfg.Now = fixedNow

	return NewAnalyzer(cfg)
}

func TestDetectGapsBetweenAndTrailing(t *testing.T) {
	analyzer := newTestAnalyzer()

	history := []EmploymentEntry{
		{Company: "Mill", StartDate: NewDate(1970, 1, 1), EndDate: NewDate(1977, 1, 1)},
		{Company: "Depot", StartDate: NewDate(2004, 1, 1), EndDate: NewDate(2010, 1, 1)},
	}

	gaps := analyzer.detectGaps(history)
	require.Len(t, gaps, 2)

	require.Equal(t, 1977, gaps[0].StartDate.Year())
	require.Equal(t, 2004, gaps[0].EndDate.Year())

	require.Equal(t, 2010, gaps[1].StartDate.Year())
	require.Equal(t, 2024, gaps[1].EndDate.Year())
}

func TestDetectGapsIgnoresShortBreaks(t *testing.T) {
	analyzer := newTestAnalyzer()

	history := []EmploymentEntry{
		{Company: "A", StartDate: NewDate(1985, 1, 1), EndDate: NewDate(2022, 1, 1)},
		{Company: "B", StartDate: NewDate(2022, 5, 1), EndDate: NewDate(2024, 5, 1)},
	}

	gaps := analyzer.detectGaps(history)
	require.Empty(t, gaps)
}

func TestDetectLeadingGap(t *testing.T) {
	analyzer := newTestAnalyzer()

	// Lookback horizon is 1989; a first job starting in 1995 leaves a
	// leading stretch unaccounted for.
	history := []EmploymentEntry{
		{Company: "A", StartDate: NewDate(1995, 1, 1), EndDate: NewDate(2024, 5, 1)},
	}

	gaps := analyzer.detectGaps(history)
	require.Len(t, gaps, 1)
	require.Equal(t, 1989, gaps[0].StartDate.Year())
	require.Equal(t, 1995, gaps[0].EndDate.Year())
}

func TestGapQuestionsLongGapBreaksDown(t *testing.T) {
	analyzer := newTestAnalyzer()

	gap := analyzer.describeGap(NewDate(1977, 1, 1), NewDate(2004, 1, 1))

	require.NotEmpty(t, gap.FollowUpQuestions)
	require.Contains(t, gap.FollowUpQuestions[0], "1990")
	require.Contains(t, gap.FollowUpQuestions[0], "break it down")
}

func TestGapIndustriesByEra(t *testing.T) {
	analyzer := newTestAnalyzer()

	oldGap := analyzer.describeGap(NewDate(1980, 1, 1), NewDate(1985, 1, 1))
	require.Contains(t, oldGap.SuggestedIndustries, "manufacturing")

	recentGap := analyzer.describeGap(NewDate(2015, 1, 1), NewDate(2018, 1, 1))
	require.Contains(t, recentGap.SuggestedIndustries, "warehouse")
}

func TestGapIndustriesConfiguredMap(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Now = fixedNow
	cfg.IndustriesByDecade = map[int][]string{
		2010: {"rideshare"},
	}
	analyzer := NewAnalyzer(cfg)

	gap := analyzer.describeGap(NewDate(2012, 1, 1), NewDate(2015, 1, 1))
	require.Equal(t, []string{"rideshare"}, gap.SuggestedIndustries)
}

func TestMonthsBetween(t *testing.T) {
	require.Equal(t, 0, monthsBetween(fixedNow(), fixedNow()))
	require.Equal(t, 0, monthsBetween(fixedNow(), fixedNow().AddDate(0, 0, -5)))
	require.Equal(t, 6, monthsBetween(
		time.Date(2020, 1, 15, 0, 0, 0, 0, time.UTC),
		time.Date(2020, 7, 15, 0, 0, 0, 0, time.UTC),
	))
	require.Equal(t, 5, monthsBetween(
		time.Date(2020, 1, 20, 0, 0, 0, 0, time.UTC),
		time.Date(2020, 7, 15, 0, 0, 0, 0, time.UTC),
	))
}
