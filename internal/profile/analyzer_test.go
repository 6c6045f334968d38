package profile

import (
	"testing"

	"github.com/canvass-hq/canvass/internal/logging"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func boolPtr(b bool) *bool {
	return &b
}

func TestMalformedFieldsLogAnalysisError(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)

	previous := logging.Logger
	logging.Logger = zap.New(core)

	defer func() { logging.Logger = previous }()

	analyzer := newTestAnalyzer()
	analyzer.Analyze("hash", []TranscriptTurn{
		{
			Seq: 1, Speaker: SpeakerCallee, Text: "I started about ten years back",
			Fields: &ExtractedFields{Company: "Acme", StartDate: "about ten years back"},
		},
	}, nil)

	entries := logs.FilterField(zap.String("error", ErrAnalysis.Error())).All()
	require.NotEmpty(t, entries)
}

func TestParseDateFormats(t *testing.T) {
	full, err := ParseDate("2004-03-15")
	require.NoError(t, err)
	require.Equal(t, 2004, full.Year())

	yearMonth, err := ParseDate("2004-03")
	require.NoError(t, err)
	require.Equal(t, 3, int(yearMonth.Month()))

	yearOnly, err := ParseDate("2004")
	require.NoError(t, err)
	require.Equal(t, 2004, yearOnly.Year())

	_, err = ParseDate("sometime in the nineties")
	require.Error(t, err)
}

func TestAnalyzeCollectsFields(t *testing.T) {
	analyzer := newTestAnalyzer()

	turns := []TranscriptTurn{
		{
			Seq: 1, Speaker: SpeakerCallee, Text: "My name is Ray Ortiz",
			Fields: &ExtractedFields{Name: "Ray Ortiz", ConsentGiven: boolPtr(true)},
		},
		{
			Seq: 2, Speaker: SpeakerCallee, Text: "I ran a forklift at the depot",
			Fields: &ExtractedFields{
				Company:   "Depot",
				Title:     "Forklift Operator",
				StartDate: "2004",
				EndDate:   "2010",
				Skills:    []string{"forklift", "inventory"},
			},
		},
		{
			Seq: 3, Speaker: SpeakerCallee, Text: "Now I do warehouse work",
			Fields: &ExtractedFields{
				Company:   "Fulfillment Co",
				Title:     "Picker",
				StartDate: "2022-02",
				Skills:    []string{"forklift"},
			},
		},
	}

	workerProfile := analyzer.Analyze("hash", turns, nil)

	require.Equal(t, "Ray Ortiz", workerProfile.Name)
	require.True(t, workerProfile.ConsentGiven)
	require.Len(t, workerProfile.EmploymentHistory, 2)
	require.Equal(t, []string{"forklift", "inventory"}, workerProfile.Skills)
	require.NotNil(t, workerProfile.CurrentJob)
	require.Equal(t, "Fulfillment Co", workerProfile.CurrentJob.Company)
}

func TestAnalyzeMergesDuplicateEmployers(t *testing.T) {
	analyzer := newTestAnalyzer()

	turns := []TranscriptTurn{
		{Seq: 1, Fields: &ExtractedFields{Company: "Acme", StartDate: "2005", EndDate: "2009"}},
		{Seq: 2, Fields: &ExtractedFields{Company: "acme", Title: "Welder", StartDate: "2005"}},
	}

	workerProfile := analyzer.Analyze("hash", turns, nil)

	require.Len(t, workerProfile.EmploymentHistory, 1)
	require.Equal(t, "Welder", workerProfile.EmploymentHistory[0].Title)
	require.Equal(t, 2009, workerProfile.EmploymentHistory[0].EndDate.Year())
}

func TestAnalyzeMalformedDatesDegradeConfidence(t *testing.T) {
	analyzer := newTestAnalyzer()

	clean := []TranscriptTurn{
		{Seq: 1, Fields: &ExtractedFields{
			Name: "Ray", Company: "Acme", StartDate: "2005", ConsentGiven: boolPtr(true),
		}},
	}

	malformed := []TranscriptTurn{
		{Seq: 1, Fields: &ExtractedFields{
			Name: "Ray", Company: "Acme", StartDate: "2005",
			EndDate: "back when the mill closed", ConsentGiven: boolPtr(true),
		}},
	}

	cleanProfile := analyzer.Analyze("hash", clean, nil)
	malformedProfile := analyzer.Analyze("hash", malformed, nil)

	require.Less(t, malformedProfile.ConfidenceScore, cleanProfile.ConfidenceScore)
}

func TestConfidenceScoreWeights(t *testing.T) {
	analyzer := newTestAnalyzer()

	empty := analyzer.confidenceScore(&WorkerProfile{}, 0)
	require.Zero(t, empty)

	full := analyzer.confidenceScore(&WorkerProfile{
		Name:              "Ray",
		EmploymentHistory: []EmploymentEntry{{Company: "Acme"}},
		Skills:            []string{"welding"},
		ConsentGiven:      true,
	}, 0)
	require.InDelta(t, 1.0, full, 0.001)

	noConsent := analyzer.confidenceScore(&WorkerProfile{
		Name:              "Ray",
		EmploymentHistory: []EmploymentEntry{{Company: "Acme"}},
		Skills:            []string{"welding"},
	}, 0)
	require.InDelta(t, 0.8, noConsent, 0.001)
}

func TestAnalyzeCarriesResolvedGaps(t *testing.T) {
	analyzer := newTestAnalyzer()

	turns := []TranscriptTurn{
		{Seq: 1, Fields: &ExtractedFields{Company: "Mill", StartDate: "1990", EndDate: "1995"}},
		{Seq: 2, Fields: &ExtractedFields{Company: "Depot", StartDate: "2005", EndDate: "2024-05"}},
	}

	first := analyzer.Analyze("hash", turns, nil)
	require.NotEmpty(t, first.EmploymentGaps)

	first.EmploymentGaps[0].Resolved = true

	second := analyzer.Analyze("hash", turns, first)
	require.True(t, second.EmploymentGaps[0].Resolved)
}
