package profile

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func calleeTurn(seq int, text string) TranscriptTurn {
	return TranscriptTurn{Seq: seq, Speaker: SpeakerCallee, Text: text}
}

func TestAdversarialScoreCooperativeCallee(t *testing.T) {
	analyzer := newTestAnalyzer()

	turns := []TranscriptTurn{
		{Seq: 1, Speaker: SpeakerAgent, Text: "Where did you work in 2010?"},
		calleeTurn(2, "I worked at the lumber yard on Fifth Street for about six years"),
		calleeTurn(3, "After that I drove a delivery truck for a food distributor"),
	}

	score := analyzer.adversarialScore(turns, nil)
	require.Zero(t, score)
}

func TestAdversarialScoreEvasiveCallee(t *testing.T) {
	analyzer := newTestAnalyzer()

	turns := []TranscriptTurn{
		calleeTurn(1, "i don't know"),
		calleeTurn(2, "maybe"),
		calleeTurn(3, "whatever"),
	}

	score := analyzer.adversarialScore(turns, nil)
	require.Greater(t, score, 5.0)
}

func TestAdversarialScoreHostility(t *testing.T) {
	analyzer := newTestAnalyzer()

	calm := analyzer.adversarialScore([]TranscriptTurn{
		calleeTurn(1, "I was working at the plant back then"),
	}, nil)

	hostile := analyzer.adversarialScore([]TranscriptTurn{
		calleeTurn(1, "stop calling me, this is annoying"),
	}, nil)

	require.Greater(t, hostile, calm)
}

func TestAdversarialScoreContradictions(t *testing.T) {
	analyzer := newTestAnalyzer()

	turns := []TranscriptTurn{
		calleeTurn(1, "I started at Acme in two thousand five and stayed a while"),
	}

	consistent := analyzer.adversarialScore(turns, []EmploymentEntry{
		{Company: "Acme", StartDate: NewDate(2005, 1, 1)},
		{Company: "Acme", StartDate: NewDate(2005, 1, 1)},
	})

	contradictory := analyzer.adversarialScore(turns, []EmploymentEntry{
		{Company: "Acme", StartDate: NewDate(2005, 1, 1)},
		{Company: "Acme", StartDate: NewDate(2012, 1, 1)},
	})

	require.Greater(t, contradictory, consistent)
}

func TestAdversarialScoreLatencyFlag(t *testing.T) {
	analyzer := newTestAnalyzer()

	fast := analyzer.adversarialScore([]TranscriptTurn{
		{Seq: 1, Speaker: SpeakerCallee, Text: "I was working construction jobs then", LatencyMS: 500},
	}, nil)

	slow := analyzer.adversarialScore([]TranscriptTurn{
		{Seq: 1, Speaker: SpeakerCallee, Text: "I was working construction jobs then", LatencyMS: 6000},
	}, nil)

	require.InDelta(t, analyzer.cfg.Adversarial.LatencyWeight, slow-fast, 0.001)
}

func TestAdversarialScoreClamped(t *testing.T) {
	analyzer := newTestAnalyzer()

	turns := make([]TranscriptTurn, 0, 10)
	for i := 0; i < 10; i++ {
		turns = append(turns, calleeTurn(i+1, "stop it, i don't know, whatever"))
	}

	score := analyzer.adversarialScore(turns, nil)
	require.LessOrEqual(t, score, 10.0)
}

func TestAnalyzeAdversarialScoreMonotonic(t *testing.T) {
	analyzer := newTestAnalyzer()

	hostile := []TranscriptTurn{
		calleeTurn(1, "leave me alone"),
		calleeTurn(2, "i don't know"),
	}

	first := analyzer.Analyze("hash", hostile, nil)
	require.Greater(t, first.AdversarialScore, 0.0)

	// A later cooperative stretch must not lower the score.
	calmer := append(hostile,
		calleeTurn(3, "Fine. I worked at the cannery from 2001 until it closed in 2008"),
		calleeTurn(4, "Then I did seasonal farm work for a couple of years after that"),
	)

	second := analyzer.Analyze("hash", calmer, first)
	require.GreaterOrEqual(t, second.AdversarialScore, first.AdversarialScore)
}
