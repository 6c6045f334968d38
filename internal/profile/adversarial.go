package profile

import "strings"

var evasivePhrases = []string{
	"i don't know", "maybe", "i guess", "whatever",
	"i don't remember", "not sure", "don't care",
}

var hostilePhrases = []string{
	"no", "stop", "leave me alone", "annoying", "stupid",
}

// adversarialScore rates how evasive or hostile the callee is on a 0-10
// scale. Only callee turns count; the agent's own phrasing never moves
// the score.
func (analyzer *Analyzer) adversarialScore(turns []TranscriptTurn, history []EmploymentEntry) float64 {
	callee := make([]TranscriptTurn, 0, len(turns))
	for _, turn := range turns {
		if turn.Speaker != SpeakerAgent {
			callee = append(callee, turn)
		}
	}

	if len(callee) == 0 {
		return 0
	}

	cfg := analyzer.cfg.Adversarial

	short := 0
	refusals := 0
	hostile := 0
	slow := false

	for _, turn := range callee {
		lower := strings.ToLower(turn.Text)

		if len(strings.Fields(turn.Text)) <= cfg.ShortWordMax {
			short++
		}

		for _, phrase := range evasivePhrases {
			if strings.Contains(lower, phrase) {
				refusals++
				break
			}
		}

		for _, phrase := range hostilePhrases {
			if strings.Contains(lower, phrase) {
				hostile++
				break
			}
		}

		if turn.LatencyMS >= cfg.LatencyThresholdMS {
			slow = true
		}
	}

	shortRatio := float64(short) / float64(len(callee))

	score := cfg.ShortRatioWeight*shortRatio +
		cfg.RefusalWeight*float64(refusals) +
		cfg.HostileWeight*float64(hostile) +
		cfg.ContradictionWeight*float64(countContradictions(history))

	if slow {
		score += cfg.LatencyWeight
	}

	return clamp(score, 0, 10)
}

// countContradictions flags employers reported twice with different start
// dates, the cheapest signal that the callee is changing their story.
func countContradictions(history []EmploymentEntry) int {
	starts := make(map[string]Date)
	contradictions := 0

	for _, entry := range history {
		company := strings.ToLower(strings.TrimSpace(entry.Company))
		if company == "" {
			continue
		}

		seen, ok := starts[company]
		if !ok {
			starts[company] = entry.StartDate
			continue
		}

		if !seen.Equal(entry.StartDate.Time) {
			contradictions++
		}
	}

	return contradictions
}

func clamp(value, low, high float64) float64 {
	if value < low {
		return low
	}

	if value > high {
		return high
	}

	return value
}
