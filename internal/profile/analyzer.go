package profile

import (
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/canvass-hq/canvass/internal/logging"
	canvassPrometheus "github.com/canvass-hq/canvass/internal/prometheus"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// ErrAnalysis is the stable identifier on log lines where malformed input
// degraded the profile instead of failing the call. It is never returned;
// analysis always yields a profile.
var ErrAnalysis = errors.New("analysis error")

type AdversarialConfig struct {
	ShortWordMax        int
	ShortRatioWeight    float64
	RefusalWeight       float64
	HostileWeight       float64
	ContradictionWeight float64
	LatencyWeight       float64
	LatencyThresholdMS  int
}

type ConfidenceConfig struct {
	NameWeight       float64
	EmployerWeight   float64
	SkillWeight      float64
	ConsentWeight    float64
	MalformedPenalty float64
}

type Config struct {
	GapThresholdMonths int
	LookbackYears      int
	IndustriesByDecade map[int][]string
	Adversarial        AdversarialConfig
	Confidence         ConfidenceConfig

	// Now is swappable so gap detection against the present is testable.
	Now func() time.Time
}

func DefaultConfig() Config {
	return Config{
		GapThresholdMonths: 6,
		LookbackYears:      35,
		Adversarial: AdversarialConfig{
			ShortWordMax:        2,
			ShortRatioWeight:    3.0,
			RefusalWeight:       2.0,
			HostileWeight:       3.0,
			ContradictionWeight: 3.0,
			LatencyWeight:       1.0,
			LatencyThresholdMS:  4000,
		},
		Confidence: ConfidenceConfig{
			NameWeight:       0.3,
			EmployerWeight:   0.3,
			SkillWeight:      0.2,
			ConsentWeight:    0.2,
			MalformedPenalty: 0.05,
		},
		Now: time.Now,
	}
}

// Analyzer turns an accumulated transcript into a WorkerProfile. It holds
// no mutable state and is safe for concurrent use.
type Analyzer struct {
	cfg Config
}

func NewAnalyzer(cfg Config) *Analyzer {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	return &Analyzer{cfg: cfg}
}

// Analyze rebuilds the profile from the full transcript so far. The
// previous profile is consulted only where monotonicity is required: the
// adversarial score never drops between chunks, and resolved gaps stay
// resolved as long as they persist.
func (analyzer *Analyzer) Analyze(
	phoneHash string,
	turns []TranscriptTurn,
	previous *WorkerProfile,
) *WorkerProfile {
	timer := prometheus.NewTimer(canvassPrometheus.AnalyzeDuration)
	defer timer.ObserveDuration()

	workerProfile := &WorkerProfile{
		PhoneHash:         phoneHash,
		EmploymentHistory: make([]EmploymentEntry, 0),
		EmploymentGaps:    make([]EmploymentGap, 0),
		Skills:            make([]string, 0),
	}

	rawEntries, malformed := analyzer.collectFields(turns, workerProfile)

	workerProfile.EmploymentHistory = mergeEntries(rawEntries)
	workerProfile.EmploymentGaps = analyzer.detectGaps(workerProfile.EmploymentHistory)

	if previous != nil {
		carryResolvedGaps(workerProfile.EmploymentGaps, previous.EmploymentGaps)
	}

	workerProfile.AdversarialScore = analyzer.adversarialScore(turns, rawEntries)
	if previous != nil && previous.AdversarialScore > workerProfile.AdversarialScore {
		workerProfile.AdversarialScore = previous.AdversarialScore
	}

	workerProfile.ConfidenceScore = analyzer.confidenceScore(workerProfile, malformed)

	return workerProfile
}

// collectFields folds the extraction hints of every turn into the profile.
// Later turns win for scalar fields; list fields accumulate. The returned
// entries are raw, in transcript order, with duplicates preserved.
func (analyzer *Analyzer) collectFields(
	turns []TranscriptTurn,
	workerProfile *WorkerProfile,
) ([]EmploymentEntry, int) {
	entries := make([]EmploymentEntry, 0)
	skills := make(map[string]struct{})
	malformed := 0

	for _, turn := range turns {
		fields := turn.Fields
		if fields == nil {
			continue
		}

		if fields.Name != "" {
			workerProfile.Name = fields.Name
		}

		if fields.ConsentGiven != nil {
			workerProfile.ConsentGiven = *fields.ConsentGiven
		}

		for _, skill := range fields.Skills {
			skill = strings.TrimSpace(skill)
			if skill == "" {
				continue
			}

			if _, ok := skills[skill]; !ok {
				skills[skill] = struct{}{}
				workerProfile.Skills = append(workerProfile.Skills, skill)
			}
		}

		if fields.Company == "" && fields.Title == "" {
			continue
		}

		entry := EmploymentEntry{Title: fields.Title, Company: fields.Company}

		if fields.StartDate != "" {
			start, err := ParseDate(fields.StartDate)
			if err != nil {
				malformed++
				logging.Logger.Warn("discarding malformed start date",
					zap.String("error", ErrAnalysis.Error()),
					zap.String("value", fields.StartDate),
					zap.Int("seq", turn.Seq),
				)
			} else {
				entry.StartDate = start
			}
		}

		if fields.EndDate != "" {
			end, err := ParseDate(fields.EndDate)
			if err != nil {
				malformed++
				logging.Logger.Warn("discarding malformed end date",
					zap.String("error", ErrAnalysis.Error()),
					zap.String("value", fields.EndDate),
					zap.Int("seq", turn.Seq),
				)
			} else {
				entry.EndDate = end
			}
		}

		if entry.EndDate.IsZero() && !entry.StartDate.IsZero() {
			// Open-ended and most recent so far: treat as the current job.
			workerProfile.CurrentJob = &CurrentJob{Title: entry.Title, Company: entry.Company}
		}

		if !entry.StartDate.IsZero() {
			entries = append(entries, entry)
		} else if workerProfile.CurrentJob == nil {
			workerProfile.CurrentJob = &CurrentJob{Title: entry.Title, Company: entry.Company}
		}
	}

	return entries, malformed
}

// mergeEntries dedupes repeats of the same company and start date, keeping
// the most detailed version. Same company with a different start date stays
// separate; that disagreement feeds the adversarial score instead.
func mergeEntries(entries []EmploymentEntry) []EmploymentEntry {
	type entryKey struct {
		company string
		start   string
	}

	merged := make([]EmploymentEntry, 0, len(entries))
	index := make(map[entryKey]int)

	for _, entry := range entries {
		key := entryKey{
			company: strings.ToLower(strings.TrimSpace(entry.Company)),
			start:   entry.StartDate.Format("2006-01-02"),
		}

		at, ok := index[key]
		if !ok {
			index[key] = len(merged)
			merged = append(merged, entry)
			continue
		}

		if merged[at].Title == "" {
			merged[at].Title = entry.Title
		}

		if merged[at].EndDate.IsZero() {
			merged[at].EndDate = entry.EndDate
		}
	}

	sort.Slice(merged, func(i, j int) bool {
		return merged[i].StartDate.Before(merged[j].StartDate.Time)
	})

	return merged
}

func carryResolvedGaps(current, previous []EmploymentGap) {
	for i := range current {
		for _, old := range previous {
			if old.Resolved &&
				old.StartDate.Equal(current[i].StartDate.Time) &&
				old.EndDate.Equal(current[i].EndDate.Time) {
				current[i].Resolved = true
			}
		}
	}
}
