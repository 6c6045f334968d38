package profile

import (
	"fmt"
	"strings"
	"time"
)

// Date accepts the loose formats callers actually say on the phone:
// full dates, year-month, or a bare year. It always renders as 2006-01-02.
type Date struct {
	time.Time
}

var dateLayouts = []string{"2006-01-02", "2006-01", "2006"}

func NewDate(year int, month time.Month, day int) Date {
	return Date{time.Date(year, month, day, 0, 0, 0, 0, time.UTC)}
}

func ParseDate(value string) (Date, error) {
	for _, layout := range dateLayouts {
		parsed, err := time.Parse(layout, value)
		if err == nil {
			return Date{parsed}, nil
		}
	}

	return Date{}, fmt.Errorf("unparseable date %q", value)
}

func (date Date) MarshalJSON() ([]byte, error) {
	if date.IsZero() {
		return []byte(`null`), nil
	}

	return []byte(`"` + date.Format("2006-01-02") + `"`), nil
}

func (date *Date) UnmarshalJSON(data []byte) error {
	value := strings.Trim(string(data), `"`)
	if value == "null" || value == "" {
		*date = Date{}
		return nil
	}

	parsed, err := ParseDate(value)
	if err != nil {
		return err
	}

	*date = parsed

	return nil
}

// ExtractedFields carries the structured hints attached to a transcript
// chunk by the upstream extraction pipeline. All fields are optional.
type ExtractedFields struct {
	Name         string   `json:"name,omitempty"`
	Company      string   `json:"company,omitempty"`
	Title        string   `json:"title,omitempty"`
	StartDate    string   `json:"start_date,omitempty"`
	EndDate      string   `json:"end_date,omitempty"`
	Skills       []string `json:"skills,omitempty"`
	ConsentGiven *bool    `json:"consent_given,omitempty"`
}

type TranscriptTurn struct {
	Seq        int              `json:"seq"`
	Speaker    string           `json:"speaker"`
	Text       string           `json:"text"`
	LatencyMS  int              `json:"latency_ms,omitempty"`
	ReceivedAt time.Time        `json:"received_at"`
	Fields     *ExtractedFields `json:"fields,omitempty"`
}

const (
	SpeakerAgent  = "agent"
	SpeakerCallee = "callee"
)

type EmploymentEntry struct {
	Title     string `json:"title"`
	Company   string `json:"company"`
	StartDate Date   `json:"start_date"`
	EndDate   Date   `json:"end_date"`
}

// effectiveEnd treats an open-ended entry as ending at its start, the same
// convention used when only one year was mentioned for a job.
func (entry EmploymentEntry) effectiveEnd() Date {
	if entry.EndDate.IsZero() {
		return entry.StartDate
	}

	return entry.EndDate
}

type CurrentJob struct {
	Title   string `json:"title"`
	Company string `json:"company"`
}

type EmploymentGap struct {
	StartDate           Date     `json:"start_date"`
	EndDate             Date     `json:"end_date"`
	Resolved            bool     `json:"resolved"`
	SuggestedIndustries []string `json:"suggested_industries,omitempty"`
	FollowUpQuestions   []string `json:"follow_up_questions,omitempty"`
}

type WorkerProfile struct {
	PhoneHash         string            `json:"phone_hash"`
	Name              string            `json:"name,omitempty"`
	CurrentJob        *CurrentJob       `json:"current_job,omitempty"`
	EmploymentHistory []EmploymentEntry `json:"employment_history"`
	EmploymentGaps    []EmploymentGap   `json:"employment_gaps"`
	Skills            []string          `json:"skills"`
	AdversarialScore  float64           `json:"adversarial_score"`
	ConfidenceScore   float64           `json:"confidence_score"`
	ConsentGiven      bool              `json:"consent_given"`
}
