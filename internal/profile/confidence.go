package profile

// confidenceScore measures how usable the profile is for a downstream
// consumer. Each core field contributes its weight when present; malformed
// field values seen during extraction chip away at the total.
func (analyzer *Analyzer) confidenceScore(workerProfile *WorkerProfile, malformedFields int) float64 {
	cfg := analyzer.cfg.Confidence

	score := 0.0

	if workerProfile.Name != "" {
		score += cfg.NameWeight
	}

	if len(workerProfile.EmploymentHistory) > 0 || workerProfile.CurrentJob != nil {
		score += cfg.EmployerWeight
	}

	if len(workerProfile.Skills) > 0 {
		score += cfg.SkillWeight
	}

	if workerProfile.ConsentGiven {
		score += cfg.ConsentWeight
	}

	score -= cfg.MalformedPenalty * float64(malformedFields)

	return clamp(score, 0, 1)
}
