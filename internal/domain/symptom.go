package domain

import "time"

// Severity is the coarse triage level shown on a symptom card.
type Severity string

const (
	SeverityLow    Severity = "LOW"
	SeverityMedium Severity = "MEDIUM"
	SeverityHigh   Severity = "HIGH"
)

// Valid reports whether s is one of the known severities.
func (s Severity) Valid() bool {
	switch s {
	case SeverityLow, SeverityMedium, SeverityHigh:
		return true
	}
	return false
}

// Symptom is a persisted symptom record. OwnerID is never serialised; the
// owner is always the authenticated caller.
type Symptom struct {
	ID             string    `json:"id"`
	OwnerID        string    `json:"-"`
	ConversationID string    `json:"conversation_id,omitempty"`
	PatientName    string    `json:"patient_name"`
	Title          string    `json:"title"`
	Age            *int      `json:"age"`
	Gender         string    `json:"gender"`
	Severity       Severity  `json:"severity"`
	RiskScore      int       `json:"risk_score"`
	DurationDays   *int      `json:"duration"`
	Description    string    `json:"description"`
	AIAnalysis     string    `json:"ai_analysis"`
	CreatedAt      time.Time `json:"created_at"`
}

// SymptomPatch carries a partial update. Nil fields are left untouched.
type SymptomPatch struct {
	PatientName  *string
	Title        *string
	Age          *int
	Gender       *string
	Severity     *Severity
	RiskScore    *int
	DurationDays *int
	Description  *string
	AIAnalysis   *string
}

// Apply copies every non-nil field of p onto s.
func (p SymptomPatch) Apply(s *Symptom) {
	if p.PatientName != nil {
		s.PatientName = *p.PatientName
	}
	if p.Title != nil {
		s.Title = *p.Title
	}
	if p.Age != nil {
		age := *p.Age
		s.Age = &age
	}
	if p.Gender != nil {
		s.Gender = *p.Gender
	}
	if p.Severity != nil {
		s.Severity = *p.Severity
	}
	if p.RiskScore != nil {
		s.RiskScore = *p.RiskScore
	}
	if p.DurationDays != nil {
		d := *p.DurationDays
		s.DurationDays = &d
	}
	if p.Description != nil {
		s.Description = *p.Description
	}
	if p.AIAnalysis != nil {
		s.AIAnalysis = *p.AIAnalysis
	}
}
