package usecase

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"minimedi/internal/domain"
)

const (
	maxTitleLen       = 200
	maxPatientNameLen = 100
	maxGenderLen      = 50
	maxRiskScore      = 100
)

// SymptomStore scopes every operation to ownerID; an id owned by somebody
// else behaves exactly like a missing one (domain.ErrNotFound).
type SymptomStore interface {
	ListSymptoms(ctx context.Context, ownerID string) ([]domain.Symptom, error)
	CreateSymptom(ctx context.Context, s domain.Symptom) error
	UpdateSymptom(ctx context.Context, ownerID, id string, patch domain.SymptomPatch) (domain.Symptom, error)
	DeleteSymptom(ctx context.Context, ownerID, id string) error
	DeleteAllSymptoms(ctx context.Context, ownerID string) (int, error)
}

type SymptomService struct {
	store       SymptomStore
	gateway     *Gateway
	checkPrompt string
	now         func() time.Time
}

func NewSymptomService(store SymptomStore, g *Gateway) (*SymptomService, error) {
	if store == nil {
		return nil, errors.New("usecase: symptom store must not be nil")
	}
	if g == nil {
		return nil, errors.New("usecase: gateway must not be nil")
	}
	prompt, err := LookupPrompt(PromptSymptomCheck)
	if err != nil {
		return nil, err
	}
	return &SymptomService{store: store, gateway: g, checkPrompt: prompt, now: time.Now}, nil
}

func (s *SymptomService) List(ctx context.Context, ownerID string) ([]domain.Symptom, error) {
	if ownerID == "" {
		return nil, newError(ErrorAuth, "missing_subject", nil)
	}
	out, err := s.store.ListSymptoms(ctx, ownerID)
	if err != nil {
		return nil, newError(ErrorInternal, "symptom_list_error", err)
	}
	if out == nil {
		out = []domain.Symptom{}
	}
	return out, nil
}

// Create stores a new record owned by ownerID. Missing severity defaults to
// LOW and missing risk score to 0.
func (s *SymptomService) Create(ctx context.Context, ownerID string, in domain.SymptomPatch) (domain.Symptom, error) {
	if ownerID == "" {
		return domain.Symptom{}, newError(ErrorAuth, "missing_subject", nil)
	}
	if in.Title == nil || strings.TrimSpace(*in.Title) == "" {
		return domain.Symptom{}, invalid("missing_title", "title: This field is required.")
	}
	if verr := validateSymptomFields(in); verr != nil {
		return domain.Symptom{}, verr
	}
	rec := domain.Symptom{
		ID:        newUUID(),
		OwnerID:   ownerID,
		Severity:  domain.SeverityLow,
		CreatedAt: s.now().UTC(),
	}
	in.Apply(&rec)
	if err := s.store.CreateSymptom(ctx, rec); err != nil {
		return domain.Symptom{}, newError(ErrorInternal, "symptom_create_error", err)
	}
	return rec, nil
}

func (s *SymptomService) Update(ctx context.Context, ownerID, id string, patch domain.SymptomPatch) (domain.Symptom, error) {
	if ownerID == "" {
		return domain.Symptom{}, newError(ErrorAuth, "missing_subject", nil)
	}
	if patch.Title != nil && strings.TrimSpace(*patch.Title) == "" {
		return domain.Symptom{}, invalid("blank_title", "title: This field may not be blank.")
	}
	if verr := validateSymptomFields(patch); verr != nil {
		return domain.Symptom{}, verr
	}
	rec, err := s.store.UpdateSymptom(ctx, ownerID, id, patch)
	if err != nil {
		return domain.Symptom{}, symptomStoreError("symptom_update_error", err)
	}
	return rec, nil
}

func (s *SymptomService) Delete(ctx context.Context, ownerID, id string) error {
	if ownerID == "" {
		return newError(ErrorAuth, "missing_subject", nil)
	}
	if err := s.store.DeleteSymptom(ctx, ownerID, id); err != nil {
		return symptomStoreError("symptom_delete_error", err)
	}
	return nil
}

// ClearAll deletes every record owned by ownerID and reports how many went.
func (s *SymptomService) ClearAll(ctx context.Context, ownerID string) (int, error) {
	if ownerID == "" {
		return 0, newError(ErrorAuth, "missing_subject", nil)
	}
	n, err := s.store.DeleteAllSymptoms(ctx, ownerID)
	if err != nil {
		return 0, newError(ErrorInternal, "symptom_clear_error", err)
	}
	return n, nil
}

// Check asks the provider for likely causes and precautions and returns the
// reply split into one suggestion per line.
func (s *SymptomService) Check(ctx context.Context, description string) ([]string, error) {
	description = strings.TrimSpace(description)
	if description == "" {
		return nil, invalid("empty_description", "Description is required")
	}
	raw, err := s.gateway.Complete(ctx, s.checkPrompt, []domain.ChatMessage{
		{Role: domain.RoleUser, Content: description},
	})
	if err != nil {
		return nil, err
	}
	out := splitSuggestions(strings.TrimSpace(raw))
	if out == nil {
		out = []string{}
	}
	return out, nil
}

func validateSymptomFields(p domain.SymptomPatch) *Error {
	switch {
	case p.Title != nil && utf8.RuneCountInString(*p.Title) > maxTitleLen:
		return invalid("title_too_long", "title: Ensure this field has no more than 200 characters.")
	case p.PatientName != nil && utf8.RuneCountInString(*p.PatientName) > maxPatientNameLen:
		return invalid("patient_name_too_long", "patient_name: Ensure this field has no more than 100 characters.")
	case p.Gender != nil && utf8.RuneCountInString(*p.Gender) > maxGenderLen:
		return invalid("gender_too_long", "gender: Ensure this field has no more than 50 characters.")
	case p.Severity != nil && !p.Severity.Valid():
		return invalid("invalid_severity", "severity: Must be one of LOW, MEDIUM, HIGH.")
	case p.RiskScore != nil && (*p.RiskScore < 0 || *p.RiskScore > maxRiskScore):
		return invalid("invalid_risk_score", "risk_score: Must be between 0 and 100.")
	case p.Age != nil && *p.Age < 0:
		return invalid("invalid_age", "age: Must not be negative.")
	case p.DurationDays != nil && *p.DurationDays < 0:
		return invalid("invalid_duration", "duration: Must not be negative.")
	}
	return nil
}

func symptomStoreError(reason string, err error) *Error {
	if errors.Is(err, domain.ErrNotFound) {
		return notFound("symptom_not_found", "Symptom not found or unauthorized", err)
	}
	return newError(ErrorInternal, reason, err)
}
