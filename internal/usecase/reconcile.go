package usecase

import (
	"context"
	"errors"
	"strings"
	"time"

	"minimedi/internal/domain"
	"minimedi/internal/sentinel"
)

const (
	defaultPatientName = "Guest"
	titlePrefix        = "Health Analysis: "
	fallbackTitle      = "Health Analysis Report"
	maxTitleSymptoms   = 80
)

// ConversationRecordStore persists the one record a conversation produces.
// UpsertConversationSymptom creates create when no record exists for key and
// otherwise applies update to the existing one, atomically per key. The bool
// reports whether a record was created.
type ConversationRecordStore interface {
	UpsertConversationSymptom(ctx context.Context, key domain.ConversationKey, create domain.Symptom, update domain.SymptomPatch) (domain.Symptom, bool, error)
}

type Reconciler struct {
	store ConversationRecordStore
	now   func() time.Time
}

type ReconcileOutput struct {
	Record  *domain.Symptom
	Created bool
}

func NewReconciler(store ConversationRecordStore) (*Reconciler, error) {
	if store == nil {
		return nil, errors.New("usecase: record store must not be nil")
	}
	return &Reconciler{store: store, now: time.Now}, nil
}

// Reconcile persists a completed payload for key. A nil or incomplete payload
// is a no-op.
func (r *Reconciler) Reconcile(ctx context.Context, key domain.ConversationKey, p *sentinel.Payload, visibleText string) (ReconcileOutput, error) {
	if p == nil || !p.Complete {
		return ReconcileOutput{}, nil
	}
	if !key.Valid() {
		return ReconcileOutput{}, newError(ErrorInternal, "invalid_reconcile_key", nil)
	}

	rec, created, err := r.store.UpsertConversationSymptom(ctx, key, r.newRecord(key, p, visibleText), patchFromPayload(p, visibleText))
	if err != nil {
		return ReconcileOutput{}, newError(ErrorInternal, "record_upsert_error", err)
	}
	return ReconcileOutput{Record: &rec, Created: created}, nil
}

func (r *Reconciler) newRecord(key domain.ConversationKey, p *sentinel.Payload, visibleText string) domain.Symptom {
	name := clampRunes(strings.TrimSpace(p.Name), maxPatientNameLen)
	if name == "" {
		name = defaultPatientName
	}
	symptoms := strings.TrimSpace(p.Symptoms)
	return domain.Symptom{
		ID:             newUUID(),
		OwnerID:        key.OwnerID,
		ConversationID: key.ConversationID,
		PatientName:    name,
		Title:          titleFromSymptoms(symptoms),
		Age:            nonNegative(p.Age),
		Gender:         clampRunes(strings.TrimSpace(p.Gender), maxGenderLen),
		Severity:       domain.SeverityLow,
		RiskScore:      0,
		DurationDays:   nonNegative(p.Duration),
		Description:    symptoms,
		AIAnalysis:     visibleText,
		CreatedAt:      r.now().UTC(),
	}
}

// patchFromPayload only carries fields the payload actually supplies.
// Severity and risk score are never part of it. Values are clamped to the
// same bounds the symptom API enforces; a negative age or duration is dropped.
func patchFromPayload(p *sentinel.Payload, visibleText string) domain.SymptomPatch {
	var patch domain.SymptomPatch
	if v := clampRunes(strings.TrimSpace(p.Name), maxPatientNameLen); v != "" {
		patch.PatientName = &v
	}
	if v := clampRunes(strings.TrimSpace(p.Gender), maxGenderLen); v != "" {
		patch.Gender = &v
	}
	if v := strings.TrimSpace(p.Symptoms); v != "" {
		patch.Description = &v
		title := titleFromSymptoms(v)
		patch.Title = &title
	}
	if visibleText != "" {
		v := visibleText
		patch.AIAnalysis = &v
	}
	patch.Age = nonNegative(p.Age)
	patch.DurationDays = nonNegative(p.Duration)
	return patch
}

func nonNegative(n *int) *int {
	if n == nil || *n < 0 {
		return nil
	}
	return n
}

func clampRunes(s string, limit int) string {
	r := []rune(s)
	if len(r) <= limit {
		return s
	}
	return strings.TrimSpace(string(r[:limit]))
}

func titleFromSymptoms(symptoms string) string {
	if symptoms == "" {
		return fallbackTitle
	}
	return titlePrefix + clampRunes(symptoms, maxTitleSymptoms)
}
