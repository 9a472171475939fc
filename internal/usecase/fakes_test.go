package usecase

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"minimedi/internal/auth"
	"minimedi/internal/domain"
)

type mockLLM struct {
	answer    string
	err       error
	block     bool
	model     string
	captured  []domain.ChatMessage
	callCount int
}

func (m *mockLLM) Chat(ctx context.Context, model string, msgs []domain.ChatMessage) (string, error) {
	m.callCount++
	m.model = model
	m.captured = msgs
	if m.block {
		<-ctx.Done()
		return "", ctx.Err()
	}
	return m.answer, m.err
}

type statusErr struct {
	status int
	msg    string
}

func (e *statusErr) Error() string           { return fmt.Sprintf("status %d: %s", e.status, e.msg) }
func (e *statusErr) HTTPStatusCode() int     { return e.status }
func (e *statusErr) ProviderMessage() string { return e.msg }

// memSymptoms is an in-memory SymptomStore and ConversationRecordStore.
type memSymptoms struct {
	mu      sync.Mutex
	records map[string]domain.Symptom
	err     error
}

func newMemSymptoms() *memSymptoms {
	return &memSymptoms{records: map[string]domain.Symptom{}}
}

func (m *memSymptoms) ListSymptoms(_ context.Context, ownerID string) ([]domain.Symptom, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	var out []domain.Symptom
	for _, r := range m.records {
		if r.OwnerID == ownerID {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m *memSymptoms) CreateSymptom(_ context.Context, s domain.Symptom) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.records[s.ID] = s
	return nil
}

func (m *memSymptoms) UpdateSymptom(_ context.Context, ownerID, id string, patch domain.SymptomPatch) (domain.Symptom, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return domain.Symptom{}, m.err
	}
	r, ok := m.records[id]
	if !ok || r.OwnerID != ownerID {
		return domain.Symptom{}, domain.ErrNotFound
	}
	patch.Apply(&r)
	m.records[id] = r
	return r, nil
}

func (m *memSymptoms) DeleteSymptom(_ context.Context, ownerID, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	r, ok := m.records[id]
	if !ok || r.OwnerID != ownerID {
		return domain.ErrNotFound
	}
	delete(m.records, id)
	return nil
}

func (m *memSymptoms) DeleteAllSymptoms(_ context.Context, ownerID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return 0, m.err
	}
	n := 0
	for id, r := range m.records {
		if r.OwnerID == ownerID {
			delete(m.records, id)
			n++
		}
	}
	return n, nil
}

func (m *memSymptoms) UpsertConversationSymptom(_ context.Context, key domain.ConversationKey, create domain.Symptom, update domain.SymptomPatch) (domain.Symptom, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return domain.Symptom{}, false, m.err
	}
	for id, r := range m.records {
		if r.OwnerID == key.OwnerID && r.ConversationID == key.ConversationID {
			update.Apply(&r)
			m.records[id] = r
			return r, false, nil
		}
	}
	m.records[create.ID] = create
	return create, true, nil
}

func (m *memSymptoms) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records)
}

type memUsers struct {
	byID      map[string]domain.User
	createErr error
	lookupErr error
}

func newMemUsers() *memUsers {
	return &memUsers{byID: map[string]domain.User{}}
}

func (m *memUsers) CreateUser(_ context.Context, u domain.User) error {
	if m.createErr != nil {
		return m.createErr
	}
	for _, existing := range m.byID {
		if existing.Email == u.Email || existing.Username == u.Username {
			return fmt.Errorf("user exists: %w", domain.ErrConflict)
		}
	}
	m.byID[u.ID] = u
	return nil
}

func (m *memUsers) GetUserByEmail(_ context.Context, email string) (domain.User, error) {
	if m.lookupErr != nil {
		return domain.User{}, m.lookupErr
	}
	for _, u := range m.byID {
		if u.Email == email {
			return u, nil
		}
	}
	return domain.User{}, domain.ErrNotFound
}

func (m *memUsers) GetUserByID(_ context.Context, id string) (domain.User, error) {
	if m.lookupErr != nil {
		return domain.User{}, m.lookupErr
	}
	u, ok := m.byID[id]
	if !ok {
		return domain.User{}, domain.ErrNotFound
	}
	return u, nil
}

type fakeIssuer struct {
	issued []auth.Subject
	err    error
}

func (f *fakeIssuer) Issue(_ context.Context, sub auth.Subject) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.issued = append(f.issued, sub)
	return "token-for-" + sub.ID, nil
}

type fakeIdentity struct {
	id  domain.ExternalIdentity
	err error
}

func (f *fakeIdentity) Lookup(_ context.Context, _ string) (domain.ExternalIdentity, error) {
	return f.id, f.err
}

type memReports struct {
	items []domain.IssueReport
	err   error
}

func (m *memReports) CreateReport(_ context.Context, r domain.IssueReport) error {
	if m.err != nil {
		return m.err
	}
	m.items = append(m.items, r)
	return nil
}

func (m *memReports) ListReports(_ context.Context, ownerID string) ([]domain.IssueReport, error) {
	if m.err != nil {
		return nil, m.err
	}
	var out []domain.IssueReport
	for i := len(m.items) - 1; i >= 0; i-- {
		if m.items[i].OwnerID == ownerID {
			out = append(out, m.items[i])
		}
	}
	return out, nil
}

func (m *memReports) DeleteReport(_ context.Context, ownerID, id string) error {
	if m.err != nil {
		return m.err
	}
	for i, r := range m.items {
		if r.ID == id && r.OwnerID == ownerID {
			m.items = append(m.items[:i], m.items[i+1:]...)
			return nil
		}
	}
	return domain.ErrNotFound
}

// sequentialIDs replaces newUUID for the duration of a test.
func sequentialIDs(t interface{ Cleanup(func()) }) {
	prev := newUUID
	n := 0
	newUUID = func() string {
		n++
		return fmt.Sprintf("id-%d", n)
	}
	t.Cleanup(func() { newUUID = prev })
}
