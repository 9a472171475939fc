package repository

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/stretchr/testify/require"

	"minimedi/internal/domain"
)

const testDatabaseURLEnv = "MINIMEDI_TEST_DATABASE_URL"

func TestMigrationFS_ListsOrderedMigrations(t *testing.T) {
	entries, err := fs.ReadDir(MigrationFS(), ".")
	require.NoError(t, err)

	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	require.Equal(t, []string{"00001_init.sql", "00002_issue_reports.sql"}, names)

	raw, err := fs.ReadFile(MigrationFS(), "00001_init.sql")
	require.NoError(t, err)
	require.Contains(t, string(raw), "-- +goose Up")
	require.Contains(t, string(raw), "symptoms_owner_conversation_idx")
}

func TestIsUniqueViolation(t *testing.T) {
	require.True(t, isUniqueViolation(&pq.Error{Code: "23505"}))
	require.True(t, isUniqueViolation(fmt.Errorf("wrapped: %w", &pq.Error{Code: "23505"})))
	require.False(t, isUniqueViolation(&pq.Error{Code: "23503"}))
	require.False(t, isUniqueViolation(errors.New("duplicate key")))
	require.False(t, isUniqueViolation(nil))
}

func TestNewPostgres_RejectsNilDB(t *testing.T) {
	_, err := NewPostgres(nil)
	require.Error(t, err)
}

func TestOpenPostgres_RejectsEmptyURL(t *testing.T) {
	_, err := OpenPostgres(context.Background(), "  ")
	require.Error(t, err)
}

func TestMigrate_RejectsNilDB(t *testing.T) {
	_, err := Migrate(context.Background(), nil)
	require.Error(t, err)
}

// newTestPostgres connects to a throwaway database, migrates it and returns a
// client. The tests are skipped unless the database URL is set.
func newTestPostgres(t *testing.T) *PostgresClient {
	t.Helper()
	dsn := os.Getenv(testDatabaseURLEnv)
	if dsn == "" {
		t.Skipf("%s not set", testDatabaseURLEnv)
	}
	ctx := context.Background()
	db, err := OpenPostgres(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	_, err = Migrate(ctx, db)
	require.NoError(t, err)
	v, err := MigrationVersion(ctx, db)
	require.NoError(t, err)
	require.EqualValues(t, 2, v)

	c, err := NewPostgres(db)
	require.NoError(t, err)
	return c
}

func createTestUser(t *testing.T, c *PostgresClient) domain.User {
	t.Helper()
	id := uuid.NewString()
	u := domain.User{
		ID:           id,
		Username:     "user-" + id,
		Email:        id + "@example.com",
		Name:         "Test",
		PasswordHash: "hash",
		CreatedAt:    time.Now().UTC().Truncate(time.Microsecond),
	}
	require.NoError(t, c.CreateUser(context.Background(), u))
	return u
}

func TestPostgres_SymptomLifecycle(t *testing.T) {
	c := newTestPostgres(t)
	ctx := context.Background()
	u := createTestUser(t, c)
	other := createTestUser(t, c)

	base := time.Now().UTC().Truncate(time.Microsecond)
	age := 30
	for i, title := range []string{"first", "second"} {
		require.NoError(t, c.CreateSymptom(ctx, domain.Symptom{
			ID: uuid.NewString(), OwnerID: u.ID, Title: title, Age: &age,
			Severity: domain.SeverityLow, CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}))
	}

	list, err := c.ListSymptoms(ctx, u.ID)
	require.NoError(t, err)
	require.Len(t, list, 2)
	require.Equal(t, "second", list[0].Title)
	require.Equal(t, 30, *list[0].Age)
	require.Nil(t, list[0].DurationDays)

	high := domain.SeverityHigh
	title := "renamed"
	updated, err := c.UpdateSymptom(ctx, u.ID, list[0].ID, domain.SymptomPatch{Title: &title, Severity: &high})
	require.NoError(t, err)
	require.Equal(t, "renamed", updated.Title)
	require.Equal(t, domain.SeverityHigh, updated.Severity)
	require.Equal(t, 30, *updated.Age)

	_, err = c.UpdateSymptom(ctx, other.ID, list[0].ID, domain.SymptomPatch{Title: &title})
	require.ErrorIs(t, err, domain.ErrNotFound)
	require.ErrorIs(t, c.DeleteSymptom(ctx, other.ID, list[0].ID), domain.ErrNotFound)

	require.NoError(t, c.DeleteSymptom(ctx, u.ID, list[0].ID))
	require.ErrorIs(t, c.DeleteSymptom(ctx, u.ID, list[0].ID), domain.ErrNotFound)

	n, err := c.DeleteAllSymptoms(ctx, u.ID)
	require.NoError(t, err)
	require.Equal(t, 1, n)
}

func TestPostgres_UpsertConversationSymptom(t *testing.T) {
	c := newTestPostgres(t)
	ctx := context.Background()
	u := createTestUser(t, c)
	k := domain.ConversationKey{OwnerID: u.ID, ConversationID: uuid.NewString()}

	age := 20
	created, inserted, err := c.UpsertConversationSymptom(ctx, k, domain.Symptom{
		ID: uuid.NewString(), PatientName: "Ann", Title: "Health Analysis: cough", Age: &age,
		Severity: domain.SeverityLow, Description: "cough", CreatedAt: time.Now().UTC(),
	}, domain.SymptomPatch{})
	require.NoError(t, err)
	require.True(t, inserted)
	require.Equal(t, k.ConversationID, created.ConversationID)

	desc := "cough and fever"
	again, inserted, err := c.UpsertConversationSymptom(ctx, k, domain.Symptom{
		ID: uuid.NewString(), Title: "ignored", Severity: domain.SeverityLow, CreatedAt: time.Now().UTC(),
	}, domain.SymptomPatch{Description: &desc})
	require.NoError(t, err)
	require.False(t, inserted)
	require.Equal(t, created.ID, again.ID)
	require.Equal(t, "cough and fever", again.Description)
	require.Equal(t, "Ann", again.PatientName)
	require.Equal(t, 20, *again.Age)
}

func TestPostgres_UpsertConversationSymptom_ConcurrentWritersCreateOnce(t *testing.T) {
	c := newTestPostgres(t)
	ctx := context.Background()
	u := createTestUser(t, c)
	k := domain.ConversationKey{OwnerID: u.ID, ConversationID: uuid.NewString()}

	const writers = 8
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		creates int
		errs    []error
	)
	for range writers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, inserted, err := c.UpsertConversationSymptom(ctx, k, domain.Symptom{
				ID: uuid.NewString(), Title: "t", Severity: domain.SeverityLow, CreatedAt: time.Now().UTC(),
			}, domain.SymptomPatch{})
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, err)
				return
			}
			if inserted {
				creates++
			}
		}()
	}
	wg.Wait()
	require.Empty(t, errs)
	require.Equal(t, 1, creates)

	list, err := c.ListSymptoms(ctx, u.ID)
	require.NoError(t, err)
	require.Len(t, list, 1)
}

func TestPostgres_Users(t *testing.T) {
	c := newTestPostgres(t)
	ctx := context.Background()
	u := createTestUser(t, c)

	got, err := c.GetUserByID(ctx, u.ID)
	require.NoError(t, err)
	require.Equal(t, u.Email, got.Email)

	got, err = c.GetUserByEmail(ctx, " "+u.ID+"@EXAMPLE.com")
	require.NoError(t, err)
	require.Equal(t, u.ID, got.ID)

	dup := u
	dup.ID = uuid.NewString()
	dup.Username = "other-" + dup.ID
	require.ErrorIs(t, c.CreateUser(ctx, dup), domain.ErrConflict)

	_, err = c.GetUserByID(ctx, uuid.NewString())
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestPostgres_Reports(t *testing.T) {
	c := newTestPostgres(t)
	ctx := context.Background()
	u := createTestUser(t, c)

	r := domain.IssueReport{
		ID: uuid.NewString(), OwnerID: u.ID, Subject: "bug", Email: "a@b.co",
		Description: "broken", CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, c.CreateReport(ctx, r))
	require.NoError(t, c.CreateReport(ctx, domain.IssueReport{
		ID: uuid.NewString(), Subject: "anon", Email: "x@y.co", Description: "d", CreatedAt: time.Now().UTC(),
	}))

	list, err := c.ListReports(ctx, u.ID)
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.Equal(t, "bug", list[0].Subject)

	require.NoError(t, c.DeleteReport(ctx, u.ID, r.ID))
	require.ErrorIs(t, c.DeleteReport(ctx, u.ID, r.ID), domain.ErrNotFound)
}
