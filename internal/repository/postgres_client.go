package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"minimedi/internal/domain"
)

const pqUniqueViolation = "23505"

// PostgresClient implements the same stores as DynamoClient on top of a
// migrated Postgres database.
type PostgresClient struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) (*PostgresClient, error) {
	if db == nil {
		return nil, errors.New("repository: db must not be nil")
	}
	return &PostgresClient{db: db}, nil
}

// OpenPostgres opens and pings a lib/pq connection pool.
func OpenPostgres(ctx context.Context, dsn string) (*sql.DB, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, errors.New("repository: database url must not be empty")
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("repository: open postgres: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetConnMaxIdleTime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("repository: ping postgres: %w", err)
	}
	return db, nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == pqUniqueViolation
}

const symptomColumns = `id, owner_id, conversation_id, patient_name, title, age, gender, severity,
	risk_score, duration_days, description, ai_analysis, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSymptom(row rowScanner, extra ...any) (domain.Symptom, error) {
	var (
		s        domain.Symptom
		convID   sql.NullString
		age      sql.NullInt64
		duration sql.NullInt64
		severity string
	)
	dest := []any{
		&s.ID, &s.OwnerID, &convID, &s.PatientName, &s.Title, &age, &s.Gender, &severity,
		&s.RiskScore, &duration, &s.Description, &s.AIAnalysis, &s.CreatedAt,
	}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return domain.Symptom{}, err
	}
	s.ConversationID = convID.String
	s.Severity = domain.Severity(severity)
	s.Age = nullIntPtr(age)
	s.DurationDays = nullIntPtr(duration)
	s.CreatedAt = s.CreatedAt.UTC()
	return s, nil
}

func nullIntPtr(n sql.NullInt64) *int {
	if !n.Valid {
		return nil
	}
	v := int(n.Int64)
	return &v
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func (c *PostgresClient) ListSymptoms(ctx context.Context, ownerID string) ([]domain.Symptom, error) {
	rows, err := c.db.QueryContext(ctx,
		`SELECT `+symptomColumns+`
		 FROM symptoms
		 WHERE owner_id = $1
		 ORDER BY created_at DESC, id`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("repository: ListSymptoms query: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := []domain.Symptom{}
	for rows.Next() {
		s, err := scanSymptom(rows)
		if err != nil {
			return nil, fmt.Errorf("repository: ListSymptoms scan: %w", err)
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("repository: ListSymptoms rows: %w", err)
	}
	return out, nil
}

func (c *PostgresClient) CreateSymptom(ctx context.Context, s domain.Symptom) error {
	_, err := c.db.ExecContext(ctx,
		`INSERT INTO symptoms (`+symptomColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		s.ID, s.OwnerID, nullString(s.ConversationID), s.PatientName, s.Title, s.Age, s.Gender, string(s.Severity),
		s.RiskScore, s.DurationDays, s.Description, s.AIAnalysis, s.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("repository: CreateSymptom %s: %w", s.ID, domain.ErrConflict)
		}
		return fmt.Errorf("repository: CreateSymptom: %w", err)
	}
	return nil
}

func (c *PostgresClient) UpdateSymptom(ctx context.Context, ownerID, id string, p domain.SymptomPatch) (domain.Symptom, error) {
	var severity *string
	if p.Severity != nil {
		v := string(*p.Severity)
		severity = &v
	}
	row := c.db.QueryRowContext(ctx,
		`UPDATE symptoms SET
			patient_name  = COALESCE($3, patient_name),
			title         = COALESCE($4, title),
			age           = COALESCE($5, age),
			gender        = COALESCE($6, gender),
			severity      = COALESCE($7, severity),
			risk_score    = COALESCE($8, risk_score),
			duration_days = COALESCE($9, duration_days),
			description   = COALESCE($10, description),
			ai_analysis   = COALESCE($11, ai_analysis)
		 WHERE id = $1 AND owner_id = $2
		 RETURNING `+symptomColumns,
		id, ownerID, p.PatientName, p.Title, p.Age, p.Gender, severity,
		p.RiskScore, p.DurationDays, p.Description, p.AIAnalysis)
	s, err := scanSymptom(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Symptom{}, fmt.Errorf("repository: UpdateSymptom %s: %w", id, domain.ErrNotFound)
		}
		return domain.Symptom{}, fmt.Errorf("repository: UpdateSymptom: %w", err)
	}
	return s, nil
}

func (c *PostgresClient) DeleteSymptom(ctx context.Context, ownerID, id string) error {
	res, err := c.db.ExecContext(ctx, `DELETE FROM symptoms WHERE id = $1 AND owner_id = $2`, id, ownerID)
	if err != nil {
		return fmt.Errorf("repository: DeleteSymptom: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("repository: DeleteSymptom rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("repository: DeleteSymptom %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

func (c *PostgresClient) DeleteAllSymptoms(ctx context.Context, ownerID string) (int, error) {
	res, err := c.db.ExecContext(ctx, `DELETE FROM symptoms WHERE owner_id = $1`, ownerID)
	if err != nil {
		return 0, fmt.Errorf("repository: DeleteAllSymptoms: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("repository: DeleteAllSymptoms rows affected: %w", err)
	}
	return int(n), nil
}

// UpsertConversationSymptom relies on the unique (owner_id, conversation_id)
// index: concurrent writers serialise on the conflicting row and exactly one
// of them inserts. xmax = 0 only for a freshly inserted tuple.
func (c *PostgresClient) UpsertConversationSymptom(ctx context.Context, k domain.ConversationKey, create domain.Symptom, update domain.SymptomPatch) (domain.Symptom, bool, error) {
	if !k.Valid() {
		return domain.Symptom{}, false, errors.New("repository: UpsertConversationSymptom: owner and conversation are required")
	}
	var inserted bool
	row := c.db.QueryRowContext(ctx,
		`INSERT INTO symptoms (`+symptomColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		 ON CONFLICT (owner_id, conversation_id) DO UPDATE SET
			patient_name  = COALESCE($14, symptoms.patient_name),
			title         = COALESCE($15, symptoms.title),
			age           = COALESCE($16, symptoms.age),
			gender        = COALESCE($17, symptoms.gender),
			duration_days = COALESCE($18, symptoms.duration_days),
			description   = COALESCE($19, symptoms.description),
			ai_analysis   = COALESCE($20, symptoms.ai_analysis)
		 RETURNING `+symptomColumns+`, (xmax = 0)`,
		create.ID, k.OwnerID, k.ConversationID, create.PatientName, create.Title, create.Age, create.Gender, string(create.Severity),
		create.RiskScore, create.DurationDays, create.Description, create.AIAnalysis, create.CreatedAt,
		update.PatientName, update.Title, update.Age, update.Gender, update.DurationDays, update.Description, update.AIAnalysis)
	s, err := scanSymptom(row, &inserted)
	if err != nil {
		return domain.Symptom{}, false, fmt.Errorf("repository: UpsertConversationSymptom: %w", err)
	}
	return s, inserted, nil
}

func (c *PostgresClient) CreateUser(ctx context.Context, u domain.User) error {
	_, err := c.db.ExecContext(ctx,
		`INSERT INTO users (id, username, email, name, password_hash, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		u.ID, u.Username, u.Email, u.Name, u.PasswordHash, u.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("repository: CreateUser %s: %w", u.Username, domain.ErrConflict)
		}
		return fmt.Errorf("repository: CreateUser: %w", err)
	}
	return nil
}

func (c *PostgresClient) GetUserByID(ctx context.Context, id string) (domain.User, error) {
	return c.getUser(ctx, "GetUserByID", `WHERE id = $1`, id)
}

// GetUserByEmail matches the email case-insensitively.
func (c *PostgresClient) GetUserByEmail(ctx context.Context, email string) (domain.User, error) {
	return c.getUser(ctx, "GetUserByEmail", `WHERE lower(email) = lower($1)`, strings.TrimSpace(email))
}

func (c *PostgresClient) getUser(ctx context.Context, op, where string, arg any) (domain.User, error) {
	var u domain.User
	err := c.db.QueryRowContext(ctx,
		`SELECT id, username, email, name, password_hash, created_at FROM users `+where, arg,
	).Scan(&u.ID, &u.Username, &u.Email, &u.Name, &u.PasswordHash, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.User{}, fmt.Errorf("repository: %s: %w", op, domain.ErrNotFound)
		}
		return domain.User{}, fmt.Errorf("repository: %s: %w", op, err)
	}
	u.CreatedAt = u.CreatedAt.UTC()
	return u, nil
}

func (c *PostgresClient) CreateReport(ctx context.Context, r domain.IssueReport) error {
	_, err := c.db.ExecContext(ctx,
		`INSERT INTO issue_reports (id, owner_id, subject, email, description, user_agent, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		r.ID, nullString(r.OwnerID), r.Subject, r.Email, r.Description, r.UserAgent, r.CreatedAt)
	if err != nil {
		return fmt.Errorf("repository: CreateReport: %w", err)
	}
	return nil
}

func (c *PostgresClient) ListReports(ctx context.Context, ownerID string) ([]domain.IssueReport, error) {
	if ownerID == "" {
		return nil, errors.New("repository: ListReports: owner is required")
	}
	rows, err := c.db.QueryContext(ctx,
		`SELECT id, owner_id, subject, email, description, user_agent, created_at
		 FROM issue_reports
		 WHERE owner_id = $1
		 ORDER BY created_at DESC, id`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("repository: ListReports query: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := []domain.IssueReport{}
	for rows.Next() {
		var (
			r     domain.IssueReport
			owner sql.NullString
		)
		if err := rows.Scan(&r.ID, &owner, &r.Subject, &r.Email, &r.Description, &r.UserAgent, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("repository: ListReports scan: %w", err)
		}
		r.OwnerID = owner.String
		r.CreatedAt = r.CreatedAt.UTC()
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("repository: ListReports rows: %w", err)
	}
	return out, nil
}

func (c *PostgresClient) DeleteReport(ctx context.Context, ownerID, id string) error {
	if ownerID == "" {
		return errors.New("repository: DeleteReport: owner is required")
	}
	res, err := c.db.ExecContext(ctx, `DELETE FROM issue_reports WHERE id = $1 AND owner_id = $2`, id, ownerID)
	if err != nil {
		return fmt.Errorf("repository: DeleteReport: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("repository: DeleteReport rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("repository: DeleteReport %s: %w", id, domain.ErrNotFound)
	}
	return nil
}
