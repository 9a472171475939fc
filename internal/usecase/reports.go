package usecase

import (
	"context"
	"errors"
	"net/mail"
	"strings"
	"time"
	"unicode/utf8"

	"minimedi/internal/domain"
)

const maxReportSubjectLen = 255

type ReportStore interface {
	CreateReport(ctx context.Context, r domain.IssueReport) error
	ListReports(ctx context.Context, ownerID string) ([]domain.IssueReport, error)
	DeleteReport(ctx context.Context, ownerID, id string) error
}

type ReportService struct {
	store ReportStore
	now   func() time.Time
}

type ReportInput struct {
	Subject     string
	Email       string
	Description string
	UserAgent   string
}

func NewReportService(store ReportStore) (*ReportService, error) {
	if store == nil {
		return nil, errors.New("usecase: report store must not be nil")
	}
	return &ReportService{store: store, now: time.Now}, nil
}

// Create files a ticket. ownerID may be empty for anonymous reports.
func (s *ReportService) Create(ctx context.Context, ownerID string, in ReportInput) (domain.IssueReport, error) {
	subject := strings.TrimSpace(in.Subject)
	email := strings.TrimSpace(in.Email)
	description := strings.TrimSpace(in.Description)
	switch {
	case subject == "":
		return domain.IssueReport{}, invalid("missing_report_subject", "subject: This field is required.")
	case utf8.RuneCountInString(subject) > maxReportSubjectLen:
		return domain.IssueReport{}, invalid("subject_too_long", "subject: Ensure this field has no more than 255 characters.")
	case email == "":
		return domain.IssueReport{}, invalid("missing_email", "email: This field is required.")
	case description == "":
		return domain.IssueReport{}, invalid("missing_description", "description: This field is required.")
	}
	if addr, err := mail.ParseAddress(email); err != nil || addr.Address != email {
		return domain.IssueReport{}, invalid("invalid_email", "email: Enter a valid email address.")
	}

	r := domain.IssueReport{
		ID:          newUUID(),
		OwnerID:     ownerID,
		Subject:     subject,
		Email:       email,
		Description: description,
		UserAgent:   strings.TrimSpace(in.UserAgent),
		CreatedAt:   s.now().UTC(),
	}
	if err := s.store.CreateReport(ctx, r); err != nil {
		return domain.IssueReport{}, newError(ErrorInternal, "report_create_error", err)
	}
	return r, nil
}

func (s *ReportService) List(ctx context.Context, ownerID string) ([]domain.IssueReport, error) {
	if ownerID == "" {
		return nil, newError(ErrorAuth, "missing_subject", nil)
	}
	out, err := s.store.ListReports(ctx, ownerID)
	if err != nil {
		return nil, newError(ErrorInternal, "report_list_error", err)
	}
	if out == nil {
		out = []domain.IssueReport{}
	}
	return out, nil
}

func (s *ReportService) Delete(ctx context.Context, ownerID, id string) error {
	if ownerID == "" {
		return newError(ErrorAuth, "missing_subject", nil)
	}
	if err := s.store.DeleteReport(ctx, ownerID, id); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return notFound("report_not_found", "Report not found.", err)
		}
		return newError(ErrorInternal, "report_delete_error", err)
	}
	return nil
}
