package domain

import "time"

// IssueReport is a free-text support ticket. OwnerID is empty for reports
// filed without a session.
type IssueReport struct {
	ID          string    `json:"id"`
	OwnerID     string    `json:"-"`
	Subject     string    `json:"subject"`
	Email       string    `json:"email"`
	Description string    `json:"description"`
	UserAgent   string    `json:"user_agent"`
	CreatedAt   time.Time `json:"created_at"`
}
