package domain

import "time"

// User is a local account. PasswordHash is empty for accounts created through
// social login.
type User struct {
	ID           string    `json:"id"`
	Username     string    `json:"username"`
	Email        string    `json:"email"`
	Name         string    `json:"name"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}

// ExternalIdentity is what a social login provider reports about the holder
// of an access token.
type ExternalIdentity struct {
	Subject string
	Email   string
	Name    string
}
