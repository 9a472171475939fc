package usecase

import (
	"context"
	"errors"
	"strings"
	"time"

	"minimedi/internal/auth"
	"minimedi/internal/domain"
)

const googleSubjectPrefixLen = 5

// UserStore keeps local accounts. CreateUser returns domain.ErrConflict when
// the email or username is already taken.
type UserStore interface {
	CreateUser(ctx context.Context, u domain.User) error
	GetUserByEmail(ctx context.Context, email string) (domain.User, error)
	GetUserByID(ctx context.Context, id string) (domain.User, error)
}

type TokenIssuer interface {
	Issue(ctx context.Context, sub auth.Subject) (string, error)
}

type IdentityProvider interface {
	Lookup(ctx context.Context, accessToken string) (domain.ExternalIdentity, error)
}

type UserService struct {
	store    UserStore
	tokens   TokenIssuer
	identity IdentityProvider
	now      func() time.Time
}

type SignupInput struct {
	Email    string
	Username string
	Password string
	Name     string
}

type Profile struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Name     string `json:"name"`
}

func NewUserService(store UserStore, tokens TokenIssuer, identity IdentityProvider) (*UserService, error) {
	if store == nil {
		return nil, errors.New("usecase: user store must not be nil")
	}
	if tokens == nil {
		return nil, errors.New("usecase: token issuer must not be nil")
	}
	if identity == nil {
		return nil, errors.New("usecase: identity provider must not be nil")
	}
	return &UserService{store: store, tokens: tokens, identity: identity, now: time.Now}, nil
}

// Signup creates a password account and returns a session token for it.
func (s *UserService) Signup(ctx context.Context, in SignupInput) (string, error) {
	email := strings.TrimSpace(in.Email)
	if email == "" || in.Password == "" {
		return "", invalid("missing_credentials", "Email and password are required.")
	}
	if err := auth.ValidatePassword(in.Password); err != nil {
		return "", invalid("weak_password", err.Error())
	}

	_, err := s.store.GetUserByEmail(ctx, email)
	switch {
	case err == nil:
		return "", &Error{Code: ErrorIntegrityConflict, Reason: "email_taken", Message: "Email already exists."}
	case !errors.Is(err, domain.ErrNotFound):
		return "", newError(ErrorInternal, "user_lookup_error", err)
	}

	hash, err := auth.HashPassword(in.Password)
	if err != nil {
		return "", newError(ErrorInternal, "password_hash_error", err)
	}
	username := strings.TrimSpace(in.Username)
	if username == "" {
		username = email
	}
	u := domain.User{
		ID:           newUUID(),
		Username:     username,
		Email:        email,
		Name:         strings.TrimSpace(in.Name),
		PasswordHash: hash,
		CreatedAt:    s.now().UTC(),
	}
	if err := s.store.CreateUser(ctx, u); err != nil {
		if errors.Is(err, domain.ErrConflict) {
			return "", &Error{Code: ErrorIntegrityConflict, Reason: "user_conflict", Message: "Username or email already exists.", Err: err}
		}
		return "", newError(ErrorInternal, "user_create_error", err)
	}
	return s.issue(ctx, u)
}

func (s *UserService) Login(ctx context.Context, email, password string) (string, error) {
	u, err := s.store.GetUserByEmail(ctx, strings.TrimSpace(email))
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return "", notFound("user_not_found", "User not found.", nil)
		}
		return "", newError(ErrorInternal, "user_lookup_error", err)
	}
	if !auth.CheckPassword(u.PasswordHash, password) {
		return "", &Error{Code: ErrorAuth, Reason: "bad_password", Message: "Invalid credentials."}
	}
	return s.issue(ctx, u)
}

// Profile returns the account behind verified claims.
func (s *UserService) Profile(ctx context.Context, sub auth.Subject) (Profile, error) {
	if sub.ID == "" {
		return Profile{}, newError(ErrorAuth, "missing_subject", nil)
	}
	u, err := s.store.GetUserByID(ctx, sub.ID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return Profile{}, notFound("user_not_found", "User not found.", nil)
		}
		return Profile{}, newError(ErrorInternal, "user_lookup_error", err)
	}
	return Profile{Username: u.Username, Email: u.Email, Name: u.Name}, nil
}

// GoogleLogin exchanges a provider access token for a local session,
// creating the local account the first time the email is seen.
func (s *UserService) GoogleLogin(ctx context.Context, accessToken string) (string, error) {
	accessToken = strings.TrimSpace(accessToken)
	if accessToken == "" {
		return "", invalid("missing_token", "Token is required")
	}
	id, err := s.identity.Lookup(ctx, accessToken)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidCredential) {
			return "", &Error{Code: ErrorInvalidRequest, Reason: "google_token_rejected", Message: "Invalid Google token", Err: err}
		}
		return "", upstreamError("google_userinfo_error", err)
	}
	if id.Email == "" || id.Subject == "" {
		return "", invalid("google_identity_incomplete", "Invalid Google token")
	}

	u, err := s.store.GetUserByEmail(ctx, id.Email)
	if err == nil {
		return s.issue(ctx, u)
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return "", newError(ErrorInternal, "user_lookup_error", err)
	}

	u = domain.User{
		ID:        newUUID(),
		Username:  googleUsername(id),
		Email:     id.Email,
		Name:      id.Name,
		CreatedAt: s.now().UTC(),
	}
	if err := s.store.CreateUser(ctx, u); err != nil {
		if !errors.Is(err, domain.ErrConflict) {
			return "", newError(ErrorInternal, "user_create_error", err)
		}
		// A concurrent first login created the account.
		if u, err = s.store.GetUserByEmail(ctx, id.Email); err != nil {
			return "", newError(ErrorInternal, "user_lookup_error", err)
		}
	}
	return s.issue(ctx, u)
}

func (s *UserService) issue(ctx context.Context, u domain.User) (string, error) {
	token, err := s.tokens.Issue(ctx, auth.Subject{ID: u.ID, Username: u.Username, Email: u.Email})
	if err != nil {
		return "", newError(ErrorInternal, "token_issue_error", err)
	}
	return token, nil
}

func googleUsername(id domain.ExternalIdentity) string {
	local := id.Email
	if i := strings.Index(local, "@"); i >= 0 {
		local = local[:i]
	}
	sub := id.Subject
	if len(sub) > googleSubjectPrefixLen {
		sub = sub[:googleSubjectPrefixLen]
	}
	return local + "_" + sub
}
