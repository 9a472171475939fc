package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const DefaultTokenTTL = time.Hour

var (
	ErrExpiredToken   = errors.New("auth: token has expired")
	ErrMalformedToken = errors.New("auth: invalid token")
)

// Subject is the identity a session token is issued for.
type Subject struct {
	ID       string
	Username string
	Email    string
}

// Claims is the signed payload of a session token. The wire names id,
// username, email, iat and exp are shared with existing clients.
type Claims struct {
	UserID   string `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email"`
	jwt.RegisteredClaims
}

// Identity returns the subject carried by the claims.
func (c Claims) Identity() Subject {
	return Subject{ID: c.UserID, Username: c.Username, Email: c.Email}
}

// TokenService issues and verifies HS256 session tokens.
type TokenService struct {
	secrets SecretSource
	ttl     time.Duration
	now     func() time.Time
}

type Option func(*TokenService)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *TokenService) {
		s.now = now
	}
}

func NewTokenService(secrets SecretSource, ttl time.Duration, opts ...Option) (*TokenService, error) {
	if secrets == nil {
		return nil, errors.New("auth: secret source must not be nil")
	}
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	s := &TokenService{secrets: secrets, ttl: ttl, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Issue signs a token for sub that expires after the configured TTL.
func (s *TokenService) Issue(ctx context.Context, sub Subject) (string, error) {
	if strings.TrimSpace(sub.ID) == "" {
		return "", errors.New("auth: subject id must not be empty")
	}
	secret, err := s.secret(ctx)
	if err != nil {
		return "", err
	}
	now := s.now()
	claims := Claims{
		UserID:   sub.ID,
		Username: sub.Username,
		Email:    sub.Email,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		return "", fmt.Errorf("auth: sign token: %w", err)
	}
	return signed, nil
}

// Verify returns the claims of a valid token. Expiry is decided from the
// decoded claims first, so an expired token is reported as ErrExpiredToken
// whatever its signature. Signatures are only checked against the current
// secret.
func (s *TokenService) Verify(ctx context.Context, token string) (Claims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Claims{}, ErrMalformedToken
	}

	var unverified Claims
	if _, _, err := jwt.NewParser().ParseUnverified(token, &unverified); err != nil {
		return Claims{}, fmt.Errorf("%w: %v", ErrMalformedToken, err)
	}
	if unverified.ExpiresAt == nil {
		return Claims{}, fmt.Errorf("%w: missing exp", ErrMalformedToken)
	}
	if !s.now().Before(unverified.ExpiresAt.Time) {
		return Claims{}, ErrExpiredToken
	}

	secret, err := s.secret(ctx)
	if err != nil {
		return Claims{}, err
	}
	var claims Claims
	_, err = jwt.ParseWithClaims(token, &claims,
		func(*jwt.Token) (any, error) { return secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithoutClaimsValidation(),
	)
	if err != nil {
		return Claims{}, fmt.Errorf("%w: %v", ErrMalformedToken, err)
	}
	if strings.TrimSpace(claims.UserID) == "" {
		return Claims{}, fmt.Errorf("%w: missing id", ErrMalformedToken)
	}
	return claims, nil
}

func (s *TokenService) secret(ctx context.Context) ([]byte, error) {
	secret, err := s.secrets.Secret(ctx)
	if err != nil {
		return nil, fmt.Errorf("auth: load signing secret: %w", err)
	}
	if len(secret) == 0 {
		return nil, errors.New("auth: signing secret is empty")
	}
	return secret, nil
}
