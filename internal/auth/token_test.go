package auth

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

type rotatingSecret struct {
	value []byte
	err   error
}

func (r *rotatingSecret) Secret(context.Context) ([]byte, error) {
	return r.value, r.err
}

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time { return c.t }

var testSubject = Subject{ID: "u-1", Username: "ana", Email: "ana@example.com"}

func newTestTokenService(t *testing.T, secrets SecretSource, clock *fakeClock) *TokenService {
	t.Helper()
	s, err := NewTokenService(secrets, time.Hour, WithClock(clock.now))
	require.NoError(t, err)
	return s
}

func TestNewTokenService_ValidatesDependencies(t *testing.T) {
	_, err := NewTokenService(nil, time.Hour)
	require.Error(t, err)

	s, err := NewTokenService(StaticSecret("k"), 0)
	require.NoError(t, err)
	require.Equal(t, DefaultTokenTTL, s.ttl)
}

func TestIssueVerify_RoundTrip(t *testing.T) {
	clock := &fakeClock{t: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)}
	s := newTestTokenService(t, StaticSecret("top-secret"), clock)

	tok, err := s.Issue(context.Background(), testSubject)
	require.NoError(t, err)

	claims, err := s.Verify(context.Background(), tok)
	require.NoError(t, err)
	require.Equal(t, testSubject, claims.Identity())
	require.Equal(t, clock.t.Unix(), claims.IssuedAt.Unix())
	require.Equal(t, clock.t.Add(time.Hour).Unix(), claims.ExpiresAt.Unix())
}

func TestIssue_WireClaims(t *testing.T) {
	clock := &fakeClock{t: time.Now()}
	s := newTestTokenService(t, StaticSecret("top-secret"), clock)

	tok, err := s.Issue(context.Background(), testSubject)
	require.NoError(t, err)

	raw := jwt.MapClaims{}
	_, _, err = jwt.NewParser().ParseUnverified(tok, raw)
	require.NoError(t, err)
	for _, key := range []string{"id", "username", "email", "iat", "exp"} {
		require.Contains(t, raw, key)
	}
	require.Equal(t, "u-1", raw["id"])
}

func TestIssue_EmptySubject(t *testing.T) {
	s := newTestTokenService(t, StaticSecret("k"), &fakeClock{t: time.Now()})
	_, err := s.Issue(context.Background(), Subject{})
	require.Error(t, err)
}

func TestVerify_Expired(t *testing.T) {
	clock := &fakeClock{t: time.Now()}
	s := newTestTokenService(t, StaticSecret("top-secret"), clock)
	tok, err := s.Issue(context.Background(), testSubject)
	require.NoError(t, err)

	clock.t = clock.t.Add(2 * time.Hour)
	_, err = s.Verify(context.Background(), tok)
	require.ErrorIs(t, err, ErrExpiredToken)
}

func TestVerify_ExpiredAtExactBoundary(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	s := newTestTokenService(t, StaticSecret("top-secret"), clock)
	tok, err := s.Issue(context.Background(), testSubject)
	require.NoError(t, err)

	clock.t = clock.t.Add(time.Hour)
	_, err = s.Verify(context.Background(), tok)
	require.ErrorIs(t, err, ErrExpiredToken)
}

func TestVerify_ExpiredRegardlessOfSignature(t *testing.T) {
	clock := &fakeClock{t: time.Now()}
	issuer := newTestTokenService(t, StaticSecret("other-secret"), clock)
	tok, err := issuer.Issue(context.Background(), testSubject)
	require.NoError(t, err)

	clock.t = clock.t.Add(3 * time.Hour)
	verifier := newTestTokenService(t, StaticSecret("top-secret"), clock)
	_, err = verifier.Verify(context.Background(), tok)
	require.ErrorIs(t, err, ErrExpiredToken)
}

func TestVerify_TamperedPayload(t *testing.T) {
	clock := &fakeClock{t: time.Now()}
	s := newTestTokenService(t, StaticSecret("top-secret"), clock)
	tok, err := s.Issue(context.Background(), testSubject)
	require.NoError(t, err)

	forged, err := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		UserID: "u-2",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(clock.t.Add(time.Hour)),
		},
	}).SignedString([]byte("attacker"))
	require.NoError(t, err)

	parts := strings.Split(tok, ".")
	forgedParts := strings.Split(forged, ".")
	spliced := parts[0] + "." + forgedParts[1] + "." + parts[2]

	_, err = s.Verify(context.Background(), spliced)
	require.ErrorIs(t, err, ErrMalformedToken)
}

func TestVerify_RotatedSecretFailsClosed(t *testing.T) {
	clock := &fakeClock{t: time.Now()}
	secrets := &rotatingSecret{value: []byte("v1")}
	s := newTestTokenService(t, secrets, clock)
	tok, err := s.Issue(context.Background(), testSubject)
	require.NoError(t, err)

	_, err = s.Verify(context.Background(), tok)
	require.NoError(t, err)

	secrets.value = []byte("v2")
	_, err = s.Verify(context.Background(), tok)
	require.ErrorIs(t, err, ErrMalformedToken)
}

func TestVerify_RejectsNoneAlgorithm(t *testing.T) {
	clock := &fakeClock{t: time.Now()}
	s := newTestTokenService(t, StaticSecret("top-secret"), clock)

	tok, err := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{
		UserID: "u-1",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(clock.t.Add(time.Hour)),
		},
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = s.Verify(context.Background(), tok)
	require.ErrorIs(t, err, ErrMalformedToken)
}

func TestVerify_MissingExp(t *testing.T) {
	clock := &fakeClock{t: time.Now()}
	s := newTestTokenService(t, StaticSecret("top-secret"), clock)

	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{UserID: "u-1"}).SignedString([]byte("top-secret"))
	require.NoError(t, err)

	_, err = s.Verify(context.Background(), tok)
	require.ErrorIs(t, err, ErrMalformedToken)
}

func TestVerify_Garbage(t *testing.T) {
	s := newTestTokenService(t, StaticSecret("top-secret"), &fakeClock{t: time.Now()})
	for _, tok := range []string{"", "   ", "abc", "a.b.c"} {
		_, err := s.Verify(context.Background(), tok)
		require.ErrorIs(t, err, ErrMalformedToken, "token=%q", tok)
	}
}

func TestVerify_SecretUnavailable(t *testing.T) {
	clock := &fakeClock{t: time.Now()}
	secrets := &rotatingSecret{value: []byte("v1")}
	s := newTestTokenService(t, secrets, clock)
	tok, err := s.Issue(context.Background(), testSubject)
	require.NoError(t, err)

	secrets.err = errors.New("ssm down")
	_, err = s.Verify(context.Background(), tok)
	require.Error(t, err)
	require.NotErrorIs(t, err, ErrMalformedToken)
	require.Contains(t, err.Error(), "ssm down")
}
