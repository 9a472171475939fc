package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// SecretSource returns the signing secret in effect right now.
type SecretSource interface {
	Secret(ctx context.Context) ([]byte, error)
}

// StaticSecret is a fixed secret, used when JWT_SECRET is configured directly.
type StaticSecret []byte

func (s StaticSecret) Secret(context.Context) ([]byte, error) {
	if len(s) == 0 {
		return nil, errors.New("auth: static secret is empty")
	}
	return s, nil
}

// ParamGetter is satisfied by paramstore clients.
type ParamGetter interface {
	GetParameter(ctx context.Context, name string) (string, error)
}

// ParamSecret reads the secret from the parameter store on every call. Wrap
// the getter in a paramstore cache to bound reads; a rotation becomes visible
// when the cached value expires.
type ParamSecret struct {
	getter ParamGetter
	name   string
}

func NewParamSecret(getter ParamGetter, name string) (*ParamSecret, error) {
	if getter == nil {
		return nil, errors.New("auth: param getter must not be nil")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, errors.New("auth: secret parameter name must not be empty")
	}
	return &ParamSecret{getter: getter, name: name}, nil
}

func (p *ParamSecret) Secret(ctx context.Context) ([]byte, error) {
	raw, err := p.getter.GetParameter(ctx, p.name)
	if err != nil {
		return nil, fmt.Errorf("auth: fetch secret: %w", err)
	}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, errors.New("auth: secret parameter is empty")
	}
	return []byte(raw), nil
}
