package auth

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

type fakeGetter struct {
	val  string
	err  error
	name string
}

func (f *fakeGetter) GetParameter(_ context.Context, name string) (string, error) {
	f.name = name
	return f.val, f.err
}

func TestStaticSecret(t *testing.T) {
	v, err := StaticSecret("k").Secret(context.Background())
	require.NoError(t, err)
	require.Equal(t, []byte("k"), v)

	_, err = StaticSecret(nil).Secret(context.Background())
	require.Error(t, err)
}

func TestNewParamSecret_Validates(t *testing.T) {
	_, err := NewParamSecret(nil, "/p/jwt-secret")
	require.Error(t, err)

	_, err = NewParamSecret(&fakeGetter{}, " ")
	require.Error(t, err)
}

func TestParamSecret_Secret(t *testing.T) {
	g := &fakeGetter{val: "  s3cret\n"}
	p, err := NewParamSecret(g, "/p/jwt-secret")
	require.NoError(t, err)

	v, err := p.Secret(context.Background())
	require.NoError(t, err)
	require.Equal(t, []byte("s3cret"), v)
	require.Equal(t, "/p/jwt-secret", g.name)
}

func TestParamSecret_Errors(t *testing.T) {
	p, err := NewParamSecret(&fakeGetter{err: errors.New("boom")}, "/p/jwt-secret")
	require.NoError(t, err)
	_, err = p.Secret(context.Background())
	require.ErrorContains(t, err, "boom")

	p, err = NewParamSecret(&fakeGetter{val: " "}, "/p/jwt-secret")
	require.NoError(t, err)
	_, err = p.Secret(context.Background())
	require.ErrorContains(t, err, "empty")
}
