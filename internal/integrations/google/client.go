package google

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"minimedi/internal/domain"
)

// DefaultUserInfoURL is Google's OAuth2 userinfo endpoint.
const DefaultUserInfoURL = "https://www.googleapis.com/oauth2/v3/userinfo"

// HTTPStatusError captures non-2xx userinfo responses. A 4xx status means the
// access token was rejected and matches domain.ErrInvalidCredential.
type HTTPStatusError struct {
	StatusCode int
	Body       string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("google: unexpected status %d: %s", e.StatusCode, e.Body)
}

func (e *HTTPStatusError) HTTPStatusCode() int {
	return e.StatusCode
}

func (e *HTTPStatusError) Is(target error) bool {
	return target == domain.ErrInvalidCredential && e.StatusCode >= 400 && e.StatusCode < 500
}

type userInfo struct {
	Sub   string `json:"sub"`
	Email string `json:"email"`
	Name  string `json:"name"`
}

// Client looks up the owner of a Google access token.
type Client struct {
	userInfoURL string
	httpClient  *http.Client
}

type Option func(*Client)

func WithUserInfoURL(u string) Option {
	return func(c *Client) {
		if u = strings.TrimSpace(u); u != "" {
			c.userInfoURL = u
		}
	}
}

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

func NewClient(opts ...Option) *Client {
	c := &Client{
		userInfoURL: DefaultUserInfoURL,
		httpClient:  &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) Lookup(ctx context.Context, accessToken string) (domain.ExternalIdentity, error) {
	if strings.TrimSpace(accessToken) == "" {
		return domain.ExternalIdentity{}, errors.New("google: access token must not be empty")
	}
	u, err := url.Parse(c.userInfoURL)
	if err != nil {
		return domain.ExternalIdentity{}, fmt.Errorf("google: parse userinfo url: %w", err)
	}
	q := u.Query()
	q.Set("access_token", accessToken)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return domain.ExternalIdentity{}, fmt.Errorf("google: create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	raw, err := c.doJSONRequest(req)
	if err != nil {
		return domain.ExternalIdentity{}, fmt.Errorf("google: userinfo request failed: %w", err)
	}

	var info userInfo
	if err := json.Unmarshal(raw, &info); err != nil {
		return domain.ExternalIdentity{}, fmt.Errorf("google: decode userinfo: %w", err)
	}
	if info.Sub == "" || info.Email == "" {
		return domain.ExternalIdentity{}, fmt.Errorf("google: userinfo missing sub or email: %w", domain.ErrInvalidCredential)
	}
	return domain.ExternalIdentity{Subject: info.Sub, Email: info.Email, Name: info.Name}, nil
}

func (c *Client) doJSONRequest(req *http.Request) ([]byte, error) {
	res, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = res.Body.Close() }()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		buf, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return nil, &HTTPStatusError{StatusCode: res.StatusCode, Body: string(buf)}
	}

	buf, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	return buf, nil
}
