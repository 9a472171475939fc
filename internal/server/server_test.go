package server

import (
	"context"
	"encoding/base64"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type recordingHandler struct {
	resp  events.APIGatewayProxyResponse
	err   error
	event events.APIGatewayProxyRequest
	panic bool
}

func (h *recordingHandler) Handle(_ context.Context, e events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	if h.panic {
		panic("boom")
	}
	h.event = e
	return h.resp, h.err
}

func TestNew_RequiresHandler(t *testing.T) {
	_, err := New(nil)
	require.Error(t, err)
}

func TestProxy_ForwardsRequestAndResponse(t *testing.T) {
	h := &recordingHandler{resp: events.APIGatewayProxyResponse{
		StatusCode: http.StatusCreated,
		Headers:    map[string]string{"Content-Type": "application/json", "X-Correlation-Id": "c-1"},
		Body:       `{"id":"s-1"}`,
	}}
	s, err := New(h)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/symptoms/?page=2", strings.NewReader(`{"title":"cough"}`))
	req.Header.Set("Authorization", "Bearer tok")
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)
	require.JSONEq(t, `{"id":"s-1"}`, rec.Body.String())
	require.Equal(t, "c-1", rec.Header().Get("X-Correlation-Id"))

	require.Equal(t, http.MethodPost, h.event.HTTPMethod)
	require.Equal(t, "/symptoms/", h.event.Path)
	require.Equal(t, `{"title":"cough"}`, h.event.Body)
	require.Equal(t, "Bearer tok", h.event.Headers["Authorization"])
	require.Equal(t, "2", h.event.QueryStringParameters["page"])
}

func TestProxy_NoContent(t *testing.T) {
	h := &recordingHandler{resp: events.APIGatewayProxyResponse{StatusCode: http.StatusNoContent}}
	s, err := New(h)
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/symptoms/s-1/", nil))
	require.Equal(t, http.StatusNoContent, rec.Code)
	require.Empty(t, rec.Body.String())
}

func TestProxy_Base64Response(t *testing.T) {
	h := &recordingHandler{resp: events.APIGatewayProxyResponse{
		StatusCode:      http.StatusOK,
		Headers:         map[string]string{"Content-Type": "text/plain"},
		Body:            base64.StdEncoding.EncodeToString([]byte("plain")),
		IsBase64Encoded: true,
	}}
	s, err := New(h)
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/x", nil))
	require.Equal(t, "plain", rec.Body.String())
}

func TestProxy_HandlerErrorIsInternal(t *testing.T) {
	s, err := New(&recordingHandler{err: errors.New("boom")})
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/symptoms", nil))
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.JSONEq(t, `{"error":"Internal server error.","code":"INTERNAL_ERROR"}`, rec.Body.String())
}

func TestProxy_RecoversFromPanic(t *testing.T) {
	s, err := New(&recordingHandler{panic: true})
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/symptoms", nil))
	require.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestHealth(t *testing.T) {
	h := &recordingHandler{}
	s, err := New(h)
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Empty(t, h.event.Path)
}

func TestRun_ShutsDownOnCancel(t *testing.T) {
	h := &recordingHandler{resp: events.APIGatewayProxyResponse{StatusCode: http.StatusOK, Body: `{}`}}
	s, err := New(h, WithShutdownTimeout(2*time.Second))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx, "127.0.0.1:0") }()

	require.Eventually(t, func() bool { return s.Addr() != "" }, 2*time.Second, 10*time.Millisecond)

	client := &http.Client{Timeout: 2 * time.Second}
	resp, err := client.Get("http://" + s.Addr() + "/health")
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	require.Equal(t, http.StatusOK, resp.StatusCode)
	client.CloseIdleConnections()

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}

func TestRun_ListenError(t *testing.T) {
	s, err := New(&recordingHandler{})
	require.NoError(t, err)
	err = s.Run(context.Background(), "256.0.0.1:bad")
	require.Error(t, err)
}
