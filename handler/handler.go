package handler

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/aws/aws-lambda-go/events"
	"github.com/google/uuid"

	"minimedi/internal/auth"
	"minimedi/internal/domain"
	"minimedi/internal/usecase"
)

const (
	correlationHeader = "X-Correlation-Id"
	maxBodyBytes      = 1 << 20
)

type Analyzer interface {
	Analyze(ctx context.Context, in usecase.AnalyzeInput) (usecase.AnalyzeOutput, error)
}

type Symptoms interface {
	List(ctx context.Context, ownerID string) ([]domain.Symptom, error)
	Create(ctx context.Context, ownerID string, in domain.SymptomPatch) (domain.Symptom, error)
	Update(ctx context.Context, ownerID, id string, patch domain.SymptomPatch) (domain.Symptom, error)
	Delete(ctx context.Context, ownerID, id string) error
	ClearAll(ctx context.Context, ownerID string) (int, error)
	Check(ctx context.Context, description string) ([]string, error)
}

type Users interface {
	Signup(ctx context.Context, in usecase.SignupInput) (string, error)
	Login(ctx context.Context, email, password string) (string, error)
	Profile(ctx context.Context, sub auth.Subject) (usecase.Profile, error)
	GoogleLogin(ctx context.Context, accessToken string) (string, error)
}

type Reports interface {
	Create(ctx context.Context, ownerID string, in usecase.ReportInput) (domain.IssueReport, error)
	List(ctx context.Context, ownerID string) ([]domain.IssueReport, error)
	Delete(ctx context.Context, ownerID, id string) error
}

type TokenVerifier interface {
	Verify(ctx context.Context, token string) (auth.Claims, error)
}

// Deps are the services the router dispatches to. Every field is required.
type Deps struct {
	Analyzer Analyzer
	Symptoms Symptoms
	Users    Users
	Reports  Reports
	Tokens   TokenVerifier
	Logger   *slog.Logger
}

type Handler struct {
	deps   Deps
	log    *slog.Logger
	routes []route
}

func NewHandler(d Deps) (*Handler, error) {
	switch {
	case d.Analyzer == nil:
		return nil, errors.New("handler: analyzer must not be nil")
	case d.Symptoms == nil:
		return nil, errors.New("handler: symptom service must not be nil")
	case d.Users == nil:
		return nil, errors.New("handler: user service must not be nil")
	case d.Reports == nil:
		return nil, errors.New("handler: report service must not be nil")
	case d.Tokens == nil:
		return nil, errors.New("handler: token verifier must not be nil")
	}
	log := d.Logger
	if log == nil {
		log = slog.Default()
	}
	h := &Handler{deps: d, log: log}
	h.routes = h.buildRoutes()
	return h, nil
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

type tokenResponse struct {
	Token string `json:"token"`
}

// request is the decoded view of a proxy event a route handler works with.
type request struct {
	event   events.APIGatewayProxyRequest
	body    []byte
	params  map[string]string
	subject auth.Subject
}

func (r *request) decode(v any) error {
	if len(strings.TrimSpace(string(r.body))) == 0 {
		return &usecase.Error{Code: usecase.ErrorInvalidRequest, Reason: "empty_body", Message: "Request body is required."}
	}
	if err := json.Unmarshal(r.body, v); err != nil {
		return &usecase.Error{Code: usecase.ErrorInvalidRequest, Reason: "invalid_json", Message: "Invalid JSON body.", Err: err}
	}
	return nil
}

// result is what a route produces on success. A nil body with status 204
// writes no content.
type result struct {
	status int
	body   any
}

func (h *Handler) Handle(ctx context.Context, event events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	correlationID := headerValue(event.Headers, correlationHeader)
	if correlationID == "" {
		correlationID = uuid.NewString()
	}
	log := h.log.With("correlation_id", correlationID, "method", event.HTTPMethod, "path", event.Path)

	res, err := h.dispatch(ctx, event, log)
	if err != nil {
		status, body := errorBody(err)
		log.Warn("request failed", "status", status, "code", body.Code, "reason", reasonOf(err), "err", err)
		return jsonResponse(status, correlationID, body), nil
	}
	log.Info("request completed", "status", res.status)
	return jsonResponse(res.status, correlationID, res.body), nil
}

func (h *Handler) dispatch(ctx context.Context, event events.APIGatewayProxyRequest, log *slog.Logger) (result, error) {
	rt, params, err := h.match(event.HTTPMethod, event.Path)
	if err != nil {
		return result{}, err
	}
	body, err := eventBody(event)
	if err != nil {
		return result{}, err
	}
	req := &request{event: event, body: body, params: params}

	if rt.auth != authNone {
		sub, err := h.authenticate(ctx, event.Headers, rt.auth == authRequired)
		if err != nil {
			return result{}, err
		}
		req.subject = sub
	}
	return rt.fn(ctx, req, log)
}

// authenticate resolves the bearer token. With required=false a request
// without an Authorization header is anonymous, but a bad token is still
// rejected.
func (h *Handler) authenticate(ctx context.Context, headers map[string]string, required bool) (auth.Subject, error) {
	raw := headerValue(headers, "Authorization")
	if raw == "" {
		if !required {
			return auth.Subject{}, nil
		}
		return auth.Subject{}, &usecase.Error{Code: usecase.ErrorAuth, Reason: "missing_token", Message: "Authentication credentials were not provided."}
	}
	scheme, token, ok := strings.Cut(strings.TrimSpace(raw), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
		return auth.Subject{}, &usecase.Error{Code: usecase.ErrorAuth, Reason: "malformed_authorization", Message: "Invalid token."}
	}
	claims, err := h.deps.Tokens.Verify(ctx, strings.TrimSpace(token))
	switch {
	case err == nil:
	case errors.Is(err, auth.ErrExpiredToken):
		return auth.Subject{}, &usecase.Error{Code: usecase.ErrorAuth, Reason: "expired_token", Message: "Token has expired.", Err: err}
	case errors.Is(err, auth.ErrMalformedToken):
		return auth.Subject{}, &usecase.Error{Code: usecase.ErrorAuth, Reason: "invalid_token", Message: "Invalid token.", Err: err}
	default:
		return auth.Subject{}, &usecase.Error{Code: usecase.ErrorInternal, Reason: "token_verifier_error", Err: err}
	}
	sub := claims.Identity()
	if sub.ID == "" {
		return auth.Subject{}, &usecase.Error{Code: usecase.ErrorAuth, Reason: "missing_subject", Message: "Invalid token."}
	}
	return sub, nil
}

func errorBody(err error) (int, errorResponse) {
	var ue *usecase.Error
	if !errors.As(err, &ue) {
		ue = &usecase.Error{Code: usecase.ErrorInternal, Reason: "unexpected_error", Err: err}
	}
	return statusFor(ue.Code), errorResponse{Error: ue.ClientMessage(), Code: string(ue.Code)}
}

func statusFor(code usecase.ErrorCode) int {
	switch code {
	case usecase.ErrorInvalidRequest, usecase.ErrorIntegrityConflict:
		return http.StatusBadRequest
	case usecase.ErrorAuth:
		return http.StatusUnauthorized
	case usecase.ErrorNotFound:
		return http.StatusNotFound
	case errorMethodNotAllowed:
		return http.StatusMethodNotAllowed
	default:
		return http.StatusInternalServerError
	}
}

func reasonOf(err error) string {
	var ue *usecase.Error
	if errors.As(err, &ue) {
		return ue.Reason
	}
	return ""
}

func eventBody(event events.APIGatewayProxyRequest) ([]byte, error) {
	if !event.IsBase64Encoded {
		if len(event.Body) > maxBodyBytes {
			return nil, &usecase.Error{Code: usecase.ErrorInvalidRequest, Reason: "body_too_large", Message: "Request body is too large."}
		}
		return []byte(event.Body), nil
	}
	b, err := base64.StdEncoding.DecodeString(event.Body)
	if err != nil {
		return nil, &usecase.Error{Code: usecase.ErrorInvalidRequest, Reason: "invalid_base64_body", Message: "Invalid request body.", Err: err}
	}
	if len(b) > maxBodyBytes {
		return nil, &usecase.Error{Code: usecase.ErrorInvalidRequest, Reason: "body_too_large", Message: "Request body is too large."}
	}
	return b, nil
}

func headerValue(headers map[string]string, name string) string {
	if v, ok := headers[name]; ok {
		return strings.TrimSpace(v)
	}
	for k, v := range headers {
		if strings.EqualFold(k, name) {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

func jsonResponse(status int, correlationID string, body any) events.APIGatewayProxyResponse {
	headers := map[string]string{
		"Content-Type":    "application/json",
		correlationHeader: correlationID,
	}
	if body == nil {
		return events.APIGatewayProxyResponse{StatusCode: status, Headers: headers}
	}
	raw, err := json.Marshal(body)
	if err != nil {
		raw, _ = json.Marshal(errorResponse{Error: "Internal server error.", Code: string(usecase.ErrorInternal)})
		status = http.StatusInternalServerError
	}
	return events.APIGatewayProxyResponse{StatusCode: status, Headers: headers, Body: string(raw)}
}
