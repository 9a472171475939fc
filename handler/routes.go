package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"minimedi/internal/domain"
	"minimedi/internal/usecase"
)

// errorMethodNotAllowed is only produced by the router; use cases never
// return it.
const errorMethodNotAllowed usecase.ErrorCode = "METHOD_NOT_ALLOWED"

type authMode int

const (
	authNone authMode = iota
	authOptional
	authRequired
)

type routeFunc func(ctx context.Context, r *request, log *slog.Logger) (result, error)

// route matches a method and a slash-separated pattern. A segment of the form
// {name} captures one path segment.
type route struct {
	method  string
	pattern []string
	auth    authMode
	fn      routeFunc
}

func (h *Handler) buildRoutes() []route {
	r := func(method, pattern string, mode authMode, fn routeFunc) route {
		return route{method: method, pattern: splitPath(pattern), auth: mode, fn: fn}
	}
	// Fixed segments must precede captures at the same depth.
	return []route{
		r(http.MethodPost, "/ai/analyze", authRequired, h.analyze(usecase.ModeAnalyze)),
		r(http.MethodPost, "/ai/consult", authRequired, h.analyze(usecase.ModeConsult)),

		r(http.MethodGet, "/symptoms", authRequired, h.listSymptoms),
		r(http.MethodPost, "/symptoms", authRequired, h.createSymptom),
		r(http.MethodPost, "/symptoms/check", authRequired, h.checkSymptoms),
		r(http.MethodDelete, "/symptoms/clear-all", authRequired, h.clearSymptoms),
		r(http.MethodPatch, "/symptoms/{id}", authRequired, h.updateSymptom),
		r(http.MethodDelete, "/symptoms/{id}", authRequired, h.deleteSymptom),

		r(http.MethodPost, "/users/signup", authNone, h.signup),
		r(http.MethodPost, "/users/login", authNone, h.login),
		r(http.MethodGet, "/users/profile", authRequired, h.profile),
		r(http.MethodPost, "/users/google-login", authNone, h.googleLogin),
		r(http.MethodPost, "/users/report-issue", authOptional, h.reportIssue),
		r(http.MethodGet, "/users/reports", authRequired, h.listReports),
		r(http.MethodDelete, "/users/reports/{id}", authRequired, h.deleteReport),
	}
}

func splitPath(p string) []string {
	p = strings.Trim(p, "/")
	if p == "" {
		return nil
	}
	return strings.Split(p, "/")
}

// match picks the first route whose pattern fits the path. A path that fits
// some pattern under a different method is reported as 405.
func (h *Handler) match(method, path string) (route, map[string]string, error) {
	segs := splitPath(path)
	pathMatched := false
	for _, rt := range h.routes {
		params, ok := matchPattern(rt.pattern, segs)
		if !ok {
			continue
		}
		if rt.method != method {
			pathMatched = true
			continue
		}
		return rt, params, nil
	}
	if pathMatched {
		return route{}, nil, &usecase.Error{Code: errorMethodNotAllowed, Reason: "method_not_allowed", Message: "Method not allowed."}
	}
	return route{}, nil, &usecase.Error{Code: usecase.ErrorNotFound, Reason: "route_not_found", Message: "Not found."}
}

func matchPattern(pattern, segs []string) (map[string]string, bool) {
	if len(pattern) != len(segs) {
		return nil, false
	}
	var params map[string]string
	for i, p := range pattern {
		if strings.HasPrefix(p, "{") && strings.HasSuffix(p, "}") {
			if segs[i] == "" {
				return nil, false
			}
			if params == nil {
				params = make(map[string]string, 1)
			}
			params[p[1:len(p)-1]] = segs[i]
			continue
		}
		if p != segs[i] {
			return nil, false
		}
	}
	return params, true
}

type chatRequest struct {
	Messages       []domain.ChatMessage `json:"messages"`
	ConversationID string               `json:"conversation_id"`
}

type analyzeResponse struct {
	Response             string `json:"response"`
	ConversationID       string `json:"conversation_id"`
	RecordID             string `json:"record_id,omitempty"`
	ConsultationComplete bool   `json:"consultation_complete"`
}

func (h *Handler) analyze(mode usecase.Mode) routeFunc {
	return func(ctx context.Context, r *request, log *slog.Logger) (result, error) {
		var in chatRequest
		if err := r.decode(&in); err != nil {
			return result{}, err
		}
		out, err := h.deps.Analyzer.Analyze(ctx, usecase.AnalyzeInput{
			OwnerID:        r.subject.ID,
			ConversationID: in.ConversationID,
			Mode:           mode,
			Messages:       in.Messages,
		})
		if err != nil {
			return result{}, err
		}
		if out.ParseErr != nil {
			log.Warn("sentinel block could not be parsed", "conversation_id", out.ConversationID, "err", out.ParseErr)
		}
		if out.ReconcileErr != nil {
			log.Error("symptom record reconcile failed", "conversation_id", out.ConversationID, "err", out.ReconcileErr)
		}
		return result{status: http.StatusOK, body: analyzeResponse{
			Response:             out.Response,
			ConversationID:       out.ConversationID,
			RecordID:             out.RecordID,
			ConsultationComplete: out.ConsultationComplete,
		}}, nil
	}
}

// symptomRequest keeps every field optional so the same shape serves create
// and partial update.
type symptomRequest struct {
	PatientName  *string          `json:"patient_name"`
	Title        *string          `json:"title"`
	Age          *int             `json:"age"`
	Gender       *string          `json:"gender"`
	Severity     *domain.Severity `json:"severity"`
	RiskScore    *int             `json:"risk_score"`
	DurationDays *int             `json:"duration"`
	Description  *string          `json:"description"`
	AIAnalysis   *string          `json:"ai_analysis"`
}

func (s symptomRequest) patch() domain.SymptomPatch {
	return domain.SymptomPatch{
		PatientName:  s.PatientName,
		Title:        s.Title,
		Age:          s.Age,
		Gender:       s.Gender,
		Severity:     s.Severity,
		RiskScore:    s.RiskScore,
		DurationDays: s.DurationDays,
		Description:  s.Description,
		AIAnalysis:   s.AIAnalysis,
	}
}

func (h *Handler) listSymptoms(ctx context.Context, r *request, _ *slog.Logger) (result, error) {
	list, err := h.deps.Symptoms.List(ctx, r.subject.ID)
	if err != nil {
		return result{}, err
	}
	return result{status: http.StatusOK, body: list}, nil
}

func (h *Handler) createSymptom(ctx context.Context, r *request, _ *slog.Logger) (result, error) {
	var in symptomRequest
	if err := r.decode(&in); err != nil {
		return result{}, err
	}
	s, err := h.deps.Symptoms.Create(ctx, r.subject.ID, in.patch())
	if err != nil {
		return result{}, err
	}
	return result{status: http.StatusCreated, body: s}, nil
}

func (h *Handler) updateSymptom(ctx context.Context, r *request, _ *slog.Logger) (result, error) {
	var in symptomRequest
	if err := r.decode(&in); err != nil {
		return result{}, err
	}
	s, err := h.deps.Symptoms.Update(ctx, r.subject.ID, r.params["id"], in.patch())
	if err != nil {
		return result{}, err
	}
	return result{status: http.StatusOK, body: s}, nil
}

func (h *Handler) deleteSymptom(ctx context.Context, r *request, _ *slog.Logger) (result, error) {
	if err := h.deps.Symptoms.Delete(ctx, r.subject.ID, r.params["id"]); err != nil {
		return result{}, err
	}
	return result{status: http.StatusNoContent}, nil
}

type clearAllResponse struct {
	Message      string `json:"message"`
	DeletedCount int    `json:"deleted_count"`
}

func (h *Handler) clearSymptoms(ctx context.Context, r *request, _ *slog.Logger) (result, error) {
	n, err := h.deps.Symptoms.ClearAll(ctx, r.subject.ID)
	if err != nil {
		return result{}, err
	}
	return result{status: http.StatusOK, body: clearAllResponse{Message: "All symptoms cleared successfully", DeletedCount: n}}, nil
}

type checkRequest struct {
	Description string `json:"description"`
}

type checkResponse struct {
	Suggestions []string `json:"suggestions"`
}

func (h *Handler) checkSymptoms(ctx context.Context, r *request, _ *slog.Logger) (result, error) {
	var in checkRequest
	if err := r.decode(&in); err != nil {
		return result{}, err
	}
	suggestions, err := h.deps.Symptoms.Check(ctx, in.Description)
	if err != nil {
		return result{}, err
	}
	return result{status: http.StatusOK, body: checkResponse{Suggestions: suggestions}}, nil
}

type signupRequest struct {
	Email    string `json:"email"`
	Username string `json:"username"`
	Password string `json:"password"`
	Name     string `json:"name"`
}

func (h *Handler) signup(ctx context.Context, r *request, _ *slog.Logger) (result, error) {
	var in signupRequest
	if err := r.decode(&in); err != nil {
		return result{}, err
	}
	tok, err := h.deps.Users.Signup(ctx, usecase.SignupInput{
		Email:    in.Email,
		Username: in.Username,
		Password: in.Password,
		Name:     in.Name,
	})
	if err != nil {
		return result{}, err
	}
	return result{status: http.StatusCreated, body: tokenResponse{Token: tok}}, nil
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (h *Handler) login(ctx context.Context, r *request, _ *slog.Logger) (result, error) {
	var in loginRequest
	if err := r.decode(&in); err != nil {
		return result{}, err
	}
	tok, err := h.deps.Users.Login(ctx, in.Email, in.Password)
	if err != nil {
		return result{}, err
	}
	return result{status: http.StatusOK, body: tokenResponse{Token: tok}}, nil
}

func (h *Handler) profile(ctx context.Context, r *request, _ *slog.Logger) (result, error) {
	p, err := h.deps.Users.Profile(ctx, r.subject)
	if err != nil {
		return result{}, err
	}
	return result{status: http.StatusOK, body: p}, nil
}

type googleLoginRequest struct {
	Token string `json:"token"`
}

func (h *Handler) googleLogin(ctx context.Context, r *request, _ *slog.Logger) (result, error) {
	var in googleLoginRequest
	if err := r.decode(&in); err != nil {
		return result{}, err
	}
	tok, err := h.deps.Users.GoogleLogin(ctx, in.Token)
	if err != nil {
		return result{}, err
	}
	return result{status: http.StatusOK, body: tokenResponse{Token: tok}}, nil
}

type reportRequest struct {
	Subject     string `json:"subject"`
	Email       string `json:"email"`
	Description string `json:"description"`
}

func (h *Handler) reportIssue(ctx context.Context, r *request, _ *slog.Logger) (result, error) {
	var in reportRequest
	if err := r.decode(&in); err != nil {
		return result{}, err
	}
	rep, err := h.deps.Reports.Create(ctx, r.subject.ID, usecase.ReportInput{
		Subject:     in.Subject,
		Email:       in.Email,
		Description: in.Description,
		UserAgent:   headerValue(r.event.Headers, "User-Agent"),
	})
	if err != nil {
		return result{}, err
	}
	return result{status: http.StatusCreated, body: rep}, nil
}

func (h *Handler) listReports(ctx context.Context, r *request, _ *slog.Logger) (result, error) {
	list, err := h.deps.Reports.List(ctx, r.subject.ID)
	if err != nil {
		return result{}, err
	}
	return result{status: http.StatusOK, body: list}, nil
}

func (h *Handler) deleteReport(ctx context.Context, r *request, _ *slog.Logger) (result, error) {
	if err := h.deps.Reports.Delete(ctx, r.subject.ID, r.params["id"]); err != nil {
		return result{}, err
	}
	return result{status: http.StatusNoContent}, nil
}
