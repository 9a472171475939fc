package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/sync/errgroup"

	"minimedi/handler"
	"minimedi/internal/auth"
	"minimedi/internal/config"
	"minimedi/internal/integrations/google"
	"minimedi/internal/integrations/openai"
	"minimedi/internal/integrations/paramstore"
	"minimedi/internal/usecase"
)

// defaultParamPrefix names the in-memory parameters when every secret comes
// from the environment and PARAM_PREFIX is unset.
const defaultParamPrefix = "/minimedi"

// Store is everything the use cases persist. Both repository clients
// implement it.
type Store interface {
	usecase.SymptomStore
	usecase.ConversationRecordStore
	usecase.UserStore
	usecase.ReportStore
}

type Deps struct {
	Config *config.Config
	Store  Store
	// Params serves secrets not supplied through the environment. It may be
	// nil when both LLM_API_KEY and JWT_SECRET are set.
	Params paramstore.Getter
	Logger *slog.Logger
}

// App holds the wired handler plus the secret sources Warm exercises.
type App struct {
	Handler *handler.Handler

	secret  auth.SecretSource
	llmKeys paramstore.Getter
	llmName string
}

// JWTSecretParameterName is where the signing secret lives in the parameter
// store.
func JWTSecretParameterName(prefix string) string {
	return strings.TrimRight(prefix, "/") + "/jwt-secret"
}

func New(d Deps) (*App, error) {
	if d.Config == nil {
		return nil, errors.New("app: config must not be nil")
	}
	if d.Store == nil {
		return nil, errors.New("app: store must not be nil")
	}
	cfg := d.Config
	log := d.Logger
	if log == nil {
		log = slog.Default()
	}
	prefix := strings.TrimSpace(cfg.ParamPrefix)
	if prefix == "" {
		prefix = defaultParamPrefix
	}
	if cfg.NeedsParamStore() && d.Params == nil {
		return nil, errors.New("app: parameter store required for secrets not set in the environment")
	}

	secret, err := jwtSecret(cfg, d.Params, prefix)
	if err != nil {
		return nil, err
	}
	tokens, err := auth.NewTokenService(secret, cfg.TokenTTL)
	if err != nil {
		return nil, fmt.Errorf("app: token service: %w", err)
	}

	llmKeys := d.Params
	if cfg.LLMAPIKey != "" {
		llmKeys = paramstore.Static{openai.TokenParameterName(prefix): cfg.LLMAPIKey}
	}
	llm, err := openai.NewClient(llmKeys, prefix, openai.WithBaseURL(cfg.LLMBaseURL))
	if err != nil {
		return nil, fmt.Errorf("app: llm client: %w", err)
	}
	gateway, err := usecase.NewGateway(llm, cfg.LLMModel, cfg.LLMTimeout)
	if err != nil {
		return nil, fmt.Errorf("app: gateway: %w", err)
	}

	reconciler, err := usecase.NewReconciler(d.Store)
	if err != nil {
		return nil, fmt.Errorf("app: reconciler: %w", err)
	}
	analyze, err := usecase.NewAnalyzeService(gateway, reconciler, usecase.AnalyzeConfig{
		AnalyzePrompt: cfg.AnalyzePrompt,
		ConsultPrompt: cfg.ConsultPrompt,
		MaxMessages:   cfg.MaxMessages,
	})
	if err != nil {
		return nil, fmt.Errorf("app: analyze service: %w", err)
	}
	symptoms, err := usecase.NewSymptomService(d.Store, gateway)
	if err != nil {
		return nil, fmt.Errorf("app: symptom service: %w", err)
	}
	users, err := usecase.NewUserService(d.Store, tokens, google.NewClient(google.WithUserInfoURL(cfg.GoogleUserInfoURL)))
	if err != nil {
		return nil, fmt.Errorf("app: user service: %w", err)
	}
	reports, err := usecase.NewReportService(d.Store)
	if err != nil {
		return nil, fmt.Errorf("app: report service: %w", err)
	}

	h, err := handler.NewHandler(handler.Deps{
		Analyzer: analyze,
		Symptoms: symptoms,
		Users:    users,
		Reports:  reports,
		Tokens:   tokens,
		Logger:   log,
	})
	if err != nil {
		return nil, fmt.Errorf("app: handler: %w", err)
	}
	return &App{
		Handler: h,
		secret:  secret,
		llmKeys: llmKeys,
		llmName: openai.TokenParameterName(prefix),
	}, nil
}

func jwtSecret(cfg *config.Config, params paramstore.Getter, prefix string) (auth.SecretSource, error) {
	if cfg.JWTSecret != "" {
		return auth.StaticSecret(cfg.JWTSecret), nil
	}
	cached, err := paramstore.NewCached(params, cfg.SecretCacheTTL)
	if err != nil {
		return nil, fmt.Errorf("app: secret cache: %w", err)
	}
	s, err := auth.NewParamSecret(cached, JWTSecretParameterName(prefix))
	if err != nil {
		return nil, fmt.Errorf("app: jwt secret: %w", err)
	}
	return s, nil
}

// Warm fetches both secrets concurrently so a missing parameter fails the
// process at start-up instead of on the first request.
func (a *App) Warm(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if _, err := a.secret.Secret(gctx); err != nil {
			return fmt.Errorf("app: warm jwt secret: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		if _, err := a.llmKeys.GetParameter(gctx, a.llmName); err != nil {
			return fmt.Errorf("app: warm llm key: %w", err)
		}
		return nil
	})
	return g.Wait()
}
