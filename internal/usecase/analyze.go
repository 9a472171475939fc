package usecase

import (
	"context"
	"errors"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"

	"minimedi/internal/domain"
	"minimedi/internal/sentinel"
)

// Mode selects which configured prompt template an analyze call uses.
type Mode string

const (
	ModeAnalyze Mode = "analyze"
	ModeConsult Mode = "consult"
)

// maxConversationIDLen bounds client-supplied ids, which end up in storage
// keys and log lines.
const maxConversationIDLen = 128

type AnalyzeConfig struct {
	// AnalyzePrompt and ConsultPrompt are template names, see LookupPrompt.
	AnalyzePrompt string
	ConsultPrompt string
	MaxMessages   int
}

type AnalyzeService struct {
	gateway     *Gateway
	reconciler  *Reconciler
	prompts     map[Mode]string
	maxMessages int
}

type AnalyzeInput struct {
	OwnerID        string
	ConversationID string
	Mode           Mode
	Messages       []domain.ChatMessage
}

// AnalyzeOutput is the chat reply. ParseErr and ReconcileErr are non-fatal
// and only meant for logging.
type AnalyzeOutput struct {
	Response             string
	ConversationID       string
	RecordID             string
	ConsultationComplete bool

	ParseErr     error
	ReconcileErr error
}

// NewAnalyzeService resolves the configured templates up front so an unknown
// name fails at start-up rather than on the first request.
func NewAnalyzeService(g *Gateway, r *Reconciler, cfg AnalyzeConfig) (*AnalyzeService, error) {
	if g == nil {
		return nil, errors.New("usecase: gateway must not be nil")
	}
	if r == nil {
		return nil, errors.New("usecase: reconciler must not be nil")
	}
	if cfg.AnalyzePrompt == "" {
		cfg.AnalyzePrompt = PromptGeneral
	}
	if cfg.ConsultPrompt == "" {
		cfg.ConsultPrompt = PromptConsultation
	}
	if cfg.MaxMessages <= 0 {
		cfg.MaxMessages = defaultMaxMessages
	}
	analyze, err := LookupPrompt(cfg.AnalyzePrompt)
	if err != nil {
		return nil, err
	}
	consult, err := LookupPrompt(cfg.ConsultPrompt)
	if err != nil {
		return nil, err
	}
	return &AnalyzeService{
		gateway:    g,
		reconciler: r,
		prompts: map[Mode]string{
			ModeAnalyze: analyze,
			ModeConsult: consult,
		},
		maxMessages: cfg.MaxMessages,
	}, nil
}

func (s *AnalyzeService) Analyze(ctx context.Context, in AnalyzeInput) (AnalyzeOutput, error) {
	if strings.TrimSpace(in.OwnerID) == "" {
		return AnalyzeOutput{}, newError(ErrorAuth, "missing_subject", nil)
	}
	if verr := validateTurns(in.Messages, s.maxMessages); verr != nil {
		return AnalyzeOutput{}, verr
	}
	mode := in.Mode
	if mode == "" {
		mode = ModeAnalyze
	}
	system, ok := s.prompts[mode]
	if !ok {
		return AnalyzeOutput{}, invalid("unknown_mode", "Unknown analysis mode.")
	}
	convID := strings.TrimSpace(in.ConversationID)
	switch {
	case convID == "":
		convID = newUUID()
	case utf8.RuneCountInString(convID) > maxConversationIDLen:
		return AnalyzeOutput{}, invalid("conversation_id_too_long", "conversation_id: Ensure this field has no more than 128 characters.")
	}

	raw, err := s.gateway.Complete(ctx, system, in.Messages)
	if err != nil {
		return AnalyzeOutput{}, err
	}

	out := AnalyzeOutput{ConversationID: convID}
	parsed, perr := sentinel.Parse(raw)
	out.Response = parsed.Text
	if perr != nil {
		out.ParseErr = perr
		return out, nil
	}
	if parsed.Payload == nil || !parsed.Payload.Complete {
		return out, nil
	}
	out.ConsultationComplete = true

	key := domain.ConversationKey{OwnerID: in.OwnerID, ConversationID: convID}
	res, err := s.reconciler.Reconcile(ctx, key, parsed.Payload, parsed.Text)
	if err != nil {
		out.ReconcileErr = err
		return out, nil
	}
	if res.Record != nil {
		out.RecordID = res.Record.ID
	}
	return out, nil
}

var newUUID = func() string {
	return uuid.NewString()
}
