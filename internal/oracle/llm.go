package oracle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/favouriweala/Task-Manager-App-sub000/internal/behavior"
)

const (
	defaultTimeout   = 10 * time.Second
	defaultRateLimit = 2.0 // requests per second
	defaultBurst     = 4
	defaultMaxEvents = 200
)

// Completer turns a prompt into raw model text.
type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// ModelCompleter adapts a langchaingo model to Completer.
type ModelCompleter struct {
	model llms.Model
	opts  []llms.CallOption
}

// NewModelCompleter wraps model. opts are applied to every call.
func NewModelCompleter(model llms.Model, opts ...llms.CallOption) *ModelCompleter {
	return &ModelCompleter{model: model, opts: opts}
}

// Complete implements Completer.
func (c *ModelCompleter) Complete(ctx context.Context, prompt string) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, c.model, prompt, c.opts...)
}

// OpenAIConfig configures an OpenAI-compatible backend.
type OpenAIConfig struct {
	BaseURL string
	Model   string
	APIKey  string `json:"-"`
}

// NewOpenAICompleter creates a Completer backed by any OpenAI-compatible endpoint.
func NewOpenAICompleter(cfg OpenAIConfig) (*ModelCompleter, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("oracle API key required")
	}
	opts := []openai.Option{openai.WithToken(cfg.APIKey)}
	if cfg.Model != "" {
		opts = append(opts, openai.WithModel(cfg.Model))
	}
	if cfg.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
	}
	llm, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("creating openai client: %w", err)
	}
	return NewModelCompleter(llm, llms.WithTemperature(0.2), llms.WithMaxTokens(2048)), nil
}

// LLMGateway implements Gateway on top of a text Completer. Every call is rate
// limited and bounded by a hard timeout.
type LLMGateway struct {
	completer Completer
	limiter   *rate.Limiter
	timeout   time.Duration
	maxEvents int
	logger    *zap.Logger
}

// LLMOption configures an LLMGateway.
type LLMOption func(*LLMGateway)

// WithTimeout sets the hard per-call timeout.
func WithTimeout(d time.Duration) LLMOption {
	return func(g *LLMGateway) { g.timeout = d }
}

// WithRateLimit sets the request rate and burst.
func WithRateLimit(perSecond float64, burst int) LLMOption {
	return func(g *LLMGateway) { g.limiter = rate.NewLimiter(rate.Limit(perSecond), burst) }
}

// WithMaxEvents caps how many of the most recent events go into a prompt.
func WithMaxEvents(n int) LLMOption {
	return func(g *LLMGateway) { g.maxEvents = n }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) LLMOption {
	return func(g *LLMGateway) {
		if l != nil {
			g.logger = l
		}
	}
}

// NewLLMGateway creates a gateway around completer.
func NewLLMGateway(completer Completer, opts ...LLMOption) (*LLMGateway, error) {
	if completer == nil {
		return nil, fmt.Errorf("completer cannot be nil")
	}
	g := &LLMGateway{
		completer: completer,
		limiter:   rate.NewLimiter(rate.Limit(defaultRateLimit), defaultBurst),
		timeout:   defaultTimeout,
		maxEvents: defaultMaxEvents,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// AnalyzeWorkflowPatterns asks the model for recurring patterns in events.
func (g *LLMGateway) AnalyzeWorkflowPatterns(ctx context.Context, userID string, events []behavior.Event) ([]PatternCandidate, error) {
	if len(events) == 0 {
		return nil, nil
	}
	if len(events) > g.maxEvents {
		events = events[len(events)-g.maxEvents:]
	}

	raw, err := g.complete(ctx, buildPatternPrompt(events))
	if err != nil {
		return nil, fmt.Errorf("analyzing workflow patterns: %w", err)
	}

	candidates, err := parsePatternResponse(raw)
	if err != nil {
		g.logger.Warn("oracle pattern response unparseable",
			zap.String("user_id", userID),
			zap.Int("response_len", len(raw)),
			zap.Error(err))
		return nil, fmt.Errorf("analyzing workflow patterns: %w", err)
	}

	g.logger.Debug("oracle proposed patterns",
		zap.String("user_id", userID),
		zap.Int("events", len(events)),
		zap.Int("candidates", len(candidates)))
	return candidates, nil
}

// AnalyzeNotificationContext asks the model whether and how to deliver.
func (g *LLMGateway) AnalyzeNotificationContext(ctx context.Context, in NotificationInput) (*NotificationAssessment, error) {
	prompt, err := buildNotificationPrompt(in)
	if err != nil {
		return nil, err
	}

	raw, err := g.complete(ctx, prompt)
	if err != nil {
		return nil, fmt.Errorf("analyzing notification context: %w", err)
	}

	var assessment NotificationAssessment
	if err := json.Unmarshal([]byte(extractJSON(raw)), &assessment); err != nil {
		return nil, fmt.Errorf("analyzing notification context: %w: %v", ErrMalformed, err)
	}
	return &assessment, nil
}

func (g *LLMGateway) complete(ctx context.Context, prompt string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	if err := g.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("%w: rate limiter: %v", ErrTimeout, err)
	}

	out, err := g.completer.Complete(ctx, prompt)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return "", fmt.Errorf("%w: %v", ErrTimeout, err)
		}
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return out, nil
}

func buildPatternPrompt(events []behavior.Event) string {
	var b strings.Builder
	b.WriteString("You analyze task-management activity logs and find recurring workflow patterns.\n")
	b.WriteString("Pattern types: temporal (same weekday and time block), sequence (one action followed by another), context (a recurring metadata value).\n")
	b.WriteString(`Answer with JSON only: {"patterns":[{"type":"temporal|sequence|context","pattern":"description","frequency":0.0,"confidence":0.0,"automation_potential":0.0,"suggested_rule":"...","conditions":{},"actions":{}}]}`)
	b.WriteString("\nAll scores are between 0 and 1.\n\nEvents (oldest first):\n")
	for _, e := range events {
		fmt.Fprintf(&b, "%s %s %s", e.Timestamp.UTC().Format(time.RFC3339), e.Timestamp.Weekday(), e.Type)
		if len(e.Metadata) > 0 {
			fmt.Fprintf(&b, " %s", e.Metadata.Canonical())
		}
		b.WriteByte('\n')
	}
	return b.String()
}

func buildNotificationPrompt(in NotificationInput) (string, error) {
	payload, err := json.Marshal(in)
	if err != nil {
		return "", fmt.Errorf("encoding notification context: %w", err)
	}
	var b strings.Builder
	b.WriteString("You decide whether a task-management notification should be delivered now.\n")
	b.WriteString(`Answer with JSON only: {"should_deliver":true,"recommended_channels":[],"enhanced_content":"","priority":"low|medium|high|urgent","reasoning":"...","confidence":0.0}`)
	b.WriteString("\n\nNotification and user context:\n")
	b.Write(payload)
	b.WriteByte('\n')
	return b.String(), nil
}

func parsePatternResponse(raw string) ([]PatternCandidate, error) {
	body := extractJSON(raw)
	if body == "" {
		return nil, fmt.Errorf("%w: no JSON in response", ErrMalformed)
	}

	if strings.HasPrefix(body, "[") {
		var list []PatternCandidate
		if err := json.Unmarshal([]byte(body), &list); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		return list, nil
	}

	var wrapped struct {
		Patterns []PatternCandidate `json:"patterns"`
	}
	if err := json.Unmarshal([]byte(body), &wrapped); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return wrapped.Patterns, nil
}

// extractJSON returns the outermost JSON object or array in s, ignoring any
// surrounding prose or code fences.
func extractJSON(s string) string {
	start := strings.IndexAny(s, "{[")
	if start < 0 {
		return ""
	}
	closer := byte('}')
	if s[start] == '[' {
		closer = ']'
	}
	end := strings.LastIndexByte(s, closer)
	if end < start {
		return ""
	}
	return s[start : end+1]
}
