package matching

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/sashabaranov/go-openai"

	"politikcred/internal/domain"
)

// ErrMalformedAnswer is returned when the model reply is not a usable verdict.
var ErrMalformedAnswer = errors.New("malformed model answer")

const systemPrompt = `You check whether a politician's public action bears on a campaign promise.
Answer with a single JSON object and nothing else:
{"verdict": "Fulfilled" | "Broken" | "Partial" | "Unrelated", "confidence": <number between 0 and 1>}
Fulfilled: the action delivers the commitment. Broken: it contradicts or abandons it.
Partial: it moves in the promised direction without completing it. Unrelated: anything else.`

// OpenAIConfig configures the AI-assisted scorer.
type OpenAIConfig struct {
	APIKey   string
	BaseURL  string
	Model    string
	Timeout  time.Duration
	CacheTTL time.Duration
}

// OpenAIScorer asks a chat model for a verdict at temperature 0. Answers are
// memoized per (promise, action, content) so a re-run reuses the same verdict.
type OpenAIScorer struct {
	client *openai.Client
	model  string
	memo   *cache.Cache
	logger *slog.Logger
}

type OpenAIOption func(*OpenAIScorer)

func WithOpenAILogger(logger *slog.Logger) OpenAIOption {
	return func(s *OpenAIScorer) {
		s.logger = logger
	}
}

func NewOpenAIScorer(cfg OpenAIConfig, opts ...OpenAIOption) (*OpenAIScorer, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("openai api key is required")
	}
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	clientCfg.HTTPClient = &http.Client{Timeout: timeout}

	model := cfg.Model
	if model == "" {
		model = openai.GPT4oMini
	}
	ttl := cfg.CacheTTL
	if ttl <= 0 {
		ttl = 7 * 24 * time.Hour
	}

	s := &OpenAIScorer{
		client: openai.NewClientWithConfig(clientCfg),
		model:  model,
		memo:   cache.New(ttl, ttl/2),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *OpenAIScorer) Method() domain.Method {
	return domain.MethodAIAssisted
}

type modelAnswer struct {
	Verdict    string  `json:"verdict"`
	Confidence float64 `json:"confidence"`
}

func (s *OpenAIScorer) Assess(ctx context.Context, promise *domain.Promise, action *domain.Action) (Assessment, error) {
	key := memoKey(promise, action)
	if cached, ok := s.memo.Get(key); ok {
		return cached.(Assessment), nil
	}

	resp, err := s.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: s.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: userPrompt(promise, action)},
		},
		MaxTokens:   60,
		Temperature: 0,
	})
	if err != nil {
		return Assessment{}, fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return Assessment{}, fmt.Errorf("%w: no choices", ErrMalformedAnswer)
	}

	out, err := parseAnswer(resp.Choices[0].Message.Content)
	if err != nil {
		s.logger.WarnContext(ctx, "discarding model answer",
			"promise_id", promise.ID.String(),
			"action_id", string(action.ID),
			"error", err,
		)
		return Assessment{}, err
	}
	s.memo.SetDefault(key, out)
	return out, nil
}

func userPrompt(promise *domain.Promise, action *domain.Action) string {
	var b strings.Builder
	b.WriteString("Promise: ")
	b.WriteString(promise.Content)
	if len(promise.Keywords) > 0 {
		b.WriteString("\nKeywords: ")
		b.WriteString(strings.Join(promise.Keywords, ", "))
	}
	fmt.Fprintf(&b, "\nAction (%s", action.Kind)
	if action.Position != domain.PositionNone {
		fmt.Fprintf(&b, ", voted %s", action.Position)
	}
	fmt.Fprintf(&b, ", %s): %s", action.OccurredAt.Format("2006-01-02"), action.Text())
	return b.String()
}

func parseAnswer(content string) (Assessment, error) {
	content = strings.TrimSpace(content)
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")

	var ans modelAnswer
	if err := json.Unmarshal([]byte(strings.TrimSpace(content)), &ans); err != nil {
		return Assessment{}, fmt.Errorf("%w: %v", ErrMalformedAnswer, err)
	}
	match := domain.MatchType(ans.Verdict)
	if !match.IsValid() {
		return Assessment{}, fmt.Errorf("%w: verdict %q", ErrMalformedAnswer, ans.Verdict)
	}
	if ans.Confidence < 0 || ans.Confidence > 1 {
		return Assessment{}, fmt.Errorf("%w: confidence %v", ErrMalformedAnswer, ans.Confidence)
	}
	return Assessment{MatchType: match, Confidence: round4(ans.Confidence), Method: domain.MethodAIAssisted}, nil
}

func memoKey(promise *domain.Promise, action *domain.Action) string {
	h := sha256.New()
	h.Write([]byte(promise.Content))
	h.Write([]byte{0})
	h.Write([]byte(strings.Join(promise.Keywords, "\x1f")))
	h.Write([]byte{0})
	h.Write([]byte(action.Text()))
	h.Write([]byte{0})
	h.Write([]byte(action.Position))
	return promise.ID.String() + "|" + string(action.ID) + "|" + hex.EncodeToString(h.Sum(nil))
}
