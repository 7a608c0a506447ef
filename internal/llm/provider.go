// Package llm provides the pipeline's parse-stage model collaborator
// (called by the parse stage only): a small Provider
// interface with an OpenAI-backed implementation and a deterministic
// fixture implementation for tests and offline runs.
package llm

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"github.com/rs/zerolog/log"
)

// DraftResult is the model's structured response to a decision brief:
// a raw graph plus the rationale and model metadata the pipeline's
// plan-annotation checkpoint records.
type DraftResult struct {
	RawGraphJSON string
	Rationales   []string
	ModelID      string
	PromptVer    string
	OpenQuestions []string
}

// Provider drafts a causal graph from a decision brief.
type Provider interface {
	Draft(ctx context.Context, brief string) (DraftResult, error)
}

// OpenAIProvider calls a real chat-completion model: build the
// system/user messages, call, and measure latency.
type OpenAIProvider struct {
	client      *openai.Client
	model       string
	promptVer   string
	maxTokens   int
	temperature float32
}

func NewOpenAIProvider(apiKey, model, promptVersion string) *OpenAIProvider {
	return &OpenAIProvider{
		client:      openai.NewClient(apiKey),
		model:       model,
		promptVer:   promptVersion,
		maxTokens:   2048,
		temperature: 0.2,
	}
}

func (p *OpenAIProvider) Draft(ctx context.Context, brief string) (DraftResult, error) {
	req := openai.ChatCompletionRequest{
		Model:       p.model,
		MaxTokens:   p.maxTokens,
		Temperature: p.temperature,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: draftSystemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: brief},
		},
	}

	start := time.Now()
	resp, err := p.client.CreateChatCompletion(ctx, req)
	latency := time.Since(start)
	if err != nil {
		log.Error().Err(err).Str("model", p.model).Dur("latency", latency).Msg("llm draft call failed")
		return DraftResult{}, err
	}
	log.Debug().Str("model", p.model).Dur("latency", latency).Msg("llm draft call completed")

	if len(resp.Choices) == 0 {
		return DraftResult{}, fmt.Errorf("llm: empty choices in response")
	}

	return DraftResult{
		RawGraphJSON: resp.Choices[0].Message.Content,
		ModelID:      p.model,
		PromptVer:    p.promptVer,
	}, nil
}

const draftSystemPrompt = `You turn a decision brief into a causal decision graph: a goal, one decision, its options, the factors each option influences, and the outcomes/risks those factors drive. Respond with the graph as JSON only.`

// FixtureProvider returns deterministic output keyed by the brief's
// hash, for tests and offline runs that must not depend on network
// access or model drift.
type FixtureProvider struct {
	Fixtures map[string]DraftResult
}

func NewFixtureProvider() *FixtureProvider {
	return &FixtureProvider{Fixtures: make(map[string]DraftResult)}
}

func (p *FixtureProvider) Register(brief string, result DraftResult) {
	p.Fixtures[briefKey(brief)] = result
}

func (p *FixtureProvider) Draft(_ context.Context, brief string) (DraftResult, error) {
	key := briefKey(brief)
	if r, ok := p.Fixtures[key]; ok {
		return r, nil
	}
	return DraftResult{}, fmt.Errorf("llm: no fixture registered for brief hash %s", key)
}

func briefKey(brief string) string {
	sum := sha256.Sum256([]byte(brief))
	return fmt.Sprintf("%x", sum[:8])
}

// MarshalDraft is a convenience used by tests building fixtures inline.
func MarshalDraft(v any) string {
	b, _ := json.Marshal(v)
	return string(b)
}
