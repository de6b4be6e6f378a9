package llm

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"google.golang.org/genai"
)

// GenAIProvider implements Provider over Google's Gemini API.
type GenAIProvider struct {
	client *genai.Client
	model  string

	// lastPermanent remembers the most recent non-retryable failure so
	// the health probe can report down without spending a real call.
	mu            sync.Mutex
	lastPermanent error
	lastFailureAt time.Time
}

// NewGenAIProvider creates a Gemini-backed provider.
func NewGenAIProvider(ctx context.Context, apiKey, model string) (*GenAIProvider, error) {
	if apiKey == "" {
		return nil, errors.New("genai api key is required")
	}
	if model == "" {
		model = "gemini-2.0-flash"
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}
	return &GenAIProvider{client: client, model: model}, nil
}

// Name implements Provider.
func (p *GenAIProvider) Name() string { return "genai" }

// Close implements Provider. The genai client holds no connection state
// that needs teardown.
func (p *GenAIProvider) Close() error { return nil }

// GenerateStory implements Provider.
func (p *GenAIProvider) GenerateStory(ctx context.Context, storyContext, userPrompt string) (*Completion, error) {
	contents := []*genai.Content{
		genai.NewContentFromText(userPrompt, genai.RoleUser),
	}
	cfg := &genai.GenerateContentConfig{}
	if storyContext != "" {
		cfg.SystemInstruction = genai.NewContentFromText(storyContext, genai.RoleUser)
	}
	return p.generate(ctx, contents, cfg)
}

// Summarize implements Provider.
func (p *GenAIProvider) Summarize(ctx context.Context, text string) (string, error) {
	contents := []*genai.Content{
		genai.NewContentFromText(
			"Summarize the following narrative in at most two sentences:\n\n"+text,
			genai.RoleUser),
	}
	completion, err := p.generate(ctx, contents, &genai.GenerateContentConfig{})
	if err != nil {
		return "", err
	}
	return completion.Content, nil
}

// Chat implements Provider.
func (p *GenAIProvider) Chat(ctx context.Context, messages []ChatMessage, opts ChatOptions) (*Completion, error) {
	cfg := &genai.GenerateContentConfig{}
	if opts.Temperature != nil {
		cfg.Temperature = opts.Temperature
	}
	if opts.MaxTokens > 0 {
		cfg.MaxOutputTokens = int32(opts.MaxTokens)
	}

	var contents []*genai.Content
	for _, msg := range messages {
		switch msg.Role {
		case RoleSystem:
			cfg.SystemInstruction = genai.NewContentFromText(msg.Content, genai.RoleUser)
		case RoleAssistant:
			contents = append(contents, genai.NewContentFromText(msg.Content, genai.RoleModel))
		default:
			contents = append(contents, genai.NewContentFromText(msg.Content, genai.RoleUser))
		}
	}
	return p.generate(ctx, contents, cfg)
}

// HealthCheck implements Provider. A recent permanent failure (bad key,
// revoked access) reports down until the failure ages out; otherwise the
// provider is considered reachable and real calls classify any errors.
func (p *GenAIProvider) HealthCheck(_ context.Context) Health {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.client == nil {
		return Health{Available: false, Reason: "client not initialized"}
	}
	if p.lastPermanent != nil && time.Since(p.lastFailureAt) < 5*time.Minute {
		return Health{Available: false, Reason: p.lastPermanent.Error()}
	}
	return Health{Available: true}
}

func (p *GenAIProvider) generate(ctx context.Context, contents []*genai.Content, cfg *genai.GenerateContentConfig) (*Completion, error) {
	resp, err := p.client.Models.GenerateContent(ctx, p.model, contents, cfg)
	if err != nil {
		classified := Classify(err)
		p.recordFailure(classified)
		return nil, classified
	}

	completion := &Completion{
		Content: resp.Text(),
		Model:   p.model,
	}
	if resp.UsageMetadata != nil {
		completion.Tokens = int(resp.UsageMetadata.TotalTokenCount)
	}
	if completion.Content == "" {
		return nil, Transient(errors.New("empty completion"))
	}
	return completion, nil
}

func (p *GenAIProvider) recordFailure(err error) {
	var pe *ProviderError
	if !errors.As(err, &pe) || pe.Class != FailurePermanent {
		return
	}
	p.mu.Lock()
	p.lastPermanent = err
	p.lastFailureAt = time.Now()
	p.mu.Unlock()
}
