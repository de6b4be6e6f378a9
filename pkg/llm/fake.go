package llm

import (
	"context"
	"sync"
)

// FakeProvider is a scripted provider for tests. Responses are consumed
// in order; when the script runs out the last entry repeats.
type FakeProvider struct {
	mu        sync.Mutex
	responses []string
	errs      []error
	calls     int
	waiting   int
	health    Health

	// Delay, when set, makes each call block until the context is done
	// or the delay channel is closed. Used by timeout tests.
	Delay chan struct{}
}

// NewFakeProvider creates a healthy fake that replies with the given
// responses in order.
func NewFakeProvider(responses ...string) *FakeProvider {
	return &FakeProvider{responses: responses, health: Health{Available: true}}
}

// Fail queues an error for the next call instead of a response.
func (p *FakeProvider) Fail(errs ...error) *FakeProvider {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.errs = append(p.errs, errs...)
	return p
}

// SetHealth overrides the health probe result.
func (p *FakeProvider) SetHealth(h Health) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.health = h
}

// Calls reports how many generation calls the fake has served.
func (p *FakeProvider) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

// Waiting reports how many calls are currently blocked on Delay.
func (p *FakeProvider) Waiting() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.waiting
}

func (p *FakeProvider) next(ctx context.Context) (*Completion, error) {
	if p.Delay != nil {
		p.mu.Lock()
		p.waiting++
		p.mu.Unlock()
		defer func() {
			p.mu.Lock()
			p.waiting--
			p.mu.Unlock()
		}()
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-p.Delay:
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if len(p.errs) > 0 {
		err := p.errs[0]
		p.errs = p.errs[1:]
		return nil, err
	}
	content := "fake response"
	if len(p.responses) > 0 {
		content = p.responses[0]
		if len(p.responses) > 1 {
			p.responses = p.responses[1:]
		}
	}
	return &Completion{Content: content, Model: "fake", Tokens: len(content) / 4}, nil
}

// GenerateStory implements Provider.
func (p *FakeProvider) GenerateStory(ctx context.Context, _, _ string) (*Completion, error) {
	return p.next(ctx)
}

// Summarize implements Provider.
func (p *FakeProvider) Summarize(ctx context.Context, _ string) (string, error) {
	completion, err := p.next(ctx)
	if err != nil {
		return "", err
	}
	return completion.Content, nil
}

// Chat implements Provider.
func (p *FakeProvider) Chat(ctx context.Context, _ []ChatMessage, _ ChatOptions) (*Completion, error) {
	return p.next(ctx)
}

// HealthCheck implements Provider.
func (p *FakeProvider) HealthCheck(context.Context) Health {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.health
}

// Name implements Provider.
func (p *FakeProvider) Name() string { return "fake" }

// Close implements Provider.
func (p *FakeProvider) Close() error { return nil }
