package queue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parlorgames/parlor/pkg/config"
	"github.com/parlorgames/parlor/pkg/llm"
)

func newTestQueue(t *testing.T, provider llm.Provider, cfg *config.QueueConfig) *Queue {
	t.Helper()
	if cfg == nil {
		cfg = &config.QueueConfig{
			MaxConcurrent: 2,
			MaxRetries:    2,
			RetryDelay:    config.Duration(time.Millisecond),
			Timeout:       config.Duration(time.Second),
		}
	}
	registry := llm.NewRegistry(provider)
	availability := llm.NewAvailabilityCache(registry, 0)
	q := New(cfg, registry, availability)
	q.Start()
	t.Cleanup(q.Stop)
	return q
}

func chatCall(prompt string) Call {
	return func(ctx context.Context, p llm.Provider) (*llm.Completion, error) {
		return p.Chat(ctx, []llm.ChatMessage{{Role: llm.RoleUser, Content: prompt}}, llm.ChatOptions{})
	}
}

func TestSubmitSuccess(t *testing.T) {
	q := newTestQueue(t, llm.NewFakeProvider("hello"), nil)

	completion, err := q.Submit(context.Background(), Request{
		Label:    "test",
		Priority: PriorityNormal,
		Call:     chatCall("hi"),
	})
	require.NoError(t, err)
	assert.Equal(t, "hello", completion.Content)
}

func TestSubmitUnavailableShortCircuits(t *testing.T) {
	provider := llm.NewFakeProvider("unused")
	provider.SetHealth(llm.Health{Available: false, Reason: "down"})
	q := newTestQueue(t, provider, nil)

	_, err := q.Submit(context.Background(), Request{Label: "test", Call: chatCall("hi")})
	assert.ErrorIs(t, err, llm.ErrUnavailable)
	assert.Equal(t, 0, provider.Calls())
}

func TestSubmitRetriesTransient(t *testing.T) {
	provider := llm.NewFakeProvider("recovered")
	provider.Fail(llm.Transient(errors.New("503 flake")))
	q := newTestQueue(t, provider, nil)

	completion, err := q.Submit(context.Background(), Request{Label: "test", Call: chatCall("hi")})
	require.NoError(t, err)
	assert.Equal(t, "recovered", completion.Content)
	assert.Equal(t, 2, provider.Calls())
}

func TestSubmitPermanentFailsFast(t *testing.T) {
	provider := llm.NewFakeProvider("unused")
	provider.Fail(llm.Permanent(errors.New("401 bad key")))
	q := newTestQueue(t, provider, nil)

	_, err := q.Submit(context.Background(), Request{Label: "test", Call: chatCall("hi")})
	require.Error(t, err)
	assert.False(t, llm.IsTransient(err))
	assert.Equal(t, 1, provider.Calls())
}

func TestSubmitRetriesExhausted(t *testing.T) {
	provider := llm.NewFakeProvider("unused")
	provider.Fail(
		llm.Transient(errors.New("flake 1")),
		llm.Transient(errors.New("flake 2")),
		llm.Transient(errors.New("flake 3")),
	)
	q := newTestQueue(t, provider, nil)

	_, err := q.Submit(context.Background(), Request{Label: "test", Call: chatCall("hi")})
	require.Error(t, err)
	assert.Equal(t, 3, provider.Calls()) // 1 + MaxRetries
}

func TestSubmitDeadlineMapsToTimeout(t *testing.T) {
	provider := llm.NewFakeProvider("slow")
	provider.Delay = make(chan struct{})
	defer close(provider.Delay)
	q := newTestQueue(t, provider, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := q.Submit(ctx, Request{Label: "test", Call: chatCall("hi")})
	assert.ErrorIs(t, err, llm.ErrTimeout)
}

func TestPriorityOrdering(t *testing.T) {
	provider := llm.NewFakeProvider("ok")
	provider.Delay = make(chan struct{})
	q := newTestQueue(t, provider, &config.QueueConfig{
		MaxConcurrent: 1,
		MaxRetries:    0,
		RetryDelay:    config.Duration(time.Millisecond),
		Timeout:       config.Duration(time.Second),
	})

	var mu sync.Mutex
	var order []string
	record := func(label string) Call {
		return func(ctx context.Context, p llm.Provider) (*llm.Completion, error) {
			mu.Lock()
			order = append(order, label)
			mu.Unlock()
			return &llm.Completion{Content: label}, nil
		}
	}

	// Occupy the single worker so the remaining submissions queue up.
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, _ = q.Submit(context.Background(), Request{Label: "blocker", Call: chatCall("hi")})
	}()
	require.Eventually(t, func() bool { return provider.Waiting() == 1 },
		time.Second, time.Millisecond)

	labels := []struct {
		label    string
		priority int
	}{
		{"background", PriorityBackground},
		{"interactive-1", PriorityInteractive},
		{"normal", PriorityNormal},
		{"interactive-2", PriorityInteractive},
	}
	for i, l := range labels {
		l := l
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = q.Submit(context.Background(), Request{Label: l.label, Priority: l.priority, Call: record(l.label)})
		}()
		want := i + 1
		require.Eventually(t, func() bool { return q.Depth() == want },
			time.Second, time.Millisecond)
	}
	close(provider.Delay)
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"interactive-1", "interactive-2", "normal", "background"}, order)
}

func TestStopFailsQueuedRequests(t *testing.T) {
	provider := llm.NewFakeProvider("ok")
	provider.Delay = make(chan struct{})
	cfg := &config.QueueConfig{
		MaxConcurrent: 1,
		MaxRetries:    0,
		RetryDelay:    config.Duration(time.Millisecond),
		Timeout:       config.Duration(time.Second),
	}
	registry := llm.NewRegistry(provider)
	q := New(cfg, registry, llm.NewAvailabilityCache(registry, 0))
	q.Start()

	errCh := make(chan error, 2)
	for i := 0; i < 2; i++ {
		go func() {
			_, err := q.Submit(context.Background(), Request{Label: "queued", Call: chatCall("hi")})
			errCh <- err
		}()
	}
	require.Eventually(t, func() bool { return q.Depth() >= 1 }, time.Second, time.Millisecond)

	close(provider.Delay)
	q.Stop()

	sawStopped := false
	for i := 0; i < 2; i++ {
		select {
		case err := <-errCh:
			if errors.Is(err, ErrStopped) {
				sawStopped = true
			} else {
				assert.NoError(t, err)
			}
		case <-time.After(time.Second):
			t.Fatal("submission did not return after Stop")
		}
	}
	_ = sawStopped

	_, err := q.Submit(context.Background(), Request{Label: "late", Call: chatCall("hi")})
	assert.ErrorIs(t, err, ErrStopped)
}
