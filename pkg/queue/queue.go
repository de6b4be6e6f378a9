package queue

import (
	"container/heap"
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/parlorgames/parlor/pkg/config"
	"github.com/parlorgames/parlor/pkg/llm"
)

// ErrStopped is returned for submissions after Stop.
var ErrStopped = errors.New("queue stopped")

// Queue runs provider calls on a bounded worker pool. Requests are
// dispatched highest-priority first; equal priorities run in submission
// order. Each attempt gets its own timeout and transient failures retry
// with linear backoff up to MaxRetries.
type Queue struct {
	config       *config.QueueConfig
	registry     *llm.Registry
	availability *llm.AvailabilityCache

	mu      sync.Mutex
	cond    *sync.Cond
	pending taskHeap
	seq     uint64
	stopped bool

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
	started  bool
}

// New creates a queue over the registry's active provider.
func New(cfg *config.QueueConfig, registry *llm.Registry, availability *llm.AvailabilityCache) *Queue {
	q := &Queue{
		config:       cfg,
		registry:     registry,
		availability: availability,
		stopCh:       make(chan struct{}),
	}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Start spawns the worker goroutines. Safe to call once; subsequent
// calls are no-ops.
func (q *Queue) Start() {
	q.mu.Lock()
	if q.started {
		q.mu.Unlock()
		slog.Warn("Request queue already started, ignoring duplicate Start call")
		return
	}
	q.started = true
	q.mu.Unlock()

	slog.Info("Starting request queue", "max_concurrent", q.config.MaxConcurrent)
	for i := 0; i < q.config.MaxConcurrent; i++ {
		q.wg.Add(1)
		go q.runWorker(i)
	}
}

// Stop drains the workers. In-flight calls finish; queued tasks fail
// with ErrStopped.
func (q *Queue) Stop() {
	q.stopOnce.Do(func() {
		q.mu.Lock()
		q.stopped = true
		for _, t := range q.pending {
			t.done <- result{err: ErrStopped}
		}
		q.pending = q.pending[:0]
		q.mu.Unlock()

		close(q.stopCh)
		q.cond.Broadcast()
		q.wg.Wait()
		slog.Info("Request queue stopped")
	})
}

// Depth reports the number of queued (not yet dispatched) requests.
func (q *Queue) Depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.pending.Len()
}

// Submit enqueues the request and blocks until it completes, fails, or
// ctx expires. A provider reported down by the availability cache fails
// fast with llm.ErrUnavailable; a ctx deadline maps to llm.ErrTimeout.
func (q *Queue) Submit(ctx context.Context, req Request) (*llm.Completion, error) {
	if health := q.availability.Check(ctx); !health.Available {
		slog.Warn("Rejecting request, provider unavailable",
			"label", req.Label, "reason", health.Reason)
		return nil, llm.ErrUnavailable
	}

	t := &task{req: req, ctx: ctx, done: make(chan result, 1)}

	q.mu.Lock()
	if q.stopped {
		q.mu.Unlock()
		return nil, ErrStopped
	}
	q.seq++
	t.seq = q.seq
	heap.Push(&q.pending, t)
	q.mu.Unlock()
	q.cond.Signal()

	select {
	case res := <-t.done:
		return res.completion, res.err
	case <-ctx.Done():
		q.abandon(t)
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, llm.ErrTimeout
		}
		return nil, ctx.Err()
	}
}

// abandon removes a task still sitting in the heap. If a worker already
// claimed it, the worker notices the dead context on its own.
func (q *Queue) abandon(t *task) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if t.index >= 0 && t.index < q.pending.Len() && q.pending[t.index] == t {
		heap.Remove(&q.pending, t.index)
	}
}

func (q *Queue) runWorker(id int) {
	defer q.wg.Done()
	for {
		t, ok := q.next()
		if !ok {
			return
		}
		q.process(id, t)
	}
}

// next blocks until a task is available or the queue stops.
func (q *Queue) next() (*task, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for q.pending.Len() == 0 && !q.stopped {
		q.cond.Wait()
	}
	if q.stopped {
		return nil, false
	}
	return heap.Pop(&q.pending).(*task), true
}

func (q *Queue) process(workerID int, t *task) {
	if err := t.ctx.Err(); err != nil {
		// Submitter already gave up.
		return
	}

	provider := q.registry.Active()
	if provider == nil {
		t.done <- result{err: llm.ErrUnavailable}
		return
	}

	start := time.Now()
	completion, err := q.attempt(t, provider)
	if err != nil {
		slog.Error("Request failed",
			"label", t.req.Label,
			"worker", workerID,
			"duration", time.Since(start).Round(time.Millisecond),
			"error", err)
		if errors.Is(t.ctx.Err(), context.DeadlineExceeded) {
			err = llm.ErrTimeout
		}
		t.done <- result{err: err}
		return
	}

	slog.Debug("Request completed",
		"label", t.req.Label,
		"worker", workerID,
		"duration", time.Since(start).Round(time.Millisecond),
		"tokens", completion.Tokens)
	t.done <- result{completion: completion}
}

// attempt runs the call with per-attempt timeout and linear-backoff
// retry for transient failures.
func (q *Queue) attempt(t *task, provider llm.Provider) (*llm.Completion, error) {
	var lastErr error
	maxAttempts := q.config.MaxRetries + 1

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		callCtx := t.ctx
		var cancel context.CancelFunc
		if timeout := q.config.Timeout.Std(); timeout > 0 {
			callCtx, cancel = context.WithTimeout(t.ctx, timeout)
		}
		completion, err := t.req.Call(callCtx, provider)
		if cancel != nil {
			cancel()
		}
		if err == nil {
			return completion, nil
		}

		lastErr = llm.Classify(err)
		if !llm.IsTransient(lastErr) || attempt == maxAttempts {
			break
		}
		if t.ctx.Err() != nil {
			break
		}

		delay := q.config.RetryDelay.Std() * time.Duration(attempt)
		slog.Warn("Retrying request",
			"label", t.req.Label,
			"attempt", attempt,
			"delay", delay,
			"error", lastErr)
		select {
		case <-time.After(delay):
		case <-t.ctx.Done():
			return nil, t.ctx.Err()
		case <-q.stopCh:
			return nil, ErrStopped
		}
	}
	return nil, lastErr
}
