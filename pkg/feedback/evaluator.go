// Package feedback judges player replies in the story-machine dialog
// against the active chapter's todos and maintains per-player progress.
package feedback

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/parlorgames/parlor/pkg/llm"
	"github.com/parlorgames/parlor/pkg/models"
	"github.com/parlorgames/parlor/pkg/queue"
	"github.com/parlorgames/parlor/pkg/store"
)

// Verdict is the evaluation outcome for one todo.
type Verdict struct {
	TodoID    string `json:"todo_id"`
	Satisfied bool   `json:"satisfied"`
	Reason    string `json:"reason"`
	// Fallback marks verdicts produced by the keyword heuristic after an
	// unparseable model reply.
	Fallback bool `json:"fallback,omitempty"`
}

// Evaluator runs todo satisfaction checks through the request queue.
type Evaluator struct {
	store *store.Store
	queue *queue.Queue
}

// NewEvaluator creates an evaluator.
func NewEvaluator(st *store.Store, q *queue.Queue) *Evaluator {
	return &Evaluator{store: st, queue: q}
}

// Evaluate judges the message against every pending todo. Evaluations
// run concurrently; completed todos are skipped with no verdict.
func (e *Evaluator) Evaluate(ctx context.Context, message string, todos []*models.Todo, story *models.Story) ([]Verdict, error) {
	var pending []*models.Todo
	for _, t := range todos {
		if t.Status == models.TodoStatusPending {
			pending = append(pending, t)
		}
	}
	if len(pending) == 0 {
		return nil, nil
	}

	verdicts := make([]Verdict, len(pending))
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	for i, todo := range pending {
		g.Go(func() error {
			v, err := e.evaluateOne(gctx, message, todo, story)
			if err != nil {
				return err
			}
			mu.Lock()
			verdicts[i] = v
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return verdicts, nil
}

// evaluateOne asks the model for a JSON verdict, falling back to the
// keyword heuristic when the reply cannot be parsed.
func (e *Evaluator) evaluateOne(ctx context.Context, message string, todo *models.Todo, story *models.Story) (Verdict, error) {
	completion, err := e.queue.Submit(ctx, queue.Request{
		Label:    "feedback_eval",
		Priority: queue.PriorityInteractive,
		Call: func(ctx context.Context, p llm.Provider) (*llm.Completion, error) {
			return p.Chat(ctx, []llm.ChatMessage{
				{Role: llm.RoleSystem, Content: verdictSystemPrompt()},
				{Role: llm.RoleUser, Content: verdictUserPrompt(message, todo, story)},
			}, llm.ChatOptions{})
		},
	})
	if err != nil {
		return Verdict{}, fmt.Errorf("failed to evaluate todo %s: %w", todo.ID, err)
	}

	verdict, parseErr := parseVerdict(completion.Content)
	if parseErr != nil {
		slog.Warn("Verdict parse failed, using keyword heuristic",
			"todo_id", todo.ID, "error", parseErr)
		verdict = heuristicVerdict(message, todo)
	}
	verdict.TodoID = todo.ID
	return verdict, nil
}

// Apply marks satisfied todos completed, attributed to the player whose
// evaluation satisfied them, and recomputes that player's progress row.
// Todo completion is monotone, so re-applying a verdict set is harmless.
func (e *Evaluator) Apply(ctx context.Context, chapterID, playerID string, verdicts []Verdict) (*models.PlayerProgress, error) {
	for _, v := range verdicts {
		if !v.Satisfied {
			continue
		}
		if _, err := e.store.CompleteTodo(ctx, v.TodoID, playerID); err != nil {
			return nil, err
		}
	}
	return e.Recompute(ctx, chapterID, playerID)
}

// Recompute refreshes completionRate = completed / total for one player
// and returns the updated row. Only todos completed by this player's own
// evaluations count toward the rate.
func (e *Evaluator) Recompute(ctx context.Context, chapterID, playerID string) (*models.PlayerProgress, error) {
	todos, err := e.store.TodosForChapter(ctx, chapterID)
	if err != nil {
		return nil, err
	}
	completed := 0
	for _, t := range todos {
		if t.Status == models.TodoStatusCompleted && t.CompletedBy == playerID {
			completed++
		}
	}
	rate := 0.0
	if len(todos) > 0 {
		rate = float64(completed) / float64(len(todos))
	}

	progress := &models.PlayerProgress{
		ChapterID:      chapterID,
		PlayerID:       playerID,
		CompletedTodos: completed,
		TotalTodos:     len(todos),
		CompletionRate: rate,
		UpdatedAt:      time.Now().UTC(),
	}
	if err := e.store.UpdateProgress(ctx, progress); err != nil {
		return nil, err
	}
	return progress, nil
}
