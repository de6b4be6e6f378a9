// Package chapter manages the narrative segmentation of a story: the
// auto-progression trigger policy, chapter transitions with summary and
// memory extraction, random events, and the chapter history cache.
package chapter

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/parlorgames/parlor/pkg/config"
	"github.com/parlorgames/parlor/pkg/llm"
	"github.com/parlorgames/parlor/pkg/memory"
	"github.com/parlorgames/parlor/pkg/models"
	"github.com/parlorgames/parlor/pkg/queue"
	"github.com/parlorgames/parlor/pkg/store"
)

// retrievalTokenBudget bounds the memory context fed into transition
// prompts.
const retrievalTokenBudget = 800

// Manager drives chapter lifecycles for all stories.
type Manager struct {
	store  *store.Store
	memory *memory.Manager
	queue  *queue.Queue
	config *config.ChapterConfig

	// summaryMaxChars bounds the stored chapter summary.
	summaryMaxChars int

	// randFloat is swappable so tests can force or suppress random
	// events.
	randFloat func() float64

	histories sync.Map // storyID → *History
}

// NewManager creates a chapter manager.
func NewManager(st *store.Store, mem *memory.Manager, q *queue.Queue, cfg *config.ChapterConfig, summaryMaxChars int) *Manager {
	return &Manager{
		store:           st,
		memory:          mem,
		queue:           q,
		config:          cfg,
		summaryMaxChars: summaryMaxChars,
		randFloat:       rand.Float64,
	}
}

// GenerateFirst produces the opening chapter and its todo batch for a
// fresh story. Nothing is persisted; the caller owns the transactional
// write so a failed generation leaves no story behind.
func (m *Manager) GenerateFirst(ctx context.Context, story *models.Story) (*models.Chapter, []*models.Todo, error) {
	completion, err := m.queue.Submit(ctx, queue.Request{
		Label:    "chapter_first",
		Priority: queue.PriorityNormal,
		Call: func(ctx context.Context, p llm.Provider) (*llm.Completion, error) {
			return p.GenerateStory(ctx, openingSystemPrompt(story), openingUserPrompt(story))
		},
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to generate first chapter: %w", err)
	}

	ch := &models.Chapter{
		ID:        uuid.NewString(),
		StoryID:   story.ID,
		Number:    1,
		Content:   completion.Content,
		Status:    models.ChapterStatusActive,
		StartTime: time.Now().UTC(),
		WordCount: countWords(completion.Content),
	}
	todos, err := m.generateTodos(ctx, story, ch)
	if err != nil {
		return nil, nil, err
	}
	return ch, todos, nil
}

// Transition completes prev and activates its successor: summarize the
// ending, mine long-term memories, generate the next opening with
// retrieved context, roll for a random event, and persist the pair
// atomically. Returns store.ErrStaleChapter when another writer already
// advanced the story.
func (m *Manager) Transition(ctx context.Context, story *models.Story, prev *models.Chapter) (*models.Chapter, []*models.Todo, error) {
	ending, err := m.queue.Submit(ctx, queue.Request{
		Label:    "chapter_ending",
		Priority: queue.PriorityNormal,
		Call: func(ctx context.Context, p llm.Provider) (*llm.Completion, error) {
			text, err := p.Summarize(ctx, prev.Content)
			if err != nil {
				return nil, err
			}
			return &llm.Completion{Content: text}, nil
		},
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to summarize chapter %d: %w", prev.Number, err)
	}

	if err := m.memory.MineChapter(ctx, story.ID, prev.Content); err != nil {
		return nil, nil, fmt.Errorf("failed to mine chapter memories: %w", err)
	}

	bundle, err := m.memory.GetRelevantMemories(ctx, story.ID, ending.Content, retrievalTokenBudget)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to retrieve memories: %w", err)
	}

	opening, err := m.queue.Submit(ctx, queue.Request{
		Label:    "chapter_opening",
		Priority: queue.PriorityNormal,
		Call: func(ctx context.Context, p llm.Provider) (*llm.Completion, error) {
			return p.GenerateStory(ctx, openingSystemPrompt(story),
				transitionPrompt(story, ending.Content, bundle))
		},
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to generate chapter %d opening: %w", prev.Number+1, err)
	}

	content := opening.Content
	var event *RandomEvent
	if m.randFloat() < m.config.RandomEventProbability {
		event = rollEvent(m.randFloat)
		content = content + "\n\n" + event.Text
		slog.Info("Random event rolled into chapter",
			"story_id", story.ID, "chapter", prev.Number+1, "event", event.Kind)
	}

	completed := *prev
	completed.Content = prev.Content + "\n\n" + ending.Content
	completed.Summary = truncateSummary(ending.Content, m.summaryMaxChars)
	completed.WordCount = countWords(completed.Content)

	next := &models.Chapter{
		ID:        uuid.NewString(),
		StoryID:   story.ID,
		Number:    prev.Number + 1,
		Content:   content,
		Status:    models.ChapterStatusActive,
		StartTime: time.Now().UTC(),
		WordCount: countWords(content),
	}
	todos, err := m.generateTodos(ctx, story, next)
	if err != nil {
		return nil, nil, err
	}

	if err := m.store.AdvanceChapter(ctx, &completed, next, todos); err != nil {
		return nil, nil, err
	}
	m.refreshHistory(ctx, story.ID)

	slog.Info("Chapter advanced",
		"story_id", story.ID,
		"from", prev.Number,
		"to", next.Number,
		"todos", len(todos))
	return next, todos, nil
}

// countWords counts whitespace-separated tokens.
func countWords(text string) int {
	return len(strings.Fields(text))
}

// truncateSummary bounds a summary for storage, keeping a whole prefix.
func truncateSummary(text string, maxChars int) string {
	runes := []rune(text)
	if maxChars <= 0 || len(runes) <= maxChars {
		return text
	}
	return string(runes[:maxChars-1]) + "…"
}
