package chapter

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/parlorgames/parlor/pkg/llm"
	"github.com/parlorgames/parlor/pkg/models"
	"github.com/parlorgames/parlor/pkg/queue"
)

// Todo batch bounds per active chapter.
const (
	minTodos = 3
	maxTodos = 5
)

type todoPayload struct {
	Content        string `json:"content"`
	ExpectedAnswer string `json:"expected_answer"`
	Priority       int    `json:"priority"`
}

// generateTodos asks the provider for the chapter's objective batch and
// falls back to deterministic defaults when the reply cannot be parsed.
func (m *Manager) generateTodos(ctx context.Context, story *models.Story, ch *models.Chapter) ([]*models.Todo, error) {
	completion, err := m.queue.Submit(ctx, queue.Request{
		Label:    "chapter_todos",
		Priority: queue.PriorityNormal,
		Call: func(ctx context.Context, p llm.Provider) (*llm.Completion, error) {
			return p.Chat(ctx, []llm.ChatMessage{
				{Role: llm.RoleSystem, Content: todosSystemPrompt()},
				{Role: llm.RoleUser, Content: todosUserPrompt(story, ch)},
			}, llm.ChatOptions{})
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to generate todos: %w", err)
	}

	payloads, parseErr := parseTodoPayloads(completion.Content)
	if parseErr != nil {
		slog.Warn("Falling back to default todos",
			"story_id", story.ID, "chapter", ch.Number, "error", parseErr)
		payloads = defaultTodoPayloads()
	}

	now := time.Now().UTC()
	todos := make([]*models.Todo, 0, len(payloads))
	for _, p := range payloads {
		priority := p.Priority
		if priority < 1 {
			priority = 1
		}
		if priority > 5 {
			priority = 5
		}
		todos = append(todos, &models.Todo{
			ID:             uuid.NewString(),
			ChapterID:      ch.ID,
			Content:        p.Content,
			ExpectedAnswer: p.ExpectedAnswer,
			Priority:       priority,
			Status:         models.TodoStatusPending,
			CreatedAt:      now,
		})
	}
	return todos, nil
}

// parseTodoPayloads extracts a JSON array from the reply, tolerating
// fenced code blocks and surrounding chatter.
func parseTodoPayloads(reply string) ([]todoPayload, error) {
	raw := extractJSONArray(reply)
	if raw == "" {
		return nil, fmt.Errorf("no JSON array in reply")
	}

	var payloads []todoPayload
	if err := json.Unmarshal([]byte(raw), &payloads); err != nil {
		return nil, fmt.Errorf("malformed todo array: %w", err)
	}

	var valid []todoPayload
	for _, p := range payloads {
		if strings.TrimSpace(p.Content) != "" {
			valid = append(valid, p)
		}
	}
	if len(valid) < minTodos {
		return nil, fmt.Errorf("got %d usable todos, need at least %d", len(valid), minTodos)
	}
	if len(valid) > maxTodos {
		valid = valid[:maxTodos]
	}
	return valid, nil
}

// extractJSONArray returns the outermost bracketed span of the text.
func extractJSONArray(text string) string {
	start := strings.Index(text, "[")
	end := strings.LastIndex(text, "]")
	if start < 0 || end <= start {
		return ""
	}
	return text[start : end+1]
}

func defaultTodoPayloads() []todoPayload {
	return []todoPayload{
		{Content: "Establish where each character was when the chapter's central event happened", Priority: 3},
		{Content: "Identify one physical clue introduced in this chapter and what it suggests", Priority: 3},
		{Content: "Name who benefits most from the chapter's events and why", Priority: 2},
	}
}
