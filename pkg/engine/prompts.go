package engine

import (
	"context"
	"fmt"
	"strings"

	"github.com/parlorgames/parlor/pkg/llm"
	"github.com/parlorgames/parlor/pkg/models"
	"github.com/parlorgames/parlor/pkg/queue"
)

// Context sizing for continuation prompts.
const (
	continuationTokenBudget = 600
	recentMessageWindow     = 10
)

func continuationSystemPrompt(story *models.Story) string {
	var sb strings.Builder
	sb.WriteString("You are the narrator of a collaborative mystery story. ")
	sb.WriteString("Continue the narrative in one or two paragraphs, reacting to what the players just did or said. ")
	sb.WriteString("Stay consistent with the established facts and never resolve the mystery outright.\n")
	fmt.Fprintf(&sb, "Story title: %s\n", story.Title)
	if story.Background != "" {
		fmt.Fprintf(&sb, "Background: %s\n", story.Background)
	}
	return sb.String()
}

func continuationUserPrompt(active *models.Chapter, recent []*models.Message, bundle *models.MemoryBundle, message string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Current chapter (%d) so far:\n%s\n", active.Number, active.Content)

	if len(recent) > 0 {
		sb.WriteString("\nRecent table talk:\n")
		for _, m := range recent {
			fmt.Fprintf(&sb, "%s: %s\n", m.SenderName, m.Content)
		}
	}
	if len(bundle.KeyEvents) > 0 {
		sb.WriteString("\nEstablished facts:\n")
		for _, ev := range bundle.KeyEvents {
			fmt.Fprintf(&sb, "- %s\n", ev.Text)
		}
	}
	fmt.Fprintf(&sb, "\nLatest player message:\n%s\n\nContinue the story.", message)
	return sb.String()
}

func storyMachineSystemPrompt(story *models.Story, ch *models.Chapter, todos []*models.Todo) string {
	var sb strings.Builder
	sb.WriteString("You are the story machine: a private guide who talks to one player at a time ")
	sb.WriteString("about the current chapter of a mystery story. You probe for what the player has figured out, ")
	sb.WriteString("nudge them toward the open objectives without revealing answers, and stay in a warm, curious tone.\n")
	fmt.Fprintf(&sb, "Story: %s\n", story.Title)
	fmt.Fprintf(&sb, "Chapter %d:\n%s\n", ch.Number, ch.Content)
	sb.WriteString("\nOpen objectives:\n")
	for _, t := range todos {
		if t.Status == models.TodoStatusPending {
			fmt.Fprintf(&sb, "- %s\n", t.Content)
		}
	}
	return sb.String()
}

// storyMachineReply produces the AI side of the private dialog.
func (e *Engine) storyMachineReply(ctx context.Context, story *models.Story, ch *models.Chapter, todos []*models.Todo, playerMessage string) (string, error) {
	completion, err := e.queue.Submit(ctx, queue.Request{
		Label:    "story_machine_reply",
		Priority: queue.PriorityInteractive,
		Call: func(ctx context.Context, p llm.Provider) (*llm.Completion, error) {
			return p.Chat(ctx, []llm.ChatMessage{
				{Role: llm.RoleSystem, Content: storyMachineSystemPrompt(story, ch, todos)},
				{Role: llm.RoleUser, Content: playerMessage},
			}, llm.ChatOptions{})
		},
	})
	if err != nil {
		return "", err
	}
	return completion.Content, nil
}
