package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/parlorgames/parlor/pkg/bus"
	"github.com/parlorgames/parlor/pkg/llm"
	"github.com/parlorgames/parlor/pkg/models"
	"github.com/parlorgames/parlor/pkg/protocol"
	"github.com/parlorgames/parlor/pkg/queue"
	"github.com/parlorgames/parlor/pkg/store"
)

// bootstrapChapter opens the story-machine dialog for a freshly
// activated chapter: per-player progress rows with the feedback
// deadline, the feedback timer, a private opening message per member,
// and the init events.
func (e *Engine) bootstrapChapter(ctx context.Context, a *actor, room *models.Room, story *models.Story, ch *models.Chapter, todos []*models.Todo) error {
	now := time.Now().UTC()
	timeoutAt := now.Add(e.config.Engine.FeedbackTimeout.Std())

	rows := make([]*models.PlayerProgress, 0, len(room.Members))
	for _, member := range room.Members {
		rows = append(rows, &models.PlayerProgress{
			ChapterID:  ch.ID,
			PlayerID:   member.PlayerID,
			TotalTodos: len(todos),
			TimeoutAt:  timeoutAt,
			UpdatedAt:  now,
		})
	}

	err := a.apply(ctx, func() error {
		if err := e.store.CreateProgressRows(ctx, rows); err != nil {
			return err
		}
		e.scheduleFeedbackTimeout(a, ch.ID)
		return nil
	})
	if err != nil {
		return err
	}

	// Openings are generated off the mailbox; a provider hiccup falls
	// back to a fixed text so the dialog always opens.
	for _, member := range room.Members {
		opening := e.storyMachineOpening(ctx, story, ch, todos, member.Name)

		var progress *models.PlayerProgress
		message := &models.Message{
			ID:            uuid.NewString(),
			RoomID:        room.ID,
			StoryID:       story.ID,
			SenderID:      models.StoryMachineSenderID,
			SenderName:    "Story Machine",
			RecipientID:   member.PlayerID,
			RecipientName: member.Name,
			Type:          models.MessageTypeStoryMachine,
			Content:       opening,
			ChapterNumber: ch.Number,
			CreatedAt:     time.Now().UTC(),
		}
		err := a.apply(ctx, func() error {
			if _, err := e.store.CreateMessage(ctx, message); err != nil {
				return err
			}
			for _, row := range rows {
				if row.PlayerID == member.PlayerID {
					progress = row
				}
			}
			e.bus.Emit(bus.Player(room.ID, member.PlayerID), protocol.EventStoryMachineInit,
				protocol.StoryMachineInitPayload{
					ChapterID: ch.ID,
					Opening:   message,
					Progress:  progress,
				})
			return nil
		})
		if err != nil {
			return err
		}
	}

	return a.apply(ctx, func() error {
		e.emitProgress(ctx, room.ID, ch.ID)
		return nil
	})
}

// storyMachineOpening asks the provider for a personalized dialog
// opening, degrading to a deterministic prompt on failure.
func (e *Engine) storyMachineOpening(ctx context.Context, story *models.Story, ch *models.Chapter, todos []*models.Todo, playerName string) string {
	completion, err := e.queue.Submit(ctx, queue.Request{
		Label:    "story_machine_opening",
		Priority: queue.PriorityInteractive,
		Call: func(ctx context.Context, p llm.Provider) (*llm.Completion, error) {
			return p.Chat(ctx, []llm.ChatMessage{
				{Role: llm.RoleSystem, Content: storyMachineSystemPrompt(story, ch, todos)},
				{Role: llm.RoleUser, Content: fmt.Sprintf(
					"Greet the player %s and invite them to share what they have worked out about this chapter.", playerName)},
			}, llm.ChatOptions{})
		},
	})
	if err != nil {
		slog.Warn("Story-machine opening generation failed, using fallback",
			"story_id", story.ID, "chapter", ch.Number, "error", err)
		return fmt.Sprintf(
			"Chapter %d is underway. Tell me what you have pieced together so far — every detail counts.",
			ch.Number)
	}
	return completion.Content
}

// emitProgress broadcasts the chapter's refreshed progress rows. Runs on
// the mailbox.
func (e *Engine) emitProgress(ctx context.Context, roomID, chapterID string) {
	rows, err := e.store.ProgressForChapter(ctx, chapterID)
	if err != nil {
		slog.Error("Failed to load progress rows for broadcast",
			"chapter_id", chapterID, "error", err)
		return
	}
	e.bus.Emit(bus.Room(roomID), protocol.EventFeedbackProgress,
		protocol.FeedbackProgressPayload{ChapterID: chapterID, Rows: rows})
}

// progressionReady reports whether every present player cleared the
// threshold. A chapter with no progress rows never progresses this way.
func progressionReady(rows []*models.PlayerProgress, threshold float64) bool {
	if len(rows) == 0 {
		return false
	}
	for _, row := range rows {
		if row.CompletionRate < threshold {
			return false
		}
	}
	return true
}

// advanceStory transitions the story past the observed active chapter
// and bootstraps the successor. Returns store.ErrStaleChapter when the
// story already moved on.
func (e *Engine) advanceStory(ctx context.Context, a *actor, roomID, observedChapterID string) error {
	// Pre-read under the mailbox.
	var (
		room  *models.Room
		story *models.Story
		prev  *models.Chapter
	)
	err := a.apply(ctx, func() error {
		var err error
		room, err = e.store.GetRoom(ctx, roomID)
		if err != nil {
			return err
		}
		if room.StoryID == "" {
			return store.ErrStaleChapter
		}
		story, err = e.store.GetStory(ctx, room.StoryID)
		if err != nil {
			return err
		}
		prev, err = e.store.ActiveChapter(ctx, story.ID)
		if err != nil {
			return err
		}
		if prev.ID != observedChapterID {
			return store.ErrStaleChapter
		}
		return nil
	})
	if err != nil {
		return err
	}

	// The transition generates off the mailbox and persists with a CAS
	// on the observed chapter.
	next, todos, err := e.chapters.Transition(ctx, story, prev)
	if err != nil {
		return err
	}

	err = a.apply(ctx, func() error {
		e.cancelFeedbackTimeout(a, prev.ID)
		a.lastAIOutput = time.Now().UTC()
		a.messagesSinceAI = 0
		e.bus.Emit(bus.Room(roomID), protocol.EventChapterReady,
			protocol.NewChapterPayload{Chapter: next})
		e.bus.Emit(bus.Room(roomID), protocol.EventNewChapter,
			protocol.NewChapterPayload{Chapter: next})
		return nil
	})
	if err != nil {
		return err
	}

	return e.bootstrapChapter(ctx, a, room, story, next, todos)
}
