package engine

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/parlorgames/parlor/pkg/bus"
	"github.com/parlorgames/parlor/pkg/llm"
	"github.com/parlorgames/parlor/pkg/models"
	"github.com/parlorgames/parlor/pkg/protocol"
	"github.com/parlorgames/parlor/pkg/queue"
	"github.com/parlorgames/parlor/pkg/store"
)

// SendMessage handles send_message, dispatching by message type.
func (e *Engine) SendMessage(ctx context.Context, cmd protocol.SendMessage) (*protocol.MessageResult, error) {
	if cmd.RoomID == "" || cmd.PlayerID == "" {
		return nil, protocol.NewError(protocol.CodeMissingParameters, "room_id and player_id are required")
	}
	if strings.TrimSpace(cmd.Message) == "" {
		return nil, protocol.NewError(protocol.CodeEmptyMessage, "message is empty")
	}
	if len([]rune(cmd.Message)) > protocol.MaxMessageLength {
		return nil, protocol.NewError(protocol.CodeMessageTooLong, "message exceeds 1000 characters")
	}
	switch cmd.MessageType {
	case models.MessageTypeGlobal, models.MessageTypePrivate, models.MessageTypePlayerToPlayer:
	default:
		return nil, protocol.NewError(protocol.CodeInvalidMessageType,
			"message_type must be global, private or player_to_player")
	}
	if cmd.MessageType == models.MessageTypePlayerToPlayer && cmd.RecipientID == "" {
		return nil, protocol.NewError(protocol.CodeMissingRecipient,
			"player_to_player messages require recipient_id")
	}

	a, err := e.actorFor(cmd.RoomID)
	if err != nil {
		return nil, commandError("send_message", err)
	}

	// Membership pre-read.
	var room *models.Room
	err = a.apply(ctx, func() error {
		var err error
		room, err = e.store.GetRoom(ctx, cmd.RoomID)
		if err != nil {
			return err
		}
		if room.Member(cmd.PlayerID) == nil {
			return protocol.NewError(protocol.CodeNotInRoom, "player is not a member of this room")
		}
		return nil
	})
	if err != nil {
		return nil, commandError("send_message", err)
	}

	switch cmd.MessageType {
	case models.MessageTypeGlobal:
		return e.handleGlobalMessage(ctx, a, room, cmd)
	case models.MessageTypePrivate:
		return e.handlePrivateMessage(ctx, a, room, cmd)
	default:
		return e.handleDirectMessage(ctx, a, room, cmd)
	}
}

// buildMessage assembles the message record. The client-supplied id, if
// any, makes resubmission idempotent.
func buildMessage(room *models.Room, cmd protocol.SendMessage) *models.Message {
	id := cmd.MessageID
	if id == "" {
		id = uuid.NewString()
	}
	senderName := cmd.PlayerID
	if m := room.Member(cmd.PlayerID); m != nil {
		senderName = m.Name
	}
	return &models.Message{
		ID:            id,
		RoomID:        room.ID,
		StoryID:       room.StoryID,
		SenderID:      cmd.PlayerID,
		SenderName:    senderName,
		RecipientID:   cmd.RecipientID,
		RecipientName: cmd.RecipientName,
		Type:          cmd.MessageType,
		Content:       cmd.Message,
		CreatedAt:     time.Now().UTC(),
	}
}

// handleGlobalMessage persists table talk, evaluates the generation
// triggers, and on a firing trigger appends AI output to the active
// chapter.
func (e *Engine) handleGlobalMessage(ctx context.Context, a *actor, room *models.Room, cmd protocol.SendMessage) (*protocol.MessageResult, error) {
	message := buildMessage(room, cmd)

	var (
		active   *models.Chapter
		generate bool
	)
	err := a.apply(ctx, func() error {
		if room.StoryID != "" {
			if ch, err := e.store.ActiveChapter(ctx, room.StoryID); err == nil {
				active = ch
				message.ChapterNumber = ch.Number
			} else if !errors.Is(err, store.ErrNotFound) {
				return err
			}
		}

		inserted, err := e.store.CreateMessage(ctx, message)
		if err != nil {
			return err
		}
		if !inserted {
			// Duplicate client id: already persisted and broadcast.
			message, err = e.store.GetMessage(ctx, message.ID)
			return err
		}

		a.messagesSinceAI++
		a.lastPlayerActivity = time.Now().UTC()
		_ = e.store.TouchPlayer(ctx, cmd.PlayerID, a.lastPlayerActivity)
		e.bus.Emit(bus.Room(room.ID), protocol.EventNewMessage,
			protocol.NewMessagePayload{Message: message})

		if active != nil && room.Status == models.RoomStatusPlaying {
			generate = e.shouldGenerate(ctx, a, room.StoryID, active, cmd.Message)
		}
		return nil
	})
	if err != nil {
		return nil, commandError("send_message", err)
	}

	result := &protocol.MessageResult{Message: message, Room: room}
	if !generate {
		return result, nil
	}

	updated, err := e.generateStoryAppend(ctx, a, room, active, cmd)
	if err != nil {
		// The player's message stands; the chapter just does not grow.
		slog.Warn("Story generation failed for global message",
			"room_id", room.ID, "error", err)
		return result, nil
	}
	result.Chapter = updated

	// A grown chapter may now satisfy the auto-progression policy.
	if updated != nil {
		e.maybeAutoAdvance(ctx, a, room, updated)
	}
	return result, nil
}

// generateStoryAppend runs the provider off the mailbox and reapplies
// the output onto the chapter observed earlier. A stale chapter makes
// the append a silent no-op.
func (e *Engine) generateStoryAppend(ctx context.Context, a *actor, room *models.Room, active *models.Chapter, cmd protocol.SendMessage) (*models.Chapter, error) {
	story, err := e.store.GetStory(ctx, room.StoryID)
	if err != nil {
		return nil, err
	}
	bundle, err := e.memory.GetRelevantMemories(ctx, story.ID, cmd.Message, continuationTokenBudget)
	if err != nil {
		return nil, err
	}
	recent, err := e.store.RecentGlobalMessages(ctx, story.ID, active.Number, recentMessageWindow)
	if err != nil {
		return nil, err
	}

	completion, err := e.queue.Submit(ctx, queue.Request{
		Label:    "story_continuation",
		Priority: queue.PriorityBackground,
		Call: func(ctx context.Context, p llm.Provider) (*llm.Completion, error) {
			return p.GenerateStory(ctx, continuationSystemPrompt(story),
				continuationUserPrompt(active, recent, bundle, cmd.Message))
		},
	})
	if err != nil {
		return nil, err
	}

	var updated *models.Chapter
	err = a.apply(ctx, func() error {
		err := e.store.AppendChapterContent(ctx, active.ID, completion.Content)
		if errors.Is(err, store.ErrStaleChapter) {
			slog.Info("Skipping append, chapter advanced during generation",
				"room_id", room.ID, "chapter_id", active.ID)
			return nil
		}
		if err != nil {
			return err
		}
		updated, err = e.store.GetChapter(ctx, active.ID)
		if err != nil {
			return err
		}

		if _, err := e.memory.Record(ctx, room.StoryID, cmd.PlayerID, cmd.Message, completion.Content); err != nil {
			return err
		}
		a.lastAIOutput = time.Now().UTC()
		a.messagesSinceAI = 0
		e.bus.Emit(bus.Room(room.ID), protocol.EventNewChapter,
			protocol.NewChapterPayload{Chapter: updated})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// maybeAutoAdvance runs the chapter trigger policy after an append and
// advances when a trigger fires.
func (e *Engine) maybeAutoAdvance(ctx context.Context, a *actor, room *models.Room, active *models.Chapter) {
	var reason string
	err := a.apply(ctx, func() error {
		r, err := e.chapters.CheckTriggers(ctx, room.StoryID, active, a.lastPlayerActivity)
		if err != nil {
			return err
		}
		reason = string(r)
		return nil
	})
	if err != nil {
		slog.Error("Trigger policy check failed", "room_id", room.ID, "error", err)
		return
	}
	if reason == "" {
		return
	}

	slog.Info("Auto-progression trigger fired",
		"room_id", room.ID, "chapter_id", active.ID, "reason", reason)
	if err := e.advanceStory(ctx, a, room.ID, active.ID); err != nil &&
		!errors.Is(err, store.ErrStaleChapter) {
		slog.Error("Auto-progression failed", "room_id", room.ID, "error", err)
	}
}

// handlePrivateMessage feeds the story-machine dialog: evaluate todos,
// reply, refresh progress, and advance when everyone is ready. A
// provider reported down fails the command before anything persists.
func (e *Engine) handlePrivateMessage(ctx context.Context, a *actor, room *models.Room, cmd protocol.SendMessage) (*protocol.MessageResult, error) {
	if health := e.availability.Check(ctx); !health.Available {
		return nil, commandError("send_message", llm.ErrUnavailable)
	}
	if room.StoryID == "" {
		return nil, protocol.NewError(protocol.CodeInvalidInput, "no story in this room")
	}
	active, err := e.store.ActiveChapter(ctx, room.StoryID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, protocol.NewError(protocol.CodeInvalidInput, "no active chapter")
		}
		return nil, commandError("send_message", err)
	}

	message := buildMessage(room, cmd)
	message.ChapterNumber = active.Number
	message.RecipientID = models.StoryMachineSenderID

	var duplicate bool
	err = a.apply(ctx, func() error {
		inserted, err := e.store.CreateMessage(ctx, message)
		if err != nil {
			return err
		}
		if !inserted {
			duplicate = true
			message, err = e.store.GetMessage(ctx, message.ID)
			return err
		}
		a.lastPlayerActivity = time.Now().UTC()
		_ = e.store.TouchPlayer(ctx, cmd.PlayerID, a.lastPlayerActivity)
		e.bus.Emit(bus.Player(room.ID, cmd.PlayerID), protocol.EventNewMessage,
			protocol.NewMessagePayload{Message: message})
		return nil
	})
	if err != nil {
		return nil, commandError("send_message", err)
	}

	result := &protocol.MessageResult{Message: message, Room: room}
	if duplicate {
		return result, nil
	}

	// Evaluation and reply run off the mailbox.
	todos, err := e.store.TodosForChapter(ctx, active.ID)
	if err != nil {
		return nil, commandError("send_message", err)
	}
	story, err := e.store.GetStory(ctx, room.StoryID)
	if err != nil {
		return nil, commandError("send_message", err)
	}

	verdicts, evalErr := e.evaluator.Evaluate(ctx, cmd.Message, todos, story)
	replyText, replyErr := e.storyMachineReply(ctx, story, active, todos, cmd.Message)
	if evalErr != nil || replyErr != nil {
		e.deliverStoryMachineFailure(ctx, a, room, story, active, cmd.PlayerID,
			errors.Join(evalErr, replyErr))
		return result, nil
	}

	var ready bool
	err = a.apply(ctx, func() error {
		if _, err := e.evaluator.Apply(ctx, active.ID, cmd.PlayerID, verdicts); err != nil {
			return err
		}

		reply := &models.Message{
			ID:            uuid.NewString(),
			RoomID:        room.ID,
			StoryID:       room.StoryID,
			SenderID:      models.StoryMachineSenderID,
			SenderName:    "Story Machine",
			RecipientID:   cmd.PlayerID,
			Type:          models.MessageTypeStoryMachine,
			Content:       replyText,
			ChapterNumber: active.Number,
			CreatedAt:     time.Now().UTC(),
		}
		if _, err := e.store.CreateMessage(ctx, reply); err != nil {
			return err
		}
		e.bus.Emit(bus.Player(room.ID, cmd.PlayerID), protocol.EventNewMessage,
			protocol.NewMessagePayload{Message: reply})
		e.emitProgress(ctx, room.ID, active.ID)

		rows, err := e.store.ProgressForChapter(ctx, active.ID)
		if err != nil {
			return err
		}
		ready = progressionReady(rows, e.config.Engine.ProgressionThreshold)
		return nil
	})
	if err != nil {
		return nil, commandError("send_message", err)
	}

	if ready {
		if err := e.advanceStory(ctx, a, room.ID, active.ID); err != nil &&
			!errors.Is(err, store.ErrStaleChapter) {
			slog.Error("Progression-driven advance failed",
				"room_id", room.ID, "chapter_id", active.ID, "error", err)
		}
	}
	return result, nil
}

// deliverStoryMachineFailure surfaces a provider failure as an error
// reply scoped to the sender only.
func (e *Engine) deliverStoryMachineFailure(ctx context.Context, a *actor, room *models.Room, story *models.Story, active *models.Chapter, playerID string, cause error) {
	slog.Warn("Story-machine exchange failed",
		"room_id", room.ID, "player_id", playerID, "error", cause)

	reply := &models.Message{
		ID:            uuid.NewString(),
		RoomID:        room.ID,
		StoryID:       story.ID,
		SenderID:      models.StoryMachineSenderID,
		SenderName:    "Story Machine",
		RecipientID:   playerID,
		Type:          models.MessageTypeStoryMachine,
		Content:       "The story machine could not process that just now. Please try again in a moment.",
		ChapterNumber: active.Number,
		CreatedAt:     time.Now().UTC(),
	}
	err := a.apply(ctx, func() error {
		if _, err := e.store.CreateMessage(ctx, reply); err != nil {
			return err
		}
		e.bus.Emit(bus.Player(room.ID, playerID), protocol.EventNewMessage,
			protocol.NewMessagePayload{Message: reply})
		e.bus.Emit(bus.Player(room.ID, playerID), protocol.EventError,
			protocol.ErrorPayload{
				Code:    protocol.CodeAIServiceError,
				Message: "story machine reply failed",
				Event:   protocol.EventNewMessage,
			})
		return nil
	})
	if err != nil {
		slog.Error("Failed to deliver story-machine error reply",
			"room_id", room.ID, "player_id", playerID, "error", err)
	}
}

// handleDirectMessage records a player-to-player message and fans it out
// to exactly the sender and recipient. No provider call, no memory
// update.
func (e *Engine) handleDirectMessage(ctx context.Context, a *actor, room *models.Room, cmd protocol.SendMessage) (*protocol.MessageResult, error) {
	if room.Member(cmd.RecipientID) == nil {
		return nil, protocol.NewError(protocol.CodeMissingRecipient, "recipient is not a member of this room")
	}
	message := buildMessage(room, cmd)
	if message.RecipientName == "" {
		if m := room.Member(cmd.RecipientID); m != nil {
			message.RecipientName = m.Name
		}
	}

	err := a.apply(ctx, func() error {
		inserted, err := e.store.CreateMessage(ctx, message)
		if err != nil {
			return err
		}
		if !inserted {
			message, err = e.store.GetMessage(ctx, message.ID)
			return err
		}
		a.lastPlayerActivity = time.Now().UTC()
		_ = e.store.TouchPlayer(ctx, cmd.PlayerID, a.lastPlayerActivity)

		payload := protocol.NewMessagePayload{Message: message}
		e.bus.Emit(bus.Player(room.ID, cmd.PlayerID), protocol.EventNewMessage, payload)
		e.bus.Emit(bus.Player(room.ID, cmd.RecipientID), protocol.EventNewMessage, payload)
		return nil
	})
	if err != nil {
		return nil, commandError("send_message", err)
	}
	return &protocol.MessageResult{Message: message, Room: room}, nil
}
