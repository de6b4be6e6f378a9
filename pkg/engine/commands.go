package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/parlorgames/parlor/pkg/bus"
	"github.com/parlorgames/parlor/pkg/chapter"
	"github.com/parlorgames/parlor/pkg/models"
	"github.com/parlorgames/parlor/pkg/protocol"
)

// CreateRoom handles create_room: the sender becomes host of a fresh
// waiting room.
func (e *Engine) CreateRoom(ctx context.Context, cmd protocol.CreateRoom) (*protocol.RoomResult, error) {
	if cmd.Name == "" || cmd.PlayerID == "" || cmd.Username == "" {
		return nil, protocol.NewError(protocol.CodeMissingParameters, "name, player_id and username are required")
	}
	if len([]rune(cmd.Name)) > protocol.MaxRoomNameLength {
		return nil, protocol.NewError(protocol.CodeInvalidInput,
			fmt.Sprintf("room name exceeds %d characters", protocol.MaxRoomNameLength))
	}

	if _, err := e.store.EnsurePlayer(ctx, cmd.PlayerID, cmd.Username); err != nil {
		return nil, commandError("create_room", err)
	}

	now := time.Now().UTC()
	room := &models.Room{
		ID:           uuid.NewString(),
		Name:         cmd.Name,
		HostPlayerID: cmd.PlayerID,
		Status:       models.RoomStatusWaiting,
		Members: []models.RoomMember{
			{PlayerID: cmd.PlayerID, Name: cmd.Username, Role: models.RoleHost, JoinedAt: now},
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := e.store.CreateRoom(ctx, room); err != nil {
		return nil, commandError("create_room", err)
	}

	slog.Info("Room created", "room_id", room.ID, "host", cmd.PlayerID)
	return &protocol.RoomResult{Room: room}, nil
}

// JoinRoom handles join_room. A join cancels any pending empty-room
// deletion.
func (e *Engine) JoinRoom(ctx context.Context, cmd protocol.JoinRoom) (*protocol.RoomResult, error) {
	if cmd.RoomID == "" || cmd.PlayerID == "" || cmd.Username == "" {
		return nil, protocol.NewError(protocol.CodeMissingParameters, "room_id, player_id and username are required")
	}
	if _, err := e.store.EnsurePlayer(ctx, cmd.PlayerID, cmd.Username); err != nil {
		return nil, commandError("join_room", err)
	}

	a, err := e.actorFor(cmd.RoomID)
	if err != nil {
		return nil, commandError("join_room", err)
	}

	var room *models.Room
	err = a.apply(ctx, func() error {
		var err error
		room, err = e.store.GetRoom(ctx, cmd.RoomID)
		if err != nil {
			return err
		}
		if room.Status == models.RoomStatusEnded {
			return protocol.NewError(protocol.CodeRoomNotFound, "room has ended")
		}
		if err := e.store.AddRoomMember(ctx, cmd.RoomID, cmd.PlayerID, models.RolePlayer, time.Now().UTC()); err != nil {
			return err
		}
		e.cancelDeleteTimer(a)
		room, err = e.store.GetRoom(ctx, cmd.RoomID)
		return err
	})
	if err != nil {
		return nil, commandError("join_room", err)
	}

	e.bus.Emit(bus.Room(cmd.RoomID), protocol.EventRoomUpdated, protocol.RoomUpdatedPayload{Room: room})
	return &protocol.RoomResult{Room: room}, nil
}

// LeaveRoom handles leave_room. The last member out schedules the
// empty-room deletion timer.
func (e *Engine) LeaveRoom(ctx context.Context, cmd protocol.LeaveRoom) (*protocol.RoomResult, error) {
	if cmd.RoomID == "" || cmd.PlayerID == "" {
		return nil, protocol.NewError(protocol.CodeMissingParameters, "room_id and player_id are required")
	}
	a, err := e.actorFor(cmd.RoomID)
	if err != nil {
		return nil, commandError("leave_room", err)
	}

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
		now := time.Now().UTC()
		if err := e.store.RemoveRoomMember(ctx, cmd.RoomID, cmd.PlayerID, now); err != nil {
			return err
		}

		e.bus.Emit(bus.RoomExcept(cmd.RoomID, cmd.PlayerID), protocol.EventPlayerLeft,
			protocol.PlayerLeftPayload{RoomID: cmd.RoomID, PlayerID: cmd.PlayerID})

		count, err := e.store.MemberCount(ctx, cmd.RoomID)
		if err != nil {
			return err
		}
		if count == 0 {
			e.scheduleRoomDeletion(a)
		} else {
			room, err = e.store.GetRoom(ctx, cmd.RoomID)
			if err != nil {
				return err
			}
			e.bus.Emit(bus.Room(cmd.RoomID), protocol.EventRoomUpdated,
				protocol.RoomUpdatedPayload{Room: room})
		}
		return nil
	})
	if err != nil {
		return nil, commandError("leave_room", err)
	}
	return &protocol.RoomResult{Room: room}, nil
}

// InitializeStory handles initialize_story: host only, one story per
// room lifecycle. Chapter one is generated before anything is written,
// so a provider failure leaves the room untouched in waiting.
func (e *Engine) InitializeStory(ctx context.Context, cmd protocol.InitializeStory) (*protocol.RoomResult, error) {
	if cmd.RoomID == "" || cmd.PlayerID == "" || cmd.Title == "" {
		return nil, protocol.NewError(protocol.CodeMissingParameters, "room_id, player_id and title are required")
	}
	a, err := e.actorFor(cmd.RoomID)
	if err != nil {
		return nil, commandError("initialize_story", err)
	}

	// Pre-read under the mailbox: authorization and story-absence.
	var room *models.Room
	err = a.apply(ctx, func() error {
		var err error
		room, err = e.store.GetRoom(ctx, cmd.RoomID)
		if err != nil {
			return err
		}
		if !room.IsHost(cmd.PlayerID) {
			return protocol.NewError(protocol.CodePermissionDenied, "only the host may initialize the story")
		}
		if room.StoryID != "" {
			return protocol.NewError(protocol.CodeInvalidInput, "story already initialized")
		}
		if room.Status != models.RoomStatusWaiting {
			return protocol.NewError(protocol.CodeInvalidInput, "room is not waiting for a story")
		}
		return nil
	})
	if err != nil {
		return nil, commandError("initialize_story", err)
	}

	// Generation happens off the mailbox. Nothing has been persisted, so
	// a failure here is a clean rollback to the waiting room.
	now := time.Now().UTC()
	story := &models.Story{
		ID:         uuid.NewString(),
		RoomID:     cmd.RoomID,
		Title:      cmd.Title,
		Background: cmd.Background,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	first, todos, err := e.chapters.GenerateFirst(ctx, story)
	if err != nil {
		slog.Warn("Story initialization failed, room stays waiting",
			"room_id", cmd.RoomID, "error", err)
		return nil, commandError("initialize_story", err)
	}

	// Reapply: the room may have gained a story during the gap.
	err = a.apply(ctx, func() error {
		current, err := e.store.GetRoom(ctx, cmd.RoomID)
		if err != nil {
			return err
		}
		if current.StoryID != "" {
			return protocol.NewError(protocol.CodeInvalidInput, "story already initialized")
		}
		if err := e.store.InitializeStory(ctx, story, first, todos); err != nil {
			return err
		}
		room, err = e.store.GetRoom(ctx, cmd.RoomID)
		if err != nil {
			return err
		}

		e.bus.Emit(bus.Room(cmd.RoomID), protocol.EventStoryInitialized,
			protocol.StoryInitializedPayload{Room: room, Story: story, Chapter: first})
		e.bus.Emit(bus.Room(cmd.RoomID), protocol.EventNewChapter,
			protocol.NewChapterPayload{Chapter: first})
		a.lastAIOutput = time.Now().UTC()
		a.messagesSinceAI = 0
		return nil
	})
	if err != nil {
		return nil, commandError("initialize_story", err)
	}

	if err := e.memory.SeedStoryNotes(ctx, story); err != nil {
		slog.Warn("Failed to seed story memory notes",
			"room_id", cmd.RoomID, "story_id", story.ID, "error", err)
	}

	// Story-machine bootstrap: per-player openings, progress rows,
	// feedback timer, private init events.
	if err := e.bootstrapChapter(ctx, a, room, story, first, todos); err != nil {
		return nil, commandError("initialize_story", err)
	}

	slog.Info("Story initialized",
		"room_id", cmd.RoomID, "story_id", story.ID, "todos", len(todos))
	return &protocol.RoomResult{Room: room}, nil
}

// GetMessages handles get_messages: the sender-visible history.
func (e *Engine) GetMessages(ctx context.Context, cmd protocol.GetMessages) (*protocol.MessagesResult, error) {
	if cmd.RoomID == "" || cmd.PlayerID == "" {
		return nil, protocol.NewError(protocol.CodeMissingParameters, "room_id and player_id are required")
	}
	room, err := e.store.GetRoom(ctx, cmd.RoomID)
	if err != nil {
		return nil, commandError("get_messages", err)
	}
	if room.Member(cmd.PlayerID) == nil {
		return nil, protocol.NewError(protocol.CodeNotInRoom, "player is not a member of this room")
	}
	messages, err := e.store.MessagesVisibleTo(ctx, cmd.RoomID, cmd.PlayerID)
	if err != nil {
		return nil, commandError("get_messages", err)
	}
	return &protocol.MessagesResult{Messages: messages}, nil
}

// GetHistory handles get_history: the story's chapter history rendered
// in the requested export format, structured by default.
func (e *Engine) GetHistory(ctx context.Context, cmd protocol.GetHistory) (*protocol.HistoryResult, error) {
	if cmd.StoryID == "" {
		return nil, protocol.NewError(protocol.CodeMissingParameters, "story_id is required")
	}
	if _, err := e.store.GetStory(ctx, cmd.StoryID); err != nil {
		return nil, commandError("get_history", err)
	}

	format := cmd.Format
	if format == "" {
		format = string(chapter.ExportStructured)
	}
	h, err := e.chapters.History(ctx, cmd.StoryID)
	if err != nil {
		return nil, commandError("get_history", err)
	}
	content, timeline, err := h.Export(chapter.ExportFormat(format))
	if err != nil {
		return nil, protocol.NewError(protocol.CodeInvalidInput, err.Error())
	}
	return &protocol.HistoryResult{
		StoryID:  cmd.StoryID,
		Format:   format,
		Content:  content,
		Timeline: timeline,
	}, nil
}

// GetRoomStatus handles get_room_status.
func (e *Engine) GetRoomStatus(ctx context.Context, cmd protocol.GetRoomStatus) (*protocol.RoomResult, error) {
	if cmd.RoomID == "" {
		return nil, protocol.NewError(protocol.CodeMissingParameters, "room_id is required")
	}
	room, err := e.store.GetRoom(ctx, cmd.RoomID)
	if err != nil {
		return nil, commandError("get_room_status", err)
	}
	return &protocol.RoomResult{Room: room}, nil
}

// PauseRoom handles pause_room. Host only.
func (e *Engine) PauseRoom(ctx context.Context, cmd protocol.PauseRoom) (*protocol.RoomResult, error) {
	return e.transitionRoom(ctx, "pause_room", cmd.RoomID, cmd.PlayerID, models.RoomStatusPaused)
}

// ResumeRoom handles resume_room. Host only.
func (e *Engine) ResumeRoom(ctx context.Context, cmd protocol.ResumeRoom) (*protocol.RoomResult, error) {
	return e.transitionRoom(ctx, "resume_room", cmd.RoomID, cmd.PlayerID, models.RoomStatusPlaying)
}

// EndRoom handles end_room. Host only. The room stays persisted in the
// ended state until the retention sweeper purges it.
func (e *Engine) EndRoom(ctx context.Context, cmd protocol.EndRoom) (*protocol.RoomResult, error) {
	result, err := e.transitionRoom(ctx, "end_room", cmd.RoomID, cmd.PlayerID, models.RoomStatusEnded)
	if err != nil {
		return nil, err
	}
	e.dropActor(cmd.RoomID)

	if result.Room.StoryID != "" {
		transcript, err := e.store.AllMessagesForStory(ctx, result.Room.StoryID)
		if err == nil {
			slog.Info("Room ended",
				"room_id", cmd.RoomID, "story_id", result.Room.StoryID,
				"messages", len(transcript))
		}
	}
	return result, nil
}

func (e *Engine) transitionRoom(ctx context.Context, op, roomID, playerID string, next models.RoomStatus) (*protocol.RoomResult, error) {
	if roomID == "" || playerID == "" {
		return nil, protocol.NewError(protocol.CodeMissingParameters, "room_id and player_id are required")
	}
	a, err := e.actorFor(roomID)
	if err != nil {
		return nil, commandError(op, err)
	}

	var room *models.Room
	err = a.apply(ctx, func() error {
		var err error
		room, err = e.store.GetRoom(ctx, roomID)
		if err != nil {
			return err
		}
		if !room.IsHost(playerID) {
			return protocol.NewError(protocol.CodePermissionDenied, "host only")
		}
		if !room.CanTransition(next) {
			return protocol.NewError(protocol.CodeInvalidInput,
				fmt.Sprintf("cannot move room from %s to %s", room.Status, next))
		}
		if err := e.store.UpdateRoomStatus(ctx, roomID, next, time.Now().UTC()); err != nil {
			return err
		}
		room.Status = next
		e.bus.Emit(bus.Room(roomID), protocol.EventRoomUpdated,
			protocol.RoomUpdatedPayload{Room: room})
		return nil
	})
	if err != nil {
		return nil, commandError(op, err)
	}
	return &protocol.RoomResult{Room: room}, nil
}
