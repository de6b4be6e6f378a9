package protocol

import "github.com/parlorgames/parlor/pkg/models"

// Outbound event names pushed over the egress bus.
const (
	EventRoomUpdated        = "room_updated"
	EventNewMessage         = "new_message"
	EventNewChapter         = "new_chapter"
	EventStoryInitialized   = "story_initialized"
	EventStoryMachineInit   = "story_machine_init"
	EventFeedbackProgress   = "feedback_progress_update"
	EventChapterReady       = "chapter_ready"
	EventPlayerLeft         = "player_left"
	EventError              = "error"
)

// RoomUpdatedPayload accompanies room_updated.
type RoomUpdatedPayload struct {
	Room *models.Room `json:"room"`
}

// NewMessagePayload accompanies new_message.
type NewMessagePayload struct {
	Message *models.Message `json:"message"`
}

// NewChapterPayload accompanies new_chapter and chapter_ready.
type NewChapterPayload struct {
	Chapter *models.Chapter `json:"chapter"`
}

// StoryInitializedPayload accompanies story_initialized.
type StoryInitializedPayload struct {
	Room    *models.Room    `json:"room"`
	Story   *models.Story   `json:"story"`
	Chapter *models.Chapter `json:"chapter"`
}

// StoryMachineInitPayload is delivered per-player when a chapter's
// private dialog channel opens.
type StoryMachineInitPayload struct {
	ChapterID string          `json:"chapter_id"`
	Opening   *models.Message `json:"opening"`
	Progress  *models.PlayerProgress `json:"progress"`
}

// FeedbackProgressPayload accompanies feedback_progress_update with the
// refreshed per-player rows for the active chapter.
type FeedbackProgressPayload struct {
	ChapterID string                   `json:"chapter_id"`
	Rows      []*models.PlayerProgress `json:"rows"`
}

// PlayerLeftPayload accompanies player_left.
type PlayerLeftPayload struct {
	RoomID   string `json:"room_id"`
	PlayerID string `json:"player_id"`
}

// ErrorPayload accompanies error events scoped to the affected session.
type ErrorPayload struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Event   string    `json:"event,omitempty"`
}
