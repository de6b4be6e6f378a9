package protocol

import "github.com/parlorgames/parlor/pkg/models"

// MaxRoomNameLength bounds create_room names.
const MaxRoomNameLength = 50

// MaxMessageLength bounds send_message content.
const MaxMessageLength = 1000

// CreateRoom creates a room with the sender as host.
type CreateRoom struct {
	Name     string `json:"name"`
	PlayerID string `json:"player_id"`
	Username string `json:"username"`
}

// JoinRoom adds the sender to an existing room.
type JoinRoom struct {
	RoomID   string `json:"room_id"`
	PlayerID string `json:"player_id"`
	Username string `json:"username"`
}

// LeaveRoom removes the sender from the room. The last member leaving
// schedules the empty-room deletion timer.
type LeaveRoom struct {
	RoomID   string `json:"room_id"`
	PlayerID string `json:"player_id"`
}

// InitializeStory creates the story and generates chapter one. Host only.
type InitializeStory struct {
	RoomID     string `json:"room_id"`
	PlayerID   string `json:"player_id"`
	Title      string `json:"title"`
	Background string `json:"background"`
}

// SendMessage submits a chat message. MessageID is an optional
// client-chosen id used for idempotent resubmission.
type SendMessage struct {
	RoomID        string             `json:"room_id"`
	PlayerID      string             `json:"player_id"`
	MessageID     string             `json:"message_id,omitempty"`
	Message       string             `json:"message"`
	MessageType   models.MessageType `json:"message_type"`
	RecipientID   string             `json:"recipient_id,omitempty"`
	RecipientName string             `json:"recipient_name,omitempty"`
}

// GetMessages returns the sender-visible history for the room.
type GetMessages struct {
	RoomID   string `json:"room_id"`
	PlayerID string `json:"player_id"`
}

// GetRoomStatus returns the current room snapshot.
type GetRoomStatus struct {
	RoomID string `json:"room_id"`
}

// PauseRoom pauses a playing room. Host only.
type PauseRoom struct {
	RoomID   string `json:"room_id"`
	PlayerID string `json:"player_id"`
}

// ResumeRoom resumes a paused room. Host only.
type ResumeRoom struct {
	RoomID   string `json:"room_id"`
	PlayerID string `json:"player_id"`
}

// EndRoom ends the room. Host only.
type EndRoom struct {
	RoomID   string `json:"room_id"`
	PlayerID string `json:"player_id"`
}

// GetHistory returns a story's chapter history in the requested format:
// "structured" (the default), "markdown" or "text".
type GetHistory struct {
	StoryID string `json:"story_id"`
	Format  string `json:"format,omitempty"`
}

// RoomResult is the callback payload for room-shaped commands.
type RoomResult struct {
	Room *models.Room `json:"room"`
}

// MessageResult is the callback payload for send_message.
type MessageResult struct {
	Message *models.Message `json:"message"`
	Chapter *models.Chapter `json:"chapter,omitempty"`
	Room    *models.Room    `json:"room"`
}

// MessagesResult is the callback payload for get_messages.
type MessagesResult struct {
	Messages []*models.Message `json:"messages"`
}

// HistoryResult is the callback payload for get_history. Content carries
// the markdown or text rendering; structured requests fill Timeline.
type HistoryResult struct {
	StoryID  string                 `json:"story_id"`
	Format   string                 `json:"format"`
	Content  string                 `json:"content,omitempty"`
	Timeline []models.TimelineEntry `json:"timeline,omitempty"`
}
