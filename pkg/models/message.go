package models

import "time"

// MessageType tags the message variant. The source system stored
// visibility alongside the type and kept the two in sync by hand; here
// visibility is derived from the type and never stored independently.
type MessageType string

// Message variants.
const (
	// MessageTypeGlobal is public table talk, visible to the whole room.
	MessageTypeGlobal MessageType = "global"
	// MessageTypePrivate is a player's reply into the story machine.
	MessageTypePrivate MessageType = "private"
	// MessageTypePlayerToPlayer is a direct message between two players.
	// The engine records it but never answers it.
	MessageTypePlayerToPlayer MessageType = "player_to_player"
	// MessageTypeStoryMachine is the AI side of the private dialog.
	MessageTypeStoryMachine MessageType = "story_machine"
	// MessageTypeChapter is narrative content broadcast as a message.
	MessageTypeChapter MessageType = "chapter"
)

// Visibility controls message fan-out and history filtering.
type Visibility string

// Visibility classes.
const (
	VisibilityGlobal  Visibility = "global"
	VisibilityPrivate Visibility = "private"
	VisibilityDirect  Visibility = "direct"
)

// StoryMachineSenderID is the synthetic sender id used for AI-authored
// story machine replies.
const StoryMachineSenderID = "story-machine"

// VisibilityOf derives the visibility class from a message type.
func VisibilityOf(t MessageType) Visibility {
	switch t {
	case MessageTypePrivate, MessageTypeStoryMachine:
		return VisibilityPrivate
	case MessageTypePlayerToPlayer:
		return VisibilityDirect
	default:
		return VisibilityGlobal
	}
}

// Message is an immutable chat record. RecipientID is set only for
// direct messages; ChapterNumber only for messages tied to a chapter.
type Message struct {
	ID            string      `json:"id"`
	RoomID        string      `json:"room_id"`
	StoryID       string      `json:"story_id,omitempty"`
	SenderID      string      `json:"sender_id"`
	SenderName    string      `json:"sender_name"`
	RecipientID   string      `json:"recipient_id,omitempty"`
	RecipientName string      `json:"recipient_name,omitempty"`
	Type          MessageType `json:"type"`
	Content       string      `json:"content"`
	ChapterNumber int         `json:"chapter_number,omitempty"`
	CreatedAt     time.Time   `json:"created_at"`
}

// Visibility returns the derived visibility class for this message.
func (m *Message) Visibility() Visibility {
	return VisibilityOf(m.Type)
}

// VisibleTo reports whether the given player may read this message.
func (m *Message) VisibleTo(playerID string) bool {
	switch m.Visibility() {
	case VisibilityGlobal:
		return true
	case VisibilityPrivate:
		// The story machine conversation is visible only to the player
		// side of the dialog.
		return m.SenderID == playerID || m.RecipientID == playerID
	case VisibilityDirect:
		return m.SenderID == playerID || m.RecipientID == playerID
	}
	return false
}
