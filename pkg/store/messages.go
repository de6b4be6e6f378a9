package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/parlorgames/parlor/pkg/models"
)

const messageColumns = `message_id, room_id, COALESCE(story_id, ''), sender_id, sender_name,
	COALESCE(recipient_id, ''), COALESCE(recipient_name, ''), type, content,
	COALESCE(chapter_number, 0), created_at`

// CreateMessage persists a message. Messages are immutable once written.
// Resubmitting the same message id is a no-op; the bool return reports
// whether a new row was inserted, so the engine broadcasts at most once.
func (s *Store) CreateMessage(ctx context.Context, m *models.Message) (bool, error) {
	if m.ID == "" {
		return false, NewValidationError("message_id", "required")
	}
	if m.RoomID == "" {
		return false, NewValidationError("room_id", "required")
	}
	if m.Content == "" {
		return false, NewValidationError("content", "required")
	}

	var storyID, recipientID, recipientName, chapterNumber any
	if m.StoryID != "" {
		storyID = m.StoryID
	}
	if m.RecipientID != "" {
		recipientID = m.RecipientID
	}
	if m.RecipientName != "" {
		recipientName = m.RecipientName
	}
	if m.ChapterNumber > 0 {
		chapterNumber = m.ChapterNumber
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO messages (message_id, room_id, story_id, sender_id, sender_name,
			recipient_id, recipient_name, type, content, chapter_number, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(message_id) DO NOTHING`,
		m.ID, m.RoomID, storyID, m.SenderID, m.SenderName,
		recipientID, recipientName, m.Type, m.Content, chapterNumber, m.CreatedAt.UTC())
	if err != nil {
		return false, fmt.Errorf("failed to create message: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read insert result: %w", err)
	}
	return n > 0, nil
}

// GetMessage retrieves one message by id.
func (s *Store) GetMessage(ctx context.Context, messageID string) (*models.Message, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+messageColumns+` FROM messages WHERE message_id = ?`, messageID)
	var m models.Message
	err := row.Scan(&m.ID, &m.RoomID, &m.StoryID, &m.SenderID, &m.SenderName,
		&m.RecipientID, &m.RecipientName, &m.Type, &m.Content, &m.ChapterNumber, &m.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan message: %w", err)
	}
	return &m, nil
}

// RecentGlobalMessages returns the latest global messages for the
// active chapter, newest last.
func (s *Store) RecentGlobalMessages(ctx context.Context, storyID string, chapterNumber, limit int) ([]*models.Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+messageColumns+` FROM (
			SELECT `+messageColumns+` FROM messages
			WHERE story_id = ? AND type = ? AND chapter_number = ?
			ORDER BY created_at DESC LIMIT ?
		) ORDER BY created_at ASC`,
		storyID, models.MessageTypeGlobal, chapterNumber, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent global messages: %w", err)
	}
	return collectMessages(rows)
}

// AllMessagesForStory returns every message bound to a story in
// chronological order.
func (s *Store) AllMessagesForStory(ctx context.Context, storyID string) ([]*models.Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+messageColumns+` FROM messages WHERE story_id = ? ORDER BY created_at ASC`,
		storyID)
	if err != nil {
		return nil, fmt.Errorf("failed to query story messages: %w", err)
	}
	return collectMessages(rows)
}

// MessagesVisibleTo returns the room history a player may read: all
// global messages plus private/direct traffic the player participates
// in, chronological.
func (s *Store) MessagesVisibleTo(ctx context.Context, roomID, playerID string) ([]*models.Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+messageColumns+` FROM messages
		WHERE room_id = ?
		  AND (type IN (?, ?) OR sender_id = ? OR recipient_id = ?)
		ORDER BY created_at ASC`,
		roomID, models.MessageTypeGlobal, models.MessageTypeChapter, playerID, playerID)
	if err != nil {
		return nil, fmt.Errorf("failed to query visible messages: %w", err)
	}
	return collectMessages(rows)
}

// CountGlobalSince counts global chapter messages created after the
// given message id's timestamp (exclusive). Used by trigger rules.
func (s *Store) CountGlobalMessages(ctx context.Context, storyID string, chapterNumber int) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM messages
		WHERE story_id = ? AND type = ? AND chapter_number = ?`,
		storyID, models.MessageTypeGlobal, chapterNumber).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count global messages: %w", err)
	}
	return n, nil
}

func collectMessages(rows *sql.Rows) ([]*models.Message, error) {
	defer rows.Close()
	var out []*models.Message
	for rows.Next() {
		var m models.Message
		if err := rows.Scan(&m.ID, &m.RoomID, &m.StoryID, &m.SenderID, &m.SenderName,
			&m.RecipientID, &m.RecipientName, &m.Type, &m.Content,
			&m.ChapterNumber, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		out = append(out, &m)
	}
	return out, rows.Err()
}
