package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/parlorgames/parlor/pkg/models"
)

// InitializeStory atomically creates the story, its first chapter, the
// chapter's todo batch, and flips the room to playing. If anything
// fails the room returns to its prior no-story state.
func (s *Store) InitializeStory(ctx context.Context, story *models.Story, first *models.Chapter, todos []*models.Todo) error {
	if story.RoomID == "" {
		return NewValidationError("room_id", "required")
	}
	if story.Title == "" {
		return NewValidationError("title", "required")
	}
	unlock := s.LockStory(story.ID)
	defer unlock()

	return s.WithTx(ctx, func(tx *sql.Tx) error {
		now := time.Now().UTC()
		_, err := tx.ExecContext(ctx, `
			INSERT INTO stories (story_id, room_id, title, background, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?)`,
			story.ID, story.RoomID, story.Title, story.Background,
			story.CreatedAt.UTC(), story.UpdatedAt.UTC())
		if err != nil {
			if isUniqueViolation(err) {
				return ErrAlreadyExists
			}
			return fmt.Errorf("failed to create story: %w", err)
		}

		if err := insertChapter(ctx, tx, first); err != nil {
			return err
		}
		if err := insertTodos(ctx, tx, todos); err != nil {
			return err
		}

		_, err = tx.ExecContext(ctx, `
			UPDATE rooms SET story_id = ?, status = ?, updated_at = ? WHERE room_id = ?`,
			story.ID, models.RoomStatusPlaying, now, story.RoomID)
		if err != nil {
			return fmt.Errorf("failed to attach story to room: %w", err)
		}
		return nil
	})
}

// GetStory retrieves a story by id.
func (s *Store) GetStory(ctx context.Context, storyID string) (*models.Story, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT story_id, room_id, title, background, created_at, updated_at
		FROM stories WHERE story_id = ?`, storyID)

	var st models.Story
	err := row.Scan(&st.ID, &st.RoomID, &st.Title, &st.Background, &st.CreatedAt, &st.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan story: %w", err)
	}
	return &st, nil
}

// GetStoryByRoom retrieves the story owned by a room, if any.
func (s *Store) GetStoryByRoom(ctx context.Context, roomID string) (*models.Story, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT story_id, room_id, title, background, created_at, updated_at
		FROM stories WHERE room_id = ?`, roomID)

	var st models.Story
	err := row.Scan(&st.ID, &st.RoomID, &st.Title, &st.Background, &st.CreatedAt, &st.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan story: %w", err)
	}
	return &st, nil
}
