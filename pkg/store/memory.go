package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/parlorgames/parlor/pkg/models"
)

// InsertInteraction appends one short-term memory item.
func (s *Store) InsertInteraction(ctx context.Context, it *models.Interaction) error {
	keywords, err := json.Marshal(it.Keywords)
	if err != nil {
		return fmt.Errorf("failed to encode keywords: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO interactions (interaction_id, story_id, player_id, input, response,
			importance, keywords, synthetic, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		it.ID, it.StoryID, it.PlayerID, it.Input, it.Response,
		it.Importance, string(keywords), boolInt(it.Synthetic), it.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to insert interaction: %w", err)
	}
	return nil
}

// ListInteractions returns a story's short-term buffer in insertion order.
func (s *Store) ListInteractions(ctx context.Context, storyID string) ([]*models.Interaction, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT interaction_id, story_id, player_id, input, response, importance,
			keywords, synthetic, created_at
		FROM interactions WHERE story_id = ? ORDER BY created_at ASC`, storyID)
	if err != nil {
		return nil, fmt.Errorf("failed to query interactions: %w", err)
	}
	defer rows.Close()

	var out []*models.Interaction
	for rows.Next() {
		var it models.Interaction
		var keywordsJSON string
		var synthetic int
		if err := rows.Scan(&it.ID, &it.StoryID, &it.PlayerID, &it.Input, &it.Response,
			&it.Importance, &keywordsJSON, &synthetic, &it.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan interaction: %w", err)
		}
		it.Synthetic = synthetic != 0
		if err := json.Unmarshal([]byte(keywordsJSON), &it.Keywords); err != nil {
			return nil, fmt.Errorf("failed to decode keywords: %w", err)
		}
		out = append(out, &it)
	}
	return out, rows.Err()
}

// ReplaceInteractions atomically swaps a story's short-term buffer for
// its compressed form.
func (s *Store) ReplaceInteractions(ctx context.Context, storyID string, kept []*models.Interaction) error {
	return s.WithTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM interactions WHERE story_id = ?`, storyID); err != nil {
			return fmt.Errorf("failed to clear interactions: %w", err)
		}
		for _, it := range kept {
			keywords, err := json.Marshal(it.Keywords)
			if err != nil {
				return fmt.Errorf("failed to encode keywords: %w", err)
			}
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO interactions (interaction_id, story_id, player_id, input, response,
					importance, keywords, synthetic, created_at)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				it.ID, it.StoryID, it.PlayerID, it.Input, it.Response,
				it.Importance, string(keywords), boolInt(it.Synthetic),
				it.CreatedAt.UTC()); err != nil {
				return fmt.Errorf("failed to insert interaction: %w", err)
			}
		}
		return nil
	})
}

// InsertKeyEvent records a long-term key event.
func (s *Store) InsertKeyEvent(ctx context.Context, ev *models.KeyEvent) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO memories (memory_id, story_id, kind, text, importance, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		ev.ID, ev.StoryID, models.MemoryKindKeyEvent, ev.Text, ev.Importance,
		ev.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to insert key event: %w", err)
	}
	return nil
}

// InsertRelation records a mined character relation.
func (s *Store) InsertRelation(ctx context.Context, rel *models.CharacterRelation) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO memories (memory_id, story_id, kind, text, importance, a, b, weight, evidence, created_at)
		VALUES (?, ?, ?, '', 1, ?, ?, ?, ?, ?)`,
		rel.ID, rel.StoryID, models.MemoryKindRelation, rel.A, rel.B,
		rel.Weight, rel.Evidence, rel.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to insert relation: %w", err)
	}
	return nil
}

// InsertNote records a theme or world-setting memory.
func (s *Store) InsertNote(ctx context.Context, storyID string, kind models.MemoryKind, id, text string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO memories (memory_id, story_id, kind, text, importance, created_at)
		VALUES (?, ?, ?, ?, 1, ?)`,
		id, storyID, kind, text, at.UTC())
	if err != nil {
		return fmt.Errorf("failed to insert memory note: %w", err)
	}
	return nil
}

// ListKeyEvents returns a story's key events, most important first.
func (s *Store) ListKeyEvents(ctx context.Context, storyID string) ([]*models.KeyEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT memory_id, story_id, text, importance, created_at
		FROM memories WHERE story_id = ? AND kind = ?
		ORDER BY importance DESC, created_at ASC`,
		storyID, models.MemoryKindKeyEvent)
	if err != nil {
		return nil, fmt.Errorf("failed to query key events: %w", err)
	}
	defer rows.Close()

	var out []*models.KeyEvent
	for rows.Next() {
		var ev models.KeyEvent
		if err := rows.Scan(&ev.ID, &ev.StoryID, &ev.Text, &ev.Importance, &ev.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan key event: %w", err)
		}
		out = append(out, &ev)
	}
	return out, rows.Err()
}

// CountKeyEventsSince counts key events recorded after a point in time.
// The chapter trigger policy uses this against the active chapter start.
func (s *Store) CountKeyEventsSince(ctx context.Context, storyID string, since time.Time) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM memories
		WHERE story_id = ? AND kind = ? AND created_at >= ?`,
		storyID, models.MemoryKindKeyEvent, since.UTC()).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count key events: %w", err)
	}
	return n, nil
}

// ListRelations returns a story's mined character relations.
func (s *Store) ListRelations(ctx context.Context, storyID string) ([]*models.CharacterRelation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT memory_id, story_id, COALESCE(a, ''), COALESCE(b, ''),
			COALESCE(weight, 0), COALESCE(evidence, ''), created_at
		FROM memories WHERE story_id = ? AND kind = ?
		ORDER BY created_at ASC`,
		storyID, models.MemoryKindRelation)
	if err != nil {
		return nil, fmt.Errorf("failed to query relations: %w", err)
	}
	defer rows.Close()

	var out []*models.CharacterRelation
	for rows.Next() {
		var rel models.CharacterRelation
		if err := rows.Scan(&rel.ID, &rel.StoryID, &rel.A, &rel.B,
			&rel.Weight, &rel.Evidence, &rel.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan relation: %w", err)
		}
		out = append(out, &rel)
	}
	return out, rows.Err()
}

// ListNotes returns theme or world-setting texts for a story.
func (s *Store) ListNotes(ctx context.Context, storyID string, kind models.MemoryKind) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT text FROM memories WHERE story_id = ? AND kind = ? ORDER BY created_at ASC`,
		storyID, kind)
	if err != nil {
		return nil, fmt.Errorf("failed to query memory notes: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var text string
		if err := rows.Scan(&text); err != nil {
			return nil, fmt.Errorf("failed to scan memory note: %w", err)
		}
		out = append(out, text)
	}
	return out, rows.Err()
}
