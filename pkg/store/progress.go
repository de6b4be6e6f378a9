package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/parlorgames/parlor/pkg/models"
)

// CreateProgressRows writes one PlayerProgress row per room member for a
// freshly activated chapter. Existing rows are left alone so activation
// retries stay idempotent.
func (s *Store) CreateProgressRows(ctx context.Context, rows []*models.PlayerProgress) error {
	return s.WithTx(ctx, func(tx *sql.Tx) error {
		for _, p := range rows {
			_, err := tx.ExecContext(ctx, `
				INSERT INTO player_feedback_progress
					(chapter_id, player_id, completed_todos, total_todos, completion_rate,
					 timeout_at, forced_complete, updated_at)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?)
				ON CONFLICT(chapter_id, player_id) DO NOTHING`,
				p.ChapterID, p.PlayerID, p.CompletedTodos, p.TotalTodos, p.CompletionRate,
				p.TimeoutAt.UTC(), boolInt(p.ForcedComplete), p.UpdatedAt.UTC())
			if err != nil {
				return fmt.Errorf("failed to insert progress row: %w", err)
			}
		}
		return nil
	})
}

// ProgressForChapter returns every progress row for a chapter.
func (s *Store) ProgressForChapter(ctx context.Context, chapterID string) ([]*models.PlayerProgress, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT chapter_id, player_id, completed_todos, total_todos, completion_rate,
			timeout_at, forced_complete, updated_at
		FROM player_feedback_progress
		WHERE chapter_id = ?
		ORDER BY player_id ASC`, chapterID)
	if err != nil {
		return nil, fmt.Errorf("failed to query progress: %w", err)
	}
	defer rows.Close()

	var out []*models.PlayerProgress
	for rows.Next() {
		var p models.PlayerProgress
		var forced int
		if err := rows.Scan(&p.ChapterID, &p.PlayerID, &p.CompletedTodos, &p.TotalTodos,
			&p.CompletionRate, &p.TimeoutAt, &forced, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan progress row: %w", err)
		}
		p.ForcedComplete = forced != 0
		out = append(out, &p)
	}
	return out, rows.Err()
}

// UpdateProgress refreshes one player's completion bookkeeping.
func (s *Store) UpdateProgress(ctx context.Context, p *models.PlayerProgress) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE player_feedback_progress
		SET completed_todos = ?, total_todos = ?, completion_rate = ?, updated_at = ?
		WHERE chapter_id = ? AND player_id = ?`,
		p.CompletedTodos, p.TotalTodos, p.CompletionRate, time.Now().UTC(),
		p.ChapterID, p.PlayerID)
	if err != nil {
		return fmt.Errorf("failed to update progress: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkTimeoutPlayersComplete force-completes every progress row of a
// chapter whose timeout has expired and is not yet complete. Returns the
// number of rows forced, so the caller knows whether a transition is due.
func (s *Store) MarkTimeoutPlayersComplete(ctx context.Context, chapterID string, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE player_feedback_progress
		SET completed_todos = total_todos, completion_rate = 1.0,
			forced_complete = 1, updated_at = ?
		WHERE chapter_id = ? AND timeout_at <= ? AND completion_rate < 1.0`,
		now.UTC(), chapterID, now.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to force-complete timed out players: %w", err)
	}
	return res.RowsAffected()
}
