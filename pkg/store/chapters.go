package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/parlorgames/parlor/pkg/models"
)

const chapterColumns = `chapter_id, story_id, number, content, COALESCE(summary, ''),
	COALESCE(author_id, ''), status, start_time, end_time, word_count`

// GetChapter retrieves a chapter by id.
func (s *Store) GetChapter(ctx context.Context, chapterID string) (*models.Chapter, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+chapterColumns+` FROM chapters WHERE chapter_id = ?`, chapterID)
	return scanChapter(row)
}

// ActiveChapter returns the single active chapter of a story.
func (s *Store) ActiveChapter(ctx context.Context, storyID string) (*models.Chapter, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+chapterColumns+` FROM chapters WHERE story_id = ? AND status = ?`,
		storyID, models.ChapterStatusActive)
	return scanChapter(row)
}

// ListChapters returns every chapter of a story ordered by number.
func (s *Store) ListChapters(ctx context.Context, storyID string) ([]*models.Chapter, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+chapterColumns+` FROM chapters WHERE story_id = ? ORDER BY number ASC`,
		storyID)
	if err != nil {
		return nil, fmt.Errorf("failed to query chapters: %w", err)
	}
	defer rows.Close()

	var chapters []*models.Chapter
	for rows.Next() {
		ch, err := scanChapterRows(rows)
		if err != nil {
			return nil, err
		}
		chapters = append(chapters, ch)
	}
	return chapters, rows.Err()
}

// AppendChapterContent concatenates generated output onto a chapter with
// a separator and recomputes the word count from the grown content, so
// concurrent appends always leave a cumulative count. The guard on
// chapter id and active status makes the append a no-op if the story
// advanced meanwhile.
func (s *Store) AppendChapterContent(ctx context.Context, chapterID, addition string) error {
	return s.WithTx(ctx, func(tx *sql.Tx) error {
		var content string
		err := tx.QueryRowContext(ctx,
			`SELECT content FROM chapters WHERE chapter_id = ? AND status = ?`,
			chapterID, models.ChapterStatusActive).Scan(&content)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrStaleChapter
		}
		if err != nil {
			return fmt.Errorf("failed to read chapter content: %w", err)
		}

		grown := content + "\n\n" + addition
		res, err := tx.ExecContext(ctx, `
			UPDATE chapters
			SET content = ?, word_count = ?
			WHERE chapter_id = ? AND status = ?`,
			grown, len(strings.Fields(grown)), chapterID, models.ChapterStatusActive)
		if err != nil {
			return fmt.Errorf("failed to append chapter content: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrStaleChapter
		}
		return nil
	})
}

// AdvanceChapter atomically completes the current chapter and activates
// its successor with the successor's todo batch.
//
// The update is a compare-and-set on the active chapter id: if another
// writer already advanced the story, nothing is written and
// ErrStaleChapter is returned.
func (s *Store) AdvanceChapter(ctx context.Context, prev *models.Chapter, next *models.Chapter, todos []*models.Todo) error {
	unlock := s.LockStory(prev.StoryID)
	defer unlock()

	return s.WithTx(ctx, func(tx *sql.Tx) error {
		now := time.Now().UTC()
		res, err := tx.ExecContext(ctx, `
			UPDATE chapters
			SET status = ?, summary = ?, content = ?, end_time = ?, word_count = ?
			WHERE chapter_id = ? AND status = ?`,
			models.ChapterStatusCompleted, prev.Summary, prev.Content, now,
			prev.WordCount, prev.ID, models.ChapterStatusActive)
		if err != nil {
			return fmt.Errorf("failed to complete chapter: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrStaleChapter
		}

		if err := insertChapter(ctx, tx, next); err != nil {
			return err
		}
		if err := insertTodos(ctx, tx, todos); err != nil {
			return err
		}

		_, err = tx.ExecContext(ctx,
			`UPDATE stories SET updated_at = ? WHERE story_id = ?`, now, prev.StoryID)
		if err != nil {
			return fmt.Errorf("failed to touch story: %w", err)
		}
		return nil
	})
}

func insertChapter(ctx context.Context, q querier, ch *models.Chapter) error {
	var authorID any
	if ch.AuthorID != "" {
		authorID = ch.AuthorID
	}
	_, err := q.ExecContext(ctx, `
		INSERT INTO chapters (chapter_id, story_id, number, content, summary, author_id,
			status, start_time, end_time, word_count)
		VALUES (?, ?, ?, ?, NULL, ?, ?, ?, NULL, ?)`,
		ch.ID, ch.StoryID, ch.Number, ch.Content, authorID,
		ch.Status, ch.StartTime.UTC(), ch.WordCount)
	if err != nil {
		return fmt.Errorf("failed to insert chapter: %w", err)
	}
	return nil
}

func scanChapter(row *sql.Row) (*models.Chapter, error) {
	var ch models.Chapter
	var endTime sql.NullTime
	err := row.Scan(&ch.ID, &ch.StoryID, &ch.Number, &ch.Content, &ch.Summary,
		&ch.AuthorID, &ch.Status, &ch.StartTime, &endTime, &ch.WordCount)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan chapter: %w", err)
	}
	if endTime.Valid {
		t := endTime.Time
		ch.EndTime = &t
	}
	return &ch, nil
}

func scanChapterRows(rows *sql.Rows) (*models.Chapter, error) {
	var ch models.Chapter
	var endTime sql.NullTime
	err := rows.Scan(&ch.ID, &ch.StoryID, &ch.Number, &ch.Content, &ch.Summary,
		&ch.AuthorID, &ch.Status, &ch.StartTime, &endTime, &ch.WordCount)
	if err != nil {
		return nil, fmt.Errorf("failed to scan chapter: %w", err)
	}
	if endTime.Valid {
		t := endTime.Time
		ch.EndTime = &t
	}
	return &ch, nil
}
