package store

import (
	"context"
	"fmt"

	"github.com/parlorgames/parlor/pkg/models"
)

// TodosForChapter returns the chapter's todo list ordered by priority
// (highest first) then creation order.
func (s *Store) TodosForChapter(ctx context.Context, chapterID string) ([]*models.Todo, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT todo_id, chapter_id, content, COALESCE(expected_answer, ''), priority, status,
			COALESCE(completed_by, ''), created_at
		FROM chapter_todos
		WHERE chapter_id = ?
		ORDER BY priority DESC, created_at ASC`, chapterID)
	if err != nil {
		return nil, fmt.Errorf("failed to query todos: %w", err)
	}
	defer rows.Close()

	var todos []*models.Todo
	for rows.Next() {
		var t models.Todo
		if err := rows.Scan(&t.ID, &t.ChapterID, &t.Content, &t.ExpectedAnswer,
			&t.Priority, &t.Status, &t.CompletedBy, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan todo: %w", err)
		}
		todos = append(todos, &t)
	}
	return todos, rows.Err()
}

// CompleteTodo marks a todo completed and records which player's
// evaluation completed it. The transition is monotone and idempotent:
// completing an already-completed todo changes nothing, so the first
// completer keeps the attribution. The bool return reports whether this
// call performed the transition.
func (s *Store) CompleteTodo(ctx context.Context, todoID, playerID string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE chapter_todos SET status = ?, completed_by = ?
		WHERE todo_id = ? AND status = ?`,
		models.TodoStatusCompleted, playerID, todoID, models.TodoStatusPending)
	if err != nil {
		return false, fmt.Errorf("failed to complete todo: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read todo update result: %w", err)
	}
	return n > 0, nil
}

// insertTodos writes a chapter's todo batch inside an open transaction.
func insertTodos(ctx context.Context, q querier, todos []*models.Todo) error {
	for _, t := range todos {
		var expected any
		if t.ExpectedAnswer != "" {
			expected = t.ExpectedAnswer
		}
		_, err := q.ExecContext(ctx, `
			INSERT INTO chapter_todos (todo_id, chapter_id, content, expected_answer, priority, status, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			t.ID, t.ChapterID, t.Content, expected, t.Priority, t.Status, t.CreatedAt.UTC())
		if err != nil {
			return fmt.Errorf("failed to insert todo: %w", err)
		}
	}
	return nil
}
