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

// CreateRoom persists a new room with its host membership in one
// transaction.
func (s *Store) CreateRoom(ctx context.Context, room *models.Room) error {
	if room.ID == "" {
		return NewValidationError("room_id", "required")
	}
	if room.Name == "" {
		return NewValidationError("name", "required")
	}
	if room.HostPlayerID == "" {
		return NewValidationError("host_player_id", "required")
	}

	return s.WithTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO rooms (room_id, name, host_player_id, status, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?)`,
			room.ID, room.Name, room.HostPlayerID, room.Status,
			room.CreatedAt.UTC(), room.UpdatedAt.UTC())
		if err != nil {
			if isUniqueViolation(err) {
				return ErrAlreadyExists
			}
			return fmt.Errorf("failed to create room: %w", err)
		}
		for _, m := range room.Members {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO room_players (room_id, player_id, role, joined_at)
				VALUES (?, ?, ?, ?)`,
				room.ID, m.PlayerID, m.Role, m.JoinedAt.UTC()); err != nil {
				return fmt.Errorf("failed to add room member: %w", err)
			}
		}
		return nil
	})
}

// GetRoom retrieves a room with its ordered member list.
func (s *Store) GetRoom(ctx context.Context, roomID string) (*models.Room, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT room_id, name, host_player_id, status, COALESCE(story_id, ''), created_at, updated_at
		FROM rooms WHERE room_id = ?`, roomID)

	var r models.Room
	err := row.Scan(&r.ID, &r.Name, &r.HostPlayerID, &r.Status, &r.StoryID,
		&r.CreatedAt, &r.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan room: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT rp.player_id, p.name, rp.role, rp.joined_at
		FROM room_players rp
		JOIN players p ON p.player_id = rp.player_id
		WHERE rp.room_id = ?
		ORDER BY rp.joined_at ASC`, roomID)
	if err != nil {
		return nil, fmt.Errorf("failed to query room members: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var m models.RoomMember
		if err := rows.Scan(&m.PlayerID, &m.Name, &m.Role, &m.JoinedAt); err != nil {
			return nil, fmt.Errorf("failed to scan room member: %w", err)
		}
		r.Members = append(r.Members, m)
	}
	return &r, rows.Err()
}

// AddRoomMember inserts a membership row; joining twice is a no-op.
func (s *Store) AddRoomMember(ctx context.Context, roomID, playerID string, role models.MemberRole, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO room_players (room_id, player_id, role, joined_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(room_id, player_id) DO NOTHING`,
		roomID, playerID, role, at.UTC())
	if err != nil {
		return fmt.Errorf("failed to add room member: %w", err)
	}
	return s.touchRoom(ctx, roomID, at)
}

// RemoveRoomMember deletes a membership row.
func (s *Store) RemoveRoomMember(ctx context.Context, roomID, playerID string, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM room_players WHERE room_id = ? AND player_id = ?`, roomID, playerID)
	if err != nil {
		return fmt.Errorf("failed to remove room member: %w", err)
	}
	return s.touchRoom(ctx, roomID, at)
}

// UpdateRoomStatus writes the room lifecycle state.
func (s *Store) UpdateRoomStatus(ctx context.Context, roomID string, status models.RoomStatus, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE rooms SET status = ?, updated_at = ? WHERE room_id = ?`,
		status, at.UTC(), roomID)
	if err != nil {
		return fmt.Errorf("failed to update room status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteRoom removes the room and, via FK cascades, its memberships,
// story, chapters, todos, progress rows, messages, and memories.
func (s *Store) DeleteRoom(ctx context.Context, roomID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM rooms WHERE room_id = ?`, roomID)
	if err != nil {
		return fmt.Errorf("failed to delete room: %w", err)
	}
	return nil
}

// PurgeEndedRoomsBefore deletes ended rooms whose last update is older
// than the cutoff. Returns the number of rooms purged.
func (s *Store) PurgeEndedRoomsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM rooms WHERE status = ? AND updated_at < ?`,
		models.RoomStatusEnded, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to purge ended rooms: %w", err)
	}
	return res.RowsAffected()
}

// MemberCount returns the current number of members in a room.
func (s *Store) MemberCount(ctx context.Context, roomID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM room_players WHERE room_id = ?`, roomID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count room members: %w", err)
	}
	return n, nil
}

func (s *Store) touchRoom(ctx context.Context, roomID string, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE rooms SET updated_at = ? WHERE room_id = ?`, at.UTC(), roomID)
	if err != nil {
		return fmt.Errorf("failed to touch room: %w", err)
	}
	return nil
}

// isUniqueViolation detects SQLite unique constraint failures without
// importing driver internals.
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
