package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/parlorgames/parlor/pkg/models"
)

// EnsurePlayer creates the player on first appearance or refreshes the
// name and activity of an existing one. Players are shared across rooms.
func (s *Store) EnsurePlayer(ctx context.Context, id, name string) (*models.Player, error) {
	if id == "" {
		return nil, NewValidationError("player_id", "required")
	}
	if name == "" {
		return nil, NewValidationError("name", "required")
	}

	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO players (player_id, name, stats, last_active, online)
		VALUES (?, ?, '{}', ?, 1)
		ON CONFLICT(player_id) DO UPDATE SET
			name = excluded.name,
			last_active = excluded.last_active,
			online = 1`,
		id, name, now)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert player: %w", err)
	}
	return s.GetPlayer(ctx, id)
}

// GetPlayer retrieves a player by id.
func (s *Store) GetPlayer(ctx context.Context, id string) (*models.Player, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT player_id, name, stats, last_active, online
		FROM players WHERE player_id = ?`, id)
	return scanPlayer(row)
}

// TouchPlayer records player activity.
func (s *Store) TouchPlayer(ctx context.Context, id string, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE players SET last_active = ?, online = 1 WHERE player_id = ?`,
		at.UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to touch player: %w", err)
	}
	return nil
}

// SetPlayerOnline flips the online flag.
func (s *Store) SetPlayerOnline(ctx context.Context, id string, online bool) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE players SET online = ? WHERE player_id = ?`, boolInt(online), id)
	if err != nil {
		return fmt.Errorf("failed to set player online: %w", err)
	}
	return nil
}

// MarkIdlePlayersOffline flips players offline whose last activity is
// older than the threshold. Returns the number of players affected.
func (s *Store) MarkIdlePlayersOffline(ctx context.Context, idleBefore time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE players SET online = 0 WHERE online = 1 AND last_active < ?`,
		idleBefore.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to mark idle players offline: %w", err)
	}
	return res.RowsAffected()
}

func scanPlayer(row *sql.Row) (*models.Player, error) {
	var p models.Player
	var statsJSON string
	var online int
	err := row.Scan(&p.ID, &p.Name, &statsJSON, &p.LastActive, &online)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan player: %w", err)
	}
	p.Online = online != 0
	if statsJSON != "" && statsJSON != "{}" {
		if err := json.Unmarshal([]byte(statsJSON), &p.Stats); err != nil {
			return nil, fmt.Errorf("failed to decode player stats: %w", err)
		}
	}
	return &p, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
