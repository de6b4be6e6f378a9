// Package models defines the domain entities shared across the engine,
// store, and protocol layers. Identifiers are opaque strings; timestamps
// are UTC instants.
package models

import "time"

// RoomStatus is the lifecycle state of a room.
type RoomStatus string

// Room lifecycle states. Transitions only along
// waiting → playing → {paused ↔ playing} → ended, plus waiting → ended
// on cleanup.
const (
	RoomStatusWaiting RoomStatus = "waiting"
	RoomStatusPlaying RoomStatus = "playing"
	RoomStatusPaused  RoomStatus = "paused"
	RoomStatusEnded   RoomStatus = "ended"
)

// MemberRole distinguishes the host from regular players.
type MemberRole string

// Member roles.
const (
	RoleHost   MemberRole = "host"
	RolePlayer MemberRole = "player"
)

// RoomMember is a player's membership in a room. Back-references are by
// id only; the room never holds player object pointers.
type RoomMember struct {
	PlayerID string     `json:"player_id"`
	Name     string     `json:"name"`
	Role     MemberRole `json:"role"`
	JoinedAt time.Time  `json:"joined_at"`
}

// Room is the unit of multi-tenancy. One room hosts at most one story.
type Room struct {
	ID           string       `json:"id"`
	Name         string       `json:"name"`
	HostPlayerID string       `json:"host_player_id"`
	Status       RoomStatus   `json:"status"`
	Members      []RoomMember `json:"members"`
	StoryID      string       `json:"story_id,omitempty"`
	CreatedAt    time.Time    `json:"created_at"`
	UpdatedAt    time.Time    `json:"updated_at"`
}

// Member returns the membership entry for a player, or nil.
func (r *Room) Member(playerID string) *RoomMember {
	for i := range r.Members {
		if r.Members[i].PlayerID == playerID {
			return &r.Members[i]
		}
	}
	return nil
}

// IsHost reports whether the given player is the room host.
func (r *Room) IsHost(playerID string) bool {
	return r.HostPlayerID == playerID
}

// CanTransition reports whether the room status may move to next.
func (r *Room) CanTransition(next RoomStatus) bool {
	switch r.Status {
	case RoomStatusWaiting:
		return next == RoomStatusPlaying || next == RoomStatusEnded
	case RoomStatusPlaying:
		return next == RoomStatusPaused || next == RoomStatusEnded
	case RoomStatusPaused:
		return next == RoomStatusPlaying || next == RoomStatusEnded
	default:
		return false
	}
}

// Player is shared across rooms and created once on first appearance.
type Player struct {
	ID         string         `json:"id"`
	Name       string         `json:"name"`
	Stats      map[string]int `json:"stats,omitempty"`
	LastActive time.Time      `json:"last_active"`
	Online     bool           `json:"online"`
}
