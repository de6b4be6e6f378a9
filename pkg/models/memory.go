package models

import "time"

// Interaction is one short-term memory item: a player input and the
// narrative response it produced. Importance is computed at insert time
// and drives retention during compression.
type Interaction struct {
	ID         string    `json:"id"`
	StoryID    string    `json:"story_id"`
	PlayerID   string    `json:"player_id"`
	Input      string    `json:"input"`
	Response   string    `json:"response"`
	Importance float64   `json:"importance"` // [0,1]
	Keywords   []string  `json:"keywords"`
	Synthetic  bool      `json:"synthetic"` // produced by compression
	CreatedAt  time.Time `json:"created_at"`
}

// KeyEvent is a long-term memory item mined from chapter content.
type KeyEvent struct {
	ID         string    `json:"id"`
	StoryID    string    `json:"story_id"`
	Text       string    `json:"text"`
	Importance int       `json:"importance"` // 1..5
	CreatedAt  time.Time `json:"created_at"`
}

// CharacterRelation records an observed relationship between two
// characters. Weight is in [-1,1]; the miner writes -0.7, 0 or +0.7.
type CharacterRelation struct {
	ID        string    `json:"id"`
	StoryID   string    `json:"story_id"`
	A         string    `json:"a"`
	B         string    `json:"b"`
	Weight    float64   `json:"weight"`
	Evidence  string    `json:"evidence"`
	CreatedAt time.Time `json:"created_at"`
}

// MemoryKind distinguishes the long-term memory record flavors stored in
// the shared memories table.
type MemoryKind string

// Memory kinds.
const (
	MemoryKindKeyEvent     MemoryKind = "key_event"
	MemoryKindRelation     MemoryKind = "relation"
	MemoryKindTheme        MemoryKind = "theme"
	MemoryKindWorldSetting MemoryKind = "world_setting"
)

// MemoryBundle is the result of relevance-ranked retrieval, already
// truncated to the caller's character budget.
type MemoryBundle struct {
	ShortTerm     []Interaction       `json:"short_term"`
	Chapters      []string            `json:"chapters"` // chapter summaries
	KeyEvents     []KeyEvent          `json:"key_events"`
	Relations     []CharacterRelation `json:"relations"`
	Themes        []string            `json:"themes"`
	WorldSettings []string            `json:"world_settings"`
}
