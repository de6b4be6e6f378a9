package models

import "time"

// Story is the persistent narrative owned by a room (1:1). A story is
// created exactly once per room lifecycle; a failed initialization rolls
// back to "no story".
type Story struct {
	ID         string    `json:"id"`
	RoomID     string    `json:"room_id"`
	Title      string    `json:"title"`
	Background string    `json:"background"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// ChapterStatus is the lifecycle state of a chapter.
type ChapterStatus string

// Chapter states. Exactly one chapter per story is active at any time
// after initialization.
const (
	ChapterStatusActive    ChapterStatus = "active"
	ChapterStatusCompleted ChapterStatus = "completed"
)

// Chapter is a contiguous narrative segment. Number is 1-based and dense.
// AuthorID is empty for system-authored chapters.
type Chapter struct {
	ID        string        `json:"id"`
	StoryID   string        `json:"story_id"`
	Number    int           `json:"number"`
	Content   string        `json:"content"`
	Summary   string        `json:"summary,omitempty"`
	AuthorID  string        `json:"author_id,omitempty"`
	Status    ChapterStatus `json:"status"`
	StartTime time.Time     `json:"start_time"`
	EndTime   *time.Time    `json:"end_time,omitempty"`
	WordCount int           `json:"word_count"`
}

// TimelineEntry is one chapter row of a story timeline view: the
// summary-level shape served to clients instead of full chapter text.
type TimelineEntry struct {
	Number    int        `json:"number"`
	Summary   string     `json:"summary"`
	StartTime time.Time  `json:"start_time"`
	EndTime   *time.Time `json:"end_time,omitempty"`
	WordCount int        `json:"word_count"`
}

// TodoStatus is the state of a chapter todo. Transitions are monotone:
// pending → completed, never back.
type TodoStatus string

// Todo states.
const (
	TodoStatusPending   TodoStatus = "pending"
	TodoStatusCompleted TodoStatus = "completed"
)

// Todo is a per-chapter information-gathering objective. Each active
// chapter carries between 3 and 5 of them, created atomically at chapter
// activation.
type Todo struct {
	ID             string     `json:"id"`
	ChapterID      string     `json:"chapter_id"`
	Content        string     `json:"content"`
	ExpectedAnswer string     `json:"expected_answer,omitempty"`
	Priority       int        `json:"priority"` // 1..5
	Status         TodoStatus `json:"status"`
	CompletedBy    string     `json:"completed_by,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

// PlayerProgress tracks one player's feedback completion for one chapter.
type PlayerProgress struct {
	ChapterID       string    `json:"chapter_id"`
	PlayerID        string    `json:"player_id"`
	CompletedTodos  int       `json:"completed_todos"`
	TotalTodos      int       `json:"total_todos"`
	CompletionRate  float64   `json:"completion_rate"` // [0,1]
	TimeoutAt       time.Time `json:"timeout_at"`
	ForcedComplete  bool      `json:"forced_complete"`
	UpdatedAt       time.Time `json:"updated_at"`
}
