package util

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/parlorgames/parlor/pkg/models"
	"github.com/parlorgames/parlor/pkg/store"
)

// Fixture is a seeded room with one host, an initialized story and an
// active first chapter carrying three todos.
type Fixture struct {
	RoomID    string
	StoryID   string
	ChapterID string
	HostID    string
	TodoIDs   []string
}

// SeedStory creates the standard fixture in the given store.
func SeedStory(t *testing.T, st *store.Store) Fixture {
	t.Helper()
	ctx := context.Background()
	now := time.Now().UTC()

	hostID := "p-" + uuid.NewString()[:8]
	_, err := st.EnsurePlayer(ctx, hostID, "Host")
	require.NoError(t, err)

	room := &models.Room{
		ID:           "r-" + uuid.NewString()[:8],
		Name:         "test room",
		HostPlayerID: hostID,
		Status:       models.RoomStatusWaiting,
		Members: []models.RoomMember{
			{PlayerID: hostID, Role: models.RoleHost, JoinedAt: now},
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
	require.NoError(t, st.CreateRoom(ctx, room))

	story := &models.Story{
		ID:         "s-" + uuid.NewString()[:8],
		RoomID:     room.ID,
		Title:      "test story",
		Background: "a quiet manor",
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	chapter := &models.Chapter{
		ID:        "c-" + uuid.NewString()[:8],
		StoryID:   story.ID,
		Number:    1,
		Content:   "The first chapter begins.",
		Status:    models.ChapterStatusActive,
		StartTime: now,
		WordCount: 4,
	}
	var todos []*models.Todo
	var todoIDs []string
	for i := 0; i < 3; i++ {
		id := "t-" + uuid.NewString()[:8]
		todoIDs = append(todoIDs, id)
		todos = append(todos, &models.Todo{
			ID:        id,
			ChapterID: chapter.ID,
			Content:   fmt.Sprintf("find clue %d", i+1),
			Priority:  i + 1,
			Status:    models.TodoStatusPending,
			CreatedAt: now,
		})
	}
	require.NoError(t, st.InitializeStory(ctx, story, chapter, todos))

	return Fixture{
		RoomID:    room.ID,
		StoryID:   story.ID,
		ChapterID: chapter.ID,
		HostID:    hostID,
		TodoIDs:   todoIDs,
	}
}

// JoinPlayer adds a second player to the fixture room.
func JoinPlayer(t *testing.T, st *store.Store, roomID, playerID, name string) {
	t.Helper()
	ctx := context.Background()
	_, err := st.EnsurePlayer(ctx, playerID, name)
	require.NoError(t, err)
	require.NoError(t, st.AddRoomMember(ctx, roomID, playerID, models.RolePlayer, time.Now().UTC()))
}
