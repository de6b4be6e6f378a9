package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parlorgames/parlor/pkg/models"
	"github.com/parlorgames/parlor/pkg/store"
	"github.com/parlorgames/parlor/test/util"
)

func TestCreateRoomValidatesAndDetectsDuplicates(t *testing.T) {
	st := util.SetupTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	err := st.CreateRoom(ctx, &models.Room{Name: "x", HostPlayerID: "h"})
	var valErr *store.ValidationError
	require.ErrorAs(t, err, &valErr)
	assert.Equal(t, "room_id", valErr.Field)

	_, err = st.EnsurePlayer(ctx, "h", "Host")
	require.NoError(t, err)
	room := &models.Room{
		ID: "r1", Name: "x", HostPlayerID: "h",
		Status: models.RoomStatusWaiting, CreatedAt: now, UpdatedAt: now,
	}
	require.NoError(t, st.CreateRoom(ctx, room))
	assert.ErrorIs(t, st.CreateRoom(ctx, room), store.ErrAlreadyExists)
}

func TestRoomMembership(t *testing.T) {
	st := util.SetupTestStore(t)
	ctx := context.Background()
	fix := util.SeedStory(t, st)

	util.JoinPlayer(t, st, fix.RoomID, "p2", "Bob")

	// Rejoin is idempotent.
	require.NoError(t, st.AddRoomMember(ctx, fix.RoomID, "p2", models.RolePlayer, time.Now().UTC()))

	count, err := st.MemberCount(ctx, fix.RoomID)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	room, err := st.GetRoom(ctx, fix.RoomID)
	require.NoError(t, err)
	require.NotNil(t, room.Member("p2"))
	assert.True(t, room.IsHost(fix.HostID))

	require.NoError(t, st.RemoveRoomMember(ctx, fix.RoomID, "p2", time.Now().UTC()))
	count, err = st.MemberCount(ctx, fix.RoomID)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestGetRoomNotFound(t *testing.T) {
	st := util.SetupTestStore(t)
	_, err := st.GetRoom(context.Background(), "missing")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestInitializeStorySetsRoomPlaying(t *testing.T) {
	st := util.SetupTestStore(t)
	ctx := context.Background()
	fix := util.SeedStory(t, st)

	room, err := st.GetRoom(ctx, fix.RoomID)
	require.NoError(t, err)
	assert.Equal(t, models.RoomStatusPlaying, room.Status)
	assert.Equal(t, fix.StoryID, room.StoryID)

	story, err := st.GetStoryByRoom(ctx, fix.RoomID)
	require.NoError(t, err)
	assert.Equal(t, fix.StoryID, story.ID)

	active, err := st.ActiveChapter(ctx, fix.StoryID)
	require.NoError(t, err)
	assert.Equal(t, 1, active.Number)

	todos, err := st.TodosForChapter(ctx, fix.ChapterID)
	require.NoError(t, err)
	assert.Len(t, todos, 3)
}

func TestAppendChapterContentCAS(t *testing.T) {
	st := util.SetupTestStore(t)
	ctx := context.Background()
	fix := util.SeedStory(t, st)

	require.NoError(t, st.AppendChapterContent(ctx, fix.ChapterID, "More narrative."))
	ch, err := st.GetChapter(ctx, fix.ChapterID)
	require.NoError(t, err)
	assert.Contains(t, ch.Content, "More narrative.")
	assert.Equal(t, 6, ch.WordCount)

	// Appending to a completed chapter fails the guard.
	next := &models.Chapter{
		ID: "c-next", StoryID: fix.StoryID, Number: 2, Content: "Second.",
		Status: models.ChapterStatusActive, StartTime: time.Now().UTC(), WordCount: 1,
	}
	prev := *ch
	prev.Status = models.ChapterStatusCompleted
	require.NoError(t, st.AdvanceChapter(ctx, &prev, next, nil))

	err = st.AppendChapterContent(ctx, fix.ChapterID, "too late")
	assert.ErrorIs(t, err, store.ErrStaleChapter)
}

func TestAppendChapterContentCumulativeWordCount(t *testing.T) {
	st := util.SetupTestStore(t)
	ctx := context.Background()
	fix := util.SeedStory(t, st)

	// Fixture content is 4 words; each append adds 3 regardless of what
	// the caller observed before appending.
	require.NoError(t, st.AppendChapterContent(ctx, fix.ChapterID, "one two three"))
	require.NoError(t, st.AppendChapterContent(ctx, fix.ChapterID, "four five six"))

	ch, err := st.GetChapter(ctx, fix.ChapterID)
	require.NoError(t, err)
	assert.Equal(t, 10, ch.WordCount)
	assert.Contains(t, ch.Content, "one two three")
	assert.Contains(t, ch.Content, "four five six")
}

func TestAdvanceChapterStaleOnSecondAttempt(t *testing.T) {
	st := util.SetupTestStore(t)
	ctx := context.Background()
	fix := util.SeedStory(t, st)

	first, err := st.GetChapter(ctx, fix.ChapterID)
	require.NoError(t, err)

	makeNext := func(id string) *models.Chapter {
		return &models.Chapter{
			ID: id, StoryID: fix.StoryID, Number: 2, Content: "Second.",
			Status: models.ChapterStatusActive, StartTime: time.Now().UTC(), WordCount: 1,
		}
	}
	completed := *first
	completed.Status = models.ChapterStatusCompleted

	require.NoError(t, st.AdvanceChapter(ctx, &completed, makeNext("c2"), []*models.Todo{
		{ID: "t-n1", ChapterID: "c2", Content: "ask around", Priority: 1,
			Status: models.TodoStatusPending, CreatedAt: time.Now().UTC()},
	}))

	// The same observed chapter cannot advance twice.
	err = st.AdvanceChapter(ctx, &completed, makeNext("c3"), nil)
	assert.ErrorIs(t, err, store.ErrStaleChapter)

	active, err := st.ActiveChapter(ctx, fix.StoryID)
	require.NoError(t, err)
	assert.Equal(t, "c2", active.ID)

	chapters, err := st.ListChapters(ctx, fix.StoryID)
	require.NoError(t, err)
	assert.Len(t, chapters, 2)
}

func TestCreateMessageIdempotent(t *testing.T) {
	st := util.SetupTestStore(t)
	ctx := context.Background()
	fix := util.SeedStory(t, st)

	msg := &models.Message{
		ID: "m1", RoomID: fix.RoomID, StoryID: fix.StoryID,
		SenderID: fix.HostID, SenderName: "Host",
		Type: models.MessageTypeGlobal, Content: "hello",
		ChapterNumber: 1, CreatedAt: time.Now().UTC(),
	}
	inserted, err := st.CreateMessage(ctx, msg)
	require.NoError(t, err)
	assert.True(t, inserted)

	inserted, err = st.CreateMessage(ctx, msg)
	require.NoError(t, err)
	assert.False(t, inserted)

	count, err := st.CountGlobalMessages(ctx, fix.StoryID, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestMessageVisibilityFiltering(t *testing.T) {
	st := util.SetupTestStore(t)
	ctx := context.Background()
	fix := util.SeedStory(t, st)
	util.JoinPlayer(t, st, fix.RoomID, "p2", "Bob")
	util.JoinPlayer(t, st, fix.RoomID, "p3", "Cara")

	now := time.Now().UTC()
	seed := []*models.Message{
		{ID: "g1", RoomID: fix.RoomID, StoryID: fix.StoryID, SenderID: fix.HostID,
			SenderName: "Host", Type: models.MessageTypeGlobal, Content: "table talk",
			ChapterNumber: 1, CreatedAt: now},
		{ID: "pm1", RoomID: fix.RoomID, StoryID: fix.StoryID, SenderID: fix.HostID,
			SenderName: "Host", RecipientID: models.StoryMachineSenderID,
			Type: models.MessageTypePrivate, Content: "a secret guess",
			ChapterNumber: 1, CreatedAt: now.Add(time.Second)},
		{ID: "sm1", RoomID: fix.RoomID, StoryID: fix.StoryID,
			SenderID: models.StoryMachineSenderID, SenderName: "Story Machine",
			RecipientID: fix.HostID, Type: models.MessageTypeStoryMachine,
			Content: "tell me more", ChapterNumber: 1, CreatedAt: now.Add(2 * time.Second)},
		{ID: "d1", RoomID: fix.RoomID, StoryID: fix.StoryID, SenderID: "p2",
			SenderName: "Bob", RecipientID: "p3", RecipientName: "Cara",
			Type: models.MessageTypePlayerToPlayer, Content: "psst",
			ChapterNumber: 1, CreatedAt: now.Add(3 * time.Second)},
	}
	for _, m := range seed {
		_, err := st.CreateMessage(ctx, m)
		require.NoError(t, err)
	}

	ids := func(msgs []*models.Message) []string {
		out := make([]string, 0, len(msgs))
		for _, m := range msgs {
			out = append(out, m.ID)
		}
		return out
	}

	host, err := st.MessagesVisibleTo(ctx, fix.RoomID, fix.HostID)
	require.NoError(t, err)
	assert.Equal(t, []string{"g1", "pm1", "sm1"}, ids(host))

	p2, err := st.MessagesVisibleTo(ctx, fix.RoomID, "p2")
	require.NoError(t, err)
	assert.Equal(t, []string{"g1", "d1"}, ids(p2))

	p3, err := st.MessagesVisibleTo(ctx, fix.RoomID, "p3")
	require.NoError(t, err)
	assert.Equal(t, []string{"g1", "d1"}, ids(p3))

	all, err := st.AllMessagesForStory(ctx, fix.StoryID)
	require.NoError(t, err)
	assert.Len(t, all, 4)
}

func TestRecentGlobalMessagesWindow(t *testing.T) {
	st := util.SetupTestStore(t)
	ctx := context.Background()
	fix := util.SeedStory(t, st)

	now := time.Now().UTC()
	for i := 0; i < 5; i++ {
		_, err := st.CreateMessage(ctx, &models.Message{
			ID: string(rune('a' + i)), RoomID: fix.RoomID, StoryID: fix.StoryID,
			SenderID: fix.HostID, SenderName: "Host", Type: models.MessageTypeGlobal,
			Content: "m", ChapterNumber: 1, CreatedAt: now.Add(time.Duration(i) * time.Second),
		})
		require.NoError(t, err)
	}

	recent, err := st.RecentGlobalMessages(ctx, fix.StoryID, 1, 3)
	require.NoError(t, err)
	require.Len(t, recent, 3)
	// Oldest-first within the window, window anchored at the newest.
	assert.Equal(t, "c", recent[0].ID)
	assert.Equal(t, "e", recent[2].ID)
}

func TestCompleteTodoMonotone(t *testing.T) {
	st := util.SetupTestStore(t)
	ctx := context.Background()
	fix := util.SeedStory(t, st)

	changed, err := st.CompleteTodo(ctx, fix.TodoIDs[0], fix.HostID)
	require.NoError(t, err)
	assert.True(t, changed)

	// The second completer loses the race and the attribution.
	changed, err = st.CompleteTodo(ctx, fix.TodoIDs[0], "p2")
	require.NoError(t, err)
	assert.False(t, changed)

	todos, err := st.TodosForChapter(ctx, fix.ChapterID)
	require.NoError(t, err)
	completed := 0
	for _, td := range todos {
		if td.Status == models.TodoStatusCompleted {
			completed++
			assert.Equal(t, fix.HostID, td.CompletedBy)
		} else {
			assert.Empty(t, td.CompletedBy)
		}
	}
	assert.Equal(t, 1, completed)
}

func TestProgressRowsLifecycle(t *testing.T) {
	st := util.SetupTestStore(t)
	ctx := context.Background()
	fix := util.SeedStory(t, st)

	now := time.Now().UTC()
	rows := []*models.PlayerProgress{{
		ChapterID: fix.ChapterID, PlayerID: fix.HostID,
		TotalTodos: 3, TimeoutAt: now.Add(time.Minute), UpdatedAt: now,
	}}
	require.NoError(t, st.CreateProgressRows(ctx, rows))
	// Idempotent re-create.
	require.NoError(t, st.CreateProgressRows(ctx, rows))

	got, err := st.ProgressForChapter(ctx, fix.ChapterID)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, 0, got[0].CompletedTodos)

	got[0].CompletedTodos = 2
	got[0].CompletionRate = 2.0 / 3.0
	got[0].UpdatedAt = time.Now().UTC()
	require.NoError(t, st.UpdateProgress(ctx, got[0]))

	got, err = st.ProgressForChapter(ctx, fix.ChapterID)
	require.NoError(t, err)
	assert.InDelta(t, 2.0/3.0, got[0].CompletionRate, 0.001)
}

func TestMarkTimeoutPlayersComplete(t *testing.T) {
	st := util.SetupTestStore(t)
	ctx := context.Background()
	fix := util.SeedStory(t, st)
	util.JoinPlayer(t, st, fix.RoomID, "p2", "Bob")

	now := time.Now().UTC()
	require.NoError(t, st.CreateProgressRows(ctx, []*models.PlayerProgress{
		{ChapterID: fix.ChapterID, PlayerID: fix.HostID, TotalTodos: 3,
			TimeoutAt: now.Add(-time.Second), UpdatedAt: now},
		{ChapterID: fix.ChapterID, PlayerID: "p2", TotalTodos: 3,
			TimeoutAt: now.Add(time.Hour), UpdatedAt: now},
	}))

	forced, err := st.MarkTimeoutPlayersComplete(ctx, fix.ChapterID, now)
	require.NoError(t, err)
	assert.Equal(t, int64(1), forced)

	rows, err := st.ProgressForChapter(ctx, fix.ChapterID)
	require.NoError(t, err)
	byPlayer := make(map[string]*models.PlayerProgress)
	for _, r := range rows {
		byPlayer[r.PlayerID] = r
	}
	assert.True(t, byPlayer[fix.HostID].ForcedComplete)
	assert.InDelta(t, 1.0, byPlayer[fix.HostID].CompletionRate, 0.001)
	assert.False(t, byPlayer["p2"].ForcedComplete)
}

func TestDeleteRoomCascades(t *testing.T) {
	st := util.SetupTestStore(t)
	ctx := context.Background()
	fix := util.SeedStory(t, st)

	_, err := st.CreateMessage(ctx, &models.Message{
		ID: "m1", RoomID: fix.RoomID, StoryID: fix.StoryID,
		SenderID: fix.HostID, SenderName: "Host",
		Type: models.MessageTypeGlobal, Content: "hi",
		ChapterNumber: 1, CreatedAt: time.Now().UTC(),
	})
	require.NoError(t, err)

	require.NoError(t, st.DeleteRoom(ctx, fix.RoomID))

	_, err = st.GetRoom(ctx, fix.RoomID)
	assert.ErrorIs(t, err, store.ErrNotFound)
	_, err = st.GetStory(ctx, fix.StoryID)
	assert.ErrorIs(t, err, store.ErrNotFound)
	_, err = st.GetChapter(ctx, fix.ChapterID)
	assert.ErrorIs(t, err, store.ErrNotFound)
	_, err = st.GetMessage(ctx, "m1")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestMemoryRows(t *testing.T) {
	st := util.SetupTestStore(t)
	ctx := context.Background()
	fix := util.SeedStory(t, st)

	now := time.Now().UTC()
	require.NoError(t, st.InsertInteraction(ctx, &models.Interaction{
		ID: "i1", StoryID: fix.StoryID, PlayerID: fix.HostID,
		Input: "who holds the key", Response: "a shadow moves",
		Importance: 0.7, Keywords: []string{"key", "shadow"}, CreatedAt: now,
	}))
	require.NoError(t, st.InsertKeyEvent(ctx, &models.KeyEvent{
		ID: "e1", StoryID: fix.StoryID, Text: "the vault was found open",
		Importance: 3, CreatedAt: now,
	}))
	require.NoError(t, st.InsertRelation(ctx, &models.CharacterRelation{
		ID: "rel1", StoryID: fix.StoryID, A: "Alice", B: "Bob",
		Weight: 0.7, Evidence: "they shared the clue", CreatedAt: now,
	}))

	interactions, err := st.ListInteractions(ctx, fix.StoryID)
	require.NoError(t, err)
	require.Len(t, interactions, 1)
	assert.Equal(t, []string{"key", "shadow"}, interactions[0].Keywords)

	events, err := st.ListKeyEvents(ctx, fix.StoryID)
	require.NoError(t, err)
	require.Len(t, events, 1)

	n, err := st.CountKeyEventsSince(ctx, fix.StoryID, now.Add(-time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	n, err = st.CountKeyEventsSince(ctx, fix.StoryID, now.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	relations, err := st.ListRelations(ctx, fix.StoryID)
	require.NoError(t, err)
	require.Len(t, relations, 1)
	assert.InDelta(t, 0.7, relations[0].Weight, 0.001)

	// ReplaceInteractions swaps the whole buffer.
	require.NoError(t, st.ReplaceInteractions(ctx, fix.StoryID, []*models.Interaction{{
		ID: "i2", StoryID: fix.StoryID, PlayerID: fix.HostID,
		Input: "folded", Response: "summary", Importance: 0.5, CreatedAt: now,
	}}))
	interactions, err = st.ListInteractions(ctx, fix.StoryID)
	require.NoError(t, err)
	require.Len(t, interactions, 1)
	assert.Equal(t, "i2", interactions[0].ID)
}

func TestPurgeEndedRoomsBefore(t *testing.T) {
	st := util.SetupTestStore(t)
	ctx := context.Background()
	fix := util.SeedStory(t, st)

	old := time.Now().UTC().Add(-time.Hour)
	require.NoError(t, st.UpdateRoomStatus(ctx, fix.RoomID, models.RoomStatusEnded, old))

	purged, err := st.PurgeEndedRoomsBefore(ctx, time.Now().UTC())
	require.NoError(t, err)
	assert.Equal(t, int64(1), purged)

	_, err = st.GetRoom(ctx, fix.RoomID)
	assert.ErrorIs(t, err, store.ErrNotFound)
}
