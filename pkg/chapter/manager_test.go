package chapter

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parlorgames/parlor/pkg/config"
	"github.com/parlorgames/parlor/pkg/llm"
	"github.com/parlorgames/parlor/pkg/memory"
	"github.com/parlorgames/parlor/pkg/models"
	"github.com/parlorgames/parlor/pkg/queue"
	"github.com/parlorgames/parlor/pkg/store"
	"github.com/parlorgames/parlor/test/util"
)

const todosJSON = `[
	{"content": "find the key", "expected_answer": "under the mat", "priority": 3},
	{"content": "name the stranger", "expected_answer": "the gardener", "priority": 2},
	{"content": "explain the noise", "expected_answer": "a falling vase", "priority": 1}
]`

func newTestManager(t *testing.T, st *store.Store, provider llm.Provider) *Manager {
	t.Helper()
	cfg := config.Default()
	registry := llm.NewRegistry(provider)
	q := queue.New(cfg.Queue, registry, llm.NewAvailabilityCache(registry, 0))
	q.Start()
	t.Cleanup(q.Stop)
	mem := memory.NewManager(st, cfg.Memory)
	return NewManager(st, mem, q, cfg.Chapter, cfg.Memory.SummaryMaxChars)
}

func TestGenerateFirst(t *testing.T) {
	st := util.SetupTestStore(t)
	provider := llm.NewFakeProvider("The manor looms ahead.", todosJSON)
	m := newTestManager(t, st, provider)

	story := &models.Story{ID: "s1", RoomID: "r1", Title: "T", Background: "B"}
	ch, todos, err := m.GenerateFirst(context.Background(), story)
	require.NoError(t, err)

	assert.Equal(t, 1, ch.Number)
	assert.Equal(t, models.ChapterStatusActive, ch.Status)
	assert.Equal(t, "The manor looms ahead.", ch.Content)
	assert.Equal(t, 4, ch.WordCount)
	require.Len(t, todos, 3)
	assert.Equal(t, "find the key", todos[0].Content)
	assert.Equal(t, models.TodoStatusPending, todos[0].Status)
}

func TestGenerateFirstFallbackTodos(t *testing.T) {
	st := util.SetupTestStore(t)
	provider := llm.NewFakeProvider("Opening.", "not json at all")
	m := newTestManager(t, st, provider)

	_, todos, err := m.GenerateFirst(context.Background(),
		&models.Story{ID: "s1", Title: "T"})
	require.NoError(t, err)
	require.Len(t, todos, 3)
	for _, todo := range todos {
		assert.NotEmpty(t, todo.Content)
	}
}

func TestTransition(t *testing.T) {
	st := util.SetupTestStore(t)
	fx := util.SeedStory(t, st)
	provider := llm.NewFakeProvider(
		"The chapter closes on a discovery.", // summarize
		"A new dawn breaks over the manor.",  // opening
		todosJSON,
	)
	m := newTestManager(t, st, provider)
	m.randFloat = func() float64 { return 1.0 } // suppress random events
	ctx := context.Background()

	story, err := st.GetStory(ctx, fx.StoryID)
	require.NoError(t, err)
	prev, err := st.ActiveChapter(ctx, fx.StoryID)
	require.NoError(t, err)

	next, todos, err := m.Transition(ctx, story, prev)
	require.NoError(t, err)
	assert.Equal(t, 2, next.Number)
	assert.Equal(t, "A new dawn breaks over the manor.", next.Content)
	require.Len(t, todos, 3)

	completed, err := st.GetChapter(ctx, prev.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ChapterStatusCompleted, completed.Status)
	assert.Contains(t, completed.Content, "The chapter closes on a discovery.")
	assert.Equal(t, "The chapter closes on a discovery.", completed.Summary)
	require.NotNil(t, completed.EndTime)

	active, err := st.ActiveChapter(ctx, fx.StoryID)
	require.NoError(t, err)
	assert.Equal(t, next.ID, active.ID)
}

func TestTransitionStaleChapter(t *testing.T) {
	st := util.SetupTestStore(t)
	fx := util.SeedStory(t, st)
	provider := llm.NewFakeProvider("ending", "opening", todosJSON,
		"ending", "opening", todosJSON)
	m := newTestManager(t, st, provider)
	m.randFloat = func() float64 { return 1.0 }
	ctx := context.Background()

	story, err := st.GetStory(ctx, fx.StoryID)
	require.NoError(t, err)
	prev, err := st.ActiveChapter(ctx, fx.StoryID)
	require.NoError(t, err)

	_, _, err = m.Transition(ctx, story, prev)
	require.NoError(t, err)

	// Second transition from the same observed chapter must fail the CAS.
	_, _, err = m.Transition(ctx, story, prev)
	assert.ErrorIs(t, err, store.ErrStaleChapter)
}

func TestTransitionAppendsRandomEvent(t *testing.T) {
	st := util.SetupTestStore(t)
	fx := util.SeedStory(t, st)
	provider := llm.NewFakeProvider("ending", "The opening.", todosJSON)
	m := newTestManager(t, st, provider)
	m.randFloat = func() float64 { return 0.0 } // always fire, draw first entry
	ctx := context.Background()

	story, err := st.GetStory(ctx, fx.StoryID)
	require.NoError(t, err)
	prev, err := st.ActiveChapter(ctx, fx.StoryID)
	require.NoError(t, err)

	next, _, err := m.Transition(ctx, story, prev)
	require.NoError(t, err)
	assert.Contains(t, next.Content, "The opening.")
	assert.Contains(t, next.Content, eventTable[0].text)
}

func TestCheckTriggers(t *testing.T) {
	st := util.SetupTestStore(t)
	fx := util.SeedStory(t, st)
	cfg := config.Default()
	cfg.Chapter.WordCount = 10
	cfg.Chapter.KeyEvents = 1
	registry := llm.NewRegistry(llm.NewFakeProvider("x"))
	q := queue.New(cfg.Queue, registry, llm.NewAvailabilityCache(registry, 0))
	q.Start()
	t.Cleanup(q.Stop)
	mem := memory.NewManager(st, cfg.Memory)
	m := NewManager(st, mem, q, cfg.Chapter, cfg.Memory.SummaryMaxChars)
	ctx := context.Background()

	active, err := st.ActiveChapter(ctx, fx.StoryID)
	require.NoError(t, err)

	reason, err := m.CheckTriggers(ctx, fx.StoryID, active, time.Now())
	require.NoError(t, err)
	assert.Equal(t, TriggerNone, reason)

	// Word count has the highest priority once exceeded.
	active.WordCount = 10
	reason, err = m.CheckTriggers(ctx, fx.StoryID, active, time.Now())
	require.NoError(t, err)
	assert.Equal(t, TriggerWordCount, reason)

	// Key events fire next when word count is below threshold.
	active.WordCount = 0
	require.NoError(t, m.memory.MineChapter(ctx, fx.StoryID,
		"They discover a secret ledger."))
	reason, err = m.CheckTriggers(ctx, fx.StoryID, active, time.Now())
	require.NoError(t, err)
	assert.Equal(t, TriggerKeyEvents, reason)
}

func TestRollEventWeights(t *testing.T) {
	ev := rollEvent(func() float64 { return 0.0 })
	assert.Equal(t, EventEncounter, ev.Kind)
	ev = rollEvent(func() float64 { return 0.999 })
	assert.Equal(t, EventCrisis, ev.Kind)
}

func TestParseTodoPayloads(t *testing.T) {
	payloads, err := parseTodoPayloads("Sure! Here you go:\n```json\n" + todosJSON + "\n```")
	require.NoError(t, err)
	assert.Len(t, payloads, 3)

	_, err = parseTodoPayloads(`[{"content": "only one"}]`)
	assert.Error(t, err)

	_, err = parseTodoPayloads("no brackets here")
	assert.Error(t, err)
}

func TestHistory(t *testing.T) {
	st := util.SetupTestStore(t)
	fx := util.SeedStory(t, st)
	provider := llm.NewFakeProvider("ending one", "opening two", todosJSON)
	m := newTestManager(t, st, provider)
	m.randFloat = func() float64 { return 1.0 }
	ctx := context.Background()

	story, err := st.GetStory(ctx, fx.StoryID)
	require.NoError(t, err)
	prev, err := st.ActiveChapter(ctx, fx.StoryID)
	require.NoError(t, err)
	_, _, err = m.Transition(ctx, story, prev)
	require.NoError(t, err)

	h, err := m.History(ctx, fx.StoryID)
	require.NoError(t, err)

	timeline := h.Timeline()
	require.Len(t, timeline, 2)
	assert.Equal(t, 1, timeline[0].Number)
	assert.Equal(t, 2, timeline[1].Number)

	before, after := h.Adjacent(1)
	assert.Nil(t, before)
	require.NotNil(t, after)
	assert.Equal(t, 2, after.Number)

	assert.Len(t, h.Range(1, 1), 1)
	assert.Len(t, h.Range(1, 2), 2)

	found := h.Search("opening two")
	require.Len(t, found, 1)
	assert.Equal(t, 2, found[0].Number)

	markdown, _, err := h.Export(ExportMarkdown)
	require.NoError(t, err)
	assert.Contains(t, markdown, "## Chapter 1")
	assert.Contains(t, markdown, "## Chapter 2")

	_, entries, err := h.Export(ExportStructured)
	require.NoError(t, err)
	assert.Len(t, entries, 2)

	_, _, err = h.Export("yaml")
	assert.Error(t, err)
}
