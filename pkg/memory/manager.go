package memory

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/parlorgames/parlor/pkg/config"
	"github.com/parlorgames/parlor/pkg/models"
	"github.com/parlorgames/parlor/pkg/store"
)

// Manager owns the per-story memory layers over the shared store.
type Manager struct {
	store  *store.Store
	config *config.MemoryConfig
}

// NewManager creates a memory manager.
func NewManager(st *store.Store, cfg *config.MemoryConfig) *Manager {
	return &Manager{store: st, config: cfg}
}

// SeedStoryNotes records the story premise as long-term memory: the
// title becomes a theme note and the background a world-setting note,
// so retrieval can anchor prompts to the premise from chapter one.
func (m *Manager) SeedStoryNotes(ctx context.Context, story *models.Story) error {
	now := time.Now().UTC()
	if err := m.store.InsertNote(ctx, story.ID, models.MemoryKindTheme,
		uuid.NewString(), story.Title, now); err != nil {
		return err
	}
	if story.Background == "" {
		return nil
	}
	return m.store.InsertNote(ctx, story.ID, models.MemoryKindWorldSetting,
		uuid.NewString(), story.Background, now)
}

// Record appends one interaction to the story's short-term buffer,
// computing importance and keywords at insert time, and compresses the
// buffer when it overflows.
func (m *Manager) Record(ctx context.Context, storyID, playerID, input, response string) (*models.Interaction, error) {
	it := &models.Interaction{
		ID:         uuid.NewString(),
		StoryID:    storyID,
		PlayerID:   playerID,
		Input:      input,
		Response:   response,
		Importance: m.importance(input, response),
		Keywords:   extractKeywords(input + " " + response),
		CreatedAt:  time.Now().UTC(),
	}
	if err := m.store.InsertInteraction(ctx, it); err != nil {
		return nil, err
	}

	buffer, err := m.store.ListInteractions(ctx, storyID)
	if err != nil {
		return nil, err
	}
	if len(buffer) > m.config.ShortTermMaxSize {
		if err := m.compress(ctx, storyID, buffer); err != nil {
			return nil, fmt.Errorf("failed to compress short-term buffer: %w", err)
		}
	}
	return it, nil
}

// importance scores an interaction: base 0.5, +0.1 per salience keyword
// match across input and response, +0.1 over 500 chars, another +0.1
// over 1000, +0.1 for a question, capped at 1.0.
func (m *Manager) importance(input, response string) float64 {
	combined := strings.ToLower(input + " " + response)
	score := 0.5
	for _, kw := range m.config.SalienceKeywords {
		if strings.Contains(combined, strings.ToLower(kw)) {
			score += 0.1
		}
	}
	total := len([]rune(input)) + len([]rune(response))
	if total > 500 {
		score += 0.1
	}
	if total > 1000 {
		score += 0.1
	}
	if isInterrogative(input) {
		score += 0.1
	}
	if score > 1.0 {
		score = 1.0
	}
	return score
}

// compress ranks the buffer by importance, keeps the top ShortTermMinSize
// items in their original order, and folds the tail into one synthetic
// interaction carrying the salient sentences.
func (m *Manager) compress(ctx context.Context, storyID string, buffer []*models.Interaction) error {
	minSize := m.config.ShortTermMinSize
	if len(buffer) <= minSize {
		return nil
	}

	ranked := make([]*models.Interaction, len(buffer))
	copy(ranked, buffer)
	// Stable selection: pick the minSize most important, oldest wins ties.
	keepSet := make(map[string]struct{}, minSize)
	for len(keepSet) < minSize {
		var best *models.Interaction
		for _, it := range ranked {
			if _, kept := keepSet[it.ID]; kept {
				continue
			}
			if best == nil || it.Importance > best.Importance {
				best = it
			}
		}
		keepSet[best.ID] = struct{}{}
	}

	var kept []*models.Interaction
	var folded []*models.Interaction
	for _, it := range buffer {
		if _, ok := keepSet[it.ID]; ok {
			kept = append(kept, it)
		} else {
			folded = append(folded, it)
		}
	}

	salient := m.salientSentences(folded)
	synthetic := &models.Interaction{
		ID:         uuid.NewString(),
		StoryID:    storyID,
		PlayerID:   "",
		Input:      fmt.Sprintf("compressed %d earlier interactions", len(folded)),
		Response:   salient,
		Importance: 0.5,
		Keywords:   extractKeywords(salient),
		Synthetic:  true,
		CreatedAt:  folded[0].CreatedAt,
	}

	replacement := append([]*models.Interaction{synthetic}, kept...)
	if err := m.store.ReplaceInteractions(ctx, storyID, replacement); err != nil {
		return err
	}
	slog.Info("Compressed short-term memory",
		"story_id", storyID,
		"folded", len(folded),
		"retained", len(kept))
	return nil
}

// salientSentences concatenates sentences from the folded interactions
// that mention any salience keyword.
func (m *Manager) salientSentences(folded []*models.Interaction) string {
	var picked []string
	for _, it := range folded {
		for _, sentence := range splitSentences(it.Input + " " + it.Response) {
			lower := strings.ToLower(sentence)
			for _, kw := range m.config.SalienceKeywords {
				if strings.Contains(lower, strings.ToLower(kw)) {
					picked = append(picked, sentence)
					break
				}
			}
		}
	}
	if len(picked) == 0 {
		return "earlier interactions held no salient events"
	}
	return strings.Join(picked, " ")
}
