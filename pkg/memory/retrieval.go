package memory

import (
	"context"
	"sort"

	"github.com/parlorgames/parlor/pkg/models"
)

// Budget shares per memory layer. The remainder covers relations,
// themes and world settings together.
const (
	shortTermShare = 0.30
	chapterShare   = 0.30
	keyEventShare  = 0.20
)

type scored struct {
	text  string
	score float64
	index int
}

// GetRelevantMemories assembles the retrieval bundle for a topic under
// a token budget. Each layer gets a fixed share of the character budget
// (tokens × chars-per-token); within a layer, items are taken by
// descending relevance and the last one may be tail-truncated.
func (m *Manager) GetRelevantMemories(ctx context.Context, storyID, topic string, tokenBudget int) (*models.MemoryBundle, error) {
	charBudget := tokenBudget * m.config.CharsPerToken
	topicKeywords := extractKeywords(topic)
	bundle := &models.MemoryBundle{}

	interactions, err := m.store.ListInteractions(ctx, storyID)
	if err != nil {
		return nil, err
	}
	shortBudget := int(float64(charBudget) * shortTermShare)
	for _, idx := range m.pick(topicKeywords, interactionTexts(interactions), shortBudget) {
		it := *interactions[idx.index]
		it.Response = truncate(it.Response, idx.remaining(len([]rune(it.Input))))
		bundle.ShortTerm = append(bundle.ShortTerm, it)
	}

	chapters, err := m.store.ListChapters(ctx, storyID)
	if err != nil {
		return nil, err
	}
	var summaries []string
	for _, ch := range chapters {
		if ch.Summary != "" {
			summaries = append(summaries, ch.Summary)
		}
	}
	chapterBudget := int(float64(charBudget) * chapterShare)
	for _, idx := range m.pick(topicKeywords, summaries, chapterBudget) {
		bundle.Chapters = append(bundle.Chapters, truncate(summaries[idx.index], idx.remaining(0)))
	}

	events, err := m.store.ListKeyEvents(ctx, storyID)
	if err != nil {
		return nil, err
	}
	eventBudget := int(float64(charBudget) * keyEventShare)
	for _, idx := range m.pick(topicKeywords, keyEventTexts(events), eventBudget) {
		ev := *events[idx.index]
		ev.Text = truncate(ev.Text, idx.remaining(0))
		bundle.KeyEvents = append(bundle.KeyEvents, ev)
	}

	relations, err := m.store.ListRelations(ctx, storyID)
	if err != nil {
		return nil, err
	}
	themes, err := m.store.ListNotes(ctx, storyID, models.MemoryKindTheme)
	if err != nil {
		return nil, err
	}
	settings, err := m.store.ListNotes(ctx, storyID, models.MemoryKindWorldSetting)
	if err != nil {
		return nil, err
	}

	restBudget := charBudget - shortBudget - chapterBudget - eventBudget
	thirds := restBudget / 3
	for _, idx := range m.pick(topicKeywords, relationTexts(relations), thirds) {
		rel := *relations[idx.index]
		rel.Evidence = truncate(rel.Evidence, idx.remaining(0))
		bundle.Relations = append(bundle.Relations, rel)
	}
	for _, idx := range m.pick(topicKeywords, themes, thirds) {
		bundle.Themes = append(bundle.Themes, truncate(themes[idx.index], idx.remaining(0)))
	}
	for _, idx := range m.pick(topicKeywords, settings, thirds) {
		bundle.WorldSettings = append(bundle.WorldSettings, truncate(settings[idx.index], idx.remaining(0)))
	}
	return bundle, nil
}

// picked is a selected item plus the budget left when it was taken.
type picked struct {
	index int
	left  int
}

// remaining computes the character budget available for the item's
// variable part after accounting for the fixed prefix.
func (p picked) remaining(fixed int) int {
	left := p.left - fixed
	if left < 0 {
		return 0
	}
	return left
}

// pick ranks items by relevance to the topic and selects greedily until
// the character budget is spent. The final item that does not fully fit
// is still included, truncated to the leftover budget.
func (m *Manager) pick(topicKeywords, texts []string, budget int) []picked {
	if budget <= 0 || len(texts) == 0 {
		return nil
	}
	ranked := make([]scored, 0, len(texts))
	for i, text := range texts {
		ranked = append(ranked, scored{
			text:  text,
			score: relevance(topicKeywords, extractKeywords(text)),
			index: i,
		})
	}
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].score > ranked[j].score })

	var out []picked
	left := budget
	for _, item := range ranked {
		if left <= 0 {
			break
		}
		out = append(out, picked{index: item.index, left: left})
		left -= len([]rune(item.text))
	}
	return out
}

func interactionTexts(items []*models.Interaction) []string {
	out := make([]string, len(items))
	for i, it := range items {
		out[i] = it.Input + " " + it.Response
	}
	return out
}

func keyEventTexts(items []*models.KeyEvent) []string {
	out := make([]string, len(items))
	for i, ev := range items {
		out[i] = ev.Text
	}
	return out
}

func relationTexts(items []*models.CharacterRelation) []string {
	out := make([]string, len(items))
	for i, rel := range items {
		out[i] = rel.A + " " + rel.B + " " + rel.Evidence
	}
	return out
}
