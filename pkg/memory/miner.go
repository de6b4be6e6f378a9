package memory

import (
	"context"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/parlorgames/parlor/pkg/models"
)

// Relation patterns recognized in chapter text. Friend and partner score
// +0.7, enemy -0.7, a plain tell is neutral.
var (
	becomePattern = regexp.MustCompile(
		`(?i)\b([A-Z][a-z]+)\s+and\s+([A-Z][a-z]+)\s+(?:become|became)\s+(friends?|enemies|enemy|partners?)\b`)
	tellPattern = regexp.MustCompile(
		`(?i)\b([A-Z][a-z]+)\s+(?:tells?|told)\s+([A-Z][a-z]+)\s+(?:that\s+|about\s+)?(.+?)(?:[.!?]|$)`)
)

// MineChapter extracts key events and character relations from chapter
// content into the story's long-term memory.
func (m *Manager) MineChapter(ctx context.Context, storyID, content string) error {
	now := time.Now().UTC()

	for _, sentence := range splitSentences(content) {
		matched := m.salienceMatches(sentence)
		if matched == 0 {
			continue
		}
		importance := matched + 1
		if importance > 5 {
			importance = 5
		}
		ev := &models.KeyEvent{
			ID:         uuid.NewString(),
			StoryID:    storyID,
			Text:       sentence,
			Importance: importance,
			CreatedAt:  now,
		}
		if err := m.store.InsertKeyEvent(ctx, ev); err != nil {
			return err
		}
	}

	for _, rel := range MineRelations(content) {
		rel.ID = uuid.NewString()
		rel.StoryID = storyID
		rel.CreatedAt = now
		if err := m.store.InsertRelation(ctx, rel); err != nil {
			return err
		}
	}
	return nil
}

func (m *Manager) salienceMatches(sentence string) int {
	lower := strings.ToLower(sentence)
	n := 0
	for _, kw := range m.config.SalienceKeywords {
		if strings.Contains(lower, strings.ToLower(kw)) {
			n++
		}
	}
	return n
}

// MineRelations finds relation statements in text. IDs, story and time
// are left for the caller to fill.
func MineRelations(text string) []*models.CharacterRelation {
	var out []*models.CharacterRelation

	for _, match := range becomePattern.FindAllStringSubmatch(text, -1) {
		weight := 0.7
		if strings.HasPrefix(strings.ToLower(match[3]), "enem") {
			weight = -0.7
		}
		out = append(out, &models.CharacterRelation{
			A:        match[1],
			B:        match[2],
			Weight:   weight,
			Evidence: strings.TrimSpace(match[0]),
		})
	}

	for _, match := range tellPattern.FindAllStringSubmatch(text, -1) {
		out = append(out, &models.CharacterRelation{
			A:        match[1],
			B:        match[2],
			Weight:   0,
			Evidence: strings.TrimSpace(match[3]),
		})
	}
	return out
}
