package chapter

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/parlorgames/parlor/pkg/models"
)

// History is an in-memory cache of a story's chapters, sorted by number.
type History struct {
	mu       sync.RWMutex
	chapters []*models.Chapter
}

// ExportFormat selects the History export rendering.
type ExportFormat string

// Export formats.
const (
	ExportMarkdown   ExportFormat = "markdown"
	ExportText       ExportFormat = "text"
	ExportStructured ExportFormat = "structured"
)

// History returns the cached history for a story, loading it from the
// store on first use.
func (m *Manager) History(ctx context.Context, storyID string) (*History, error) {
	if cached, ok := m.histories.Load(storyID); ok {
		return cached.(*History), nil
	}
	chapters, err := m.store.ListChapters(ctx, storyID)
	if err != nil {
		return nil, err
	}
	h := &History{chapters: chapters}
	actual, _ := m.histories.LoadOrStore(storyID, h)
	return actual.(*History), nil
}

// refreshHistory reloads the cache after a transition.
func (m *Manager) refreshHistory(ctx context.Context, storyID string) {
	chapters, err := m.store.ListChapters(ctx, storyID)
	if err != nil {
		// Cache refresh is advisory; the next History call retries.
		m.histories.Delete(storyID)
		return
	}
	if cached, ok := m.histories.Load(storyID); ok {
		h := cached.(*History)
		h.mu.Lock()
		h.chapters = chapters
		h.mu.Unlock()
		return
	}
	m.histories.Store(storyID, &History{chapters: chapters})
}

// DropHistory evicts a story's cache, e.g. when its room is deleted.
func (m *Manager) DropHistory(storyID string) {
	m.histories.Delete(storyID)
}

// Timeline returns one entry per chapter in order.
func (h *History) Timeline() []models.TimelineEntry {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]models.TimelineEntry, 0, len(h.chapters))
	for _, ch := range h.chapters {
		out = append(out, models.TimelineEntry{
			Number:    ch.Number,
			Summary:   ch.Summary,
			StartTime: ch.StartTime,
			EndTime:   ch.EndTime,
			WordCount: ch.WordCount,
		})
	}
	return out
}

// Adjacent returns the chapters immediately before and after number;
// either may be nil at the edges.
func (h *History) Adjacent(number int) (prev, next *models.Chapter) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	idx := sort.Search(len(h.chapters), func(i int) bool {
		return h.chapters[i].Number >= number
	})
	if idx >= len(h.chapters) || h.chapters[idx].Number != number {
		return nil, nil
	}
	if idx > 0 {
		prev = h.chapters[idx-1]
	}
	if idx+1 < len(h.chapters) {
		next = h.chapters[idx+1]
	}
	return prev, next
}

// Range returns chapters with from ≤ number ≤ to.
func (h *History) Range(from, to int) []*models.Chapter {
	h.mu.RLock()
	defer h.mu.RUnlock()
	var out []*models.Chapter
	for _, ch := range h.chapters {
		if ch.Number >= from && ch.Number <= to {
			out = append(out, ch)
		}
	}
	return out
}

// Search returns chapters whose content or summary contains the query,
// case-insensitively.
func (h *History) Search(query string) []*models.Chapter {
	h.mu.RLock()
	defer h.mu.RUnlock()
	needle := strings.ToLower(query)
	var out []*models.Chapter
	for _, ch := range h.chapters {
		if strings.Contains(strings.ToLower(ch.Content), needle) ||
			strings.Contains(strings.ToLower(ch.Summary), needle) {
			out = append(out, ch)
		}
	}
	return out
}

// Export renders the history. Structured export returns the timeline
// entries for the caller to serialize; markdown and text render prose.
func (h *History) Export(format ExportFormat) (string, []models.TimelineEntry, error) {
	switch format {
	case ExportStructured:
		return "", h.Timeline(), nil
	case ExportMarkdown, ExportText:
	default:
		return "", nil, fmt.Errorf("unknown export format %q", format)
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	var sb strings.Builder
	for i, ch := range h.chapters {
		if format == ExportMarkdown {
			fmt.Fprintf(&sb, "## Chapter %d\n\n%s\n", ch.Number, ch.Content)
		} else {
			fmt.Fprintf(&sb, "Chapter %d\n\n%s\n", ch.Number, ch.Content)
		}
		if i < len(h.chapters)-1 {
			sb.WriteString("\n")
		}
	}
	return sb.String(), nil, nil
}
