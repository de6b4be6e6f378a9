package engine

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/parlorgames/parlor/pkg/models"
)

// shouldGenerate evaluates the per-message story-generation rules in
// order. Any rule firing requests generation; an evaluation panic also
// defaults to generation so a bad rule never silences the narrator.
// Runs on the mailbox.
func (e *Engine) shouldGenerate(ctx context.Context, a *actor, storyID string, active *models.Chapter, message string) (fire bool) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Trigger evaluation panicked, defaulting to generate",
				"story_id", storyID, "panic", r)
			fire = true
		}
	}()

	cfg := e.config.StoryTrigger
	lower := strings.ToLower(message)

	// (a) A chapter with at most one global message always gets a reply.
	count, err := e.store.CountGlobalMessages(ctx, storyID, active.Number)
	if err != nil {
		slog.Warn("Trigger message count failed, defaulting to generate", "error", err)
		return true
	}
	if count <= 1 {
		return true
	}

	// (b) Every Nth message since the last AI output.
	if cfg.MessageThreshold > 0 && a.messagesSinceAI > 0 &&
		a.messagesSinceAI%cfg.MessageThreshold == 0 {
		return true
	}

	// (c) Action keywords.
	if containsAny(lower, cfg.ActionKeywords) {
		return true
	}
	// (d) Question phrasing.
	if containsAny(lower, cfg.QuestionTriggers) {
		return true
	}
	// (e) Dramatic or emotional beats.
	if containsAny(lower, cfg.DramaticKeywords) || containsAny(lower, cfg.EmotionKeywords) {
		return true
	}
	// (f) Long messages carry narrative weight.
	if cfg.LongMessageThreshold > 0 && len([]rune(message)) > cfg.LongMessageThreshold {
		return true
	}
	// (g) The narrator has been quiet too long.
	if d := cfg.TimeThreshold.Std(); d > 0 && !a.lastAIOutput.IsZero() &&
		time.Since(a.lastAIOutput) > d {
		return true
	}
	return false
}

func containsAny(haystack string, needles []string) bool {
	for _, n := range needles {
		if n != "" && strings.Contains(haystack, strings.ToLower(n)) {
			return true
		}
	}
	return false
}
