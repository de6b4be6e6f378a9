package chapter

import (
	"context"
	"time"

	"github.com/parlorgames/parlor/pkg/models"
)

// TriggerReason names why auto-progression fired. The policy evaluates
// reasons in declaration order and returns the first that fires.
type TriggerReason string

// Trigger reasons, highest priority first.
const (
	TriggerNone             TriggerReason = ""
	TriggerWordCount        TriggerReason = "word_count"
	TriggerKeyEvents        TriggerReason = "key_events"
	TriggerMessageCount     TriggerReason = "message_count"
	TriggerTimeElapsed      TriggerReason = "time_elapsed"
	TriggerPlayerInactivity TriggerReason = "player_inactivity"
)

// CheckTriggers evaluates the auto-progression policy for the active
// chapter. lastActivity is the latest player message time in the room;
// a zero value disables the inactivity trigger.
func (m *Manager) CheckTriggers(ctx context.Context, storyID string, active *models.Chapter, lastActivity time.Time) (TriggerReason, error) {
	if m.config.WordCount > 0 && active.WordCount >= m.config.WordCount {
		return TriggerWordCount, nil
	}

	if m.config.KeyEvents > 0 {
		n, err := m.store.CountKeyEventsSince(ctx, storyID, active.StartTime)
		if err != nil {
			return TriggerNone, err
		}
		if n >= m.config.KeyEvents {
			return TriggerKeyEvents, nil
		}
	}

	if m.config.MessageCount > 0 {
		n, err := m.store.CountGlobalMessages(ctx, storyID, active.Number)
		if err != nil {
			return TriggerNone, err
		}
		if n >= m.config.MessageCount {
			return TriggerMessageCount, nil
		}
	}

	now := time.Now().UTC()
	if d := m.config.TimeElapsed.Std(); d > 0 && now.Sub(active.StartTime) >= d {
		return TriggerTimeElapsed, nil
	}
	if d := m.config.PlayerInactivity.Std(); d > 0 && !lastActivity.IsZero() && now.Sub(lastActivity) >= d {
		return TriggerPlayerInactivity, nil
	}
	return TriggerNone, nil
}
