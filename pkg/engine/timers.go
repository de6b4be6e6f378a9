package engine

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/parlorgames/parlor/pkg/models"
	"github.com/parlorgames/parlor/pkg/store"
)

// scheduleRoomDeletion arms the empty-room timer. Runs on the mailbox.
func (e *Engine) scheduleRoomDeletion(a *actor) {
	grace := e.config.Engine.EmptyRoomGracePeriod.Std()
	if a.deleteTimer != nil {
		a.deleteTimer.Stop()
	}
	slog.Info("Room is empty, scheduling deletion",
		"room_id", a.roomID, "grace_period", grace)
	a.deleteTimer = time.AfterFunc(grace, func() {
		e.handleEmptyRoomTimeout(a.roomID)
	})
}

// cancelDeleteTimer disarms a pending deletion. Runs on the mailbox.
func (e *Engine) cancelDeleteTimer(a *actor) {
	if a.deleteTimer != nil {
		a.deleteTimer.Stop()
		a.deleteTimer = nil
		slog.Info("Empty-room deletion cancelled by join", "room_id", a.roomID)
	}
}

// handleEmptyRoomTimeout fires from the timer goroutine and re-enters
// through the mailbox. A join during the grace period leaves a member
// behind, which aborts the deletion even if the cancel lost the race.
func (e *Engine) handleEmptyRoomTimeout(roomID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	a, err := e.actorFor(roomID)
	if err != nil {
		return
	}
	var deleted bool
	err = a.apply(ctx, func() error {
		count, err := e.store.MemberCount(ctx, roomID)
		if err != nil {
			return err
		}
		if count > 0 {
			return nil
		}
		room, err := e.store.GetRoom(ctx, roomID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return nil
			}
			return err
		}
		if room.StoryID != "" {
			e.chapters.DropHistory(room.StoryID)
		}
		if err := e.store.DeleteRoom(ctx, roomID); err != nil {
			return err
		}
		deleted = true
		return nil
	})
	if err != nil {
		slog.Error("Empty-room deletion failed", "room_id", roomID, "error", err)
		return
	}
	if deleted {
		slog.Info("Empty room deleted", "room_id", roomID)
		e.dropActor(roomID)
	}
}

// scheduleFeedbackTimeout arms the per-chapter feedback window. Runs on
// the mailbox.
func (e *Engine) scheduleFeedbackTimeout(a *actor, chapterID string) {
	timeout := e.config.Engine.FeedbackTimeout.Std()
	if prev, ok := a.feedbackTimers[chapterID]; ok {
		prev.Stop()
	}
	a.feedbackTimers[chapterID] = time.AfterFunc(timeout, func() {
		e.handleFeedbackTimeout(a.roomID, chapterID)
	})
}

// cancelFeedbackTimeout disarms a chapter's timer after advancement.
// Runs on the mailbox.
func (e *Engine) cancelFeedbackTimeout(a *actor, chapterID string) {
	if t, ok := a.feedbackTimers[chapterID]; ok {
		t.Stop()
		delete(a.feedbackTimers, chapterID)
	}
}

// handleFeedbackTimeout force-completes the chapter's stragglers and
// advances the story. The chapter CAS makes the advancement fire at
// most once even if the timer races a progression-driven transition.
func (e *Engine) handleFeedbackTimeout(roomID, chapterID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	a, err := e.actorFor(roomID)
	if err != nil {
		return
	}

	var due bool
	err = a.apply(ctx, func() error {
		ch, err := e.store.GetChapter(ctx, chapterID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return nil
			}
			return err
		}
		if ch.Status != models.ChapterStatusActive {
			return nil
		}
		forced, err := e.store.MarkTimeoutPlayersComplete(ctx, chapterID, time.Now().UTC())
		if err != nil {
			return err
		}
		if forced > 0 {
			slog.Info("Feedback window expired, forcing completion",
				"room_id", roomID, "chapter_id", chapterID, "players_forced", forced)
			e.emitProgress(ctx, roomID, chapterID)
		}
		due = true
		return nil
	})
	if err != nil {
		slog.Error("Feedback timeout handling failed",
			"room_id", roomID, "chapter_id", chapterID, "error", err)
		return
	}
	if !due {
		return
	}

	if err := e.advanceStory(ctx, a, roomID, chapterID); err != nil &&
		!errors.Is(err, store.ErrStaleChapter) {
		slog.Error("Timeout-driven chapter advance failed",
			"room_id", roomID, "chapter_id", chapterID, "error", err)
	}
}
