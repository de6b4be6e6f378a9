// Package queue serializes language-model calls behind a bounded pool
// of workers with priority scheduling and retry.
package queue

import (
	"context"

	"github.com/parlorgames/parlor/pkg/llm"
)

// Request priorities. Higher runs first; equal priorities run FIFO.
const (
	// PriorityBackground covers summaries and memory folding.
	PriorityBackground = 0
	// PriorityNormal covers chapter generation and random events.
	PriorityNormal = 5
	// PriorityInteractive covers story-machine dialogs and feedback
	// evaluation, where a player is actively waiting.
	PriorityInteractive = 10
)

// Call invokes the provider. The context carries the per-attempt
// timeout; implementations must return when it is done.
type Call func(ctx context.Context, provider llm.Provider) (*llm.Completion, error)

// Request is one unit of provider work.
type Request struct {
	// Label names the request in logs ("chapter_opening",
	// "feedback_eval", ...).
	Label string
	// Priority orders dispatch; see the Priority constants.
	Priority int
	// Call performs the provider interaction.
	Call Call
}

// task is a queued request plus its completion plumbing.
type task struct {
	req Request
	ctx context.Context
	// seq breaks priority ties FIFO.
	seq  uint64
	done chan result
	// index is maintained by the heap.
	index int
}

type result struct {
	completion *llm.Completion
	err        error
}
