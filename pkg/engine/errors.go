package engine

import (
	"context"
	"errors"
	"log/slog"

	"github.com/parlorgames/parlor/pkg/llm"
	"github.com/parlorgames/parlor/pkg/protocol"
	"github.com/parlorgames/parlor/pkg/store"
)

// commandError maps internal failures onto the client-visible code set.
// CommandErrors pass through; everything else is classified and logged.
func commandError(op string, err error) error {
	var cmdErr *protocol.CommandError
	if errors.As(err, &cmdErr) {
		return err
	}

	var valErr *store.ValidationError
	switch {
	case errors.As(err, &valErr):
		return protocol.NewError(protocol.CodeInvalidInput, valErr.Error())
	case errors.Is(err, store.ErrNotFound):
		return protocol.NewError(protocol.CodeRoomNotFound, "not found")
	case errors.Is(err, llm.ErrUnavailable):
		return protocol.NewError(protocol.CodeProviderUnavailable, "AI provider is unavailable")
	case errors.Is(err, llm.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return protocol.NewError(protocol.CodeRequestTimeout, "request timed out")
	case isProviderError(err):
		return protocol.NewError(protocol.CodeAIServiceError, "AI service failed")
	default:
		slog.Error("Internal command failure", "op", op, "error", err)
		return protocol.NewError(protocol.CodeInternalError, "internal error")
	}
}

func isProviderError(err error) bool {
	var pe *llm.ProviderError
	return errors.As(err, &pe)
}
