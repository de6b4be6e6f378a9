// Package protocol defines the inbound command surface, outbound event
// names, and the error codes visible to clients. The transport (HTTP,
// WebSocket, ...) frames these; the engine consumes and produces them.
package protocol

// ErrorCode is a machine-readable failure class returned on command
// callbacks and error events.
type ErrorCode string

// Client-visible error codes.
const (
	CodeMissingParameters   ErrorCode = "MISSING_PARAMETERS"
	CodeInvalidInput        ErrorCode = "INVALID_INPUT"
	CodeNotInRoom           ErrorCode = "NOT_IN_ROOM"
	CodeRoomNotFound        ErrorCode = "ROOM_NOT_FOUND"
	CodePermissionDenied    ErrorCode = "PERMISSION_DENIED"
	CodeEmptyMessage        ErrorCode = "EMPTY_MESSAGE"
	CodeMessageTooLong      ErrorCode = "MESSAGE_TOO_LONG"
	CodeInvalidMessageType  ErrorCode = "INVALID_MESSAGE_TYPE"
	CodeMissingRecipient    ErrorCode = "MISSING_RECIPIENT"
	CodeRequestTimeout      ErrorCode = "REQUEST_TIMEOUT"
	CodeRateLimitExceeded   ErrorCode = "RATE_LIMIT_EXCEEDED"
	CodeProviderUnavailable ErrorCode = "PROVIDER_UNAVAILABLE"
	CodeAIServiceError      ErrorCode = "AI_SERVICE_ERROR"
	CodeInternalError       ErrorCode = "INTERNAL_ERROR"
)

// CommandError carries a protocol error code with a human-readable
// message. It is returned synchronously on the command callback; it is
// never broadcast.
type CommandError struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
}

func (e *CommandError) Error() string {
	return string(e.Code) + ": " + e.Message
}

// NewError builds a CommandError.
func NewError(code ErrorCode, message string) *CommandError {
	return &CommandError{Code: code, Message: message}
}
