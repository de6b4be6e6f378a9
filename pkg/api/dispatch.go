package api

import (
	"context"
	"encoding/json"

	"github.com/parlorgames/parlor/pkg/protocol"
)

// Commands is the room command surface the API dispatches into.
// Implemented by the engine.
type Commands interface {
	CreateRoom(ctx context.Context, cmd protocol.CreateRoom) (*protocol.RoomResult, error)
	JoinRoom(ctx context.Context, cmd protocol.JoinRoom) (*protocol.RoomResult, error)
	LeaveRoom(ctx context.Context, cmd protocol.LeaveRoom) (*protocol.RoomResult, error)
	InitializeStory(ctx context.Context, cmd protocol.InitializeStory) (*protocol.RoomResult, error)
	SendMessage(ctx context.Context, cmd protocol.SendMessage) (*protocol.MessageResult, error)
	GetMessages(ctx context.Context, cmd protocol.GetMessages) (*protocol.MessagesResult, error)
	GetRoomStatus(ctx context.Context, cmd protocol.GetRoomStatus) (*protocol.RoomResult, error)
	GetHistory(ctx context.Context, cmd protocol.GetHistory) (*protocol.HistoryResult, error)
	PauseRoom(ctx context.Context, cmd protocol.PauseRoom) (*protocol.RoomResult, error)
	ResumeRoom(ctx context.Context, cmd protocol.ResumeRoom) (*protocol.RoomResult, error)
	EndRoom(ctx context.Context, cmd protocol.EndRoom) (*protocol.RoomResult, error)
}

// dispatch decodes a command frame and routes it to the engine. Unknown
// actions and malformed payloads come back as CommandErrors so the
// connection layer can report them uniformly.
func dispatch(ctx context.Context, commands Commands, action string, data json.RawMessage) (any, error) {
	switch action {
	case "create_room":
		return decodeAndRun(ctx, data, commands.CreateRoom)
	case "join_room":
		return decodeAndRun(ctx, data, commands.JoinRoom)
	case "leave_room":
		return decodeAndRun(ctx, data, commands.LeaveRoom)
	case "initialize_story":
		return decodeAndRun(ctx, data, commands.InitializeStory)
	case "send_message":
		return decodeAndRun(ctx, data, commands.SendMessage)
	case "get_messages":
		return decodeAndRun(ctx, data, commands.GetMessages)
	case "get_room_status":
		return decodeAndRun(ctx, data, commands.GetRoomStatus)
	case "get_history":
		return decodeAndRun(ctx, data, commands.GetHistory)
	case "pause_room":
		return decodeAndRun(ctx, data, commands.PauseRoom)
	case "resume_room":
		return decodeAndRun(ctx, data, commands.ResumeRoom)
	case "end_room":
		return decodeAndRun(ctx, data, commands.EndRoom)
	default:
		return nil, protocol.NewError(protocol.CodeInvalidInput, "unknown action: "+action)
	}
}

func decodeAndRun[C, R any](ctx context.Context, data json.RawMessage, run func(context.Context, C) (*R, error)) (any, error) {
	var cmd C
	if len(data) > 0 {
		if err := json.Unmarshal(data, &cmd); err != nil {
			return nil, protocol.NewError(protocol.CodeInvalidInput, "malformed command payload")
		}
	}
	result, err := run(ctx, cmd)
	if err != nil {
		return nil, err
	}
	return result, nil
}
