package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/parlorgames/parlor/pkg/bus"
	"github.com/parlorgames/parlor/pkg/protocol"
	"github.com/parlorgames/parlor/pkg/store"
)

// ConnectionManager owns the WebSocket connections of this process.
// Each connection runs commands inline on its read loop and pumps
// subscribed room events from the egress bus.
type ConnectionManager struct {
	commands Commands
	bus      *bus.Bus
	store    *store.Store

	mu          sync.RWMutex
	connections map[string]*Connection

	writeTimeout time.Duration
}

// Connection is a single WebSocket client.
//
// subscriptions is touched only by the read loop that owns the
// connection and its deferred cleanup, so it needs no lock.
type Connection struct {
	ID            string
	Conn          *websocket.Conn
	subscriptions map[string]*roomSub
	ctx           context.Context
	cancel        context.CancelFunc
}

// roomSub is one room subscription on a connection.
type roomSub struct {
	playerID string
	cancel   func()
}

// NewConnectionManager creates the manager over the command surface and
// egress bus.
func NewConnectionManager(commands Commands, b *bus.Bus, st *store.Store, writeTimeout time.Duration) *ConnectionManager {
	return &ConnectionManager{
		commands:     commands,
		bus:          b,
		store:        st,
		connections:  make(map[string]*Connection),
		writeTimeout: writeTimeout,
	}
}

// HandleConnection runs a connection's lifecycle. Blocks until the
// WebSocket closes.
func (m *ConnectionManager) HandleConnection(parentCtx context.Context, conn *websocket.Conn) {
	ctx, cancel := context.WithCancel(parentCtx)
	c := &Connection{
		ID:            uuid.NewString(),
		Conn:          conn,
		subscriptions: make(map[string]*roomSub),
		ctx:           ctx,
		cancel:        cancel,
	}

	m.register(c)
	defer m.unregister(c)

	m.send(c, &ServerFrame{Type: frameEstablished, Data: map[string]string{"connection_id": c.ID}})

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return
		}
		var frame ClientFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			slog.Warn("Invalid WebSocket frame", "connection_id", c.ID, "error", err)
			continue
		}
		m.handleFrame(ctx, c, &frame)
	}
}

func (m *ConnectionManager) handleFrame(ctx context.Context, c *Connection, frame *ClientFrame) {
	switch frame.Action {
	case actionPing:
		m.send(c, &ServerFrame{ID: frame.ID, Type: framePong})

	case actionSubscribe:
		m.subscribe(ctx, c, frame)

	case actionUnsubscribe:
		var req subscribeRequest
		if err := json.Unmarshal(frame.Data, &req); err != nil || req.RoomID == "" {
			m.sendError(c, frame.ID, protocol.NewError(protocol.CodeMissingParameters, "room_id is required"))
			return
		}
		if sub, ok := c.subscriptions[req.RoomID]; ok {
			sub.cancel()
			delete(c.subscriptions, req.RoomID)
			m.markOffline(ctx, sub.playerID)
		}

	default:
		result, err := dispatch(ctx, m.commands, frame.Action, frame.Data)
		if err != nil {
			m.sendError(c, frame.ID, err)
			return
		}
		m.send(c, &ServerFrame{ID: frame.ID, Type: frameResult, Data: result})
	}
}

// subscribe attaches the connection to a room's event stream as one
// player. Only room members may subscribe; the check keeps private
// events from leaking to spectators.
func (m *ConnectionManager) subscribe(ctx context.Context, c *Connection, frame *ClientFrame) {
	var req subscribeRequest
	if err := json.Unmarshal(frame.Data, &req); err != nil || req.RoomID == "" || req.PlayerID == "" {
		m.sendError(c, frame.ID, protocol.NewError(protocol.CodeMissingParameters, "room_id and player_id are required"))
		return
	}
	room, err := m.store.GetRoom(ctx, req.RoomID)
	if err != nil {
		m.sendError(c, frame.ID, protocol.NewError(protocol.CodeRoomNotFound, "room not found"))
		return
	}
	if room.Member(req.PlayerID) == nil {
		m.sendError(c, frame.ID, protocol.NewError(protocol.CodeNotInRoom, "player is not a member of this room"))
		return
	}

	// Re-subscribing replaces the previous stream.
	if sub, ok := c.subscriptions[req.RoomID]; ok {
		sub.cancel()
	}
	events, cancel := m.bus.Subscribe(req.RoomID, req.PlayerID)
	c.subscriptions[req.RoomID] = &roomSub{playerID: req.PlayerID, cancel: cancel}

	if err := m.store.SetPlayerOnline(ctx, req.PlayerID, true); err != nil {
		slog.Warn("Failed to mark player online", "player_id", req.PlayerID, "error", err)
	}

	m.send(c, &ServerFrame{ID: frame.ID, Type: frameSubscribed, Room: req.RoomID})

	go m.pump(c, events)
}

// pump forwards bus events to the client until the stream or the
// connection closes.
func (m *ConnectionManager) pump(c *Connection, events <-chan bus.Event) {
	for {
		select {
		case <-c.ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			m.send(c, &ServerFrame{
				Type:  frameEvent,
				Event: ev.Name,
				Room:  ev.RoomID,
				Data:  ev.Payload,
			})
		}
	}
}

// ActiveConnections reports the live connection count.
func (m *ConnectionManager) ActiveConnections() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.connections)
}

func (m *ConnectionManager) register(c *Connection) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connections[c.ID] = c
}

func (m *ConnectionManager) unregister(c *Connection) {
	for _, sub := range c.subscriptions {
		sub.cancel()
		m.markOffline(context.Background(), sub.playerID)
	}
	m.mu.Lock()
	delete(m.connections, c.ID)
	m.mu.Unlock()

	c.cancel()
	_ = c.Conn.Close(websocket.StatusNormalClosure, "")
}

// markOffline is best effort. A player on two connections flips back to
// online on the next activity touch; the idle sweeper settles the rest.
func (m *ConnectionManager) markOffline(ctx context.Context, playerID string) {
	if err := m.store.SetPlayerOnline(ctx, playerID, false); err != nil {
		slog.Warn("Failed to mark player offline", "player_id", playerID, "error", err)
	}
}

func (m *ConnectionManager) sendError(c *Connection, id string, err error) {
	var cmdErr *protocol.CommandError
	if !errors.As(err, &cmdErr) {
		cmdErr = protocol.NewError(protocol.CodeInternalError, "internal error")
	}
	m.send(c, &ServerFrame{ID: id, Type: frameError, Error: cmdErr})
}

// send marshals and writes one frame with the write timeout.
func (m *ConnectionManager) send(c *Connection, frame *ServerFrame) {
	data, err := json.Marshal(frame)
	if err != nil {
		slog.Warn("Failed to marshal WebSocket frame", "connection_id", c.ID, "error", err)
		return
	}
	writeCtx, cancel := context.WithTimeout(c.ctx, m.writeTimeout)
	defer cancel()
	if err := c.Conn.Write(writeCtx, websocket.MessageText, data); err != nil {
		slog.Warn("Failed to send WebSocket frame", "connection_id", c.ID, "error", err)
	}
}
