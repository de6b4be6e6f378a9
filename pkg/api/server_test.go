package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parlorgames/parlor/pkg/bus"
	"github.com/parlorgames/parlor/pkg/config"
	"github.com/parlorgames/parlor/pkg/database"
	"github.com/parlorgames/parlor/pkg/llm"
	"github.com/parlorgames/parlor/pkg/models"
	"github.com/parlorgames/parlor/pkg/protocol"
	"github.com/parlorgames/parlor/pkg/queue"
	"github.com/parlorgames/parlor/pkg/store"
)

// stubCommands answers every command with canned results or errors.
type stubCommands struct {
	room *models.Room
	err  error
}

func (s *stubCommands) roomResult() (*protocol.RoomResult, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &protocol.RoomResult{Room: s.room}, nil
}

func (s *stubCommands) CreateRoom(context.Context, protocol.CreateRoom) (*protocol.RoomResult, error) {
	return s.roomResult()
}
func (s *stubCommands) JoinRoom(context.Context, protocol.JoinRoom) (*protocol.RoomResult, error) {
	return s.roomResult()
}
func (s *stubCommands) LeaveRoom(context.Context, protocol.LeaveRoom) (*protocol.RoomResult, error) {
	return s.roomResult()
}
func (s *stubCommands) InitializeStory(context.Context, protocol.InitializeStory) (*protocol.RoomResult, error) {
	return s.roomResult()
}
func (s *stubCommands) SendMessage(context.Context, protocol.SendMessage) (*protocol.MessageResult, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &protocol.MessageResult{Room: s.room}, nil
}
func (s *stubCommands) GetMessages(context.Context, protocol.GetMessages) (*protocol.MessagesResult, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &protocol.MessagesResult{}, nil
}
func (s *stubCommands) GetRoomStatus(context.Context, protocol.GetRoomStatus) (*protocol.RoomResult, error) {
	return s.roomResult()
}
func (s *stubCommands) GetHistory(context.Context, protocol.GetHistory) (*protocol.HistoryResult, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &protocol.HistoryResult{StoryID: "s1", Format: "markdown", Content: "## Chapter 1"}, nil
}
func (s *stubCommands) PauseRoom(context.Context, protocol.PauseRoom) (*protocol.RoomResult, error) {
	return s.roomResult()
}
func (s *stubCommands) ResumeRoom(context.Context, protocol.ResumeRoom) (*protocol.RoomResult, error) {
	return s.roomResult()
}
func (s *stubCommands) EndRoom(context.Context, protocol.EndRoom) (*protocol.RoomResult, error) {
	return s.roomResult()
}

func testStore(t *testing.T) (*store.Store, *database.Client) {
	t.Helper()
	client, err := database.NewClient(context.Background(), database.Config{Path: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })
	return store.New(client.DB()), client
}

func seedRoom(t *testing.T, st *store.Store, roomID string, playerIDs ...string) {
	t.Helper()
	ctx := context.Background()
	now := time.Now().UTC()
	members := make([]models.RoomMember, 0, len(playerIDs))
	for _, id := range playerIDs {
		_, err := st.EnsurePlayer(ctx, id, "player-"+id)
		require.NoError(t, err)
		members = append(members, models.RoomMember{
			PlayerID: id, Name: "player-" + id, Role: models.RolePlayer, JoinedAt: now,
		})
	}
	members[0].Role = models.RoleHost
	require.NoError(t, st.CreateRoom(ctx, &models.Room{
		ID: roomID, Name: "room", HostPlayerID: playerIDs[0],
		Status: models.RoomStatusWaiting, Members: members,
		CreatedAt: now, UpdatedAt: now,
	}))
}

type wsFixture struct {
	manager  *ConnectionManager
	bus      *bus.Bus
	store    *store.Store
	commands *stubCommands
	server   *httptest.Server
}

func setupWS(t *testing.T) *wsFixture {
	t.Helper()
	st, _ := testStore(t)
	b := bus.New()
	commands := &stubCommands{room: &models.Room{ID: "r1", Name: "room"}}
	manager := NewConnectionManager(commands, b, st, 5*time.Second)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
		if err != nil {
			t.Logf("WebSocket accept error: %v", err)
			return
		}
		manager.HandleConnection(r.Context(), conn)
	}))
	t.Cleanup(server.Close)
	return &wsFixture{manager: manager, bus: b, store: st, commands: commands, server: server}
}

func connectWS(t *testing.T, server *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + server.URL[len("http"):]
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close(websocket.StatusNormalClosure, "") })
	return conn
}

func writeFrame(t *testing.T, conn *websocket.Conn, frame ClientFrame) {
	t.Helper()
	data, err := json.Marshal(frame)
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, conn.Write(ctx, websocket.MessageText, data))
}

func readFrame(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, data, err := conn.Read(ctx)
	require.NoError(t, err)
	var msg map[string]any
	require.NoError(t, json.Unmarshal(data, &msg))
	return msg
}

func TestConnectionEstablished(t *testing.T) {
	fix := setupWS(t)
	conn := connectWS(t, fix.server)

	msg := readFrame(t, conn)
	assert.Equal(t, frameEstablished, msg["type"])
	assert.Eventually(t, func() bool { return fix.manager.ActiveConnections() == 1 },
		time.Second, 10*time.Millisecond)
}

func TestCommandRoundtrip(t *testing.T) {
	fix := setupWS(t)
	conn := connectWS(t, fix.server)
	readFrame(t, conn) // connection.established

	writeFrame(t, conn, ClientFrame{
		ID:     "req-1",
		Action: "create_room",
		Data:   json.RawMessage(`{"name":"room","player_id":"p1","username":"Alice"}`),
	})

	msg := readFrame(t, conn)
	assert.Equal(t, frameResult, msg["type"])
	assert.Equal(t, "req-1", msg["id"])
	result := msg["data"].(map[string]any)
	room := result["room"].(map[string]any)
	assert.Equal(t, "r1", room["id"])
}

func TestCommandErrorFrame(t *testing.T) {
	fix := setupWS(t)
	fix.commands.err = protocol.NewError(protocol.CodePermissionDenied, "host only")
	conn := connectWS(t, fix.server)
	readFrame(t, conn)

	writeFrame(t, conn, ClientFrame{ID: "req-2", Action: "pause_room"})

	msg := readFrame(t, conn)
	assert.Equal(t, frameError, msg["type"])
	assert.Equal(t, "req-2", msg["id"])
	errObj := msg["error"].(map[string]any)
	assert.Equal(t, string(protocol.CodePermissionDenied), errObj["code"])
}

func TestUnknownAction(t *testing.T) {
	fix := setupWS(t)
	conn := connectWS(t, fix.server)
	readFrame(t, conn)

	writeFrame(t, conn, ClientFrame{Action: "warp_drive"})

	msg := readFrame(t, conn)
	assert.Equal(t, frameError, msg["type"])
	errObj := msg["error"].(map[string]any)
	assert.Equal(t, string(protocol.CodeInvalidInput), errObj["code"])
}

func TestSubscribeRequiresMembership(t *testing.T) {
	fix := setupWS(t)
	seedRoom(t, fix.store, "r1", "p1")
	conn := connectWS(t, fix.server)
	readFrame(t, conn)

	writeFrame(t, conn, ClientFrame{
		Action: actionSubscribe,
		Data:   json.RawMessage(`{"room_id":"r1","player_id":"outsider"}`),
	})
	msg := readFrame(t, conn)
	assert.Equal(t, frameError, msg["type"])
	errObj := msg["error"].(map[string]any)
	assert.Equal(t, string(protocol.CodeNotInRoom), errObj["code"])
}

func TestSubscribeDeliversRoomEvents(t *testing.T) {
	fix := setupWS(t)
	seedRoom(t, fix.store, "r1", "p1", "p2")
	conn := connectWS(t, fix.server)
	readFrame(t, conn)

	writeFrame(t, conn, ClientFrame{
		Action: actionSubscribe,
		Data:   json.RawMessage(`{"room_id":"r1","player_id":"p1"}`),
	})
	msg := readFrame(t, conn)
	require.Equal(t, frameSubscribed, msg["type"])
	require.Equal(t, "r1", msg["room_id"])

	// Room-scoped event reaches the subscriber.
	fix.bus.Emit(bus.Room("r1"), protocol.EventRoomUpdated,
		protocol.RoomUpdatedPayload{Room: &models.Room{ID: "r1"}})
	msg = readFrame(t, conn)
	assert.Equal(t, frameEvent, msg["type"])
	assert.Equal(t, protocol.EventRoomUpdated, msg["event"])

	// An event scoped to another player does not.
	fix.bus.Emit(bus.Player("r1", "p2"), protocol.EventNewMessage,
		protocol.NewMessagePayload{Message: &models.Message{ID: "m1"}})
	fix.bus.Emit(bus.Room("r1"), protocol.EventRoomUpdated,
		protocol.RoomUpdatedPayload{Room: &models.Room{ID: "r1"}})
	msg = readFrame(t, conn)
	assert.Equal(t, protocol.EventRoomUpdated, msg["event"])
}

func TestPingPong(t *testing.T) {
	fix := setupWS(t)
	conn := connectWS(t, fix.server)
	readFrame(t, conn)

	writeFrame(t, conn, ClientFrame{ID: "hb", Action: actionPing})
	msg := readFrame(t, conn)
	assert.Equal(t, framePong, msg["type"])
	assert.Equal(t, "hb", msg["id"])
}

type staticRoomCount int

func (c staticRoomCount) RoomCount() int { return int(c) }

func newTestServer(t *testing.T, commands Commands) (*Server, *database.Client) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	st, client := testStore(t)
	b := bus.New()
	registry := llm.NewRegistry(llm.NewFakeProvider("ok"))
	availability := llm.NewAvailabilityCache(registry, 0)
	q := queue.New(config.DefaultQueueConfig(), registry, availability)
	conns := NewConnectionManager(commands, b, st, 5*time.Second)
	cfg := &config.ServerConfig{Addr: ":0", WriteTimeout: config.Duration(5 * time.Second)}
	return NewServer(commands, conns, client, availability, q, staticRoomCount(2), cfg), client
}

func TestHealthEndpoint(t *testing.T) {
	server, _ := newTestServer(t, &stubCommands{room: &models.Room{ID: "r1"}})
	router := server.Router()

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, "up", body["database"])
	assert.Equal(t, "available", body["provider"])
	assert.Equal(t, float64(2), body["rooms"])
	assert.Equal(t, float64(0), body["queue_depth"])
}

func TestRESTErrorMapping(t *testing.T) {
	server, _ := newTestServer(t, &stubCommands{
		err: protocol.NewError(protocol.CodeRoomNotFound, "not found"),
	})
	router := server.Router()

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/rooms/missing", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/rooms/r1/messages?player_id=x", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRESTStoryHistory(t *testing.T) {
	server, _ := newTestServer(t, &stubCommands{})
	router := server.Router()

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet,
		"/api/stories/s1/history?format=markdown", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body protocol.HistoryResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "s1", body.StoryID)
	assert.Contains(t, body.Content, "## Chapter 1")
}

func TestRESTRoomStatus(t *testing.T) {
	server, _ := newTestServer(t, &stubCommands{room: &models.Room{ID: "r7", Name: "parlor"}})
	router := server.Router()

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/rooms/r7", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body protocol.RoomResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "r7", body.Room.ID)
}
