package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/gin-gonic/gin"

	"github.com/parlorgames/parlor/pkg/config"
	"github.com/parlorgames/parlor/pkg/database"
	"github.com/parlorgames/parlor/pkg/llm"
	"github.com/parlorgames/parlor/pkg/protocol"
	"github.com/parlorgames/parlor/pkg/queue"
)

const healthProbeTimeout = 5 * time.Second

// Server is the HTTP surface: health, a small REST read API, and the
// WebSocket endpoint that carries the command protocol.
type Server struct {
	commands     Commands
	conns        *ConnectionManager
	db           *database.Client
	availability *llm.AvailabilityCache
	queue        *queue.Queue
	rooms        RoomCounter
	cfg          *config.ServerConfig

	httpServer *http.Server
}

// RoomCounter reports how many rooms are live. Implemented by the
// engine.
type RoomCounter interface {
	RoomCount() int
}

// NewServer wires the server over its collaborators.
func NewServer(commands Commands, conns *ConnectionManager, db *database.Client, availability *llm.AvailabilityCache, q *queue.Queue, rooms RoomCounter, cfg *config.ServerConfig) *Server {
	return &Server{
		commands:     commands,
		conns:        conns,
		db:           db,
		availability: availability,
		queue:        q,
		rooms:        rooms,
		cfg:          cfg,
	}
}

// Router builds the gin engine with all routes attached.
func (s *Server) Router() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/healthz", s.health)
	router.GET("/ws", s.handleWS)

	apiGroup := router.Group("/api")
	{
		apiGroup.GET("/rooms/:id", s.getRoom)
		apiGroup.GET("/rooms/:id/messages", s.getMessages)
		apiGroup.GET("/stories/:id/history", s.getHistory)
	}
	return router
}

// Start serves until the listener fails or Shutdown is called.
func (s *Server) Start() error {
	s.httpServer = &http.Server{
		Addr:    s.cfg.Addr,
		Handler: s.Router(),
	}
	err := s.httpServer.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// health reports database and provider status. The provider being down
// degrades the report but keeps the process healthy: rooms and direct
// messages still work without it.
func (s *Server) health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), healthProbeTimeout)
	defer cancel()

	if err := s.db.Ping(ctx); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status":   "unhealthy",
			"database": "down",
			"error":    err.Error(),
		})
		return
	}

	providerStatus := "available"
	if health := s.availability.Check(ctx); !health.Available {
		providerStatus = "unavailable"
	}
	c.JSON(http.StatusOK, gin.H{
		"status":      "healthy",
		"database":    "up",
		"provider":    providerStatus,
		"connections": s.conns.ActiveConnections(),
		"queue_depth": s.queue.Depth(),
		"rooms":       s.rooms.RoomCount(),
	})
}

// handleWS upgrades to WebSocket and hands the connection to the
// ConnectionManager. Blocks for the connection's lifetime.
func (s *Server) handleWS(c *gin.Context) {
	conn, err := websocket.Accept(c.Writer, c.Request, &websocket.AcceptOptions{
		OriginPatterns:     s.cfg.AllowedWSOrigins,
		InsecureSkipVerify: len(s.cfg.AllowedWSOrigins) == 0,
	})
	if err != nil {
		return
	}
	s.conns.HandleConnection(c.Request.Context(), conn)
}

// getRoom handles GET /api/rooms/:id.
func (s *Server) getRoom(c *gin.Context) {
	result, err := s.commands.GetRoomStatus(c.Request.Context(), protocol.GetRoomStatus{
		RoomID: c.Param("id"),
	})
	if err != nil {
		writeCommandError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// getMessages handles GET /api/rooms/:id/messages?player_id=...
func (s *Server) getMessages(c *gin.Context) {
	result, err := s.commands.GetMessages(c.Request.Context(), protocol.GetMessages{
		RoomID:   c.Param("id"),
		PlayerID: c.Query("player_id"),
	})
	if err != nil {
		writeCommandError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// getHistory handles GET /api/stories/:id/history?format=...
func (s *Server) getHistory(c *gin.Context) {
	result, err := s.commands.GetHistory(c.Request.Context(), protocol.GetHistory{
		StoryID: c.Param("id"),
		Format:  c.Query("format"),
	})
	if err != nil {
		writeCommandError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// writeCommandError maps the protocol error codes onto HTTP statuses.
func writeCommandError(c *gin.Context, err error) {
	var cmdErr *protocol.CommandError
	if !errors.As(err, &cmdErr) {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	c.JSON(httpStatusFor(cmdErr.Code), gin.H{
		"code":  cmdErr.Code,
		"error": cmdErr.Message,
	})
}

func httpStatusFor(code protocol.ErrorCode) int {
	switch code {
	case protocol.CodeMissingParameters, protocol.CodeInvalidInput,
		protocol.CodeEmptyMessage, protocol.CodeMessageTooLong,
		protocol.CodeInvalidMessageType, protocol.CodeMissingRecipient:
		return http.StatusBadRequest
	case protocol.CodeRoomNotFound:
		return http.StatusNotFound
	case protocol.CodeNotInRoom, protocol.CodePermissionDenied:
		return http.StatusForbidden
	case protocol.CodeRateLimitExceeded:
		return http.StatusTooManyRequests
	case protocol.CodeRequestTimeout:
		return http.StatusGatewayTimeout
	case protocol.CodeProviderUnavailable, protocol.CodeAIServiceError:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
