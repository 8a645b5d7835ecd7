// Package server exposes the player's named-operation contract over
// HTTP: POST /rpc carries {method, args} requests, GET /events streams
// session events as server-sent events.
package server

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/chihoc/midisf"
)

// Player is the surface the server drives.
type Player interface {
	Invoke(method string, args map[string]any) (any, error)
	Subscribe() (string, <-chan midisf.Event)
	Unsubscribe(id string)
	Interrupted() bool
}

// Server wraps a gin router around one player.
type Server struct {
	player Player
	router *gin.Engine
}

// New builds the router.
func New(player Player) *Server {
	s := &Server{player: player}

	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/health", s.handleHealth)
	r.POST("/rpc", s.handleRPC)
	r.GET("/events", s.handleEvents)

	s.router = r
	return s
}

// Handler returns the underlying http.Handler, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves on addr until the listener fails.
func (s *Server) Run(addr string) error {
	return s.router.Run(addr)
}

type rpcRequest struct {
	Method string         `json:"method" binding:"required"`
	Args   map[string]any `json:"args"`
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":      "ok",
		"interrupted": s.player.Interrupted(),
	})
}

func (s *Server) handleRPC(c *gin.Context) {
	var req rpcRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result, err := s.player.Invoke(req.Method, req.Args)
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"result": result})
}

func (s *Server) handleEvents(c *gin.Context) {
	id, events := s.player.Subscribe()
	defer s.player.Unsubscribe(id)

	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Stream(func(w io.Writer) bool {
		select {
		case ev, ok := <-events:
			if !ok {
				return false
			}
			c.SSEvent("message", ev)
			return true
		case <-c.Request.Context().Done():
			return false
		}
	})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, midisf.ErrInvalidArguments),
		errors.Is(err, midisf.ErrInvalidChannel):
		return http.StatusBadRequest
	case errors.Is(err, midisf.ErrInvalidHandle),
		errors.Is(err, midisf.ErrHandleNotFound):
		return http.StatusNotFound
	case errors.Is(err, midisf.ErrEngineStartFailed),
		errors.Is(err, midisf.ErrSoundfontLoadFailed):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}
