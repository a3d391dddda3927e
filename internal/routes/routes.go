package routes

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/vyrodovalexey/chattygw/internal/apierror"
	"github.com/vyrodovalexey/chattygw/internal/security"
	"github.com/vyrodovalexey/chattygw/internal/transport"
)

// sessionNameKey is the session value holding the display name.
const sessionNameKey = "name"

// maxNameLength bounds display names.
const maxNameLength = 64

type sessionRequest struct {
	Name string `json:"name"`
}

type broadcastRequest struct {
	Room  string          `json:"room"`
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// Install registers the HTTP routes on r and the event handlers on ws.
func Install(r gin.IRouter, ws *transport.Server) {
	h := &handlers{ws: ws}

	api := r.Group("/api")
	api.GET("/status", h.status)
	api.GET("/session", h.getSession)
	api.POST("/session", h.setSession)
	api.DELETE("/session", h.clearSession)
	api.POST("/broadcast", h.broadcast)
	api.GET("/rooms/:room", h.room)
	api.GET("/search", h.search)

	ws.On(EventJoin, h.join)
	ws.On(EventLeave, h.leave)
	ws.On(EventMessage, h.message)
}

type handlers struct {
	ws *transport.Server
}

func (h *handlers) status(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"connections": h.ws.Count()})
}

func (h *handlers) getSession(c *gin.Context) {
	sess := security.SessionFromContext(c.Request.Context())
	c.JSON(http.StatusOK, gin.H{
		"new":    sess.IsNew(),
		"values": sess.Values(),
	})
}

func (h *handlers) setSession(c *gin.Context) {
	var req sessionRequest
	if err := bindJSON(c, &req); err != nil {
		_ = c.Error(err)
		return
	}
	name, err := validateName(req.Name)
	if err != nil {
		_ = c.Error(err)
		return
	}

	security.SessionFromContext(c.Request.Context()).Set(sessionNameKey, name)
	c.Status(http.StatusNoContent)
}

func (h *handlers) clearSession(c *gin.Context) {
	security.SessionFromContext(c.Request.Context()).Clear()
	c.Status(http.StatusNoContent)
}

func (h *handlers) broadcast(c *gin.Context) {
	sess := security.SessionFromContext(c.Request.Context())
	if sess.GetString(sessionNameKey) == "" {
		_ = c.Error(apierror.NewNotAuthorizedError("session has no name"))
		return
	}

	var req broadcastRequest
	if err := bindJSON(c, &req); err != nil {
		_ = c.Error(err)
		return
	}
	if req.Event == "" {
		_ = c.Error(apierror.NewValidationError("event is required"))
		return
	}
	if req.Event == transport.EventError {
		_ = c.Error(apierror.NewValidationError("event name is reserved"))
		return
	}

	if err := h.ws.Broadcast(c.Request.Context(), req.Room, req.Event, req.Data); err != nil {
		_ = c.Error(err)
		return
	}
	c.Status(http.StatusAccepted)
}

func (h *handlers) room(c *gin.Context) {
	room := c.Param("room")
	c.JSON(http.StatusOK, gin.H{"room": room, "members": h.ws.RoomSize(room)})
}

func (h *handlers) search(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"q": c.Query("q")})
}

// bindJSON decodes the body; an oversized body is returned unchanged so the
// responder can answer 413.
func bindJSON(c *gin.Context, v any) error {
	if err := c.ShouldBindJSON(v); err != nil {
		var maxBytes *http.MaxBytesError
		if errors.As(err, &maxBytes) {
			return err
		}
		return apierror.NewBadRequestError("invalid request body")
	}
	return nil
}

func validateName(name string) (string, error) {
	name = strings.TrimSpace(name)
	switch {
	case name == "":
		return "", apierror.NewValidationError("name is required")
	case len(name) > maxNameLength:
		return "", apierror.Newf(apierror.KindValidation, "name must be at most %d characters", maxNameLength)
	}
	return name, nil
}
