package routes

import (
	"context"
	"encoding/json"
	"strings"
	"unicode/utf8"

	"github.com/vyrodovalexey/chattygw/internal/apierror"
	"github.com/vyrodovalexey/chattygw/internal/transport"
)

// Websocket event names.
const (
	EventJoin    = "join"
	EventJoined  = "joined"
	EventLeave   = "leave"
	EventLeft    = "left"
	EventMessage = "message"
)

// maxMessageLength bounds chat message text, in characters.
const maxMessageLength = 4096

type roomPayload struct {
	Room string `json:"room"`
}

type messagePayload struct {
	Room string `json:"room"`
	Text string `json:"text"`
}

// ChatMessage is the payload of message events delivered to clients.
type ChatMessage struct {
	From string `json:"from"`
	Name string `json:"name,omitempty"`
	Room string `json:"room"`
	Text string `json:"text"`
}

func decodeRoom(data json.RawMessage) (string, error) {
	var p roomPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return "", apierror.NewBadRequestError("invalid payload")
	}
	room := strings.TrimSpace(p.Room)
	if room == "" {
		return "", apierror.NewValidationError("room is required")
	}
	return room, nil
}

func (h *handlers) join(_ context.Context, c *transport.Conn, data json.RawMessage) error {
	room, err := decodeRoom(data)
	if err != nil {
		return err
	}
	c.Join(room)
	return c.Emit(EventJoined, roomPayload{Room: room})
}

func (h *handlers) leave(_ context.Context, c *transport.Conn, data json.RawMessage) error {
	room, err := decodeRoom(data)
	if err != nil {
		return err
	}
	c.Leave(room)
	return c.Emit(EventLeft, roomPayload{Room: room})
}

func (h *handlers) message(ctx context.Context, c *transport.Conn, data json.RawMessage) error {
	var p messagePayload
	if err := json.Unmarshal(data, &p); err != nil {
		return apierror.NewBadRequestError("invalid payload")
	}
	switch {
	case p.Room == "":
		return apierror.NewValidationError("room is required")
	case p.Text == "":
		return apierror.NewValidationError("text is required")
	case utf8.RuneCountInString(p.Text) > maxMessageLength:
		return apierror.NewPayloadTooLargeError("message is too long")
	}

	joined := false
	for _, r := range c.Rooms() {
		if r == p.Room {
			joined = true
			break
		}
	}
	if !joined {
		return apierror.NewNotAuthorizedError("join the room first")
	}

	return h.ws.Broadcast(ctx, p.Room, EventMessage, ChatMessage{
		From: c.ID(),
		Name: c.Session().GetString(sessionNameKey),
		Room: p.Room,
		Text: p.Text,
	})
}
