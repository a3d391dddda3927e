package transport

import (
	"encoding/json"

	"github.com/vyrodovalexey/chattygw/internal/apierror"
)

// EventError is the event name of error frames sent to clients.
const EventError = "error"

// Frame is one message on a websocket connection.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

func encodeFrame(event string, data json.RawMessage) ([]byte, error) {
	return json.Marshal(Frame{Event: event, Data: data})
}

func encodeErrorFrame(r apierror.Raisable) []byte {
	data, _ := json.Marshal(r.Serialize())
	msg, _ := encodeFrame(EventError, data)
	return msg
}

// marshalData turns any payload into raw JSON; raw JSON passes through.
func marshalData(data any) (json.RawMessage, error) {
	switch v := data.(type) {
	case nil:
		return nil, nil
	case json.RawMessage:
		return v, nil
	default:
		return json.Marshal(v)
	}
}
