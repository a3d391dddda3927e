package bridge

import (
	"context"
	"encoding/json"
)

// Packet is one broadcast as it travels over the broker channel.
type Packet struct {
	// Node is the id of the publishing process.
	Node string `json:"node"`
	// Room limits delivery to members of a room; empty means everyone.
	Room   string          `json:"room,omitempty"`
	Event  string          `json:"event"`
	Data   json.RawMessage `json:"data,omitempty"`
	Except []string        `json:"except,omitempty"`
}

// Adapter carries local broadcasts to the other processes.
type Adapter interface {
	Publish(ctx context.Context, p Packet) error
}

// Target is the narrow broadcast hook a transport server exposes to the
// bridge.
type Target interface {
	// UseAdapter registers the adapter that receives every local
	// broadcast.
	UseAdapter(a Adapter)
	// Deliver replays a foreign packet to locally connected clients.
	Deliver(p Packet)
}
