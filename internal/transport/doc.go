// Package transport implements the websocket transport server: it accepts
// upgraded connections, tracks them and their rooms, dispatches inbound
// event frames to registered handlers and fans broadcasts out to local
// connections.
//
// Frames are JSON objects in both directions:
//
//	{"event": "message", "data": {"room": "lobby", "text": "hi"}}
//
// A handler error is answered on the same connection with an "error"
// frame carrying the serialized error:
//
//	{"event": "error", "data": {"message": "room is required", "statusCode": 400, "status": "Error"}}
//
// The Server satisfies bridge.Target, so a pub/sub bridge can carry its
// broadcasts to other gateway processes.
package transport
