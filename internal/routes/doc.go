// Package routes holds the application routes and websocket event
// handlers of the chat gateway.
//
// HTTP:
//
//	GET    /api/status          connection count of this process
//	GET    /api/session         the caller's session values
//	POST   /api/session         {"name": "..."} stores the display name
//	DELETE /api/session         clears the session
//	POST   /api/broadcast       {"room", "event", "data"} fans an event out
//	GET    /api/rooms/:room     local member count of a room
//	GET    /api/search?q=       echoes q as the handlers see it
//
// Websocket events: join, leave, message.
package routes
