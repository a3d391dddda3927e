// Package middleware provides net/http middleware shared by the
// application routes and the websocket transport: origin policy, request
// IDs, access logging and panic recovery.
//
// Middleware have the shape func(http.Handler) http.Handler and compose
// from the outside in:
//
//	h := middleware.Recovery(logger)(
//	    middleware.RequestID()(
//	        middleware.Logging(logger)(mux)))
package middleware
