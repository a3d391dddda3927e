// Package apierror defines the closed set of client-facing error kinds
// returned by the gateway.
//
// Every kind carries a fixed HTTP status code and status label; only the
// message varies per instance. Request handlers raise these errors and
// never write them to the response themselves: the global error responder
// is the single place where a Raisable is turned into a wire response.
//
//	if body.Room == "" {
//	    _ = c.Error(apierror.NewValidationError("room is required"))
//	    return
//	}
//
// The wire projection is always the flat Serialized structure:
//
//	{"message":"room is required","statusCode":400,"status":"Error"}
package apierror
