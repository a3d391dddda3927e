// Package server wires the gateway process together in a fixed stage
// order:
//
//	security -> standard -> routes -> not-found -> error-responder -> gateway
//
// The application is a gin engine. Unmatched routes are answered by the
// not-found responder with {"message": "<url> not found"}; every error a
// route records with c.Error, and every panic, is translated by the error
// responder into the serialized form of an apierror.Raisable. Errors that
// are not Raisable reach the client only as a generic internal error.
package server
