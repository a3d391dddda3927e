package apierror

import (
	"errors"
	"fmt"
	"net/http"
)

// statusError is the status label shared by all current kinds.
const statusError = "Error"

// Kind identifies one member of the closed error taxonomy.
type Kind int

const (
	// KindValidation is malformed input rejected by request validation.
	KindValidation Kind = iota
	// KindBadRequest is a generic client error.
	KindBadRequest
	// KindNotFound is a missing resource.
	KindNotFound
	// KindNotAuthorized is a missing or invalid credential.
	KindNotAuthorized
	// KindPayloadTooLarge is a request body over the configured limit.
	KindPayloadTooLarge
	// KindInternal is a server-side failure.
	KindInternal
)

// kindSpec holds the constants fixed for a kind.
type kindSpec struct {
	name       string
	statusCode int
	status     string
}

var kindSpecs = map[Kind]kindSpec{
	KindValidation:      {name: "validation", statusCode: http.StatusBadRequest, status: statusError},
	KindBadRequest:      {name: "bad_request", statusCode: http.StatusBadRequest, status: statusError},
	KindNotFound:        {name: "not_found", statusCode: http.StatusNotFound, status: statusError},
	KindNotAuthorized:   {name: "not_authorized", statusCode: http.StatusUnauthorized, status: statusError},
	KindPayloadTooLarge: {name: "payload_too_large", statusCode: http.StatusRequestEntityTooLarge, status: statusError},
	KindInternal:        {name: "internal", statusCode: http.StatusInternalServerError, status: statusError},
}

// Kinds returns every kind of the taxonomy in declaration order.
func Kinds() []Kind {
	return []Kind{
		KindValidation,
		KindBadRequest,
		KindNotFound,
		KindNotAuthorized,
		KindPayloadTooLarge,
		KindInternal,
	}
}

// String returns the kind name used in logs and metrics.
func (k Kind) String() string {
	if spec, ok := kindSpecs[k]; ok {
		return spec.name
	}
	return "unknown"
}

// Serialized is the wire-visible projection of a Raisable.
type Serialized struct {
	Message    string `json:"message"`
	StatusCode int    `json:"statusCode"`
	Status     string `json:"status"`
}

// Raisable is implemented by every error the responder can translate.
type Raisable interface {
	error
	StatusCode() int
	Status() string
	Message() string
	Serialize() Serialized
}

// Error is the single concrete Raisable. Its status code and status
// label are taken from the kind at construction and never change.
type Error struct {
	kind       Kind
	statusCode int
	status     string
	message    string
}

var _ Raisable = (*Error)(nil)

// New creates an error of the given kind. Unknown kinds are treated as
// KindInternal.
func New(kind Kind, message string) *Error {
	spec, ok := kindSpecs[kind]
	if !ok {
		kind = KindInternal
		spec = kindSpecs[KindInternal]
	}
	return &Error{
		kind:       kind,
		statusCode: spec.statusCode,
		status:     spec.status,
		message:    message,
	}
}

// NewValidationError creates a KindValidation error.
func NewValidationError(message string) *Error {
	return New(KindValidation, message)
}

// NewBadRequestError creates a KindBadRequest error.
func NewBadRequestError(message string) *Error {
	return New(KindBadRequest, message)
}

// NewNotFoundError creates a KindNotFound error.
func NewNotFoundError(message string) *Error {
	return New(KindNotFound, message)
}

// NewNotAuthorizedError creates a KindNotAuthorized error.
func NewNotAuthorizedError(message string) *Error {
	return New(KindNotAuthorized, message)
}

// NewPayloadTooLargeError creates a KindPayloadTooLarge error.
func NewPayloadTooLargeError(message string) *Error {
	return New(KindPayloadTooLarge, message)
}

// NewInternalError creates a KindInternal error.
func NewInternalError(message string) *Error {
	return New(KindInternal, message)
}

// Newf creates an error of the given kind with a formatted message.
func Newf(kind Kind, format string, args ...any) *Error {
	return New(kind, fmt.Sprintf(format, args...))
}

// Kind returns the taxonomy member of the error.
func (e *Error) Kind() Kind {
	return e.kind
}

// StatusCode returns the HTTP status code fixed for the kind.
func (e *Error) StatusCode() int {
	return e.statusCode
}

// Status returns the status label fixed for the kind.
func (e *Error) Status() string {
	return e.status
}

// Message returns the message given at construction.
func (e *Error) Message() string {
	return e.message
}

// Error implements the error interface.
func (e *Error) Error() string {
	return e.message
}

// Serialize returns the wire projection. It never fails.
func (e *Error) Serialize() Serialized {
	return Serialized{
		Message:    e.message,
		StatusCode: e.statusCode,
		Status:     e.status,
	}
}

// As finds the first Raisable in err's chain.
func As(err error) (Raisable, bool) {
	if err == nil {
		return nil, false
	}
	var r Raisable
	if errors.As(err, &r) {
		return r, true
	}
	return nil, false
}

// genericInternalMessage is what clients see for failures outside the
// taxonomy.
const genericInternalMessage = "Internal Server Error"

// Generic returns the InternalError sent to clients in place of an
// unrecognized failure. It carries no detail from the original error.
func Generic() *Error {
	return NewInternalError(genericInternalMessage)
}

// Translate maps any error to the Raisable a client may see. Raisables
// pass through unchanged; everything else becomes Generic(). The second
// return value reports whether err was recognized.
func Translate(err error) (Raisable, bool) {
	if r, ok := As(err); ok {
		return r, true
	}
	return Generic(), false
}
