package middleware

import (
	"encoding/json"
	"net/http"
	"runtime/debug"

	"github.com/vyrodovalexey/chattygw/internal/apierror"
	"github.com/vyrodovalexey/chattygw/internal/observability"
)

// Recovery returns the outermost panic guard. Panics inside the
// application engine are handled by the error responder; this catches
// the rest and answers with the generic internal error body.
func Recovery(logger observability.Logger, opts ...RecoveryOption) func(http.Handler) http.Handler {
	o := recoveryOptions{}
	for _, opt := range opts {
		opt(&o)
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if rec == http.ErrAbortHandler { //nolint:errorlint // sentinel compared by identity
					panic(rec)
				}

				logger.WithContext(r.Context()).Error("panic recovered",
					observability.String("path", r.URL.Path),
					observability.String("method", r.Method),
					observability.Any("panic", rec),
					observability.String("stack", string(debug.Stack())),
				)
				if o.onPanic != nil {
					o.onPanic()
				}

				body := apierror.Generic()
				w.Header().Set(HeaderContentType, ContentTypeJSON)
				w.WriteHeader(body.StatusCode())
				_ = json.NewEncoder(w).Encode(body.Serialize())
			}()

			next.ServeHTTP(w, r)
		})
	}
}

type recoveryOptions struct {
	onPanic func()
}

// RecoveryOption configures Recovery.
type RecoveryOption func(*recoveryOptions)

// WithPanicHook registers a callback invoked for every recovered panic.
func WithPanicHook(fn func()) RecoveryOption {
	return func(o *recoveryOptions) {
		o.onPanic = fn
	}
}
