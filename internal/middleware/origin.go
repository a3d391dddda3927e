package middleware

import (
	"context"
	"net/http"
	"strings"
)

// AllowedMethods is the fixed method allow-list of the origin policy.
var AllowedMethods = []string{
	http.MethodGet,
	http.MethodPost,
	http.MethodPut,
	http.MethodDelete,
	http.MethodOptions,
}

// PreflightStatus is the status of an accepted preflight response.
const PreflightStatus = http.StatusOK

// OriginConfig configures the origin policy.
type OriginConfig struct {
	// AllowOrigin is the single origin that may issue credentialed
	// cross-origin requests.
	AllowOrigin string

	// OnReject is called once for every request carrying a foreign
	// Origin. Optional.
	OnReject func(r *http.Request)
}

type originRejectedKey struct{}

// OriginRejected reports whether the origin policy marked the request as
// coming from a disallowed origin. Downstream handlers, including the
// websocket upgrader, must refuse marked requests.
func OriginRejected(ctx context.Context) bool {
	v, _ := ctx.Value(originRejectedKey{}).(bool)
	return v
}

// RequestOrigin returns the Origin header or "" for same-origin requests.
func RequestOrigin(r *http.Request) string {
	return r.Header.Get(HeaderOrigin)
}

// originPolicy holds the pre-computed header values.
type originPolicy struct {
	allowOrigin  string
	allowMethods string
	onReject     func(r *http.Request)
}

func newOriginPolicy(cfg OriginConfig) *originPolicy {
	return &originPolicy{
		allowOrigin:  strings.TrimSuffix(cfg.AllowOrigin, "/"),
		allowMethods: strings.Join(AllowedMethods, ","),
		onReject:     cfg.OnReject,
	}
}

// isOriginAllowed compares origins the way browsers serialize them:
// scheme and host, case-insensitive, no trailing slash.
func (p *originPolicy) isOriginAllowed(origin string) bool {
	return strings.EqualFold(strings.TrimSuffix(origin, "/"), p.allowOrigin)
}

func (p *originPolicy) setHeaders(w http.ResponseWriter, origin string) {
	h := w.Header()
	h.Set(HeaderAllowOrigin, origin)
	h.Set(HeaderAllowCredentials, "true")
	h.Add(HeaderVary, HeaderOrigin)
}

func isPreflight(r *http.Request) bool {
	return r.Method == http.MethodOptions && r.Header.Get(HeaderRequestMethod) != ""
}

// Origin returns the origin policy middleware.
//
// Requests without an Origin header pass untouched. A matching origin
// gets the CORS response headers; a matching preflight is answered with
// PreflightStatus. A foreign origin gets no CORS headers and the request
// is marked so OriginRejected reports true; a foreign preflight ends with
// 403.
func Origin(cfg OriginConfig) func(http.Handler) http.Handler {
	policy := newOriginPolicy(cfg)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := RequestOrigin(r)
			if origin == "" {
				next.ServeHTTP(w, r)
				return
			}

			if !policy.isOriginAllowed(origin) {
				if policy.onReject != nil {
					policy.onReject(r)
				}
				if isPreflight(r) {
					w.WriteHeader(http.StatusForbidden)
					return
				}
				ctx := context.WithValue(r.Context(), originRejectedKey{}, true)
				next.ServeHTTP(w, r.WithContext(ctx))
				return
			}

			policy.setHeaders(w, origin)

			if isPreflight(r) {
				w.Header().Set(HeaderAllowMethods, policy.allowMethods)
				if reqHeaders := r.Header.Get(HeaderRequestHeaders); reqHeaders != "" {
					w.Header().Set(HeaderAllowHeaders, reqHeaders)
					w.Header().Add(HeaderVary, HeaderRequestHeaders)
				}
				w.Header().Set("Content-Length", "0")
				w.WriteHeader(PreflightStatus)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
