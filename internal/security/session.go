package security

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jws"

	"github.com/vyrodovalexey/chattygw/internal/config"
	"github.com/vyrodovalexey/chattygw/internal/observability"
)

// ErrNoSigningKeys is returned by NewSessionStore without keys.
var ErrNoSigningKeys = errors.New("session store requires at least one signing key")

// Session decode results, used as metric labels.
const (
	sessionResultNone    = "none"
	sessionResultValid   = "valid"
	sessionResultInvalid = "invalid"
	sessionResultExpired = "expired"
)

// Session is the per-request view of the signed session cookie. It is
// safe for concurrent use; the websocket transport keeps a reference for
// the lifetime of the connection.
type Session struct {
	mu       sync.RWMutex
	values   map[string]any
	issuedAt time.Time
	isNew    bool
	modified bool
	cleared  bool
}

func newSession() *Session {
	return &Session{values: make(map[string]any), isNew: true}
}

// Get returns the value stored under key.
func (s *Session) Get(key string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[key]
	return v, ok
}

// GetString returns the value under key when it is a string.
func (s *Session) GetString(key string) string {
	v, _ := s.Get(key)
	str, _ := v.(string)
	return str
}

// Set stores a JSON-encodable value and marks the session modified.
func (s *Session) Set(key string, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = value
	s.modified = true
	s.cleared = false
}

// Delete removes key and marks the session modified.
func (s *Session) Delete(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.values[key]; ok {
		delete(s.values, key)
		s.modified = true
	}
}

// Clear drops every value; the response expires the cookie.
func (s *Session) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values = make(map[string]any)
	s.modified = true
	s.cleared = true
}

// Values returns a copy of the stored values.
func (s *Session) Values() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return maps.Clone(s.values)
}

// IsNew reports whether the request carried no valid session cookie.
func (s *Session) IsNew() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isNew
}

// IssuedAt returns when the cookie was signed; zero for new sessions.
func (s *Session) IssuedAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.issuedAt
}

// Modified reports whether the session must be written back.
func (s *Session) Modified() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.modified
}

type sessionKey struct{}

// SessionFromContext returns the session attached to the request. A
// request that never passed through the session stage gets an empty,
// detached session.
func SessionFromContext(ctx context.Context) *Session {
	if s, ok := ctx.Value(sessionKey{}).(*Session); ok {
		return s
	}
	return newSession()
}

// ContextWithSession attaches s to ctx.
func ContextWithSession(ctx context.Context, s *Session) context.Context {
	return context.WithValue(ctx, sessionKey{}, s)
}

// sessionPayload is the signed cookie content.
type sessionPayload struct {
	Values   map[string]any `json:"values"`
	IssuedAt int64          `json:"iat"`
}

// SessionStore signs and verifies session cookies.
type SessionStore struct {
	name    string
	keys    [][]byte
	maxAge  time.Duration
	secure  bool
	now     func() time.Time
	logger  observability.Logger
	metrics *Metrics
}

// SessionOption configures a SessionStore.
type SessionOption func(*SessionStore)

// WithSessionLogger sets the logger.
func WithSessionLogger(logger observability.Logger) SessionOption {
	return func(s *SessionStore) {
		s.logger = logger
	}
}

// WithSessionMetrics sets the metrics collector.
func WithSessionMetrics(m *Metrics) SessionOption {
	return func(s *SessionStore) {
		s.metrics = m
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) SessionOption {
	return func(s *SessionStore) {
		s.now = now
	}
}

// NewSessionStore creates a store from the session configuration. secure
// sets the Secure cookie flag.
func NewSessionStore(cfg config.SessionConfig, secure bool, opts ...SessionOption) (*SessionStore, error) {
	keys := make([][]byte, 0, len(cfg.Keys))
	for _, k := range cfg.Keys {
		if k != "" {
			keys = append(keys, []byte(k))
		}
	}
	if len(keys) == 0 {
		return nil, ErrNoSigningKeys
	}

	name := cfg.Name
	if name == "" {
		name = config.DefaultSessionName
	}

	s := &SessionStore{
		name:   name,
		keys:   keys,
		maxAge: cfg.MaxAge.Duration(),
		secure: secure,
		now:    time.Now,
		logger: observability.NopLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Name returns the cookie name.
func (s *SessionStore) Name() string {
	return s.name
}

// Load reads the session cookie of r. It never fails: a missing,
// malformed, unverifiable or expired cookie yields a new empty session.
func (s *SessionStore) Load(r *http.Request) *Session {
	c, err := r.Cookie(s.name)
	if err != nil || c.Value == "" {
		s.observe(sessionResultNone)
		return newSession()
	}

	sess, result := s.decode(c.Value)
	s.observe(result)
	if result != sessionResultValid {
		s.logger.Debug("discarding session cookie",
			observability.String("result", result),
			observability.String("remote_addr", r.RemoteAddr),
		)
		return newSession()
	}
	return sess
}

func (s *SessionStore) observe(result string) {
	if s.metrics != nil {
		s.metrics.sessionsLoaded.WithLabelValues(result).Inc()
	}
}

// Encode signs the session with the primary key.
func (s *SessionStore) Encode(sess *Session) (string, error) {
	payload, err := json.Marshal(sessionPayload{
		Values:   sess.Values(),
		IssuedAt: s.now().Unix(),
	})
	if err != nil {
		return "", fmt.Errorf("failed to encode session: %w", err)
	}

	signed, err := jws.Sign(payload, jws.WithKey(jwa.HS256, s.keys[0]))
	if err != nil {
		return "", fmt.Errorf("failed to sign session: %w", err)
	}
	return string(signed), nil
}

func (s *SessionStore) decode(token string) (*Session, string) {
	verifyOpts := make([]jws.VerifyOption, 0, len(s.keys))
	for _, k := range s.keys {
		verifyOpts = append(verifyOpts, jws.WithKey(jwa.HS256, k))
	}

	payload, err := jws.Verify([]byte(token), verifyOpts...)
	if err != nil {
		return nil, sessionResultInvalid
	}

	var p sessionPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return nil, sessionResultInvalid
	}

	issuedAt := time.Unix(p.IssuedAt, 0)
	if s.maxAge > 0 && s.now().After(issuedAt.Add(s.maxAge)) {
		return nil, sessionResultExpired
	}

	if p.Values == nil {
		p.Values = make(map[string]any)
	}
	return &Session{values: p.Values, issuedAt: issuedAt}, sessionResultValid
}

// Cookie returns the Set-Cookie value that persists sess.
func (s *SessionStore) Cookie(sess *Session) (*http.Cookie, error) {
	c := &http.Cookie{
		Name:     s.name,
		Path:     "/",
		HttpOnly: true,
		Secure:   s.secure,
		SameSite: http.SameSiteLaxMode,
	}

	sess.mu.RLock()
	cleared := sess.cleared
	sess.mu.RUnlock()

	if cleared {
		c.MaxAge = -1
		c.Expires = time.Unix(0, 0)
		return c, nil
	}

	value, err := s.Encode(sess)
	if err != nil {
		return nil, err
	}
	c.Value = value
	c.MaxAge = int(s.maxAge / time.Second)
	c.Expires = s.now().Add(s.maxAge)
	return c, nil
}

// Middleware attaches the session to every request and writes it back
// before the first byte of the response when it was modified.
func (s *SessionStore) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sess := s.Load(r)
			sw := &sessionResponseWriter{ResponseWriter: w, store: s, session: sess, request: r}

			next.ServeHTTP(sw, r.WithContext(ContextWithSession(r.Context(), sess)))

			sw.commit()
		})
	}
}

// sessionResponseWriter commits the session cookie on first write.
type sessionResponseWriter struct {
	http.ResponseWriter
	store     *SessionStore
	session   *Session
	request   *http.Request
	committed bool
}

func (w *sessionResponseWriter) commit() {
	if w.committed {
		return
	}
	w.committed = true
	if !w.session.Modified() {
		return
	}
	c, err := w.store.Cookie(w.session)
	if err != nil {
		w.store.logger.Error("failed to write session cookie",
			observability.Error(err),
			observability.String("path", w.request.URL.Path),
		)
		return
	}
	http.SetCookie(w.ResponseWriter, c)
}

func (w *sessionResponseWriter) WriteHeader(code int) {
	w.commit()
	w.ResponseWriter.WriteHeader(code)
}

func (w *sessionResponseWriter) Write(b []byte) (int, error) {
	w.commit()
	return w.ResponseWriter.Write(b)
}

// Flush implements http.Flusher.
func (w *sessionResponseWriter) Flush() {
	w.commit()
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Hijack implements http.Hijacker. Changes made after an upgrade are
// not written back.
func (w *sessionResponseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, http.ErrNotSupported
	}
	w.committed = true
	return h.Hijack()
}
