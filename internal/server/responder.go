package server

import (
	"errors"
	"fmt"
	"net/http"
	"runtime/debug"

	"github.com/gin-gonic/gin"

	"github.com/vyrodovalexey/chattygw/internal/apierror"
	"github.com/vyrodovalexey/chattygw/internal/middleware"
	"github.com/vyrodovalexey/chattygw/internal/observability"
)

const (
	// payloadTooLargeMessage is the message of errors raised by the body limit.
	payloadTooLargeMessage = "request entity too large"

	originRejectedMessage = "origin not allowed"
)

// errorBoundary is the first gin middleware. It recovers panics and, once
// the chain returns, hands the last recorded error to the responder
// installed by the error-responder stage.
func (s *Server) errorBoundary(c *gin.Context) {
	defer func() {
		rec := recover()
		if rec == nil {
			return
		}
		if rec == http.ErrAbortHandler {
			panic(rec)
		}
		s.respond(c, fmt.Errorf("panic: %v\n%s", rec, debug.Stack()))
	}()

	c.Next()

	if len(c.Errors) > 0 {
		s.respond(c, c.Errors.Last().Err)
	}
}

func (s *Server) respond(c *gin.Context, err error) {
	if s.responder == nil {
		return
	}
	s.responder(c, err)
}

// respondError is the global error responder.
func (s *Server) respondError(c *gin.Context, err error) {
	logger := s.logger.WithContext(c.Request.Context())

	r, known := apierror.As(err)
	if !known {
		var maxBytes *http.MaxBytesError
		if errors.As(err, &maxBytes) {
			r, known = apierror.NewPayloadTooLargeError(payloadTooLargeMessage), true
		}
	}

	if known {
		logger.Error("request failed",
			observability.String("message", r.Message()),
			observability.Int("status_code", r.StatusCode()),
			observability.String("path", c.Request.URL.Path),
		)
	} else {
		logger.Error("unhandled error",
			observability.String("path", c.Request.URL.Path),
			observability.Error(err),
		)
		r = apierror.Generic()
	}

	if s.metrics != nil {
		s.metrics.RecordErrorResponse(errorKind(r))
	}

	if c.Writer.Written() {
		logger.Warn("response already written, error not sent",
			observability.Int("status_code", c.Writer.Status()),
		)
		c.Abort()
		return
	}
	c.AbortWithStatusJSON(r.StatusCode(), r.Serialize())
}

func errorKind(r apierror.Raisable) string {
	if e, ok := r.(*apierror.Error); ok {
		return e.Kind().String()
	}
	return "custom"
}

// notFound answers requests no route matched. It bypasses the taxonomy.
func notFound(c *gin.Context) {
	url := c.Request.RequestURI
	if url == "" {
		url = c.Request.URL.RequestURI()
	}
	c.JSON(http.StatusNotFound, gin.H{"message": url + " not found"})
}

// originGuard refuses state-changing requests the origin policy marked
// as foreign. Safe methods run without CORS headers, so the browser keeps
// their responses from the foreign page. Unmatched paths still get 404.
func originGuard(c *gin.Context) {
	if c.FullPath() != "" && middleware.OriginRejected(c.Request.Context()) && !isSafeMethod(c.Request.Method) {
		_ = c.Error(apierror.NewNotAuthorizedError(originRejectedMessage))
		c.Abort()
		return
	}
	c.Next()
}

func isSafeMethod(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return true
	}
	return false
}

// bodyLimit rejects declared oversized bodies up front and caps the rest
// while they are read. Unmatched paths are left to the not-found responder.
func bodyLimit(limit int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if limit <= 0 || c.Request.Body == nil || c.FullPath() == "" {
			c.Next()
			return
		}
		if c.Request.ContentLength > limit {
			_ = c.Error(apierror.NewPayloadTooLargeError(payloadTooLargeMessage))
			c.Abort()
			return
		}
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, limit)
		c.Next()
	}
}

// routeLabel reports the matched route pattern to the request metrics.
func routeLabel(c *gin.Context) {
	if route := c.FullPath(); route != "" {
		observability.SetRoute(c.Request.Context(), route)
	}
	c.Next()
}
