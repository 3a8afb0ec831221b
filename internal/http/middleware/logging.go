// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file provides the request correlation and logging backbone of the
// conversations API:
//
//   - RequestID() gives every request a stable correlation ID, propagated
//     through X-Request-ID and echoed in error envelopes.
//   - Logger() emits a structured access log per request and attaches a
//     request-scoped zerolog.Logger so services can tag their own lines
//     with the same request and user identity (a message send produces
//     upstream-call and cache logs that must all correlate).
//   - Recovery() turns panics into the API's standard JSON 500 envelope
//     while keeping the correlation ID and logging the stack.
//   - LoggerFrom() fetches the request-scoped logger inside handlers, e.g.
//     lg.Warn().Str("conversation_id", id).Msg("idempotency check failed").
//
// Install order: RequestID, then Logger (or RedactingLogger), then Recovery,
// so panics and downstream logs carry the correlation ID. The query string
// is clipped to a fixed length to keep log lines bounded.
package middleware

import (
	"net/http"
	"runtime/debug"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	// requestIDKey is the Gin context key under which the request ID is stored.
	requestIDKey = "requestID"
	// requestIDHeader is the HTTP header used to propagate the correlation ID.
	requestIDHeader = "X-Request-ID"
	// maxQueryLogBytes caps how much of the raw query string gets logged.
	maxQueryLogBytes = 2048
)

// RequestID attaches (or propagates) a correlation identifier per request.
//
// An incoming X-Request-ID is reused (the header lookup is case-insensitive);
// otherwise a fresh UUIDv4 is generated. The ID is written to the response
// header and stored in the Gin context under "requestID". Install this first
// so everything downstream can rely on the ID.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		rid := c.GetHeader(requestIDHeader)
		if rid == "" {
			rid = uuid.NewString()
		}
		c.Set(requestIDKey, rid)
		c.Writer.Header().Set(requestIDHeader, rid)
		c.Next()
	}
}

// Logger writes a structured access log for each request and response.
//
// It records method, route path, remote IP, user agent, referer, the
// correlation ID, the acting user, request size, response status, latency,
// and bytes written. The user identity comes from the Gin context when auth
// middleware has set it, falling back to the X-User-ID header the API
// accepts for development setups.
//
// A request-scoped zerolog.Logger carrying the common fields is stored under
// the "logger" context key for LoggerFrom. Log level follows the outcome:
// error for 5xx or when the Gin context collected errors, warn for 4xx,
// info otherwise.
func Logger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		uid := ctxString(c, "userID")
		if uid == "" {
			uid = c.GetHeader("X-User-ID")
		}
		path := c.FullPath()
		if path == "" {
			// Route not matched (404).
			path = c.Request.URL.Path
		}

		l := log.With().
			Str("request_id", ctxString(c, requestIDKey)).
			Str("user_id", uid).
			Str("method", c.Request.Method).
			Str("path", path).
			Str("remote_ip", c.ClientIP()).
			Str("user_agent", c.Request.UserAgent()).
			Str("referer", c.Request.Referer()).
			Str("query", clip(c.Request.URL.RawQuery, maxQueryLogBytes)).
			// ContentLength is -1 when unknown.
			Int64("bytes_in", c.Request.ContentLength).
			Logger()

		c.Set("logger", &l)

		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()

		ev := l.With().
			Int("status", status).
			Dur("latency", latency).
			Int("bytes_out", c.Writer.Size()).
			Logger()

		switch {
		case len(c.Errors) > 0:
			ev.Error().Str("errors", c.Errors.String()).Msg("request")
		case status >= 500:
			ev.Error().Msg("request")
		case status >= 400:
			ev.Warn().Msg("request")
		default:
			ev.Info().Msg("request")
		}
	}
}

// Recovery intercepts panics, logs the stack trace, and answers with the
// API's JSON 500 envelope:
//
//	{ "request_id": "...", "code": "internal_error", "message": "internal server error" }
//
// If a handler already wrote part of a response, only the status is aborted;
// no JSON body gets appended to a partial one. Install after Logger so the
// panic log carries the request fields.
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if rec := recover(); rec != nil {
				rid := ctxString(c, requestIDKey)
				log.Error().
					Interface("panic", rec).
					Bytes("stack", debug.Stack()).
					Str("request_id", rid).
					Msg("panic recovered")

				if !c.Writer.Written() {
					c.Header("Content-Type", "application/json")
					c.Header(requestIDHeader, rid)
					c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
						"request_id": rid,
						"code":       "internal_error",
						"message":    "internal server error",
					})
					return
				}
				c.AbortWithStatus(http.StatusInternalServerError)
			}
		}()
		c.Next()
	}
}

// LoggerFrom returns the request-scoped zerolog.Logger attached by Logger().
// When none is present (Logger not installed, or a bare test context) it
// returns a logger derived from the global one, so callers never need a nil
// check.
func LoggerFrom(c *gin.Context) *zerolog.Logger {
	if v, ok := c.Get("logger"); ok {
		if lg, ok := v.(*zerolog.Logger); ok {
			return lg
		}
	}
	l := log.With().Logger()
	return &l
}

// ctxString reads a Gin context value as a string, returning "" when the key
// is absent or holds a non-string.
func ctxString(c *gin.Context, key string) string {
	if v, ok := c.Get(key); ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// clip returns s unchanged when it fits in max bytes, otherwise the first
// max bytes plus an ellipsis. max <= 0 disables clipping. Byte-based slicing
// can split a rune, which is acceptable for log output.
func clip(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	return s[:max] + "…"
}
