// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file implements RedactingLogger, the access logger installed in front
// of the conversations API. Log lines must stay useful for debugging without
// leaking identifiers that grant access on their own: share-link tokens are
// bearer credentials (GET /shared/<token> needs nothing else), and query
// strings or headers may carry conversation UUIDs, emails, or phone numbers.
//
// Design goals:
//   - Default-safe: request and response bodies are never logged
//   - Scrubs share tokens, UUIDs, emails, and phone numbers from the
//     logged path, query string, and header values
//   - Fully masks credential headers (Authorization, Cookie, Set-Cookie,
//     plus anything listed in RedactOptions.MaskHeaders)
//   - Emits structured JSON via zerolog, leveled by response status
//
// Usage:
//
//	r := gin.New()
//	r.Use(middleware.RedactingLogger(middleware.RedactOptions{
//	    MaskHeaders: []string{"X-User-ID"},
//	}))
//
// Scrubbing reduces but does not eliminate leak risk: clients should still
// avoid putting personal data in query strings or headers where possible.
package middleware

import (
	"regexp"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

// RedactOptions configures extra scrub behavior for RedactingLogger.
//
// MaskHeaders lists additional HTTP header names whose values are replaced
// wholesale with "[REDACTED]". Matching is case-insensitive and merged with
// the built-in credential headers (Authorization, Cookie, Set-Cookie).
type RedactOptions struct {
	MaskHeaders []string
}

// Scrub patterns, compiled once at package init.
//
// shareTokenRE matches the 16-hex-char tokens minted for shared links. The
// word boundaries keep it from firing inside longer hex runs (a 32-char SHA
// fragment has no boundary at offset 16), and UUIDs are scrubbed first so
// their hex segments are gone before the token pattern runs.
var (
	uuidRE       = regexp.MustCompile(`(?i)\b[0-9a-f]{8}\-[0-9a-f]{4}\-[1-5][0-9a-f]{3}\-[89ab][0-9a-f]{3}\-[0-9a-f]{12}\b`)
	shareTokenRE = regexp.MustCompile(`(?i)\b[0-9a-f]{16}\b`)
	emailRE      = regexp.MustCompile(`(?i)\b[a-z0-9._%+\-]+@[a-z0-9.\-]+\.[a-z]{2,}\b`)
	// Digits-only phone pattern; hex characters never match, so UUID and
	// token remnants cannot trip it.
	phoneRE = regexp.MustCompile(`\b(?:\+?\d{1,3}[ .-]?)?(?:\(?\d{2,4}\)?[ .-]?)?\d{3,4}[ .-]?\d{4}\b`)
)

// scrub applies the redaction patterns to s. Order matters: UUID before
// share token (so UUID hex is consumed first), and phone last because it is
// the loosest pattern.
func scrub(s string) string {
	if s == "" {
		return s
	}
	out := uuidRE.ReplaceAllString(s, "[REDACTED:id]")
	out = shareTokenRE.ReplaceAllString(out, "[REDACTED:token]")
	out = emailRE.ReplaceAllString(out, "[REDACTED:email]")
	out = phoneRE.ReplaceAllString(out, "[REDACTED:phone]")
	return out
}

// RedactingLogger returns a Gin middleware that logs HTTP requests and
// responses with sensitive values scrubbed.
//
// Behavior:
//   - Logs method, path, query string, status, response size, latency,
//     and request headers (with scrubbing applied).
//   - The path label prefers the registered route pattern (c.FullPath(),
//     e.g. "/shared/:token"), which carries no parameter values. When no
//     route matched the raw URL path is logged instead, scrubbed, so an
//     unmatched request to /shared/<token> never writes the token.
//   - Fully masks credential headers and any extra opts.MaskHeaders entries.
//   - Logs at INFO by default, WARN for 4xx, ERROR for 5xx.
func RedactingLogger(opts RedactOptions) gin.HandlerFunc {
	// Header mask set (case-insensitive).
	masked := map[string]struct{}{
		"authorization": {},
		"cookie":        {},
		"set-cookie":    {},
	}
	for _, h := range opts.MaskHeaders {
		if h = strings.ToLower(strings.TrimSpace(h)); h != "" {
			masked[h] = struct{}{}
		}
	}

	return func(c *gin.Context) {
		start := time.Now()

		path := c.FullPath()
		if path == "" {
			// No route matched; the raw path may carry a share token or an
			// ID, so it goes through the scrubber like any other value.
			path = scrub(c.Request.URL.Path)
		}
		safeQuery := scrub(c.Request.URL.RawQuery)

		safeHeaders := make(map[string]string, len(c.Request.Header))
		for k, vv := range c.Request.Header {
			val := strings.Join(vv, ", ")
			if _, ok := masked[strings.ToLower(k)]; ok {
				safeHeaders[k] = "[REDACTED]"
				continue
			}
			safeHeaders[k] = scrub(val)
		}

		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()
		size := c.Writer.Size()

		reqID := c.Writer.Header().Get("X-Request-ID")
		if reqID == "" {
			reqID = c.GetHeader("X-Request-ID")
		}

		ev := log.Info()
		switch {
		case status >= 500:
			ev = log.Error()
		case status >= 400:
			ev = log.Warn()
		}

		ev.
			Str("request_id", reqID).
			Str("method", c.Request.Method).
			Str("path", path).
			Str("query", safeQuery).
			Int("status", status).
			Int("bytes", size).
			Dur("latency", latency).
			Interface("headers", safeHeaders).
			Msg("http_request")
	}
}
