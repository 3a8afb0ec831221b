// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file provides SecurityHeaders, which hardens every response with a
// conservative header set. Most of the API serves JSON to programmatic
// clients, but shared-link reads (GET /shared/<token>) are routinely opened
// in browsers, and the token in that URL is a bearer credential. The
// always-on Referrer-Policy: no-referrer keeps such URLs out of Referer
// headers when a rendered transcript links elsewhere.
//
// Design notes:
//   - No CSP here; it only matters when serving HTML templates
//   - HSTS is opt-in and only emitted when the request actually came in
//     over HTTPS
//   - Header values are cheap to compute and idempotent per request
package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

// SecurityOptions configures the headers emitted by SecurityHeaders.
//
// EnableHSTS controls Strict-Transport-Security for HTTPS requests (never
// emitted for plain HTTP). Enable only when traffic is HTTPS end-to-end,
// including the proxy-to-app hop.
//
// HSTSMaxAge is the HSTS lifetime; when unset it defaults to 180 days.
//
// NoStore adds Cache-Control: no-store (plus legacy Pragma/Expires) so
// conversation content is never cached by intermediaries.
//
// EnablePolicy adds the browser feature policies (Permissions-Policy and
// X-Permitted-Cross-Domain-Policies). They only affect user agents and are
// harmless for API clients.
type SecurityOptions struct {
	EnableHSTS   bool
	HSTSMaxAge   time.Duration
	NoStore      bool
	EnablePolicy bool
}

// SecurityHeaders returns a Gin middleware attaching the hardening headers.
//
// Always sets:
//
//	X-Content-Type-Options: nosniff
//	X-Frame-Options: DENY
//	Referrer-Policy: no-referrer
//
// Optionally (per SecurityOptions): the browser feature policies, the
// no-store cache headers, and HSTS for HTTPS requests. When an X-Request-ID
// response header is present it is appended to Access-Control-Expose-Headers
// so browser clients can read the correlation ID.
//
// Safe to compose with the CORS and logging middleware in any order.
func SecurityHeaders(opt SecurityOptions) gin.HandlerFunc {
	maxAge := int(opt.HSTSMaxAge.Seconds())
	if maxAge <= 0 {
		maxAge = int((180 * 24 * time.Hour).Seconds())
	}
	hstsValue := "max-age=" + strconv.Itoa(maxAge) + "; includeSubDomains; preload"

	return func(c *gin.Context) {
		h := c.Writer.Header()

		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("Referrer-Policy", "no-referrer")

		if opt.EnablePolicy {
			h.Set("Permissions-Policy", "geolocation=(), microphone=(), camera=(), payment=()")
			h.Set("X-Permitted-Cross-Domain-Policies", "none")
		}

		if opt.NoStore {
			h.Set("Cache-Control", "no-store")
			h.Set("Pragma", "no-cache")
			h.Set("Expires", "0")
		}

		// Never for plain HTTP: a misapplied HSTS can lock browsers out of
		// a dev or proxy-terminated setup.
		if opt.EnableHSTS && isHTTPS(c.Request) {
			h.Set("Strict-Transport-Security", hstsValue)
		}

		if rid := h.Get("X-Request-ID"); rid != "" {
			const hdr = "Access-Control-Expose-Headers"
			cur := h.Get(hdr)
			switch {
			case cur == "":
				h.Set(hdr, "X-Request-ID")
			case !strings.Contains(cur, "X-Request-ID"):
				h.Set(hdr, cur+", X-Request-ID")
			}
		}

		c.Next()
	}
}

// isHTTPS reports whether the request used HTTPS, either directly
// (r.TLS != nil) or via a proxy that set X-Forwarded-Proto: https.
func isHTTPS(r *http.Request) bool {
	if r.TLS != nil {
		return true
	}
	return strings.EqualFold(r.Header.Get("X-Forwarded-Proto"), "https")
}
