// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file implements RedactingLogger, the access logger for the gateway's
// API surface. Almost every request to this service carries material that must
// not reach logs verbatim: the X-API-Key tenant credential, phone numbers in
// message-history filters, and session UUIDs in paths and queries. The logger
// masks the sensitive headers outright and pattern-scrubs phone numbers,
// emails, and UUIDs from whatever else it records. Request and response
// bodies are never logged.
//
// Usage:
//
//	r := gin.New()
//	r.Use(middleware.RedactingLogger(middleware.RedactOptions{}))
//
// X-API-Key, Authorization, and cookie headers are masked without any
// configuration; RedactOptions adds further headers on top.
//
// Scrubbing reduces, but does not eliminate, the chance of sensitive data
// reaching logs. Clients should still keep credentials out of query strings.
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
// MaskHeaders lists additional header names whose values are replaced with
// "[REDACTED]" wholesale. Matching is case-insensitive; the names merge with
// the built-in set (X-API-Key, Authorization, Cookie, Set-Cookie).
type RedactOptions struct {
	MaskHeaders []string
}

// RedactingLogger returns a Gin middleware that writes one structured access
// log line per request with sensitive values scrubbed.
//
// Each line records method, route path, query string, status, response size,
// latency, and the request headers. Masked headers are replaced entirely;
// every other logged string passes through regex substitution that redacts
// UUIDs, email addresses, and phone numbers. Severity follows the response:
// info for success, warn for 4xx, error for 5xx.
//
// UUIDs are redacted before phone numbers so the loose digit pattern cannot
// match the numeric segments of an id.
func RedactingLogger(opts RedactOptions) gin.HandlerFunc {
	// Compiled once per router, not per request.
	uuidRE := regexp.MustCompile(`(?i)\b[0-9a-f]{8}\-[0-9a-f]{4}\-[1-5][0-9a-f]{3}\-[89ab][0-9a-f]{3}\-[0-9a-f]{12}\b`)
	emailRE := regexp.MustCompile(`(?i)\b[a-z0-9._%+\-]+@[a-z0-9.\-]+\.[a-z]{2,}\b`)
	// Digits-only phone pattern. Matches the forms that show up in the
	// sender/recipient filters: "+306912345678", "30 691 234 5678",
	// "(691) 234-5678". Hex runs inside UUIDs never match because those are
	// already gone by the time this runs.
	phoneRE := regexp.MustCompile(`\b(?:\+?\d{1,3}[ .-]?)?(?:\(?\d{2,4}\)?[ .-]?)?\d{3,4}[ .-]?\d{4}\b`)

	redact := func(s string) string {
		if s == "" {
			return s
		}
		out := uuidRE.ReplaceAllString(s, "[REDACTED:id]")
		out = emailRE.ReplaceAllString(out, "[REDACTED:email]")
		out = phoneRE.ReplaceAllString(out, "[REDACTED:phone]")
		return out
	}

	// The tenant credential header is masked unconditionally; a gateway build
	// that logged API keys would hand every tenant's sessions to whoever
	// reads the logs.
	maskHeaders := map[string]struct{}{
		"x-api-key":     {},
		"authorization": {},
		"cookie":        {},
		"set-cookie":    {},
	}
	for _, h := range opts.MaskHeaders {
		if h = strings.ToLower(strings.TrimSpace(h)); h != "" {
			maskHeaders[h] = struct{}{}
		}
	}

	return func(c *gin.Context) {
		start := time.Now()

		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		safeQuery := redact(c.Request.URL.RawQuery)

		safeHeaders := make(map[string]string, len(c.Request.Header))
		for k, vv := range c.Request.Header {
			val := strings.Join(vv, ", ")
			if _, ok := maskHeaders[strings.ToLower(k)]; ok {
				safeHeaders[k] = "[REDACTED]"
				continue
			}
			safeHeaders[k] = redact(val)
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
