// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file holds the request-scoped logging plumbing: RequestID tags every
// request with a correlation id, Logger emits one structured access line per
// request and parks a request-scoped zerolog.Logger in the Gin context, and
// Recovery turns panics into the gateway's JSON 500 envelope without losing
// the correlation id. Handlers and services pull the scoped logger back out
// with LoggerFrom, so a failed send or webhook delivery logs with the same
// request id the client saw (lg.Warn().Str("session_id", id).Msg("...")).
//
// Order matters when wiring: RequestID first, then the access logger
// (Logger or RedactingLogger), then Recovery, so panic logs carry the id.
// The scoped logger lives under the "logger" Gin context key.
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
	// requestIDKey is the Gin context key holding the correlation id.
	requestIDKey = "requestID"
	// requestIDHeader propagates the correlation id to and from clients.
	requestIDHeader = "X-Request-ID"
	// maxQueryLogLength caps logged query strings; history filters with long
	// phone lists should not balloon log lines.
	maxQueryLogLength = 2048
)

// RequestID attaches a correlation identifier to every request. An incoming
// X-Request-ID is reused (header lookup is case-insensitive); otherwise a
// fresh UUIDv4 is generated. The id is echoed on the response header and
// stored in the Gin context for the rest of the chain.
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

// Logger writes one structured access log line per request.
//
// The line records method, registered route (raw URL path when no route
// matched), remote IP, user agent, referer, correlation id, the session id
// stashed by auth (when present), request and response sizes, status, and
// latency. Severity tracks the outcome: error for 5xx or when the Gin
// context collected errors, warn for 4xx, info otherwise.
//
// The middleware also stores a request-scoped zerolog.Logger under the
// "logger" context key for LoggerFrom. Install after RequestID.
func Logger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		rid, _ := c.Get(requestIDKey)
		// APIKeyAuth stashes the authenticated session id here; empty on the
		// public session-creation route.
		uid, _ := c.Get("userID")
		path := c.FullPath()
		if path == "" {
			// Unmatched route, typically a 404.
			path = c.Request.URL.Path
		}

		l := log.With().
			Str("request_id", asString(rid)).
			Str("user_id", asString(uid)).
			Str("method", c.Request.Method).
			Str("path", path).
			Str("remote_ip", c.ClientIP()).
			Str("user_agent", c.Request.UserAgent()).
			Str("referer", c.Request.Referer()).
			Str("query", truncate(c.Request.URL.RawQuery, maxQueryLogLength)).
			// ContentLength is -1 when unknown.
			Int64("bytes_in", c.Request.ContentLength).
			Logger()

		c.Set("logger", &l)

		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()
		bytesOut := c.Writer.Size()

		ev := l.With().
			Int("status", status).
			Dur("latency", latency).
			Int("bytes_out", bytesOut).
			Logger()

		switch {
		// Collected Gin errors outrank the status code.
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

// Recovery intercepts panics, logs the value with a stack trace, and answers
// with the standard JSON error envelope:
//
//	{ "request_id": "...", "code": "internal_error", "message": "internal server error" }
//
// When the handler already wrote part of a response, only the status is
// aborted; no JSON is appended to a half-written body.
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if rec := recover(); rec != nil {
				rid, _ := c.Get(requestIDKey)
				log.Error().
					Interface("panic", rec).
					Bytes("stack", debug.Stack()).
					Str("request_id", asString(rid)).
					Msg("panic recovered")

				if !c.Writer.Written() {
					c.Header("Content-Type", "application/json")
					c.Header(requestIDHeader, asString(rid))
					c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
						"request_id": asString(rid),
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

// LoggerFrom returns the request-scoped zerolog.Logger attached by Logger.
// Without one (direct service calls, tests) it falls back to the global
// logger, so callers never need a nil check.
func LoggerFrom(c *gin.Context) *zerolog.Logger {
	if v, ok := c.Get("logger"); ok {
		if lg, ok := v.(*zerolog.Logger); ok {
			return lg
		}
	}
	l := log.With().Logger()
	return &l
}

// asString unwraps a context value, returning "" for anything but a string.
func asString(v interface{}) string {
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

// truncate caps s at max bytes, appending an ellipsis when cut. max <= 0
// disables truncation. Byte (not rune) boundaries are fine for log output.
func truncate(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	return s[:max] + "…"
}
