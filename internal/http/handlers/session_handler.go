// Session HTTP handlers.
//
// This file exposes REST endpoints for session resources:
//   - POST   /sessions             (create, public)
//   - GET    /sessions             (list active sessions for the caller's key)
//   - GET    /sessions/status/:id  (durable row + live connection state)
//   - GET    /sessions/qr/:id      (regenerate pairing)
//   - DELETE /sessions/:id         (logical delete)
//
// Handlers are transport-thin: they validate input, enforce ownership against
// the authenticated session, call application services, and translate results
// into HTTP responses.
package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/tbourn/go-wa-gateway/internal/domain"
	"github.com/tbourn/go-wa-gateway/internal/gateway"
	"github.com/tbourn/go-wa-gateway/internal/http/middleware"
	"github.com/tbourn/go-wa-gateway/internal/services"
)

//
// Service contracts (context-aware)
//

// SessionService defines session lifecycle operations consumed by HTTP handlers.
//
// Implementations should be safe for concurrent use and must honor the
// provided context for cancellation and timeouts.
type SessionService interface {
	// Create provisions a session and blocks until the first pairing code.
	Create(ctx context.Context, name string) (*gateway.CreationResult, error)
	// Status combines the durable row with the live connection state.
	Status(ctx context.Context, sessionID string) (*services.SessionStatus, error)
	// Regenerate retires the session and re-runs the creation path.
	Regenerate(ctx context.Context, sessionID string) (*gateway.CreationResult, error)
	// Delete logically deletes the session and tears down its connection.
	Delete(ctx context.Context, sessionID string) error
	// List returns the active sessions owned by an API key.
	List(ctx context.Context, apiKey string) ([]domain.Session, error)
}

// MessageService defines message dispatch and history operations.
type MessageService interface {
	// Send validates and relays one outbound message.
	Send(ctx context.Context, sessionID string, in services.SendInput) (*gateway.SendResult, *domain.Message, error)
	// ListPage returns a page of the session's history and the total count.
	ListPage(ctx context.Context, sessionID string, f services.HistoryFilter, limit, offset int) ([]domain.Message, int64, error)
	// Get returns one message scoped to the session.
	Get(ctx context.Context, sessionID, messageID string) (*domain.Message, error)
}

// WebhookService defines per-session webhook configuration operations.
type WebhookService interface {
	Set(ctx context.Context, sessionID, rawURL string) error
	Get(ctx context.Context, sessionID string) (string, error)
	Remove(ctx context.Context, sessionID string) error
	Test(ctx context.Context, sessionID string) (*gateway.TestResult, error)
}

//
// Handler wiring
//

// Handlers groups HTTP endpoints for sessions, messages, and webhooks.
// It depends on abstract service interfaces to keep transport concerns
// separate from business logic.
type Handlers struct {
	sessSvc SessionService
	msgSvc  MessageService
	whSvc   WebhookService
}

// New constructs and returns a Handlers instance bound to the given services.
func New(sessSvc SessionService, msgSvc MessageService, whSvc WebhookService) *Handlers {
	return &Handlers{sessSvc: sessSvc, msgSvc: msgSvc, whSvc: whSvc}
}

// authedSession returns the session resolved by the API-key middleware,
// failing the request with 401 when absent.
func authedSession(c *gin.Context) (*domain.Session, bool) {
	sess, ok := middleware.SessionFrom(c)
	if !ok || sess == nil {
		fail(c, http.StatusUnauthorized, ErrCodeUnauthorized, "authentication required")
		return nil, false
	}
	return sess, true
}

// requireOwnSession enforces that the :id path parameter names the caller's
// own session. Cross-tenant access fails with 403.
func requireOwnSession(c *gin.Context, id string) (*domain.Session, bool) {
	sess, ok := authedSession(c)
	if !ok {
		return nil, false
	}
	if sess.ID != id {
		fail(c, http.StatusForbidden, ErrCodeForbidden, "session does not belong to this API key")
		return nil, false
	}
	return sess, true
}

//
// DTOs
//

// CreateSessionRequest is the JSON payload for creating a session.
type CreateSessionRequest struct {
	// Name optionally labels the session; a default is used when empty.
	Name string `json:"name" example:"Support line"`
}

// SessionSummary is the list-item shape for sessions. The API key is surfaced
// only by the creation response, never here.
type SessionSummary struct {
	ID          string  `json:"sessionId"`
	Name        string  `json:"name"`
	PhoneNumber *string `json:"phoneNumber,omitempty"`
	CreatedAt   string  `json:"createdAt"`
}

// ListSessionsResponse contains the caller's active sessions.
type ListSessionsResponse struct {
	Sessions []SessionSummary `json:"sessions"`
}

//
// Handlers
//

// CreateSession godoc
// @ID          createSession
// @Summary     Create a session and start pairing
// @Description Provisions a new session, starts its connection state machine, and
// @Description waits for the first pairing code. The API key is returned exactly once.
// @Tags        Sessions
// @Accept      json
// @Produce     json
//
// @Param       body  body  handlers.CreateSessionRequest  false  "Optional session name"
//
// @Success     201  {object}  gateway.CreationResult  "Session created, pairing code included"
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     504  {object}  handlers.ErrorResponse  "Pairing code did not arrive in time"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /sessions [post]
func (h *Handlers) CreateSession(c *gin.Context) {
	ctx := c.Request.Context()

	var req CreateSessionRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
			return
		}
	}

	res, err := h.sessSvc.Create(ctx, req.Name)
	if err != nil {
		switch {
		case errors.Is(err, gateway.ErrPairingTimeout):
			fail(c, http.StatusGatewayTimeout, ErrCodePairingTimeout,
				"pairing code not received in time; the session keeps initializing, retry via the qr endpoint")
		default:
			fail(c, http.StatusInternalServerError, ErrCodeCreateFailed, err.Error())
		}
		return
	}
	ok(c, http.StatusCreated, res)
}

// ListSessions godoc
// @ID          listSessions
// @Summary     List active sessions
// @Description Returns the active sessions owned by the caller's API key, newest first.
// @Tags        Sessions
// @Produce     json
//
// @Param       X-API-Key  header  string  true  "Session API key"
//
// @Success     200  {object}  handlers.ListSessionsResponse
// @Failure     401  {object}  handlers.ErrorResponse  "Unauthorized"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /sessions [get]
func (h *Handlers) ListSessions(c *gin.Context) {
	ctx := c.Request.Context()

	sess, okAuth := authedSession(c)
	if !okAuth {
		return
	}

	items, err := h.sessSvc.List(ctx, sess.APIKey)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeListFailed, err.Error())
		return
	}

	out := make([]SessionSummary, 0, len(items))
	for _, s := range items {
		out = append(out, SessionSummary{
			ID:          s.ID,
			Name:        s.Name,
			PhoneNumber: s.PhoneNumber,
			CreatedAt:   s.CreatedAt.UTC().Format("2006-01-02T15:04:05Z07:00"),
		})
	}
	ok(c, http.StatusOK, ListSessionsResponse{Sessions: out})
}

// SessionStatus godoc
// @ID          sessionStatus
// @Summary     Get session connection status
// @Description Returns the durable session row combined with the live connection state.
// @Tags        Sessions
// @Produce     json
//
// @Param       X-API-Key  header  string  true  "Session API key"
// @Param       id         path    string  true  "Session ID (UUID)"  format(uuid)
//
// @Success     200  {object}  services.SessionStatus
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     403  {object}  handlers.ErrorResponse  "Forbidden"
// @Failure     404  {object}  handlers.ErrorResponse  "Session not found"
// @Router      /sessions/status/{id} [get]
func (h *Handlers) SessionStatus(c *gin.Context) {
	ctx := c.Request.Context()
	id := c.Param("id")

	if _, err := uuid.Parse(id); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "session id must be a UUID")
		return
	}
	if _, okOwn := requireOwnSession(c, id); !okOwn {
		return
	}

	st, err := h.sessSvc.Status(ctx, id)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrSessionNotFound):
			fail(c, http.StatusNotFound, ErrCodeNotFound, "session not found")
		default:
			fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		}
		return
	}
	ok(c, http.StatusOK, st)
}

// RegeneratePairing godoc
// @ID          regeneratePairing
// @Summary     Regenerate pairing for a session
// @Description Retires the current session and re-runs the full creation path under
// @Description the same name. A fresh session id, API key, and pairing code are returned;
// @Description the previous API key stops working immediately.
// @Tags        Sessions
// @Produce     json
//
// @Param       X-API-Key  header  string  true  "Session API key"
// @Param       id         path    string  true  "Session ID (UUID)"  format(uuid)
//
// @Success     200  {object}  gateway.CreationResult
// @Failure     403  {object}  handlers.ErrorResponse  "Forbidden"
// @Failure     404  {object}  handlers.ErrorResponse  "Session not found"
// @Failure     504  {object}  handlers.ErrorResponse  "Pairing code did not arrive in time"
// @Router      /sessions/qr/{id} [get]
func (h *Handlers) RegeneratePairing(c *gin.Context) {
	ctx := c.Request.Context()
	id := c.Param("id")

	if _, err := uuid.Parse(id); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "session id must be a UUID")
		return
	}
	if _, okOwn := requireOwnSession(c, id); !okOwn {
		return
	}

	res, err := h.sessSvc.Regenerate(ctx, id)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrSessionNotFound):
			fail(c, http.StatusNotFound, ErrCodeNotFound, "session not found")
		case errors.Is(err, gateway.ErrPairingTimeout):
			fail(c, http.StatusGatewayTimeout, ErrCodePairingTimeout,
				"pairing code not received in time; retry")
		default:
			fail(c, http.StatusInternalServerError, ErrCodeCreateFailed, err.Error())
		}
		return
	}
	ok(c, http.StatusOK, res)
}

// DeleteSession godoc
// @ID          deleteSession
// @Summary     Delete a session
// @Description Tears down the live connection, deactivates the session row, and purges
// @Description stored transport credentials. Message history is retained.
// @Tags        Sessions
//
// @Param       X-API-Key  header  string  true  "Session API key"
// @Param       id         path    string  true  "Session ID (UUID)"  format(uuid)
//
// @Success     204  "Deleted"
// @Failure     403  {object}  handlers.ErrorResponse  "Forbidden"
// @Failure     404  {object}  handlers.ErrorResponse  "Session not found"
// @Router      /sessions/{id} [delete]
func (h *Handlers) DeleteSession(c *gin.Context) {
	ctx := c.Request.Context()
	id := strings.TrimSpace(c.Param("id"))

	if _, err := uuid.Parse(id); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "session id must be a UUID")
		return
	}
	if _, okOwn := requireOwnSession(c, id); !okOwn {
		return
	}

	if err := h.sessSvc.Delete(ctx, id); err != nil {
		switch {
		case errors.Is(err, services.ErrSessionNotFound):
			fail(c, http.StatusNotFound, ErrCodeNotFound, "session not found")
		default:
			fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		}
		return
	}
	noContent(c)
}
