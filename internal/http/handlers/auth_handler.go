// Auth HTTP handlers.
//
// This file exposes GET /auth/verify, a cheap probe clients use to check that
// a stored API key still resolves to an active session before doing real
// work. The route sits behind the API-key middleware, so reaching the handler
// already proves the key; the body echoes the identity it resolved to.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// VerifyKeyResponse reports the session an API key resolved to.
type VerifyKeyResponse struct {
	Valid       bool    `json:"valid"`
	SessionID   string  `json:"sessionId"`
	Name        string  `json:"name"`
	PhoneNumber *string `json:"phoneNumber,omitempty"`
}

// VerifyKey godoc
// @ID          verifyKey
// @Summary     Verify an API key
// @Description Confirms the presented API key resolves to an active session and
// @Description returns that session's identity. The key itself is never echoed.
// @Tags        Auth
// @Produce     json
//
// @Param       X-API-Key  header  string  true  "Session API key"
//
// @Success     200  {object}  handlers.VerifyKeyResponse
// @Failure     401  {object}  handlers.ErrorResponse  "Unauthorized"
// @Router      /auth/verify [get]
func (h *Handlers) VerifyKey(c *gin.Context) {
	sess, okAuth := authedSession(c)
	if !okAuth {
		return
	}
	ok(c, http.StatusOK, VerifyKeyResponse{
		Valid:       true,
		SessionID:   sess.ID,
		Name:        sess.Name,
		PhoneNumber: sess.PhoneNumber,
	})
}
