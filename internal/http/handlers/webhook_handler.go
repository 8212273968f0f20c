// Webhook configuration HTTP handlers.
//
// This file exposes REST endpoints for the per-session webhook:
//   - POST   /webhooks/config  (set the URL)
//   - GET    /webhooks/config  (read the URL)
//   - DELETE /webhooks/config  (clear the URL)
//   - POST   /webhooks/test    (post a synthetic event and report the outcome)
//
// All routes operate on the authenticated session; there is no per-route id.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-wa-gateway/internal/services"
)

//
// DTOs
//

// SetWebhookRequest is the JSON payload for configuring the webhook URL.
type SetWebhookRequest struct {
	// URL must be an absolute http(s) URL.
	URL string `json:"url" binding:"required" example:"https://example.com/hooks/whatsapp"`
}

// WebhookConfigResponse reports the configured webhook URL.
type WebhookConfigResponse struct {
	URL string `json:"url"`
}

//
// Handlers
//

// SetWebhook godoc
// @ID          setWebhook
// @Summary     Configure the session webhook
// @Description Stores the URL that inbound messages are forwarded to.
// @Tags        Webhooks
// @Accept      json
// @Produce     json
//
// @Param       X-API-Key  header  string  true  "Session API key"
// @Param       body       body    handlers.SetWebhookRequest  true  "Webhook URL"
//
// @Success     200  {object}  handlers.WebhookConfigResponse
// @Failure     400  {object}  handlers.ErrorResponse  "Invalid URL"
// @Failure     401  {object}  handlers.ErrorResponse  "Unauthorized"
// @Router      /webhooks/config [post]
func (h *Handlers) SetWebhook(c *gin.Context) {
	ctx := c.Request.Context()

	sess, okAuth := authedSession(c)
	if !okAuth {
		return
	}

	var req SetWebhookRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "url required")
		return
	}

	if err := h.whSvc.Set(ctx, sess.ID, req.URL); err != nil {
		switch err {
		case services.ErrInvalidWebhookURL:
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, err.Error())
		case services.ErrSessionNotFound:
			fail(c, http.StatusNotFound, ErrCodeNotFound, "session not found")
		default:
			fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		}
		return
	}
	ok(c, http.StatusOK, WebhookConfigResponse{URL: req.URL})
}

// GetWebhook godoc
// @ID          getWebhook
// @Summary     Read the session webhook
// @Tags        Webhooks
// @Produce     json
//
// @Param       X-API-Key  header  string  true  "Session API key"
//
// @Success     200  {object}  handlers.WebhookConfigResponse
// @Failure     404  {object}  handlers.ErrorResponse  "No webhook configured"
// @Router      /webhooks/config [get]
func (h *Handlers) GetWebhook(c *gin.Context) {
	ctx := c.Request.Context()

	sess, okAuth := authedSession(c)
	if !okAuth {
		return
	}

	url, err := h.whSvc.Get(ctx, sess.ID)
	if err != nil {
		switch err {
		case services.ErrNoWebhookConfigured:
			fail(c, http.StatusNotFound, ErrCodeNotFound, "no webhook configured")
		case services.ErrSessionNotFound:
			fail(c, http.StatusNotFound, ErrCodeNotFound, "session not found")
		default:
			fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		}
		return
	}
	ok(c, http.StatusOK, WebhookConfigResponse{URL: url})
}

// DeleteWebhook godoc
// @ID          deleteWebhook
// @Summary     Clear the session webhook
// @Description Inbound messages stop being forwarded; history is unaffected.
// @Tags        Webhooks
//
// @Param       X-API-Key  header  string  true  "Session API key"
//
// @Success     204  "Cleared"
// @Failure     401  {object}  handlers.ErrorResponse  "Unauthorized"
// @Router      /webhooks/config [delete]
func (h *Handlers) DeleteWebhook(c *gin.Context) {
	ctx := c.Request.Context()

	sess, okAuth := authedSession(c)
	if !okAuth {
		return
	}

	if err := h.whSvc.Remove(ctx, sess.ID); err != nil {
		switch err {
		case services.ErrSessionNotFound:
			fail(c, http.StatusNotFound, ErrCodeNotFound, "session not found")
		default:
			fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		}
		return
	}
	noContent(c)
}

// TestWebhook godoc
// @ID          testWebhook
// @Summary     Test the session webhook
// @Description Posts a synthetic event (marked with X-Webhook-Test: true) to the
// @Description configured URL and returns the endpoint's status code and body.
// @Tags        Webhooks
// @Produce     json
//
// @Param       X-API-Key  header  string  true  "Session API key"
//
// @Success     200  {object}  gateway.TestResult
// @Failure     404  {object}  handlers.ErrorResponse  "No webhook configured"
// @Failure     502  {object}  handlers.ErrorResponse  "Endpoint unreachable"
// @Router      /webhooks/test [post]
func (h *Handlers) TestWebhook(c *gin.Context) {
	ctx := c.Request.Context()

	sess, okAuth := authedSession(c)
	if !okAuth {
		return
	}

	res, err := h.whSvc.Test(ctx, sess.ID)
	if err != nil {
		switch err {
		case services.ErrNoWebhookConfigured:
			fail(c, http.StatusNotFound, ErrCodeNotFound, "no webhook configured")
		case services.ErrSessionNotFound:
			fail(c, http.StatusNotFound, ErrCodeNotFound, "session not found")
		default:
			fail(c, http.StatusBadGateway, ErrCodeWebhookFailed, err.Error())
		}
		return
	}
	ok(c, http.StatusOK, res)
}
