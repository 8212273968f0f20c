// Message HTTP handlers.
//
// This file exposes REST endpoints for the message relay and history:
//   - POST /messages/send  (relay one outbound message)
//   - GET  /messages       (filtered, paginated history for the session)
//   - GET  /messages/{id}  (single message, session-scoped)
//
// Handlers are transport-thin:
//   - validate & normalize inputs
//   - delegate to application services (MessageService)
//   - implement idempotency semantics for the send endpoint
//
// Idempotency:
// If the client supplies an Idempotency-Key header and a previous successful
// result exists for (session, key), the handler returns that recorded message
// and sets `Idempotency-Replayed: true`.
package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-wa-gateway/internal/domain"
	"github.com/tbourn/go-wa-gateway/internal/http/middleware"
	"github.com/tbourn/go-wa-gateway/internal/repo"
	"github.com/tbourn/go-wa-gateway/internal/services"
	"github.com/tbourn/go-wa-gateway/internal/utils"
)

//
// DTOs
//

// SendMessageRequest is the JSON payload for relaying one outbound message.
//
// Type defaults to "text". Text is required for text messages; MediaURL is
// required for image/video/audio/document. Caption applies to media types
// except audio.
type SendMessageRequest struct {
	// To is the recipient phone number, with or without a leading '+'.
	To string `json:"to" binding:"required" example:"+306912345678"`
	// Type is one of: text, image, video, audio, document.
	Type string `json:"type" example:"text"`
	// Text is the message body for text messages.
	Text string `json:"text" example:"Your order has shipped."`
	// MediaURL points at the media to fetch and relay.
	MediaURL string `json:"mediaUrl" example:"https://cdn.example.com/invoice.pdf"`
	// Caption annotates image, video, and document messages.
	Caption string `json:"caption" example:"Invoice #1042"`
}

// SendMessageResponse reports the relay outcome plus the persisted audit row.
type SendMessageResponse struct {
	Success   bool            `json:"success"`
	MessageID string          `json:"messageId,omitempty"`
	Error     string          `json:"error,omitempty"`
	Message   *domain.Message `json:"message,omitempty"`
}

// Pagination carries pagination metadata for list responses.
type Pagination struct {
	Limit   int   `json:"limit"`
	Offset  int   `json:"offset"`
	Total   int64 `json:"total"`
	HasNext bool  `json:"has_next"`
}

// ListMessagesResponse contains a page of messages and pagination metadata.
type ListMessagesResponse struct {
	Messages   []domain.Message `json:"messages"`
	Pagination Pagination       `json:"pagination"`
}

//
// Helpers
//

// clampListParams parses limit/offset from query parameters, applying sane
// defaults and caps.
func clampListParams(c *gin.Context) (limit, offset int) {
	const (
		defaultLimit = 20
		maxLimit     = 100
	)
	limit = utils.AtoiDefault(c.Query("limit"), defaultLimit)
	if limit < 1 {
		limit = 1
	}
	if limit > maxLimit {
		limit = maxLimit
	}
	offset = utils.AtoiDefault(c.Query("offset"), 0)
	if offset < 0 {
		offset = 0
	}
	return
}

//
// Handlers
//

// SendMessage godoc
// @ID          sendMessage
// @Summary     Relay an outbound message
// @Description Relays a text or media message through the session's live connection.
// @Description Transport failures are reported inside the response body with
// @Description success=false; an audit row is persisted either way.
// @Description Supports idempotency via the Idempotency-Key header (same key → same result).
// @Tags        Messages
// @Accept      json
// @Produce     json
//
// @Param       X-API-Key        header  string  true   "Session API key"
// @Param       Idempotency-Key  header  string  false  "Idempotency key for safe retries (UUID recommended)"
// @Param       body             body    handlers.SendMessageRequest  true  "Message payload"
//
// @Success     200  {object}  handlers.SendMessageResponse  "Relayed"
// @Failure     400  {object}  handlers.ErrorResponse        "Bad request"
// @Failure     401  {object}  handlers.ErrorResponse        "Unauthorized"
// @Failure     502  {object}  handlers.SendMessageResponse  "Transport failure (success=false)"
// @Router      /messages/send [post]
func (h *Handlers) SendMessage(c *gin.Context) {
	ctx := c.Request.Context()

	sess, okAuth := authedSession(c)
	if !okAuth {
		return
	}

	var req SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "to is required")
		return
	}

	// Idempotency (replay path) – read validated key if present.
	idemKey, _ := middleware.GetIdempotencyKey(c)
	if idemKey != "" {
		if svc, okSvc := h.msgSvc.(*services.MessageService); okSvc && svc.DB != nil {
			if rec, err := repo.GetIdempotency(ctx, svc.DB, sess.ID, idemKey, time.Now().UTC()); err == nil && rec != nil {
				if prev, err2 := repo.GetSessionMessage(ctx, svc.DB, rec.MessageID, sess.ID); err2 == nil {
					c.Header("Idempotency-Replayed", "true")
					ok(c, http.StatusOK, SendMessageResponse{
						Success:   prev.Status != domain.StatusFailed,
						MessageID: strDeref(prev.WhatsappID),
						Message:   prev,
					})
					return
				}
			}
		}
	}

	res, msg, err := h.msgSvc.Send(ctx, sess.ID, services.SendInput{
		Recipient: req.To,
		Type:      req.Type,
		Text:      req.Text,
		MediaURL:  req.MediaURL,
		Caption:   req.Caption,
	})
	if err != nil {
		switch err {
		case services.ErrRecipientRequired, services.ErrTextRequired,
			services.ErrMediaURLRequired, services.ErrUnsupportedType:
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, err.Error())
		default:
			fail(c, http.StatusInternalServerError, ErrCodeSendFailed, err.Error())
		}
		return
	}

	// Idempotency (store path) – best effort.
	if idemKey != "" && msg != nil {
		if svc, okSvc := h.msgSvc.(*services.MessageService); okSvc && svc.DB != nil {
			ttl := 24 * time.Hour
			_, _ = repo.CreateIdempotency(ctx, svc.DB, sess.ID, idemKey, msg.ID, http.StatusOK, ttl)
		}
	}

	body := SendMessageResponse{
		Success:   res.Success,
		MessageID: res.MessageID,
		Error:     res.Error,
		Message:   msg,
	}
	if !res.Success {
		// The request was well-formed but the network leg failed; the audit
		// row carries the failure reason.
		ok(c, http.StatusBadGateway, body)
		return
	}
	ok(c, http.StatusOK, body)
}

// ListMessages godoc
// @ID          listMessages
// @Summary     List message history
// @Description Returns the session's message history, newest first, with optional
// @Description direction/status/sender/recipient/phone filters. The phone filter
// @Description matches either side of the conversation.
// @Tags        Messages
// @Produce     json
//
// @Param       X-API-Key  header  string  true   "Session API key"
// @Param       direction  query   string  false  "incoming or outgoing"
// @Param       status     query   string  false  "sent, failed, or received"
// @Param       sender     query   string  false  "Filter by sender phone"
// @Param       recipient  query   string  false  "Filter by recipient phone"
// @Param       phone      query   string  false  "Match sender or recipient"
// @Param       limit      query   int     false  "Page size"  minimum(1) maximum(100) default(20)
// @Param       offset     query   int     false  "Page offset" minimum(0) default(0)
//
// @Success     200  {object}  handlers.ListMessagesResponse
// @Failure     401  {object}  handlers.ErrorResponse  "Unauthorized"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /messages [get]
func (h *Handlers) ListMessages(c *gin.Context) {
	ctx := c.Request.Context()

	sess, okAuth := authedSession(c)
	if !okAuth {
		return
	}

	limit, offset := clampListParams(c)
	filter := services.HistoryFilter{
		Direction: c.Query("direction"),
		Status:    c.Query("status"),
		Sender:    c.Query("sender"),
		Recipient: c.Query("recipient"),
		Phone:     c.Query("phone"),
	}

	items, total, err := h.msgSvc.ListPage(ctx, sess.ID, filter, limit, offset)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeListFailed, err.Error())
		return
	}

	ok(c, http.StatusOK, ListMessagesResponse{
		Messages: items,
		Pagination: Pagination{
			Limit:   limit,
			Offset:  offset,
			Total:   total,
			HasNext: int64(offset+limit) < total,
		},
	})
}

// GetMessage godoc
// @ID          getMessage
// @Summary     Get one message
// @Description Returns a single message by id, scoped to the caller's session.
// @Tags        Messages
// @Produce     json
//
// @Param       X-API-Key  header  string  true  "Session API key"
// @Param       id         path    string  true  "Message ID (UUID)"  format(uuid)
//
// @Success     200  {object}  domain.Message
// @Failure     404  {object}  handlers.ErrorResponse  "Message not found"
// @Router      /messages/{id} [get]
func (h *Handlers) GetMessage(c *gin.Context) {
	ctx := c.Request.Context()
	id := c.Param("id")

	sess, okAuth := authedSession(c)
	if !okAuth {
		return
	}

	msg, err := h.msgSvc.Get(ctx, sess.ID, id)
	if err != nil {
		switch err {
		case services.ErrMessageNotFound:
			fail(c, http.StatusNotFound, ErrCodeNotFound, "message not found")
		default:
			fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		}
		return
	}
	ok(c, http.StatusOK, msg)
}

// strDeref returns the pointed-to string or "".
func strDeref(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}
