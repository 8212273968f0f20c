package gateway

import (
	"context"
	"time"

	"github.com/tbourn/go-wa-gateway/internal/domain"
	"github.com/tbourn/go-wa-gateway/internal/repo"
	"github.com/tbourn/go-wa-gateway/internal/transport"
)

// SendRequest is a validated outbound dispatch. Exactly one of Text/MediaURL
// is meaningful depending on Type.
type SendRequest struct {
	Recipient string
	Type      string
	Text      string
	MediaURL  string
	Caption   string
}

// SendResult is the structured outcome of a send. Expected transport-level
// failures land here, never in an error return.
type SendResult struct {
	Success   bool   `json:"success"`
	MessageID string `json:"messageId,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Send relays one outbound message through the session's live connection and
// always appends an audit row: status "sent" on success, "failed" with a
// reason otherwise (including the no-live-handle case). The returned error is
// reserved for persistence failures.
func (m *Manager) Send(ctx context.Context, sessionID string, req SendRequest) (*SendResult, *domain.Message, error) {
	var (
		waID    string
		sendErr error
	)

	conn, ok := m.registry.Lookup(sessionID)
	if !ok {
		sendErr = ErrSessionNotActive
	} else {
		client, err := conn.snapshot()
		if err != nil {
			sendErr = ErrSessionNotActive
		} else {
			to := transport.CanonicalJID(req.Recipient)
			switch req.Type {
			case domain.TypeText:
				waID, sendErr = client.SendText(ctx, to, req.Text)
			default:
				waID, sendErr = client.SendMedia(ctx, to, transport.MessageKind(req.Type), req.MediaURL, req.Caption)
			}
		}
	}

	rec := repo.MessageRecord{
		SessionID:   sessionID,
		Direction:   domain.DirectionOutgoing,
		MessageType: req.Type,
		Recipient:   req.Recipient,
		Status:      domain.StatusSent,
	}
	if req.Type == domain.TypeText {
		rec.Content = req.Text
	} else {
		rec.Content = req.MediaURL
		rec.MediaURL = strPtr(req.MediaURL)
		rec.Caption = strPtr(req.Caption)
	}
	if waID != "" {
		rec.WhatsappID = &waID
	}
	if sendErr != nil {
		rec.Status = domain.StatusFailed
		reason := sendErr.Error()
		rec.FailureReason = &reason
	}

	msg, err := repo.CreateMessage(ctx, m.db, rec)
	if err != nil {
		return nil, nil, err
	}
	relayedMessages.WithLabelValues(domain.DirectionOutgoing, rec.Status).Inc()

	res := &SendResult{Success: sendErr == nil, MessageID: waID}
	if sendErr != nil {
		res.Error = sendErr.Error()
	}
	return res, msg, nil
}

// handleInbound classifies one filtered transport event, appends the audit
// row, and then fires the tenant webhook. The row is committed before the
// delivery attempt starts, and delivery failures never propagate back here.
func (m *Manager) handleInbound(sessionID, apiKey string, ev transport.InboundMessage) {
	ctx, cancel := context.WithTimeout(context.Background(), dbTimeout)
	defer cancel()

	msgType, content := classify(ev)
	sender := transport.UserPart(ev.Chat)

	rec := repo.MessageRecord{
		SessionID:   sessionID,
		Direction:   domain.DirectionIncoming,
		MessageType: msgType,
		Sender:      sender,
		Content:     content,
		Status:      domain.StatusReceived,
	}
	if ev.ID != "" {
		id := ev.ID
		rec.WhatsappID = &id
	}
	if ev.Caption != "" {
		caption := ev.Caption
		rec.Caption = &caption
	}

	if _, err := repo.CreateMessage(ctx, m.db, rec); err != nil {
		m.log.Error().Err(err).Str("session_id", sessionID).Msg("persist inbound message")
		return
	}
	relayedMessages.WithLabelValues(domain.DirectionIncoming, domain.StatusReceived).Inc()

	sess, err := repo.GetSession(ctx, m.db, sessionID)
	if err != nil {
		m.log.Error().Err(err).Str("session_id", sessionID).Msg("load session for webhook")
		return
	}
	if sess.WebhookURL == nil || *sess.WebhookURL == "" {
		return
	}

	payload := WebhookEvent{
		Sender:      sender,
		MessageType: msgType,
		Content:     content,
		Caption:     rec.Caption,
		MessageID:   ev.ID,
		Timestamp:   time.Now().UTC(),
	}
	// Fire and forget: the event loop must not stall on a slow tenant.
	go m.webhooks.Deliver(context.Background(), *sess.WebhookURL, apiKey, payload)
}

// classify maps a transport event onto the audit taxonomy, producing the
// stored content string (placeholder text for media kinds).
func classify(ev transport.InboundMessage) (msgType, content string) {
	switch ev.Kind {
	case transport.KindImage:
		return domain.TypeImage, "Image received"
	case transport.KindVideo:
		return domain.TypeVideo, "Video received"
	case transport.KindAudio:
		return domain.TypeAudio, "Audio received"
	case transport.KindDocument:
		return domain.TypeDocument, "Document received"
	default:
		return domain.TypeText, ev.Text
	}
}

func strPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
