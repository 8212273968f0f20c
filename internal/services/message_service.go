// Package services – MessageService
//
// This file implements MessageService, the application-level component that
// validates outbound send requests, relays them through the session's live
// connection, and serves the per-session message history with filtering and
// pagination.
//
// Observability: all public methods are OpenTelemetry-instrumented; spans
// include session identifiers and pagination parameters where applicable.

package services

import (
	"context"
	"errors"
	"strings"

	"gorm.io/gorm"

	"github.com/tbourn/go-wa-gateway/internal/domain"
	"github.com/tbourn/go-wa-gateway/internal/gateway"
	"github.com/tbourn/go-wa-gateway/internal/repo"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const defaultPageLimit = 20

// MessageService coordinates message dispatch and history reads.
type MessageService struct {
	DB      *gorm.DB
	Manager *gateway.Manager
}

// SendInput is the validated shape of a send request as the handler binds it.
type SendInput struct {
	Recipient string
	Type      string
	Text      string
	MediaURL  string
	Caption   string
}

// HistoryFilter narrows a message-history listing. Zero fields are ignored.
// Phone matches either side of the conversation.
type HistoryFilter struct {
	Direction string
	Status    string
	Sender    string
	Recipient string
	Phone     string
}

// Send validates and relays one outbound message for the session. Transport
// failures come back inside the result, not as an error; every accepted
// request leaves an audit row behind either way.
func (s *MessageService) Send(ctx context.Context, sessionID string, in SendInput) (*gateway.SendResult, *domain.Message, error) {
	tr := otel.Tracer("services/MessageService")
	ctx, span := tr.Start(ctx, "Send",
		trace.WithAttributes(
			attribute.String("session.id", sessionID),
			attribute.String("message.type", in.Type),
		),
	)
	defer span.End()

	in.Recipient = strings.TrimSpace(in.Recipient)
	if in.Recipient == "" {
		return nil, nil, ErrRecipientRequired
	}
	if in.Type == "" {
		in.Type = domain.TypeText
	}
	if !domain.ValidMessageType(in.Type) {
		return nil, nil, ErrUnsupportedType
	}
	if in.Type == domain.TypeText && strings.TrimSpace(in.Text) == "" {
		return nil, nil, ErrTextRequired
	}
	if domain.IsMediaType(in.Type) && strings.TrimSpace(in.MediaURL) == "" {
		return nil, nil, ErrMediaURLRequired
	}

	return s.Manager.Send(ctx, sessionID, gateway.SendRequest{
		Recipient: in.Recipient,
		Type:      in.Type,
		Text:      in.Text,
		MediaURL:  in.MediaURL,
		Caption:   in.Caption,
	})
}

// ListPage returns one page of the session's message history, newest first.
func (s *MessageService) ListPage(ctx context.Context, sessionID string, f HistoryFilter, limit, offset int) ([]domain.Message, int64, error) {
	tr := otel.Tracer("services/MessageService")
	ctx, span := tr.Start(ctx, "ListPage",
		trace.WithAttributes(
			attribute.String("session.id", sessionID),
			attribute.Int("limit", limit),
			attribute.Int("offset", offset),
		),
	)
	defer span.End()

	if limit <= 0 {
		limit = defaultPageLimit
	}
	if offset < 0 {
		offset = 0
	}

	filter := repo.MessageFilter{
		SessionID: sessionID,
		Direction: f.Direction,
		Status:    f.Status,
		Sender:    f.Sender,
		Recipient: f.Recipient,
		Phone:     f.Phone,
	}

	total, err := repo.CountMessages(ctx, s.DB, filter)
	if err != nil {
		return nil, 0, err
	}
	if total == 0 {
		return []domain.Message{}, 0, nil
	}

	items, err := repo.ListMessagesPage(ctx, s.DB, filter, offset, limit)
	return items, total, err
}

// Get returns one message by id, scoped to the session.
func (s *MessageService) Get(ctx context.Context, sessionID, messageID string) (*domain.Message, error) {
	tr := otel.Tracer("services/MessageService")
	ctx, span := tr.Start(ctx, "Get",
		trace.WithAttributes(
			attribute.String("session.id", sessionID),
			attribute.String("message.id", messageID),
		),
	)
	defer span.End()

	msg, err := repo.GetSessionMessage(ctx, s.DB, messageID, sessionID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrMessageNotFound
		}
		return nil, err
	}
	return msg, nil
}
