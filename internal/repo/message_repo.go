// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the Message
// model. Message rows are append-only: there are create and read helpers but
// deliberately no update path.
package repo

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/go-wa-gateway/internal/domain"
)

// MessageRecord carries everything needed to insert one audit row.
type MessageRecord struct {
	SessionID     string
	Direction     string
	MessageType   string
	Sender        string
	Recipient     string
	Content       string
	MediaURL      *string
	Caption       *string
	Status        string
	WhatsappID    *string
	FailureReason *string
}

// MessageFilter narrows message-history queries. Zero values mean "no filter".
// Phone matches either side of the conversation (sender OR recipient) in a
// single result set.
type MessageFilter struct {
	SessionID string
	Direction string
	Status    string
	Sender    string
	Recipient string
	Phone     string
}

// CreateMessage inserts one immutable audit row and returns it.
func CreateMessage(ctx context.Context, db *gorm.DB, rec MessageRecord) (*domain.Message, error) {
	m := &domain.Message{
		ID:            uuid.NewString(),
		SessionID:     rec.SessionID,
		Direction:     rec.Direction,
		MessageType:   rec.MessageType,
		Sender:        rec.Sender,
		Recipient:     rec.Recipient,
		Content:       rec.Content,
		MediaURL:      rec.MediaURL,
		Caption:       rec.Caption,
		Status:        rec.Status,
		WhatsappID:    rec.WhatsappID,
		FailureReason: rec.FailureReason,
		CreatedAt:     time.Now().UTC(),
	}
	return m, db.WithContext(ctx).Create(m).Error
}

func applyFilter(q *gorm.DB, f MessageFilter) *gorm.DB {
	q = q.Where("session_id = ?", f.SessionID)
	if f.Direction != "" {
		q = q.Where("direction = ?", f.Direction)
	}
	if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	}
	if f.Sender != "" {
		q = q.Where("sender = ?", f.Sender)
	}
	if f.Recipient != "" {
		q = q.Where("recipient = ?", f.Recipient)
	}
	if f.Phone != "" {
		q = q.Where("(sender = ? OR recipient = ?)", f.Phone, f.Phone)
	}
	return q
}

// CountMessages returns the total number of rows matching the filter.
func CountMessages(ctx context.Context, db *gorm.DB, f MessageFilter) (int64, error) {
	var total int64
	err := applyFilter(db.WithContext(ctx).Model(&domain.Message{}), f).
		Count(&total).Error
	return total, err
}

// ListMessagesPage returns a page of matching rows ordered newest first
// (CreatedAt DESC, ID DESC for a deterministic tie-break).
func ListMessagesPage(ctx context.Context, db *gorm.DB, f MessageFilter, offset, limit int) ([]domain.Message, error) {
	var out []domain.Message
	err := applyFilter(db.WithContext(ctx), f).
		Order("created_at DESC, id DESC").
		Offset(offset).
		Limit(limit).
		Find(&out).Error
	return out, err
}

// GetSessionMessage fetches a message by ID scoped to its owning session.
func GetSessionMessage(ctx context.Context, db *gorm.DB, id, sessionID string) (*domain.Message, error) {
	var m domain.Message
	err := db.WithContext(ctx).
		Where("id = ? AND session_id = ?", id, sessionID).
		First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}
