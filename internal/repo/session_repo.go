// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the Session model.
package repo

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/go-wa-gateway/internal/domain"
)

// ErrNotFound indicates the requested row does not exist.
var ErrNotFound = errors.New("not found")

// CreateSession inserts a new session row with a freshly generated UUID and
// the given API key. The key must be unique; a violation surfaces as an error.
func CreateSession(ctx context.Context, db *gorm.DB, name, apiKey string) (*domain.Session, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		name = domain.DefaultSessionName
	}
	s := &domain.Session{
		ID:        uuid.NewString(),
		APIKey:    apiKey,
		Name:      name,
		IsActive:  true,
		CreatedAt: time.Now().UTC(),
	}
	return s, db.WithContext(ctx).Create(s).Error
}

// GetSession fetches a session by ID regardless of active state.
func GetSession(ctx context.Context, db *gorm.DB, id string) (*domain.Session, error) {
	var s domain.Session
	err := db.WithContext(ctx).Where("id = ?", id).First(&s).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// GetActiveSessionByAPIKey resolves an API key to its active session row.
// Inactive sessions do not authenticate.
func GetActiveSessionByAPIKey(ctx context.Context, db *gorm.DB, apiKey string) (*domain.Session, error) {
	var s domain.Session
	err := db.WithContext(ctx).
		Where("api_key = ? AND is_active = ?", apiKey, true).
		First(&s).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// ListActiveSessions returns all active sessions owned by the given API key,
// newest first.
func ListActiveSessions(ctx context.Context, db *gorm.DB, apiKey string) ([]domain.Session, error) {
	var out []domain.Session
	err := db.WithContext(ctx).
		Where("api_key = ? AND is_active = ?", apiKey, true).
		Order("created_at DESC, id DESC").
		Find(&out).Error
	return out, err
}

// ListAllActiveSessions returns every active session. Used at startup to
// restore live connections.
func ListAllActiveSessions(ctx context.Context, db *gorm.DB) ([]domain.Session, error) {
	var out []domain.Session
	err := db.WithContext(ctx).
		Where("is_active = ?", true).
		Order("created_at ASC").
		Find(&out).Error
	return out, err
}

// SetSessionPhone records the network-side identity captured when the
// connection reaches the connected state.
func SetSessionPhone(ctx context.Context, db *gorm.DB, id, phone string) error {
	return db.WithContext(ctx).Model(&domain.Session{}).
		Where("id = ?", id).
		Update("phone_number", phone).Error
}

// MarkLoggedOut deactivates a session and clears its phone number. Called on
// explicit-logout closures; the row itself is retained.
func MarkLoggedOut(ctx context.Context, db *gorm.DB, id string) error {
	return db.WithContext(ctx).Model(&domain.Session{}).
		Where("id = ?", id).
		Updates(map[string]any{"is_active": false, "phone_number": nil}).Error
}

// DeactivateSession performs the logical delete. Message history is untouched.
func DeactivateSession(ctx context.Context, db *gorm.DB, id string) error {
	res := db.WithContext(ctx).Model(&domain.Session{}).
		Where("id = ?", id).
		Update("is_active", false)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// SetWebhookURL stores (or clears, when url is nil) the tenant webhook target.
func SetWebhookURL(ctx context.Context, db *gorm.DB, id string, url *string) error {
	return db.WithContext(ctx).Model(&domain.Session{}).
		Where("id = ?", id).
		Update("webhook_url", url).Error
}
