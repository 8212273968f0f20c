// Package services – WebhookService
//
// This file implements WebhookService, which manages per-session webhook
// configuration and the manual delivery test.

package services

import (
	"context"
	"errors"
	"net/url"
	"strings"

	"gorm.io/gorm"

	"github.com/tbourn/go-wa-gateway/internal/gateway"
	"github.com/tbourn/go-wa-gateway/internal/repo"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// WebhookService owns the webhook URL attached to a session and can exercise
// it on demand.
type WebhookService struct {
	DB        *gorm.DB
	Deliverer *gateway.Deliverer
}

// Set validates and stores the webhook URL for a session.
func (s *WebhookService) Set(ctx context.Context, sessionID, rawURL string) error {
	tr := otel.Tracer("services/WebhookService")
	ctx, span := tr.Start(ctx, "Set",
		trace.WithAttributes(attribute.String("session.id", sessionID)),
	)
	defer span.End()

	rawURL = strings.TrimSpace(rawURL)
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return ErrInvalidWebhookURL
	}

	if err := repo.SetWebhookURL(ctx, s.DB, sessionID, &rawURL); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return ErrSessionNotFound
		}
		return err
	}
	return nil
}

// Get returns the configured webhook URL, or ErrNoWebhookConfigured.
func (s *WebhookService) Get(ctx context.Context, sessionID string) (string, error) {
	tr := otel.Tracer("services/WebhookService")
	ctx, span := tr.Start(ctx, "Get",
		trace.WithAttributes(attribute.String("session.id", sessionID)),
	)
	defer span.End()

	sess, err := repo.GetSession(ctx, s.DB, sessionID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return "", ErrSessionNotFound
		}
		return "", err
	}
	if sess.WebhookURL == nil || *sess.WebhookURL == "" {
		return "", ErrNoWebhookConfigured
	}
	return *sess.WebhookURL, nil
}

// Remove clears the webhook URL; inbound messages stop being forwarded.
func (s *WebhookService) Remove(ctx context.Context, sessionID string) error {
	tr := otel.Tracer("services/WebhookService")
	ctx, span := tr.Start(ctx, "Remove",
		trace.WithAttributes(attribute.String("session.id", sessionID)),
	)
	defer span.End()

	if err := repo.SetWebhookURL(ctx, s.DB, sessionID, nil); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return ErrSessionNotFound
		}
		return err
	}
	return nil
}

// Test posts a synthetic event to the configured URL and reports the
// endpoint's response, so a tenant can verify wiring before real traffic.
func (s *WebhookService) Test(ctx context.Context, sessionID string) (*gateway.TestResult, error) {
	tr := otel.Tracer("services/WebhookService")
	ctx, span := tr.Start(ctx, "Test",
		trace.WithAttributes(attribute.String("session.id", sessionID)),
	)
	defer span.End()

	sess, err := repo.GetSession(ctx, s.DB, sessionID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, err
	}
	if sess.WebhookURL == nil || *sess.WebhookURL == "" {
		return nil, ErrNoWebhookConfigured
	}
	return s.Deliverer.Test(ctx, *sess.WebhookURL, sess.APIKey, sessionID)
}
