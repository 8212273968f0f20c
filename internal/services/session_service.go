// Package services – SessionService
//
// This file implements SessionService, the application-level component that
// owns the session lifecycle: creation with the synchronous pairing wait,
// status reporting, pairing regeneration, logical deletion, and listing.
//
// Observability: all public methods are OpenTelemetry-instrumented; spans
// include session identifiers where applicable.

package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/go-wa-gateway/internal/domain"
	"github.com/tbourn/go-wa-gateway/internal/gateway"
	"github.com/tbourn/go-wa-gateway/internal/repo"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// SessionService coordinates session rows with their live connection handles.
type SessionService struct {
	DB      *gorm.DB
	Manager *gateway.Manager
}

// SessionStatus combines the durable session row with the live connection
// view. Connected and State reflect this process's registry only.
type SessionStatus struct {
	ID          string    `json:"sessionId"`
	Name        string    `json:"name"`
	Connected   bool      `json:"connected"`
	State       string    `json:"state"`
	PhoneNumber *string   `json:"phoneNumber,omitempty"`
	WebhookURL  *string   `json:"webhookUrl,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Create provisions a new session: a durable row, a fresh API key, and a
// running connection state machine. It blocks until the first pairing code or
// the pairing deadline; on deadline the session keeps initializing in the
// background and gateway.ErrPairingTimeout is returned.
func (s *SessionService) Create(ctx context.Context, name string) (*gateway.CreationResult, error) {
	tr := otel.Tracer("services/SessionService")
	ctx, span := tr.Start(ctx, "Create")
	defer span.End()

	name = strings.TrimSpace(name)
	if name == "" {
		name = domain.DefaultSessionName
	}
	return s.Manager.CreateSession(ctx, name)
}

// Status reports the durable row plus the live connection state for one
// session.
func (s *SessionService) Status(ctx context.Context, sessionID string) (*SessionStatus, error) {
	tr := otel.Tracer("services/SessionService")
	ctx, span := tr.Start(ctx, "Status",
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
	if !sess.IsActive {
		return nil, ErrSessionNotFound
	}

	st := &SessionStatus{
		ID:          sess.ID,
		Name:        sess.Name,
		State:       "disconnected",
		PhoneNumber: sess.PhoneNumber,
		WebhookURL:  sess.WebhookURL,
		CreatedAt:   sess.CreatedAt,
	}
	if conn, ok := s.Manager.Registry().Lookup(sessionID); ok {
		st.State = conn.State().String()
		st.Connected, _ = conn.Status()
	}
	return st, nil
}

// Regenerate retires the given session and runs the full creation path again
// under the same name. The caller receives a fresh session id, API key, and
// pairing code; the old credentials stop working immediately.
func (s *SessionService) Regenerate(ctx context.Context, sessionID string) (*gateway.CreationResult, error) {
	tr := otel.Tracer("services/SessionService")
	ctx, span := tr.Start(ctx, "Regenerate",
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

	// The retired credential cycle gets the same network-side unlink as a
	// delete; failure is non-fatal.
	if err := s.Manager.Logout(ctx, sessionID); err != nil && !errors.Is(err, gateway.ErrSessionNotActive) {
		span.RecordError(err)
	}

	s.Manager.Teardown(sessionID)
	if err := repo.DeactivateSession(ctx, s.DB, sessionID); err != nil && !errors.Is(err, repo.ErrNotFound) {
		return nil, err
	}
	if err := s.Manager.PurgeCredentials(sessionID); err != nil {
		// Stale credentials only waste disk; the new session pairs fresh.
		span.RecordError(err)
	}
	return s.Manager.RegeneratePairing(ctx, sess.Name)
}

// Delete logically deletes a session: the device is unlinked network-side
// when a live connection exists, the state machine is torn down, the row is
// deactivated, and the stored transport credentials are purged. Message
// history is retained.
func (s *SessionService) Delete(ctx context.Context, sessionID string) error {
	tr := otel.Tracer("services/SessionService")
	ctx, span := tr.Start(ctx, "Delete",
		trace.WithAttributes(attribute.String("session.id", sessionID)),
	)
	defer span.End()

	// Best effort: the paired phone should not keep a companion entry for a
	// session that is about to lose its credentials.
	if err := s.Manager.Logout(ctx, sessionID); err != nil && !errors.Is(err, gateway.ErrSessionNotActive) {
		span.RecordError(err)
	}

	s.Manager.Teardown(sessionID)
	if err := repo.DeactivateSession(ctx, s.DB, sessionID); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return ErrSessionNotFound
		}
		return err
	}
	if err := s.Manager.PurgeCredentials(sessionID); err != nil {
		span.RecordError(err)
	}
	return nil
}

// List returns the active sessions owned by the given API key, newest first.
func (s *SessionService) List(ctx context.Context, apiKey string) ([]domain.Session, error) {
	tr := otel.Tracer("services/SessionService")
	ctx, span := tr.Start(ctx, "List")
	defer span.End()

	return repo.ListActiveSessions(ctx, s.DB, apiKey)
}
