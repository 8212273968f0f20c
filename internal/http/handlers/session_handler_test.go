package handlers

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/tbourn/go-wa-gateway/internal/domain"
	"github.com/tbourn/go-wa-gateway/internal/gateway"
	"github.com/tbourn/go-wa-gateway/internal/services"
)

func TestCreateSession_Success(t *testing.T) {
	var gotName string
	h := New(&fakeSessionSvc{
		createFn: func(_ context.Context, name string) (*gateway.CreationResult, error) {
			gotName = name
			return &gateway.CreationResult{
				SessionID:   "sess-1",
				APIKey:      "key-1",
				PairingCode: "QR",
				Name:        name,
			}, nil
		},
	}, nil, nil)

	// Creation is the one public route; no session in context.
	r := setupRouter(h, nil)
	w := doJSON(t, r, http.MethodPost, "/sessions", CreateSessionRequest{Name: "Support line"}, nil)

	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	if gotName != "Support line" {
		t.Fatalf("service saw name %q", gotName)
	}
	res := decode[gateway.CreationResult](t, w)
	if res.APIKey != "key-1" || res.PairingCode != "QR" {
		t.Fatalf("body: %+v", res)
	}
}

func TestCreateSession_EmptyBodyAllowed(t *testing.T) {
	h := New(&fakeSessionSvc{
		createFn: func(_ context.Context, name string) (*gateway.CreationResult, error) {
			return &gateway.CreationResult{SessionID: "sess-1", Name: name}, nil
		},
	}, nil, nil)

	w := doJSON(t, setupRouter(h, nil), http.MethodPost, "/sessions", nil, nil)
	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
}

func TestCreateSession_PairingTimeout(t *testing.T) {
	h := New(&fakeSessionSvc{
		createFn: func(context.Context, string) (*gateway.CreationResult, error) {
			return nil, gateway.ErrPairingTimeout
		},
	}, nil, nil)

	w := doJSON(t, setupRouter(h, nil), http.MethodPost, "/sessions", nil, nil)
	if w.Code != http.StatusGatewayTimeout {
		t.Fatalf("status = %d", w.Code)
	}
	res := decode[ErrorResponse](t, w)
	if res.Code != ErrCodePairingTimeout {
		t.Fatalf("code = %q", res.Code)
	}
}

func TestListSessions(t *testing.T) {
	sess := testSession()
	phone := "30691"
	h := New(&fakeSessionSvc{
		listFn: func(_ context.Context, apiKey string) ([]domain.Session, error) {
			if apiKey != sess.APIKey {
				t.Errorf("list called with key %q", apiKey)
			}
			return []domain.Session{{
				ID:          sess.ID,
				Name:        sess.Name,
				PhoneNumber: &phone,
				CreatedAt:   time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC),
			}}, nil
		},
	}, nil, nil)

	w := doJSON(t, setupRouter(h, sess), http.MethodGet, "/sessions", nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	res := decode[ListSessionsResponse](t, w)
	if len(res.Sessions) != 1 {
		t.Fatalf("sessions: %+v", res.Sessions)
	}
	got := res.Sessions[0]
	if got.ID != sess.ID || got.PhoneNumber == nil || *got.PhoneNumber != phone {
		t.Fatalf("summary: %+v", got)
	}
	if got.CreatedAt != "2026-08-01T12:00:00Z" {
		t.Fatalf("createdAt = %q", got.CreatedAt)
	}
}

func TestListSessions_Unauthenticated(t *testing.T) {
	h := New(&fakeSessionSvc{}, nil, nil)
	w := doJSON(t, setupRouter(h, nil), http.MethodGet, "/sessions", nil, nil)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d", w.Code)
	}
}

func TestSessionStatus(t *testing.T) {
	sess := testSession()
	h := New(&fakeSessionSvc{
		statusFn: func(_ context.Context, id string) (*services.SessionStatus, error) {
			return &services.SessionStatus{ID: id, Connected: true, State: "connected"}, nil
		},
	}, nil, nil)
	r := setupRouter(h, sess)

	w := doJSON(t, r, http.MethodGet, "/sessions/status/"+sess.ID, nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	res := decode[services.SessionStatus](t, w)
	if !res.Connected || res.State != "connected" {
		t.Fatalf("body: %+v", res)
	}

	// Non-UUID path parameter
	w = doJSON(t, r, http.MethodGet, "/sessions/status/not-a-uuid", nil, nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", w.Code)
	}

	// Another tenant's session id
	w = doJSON(t, r, http.MethodGet, "/sessions/status/22222222-2222-4222-8222-222222222222", nil, nil)
	if w.Code != http.StatusForbidden {
		t.Fatalf("status = %d", w.Code)
	}
}

func TestSessionStatus_NotFound(t *testing.T) {
	sess := testSession()
	h := New(&fakeSessionSvc{
		statusFn: func(context.Context, string) (*services.SessionStatus, error) {
			return nil, services.ErrSessionNotFound
		},
	}, nil, nil)

	w := doJSON(t, setupRouter(h, sess), http.MethodGet, "/sessions/status/"+sess.ID, nil, nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d", w.Code)
	}
	if res := decode[ErrorResponse](t, w); res.Code != ErrCodeNotFound {
		t.Fatalf("code = %q", res.Code)
	}
}

func TestRegeneratePairing(t *testing.T) {
	sess := testSession()
	h := New(&fakeSessionSvc{
		regenFn: func(_ context.Context, id string) (*gateway.CreationResult, error) {
			return &gateway.CreationResult{SessionID: "fresh", APIKey: "key-fresh", PairingCode: "QR2"}, nil
		},
	}, nil, nil)
	r := setupRouter(h, sess)

	w := doJSON(t, r, http.MethodGet, "/sessions/qr/"+sess.ID, nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	res := decode[gateway.CreationResult](t, w)
	if res.SessionID != "fresh" || res.PairingCode != "QR2" {
		t.Fatalf("body: %+v", res)
	}
}

func TestRegeneratePairing_Timeout(t *testing.T) {
	sess := testSession()
	h := New(&fakeSessionSvc{
		regenFn: func(context.Context, string) (*gateway.CreationResult, error) {
			return nil, gateway.ErrPairingTimeout
		},
	}, nil, nil)

	w := doJSON(t, setupRouter(h, sess), http.MethodGet, "/sessions/qr/"+sess.ID, nil, nil)
	if w.Code != http.StatusGatewayTimeout {
		t.Fatalf("status = %d", w.Code)
	}
}

func TestDeleteSession(t *testing.T) {
	sess := testSession()
	var deleted string
	h := New(&fakeSessionSvc{
		deleteFn: func(_ context.Context, id string) error {
			deleted = id
			return nil
		},
	}, nil, nil)
	r := setupRouter(h, sess)

	w := doJSON(t, r, http.MethodDelete, "/sessions/"+sess.ID, nil, nil)
	if w.Code != http.StatusNoContent {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	if deleted != sess.ID {
		t.Fatalf("service deleted %q", deleted)
	}

	// Ownership is enforced before the service is reached.
	w = doJSON(t, r, http.MethodDelete, "/sessions/22222222-2222-4222-8222-222222222222", nil, nil)
	if w.Code != http.StatusForbidden {
		t.Fatalf("status = %d", w.Code)
	}
}

func TestDeleteSession_ServiceError(t *testing.T) {
	sess := testSession()
	h := New(&fakeSessionSvc{
		deleteFn: func(context.Context, string) error { return errors.New("db down") },
	}, nil, nil)

	w := doJSON(t, setupRouter(h, sess), http.MethodDelete, "/sessions/"+sess.ID, nil, nil)
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d", w.Code)
	}
}
