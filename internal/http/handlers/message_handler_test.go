package handlers

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/tbourn/go-wa-gateway/internal/domain"
	"github.com/tbourn/go-wa-gateway/internal/gateway"
	"github.com/tbourn/go-wa-gateway/internal/repo"
	"github.com/tbourn/go-wa-gateway/internal/services"
	"github.com/tbourn/go-wa-gateway/internal/transport"
)

func TestSendMessage_Success(t *testing.T) {
	sess := testSession()
	var gotInput services.SendInput
	msgSvc := &fakeMessageSvc{
		sendFn: func(_ context.Context, sessionID string, in services.SendInput) (*gateway.SendResult, *domain.Message, error) {
			if sessionID != sess.ID {
				t.Errorf("send called for session %q", sessionID)
			}
			gotInput = in
			return &gateway.SendResult{Success: true, MessageID: "WAMID-1"},
				&domain.Message{ID: "m1", Status: domain.StatusSent}, nil
		},
	}
	h := New(nil, msgSvc, nil)

	w := doJSON(t, setupRouter(h, sess), http.MethodPost, "/messages/send", SendMessageRequest{
		To:   "+306912345678",
		Text: "hello",
	}, nil)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	res := decode[SendMessageResponse](t, w)
	if !res.Success || res.MessageID != "WAMID-1" || res.Message == nil {
		t.Fatalf("body: %+v", res)
	}
	if gotInput.Recipient != "+306912345678" || gotInput.Text != "hello" {
		t.Fatalf("input: %+v", gotInput)
	}
}

func TestSendMessage_MissingRecipient(t *testing.T) {
	h := New(nil, &fakeMessageSvc{}, nil)
	w := doJSON(t, setupRouter(h, testSession()), http.MethodPost, "/messages/send", map[string]string{
		"text": "no recipient",
	}, nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", w.Code)
	}
}

func TestSendMessage_ValidationErrorsMapTo400(t *testing.T) {
	for _, svcErr := range []error{
		services.ErrTextRequired,
		services.ErrMediaURLRequired,
		services.ErrUnsupportedType,
	} {
		h := New(nil, &fakeMessageSvc{
			sendFn: func(context.Context, string, services.SendInput) (*gateway.SendResult, *domain.Message, error) {
				return nil, nil, svcErr
			},
		}, nil)
		w := doJSON(t, setupRouter(h, testSession()), http.MethodPost, "/messages/send", SendMessageRequest{
			To: "1", Type: "image",
		}, nil)
		if w.Code != http.StatusBadRequest {
			t.Errorf("%v: status = %d", svcErr, w.Code)
		}
	}
}

func TestSendMessage_TransportFailureIs502WithBody(t *testing.T) {
	reason := "session not active"
	h := New(nil, &fakeMessageSvc{
		sendFn: func(context.Context, string, services.SendInput) (*gateway.SendResult, *domain.Message, error) {
			return &gateway.SendResult{Success: false, Error: reason},
				&domain.Message{ID: "m1", Status: domain.StatusFailed, FailureReason: &reason}, nil
		},
	}, nil)

	w := doJSON(t, setupRouter(h, testSession()), http.MethodPost, "/messages/send", SendMessageRequest{
		To: "1", Text: "x",
	}, nil)

	if w.Code != http.StatusBadGateway {
		t.Fatalf("status = %d", w.Code)
	}
	res := decode[SendMessageResponse](t, w)
	if res.Success || res.Error != reason || res.Message == nil {
		t.Fatalf("body: %+v", res)
	}
}

//
// Idempotent send, exercised against the real MessageService so the handler's
// replay and store paths hit actual rows.
//

type noDialer struct{}

func (noDialer) Dial(context.Context, string, transport.CredentialStore) (transport.Client, error) {
	return nil, errors.New("no transport in this test")
}

type noCreds struct{}

func (noCreds) Namespace(string) (string, error) { return "", nil }
func (noCreds) Purge(string) error               { return nil }

func TestSendMessage_IdempotencyReplay(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	sessRow, err := repo.CreateSession(ctx, db, "tenant-a", "key-aaa")
	if err != nil {
		t.Fatalf("seed session: %v", err)
	}
	mgr := gateway.NewManager(db, noDialer{}, noCreds{}, gateway.Options{Logger: zerolog.Nop()})
	t.Cleanup(mgr.Shutdown)
	h := New(nil, &services.MessageService{DB: db, Manager: mgr}, nil)
	r := setupRouter(h, sessRow)

	// No live handle: the relay fails but still writes the audit row, and the
	// idempotency record is stored against it.
	headers := map[string]string{"Idempotency-Key": "retry-123"}
	w := doJSON(t, r, http.MethodPost, "/messages/send", SendMessageRequest{To: "1555", Text: "x"}, headers)
	if w.Code != http.StatusBadGateway {
		t.Fatalf("first call status = %d, body %s", w.Code, w.Body.String())
	}
	first := decode[SendMessageResponse](t, w)
	if first.Success || first.Message == nil {
		t.Fatalf("first body: %+v", first)
	}

	// Same key again: the stored row is replayed without another relay attempt.
	w = doJSON(t, r, http.MethodPost, "/messages/send", SendMessageRequest{To: "1555", Text: "x"}, headers)
	if w.Code != http.StatusOK {
		t.Fatalf("replay status = %d, body %s", w.Code, w.Body.String())
	}
	if w.Header().Get("Idempotency-Replayed") != "true" {
		t.Fatalf("replay marker header missing")
	}
	replay := decode[SendMessageResponse](t, w)
	if replay.Message == nil || replay.Message.ID != first.Message.ID {
		t.Fatalf("replay body: %+v", replay)
	}
	if replay.Success {
		t.Fatalf("replayed outcome must mirror the stored failed status")
	}

	// Only one audit row exists for the two calls.
	total, err := repo.CountMessages(ctx, db, repo.MessageFilter{SessionID: sessRow.ID})
	if err != nil || total != 1 {
		t.Fatalf("audit rows = %d (%v)", total, err)
	}

	// A different key relays again.
	w = doJSON(t, r, http.MethodPost, "/messages/send", SendMessageRequest{To: "1555", Text: "x"},
		map[string]string{"Idempotency-Key": "retry-456"})
	if w.Code != http.StatusBadGateway {
		t.Fatalf("new key status = %d", w.Code)
	}
	total, _ = repo.CountMessages(ctx, db, repo.MessageFilter{SessionID: sessRow.ID})
	if total != 2 {
		t.Fatalf("audit rows after new key = %d", total)
	}
}

func TestListMessages_Pagination(t *testing.T) {
	sess := testSession()
	var gotLimit, gotOffset int
	h := New(nil, &fakeMessageSvc{
		listFn: func(_ context.Context, _ string, f services.HistoryFilter, limit, offset int) ([]domain.Message, int64, error) {
			gotLimit, gotOffset = limit, offset
			if f.Direction != domain.DirectionIncoming || f.Phone != "111" {
				t.Errorf("filter: %+v", f)
			}
			return []domain.Message{{ID: "m1"}, {ID: "m2"}}, 5, nil
		},
	}, nil)

	w := doJSON(t, setupRouter(h, sess), http.MethodGet,
		"/messages?direction=incoming&phone=111&limit=2&offset=2", nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	if gotLimit != 2 || gotOffset != 2 {
		t.Fatalf("limit=%d offset=%d", gotLimit, gotOffset)
	}
	res := decode[ListMessagesResponse](t, w)
	if res.Pagination.Total != 5 || !res.Pagination.HasNext {
		t.Fatalf("pagination: %+v", res.Pagination)
	}
	if len(res.Messages) != 2 {
		t.Fatalf("messages: %+v", res.Messages)
	}
}

func TestListMessages_ClampsParams(t *testing.T) {
	sess := testSession()
	var gotLimit, gotOffset int
	h := New(nil, &fakeMessageSvc{
		listFn: func(_ context.Context, _ string, _ services.HistoryFilter, limit, offset int) ([]domain.Message, int64, error) {
			gotLimit, gotOffset = limit, offset
			return []domain.Message{}, 0, nil
		},
	}, nil)
	r := setupRouter(h, sess)

	// Garbage falls back to defaults.
	doJSON(t, r, http.MethodGet, "/messages?limit=abc&offset=-3", nil, nil)
	if gotLimit != 20 || gotOffset != 0 {
		t.Fatalf("limit=%d offset=%d", gotLimit, gotOffset)
	}

	// Oversized page is capped.
	doJSON(t, r, http.MethodGet, "/messages?limit=5000", nil, nil)
	if gotLimit != 100 {
		t.Fatalf("limit = %d", gotLimit)
	}

	w := doJSON(t, r, http.MethodGet, "/messages", nil, nil)
	res := decode[ListMessagesResponse](t, w)
	if res.Pagination.HasNext {
		t.Fatalf("empty history cannot have a next page")
	}
}

func TestGetMessage(t *testing.T) {
	sess := testSession()
	h := New(nil, &fakeMessageSvc{
		getFn: func(_ context.Context, sessionID, messageID string) (*domain.Message, error) {
			if messageID == "m1" && sessionID == sess.ID {
				return &domain.Message{ID: "m1", Content: "hi"}, nil
			}
			return nil, services.ErrMessageNotFound
		},
	}, nil)
	r := setupRouter(h, sess)

	w := doJSON(t, r, http.MethodGet, "/messages/m1", nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	res := decode[domain.Message](t, w)
	if res.Content != "hi" {
		t.Fatalf("body: %+v", res)
	}

	w = doJSON(t, r, http.MethodGet, "/messages/other", nil, nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d", w.Code)
	}
}

// Idempotency records expire; an expired record must not replay.
func TestSendMessage_ExpiredIdempotencyRecordIgnored(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	sessRow, err := repo.CreateSession(ctx, db, "tenant-a", "key-aaa")
	if err != nil {
		t.Fatalf("seed session: %v", err)
	}
	msg, err := repo.CreateMessage(ctx, db, repo.MessageRecord{
		SessionID:   sessRow.ID,
		Direction:   domain.DirectionOutgoing,
		MessageType: domain.TypeText,
		Recipient:   "1555",
		Content:     "old",
		Status:      domain.StatusSent,
	})
	if err != nil {
		t.Fatalf("seed message: %v", err)
	}
	// Already past its TTL
	if _, err := repo.CreateIdempotency(ctx, db, sessRow.ID, "stale-key", msg.ID, http.StatusOK, -time.Hour); err != nil {
		t.Fatalf("seed idempotency: %v", err)
	}

	mgr := gateway.NewManager(db, noDialer{}, noCreds{}, gateway.Options{Logger: zerolog.Nop()})
	t.Cleanup(mgr.Shutdown)
	h := New(nil, &services.MessageService{DB: db, Manager: mgr}, nil)

	w := doJSON(t, setupRouter(h, sessRow), http.MethodPost, "/messages/send",
		SendMessageRequest{To: "1555", Text: "fresh"},
		map[string]string{"Idempotency-Key": "stale-key"})

	// Not a replay: the relay runs (and fails, no live handle).
	if w.Header().Get("Idempotency-Replayed") != "" {
		t.Fatalf("expired record must not replay")
	}
	if w.Code != http.StatusBadGateway {
		t.Fatalf("status = %d", w.Code)
	}
}
