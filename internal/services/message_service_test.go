package services

import (
	"context"
	"errors"
	"testing"

	"github.com/tbourn/go-wa-gateway/internal/domain"
	"github.com/tbourn/go-wa-gateway/internal/repo"
)

func newMessageService(t *testing.T) (*MessageService, *stubDialer) {
	t.Helper()
	db := newTestDB(t)
	d := newStubDialer()
	return &MessageService{DB: db, Manager: newTestManager(t, db, d)}, d
}

func TestMessageService_SendValidation(t *testing.T) {
	svc, _ := newMessageService(t)
	ctx := context.Background()

	cases := []struct {
		name string
		in   SendInput
		want error
	}{
		{"empty recipient", SendInput{Recipient: "  ", Type: domain.TypeText, Text: "hi"}, ErrRecipientRequired},
		{"unknown type", SendInput{Recipient: "1", Type: "sticker", Text: "hi"}, ErrUnsupportedType},
		{"text without body", SendInput{Recipient: "1", Type: domain.TypeText, Text: "  "}, ErrTextRequired},
		{"media without url", SendInput{Recipient: "1", Type: domain.TypeImage}, ErrMediaURLRequired},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, _, err := svc.Send(ctx, "sess-1", tc.in); !errors.Is(err, tc.want) {
				t.Fatalf("got %v, want %v", err, tc.want)
			}
		})
	}

	// Rejected requests leave no audit row behind.
	total, err := repo.CountMessages(ctx, svc.DB, repo.MessageFilter{SessionID: "sess-1"})
	if err != nil || total != 0 {
		t.Fatalf("validation failures must not persist rows: %d (%v)", total, err)
	}
}

func TestMessageService_SendDefaultsTypeToText(t *testing.T) {
	svc, d := newMessageService(t)
	ctx := context.Background()

	res, err := svc.Manager.CreateSession(ctx, "tenant-a")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	connectSession(t, svc.Manager, d, res.SessionID, "30691")

	out, msg, err := svc.Send(ctx, res.SessionID, SendInput{Recipient: "+306912345678", Text: "hello"})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if !out.Success || out.MessageID != "WAMID-1" {
		t.Fatalf("result: %+v", out)
	}
	if msg.MessageType != domain.TypeText || msg.Status != domain.StatusSent {
		t.Fatalf("row: %+v", msg)
	}
}

func TestMessageService_SendOnDeadSessionReturnsFailureResult(t *testing.T) {
	svc, _ := newMessageService(t)

	out, msg, err := svc.Send(context.Background(), "ghost", SendInput{Recipient: "1", Text: "x"})
	if err != nil {
		t.Fatalf("transport failure must not surface as error: %v", err)
	}
	if out.Success || out.Error == "" {
		t.Fatalf("result: %+v", out)
	}
	if msg.Status != domain.StatusFailed {
		t.Fatalf("row: %+v", msg)
	}
}

func TestMessageService_ListPage(t *testing.T) {
	svc, _ := newMessageService(t)
	ctx := context.Background()

	sess, err := repo.CreateSession(ctx, svc.DB, "a", "key-a")
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	for _, content := range []string{"one", "two", "three"} {
		if _, err := repo.CreateMessage(ctx, svc.DB, repo.MessageRecord{
			SessionID:   sess.ID,
			Direction:   domain.DirectionIncoming,
			MessageType: domain.TypeText,
			Sender:      "111",
			Content:     content,
			Status:      domain.StatusReceived,
		}); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}

	items, total, err := svc.ListPage(ctx, sess.ID, HistoryFilter{}, 2, 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if total != 3 || len(items) != 2 {
		t.Fatalf("total=%d items=%d", total, len(items))
	}

	// Zero limit falls back to the default page size.
	items, total, err = svc.ListPage(ctx, sess.ID, HistoryFilter{}, 0, 0)
	if err != nil || total != 3 || len(items) != 3 {
		t.Fatalf("default limit: total=%d items=%d (%v)", total, len(items), err)
	}

	// Filters narrow both the page and the total.
	items, total, err = svc.ListPage(ctx, sess.ID, HistoryFilter{Phone: "999"}, 0, 0)
	if err != nil || total != 0 || len(items) != 0 {
		t.Fatalf("empty filter result: total=%d items=%v (%v)", total, items, err)
	}
	if items == nil {
		t.Fatalf("empty page must be a non-nil slice")
	}
}

func TestMessageService_Get(t *testing.T) {
	svc, _ := newMessageService(t)
	ctx := context.Background()

	sess, _ := repo.CreateSession(ctx, svc.DB, "a", "key-a")
	other, _ := repo.CreateSession(ctx, svc.DB, "b", "key-b")
	msg, err := repo.CreateMessage(ctx, svc.DB, repo.MessageRecord{
		SessionID:   sess.ID,
		Direction:   domain.DirectionIncoming,
		MessageType: domain.TypeText,
		Sender:      "111",
		Content:     "hi",
		Status:      domain.StatusReceived,
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}

	got, err := svc.Get(ctx, sess.ID, msg.ID)
	if err != nil || got.Content != "hi" {
		t.Fatalf("get: %v (%v)", got, err)
	}

	if _, err := svc.Get(ctx, other.ID, msg.ID); !errors.Is(err, ErrMessageNotFound) {
		t.Fatalf("cross-session get must not resolve, got %v", err)
	}
	if _, err := svc.Get(ctx, sess.ID, "no-such-id"); !errors.Is(err, ErrMessageNotFound) {
		t.Fatalf("expected ErrMessageNotFound, got %v", err)
	}
}
