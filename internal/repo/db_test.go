package repo

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/tbourn/go-wa-gateway/internal/domain"
)

func TestOpenSQLite_AndMigrate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gateway.db")

	db, err := OpenSQLite(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := AutoMigrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	// Schema usable end to end
	ctx := context.Background()
	s, err := CreateSession(ctx, db, "boot", "key-boot")
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	if _, err := CreateMessage(ctx, db, MessageRecord{
		SessionID:   s.ID,
		Direction:   domain.DirectionIncoming,
		MessageType: domain.TypeText,
		Sender:      "1",
		Content:     "x",
		Status:      domain.StatusReceived,
	}); err != nil {
		t.Fatalf("create message: %v", err)
	}
}
