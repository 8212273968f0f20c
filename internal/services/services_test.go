package services

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/go-wa-gateway/internal/domain"
	"github.com/tbourn/go-wa-gateway/internal/gateway"
	"github.com/tbourn/go-wa-gateway/internal/transport"
)

// stubClient is a canned transport client whose event stream the tests drive.
type stubClient struct {
	ch     chan transport.Event
	sendID string

	mu        sync.Mutex
	loggedOut bool
}

func newStubClient() *stubClient {
	c := &stubClient{ch: make(chan transport.Event, 16), sendID: "WAMID-1"}
	c.ch <- transport.PairingCode{Code: "QR-PAYLOAD"}
	return c
}

func (c *stubClient) Events() <-chan transport.Event { return c.ch }

func (c *stubClient) SendText(context.Context, string, string) (string, error) {
	return c.sendID, nil
}

func (c *stubClient) SendMedia(context.Context, string, transport.MessageKind, string, string) (string, error) {
	return c.sendID, nil
}

func (c *stubClient) IsConnected() bool { return true }

// Logout records the unlink request and answers with the explicit-logout
// closure, as the real transport does.
func (c *stubClient) Logout(context.Context) error {
	c.mu.Lock()
	c.loggedOut = true
	c.mu.Unlock()
	c.ch <- transport.Disconnected{Reason: transport.ReasonLoggedOut}
	return nil
}

func (c *stubClient) didLogout() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loggedOut
}

func (c *stubClient) Close() error { return nil }

// stubDialer hands out one stubClient per dial and remembers them in order.
type stubDialer struct {
	clients chan *stubClient
	made    []*stubClient
}

func newStubDialer() *stubDialer {
	return &stubDialer{clients: make(chan *stubClient, 16)}
}

func (d *stubDialer) Dial(context.Context, string, transport.CredentialStore) (transport.Client, error) {
	c := newStubClient()
	d.made = append(d.made, c)
	d.clients <- c
	return c, nil
}

// last pops the most recently dialed client.
func (d *stubDialer) last(t *testing.T) *stubClient {
	t.Helper()
	select {
	case c := <-d.clients:
		return c
	case <-time.After(time.Second):
		t.Fatalf("no client was dialed")
		return nil
	}
}

type nopCreds struct{}

func (nopCreds) Namespace(string) (string, error) { return "", nil }
func (nopCreds) Purge(string) error               { return nil }

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:services_%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	db.Exec("PRAGMA foreign_keys=ON;")
	if err := db.AutoMigrate(&domain.Session{}, &domain.Message{}, &domain.Idempotency{}); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

func newTestManager(t *testing.T, db *gorm.DB, d *stubDialer) *gateway.Manager {
	t.Helper()
	m := gateway.NewManager(db, d, nopCreds{}, gateway.Options{
		PairingTimeout: time.Second,
		APIKeySecret:   "test-secret",
		Reconnect:      gateway.ReconnectPolicy{BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, MaxRetries: 2},
		Logger:         zerolog.Nop(),
	})
	t.Cleanup(m.Shutdown)
	return m
}

// connectSession pushes the session created last into the connected state and
// returns its transport client.
func connectSession(t *testing.T, m *gateway.Manager, d *stubDialer, sessionID, phone string) *stubClient {
	t.Helper()
	cl := d.last(t)
	cl.ch <- transport.Connected{PhoneNumber: phone}

	conn, ok := m.Registry().Lookup(sessionID)
	if !ok {
		t.Fatalf("no handle for %s", sessionID)
	}
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if connected, _ := conn.Status(); connected {
			return cl
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("session %s never connected", sessionID)
	return nil
}
