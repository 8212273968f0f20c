package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	sqlite "github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/go-wa-gateway/internal/domain"
	"github.com/tbourn/go-wa-gateway/internal/gateway"
	"github.com/tbourn/go-wa-gateway/internal/http/middleware"
	"github.com/tbourn/go-wa-gateway/internal/services"
)

func init() {
	gin.SetMode(gin.TestMode)
}

//
// Service fakes
//

type fakeSessionSvc struct {
	createFn func(ctx context.Context, name string) (*gateway.CreationResult, error)
	statusFn func(ctx context.Context, sessionID string) (*services.SessionStatus, error)
	regenFn  func(ctx context.Context, sessionID string) (*gateway.CreationResult, error)
	deleteFn func(ctx context.Context, sessionID string) error
	listFn   func(ctx context.Context, apiKey string) ([]domain.Session, error)
}

func (f *fakeSessionSvc) Create(ctx context.Context, name string) (*gateway.CreationResult, error) {
	return f.createFn(ctx, name)
}

func (f *fakeSessionSvc) Status(ctx context.Context, sessionID string) (*services.SessionStatus, error) {
	return f.statusFn(ctx, sessionID)
}

func (f *fakeSessionSvc) Regenerate(ctx context.Context, sessionID string) (*gateway.CreationResult, error) {
	return f.regenFn(ctx, sessionID)
}

func (f *fakeSessionSvc) Delete(ctx context.Context, sessionID string) error {
	return f.deleteFn(ctx, sessionID)
}

func (f *fakeSessionSvc) List(ctx context.Context, apiKey string) ([]domain.Session, error) {
	return f.listFn(ctx, apiKey)
}

type fakeMessageSvc struct {
	sendFn func(ctx context.Context, sessionID string, in services.SendInput) (*gateway.SendResult, *domain.Message, error)
	listFn func(ctx context.Context, sessionID string, f services.HistoryFilter, limit, offset int) ([]domain.Message, int64, error)
	getFn  func(ctx context.Context, sessionID, messageID string) (*domain.Message, error)
}

func (f *fakeMessageSvc) Send(ctx context.Context, sessionID string, in services.SendInput) (*gateway.SendResult, *domain.Message, error) {
	return f.sendFn(ctx, sessionID, in)
}

func (f *fakeMessageSvc) ListPage(ctx context.Context, sessionID string, filter services.HistoryFilter, limit, offset int) ([]domain.Message, int64, error) {
	return f.listFn(ctx, sessionID, filter, limit, offset)
}

func (f *fakeMessageSvc) Get(ctx context.Context, sessionID, messageID string) (*domain.Message, error) {
	return f.getFn(ctx, sessionID, messageID)
}

type fakeWebhookSvc struct {
	setFn    func(ctx context.Context, sessionID, rawURL string) error
	getFn    func(ctx context.Context, sessionID string) (string, error)
	removeFn func(ctx context.Context, sessionID string) error
	testFn   func(ctx context.Context, sessionID string) (*gateway.TestResult, error)
}

func (f *fakeWebhookSvc) Set(ctx context.Context, sessionID, rawURL string) error {
	return f.setFn(ctx, sessionID, rawURL)
}

func (f *fakeWebhookSvc) Get(ctx context.Context, sessionID string) (string, error) {
	return f.getFn(ctx, sessionID)
}

func (f *fakeWebhookSvc) Remove(ctx context.Context, sessionID string) error {
	return f.removeFn(ctx, sessionID)
}

func (f *fakeWebhookSvc) Test(ctx context.Context, sessionID string) (*gateway.TestResult, error) {
	return f.testFn(ctx, sessionID)
}

//
// Router / request helpers
//

// testSession is the identity the fake auth layer injects.
func testSession() *domain.Session {
	return &domain.Session{
		ID:       "11111111-1111-4111-8111-111111111111",
		Name:     "tenant-a",
		APIKey:   "key-aaa",
		IsActive: true,
	}
}

// setupRouter registers the real routes with the auth context pre-populated,
// mirroring what APIKeyAuth does after a successful key lookup. A nil session
// leaves the routes unauthenticated.
func setupRouter(h *Handlers, sess *domain.Session) *gin.Engine {
	r := gin.New()
	if sess != nil {
		r.Use(func(c *gin.Context) {
			c.Set("session", sess)
			c.Set("sessionID", sess.ID)
		})
	}
	// The idempotency validator mounts on the send route only, as in the real
	// router.
	idem := middleware.IdempotencyValidator(middleware.IdempotencyOptions{}, nil)

	r.GET("/auth/verify", h.VerifyKey)
	r.POST("/sessions", h.CreateSession)
	r.GET("/sessions", h.ListSessions)
	r.GET("/sessions/status/:id", h.SessionStatus)
	r.GET("/sessions/qr/:id", h.RegeneratePairing)
	r.DELETE("/sessions/:id", h.DeleteSession)
	r.POST("/messages/send", idem, h.SendMessage)
	r.GET("/messages", h.ListMessages)
	r.GET("/messages/:id", h.GetMessage)
	r.POST("/webhooks/config", h.SetWebhook)
	r.GET("/webhooks/config", h.GetWebhook)
	r.DELETE("/webhooks/config", h.DeleteWebhook)
	r.POST("/webhooks/test", h.TestWebhook)
	return r
}

func doJSON(t *testing.T, r *gin.Engine, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response %q: %v", w.Body.String(), err)
	}
	return out
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:handlers_%s?mode=memory&cache=shared", uuid.NewString())
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
