package gateway

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/tbourn/go-wa-gateway/internal/repo"
	"github.com/tbourn/go-wa-gateway/internal/transport"
)

// ErrPairingTimeout is returned when a creation call's wait for the first
// pairing code exceeds the configured deadline. The session row stays active
// and the state machine keeps running in the background.
var ErrPairingTimeout = errors.New("pairing timed out")

// ErrSessionNotActive is returned for relay operations on a session with no
// live, connected handle.
var ErrSessionNotActive = errors.New("session not active")

// dbTimeout bounds the durable writes issued from state-machine callbacks,
// which must not inherit a caller context that may already be gone.
const dbTimeout = 10 * time.Second

// Options configures a Manager.
type Options struct {
	// PairingTimeout bounds the creation call's wait for the first pairing
	// code. Defaults to 30s.
	PairingTimeout time.Duration
	// APIKeySecret keys the HMAC that derives session API keys.
	APIKeySecret string
	// Reconnect bounds the per-session redial loop.
	Reconnect ReconnectPolicy
	// Webhooks delivers inbound-event notifications. Required.
	Webhooks *Deliverer
	// Logger is the base logger; per-session loggers derive from it.
	Logger zerolog.Logger
}

// Manager is the orchestrator facade: it owns the registry, spawns and tears
// down per-session state machines, runs the pairing flow, and relays
// messages. One Manager exists per process, constructed at startup and
// drained at shutdown.
type Manager struct {
	db       *gorm.DB
	registry *Registry
	dialer   transport.Dialer
	creds    transport.CredentialStore
	webhooks *Deliverer

	pairingTimeout time.Duration
	apiKeySecret   string
	policy         ReconnectPolicy
	log            zerolog.Logger
}

// NewManager wires the orchestrator. The registry starts empty; previously
// active sessions are brought back by RestoreSessions.
func NewManager(db *gorm.DB, dialer transport.Dialer, creds transport.CredentialStore, opts Options) *Manager {
	if opts.PairingTimeout <= 0 {
		opts.PairingTimeout = 30 * time.Second
	}
	if opts.APIKeySecret == "" {
		opts.APIKeySecret = "whatsapp-gateway"
	}
	if opts.Reconnect == (ReconnectPolicy{}) {
		opts.Reconnect = DefaultReconnectPolicy()
	}
	if opts.Webhooks == nil {
		opts.Webhooks = NewDeliverer(0, opts.Logger)
	}
	return &Manager{
		db:             db,
		registry:       NewRegistry(),
		dialer:         dialer,
		creds:          creds,
		webhooks:       opts.Webhooks,
		pairingTimeout: opts.PairingTimeout,
		apiKeySecret:   opts.APIKeySecret,
		policy:         opts.Reconnect,
		log:            opts.Logger,
	}
}

// Registry exposes the live-handle table for status lookups and tests.
func (m *Manager) Registry() *Registry { return m.registry }

// CreationResult is what a successful creation (or pairing regeneration)
// returns. APIKey is surfaced exactly once, here.
type CreationResult struct {
	SessionID   string `json:"sessionId"`
	APIKey      string `json:"apiKey"`
	PairingCode string `json:"qrCode"`
	Name        string `json:"name"`
}

// generateAPIKey derives a hex HMAC-SHA256 over a fresh UUID, giving keys
// that are unguessable and unique per creation.
func (m *Manager) generateAPIKey() string {
	mac := hmac.New(sha256.New, []byte(m.apiKeySecret))
	mac.Write([]byte(uuid.NewString()))
	return hex.EncodeToString(mac.Sum(nil))
}

// CreateSession persists a new session row, starts its connection state
// machine, and waits for the first pairing code. On timeout the call fails
// with ErrPairingTimeout while the machine keeps running; a late scan still
// pairs the already-registered handle.
func (m *Manager) CreateSession(ctx context.Context, name string) (*CreationResult, error) {
	sess, err := repo.CreateSession(ctx, m.db, name, m.generateAPIKey())
	if err != nil {
		return nil, err
	}

	conn := m.spawn(sess.ID, sess.APIKey)

	waitCtx, cancel := context.WithTimeout(ctx, m.pairingTimeout)
	defer cancel()
	code, err := conn.WaitForPairing(waitCtx)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			pairingTimeouts.Inc()
			m.log.Warn().Str("session_id", sess.ID).Msg("pairing wait timed out; state machine continues in background")
			return nil, ErrPairingTimeout
		}
		return nil, err
	}

	return &CreationResult{
		SessionID:   sess.ID,
		APIKey:      sess.APIKey,
		PairingCode: code,
		Name:        sess.Name,
	}, nil
}

// RegeneratePairing re-runs the creation path reusing the existing session's
// name, producing a fresh credential/connection cycle (and a fresh key, which
// is returned because it is shown only once).
func (m *Manager) RegeneratePairing(ctx context.Context, name string) (*CreationResult, error) {
	return m.CreateSession(ctx, name)
}

// spawn builds, registers and starts the state machine for one session. Any
// prior handle for the id is fully shut down before the replacement is
// registered, so there is never a window with two active handles.
func (m *Manager) spawn(sessionID, apiKey string) *Connection {
	if old, ok := m.registry.Lookup(sessionID); ok {
		old.shutdown()
		m.registry.RemoveIf(sessionID, old)
	}

	var conn *Connection
	conn = newConnection(sessionID, apiKey, m.dialer, m.creds, m.policy, connectionHooks{
		connected: func(phone string) {
			ctx, cancel := context.WithTimeout(context.Background(), dbTimeout)
			defer cancel()
			if err := repo.SetSessionPhone(ctx, m.db, sessionID, phone); err != nil {
				m.log.Error().Err(err).Str("session_id", sessionID).Msg("persist phone number")
			}
		},
		loggedOut: func() {
			m.registry.RemoveIf(sessionID, conn)
			ctx, cancel := context.WithTimeout(context.Background(), dbTimeout)
			defer cancel()
			if err := repo.MarkLoggedOut(ctx, m.db, sessionID); err != nil {
				m.log.Error().Err(err).Str("session_id", sessionID).Msg("persist logout")
			}
		},
		failed: func(err error) {
			m.registry.RemoveIf(sessionID, conn)
		},
		inbound: func(ev transport.InboundMessage) {
			m.handleInbound(sessionID, apiKey, ev)
		},
	}, m.log)

	m.registry.Register(sessionID, conn)
	conn.start()
	return conn
}

// RestoreSessions starts a state machine for every active session row, e.g.
// after a process restart. Sessions restore independently: a failure spawning
// one is logged and does not block the others.
func (m *Manager) RestoreSessions(ctx context.Context) error {
	sessions, err := repo.ListAllActiveSessions(ctx, m.db)
	if err != nil {
		return err
	}
	m.log.Info().Int("count", len(sessions)).Msg("restoring active sessions")
	for _, s := range sessions {
		if _, ok := m.registry.Lookup(s.ID); ok {
			continue
		}
		m.spawn(s.ID, s.APIKey)
	}
	return nil
}

// Status reports whether the session currently holds an authenticated
// connection and, if so, its phone number. Unknown or torn-down sessions are
// simply not connected.
func (m *Manager) Status(sessionID string) (connected bool, phone string) {
	conn, ok := m.registry.Lookup(sessionID)
	if !ok {
		return false, ""
	}
	return conn.Status()
}

// Logout asks the network to unlink the session's device, so the paired
// phone does not keep a dead companion entry. It requires a live,
// authenticated connection; the resulting explicit-logout closure arrives on
// the event stream and drives the terminal LoggedOut transition like any
// remote unlink.
func (m *Manager) Logout(ctx context.Context, sessionID string) error {
	conn, ok := m.registry.Lookup(sessionID)
	if !ok {
		return ErrSessionNotActive
	}
	client, err := conn.snapshot()
	if err != nil {
		return ErrSessionNotActive
	}
	return client.Logout(ctx)
}

// Teardown stops and unregisters a session's state machine, if one is live.
// Used by the logical-delete path; the session row itself is not touched.
func (m *Manager) Teardown(sessionID string) {
	conn, ok := m.registry.Lookup(sessionID)
	if !ok {
		return
	}
	conn.shutdown()
	m.registry.RemoveIf(sessionID, conn)
}

// PurgeCredentials deletes the stored transport credentials for a session.
// Callers must tear the session down first; a live connection holds its
// credential store open.
func (m *Manager) PurgeCredentials(sessionID string) error {
	return m.creds.Purge(sessionID)
}

// Webhooks exposes the configured deliverer for manual webhook tests.
func (m *Manager) Webhooks() *Deliverer { return m.webhooks }

// Shutdown drains every live connection. Called once at process exit.
func (m *Manager) Shutdown() {
	m.registry.Drain()
}
