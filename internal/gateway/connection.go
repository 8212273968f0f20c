package gateway

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/tbourn/go-wa-gateway/internal/transport"
)

// State is the lifecycle phase of one session connection.
type State int32

const (
	// StateInitializing: credentials are being loaded and the transport dialed.
	StateInitializing State = iota
	// StateAwaitingPairing: the transport surfaced a pairing code and waits
	// for it to be scanned.
	StateAwaitingPairing
	// StateConnected: authenticated; sends are accepted.
	StateConnected
	// StateReconnecting: the transport closed for a non-logout reason and a
	// redial is pending.
	StateReconnecting
	// StateLoggedOut: terminal; the remote identity was unlinked.
	StateLoggedOut
	// StateFailed: terminal; the retry budget was exhausted or the first dial
	// failed. Surfaced instead of looping forever.
	StateFailed
)

// String implements fmt.Stringer.
func (s State) String() string {
	switch s {
	case StateInitializing:
		return "initializing"
	case StateAwaitingPairing:
		return "awaiting_pairing"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateLoggedOut:
		return "logged_out"
	case StateFailed:
		return "failed"
	}
	return "unknown"
}

// ErrNotConnected is returned by snapshot when no authenticated transport
// client is currently available for sending.
var ErrNotConnected = errors.New("session not connected")

// ReconnectPolicy bounds the redial loop. The zero value is not usable;
// DefaultReconnectPolicy gives sane production numbers.
type ReconnectPolicy struct {
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	MaxRetries int
}

// DefaultReconnectPolicy retries with exponential backoff from 2s capped at
// 1m, giving up (terminal Failed state) after 10 consecutive failures.
func DefaultReconnectPolicy() ReconnectPolicy {
	return ReconnectPolicy{BaseDelay: 2 * time.Second, MaxDelay: time.Minute, MaxRetries: 10}
}

// delay returns the backoff for the n-th consecutive failure (n >= 1).
func (p ReconnectPolicy) delay(n int) time.Duration {
	d := p.BaseDelay
	for i := 1; i < n; i++ {
		d *= 2
		if d >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	if d > p.MaxDelay {
		return p.MaxDelay
	}
	return d
}

// connectionHooks report durable transitions and inbound traffic to the
// manager. All hooks run on the connection's event goroutine, preserving
// per-session event order.
type connectionHooks struct {
	connected func(phone string)
	loggedOut func()
	failed    func(err error)
	inbound   func(ev transport.InboundMessage)
}

type pairingResult struct {
	code string
	err  error
}

// Connection is the in-memory handle for one session's live link to the
// network. It owns exactly one transport client at a time; on reconnection
// the client is torn down and redialed while the handle identity (and its
// registry entry) survives.
type Connection struct {
	sessionID string
	apiKey    string

	dialer transport.Dialer
	creds  transport.CredentialStore
	policy ReconnectPolicy
	hooks  connectionHooks
	log    zerolog.Logger

	mu      sync.Mutex
	state   State
	client  transport.Client
	pairing string
	phone   string

	pairingOnce sync.Once
	pairingCh   chan pairingResult

	cancel context.CancelFunc
	done   chan struct{}
}

func newConnection(sessionID, apiKey string, dialer transport.Dialer, creds transport.CredentialStore, policy ReconnectPolicy, hooks connectionHooks, log zerolog.Logger) *Connection {
	return &Connection{
		sessionID: sessionID,
		apiKey:    apiKey,
		dialer:    dialer,
		creds:     creds,
		policy:    policy,
		hooks:     hooks,
		log:       log.With().Str("session_id", sessionID).Logger(),
		state:     StateInitializing,
		pairingCh: make(chan pairingResult, 1),
		done:      make(chan struct{}),
	}
}

// start launches the state machine goroutine.
func (c *Connection) start() {
	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	go c.run(ctx)
}

// shutdown stops the state machine and waits for its goroutine to exit. The
// current transport client is fully released before shutdown returns.
func (c *Connection) shutdown() {
	if c.cancel != nil {
		c.cancel()
	}
	<-c.done
}

// run drives Initializing → (AwaitingPairing) → Connected ⇄ Reconnecting
// until a terminal state. It is the only writer of c.client.
func (c *Connection) run(ctx context.Context) {
	defer close(c.done)

	retries := 0
	first := true
	for {
		c.setState(StateInitializing)
		client, err := c.dialer.Dial(ctx, c.sessionID, c.creds)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if first {
				// A failed first attempt surfaces as a failed creation or
				// restore; there is no prior link worth retrying.
				c.fail(err)
				return
			}
			retries++
			if c.policy.MaxRetries > 0 && retries > c.policy.MaxRetries {
				c.fail(err)
				return
			}
			c.setState(StateReconnecting)
			reconnectAttempts.Inc()
			c.log.Warn().Err(err).Int("attempt", retries).Msg("redial failed, backing off")
			if !sleepCtx(ctx, c.policy.delay(retries)) {
				return
			}
			continue
		}
		first = false
		c.swapClient(client)

		reason, connectedOnce := c.consume(ctx, client)

		// Release the old transport instance before (not after) any redial so
		// it can never emit events into the new cycle.
		c.swapClient(nil)
		_ = client.Close()

		if ctx.Err() != nil {
			return
		}
		if reason == transport.ReasonLoggedOut {
			c.setState(StateLoggedOut)
			c.log.Info().Msg("logged out, terminating session connection")
			c.hooks.loggedOut()
			return
		}
		if connectedOnce {
			retries = 0
		}
		retries++
		if c.policy.MaxRetries > 0 && retries > c.policy.MaxRetries {
			c.fail(errors.New("reconnect budget exhausted"))
			return
		}
		c.setState(StateReconnecting)
		reconnectAttempts.Inc()
		c.log.Info().Int("attempt", retries).Msg("connection closed, reconnecting")
		if !sleepCtx(ctx, c.policy.delay(retries)) {
			return
		}
	}
}

// consume processes the ordered event stream of one transport client until it
// disconnects or the context is canceled. It reports the disconnect reason and
// whether the client reached the connected state at least once.
func (c *Connection) consume(ctx context.Context, client transport.Client) (transport.DisconnectReason, bool) {
	connectedOnce := false
	for {
		select {
		case <-ctx.Done():
			return transport.ReasonClosed, connectedOnce
		case ev, ok := <-client.Events():
			if !ok {
				return transport.ReasonClosed, connectedOnce
			}
			switch ev := ev.(type) {
			case transport.PairingCode:
				c.mu.Lock()
				c.state = StateAwaitingPairing
				c.pairing = ev.Code
				c.mu.Unlock()
				c.resolvePairing(ev.Code, nil)
				c.log.Debug().Msg("pairing code received")
			case transport.Connected:
				c.mu.Lock()
				c.state = StateConnected
				c.pairing = ""
				c.phone = ev.PhoneNumber
				c.mu.Unlock()
				connectedOnce = true
				// A restored session authenticates without ever pairing;
				// unblock any creation waiter with an empty payload.
				c.resolvePairing("", nil)
				c.log.Info().Str("phone", ev.PhoneNumber).Msg("connected")
				c.hooks.connected(ev.PhoneNumber)
			case transport.Disconnected:
				return ev.Reason, connectedOnce
			case transport.InboundMessage:
				if ev.Broadcast || ev.FromSelf || strings.HasPrefix(ev.Chat, "status@") {
					continue
				}
				c.hooks.inbound(ev)
			}
		}
	}
}

func (c *Connection) fail(err error) {
	c.setState(StateFailed)
	c.resolvePairing("", err)
	c.log.Error().Err(err).Msg("session connection failed")
	c.hooks.failed(err)
}

func (c *Connection) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

func (c *Connection) swapClient(client transport.Client) {
	c.mu.Lock()
	c.client = client
	c.mu.Unlock()
}

// resolvePairing delivers the first pairing outcome to WaitForPairing callers.
func (c *Connection) resolvePairing(code string, err error) {
	c.pairingOnce.Do(func() {
		c.pairingCh <- pairingResult{code: code, err: err}
		close(c.pairingCh)
	})
}

// WaitForPairing blocks until the first pairing code (or a terminal failure)
// or until ctx expires. Expiry cancels only the wait: the state machine keeps
// running and a late pairing still lands on the registered handle.
func (c *Connection) WaitForPairing(ctx context.Context) (string, error) {
	select {
	case r := <-c.pairingCh:
		return r.code, r.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// State returns the current lifecycle state.
func (c *Connection) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Status reports whether the session is authenticated and, if so, its phone
// number.
func (c *Connection) Status() (connected bool, phone string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == StateConnected, c.phone
}

// PairingPayload returns the most recent unconsumed pairing code, if any.
func (c *Connection) PairingPayload() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pairing, c.pairing != ""
}

// snapshot atomically reads the live client iff the state machine is in
// Connected. Sends must go through this so a handle captured before a
// reconnection can never dispatch into a dead client.
func (c *Connection) snapshot() (transport.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateConnected || c.client == nil {
		return nil, ErrNotConnected
	}
	return c.client, nil
}

// sleepCtx sleeps for d or until ctx is done; reports false on cancellation.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
