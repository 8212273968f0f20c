// Package transport defines the boundary between the session orchestrator and
// the component that speaks the actual WhatsApp wire protocol. The orchestrator
// only ever sees this package's interfaces and typed events; handshake,
// encryption and framing live behind a Dialer implementation.
//
// Events for one client are delivered on a single ordered channel. Consumers
// must drain the channel until it is closed; implementations close it once the
// client is fully torn down and guarantee no event is emitted afterwards.
package transport

import (
	"context"
	"strings"
	"time"
)

// DefaultUserServer is the addressing domain appended to bare phone numbers.
const DefaultUserServer = "s.whatsapp.net"

// DisconnectReason distinguishes closures that should terminate a session
// from those that should trigger a reconnect cycle.
type DisconnectReason int

const (
	// ReasonClosed is any non-terminal closure (network drop, stream error,
	// server-side replacement). The orchestrator redials with the same
	// credentials.
	ReasonClosed DisconnectReason = iota
	// ReasonLoggedOut means the remote identity was unlinked. Credentials are
	// dead; the session is over.
	ReasonLoggedOut
)

// MessageKind is the transport-level classification of an inbound or outbound
// payload. Values intentionally mirror the API taxonomy.
type MessageKind string

const (
	KindText     MessageKind = "text"
	KindImage    MessageKind = "image"
	KindVideo    MessageKind = "video"
	KindAudio    MessageKind = "audio"
	KindDocument MessageKind = "document"
)

// Event is the sealed set of notifications a Client emits.
type Event interface{ event() }

// PairingCode surfaces a scannable pairing payload while the client has no
// established identity yet.
type PairingCode struct {
	Code string
}

// Connected reports successful authentication together with the now-known
// network-side identity.
type Connected struct {
	PhoneNumber string
}

// Disconnected reports that the underlying connection closed. No further
// events follow on this client except the channel close.
type Disconnected struct {
	Reason DisconnectReason
	Err    error
}

// InboundMessage is one message received over the wire, already parsed out of
// the protocol envelope but not yet classified into the audit taxonomy.
type InboundMessage struct {
	ID        string
	Chat      string // remote conversation JID
	Sender    string // originating JID
	FromSelf  bool
	Broadcast bool // broadcast list or network status pseudo-message
	Kind      MessageKind
	Text      string
	Caption   string
	MediaURL  string
	Timestamp time.Time
}

func (PairingCode) event()    {}
func (Connected) event()      {}
func (Disconnected) event()   {}
func (InboundMessage) event() {}

// Client is one live connection to the messaging network. Implementations are
// safe for concurrent sends; the event channel is single-consumer.
type Client interface {
	// Events returns the ordered event stream for this connection.
	Events() <-chan Event

	// SendText dispatches a plain text message and returns the
	// transport-assigned message id.
	SendText(ctx context.Context, to, text string) (string, error)

	// SendMedia dispatches a media message referenced by URL. Captions are
	// ignored for the audio kind.
	SendMedia(ctx context.Context, to string, kind MessageKind, url, caption string) (string, error)

	// IsConnected reports whether the connection is currently authenticated.
	IsConnected() bool

	// Logout invalidates the credentials network-side. The resulting
	// explicit-logout closure arrives on the event stream.
	Logout(ctx context.Context) error

	// Close releases the connection without logging out. Credentials stay
	// valid for a later redial. Closes the event channel.
	Close() error
}

// Dialer establishes connections. Credentials are loaded from (and persisted
// to) the session's namespace in the CredentialStore; a missing namespace
// entry means a fresh pairing cycle.
type Dialer interface {
	Dial(ctx context.Context, sessionID string, creds CredentialStore) (Client, error)
}

// CanonicalJID normalizes a caller-supplied recipient to the network
// addressing form: a leading '+' is dropped and bare numbers get the default
// user server appended.
func CanonicalJID(to string) string {
	to = strings.TrimPrefix(strings.TrimSpace(to), "+")
	if to == "" {
		return ""
	}
	if strings.Contains(to, "@") {
		return to
	}
	return to + "@" + DefaultUserServer
}

// UserPart extracts the bare identity (phone number equivalent) from a JID.
func UserPart(jid string) string {
	if i := strings.IndexByte(jid, '@'); i >= 0 {
		jid = jid[:i]
	}
	// Strip the device/agent suffix some servers attach (e.g. "123:2").
	if i := strings.IndexByte(jid, ':'); i >= 0 {
		jid = jid[:i]
	}
	return jid
}
