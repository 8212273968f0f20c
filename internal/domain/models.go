// Package domain defines the persistence models for gateway sessions and
// relayed messages. These types are mapped with GORM and form the core data
// layer of the WhatsApp gateway.
package domain

import "time"

// Message direction values.
const (
	DirectionIncoming = "incoming"
	DirectionOutgoing = "outgoing"
)

// Message status values.
const (
	StatusSent     = "sent"
	StatusFailed   = "failed"
	StatusReceived = "received"
)

// Message type taxonomy shared by the send API and inbound classification.
const (
	TypeText     = "text"
	TypeImage    = "image"
	TypeVideo    = "video"
	TypeAudio    = "audio"
	TypeDocument = "document"
)

// DefaultSessionName is the label applied when a session is created without one.
const DefaultSessionName = "WhatsApp Session"

// Session represents one tenant-scoped WhatsApp identity. A session owns its
// own API key and exists independently of whether a live connection is
// currently paired. Deletion is logical: IsActive flips to false and the row
// (plus its message history) is retained.
//
// Fields:
//   - ID: stable UUID primary key (char(36)).
//   - APIKey: secret token derived once at creation; unique across all rows
//     ever created, active or not. Never serialized back to clients.
//   - Name: display label, defaults to DefaultSessionName.
//   - PhoneNumber: set once the connection authenticates; cleared on logout.
//   - IsActive: false after logout or explicit deletion.
//   - WebhookURL: optional tenant-configured delivery endpoint.
type Session struct {
	ID          string    `json:"id"           gorm:"type:char(36);primaryKey"`
	APIKey      string    `json:"-"            gorm:"type:char(64);not null;uniqueIndex:ux_sessions_api_key"`
	Name        string    `json:"name"         gorm:"type:varchar(255);not null;default:'WhatsApp Session'"`
	PhoneNumber *string   `json:"phone_number" gorm:"type:varchar(32)"`
	IsActive    bool      `json:"is_active"    gorm:"not null;default:true;index"`
	WebhookURL  *string   `json:"webhook_url"  gorm:"type:varchar(2048)"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// TableName returns the database table name for Session.
func (Session) TableName() string { return "sessions" }

// Message is the append-only audit record of everything relayed through a
// session, in either direction. Rows are immutable after insertion: status
// and failure reason are fixed at write time and nothing updates them later.
//
// Exactly one of Sender/Recipient is populated depending on Direction.
// WhatsappID carries the transport-assigned message identifier when the
// transport produced one.
type Message struct {
	ID            string    `json:"id"             gorm:"type:char(36);primaryKey"`
	SessionID     string    `json:"session_id"     gorm:"type:char(36);not null;index:idx_session_msgs,priority:1"`
	Direction     string    `json:"direction"      gorm:"type:varchar(16);not null;check:direction IN ('incoming','outgoing')"`
	MessageType   string    `json:"message_type"   gorm:"type:varchar(16);not null;check:message_type IN ('text','image','video','audio','document')"`
	Sender        string    `json:"sender"         gorm:"type:varchar(64);index"`
	Recipient     string    `json:"recipient"      gorm:"type:varchar(64);index"`
	Content       string    `json:"content"        gorm:"type:text;not null"`
	MediaURL      *string   `json:"media_url"      gorm:"type:varchar(2048)"`
	Caption       *string   `json:"caption"        gorm:"type:text"`
	Status        string    `json:"status"         gorm:"type:varchar(16);not null;check:status IN ('sent','failed','received')"`
	WhatsappID    *string   `json:"whatsapp_id"    gorm:"type:varchar(128)"`
	FailureReason *string   `json:"failure_reason" gorm:"type:text"`
	CreatedAt     time.Time `json:"created_at"     gorm:"index:idx_session_msgs,priority:2"`

	// Session is the owning tenant identity. Messages are never cascade
	// deleted because session deletion is logical.
	Session Session `json:"-" gorm:"foreignKey:SessionID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:RESTRICT"`
}

// TableName returns the database table name for Message.
func (Message) TableName() string { return "messages" }

// ValidMessageType reports whether t is part of the send/classify taxonomy.
func ValidMessageType(t string) bool {
	switch t {
	case TypeText, TypeImage, TypeVideo, TypeAudio, TypeDocument:
		return true
	}
	return false
}

// IsMediaType reports whether t requires a media URL when sending.
func IsMediaType(t string) bool {
	return t == TypeImage || t == TypeVideo || t == TypeAudio || t == TypeDocument
}
