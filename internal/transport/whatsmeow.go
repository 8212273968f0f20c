package transport

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path/filepath"
	"sync"
	"time"

	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	waLog "go.mau.fi/whatsmeow/util/log"
	"google.golang.org/protobuf/proto"
)

// WhatsmeowDialer is the production Dialer. Each dial opens the session's own
// credential database inside its CredentialStore namespace, so pairing state
// survives restarts without the orchestrator ever touching it.
type WhatsmeowDialer struct {
	// HTTP is used to fetch media referenced by URL before upload. Defaults
	// to a client with a 30s timeout.
	HTTP *http.Client
}

// Dial implements Dialer.
func (d *WhatsmeowDialer) Dial(ctx context.Context, sessionID string, creds CredentialStore) (Client, error) {
	dir, err := creds.Namespace(sessionID)
	if err != nil {
		return nil, fmt.Errorf("credential namespace: %w", err)
	}

	// The sqlite driver is registered by the gateway's own database layer
	// (glebarez), so the credential store rides on the same driver name.
	dsn := "file:" + filepath.Join(dir, "whatsmeow.db") + "?_pragma=foreign_keys(1)"
	container, err := sqlstore.New(ctx, "sqlite", dsn, waLog.Noop)
	if err != nil {
		return nil, fmt.Errorf("open credential store: %w", err)
	}
	device, err := container.GetFirstDevice(ctx)
	if err != nil {
		return nil, fmt.Errorf("load device: %w", err)
	}

	cli := whatsmeow.NewClient(device, waLog.Noop)
	// Reconnection is owned by the session state machine, not the protocol
	// library.
	cli.EnableAutoReconnect = false

	httpc := d.HTTP
	if httpc == nil {
		httpc = &http.Client{Timeout: 30 * time.Second}
	}

	runCtx, cancel := context.WithCancel(context.Background())
	mc := &meowClient{
		cli:    cli,
		httpc:  httpc,
		events: make(chan Event, 64),
		cancel: cancel,
	}
	cli.AddEventHandler(mc.handleEvent)

	if cli.Store.ID == nil {
		// No identity yet: surface pairing codes until scanned or torn down.
		qrChan, err := cli.GetQRChannel(runCtx)
		if err != nil {
			cancel()
			return nil, fmt.Errorf("pairing channel: %w", err)
		}
		go mc.forwardQR(qrChan)
	}

	if err := cli.Connect(); err != nil {
		cancel()
		return nil, fmt.Errorf("connect: %w", err)
	}
	return mc, nil
}

type meowClient struct {
	cli    *whatsmeow.Client
	httpc  *http.Client
	events chan Event
	cancel context.CancelFunc

	closeOnce sync.Once
	emitMu    sync.Mutex
	closed    bool
}

// emit forwards one event unless the client is already closed. The mutex
// keeps ordering: whatsmeow invokes handlers sequentially, and QR forwarding
// only runs while unpaired, so contention is effectively zero.
func (c *meowClient) emit(ev Event) {
	c.emitMu.Lock()
	defer c.emitMu.Unlock()
	if c.closed {
		return
	}
	c.events <- ev
}

func (c *meowClient) forwardQR(ch <-chan whatsmeow.QRChannelItem) {
	for item := range ch {
		if item.Event == whatsmeow.QRChannelEventCode {
			c.emit(PairingCode{Code: item.Code})
		}
	}
}

func (c *meowClient) handleEvent(raw interface{}) {
	switch evt := raw.(type) {
	case *events.Connected:
		phone := ""
		if id := c.cli.Store.ID; id != nil {
			phone = id.User
		}
		c.emit(Connected{PhoneNumber: phone})
	case *events.LoggedOut:
		c.emit(Disconnected{Reason: ReasonLoggedOut})
	case *events.StreamReplaced:
		c.emit(Disconnected{Reason: ReasonClosed, Err: fmt.Errorf("stream replaced")})
	case *events.Disconnected:
		c.emit(Disconnected{Reason: ReasonClosed})
	case *events.Message:
		c.emit(c.translateMessage(evt))
	}
}

func (c *meowClient) translateMessage(evt *events.Message) InboundMessage {
	in := InboundMessage{
		ID:        string(evt.Info.ID),
		Chat:      evt.Info.Chat.String(),
		Sender:    evt.Info.Sender.String(),
		FromSelf:  evt.Info.IsFromMe,
		Broadcast: evt.Info.Chat.Server == types.BroadcastServer,
		Kind:      KindText,
		Timestamp: evt.Info.Timestamp,
	}
	msg := evt.Message
	switch {
	case msg.GetImageMessage() != nil:
		in.Kind = KindImage
		in.Caption = msg.GetImageMessage().GetCaption()
	case msg.GetVideoMessage() != nil:
		in.Kind = KindVideo
		in.Caption = msg.GetVideoMessage().GetCaption()
	case msg.GetAudioMessage() != nil:
		in.Kind = KindAudio
	case msg.GetDocumentMessage() != nil:
		in.Kind = KindDocument
		in.Caption = msg.GetDocumentMessage().GetCaption()
	case msg.GetExtendedTextMessage() != nil:
		in.Text = msg.GetExtendedTextMessage().GetText()
	default:
		in.Text = msg.GetConversation()
	}
	return in
}

// Events implements Client.
func (c *meowClient) Events() <-chan Event { return c.events }

// IsConnected implements Client.
func (c *meowClient) IsConnected() bool { return c.cli.IsLoggedIn() }

// SendText implements Client.
func (c *meowClient) SendText(ctx context.Context, to, text string) (string, error) {
	jid, err := types.ParseJID(to)
	if err != nil {
		return "", fmt.Errorf("parse recipient: %w", err)
	}
	resp, err := c.cli.SendMessage(ctx, jid, &waE2E.Message{Conversation: proto.String(text)})
	if err != nil {
		return "", err
	}
	return string(resp.ID), nil
}

// SendMedia implements Client. The referenced media is fetched and re-uploaded
// to the network's media servers, which is how the protocol transmits binary
// payloads.
func (c *meowClient) SendMedia(ctx context.Context, to string, kind MessageKind, mediaURL, caption string) (string, error) {
	jid, err := types.ParseJID(to)
	if err != nil {
		return "", fmt.Errorf("parse recipient: %w", err)
	}
	if _, err := url.ParseRequestURI(mediaURL); err != nil {
		return "", fmt.Errorf("media url: %w", err)
	}

	data, err := c.fetch(ctx, mediaURL)
	if err != nil {
		return "", fmt.Errorf("fetch media: %w", err)
	}
	mime := http.DetectContentType(data)

	var mediaType whatsmeow.MediaType
	switch kind {
	case KindImage:
		mediaType = whatsmeow.MediaImage
	case KindVideo:
		mediaType = whatsmeow.MediaVideo
	case KindAudio:
		mediaType = whatsmeow.MediaAudio
	case KindDocument:
		mediaType = whatsmeow.MediaDocument
	default:
		return "", fmt.Errorf("unsupported media kind %q", kind)
	}

	up, err := c.cli.Upload(ctx, data, mediaType)
	if err != nil {
		return "", fmt.Errorf("upload media: %w", err)
	}

	msg := &waE2E.Message{}
	switch kind {
	case KindImage:
		msg.ImageMessage = &waE2E.ImageMessage{
			URL:           proto.String(up.URL),
			DirectPath:    proto.String(up.DirectPath),
			MediaKey:      up.MediaKey,
			Mimetype:      proto.String(mime),
			FileEncSHA256: up.FileEncSHA256,
			FileSHA256:    up.FileSHA256,
			FileLength:    proto.Uint64(up.FileLength),
		}
		if caption != "" {
			msg.ImageMessage.Caption = proto.String(caption)
		}
	case KindVideo:
		msg.VideoMessage = &waE2E.VideoMessage{
			URL:           proto.String(up.URL),
			DirectPath:    proto.String(up.DirectPath),
			MediaKey:      up.MediaKey,
			Mimetype:      proto.String(mime),
			FileEncSHA256: up.FileEncSHA256,
			FileSHA256:    up.FileSHA256,
			FileLength:    proto.Uint64(up.FileLength),
		}
		if caption != "" {
			msg.VideoMessage.Caption = proto.String(caption)
		}
	case KindAudio:
		// Captions are not part of the audio payload.
		msg.AudioMessage = &waE2E.AudioMessage{
			URL:           proto.String(up.URL),
			DirectPath:    proto.String(up.DirectPath),
			MediaKey:      up.MediaKey,
			Mimetype:      proto.String(mime),
			FileEncSHA256: up.FileEncSHA256,
			FileSHA256:    up.FileSHA256,
			FileLength:    proto.Uint64(up.FileLength),
		}
	case KindDocument:
		msg.DocumentMessage = &waE2E.DocumentMessage{
			URL:           proto.String(up.URL),
			DirectPath:    proto.String(up.DirectPath),
			MediaKey:      up.MediaKey,
			Mimetype:      proto.String(mime),
			FileEncSHA256: up.FileEncSHA256,
			FileSHA256:    up.FileSHA256,
			FileLength:    proto.Uint64(up.FileLength),
		}
		if caption != "" {
			msg.DocumentMessage.Caption = proto.String(caption)
		}
	}

	resp, err := c.cli.SendMessage(ctx, jid, msg)
	if err != nil {
		return "", err
	}
	return string(resp.ID), nil
}

func (c *meowClient) fetch(ctx context.Context, mediaURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, mediaURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

// Logout implements Client.
func (c *meowClient) Logout(ctx context.Context) error {
	return c.cli.Logout(ctx)
}

// Close implements Client.
func (c *meowClient) Close() error {
	c.closeOnce.Do(func() {
		c.cancel()
		c.cli.Disconnect()
		c.emitMu.Lock()
		c.closed = true
		close(c.events)
		c.emitMu.Unlock()
	})
	return nil
}
