// Package wameow manages the per-device automation clients: an Adapter
// normalizes one external client's asynchronous lifecycle into a small state
// surface, and the Registry guarantees at most one live Adapter per
// (session, device) key.
package wameow

import (
	"context"
	"time"
)

// Client is the capability surface of one external automation client. The
// underlying messaging protocol is opaque: implementations only start the
// client, push lifecycle events into the registered handler, send payloads
// and log out.
type Client interface {
	// Start begins the connect/pairing sequence. It must not block on
	// pairing; lifecycle progress arrives via events.
	Start(ctx context.Context) error

	// AddEventHandler registers a callback receiving *QREvent,
	// *AuthenticatedEvent, *ReadyEvent, *AuthFailureEvent,
	// *DisconnectedEvent and *MessageEvent values.
	AddEventHandler(handler func(evt interface{}))

	// Info returns the authenticated account info. Only valid after a
	// ReadyEvent.
	Info(ctx context.Context) (*ClientInfo, error)

	// Send delivers a payload to the given transport address.
	Send(ctx context.Context, to string, payload *Payload) (*SendResult, error)

	// Logout ends the authenticated session and releases the client.
	Logout(ctx context.Context) error
}

// Factory constructs a Client for a (session, device) pair. Injected into
// the Registry so tests substitute fakes.
type Factory func(sessionID int64, deviceID, name string) (Client, error)

// ClientInfo is the post-authentication account identity.
type ClientInfo struct {
	Phone string
	JID   string
}

// SendResult is the transport acknowledgement of one outbound message.
type SendResult struct {
	ID        string
	Timestamp time.Time
}

// Payload kinds understood by Send.
const (
	PayloadText    = "text"
	PayloadList    = "list"
	PayloadButtons = "buttons"
)

// Payload is a normalized outbound message body.
type Payload struct {
	Kind     string
	Text     string
	Title    string
	Footer   string
	Sections []ListSection
	Buttons  []Button
}

// ListSection groups rows of a list message.
type ListSection struct {
	Title string
	Rows  []ListRow
}

// ListRow is one selectable entry of a list message.
type ListRow struct {
	ID          string
	Title       string
	Description string
}

// Button is one quick-reply option of a button message.
type Button struct {
	ID   string
	Text string
}

// Lifecycle events emitted by a Client.

// QREvent carries a fresh raw pairing code.
type QREvent struct {
	Code string
}

// AuthenticatedEvent signals the pairing scan was accepted; informational.
type AuthenticatedEvent struct{}

// ReadyEvent signals the client is connected and able to send.
type ReadyEvent struct{}

// AuthFailureEvent signals the stored credentials were rejected.
type AuthFailureEvent struct {
	Reason string
}

// DisconnectedEvent signals the transport dropped.
type DisconnectedEvent struct {
	Reason string
}

// MessageEvent is one inbound (or own echoed) message in normalized shape.
type MessageEvent struct {
	ID        string
	From      string
	Content   string
	Timestamp time.Time
	IsFromMe  bool
}
