package wameow

import (
	"context"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/wagateio/wagate/pkg/qrimg"
	"go.uber.org/zap"
)

// QRWaitTimeout bounds how long Initialize waits for the first pairing code
// before returning the fallback image.
const QRWaitTimeout = 10 * time.Second

// ErrNotConnected is returned by send operations while the client is not
// authenticated.
var ErrNotConnected = errors.New("not connected")

// connState is the adapter's tagged lifecycle state.
type connState int

const (
	stateIdle connState = iota
	stateAwaitingQR
	stateConnected
	stateDisconnected
	stateFailed
)

func (s connState) String() string {
	switch s {
	case stateIdle:
		return "idle"
	case stateAwaitingQR:
		return "awaiting_qr"
	case stateConnected:
		return "connected"
	case stateDisconnected:
		return "disconnected"
	case stateFailed:
		return "failed"
	}
	return "unknown"
}

// Adapter wraps one external automation client and exposes its asynchronous
// lifecycle as a small synchronous surface: latest QR image, connected flag
// and phone. Adapters are created and owned exclusively by the Registry.
type Adapter struct {
	sessionID int64
	deviceID  string
	name      string
	client    Client

	mu         sync.Mutex
	state      connState
	qrImage    string
	phone      string
	failReason string

	qrReady chan struct{}
	qrOnce  sync.Once

	startOnce sync.Once
	startErr  error

	handlerMu sync.RWMutex
	handler   func(*MessageEvent)
}

func newAdapter(sessionID int64, deviceID, name string, client Client) *Adapter {
	a := &Adapter{
		sessionID: sessionID,
		deviceID:  deviceID,
		name:      name,
		client:    client,
		state:     stateIdle,
		qrReady:   make(chan struct{}),
	}
	client.AddEventHandler(a.handleEvent)
	return a
}

// SessionID returns the owning session id.
func (a *Adapter) SessionID() int64 { return a.sessionID }

// DeviceID returns the owning device id.
func (a *Adapter) DeviceID() string { return a.deviceID }

// start runs the client connect sequence exactly once, whether triggered by
// the Registry's async kick-off or by Initialize.
func (a *Adapter) start(ctx context.Context) error {
	a.startOnce.Do(func() {
		if err := a.client.Start(ctx); err != nil {
			a.startErr = errors.Wrap(err, "automation client start failed")
			a.mu.Lock()
			a.state = stateFailed
			a.failReason = err.Error()
			a.mu.Unlock()
		}
	})
	return a.startErr
}

// Initialize starts the underlying client and waits for the first pairing
// code. Start failures propagate; a QR timeout does not fail but yields a
// locally generated error QR so callers always receive a displayable
// artifact.
func (a *Adapter) Initialize(ctx context.Context) (string, error) {
	if err := a.start(ctx); err != nil {
		return "", err
	}

	timer := time.NewTimer(QRWaitTimeout)
	defer timer.Stop()
	select {
	case <-a.qrReady:
		a.mu.Lock()
		img := a.qrImage
		a.mu.Unlock()
		return img, nil
	case <-timer.C:
		zap.L().Warn("wameow: no qr within wait window, returning fallback image",
			zap.Int64("session_id", a.sessionID),
			zap.String("device_id", a.deviceID))
		img := qrimg.FallbackDataURL(qrimg.FallbackPayload{
			Error:     "qr_timeout",
			SessionID: formatID(a.sessionID),
			DeviceID:  a.deviceID,
			Timestamp: time.Now().Unix(),
		})
		a.mu.Lock()
		a.qrImage = img
		if a.state == stateIdle {
			a.state = stateAwaitingQR
		}
		a.mu.Unlock()
		return img, nil
	}
}

// QRCode returns the latest observed pairing image, empty when none.
func (a *Adapter) QRCode() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.qrImage
}

// Phone returns the authenticated phone number, empty before ready.
func (a *Adapter) Phone() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.phone
}

// IsConnected reports whether the client is authenticated and online.
func (a *Adapter) IsConnected() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state == stateConnected
}

// HasFailed reports whether the client landed in the failed state.
func (a *Adapter) HasFailed() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state == stateFailed
}

// FailReason returns the last failure description, empty when none.
func (a *Adapter) FailReason() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.failReason
}

// Logout ends the authenticated session and clears connection state.
func (a *Adapter) Logout(ctx context.Context) error {
	err := a.client.Logout(ctx)
	a.mu.Lock()
	a.state = stateDisconnected
	a.phone = ""
	a.qrImage = ""
	a.mu.Unlock()
	return err
}

// RegisterMessageHandler stores the single inbound message callback. Handler
// panics are caught and logged so they never propagate into the client's
// event goroutine.
func (a *Adapter) RegisterMessageHandler(handler func(*MessageEvent)) {
	a.handlerMu.Lock()
	a.handler = handler
	a.handlerMu.Unlock()
}

// SendText delivers a plain text message.
func (a *Adapter) SendText(ctx context.Context, to, text string) (*SendResult, error) {
	return a.send(ctx, to, &Payload{Kind: PayloadText, Text: text})
}

// SendList delivers a list message.
func (a *Adapter) SendList(ctx context.Context, to, title, text, footer string, sections []ListSection) (*SendResult, error) {
	return a.send(ctx, to, &Payload{
		Kind:     PayloadList,
		Title:    title,
		Text:     text,
		Footer:   footer,
		Sections: sections,
	})
}

// SendButtons delivers a quick-reply button message.
func (a *Adapter) SendButtons(ctx context.Context, to, text, footer string, buttons []Button) (*SendResult, error) {
	return a.send(ctx, to, &Payload{
		Kind:    PayloadButtons,
		Text:    text,
		Footer:  footer,
		Buttons: buttons,
	})
}

func (a *Adapter) send(ctx context.Context, to string, payload *Payload) (*SendResult, error) {
	if !a.IsConnected() {
		return nil, ErrNotConnected
	}
	res, err := a.client.Send(ctx, NormalizeAddress(to), payload)
	if err != nil {
		zap.L().Warn("wameow: send failed",
			zap.Int64("session_id", a.sessionID),
			zap.String("device_id", a.deviceID),
			zap.String("kind", payload.Kind),
			zap.Error(err))
		return nil, err
	}
	return res, nil
}

// handleEvent maps client events onto the tagged state.
func (a *Adapter) handleEvent(evt interface{}) {
	switch e := evt.(type) {
	case *QREvent:
		img, err := qrimg.DataURL(e.Code)
		if err != nil {
			zap.L().Warn("wameow: qr render failed",
				zap.Int64("session_id", a.sessionID),
				zap.String("device_id", a.deviceID),
				zap.Error(err))
			return
		}
		a.mu.Lock()
		a.qrImage = img
		if a.state == stateIdle || a.state == stateDisconnected || a.state == stateFailed {
			a.state = stateAwaitingQR
		}
		a.mu.Unlock()
		a.qrOnce.Do(func() { close(a.qrReady) })
	case *AuthenticatedEvent:
		zap.L().Info("wameow: authenticated",
			zap.Int64("session_id", a.sessionID),
			zap.String("device_id", a.deviceID))
	case *ReadyEvent:
		a.mu.Lock()
		a.state = stateConnected
		a.failReason = ""
		a.mu.Unlock()
		// phone fetch is best-effort; ready state stands without it
		info, err := a.client.Info(context.Background())
		if err != nil {
			zap.L().Warn("wameow: phone lookup failed after ready",
				zap.Int64("session_id", a.sessionID),
				zap.String("device_id", a.deviceID),
				zap.Error(err))
			return
		}
		a.mu.Lock()
		a.phone = info.Phone
		a.mu.Unlock()
	case *AuthFailureEvent:
		a.mu.Lock()
		a.state = stateFailed
		a.failReason = e.Reason
		a.mu.Unlock()
		zap.L().Warn("wameow: auth failure",
			zap.Int64("session_id", a.sessionID),
			zap.String("device_id", a.deviceID),
			zap.String("reason", e.Reason))
	case *DisconnectedEvent:
		a.mu.Lock()
		a.state = stateDisconnected
		a.qrImage = ""
		a.mu.Unlock()
		zap.L().Info("wameow: disconnected",
			zap.Int64("session_id", a.sessionID),
			zap.String("device_id", a.deviceID),
			zap.String("reason", e.Reason))
	case *MessageEvent:
		a.dispatchMessage(e)
	}
}

func (a *Adapter) dispatchMessage(msg *MessageEvent) {
	a.handlerMu.RLock()
	handler := a.handler
	a.handlerMu.RUnlock()
	if handler == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			zap.L().Error("wameow: message handler panic",
				zap.Int64("session_id", a.sessionID),
				zap.String("device_id", a.deviceID),
				zap.Any("panic", r))
		}
	}()
	handler(msg)
}

var nonDigits = regexp.MustCompile(`\D`)

// NormalizeAddress converts a bare phone number into the transport address
// form. Addresses already carrying a server suffix pass through unchanged.
func NormalizeAddress(to string) string {
	if strings.Contains(to, "@") {
		return to
	}
	digits := nonDigits.ReplaceAllString(to, "")
	return digits + "@s.whatsapp.net"
}

func formatID(id int64) string {
	return strconv.FormatInt(id, 10)
}
