package wameow

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sentMsg struct {
	to      string
	payload *Payload
}

// fakeClient scripts the Client surface for adapter tests.
type fakeClient struct {
	mu        sync.Mutex
	handler   func(evt interface{})
	startErr  error
	started   bool
	sent      []sentMsg
	sendErr   error
	info      *ClientInfo
	infoErr   error
	loggedOut bool
	onStart   func(emit func(evt interface{}))
}

func (f *fakeClient) Start(ctx context.Context) error {
	f.mu.Lock()
	f.started = true
	onStart := f.onStart
	f.mu.Unlock()
	if f.startErr != nil {
		return f.startErr
	}
	if onStart != nil {
		onStart(f.emit)
	}
	return nil
}

func (f *fakeClient) AddEventHandler(handler func(evt interface{})) {
	f.mu.Lock()
	f.handler = handler
	f.mu.Unlock()
}

func (f *fakeClient) emit(evt interface{}) {
	f.mu.Lock()
	h := f.handler
	f.mu.Unlock()
	if h != nil {
		h(evt)
	}
}

func (f *fakeClient) Info(ctx context.Context) (*ClientInfo, error) {
	if f.infoErr != nil {
		return nil, f.infoErr
	}
	if f.info == nil {
		return &ClientInfo{Phone: "628100000001", JID: "628100000001@s.whatsapp.net"}, nil
	}
	return f.info, nil
}

func (f *fakeClient) Send(ctx context.Context, to string, payload *Payload) (*SendResult, error) {
	if f.sendErr != nil {
		return nil, f.sendErr
	}
	f.mu.Lock()
	f.sent = append(f.sent, sentMsg{to: to, payload: payload})
	f.mu.Unlock()
	return &SendResult{ID: "MSGID1", Timestamp: time.Now()}, nil
}

func (f *fakeClient) Logout(ctx context.Context) error {
	f.mu.Lock()
	f.loggedOut = true
	f.mu.Unlock()
	return nil
}

func TestInitializeReturnsQRImage(t *testing.T) {
	client := &fakeClient{
		onStart: func(emit func(evt interface{})) {
			emit(&QREvent{Code: "2@pairing-code-payload"})
		},
	}
	a := newAdapter(100, "dev-1", "first", client)

	img, err := a.Initialize(context.Background())
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(img, "data:image/png;base64,"))
	assert.Equal(t, img, a.QRCode())
	assert.False(t, a.IsConnected())
}

func TestInitializeStartFailure(t *testing.T) {
	client := &fakeClient{startErr: errors.New("dial refused")}
	a := newAdapter(100, "dev-1", "first", client)

	_, err := a.Initialize(context.Background())
	require.Error(t, err)
	assert.Contains(t, a.FailReason(), "dial refused")
	assert.False(t, a.IsConnected())
}

func TestInitializeStartRunsOnce(t *testing.T) {
	starts := 0
	client := &fakeClient{}
	client.onStart = func(emit func(evt interface{})) {
		starts++
		emit(&QREvent{Code: "2@code"})
	}
	a := newAdapter(100, "dev-1", "first", client)

	require.NoError(t, a.start(context.Background()))
	_, err := a.Initialize(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, starts)
}

func TestInitializeTimeoutFallback(t *testing.T) {
	if testing.Short() {
		t.Skip("waits for the full qr window")
	}
	client := &fakeClient{} // never emits a QR
	a := newAdapter(100, "dev-1", "first", client)

	img, err := a.Initialize(context.Background())
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(img, "data:image/png;base64,"))
	assert.Equal(t, img, a.QRCode())
}

func TestLifecycleEvents(t *testing.T) {
	client := &fakeClient{info: &ClientInfo{Phone: "628111222333"}}
	a := newAdapter(100, "dev-1", "first", client)

	client.emit(&QREvent{Code: "2@code"})
	assert.False(t, a.IsConnected())
	assert.NotEmpty(t, a.QRCode())

	client.emit(&ReadyEvent{})
	assert.True(t, a.IsConnected())
	assert.Equal(t, "628111222333", a.Phone())

	client.emit(&DisconnectedEvent{Reason: "transport closed"})
	assert.False(t, a.IsConnected())
	assert.False(t, a.HasFailed())
	assert.Empty(t, a.QRCode())

	client.emit(&AuthFailureEvent{Reason: "credentials rejected"})
	assert.True(t, a.HasFailed())
	assert.Equal(t, "credentials rejected", a.FailReason())
}

func TestSendRequiresConnection(t *testing.T) {
	client := &fakeClient{}
	a := newAdapter(100, "dev-1", "first", client)

	_, err := a.SendText(context.Background(), "628123", "hello")
	assert.ErrorIs(t, err, ErrNotConnected)

	client.emit(&ReadyEvent{})
	res, err := a.SendText(context.Background(), "+62 812-3456", "hello")
	require.NoError(t, err)
	assert.Equal(t, "MSGID1", res.ID)

	require.Len(t, client.sent, 1)
	assert.Equal(t, "628123456@s.whatsapp.net", client.sent[0].to)
	assert.Equal(t, PayloadText, client.sent[0].payload.Kind)
}

func TestSendStructuredPayloads(t *testing.T) {
	client := &fakeClient{}
	a := newAdapter(100, "dev-1", "first", client)
	client.emit(&ReadyEvent{})

	_, err := a.SendList(context.Background(), "628123", "Menu", "pick one", "", []ListSection{
		{Title: "Drinks", Rows: []ListRow{{ID: "1", Title: "Tea"}}},
	})
	require.NoError(t, err)
	_, err = a.SendButtons(context.Background(), "628123", "Confirm?", "", []Button{
		{ID: "y", Text: "Yes"}, {ID: "n", Text: "No"},
	})
	require.NoError(t, err)

	require.Len(t, client.sent, 2)
	assert.Equal(t, PayloadList, client.sent[0].payload.Kind)
	assert.Equal(t, PayloadButtons, client.sent[1].payload.Kind)
}

func TestMessageHandlerPanicIsContained(t *testing.T) {
	client := &fakeClient{}
	a := newAdapter(100, "dev-1", "first", client)

	a.RegisterMessageHandler(func(*MessageEvent) { panic("boom") })
	assert.NotPanics(t, func() {
		client.emit(&MessageEvent{ID: "m1", From: "628123@s.whatsapp.net", Content: "hi"})
	})

	var got *MessageEvent
	a.RegisterMessageHandler(func(m *MessageEvent) { got = m })
	client.emit(&MessageEvent{ID: "m2", From: "628123@s.whatsapp.net", Content: "again"})
	require.NotNil(t, got)
	assert.Equal(t, "m2", got.ID)
}

func TestLogoutClearsState(t *testing.T) {
	client := &fakeClient{}
	a := newAdapter(100, "dev-1", "first", client)
	client.emit(&QREvent{Code: "2@code"})
	client.emit(&ReadyEvent{})

	require.NoError(t, a.Logout(context.Background()))
	assert.True(t, client.loggedOut)
	assert.False(t, a.IsConnected())
	assert.Empty(t, a.Phone())
	assert.Empty(t, a.QRCode())
}

func TestNormalizeAddress(t *testing.T) {
	assert.Equal(t, "628123456@s.whatsapp.net", NormalizeAddress("+62 812-3456"))
	assert.Equal(t, "628123456@s.whatsapp.net", NormalizeAddress("628123456"))
	assert.Equal(t, "628123456@s.whatsapp.net", NormalizeAddress("628123456@s.whatsapp.net"))
	assert.Equal(t, "group@g.us", NormalizeAddress("group@g.us"))
}
