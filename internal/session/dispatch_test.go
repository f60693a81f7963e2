package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wagateio/wagate/internal/domain"
	"github.com/wagateio/wagate/internal/wameow"
)

type recordingSink struct {
	mu       sync.Mutex
	inbound  []*wameow.MessageEvent
	outbound []string
}

func (r *recordingSink) HandleInbound(sessionID int64, deviceID string, evt *wameow.MessageEvent) {
	r.mu.Lock()
	r.inbound = append(r.inbound, evt)
	r.mu.Unlock()
}

func (r *recordingSink) HandleOutbound(sessionID int64, deviceID, peer, content, msgID string) {
	r.mu.Lock()
	r.outbound = append(r.outbound, peer+"|"+content+"|"+msgID)
	r.mu.Unlock()
}

func TestSendTextRequiresConnectedSession(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	sess, _ := svc.CreateSession(ctx, 1, CreateSessionForm{Name: "support"})

	_, err := svc.SendText(ctx, sess.ID, "628123", "hello")
	assert.ErrorIs(t, err, ErrSessionNotConnected)
}

func TestSendTextRoutesThroughConnectedDevice(t *testing.T) {
	svc, f, _ := newTestService(t)
	sink := &recordingSink{}
	svc.SetMessageSink(sink)
	ctx := context.Background()

	sess, _ := svc.CreateSession(ctx, 1, CreateSessionForm{Name: "support"})
	device, err := svc.AddDevice(ctx, sess.ID, "primary")
	require.NoError(t, err)
	connectDevice(t, svc, f, sess.ID, device.DeviceID)

	res, err := svc.SendText(ctx, sess.ID, "+62 812-3456", "hello there")
	require.NoError(t, err)
	assert.Equal(t, "SCRIPTED1", res.ID)

	client := f.client(device.DeviceID)
	require.Len(t, client.sent, 1)
	assert.Equal(t, "628123456@s.whatsapp.net", client.sent[0])

	require.Len(t, sink.outbound, 1)
	assert.Equal(t, "628123456@s.whatsapp.net|hello there|SCRIPTED1", sink.outbound[0])

	got, err := svc.GetSession(ctx, sess.ID)
	require.NoError(t, err)
	assert.NotNil(t, got.LastActive)
}

func TestSendHonorsMessageDelay(t *testing.T) {
	svc, f, _ := newTestService(t)
	ctx := context.Background()
	sess, _ := svc.CreateSession(ctx, 1, CreateSessionForm{Name: "support", MessageDelay: 200})
	device, err := svc.AddDevice(ctx, sess.ID, "primary")
	require.NoError(t, err)
	connectDevice(t, svc, f, sess.ID, device.DeviceID)

	started := time.Now()
	_, err = svc.SendText(ctx, sess.ID, "628123", "delayed")
	require.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(started), 200*time.Millisecond)
}

func TestSendDelayCancellable(t *testing.T) {
	svc, f, _ := newTestService(t)
	ctx := context.Background()
	sess, _ := svc.CreateSession(ctx, 1, CreateSessionForm{Name: "support", MessageDelay: 5000})
	device, err := svc.AddDevice(ctx, sess.ID, "primary")
	require.NoError(t, err)
	connectDevice(t, svc, f, sess.ID, device.DeviceID)

	cctx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	started := time.Now()
	_, err = svc.SendText(cctx, sess.ID, "628123", "never sent")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(started), 2*time.Second)
	assert.Empty(t, f.client(device.DeviceID).sent)
}

func TestSendDetectsRegistryInconsistency(t *testing.T) {
	svc, _, db := newTestService(t)
	ctx := context.Background()

	now := time.Now()
	sess := &domain.WaSession{
		ID:     9002,
		Name:   "ghost",
		Status: domain.StatusConnected,
		Devices: domain.DeviceList{{
			DeviceID:        "dev-ghost",
			Status:          domain.StatusConnected,
			LastConnectedAt: &now,
			StatusUpdatedAt: now,
		}},
	}
	require.NoError(t, db.Create(sess).Error)

	_, err := svc.SendText(ctx, sess.ID, "628123", "hello")
	assert.ErrorIs(t, err, ErrInconsistentRegistry)
}

func TestSendStructuredMessages(t *testing.T) {
	svc, f, _ := newTestService(t)
	ctx := context.Background()
	sess, _ := svc.CreateSession(ctx, 1, CreateSessionForm{Name: "support"})
	device, err := svc.AddDevice(ctx, sess.ID, "primary")
	require.NoError(t, err)
	connectDevice(t, svc, f, sess.ID, device.DeviceID)

	_, err = svc.SendListMessage(ctx, sess.ID, "628123", "Menu", "pick", "", []wameow.ListSection{
		{Title: "Food", Rows: []wameow.ListRow{{ID: "1", Title: "Rice"}}},
	})
	require.NoError(t, err)
	_, err = svc.SendButtonMessage(ctx, sess.ID, "628123", "Confirm?", "", []wameow.Button{
		{ID: "y", Text: "Yes"},
	})
	require.NoError(t, err)
	assert.Len(t, f.client(device.DeviceID).sent, 2)
}

func TestInboundMessagesReachSink(t *testing.T) {
	svc, f, _ := newTestService(t)
	sink := &recordingSink{}
	svc.SetMessageSink(sink)
	ctx := context.Background()

	sess, _ := svc.CreateSession(ctx, 1, CreateSessionForm{Name: "support"})
	device, err := svc.AddDevice(ctx, sess.ID, "primary")
	require.NoError(t, err)

	f.client(device.DeviceID).emit(&wameow.MessageEvent{
		ID:      "in-1",
		From:    "628999@s.whatsapp.net",
		Content: "ping",
	})

	sink.mu.Lock()
	defer sink.mu.Unlock()
	require.Len(t, sink.inbound, 1)
	assert.Equal(t, "in-1", sink.inbound[0].ID)
}
