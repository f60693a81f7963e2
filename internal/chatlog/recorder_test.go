package chatlog

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wagateio/wagate/internal/domain"
	"github.com/wagateio/wagate/internal/wameow"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var testDBSeq int64

func newTestRecorder(t *testing.T) (*Recorder, *gorm.DB) {
	t.Helper()
	dsn := fmt.Sprintf("file:chatlog_test_%d?mode=memory&cache=shared", atomic.AddInt64(&testDBSeq, 1))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&domain.WaSession{}, &domain.ChatLog{}))

	r, err := NewRecorder(db)
	require.NoError(t, err)
	t.Cleanup(r.Release)
	return r, db
}

func countLogs(db *gorm.DB) int64 {
	var n int64
	db.Model(&domain.ChatLog{}).Count(&n)
	return n
}

func TestHandleInboundRecords(t *testing.T) {
	r, db := newTestRecorder(t)

	r.HandleInbound(100, "dev-1", &wameow.MessageEvent{
		ID:        "m1",
		From:      "628999@s.whatsapp.net",
		Content:   "hello",
		Timestamp: time.Now(),
	})

	require.Eventually(t, func() bool { return countLogs(db) == 1 }, 2*time.Second, 10*time.Millisecond)

	var row domain.ChatLog
	require.NoError(t, db.First(&row).Error)
	assert.Equal(t, int64(100), row.SessionID)
	assert.Equal(t, "dev-1", row.DeviceID)
	assert.Equal(t, "in", row.Direction)
	assert.Equal(t, "628999@s.whatsapp.net", row.Peer)
	assert.Equal(t, "hello", row.Content)
}

func TestHandleInboundOwnEchoMarkedOut(t *testing.T) {
	r, db := newTestRecorder(t)

	r.HandleInbound(100, "dev-1", &wameow.MessageEvent{
		ID:        "m2",
		From:      "628999@s.whatsapp.net",
		Content:   "echo",
		Timestamp: time.Now(),
		IsFromMe:  true,
	})

	require.Eventually(t, func() bool { return countLogs(db) == 1 }, 2*time.Second, 10*time.Millisecond)
	var row domain.ChatLog
	require.NoError(t, db.First(&row).Error)
	assert.Equal(t, "out", row.Direction)
}

func TestHandleOutboundRecords(t *testing.T) {
	r, db := newTestRecorder(t)

	r.HandleOutbound(100, "dev-1", "628999@s.whatsapp.net", "sent text", "MSGID9")

	require.Eventually(t, func() bool { return countLogs(db) == 1 }, 2*time.Second, 10*time.Millisecond)
	var row domain.ChatLog
	require.NoError(t, db.First(&row).Error)
	assert.Equal(t, "out", row.Direction)
	assert.Equal(t, "MSGID9", row.MsgID)
}

func TestWebhookForwarding(t *testing.T) {
	r, db := newTestRecorder(t)

	var delivered atomic.Value
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		var body map[string]interface{}
		_ = json.NewDecoder(req.Body).Decode(&body)
		delivered.Store(body)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	require.NoError(t, db.Create(&domain.WaSession{
		ID:         100,
		Name:       "hooked",
		Status:     domain.StatusConnected,
		WebhookURL: server.URL,
	}).Error)

	r.HandleInbound(100, "dev-1", &wameow.MessageEvent{
		ID:        "m3",
		From:      "628999@s.whatsapp.net",
		Content:   "forward me",
		Timestamp: time.Now(),
	})

	require.Eventually(t, func() bool { return delivered.Load() != nil }, 3*time.Second, 20*time.Millisecond)
	body := delivered.Load().(map[string]interface{})
	assert.Equal(t, "forward me", body["content"])
	assert.Equal(t, "dev-1", body["deviceId"])
	assert.Equal(t, false, body["isFromMe"])
}

func seedLogs(t *testing.T, db *gorm.DB) {
	t.Helper()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	rows := []domain.ChatLog{
		{ID: 1, SessionID: 100, DeviceID: "dev-1", Direction: "in", Peer: "628111@s.whatsapp.net", Content: "a", MsgTime: base},
		{ID: 2, SessionID: 100, DeviceID: "dev-1", Direction: "out", Peer: "628111@s.whatsapp.net", Content: "b", MsgTime: base.Add(time.Hour)},
		{ID: 3, SessionID: 200, DeviceID: "dev-2", Direction: "in", Peer: "628222@s.whatsapp.net", Content: "c", MsgTime: base.Add(48 * time.Hour)},
	}
	for i := range rows {
		require.NoError(t, db.Create(&rows[i]).Error)
	}
}

func TestListLogsFilters(t *testing.T) {
	r, db := newTestRecorder(t)
	seedLogs(t, db)
	ctx := context.Background()

	logs, total, err := r.ListLogs(ctx, Query{})
	require.NoError(t, err)
	assert.EqualValues(t, 3, total)
	require.Len(t, logs, 3)
	assert.Equal(t, "c", logs[0].Content, "newest first")

	logs, total, err = r.ListLogs(ctx, Query{SessionID: 100})
	require.NoError(t, err)
	assert.EqualValues(t, 2, total)

	// a bare phone number is normalized before matching
	logs, total, err = r.ListLogs(ctx, Query{Peer: "628111"})
	require.NoError(t, err)
	assert.EqualValues(t, 2, total)

	logs, total, err = r.ListLogs(ctx, Query{From: "2026-03-02"})
	require.NoError(t, err)
	assert.EqualValues(t, 1, total)
	assert.Equal(t, "c", logs[0].Content)

	_, total, err = r.ListLogs(ctx, Query{To: "2026-03-01 13:30:00"})
	require.NoError(t, err)
	assert.EqualValues(t, 2, total)
}

func TestListLogsPagination(t *testing.T) {
	r, db := newTestRecorder(t)
	seedLogs(t, db)

	logs, total, err := r.ListLogs(context.Background(), Query{Page: 2, PageSize: 2})
	require.NoError(t, err)
	assert.EqualValues(t, 3, total)
	assert.Len(t, logs, 1)
}

func TestExportCSV(t *testing.T) {
	r, db := newTestRecorder(t)
	seedLogs(t, db)

	csv, err := r.ExportCSV(context.Background(), Query{SessionID: 100})
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(csv), "\n")
	assert.Len(t, lines, 3, "header plus two rows")
}

func TestCleanupRetention(t *testing.T) {
	r, db := newTestRecorder(t)
	old := domain.ChatLog{ID: 10, SessionID: 100, Direction: "in", Peer: "p", Content: "old", MsgTime: time.Now().Add(-100 * 24 * time.Hour)}
	fresh := domain.ChatLog{ID: 11, SessionID: 100, Direction: "in", Peer: "p", Content: "fresh", MsgTime: time.Now()}
	require.NoError(t, db.Create(&old).Error)
	require.NoError(t, db.Create(&fresh).Error)

	require.NoError(t, r.Cleanup(context.Background(), DefaultRetention))
	assert.EqualValues(t, 1, countLogs(db))

	var rest domain.ChatLog
	require.NoError(t, db.First(&rest).Error)
	assert.Equal(t, "fresh", rest.Content)
}
