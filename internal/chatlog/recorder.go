// Package chatlog records normalized message traffic as conversation history
// and forwards inbound messages to each session's webhook.
package chatlog

import (
	"context"
	"time"

	"github.com/araddon/dateparse"
	"github.com/gocarina/gocsv"
	"github.com/guonaihong/gout"
	"github.com/panjf2000/ants/v2"
	"github.com/wagateio/wagate/internal/domain"
	"github.com/wagateio/wagate/internal/wameow"
	"github.com/wagateio/wagate/pkg/common"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	defaultPoolSize = 64
	webhookTimeout  = 10 * time.Second
	// DefaultRetention is how long chat logs are kept by the cleanup job.
	DefaultRetention = 90 * 24 * time.Hour
)

// Recorder persists chat logs and fans out webhook deliveries on a bounded
// worker pool so slow webhooks never back-pressure the client event stream.
type Recorder struct {
	db   *gorm.DB
	pool *ants.Pool
}

// NewRecorder builds a recorder with its worker pool.
func NewRecorder(db *gorm.DB) (*Recorder, error) {
	pool, err := ants.NewPool(defaultPoolSize, ants.WithNonblocking(true))
	if err != nil {
		return nil, err
	}
	return &Recorder{db: db, pool: pool}, nil
}

// Release stops the worker pool.
func (r *Recorder) Release() {
	r.pool.Release()
}

// HandleInbound records one inbound message and forwards it to the session
// webhook when configured. Work runs on the pool; overload drops with a log
// instead of blocking the event source.
func (r *Recorder) HandleInbound(sessionID int64, deviceID string, evt *wameow.MessageEvent) {
	msg := *evt
	err := r.pool.Submit(func() {
		direction := "in"
		if msg.IsFromMe {
			direction = "out"
		}
		row := &domain.ChatLog{
			ID:        common.UUIDint64(),
			SessionID: sessionID,
			DeviceID:  deviceID,
			MsgID:     msg.ID,
			Direction: direction,
			Peer:      msg.From,
			Content:   msg.Content,
			MsgTime:   msg.Timestamp,
		}
		if err := r.db.Create(row).Error; err != nil {
			zap.L().Warn("chatlog: failed to record inbound message",
				zap.Int64("session_id", sessionID),
				zap.String("device_id", deviceID),
				zap.Error(err))
		}
		if !msg.IsFromMe {
			r.forwardWebhook(sessionID, deviceID, &msg)
		}
	})
	if err != nil {
		zap.L().Warn("chatlog: worker pool rejected inbound message",
			zap.Int64("session_id", sessionID),
			zap.Error(err))
	}
}

// HandleOutbound records one message sent through the dispatch router.
func (r *Recorder) HandleOutbound(sessionID int64, deviceID, peer, content, msgID string) {
	err := r.pool.Submit(func() {
		row := &domain.ChatLog{
			ID:        common.UUIDint64(),
			SessionID: sessionID,
			DeviceID:  deviceID,
			MsgID:     msgID,
			Direction: "out",
			Peer:      peer,
			Content:   content,
			MsgTime:   time.Now(),
		}
		if err := r.db.Create(row).Error; err != nil {
			zap.L().Warn("chatlog: failed to record outbound message",
				zap.Int64("session_id", sessionID),
				zap.String("device_id", deviceID),
				zap.Error(err))
		}
	})
	if err != nil {
		zap.L().Warn("chatlog: worker pool rejected outbound message",
			zap.Int64("session_id", sessionID),
			zap.Error(err))
	}
}

// forwardWebhook posts the normalized message to the session webhook.
// Delivery is best-effort; failures are logged only.
func (r *Recorder) forwardWebhook(sessionID int64, deviceID string, msg *wameow.MessageEvent) {
	var sess domain.WaSession
	if err := r.db.Select("id", "webhook_url").Where("id = ?", sessionID).First(&sess).Error; err != nil {
		zap.L().Warn("chatlog: webhook session lookup failed",
			zap.Int64("session_id", sessionID), zap.Error(err))
		return
	}
	if sess.WebhookURL == "" {
		return
	}
	var code int
	err := gout.POST(sess.WebhookURL).
		SetTimeout(webhookTimeout).
		SetJSON(gout.H{
			"sessionId": sessionID,
			"deviceId":  deviceID,
			"id":        msg.ID,
			"from":      msg.From,
			"content":   msg.Content,
			"timestamp": msg.Timestamp.Unix(),
			"isFromMe":  msg.IsFromMe,
		}).
		Code(&code).
		Do()
	if err != nil || code >= 300 {
		zap.L().Warn("chatlog: webhook delivery failed",
			zap.Int64("session_id", sessionID),
			zap.String("url", sess.WebhookURL),
			zap.Int("code", code),
			zap.Error(err))
	}
}

// Query filters for ListLogs; From/To accept any parseable date form.
type Query struct {
	SessionID int64
	Peer      string
	From      string
	To        string
	Page      int
	PageSize  int
}

// ListLogs returns a page of chat logs plus the total match count.
func (r *Recorder) ListLogs(ctx context.Context, q Query) ([]domain.ChatLog, int64, error) {
	db := r.db.WithContext(ctx).Model(&domain.ChatLog{})
	if q.SessionID != 0 {
		db = db.Where("session_id = ?", q.SessionID)
	}
	if q.Peer != "" {
		db = db.Where("peer = ?", wameow.NormalizeAddress(q.Peer))
	}
	if q.From != "" {
		if t, err := dateparse.ParseAny(q.From); err == nil {
			db = db.Where("msg_time >= ?", t)
		}
	}
	if q.To != "" {
		if t, err := dateparse.ParseAny(q.To); err == nil {
			db = db.Where("msg_time <= ?", t)
		}
	}
	var total int64
	if err := db.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	if q.Page < 1 {
		q.Page = 1
	}
	if q.PageSize < 1 || q.PageSize > 500 {
		q.PageSize = 50
	}
	var logs []domain.ChatLog
	err := db.Order("msg_time DESC").
		Offset((q.Page - 1) * q.PageSize).
		Limit(q.PageSize).
		Find(&logs).Error
	return logs, total, err
}

// ExportCSV renders every matching chat log as CSV.
func (r *Recorder) ExportCSV(ctx context.Context, q Query) (string, error) {
	q.Page = 1
	q.PageSize = 500
	var all []domain.ChatLog
	for {
		logs, _, err := r.ListLogs(ctx, q)
		if err != nil {
			return "", err
		}
		all = append(all, logs...)
		if len(logs) < q.PageSize {
			break
		}
		q.Page++
	}
	return gocsv.MarshalString(&all)
}

// Cleanup deletes chat logs older than the retention window.
func (r *Recorder) Cleanup(ctx context.Context, retention time.Duration) error {
	cutoff := time.Now().Add(-retention)
	res := r.db.WithContext(ctx).Where("msg_time < ?", cutoff).Delete(&domain.ChatLog{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected > 0 {
		zap.L().Info("chatlog: retention cleanup", zap.Int64("removed", res.RowsAffected))
	}
	return nil
}
