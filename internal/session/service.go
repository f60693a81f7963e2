// Package session owns the persisted session/device records and drives their
// lifecycle against the wameow registry: the device state machine, the
// session-level aggregation and the outbound message dispatch.
package session

import (
	"context"
	"time"

	"github.com/asaskevich/EventBus"
	"github.com/pkg/errors"
	"github.com/wagateio/wagate/internal/domain"
	"github.com/wagateio/wagate/internal/wameow"
	"github.com/wagateio/wagate/pkg/common"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

// Event bus topics published by the service.
const (
	TopicDeviceReady        = "wameow.device.ready"
	TopicDeviceDisconnected = "wameow.device.disconnected"
)

// DeviceEvent is the payload published on device lifecycle topics.
type DeviceEvent struct {
	SessionID int64
	DeviceID  string
	Phone     string
	Reason    string
}

// MessageSink receives normalized message traffic for recording/forwarding.
type MessageSink interface {
	HandleInbound(sessionID int64, deviceID string, evt *wameow.MessageEvent)
	HandleOutbound(sessionID int64, deviceID, peer, content, msgID string)
}

// Service mutates session records. Sessions are stored with their device
// list embedded as a JSON column, so every device mutation is applied
// in place and saved with a single session update (last writer wins at
// session granularity).
type Service struct {
	db       *gorm.DB
	registry *wameow.Registry
	bus      EventBus.Bus
	sink     MessageSink
}

// NewService builds a session service around the database, the adapter
// registry and the process event bus.
func NewService(db *gorm.DB, registry *wameow.Registry, bus EventBus.Bus) *Service {
	return &Service{db: db, registry: registry, bus: bus}
}

// SetMessageSink installs the sink receiving inbound/outbound traffic.
func (s *Service) SetMessageSink(sink MessageSink) {
	s.sink = sink
}

// Registry exposes the adapter registry, mainly for the shutdown drain.
func (s *Service) Registry() *wameow.Registry {
	return s.registry
}

// CreateSessionForm carries the mutable session fields.
type CreateSessionForm struct {
	Name               string `json:"name" form:"name"`
	Description        string `json:"description" form:"description"`
	AutoReconnect      bool   `json:"auto_reconnect" form:"auto_reconnect"`
	MessageDelay       int    `json:"message_delay" form:"message_delay"`
	WebhookURL         string `json:"webhook_url" form:"webhook_url"`
	NotifyEmail        string `json:"notify_email" form:"notify_email"`
	NotifyOnDisconnect bool   `json:"notify_on_disconnect" form:"notify_on_disconnect"`
}

func clampDelay(ms int) int {
	if ms < 0 {
		return 0
	}
	if ms > domain.MaxMessageDelayMs {
		return domain.MaxMessageDelayMs
	}
	return ms
}

// CreateSession persists a new session with no devices.
func (s *Service) CreateSession(ctx context.Context, oprID int64, form CreateSessionForm) (*domain.WaSession, error) {
	sess := &domain.WaSession{
		ID:                 common.UUIDint64(),
		OprID:              oprID,
		Name:               form.Name,
		Description:        form.Description,
		Status:             domain.StatusInitializing,
		Devices:            domain.DeviceList{},
		AutoReconnect:      form.AutoReconnect,
		MessageDelay:       clampDelay(form.MessageDelay),
		WebhookURL:         form.WebhookURL,
		NotifyEmail:        form.NotifyEmail,
		NotifyOnDisconnect: form.NotifyOnDisconnect,
	}
	if err := s.db.WithContext(ctx).Create(sess).Error; err != nil {
		return nil, err
	}
	zap.L().Info("session: created", zap.Int64("session_id", sess.ID), zap.String("name", sess.Name))
	return sess, nil
}

// loadSession fetches one session row.
func (s *Service) loadSession(ctx context.Context, id int64) (*domain.WaSession, error) {
	var sess domain.WaSession
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&sess).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, errors.Wrapf(ErrSessionNotFound, "session %d", id)
	}
	if err != nil {
		return nil, err
	}
	return &sess, nil
}

// GetSession returns the session with live adapter state reconciled and the
// session status re-derived from its devices.
func (s *Service) GetSession(ctx context.Context, id int64) (*domain.WaSession, error) {
	sess, err := s.loadSession(ctx, id)
	if err != nil {
		return nil, err
	}
	changed := s.syncStatus(sess)
	derived := sess.DeriveStatus()
	if derived != sess.Status {
		sess.Status = derived
		changed = true
	}
	if changed {
		if err := s.saveSession(ctx, sess); err != nil {
			return nil, err
		}
	}
	return sess, nil
}

// ListSessions returns all sessions for an operator, status re-derived the
// same way GetSession does. oprID 0 lists every session.
func (s *Service) ListSessions(ctx context.Context, oprID int64) ([]domain.WaSession, error) {
	q := s.db.WithContext(ctx).Model(&domain.WaSession{}).Order("created_at DESC")
	if oprID != 0 {
		q = q.Where("opr_id = ?", oprID)
	}
	var sessions []domain.WaSession
	if err := q.Find(&sessions).Error; err != nil {
		return nil, err
	}
	for i := range sessions {
		sess := &sessions[i]
		changed := s.syncStatus(sess)
		if derived := sess.DeriveStatus(); derived != sess.Status {
			sess.Status = derived
			changed = true
		}
		if changed {
			if err := s.saveSession(ctx, sess); err != nil {
				zap.L().Warn("session: failed to persist reconciled status",
					zap.Int64("session_id", sess.ID), zap.Error(err))
			}
		}
	}
	return sessions, nil
}

// UpdateSession applies name/settings changes; device concerns go through
// the device operations instead.
func (s *Service) UpdateSession(ctx context.Context, id int64, form CreateSessionForm) (*domain.WaSession, error) {
	sess, err := s.loadSession(ctx, id)
	if err != nil {
		return nil, err
	}
	sess.Name = form.Name
	sess.Description = form.Description
	sess.AutoReconnect = form.AutoReconnect
	sess.MessageDelay = clampDelay(form.MessageDelay)
	sess.WebhookURL = form.WebhookURL
	sess.NotifyEmail = form.NotifyEmail
	sess.NotifyOnDisconnect = form.NotifyOnDisconnect
	if err := s.saveSession(ctx, sess); err != nil {
		return nil, err
	}
	return sess, nil
}

// DeleteSession disposes every device adapter first (best-effort, failures
// only logged) and then deletes the persisted session.
func (s *Service) DeleteSession(ctx context.Context, id int64) error {
	sess, err := s.loadSession(ctx, id)
	if err != nil {
		return err
	}
	g, gctx := errgroup.WithContext(ctx)
	for _, d := range sess.Devices {
		deviceID := d.DeviceID
		g.Go(func() error {
			s.registry.Dispose(gctx, sess.ID, deviceID)
			return nil
		})
	}
	_ = g.Wait()
	if err := s.db.WithContext(ctx).Delete(&domain.WaSession{}, id).Error; err != nil {
		return err
	}
	zap.L().Info("session: deleted", zap.Int64("session_id", id), zap.Int("devices", len(sess.Devices)))
	return nil
}

// ReconcileStartup marks every device disconnected and drops stale QR codes.
// Adapters do not survive a process restart, so persisted connected states
// are meaningless until a fresh pairing re-establishes them.
func (s *Service) ReconcileStartup(ctx context.Context) error {
	var sessions []domain.WaSession
	if err := s.db.WithContext(ctx).Find(&sessions).Error; err != nil {
		return err
	}
	now := time.Now()
	for i := range sessions {
		sess := &sessions[i]
		changed := false
		for _, d := range sess.Devices {
			if d.Status == domain.StatusConnected || d.Status == domain.StatusInitializing {
				d.Status = domain.StatusDisconnected
				d.StatusUpdatedAt = now
				changed = true
			}
			if d.QRCode != "" {
				d.ClearQR()
				changed = true
			}
		}
		if derived := sess.DeriveStatus(); derived != sess.Status {
			sess.Status = derived
			changed = true
		}
		if changed {
			if err := s.saveSession(ctx, sess); err != nil {
				zap.L().Warn("session: startup reconcile save failed",
					zap.Int64("session_id", sess.ID), zap.Error(err))
			}
		}
	}
	zap.L().Info("session: startup reconcile complete", zap.Int("sessions", len(sessions)))
	return nil
}

// saveSession writes the whole session row including the embedded device
// list in one update.
func (s *Service) saveSession(ctx context.Context, sess *domain.WaSession) error {
	return s.db.WithContext(ctx).Save(sess).Error
}
