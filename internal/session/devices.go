package session

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/wagateio/wagate/internal/domain"
	"github.com/wagateio/wagate/internal/wameow"
	"github.com/wagateio/wagate/pkg/common"
	"go.uber.org/zap"
)

const (
	// QRValidity is the lifetime of a persisted pairing image.
	QRValidity = 5 * time.Minute
	// StaleInitializingAfter is how long a device may sit in initializing
	// before the next QR read forces it to disconnected and disposes its
	// adapter.
	StaleInitializingAfter = 10 * time.Minute
)

// AddDevice allocates a device id, creates its adapter, waits for the first
// pairing image and persists the new device in initializing state. An
// initialize failure aborts the add and the device is not created.
func (s *Service) AddDevice(ctx context.Context, sessionID int64, name string) (*domain.Device, error) {
	sess, err := s.loadSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	deviceID := common.UUID()
	adapter, err := s.registry.GetOrCreate(sessionID, deviceID, name)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create client")
	}
	s.bindAdapter(sessionID, deviceID, adapter)

	img, err := adapter.Initialize(ctx)
	if err != nil {
		s.registry.Dispose(ctx, sessionID, deviceID)
		return nil, err
	}

	now := time.Now()
	device := &domain.Device{
		DeviceID:        deviceID,
		Name:            name,
		Status:          domain.StatusInitializing,
		CreatedAt:       now,
		StatusUpdatedAt: now,
	}
	device.SetQR(img, now.Add(QRValidity))
	sess.Devices = append(sess.Devices, device)
	sess.Status = sess.DeriveStatus()
	if err := s.saveSession(ctx, sess); err != nil {
		s.registry.Dispose(ctx, sessionID, deviceID)
		return nil, err
	}
	zap.L().Info("session: device added",
		zap.Int64("session_id", sessionID),
		zap.String("device_id", deviceID),
		zap.String("name", name))
	return device, nil
}

// GetSessionDevices returns the device list with live adapter state
// reconciled first, so persisted status never trails a live adapter by more
// than one read.
func (s *Service) GetSessionDevices(ctx context.Context, sessionID int64) (domain.DeviceList, error) {
	sess, err := s.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return sess.Devices, nil
}

func (s *Service) findDevice(sess *domain.WaSession, deviceID string) (*domain.Device, error) {
	device := sess.Devices.Find(deviceID)
	if device == nil {
		return nil, errors.Wrapf(ErrDeviceNotFound, "device %s in session %d", deviceID, sess.ID)
	}
	return device, nil
}

// GetOrRefreshQR returns the device's pairing image, reusing a non-expired
// one. A device stuck in initializing past the stale threshold is forced to
// disconnected and its adapter disposed before a fresh QR is produced.
func (s *Service) GetOrRefreshQR(ctx context.Context, sessionID int64, deviceID string) (*domain.Device, error) {
	sess, err := s.loadSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	device, err := s.findDevice(sess, deviceID)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	if device.Status == domain.StatusInitializing && now.Sub(device.StatusUpdatedAt) > StaleInitializingAfter {
		zap.L().Warn("session: stale initializing device, forcing disconnect",
			zap.Int64("session_id", sessionID),
			zap.String("device_id", deviceID),
			zap.Time("status_updated_at", device.StatusUpdatedAt))
		s.registry.Dispose(ctx, sessionID, deviceID)
		device.Status = domain.StatusDisconnected
		device.StatusUpdatedAt = now
		device.ClearQR()
		if err := s.saveSession(ctx, sess); err != nil {
			return nil, err
		}
	}

	if device.QRValid(now) && device.Status != domain.StatusDisconnected {
		return device, nil
	}

	adapter, err := s.registry.GetOrCreate(sessionID, deviceID, device.Name)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create client")
	}
	s.bindAdapter(sessionID, deviceID, adapter)
	img, err := adapter.Initialize(ctx)
	if err != nil {
		return nil, err
	}

	now = time.Now()
	device.SetQR(img, now.Add(QRValidity))
	device.Status = domain.StatusInitializing
	device.StatusUpdatedAt = now
	sess.Status = sess.DeriveStatus()
	if err := s.saveSession(ctx, sess); err != nil {
		return nil, err
	}
	return device, nil
}

// RefreshQR unconditionally discards the device's adapter and produces a new
// pairing image. Fails with ErrInvalidState while the device is connected.
func (s *Service) RefreshQR(ctx context.Context, sessionID int64, deviceID string) (*domain.Device, error) {
	sess, err := s.loadSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	device, err := s.findDevice(sess, deviceID)
	if err != nil {
		return nil, err
	}
	if device.Status == domain.StatusConnected {
		return nil, errors.Wrap(ErrInvalidState, "device already connected")
	}

	s.registry.Dispose(ctx, sessionID, deviceID)
	adapter, err := s.registry.GetOrCreate(sessionID, deviceID, device.Name)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create client")
	}
	s.bindAdapter(sessionID, deviceID, adapter)
	img, err := adapter.Initialize(ctx)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	device.SetQR(img, now.Add(QRValidity))
	device.Status = domain.StatusInitializing
	device.StatusUpdatedAt = now
	sess.Status = sess.DeriveStatus()
	if err := s.saveSession(ctx, sess); err != nil {
		return nil, err
	}
	return device, nil
}

// LogoutDevice disposes the device's adapter and marks it disconnected with
// its pairing image cleared.
func (s *Service) LogoutDevice(ctx context.Context, sessionID int64, deviceID string) error {
	sess, err := s.loadSession(ctx, sessionID)
	if err != nil {
		return err
	}
	device, err := s.findDevice(sess, deviceID)
	if err != nil {
		return err
	}

	s.registry.Dispose(ctx, sessionID, deviceID)
	device.Status = domain.StatusDisconnected
	device.StatusUpdatedAt = time.Now()
	device.ClearQR()
	sess.Status = sess.DeriveStatus()
	if err := s.saveSession(ctx, sess); err != nil {
		return err
	}
	zap.L().Info("session: device logged out",
		zap.Int64("session_id", sessionID),
		zap.String("device_id", deviceID))
	return nil
}

// RemoveDevice applies logout semantics and deletes the device from the
// session's device list.
func (s *Service) RemoveDevice(ctx context.Context, sessionID int64, deviceID string) error {
	sess, err := s.loadSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if _, err := s.findDevice(sess, deviceID); err != nil {
		return err
	}

	s.registry.Dispose(ctx, sessionID, deviceID)
	sess.Devices = sess.Devices.Remove(deviceID)
	sess.Status = sess.DeriveStatus()
	if err := s.saveSession(ctx, sess); err != nil {
		return err
	}
	zap.L().Info("session: device removed",
		zap.Int64("session_id", sessionID),
		zap.String("device_id", deviceID))
	return nil
}

// SweepStale walks every session once: stale-initializing devices are forced
// to disconnected with their adapters disposed, and live adapter state is
// reconciled. The timeouts stay lazily evaluated on read; this sweep only
// shortens how long stale state can linger unobserved.
func (s *Service) SweepStale(ctx context.Context) error {
	var sessions []domain.WaSession
	if err := s.db.WithContext(ctx).Find(&sessions).Error; err != nil {
		return err
	}
	now := time.Now()
	for i := range sessions {
		sess := &sessions[i]
		changed := s.syncStatus(sess)
		for _, device := range sess.Devices {
			if device.Status != domain.StatusInitializing {
				continue
			}
			if now.Sub(device.StatusUpdatedAt) <= StaleInitializingAfter {
				continue
			}
			s.registry.Dispose(ctx, sess.ID, device.DeviceID)
			device.Status = domain.StatusDisconnected
			device.StatusUpdatedAt = now
			device.ClearQR()
			changed = true
			zap.L().Info("session: swept stale initializing device",
				zap.Int64("session_id", sess.ID),
				zap.String("device_id", device.DeviceID))
		}
		if derived := sess.DeriveStatus(); derived != sess.Status {
			sess.Status = derived
			changed = true
		}
		if changed {
			if err := s.saveSession(ctx, sess); err != nil {
				zap.L().Warn("session: sweep save failed",
					zap.Int64("session_id", sess.ID), zap.Error(err))
			}
		}
	}
	return nil
}

// syncStatus reconciles every device carrying a live adapter with the
// adapter's connected flag and phone. Reports whether anything changed;
// persisting is the caller's concern.
func (s *Service) syncStatus(sess *domain.WaSession) bool {
	changed := false
	now := time.Now()
	for _, device := range sess.Devices {
		adapter, ok := s.registry.Lookup(sess.ID, device.DeviceID)
		if !ok {
			continue
		}
		if adapter.IsConnected() {
			if device.Status != domain.StatusConnected {
				device.Status = domain.StatusConnected
				device.StatusUpdatedAt = now
				device.FailReason = ""
				ts := now
				device.LastConnectedAt = &ts
				device.ClearQR()
				sess.LastActive = &ts
				changed = true
				s.publish(TopicDeviceReady, &DeviceEvent{
					SessionID: sess.ID,
					DeviceID:  device.DeviceID,
					Phone:     adapter.Phone(),
				})
			}
			if phone := adapter.Phone(); phone != "" && phone != device.Phone {
				device.Phone = phone
				changed = true
			}
			continue
		}
		if adapter.HasFailed() {
			if device.Status != domain.StatusFailed {
				wasConnected := device.Status == domain.StatusConnected
				device.Status = domain.StatusFailed
				device.StatusUpdatedAt = now
				device.FailReason = adapter.FailReason()
				changed = true
				if wasConnected {
					s.publish(TopicDeviceDisconnected, &DeviceEvent{
						SessionID: sess.ID,
						DeviceID:  device.DeviceID,
						Phone:     device.Phone,
						Reason:    device.FailReason,
					})
				}
			}
			continue
		}
		if device.Status == domain.StatusConnected {
			device.Status = domain.StatusDisconnected
			device.StatusUpdatedAt = now
			if reason := adapter.FailReason(); reason != "" {
				device.FailReason = reason
			}
			changed = true
			s.publish(TopicDeviceDisconnected, &DeviceEvent{
				SessionID: sess.ID,
				DeviceID:  device.DeviceID,
				Phone:     device.Phone,
				Reason:    device.FailReason,
			})
		}
	}
	return changed
}

func (s *Service) publish(topic string, evt *DeviceEvent) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(topic, evt)
}

// bindAdapter wires the adapter's inbound messages into the message sink.
func (s *Service) bindAdapter(sessionID int64, deviceID string, adapter *wameow.Adapter) {
	adapter.RegisterMessageHandler(func(evt *wameow.MessageEvent) {
		if s.sink == nil {
			return
		}
		s.sink.HandleInbound(sessionID, deviceID, evt)
	})
}
