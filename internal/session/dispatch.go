package session

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/wagateio/wagate/internal/domain"
	"github.com/wagateio/wagate/internal/wameow"
	"go.uber.org/zap"
)

// SendText routes a text message through the session's first connected
// device.
func (s *Service) SendText(ctx context.Context, sessionID int64, to, text string) (*wameow.SendResult, error) {
	return s.dispatch(ctx, sessionID, to, text, func(ctx context.Context, a *wameow.Adapter, addr string) (*wameow.SendResult, error) {
		return a.SendText(ctx, addr, text)
	})
}

// SendListMessage routes a list message through the session's first
// connected device.
func (s *Service) SendListMessage(ctx context.Context, sessionID int64, to, title, text, footer string, sections []wameow.ListSection) (*wameow.SendResult, error) {
	return s.dispatch(ctx, sessionID, to, text, func(ctx context.Context, a *wameow.Adapter, addr string) (*wameow.SendResult, error) {
		return a.SendList(ctx, addr, title, text, footer, sections)
	})
}

// SendButtonMessage routes a button message through the session's first
// connected device.
func (s *Service) SendButtonMessage(ctx context.Context, sessionID int64, to, text, footer string, buttons []wameow.Button) (*wameow.SendResult, error) {
	return s.dispatch(ctx, sessionID, to, text, func(ctx context.Context, a *wameow.Adapter, addr string) (*wameow.SendResult, error) {
		return a.SendButtons(ctx, addr, text, footer, buttons)
	})
}

type sendFunc func(ctx context.Context, a *wameow.Adapter, addr string) (*wameow.SendResult, error)

// dispatch verifies the session is connected, picks the first connected
// device in list order, honors the configured send delay and forwards
// through the device's adapter. A registry miss for a connected device is a
// distinct inconsistency so callers recreate the client instead of blindly
// retrying.
func (s *Service) dispatch(ctx context.Context, sessionID int64, to, content string, send sendFunc) (*wameow.SendResult, error) {
	sess, err := s.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.Status != domain.StatusConnected {
		return nil, errors.Wrapf(ErrSessionNotConnected, "session %d status %s", sessionID, sess.Status)
	}
	device := sess.FirstConnectedDevice()
	if device == nil {
		return nil, errors.Wrapf(ErrNoConnectedDevice, "session %d", sessionID)
	}
	adapter, ok := s.registry.Lookup(sessionID, device.DeviceID)
	if !ok {
		return nil, errors.Wrapf(ErrInconsistentRegistry,
			"device %s marked connected in session %d", device.DeviceID, sessionID)
	}

	if sess.MessageDelay > 0 {
		timer := time.NewTimer(time.Duration(sess.MessageDelay) * time.Millisecond)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		}
	}

	addr := wameow.NormalizeAddress(to)
	result, err := send(ctx, adapter, addr)
	if err != nil {
		zap.L().Warn("session: dispatch failed",
			zap.Int64("session_id", sessionID),
			zap.String("device_id", device.DeviceID),
			zap.String("to", addr),
			zap.Error(err))
		return nil, err
	}

	now := time.Now()
	sess.LastActive = &now
	if err := s.saveSession(ctx, sess); err != nil {
		zap.L().Warn("session: failed to update last active",
			zap.Int64("session_id", sessionID), zap.Error(err))
	}
	if s.sink != nil {
		s.sink.HandleOutbound(sessionID, device.DeviceID, addr, content, result.ID)
	}
	return result, nil
}
