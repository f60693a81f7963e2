// Package mailer emails operators when a session device drops.
package mailer

import (
	"fmt"

	"github.com/asaskevich/EventBus"
	"github.com/wagateio/wagate/internal/domain"
	"github.com/wagateio/wagate/internal/session"
	"go.uber.org/zap"
	gomail "gopkg.in/gomail.v2"
	"gorm.io/gorm"
)

// SMTPConfig comes from the sys_config table (smtp category).
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// Notifier subscribes to device lifecycle topics and sends disconnect
// notifications for sessions that opted in.
type Notifier struct {
	db     *gorm.DB
	config func() SMTPConfig
}

// NewNotifier builds a notifier; config is resolved per send so settings
// changes apply without a restart.
func NewNotifier(db *gorm.DB, config func() SMTPConfig) *Notifier {
	return &Notifier{db: db, config: config}
}

// Subscribe attaches the notifier to the event bus.
func (n *Notifier) Subscribe(bus EventBus.Bus) error {
	return bus.SubscribeAsync(session.TopicDeviceDisconnected, n.onDeviceDisconnected, false)
}

func (n *Notifier) onDeviceDisconnected(evt *session.DeviceEvent) {
	var sess domain.WaSession
	if err := n.db.Where("id = ?", evt.SessionID).First(&sess).Error; err != nil {
		zap.L().Warn("mailer: session lookup failed",
			zap.Int64("session_id", evt.SessionID), zap.Error(err))
		return
	}
	if !sess.NotifyOnDisconnect || sess.NotifyEmail == "" {
		return
	}

	cfg := n.config()
	if cfg.Host == "" || cfg.From == "" {
		zap.L().Debug("mailer: smtp not configured, skipping notification")
		return
	}

	subject := fmt.Sprintf("[WAGate] device disconnected in session %s", sess.Name)
	body := fmt.Sprintf(
		"Device %s (phone %s) in session %s disconnected.\nReason: %s\n",
		evt.DeviceID, evt.Phone, sess.Name, orUnknown(evt.Reason))

	m := gomail.NewMessage()
	m.SetHeader("From", cfg.From)
	m.SetHeader("To", sess.NotifyEmail)
	m.SetHeader("Subject", subject)
	m.SetBody("text/plain", body)

	d := gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password)
	if err := d.DialAndSend(m); err != nil {
		zap.L().Warn("mailer: notification send failed",
			zap.Int64("session_id", evt.SessionID),
			zap.String("to", sess.NotifyEmail),
			zap.Error(err))
		return
	}
	zap.L().Info("mailer: disconnect notification sent",
		zap.Int64("session_id", evt.SessionID),
		zap.String("to", sess.NotifyEmail))
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}
