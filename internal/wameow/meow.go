package wameow

import (
	"context"
	"fmt"
	"strings"

	"github.com/pkg/errors"
	"go.mau.fi/whatsmeow"
	waE2E "go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/store"
	"go.mau.fi/whatsmeow/store/sqlstore"
	waTypes "go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	"go.uber.org/zap"
	"google.golang.org/protobuf/proto"
	"gorm.io/gorm"
)

// Container wraps the whatsmeow credential store. It reuses the application's
// database connection so client credentials live in the same database as the
// session records.
type Container struct {
	store *sqlstore.Container
}

// NewContainer wraps an existing gorm connection for the whatsmeow sqlstore
// and runs its migrations. driver is sqlite3 or postgres.
func NewContainer(gdb *gorm.DB, driver string) (*Container, error) {
	sqlDB, err := gdb.DB()
	if err != nil {
		return nil, errors.Wrap(err, "failed to obtain underlying sql.DB")
	}
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "sqlite", "sqlite3":
		driver = "sqlite3"
		// some sqlite builds need the pragma per connection for sqlstore migrations
		if _, err := sqlDB.ExecContext(context.Background(), "PRAGMA foreign_keys = ON;"); err != nil {
			zap.L().Warn("wameow: unable to enable sqlite foreign_keys pragma", zap.Error(err))
		}
	case "postgres", "postgresql":
		driver = "postgres"
	default:
		driver = "sqlite3"
	}
	container := sqlstore.NewWithDB(sqlDB, driver, nil)
	if err := container.Upgrade(context.Background()); err != nil {
		return nil, errors.Wrap(err, "sqlstore upgrade failed")
	}
	zap.L().Info("wameow: credential store ready", zap.String("driver", driver))
	return &Container{store: container}, nil
}

// deviceMarker tags a whatsmeow store device with its owning registry key so
// credentials survive restarts and can be matched back to a device record.
func deviceMarker(sessionID int64, deviceID string) string {
	return fmt.Sprintf("wagate:%d:%s", sessionID, deviceID)
}

// NewFactory returns a Factory producing whatsmeow-backed clients. For each
// key it reuses a persisted store device carrying the matching marker, or
// provisions a fresh one.
func (c *Container) NewFactory() Factory {
	return func(sessionID int64, deviceID, name string) (Client, error) {
		marker := deviceMarker(sessionID, deviceID)
		var dev *store.Device
		stored, err := c.store.GetAllDevices(context.Background())
		if err != nil {
			zap.L().Warn("wameow: failed to list stored devices", zap.Error(err))
		} else {
			for _, d := range stored {
				if d != nil && d.BusinessName == marker {
					dev = d
					break
				}
			}
		}
		if dev == nil {
			dev = c.store.NewDevice()
			dev.PushName = name
			dev.BusinessName = marker
			// persist best-effort; an in-memory device can still pair
			if err := c.store.PutDevice(context.Background(), dev); err != nil {
				zap.L().Warn("wameow: PutDevice failed, continuing with in-memory device",
					zap.Int64("session_id", sessionID),
					zap.String("device_id", deviceID),
					zap.Error(err))
			}
		}
		return &meowClient{container: c.store, cli: whatsmeow.NewClient(dev, nil)}, nil
	}
}

// meowClient adapts one whatsmeow client to the Client interface.
type meowClient struct {
	container *sqlstore.Container
	cli       *whatsmeow.Client
}

func (m *meowClient) Start(ctx context.Context) error {
	return m.cli.Connect()
}

func (m *meowClient) AddEventHandler(handler func(evt interface{})) {
	m.cli.AddEventHandler(func(evt interface{}) {
		switch e := evt.(type) {
		case *events.QR:
			if len(e.Codes) > 0 {
				handler(&QREvent{Code: e.Codes[0]})
			}
		case *events.PairSuccess:
			handler(&AuthenticatedEvent{})
		case *events.Connected:
			handler(&ReadyEvent{})
		case *events.LoggedOut:
			handler(&AuthFailureEvent{Reason: fmt.Sprintf("logged out: %v", e.Reason)})
		case *events.Disconnected:
			handler(&DisconnectedEvent{Reason: "transport closed"})
		case *events.StreamReplaced:
			handler(&DisconnectedEvent{Reason: "stream replaced"})
		case *events.Message:
			content := e.Message.GetConversation()
			if content == "" && e.Message.GetExtendedTextMessage() != nil {
				content = e.Message.GetExtendedTextMessage().GetText()
			}
			handler(&MessageEvent{
				ID:        string(e.Info.ID),
				From:      e.Info.Sender.String(),
				Content:   content,
				Timestamp: e.Info.Timestamp,
				IsFromMe:  e.Info.IsFromMe,
			})
		default:
			zap.L().Debug("wameow: unhandled client event", zap.String("type", fmt.Sprintf("%T", evt)))
		}
	})
}

func (m *meowClient) Info(ctx context.Context) (*ClientInfo, error) {
	jid := m.cli.Store.GetJID()
	if jid.IsEmpty() {
		return nil, errors.New("client has no stored identity")
	}
	return &ClientInfo{Phone: jid.User, JID: jid.String()}, nil
}

func (m *meowClient) Send(ctx context.Context, to string, payload *Payload) (*SendResult, error) {
	parsed, err := waTypes.ParseJID(to)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid jid %q", to)
	}
	// list and button payloads are rendered as plain text
	msg := &waE2E.Message{Conversation: proto.String(renderPayloadText(payload))}
	resp, err := m.cli.SendMessage(ctx, parsed, msg)
	if err != nil {
		return nil, err
	}
	return &SendResult{ID: string(resp.ID), Timestamp: resp.Timestamp}, nil
}

func (m *meowClient) Logout(ctx context.Context) error {
	m.cli.Disconnect()
	if m.cli.Store != nil && !m.cli.Store.GetJID().IsEmpty() {
		if err := m.container.DeleteDevice(ctx, m.cli.Store); err != nil {
			return errors.Wrap(err, "failed to delete persisted client device")
		}
	}
	return nil
}

// renderPayloadText flattens a structured payload into a single text body.
func renderPayloadText(p *Payload) string {
	if p.Kind == PayloadText {
		return p.Text
	}
	var b strings.Builder
	if p.Title != "" {
		b.WriteString("*" + p.Title + "*\n")
	}
	if p.Text != "" {
		b.WriteString(p.Text + "\n")
	}
	for _, s := range p.Sections {
		if s.Title != "" {
			b.WriteString("\n_" + s.Title + "_\n")
		}
		for _, row := range s.Rows {
			b.WriteString("- " + row.Title)
			if row.Description != "" {
				b.WriteString(": " + row.Description)
			}
			b.WriteString("\n")
		}
	}
	for i, btn := range p.Buttons {
		b.WriteString(fmt.Sprintf("%d. %s\n", i+1, btn.Text))
	}
	if p.Footer != "" {
		b.WriteString("\n" + p.Footer)
	}
	return strings.TrimRight(b.String(), "\n")
}
