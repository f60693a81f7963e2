package domain

import (
	"database/sql/driver"
	"fmt"
	"time"

	jsoniter "github.com/json-iterator/go"
)

// Session / device statuses shared by the state machine and the API.
const (
	StatusInitializing = "initializing"
	StatusConnected    = "connected"
	StatusDisconnected = "disconnected"
	StatusFailed       = "failed"
)

// MaxMessageDelayMs bounds the per-session outbound send delay.
const MaxMessageDelayMs = 5000

// Device is one linked automation-client identity within a session. Devices
// are embedded in the session row as a JSON list, so every device mutation
// rewrites the list and is saved with the session in a single update.
type Device struct {
	DeviceID        string     `json:"deviceId"`
	Name            string     `json:"name"`
	Status          string     `json:"status"`
	Phone           string     `json:"phone,omitempty"`
	QRCode          string     `json:"qrCode,omitempty"`
	QRExpiration    *time.Time `json:"qrExpiration,omitempty"`
	FailReason      string     `json:"failReason,omitempty"`
	LastConnectedAt *time.Time `json:"lastConnectedAt,omitempty"`
	CreatedAt       time.Time  `json:"createdAt"`
	StatusUpdatedAt time.Time  `json:"statusUpdatedAt"`
}

// SetQR assigns a pairing image with its expiration; both fields move
// together.
func (d *Device) SetQR(code string, expiration time.Time) {
	d.QRCode = code
	exp := expiration
	d.QRExpiration = &exp
}

// ClearQR removes the pairing image with its expiration.
func (d *Device) ClearQR() {
	d.QRCode = ""
	d.QRExpiration = nil
}

// QRValid reports whether a non-expired pairing image is present.
func (d *Device) QRValid(now time.Time) bool {
	return d.QRCode != "" && d.QRExpiration != nil && d.QRExpiration.After(now)
}

// DeviceList is persisted as a JSON column on the session row.
type DeviceList []*Device

func (l DeviceList) Value() (driver.Value, error) {
	if l == nil {
		return "[]", nil
	}
	return jsoniter.MarshalToString(l)
}

func (l *DeviceList) Scan(value interface{}) error {
	if value == nil {
		*l = DeviceList{}
		return nil
	}
	var data []byte
	switch v := value.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("cannot scan %T into DeviceList", value)
	}
	if len(data) == 0 {
		*l = DeviceList{}
		return nil
	}
	return jsoniter.Unmarshal(data, l)
}

// Find returns the device with the given id or nil.
func (l DeviceList) Find(deviceID string) *Device {
	for _, d := range l {
		if d.DeviceID == deviceID {
			return d
		}
	}
	return nil
}

// Remove deletes the device with the given id, returning the shortened list.
func (l DeviceList) Remove(deviceID string) DeviceList {
	out := make(DeviceList, 0, len(l))
	for _, d := range l {
		if d.DeviceID != deviceID {
			out = append(out, d)
		}
	}
	return out
}

// WaSession is a logical bot endpoint hosting multiple devices.
type WaSession struct {
	ID                 int64      `json:"id,string" gorm:"primaryKey"`
	OprID              int64      `json:"opr_id,string" gorm:"index"`
	Name               string     `json:"name" gorm:"index"`
	Description        string     `json:"description"`
	Status             string     `json:"status"`
	Devices            DeviceList `json:"devices" gorm:"type:text"`
	AutoReconnect      bool       `json:"auto_reconnect"`
	MessageDelay       int        `json:"message_delay"`
	WebhookURL         string     `json:"webhook_url"`
	NotifyEmail        string     `json:"notify_email"`
	NotifyOnDisconnect bool       `json:"notify_on_disconnect"`
	LastActive         *time.Time `json:"last_active"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

func (WaSession) TableName() string {
	return "wa_session"
}

// DeriveStatus computes the session status from its devices: connected when
// any device is connected, otherwise disconnected when any device has ever
// been connected, otherwise initializing.
func (s *WaSession) DeriveStatus() string {
	everConnected := false
	for _, d := range s.Devices {
		if d.Status == StatusConnected {
			return StatusConnected
		}
		if d.LastConnectedAt != nil {
			everConnected = true
		}
	}
	if everConnected {
		return StatusDisconnected
	}
	return StatusInitializing
}

// FirstConnectedDevice returns the first device in list order with status
// connected, or nil.
func (s *WaSession) FirstConnectedDevice() *Device {
	for _, d := range s.Devices {
		if d.Status == StatusConnected {
			return d
		}
	}
	return nil
}

// ConnectedPhone returns the phone of the first connected device, if any.
func (s *WaSession) ConnectedPhone() string {
	if d := s.FirstConnectedDevice(); d != nil {
		return d.Phone
	}
	return ""
}
