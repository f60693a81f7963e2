package domain

import "time"

// ChatLog records one inbound or outbound message routed through a session
// device. Rows are written by the chatlog recorder from normalized adapter
// events.
type ChatLog struct {
	ID        int64     `json:"id,string" gorm:"primaryKey"`
	SessionID int64     `json:"session_id,string" gorm:"index" csv:"session_id"`
	DeviceID  string    `json:"device_id" gorm:"index" csv:"device_id"`
	MsgID     string    `json:"msg_id" csv:"msg_id"`
	Direction string    `json:"direction" csv:"direction"` // in or out
	Peer      string    `json:"peer" gorm:"index" csv:"peer"`
	Content   string    `json:"content" csv:"content"`
	MsgTime   time.Time `json:"msg_time" gorm:"index" csv:"msg_time"`
	CreatedAt time.Time `json:"created_at" csv:"-"`
}

// TableName Specify table name
func (ChatLog) TableName() string {
	return "chat_log"
}
