// Package qrimg renders pairing codes into displayable PNG data URLs.
package qrimg

import (
	"encoding/base64"
	"image/color"

	jsoniter "github.com/json-iterator/go"
	qrcode "github.com/skip2/go-qrcode"
)

const defaultSize = 256

// DataURL renders a raw pairing string into a PNG data URL suitable for an
// <img> tag.
func DataURL(code string) (string, error) {
	png, err := qrcode.Encode(code, qrcode.Medium, defaultSize)
	if err != nil {
		return "", err
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(png), nil
}

// FallbackPayload is encoded into the fallback image when no pairing code
// arrived in time. Scanners see the error instead of a dead code.
type FallbackPayload struct {
	Error     string `json:"error"`
	SessionID string `json:"sessionId"`
	DeviceID  string `json:"deviceId"`
	Timestamp int64  `json:"timestamp"`
}

// FallbackDataURL renders a red error QR encoding the payload. It never
// fails: on encode errors a 1x1 transparent PNG data URL is returned so the
// caller always has a displayable artifact.
func FallbackDataURL(payload FallbackPayload) string {
	body, err := jsoniter.MarshalToString(payload)
	if err != nil {
		body = `{"error":"` + payload.Error + `"}`
	}
	q, err := qrcode.New(body, qrcode.High)
	if err != nil {
		return emptyPixel
	}
	q.ForegroundColor = color.RGBA{R: 0xcc, G: 0x22, B: 0x22, A: 0xff}
	q.BackgroundColor = color.White
	png, err := q.PNG(defaultSize)
	if err != nil {
		return emptyPixel
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(png)
}

const emptyPixel = "data:image/png;base64,iVBORw0KGgoAAAANSUhEUgAAAAEAAAABCAYAAAAfFcSJAAAADUlEQVR42mNk+M9QDwADhgGAWjR9awAAAABJRU5ErkJggg=="
