package qrimg

import (
	"encoding/base64"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDataURL(t *testing.T) {
	url, err := DataURL("2@pairing-code-payload")
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(url, "data:image/png;base64,"))

	raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(url, "data:image/png;base64,"))
	require.NoError(t, err)
	assert.Equal(t, "\x89PNG", string(raw[:4]))
}

func TestFallbackDataURLAlwaysRenders(t *testing.T) {
	url := FallbackDataURL(FallbackPayload{
		Error:     "qr_timeout",
		SessionID: "100",
		DeviceID:  "dev-1",
		Timestamp: 1700000000,
	})
	require.True(t, strings.HasPrefix(url, "data:image/png;base64,"))

	raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(url, "data:image/png;base64,"))
	require.NoError(t, err)
	assert.Equal(t, "\x89PNG", string(raw[:4]))
}

func TestFallbackDataURLEmptyPayload(t *testing.T) {
	url := FallbackDataURL(FallbackPayload{})
	assert.True(t, strings.HasPrefix(url, "data:image/png;base64,"))
}
