package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeviceListRoundTrip(t *testing.T) {
	now := time.Now().Truncate(time.Second)
	exp := now.Add(5 * time.Minute)
	list := DeviceList{
		{DeviceID: "dev-1", Name: "first", Status: StatusInitializing, QRCode: "data:image/png;base64,abc", QRExpiration: &exp},
		{DeviceID: "dev-2", Name: "second", Status: StatusConnected, Phone: "628123", LastConnectedAt: &now},
	}

	raw, err := list.Value()
	require.NoError(t, err)

	var decoded DeviceList
	require.NoError(t, decoded.Scan(raw))
	require.Len(t, decoded, 2)
	assert.Equal(t, "dev-1", decoded[0].DeviceID)
	assert.Equal(t, "628123", decoded[1].Phone)
	require.NotNil(t, decoded[0].QRExpiration)
	assert.True(t, decoded[0].QRExpiration.Equal(exp))
}

func TestDeviceListScanEmpty(t *testing.T) {
	var l DeviceList
	require.NoError(t, l.Scan(nil))
	assert.Empty(t, l)
	require.NoError(t, l.Scan(""))
	assert.Empty(t, l)
	assert.Error(t, l.Scan(42))
}

func TestDeviceListFindRemove(t *testing.T) {
	list := DeviceList{{DeviceID: "a"}, {DeviceID: "b"}}
	assert.NotNil(t, list.Find("a"))
	assert.Nil(t, list.Find("missing"))

	shorter := list.Remove("a")
	assert.Len(t, shorter, 1)
	assert.Nil(t, shorter.Find("a"))
	assert.Len(t, list.Remove("missing"), 2)
}

func TestDeviceQRFields(t *testing.T) {
	d := &Device{DeviceID: "a"}
	now := time.Now()

	assert.False(t, d.QRValid(now))
	d.SetQR("img", now.Add(time.Minute))
	assert.True(t, d.QRValid(now))
	assert.False(t, d.QRValid(now.Add(2*time.Minute)))

	d.ClearQR()
	assert.Empty(t, d.QRCode)
	assert.Nil(t, d.QRExpiration)
	assert.False(t, d.QRValid(now))
}

func TestDeriveStatus(t *testing.T) {
	now := time.Now()
	cases := []struct {
		name    string
		devices DeviceList
		want    string
	}{
		{"no devices", DeviceList{}, StatusInitializing},
		{"only initializing", DeviceList{{Status: StatusInitializing}}, StatusInitializing},
		{"one connected wins", DeviceList{{Status: StatusInitializing}, {Status: StatusConnected}}, StatusConnected},
		{"disconnected after connect", DeviceList{{Status: StatusDisconnected, LastConnectedAt: &now}}, StatusDisconnected},
		{"disconnected before first connect", DeviceList{{Status: StatusDisconnected}}, StatusInitializing},
		{"initializing but previously connected", DeviceList{{Status: StatusInitializing, LastConnectedAt: &now}}, StatusDisconnected},
		{"failed never connected", DeviceList{{Status: StatusFailed}}, StatusInitializing},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := &WaSession{Devices: tc.devices}
			assert.Equal(t, tc.want, s.DeriveStatus())
		})
	}
}

func TestFirstConnectedDevice(t *testing.T) {
	s := &WaSession{Devices: DeviceList{
		{DeviceID: "a", Status: StatusDisconnected},
		{DeviceID: "b", Status: StatusConnected, Phone: "628001"},
		{DeviceID: "c", Status: StatusConnected, Phone: "628002"},
	}}
	d := s.FirstConnectedDevice()
	require.NotNil(t, d)
	assert.Equal(t, "b", d.DeviceID)
	assert.Equal(t, "628001", s.ConnectedPhone())

	empty := &WaSession{}
	assert.Nil(t, empty.FirstConnectedDevice())
	assert.Empty(t, empty.ConnectedPhone())
}
