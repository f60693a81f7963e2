package adminapi

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
	"github.com/wagateio/wagate/internal/session"
	"github.com/wagateio/wagate/internal/webserver"
	"go.uber.org/zap"
)

func registerDeviceRoutes() {
	webserver.ApiGET("/sessions/:id/devices", listSessionDevices)
	webserver.ApiPOST("/sessions/:id/devices", postAddDevice)
	webserver.ApiGET("/sessions/:id/devices/:deviceId/qr", getDeviceQR)
	webserver.ApiPOST("/sessions/:id/devices/:deviceId/refresh", postRefreshDeviceQR)
	webserver.ApiPOST("/sessions/:id/devices/:deviceId/logout", postLogoutDevice)
	webserver.ApiDELETE("/sessions/:id/devices/:deviceId", deleteDevice)
}

func deviceFail(c echo.Context, err error) error {
	switch {
	case errors.Is(err, session.ErrSessionNotFound):
		return fail(c, http.StatusNotFound, "NOT_FOUND", "Session not found", nil)
	case errors.Is(err, session.ErrDeviceNotFound):
		return fail(c, http.StatusNotFound, "NOT_FOUND", "Device not found", nil)
	case errors.Is(err, session.ErrInvalidState):
		return fail(c, http.StatusConflict, "INVALID_STATE", err.Error(), nil)
	default:
		return fail(c, http.StatusInternalServerError, "DEVICE_ERROR", err.Error(), nil)
	}
}

func listSessionDevices(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return fail(c, http.StatusBadRequest, "INVALID_ID", "Invalid session ID", nil)
	}
	devices, err := sessionSvc.GetSessionDevices(c.Request().Context(), id)
	if err != nil {
		return deviceFail(c, err)
	}
	return ok(c, devices)
}

func postAddDevice(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return fail(c, http.StatusBadRequest, "INVALID_ID", "Invalid session ID", nil)
	}
	var payload struct {
		Name string `json:"name" form:"name"`
	}
	if err := c.Bind(&payload); err != nil {
		return fail(c, http.StatusBadRequest, "INVALID_REQUEST", "Unable to parse request", err.Error())
	}
	if payload.Name == "" {
		return fail(c, http.StatusBadRequest, "MISSING_FIELDS", "name is required", nil)
	}
	device, err := sessionSvc.AddDevice(c.Request().Context(), id, payload.Name)
	if err != nil {
		zap.L().Warn("adminapi: add device failed", zap.Int64("session_id", id), zap.Error(err))
		return deviceFail(c, err)
	}
	return ok(c, device)
}

func getDeviceQR(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return fail(c, http.StatusBadRequest, "INVALID_ID", "Invalid session ID", nil)
	}
	device, err := sessionSvc.GetOrRefreshQR(c.Request().Context(), id, c.Param("deviceId"))
	if err != nil {
		return deviceFail(c, err)
	}
	return ok(c, map[string]interface{}{
		"device_id":     device.DeviceID,
		"status":        device.Status,
		"qr_code":       device.QRCode,
		"qr_expiration": device.QRExpiration,
	})
}

func postRefreshDeviceQR(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return fail(c, http.StatusBadRequest, "INVALID_ID", "Invalid session ID", nil)
	}
	device, err := sessionSvc.RefreshQR(c.Request().Context(), id, c.Param("deviceId"))
	if err != nil {
		return deviceFail(c, err)
	}
	return ok(c, map[string]interface{}{
		"device_id":     device.DeviceID,
		"status":        device.Status,
		"qr_code":       device.QRCode,
		"qr_expiration": device.QRExpiration,
	})
}

func postLogoutDevice(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return fail(c, http.StatusBadRequest, "INVALID_ID", "Invalid session ID", nil)
	}
	if err := sessionSvc.LogoutDevice(c.Request().Context(), id, c.Param("deviceId")); err != nil {
		return deviceFail(c, err)
	}
	return ok(c, map[string]interface{}{"logged_out": true})
}

func deleteDevice(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return fail(c, http.StatusBadRequest, "INVALID_ID", "Invalid session ID", nil)
	}
	if err := sessionSvc.RemoveDevice(c.Request().Context(), id, c.Param("deviceId")); err != nil {
		return deviceFail(c, err)
	}
	return ok(c, map[string]interface{}{"removed": true})
}
