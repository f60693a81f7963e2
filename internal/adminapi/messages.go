package adminapi

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
	"github.com/wagateio/wagate/internal/session"
	"github.com/wagateio/wagate/internal/wameow"
	"github.com/wagateio/wagate/internal/webserver"
	"go.uber.org/zap"
)

func registerMessageRoutes() {
	webserver.ApiPOST("/sessions/:id/send/text", postSendText)
	webserver.ApiPOST("/sessions/:id/send/list", postSendList)
	webserver.ApiPOST("/sessions/:id/send/buttons", postSendButtons)
}

func sendFail(c echo.Context, err error) error {
	switch {
	case errors.Is(err, session.ErrSessionNotFound):
		return fail(c, http.StatusNotFound, "NOT_FOUND", "Session not found", nil)
	case errors.Is(err, session.ErrSessionNotConnected):
		return fail(c, http.StatusConflict, "NOT_CONNECTED", "Session not connected", nil)
	case errors.Is(err, session.ErrNoConnectedDevice):
		return fail(c, http.StatusConflict, "NO_CONNECTED_DEVICE", "No connected device in session", nil)
	case errors.Is(err, session.ErrInconsistentRegistry):
		return fail(c, http.StatusConflict, "NO_CLIENT", "No client for device, refresh the device QR", nil)
	default:
		return fail(c, http.StatusInternalServerError, "SEND_ERROR", err.Error(), nil)
	}
}

func postSendText(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return fail(c, http.StatusBadRequest, "INVALID_ID", "Invalid session ID", nil)
	}
	var payload struct {
		To   string `json:"to" form:"to"`
		Text string `json:"text" form:"text"`
	}
	if err := c.Bind(&payload); err != nil {
		return fail(c, http.StatusBadRequest, "INVALID_REQUEST", "Unable to parse request", err.Error())
	}
	if payload.To == "" || payload.Text == "" {
		return fail(c, http.StatusBadRequest, "MISSING_FIELDS", "to and text are required", nil)
	}
	result, err := sessionSvc.SendText(c.Request().Context(), id, payload.To, payload.Text)
	if err != nil {
		zap.L().Warn("adminapi: send text failed", zap.Int64("session_id", id), zap.Error(err))
		return sendFail(c, err)
	}
	return ok(c, map[string]interface{}{"id": result.ID})
}

func postSendList(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return fail(c, http.StatusBadRequest, "INVALID_ID", "Invalid session ID", nil)
	}
	var payload struct {
		To       string               `json:"to" form:"to"`
		Title    string               `json:"title" form:"title"`
		Text     string               `json:"text" form:"text"`
		Footer   string               `json:"footer" form:"footer"`
		Sections []wameow.ListSection `json:"sections"`
	}
	if err := c.Bind(&payload); err != nil {
		return fail(c, http.StatusBadRequest, "INVALID_REQUEST", "Unable to parse request", err.Error())
	}
	if payload.To == "" || len(payload.Sections) == 0 {
		return fail(c, http.StatusBadRequest, "MISSING_FIELDS", "to and sections are required", nil)
	}
	result, err := sessionSvc.SendListMessage(c.Request().Context(), id,
		payload.To, payload.Title, payload.Text, payload.Footer, payload.Sections)
	if err != nil {
		zap.L().Warn("adminapi: send list failed", zap.Int64("session_id", id), zap.Error(err))
		return sendFail(c, err)
	}
	return ok(c, map[string]interface{}{"id": result.ID})
}

func postSendButtons(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return fail(c, http.StatusBadRequest, "INVALID_ID", "Invalid session ID", nil)
	}
	var payload struct {
		To      string          `json:"to" form:"to"`
		Text    string          `json:"text" form:"text"`
		Footer  string          `json:"footer" form:"footer"`
		Buttons []wameow.Button `json:"buttons"`
	}
	if err := c.Bind(&payload); err != nil {
		return fail(c, http.StatusBadRequest, "INVALID_REQUEST", "Unable to parse request", err.Error())
	}
	if payload.To == "" || len(payload.Buttons) == 0 {
		return fail(c, http.StatusBadRequest, "MISSING_FIELDS", "to and buttons are required", nil)
	}
	result, err := sessionSvc.SendButtonMessage(c.Request().Context(), id,
		payload.To, payload.Text, payload.Footer, payload.Buttons)
	if err != nil {
		zap.L().Warn("adminapi: send buttons failed", zap.Int64("session_id", id), zap.Error(err))
		return sendFail(c, err)
	}
	return ok(c, map[string]interface{}{"id": result.ID})
}
