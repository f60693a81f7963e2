package adminapi

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
	"github.com/wagateio/wagate/internal/session"
	"github.com/wagateio/wagate/internal/webserver"
	"go.uber.org/zap"
)

func registerSessionRoutes() {
	webserver.ApiGET("/sessions", listSessions)
	webserver.ApiPOST("/sessions", createSession)
	webserver.ApiGET("/sessions/:id", getSession)
	webserver.ApiPUT("/sessions/:id", updateSession)
	webserver.ApiDELETE("/sessions/:id", deleteSession)
}

func listSessions(c echo.Context) error {
	sessions, err := sessionSvc.ListSessions(c.Request().Context(), 0)
	if err != nil {
		return fail(c, http.StatusInternalServerError, "DATABASE_ERROR", "Failed to query sessions", err.Error())
	}
	return ok(c, sessions)
}

func createSession(c echo.Context) error {
	var form session.CreateSessionForm
	if err := c.Bind(&form); err != nil {
		return fail(c, http.StatusBadRequest, "INVALID_REQUEST", "Unable to parse request", err.Error())
	}
	if form.Name == "" {
		return fail(c, http.StatusBadRequest, "MISSING_FIELDS", "name is required", nil)
	}
	sess, err := sessionSvc.CreateSession(c.Request().Context(), currentOprID(c), form)
	if err != nil {
		return fail(c, http.StatusInternalServerError, "DATABASE_ERROR", "Failed to create session", err.Error())
	}
	zap.L().Info("adminapi: session created", zap.Int64("session_id", sess.ID))
	return ok(c, sess)
}

func getSession(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return fail(c, http.StatusBadRequest, "INVALID_ID", "Invalid session ID", nil)
	}
	sess, err := sessionSvc.GetSession(c.Request().Context(), id)
	if errors.Is(err, session.ErrSessionNotFound) {
		return fail(c, http.StatusNotFound, "NOT_FOUND", "Session not found", nil)
	}
	if err != nil {
		return fail(c, http.StatusInternalServerError, "DATABASE_ERROR", "Failed to query session", err.Error())
	}
	return ok(c, sess)
}

func updateSession(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return fail(c, http.StatusBadRequest, "INVALID_ID", "Invalid session ID", nil)
	}
	var form session.CreateSessionForm
	if err := c.Bind(&form); err != nil {
		return fail(c, http.StatusBadRequest, "INVALID_REQUEST", "Unable to parse request", err.Error())
	}
	sess, err := sessionSvc.UpdateSession(c.Request().Context(), id, form)
	if errors.Is(err, session.ErrSessionNotFound) {
		return fail(c, http.StatusNotFound, "NOT_FOUND", "Session not found", nil)
	}
	if err != nil {
		return fail(c, http.StatusInternalServerError, "DATABASE_ERROR", "Failed to update session", err.Error())
	}
	return ok(c, sess)
}

func deleteSession(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return fail(c, http.StatusBadRequest, "INVALID_ID", "Invalid session ID", nil)
	}
	err = sessionSvc.DeleteSession(c.Request().Context(), id)
	if errors.Is(err, session.ErrSessionNotFound) {
		return fail(c, http.StatusNotFound, "NOT_FOUND", "Session not found", nil)
	}
	if err != nil {
		return fail(c, http.StatusInternalServerError, "DATABASE_ERROR", "Failed to delete session", err.Error())
	}
	return ok(c, map[string]interface{}{"deleted": true})
}
