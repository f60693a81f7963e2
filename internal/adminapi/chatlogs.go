package adminapi

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/wagateio/wagate/internal/chatlog"
	"github.com/wagateio/wagate/internal/webserver"
)

func registerChatlogRoutes() {
	webserver.ApiGET("/chatlogs", listChatLogs)
	webserver.ApiGET("/chatlogs/export", exportChatLogs)
}

func chatlogQuery(c echo.Context) chatlog.Query {
	sessionID, _ := strconv.ParseInt(c.QueryParam("session_id"), 10, 64)
	page, pageSize := parsePagination(c)
	return chatlog.Query{
		SessionID: sessionID,
		Peer:      c.QueryParam("peer"),
		From:      c.QueryParam("from"),
		To:        c.QueryParam("to"),
		Page:      page,
		PageSize:  pageSize,
	}
}

func listChatLogs(c echo.Context) error {
	q := chatlogQuery(c)
	logs, total, err := recorder.ListLogs(c.Request().Context(), q)
	if err != nil {
		return fail(c, http.StatusInternalServerError, "DATABASE_ERROR", "Failed to query chat logs", err.Error())
	}
	return paged(c, logs, total, q.Page, q.PageSize)
}

func exportChatLogs(c echo.Context) error {
	q := chatlogQuery(c)
	csv, err := recorder.ExportCSV(c.Request().Context(), q)
	if err != nil {
		return fail(c, http.StatusInternalServerError, "EXPORT_ERROR", "Failed to export chat logs", err.Error())
	}
	c.Response().Header().Set(echo.HeaderContentDisposition, `attachment; filename="chatlogs.csv"`)
	return c.Blob(http.StatusOK, "text/csv", []byte(csv))
}
