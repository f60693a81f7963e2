// Package adminapi implements the admin REST handlers.
package adminapi

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/wagateio/wagate/internal/app"
	"github.com/wagateio/wagate/internal/chatlog"
	"github.com/wagateio/wagate/internal/session"
	"github.com/wagateio/wagate/internal/webserver"
	"gorm.io/gorm"
)

var (
	appCtx     app.AppContext
	sessionSvc *session.Service
	recorder   *chatlog.Recorder
)

// Init wires handler dependencies and registers every route.
func Init(a app.AppContext, svc *session.Service, rec *chatlog.Recorder) {
	appCtx = a
	sessionSvc = svc
	recorder = rec

	registerLoginRoutes()
	registerOperatorRoutes()
	registerContactRoutes()
	registerSessionRoutes()
	registerDeviceRoutes()
	registerMessageRoutes()
	registerChatlogRoutes()
}

// GetDB extracts the request database handle.
func GetDB(c echo.Context) *gorm.DB {
	return webserver.GetDB(c)
}

func ok(c echo.Context, data interface{}) error {
	return c.JSON(http.StatusOK, map[string]interface{}{
		"code": 0,
		"msg":  "success",
		"data": data,
	})
}

func fail(c echo.Context, status int, code, msg string, detail interface{}) error {
	return c.JSON(status, map[string]interface{}{
		"code":   status,
		"error":  code,
		"msg":    msg,
		"detail": detail,
	})
}

func paged(c echo.Context, items interface{}, total int64, page, pageSize int) error {
	return c.JSON(http.StatusOK, map[string]interface{}{
		"code":      0,
		"msg":       "success",
		"data":      items,
		"total":     total,
		"page":      page,
		"page_size": pageSize,
	})
}

func parsePagination(c echo.Context) (int, int) {
	page, _ := strconv.Atoi(c.QueryParam("page"))
	if page < 1 {
		page = 1
	}
	pageSize, _ := strconv.Atoi(c.QueryParam("page_size"))
	if pageSize < 1 || pageSize > 500 {
		pageSize = 20
	}
	return page, pageSize
}

func parseID(c echo.Context, name string) (int64, error) {
	return strconv.ParseInt(strings.TrimSpace(c.Param(name)), 10, 64)
}
