package adminapi

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
	"github.com/wagateio/wagate/internal/domain"
	"github.com/wagateio/wagate/internal/webserver"
	"github.com/wagateio/wagate/pkg/common"
	"gorm.io/gorm"
)

func registerOperatorRoutes() {
	webserver.ApiGET("/operators", listOperators)
	webserver.ApiPOST("/operators", createOperator)
	webserver.ApiGET("/operators/:id", getOperator)
	webserver.ApiPUT("/operators/:id", updateOperator)
	webserver.ApiDELETE("/operators/:id", deleteOperator)
}

func listOperators(c echo.Context) error {
	page, pageSize := parsePagination(c)
	db := GetDB(c).Model(&domain.SysOpr{})

	if q := strings.TrimSpace(c.QueryParam("q")); q != "" {
		like := "%" + strings.ToLower(q) + "%"
		db = db.Where("LOWER(username) LIKE ? OR LOWER(realname) LIKE ? OR LOWER(email) LIKE ?", like, like, like)
	}

	var total int64
	if err := db.Count(&total).Error; err != nil {
		return fail(c, http.StatusInternalServerError, "DATABASE_ERROR", "Failed to query operators", err.Error())
	}

	var oprs []domain.SysOpr
	if err := db.Order("id DESC").Offset((page - 1) * pageSize).Limit(pageSize).Find(&oprs).Error; err != nil {
		return fail(c, http.StatusInternalServerError, "DATABASE_ERROR", "Failed to query operators", err.Error())
	}
	return paged(c, oprs, total, page, pageSize)
}

func getOperator(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return fail(c, http.StatusBadRequest, "INVALID_ID", "Invalid operator ID", nil)
	}
	var opr domain.SysOpr
	if err := GetDB(c).Where("id = ?", id).First(&opr).Error; err != nil {
		return fail(c, http.StatusNotFound, "NOT_FOUND", "Operator not found", nil)
	}
	return ok(c, opr)
}

type operatorForm struct {
	Realname string `json:"realname" form:"realname"`
	Mobile   string `json:"mobile" form:"mobile"`
	Email    string `json:"email" form:"email"`
	Username string `json:"username" form:"username"`
	Password string `json:"password" form:"password"`
	Level    string `json:"level" form:"level"`
	Status   string `json:"status" form:"status"`
	Remark   string `json:"remark" form:"remark"`
}

func createOperator(c echo.Context) error {
	var form operatorForm
	if err := c.Bind(&form); err != nil {
		return fail(c, http.StatusBadRequest, "INVALID_REQUEST", "Unable to parse request", err.Error())
	}
	form.Username = strings.TrimSpace(form.Username)
	if form.Username == "" || form.Password == "" {
		return fail(c, http.StatusBadRequest, "MISSING_FIELDS", "username and password are required", nil)
	}

	var exists int64
	GetDB(c).Model(&domain.SysOpr{}).Where("username = ?", form.Username).Count(&exists)
	if exists > 0 {
		return fail(c, http.StatusConflict, "DUPLICATE", "Username already exists", nil)
	}

	hashed, err := common.HashPassword(form.Password)
	if err != nil {
		return fail(c, http.StatusInternalServerError, "HASH_ERROR", "Failed to hash password", err.Error())
	}
	if form.Level == "" {
		form.Level = "opr"
	}
	if form.Status == "" {
		form.Status = common.ENABLED
	}

	opr := domain.SysOpr{
		ID:       common.UUIDint64(),
		Realname: form.Realname,
		Mobile:   form.Mobile,
		Email:    form.Email,
		Username: form.Username,
		Password: hashed,
		Level:    form.Level,
		Status:   form.Status,
		Remark:   form.Remark,
	}
	if err := GetDB(c).Create(&opr).Error; err != nil {
		return fail(c, http.StatusInternalServerError, "DATABASE_ERROR", "Failed to create operator", err.Error())
	}
	return ok(c, opr)
}

func updateOperator(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return fail(c, http.StatusBadRequest, "INVALID_ID", "Invalid operator ID", nil)
	}
	var opr domain.SysOpr
	if err := GetDB(c).Where("id = ?", id).First(&opr).Error; errors.Is(err, gorm.ErrRecordNotFound) {
		return fail(c, http.StatusNotFound, "NOT_FOUND", "Operator not found", nil)
	} else if err != nil {
		return fail(c, http.StatusInternalServerError, "DATABASE_ERROR", "Failed to query operator", err.Error())
	}

	var form operatorForm
	if err := c.Bind(&form); err != nil {
		return fail(c, http.StatusBadRequest, "INVALID_REQUEST", "Unable to parse request", err.Error())
	}

	opr.Realname = form.Realname
	opr.Mobile = form.Mobile
	opr.Email = form.Email
	if form.Level != "" {
		opr.Level = form.Level
	}
	if form.Status != "" {
		opr.Status = form.Status
	}
	opr.Remark = form.Remark
	if form.Password != "" {
		hashed, err := common.HashPassword(form.Password)
		if err != nil {
			return fail(c, http.StatusInternalServerError, "HASH_ERROR", "Failed to hash password", err.Error())
		}
		opr.Password = hashed
	}

	if err := GetDB(c).Save(&opr).Error; err != nil {
		return fail(c, http.StatusInternalServerError, "DATABASE_ERROR", "Failed to update operator", err.Error())
	}
	return ok(c, opr)
}

func deleteOperator(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return fail(c, http.StatusBadRequest, "INVALID_ID", "Invalid operator ID", nil)
	}
	var opr domain.SysOpr
	if err := GetDB(c).Where("id = ?", id).First(&opr).Error; errors.Is(err, gorm.ErrRecordNotFound) {
		return fail(c, http.StatusNotFound, "NOT_FOUND", "Operator not found", nil)
	}
	if strings.EqualFold(opr.Level, "super") {
		return fail(c, http.StatusForbidden, "FORBIDDEN", "Super operator cannot be deleted", nil)
	}
	if err := GetDB(c).Delete(&domain.SysOpr{}, id).Error; err != nil {
		return fail(c, http.StatusInternalServerError, "DATABASE_ERROR", "Failed to delete operator", err.Error())
	}
	return ok(c, map[string]interface{}{"deleted": true})
}
