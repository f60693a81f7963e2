package adminapi

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
	"github.com/wagateio/wagate/internal/chatlog"
	"github.com/wagateio/wagate/internal/domain"
	"github.com/wagateio/wagate/internal/webserver"
	"github.com/wagateio/wagate/pkg/common"
	"gorm.io/gorm"
)

func registerContactRoutes() {
	webserver.ApiGET("/contacts", listContacts)
	webserver.ApiGET("/contacts/:id", getContact)
	webserver.ApiPOST("/contacts", createContact)
	webserver.ApiPUT("/contacts/:id", updateContact)
	webserver.ApiDELETE("/contacts/:id", deleteContact)
	webserver.ApiGET("/contacts/:id/chatlogs", listContactChatLogs)
}

func listContacts(c echo.Context) error {
	page, pageSize := parsePagination(c)
	db := GetDB(c).Model(&domain.SysPartner{})

	if q := strings.TrimSpace(c.QueryParam("q")); q != "" {
		like := "%" + strings.ToLower(q) + "%"
		db = db.Where("LOWER(name) LIKE ? OR LOWER(company) LIKE ? OR phone LIKE ?", like, like, like)
	}

	var total int64
	if err := db.Count(&total).Error; err != nil {
		return fail(c, http.StatusInternalServerError, "DATABASE_ERROR", "Failed to query contacts", err.Error())
	}

	var contacts []domain.SysPartner
	if err := db.Order("id DESC").Offset((page - 1) * pageSize).Limit(pageSize).Find(&contacts).Error; err != nil {
		return fail(c, http.StatusInternalServerError, "DATABASE_ERROR", "Failed to query contacts", err.Error())
	}
	return paged(c, contacts, total, page, pageSize)
}

func getContact(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return fail(c, http.StatusBadRequest, "INVALID_ID", "Invalid contact ID", nil)
	}
	var p domain.SysPartner
	if err := GetDB(c).Where("id = ?", id).First(&p).Error; errors.Is(err, gorm.ErrRecordNotFound) {
		return fail(c, http.StatusNotFound, "NOT_FOUND", "Contact not found", nil)
	} else if err != nil {
		return fail(c, http.StatusInternalServerError, "DATABASE_ERROR", "Failed to query contact", err.Error())
	}
	return ok(c, p)
}

type contactForm struct {
	Name    string `json:"name" form:"name"`
	Company string `json:"company" form:"company"`
	Email   string `json:"email" form:"email"`
	Mobile  string `json:"mobile" form:"mobile"`
	Phone   string `json:"phone" form:"phone"`
	Remark  string `json:"remark" form:"remark"`
}

func createContact(c echo.Context) error {
	var form contactForm
	if err := c.Bind(&form); err != nil {
		return fail(c, http.StatusBadRequest, "INVALID_REQUEST", "Unable to parse request", err.Error())
	}
	form.Name = strings.TrimSpace(form.Name)
	if form.Name == "" || form.Phone == "" {
		return fail(c, http.StatusBadRequest, "MISSING_FIELDS", "name and phone are required", nil)
	}

	var exists int64
	GetDB(c).Model(&domain.SysPartner{}).Where("phone = ?", form.Phone).Count(&exists)
	if exists > 0 {
		return fail(c, http.StatusConflict, "DUPLICATE", "Contact with this phone already exists", nil)
	}

	p := domain.SysPartner{
		ID:      common.UUIDint64(),
		Name:    form.Name,
		Company: form.Company,
		Email:   form.Email,
		Mobile:  form.Mobile,
		Phone:   form.Phone,
		Remark:  form.Remark,
	}
	if err := GetDB(c).Create(&p).Error; err != nil {
		return fail(c, http.StatusInternalServerError, "DATABASE_ERROR", "Failed to create contact", err.Error())
	}
	return ok(c, p)
}

func updateContact(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return fail(c, http.StatusBadRequest, "INVALID_ID", "Invalid contact ID", nil)
	}
	var p domain.SysPartner
	if err := GetDB(c).Where("id = ?", id).First(&p).Error; errors.Is(err, gorm.ErrRecordNotFound) {
		return fail(c, http.StatusNotFound, "NOT_FOUND", "Contact not found", nil)
	} else if err != nil {
		return fail(c, http.StatusInternalServerError, "DATABASE_ERROR", "Failed to query contact", err.Error())
	}

	var form contactForm
	if err := c.Bind(&form); err != nil {
		return fail(c, http.StatusBadRequest, "INVALID_REQUEST", "Unable to parse request", err.Error())
	}
	if form.Phone != "" && form.Phone != p.Phone {
		var dup int64
		GetDB(c).Model(&domain.SysPartner{}).Where("phone = ? AND id != ?", form.Phone, id).Count(&dup)
		if dup > 0 {
			return fail(c, http.StatusConflict, "DUPLICATE", "Another contact with this phone already exists", nil)
		}
		p.Phone = form.Phone
	}
	if form.Name != "" {
		p.Name = strings.TrimSpace(form.Name)
	}
	p.Company = form.Company
	p.Email = form.Email
	p.Mobile = form.Mobile
	p.Remark = form.Remark

	if err := GetDB(c).Save(&p).Error; err != nil {
		return fail(c, http.StatusInternalServerError, "DATABASE_ERROR", "Failed to update contact", err.Error())
	}
	return ok(c, p)
}

func deleteContact(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return fail(c, http.StatusBadRequest, "INVALID_ID", "Invalid contact ID", nil)
	}
	if err := GetDB(c).Where("id = ?", id).Delete(&domain.SysPartner{}).Error; err != nil {
		return fail(c, http.StatusInternalServerError, "DATABASE_ERROR", "Failed to delete contact", err.Error())
	}
	return ok(c, map[string]interface{}{"deleted": true})
}

// listContactChatLogs returns conversation history for a contact's phone
// across all sessions, newest first.
func listContactChatLogs(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return fail(c, http.StatusBadRequest, "INVALID_ID", "Invalid contact ID", nil)
	}
	var p domain.SysPartner
	if err := GetDB(c).Where("id = ?", id).First(&p).Error; errors.Is(err, gorm.ErrRecordNotFound) {
		return fail(c, http.StatusNotFound, "NOT_FOUND", "Contact not found", nil)
	} else if err != nil {
		return fail(c, http.StatusInternalServerError, "DATABASE_ERROR", "Failed to query contact", err.Error())
	}

	page, pageSize := parsePagination(c)
	logs, total, err := recorder.ListLogs(c.Request().Context(), chatlog.Query{
		Peer:     p.Phone,
		From:     c.QueryParam("from"),
		To:       c.QueryParam("to"),
		Page:     page,
		PageSize: pageSize,
	})
	if err != nil {
		return fail(c, http.StatusInternalServerError, "DATABASE_ERROR", "Failed to query chat logs", err.Error())
	}
	return paged(c, logs, total, page, pageSize)
}
