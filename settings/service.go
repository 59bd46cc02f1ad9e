// Package settings serves the accounting-profile and vendor-bill endpoints:
// the per-user settings row with its logical card groups, and minimal CRUD
// over payables.
package settings

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/schatrath100/junyper/apperr"
	"github.com/schatrath100/junyper/models"
)

type Service struct {
	Db     *gorm.DB
	Logger *logrus.Logger
}

// GetSettings returns the caller's settings row, 404 when none exists yet.
func (s *Service) GetSettings(c *gin.Context) {
	userID := c.Query("user_id")
	if userID == "" {
		e := apperr.MissingField("user_id")
		c.JSON(e.Status, apperr.Payload(e))
		return
	}

	settings, err := models.GetSettings(userID, s.Db)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			e := apperr.NotFound("settings")
			c.JSON(e.Status, apperr.Payload(e))
			return
		}
		e := apperr.Wrap(err, apperr.ErrDatabase, "")
		c.JSON(e.Status, apperr.Payload(e))
		return
	}
	c.JSON(http.StatusOK, settings)
}

type saveSettingsRequest struct {
	Card string `json:"card"`
	models.AccountingSettings
}

// SaveSettings upserts the settings row keyed on user. When card names a
// logical group ("business_profile", "chart_of_accounts") only that group's
// columns are written; the sibling card is left intact.
func (s *Service) SaveSettings(c *gin.Context) {
	var req saveSettingsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		e := apperr.FromBinding(err)
		c.JSON(e.Status, apperr.Payload(e))
		return
	}
	if req.UserID == "" {
		e := apperr.MissingField("user_id")
		c.JSON(e.Status, apperr.Payload(e))
		return
	}
	if req.Card != "" && !models.SettingsCard(req.Card) {
		e := apperr.Wrap(errors.New("unknown settings card"), apperr.ErrValidation, "unknown settings card: "+req.Card)
		c.JSON(e.Status, apperr.Payload(e))
		return
	}

	row := req.AccountingSettings
	if err := row.Upsert(req.Card, s.Db); err != nil {
		e := apperr.Wrap(err, apperr.ErrDatabase, "unable to store the settings")
		c.JSON(e.Status, apperr.Payload(e))
		return
	}

	stored, err := models.GetSettings(req.UserID, s.Db)
	if err != nil {
		e := apperr.Wrap(err, apperr.ErrDatabase, "")
		c.JSON(e.Status, apperr.Payload(e))
		return
	}
	c.JSON(http.StatusOK, stored)
}

type billRequest struct {
	ID uint `json:"id"`
	models.VendorBill
}

// SaveBill creates a bill, or updates an existing one when id is set.
func (s *Service) SaveBill(c *gin.Context) {
	var req billRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		e := apperr.FromBinding(err)
		c.JSON(e.Status, apperr.Payload(e))
		return
	}
	if req.UserID == "" {
		e := apperr.MissingField("user_id")
		c.JSON(e.Status, apperr.Payload(e))
		return
	}
	if req.VendorName == "" {
		e := apperr.MissingField("vendor_name")
		c.JSON(e.Status, apperr.Payload(e))
		return
	}

	bill := req.VendorBill
	bill.ID = req.ID
	if bill.Status == "" {
		bill.Status = "open"
	}
	if bill.ID != 0 {
		// Updating: the bill must exist and belong to the caller.
		var existing models.VendorBill
		if err := s.Db.First(&existing, "id = ? AND user_id = ?", bill.ID, req.UserID).Error; err != nil {
			e := apperr.NotFound("bill")
			c.JSON(e.Status, apperr.Payload(e))
			return
		}
	}
	if err := bill.Upsert(s.Db); err != nil {
		e := apperr.Wrap(err, apperr.ErrDatabase, "unable to store the bill")
		c.JSON(e.Status, apperr.Payload(e))
		return
	}

	var stored models.VendorBill
	if err := s.Db.First(&stored, "id = ?", bill.ID).Error; err == nil {
		bill = stored
	}
	c.JSON(http.StatusOK, bill)
}

// ListBills returns the user's bills, newest first, optionally filtered by
// status via ?status=.
func (s *Service) ListBills(c *gin.Context) {
	userID := c.Query("user_id")
	if userID == "" {
		e := apperr.MissingField("user_id")
		c.JSON(e.Status, apperr.Payload(e))
		return
	}

	bills, err := models.ListBills(userID, c.Query("status"), s.Db)
	if err != nil {
		e := apperr.Wrap(err, apperr.ErrDatabase, "")
		c.JSON(e.Status, apperr.Payload(e))
		return
	}
	c.JSON(http.StatusOK, gin.H{"bills": bills})
}
