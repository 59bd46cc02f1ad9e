// Package banking holds the handlers behind junyper's bank-data features:
// linking an institution through the aggregation widget, exchanging the
// widget's public token, refreshing live account views and importing
// transactions.
package banking

import (
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v7"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/schatrath100/junyper/apperr"
	"github.com/schatrath100/junyper/config"
	"github.com/schatrath100/junyper/models"
	"github.com/schatrath100/junyper/plaid"
)

// Service carries the dependencies every banking handler needs. A zero Clock
// means wall-clock time.
type Service struct {
	Db     *gorm.DB
	Redis  *redis.Client
	Logger *logrus.Logger
	Config config.Config
	Plaid  *plaid.Client
	Clock  Clock
}

func (s *Service) now() time.Time {
	if s.Clock != nil {
		return s.Clock.Now()
	}
	return time.Now()
}

type linkTokenRequest struct {
	UserID string `json:"user_id" binding:"required"`
}

// CreateLinkToken requests a single-use connection token for the browser
// widget and returns the aggregator's payload verbatim.
func (s *Service) CreateLinkToken(c *gin.Context) {
	var req linkTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		e := apperr.FromBinding(err)
		c.JSON(e.Status, apperr.Payload(e))
		return
	}

	res, err := s.Plaid.CreateLinkToken(c.Request.Context(), req.UserID, "Junyper", s.Config.CountryCodes, s.Config.Language)
	if err != nil {
		e := apperr.Wrap(err, apperr.ErrUpstream, upstreamMessage(err))
		c.JSON(e.Status, apperr.Payload(e))
		return
	}
	c.JSON(http.StatusOK, res)
}

type exchangeRequest struct {
	PublicToken     string `json:"public_token" binding:"required"`
	UserID          string `json:"user_id" binding:"required"`
	InstitutionName string `json:"institution_name" binding:"required"`
}

// ExchangeToken swaps the widget's temporary token for a durable credential
// and stores the bank link. Account discovery afterwards is best-effort: the
// connection is considered successful once the bank row is written.
func (s *Service) ExchangeToken(c *gin.Context) {
	var req exchangeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		e := apperr.FromBinding(err)
		c.JSON(e.Status, apperr.Payload(e))
		return
	}

	ctx := c.Request.Context()
	exchange, err := s.Plaid.ExchangePublicToken(ctx, req.PublicToken)
	if err != nil {
		e := apperr.Wrap(err, apperr.ErrUpstream, upstreamMessage(err))
		c.JSON(e.Status, apperr.Payload(e))
		return
	}

	bank := models.ConnectedBank{
		UserID:          req.UserID,
		ItemID:          exchange.ItemID,
		AccessToken:     exchange.AccessToken,
		InstitutionName: req.InstitutionName,
	}
	if err := bank.Upsert(s.Db); err != nil {
		e := apperr.Wrap(err, apperr.ErrDatabase, "unable to store the bank connection")
		c.JSON(e.Status, apperr.Payload(e))
		return
	}
	// Upsert may have matched an existing (user, item) row; re-read for its id.
	var stored models.ConnectedBank
	if err := s.Db.First(&stored, "user_id = ? AND item_id = ?", req.UserID, exchange.ItemID).Error; err == nil {
		bank = stored
	}

	accountsSynced := s.discoverAccounts(c, &bank, req.UserID)
	c.JSON(http.StatusOK, gin.H{
		"success":         true,
		"bank_id":         bank.ID,
		"institution":     bank.InstitutionName,
		"accounts_synced": accountsSynced,
	})
}

// discoverAccounts pulls the account list under a fresh credential and caches
// each row. Failures are logged and counted only.
func (s *Service) discoverAccounts(c *gin.Context, bank *models.ConnectedBank, userID string) int {
	res, err := s.Plaid.GetAccounts(c.Request.Context(), bank.AccessToken)
	if err != nil {
		s.Logger.WithFields(logrus.Fields{
			"bank_id": bank.ID,
			"error":   err.Error(),
		}).Warn("account discovery after exchange failed")
		return 0
	}

	synced := 0
	for _, acc := range res.Accounts {
		row := accountRow(acc, bank.ID, userID)
		if err := row.Upsert(s.Db); err != nil {
			s.Logger.WithFields(logrus.Fields{
				"bank_id":    bank.ID,
				"account_id": acc.AccountID,
				"error":      err.Error(),
			}).Warn("unable to store a discovered account")
			continue
		}
		synced++
	}
	return synced
}

type accountsRequest struct {
	UserID string `json:"user_id" binding:"required"`
	BankID uint   `json:"bank_id"`
}

// BankView is the merged per-bank record the accounts endpoint returns. On a
// per-bank failure Accounts is empty and Error carries the reason; sibling
// banks are unaffected.
type BankView struct {
	BankID          uint                  `json:"bank_id"`
	InstitutionName string                `json:"institution_name"`
	Institution     *plaid.Institution    `json:"institution,omitempty"`
	LastSyncedAt    *time.Time            `json:"last_synced_at"`
	Accounts        []models.PlaidAccount `json:"accounts"`
	Error           string                `json:"error,omitempty"`
}

// Accounts re-reads live balances and institution metadata for one or all of
// the user's connected banks. Banks are refreshed concurrently and joined
// before responding.
func (s *Service) Accounts(c *gin.Context) {
	var req accountsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		e := apperr.FromBinding(err)
		c.JSON(e.Status, apperr.Payload(e))
		return
	}

	var banks []models.ConnectedBank
	if req.BankID != 0 {
		bank, err := models.GetConnectedBank(req.BankID, req.UserID, s.Db)
		if err != nil {
			e := apperr.Wrap(err, apperr.ErrDatabase, "")
			if errors.Is(err, models.ErrBankNotFound) {
				e = apperr.Wrap(err, apperr.NotFound("bank"), "")
			}
			c.JSON(e.Status, apperr.Payload(e))
			return
		}
		banks = []models.ConnectedBank{bank}
	} else {
		var err error
		banks, err = models.GetConnectedBanks(req.UserID, s.Db)
		if err != nil {
			e := apperr.Wrap(err, apperr.ErrDatabase, "")
			c.JSON(e.Status, apperr.Payload(e))
			return
		}
	}

	views := make([]BankView, len(banks))
	var wg sync.WaitGroup
	for i := range banks {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			views[i] = s.refreshBank(c, &banks[i])
		}(i)
	}
	wg.Wait()

	c.JSON(http.StatusOK, gin.H{"banks": views})
}

// refreshBank queries the aggregator for one bank and assembles its view.
func (s *Service) refreshBank(c *gin.Context, bank *models.ConnectedBank) BankView {
	view := BankView{
		BankID:          bank.ID,
		InstitutionName: bank.InstitutionName,
		Accounts:        []models.PlaidAccount{},
	}

	res, err := s.Plaid.GetBalances(c.Request.Context(), bank.AccessToken)
	if err != nil {
		s.Logger.WithFields(logrus.Fields{
			"bank_id": bank.ID,
			"error":   err.Error(),
		}).Warn("balance refresh failed for bank")
		view.Error = upstreamMessage(err)
		view.LastSyncedAt = bank.LastSyncedAt
		return view
	}

	now := s.now()
	for _, acc := range res.Accounts {
		row := accountRow(acc, bank.ID, bank.UserID)
		row.LastSyncedAt = &now
		if err := row.Upsert(s.Db); err != nil {
			s.Logger.WithFields(logrus.Fields{
				"bank_id":    bank.ID,
				"account_id": acc.AccountID,
				"error":      err.Error(),
			}).Warn("unable to refresh a cached account")
			continue
		}
		view.Accounts = append(view.Accounts, row)
	}

	if inst := s.institution(c, res.Item.InstitutionID); inst != nil {
		view.Institution = inst
		if inst.Name != "" {
			view.InstitutionName = inst.Name
		}
	}

	if err := bank.TouchSyncedAt(s.Db, now); err != nil {
		s.Logger.WithFields(logrus.Fields{"bank_id": bank.ID, "error": err.Error()}).
			Warn("unable to update bank sync timestamp")
	}
	view.LastSyncedAt = bank.LastSyncedAt
	return view
}

// institution resolves display metadata for an institution, via the redis
// cache when possible. Lookup failures only cost us the metadata.
func (s *Service) institution(c *gin.Context, institutionID string) *plaid.Institution {
	if institutionID == "" {
		return nil
	}
	cacheKey := "institution:" + institutionID
	if s.Redis != nil {
		if cached, err := s.Redis.Get(cacheKey).Result(); err == nil {
			return &plaid.Institution{InstitutionID: institutionID, Name: cached}
		}
	}
	res, err := s.Plaid.GetInstitution(c.Request.Context(), institutionID, s.Config.CountryCodes)
	if err != nil {
		s.Logger.WithFields(logrus.Fields{
			"institution_id": institutionID,
			"error":          err.Error(),
		}).Info("institution lookup failed")
		return nil
	}
	if s.Redis != nil {
		s.Redis.Set(cacheKey, res.Institution.Name, 24*time.Hour)
	}
	return &res.Institution
}

// accountRow converts an aggregator account into our cached row.
func accountRow(acc plaid.Account, bankID uint, userID string) models.PlaidAccount {
	row := models.PlaidAccount{
		ConnectedBankID: bankID,
		UserID:          userID,
		AccountID:       acc.AccountID,
		Name:            acc.Name,
		OfficialName:    acc.OfficialName,
		Mask:            acc.Mask,
		Type:            acc.Type,
		Subtype:         acc.Subtype,
		Currency:        acc.Balances.ISOCurrencyCode,
	}
	if acc.Balances.Current != nil {
		row.CurrentBalance = decimal.NewFromFloat(*acc.Balances.Current)
	}
	if acc.Balances.Available != nil {
		row.AvailableBalance = decimal.NewFromFloat(*acc.Balances.Available)
	}
	return row
}
