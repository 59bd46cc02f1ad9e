package banking

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/schatrath100/junyper/apperr"
	"github.com/schatrath100/junyper/models"
	"github.com/schatrath100/junyper/plaid"
)

const (
	StrategyFullInitial = "full_initial"
	StrategyIncremental = "incremental"

	defaultDaysToFetch = 30
	// staleSyncAge is how old a last-sync may be before we stop trusting an
	// incremental window and re-fetch the full range.
	staleSyncAge = 30 * 24 * time.Hour
	// incrementalOverlap backs the incremental window start off by one day so
	// transactions posted around the last sync are never missed. The upsert
	// key makes the overlap harmless.
	incrementalOverlap = 24 * time.Hour

	previewSize = 5
)

type syncRequest struct {
	PlaidAccountID string `json:"plaid_account_id" binding:"required"`
	UserID         string `json:"user_id" binding:"required"`
	ForceRefresh   bool   `json:"force_refresh"`
	DaysToFetch    int    `json:"days_to_fetch"`
}

type dateRange struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

type syncResponse struct {
	Success             bool                     `json:"success"`
	FetchStrategy       string                   `json:"fetch_strategy"`
	DateRange           dateRange                `json:"date_range"`
	TransactionsFetched int                      `json:"transactions_fetched"`
	SuccessCount        int                      `json:"success_count"`
	ErrorsCount         int                      `json:"errors_count"`
	Preview             []models.BankTransaction `json:"preview"`
}

// chooseWindow picks the fetch window for an account. Incremental only when
// the caller did not force a refresh, at least one transaction is already
// stored, and the account's last sync is recent enough to trust.
func chooseWindow(account models.PlaidAccount, storedCount int64, forceRefresh bool, daysToFetch int, now time.Time) (string, time.Time, time.Time) {
	if !forceRefresh && storedCount > 0 && account.LastSyncedAt != nil &&
		now.Sub(*account.LastSyncedAt) <= staleSyncAge {
		return StrategyIncremental, account.LastSyncedAt.Add(-incrementalOverlap), now
	}
	return StrategyFullInitial, now.AddDate(0, 0, -daysToFetch), now
}

// SyncTransactions imports transactions for one account. The batch is
// processed sequentially; a bad row is logged and counted but never aborts
// the batch, and the account's sync timestamp is updated regardless.
func (s *Service) SyncTransactions(c *gin.Context) {
	var req syncRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		e := apperr.FromBinding(err)
		c.JSON(e.Status, apperr.Payload(e))
		return
	}
	if req.DaysToFetch <= 0 {
		req.DaysToFetch = defaultDaysToFetch
	}

	account, err := models.AccountWithBank(req.PlaidAccountID, req.UserID, s.Db)
	if err != nil {
		e := apperr.Wrap(err, apperr.ErrDatabase, "")
		if errors.Is(err, models.ErrAccountNotFound) {
			e = apperr.Wrap(err, apperr.NotFound("account"), "")
		}
		c.JSON(e.Status, apperr.Payload(e))
		return
	}

	storedCount, err := models.CountTransactions(account.ID, s.Db)
	if err != nil {
		e := apperr.Wrap(err, apperr.ErrDatabase, "")
		c.JSON(e.Status, apperr.Payload(e))
		return
	}

	now := s.now()
	strategy, start, end := chooseWindow(account, storedCount, req.ForceRefresh, req.DaysToFetch, now)

	s.Logger.WithFields(logrus.Fields{
		"account_id": account.AccountID,
		"user_id":    req.UserID,
		"strategy":   strategy,
		"start":      start.Format(plaid.WireDate),
		"end":        end.Format(plaid.WireDate),
	}).Info("fetching transactions")

	res, err := s.Plaid.GetTransactions(c.Request.Context(), account.ConnectedBank.AccessToken, account.AccountID, start, end)
	if err != nil {
		e := apperr.Wrap(err, apperr.ErrUpstream, upstreamMessage(err))
		c.JSON(e.Status, apperr.Payload(e))
		return
	}

	successCount, errorsCount := 0, 0
	for _, txn := range res.Transactions {
		if err := s.storeTransaction(txn, account); err != nil {
			errorsCount++
			s.Logger.WithFields(logrus.Fields{
				"transaction_id": txn.TransactionID,
				"account_id":     account.AccountID,
				"error":          err.Error(),
			}).Warn("skipping transaction")
			continue
		}
		successCount++
	}

	// Bump the sync timestamp even on a partially failed batch; the next
	// incremental window still overlaps what we just covered.
	if err := account.TouchSyncedAt(s.Db, now); err != nil {
		s.Logger.WithFields(logrus.Fields{
			"account_id": account.AccountID,
			"error":      err.Error(),
		}).Warn("unable to update account sync timestamp")
	}

	preview, err := models.RecentTransactions(account.ID, previewSize, s.Db)
	if err != nil {
		preview = []models.BankTransaction{}
	}

	c.JSON(http.StatusOK, syncResponse{
		Success:             true,
		FetchStrategy:       strategy,
		DateRange:           dateRange{Start: start.Format(plaid.WireDate), End: end.Format(plaid.WireDate)},
		TransactionsFetched: len(res.Transactions),
		SuccessCount:        successCount,
		ErrorsCount:         errorsCount,
		Preview:             preview,
	})
}

// storeTransaction validates and upserts one imported transaction.
func (s *Service) storeTransaction(txn plaid.Transaction, account models.PlaidAccount) error {
	if txn.TransactionID == "" {
		return apperr.New("bad_row", http.StatusInternalServerError, "transaction is missing its external id")
	}
	date, err := time.Parse(plaid.WireDate, txn.Date)
	if err != nil {
		return err
	}
	row := models.BankTransaction{
		UserID:         account.UserID,
		TransactionID:  txn.TransactionID,
		PlaidAccountID: account.ID,
		AccountID:      account.AccountID,
		Date:           date,
		Name:           txn.Name,
		MerchantName:   txn.MerchantName,
		Amount:         decimal.NewFromFloat(txn.Amount),
		Currency:       txn.ISOCurrencyCode,
		Category:       strings.Join(txn.Category, " > "),
		Pending:        txn.Pending,
	}
	return row.Upsert(s.Db)
}
