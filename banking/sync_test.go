package banking

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/schatrath100/junyper/models"
	"github.com/schatrath100/junyper/plaid"
)

var testNow = time.Date(2025, 3, 15, 12, 0, 0, 0, time.UTC)

func TestChooseWindow(t *testing.T) {
	recent := testNow.Add(-48 * time.Hour)
	stale := testNow.Add(-40 * 24 * time.Hour)

	tests := []struct {
		name         string
		lastSynced   *time.Time
		storedCount  int64
		forceRefresh bool
		days         int
		wantStrategy string
		wantStart    time.Time
	}{
		{"no prior transactions", &recent, 0, false, 30, StrategyFullInitial, testNow.AddDate(0, 0, -30)},
		{"never synced", nil, 3, false, 30, StrategyFullInitial, testNow.AddDate(0, 0, -30)},
		{"recent sync goes incremental", &recent, 3, false, 30, StrategyIncremental, recent.Add(-24 * time.Hour)},
		{"force refresh overrides", &recent, 3, true, 30, StrategyFullInitial, testNow.AddDate(0, 0, -30)},
		{"stale sync falls back to full", &stale, 3, false, 30, StrategyFullInitial, testNow.AddDate(0, 0, -30)},
		{"custom window length", nil, 0, false, 7, StrategyFullInitial, testNow.AddDate(0, 0, -7)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			account := models.PlaidAccount{LastSyncedAt: tt.lastSynced}
			strategy, start, end := chooseWindow(account, tt.storedCount, tt.forceRefresh, tt.days, testNow)
			assert.Equal(t, tt.wantStrategy, strategy)
			assert.Equal(t, tt.wantStart, start)
			assert.Equal(t, testNow, end)
		})
	}
}

func postSync(t *testing.T, env *testEnv, body map[string]any) (*httptest.ResponseRecorder, syncResponse) {
	t.Helper()
	payload, _ := json.Marshal(body)
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/plaid/transactions/sync", bytes.NewBuffer(payload))
	env.Router.ServeHTTP(w, req)

	var res syncResponse
	json.Unmarshal(w.Body.Bytes(), &res)
	return w, res
}

func TestSyncFullInitial(t *testing.T) {
	env := newTestEnv(t)
	env.Clock.Timestamp = testNow
	bank := seedBank(t, env.DB, "u1", "item-1", "tok-live")
	account := seedAccount(t, env.DB, bank, "acc_1")

	env.Mock.Transactions = []plaid.Transaction{
		{TransactionID: "txn_1", AccountID: "acc_1", Name: "COFFEE", Amount: 4.5, Date: "2025-03-10", ISOCurrencyCode: "USD"},
		{TransactionID: "txn_2", AccountID: "acc_1", Name: "GROCERY", Amount: 61.2, Date: "2025-03-12", ISOCurrencyCode: "USD"},
	}

	w, res := postSync(t, env, map[string]any{
		"plaid_account_id": "acc_1", "user_id": "u1", "days_to_fetch": 7,
	})

	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, res.Success)
	assert.Equal(t, StrategyFullInitial, res.FetchStrategy)
	assert.Equal(t, "2025-03-08", res.DateRange.Start)
	assert.Equal(t, "2025-03-15", res.DateRange.End)
	assert.Equal(t, 2, res.TransactionsFetched)
	assert.Equal(t, 2, res.SuccessCount)
	assert.Equal(t, 0, res.ErrorsCount)
	assert.Len(t, res.Preview, 2)

	count, _ := models.CountTransactions(account.ID, env.DB)
	assert.Equal(t, int64(2), count)

	var stored models.PlaidAccount
	env.DB.First(&stored, account.ID)
	assert.NotNil(t, stored.LastSyncedAt)
}

func TestSyncIncrementalWindow(t *testing.T) {
	env := newTestEnv(t)
	env.Clock.Timestamp = testNow
	bank := seedBank(t, env.DB, "u1", "item-1", "tok-live")
	account := seedAccount(t, env.DB, bank, "acc_1")

	lastSync := testNow.Add(-72 * time.Hour)
	if err := account.TouchSyncedAt(env.DB, lastSync); err != nil {
		t.Fatalf("seed sync timestamp: %v", err)
	}
	prior := models.BankTransaction{
		UserID: "u1", TransactionID: "txn_0", PlaidAccountID: account.ID,
		AccountID: "acc_1", Date: lastSync, Name: "OLD",
	}
	if err := prior.Upsert(env.DB); err != nil {
		t.Fatalf("seed transaction: %v", err)
	}

	_, res := postSync(t, env, map[string]any{"plaid_account_id": "acc_1", "user_id": "u1"})

	assert.Equal(t, StrategyIncremental, res.FetchStrategy)
	// window starts one day before the recorded last sync
	assert.Equal(t, lastSync.Add(-24*time.Hour).Format(plaid.WireDate), res.DateRange.Start)
	assert.Equal(t, lastSync.Add(-24*time.Hour).Format(plaid.WireDate), env.Mock.LastStartDate)
	assert.Equal(t, testNow.Format(plaid.WireDate), env.Mock.LastEndDate)
}

func TestSyncIdempotentAcrossOverlappingWindows(t *testing.T) {
	env := newTestEnv(t)
	env.Clock.Timestamp = testNow
	bank := seedBank(t, env.DB, "u1", "item-1", "tok-live")
	account := seedAccount(t, env.DB, bank, "acc_1")

	env.Mock.Transactions = []plaid.Transaction{
		{TransactionID: "txn_1", AccountID: "acc_1", Name: "COFFEE", Amount: 4.5, Date: "2025-03-10"},
		{TransactionID: "txn_2", AccountID: "acc_1", Name: "GROCERY", Amount: 61.2, Date: "2025-03-12"},
	}

	_, first := postSync(t, env, map[string]any{"plaid_account_id": "acc_1", "user_id": "u1"})
	assert.Equal(t, 2, first.SuccessCount)

	// second run overlaps the first window and returns identical data
	_, second := postSync(t, env, map[string]any{"plaid_account_id": "acc_1", "user_id": "u1", "force_refresh": true})
	assert.Equal(t, 2, second.SuccessCount)

	count, _ := models.CountTransactions(account.ID, env.DB)
	assert.Equal(t, int64(2), count)
}

func TestSyncBadRowDoesNotAbortBatch(t *testing.T) {
	env := newTestEnv(t)
	env.Clock.Timestamp = testNow
	bank := seedBank(t, env.DB, "u1", "item-1", "tok-live")
	account := seedAccount(t, env.DB, bank, "acc_1")

	env.Mock.Transactions = []plaid.Transaction{
		{TransactionID: "txn_1", AccountID: "acc_1", Name: "GOOD", Amount: 1, Date: "2025-03-10"},
		{TransactionID: "", AccountID: "acc_1", Name: "NO ID", Amount: 2, Date: "2025-03-11"},
		{TransactionID: "txn_3", AccountID: "acc_1", Name: "BAD DATE", Amount: 3, Date: "not-a-date"},
		{TransactionID: "txn_4", AccountID: "acc_1", Name: "ALSO GOOD", Amount: 4, Date: "2025-03-12"},
	}

	w, res := postSync(t, env, map[string]any{"plaid_account_id": "acc_1", "user_id": "u1"})

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 4, res.TransactionsFetched)
	assert.Equal(t, 2, res.SuccessCount)
	assert.Equal(t, 2, res.ErrorsCount)
	assert.Equal(t, res.TransactionsFetched, res.SuccessCount+res.ErrorsCount)

	count, _ := models.CountTransactions(account.ID, env.DB)
	assert.Equal(t, int64(2), count)

	// timestamp is bumped even though some rows failed
	var stored models.PlaidAccount
	env.DB.First(&stored, account.ID)
	assert.NotNil(t, stored.LastSyncedAt)
}

func TestSyncValidationAndNotFound(t *testing.T) {
	env := newTestEnv(t)
	env.Clock.Timestamp = testNow

	t.Run("missing user_id", func(t *testing.T) {
		w, _ := postSync(t, env, map[string]any{"plaid_account_id": "acc_1"})
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Contains(t, w.Body.String(), "user_id")

		var count int64
		env.DB.Model(&models.BankTransaction{}).Count(&count)
		assert.Equal(t, int64(0), count)
	})

	t.Run("unknown account", func(t *testing.T) {
		w, _ := postSync(t, env, map[string]any{"plaid_account_id": "ghost", "user_id": "u1"})
		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}

func TestSyncDatabaseFailure(t *testing.T) {
	env := newTestEnv(t)
	env.Clock.Timestamp = testNow
	bank := seedBank(t, env.DB, "u1", "item-1", "tok-live")
	seedAccount(t, env.DB, bank, "acc_1")

	// an unreachable database is a 500, never a 404
	sqlDB, err := env.DB.DB()
	assert.NoError(t, err)
	sqlDB.Close()

	w, _ := postSync(t, env, map[string]any{"plaid_account_id": "acc_1", "user_id": "u1"})
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), "database_error")
}

func TestSyncUpstreamFailure(t *testing.T) {
	env := newTestEnv(t)
	env.Clock.Timestamp = testNow
	bank := seedBank(t, env.DB, "u1", "item-1", "tok-bad")
	seedAccount(t, env.DB, bank, "acc_1")

	w, _ := postSync(t, env, map[string]any{"plaid_account_id": "acc_1", "user_id": "u1"})
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), "Please reconnect your bank.")
}
