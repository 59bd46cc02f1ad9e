package banking

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/schatrath100/junyper/config"
	"github.com/schatrath100/junyper/models"
	"github.com/schatrath100/junyper/plaid"
)

// mockAggregator fakes the Plaid API for handler tests. Access token
// "tok-bad" fails every data call with a Plaid-shaped error body.
type mockAggregator struct {
	mu sync.Mutex

	Accounts     []plaid.Account
	Transactions []plaid.Transaction
	Institution  plaid.Institution

	LastStartDate string
	LastEndDate   string
}

func (m *mockAggregator) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		json.NewDecoder(r.Body).Decode(&body)

		if tok, _ := body["access_token"].(string); tok == "tok-bad" {
			w.WriteHeader(http.StatusBadRequest)
			json.NewEncoder(w).Encode(plaid.APIError{
				ErrorType:      "ITEM_ERROR",
				ErrorCode:      "ITEM_LOGIN_REQUIRED",
				ErrorMessage:   "the login details of this item have changed",
				DisplayMessage: "Please reconnect your bank.",
			})
			return
		}

		switch r.URL.Path {
		case plaid.LinkTokenEndpoint:
			json.NewEncoder(w).Encode(plaid.LinkTokenResponse{LinkToken: "link-sandbox-abc", Expiration: "2025-01-01T00:30:00Z"})
		case plaid.ExchangeEndpoint:
			json.NewEncoder(w).Encode(plaid.ExchangeResponse{AccessToken: "tok-live", ItemID: "item-1"})
		case plaid.AccountsEndpoint, plaid.BalanceEndpoint:
			json.NewEncoder(w).Encode(plaid.AccountsResponse{
				Accounts: m.Accounts,
				Item:     plaid.Item{ItemID: "item-1", InstitutionID: "ins_1"},
			})
		case plaid.TransactionsEndpoint:
			m.mu.Lock()
			m.LastStartDate, _ = body["start_date"].(string)
			m.LastEndDate, _ = body["end_date"].(string)
			m.mu.Unlock()
			json.NewEncoder(w).Encode(plaid.TransactionsResponse{
				Accounts:          m.Accounts,
				Transactions:      m.Transactions,
				TotalTransactions: len(m.Transactions),
			})
		case plaid.InstitutionEndpoint:
			json.NewEncoder(w).Encode(plaid.InstitutionResponse{Institution: m.Institution})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}
}

type testEnv struct {
	Router  *gin.Engine
	Service *Service
	DB      *gorm.DB
	Mock    *mockAggregator
	Clock   *MockClock
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	db, err := gorm.Open(sqlite.Open(dbPath), &gorm.Config{})
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	if err := db.AutoMigrate(models.Tables()...); err != nil {
		t.Fatalf("auto migrate: %v", err)
	}
	return db
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)
	binding.Validator = new(models.DefaultValidator)

	db := newTestDB(t)
	mock := &mockAggregator{
		Institution: plaid.Institution{InstitutionID: "ins_1", Name: "First Platypus Bank"},
	}
	server := httptest.NewServer(mock.handler())
	t.Cleanup(server.Close)

	cfg := config.Config{}
	cfg.Defaults()
	cfg.PlaidBaseURL = server.URL

	logger := logrus.New()
	clock := &MockClock{}
	service := &Service{
		Db:     db,
		Logger: logger,
		Config: cfg,
		Plaid:  plaid.NewClient(server.URL, "cid", "sec", logger),
		Clock:  clock,
	}

	r := gin.New()
	r.POST("/api/plaid/link-token", service.CreateLinkToken)
	r.POST("/api/plaid/exchange", service.ExchangeToken)
	r.POST("/api/plaid/accounts", service.Accounts)
	r.POST("/api/plaid/transactions/sync", service.SyncTransactions)

	return &testEnv{Router: r, Service: service, DB: db, Mock: mock, Clock: clock}
}

func seedBank(t *testing.T, db *gorm.DB, userID, itemID, token string) models.ConnectedBank {
	t.Helper()
	bank := models.ConnectedBank{
		UserID:          userID,
		ItemID:          itemID,
		AccessToken:     token,
		InstitutionName: "First Platypus Bank",
	}
	if err := bank.Upsert(db); err != nil {
		t.Fatalf("seed bank: %v", err)
	}
	return bank
}

func seedAccount(t *testing.T, db *gorm.DB, bank models.ConnectedBank, accountID string) models.PlaidAccount {
	t.Helper()
	account := models.PlaidAccount{
		ConnectedBankID: bank.ID,
		UserID:          bank.UserID,
		AccountID:       accountID,
		Name:            "Checking",
		Type:            "depository",
		Subtype:         "checking",
	}
	if err := account.Upsert(db); err != nil {
		t.Fatalf("seed account: %v", err)
	}
	if err := db.First(&account, "account_id = ?", accountID).Error; err != nil {
		t.Fatalf("reload account: %v", err)
	}
	return account
}
