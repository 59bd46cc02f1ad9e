// Package models contains junyper's persisted tables and their data-access
// helpers. All synchronization writes are idempotent upserts keyed on the
// externally-issued ids, so re-running a sync with an overlapping window never
// duplicates rows.
package models

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrBankNotFound    = errors.New("connected bank not found")
	ErrAccountNotFound = errors.New("plaid account not found")
)

// ConnectedBank is one row per (user, financial institution) link. It holds
// the durable Plaid access token obtained from the public-token exchange.
type ConnectedBank struct {
	gorm.Model
	UserID          string         `json:"user_id" gorm:"index:idx_user_item,unique"`
	ItemID          string         `json:"item_id" gorm:"index:idx_user_item,unique"`
	AccessToken     string         `json:"-"`
	InstitutionName string         `json:"institution_name"`
	LastSyncedAt    *time.Time     `json:"last_synced_at"`
	Accounts        []PlaidAccount `json:"accounts,omitempty"`
}

// PlaidAccount caches one bank account discovered under a ConnectedBank.
// AccountID is Plaid's account_id and is unique within the owning bank.
type PlaidAccount struct {
	gorm.Model
	ConnectedBankID  uint            `json:"connected_bank_id" gorm:"index:idx_bank_account,unique"`
	ConnectedBank    ConnectedBank   `json:"-"`
	UserID           string          `json:"user_id" gorm:"index"`
	AccountID        string          `json:"account_id" gorm:"index:idx_bank_account,unique"`
	Name             string          `json:"name"`
	OfficialName     string          `json:"official_name"`
	Mask             string          `json:"mask"`
	Type             string          `json:"type"`
	Subtype          string          `json:"subtype"`
	CurrentBalance   decimal.Decimal `json:"current_balance" gorm:"type:decimal(20,2)"`
	AvailableBalance decimal.Decimal `json:"available_balance" gorm:"type:decimal(20,2)"`
	Currency         string          `json:"currency"`
	LastSyncedAt     *time.Time      `json:"last_synced_at"`
}

// BankTransaction is one imported transaction. TransactionID is Plaid's
// transaction_id and is the idempotency key within the owning user. Rows are
// never deleted by this codebase.
type BankTransaction struct {
	gorm.Model
	UserID         string          `json:"user_id" gorm:"index:idx_user_txn,unique"`
	TransactionID  string          `json:"transaction_id" gorm:"index:idx_user_txn,unique"`
	PlaidAccountID uint            `json:"plaid_account_id" gorm:"index"`
	AccountID      string          `json:"account_id"`
	Date           time.Time       `json:"date"`
	Name           string          `json:"name"`
	MerchantName   string          `json:"merchant_name"`
	Amount         decimal.Decimal `json:"amount" gorm:"type:decimal(20,2)"`
	Currency       string          `json:"currency"`
	Category       string          `json:"category"`
	Pending        bool            `json:"pending"`
}

// AccountingSettings is one row per user: business profile fields plus the
// chart-of-accounts mappings the dashboard settings screen edits.
type AccountingSettings struct {
	gorm.Model
	UserID string `json:"user_id" gorm:"index:idx_settings_user,unique"`

	// business_profile card
	BusinessName    string `json:"business_name"`
	Industry        string `json:"industry"`
	FiscalYearStart string `json:"fiscal_year_start"`
	Currency        string `json:"currency"`

	// chart_of_accounts card
	SalesAccountCode   string `json:"sales_account_code"`
	ExpenseAccountCode string `json:"expense_account_code"`
	BankAccountCode    string `json:"bank_account_code"`
	ReceivablesCode    string `json:"receivables_code"`
	PayablesCode       string `json:"payables_code"`
}

// VendorBill tracks a payable owed to a vendor.
type VendorBill struct {
	gorm.Model
	UserID     string          `json:"user_id" gorm:"index"`
	VendorName string          `json:"vendor_name"`
	Memo       string          `json:"memo"`
	Amount     decimal.Decimal `json:"amount" gorm:"type:decimal(20,2)"`
	DueDate    *time.Time      `json:"due_date"`
	Status     string          `json:"status" gorm:"default:open"`
}

// AssistantConfig is the singleton configuration row for the AI assistant:
// which hosted provider to call and with what credential.
type AssistantConfig struct {
	gorm.Model
	Provider  string `json:"provider"`
	APIKey    string `json:"-"`
	ModelName string `json:"model_name"`
	Enabled   bool   `json:"enabled"`
}

// Upsert writes the bank link keyed on (user_id, item_id); re-exchanging the
// same institution refreshes the token instead of adding a second row.
func (b *ConnectedBank) Upsert(db *gorm.DB) error {
	return db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "user_id"}, {Name: "item_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"access_token", "institution_name", "updated_at",
		}),
	}).Create(b).Error
}

// GetConnectedBank fetches one bank row by primary key, scoped to the user.
func GetConnectedBank(id uint, userID string, db *gorm.DB) (ConnectedBank, error) {
	var bank ConnectedBank
	result := db.First(&bank, "id = ? AND user_id = ?", id, userID)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return bank, ErrBankNotFound
	}
	return bank, result.Error
}

// GetConnectedBanks lists every bank linked by the user.
func GetConnectedBanks(userID string, db *gorm.DB) ([]ConnectedBank, error) {
	var banks []ConnectedBank
	err := db.Order("id").Find(&banks, "user_id = ?", userID).Error
	return banks, err
}

// TouchSyncedAt bumps the bank's sync timestamp.
func (b *ConnectedBank) TouchSyncedAt(db *gorm.DB, at time.Time) error {
	b.LastSyncedAt = &at
	return db.Model(b).Update("last_synced_at", at).Error
}

// Upsert writes the account keyed on (connected_bank_id, account_id),
// refreshing the cached balances and metadata on conflict.
func (a *PlaidAccount) Upsert(db *gorm.DB) error {
	return db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "connected_bank_id"}, {Name: "account_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"name", "official_name", "mask", "type", "subtype",
			"current_balance", "available_balance", "currency", "updated_at",
		}),
	}).Create(a).Error
}

// AccountWithBank resolves the account-with-credential view the sync handler
// needs in a single query. Returns ErrAccountNotFound when no row matches;
// callers never need a fallback re-query.
func AccountWithBank(accountID, userID string, db *gorm.DB) (PlaidAccount, error) {
	var account PlaidAccount
	result := db.Preload("ConnectedBank").
		First(&account, "account_id = ? AND user_id = ?", accountID, userID)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return account, ErrAccountNotFound
	}
	return account, result.Error
}

// TouchSyncedAt bumps the account's sync timestamp. Called unconditionally
// after a sync batch, even when some rows failed.
func (a *PlaidAccount) TouchSyncedAt(db *gorm.DB, at time.Time) error {
	a.LastSyncedAt = &at
	return db.Model(a).Update("last_synced_at", at).Error
}

// Upsert writes the transaction keyed on (user_id, transaction_id). Only the
// mutable fields are refreshed on conflict, so the row count is stable across
// overlapping sync windows.
func (t *BankTransaction) Upsert(db *gorm.DB) error {
	return db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "user_id"}, {Name: "transaction_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"date", "name", "merchant_name", "amount", "currency",
			"category", "pending", "updated_at",
		}),
	}).Create(t).Error
}

// CountTransactions reports how many transactions are stored for the account.
func CountTransactions(plaidAccountID uint, db *gorm.DB) (int64, error) {
	var count int64
	err := db.Model(&BankTransaction{}).
		Where("plaid_account_id = ?", plaidAccountID).Count(&count).Error
	return count, err
}

// RecentTransactions returns the newest stored transactions for the account.
func RecentTransactions(plaidAccountID uint, limit int, db *gorm.DB) ([]BankTransaction, error) {
	var txns []BankTransaction
	err := db.Where("plaid_account_id = ?", plaidAccountID).
		Order("date desc").Limit(limit).Find(&txns).Error
	return txns, err
}

// GetSettings fetches the user's settings row.
func GetSettings(userID string, db *gorm.DB) (AccountingSettings, error) {
	var settings AccountingSettings
	result := db.First(&settings, "user_id = ?", userID)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return settings, gorm.ErrRecordNotFound
	}
	return settings, result.Error
}

// settingsCards maps a logical settings card to the columns it owns.
var settingsCards = map[string][]string{
	"business_profile":  {"business_name", "industry", "fiscal_year_start", "currency"},
	"chart_of_accounts": {"sales_account_code", "expense_account_code", "bank_account_code", "receivables_code", "payables_code"},
}

// SettingsCard reports whether card names a known logical group.
func SettingsCard(card string) bool {
	_, ok := settingsCards[card]
	return ok
}

// Upsert writes the settings row keyed on user_id. When card is empty the
// whole row is replaced; otherwise only that card's columns are updated.
func (s *AccountingSettings) Upsert(card string, db *gorm.DB) error {
	columns := []string{
		"business_name", "industry", "fiscal_year_start", "currency",
		"sales_account_code", "expense_account_code", "bank_account_code",
		"receivables_code", "payables_code", "updated_at",
	}
	if card != "" {
		group, ok := settingsCards[card]
		if !ok {
			return errors.New("unknown settings card: " + card)
		}
		columns = append(append([]string{}, group...), "updated_at")
	}
	return db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns(columns),
	}).Create(s).Error
}

// Upsert creates the bill, or updates it when ID is set.
func (v *VendorBill) Upsert(db *gorm.DB) error {
	if v.ID == 0 {
		return db.Create(v).Error
	}
	return db.Model(v).Updates(map[string]any{
		"vendor_name": v.VendorName,
		"memo":        v.Memo,
		"amount":      v.Amount,
		"due_date":    v.DueDate,
		"status":      v.Status,
	}).Error
}

// ListBills returns the user's bills, newest first, optionally filtered by status.
func ListBills(userID, status string, db *gorm.DB) ([]VendorBill, error) {
	var bills []VendorBill
	q := db.Where("user_id = ?", userID)
	if status != "" {
		q = q.Where("status = ?", status)
	}
	err := q.Order("created_at desc").Find(&bills).Error
	return bills, err
}

// GetAssistantConfig reads the singleton assistant configuration row.
func GetAssistantConfig(db *gorm.DB) (AssistantConfig, error) {
	var cfg AssistantConfig
	result := db.Order("id").First(&cfg)
	return cfg, result.Error
}

// Tables lists every model for AutoMigrate, shared between the server and the
// migration runner.
func Tables() []any {
	return []any{
		&ConnectedBank{},
		&PlaidAccount{},
		&BankTransaction{},
		&AccountingSettings{},
		&VendorBill{},
		&AssistantConfig{},
	}
}
