package plaid

import "fmt"

// Request bodies. client_id and secret are injected by the client on every
// call, mirroring how Plaid authenticates each request.

type linkTokenUser struct {
	ClientUserID string `json:"client_user_id"`
}

type depositoryFilter struct {
	AccountSubtypes []string `json:"account_subtypes"`
}

type accountFilters struct {
	Depository depositoryFilter `json:"depository"`
}

type linkTokenRequest struct {
	ClientID       string         `json:"client_id"`
	Secret         string         `json:"secret"`
	ClientName     string         `json:"client_name"`
	User           linkTokenUser  `json:"user"`
	Products       []string       `json:"products"`
	CountryCodes   []string       `json:"country_codes"`
	Language       string         `json:"language"`
	AccountFilters accountFilters `json:"account_filters"`
}

type exchangeRequest struct {
	ClientID    string `json:"client_id"`
	Secret      string `json:"secret"`
	PublicToken string `json:"public_token"`
}

type accountsRequest struct {
	ClientID    string `json:"client_id"`
	Secret      string `json:"secret"`
	AccessToken string `json:"access_token"`
}

type transactionsOptions struct {
	AccountIDs []string `json:"account_ids,omitempty"`
	Count      int      `json:"count"`
	Offset     int      `json:"offset"`
}

type transactionsRequest struct {
	ClientID    string              `json:"client_id"`
	Secret      string              `json:"secret"`
	AccessToken string              `json:"access_token"`
	StartDate   string              `json:"start_date"`
	EndDate     string              `json:"end_date"`
	Options     transactionsOptions `json:"options"`
}

type institutionRequest struct {
	ClientID      string   `json:"client_id"`
	Secret        string   `json:"secret"`
	InstitutionID string   `json:"institution_id"`
	CountryCodes  []string `json:"country_codes"`
}

// LinkTokenResponse is returned verbatim to the browser widget.
type LinkTokenResponse struct {
	LinkToken  string `json:"link_token"`
	Expiration string `json:"expiration"`
	RequestID  string `json:"request_id"`
}

type ExchangeResponse struct {
	AccessToken string `json:"access_token"`
	ItemID      string `json:"item_id"`
	RequestID   string `json:"request_id"`
}

type Balances struct {
	Available              *float64 `json:"available"`
	Current                *float64 `json:"current"`
	ISOCurrencyCode        string   `json:"iso_currency_code"`
	UnofficialCurrencyCode string   `json:"unofficial_currency_code"`
}

type Account struct {
	AccountID    string   `json:"account_id"`
	Name         string   `json:"name"`
	OfficialName string   `json:"official_name"`
	Mask         string   `json:"mask"`
	Type         string   `json:"type"`
	Subtype      string   `json:"subtype"`
	Balances     Balances `json:"balances"`
}

type Item struct {
	ItemID        string `json:"item_id"`
	InstitutionID string `json:"institution_id"`
}

type AccountsResponse struct {
	Accounts  []Account `json:"accounts"`
	Item      Item      `json:"item"`
	RequestID string    `json:"request_id"`
}

type Transaction struct {
	TransactionID   string   `json:"transaction_id"`
	AccountID       string   `json:"account_id"`
	Name            string   `json:"name"`
	MerchantName    string   `json:"merchant_name"`
	Amount          float64  `json:"amount"`
	ISOCurrencyCode string   `json:"iso_currency_code"`
	Category        []string `json:"category"`
	Date            string   `json:"date"`
	Pending         bool     `json:"pending"`
}

type TransactionsResponse struct {
	Accounts          []Account     `json:"accounts"`
	Transactions      []Transaction `json:"transactions"`
	TotalTransactions int           `json:"total_transactions"`
	RequestID         string        `json:"request_id"`
}

type Institution struct {
	InstitutionID string `json:"institution_id"`
	Name          string `json:"name"`
	URL           string `json:"url"`
	PrimaryColor  string `json:"primary_color"`
}

type InstitutionResponse struct {
	Institution Institution `json:"institution"`
	RequestID   string      `json:"request_id"`
}

// APIError is Plaid's error body. The display message, when set, is the
// human-readable one we surface to callers.
type APIError struct {
	ErrorType      string `json:"error_type"`
	ErrorCode      string `json:"error_code"`
	ErrorMessage   string `json:"error_message"`
	DisplayMessage string `json:"display_message"`
	RequestID      string `json:"request_id"`
	StatusCode     int    `json:"-"`
}

func (e *APIError) Error() string {
	msg := e.DisplayMessage
	if msg == "" {
		msg = e.ErrorMessage
	}
	if msg == "" {
		msg = e.ErrorCode
	}
	return fmt.Sprintf("plaid: %s (%s)", msg, e.ErrorType)
}
