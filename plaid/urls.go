package plaid

// Endpoints on the Plaid API. The client joins these onto the configured
// environment base URL (sandbox, development or production).
const (
	LinkTokenEndpoint    = "/link/token/create"
	ExchangeEndpoint     = "/item/public_token/exchange"
	AccountsEndpoint     = "/accounts/get"
	BalanceEndpoint      = "/accounts/balance/get"
	TransactionsEndpoint = "/transactions/get"
	InstitutionEndpoint  = "/institutions/get_by_id"
)

const (
	SandboxURL     = "https://sandbox.plaid.com"
	DevelopmentURL = "https://development.plaid.com"
	ProductionURL  = "https://production.plaid.com"
)

// Products and filters junyper links with: transaction history only, and only
// depository (checking/savings) accounts.
var (
	LinkProducts    = []string{"transactions"}
	AccountSubtypes = []string{"checking", "savings"}
)

// WireDate is the date layout Plaid uses everywhere.
const WireDate = "2006-01-02"
