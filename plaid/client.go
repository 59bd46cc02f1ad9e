// Package plaid is a thin client for the Plaid bank-data aggregation API.
// Every call is a single synchronous POST with the credential pair in the
// body; there are no retries here, callers decide what a failure means.
package plaid

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"time"

	"github.com/goccy/go-json"
	"github.com/sirupsen/logrus"
)

// transactionsPageSize is the maximum page Plaid allows on /transactions/get.
const transactionsPageSize = 500

type Client struct {
	BaseURL  string
	ClientID string
	Secret   string
	HTTP     *http.Client
	Logger   *logrus.Logger
}

// NewClient builds a client against the given environment base URL.
func NewClient(baseURL, clientID, secret string, logger *logrus.Logger) *Client {
	if logger == nil {
		logger = logrus.New()
	}
	return &Client{
		BaseURL:  baseURL,
		ClientID: clientID,
		Secret:   secret,
		HTTP:     &http.Client{Timeout: 90 * time.Second},
		Logger:   logger,
	}
}

// do posts req to endpoint and decodes the response into out. Non-2xx bodies
// are parsed as Plaid error payloads so callers see the upstream message, not
// a generic status line.
func (c *Client) do(ctx context.Context, endpoint string, req any, out any) error {
	payload, err := json.Marshal(req)
	if err != nil {
		return err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+endpoint, bytes.NewBuffer(payload))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	res, err := c.HTTP.Do(httpReq)
	if err != nil {
		c.Logger.WithFields(logrus.Fields{
			"endpoint": endpoint,
			"error":    err.Error(),
		}).Error("error in establishing connection to the aggregator")
		return err
	}
	defer res.Body.Close()

	body, err := io.ReadAll(res.Body)
	if err != nil {
		return err
	}

	if res.StatusCode != http.StatusOK {
		apiErr := &APIError{StatusCode: res.StatusCode}
		if err := json.Unmarshal(body, apiErr); err != nil || apiErr.ErrorType == "" && apiErr.ErrorMessage == "" {
			apiErr.ErrorType = "API_ERROR"
			apiErr.ErrorMessage = string(body)
		}
		c.Logger.WithFields(logrus.Fields{
			"endpoint": endpoint,
			"status":   res.StatusCode,
			"code":     apiErr.ErrorCode,
		}).Error("aggregator returned an error")
		return apiErr
	}

	return json.Unmarshal(body, out)
}

// CreateLinkToken requests a single-use link token for the browser widget,
// scoped to transactions and depository subtypes only.
func (c *Client) CreateLinkToken(ctx context.Context, userID, clientName string, countryCodes []string, language string) (LinkTokenResponse, error) {
	req := linkTokenRequest{
		ClientID:     c.ClientID,
		Secret:       c.Secret,
		ClientName:   clientName,
		User:         linkTokenUser{ClientUserID: userID},
		Products:     LinkProducts,
		CountryCodes: countryCodes,
		Language:     language,
		AccountFilters: accountFilters{
			Depository: depositoryFilter{AccountSubtypes: AccountSubtypes},
		},
	}
	var res LinkTokenResponse
	err := c.do(ctx, LinkTokenEndpoint, req, &res)
	return res, err
}

// ExchangePublicToken swaps the widget's temporary token for the durable
// access token. Single call, no retry.
func (c *Client) ExchangePublicToken(ctx context.Context, publicToken string) (ExchangeResponse, error) {
	req := exchangeRequest{ClientID: c.ClientID, Secret: c.Secret, PublicToken: publicToken}
	var res ExchangeResponse
	err := c.do(ctx, ExchangeEndpoint, req, &res)
	return res, err
}

// GetAccounts lists the accounts reachable under an access token.
func (c *Client) GetAccounts(ctx context.Context, accessToken string) (AccountsResponse, error) {
	req := accountsRequest{ClientID: c.ClientID, Secret: c.Secret, AccessToken: accessToken}
	var res AccountsResponse
	err := c.do(ctx, AccountsEndpoint, req, &res)
	return res, err
}

// GetBalances re-reads live balances for the accounts under an access token.
func (c *Client) GetBalances(ctx context.Context, accessToken string) (AccountsResponse, error) {
	req := accountsRequest{ClientID: c.ClientID, Secret: c.Secret, AccessToken: accessToken}
	var res AccountsResponse
	err := c.do(ctx, BalanceEndpoint, req, &res)
	return res, err
}

// GetTransactions fetches every transaction in [start, end] scoped to one
// account, paging with Offset until total_transactions is covered.
func (c *Client) GetTransactions(ctx context.Context, accessToken, accountID string, start, end time.Time) (TransactionsResponse, error) {
	var res TransactionsResponse
	for {
		req := transactionsRequest{
			ClientID:    c.ClientID,
			Secret:      c.Secret,
			AccessToken: accessToken,
			StartDate:   start.Format(WireDate),
			EndDate:     end.Format(WireDate),
			Options: transactionsOptions{
				Count:  transactionsPageSize,
				Offset: len(res.Transactions),
			},
		}
		if accountID != "" {
			req.Options.AccountIDs = []string{accountID}
		}

		var page TransactionsResponse
		if err := c.do(ctx, TransactionsEndpoint, req, &page); err != nil {
			return res, err
		}
		res.Accounts = page.Accounts
		res.TotalTransactions = page.TotalTransactions
		res.Transactions = append(res.Transactions, page.Transactions...)

		// an empty page also stops the loop, in case the upstream total lies
		if len(res.Transactions) >= page.TotalTransactions || len(page.Transactions) == 0 {
			return res, nil
		}
	}
}

// GetInstitution looks up display metadata for an institution id.
func (c *Client) GetInstitution(ctx context.Context, institutionID string, countryCodes []string) (InstitutionResponse, error) {
	req := institutionRequest{
		ClientID:      c.ClientID,
		Secret:        c.Secret,
		InstitutionID: institutionID,
		CountryCodes:  countryCodes,
	}
	var res InstitutionResponse
	err := c.do(ctx, InstitutionEndpoint, req, &res)
	return res, err
}
