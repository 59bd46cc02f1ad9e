package banking

import (
	"errors"

	"github.com/schatrath100/junyper/plaid"
)

// upstreamMessage pulls the human-readable message out of an aggregator error
// body when there is one, else falls back to the plain error text.
func upstreamMessage(err error) string {
	var apiErr *plaid.APIError
	if errors.As(err, &apiErr) {
		if apiErr.DisplayMessage != "" {
			return apiErr.DisplayMessage
		}
		if apiErr.ErrorMessage != "" {
			return apiErr.ErrorMessage
		}
	}
	if err != nil {
		return err.Error()
	}
	return ""
}
