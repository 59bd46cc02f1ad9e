package assistant

import (
	"fmt"
	"strings"
)

// notProvided is rendered for every business-context field the caller omits,
// so the model never sees an empty slot in the template.
const notProvided = "not provided"

// BusinessContext is the optional business summary the dashboard sends along
// with each question. Every field may be empty.
type BusinessContext struct {
	BusinessName   string `json:"business_name"`
	Industry       string `json:"industry"`
	MonthlyIncome  string `json:"monthly_income"`
	MonthlyExpense string `json:"monthly_expense"`
	RecentActivity string `json:"recent_activity"`
}

const promptTemplate = `You are Junyper, a friendly accounting assistant for small-business owners.
You answer bookkeeping, tax and cash-flow questions in plain language, in a few
short paragraphs at most. When the question needs professional judgement, say
so and recommend talking to an accountant.

Business context:
- Business name: %s
- Industry: %s
- Income this month: %s
- Expenses this month: %s
- Recent activity: %s

Answer the owner's question using this context where it helps. Never invent
figures that are not in the context above.`

// SystemPrompt renders the fixed assistant instructions with the supplied
// business context, substituting placeholders for absent fields.
func SystemPrompt(ctx *BusinessContext) string {
	if ctx == nil {
		ctx = &BusinessContext{}
	}
	return fmt.Sprintf(promptTemplate,
		orPlaceholder(ctx.BusinessName),
		orPlaceholder(ctx.Industry),
		orPlaceholder(ctx.MonthlyIncome),
		orPlaceholder(ctx.MonthlyExpense),
		orPlaceholder(ctx.RecentActivity),
	)
}

func orPlaceholder(s string) string {
	if strings.TrimSpace(s) == "" {
		return notProvided
	}
	return s
}
