package services

import (
	"regexp"
	"strings"
)

// FinanceValidator decides whether a user query is finance-related. The
// backend only answers finance questions; everything else is rejected before
// it reaches the model.
type FinanceValidator struct{}

type keywordCategory struct {
	name     string
	keywords []string
}

// Ordered so classification is deterministic when a query matches several
// categories.
var financeKeywords = []keywordCategory{
	{"banking", []string{"bank", "account", "savings", "checking", "deposit", "atm", "debit", "credit card"}},
	{"investments", []string{"stock", "share", "equity", "mutual fund", "etf", "bond", "portfolio", "invest", "dividend", "capital gains"}},
	{"loans", []string{"loan", "mortgage", "emi", "interest rate", "principal", "borrowing", "credit", "refinance", "down payment"}},
	{"insurance", []string{"insurance", "premium", "policy", "life insurance", "health insurance", "term insurance", "coverage"}},
	{"taxation", []string{"tax", "income tax", "gst", "tds", "itr", "deduction", "exemption", "tax saving", "capital gains tax"}},
	{"retirement", []string{"retirement", "pension", "pf", "provident fund", "epf", "nps", "retirement planning", "401k"}},
	{"budgeting", []string{"budget", "expense", "income", "savings", "financial planning", "cash flow", "spending"}},
	{"cryptocurrency", []string{"crypto", "bitcoin", "ethereum", "blockchain", "cryptocurrency", "altcoin", "wallet"}},
	{"real_estate", []string{"property", "real estate", "home loan", "rent", "housing", "reit"}},
	{"market", []string{"market", "trading", "forex", "commodity", "gold", "silver", "nifty", "sensex", "dow jones"}},
	{"finance_general", []string{"finance", "money", "wealth", "financial", "asset", "liability", "net worth", "roi", "return on investment"}},
}

var nonFinanceIndicators = []string{
	"recipe", "weather", "movie", "music", "game", "sports",
	"celebrity", "travel", "health", "medical", "disease",
	"programming", "code", "software", "hardware", "computer",
}

// Matches explicit monetary amounts like "₹10000", "$500", or "10 lakhs".
var financialAmountRe = regexp.MustCompile(`(₹|rs\.?|inr|usd|\$|€|£)\s*\d+|\d+\s*(lakh|crore|thousand|million|billion)`)

// Classify reports whether the query is finance-related and, when it is,
// the keyword category it matched. Non-finance indicators win over finance
// keywords, mirroring the rejection-first policy.
func (FinanceValidator) Classify(query string) (bool, string) {
	q := strings.ToLower(query)

	for _, indicator := range nonFinanceIndicators {
		if strings.Contains(q, indicator) {
			return false, "non_finance"
		}
	}

	for _, category := range financeKeywords {
		for _, keyword := range category.keywords {
			if strings.Contains(q, keyword) {
				return true, category.name
			}
		}
	}

	if financialAmountRe.MatchString(q) {
		return true, "financial_calculation"
	}

	return false, "unknown"
}

// RejectionMessage returns the message surfaced for non-finance queries.
func (FinanceValidator) RejectionMessage() string {
	return "I apologize, but I can only assist with finance-related questions. " +
		"Please ask me about banking, investments, loans, taxes, insurance, " +
		"budgeting, retirement planning, or other financial topics."
}

// SampleQueries returns the suggested prompts shown by UI collaborators.
func (FinanceValidator) SampleQueries() []string {
	return []string{
		"What is the best investment option for retirement?",
		"How do I calculate EMI for a home loan?",
		"Explain mutual funds vs stocks",
		"What are tax-saving investment options?",
		"How to create a monthly budget?",
		"What is compound interest?",
		"Should I invest in FD or mutual funds?",
		"How to improve credit score?",
	}
}
