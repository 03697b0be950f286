package plaid

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Account types reported by Plaid.
const (
	AccountTypeDepository = "depository"
	AccountTypeCredit     = "credit"
	AccountTypeLoan       = "loan"
	AccountTypeInvestment = "investment"
)

type LinkTokenUser struct {
	ClientUserID string `json:"client_user_id"`
}

type LinkTokenRequest struct {
	ClientName   string        `json:"client_name"`
	Language     string        `json:"language"`
	CountryCodes []string      `json:"country_codes"`
	Products     []string      `json:"products"`
	User         LinkTokenUser `json:"user"`
	RedirectURI  string        `json:"redirect_uri,omitempty"`
}

type LinkToken struct {
	LinkToken  string    `json:"link_token"`
	Expiration time.Time `json:"expiration"`
	RequestID  string    `json:"request_id"`
}

type ItemAccess struct {
	AccessToken string `json:"access_token"`
	ItemID      string `json:"item_id"`
	RequestID   string `json:"request_id"`
}

type Item struct {
	ItemID        string `json:"item_id"`
	InstitutionID string `json:"institution_id"`
}

type Balances struct {
	Available       decimal.NullDecimal `json:"available"`
	Current         decimal.NullDecimal `json:"current"`
	ISOCurrencyCode string              `json:"iso_currency_code"`
}

type Account struct {
	AccountID    string   `json:"account_id"`
	Name         string   `json:"name"`
	OfficialName string   `json:"official_name"`
	Type         string   `json:"type"`
	Subtype      string   `json:"subtype"`
	Mask         string   `json:"mask"`
	Balances     Balances `json:"balances"`
}

type AccountsResponse struct {
	Accounts  []Account `json:"accounts"`
	Item      Item      `json:"item"`
	RequestID string    `json:"request_id"`
}

type Institution struct {
	InstitutionID string   `json:"institution_id"`
	Name          string   `json:"name"`
	Logo          string   `json:"logo"`
	CountryCodes  []string `json:"country_codes"`
}

// Transaction amounts are positive when money leaves the account.
type Transaction struct {
	TransactionID   string          `json:"transaction_id"`
	AccountID       string          `json:"account_id"`
	Amount          decimal.Decimal `json:"amount"`
	ISOCurrencyCode string          `json:"iso_currency_code"`
	Date            string          `json:"date"`
	AuthorizedDate  string          `json:"authorized_date"`
	Name            string          `json:"name"`
	MerchantName    string          `json:"merchant_name"`
	Pending         bool            `json:"pending"`
	Category        []string        `json:"category"`
}

type TransactionsResponse struct {
	Accounts          []Account     `json:"accounts"`
	Transactions      []Transaction `json:"transactions"`
	TotalTransactions int           `json:"total_transactions"`
	RequestID         string        `json:"request_id"`
}

// APIError is a non-2xx response. Plaid reports the cause in ErrorCode, for
// example ITEM_LOGIN_REQUIRED or PRODUCT_NOT_READY.
type APIError struct {
	StatusCode   int    `json:"-"`
	ErrorType    string `json:"error_type"`
	ErrorCode    string `json:"error_code"`
	ErrorMessage string `json:"error_message"`
	RequestID    string `json:"request_id"`
}

func (e *APIError) Error() string {
	if e.ErrorCode == "" {
		return fmt.Sprintf("plaid: status %d", e.StatusCode)
	}
	return fmt.Sprintf("plaid: %s: %s (status %d)", e.ErrorCode, e.ErrorMessage, e.StatusCode)
}

// FormatDate renders t as YYYY-MM-DD.
func FormatDate(t time.Time) string {
	return t.Format(time.DateOnly)
}
