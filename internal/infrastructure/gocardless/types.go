package gocardless

import (
	"fmt"
	"time"
)

// Requisition statuses reported by the aggregator.
const (
	StatusCreated           = "CR"
	StatusGivingConsent     = "GC"
	StatusUndergoingAuth    = "UA"
	StatusSelectingAccounts = "SA"
	StatusGrantingAccess    = "GA"
	StatusLinked            = "LN"
	StatusExpired           = "EX"
	StatusRejected          = "RJ"
	StatusSuspended         = "SU"
)

// Balance types in the order the importer prefers them.
const (
	BalanceInterimAvailable = "interimAvailable"
	BalanceClosingBooked    = "closingBooked"
)

// APIError is returned for any non-2xx response.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("gocardless API error (status %d): %s", e.StatusCode, e.Body)
}

// TokenPair is the response of POST /token/new/.
type TokenPair struct {
	Access         string `json:"access"`
	AccessExpires  int    `json:"access_expires"`
	Refresh        string `json:"refresh"`
	RefreshExpires int    `json:"refresh_expires"`
}

// AccessToken is the response of POST /token/refresh/.
type AccessToken struct {
	Access        string `json:"access"`
	AccessExpires int    `json:"access_expires"`
}

type Institution struct {
	ID                   string   `json:"id"`
	Name                 string   `json:"name"`
	BIC                  string   `json:"bic"`
	TransactionTotalDays string   `json:"transaction_total_days"`
	Countries            []string `json:"countries"`
	Logo                 string   `json:"logo"`
}

type AgreementRequest struct {
	InstitutionID      string   `json:"institution_id"`
	MaxHistoricalDays  int      `json:"max_historical_days"`
	AccessValidForDays int      `json:"access_valid_for_days"`
	AccessScope        []string `json:"access_scope"`
}

type Agreement struct {
	ID                 string   `json:"id"`
	Created            string   `json:"created"`
	InstitutionID      string   `json:"institution_id"`
	MaxHistoricalDays  int      `json:"max_historical_days"`
	AccessValidForDays int      `json:"access_valid_for_days"`
	AccessScope        []string `json:"access_scope"`
	Accepted           *string  `json:"accepted"`
}

type RequisitionRequest struct {
	Redirect      string `json:"redirect"`
	InstitutionID string `json:"institution_id"`
	Agreement     string `json:"agreement"`
	Reference     string `json:"reference"`
	UserLanguage  string `json:"user_language"`
}

type Requisition struct {
	ID            string   `json:"id"`
	Created       string   `json:"created"`
	Redirect      string   `json:"redirect"`
	Status        string   `json:"status"`
	InstitutionID string   `json:"institution_id"`
	Agreement     string   `json:"agreement"`
	Reference     string   `json:"reference"`
	Accounts      []string `json:"accounts"`
	Link          string   `json:"link"`
}

// AccountDetails is the "account" object of GET /accounts/{id}/details/.
type AccountDetails struct {
	ResourceID      string `json:"resourceId"`
	IBAN            string `json:"iban"`
	BBAN            string `json:"bban"`
	Currency        string `json:"currency"`
	OwnerName       string `json:"ownerName"`
	Name            string `json:"name"`
	DisplayName     string `json:"displayName"`
	Product         string `json:"product"`
	CashAccountType string `json:"cashAccountType"`
	Usage           string `json:"usage"`
	Status          string `json:"status"`
}

type Amount struct {
	Amount   string `json:"amount"`
	Currency string `json:"currency"`
}

type Balance struct {
	BalanceAmount      Amount `json:"balanceAmount"`
	BalanceType        string `json:"balanceType"`
	ReferenceDate      string `json:"referenceDate,omitempty"`
	LastChangeDateTime string `json:"lastChangeDateTime,omitempty"`
}

type Transaction struct {
	TransactionID                     string   `json:"transactionId"`
	InternalTransactionID             string   `json:"internalTransactionId"`
	BookingDate                       string   `json:"bookingDate"`
	ValueDate                         string   `json:"valueDate"`
	TransactionAmount                 Amount   `json:"transactionAmount"`
	CreditorName                      string   `json:"creditorName"`
	DebtorName                        string   `json:"debtorName"`
	RemittanceInformationUnstructured string   `json:"remittanceInformationUnstructured"`
	RemittanceInformationStructured   string   `json:"remittanceInformationStructured"`
	RemittanceInformationArray        []string `json:"remittanceInformationUnstructuredArray"`
	BankTransactionCode               string   `json:"bankTransactionCode"`
	ProprietaryBankTransactionCode    string   `json:"proprietaryBankTransactionCode"`
}

type TransactionList struct {
	Booked  []Transaction `json:"booked"`
	Pending []Transaction `json:"pending"`
}

// FormatDate renders t the way date_from/date_to expect it.
func FormatDate(t time.Time) string {
	return t.Format("2006-01-02")
}
