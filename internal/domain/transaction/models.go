package transaction

import (
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type Type string

const (
	TypeIncome   Type = "INCOME"
	TypeExpense  Type = "EXPENSE"
	TypeTransfer Type = "TRANSFER"
)

type Status string

const (
	StatusNeedsCategorization Status = "NEEDS_CATEGORIZATION"
	StatusNeedsReview         Status = "NEEDS_REVIEW"
	StatusInProgress          Status = "IN_PROGRESS"
	StatusReconciled          Status = "RECONCILED"
)

var (
	ErrInvalidAccountID  = errors.New("account ID is required")
	ErrInvalidExternalID = errors.New("external ID is required")
	ErrNegativeAmount    = errors.New("amount must be stored as a non-negative magnitude")
	ErrInvalidType       = errors.New("invalid transaction type")
	ErrInvalidStatus     = errors.New("invalid transaction status")
)

// Transaction is one imported ledger entry. Amount is always a magnitude; the
// direction lives in Type.
type Transaction struct {
	ID                  string          `json:"id"`
	FamilyID            string          `json:"familyId"`
	AccountID           string          `json:"accountId"`
	Date                time.Time       `json:"date"`
	Description         string          `json:"description"`
	Merchant            *string         `json:"merchant,omitempty"`
	Amount              decimal.Decimal `json:"amount"`
	Type                Type            `json:"type"`
	Status              Status          `json:"status"`
	ExternalID          string          `json:"externalId"`
	Currency            string          `json:"currency"`
	Pending             bool            `json:"pending"`
	ProviderCategory    []string        `json:"providerCategory"`
	ProviderSubcategory *string         `json:"providerSubcategory,omitempty"`
	Tags                []string        `json:"tags"`
	CreatedAt           time.Time       `json:"createdAt"`
}

type CreateParams struct {
	FamilyID            string
	AccountID           string
	Date                time.Time
	Description         string
	Merchant            *string
	Amount              decimal.Decimal
	Type                Type
	Status              Status
	ExternalID          string
	Currency            string
	Pending             bool
	ProviderCategory    []string
	ProviderSubcategory *string
	Tags                []string
}

func (p CreateParams) Validate() error {
	if p.AccountID == "" {
		return ErrInvalidAccountID
	}
	if strings.TrimSpace(p.ExternalID) == "" {
		return ErrInvalidExternalID
	}
	if p.Amount.IsNegative() {
		return ErrNegativeAmount
	}
	switch p.Type {
	case TypeIncome, TypeExpense, TypeTransfer:
	default:
		return ErrInvalidType
	}
	switch p.Status {
	case StatusNeedsCategorization, StatusNeedsReview, StatusInProgress, StatusReconciled:
	default:
		return ErrInvalidStatus
	}
	return nil
}

// Classify turns a signed provider amount into the stored magnitude and type.
// Negative amounts are expenses; zero and positive amounts are income.
func Classify(signed decimal.Decimal) (decimal.Decimal, Type) {
	if signed.IsNegative() {
		return signed.Abs(), TypeExpense
	}
	return signed, TypeIncome
}

// BatchResult counts the outcome of InsertBatch.
type BatchResult struct {
	Inserted int
	Skipped  int
}

func (r BatchResult) Total() int {
	return r.Inserted + r.Skipped
}
