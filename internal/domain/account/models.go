package account

import (
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Type is the internal account classification shared by every aggregator.
type Type string

const (
	TypeChecking   Type = "CHECKING"
	TypeSavings    Type = "SAVINGS"
	TypeCreditCard Type = "CREDIT_CARD"
	TypeInvestment Type = "INVESTMENT"
	TypeLoan       Type = "LOAN"
	TypeOther      Type = "OTHER"
)

var accountTypes = map[Type]struct{}{
	TypeChecking:   {},
	TypeSavings:    {},
	TypeCreditCard: {},
	TypeInvestment: {},
	TypeLoan:       {},
	TypeOther:      {},
}

// Domain errors
var (
	ErrInvalidAccountType = errors.New("invalid account type")
	ErrAccountNotFound    = errors.New("account not found")
	ErrForbidden          = errors.New("access forbidden")
	ErrInvalidCurrency    = errors.New("valid ISO 4217 currency is required")
	ErrInvalidFamilyID    = errors.New("family ID is required")
	ErrInvalidName        = errors.New("account name is required")
)

// Account represents a FinancialAccount: the family-owned view of one bank account.
type Account struct {
	ID            string          `json:"id"`
	FamilyID      string          `json:"familyId"`
	Name          string          `json:"name"`
	Type          Type            `json:"type"`
	Balance       decimal.Decimal `json:"balance"`
	Currency      string          `json:"currency"`
	Institution   string          `json:"institution"`
	AccountNumber *string         `json:"accountNumber,omitempty"` // masked, e.g. ****1234
	IsActive      bool            `json:"isActive"`
	CreatedAt     time.Time       `json:"createdAt"`
	UpdatedAt     time.Time       `json:"updatedAt"`
}

// CreateParams contains parameters for creating a new account
type CreateParams struct {
	FamilyID      string
	Name          string
	Type          Type
	Balance       decimal.Decimal
	Currency      string
	Institution   string
	AccountNumber *string
}

// Validate validates the create parameters
func (p CreateParams) Validate() error {
	if p.FamilyID == "" {
		return ErrInvalidFamilyID
	}
	if strings.TrimSpace(p.Name) == "" {
		return ErrInvalidName
	}
	if !IsValidType(p.Type) {
		return ErrInvalidAccountType
	}
	if !IsValidCurrency(p.Currency) {
		return ErrInvalidCurrency
	}
	return nil
}

// IsValidType checks if the provided account type is one of the internal types.
func IsValidType(t Type) bool {
	_, ok := accountTypes[t]
	return ok
}

// IsValidCurrency checks that c looks like an ISO 4217 code (three upper-case letters).
// Aggregators report many regional currencies so no fixed list is enforced.
func IsValidCurrency(c string) bool {
	if len(c) != 3 {
		return false
	}
	for i := 0; i < len(c); i++ {
		if c[i] < 'A' || c[i] > 'Z' {
			return false
		}
	}
	return true
}
