package account

import (
	"context"

	"github.com/shopspring/decimal"
)

// Repository defines the interface for account data access
// This interface is defined in the domain layer, but implemented in the infrastructure layer
type Repository interface {
	// GetByID retrieves an account by its ID
	GetByID(ctx context.Context, id string) (*Account, error)

	// ListByFamilyID retrieves all accounts owned by a family
	ListByFamilyID(ctx context.Context, familyID string) ([]*Account, error)

	// UpdateBalance overwrites the balance of an account
	UpdateBalance(ctx context.Context, id string, balance decimal.Decimal) error
}
