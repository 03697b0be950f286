package account

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
)

// Service contains the business logic for account operations
type Service struct {
	repo Repository
}

// NewService creates a new account service
func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// GetAccount retrieves an account by ID and verifies family ownership
func (s *Service) GetAccount(ctx context.Context, accountID, familyID string) (*Account, error) {
	acc, err := s.repo.GetByID(ctx, accountID)
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}

	if acc.FamilyID != familyID {
		return nil, ErrForbidden
	}

	return acc, nil
}

// ListAccounts retrieves all accounts for a family
func (s *Service) ListAccounts(ctx context.Context, familyID string) ([]*Account, error) {
	if familyID == "" {
		return nil, ErrInvalidFamilyID
	}

	return s.repo.ListByFamilyID(ctx, familyID)
}

// UpdateBalance stores a freshly synced balance.
func (s *Service) UpdateBalance(ctx context.Context, accountID string, balance decimal.Decimal) error {
	if accountID == "" {
		return ErrAccountNotFound
	}
	return s.repo.UpdateBalance(ctx, accountID, balance)
}
