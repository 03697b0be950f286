package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"famfin/internal/domain/account"

	"github.com/shopspring/decimal"
)

// AccountRepository implements the account.Repository interface for PostgreSQL
type AccountRepository struct {
	db *DB
}

// NewAccountRepository creates a new PostgreSQL account repository
func NewAccountRepository(db *DB) *AccountRepository {
	return &AccountRepository{db: db}
}

const accountColumns = `id, family_id, name, account_type, balance, currency, institution,
		       account_number, is_active, created_at, updated_at`

// GetByID retrieves an account by its ID
func (r *AccountRepository) GetByID(ctx context.Context, id string) (*account.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM financial_accounts WHERE id = $1`

	acc, err := scanAccount(r.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, account.ErrAccountNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	return acc, nil
}

func (r *AccountRepository) ListByFamilyID(ctx context.Context, familyID string) ([]*account.Account, error) {
	query := `
		SELECT ` + accountColumns + `
		FROM financial_accounts
		WHERE family_id = $1 AND is_active = TRUE
		ORDER BY created_at
	`

	rows, err := r.db.QueryContext(ctx, query, familyID)
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}
	defer rows.Close()

	var accounts []*account.Account
	for rows.Next() {
		acc, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan account: %w", err)
		}
		accounts = append(accounts, acc)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating accounts: %w", err)
	}

	return accounts, nil
}

// UpdateBalance overwrites the stored balance. Balances are never accumulated.
func (r *AccountRepository) UpdateBalance(ctx context.Context, id string, balance decimal.Decimal) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE financial_accounts SET balance = $1, updated_at = NOW() WHERE id = $2`,
		balance, id,
	)
	if err != nil {
		return fmt.Errorf("failed to update balance: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update balance: %w", err)
	}
	if n == 0 {
		return account.ErrAccountNotFound
	}
	return nil
}

// insertAccount creates a financial account inside tx.
func insertAccount(ctx context.Context, tx *sql.Tx, id string, params account.CreateParams) (*account.Account, error) {
	query := `
		INSERT INTO financial_accounts (id, family_id, name, account_type, balance, currency, institution, account_number)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING ` + accountColumns

	return scanAccount(tx.QueryRowContext(ctx, query,
		id, params.FamilyID, params.Name, params.Type, params.Balance,
		params.Currency, params.Institution, params.AccountNumber,
	))
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccount(row rowScanner) (*account.Account, error) {
	var acc account.Account
	var accountNumber sql.NullString

	err := row.Scan(
		&acc.ID, &acc.FamilyID, &acc.Name, &acc.Type, &acc.Balance, &acc.Currency,
		&acc.Institution, &accountNumber, &acc.IsActive, &acc.CreatedAt, &acc.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	acc.AccountNumber = stringPtr(accountNumber)
	return &acc, nil
}

// Helper functions

func stringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}
