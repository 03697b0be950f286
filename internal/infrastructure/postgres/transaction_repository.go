package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"famfin/internal/domain/transaction"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

type TransactionRepository struct {
	db *DB
}

func NewTransactionRepository(db *DB) *TransactionRepository {
	return &TransactionRepository{db: db}
}

// insertTransactionQuery skips rows that collide on the external id or on the
// secondary key (account, date, amount, description).
const insertTransactionQuery = `
	INSERT INTO transactions (id, family_id, account_id, transaction_date, description, merchant,
	                          amount, type, status, external_id, currency, pending,
	                          provider_category, provider_subcategory, tags)
	SELECT $1::uuid, $2::uuid, $3::uuid, $4::date, $5::text, $6::text,
	       $7::numeric, $8::text, $9::text, $10::text, $11::text, $12::boolean,
	       $13::text[], $14::text, $15::text[]
	WHERE NOT EXISTS (
		SELECT 1 FROM transactions
		WHERE account_id = $3::uuid
		  AND (external_id = $10::text
		       OR (transaction_date = $4::date AND amount = $7::numeric AND description = $5::text))
	)
	ON CONFLICT (account_id, external_id) DO NOTHING
`

// InsertBatch writes every row for one account in a single transaction, so a
// failure leaves none of the batch behind.
func (r *TransactionRepository) InsertBatch(ctx context.Context, accountID string, params []transaction.CreateParams) (transaction.BatchResult, error) {
	var result transaction.BatchResult
	if len(params) == 0 {
		return result, nil
	}

	for _, p := range params {
		if p.AccountID != accountID {
			return result, fmt.Errorf("transaction %s belongs to account %s, not %s", p.ExternalID, p.AccountID, accountID)
		}
		if err := p.Validate(); err != nil {
			return result, fmt.Errorf("invalid transaction %s: %w", p.ExternalID, err)
		}
	}

	err := r.db.WithTx(ctx, "InsertTransactions", func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, insertTransactionQuery)
		if err != nil {
			return fmt.Errorf("failed to prepare transaction insert: %w", err)
		}
		defer stmt.Close()

		result = transaction.BatchResult{}
		for _, p := range params {
			res, err := stmt.ExecContext(ctx,
				uuid.New().String(), p.FamilyID, p.AccountID, p.Date, p.Description, p.Merchant,
				p.Amount, p.Type, p.Status, p.ExternalID, p.Currency, p.Pending,
				pq.Array(nonNil(p.ProviderCategory)), p.ProviderSubcategory, pq.Array(nonNil(p.Tags)),
			)
			if err != nil {
				return fmt.Errorf("failed to insert transaction %s: %w", p.ExternalID, err)
			}

			n, err := res.RowsAffected()
			if err != nil {
				return fmt.Errorf("failed to insert transaction %s: %w", p.ExternalID, err)
			}
			if n == 0 {
				result.Skipped++
			} else {
				result.Inserted++
			}
		}
		return nil
	})
	if err != nil {
		return transaction.BatchResult{}, err
	}

	return result, nil
}

func (r *TransactionRepository) ListByAccountID(ctx context.Context, accountID string, limit int) ([]*transaction.Transaction, error) {
	query := `
		SELECT id, family_id, account_id, transaction_date, description, merchant, amount, type,
		       status, external_id, currency, pending, provider_category, provider_subcategory,
		       tags, created_at
		FROM transactions
		WHERE account_id = $1
		ORDER BY transaction_date DESC, created_at DESC
		LIMIT $2
	`

	rows, err := r.db.QueryContext(ctx, query, accountID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	defer rows.Close()

	var transactions []*transaction.Transaction
	for rows.Next() {
		var t transaction.Transaction
		var merchant, subcategory sql.NullString

		err := rows.Scan(
			&t.ID, &t.FamilyID, &t.AccountID, &t.Date, &t.Description, &merchant, &t.Amount, &t.Type,
			&t.Status, &t.ExternalID, &t.Currency, &t.Pending, pq.Array(&t.ProviderCategory), &subcategory,
			pq.Array(&t.Tags), &t.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}

		t.Merchant = stringPtr(merchant)
		t.ProviderSubcategory = stringPtr(subcategory)
		transactions = append(transactions, &t)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating transactions: %w", err)
	}

	return transactions, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
