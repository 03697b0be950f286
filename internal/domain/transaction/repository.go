package transaction

import "context"

type Repository interface {
	// InsertBatch stores params for a single account inside one database
	// transaction. A row is skipped, not failed, when the account already has
	// the same external id or the same date, amount and description.
	InsertBatch(ctx context.Context, accountID string, params []CreateParams) (BatchResult, error)
	ListByAccountID(ctx context.Context, accountID string, limit int) ([]*Transaction, error)
}
