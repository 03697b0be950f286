package banking

import "context"

type Repository interface {
	CreateConnection(ctx context.Context, params CreateConnectionParams) (*Connection, error)
	GetConnection(ctx context.Context, id string) (*Connection, error)
	ListConnections(ctx context.Context, familyID string) ([]*Connection, error)
	UpdateAccessToken(ctx context.Context, id, accessToken string) error

	// LinkAccount inserts the financial account and the connected account in one
	// database transaction. Returns ErrAccountLinked when the provider account is
	// already linked to the connection.
	LinkAccount(ctx context.Context, params LinkAccountParams) (*LinkedAccount, error)
	// ListConnectedAccounts filters by provider unless provider is empty.
	ListConnectedAccounts(ctx context.Context, familyID string, provider Provider) ([]*ConnectedAccount, error)

	// ListFamiliesWithProvider returns the ids of families owning at least one
	// connection of the given provider.
	ListFamiliesWithProvider(ctx context.Context, provider Provider) ([]string, error)
}
