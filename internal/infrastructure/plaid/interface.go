package plaid

import (
	"context"
	"time"
)

// ClientInterface defines the Plaid endpoints the sync flow uses. Calls after
// the token exchange take the item's access token.
type ClientInterface interface {
	CreateLinkToken(ctx context.Context, req LinkTokenRequest) (*LinkToken, error)
	ExchangePublicToken(ctx context.Context, publicToken string) (*ItemAccess, error)
	GetInstitution(ctx context.Context, institutionID string, countryCodes []string) (*Institution, error)

	GetAccounts(ctx context.Context, accessToken string) (*AccountsResponse, error)
	GetTransactions(ctx context.Context, accessToken string, from, to time.Time) (*TransactionsResponse, error)
}
