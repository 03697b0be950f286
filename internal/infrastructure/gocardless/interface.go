package gocardless

import (
	"context"
	"time"
)

// ClientInterface defines the Bank Account Data endpoints the sync flow uses.
// Every method except the token calls takes the bearer access token.
type ClientInterface interface {
	NewToken(ctx context.Context, secretID, secretKey string) (*TokenPair, error)
	RefreshToken(ctx context.Context, refresh string) (*AccessToken, error)

	ListInstitutions(ctx context.Context, token, country string) ([]Institution, error)
	CreateAgreement(ctx context.Context, token string, req AgreementRequest) (*Agreement, error)
	CreateRequisition(ctx context.Context, token string, req RequisitionRequest) (*Requisition, error)
	GetRequisition(ctx context.Context, token, requisitionID string) (*Requisition, error)

	GetAccountDetails(ctx context.Context, token, accountID string) (*AccountDetails, error)
	GetAccountBalances(ctx context.Context, token, accountID string) ([]Balance, error)
	GetAccountTransactions(ctx context.Context, token, accountID string, from, to time.Time) (*TransactionList, error)
}
