package http

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"time"

	"famfin/internal/domain/account"
	"famfin/internal/domain/banking"
	"famfin/internal/domain/banksync"
	"famfin/internal/domain/family"
	"famfin/internal/domain/notification"
	"famfin/internal/infrastructure/plaid"
	"famfin/internal/shared/middleware"
)

type MockBankSyncer struct {
	CreateRequisitionFunc    func(ctx context.Context, userID string, bank banksync.Bank, redirectURL string) (*banksync.RequisitionLink, error)
	CompleteConnectionFunc   func(ctx context.Context, userID, requisitionID string, bank banksync.Bank) (*banksync.SyncResult, error)
	ImportTransactionsFunc   func(ctx context.Context, userID string, from, to *time.Time) (*banksync.SyncResult, error)
	SyncBalancesFunc         func(ctx context.Context, userID string) (*banksync.SyncResult, error)
	SyncAllProvidersFunc     func(ctx context.Context, userID string) ([]banksync.ProviderOutcome, error)
	CreatePlaidLinkTokenFunc func(ctx context.Context, userID string) (*plaid.LinkToken, error)
	ExchangePlaidTokenFunc   func(ctx context.Context, userID, publicToken string) (*banksync.SyncResult, error)
}

func (m *MockBankSyncer) CreateRequisition(ctx context.Context, userID string, bank banksync.Bank, redirectURL string) (*banksync.RequisitionLink, error) {
	if m.CreateRequisitionFunc != nil {
		return m.CreateRequisitionFunc(ctx, userID, bank, redirectURL)
	}
	return &banksync.RequisitionLink{}, nil
}

func (m *MockBankSyncer) CompleteConnection(ctx context.Context, userID, requisitionID string, bank banksync.Bank) (*banksync.SyncResult, error) {
	if m.CompleteConnectionFunc != nil {
		return m.CompleteConnectionFunc(ctx, userID, requisitionID, bank)
	}
	return &banksync.SyncResult{}, nil
}

func (m *MockBankSyncer) ImportTransactions(ctx context.Context, userID string, from, to *time.Time) (*banksync.SyncResult, error) {
	if m.ImportTransactionsFunc != nil {
		return m.ImportTransactionsFunc(ctx, userID, from, to)
	}
	return &banksync.SyncResult{}, nil
}

func (m *MockBankSyncer) SyncBalances(ctx context.Context, userID string) (*banksync.SyncResult, error) {
	if m.SyncBalancesFunc != nil {
		return m.SyncBalancesFunc(ctx, userID)
	}
	return &banksync.SyncResult{}, nil
}

func (m *MockBankSyncer) SyncAllProviders(ctx context.Context, userID string) ([]banksync.ProviderOutcome, error) {
	if m.SyncAllProvidersFunc != nil {
		return m.SyncAllProvidersFunc(ctx, userID)
	}
	return nil, nil
}

func (m *MockBankSyncer) CreatePlaidLinkToken(ctx context.Context, userID string) (*plaid.LinkToken, error) {
	if m.CreatePlaidLinkTokenFunc != nil {
		return m.CreatePlaidLinkTokenFunc(ctx, userID)
	}
	return &plaid.LinkToken{}, nil
}

func (m *MockBankSyncer) ExchangePlaidToken(ctx context.Context, userID, publicToken string) (*banksync.SyncResult, error) {
	if m.ExchangePlaidTokenFunc != nil {
		return m.ExchangePlaidTokenFunc(ctx, userID, publicToken)
	}
	return &banksync.SyncResult{}, nil
}

type MockConnectionLister struct {
	ListConnectionsFunc func(ctx context.Context, familyID string) ([]*banking.ConnectionSummary, error)
}

func (m *MockConnectionLister) ListConnections(ctx context.Context, familyID string) ([]*banking.ConnectionSummary, error) {
	if m.ListConnectionsFunc != nil {
		return m.ListConnectionsFunc(ctx, familyID)
	}
	return nil, nil
}

// MockFamilyResolver maps every user to FamilyID unless Err is set.
type MockFamilyResolver struct {
	FamilyID string
	Err      error
}

func (m *MockFamilyResolver) ActiveFamilyID(ctx context.Context, userID string) (string, error) {
	if m.Err != nil {
		return "", m.Err
	}
	if m.FamilyID == "" {
		return "", family.ErrFamilyNotFound
	}
	return m.FamilyID, nil
}

type MockAccountLister struct {
	GetAccountFunc   func(ctx context.Context, accountID, familyID string) (*account.Account, error)
	ListAccountsFunc func(ctx context.Context, familyID string) ([]*account.Account, error)
}

func (m *MockAccountLister) GetAccount(ctx context.Context, accountID, familyID string) (*account.Account, error) {
	if m.GetAccountFunc != nil {
		return m.GetAccountFunc(ctx, accountID, familyID)
	}
	return nil, account.ErrAccountNotFound
}

func (m *MockAccountLister) ListAccounts(ctx context.Context, familyID string) ([]*account.Account, error) {
	if m.ListAccountsFunc != nil {
		return m.ListAccountsFunc(ctx, familyID)
	}
	return nil, nil
}

type MockDeviceRegistrar struct {
	RegisterDeviceFunc func(ctx context.Context, params notification.CreateDeviceTokenParams) (*notification.DeviceToken, error)
}

func (m *MockDeviceRegistrar) RegisterDevice(ctx context.Context, params notification.CreateDeviceTokenParams) (*notification.DeviceToken, error) {
	if m.RegisterDeviceFunc != nil {
		return m.RegisterDeviceFunc(ctx, params)
	}
	return &notification.DeviceToken{Token: params.Token}, nil
}

// newRequest builds a request authenticated as userID; an empty userID leaves it anonymous.
func newRequest(method, target, body, userID string) *http.Request {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	if userID != "" {
		req = req.WithContext(context.WithValue(req.Context(), middleware.UserIDKey, userID))
	}
	return req
}
