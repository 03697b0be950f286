package banksync

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"famfin/internal/domain/account"
	"famfin/internal/domain/banking"
	"famfin/internal/domain/transaction"
	gc "famfin/internal/infrastructure/gocardless"
	"famfin/internal/infrastructure/plaid"
)

// MockClient implements gc.ClientInterface
type MockClient struct {
	NewTokenFunc               func(ctx context.Context, secretID, secretKey string) (*gc.TokenPair, error)
	RefreshTokenFunc           func(ctx context.Context, refresh string) (*gc.AccessToken, error)
	ListInstitutionsFunc       func(ctx context.Context, token, country string) ([]gc.Institution, error)
	CreateAgreementFunc        func(ctx context.Context, token string, req gc.AgreementRequest) (*gc.Agreement, error)
	CreateRequisitionFunc      func(ctx context.Context, token string, req gc.RequisitionRequest) (*gc.Requisition, error)
	GetRequisitionFunc         func(ctx context.Context, token, requisitionID string) (*gc.Requisition, error)
	GetAccountDetailsFunc      func(ctx context.Context, token, accountID string) (*gc.AccountDetails, error)
	GetAccountBalancesFunc     func(ctx context.Context, token, accountID string) ([]gc.Balance, error)
	GetAccountTransactionsFunc func(ctx context.Context, token, accountID string, from, to time.Time) (*gc.TransactionList, error)
}

func (m *MockClient) NewToken(ctx context.Context, secretID, secretKey string) (*gc.TokenPair, error) {
	if m.NewTokenFunc != nil {
		return m.NewTokenFunc(ctx, secretID, secretKey)
	}
	return &gc.TokenPair{Access: "access", AccessExpires: 86400, Refresh: "refresh", RefreshExpires: 2592000}, nil
}

func (m *MockClient) RefreshToken(ctx context.Context, refresh string) (*gc.AccessToken, error) {
	if m.RefreshTokenFunc != nil {
		return m.RefreshTokenFunc(ctx, refresh)
	}
	return &gc.AccessToken{Access: "refreshed", AccessExpires: 86400}, nil
}

func (m *MockClient) ListInstitutions(ctx context.Context, token, country string) ([]gc.Institution, error) {
	if m.ListInstitutionsFunc != nil {
		return m.ListInstitutionsFunc(ctx, token, country)
	}
	return nil, nil
}

func (m *MockClient) CreateAgreement(ctx context.Context, token string, req gc.AgreementRequest) (*gc.Agreement, error) {
	if m.CreateAgreementFunc != nil {
		return m.CreateAgreementFunc(ctx, token, req)
	}
	return &gc.Agreement{ID: "agr-1", InstitutionID: req.InstitutionID}, nil
}

func (m *MockClient) CreateRequisition(ctx context.Context, token string, req gc.RequisitionRequest) (*gc.Requisition, error) {
	if m.CreateRequisitionFunc != nil {
		return m.CreateRequisitionFunc(ctx, token, req)
	}
	return &gc.Requisition{ID: "req-1", Status: gc.StatusCreated, Link: "https://ob.gocardless.com/psd2/start/req-1"}, nil
}

func (m *MockClient) GetRequisition(ctx context.Context, token, requisitionID string) (*gc.Requisition, error) {
	if m.GetRequisitionFunc != nil {
		return m.GetRequisitionFunc(ctx, token, requisitionID)
	}
	return &gc.Requisition{ID: requisitionID, Status: gc.StatusLinked}, nil
}

func (m *MockClient) GetAccountDetails(ctx context.Context, token, accountID string) (*gc.AccountDetails, error) {
	if m.GetAccountDetailsFunc != nil {
		return m.GetAccountDetailsFunc(ctx, token, accountID)
	}
	return &gc.AccountDetails{ResourceID: accountID, Currency: "EUR", CashAccountType: "CACC"}, nil
}

func (m *MockClient) GetAccountBalances(ctx context.Context, token, accountID string) ([]gc.Balance, error) {
	if m.GetAccountBalancesFunc != nil {
		return m.GetAccountBalancesFunc(ctx, token, accountID)
	}
	return []gc.Balance{{BalanceType: gc.BalanceInterimAvailable, BalanceAmount: gc.Amount{Amount: "100.00", Currency: "EUR"}}}, nil
}

func (m *MockClient) GetAccountTransactions(ctx context.Context, token, accountID string, from, to time.Time) (*gc.TransactionList, error) {
	if m.GetAccountTransactionsFunc != nil {
		return m.GetAccountTransactionsFunc(ctx, token, accountID, from, to)
	}
	return &gc.TransactionList{}, nil
}

// MockPlaidClient implements plaid.ClientInterface
type MockPlaidClient struct {
	CreateLinkTokenFunc     func(ctx context.Context, req plaid.LinkTokenRequest) (*plaid.LinkToken, error)
	ExchangePublicTokenFunc func(ctx context.Context, publicToken string) (*plaid.ItemAccess, error)
	GetInstitutionFunc      func(ctx context.Context, institutionID string, countryCodes []string) (*plaid.Institution, error)
	GetAccountsFunc         func(ctx context.Context, accessToken string) (*plaid.AccountsResponse, error)
	GetTransactionsFunc     func(ctx context.Context, accessToken string, from, to time.Time) (*plaid.TransactionsResponse, error)
}

func (m *MockPlaidClient) CreateLinkToken(ctx context.Context, req plaid.LinkTokenRequest) (*plaid.LinkToken, error) {
	if m.CreateLinkTokenFunc != nil {
		return m.CreateLinkTokenFunc(ctx, req)
	}
	return &plaid.LinkToken{LinkToken: "link-sandbox-1"}, nil
}

func (m *MockPlaidClient) ExchangePublicToken(ctx context.Context, publicToken string) (*plaid.ItemAccess, error) {
	if m.ExchangePublicTokenFunc != nil {
		return m.ExchangePublicTokenFunc(ctx, publicToken)
	}
	return &plaid.ItemAccess{AccessToken: "access-sandbox-1", ItemID: "item-1"}, nil
}

func (m *MockPlaidClient) GetInstitution(ctx context.Context, institutionID string, countryCodes []string) (*plaid.Institution, error) {
	if m.GetInstitutionFunc != nil {
		return m.GetInstitutionFunc(ctx, institutionID, countryCodes)
	}
	return &plaid.Institution{InstitutionID: institutionID, Name: "Chase", CountryCodes: []string{"US"}}, nil
}

func (m *MockPlaidClient) GetAccounts(ctx context.Context, accessToken string) (*plaid.AccountsResponse, error) {
	if m.GetAccountsFunc != nil {
		return m.GetAccountsFunc(ctx, accessToken)
	}
	return &plaid.AccountsResponse{}, nil
}

func (m *MockPlaidClient) GetTransactions(ctx context.Context, accessToken string, from, to time.Time) (*plaid.TransactionsResponse, error) {
	if m.GetTransactionsFunc != nil {
		return m.GetTransactionsFunc(ctx, accessToken, from, to)
	}
	return &plaid.TransactionsResponse{}, nil
}

// staticTokens is a TokenSource with a fixed result.
type staticTokens struct {
	token string
	err   error
}

func (s staticTokens) AccessToken(ctx context.Context) (string, error) {
	return s.token, s.err
}

// memoryBanking is an in-memory banking.Repository.
type memoryBanking struct {
	mu          sync.Mutex
	connections []*banking.Connection
	accounts    []*banking.ConnectedAccount
	financial   map[string]*account.Account
	linkErr     map[string]error
}

func newMemoryBanking() *memoryBanking {
	return &memoryBanking{financial: map[string]*account.Account{}, linkErr: map[string]error{}}
}

func (m *memoryBanking) CreateConnection(ctx context.Context, p banking.CreateConnectionParams) (*banking.Connection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := &banking.Connection{
		ID:                 fmt.Sprintf("conn-%d", len(m.connections)+1),
		FamilyID:           p.FamilyID,
		Provider:           p.Provider,
		AccessToken:        p.AccessToken,
		ItemID:             p.ItemID,
		InstitutionID:      p.InstitutionID,
		InstitutionName:    p.InstitutionName,
		InstitutionLogo:    p.InstitutionLogo,
		InstitutionCountry: p.InstitutionCountry,
	}
	m.connections = append(m.connections, c)
	return c, nil
}

func (m *memoryBanking) GetConnection(ctx context.Context, id string) (*banking.Connection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.connections {
		if c.ID == id {
			return c, nil
		}
	}
	return nil, banking.ErrConnectionNotFound
}

func (m *memoryBanking) ListConnections(ctx context.Context, familyID string) ([]*banking.Connection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*banking.Connection
	for _, c := range m.connections {
		if c.FamilyID == familyID {
			out = append(out, c)
		}
	}
	return out, nil
}

func (m *memoryBanking) UpdateAccessToken(ctx context.Context, id, accessToken string) error {
	return nil
}

func (m *memoryBanking) LinkAccount(ctx context.Context, p banking.LinkAccountParams) (*banking.LinkedAccount, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.linkErr[p.ProviderAccountID]; err != nil {
		return nil, err
	}
	for _, a := range m.accounts {
		if a.ConnectionID == p.ConnectionID && a.ProviderAccountID == p.ProviderAccountID {
			return nil, banking.ErrAccountLinked
		}
	}
	fin := &account.Account{
		ID:            fmt.Sprintf("fin-%d", len(m.financial)+1),
		FamilyID:      p.Financial.FamilyID,
		Name:          p.Financial.Name,
		Type:          p.Financial.Type,
		Balance:       p.Financial.Balance,
		Currency:      p.Financial.Currency,
		Institution:   p.Financial.Institution,
		AccountNumber: p.Financial.AccountNumber,
		IsActive:      true,
	}
	m.financial[fin.ID] = fin
	ca := &banking.ConnectedAccount{
		ID:                 fmt.Sprintf("ca-%d", len(m.accounts)+1),
		ConnectionID:       p.ConnectionID,
		ProviderAccountID:  p.ProviderAccountID,
		AccountName:        p.AccountName,
		AccountType:        p.AccountType,
		AccountSubtype:     p.AccountSubtype,
		IBAN:               p.IBAN,
		FinancialAccountID: fin.ID,
		FamilyID:           p.Financial.FamilyID,
	}
	m.accounts = append(m.accounts, ca)
	return &banking.LinkedAccount{Connected: ca, Financial: fin}, nil
}

func (m *memoryBanking) ListConnectedAccounts(ctx context.Context, familyID string, provider banking.Provider) ([]*banking.ConnectedAccount, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	providerOf := map[string]banking.Provider{}
	for _, c := range m.connections {
		providerOf[c.ID] = c.Provider
	}
	var out []*banking.ConnectedAccount
	for _, a := range m.accounts {
		if a.FamilyID != familyID {
			continue
		}
		if provider != "" && providerOf[a.ConnectionID] != provider {
			continue
		}
		out = append(out, a)
	}
	return out, nil
}

func (m *memoryBanking) ListFamiliesWithProvider(ctx context.Context, provider banking.Provider) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	seen := map[string]bool{}
	var out []string
	for _, c := range m.connections {
		if c.Provider == provider && !seen[c.FamilyID] {
			seen[c.FamilyID] = true
			out = append(out, c.FamilyID)
		}
	}
	return out, nil
}

// addAccount seeds a GoCardless connection holding the given provider accounts.
func (m *memoryBanking) addAccount(familyID string, providerAccountIDs ...string) {
	conn, _ := m.CreateConnection(context.Background(), banking.CreateConnectionParams{
		FamilyID: familyID, Provider: banking.ProviderGoCardless, ItemID: "req-seed", InstitutionName: "DNB",
	})
	for _, id := range providerAccountIDs {
		m.LinkAccount(context.Background(), banking.LinkAccountParams{
			ConnectionID:      conn.ID,
			ProviderAccountID: id,
			AccountName:       id,
			Financial:         account.CreateParams{FamilyID: familyID, Name: id, Type: account.TypeChecking, Currency: "EUR"},
		})
	}
}

// addPlaidItem seeds a Plaid connection with the given access token holding
// the given provider accounts.
func (m *memoryBanking) addPlaidItem(familyID, accessToken string, providerAccountIDs ...string) {
	conn, _ := m.CreateConnection(context.Background(), banking.CreateConnectionParams{
		FamilyID: familyID, Provider: banking.ProviderPlaid, AccessToken: accessToken, ItemID: "item-" + accessToken, InstitutionName: "Chase",
	})
	for _, id := range providerAccountIDs {
		m.LinkAccount(context.Background(), banking.LinkAccountParams{
			ConnectionID:      conn.ID,
			ProviderAccountID: id,
			AccountName:       id,
			Financial:         account.CreateParams{FamilyID: familyID, Name: id, Type: account.TypeChecking, Currency: "USD"},
		})
	}
}

// memoryTransactions mirrors the storage-level dedup of the postgres repository.
type memoryTransactions struct {
	mu   sync.Mutex
	rows []transaction.CreateParams
	err  error
}

func (m *memoryTransactions) InsertBatch(ctx context.Context, accountID string, params []transaction.CreateParams) (transaction.BatchResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return transaction.BatchResult{}, m.err
	}
	var res transaction.BatchResult
	for _, p := range params {
		if m.exists(accountID, p) {
			res.Skipped++
			continue
		}
		m.rows = append(m.rows, p)
		res.Inserted++
	}
	return res, nil
}

func (m *memoryTransactions) exists(accountID string, p transaction.CreateParams) bool {
	for _, r := range m.rows {
		if r.AccountID != accountID {
			continue
		}
		if r.ExternalID == p.ExternalID {
			return true
		}
		if r.Date.Equal(p.Date) && r.Amount.Equal(p.Amount) && r.Description == p.Description {
			return true
		}
	}
	return false
}

func (m *memoryTransactions) ListByAccountID(ctx context.Context, accountID string, limit int) ([]*transaction.Transaction, error) {
	return nil, nil
}

func (m *memoryTransactions) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.rows)
}

// recordingBalances is a BalanceUpdater that remembers the last balance per account.
type recordingBalances struct {
	mu       sync.Mutex
	balances map[string]decimal.Decimal
}

func (r *recordingBalances) UpdateBalance(ctx context.Context, id string, balance decimal.Decimal) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.balances == nil {
		r.balances = map[string]decimal.Decimal{}
	}
	r.balances[id] = balance
	return nil
}
