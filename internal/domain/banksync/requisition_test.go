package banksync

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	gc "famfin/internal/infrastructure/gocardless"
)

func newTestLinkFlow(client *MockClient, bank *memoryBanking, txs *memoryTransactions) *LinkFlow {
	tokens := staticTokens{token: "tok"}
	imp := NewImporter(client, tokens, bank, &recordingBalances{}, txs, zap.NewNop())
	resolver := NewInstitutionResolver(client, zap.NewNop())
	return NewLinkFlow(client, tokens, resolver, imp, bank, "", zap.NewNop())
}

func TestCreateRequisition(t *testing.T) {
	var got gc.RequisitionRequest
	client := &MockClient{
		ListInstitutionsFunc: func(ctx context.Context, token, country string) ([]gc.Institution, error) {
			return []gc.Institution{{ID: "INST1", Name: "DNB"}}, nil
		},
		CreateRequisitionFunc: func(ctx context.Context, token string, req gc.RequisitionRequest) (*gc.Requisition, error) {
			got = req
			return &gc.Requisition{ID: "req-9", Link: "https://ob.gocardless.com/psd2/start/req-9"}, nil
		},
	}
	flow := newTestLinkFlow(client, newMemoryBanking(), &memoryTransactions{})
	flow.now = func() time.Time { return time.UnixMilli(1705312800000) }

	link, err := flow.CreateRequisition(context.Background(), "fam-1", Bank{Name: "dnb", Country: "NO"}, "https://app.example/callback")
	if err != nil {
		t.Fatalf("CreateRequisition() failed: %v", err)
	}

	if link.RequisitionID != "req-9" || link.AuthURL != "https://ob.gocardless.com/psd2/start/req-9" {
		t.Errorf("link = %+v", link)
	}
	if link.InstitutionID != "INST1" || link.AgreementID != "agr-1" {
		t.Errorf("link institution/agreement = %s/%s, want INST1/agr-1", link.InstitutionID, link.AgreementID)
	}
	if got.Reference != "fam-1-1705312800000" {
		t.Errorf("Reference = %q, want fam-1-1705312800000", got.Reference)
	}
	if got.UserLanguage != "EN" || got.Agreement != "agr-1" || got.InstitutionID != "INST1" || got.Redirect != "https://app.example/callback" {
		t.Errorf("requisition request = %+v", got)
	}
}

func TestCreateRequisition_BankNotFound(t *testing.T) {
	client := &MockClient{
		CreateAgreementFunc: func(ctx context.Context, token string, req gc.AgreementRequest) (*gc.Agreement, error) {
			t.Error("no agreement may be created for an unknown bank")
			return nil, nil
		},
	}
	flow := newTestLinkFlow(client, newMemoryBanking(), &memoryTransactions{})

	_, err := flow.CreateRequisition(context.Background(), "fam-1", Bank{Name: "Nowhere Bank", Country: "NO"}, "https://app.example")
	if !errors.Is(err, ErrInstitutionNotFound) {
		t.Errorf("CreateRequisition() error = %v, want ErrInstitutionNotFound", err)
	}
}

func TestCompleteConnection_NotLinkedCreatesNothing(t *testing.T) {
	statuses := []string{
		gc.StatusCreated, gc.StatusGivingConsent, gc.StatusUndergoingAuth, gc.StatusSelectingAccounts,
		gc.StatusGrantingAccess, gc.StatusExpired, gc.StatusRejected, gc.StatusSuspended, "",
	}

	for _, status := range statuses {
		t.Run("status "+status, func(t *testing.T) {
			client := &MockClient{
				GetRequisitionFunc: func(ctx context.Context, token, requisitionID string) (*gc.Requisition, error) {
					return &gc.Requisition{ID: requisitionID, Status: status, Accounts: []string{"acc-1"}}, nil
				},
				GetAccountDetailsFunc: func(ctx context.Context, token, accountID string) (*gc.AccountDetails, error) {
					t.Error("accounts must not be fetched for an unlinked requisition")
					return nil, nil
				},
			}
			bank := newMemoryBanking()
			flow := newTestLinkFlow(client, bank, &memoryTransactions{})

			_, err := flow.CompleteConnection(context.Background(), "fam-1", "req-1", Bank{Name: "DNB", Country: "NO"})
			if !errors.Is(err, ErrRequisitionNotLinked) {
				t.Fatalf("CompleteConnection() error = %v, want ErrRequisitionNotLinked", err)
			}
			var nle *NotLinkedError
			if !errors.As(err, &nle) || nle.Status != status {
				t.Errorf("CompleteConnection() error = %v, want NotLinkedError with status %q", err, status)
			}
			if len(bank.connections) != 0 {
				t.Errorf("created %d connections, want 0", len(bank.connections))
			}
		})
	}
}

func TestNotLinkedError_Message(t *testing.T) {
	err := &NotLinkedError{RequisitionID: "req-1", Status: gc.StatusExpired}
	if !strings.Contains(err.Error(), "expired") {
		t.Errorf("Error() = %q, want it to name the expired status", err.Error())
	}
	if !err.Terminal() {
		t.Error("expired requisition should be terminal")
	}
	if (&NotLinkedError{Status: gc.StatusUndergoingAuth}).Terminal() {
		t.Error("requisition undergoing authentication should not be terminal")
	}
}

func TestCompleteConnection_NoAccounts(t *testing.T) {
	client := &MockClient{
		GetRequisitionFunc: func(ctx context.Context, token, requisitionID string) (*gc.Requisition, error) {
			return &gc.Requisition{ID: requisitionID, Status: gc.StatusLinked}, nil
		},
	}
	bank := newMemoryBanking()
	flow := newTestLinkFlow(client, bank, &memoryTransactions{})

	_, err := flow.CompleteConnection(context.Background(), "fam-1", "req-1", Bank{Name: "DNB", Country: "NO"})
	if !errors.Is(err, ErrNoAccounts) {
		t.Errorf("CompleteConnection() error = %v, want ErrNoAccounts", err)
	}
	if len(bank.connections) != 0 {
		t.Errorf("created %d connections, want 0", len(bank.connections))
	}
}

func TestCompleteConnection_PartialFailure(t *testing.T) {
	client := &MockClient{
		GetRequisitionFunc: func(ctx context.Context, token, requisitionID string) (*gc.Requisition, error) {
			return &gc.Requisition{
				ID:            requisitionID,
				Status:        gc.StatusLinked,
				InstitutionID: "INST1",
				Accounts:      []string{"acc-1", "acc-2", "acc-3"},
			}, nil
		},
		GetAccountBalancesFunc: func(ctx context.Context, token, accountID string) ([]gc.Balance, error) {
			if accountID == "acc-2" {
				return nil, errors.New("read tcp: i/o timeout")
			}
			return []gc.Balance{{BalanceType: "interimAvailable", BalanceAmount: gc.Amount{Amount: "42.00", Currency: "NOK"}}}, nil
		},
		GetAccountTransactionsFunc: func(ctx context.Context, token, accountID string, from, to time.Time) (*gc.TransactionList, error) {
			if to.Sub(from) != ConnectionWindow {
				t.Errorf("transaction window = %v, want %v", to.Sub(from), ConnectionWindow)
			}
			return &gc.TransactionList{Booked: []gc.Transaction{
				{TransactionID: accountID + "-t1", BookingDate: "2024-01-15", TransactionAmount: gc.Amount{Amount: "-9.90"}},
			}}, nil
		},
	}
	bank := newMemoryBanking()
	txs := &memoryTransactions{}
	flow := newTestLinkFlow(client, bank, txs)

	res, err := flow.CompleteConnection(context.Background(), "fam-1", "req-1", Bank{Name: "DNB", Country: "no"})
	if err != nil {
		t.Fatalf("CompleteConnection() failed: %v", err)
	}

	if res.AccountsUpdated() != 2 {
		t.Errorf("AccountsUpdated() = %d, want 2", res.AccountsUpdated())
	}
	if res.TransactionsImported() != 2 {
		t.Errorf("TransactionsImported() = %d, want 2", res.TransactionsImported())
	}
	if len(bank.accounts) != 2 {
		t.Errorf("linked %d accounts, want 2", len(bank.accounts))
	}
	for _, a := range bank.accounts {
		if a.ProviderAccountID == "acc-2" {
			t.Error("acc-2 must not be linked")
		}
	}

	if len(bank.connections) != 1 {
		t.Fatalf("created %d connections, want 1", len(bank.connections))
	}
	conn := bank.connections[0]
	if conn.AccessToken != "req-1" || conn.ItemID != "req-1" || conn.InstitutionID != "INST1" || conn.InstitutionCountry != "NO" {
		t.Errorf("connection = %+v", conn)
	}
}

func TestCompleteConnection_TransactionFailureKeepsAccount(t *testing.T) {
	client := &MockClient{
		GetRequisitionFunc: func(ctx context.Context, token, requisitionID string) (*gc.Requisition, error) {
			return &gc.Requisition{ID: requisitionID, Status: gc.StatusLinked, Accounts: []string{"acc-1"}}, nil
		},
		GetAccountTransactionsFunc: func(ctx context.Context, token, accountID string, from, to time.Time) (*gc.TransactionList, error) {
			return nil, &gc.APIError{StatusCode: 429, Body: "rate limit exceeded"}
		},
	}
	flow := newTestLinkFlow(client, newMemoryBanking(), &memoryTransactions{})

	res, err := flow.CompleteConnection(context.Background(), "fam-1", "req-1", Bank{Name: "DNB", Country: "NO"})
	if err != nil {
		t.Fatalf("CompleteConnection() failed: %v", err)
	}
	if res.AccountsUpdated() != 1 || len(res.Failed()) != 0 {
		t.Errorf("updated=%d failed=%d, want 1/0", res.AccountsUpdated(), len(res.Failed()))
	}
	if res.Accounts[0].TransactionErr == nil {
		t.Error("TransactionErr should report the failed import")
	}
	if len(res.Summary().Errors) != 1 {
		t.Errorf("Summary().Errors = %v, want one entry", res.Summary().Errors)
	}
}
