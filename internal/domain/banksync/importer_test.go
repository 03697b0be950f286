package banksync

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"famfin/internal/domain/banking"
	gc "famfin/internal/infrastructure/gocardless"
)

func newTestImporter(client gc.ClientInterface, bank *memoryBanking, txs *memoryTransactions, balances *recordingBalances) *Importer {
	if balances == nil {
		balances = &recordingBalances{}
	}
	return NewImporter(client, staticTokens{token: "tok"}, bank, balances, txs, zap.NewNop())
}

func TestImportFamilyTransactions_Idempotent(t *testing.T) {
	bank := newMemoryBanking()
	bank.addAccount("fam-1", "acc-1")
	txs := &memoryTransactions{}

	client := &MockClient{
		GetAccountTransactionsFunc: func(ctx context.Context, token, accountID string, from, to time.Time) (*gc.TransactionList, error) {
			return &gc.TransactionList{
				Booked: []gc.Transaction{
					{TransactionID: "t1", BookingDate: "2024-01-10", TransactionAmount: gc.Amount{Amount: "-10.00", Currency: "EUR"}, RemittanceInformationUnstructured: "Rema 1000"},
					{TransactionID: "t2", BookingDate: "2024-01-11", TransactionAmount: gc.Amount{Amount: "2500.00", Currency: "EUR"}, RemittanceInformationUnstructured: "Salary"},
				},
				Pending: []gc.Transaction{
					{TransactionID: "t3", ValueDate: "2024-01-12", TransactionAmount: gc.Amount{Amount: "-3.20", Currency: "EUR"}},
				},
			}, nil
		},
	}
	imp := newTestImporter(client, bank, txs, nil)

	from := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC)

	first, err := imp.ImportFamilyTransactions(context.Background(), "fam-1", from, to)
	if err != nil {
		t.Fatalf("first import failed: %v", err)
	}
	if first.TransactionsImported() != 3 || first.TransactionsSkipped() != 0 {
		t.Errorf("first import imported=%d skipped=%d, want 3/0", first.TransactionsImported(), first.TransactionsSkipped())
	}

	second, err := imp.ImportFamilyTransactions(context.Background(), "fam-1", from, to)
	if err != nil {
		t.Fatalf("second import failed: %v", err)
	}
	if second.TransactionsImported() != 0 || second.TransactionsSkipped() != 3 {
		t.Errorf("second import imported=%d skipped=%d, want 0/3", second.TransactionsImported(), second.TransactionsSkipped())
	}
	if txs.count() != 3 {
		t.Errorf("stored %d transactions, want 3", txs.count())
	}

	var pending int
	for _, r := range txs.rows {
		if r.Pending {
			pending++
		}
	}
	if pending != 1 {
		t.Errorf("stored %d pending transactions, want 1", pending)
	}
}

func TestImportFamilyTransactions_HashFallbackDuplicate(t *testing.T) {
	bank := newMemoryBanking()
	bank.addAccount("fam-1", "acc-1")
	txs := &memoryTransactions{}

	starbucks := gc.Transaction{
		BookingDate:                       "2024-01-15",
		TransactionAmount:                 gc.Amount{Amount: "-5.47", Currency: "EUR"},
		RemittanceInformationUnstructured: "Starbucks Coffee",
	}
	client := &MockClient{
		GetAccountTransactionsFunc: func(ctx context.Context, token, accountID string, from, to time.Time) (*gc.TransactionList, error) {
			return &gc.TransactionList{Booked: []gc.Transaction{starbucks}}, nil
		},
	}
	imp := newTestImporter(client, bank, txs, nil)
	from, to := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC)

	if _, err := imp.ImportFamilyTransactions(context.Background(), "fam-1", from, to); err != nil {
		t.Fatalf("first import failed: %v", err)
	}
	res, err := imp.ImportFamilyTransactions(context.Background(), "fam-1", from, to)
	if err != nil {
		t.Fatalf("second import failed: %v", err)
	}

	if res.TransactionsSkipped() != 1 || res.TransactionsImported() != 0 {
		t.Errorf("second import imported=%d skipped=%d, want 0/1", res.TransactionsImported(), res.TransactionsSkipped())
	}
	if txs.count() != 1 {
		t.Fatalf("stored %d transactions, want 1", txs.count())
	}
	stored := txs.rows[0]
	if stored.ExternalID != externalID("acc-1", starbucks) {
		t.Errorf("ExternalID = %q, want hash fallback", stored.ExternalID)
	}
	if !stored.Amount.Equal(decimal.RequireFromString("5.47")) {
		t.Errorf("Amount = %s, want 5.47", stored.Amount)
	}
}

func TestImportFamilyTransactions_NoConnectedAccounts(t *testing.T) {
	imp := newTestImporter(&MockClient{}, newMemoryBanking(), &memoryTransactions{}, nil)

	_, err := imp.ImportFamilyTransactions(context.Background(), "fam-1", time.Now().AddDate(0, 0, -7), time.Now())
	if !errors.Is(err, ErrNoConnectedAccounts) {
		t.Errorf("ImportFamilyTransactions() error = %v, want ErrNoConnectedAccounts", err)
	}
}

func TestImportFamilyTransactions_TokenFailureAborts(t *testing.T) {
	bank := newMemoryBanking()
	bank.addAccount("fam-1", "acc-1")
	client := &MockClient{
		GetAccountTransactionsFunc: func(ctx context.Context, token, accountID string, from, to time.Time) (*gc.TransactionList, error) {
			t.Error("no account call expected after token failure")
			return nil, nil
		},
	}
	imp := NewImporter(client, staticTokens{err: ErrTokenUnavailable}, bank, &recordingBalances{}, &memoryTransactions{}, zap.NewNop())

	if _, err := imp.ImportFamilyTransactions(context.Background(), "fam-1", time.Now(), time.Now()); !errors.Is(err, ErrTokenUnavailable) {
		t.Errorf("ImportFamilyTransactions() error = %v, want ErrTokenUnavailable", err)
	}
}

func TestImportFamilyTransactions_BatchFailureIsPerAccount(t *testing.T) {
	bank := newMemoryBanking()
	bank.addAccount("fam-1", "acc-1", "acc-2")
	client := &MockClient{
		GetAccountTransactionsFunc: func(ctx context.Context, token, accountID string, from, to time.Time) (*gc.TransactionList, error) {
			if accountID == "acc-1" {
				return &gc.TransactionList{Booked: []gc.Transaction{
					{TransactionID: "ok", TransactionAmount: gc.Amount{Amount: "1.00"}},
					{TransactionID: "bad", TransactionAmount: gc.Amount{Amount: "not-a-number"}},
				}}, nil
			}
			return &gc.TransactionList{Booked: []gc.Transaction{{TransactionID: "t", TransactionAmount: gc.Amount{Amount: "2.00"}}}}, nil
		},
	}
	txs := &memoryTransactions{}
	imp := newTestImporter(client, bank, txs, nil)

	res, err := imp.ImportFamilyTransactions(context.Background(), "fam-1", time.Now(), time.Now())
	if err != nil {
		t.Fatalf("ImportFamilyTransactions() failed: %v", err)
	}
	if res.AccountsUpdated() != 1 || len(res.Failed()) != 1 {
		t.Errorf("updated=%d failed=%d, want 1/1", res.AccountsUpdated(), len(res.Failed()))
	}
	// Nothing from the failing account's batch may be stored.
	if txs.count() != 1 || txs.rows[0].ExternalID != "t" {
		t.Errorf("stored rows = %+v, want only acc-2's transaction", txs.rows)
	}
}

func TestSyncBalances_PartialFailure(t *testing.T) {
	bank := newMemoryBanking()
	bank.addAccount("fam-1", "acc-1", "acc-2", "acc-3")
	balances := &recordingBalances{}

	client := &MockClient{
		GetAccountBalancesFunc: func(ctx context.Context, token, accountID string) ([]gc.Balance, error) {
			if accountID == "acc-2" {
				return nil, errors.New("dial tcp: connection reset by peer")
			}
			return []gc.Balance{
				{BalanceType: "closingBooked", BalanceAmount: gc.Amount{Amount: "10.00"}},
				{BalanceType: "interimAvailable", BalanceAmount: gc.Amount{Amount: "12.50"}},
			}, nil
		},
	}
	imp := newTestImporter(client, bank, &memoryTransactions{}, balances)

	res, err := imp.SyncBalances(context.Background(), "fam-1")
	if err != nil {
		t.Fatalf("SyncBalances() failed: %v", err)
	}
	if res.AccountsUpdated() != 2 {
		t.Errorf("AccountsUpdated() = %d, want 2", res.AccountsUpdated())
	}
	failed := res.Failed()
	if len(failed) != 1 || failed[0].ProviderAccountID != "acc-2" {
		t.Errorf("Failed() = %+v, want acc-2", failed)
	}
	if len(balances.balances) != 2 {
		t.Errorf("stored %d balances, want 2", len(balances.balances))
	}
	for id, b := range balances.balances {
		if !b.Equal(decimal.RequireFromString("12.50")) {
			t.Errorf("balance of %s = %s, want interimAvailable 12.50", id, b)
		}
	}
}

func TestSyncBalances_NoAccounts(t *testing.T) {
	imp := NewImporter(&MockClient{}, staticTokens{err: ErrTokenUnavailable}, newMemoryBanking(), &recordingBalances{}, &memoryTransactions{}, zap.NewNop())

	res, err := imp.SyncBalances(context.Background(), "fam-1")
	if err != nil {
		t.Fatalf("SyncBalances() failed: %v", err)
	}
	if len(res.Accounts) != 0 {
		t.Errorf("SyncBalances() accounts = %d, want 0", len(res.Accounts))
	}
}

func TestImportAccount(t *testing.T) {
	bank := newMemoryBanking()
	client := &MockClient{
		GetAccountDetailsFunc: func(ctx context.Context, token, accountID string) (*gc.AccountDetails, error) {
			return &gc.AccountDetails{
				ResourceID:      accountID,
				IBAN:            "NO9386011117947",
				Product:         "Sparekonto",
				CashAccountType: "SVGS",
			}, nil
		},
		GetAccountBalancesFunc: func(ctx context.Context, token, accountID string) ([]gc.Balance, error) {
			return []gc.Balance{{BalanceType: "expected", BalanceAmount: gc.Amount{Amount: "1500.75", Currency: "NOK"}}}, nil
		},
	}
	imp := newTestImporter(client, bank, &memoryTransactions{}, nil)
	conn := &banking.Connection{ID: "conn-1", FamilyID: "fam-1", InstitutionName: "DNB"}

	linked, err := imp.ImportAccount(context.Background(), "tok", conn, "acc-1")
	if err != nil {
		t.Fatalf("ImportAccount() failed: %v", err)
	}

	fin := linked.Financial
	if fin.Name != "DNB Account" || fin.Type != "SAVINGS" || fin.Currency != "NOK" || fin.Institution != "DNB" {
		t.Errorf("financial account = %+v", fin)
	}
	if !fin.Balance.Equal(decimal.RequireFromString("1500.75")) {
		t.Errorf("Balance = %s, want 1500.75", fin.Balance)
	}
	if fin.AccountNumber == nil || *fin.AccountNumber != "****7947" {
		t.Errorf("AccountNumber = %v, want ****7947", fin.AccountNumber)
	}

	ca := linked.Connected
	if ca.AccountType != "SVGS" || ca.AccountSubtype == nil || *ca.AccountSubtype != "Sparekonto" {
		t.Errorf("connected account = %+v", ca)
	}
	if ca.IBAN == nil || *ca.IBAN != "NO9386011117947" {
		t.Errorf("IBAN = %v", ca.IBAN)
	}
	if ca.FinancialAccountID != fin.ID {
		t.Errorf("FinancialAccountID = %q, want %q", ca.FinancialAccountID, fin.ID)
	}
}
