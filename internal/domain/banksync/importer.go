package banksync

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"famfin/internal/domain/account"
	"famfin/internal/domain/banking"
	"famfin/internal/domain/transaction"
	gc "famfin/internal/infrastructure/gocardless"
)

// TokenSource supplies the bearer token for a whole operation.
type TokenSource interface {
	AccessToken(ctx context.Context) (string, error)
}

// BalanceUpdater stores a freshly synced balance on a financial account.
type BalanceUpdater interface {
	UpdateBalance(ctx context.Context, id string, balance decimal.Decimal) error
}

// Importer fetches accounts, balances and transactions for linked accounts
// and persists them. Accounts are processed one after another; a failing
// account is recorded in the result and the loop continues.
type Importer struct {
	client       gc.ClientInterface
	tokens       TokenSource
	banking      banking.Repository
	balances     BalanceUpdater
	transactions transaction.Repository
	logger       *zap.Logger
	now          func() time.Time
}

func NewImporter(
	client gc.ClientInterface,
	tokens TokenSource,
	bankingRepo banking.Repository,
	balances BalanceUpdater,
	transactions transaction.Repository,
	logger *zap.Logger,
) *Importer {
	return &Importer{
		client:       client,
		tokens:       tokens,
		banking:      bankingRepo,
		balances:     balances,
		transactions: transactions,
		logger:       logger.Named("importer"),
		now:          time.Now,
	}
}

// ImportAccount reads details and balances of a newly linked account and
// creates its FinancialAccount and ConnectedAccount.
func (i *Importer) ImportAccount(ctx context.Context, token string, conn *banking.Connection, providerAccountID string) (*banking.LinkedAccount, error) {
	details, err := i.client.GetAccountDetails(ctx, token, providerAccountID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch account details: %w", err)
	}
	balances, err := i.client.GetAccountBalances(ctx, token, providerAccountID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch account balances: %w", err)
	}

	balance, balanceCurrency, err := balanceAmount(balances)
	if err != nil {
		return nil, fmt.Errorf("failed to parse balance: %w", err)
	}

	currency := defaultCurrency
	for _, c := range []string{details.Currency, balanceCurrency} {
		if c = strings.ToUpper(c); account.IsValidCurrency(c) {
			currency = c
			break
		}
	}

	name := accountName(details, conn.InstitutionName)
	cashType := details.CashAccountType
	if cashType == "" {
		cashType = "unknown"
	}

	linked, err := i.banking.LinkAccount(ctx, banking.LinkAccountParams{
		ConnectionID:      conn.ID,
		ProviderAccountID: providerAccountID,
		AccountName:       name,
		AccountType:       cashType,
		AccountSubtype:    optional(details.Product),
		IBAN:              optional(details.IBAN),
		Financial: account.CreateParams{
			FamilyID:      conn.FamilyID,
			Name:          name,
			Type:          mapAccountType(details),
			Balance:       balance,
			Currency:      currency,
			Institution:   conn.InstitutionName,
			AccountNumber: maskAccountNumber(details, providerAccountID),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to store account: %w", err)
	}
	return linked, nil
}

// ImportAccountTransactions fetches booked and pending transactions in
// [from, to] and stores them as one batch.
func (i *Importer) ImportAccountTransactions(ctx context.Context, token, familyID string, ca *banking.ConnectedAccount, from, to time.Time) (transaction.BatchResult, error) {
	list, err := i.client.GetAccountTransactions(ctx, token, ca.ProviderAccountID, from, to)
	if err != nil {
		return transaction.BatchResult{}, fmt.Errorf("failed to fetch transactions: %w", err)
	}

	now := i.now()
	params := make([]transaction.CreateParams, 0, len(list.Booked)+len(list.Pending))
	for _, group := range []struct {
		txs     []gc.Transaction
		pending bool
	}{{list.Booked, false}, {list.Pending, true}} {
		for _, tx := range group.txs {
			p, err := mapTransaction(familyID, ca.FinancialAccountID, ca.ProviderAccountID, tx, group.pending, now)
			if err != nil {
				return transaction.BatchResult{}, fmt.Errorf("failed to map transaction %s: %w", externalID(ca.ProviderAccountID, tx), err)
			}
			params = append(params, p)
		}
	}

	if len(params) == 0 {
		return transaction.BatchResult{}, nil
	}

	res, err := i.transactions.InsertBatch(ctx, ca.FinancialAccountID, params)
	if err != nil {
		return transaction.BatchResult{}, fmt.Errorf("failed to store transactions: %w", err)
	}
	return res, nil
}

// SyncAccountBalance refreshes one financial account balance.
func (i *Importer) SyncAccountBalance(ctx context.Context, token string, ca *banking.ConnectedAccount) (decimal.Decimal, error) {
	balances, err := i.client.GetAccountBalances(ctx, token, ca.ProviderAccountID)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to fetch account balances: %w", err)
	}
	balance, _, err := balanceAmount(balances)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to parse balance: %w", err)
	}
	if err := i.balances.UpdateBalance(ctx, ca.FinancialAccountID, balance); err != nil {
		return decimal.Zero, fmt.Errorf("failed to store balance: %w", err)
	}
	return balance, nil
}

// SyncBalances refreshes the balance of every GoCardless account of the family.
func (i *Importer) SyncBalances(ctx context.Context, familyID string) (*SyncResult, error) {
	accounts, err := i.banking.ListConnectedAccounts(ctx, familyID, banking.ProviderGoCardless)
	if err != nil {
		return nil, fmt.Errorf("failed to list connected accounts: %w", err)
	}

	result := &SyncResult{FamilyID: familyID, Provider: banking.ProviderGoCardless, StartedAt: i.now()}
	if len(accounts) == 0 {
		result.FinishedAt = i.now()
		return result, nil
	}

	token, err := i.tokens.AccessToken(ctx)
	if err != nil {
		return nil, err
	}

	log := i.logger.With(zap.String("family_id", familyID))
	for _, ca := range accounts {
		r := AccountResult{
			ProviderAccountID:  ca.ProviderAccountID,
			FinancialAccountID: ca.FinancialAccountID,
			AccountName:        ca.AccountName,
		}
		balance, err := i.SyncAccountBalance(ctx, token, ca)
		if err != nil {
			r.Err = err
			log.Warn("balance sync failed", zap.String("provider_account_id", ca.ProviderAccountID), zap.Error(err))
		} else {
			r.Balance = &balance
		}
		result.Accounts = append(result.Accounts, r)
	}

	result.FinishedAt = i.now()
	log.Info("balance sync complete",
		zap.Int("accounts_updated", result.AccountsUpdated()),
		zap.Int("accounts_failed", len(result.Failed())))
	return result, nil
}

// ImportFamilyTransactions imports [from, to] for every GoCardless account of
// the family. Returns ErrNoConnectedAccounts when the family has none.
func (i *Importer) ImportFamilyTransactions(ctx context.Context, familyID string, from, to time.Time) (*SyncResult, error) {
	accounts, err := i.banking.ListConnectedAccounts(ctx, familyID, banking.ProviderGoCardless)
	if err != nil {
		return nil, fmt.Errorf("failed to list connected accounts: %w", err)
	}
	if len(accounts) == 0 {
		return nil, ErrNoConnectedAccounts
	}

	token, err := i.tokens.AccessToken(ctx)
	if err != nil {
		return nil, err
	}

	result := &SyncResult{
		FamilyID:  familyID,
		Provider:  banking.ProviderGoCardless,
		From:      &from,
		To:        &to,
		StartedAt: i.now(),
	}
	log := i.logger.With(zap.String("family_id", familyID))
	for _, ca := range accounts {
		r := AccountResult{
			ProviderAccountID:  ca.ProviderAccountID,
			FinancialAccountID: ca.FinancialAccountID,
			AccountName:        ca.AccountName,
		}
		res, err := i.ImportAccountTransactions(ctx, token, familyID, ca, from, to)
		if err != nil {
			r.Err = err
			log.Warn("transaction import failed", zap.String("provider_account_id", ca.ProviderAccountID), zap.Error(err))
		} else {
			r.Imported, r.Skipped = res.Inserted, res.Skipped
		}
		result.Accounts = append(result.Accounts, r)
	}

	result.FinishedAt = i.now()
	log.Info("transaction import complete",
		zap.Int("imported", result.TransactionsImported()),
		zap.Int("skipped", result.TransactionsSkipped()),
		zap.Int("accounts_failed", len(result.Failed())))
	return result, nil
}
