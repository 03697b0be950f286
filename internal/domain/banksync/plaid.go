package banksync

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"famfin/internal/domain/account"
	"famfin/internal/domain/banking"
	"famfin/internal/domain/transaction"
	"famfin/internal/infrastructure/plaid"
)

const (
	plaidCurrency        = "USD"
	plaidDescription     = "Plaid Transaction"
	plaidFallbackPrefix  = "plaid-"
	plaidInstitutionName = "Plaid"
)

// PlaidSyncer links Plaid items and keeps their accounts in sync. Each item is
// stored as one connection whose access token is used for every call.
type PlaidSyncer struct {
	client       plaid.ClientInterface
	banking      banking.Repository
	balances     BalanceUpdater
	transactions transaction.Repository
	clientName   string
	countryCodes []string
	logger       *zap.Logger
	now          func() time.Time
}

func NewPlaidSyncer(
	client plaid.ClientInterface,
	bankingRepo banking.Repository,
	balances BalanceUpdater,
	transactions transaction.Repository,
	clientName string,
	countryCodes []string,
	logger *zap.Logger,
) *PlaidSyncer {
	if len(countryCodes) == 0 {
		countryCodes = []string{"US"}
	}
	return &PlaidSyncer{
		client:       client,
		banking:      bankingRepo,
		balances:     balances,
		transactions: transactions,
		clientName:   clientName,
		countryCodes: countryCodes,
		logger:       logger.Named("plaid"),
		now:          time.Now,
	}
}

// CreateLinkToken starts a Plaid Link session on behalf of the family.
func (p *PlaidSyncer) CreateLinkToken(ctx context.Context, familyID string) (*plaid.LinkToken, error) {
	token, err := p.client.CreateLinkToken(ctx, plaid.LinkTokenRequest{
		ClientName:   p.clientName,
		Language:     "en",
		CountryCodes: p.countryCodes,
		Products:     []string{"transactions"},
		User:         plaid.LinkTokenUser{ClientUserID: familyID},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create link token: %w", err)
	}
	return token, nil
}

// ExchangePublicToken turns a Link public token into a stored connection and
// links every account of the item. A failing account is recorded in the
// result and the others are still linked.
func (p *PlaidSyncer) ExchangePublicToken(ctx context.Context, familyID, publicToken string) (*SyncResult, error) {
	access, err := p.client.ExchangePublicToken(ctx, publicToken)
	if err != nil {
		return nil, fmt.Errorf("failed to exchange public token: %w", err)
	}
	accounts, err := p.client.GetAccounts(ctx, access.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch accounts: %w", err)
	}

	log := p.logger.With(zap.String("family_id", familyID), zap.String("item_id", access.ItemID))
	inst := p.institution(ctx, accounts.Item.InstitutionID, log)

	conn, err := p.banking.CreateConnection(ctx, banking.CreateConnectionParams{
		FamilyID:           familyID,
		Provider:           banking.ProviderPlaid,
		AccessToken:        access.AccessToken,
		ItemID:             access.ItemID,
		InstitutionID:      accounts.Item.InstitutionID,
		InstitutionName:    inst.Name,
		InstitutionLogo:    optional(inst.Logo),
		InstitutionCountry: firstNonEmpty(append(inst.CountryCodes, p.countryCodes...)...),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to store connection: %w", err)
	}

	result := &SyncResult{
		FamilyID:     familyID,
		Provider:     banking.ProviderPlaid,
		ConnectionID: conn.ID,
		StartedAt:    p.now(),
	}
	for _, a := range accounts.Accounts {
		r := AccountResult{ProviderAccountID: a.AccountID}
		name := firstNonEmpty(a.Name, a.OfficialName, conn.InstitutionName+" Account")
		balance := plaidBalance(a.Balances)

		linked, err := p.banking.LinkAccount(ctx, banking.LinkAccountParams{
			ConnectionID:      conn.ID,
			ProviderAccountID: a.AccountID,
			AccountName:       name,
			AccountType:       a.Type,
			AccountSubtype:    optional(a.Subtype),
			Financial: account.CreateParams{
				FamilyID:      familyID,
				Name:          name,
				Type:          plaidAccountType(a),
				Balance:       balance,
				Currency:      plaidCurrencyCode(a.Balances.ISOCurrencyCode),
				Institution:   conn.InstitutionName,
				AccountNumber: plaidMask(a.Mask),
			},
		})
		if err != nil {
			r.Err = fmt.Errorf("failed to store account: %w", err)
			log.Warn("account link failed", zap.String("provider_account_id", a.AccountID), zap.Error(err))
			result.Accounts = append(result.Accounts, r)
			continue
		}
		r.FinancialAccountID = linked.Financial.ID
		r.AccountName = linked.Financial.Name
		r.Balance = &balance
		result.Accounts = append(result.Accounts, r)
	}

	result.FinishedAt = p.now()
	log.Info("plaid item linked",
		zap.String("connection_id", conn.ID),
		zap.Int("accounts_updated", result.AccountsUpdated()))
	return result, nil
}

// institution looks up display metadata. Lookup failures fall back to a
// generic name; the item is still usable without them.
func (p *PlaidSyncer) institution(ctx context.Context, id string, log *zap.Logger) plaid.Institution {
	fallback := plaid.Institution{InstitutionID: id, Name: plaidInstitutionName}
	if id == "" {
		return fallback
	}
	inst, err := p.client.GetInstitution(ctx, id, p.countryCodes)
	if err != nil {
		log.Warn("institution lookup failed", zap.String("institution_id", id), zap.Error(err))
		return fallback
	}
	if inst.Name == "" {
		inst.Name = plaidInstitutionName
	}
	return *inst
}

// plaidGroup is one item and the linked accounts it serves.
type plaidGroup struct {
	conn     *banking.Connection
	accounts []*banking.ConnectedAccount
}

// groups returns the family's Plaid accounts grouped by item, in the order
// the accounts were listed.
func (p *PlaidSyncer) groups(ctx context.Context, familyID string) ([]*plaidGroup, error) {
	accounts, err := p.banking.ListConnectedAccounts(ctx, familyID, banking.ProviderPlaid)
	if err != nil {
		return nil, fmt.Errorf("failed to list connected accounts: %w", err)
	}
	if len(accounts) == 0 {
		return nil, nil
	}
	conns, err := p.banking.ListConnections(ctx, familyID)
	if err != nil {
		return nil, fmt.Errorf("failed to list connections: %w", err)
	}
	byID := make(map[string]*banking.Connection, len(conns))
	for _, c := range conns {
		byID[c.ID] = c
	}

	var out []*plaidGroup
	index := map[string]*plaidGroup{}
	for _, ca := range accounts {
		g, ok := index[ca.ConnectionID]
		if !ok {
			g = &plaidGroup{conn: byID[ca.ConnectionID]}
			index[ca.ConnectionID] = g
			out = append(out, g)
		}
		g.accounts = append(g.accounts, ca)
	}
	return out, nil
}

func (g *plaidGroup) token() (string, error) {
	if g.conn == nil || g.conn.AccessToken == "" {
		return "", banking.ErrConnectionNotFound
	}
	return g.conn.AccessToken, nil
}

// failAll records err for every account of the group.
func (g *plaidGroup) failAll(result *SyncResult, err error) {
	for _, ca := range g.accounts {
		result.Accounts = append(result.Accounts, AccountResult{
			ProviderAccountID:  ca.ProviderAccountID,
			FinancialAccountID: ca.FinancialAccountID,
			AccountName:        ca.AccountName,
			Err:                err,
		})
	}
}

// SyncBalances refreshes every Plaid account of the family with one accounts
// call per item.
func (p *PlaidSyncer) SyncBalances(ctx context.Context, familyID string) (*SyncResult, error) {
	groups, err := p.groups(ctx, familyID)
	if err != nil {
		return nil, err
	}

	result := &SyncResult{FamilyID: familyID, Provider: banking.ProviderPlaid, StartedAt: p.now()}
	log := p.logger.With(zap.String("family_id", familyID))
	for _, g := range groups {
		token, err := g.token()
		if err != nil {
			g.failAll(result, err)
			continue
		}
		resp, err := p.client.GetAccounts(ctx, token)
		if err != nil {
			log.Warn("plaid accounts fetch failed", zap.String("connection_id", g.accounts[0].ConnectionID), zap.Error(err))
			g.failAll(result, fmt.Errorf("failed to fetch accounts: %w", err))
			continue
		}
		remote := make(map[string]plaid.Account, len(resp.Accounts))
		for _, a := range resp.Accounts {
			remote[a.AccountID] = a
		}

		for _, ca := range g.accounts {
			r := AccountResult{
				ProviderAccountID:  ca.ProviderAccountID,
				FinancialAccountID: ca.FinancialAccountID,
				AccountName:        ca.AccountName,
			}
			a, ok := remote[ca.ProviderAccountID]
			if !ok {
				r.Err = fmt.Errorf("account %s no longer returned by item", ca.ProviderAccountID)
				result.Accounts = append(result.Accounts, r)
				continue
			}
			balance := plaidBalance(a.Balances)
			if err := p.balances.UpdateBalance(ctx, ca.FinancialAccountID, balance); err != nil {
				r.Err = fmt.Errorf("failed to store balance: %w", err)
				log.Warn("balance sync failed", zap.String("provider_account_id", ca.ProviderAccountID), zap.Error(err))
			} else {
				r.Balance = &balance
			}
			result.Accounts = append(result.Accounts, r)
		}
	}

	result.FinishedAt = p.now()
	log.Info("plaid balance sync complete",
		zap.Int("accounts_updated", result.AccountsUpdated()),
		zap.Int("accounts_failed", len(result.Failed())))
	return result, nil
}

// ImportFamilyTransactions imports [from, to] for every Plaid account of the
// family. Each item is fetched once and its transactions are split by
// account. Returns ErrNoConnectedAccounts when the family has none.
func (p *PlaidSyncer) ImportFamilyTransactions(ctx context.Context, familyID string, from, to time.Time) (*SyncResult, error) {
	groups, err := p.groups(ctx, familyID)
	if err != nil {
		return nil, err
	}
	if len(groups) == 0 {
		return nil, ErrNoConnectedAccounts
	}

	result := &SyncResult{
		FamilyID:  familyID,
		Provider:  banking.ProviderPlaid,
		From:      &from,
		To:        &to,
		StartedAt: p.now(),
	}
	log := p.logger.With(zap.String("family_id", familyID))
	for _, g := range groups {
		token, err := g.token()
		if err != nil {
			g.failAll(result, err)
			continue
		}
		list, err := p.client.GetTransactions(ctx, token, from, to)
		if err != nil {
			log.Warn("plaid transactions fetch failed", zap.String("connection_id", g.accounts[0].ConnectionID), zap.Error(err))
			g.failAll(result, fmt.Errorf("failed to fetch transactions: %w", err))
			continue
		}
		byAccount := make(map[string][]plaid.Transaction)
		for _, tx := range list.Transactions {
			byAccount[tx.AccountID] = append(byAccount[tx.AccountID], tx)
		}

		now := p.now()
		for _, ca := range g.accounts {
			r := AccountResult{
				ProviderAccountID:  ca.ProviderAccountID,
				FinancialAccountID: ca.FinancialAccountID,
				AccountName:        ca.AccountName,
			}
			txs := byAccount[ca.ProviderAccountID]
			if len(txs) > 0 {
				params := make([]transaction.CreateParams, 0, len(txs))
				for _, tx := range txs {
					params = append(params, mapPlaidTransaction(familyID, ca.FinancialAccountID, tx, now))
				}
				res, err := p.transactions.InsertBatch(ctx, ca.FinancialAccountID, params)
				if err != nil {
					r.Err = fmt.Errorf("failed to store transactions: %w", err)
					log.Warn("transaction import failed", zap.String("provider_account_id", ca.ProviderAccountID), zap.Error(err))
				} else {
					r.Imported, r.Skipped = res.Inserted, res.Skipped
				}
			}
			result.Accounts = append(result.Accounts, r)
		}
	}

	result.FinishedAt = p.now()
	log.Info("plaid transaction import complete",
		zap.Int("imported", result.TransactionsImported()),
		zap.Int("skipped", result.TransactionsSkipped()),
		zap.Int("accounts_failed", len(result.Failed())))
	return result, nil
}

// plaidBalance prefers the current balance, then available, else zero.
func plaidBalance(b plaid.Balances) decimal.Decimal {
	switch {
	case b.Current.Valid:
		return b.Current.Decimal
	case b.Available.Valid:
		return b.Available.Decimal
	}
	return decimal.Zero
}

func plaidCurrencyCode(code string) string {
	if c := strings.ToUpper(code); account.IsValidCurrency(c) {
		return c
	}
	return plaidCurrency
}

func plaidAccountType(a plaid.Account) account.Type {
	switch a.Type {
	case plaid.AccountTypeDepository:
		if strings.Contains(strings.ToLower(a.Subtype), "saving") {
			return account.TypeSavings
		}
		return account.TypeChecking
	case plaid.AccountTypeCredit:
		return account.TypeCreditCard
	case plaid.AccountTypeInvestment:
		return account.TypeInvestment
	case plaid.AccountTypeLoan:
		return account.TypeLoan
	}
	return account.TypeOther
}

func plaidMask(mask string) *string {
	if strings.TrimSpace(mask) == "" {
		return nil
	}
	masked := "****" + mask
	return &masked
}

func plaidExternalID(tx plaid.Transaction) string {
	if tx.TransactionID != "" {
		return tx.TransactionID
	}
	sum := sha256.Sum256([]byte(strings.Join([]string{
		tx.AccountID,
		tx.Amount.String(),
		tx.Date,
		tx.Name,
	}, "|")))
	return plaidFallbackPrefix + hex.EncodeToString(sum[:])[:16]
}

// mapPlaidTransaction converts one Plaid transaction into insert params.
// Plaid reports outflows as positive amounts, so the sign is flipped before
// classification.
func mapPlaidTransaction(familyID, financialAccountID string, tx plaid.Transaction, now time.Time) transaction.CreateParams {
	amount, txType := transaction.Classify(tx.Amount.Neg())

	date := now
	if t, err := time.Parse(time.DateOnly, tx.Date); err == nil {
		date = t
	}

	id := plaidExternalID(tx)
	params := transaction.CreateParams{
		FamilyID:         familyID,
		AccountID:        financialAccountID,
		Date:             date,
		Description:      firstNonEmpty(tx.Name, tx.MerchantName, plaidDescription),
		Merchant:         optional(firstNonEmpty(tx.MerchantName, tx.Name)),
		Amount:           amount,
		Type:             txType,
		Status:           transaction.StatusNeedsCategorization,
		ExternalID:       id,
		Currency:         plaidCurrencyCode(tx.ISOCurrencyCode),
		Pending:          tx.Pending,
		ProviderCategory: tx.Category,
		Tags:             []string{id},
	}
	if n := len(tx.Category); n > 1 {
		params.ProviderSubcategory = optional(tx.Category[n-1])
	}
	return params
}
