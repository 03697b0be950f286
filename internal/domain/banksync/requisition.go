package banksync

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"famfin/internal/domain/banking"
	gc "famfin/internal/infrastructure/gocardless"
)

// ConnectionWindow is how far back transactions are imported when a new
// connection completes.
const ConnectionWindow = 90 * 24 * time.Hour

// RequisitionLink is returned to the client, which redirects the user to AuthURL.
type RequisitionLink struct {
	RequisitionID string `json:"requisitionId"`
	AuthURL       string `json:"authUrl"`
	InstitutionID string `json:"institutionId"`
	AgreementID   string `json:"agreementId"`
}

// LinkFlow creates consent sessions and turns completed ones into connections.
type LinkFlow struct {
	client       gc.ClientInterface
	tokens       TokenSource
	resolver     *InstitutionResolver
	importer     *Importer
	banking      banking.Repository
	userLanguage string
	logger       *zap.Logger
	now          func() time.Time
}

func NewLinkFlow(
	client gc.ClientInterface,
	tokens TokenSource,
	resolver *InstitutionResolver,
	importer *Importer,
	bankingRepo banking.Repository,
	userLanguage string,
	logger *zap.Logger,
) *LinkFlow {
	if userLanguage == "" {
		userLanguage = "EN"
	}
	return &LinkFlow{
		client:       client,
		tokens:       tokens,
		resolver:     resolver,
		importer:     importer,
		banking:      bankingRepo,
		userLanguage: userLanguage,
		logger:       logger.Named("requisition"),
		now:          time.Now,
	}
}

// CreateRequisition resolves the institution, creates the agreement and opens
// a requisition referenced as "<familyID>-<unix millis>".
func (f *LinkFlow) CreateRequisition(ctx context.Context, familyID string, bank Bank, redirectURL string) (*RequisitionLink, error) {
	token, err := f.tokens.AccessToken(ctx)
	if err != nil {
		return nil, err
	}

	match, err := f.resolver.FindInstitution(ctx, token, bank)
	if err != nil {
		return nil, err
	}
	agreementID, err := f.resolver.CreateAgreement(ctx, token, match.Institution.ID)
	if err != nil {
		return nil, err
	}

	req, err := f.client.CreateRequisition(ctx, token, gc.RequisitionRequest{
		Redirect:      redirectURL,
		InstitutionID: match.Institution.ID,
		Agreement:     agreementID,
		Reference:     familyID + "-" + strconv.FormatInt(f.now().UnixMilli(), 10),
		UserLanguage:  f.userLanguage,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create requisition: %w", err)
	}

	f.logger.Info("requisition created",
		zap.String("family_id", familyID),
		zap.String("requisition_id", req.ID),
		zap.String("institution_id", match.Institution.ID),
		zap.String("match", string(match.Strategy)))

	return &RequisitionLink{
		RequisitionID: req.ID,
		AuthURL:       req.Link,
		InstitutionID: match.Institution.ID,
		AgreementID:   agreementID,
	}, nil
}

// CompleteConnection accepts only a linked requisition. It stores one
// connection, then imports each account and its last 90 days of transactions.
// A requisition that is not linked leaves the store untouched.
func (f *LinkFlow) CompleteConnection(ctx context.Context, familyID, requisitionID string, bank Bank) (*SyncResult, error) {
	token, err := f.tokens.AccessToken(ctx)
	if err != nil {
		return nil, err
	}

	req, err := f.client.GetRequisition(ctx, token, requisitionID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch requisition: %w", err)
	}
	if req.Status != gc.StatusLinked {
		return nil, &NotLinkedError{RequisitionID: requisitionID, Status: req.Status}
	}
	if len(req.Accounts) == 0 {
		return nil, ErrNoAccounts
	}

	institutionID := firstNonEmpty(req.InstitutionID, bank.InstitutionID)
	conn, err := f.banking.CreateConnection(ctx, banking.CreateConnectionParams{
		FamilyID:           familyID,
		Provider:           banking.ProviderGoCardless,
		AccessToken:        requisitionID,
		ItemID:             requisitionID,
		InstitutionID:      institutionID,
		InstitutionName:    bank.Name,
		InstitutionLogo:    bank.Logo,
		InstitutionCountry: strings.ToUpper(bank.Country),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create bank connection: %w", err)
	}

	log := f.logger.With(zap.String("family_id", familyID), zap.String("requisition_id", requisitionID))
	log.Info("connection created", zap.String("connection_id", conn.ID), zap.Int("accounts", len(req.Accounts)))

	now := f.now()
	from := now.Add(-ConnectionWindow)
	result := &SyncResult{
		FamilyID:     familyID,
		Provider:     banking.ProviderGoCardless,
		ConnectionID: conn.ID,
		From:         &from,
		To:           &now,
		StartedAt:    now,
	}

	for _, providerAccountID := range req.Accounts {
		r := AccountResult{ProviderAccountID: providerAccountID}

		linked, err := f.importer.ImportAccount(ctx, token, conn, providerAccountID)
		if err != nil {
			r.Err = err
			log.Warn("account import failed", zap.String("provider_account_id", providerAccountID), zap.Error(err))
			result.Accounts = append(result.Accounts, r)
			continue
		}
		r.FinancialAccountID = linked.Financial.ID
		r.AccountName = linked.Financial.Name
		balance := linked.Financial.Balance
		r.Balance = &balance

		batch, err := f.importer.ImportAccountTransactions(ctx, token, familyID, linked.Connected, from, now)
		if err != nil {
			r.TransactionErr = err
			log.Warn("transaction import failed", zap.String("provider_account_id", providerAccountID), zap.Error(err))
		} else {
			r.Imported, r.Skipped = batch.Inserted, batch.Skipped
		}
		result.Accounts = append(result.Accounts, r)
	}

	result.FinishedAt = f.now()
	log.Info("connection complete",
		zap.Int("accounts_updated", result.AccountsUpdated()),
		zap.Int("transactions_imported", result.TransactionsImported()))
	return result, nil
}
