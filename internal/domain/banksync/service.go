// Package banksync links bank accounts through GoCardless Bank Account Data
// and Plaid and keeps their balances and transactions in sync.
package banksync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"famfin/internal/domain/banking"
	"famfin/internal/domain/family"
	"famfin/internal/infrastructure/plaid"
)

// DefaultImportWindow is used when an import is requested without dates.
const DefaultImportWindow = 7 * 24 * time.Hour

// FamilyResolver maps an authenticated user to the family they act for.
type FamilyResolver interface {
	ActiveFamilyID(ctx context.Context, userID string) (string, error)
}

// Service is the entry point for handlers, the scheduler and the admin CLI.
type Service struct {
	flow       *LinkFlow
	importer   *Importer
	dispatcher *Dispatcher
	plaid      *PlaidSyncer
	banking    banking.Repository
	families   FamilyResolver
	notifiers  []Notifier
	window     importWindow
	logger     *zap.Logger
	now        func() time.Time
}

func NewService(
	flow *LinkFlow,
	importer *Importer,
	dispatcher *Dispatcher,
	bankingRepo banking.Repository,
	families FamilyResolver,
	window time.Duration,
	logger *zap.Logger,
	notifiers ...Notifier,
) *Service {
	if window <= 0 {
		window = DefaultImportWindow
	}
	return &Service{
		flow:       flow,
		importer:   importer,
		dispatcher: dispatcher,
		banking:    bankingRepo,
		families:   families,
		notifiers:  notifiers,
		window:     importWindow(window),
		logger:     logger.Named("banksync"),
		now:        time.Now,
	}
}

func (s *Service) familyID(ctx context.Context, userID string) (string, error) {
	id, err := s.families.ActiveFamilyID(ctx, userID)
	if errors.Is(err, family.ErrFamilyNotFound) {
		return "", ErrNoFamily
	}
	if err != nil {
		return "", fmt.Errorf("failed to resolve family: %w", err)
	}
	return id, nil
}

// CreateRequisition starts a consent session for the user's family.
func (s *Service) CreateRequisition(ctx context.Context, userID string, bank Bank, redirectURL string) (*RequisitionLink, error) {
	familyID, err := s.familyID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to create requisition: %w", err)
	}
	link, err := s.flow.CreateRequisition(ctx, familyID, bank, redirectURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create requisition: %w", err)
	}
	return link, nil
}

// CompleteConnection finishes a consent session for the user's family.
func (s *Service) CompleteConnection(ctx context.Context, userID, requisitionID string, bank Bank) (*SyncResult, error) {
	familyID, err := s.familyID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to complete connection: %w", err)
	}
	res, err := s.flow.CompleteConnection(ctx, familyID, requisitionID, bank)
	if err != nil {
		return nil, fmt.Errorf("failed to complete connection: %w", err)
	}
	s.notify(ctx, OperationConnect, res)
	return res, nil
}

// ImportTransactions imports [from, to] for the user's family. Missing bounds
// default to the import window ending now.
func (s *Service) ImportTransactions(ctx context.Context, userID string, from, to *time.Time) (*SyncResult, error) {
	familyID, err := s.familyID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to import transactions: %w", err)
	}
	start, end := s.window.bounds(s.now(), from, to)
	return s.ImportFamilyTransactions(ctx, familyID, start, end)
}

// SyncBalances refreshes every GoCardless balance of the user's family.
func (s *Service) SyncBalances(ctx context.Context, userID string) (*SyncResult, error) {
	familyID, err := s.familyID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to sync balances: %w", err)
	}
	return s.SyncFamilyBalances(ctx, familyID)
}

// EnablePlaid registers the Plaid syncer with the dispatcher and turns on the
// Plaid link operations.
func (s *Service) EnablePlaid(p *PlaidSyncer) {
	s.plaid = p
	s.dispatcher.Register(banking.ProviderPlaid, p)
}

// CreatePlaidLinkToken starts a Plaid Link session for the user's family.
func (s *Service) CreatePlaidLinkToken(ctx context.Context, userID string) (*plaid.LinkToken, error) {
	if s.plaid == nil {
		return nil, fmt.Errorf("%w: %s", ErrProviderNotConfigured, banking.ProviderPlaid)
	}
	familyID, err := s.familyID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to create link token: %w", err)
	}
	return s.plaid.CreateLinkToken(ctx, familyID)
}

// ExchangePlaidToken stores the item behind a Link public token for the
// user's family.
func (s *Service) ExchangePlaidToken(ctx context.Context, userID, publicToken string) (*SyncResult, error) {
	if s.plaid == nil {
		return nil, fmt.Errorf("%w: %s", ErrProviderNotConfigured, banking.ProviderPlaid)
	}
	familyID, err := s.familyID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to link plaid item: %w", err)
	}
	res, err := s.plaid.ExchangePublicToken(ctx, familyID, publicToken)
	if err != nil {
		return nil, fmt.Errorf("failed to link plaid item: %w", err)
	}
	s.notify(ctx, OperationConnect, res)
	return res, nil
}

// syncOrder fixes the order providers are reported in.
var syncOrder = []banking.Provider{banking.ProviderGoCardless, banking.ProviderPlaid}

// connectedProviders lists the providers the family holds connections with.
func (s *Service) connectedProviders(ctx context.Context, familyID string) ([]banking.Provider, error) {
	conns, err := s.banking.ListConnections(ctx, familyID)
	if err != nil {
		return nil, fmt.Errorf("failed to list connections: %w", err)
	}
	has := make(map[banking.Provider]bool, len(syncOrder))
	for _, c := range conns {
		has[c.Provider] = true
	}
	var out []banking.Provider
	for _, p := range syncOrder {
		if has[p] {
			out = append(out, p)
		}
	}
	return out, nil
}

// SyncAllProviders imports the default window concurrently for every provider
// the family is connected to and reports each provider separately. Returns
// ErrNoConnectedAccounts when the family has no connection at all.
func (s *Service) SyncAllProviders(ctx context.Context, userID string) ([]ProviderOutcome, error) {
	familyID, err := s.familyID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to sync providers: %w", err)
	}
	providers, err := s.connectedProviders(ctx, familyID)
	if err != nil {
		return nil, fmt.Errorf("failed to sync providers: %w", err)
	}
	if len(providers) == 0 {
		return nil, ErrNoConnectedAccounts
	}
	start, end := s.window.bounds(s.now(), nil, nil)

	outcomes := s.dispatcher.Run(ctx, providers, func(ctx context.Context, fs FamilySyncer) (*SyncResult, error) {
		return fs.ImportFamilyTransactions(ctx, familyID, start, end)
	})
	for _, o := range outcomes {
		if o.Err != nil {
			s.logger.Warn("provider sync failed",
				zap.String("family_id", familyID), zap.String("provider", string(o.Provider)), zap.Error(o.Err))
		}
	}
	return outcomes, nil
}

// SyncFamilyBalances is the family-level balance sync used by the scheduler.
func (s *Service) SyncFamilyBalances(ctx context.Context, familyID string) (*SyncResult, error) {
	res, err := s.importer.SyncBalances(ctx, familyID)
	if err != nil {
		return nil, fmt.Errorf("failed to sync balances: %w", err)
	}
	s.notify(ctx, OperationBalances, res)
	return res, nil
}

// ImportFamilyTransactions is the family-level import used by the scheduler.
func (s *Service) ImportFamilyTransactions(ctx context.Context, familyID string, from, to time.Time) (*SyncResult, error) {
	res, err := s.importer.ImportFamilyTransactions(ctx, familyID, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to import transactions: %w", err)
	}
	s.notify(ctx, OperationTransactions, res)
	return res, nil
}

// ImportWindow returns the default [from, to] ending at now.
func (s *Service) ImportWindow() (time.Time, time.Time) {
	return s.window.bounds(s.now(), nil, nil)
}

// ListFamilies returns every family with at least one GoCardless connection.
func (s *Service) ListFamilies(ctx context.Context) ([]string, error) {
	ids, err := s.banking.ListFamiliesWithProvider(ctx, banking.ProviderGoCardless)
	if err != nil {
		return nil, fmt.Errorf("failed to list families: %w", err)
	}
	return ids, nil
}

// SyncAllBalances runs the balance sync for every GoCardless family in turn.
// A failing family is logged and skipped.
func (s *Service) SyncAllBalances(ctx context.Context) ([]*SyncResult, error) {
	return s.forEachFamily(ctx, "balance sync", s.SyncFamilyBalances)
}

// ImportAllTransactions imports the default window for every GoCardless family.
func (s *Service) ImportAllTransactions(ctx context.Context) ([]*SyncResult, error) {
	from, to := s.ImportWindow()
	return s.forEachFamily(ctx, "transaction import", func(ctx context.Context, familyID string) (*SyncResult, error) {
		return s.ImportFamilyTransactions(ctx, familyID, from, to)
	})
}

func (s *Service) forEachFamily(ctx context.Context, what string, fn func(ctx context.Context, familyID string) (*SyncResult, error)) ([]*SyncResult, error) {
	ids, err := s.ListFamilies(ctx)
	if err != nil {
		return nil, err
	}

	results := make([]*SyncResult, 0, len(ids))
	for _, id := range ids {
		if ctx.Err() != nil {
			return results, ctx.Err()
		}
		res, err := fn(ctx, id)
		if err != nil {
			s.logger.Warn(what+" failed", zap.String("family_id", id), zap.Error(err))
			continue
		}
		results = append(results, res)
	}
	return results, nil
}

func (s *Service) notify(ctx context.Context, operation string, res *SyncResult) {
	if len(s.notifiers) == 0 {
		return
	}
	ev := SyncCompleted{
		FamilyID:    res.FamilyID,
		Provider:    res.Provider,
		Operation:   operation,
		Summary:     res.Summary(),
		CompletedAt: s.now(),
	}
	for _, n := range s.notifiers {
		if err := n.Notify(ctx, ev); err != nil {
			s.logger.Warn("sync notification failed",
				zap.String("family_id", ev.FamilyID), zap.String("operation", operation), zap.Error(err))
		}
	}
}

type importWindow time.Duration

func (w importWindow) bounds(now time.Time, from, to *time.Time) (time.Time, time.Time) {
	end := now
	if to != nil && !to.IsZero() {
		end = *to
	}
	start := end.Add(-time.Duration(w))
	if from != nil && !from.IsZero() {
		start = *from
	}
	return start, end
}
