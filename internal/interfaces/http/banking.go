package http

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"famfin/internal/domain/banking"
	"famfin/internal/domain/banksync"
	gc "famfin/internal/infrastructure/gocardless"
	"famfin/internal/infrastructure/plaid"
)

// BankSyncer is the slice of banksync.Service the banking endpoints use.
type BankSyncer interface {
	CreateRequisition(ctx context.Context, userID string, bank banksync.Bank, redirectURL string) (*banksync.RequisitionLink, error)
	CompleteConnection(ctx context.Context, userID, requisitionID string, bank banksync.Bank) (*banksync.SyncResult, error)
	ImportTransactions(ctx context.Context, userID string, from, to *time.Time) (*banksync.SyncResult, error)
	SyncBalances(ctx context.Context, userID string) (*banksync.SyncResult, error)
	SyncAllProviders(ctx context.Context, userID string) ([]banksync.ProviderOutcome, error)
	CreatePlaidLinkToken(ctx context.Context, userID string) (*plaid.LinkToken, error)
	ExchangePlaidToken(ctx context.Context, userID, publicToken string) (*banksync.SyncResult, error)
}

type ConnectionLister interface {
	ListConnections(ctx context.Context, familyID string) ([]*banking.ConnectionSummary, error)
}

type BankingHandler struct {
	syncer          BankSyncer
	connections     ConnectionLister
	families        FamilyResolver
	defaultRedirect string
	logger          *zap.Logger
}

// NewBankingHandler creates the banking handler. defaultRedirect is used when
// a requisition request does not name its own redirect URL.
func NewBankingHandler(syncer BankSyncer, connections ConnectionLister, families FamilyResolver, defaultRedirect string, logger *zap.Logger) *BankingHandler {
	return &BankingHandler{
		syncer:          syncer,
		connections:     connections,
		families:        families,
		defaultRedirect: defaultRedirect,
		logger:          logger.Named("banking_handler"),
	}
}

type RequisitionRequest struct {
	Bank        banksync.Bank `json:"bank"`
	RedirectURL string        `json:"redirectUrl"`
}

type CompleteRequest struct {
	Bank banksync.Bank `json:"bank"`
}

// ImportRequest carries an optional window as YYYY-MM-DD dates.
type ImportRequest struct {
	From string `json:"from"`
	To   string `json:"to"`
}

type PlaidExchangeRequest struct {
	PublicToken string `json:"publicToken"`
}

type SyncResponse struct {
	Summary banksync.Summary     `json:"summary"`
	Result  *banksync.SyncResult `json:"result"`
}

type ProvidersResponse struct {
	Providers []banksync.ProviderOutcome `json:"providers"`
}

// Routes mounts the banking endpoints below /api/banking.
func (h *BankingHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/gocardless/requisitions", h.HandleCreateRequisition)
	r.Post("/gocardless/requisitions/{id}/complete", h.HandleCompleteConnection)
	r.Post("/gocardless/transactions/import", h.HandleImportTransactions)
	r.Post("/gocardless/balances/sync", h.HandleSyncBalances)
	r.Post("/plaid/link-token", h.HandleCreatePlaidLinkToken)
	r.Post("/plaid/items", h.HandleExchangePlaidToken)
	r.Post("/sync", h.HandleSyncAll)
	r.Get("/connections", h.HandleListConnections)
	return r
}

func (h *BankingHandler) HandleCreateRequisition(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r, h.logger)
	if !ok {
		return
	}

	var req RequisitionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, h.logger, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.Bank.InstitutionID == "" && (req.Bank.Name == "" || req.Bank.Country == "") {
		writeError(w, h.logger, http.StatusBadRequest, "bank name and country are required", nil)
		return
	}
	redirectURL := req.RedirectURL
	if redirectURL == "" {
		redirectURL = h.defaultRedirect
	}

	link, err := h.syncer.CreateRequisition(r.Context(), userID, req.Bank, redirectURL)
	if err != nil {
		h.writeSyncError(w, err, "Failed to create requisition")
		return
	}

	writeJSON(w, h.logger, http.StatusCreated, link)
}

func (h *BankingHandler) HandleCompleteConnection(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r, h.logger)
	if !ok {
		return
	}

	requisitionID := chi.URLParam(r, "id")
	if requisitionID == "" {
		writeError(w, h.logger, http.StatusBadRequest, "Requisition ID is required", nil)
		return
	}

	var req CompleteRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, h.logger, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	res, err := h.syncer.CompleteConnection(r.Context(), userID, requisitionID, req.Bank)
	if err != nil {
		h.writeSyncError(w, err, "Failed to complete connection")
		return
	}

	writeJSON(w, h.logger, http.StatusOK, SyncResponse{Summary: res.Summary(), Result: res})
}

func (h *BankingHandler) HandleImportTransactions(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r, h.logger)
	if !ok {
		return
	}

	var req ImportRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, h.logger, http.StatusBadRequest, "Invalid request body", err)
			return
		}
	}
	from, err := parseDate(req.From)
	if err != nil {
		writeError(w, h.logger, http.StatusBadRequest, "from must be YYYY-MM-DD", err)
		return
	}
	to, err := parseDate(req.To)
	if err != nil {
		writeError(w, h.logger, http.StatusBadRequest, "to must be YYYY-MM-DD", err)
		return
	}
	if from != nil && to != nil && from.After(*to) {
		writeError(w, h.logger, http.StatusBadRequest, "from must not be after to", nil)
		return
	}

	res, err := h.syncer.ImportTransactions(r.Context(), userID, from, to)
	if err != nil {
		h.writeSyncError(w, err, "Failed to import transactions")
		return
	}

	writeJSON(w, h.logger, http.StatusOK, SyncResponse{Summary: res.Summary(), Result: res})
}

func (h *BankingHandler) HandleSyncBalances(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r, h.logger)
	if !ok {
		return
	}

	res, err := h.syncer.SyncBalances(r.Context(), userID)
	if err != nil {
		h.writeSyncError(w, err, "Failed to sync balances")
		return
	}

	writeJSON(w, h.logger, http.StatusOK, SyncResponse{Summary: res.Summary(), Result: res})
}

func (h *BankingHandler) HandleCreatePlaidLinkToken(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r, h.logger)
	if !ok {
		return
	}

	token, err := h.syncer.CreatePlaidLinkToken(r.Context(), userID)
	if err != nil {
		h.writeSyncError(w, err, "Failed to create link token")
		return
	}

	writeJSON(w, h.logger, http.StatusCreated, token)
}

func (h *BankingHandler) HandleExchangePlaidToken(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r, h.logger)
	if !ok {
		return
	}

	var req PlaidExchangeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, h.logger, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.PublicToken == "" {
		writeError(w, h.logger, http.StatusBadRequest, "publicToken is required", nil)
		return
	}

	res, err := h.syncer.ExchangePlaidToken(r.Context(), userID, req.PublicToken)
	if err != nil {
		h.writeSyncError(w, err, "Failed to link Plaid item")
		return
	}

	writeJSON(w, h.logger, http.StatusCreated, SyncResponse{Summary: res.Summary(), Result: res})
}

// HandleSyncAll runs every provider and reports each one, even when some fail.
func (h *BankingHandler) HandleSyncAll(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r, h.logger)
	if !ok {
		return
	}

	outcomes, err := h.syncer.SyncAllProviders(r.Context(), userID)
	if err != nil {
		h.writeSyncError(w, err, "Failed to sync providers")
		return
	}

	writeJSON(w, h.logger, http.StatusOK, ProvidersResponse{Providers: outcomes})
}

func (h *BankingHandler) HandleListConnections(w http.ResponseWriter, r *http.Request) {
	familyID, ok := requireFamily(w, r, h.families, h.logger)
	if !ok {
		return
	}

	conns, err := h.connections.ListConnections(r.Context(), familyID)
	if err != nil {
		writeError(w, h.logger, http.StatusInternalServerError, "Failed to list connections", err)
		return
	}

	writeJSON(w, h.logger, http.StatusOK, map[string]any{"connections": conns})
}

// writeSyncError maps banksync failures onto HTTP statuses.
func (h *BankingHandler) writeSyncError(w http.ResponseWriter, err error, fallback string) {
	var apiErr *gc.APIError
	var plaidErr *plaid.APIError
	switch {
	case errors.Is(err, banksync.ErrNoFamily):
		writeError(w, h.logger, http.StatusNotFound, "No family found for user", err)
	case errors.Is(err, banksync.ErrInstitutionNotFound):
		writeError(w, h.logger, http.StatusNotFound, "Bank not found", err)
	case errors.Is(err, banksync.ErrNoConnectedAccounts):
		writeError(w, h.logger, http.StatusNotFound, "No connected accounts found", err)
	case errors.Is(err, banksync.ErrRequisitionNotLinked):
		writeError(w, h.logger, http.StatusConflict, err.Error(), err)
	case errors.Is(err, banksync.ErrNoAccounts):
		writeError(w, h.logger, http.StatusUnprocessableEntity, "No accounts found in requisition", err)
	case errors.Is(err, banksync.ErrAgreementRejected):
		writeError(w, h.logger, http.StatusBadGateway, "Agreement rejected by aggregator", err)
	case errors.Is(err, banksync.ErrTokenUnavailable):
		writeError(w, h.logger, http.StatusBadGateway, "Aggregator unavailable", err)
	case errors.Is(err, banksync.ErrProviderNotConfigured):
		writeError(w, h.logger, http.StatusServiceUnavailable, "Provider not configured", err)
	case errors.As(err, &apiErr), errors.As(err, &plaidErr):
		writeError(w, h.logger, http.StatusBadGateway, "Aggregator request failed", err)
	default:
		writeError(w, h.logger, http.StatusInternalServerError, fallback, err)
	}
}

func parseDate(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
