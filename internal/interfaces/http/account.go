package http

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"famfin/internal/domain/account"
)

type AccountLister interface {
	GetAccount(ctx context.Context, accountID, familyID string) (*account.Account, error)
	ListAccounts(ctx context.Context, familyID string) ([]*account.Account, error)
}

// AccountHandler serves the family's financial accounts, including the ones
// created by bank connections.
type AccountHandler struct {
	accounts AccountLister
	families FamilyResolver
	logger   *zap.Logger
}

func NewAccountHandler(accounts AccountLister, families FamilyResolver, logger *zap.Logger) *AccountHandler {
	return &AccountHandler{accounts: accounts, families: families, logger: logger.Named("account_handler")}
}

func (h *AccountHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/", h.HandleListAccounts)
	r.Get("/{id}", h.HandleGetAccount)
	return r
}

// HandleListAccounts returns the active accounts of the caller's family.
func (h *AccountHandler) HandleListAccounts(w http.ResponseWriter, r *http.Request) {
	familyID, ok := requireFamily(w, r, h.families, h.logger)
	if !ok {
		return
	}

	accounts, err := h.accounts.ListAccounts(r.Context(), familyID)
	if err != nil {
		writeError(w, h.logger, http.StatusInternalServerError, "Failed to list accounts", err)
		return
	}
	if accounts == nil {
		accounts = []*account.Account{}
	}

	writeJSON(w, h.logger, http.StatusOK, accounts)
}

func (h *AccountHandler) HandleGetAccount(w http.ResponseWriter, r *http.Request) {
	familyID, ok := requireFamily(w, r, h.families, h.logger)
	if !ok {
		return
	}

	accountID := chi.URLParam(r, "id")
	acc, err := h.accounts.GetAccount(r.Context(), accountID, familyID)
	switch {
	case errors.Is(err, account.ErrAccountNotFound):
		writeError(w, h.logger, http.StatusNotFound, "Account not found", err)
		return
	case errors.Is(err, account.ErrForbidden):
		writeError(w, h.logger, http.StatusForbidden, "Forbidden", err)
		return
	case err != nil:
		writeError(w, h.logger, http.StatusInternalServerError, "Failed to get account", err)
		return
	}

	writeJSON(w, h.logger, http.StatusOK, acc)
}
