package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"

	"famfin/internal/domain/banking"
	"famfin/internal/domain/banksync"
	gc "famfin/internal/infrastructure/gocardless"
	"famfin/internal/infrastructure/plaid"
)

func newBankingHandler(syncer BankSyncer) *BankingHandler {
	return NewBankingHandler(syncer, &MockConnectionLister{}, &MockFamilyResolver{FamilyID: "fam-1"}, "https://app.example.com/done", zap.NewNop())
}

func TestHandleCreateRequisition(t *testing.T) {
	var gotBank banksync.Bank
	var gotRedirect string
	syncer := &MockBankSyncer{
		CreateRequisitionFunc: func(ctx context.Context, userID string, bank banksync.Bank, redirectURL string) (*banksync.RequisitionLink, error) {
			gotBank, gotRedirect = bank, redirectURL
			return &banksync.RequisitionLink{RequisitionID: "req-1", AuthURL: "https://ob.example/auth"}, nil
		},
	}
	routes := newBankingHandler(syncer).Routes()

	req := newRequest(http.MethodPost, "/gocardless/requisitions", `{"bank":{"name":"Revolut","country":"GB"}}`, "user-1")
	rr := httptest.NewRecorder()
	routes.ServeHTTP(rr, req)

	if rr.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201: %s", rr.Code, rr.Body.String())
	}
	if gotBank.Name != "Revolut" || gotBank.Country != "GB" {
		t.Errorf("bank = %+v", gotBank)
	}
	if gotRedirect != "https://app.example.com/done" {
		t.Errorf("redirect = %q, want default redirect", gotRedirect)
	}

	var link banksync.RequisitionLink
	if err := json.NewDecoder(rr.Body).Decode(&link); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if link.RequisitionID != "req-1" || link.AuthURL != "https://ob.example/auth" {
		t.Errorf("link = %+v", link)
	}
}

func TestHandleCreateRequisition_BadRequests(t *testing.T) {
	routes := newBankingHandler(&MockBankSyncer{}).Routes()

	tests := []struct {
		name   string
		body   string
		userID string
		status int
	}{
		{"Anonymous", `{"bank":{"name":"Revolut","country":"GB"}}`, "", http.StatusUnauthorized},
		{"Malformed body", `{"bank":`, "user-1", http.StatusBadRequest},
		{"Missing country", `{"bank":{"name":"Revolut"}}`, "user-1", http.StatusBadRequest},
		{"Institution id only", `{"bank":{"institutionId":"REVOLUT_REVOGB21"}}`, "user-1", http.StatusCreated},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := httptest.NewRecorder()
			routes.ServeHTTP(rr, newRequest(http.MethodPost, "/gocardless/requisitions", tt.body, tt.userID))
			if rr.Code != tt.status {
				t.Errorf("status = %d, want %d", rr.Code, tt.status)
			}
		})
	}
}

func TestHandleCompleteConnection(t *testing.T) {
	var gotRequisition string
	syncer := &MockBankSyncer{
		CompleteConnectionFunc: func(ctx context.Context, userID, requisitionID string, bank banksync.Bank) (*banksync.SyncResult, error) {
			gotRequisition = requisitionID
			return &banksync.SyncResult{
				FamilyID: "fam-1",
				Provider: banking.ProviderGoCardless,
				Accounts: []banksync.AccountResult{
					{ProviderAccountID: "acc-1", Imported: 3, Skipped: 1},
					{ProviderAccountID: "acc-2", Err: errors.New("details unavailable")},
				},
			}, nil
		},
	}
	routes := newBankingHandler(syncer).Routes()

	rr := httptest.NewRecorder()
	routes.ServeHTTP(rr, newRequest(http.MethodPost, "/gocardless/requisitions/req-42/complete", `{"bank":{"name":"Monzo","country":"GB"}}`, "user-1"))

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rr.Code, rr.Body.String())
	}
	if gotRequisition != "req-42" {
		t.Errorf("requisition = %q, want req-42", gotRequisition)
	}

	var resp SyncResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Summary.AccountsUpdated != 1 || resp.Summary.AccountsFailed != 1 || resp.Summary.TransactionsImported != 3 {
		t.Errorf("summary = %+v", resp.Summary)
	}
}

func TestHandleCompleteConnection_ErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
	}{
		{"Not linked", &banksync.NotLinkedError{RequisitionID: "req-1", Status: gc.StatusGivingConsent}, http.StatusConflict},
		{"No accounts", banksync.ErrNoAccounts, http.StatusUnprocessableEntity},
		{"No family", fmt.Errorf("failed: %w", banksync.ErrNoFamily), http.StatusNotFound},
		{"Bank not found", banksync.ErrInstitutionNotFound, http.StatusNotFound},
		{"Token unavailable", fmt.Errorf("wrap: %w", banksync.ErrTokenUnavailable), http.StatusBadGateway},
		{"Aggregator error", fmt.Errorf("failed: %w", &gc.APIError{StatusCode: 500, Body: "boom"}), http.StatusBadGateway},
		{"Unexpected", errors.New("db down"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			syncer := &MockBankSyncer{
				CompleteConnectionFunc: func(ctx context.Context, userID, requisitionID string, bank banksync.Bank) (*banksync.SyncResult, error) {
					return nil, tt.err
				},
			}
			rr := httptest.NewRecorder()
			newBankingHandler(syncer).Routes().ServeHTTP(rr,
				newRequest(http.MethodPost, "/gocardless/requisitions/req-1/complete", `{}`, "user-1"))

			if rr.Code != tt.status {
				t.Errorf("status = %d, want %d", rr.Code, tt.status)
			}
		})
	}
}

func TestHandleImportTransactions(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		status   int
		wantFrom string
		wantTo   string
	}{
		{"Default window", "", http.StatusOK, "", ""},
		{"Explicit window", `{"from":"2024-01-01","to":"2024-01-31"}`, http.StatusOK, "2024-01-01", "2024-01-31"},
		{"Bad date", `{"from":"01/01/2024"}`, http.StatusBadRequest, "", ""},
		{"Inverted window", `{"from":"2024-02-01","to":"2024-01-01"}`, http.StatusBadRequest, "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var gotFrom, gotTo *time.Time
			syncer := &MockBankSyncer{
				ImportTransactionsFunc: func(ctx context.Context, userID string, from, to *time.Time) (*banksync.SyncResult, error) {
					gotFrom, gotTo = from, to
					return &banksync.SyncResult{}, nil
				},
			}
			rr := httptest.NewRecorder()
			newBankingHandler(syncer).Routes().ServeHTTP(rr,
				newRequest(http.MethodPost, "/gocardless/transactions/import", tt.body, "user-1"))

			if rr.Code != tt.status {
				t.Fatalf("status = %d, want %d: %s", rr.Code, tt.status, rr.Body.String())
			}
			if tt.status != http.StatusOK {
				return
			}
			if got := formatDate(gotFrom); got != tt.wantFrom {
				t.Errorf("from = %q, want %q", got, tt.wantFrom)
			}
			if got := formatDate(gotTo); got != tt.wantTo {
				t.Errorf("to = %q, want %q", got, tt.wantTo)
			}
		})
	}
}

func formatDate(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format(time.DateOnly)
}

func TestHandleSyncBalances(t *testing.T) {
	syncer := &MockBankSyncer{
		SyncBalancesFunc: func(ctx context.Context, userID string) (*banksync.SyncResult, error) {
			if userID != "user-1" {
				t.Errorf("userID = %q, want user-1", userID)
			}
			return nil, banksync.ErrNoConnectedAccounts
		},
	}

	rr := httptest.NewRecorder()
	newBankingHandler(syncer).Routes().ServeHTTP(rr, newRequest(http.MethodPost, "/gocardless/balances/sync", "", "user-1"))

	if rr.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rr.Code)
	}
}

func TestHandleSyncAll(t *testing.T) {
	syncer := &MockBankSyncer{
		SyncAllProvidersFunc: func(ctx context.Context, userID string) ([]banksync.ProviderOutcome, error) {
			return []banksync.ProviderOutcome{
				{Provider: banking.ProviderGoCardless, Summary: &banksync.Summary{AccountsUpdated: 2}},
				{Provider: banking.ProviderPlaid, Error: "plaid: ITEM_LOGIN_REQUIRED: the login details of this item have changed (status 400)"},
			}, nil
		},
	}

	rr := httptest.NewRecorder()
	newBankingHandler(syncer).Routes().ServeHTTP(rr, newRequest(http.MethodPost, "/sync", "", "user-1"))

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
	var resp ProvidersResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(resp.Providers) != 2 || resp.Providers[1].Error == "" {
		t.Errorf("providers = %+v", resp.Providers)
	}
}

func TestHandleCreatePlaidLinkToken(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
	}{
		{name: "Created", wantStatus: http.StatusCreated},
		{name: "Plaid disabled", err: fmt.Errorf("%w: PLAID", banksync.ErrProviderNotConfigured), wantStatus: http.StatusServiceUnavailable},
		{name: "Plaid rejects", err: &plaid.APIError{StatusCode: 400, ErrorCode: "INVALID_FIELD"}, wantStatus: http.StatusBadGateway},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			syncer := &MockBankSyncer{
				CreatePlaidLinkTokenFunc: func(ctx context.Context, userID string) (*plaid.LinkToken, error) {
					if tt.err != nil {
						return nil, tt.err
					}
					return &plaid.LinkToken{LinkToken: "link-sandbox-1"}, nil
				},
			}

			rr := httptest.NewRecorder()
			newBankingHandler(syncer).Routes().ServeHTTP(rr, newRequest(http.MethodPost, "/plaid/link-token", "", "user-1"))

			if rr.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rr.Code, tt.wantStatus)
			}
		})
	}
}

func TestHandleExchangePlaidToken(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		wantStatus int
	}{
		{name: "Linked", body: `{"publicToken":"public-sandbox-1"}`, wantStatus: http.StatusCreated},
		{name: "Missing token", body: `{}`, wantStatus: http.StatusBadRequest},
		{name: "Bad JSON", body: `{`, wantStatus: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			syncer := &MockBankSyncer{
				ExchangePlaidTokenFunc: func(ctx context.Context, userID, publicToken string) (*banksync.SyncResult, error) {
					if publicToken != "public-sandbox-1" {
						t.Errorf("publicToken = %q, want public-sandbox-1", publicToken)
					}
					return &banksync.SyncResult{FamilyID: "fam-1", Provider: banking.ProviderPlaid, ConnectionID: "conn-1"}, nil
				},
			}

			rr := httptest.NewRecorder()
			newBankingHandler(syncer).Routes().ServeHTTP(rr, newRequest(http.MethodPost, "/plaid/items", tt.body, "user-1"))

			if rr.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", rr.Code, tt.wantStatus)
			}
			if tt.wantStatus != http.StatusCreated {
				return
			}
			var resp SyncResponse
			if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
				t.Fatalf("failed to decode response: %v", err)
			}
			if resp.Result.ConnectionID != "conn-1" {
				t.Errorf("connectionId = %q, want conn-1", resp.Result.ConnectionID)
			}
		})
	}
}

func TestHandleListConnections(t *testing.T) {
	lister := &MockConnectionLister{
		ListConnectionsFunc: func(ctx context.Context, familyID string) ([]*banking.ConnectionSummary, error) {
			if familyID != "fam-1" {
				t.Errorf("familyID = %q, want fam-1", familyID)
			}
			return []*banking.ConnectionSummary{{Connection: &banking.Connection{ID: "conn-1"}, Accounts: []*banking.ConnectedAccount{}}}, nil
		},
	}

	h := NewBankingHandler(&MockBankSyncer{}, lister, &MockFamilyResolver{FamilyID: "fam-1"}, "", zap.NewNop())
	rr := httptest.NewRecorder()
	h.Routes().ServeHTTP(rr, newRequest(http.MethodGet, "/connections", "", "user-1"))

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}

	h = NewBankingHandler(&MockBankSyncer{}, lister, &MockFamilyResolver{}, "", zap.NewNop())
	rr = httptest.NewRecorder()
	h.Routes().ServeHTTP(rr, newRequest(http.MethodGet, "/connections", "", "user-2"))

	if rr.Code != http.StatusNotFound {
		t.Errorf("status without family = %d, want 404", rr.Code)
	}
}
