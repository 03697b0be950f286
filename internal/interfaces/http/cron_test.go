package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"

	"famfin/internal/domain/banksync"
	"famfin/internal/interfaces/scheduler"
)

type MockTaskTrigger struct {
	Known     map[string]bool
	Triggered []string
}

func (m *MockTaskTrigger) Trigger(name string) bool {
	if !m.Known[name] {
		return false
	}
	m.Triggered = append(m.Triggered, name)
	return true
}

type MockFleetSyncer struct {
	SyncAllBalancesFunc       func(ctx context.Context) ([]*banksync.SyncResult, error)
	ImportAllTransactionsFunc func(ctx context.Context) ([]*banksync.SyncResult, error)
}

func (m *MockFleetSyncer) SyncAllBalances(ctx context.Context) ([]*banksync.SyncResult, error) {
	if m.SyncAllBalancesFunc != nil {
		return m.SyncAllBalancesFunc(ctx)
	}
	return nil, nil
}

func (m *MockFleetSyncer) ImportAllTransactions(ctx context.Context) ([]*banksync.SyncResult, error) {
	if m.ImportAllTransactionsFunc != nil {
		return m.ImportAllTransactionsFunc(ctx)
	}
	return nil, nil
}

func TestCronHandler_Triggered(t *testing.T) {
	trigger := &MockTaskTrigger{Known: map[string]bool{scheduler.TaskBalances: true}}
	fleet := &MockFleetSyncer{
		SyncAllBalancesFunc: func(ctx context.Context) ([]*banksync.SyncResult, error) {
			t.Error("inline sync should not run when the scheduler accepts the task")
			return nil, nil
		},
	}
	h := NewCronHandler(trigger, fleet, zap.NewNop())

	rr := httptest.NewRecorder()
	h.HandleBalances(rr, httptest.NewRequest(http.MethodPost, "/internal/cron/balances", nil))

	if rr.Code != http.StatusAccepted {
		t.Errorf("status = %d, want 202", rr.Code)
	}
	if len(trigger.Triggered) != 1 || trigger.Triggered[0] != scheduler.TaskBalances {
		t.Errorf("triggered = %v", trigger.Triggered)
	}
}

func TestCronHandler_Inline(t *testing.T) {
	fleet := &MockFleetSyncer{
		ImportAllTransactionsFunc: func(ctx context.Context) ([]*banksync.SyncResult, error) {
			return []*banksync.SyncResult{
				{FamilyID: "fam-1", Accounts: []banksync.AccountResult{{ProviderAccountID: "a", Imported: 4}}},
				{FamilyID: "fam-2"},
			}, nil
		},
	}
	h := NewCronHandler(nil, fleet, zap.NewNop())

	rr := httptest.NewRecorder()
	h.HandleTransactions(rr, httptest.NewRequest(http.MethodPost, "/internal/cron/transactions", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}

	var resp struct {
		Task     string          `json:"task"`
		Families []FamilySummary `json:"families"`
	}
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Task != scheduler.TaskTransactions || len(resp.Families) != 2 {
		t.Fatalf("response = %+v", resp)
	}
	if resp.Families[0].Summary.TransactionsImported != 4 {
		t.Errorf("fam-1 imported = %d, want 4", resp.Families[0].Summary.TransactionsImported)
	}
}

func TestHandleHealth(t *testing.T) {
	rr := httptest.NewRecorder()
	HandleHealth(rr, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rr.Code != http.StatusOK || rr.Body.String() != `{"status":"ok"}` {
		t.Errorf("health = %d %q", rr.Code, rr.Body.String())
	}
}
