package banksync

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"famfin/internal/domain/banking"
)

var ErrProviderNotConfigured = errors.New("provider not configured")

// ProviderOutcome is one provider's share of a fan-out run.
type ProviderOutcome struct {
	Provider banking.Provider `json:"provider"`
	Summary  *Summary         `json:"summary,omitempty"`
	Error    string           `json:"error,omitempty"`
	Err      error            `json:"-"`
}

// FamilySyncer is the per-provider surface the dispatcher fans out to.
type FamilySyncer interface {
	SyncBalances(ctx context.Context, familyID string) (*SyncResult, error)
	ImportFamilyTransactions(ctx context.Context, familyID string, from, to time.Time) (*SyncResult, error)
}

// Dispatcher runs one operation for several providers concurrently and waits
// for all of them; one provider failing never cancels the others.
type Dispatcher struct {
	mu      sync.RWMutex
	syncers map[banking.Provider]FamilySyncer
}

func NewDispatcher() *Dispatcher {
	return &Dispatcher{syncers: make(map[banking.Provider]FamilySyncer)}
}

func (d *Dispatcher) Register(provider banking.Provider, s FamilySyncer) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.syncers[provider] = s
}

// Run calls op for every provider in order and returns outcomes in the same
// order. Unregistered providers report ErrProviderNotConfigured.
func (d *Dispatcher) Run(ctx context.Context, providers []banking.Provider, op func(ctx context.Context, s FamilySyncer) (*SyncResult, error)) []ProviderOutcome {
	outcomes := make([]ProviderOutcome, len(providers))

	var wg sync.WaitGroup
	for idx, p := range providers {
		outcomes[idx].Provider = p

		d.mu.RLock()
		s, ok := d.syncers[p]
		d.mu.RUnlock()
		if !ok {
			outcomes[idx].Err = fmt.Errorf("%w: %s", ErrProviderNotConfigured, p)
			continue
		}

		wg.Add(1)
		go func(idx int, s FamilySyncer) {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					outcomes[idx].Err = fmt.Errorf("provider %s panicked: %v", outcomes[idx].Provider, r)
				}
			}()

			res, err := op(ctx, s)
			if err != nil {
				outcomes[idx].Err = err
				return
			}
			summary := res.Summary()
			outcomes[idx].Summary = &summary
		}(idx, s)
	}
	wg.Wait()

	for i := range outcomes {
		if outcomes[i].Err != nil {
			outcomes[i].Error = outcomes[i].Err.Error()
		}
	}
	return outcomes
}
