package banksync

import (
	"time"

	"github.com/shopspring/decimal"

	"famfin/internal/domain/banking"
)

// AccountResult is the outcome for one provider account. Err marks the
// account as failed; TransactionErr only reports that its transaction import
// failed after the account itself was stored.
type AccountResult struct {
	ProviderAccountID  string           `json:"providerAccountId"`
	FinancialAccountID string           `json:"financialAccountId,omitempty"`
	AccountName        string           `json:"accountName,omitempty"`
	Balance            *decimal.Decimal `json:"balance,omitempty"`
	Imported           int              `json:"transactionsImported"`
	Skipped            int              `json:"transactionsSkipped"`
	Err                error            `json:"-"`
	TransactionErr     error            `json:"-"`
}

func (r AccountResult) OK() bool {
	return r.Err == nil
}

// SyncResult collects per-account outcomes of one family operation.
type SyncResult struct {
	FamilyID     string           `json:"familyId"`
	Provider     banking.Provider `json:"provider"`
	ConnectionID string           `json:"connectionId,omitempty"`
	Accounts     []AccountResult  `json:"accounts"`
	From         *time.Time       `json:"from,omitempty"`
	To           *time.Time       `json:"to,omitempty"`
	StartedAt    time.Time        `json:"startedAt"`
	FinishedAt   time.Time        `json:"finishedAt"`
}

func (r *SyncResult) AccountsUpdated() int {
	n := 0
	for _, a := range r.Accounts {
		if a.OK() {
			n++
		}
	}
	return n
}

func (r *SyncResult) TransactionsImported() int {
	n := 0
	for _, a := range r.Accounts {
		n += a.Imported
	}
	return n
}

func (r *SyncResult) TransactionsSkipped() int {
	n := 0
	for _, a := range r.Accounts {
		n += a.Skipped
	}
	return n
}

// Failed returns the accounts whose import or sync failed.
func (r *SyncResult) Failed() []AccountResult {
	var out []AccountResult
	for _, a := range r.Accounts {
		if !a.OK() {
			out = append(out, a)
		}
	}
	return out
}

// Summary is the counts-only view returned to clients.
type Summary struct {
	AccountsUpdated      int      `json:"accountsUpdated"`
	AccountsFailed       int      `json:"accountsFailed"`
	TransactionsImported int      `json:"transactionsImported"`
	TransactionsSkipped  int      `json:"transactionsSkipped"`
	Errors               []string `json:"errors,omitempty"`
}

func (r *SyncResult) Summary() Summary {
	s := Summary{
		AccountsUpdated:      r.AccountsUpdated(),
		TransactionsImported: r.TransactionsImported(),
		TransactionsSkipped:  r.TransactionsSkipped(),
	}
	for _, a := range r.Accounts {
		if a.Err != nil {
			s.AccountsFailed++
			s.Errors = append(s.Errors, a.ProviderAccountID+": "+a.Err.Error())
		} else if a.TransactionErr != nil {
			s.Errors = append(s.Errors, a.ProviderAccountID+": "+a.TransactionErr.Error())
		}
	}
	return s
}
