package banksync

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"famfin/internal/domain/banking"
)

// Operations reported in SyncCompleted.
const (
	OperationConnect      = "connect"
	OperationBalances     = "balances"
	OperationTransactions = "transactions"
)

// SyncCompleted is announced after every successful family operation.
type SyncCompleted struct {
	FamilyID    string           `json:"familyId"`
	Provider    banking.Provider `json:"provider"`
	Operation   string           `json:"operation"`
	Summary     Summary          `json:"summary"`
	CompletedAt time.Time        `json:"completedAt"`
}

// Notifier delivers SyncCompleted events. Failures are logged by the caller
// and never fail the operation.
type Notifier interface {
	Notify(ctx context.Context, ev SyncCompleted) error
}

// FamilyPusher sends a push notification to every device of a family.
type FamilyPusher interface {
	SendToFamily(ctx context.Context, familyID, title, body string, data map[string]string) error
}

// PushNotifier announces completed syncs on the family's devices.
type PushNotifier struct {
	pusher FamilyPusher
}

func NewPushNotifier(pusher FamilyPusher) *PushNotifier {
	return &PushNotifier{pusher: pusher}
}

func (n *PushNotifier) Notify(ctx context.Context, ev SyncCompleted) error {
	// Balance refreshes are silent.
	if ev.Operation == OperationBalances {
		return nil
	}
	if ev.Operation == OperationTransactions && ev.Summary.TransactionsImported == 0 {
		return nil
	}

	title, body := pushText(ev)
	data := map[string]string{
		"route":                 "accounts",
		"operation":             ev.Operation,
		"provider":              string(ev.Provider),
		"transactions_imported": strconv.Itoa(ev.Summary.TransactionsImported),
	}
	return n.pusher.SendToFamily(ctx, ev.FamilyID, title, body, data)
}

func pushText(ev SyncCompleted) (string, string) {
	if ev.Operation == OperationConnect {
		return "Bank connected", fmt.Sprintf("Connected %d accounts and imported %d transactions.",
			ev.Summary.AccountsUpdated, ev.Summary.TransactionsImported)
	}
	return "New transactions", fmt.Sprintf("%d new transactions are ready to categorize.", ev.Summary.TransactionsImported)
}
