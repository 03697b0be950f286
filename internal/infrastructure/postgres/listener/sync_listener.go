// Package listener turns PostgreSQL NOTIFY messages into bank sync runs, so
// operators and other services can request a sync with a single SQL statement:
//
//	NOTIFY banksync_requested, '{"family_id":"...","operation":"balances"}'
package listener

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"famfin/internal/domain/banksync"

	"github.com/lib/pq"
	"go.uber.org/zap"
)

const (
	ChannelName       = "banksync_requested"
	reconnectInterval = 5 * time.Second
	pingInterval      = 90 * time.Second
)

var errUnknownOperation = errors.New("unknown sync operation")

// SyncRequest is the NOTIFY payload.
type SyncRequest struct {
	FamilyID  string `json:"family_id"`
	Operation string `json:"operation"`
}

// Syncer runs the family-scoped sync operations.
type Syncer interface {
	SyncFamilyBalances(ctx context.Context, familyID string) (*banksync.SyncResult, error)
	ImportFamilyTransactions(ctx context.Context, familyID string, from, to time.Time) (*banksync.SyncResult, error)
	ImportWindow() (time.Time, time.Time)
}

// SyncListener listens on ChannelName and runs the requested operation. At
// most maxRuns requests run at once; notifications beyond that are dropped.
type SyncListener struct {
	connStr    string
	syncer     Syncer
	timeout    time.Duration
	logger     *zap.Logger
	shutdownCh chan struct{}
	done       chan struct{}
	started    bool

	runCtx    context.Context
	cancelRun context.CancelFunc
	runSlots  chan struct{}
	runs      sync.WaitGroup
}

func NewSyncListener(connStr string, syncer Syncer, timeout time.Duration, maxRuns int, logger *zap.Logger) *SyncListener {
	if maxRuns < 1 {
		maxRuns = 1
	}
	runCtx, cancelRun := context.WithCancel(context.Background())
	return &SyncListener{
		connStr:    connStr,
		syncer:     syncer,
		timeout:    timeout,
		logger:     logger.Named("sync_listener"),
		shutdownCh: make(chan struct{}),
		done:       make(chan struct{}),
		runCtx:     runCtx,
		cancelRun:  cancelRun,
		runSlots:   make(chan struct{}, maxRuns),
	}
}

// Start begins listening for notifications in a background goroutine. Runs
// are cancelled when ctx is.
func (l *SyncListener) Start(ctx context.Context) {
	context.AfterFunc(ctx, l.cancelRun)
	l.started = true
	go l.listen(ctx)
	l.logger.Info("sync listener started", zap.String("channel", ChannelName))
}

// Stop stops listening and waits for running syncs. Runs still going after
// timeout have their context cancelled.
func (l *SyncListener) Stop(timeout time.Duration) {
	close(l.shutdownCh)
	if l.started {
		<-l.done
	}

	finished := make(chan struct{})
	go func() {
		l.runs.Wait()
		close(finished)
	}()

	select {
	case <-finished:
	case <-time.After(timeout):
		l.logger.Warn("sync runs still active, cancelling", zap.Duration("timeout", timeout))
		l.cancelRun()
		<-finished
	}
	l.cancelRun()
	l.logger.Info("sync listener stopped")
}

// dispatch runs payload in the background when a slot is free. It reports
// false when the request was dropped.
func (l *SyncListener) dispatch(payload string) bool {
	select {
	case l.runSlots <- struct{}{}:
	default:
		l.logger.Warn("too many sync requests running, dropping notification", zap.String("payload", payload))
		return false
	}

	l.runs.Add(1)
	go func() {
		defer l.runs.Done()
		defer func() { <-l.runSlots }()

		if err := l.Handle(l.runCtx, payload); err != nil {
			l.logger.Error("sync request failed", zap.Error(err))
		}
	}()
	return true
}

func (l *SyncListener) listen(ctx context.Context) {
	defer close(l.done)

	for {
		select {
		case <-l.shutdownCh:
			return
		case <-ctx.Done():
			return
		default:
			l.connectAndListen(ctx)
		}

		select {
		case <-l.shutdownCh:
			return
		case <-ctx.Done():
			return
		case <-time.After(reconnectInterval):
			l.logger.Info("reconnecting to PostgreSQL for notifications")
		}
	}
}

func (l *SyncListener) connectAndListen(ctx context.Context) {
	listener := pq.NewListener(l.connStr, 10*time.Second, time.Minute, func(ev pq.ListenerEventType, err error) {
		switch ev {
		case pq.ListenerEventConnected:
			l.logger.Info("connected to notification channel")
		case pq.ListenerEventDisconnected:
			l.logger.Warn("disconnected from notification channel", zap.Error(err))
		case pq.ListenerEventReconnected:
			l.logger.Info("reconnected to notification channel")
		case pq.ListenerEventConnectionAttemptFailed:
			l.logger.Warn("notification connection attempt failed", zap.Error(err))
		}
	})
	defer listener.Close()

	if err := listener.Listen(ChannelName); err != nil {
		l.logger.Error("failed to listen", zap.String("channel", ChannelName), zap.Error(err))
		return
	}

	for {
		select {
		case <-l.shutdownCh:
			return
		case <-ctx.Done():
			return
		case n := <-listener.Notify:
			if n == nil {
				// connection lost
				return
			}
			l.dispatch(n.Extra)
		case <-time.After(pingInterval):
			go func() {
				if err := listener.Ping(); err != nil {
					l.logger.Warn("listener ping failed", zap.Error(err))
				}
			}()
		}
	}
}

// Handle decodes one payload and runs the requested operation.
func (l *SyncListener) Handle(ctx context.Context, payload string) error {
	var req SyncRequest
	if err := json.Unmarshal([]byte(payload), &req); err != nil {
		return fmt.Errorf("failed to parse sync request: %w", err)
	}
	if req.FamilyID == "" {
		return fmt.Errorf("failed to parse sync request: family_id is required")
	}

	if l.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.timeout)
		defer cancel()
	}

	var (
		res *banksync.SyncResult
		err error
	)
	switch req.Operation {
	case banksync.OperationBalances:
		res, err = l.syncer.SyncFamilyBalances(ctx, req.FamilyID)
	case banksync.OperationTransactions:
		from, to := l.syncer.ImportWindow()
		res, err = l.syncer.ImportFamilyTransactions(ctx, req.FamilyID, from, to)
	default:
		return fmt.Errorf("%w: %q", errUnknownOperation, req.Operation)
	}
	if err != nil {
		return fmt.Errorf("%s sync for family %s: %w", req.Operation, req.FamilyID, err)
	}

	summary := res.Summary()
	l.logger.Info("sync request completed",
		zap.String("family_id", req.FamilyID),
		zap.String("operation", req.Operation),
		zap.Int("accounts_updated", summary.AccountsUpdated),
		zap.Int("transactions_imported", summary.TransactionsImported),
	)
	return nil
}
