package http

import (
	"context"
	"net/http"

	"go.uber.org/zap"

	"famfin/internal/domain/banksync"
	"famfin/internal/interfaces/scheduler"
)

// TaskTrigger starts a named scheduler task in the background.
type TaskTrigger interface {
	Trigger(name string) bool
}

// FleetSyncer runs an operation for every family synchronously.
type FleetSyncer interface {
	SyncAllBalances(ctx context.Context) ([]*banksync.SyncResult, error)
	ImportAllTransactions(ctx context.Context) ([]*banksync.SyncResult, error)
}

// CronHandler lets an external cron drive the daily jobs. With a running
// scheduler the task is queued and the call returns 202; without one the
// job runs inline and the per-family summaries are returned.
type CronHandler struct {
	trigger TaskTrigger
	fleet   FleetSyncer
	logger  *zap.Logger
}

func NewCronHandler(trigger TaskTrigger, fleet FleetSyncer, logger *zap.Logger) *CronHandler {
	return &CronHandler{trigger: trigger, fleet: fleet, logger: logger.Named("cron_handler")}
}

type FamilySummary struct {
	FamilyID string           `json:"familyId"`
	Summary  banksync.Summary `json:"summary"`
}

func (h *CronHandler) HandleBalances(w http.ResponseWriter, r *http.Request) {
	h.run(w, r, scheduler.TaskBalances, h.fleet.SyncAllBalances)
}

func (h *CronHandler) HandleTransactions(w http.ResponseWriter, r *http.Request) {
	h.run(w, r, scheduler.TaskTransactions, h.fleet.ImportAllTransactions)
}

func (h *CronHandler) run(w http.ResponseWriter, r *http.Request, task string, inline func(context.Context) ([]*banksync.SyncResult, error)) {
	if h.trigger != nil && h.trigger.Trigger(task) {
		h.logger.Info("task triggered", zap.String("task", task))
		writeJSON(w, h.logger, http.StatusAccepted, map[string]string{"task": task, "status": "queued"})
		return
	}

	results, err := inline(r.Context())
	if err != nil {
		writeError(w, h.logger, http.StatusInternalServerError, "Failed to run "+task, err)
		return
	}

	out := make([]FamilySummary, 0, len(results))
	for _, res := range results {
		out = append(out, FamilySummary{FamilyID: res.FamilyID, Summary: res.Summary()})
	}
	writeJSON(w, h.logger, http.StatusOK, map[string]any{"task": task, "families": out})
}
