package reconciler

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/PCMI-CASTILHO/FormularioServico/pkg/backend"
	"github.com/PCMI-CASTILHO/FormularioServico/pkg/config"
	"github.com/PCMI-CASTILHO/FormularioServico/pkg/connectivity"
	"github.com/PCMI-CASTILHO/FormularioServico/pkg/records"
)

// Reconciler submits pending form records to the backend. Passes are
// serialized: a trigger arriving mid-pass waits for its own pass rather
// than piling onto the running one.
type Reconciler struct {
	cfg      config.SyncConfig
	store    *records.Store
	submit   backend.Submitter
	observer Observer
	logger   *slog.Logger
	mu       sync.Mutex
}

// New creates a reconciler. A nil observer defaults to NoopObserver.
func New(cfg config.Config, store *records.Store, submit backend.Submitter, observer Observer, logger *slog.Logger) *Reconciler {
	if observer == nil {
		observer = NoopObserver{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{
		cfg:      cfg.Sync,
		store:    store,
		submit:   submit,
		observer: observer,
		logger:   logger,
	}
}

// HandleSignal runs one pass when the signal carries the configured sync
// tag. Any other tag is ignored.
func (r *Reconciler) HandleSignal(ctx context.Context, sig connectivity.Signal) {
	if sig.Tag != r.cfg.Tag {
		r.logger.Debug("ignoring signal with foreign tag", "tag", sig.Tag)
		return
	}
	r.RunPass(ctx, TriggerSignal)
}

// RunPass executes one reconciliation pass and reports what it did. The
// pass itself never fails the caller: store and submission errors are
// logged, recorded in the result and left for the next pass.
func (r *Reconciler) RunPass(ctx context.Context, trigger string) PassResult {
	r.mu.Lock()
	defer r.mu.Unlock()

	started := time.Now()
	result := PassResult{Tag: r.cfg.Tag, Trigger: trigger, StartedAt: started}

	pending, err := r.store.Pending(ctx)
	if err != nil {
		r.logger.Error("reconciliation pass aborted", "trigger", trigger, "error", err)
		result.Err = err.Error()
		result.Duration = time.Since(started)
		r.observer.PassCompleted(ctx, result)
		return result
	}
	result.Pending = len(pending)

	if len(pending) == 0 {
		r.logger.Debug("nothing to reconcile", "trigger", trigger)
		result.Duration = time.Since(started)
		r.observer.PassCompleted(ctx, result)
		return result
	}

	if r.cfg.Drain == config.DrainSingle {
		pending = pending[:1]
	}

	for i := range pending {
		item := r.submitOne(ctx, &pending[i])
		result.Items = append(result.Items, item)
		result.Submitted++
		switch item.Outcome {
		case OutcomeSynced:
			result.Synced++
		case OutcomeRejected:
			result.Rejected++
		default:
			result.Errors++
		}
	}

	result.Duration = time.Since(started)
	r.logger.Info("reconciliation pass finished",
		"trigger", trigger,
		"outcome", result.Outcome(),
		"pending", result.Pending,
		"submitted", result.Submitted,
		"synced", result.Synced,
		"rejected", result.Rejected,
		"errors", result.Errors,
		"duration", result.Duration.String())
	r.observer.PassCompleted(ctx, result)
	return result
}

// submitOne sends a single record and updates its bookkeeping. Whatever
// goes wrong, the record is left pending for a later pass; its chave never
// changes, so a retry after an unobserved acceptance stays idempotent on
// the backend side.
func (r *Reconciler) submitOne(ctx context.Context, rec *records.FormRecord) ItemResult {
	started := time.Now()
	item := ItemResult{RecordID: rec.ID, Chave: rec.UniqueKey}

	serverID, err := r.submit.SubmitForm(ctx, rec.UniqueKey, rec.JSONDados())
	if err != nil {
		var rejected *backend.RejectedError
		if errors.As(err, &rejected) {
			item.Outcome = OutcomeRejected
			item.Status = rejected.StatusCode
			item.Err = rejected.Body
			r.logger.Warn("submission rejected, record stays pending",
				"recordID", rec.ID, "chave", rec.UniqueKey, "status", rejected.StatusCode)
		} else {
			item.Outcome = OutcomeError
			item.Err = err.Error()
			r.logger.Warn("submission failed, record stays pending",
				"recordID", rec.ID, "chave", rec.UniqueKey, "error", err)
		}
		item.Duration = time.Since(started)
		return item
	}

	if err := r.store.MarkSynced(ctx, rec.ID, serverID, time.Now()); err != nil {
		item.Outcome = OutcomeError
		item.Err = err.Error()
		r.logger.Error("submission accepted but bookkeeping failed",
			"recordID", rec.ID, "chave", rec.UniqueKey, "serverID", serverID, "error", err)
		item.Duration = time.Since(started)
		return item
	}

	item.Outcome = OutcomeSynced
	item.ServerID = serverID
	item.Duration = time.Since(started)
	r.logger.Info("record synced",
		"recordID", rec.ID, "chave", rec.UniqueKey, "serverID", serverID)
	return item
}

// Run consumes connectivity signals until the context is cancelled.
func (r *Reconciler) Run(ctx context.Context, signals <-chan connectivity.Signal) {
	r.logger.Info("reconciler starting", "tag", r.cfg.Tag, "drain", string(r.cfg.Drain))

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("reconciler stopped")
			return
		case sig := <-signals:
			r.HandleSignal(ctx, sig)
		}
	}
}

// ResyncLoop runs safety-net passes while records are pending, so a missed
// signal cannot strand the queue. Disabled when the interval is not
// positive.
func (r *Reconciler) ResyncLoop(ctx context.Context) {
	if r.cfg.ResyncInterval <= 0 {
		r.logger.Info("periodic resync disabled")
		return
	}

	r.logger.Info("periodic resync starting", "interval", r.cfg.ResyncInterval.String())
	ticker := time.NewTicker(r.cfg.ResyncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("periodic resync stopped")
			return
		case <-ticker.C:
			n, err := r.store.PendingCount(ctx)
			if err != nil {
				r.logger.Error("failed to count pending records", "error", err)
				continue
			}
			if n == 0 {
				continue
			}
			r.RunPass(ctx, TriggerResync)
		}
	}
}
