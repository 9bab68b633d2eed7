package agent

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/PCMI-CASTILHO/FormularioServico/pkg/reconciler"
	"github.com/PCMI-CASTILHO/FormularioServico/pkg/records"
)

// healthHandler returns the liveness status of the gateway.
func (a *Agent) healthHandler(w http.ResponseWriter, r *http.Request) {
	uptime := time.Since(a.startedAt).Round(time.Second).String()
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "alive",
		"uptime": uptime,
	})
}

// readyHandler checks whether the gateway can serve: the database answers
// and the agent is active. Backend reachability is reported but does not
// gate readiness, an offline gateway still serves from its bucket.
func (a *Agent) readyHandler(w http.ResponseWriter, r *http.Request) {
	allReady := true

	dbStatus := map[string]string{"status": "up"}
	sqlDB, err := a.db.DB()
	if err != nil {
		dbStatus["status"] = "down"
		dbStatus["error"] = err.Error()
		allReady = false
	} else if err := sqlDB.Ping(); err != nil {
		dbStatus["status"] = "down"
		dbStatus["error"] = err.Error()
		allReady = false
	}

	state := a.State()
	stateStatus := map[string]string{"status": string(state)}
	if state != StateActive {
		allReady = false
	}

	backendStatus := map[string]string{"status": "offline"}
	if a.monitor.Online() {
		backendStatus["status"] = "online"
	}

	status := "ready"
	code := http.StatusOK
	if !allReady {
		status = "not_ready"
		code = http.StatusServiceUnavailable
	}

	writeJSON(w, code, map[string]any{
		"status": status,
		"components": map[string]any{
			"database": dbStatus,
			"agent":    stateStatus,
			"backend":  backendStatus,
		},
	})
}

// statusHandler handles GET /api/v1/status.
func (a *Agent) statusHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	pending, err := a.records.PendingCount(ctx)
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("failed to count pending records: %v", err))
		return
	}
	total, err := a.records.Count(ctx)
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("failed to count records: %v", err))
		return
	}
	entries, err := a.buckets.Len(ctx, a.cfg.BucketID())
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("failed to count bucket entries: %v", err))
		return
	}

	a.mu.RLock()
	installed := len(a.installed)
	failed := 0
	for _, res := range a.installed {
		if res.Err != nil {
			failed++
		}
	}
	deleted := append([]string(nil), a.deleted...)
	cleanupErr := ""
	if a.cleanupErr != nil {
		cleanupErr = a.cleanupErr.Error()
	}
	a.mu.RUnlock()

	writeJSON(w, http.StatusOK, map[string]any{
		"state":            string(a.State()),
		"bucket":           a.cfg.BucketID(),
		"online":           a.monitor.Online(),
		"uptime":           time.Since(a.startedAt).Round(time.Second).String(),
		"pendingRecords":   pending,
		"totalRecords":     total,
		"bucketEntries":    entries,
		"coreAssets":       installed,
		"coreAssetsFailed": failed,
		"evictedBuckets":   deleted,
		"cleanupError":     cleanupErr,
	})
}

// configHandler handles GET /api/v1/config.
func (a *Agent) configHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.cfg)
}

// listRecordsHandler handles GET /api/v1/records.
// Query params: pending=true restricts to unsynced records.
func (a *Agent) listRecordsHandler(w http.ResponseWriter, r *http.Request) {
	var (
		recs []records.FormRecord
		err  error
	)
	if r.URL.Query().Get("pending") == "true" {
		recs, err = a.records.Pending(r.Context())
	} else {
		recs, err = a.records.GetAll(r.Context())
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("failed to list records: %v", err))
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"records":   recs,
		"totalSize": len(recs),
	})
}

// createRecordHandler handles POST /api/v1/records.
func (a *Agent) createRecordHandler(w http.ResponseWriter, r *http.Request) {
	var rec records.FormRecord
	if err := json.NewDecoder(r.Body).Decode(&rec); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid record payload: %v", err))
		return
	}

	if err := a.records.Create(r.Context(), &rec); err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("failed to create record: %v", err))
		return
	}

	writeJSON(w, http.StatusCreated, rec)
}

// getRecordHandler handles GET /api/v1/records/{id}.
func (a *Agent) getRecordHandler(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid record ID")
		return
	}

	rec, err := a.records.Get(r.Context(), uint(id))
	if err != nil {
		if errors.Is(err, records.ErrRecordNotFound) {
			writeError(w, http.StatusNotFound, fmt.Sprintf("record %d not found", id))
			return
		}
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("failed to get record: %v", err))
		return
	}

	writeJSON(w, http.StatusOK, rec)
}

// syncHandler handles POST /api/v1/sync. It runs one pass synchronously so
// the operator sees what it did.
func (a *Agent) syncHandler(w http.ResponseWriter, r *http.Request) {
	result := a.rec.RunPass(r.Context(), reconciler.TriggerManual)
	writeJSON(w, http.StatusOK, result)
}

// journalHandler handles GET /api/v1/journal.
// Query params: limit caps how many entries are returned (default 20).
func (a *Agent) journalHandler(w http.ResponseWriter, r *http.Request) {
	if a.journal == nil {
		writeError(w, http.StatusNotFound, "sync journal not enabled")
		return
	}

	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}

	entries, err := a.journal.Recent(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("failed to read journal: %v", err))
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"entries":   entries,
		"totalSize": len(entries),
	})
}

// bucketHandler handles GET /api/v1/bucket.
func (a *Agent) bucketHandler(w http.ResponseWriter, r *http.Request) {
	urls, err := a.buckets.List(r.Context(), a.cfg.BucketID())
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("failed to list bucket: %v", err))
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"bucket":    a.cfg.BucketID(),
		"urls":      urls,
		"totalSize": len(urls),
	})
}

// warmRequest is the payload for POST /api/v1/bucket/warm.
type warmRequest struct {
	URLs []string `json:"urls"`
}

// warmResult reports the outcome of warming one URL.
type warmResult struct {
	URL   string `json:"url"`
	Error string `json:"error,omitempty"`
}

// warmHandler handles POST /api/v1/bucket/warm: it fetches the given URLs
// and stores them in the current bucket, the operator's way of seeding CDN
// assets that cache-first routing otherwise never writes.
func (a *Agent) warmHandler(w http.ResponseWriter, r *http.Request) {
	var req warmRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid warm payload: %v", err))
		return
	}
	if len(req.URLs) == 0 {
		writeError(w, http.StatusBadRequest, "urls must not be empty")
		return
	}

	results := make([]warmResult, 0, len(req.URLs))
	warmed := 0
	for _, raw := range req.URLs {
		res := warmResult{URL: raw}
		if err := a.warmURL(r.Context(), raw); err != nil {
			res.Error = err.Error()
			a.logger.Warn("bucket warm failed", "url", raw, "error", err)
		} else {
			warmed++
		}
		results = append(results, res)
	}

	a.logger.Info("bucket warm finished", "requested", len(req.URLs), "warmed", warmed)
	writeJSON(w, http.StatusOK, map[string]any{
		"bucket":  a.cfg.BucketID(),
		"results": results,
		"warmed":  warmed,
	})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
