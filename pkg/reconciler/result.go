// Package reconciler drains the pending form queue to the backend, one
// pass per connectivity signal.
package reconciler

import (
	"context"
	"time"
)

// Outcome classifies one submission attempt within a pass.
type Outcome string

const (
	// OutcomeSynced means the backend accepted the record and the local
	// bookkeeping was updated.
	OutcomeSynced Outcome = "synced"

	// OutcomeRejected means the backend answered non-2xx. The record stays
	// pending and is retried on a later pass.
	OutcomeRejected Outcome = "rejected"

	// OutcomeError covers transport failures and local bookkeeping errors.
	OutcomeError Outcome = "error"
)

// Pass trigger sources.
const (
	TriggerSignal = "signal"
	TriggerResync = "resync"
	TriggerManual = "manual"
)

// Pass-level outcomes derived from the counts.
const (
	PassNoWork         = "no_work"
	PassSuccess        = "success"
	PassPartialFailure = "partial_failure"
	PassFailure        = "failure"
)

// ItemResult is the fate of a single record within a pass.
type ItemResult struct {
	RecordID uint          `json:"recordId"`
	Chave    string        `json:"chave"`
	Outcome  Outcome       `json:"outcome"`
	ServerID int64         `json:"serverId,omitempty"`
	Status   int           `json:"status,omitempty"`
	Err      string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration"`
}

// PassResult is the typed summary of one reconciliation pass, handed to the
// observer when the pass finishes.
type PassResult struct {
	Tag       string        `json:"tag"`
	Trigger   string        `json:"trigger"`
	StartedAt time.Time     `json:"startedAt"`
	Duration  time.Duration `json:"duration"`

	// Pending is the queue depth when the pass started.
	Pending int `json:"pending"`

	Submitted int `json:"submitted"`
	Synced    int `json:"synced"`
	Rejected  int `json:"rejected"`
	Errors    int `json:"errors"`

	Items []ItemResult `json:"items,omitempty"`

	// Err is set when the pass itself failed before submitting anything,
	// for example when the local store could not be read.
	Err string `json:"error,omitempty"`
}

// Outcome classifies the pass as a whole.
func (r PassResult) Outcome() string {
	switch {
	case r.Err != "":
		return PassFailure
	case r.Submitted == 0:
		return PassNoWork
	case r.Synced == r.Submitted:
		return PassSuccess
	case r.Synced > 0:
		return PassPartialFailure
	default:
		return PassFailure
	}
}

// Observer receives the result of every finished pass.
type Observer interface {
	PassCompleted(ctx context.Context, result PassResult)
}

// NoopObserver discards pass results.
type NoopObserver struct{}

func (NoopObserver) PassCompleted(context.Context, PassResult) {}

var _ Observer = NoopObserver{}
