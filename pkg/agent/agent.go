// Package agent assembles the offline gateway: the response bucket, the
// request routing proxy, the durable form queue and the reconciler, driven
// through an explicit install/activate/terminate lifecycle.
package agent

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"gorm.io/gorm"

	"github.com/PCMI-CASTILHO/FormularioServico/pkg/backend"
	"github.com/PCMI-CASTILHO/FormularioServico/pkg/bucket"
	"github.com/PCMI-CASTILHO/FormularioServico/pkg/config"
	"github.com/PCMI-CASTILHO/FormularioServico/pkg/connectivity"
	"github.com/PCMI-CASTILHO/FormularioServico/pkg/reconciler"
	"github.com/PCMI-CASTILHO/FormularioServico/pkg/records"
	"github.com/PCMI-CASTILHO/FormularioServico/pkg/routing"
)

// State is the lifecycle state of the gateway agent.
type State string

const (
	// StateInstalling covers startup: schema preparation and bucket
	// population. The proxy is not serving yet.
	StateInstalling State = "installing"

	// StateActive is normal operation: the proxy serves, signals are
	// consumed, superseded buckets are gone.
	StateActive State = "active"

	// StateTerminating is the drain phase after shutdown begins.
	StateTerminating State = "terminating"
)

// Named lifecycle transitions.
const (
	transitionActivate  = "activate"
	transitionTerminate = "terminate"
)

// Agent owns every gateway component and its lifecycle.
type Agent struct {
	cfg    config.Config
	db     *gorm.DB
	logger *slog.Logger

	records   *records.Store
	buckets   bucket.Store
	lifecycle *bucket.Lifecycle
	transport *routing.Router
	proxy     *routing.Handler
	client    *backend.Client
	monitor   *connectivity.Monitor
	rec       *reconciler.Reconciler
	journal   *reconciler.JournalObserver
	observer  reconciler.Observer
	fetch     *http.Client
	upstream  http.RoundTripper

	state      State
	startedAt  time.Time
	installed  []bucket.AssetResult
	deleted    []string
	cleanupErr error
	mu         sync.RWMutex
	wg         sync.WaitGroup
}

// Option configures an Agent.
type Option func(*Agent)

// WithBucketStore overrides the database-backed bucket store.
func WithBucketStore(store bucket.Store) Option {
	return func(a *Agent) { a.buckets = store }
}

// WithUpstream sets the transport the proxy uses for network fetches.
func WithUpstream(rt http.RoundTripper) Option {
	return func(a *Agent) { a.upstream = rt }
}

// WithObserver replaces the sync journal as the reconciler's observer.
func WithObserver(obs reconciler.Observer) Option {
	return func(a *Agent) { a.observer = obs }
}

// New wires up all components. The agent starts in the installing state;
// call Install, then Activate, then Start.
func New(cfg config.Config, db *gorm.DB, logger *slog.Logger, opts ...Option) (*Agent, error) {
	if logger == nil {
		logger = slog.Default()
	}

	a := &Agent{
		cfg:       cfg,
		db:        db,
		logger:    logger,
		state:     StateInstalling,
		startedAt: time.Now(),
		fetch: &http.Client{
			Timeout: cfg.HTTP.RequestTimeout,
		},
	}
	for _, opt := range opts {
		opt(a)
	}

	if a.buckets == nil {
		store := bucket.NewDBStore(db)
		if err := store.AutoMigrate(); err != nil {
			return nil, fmt.Errorf("migrate bucket store: %w", err)
		}
		a.buckets = store
	}

	a.records = records.NewStore(db, logger)
	a.client = backend.NewClient(cfg, backend.WithLogger(logger))
	a.lifecycle = bucket.NewLifecycle(cfg, a.buckets, a.fetch, logger)

	ropts := []routing.Option{routing.WithLogger(logger)}
	if a.upstream != nil {
		ropts = append(ropts, routing.WithUpstream(a.upstream))
	}
	a.transport = routing.NewRouter(cfg, a.buckets, ropts...)
	a.proxy = routing.NewHandler(cfg, a.transport, logger)

	a.monitor = connectivity.NewMonitor(cfg, a.client, logger)

	if a.observer == nil {
		journal, err := reconciler.NewJournalObserver(db, logger)
		if err != nil {
			return nil, fmt.Errorf("init sync journal: %w", err)
		}
		a.journal = journal
		a.observer = journal
	}
	a.rec = reconciler.New(cfg, a.records, a.client, a.observer, logger)

	return a, nil
}

// State returns the agent's current lifecycle state.
func (a *Agent) State() State {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.state
}

// transition moves the agent from one state to another by a named
// transition, or fails when the agent is not in the expected state.
func (a *Agent) transition(name string, from, to State) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.state != from {
		return fmt.Errorf("transition %s requires state %s, agent is %s", name, from, a.state)
	}
	a.state = to
	a.logger.Info("agent state changed", "transition", name, "from", string(from), "to", string(to))
	return nil
}

// Install prepares the local schema and populates the current bucket with
// the core assets. A schema problem is fatal; individual asset failures are
// not, they are reported in the results and the install proceeds.
func (a *Agent) Install(ctx context.Context) ([]bucket.AssetResult, error) {
	if err := a.records.Open(ctx); err != nil {
		return nil, fmt.Errorf("open records store: %w", err)
	}

	results := a.lifecycle.Install(ctx)
	a.mu.Lock()
	a.installed = results
	a.mu.Unlock()
	return results, nil
}

// Activate moves the agent to active and evicts every bucket of a
// different version. The agent serves from activation on even when the
// cleanup fails; leftovers are retried on the next startup.
func (a *Agent) Activate(ctx context.Context) error {
	if err := a.transition(transitionActivate, StateInstalling, StateActive); err != nil {
		return err
	}

	deleted, err := a.lifecycle.Activate(ctx)
	a.mu.Lock()
	a.deleted = deleted
	a.cleanupErr = err
	a.mu.Unlock()
	if err != nil {
		a.logger.Error("superseded bucket cleanup incomplete", "error", err)
	}
	return nil
}

// Start launches the background loops: connectivity probing, signal
// consumption, periodic resync and journal retention. The loops stop when
// the context is cancelled.
func (a *Agent) Start(ctx context.Context) error {
	if st := a.State(); st != StateActive {
		return fmt.Errorf("agent must be active to start, state is %s", st)
	}

	a.wg.Add(4)
	go func() {
		defer a.wg.Done()
		a.monitor.Run(ctx)
	}()
	go func() {
		defer a.wg.Done()
		a.rec.Run(ctx, a.monitor.Signals())
	}()
	go func() {
		defer a.wg.Done()
		a.rec.ResyncLoop(ctx)
	}()
	go func() {
		defer a.wg.Done()
		if a.journal != nil {
			a.journal.RetentionLoop(ctx, a.cfg.Sync.JournalRetentionDays)
		}
	}()
	return nil
}

// Stop moves the agent to terminating and waits for the background loops.
// The caller cancels the Start context before calling Stop.
func (a *Agent) Stop(ctx context.Context) error {
	if err := a.transition(transitionTerminate, StateActive, StateTerminating); err != nil {
		return err
	}

	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		a.logger.Info("agent stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("agent shutdown timed out: %w", ctx.Err())
	}
}

// warmURL fetches one URL and stores it in the current bucket. Relative
// URLs are fetched from the origin and keyed by path, exactly like core
// assets; absolute URLs are fetched directly and keyed by the full URL,
// which is the form the CDN lookup uses.
func (a *Agent) warmURL(ctx context.Context, raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("parse url: %w", err)
	}

	target := raw
	if !u.IsAbs() {
		if !strings.HasPrefix(raw, "/") {
			return fmt.Errorf("relative url must start with /")
		}
		target = a.cfg.OriginBaseURL() + raw
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}

	resp, err := a.fetch.Do(req)
	if err != nil {
		return fmt.Errorf("fetch: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		resp.Body.Close()
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	entry, err := bucket.NewEntry(raw, resp)
	if err != nil {
		return err
	}
	if err := a.buckets.Put(ctx, a.cfg.BucketID(), entry); err != nil {
		return fmt.Errorf("store: %w", err)
	}
	return nil
}
