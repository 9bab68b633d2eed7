package reconciler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/PCMI-CASTILHO/FormularioServico/pkg/backend"
	"github.com/PCMI-CASTILHO/FormularioServico/pkg/config"
	"github.com/PCMI-CASTILHO/FormularioServico/pkg/connectivity"
	"github.com/PCMI-CASTILHO/FormularioServico/pkg/records"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	// Unique shared-cache DSN per test so background passes cannot touch a
	// closed database.
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.New().String())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	return db
}

func setupStore(t *testing.T) *records.Store {
	t.Helper()
	store := records.NewStore(setupTestDB(t), testLogger())
	require.NoError(t, store.Open(context.Background()))
	return store
}

func addPending(t *testing.T, store *records.Store, cliente string) *records.FormRecord {
	t.Helper()
	rec := &records.FormRecord{Cliente: cliente, Servico: "manutencao preventiva"}
	require.NoError(t, store.Create(context.Background(), rec))
	return rec
}

// mockSubmitter records every chave it sees and answers from respond, or
// accepts with insertId 42 when respond is nil.
type mockSubmitter struct {
	mu      sync.Mutex
	chaves  []string
	respond func(chave string) (int64, error)
}

func (m *mockSubmitter) SubmitForm(ctx context.Context, chave string, dados map[string]any) (int64, error) {
	m.mu.Lock()
	m.chaves = append(m.chaves, chave)
	m.mu.Unlock()
	if m.respond == nil {
		return 42, nil
	}
	return m.respond(chave)
}

func (m *mockSubmitter) calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.chaves...)
}

// captureObserver keeps every pass result it is handed.
type captureObserver struct {
	mu      sync.Mutex
	results []PassResult
}

func (o *captureObserver) PassCompleted(_ context.Context, r PassResult) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.results = append(o.results, r)
}

func (o *captureObserver) all() []PassResult {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]PassResult(nil), o.results...)
}

func newTestReconciler(store *records.Store, submit backend.Submitter, obs Observer) *Reconciler {
	return New(config.DefaultConfig(), store, submit, obs, testLogger())
}

func TestRunPassSyncsPending(t *testing.T) {
	store := setupStore(t)
	rec := addPending(t, store, "ACME")
	mock := &mockSubmitter{}
	r := newTestReconciler(store, mock, nil)

	result := r.RunPass(context.Background(), TriggerManual)
	assert.Equal(t, 1, result.Pending)
	assert.Equal(t, 1, result.Submitted)
	assert.Equal(t, 1, result.Synced)
	assert.Equal(t, 0, result.Rejected)
	assert.Equal(t, 0, result.Errors)
	assert.Equal(t, PassSuccess, result.Outcome())

	stored, err := store.Get(context.Background(), rec.ID)
	require.NoError(t, err)
	assert.True(t, stored.Synced)
	require.NotNil(t, stored.ServerID)
	assert.Equal(t, int64(42), *stored.ServerID)
	require.NotNil(t, stored.SyncedAt)
	assert.Equal(t, rec.UniqueKey, stored.UniqueKey)

	// A second pass finds nothing and resubmits nothing.
	again := r.RunPass(context.Background(), TriggerManual)
	assert.Equal(t, 0, again.Submitted)
	assert.Len(t, mock.calls(), 1)
}

func TestRunPassEmptyQueue(t *testing.T) {
	store := setupStore(t)
	mock := &mockSubmitter{}
	r := newTestReconciler(store, mock, nil)

	result := r.RunPass(context.Background(), TriggerManual)
	assert.Equal(t, 0, result.Pending)
	assert.Equal(t, 0, result.Submitted)
	assert.Equal(t, PassNoWork, result.Outcome())
	assert.Empty(t, mock.calls(), "empty queue must cause no backend calls")
}

func TestRunPassContinuesPastRejection(t *testing.T) {
	store := setupStore(t)
	first := addPending(t, store, "first")
	second := addPending(t, store, "second")
	third := addPending(t, store, "third")

	mock := &mockSubmitter{respond: func(chave string) (int64, error) {
		if chave == second.UniqueKey {
			return 0, &backend.RejectedError{StatusCode: 500, Body: "erro interno"}
		}
		return 42, nil
	}}
	r := newTestReconciler(store, mock, nil)

	result := r.RunPass(context.Background(), TriggerManual)
	assert.Equal(t, 3, result.Submitted)
	assert.Equal(t, 2, result.Synced)
	assert.Equal(t, 1, result.Rejected)
	assert.Equal(t, PassPartialFailure, result.Outcome())

	for _, tc := range []struct {
		id     uint
		synced bool
	}{
		{first.ID, true},
		{second.ID, false},
		{third.ID, true},
	} {
		stored, err := store.Get(context.Background(), tc.id)
		require.NoError(t, err)
		assert.Equal(t, tc.synced, stored.Synced, "record %d", tc.id)
	}

	// The rejected record keeps its chave and is retried with it.
	mock.respond = nil
	r.RunPass(context.Background(), TriggerManual)

	calls := mock.calls()
	require.Len(t, calls, 4)
	assert.Equal(t, second.UniqueKey, calls[3])

	stored, err := store.Get(context.Background(), second.ID)
	require.NoError(t, err)
	assert.True(t, stored.Synced)
	assert.Equal(t, second.UniqueKey, stored.UniqueKey)
}

func TestRunPassTransportErrorLeavesPending(t *testing.T) {
	store := setupStore(t)
	rec := addPending(t, store, "ACME")

	mock := &mockSubmitter{respond: func(string) (int64, error) {
		return 0, errors.New("dial tcp: connection refused")
	}}
	r := newTestReconciler(store, mock, nil)

	result := r.RunPass(context.Background(), TriggerManual)
	assert.Equal(t, 1, result.Errors)
	assert.Equal(t, 0, result.Synced)
	assert.Equal(t, PassFailure, result.Outcome())

	stored, err := store.Get(context.Background(), rec.ID)
	require.NoError(t, err)
	assert.False(t, stored.Synced)
	assert.Nil(t, stored.ServerID)
}

func TestPassResultOutcome(t *testing.T) {
	for _, tc := range []struct {
		name   string
		result PassResult
		want   string
	}{
		{"store error", PassResult{Err: "disk gone"}, PassFailure},
		{"empty queue", PassResult{}, PassNoWork},
		{"all synced", PassResult{Submitted: 2, Synced: 2}, PassSuccess},
		{"mixed", PassResult{Submitted: 3, Synced: 1, Rejected: 2}, PassPartialFailure},
		{"all rejected", PassResult{Submitted: 2, Rejected: 2}, PassFailure},
	} {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, tc.result.Outcome())
		})
	}
}

func TestRunPassDrainSingle(t *testing.T) {
	store := setupStore(t)
	addPending(t, store, "first")
	addPending(t, store, "second")
	addPending(t, store, "third")

	cfg := config.DefaultConfig()
	cfg.Sync.Drain = config.DrainSingle
	mock := &mockSubmitter{}
	r := New(cfg, store, mock, nil, testLogger())

	result := r.RunPass(context.Background(), TriggerManual)
	assert.Equal(t, 3, result.Pending)
	assert.Equal(t, 1, result.Submitted)

	n, err := store.PendingCount(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestHandleSignalFiltersTag(t *testing.T) {
	store := setupStore(t)
	addPending(t, store, "ACME")
	mock := &mockSubmitter{}
	r := newTestReconciler(store, mock, nil)

	r.HandleSignal(context.Background(), connectivity.Signal{Tag: "outro-evento", At: time.Now()})
	assert.Empty(t, mock.calls(), "foreign tag must not trigger a pass")

	r.HandleSignal(context.Background(), connectivity.Signal{Tag: "background-sync-formularios", At: time.Now()})
	assert.Len(t, mock.calls(), 1)
}

func TestRunPassNotifiesObserver(t *testing.T) {
	store := setupStore(t)
	addPending(t, store, "ACME")
	obs := &captureObserver{}
	r := newTestReconciler(store, &mockSubmitter{}, obs)

	r.RunPass(context.Background(), TriggerSignal)

	results := obs.all()
	require.Len(t, results, 1)
	assert.Equal(t, "background-sync-formularios", results[0].Tag)
	assert.Equal(t, TriggerSignal, results[0].Trigger)
	assert.Equal(t, 1, results[0].Synced)
	require.Len(t, results[0].Items, 1)
	assert.Equal(t, OutcomeSynced, results[0].Items[0].Outcome)
	assert.Equal(t, int64(42), results[0].Items[0].ServerID)
}

func TestRunConsumesSignals(t *testing.T) {
	store := setupStore(t)
	rec := addPending(t, store, "ACME")
	mock := &mockSubmitter{}
	r := newTestReconciler(store, mock, nil)

	signals := make(chan connectivity.Signal, 1)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	go r.Run(ctx, signals)
	signals <- connectivity.Signal{Tag: "background-sync-formularios", At: time.Now()}

	require.Eventually(t, func() bool {
		stored, err := store.Get(context.Background(), rec.ID)
		return err == nil && stored.Synced
	}, 2*time.Second, 20*time.Millisecond, "signal should drive the record to synced")

	cancel()
}

func TestResyncLoopRetriesPending(t *testing.T) {
	store := setupStore(t)
	rec := addPending(t, store, "ACME")

	var attempts int
	var mu sync.Mutex
	mock := &mockSubmitter{respond: func(string) (int64, error) {
		mu.Lock()
		defer mu.Unlock()
		attempts++
		if attempts == 1 {
			return 0, errors.New("dial tcp: connection refused")
		}
		return 42, nil
	}}

	cfg := config.DefaultConfig()
	cfg.Sync.ResyncInterval = 20 * time.Millisecond
	r := New(cfg, store, mock, nil, testLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	go r.ResyncLoop(ctx)

	require.Eventually(t, func() bool {
		stored, err := store.Get(context.Background(), rec.ID)
		return err == nil && stored.Synced
	}, 3*time.Second, 20*time.Millisecond, "resync should eventually sync the record")

	cancel()
}

func TestJournalObserver(t *testing.T) {
	db := setupTestDB(t)
	journal, err := NewJournalObserver(db, testLogger())
	require.NoError(t, err)

	journal.PassCompleted(context.Background(), PassResult{
		Tag:       "background-sync-formularios",
		Trigger:   TriggerSignal,
		StartedAt: time.Now(),
		Duration:  120 * time.Millisecond,
		Pending:   2,
		Submitted: 2,
		Synced:    1,
		Rejected:  1,
		Items: []ItemResult{
			{RecordID: 1, Chave: "aaa", Outcome: OutcomeSynced, ServerID: 42},
			{RecordID: 2, Chave: "bbb", Outcome: OutcomeRejected, Status: 500},
		},
	})

	entries, err := journal.Recent(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "background-sync-formularios", entries[0].Tag)
	assert.Equal(t, TriggerSignal, entries[0].Trigger)
	assert.Equal(t, 1, entries[0].Synced)
	assert.Equal(t, 1, entries[0].Rejected)
	assert.Contains(t, entries[0].Detail, `"chave":"aaa"`)

	deleted, err := journal.Prune(context.Background(), time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	entries, err = journal.Recent(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, entries)
}
