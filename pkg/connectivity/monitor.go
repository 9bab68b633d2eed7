// Package connectivity probes the backend and announces regained
// connectivity as tagged signals, the trigger that drives reconciliation.
package connectivity

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/PCMI-CASTILHO/FormularioServico/pkg/config"
)

// Pinger is the probe the monitor drives. Satisfied by backend.Client.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Signal is one connectivity event. Consumers act only on the tag they
// registered for and ignore everything else.
type Signal struct {
	Tag string
	At  time.Time
}

// signalBuffer is how many undelivered signals are held before new ones
// are dropped.
const signalBuffer = 8

// Monitor probes the backend on an interval. The transition from offline
// to online emits a Signal carrying the configured sync tag.
type Monitor struct {
	cfg    config.ProbeConfig
	tag    string
	pinger Pinger
	logger *slog.Logger

	online  atomic.Bool
	signals chan Signal
}

// NewMonitor creates a monitor that emits cfg.Sync.Tag signals.
func NewMonitor(cfg config.Config, pinger Pinger, logger *slog.Logger) *Monitor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Monitor{
		cfg:     cfg.Probe,
		tag:     cfg.Sync.Tag,
		pinger:  pinger,
		logger:  logger,
		signals: make(chan Signal, signalBuffer),
	}
}

// Online reports the result of the most recent probe. Before the first
// probe completes the monitor counts as offline.
func (m *Monitor) Online() bool {
	return m.online.Load()
}

// Signals returns the channel transition signals and manual triggers are
// delivered on.
func (m *Monitor) Signals() <-chan Signal {
	return m.signals
}

// Trigger queues a signal carrying the given tag without waiting for a
// probe, for operator-requested syncs.
func (m *Monitor) Trigger(tag string) {
	m.emit(Signal{Tag: tag, At: time.Now()})
}

// Run probes until the context is cancelled. The first probe happens
// immediately so Online is meaningful right after startup.
func (m *Monitor) Run(ctx context.Context) {
	m.logger.Info("connectivity monitor starting",
		"interval", m.cfg.Interval.String(),
		"timeout", m.cfg.Timeout.String())

	m.probe(ctx)

	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.logger.Info("connectivity monitor stopped")
			return
		case <-ticker.C:
			m.probe(ctx)
		}
	}
}

// probe runs one reachability check and emits a signal when the backend
// came back. A reachable backend at startup also counts as coming back,
// which drains anything queued while the gateway was down.
func (m *Monitor) probe(ctx context.Context) {
	probeCtx, cancel := context.WithTimeout(ctx, m.cfg.Timeout)
	defer cancel()

	err := m.pinger.Ping(probeCtx)
	nowOnline := err == nil
	wasOnline := m.online.Swap(nowOnline)

	switch {
	case nowOnline && !wasOnline:
		m.logger.Info("connectivity restored", "tag", m.tag)
		m.emit(Signal{Tag: m.tag, At: time.Now()})
	case !nowOnline && wasOnline:
		m.logger.Warn("connectivity lost", "error", err)
	}
}

func (m *Monitor) emit(sig Signal) {
	select {
	case m.signals <- sig:
	default:
		m.logger.Warn("signal buffer full, dropping signal", "tag", sig.Tag)
	}
}
