package bucket

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/PCMI-CASTILHO/FormularioServico/pkg/config"
)

// AssetResult reports the outcome of installing one core asset.
type AssetResult struct {
	URL string `json:"url"`
	Err error  `json:"-"`
}

// Lifecycle drives the bucket through its install and activate phases.
type Lifecycle struct {
	cfg    config.Config
	store  Store
	client *http.Client
	logger *slog.Logger
}

// NewLifecycle creates a Lifecycle. A nil client falls back to
// http.DefaultClient, a nil logger to slog.Default.
func NewLifecycle(cfg config.Config, store Store, client *http.Client, logger *slog.Logger) *Lifecycle {
	if client == nil {
		client = http.DefaultClient
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Lifecycle{cfg: cfg, store: store, client: client, logger: logger}
}

// Install fetches every configured core asset from the origin and stores it
// in the current bucket. Failures are logged per asset and never abort the
// pass; repeating Install refreshes entries in place, so it is idempotent.
func (l *Lifecycle) Install(ctx context.Context) []AssetResult {
	results := make([]AssetResult, 0, len(l.cfg.CoreAssets))
	installed := 0

	for _, asset := range l.cfg.CoreAssets {
		err := l.installAsset(ctx, asset)
		if err != nil {
			l.logger.Warn("core asset install failed", "asset", asset, "error", err)
		} else {
			installed++
		}
		results = append(results, AssetResult{URL: asset, Err: err})
	}

	l.logger.Info("bucket install finished",
		"bucket", l.cfg.BucketID(),
		"installed", installed,
		"failed", len(results)-installed,
	)
	return results
}

// installAsset fetches one origin-relative asset and stores it keyed by its
// relative URL so request routing finds it by path.
func (l *Lifecycle) installAsset(ctx context.Context, asset string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, l.cfg.OriginBaseURL()+asset, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}

	resp, err := l.client.Do(req)
	if err != nil {
		return fmt.Errorf("fetch: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		resp.Body.Close()
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	entry, err := NewEntry(asset, resp)
	if err != nil {
		return err
	}

	if err := l.store.Put(ctx, l.cfg.BucketID(), entry); err != nil {
		return fmt.Errorf("store: %w", err)
	}
	return nil
}

// Activate deletes every bucket whose identity differs from the current one
// and returns the deleted identities. Enumeration or delete errors abort
// the pass; the caller decides whether to retry.
func (l *Lifecycle) Activate(ctx context.Context) ([]string, error) {
	current := l.cfg.BucketID()

	buckets, err := l.store.Buckets(ctx)
	if err != nil {
		return nil, fmt.Errorf("enumerate buckets: %w", err)
	}

	var deleted []string
	for _, id := range buckets {
		if id == current {
			continue
		}
		if err := l.store.DeleteBucket(ctx, id); err != nil {
			return deleted, fmt.Errorf("delete superseded bucket %s: %w", id, err)
		}
		deleted = append(deleted, id)
	}

	l.logger.Info("bucket activation finished", "bucket", current, "deleted", deleted)
	return deleted, nil
}
