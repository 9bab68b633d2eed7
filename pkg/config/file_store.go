package config

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

const (
	// maxConfigFileSize is the maximum allowed config file size (1 MiB).
	maxConfigFileSize = 1 << 20

	// maxRevisionHistory is the maximum number of revision snapshots to keep.
	maxRevisionHistory = 20

	// historyDirName is the name of the directory used for revision snapshots.
	historyDirName = ".history"
)

// ErrVersionConflict is returned when a Save detects that the underlying file
// has been modified since the caller last loaded it (optimistic concurrency).
var ErrVersionConflict = errors.New("config version conflict: file was modified since last load")

// ErrFileTooLarge is returned when a config file exceeds maxConfigFileSize.
var ErrFileTooLarge = errors.New("config file exceeds maximum allowed size (1 MiB)")

// ErrPathTraversal is returned when a config file path contains path traversal.
var ErrPathTraversal = errors.New("config file path contains path traversal")

// ErrRevisionNotFound is returned when a rollback target version is not found.
var ErrRevisionNotFound = errors.New("revision not found")

// ChangeEvent is emitted when the file store detects an external change.
type ChangeEvent struct {
	// Version is the new content hash after the change.
	Version string

	// Error is set if the watcher failed to re-read the file.
	Error error
}

// Revision describes one snapshot in the store's history directory.
type Revision struct {
	Version   string    `json:"version"`
	Timestamp time.Time `json:"timestamp"`
	Size      int64     `json:"size"`
}

// fileConfig is the YAML schema of the config file. All fields are optional;
// absent fields keep their defaults. Durations are expressed in whole
// seconds so the file stays hand-editable.
type fileConfig struct {
	BucketName           *string  `yaml:"bucketName,omitempty"`
	BucketVersion        *string  `yaml:"bucketVersion,omitempty"`
	BackendScheme        *string  `yaml:"backendScheme,omitempty"`
	BackendHost          *string  `yaml:"backendHost,omitempty"`
	OriginScheme         *string  `yaml:"originScheme,omitempty"`
	OriginHost           *string  `yaml:"originHost,omitempty"`
	CDNHosts             []string `yaml:"cdnHosts,omitempty"`
	CoreAssets           []string `yaml:"coreAssets,omitempty"`
	OfflineFallbackAsset *string  `yaml:"offlineFallbackAsset,omitempty"`

	Sync *struct {
		Tag                   *string `yaml:"tag,omitempty"`
		Drain                 *string `yaml:"drain,omitempty"`
		ResyncIntervalSeconds *int    `yaml:"resyncIntervalSeconds,omitempty"`
		JournalRetentionDays  *int    `yaml:"journalRetentionDays,omitempty"`
	} `yaml:"sync,omitempty"`

	Database *struct {
		Type *string `yaml:"type,omitempty"`
		DSN  *string `yaml:"dsn,omitempty"`
	} `yaml:"database,omitempty"`

	HTTP *struct {
		ListenAddr                *string `yaml:"listenAddr,omitempty"`
		RequestTimeoutSeconds     *int    `yaml:"requestTimeoutSeconds,omitempty"`
		BucketWriteTimeoutSeconds *int    `yaml:"bucketWriteTimeoutSeconds,omitempty"`
	} `yaml:"http,omitempty"`

	Probe *struct {
		IntervalSeconds *int `yaml:"intervalSeconds,omitempty"`
		TimeoutSeconds  *int `yaml:"timeoutSeconds,omitempty"`
	} `yaml:"probe,omitempty"`
}

// apply overlays the file values onto cfg in place.
func (f *fileConfig) apply(cfg *Config) {
	setString := func(dst *string, src *string) {
		if src != nil && *src != "" {
			*dst = *src
		}
	}

	setString(&cfg.BucketName, f.BucketName)
	setString(&cfg.BucketVersion, f.BucketVersion)
	setString(&cfg.BackendScheme, f.BackendScheme)
	setString(&cfg.BackendHost, f.BackendHost)
	setString(&cfg.OriginScheme, f.OriginScheme)
	setString(&cfg.OriginHost, f.OriginHost)
	if len(f.CDNHosts) > 0 {
		cfg.CDNHosts = append([]string(nil), f.CDNHosts...)
	}
	if len(f.CoreAssets) > 0 {
		cfg.CoreAssets = append([]string(nil), f.CoreAssets...)
	}
	setString(&cfg.OfflineFallbackAsset, f.OfflineFallbackAsset)

	if f.Sync != nil {
		setString(&cfg.Sync.Tag, f.Sync.Tag)
		if f.Sync.Drain != nil && *f.Sync.Drain != "" {
			cfg.Sync.Drain = DrainPolicy(strings.ToLower(*f.Sync.Drain))
		}
		if f.Sync.ResyncIntervalSeconds != nil {
			cfg.Sync.ResyncInterval = time.Duration(*f.Sync.ResyncIntervalSeconds) * time.Second
		}
		if f.Sync.JournalRetentionDays != nil && *f.Sync.JournalRetentionDays > 0 {
			cfg.Sync.JournalRetentionDays = *f.Sync.JournalRetentionDays
		}
	}
	if f.Database != nil {
		if f.Database.Type != nil && *f.Database.Type != "" {
			cfg.Database.Type = strings.ToLower(*f.Database.Type)
		}
		setString(&cfg.Database.DSN, f.Database.DSN)
	}
	if f.HTTP != nil {
		setString(&cfg.HTTP.ListenAddr, f.HTTP.ListenAddr)
		if f.HTTP.RequestTimeoutSeconds != nil && *f.HTTP.RequestTimeoutSeconds > 0 {
			cfg.HTTP.RequestTimeout = time.Duration(*f.HTTP.RequestTimeoutSeconds) * time.Second
		}
		if f.HTTP.BucketWriteTimeoutSeconds != nil && *f.HTTP.BucketWriteTimeoutSeconds > 0 {
			cfg.HTTP.BucketWriteTimeout = time.Duration(*f.HTTP.BucketWriteTimeoutSeconds) * time.Second
		}
	}
	if f.Probe != nil {
		if f.Probe.IntervalSeconds != nil && *f.Probe.IntervalSeconds > 0 {
			cfg.Probe.Interval = time.Duration(*f.Probe.IntervalSeconds) * time.Second
		}
		if f.Probe.TimeoutSeconds != nil && *f.Probe.TimeoutSeconds > 0 {
			cfg.Probe.Timeout = time.Duration(*f.Probe.TimeoutSeconds) * time.Second
		}
	}
}

// toFileConfig converts a runtime Config into the file schema with every
// field populated.
func toFileConfig(cfg Config) *fileConfig {
	str := func(s string) *string { return &s }
	num := func(n int) *int { return &n }

	f := &fileConfig{
		BucketName:           str(cfg.BucketName),
		BucketVersion:        str(cfg.BucketVersion),
		BackendScheme:        str(cfg.BackendScheme),
		BackendHost:          str(cfg.BackendHost),
		OriginScheme:         str(cfg.OriginScheme),
		OriginHost:           str(cfg.OriginHost),
		CDNHosts:             append([]string(nil), cfg.CDNHosts...),
		CoreAssets:           append([]string(nil), cfg.CoreAssets...),
		OfflineFallbackAsset: str(cfg.OfflineFallbackAsset),
	}
	f.Sync = &struct {
		Tag                   *string `yaml:"tag,omitempty"`
		Drain                 *string `yaml:"drain,omitempty"`
		ResyncIntervalSeconds *int    `yaml:"resyncIntervalSeconds,omitempty"`
		JournalRetentionDays  *int    `yaml:"journalRetentionDays,omitempty"`
	}{
		Tag:                   str(cfg.Sync.Tag),
		Drain:                 str(string(cfg.Sync.Drain)),
		ResyncIntervalSeconds: num(int(cfg.Sync.ResyncInterval / time.Second)),
		JournalRetentionDays:  num(cfg.Sync.JournalRetentionDays),
	}
	f.Database = &struct {
		Type *string `yaml:"type,omitempty"`
		DSN  *string `yaml:"dsn,omitempty"`
	}{
		Type: str(cfg.Database.Type),
		DSN:  str(cfg.Database.DSN),
	}
	f.HTTP = &struct {
		ListenAddr                *string `yaml:"listenAddr,omitempty"`
		RequestTimeoutSeconds     *int    `yaml:"requestTimeoutSeconds,omitempty"`
		BucketWriteTimeoutSeconds *int    `yaml:"bucketWriteTimeoutSeconds,omitempty"`
	}{
		ListenAddr:                str(cfg.HTTP.ListenAddr),
		RequestTimeoutSeconds:     num(int(cfg.HTTP.RequestTimeout / time.Second)),
		BucketWriteTimeoutSeconds: num(int(cfg.HTTP.BucketWriteTimeout / time.Second)),
	}
	f.Probe = &struct {
		IntervalSeconds *int `yaml:"intervalSeconds,omitempty"`
		TimeoutSeconds  *int `yaml:"timeoutSeconds,omitempty"`
	}{
		IntervalSeconds: num(int(cfg.Probe.Interval / time.Second)),
		TimeoutSeconds:  num(int(cfg.Probe.Timeout / time.Second)),
	}
	return f
}

// FileStore persists gateway configuration in a YAML file on disk.
// It uses SHA-256 content hashing for optimistic concurrency control and
// atomic writes (write-to-temp + rename) to avoid partial writes.
// Safe for concurrent use.
type FileStore struct {
	path    string
	mu      sync.Mutex
	version string // cached SHA-256 hex digest of file content
}

// NewFileStore creates a FileStore for the given file path. The file does
// not need to exist yet; Load returns an error if it is missing.
// Returns an error if the path contains path traversal sequences.
func NewFileStore(path string) (*FileStore, error) {
	if err := validateStorePath(path); err != nil {
		return nil, err
	}
	return &FileStore{path: path}, nil
}

// validateStorePath checks that the path does not contain ".." traversal components.
func validateStorePath(path string) error {
	cleaned := filepath.Clean(path)
	for _, part := range strings.Split(cleaned, string(filepath.Separator)) {
		if part == ".." {
			return ErrPathTraversal
		}
	}
	return nil
}

// Path returns the file path managed by this store.
func (s *FileStore) Path() string {
	return s.path
}

// Load reads the YAML file, applies it over the defaults, and returns the
// resulting config together with a version string (SHA-256 hex digest of the
// raw file bytes).
func (s *FileStore) Load(_ context.Context) (Config, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		return Config{}, "", fmt.Errorf("config store: failed to read %s: %w", s.path, err)
	}

	if int64(len(data)) > maxConfigFileSize {
		return Config{}, "", fmt.Errorf("config store: %s: %w", s.path, ErrFileTooLarge)
	}

	version := hashBytes(data)
	s.version = version

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return Config{}, "", fmt.Errorf("config store: failed to parse %s: %w", s.path, err)
	}

	cfg := DefaultConfig()
	fc.apply(&cfg)
	return cfg, version, nil
}

// Save marshals the config to YAML and writes it atomically to the file.
// A non-empty version must match the current file hash; otherwise
// ErrVersionConflict is returned. An empty version writes unconditionally,
// creating the file if necessary. On success the new version hash is
// returned. Before overwriting, the current file is snapshotted to
// .history/ for revision tracking.
func (s *FileStore) Save(_ context.Context, cfg Config, version string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	currentData, err := os.ReadFile(s.path)
	switch {
	case err == nil:
		if version != "" && hashBytes(currentData) != version {
			return "", ErrVersionConflict
		}
	case os.IsNotExist(err) && version == "":
		currentData = nil
	default:
		return "", fmt.Errorf("config store: failed to read current file for version check: %w", err)
	}

	data, err := yaml.Marshal(toFileConfig(cfg))
	if err != nil {
		return "", fmt.Errorf("config store: failed to marshal config: %w", err)
	}

	if int64(len(data)) > maxConfigFileSize {
		return "", fmt.Errorf("config store: marshaled config: %w", ErrFileTooLarge)
	}

	// Snapshot the outgoing content before overwriting; history is best-effort.
	if currentData != nil {
		_ = s.snapshotCurrent(currentData, hashBytes(currentData))
	}

	// Atomic write: temp file in the same directory, fsync, then rename.
	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, ".gateway-*.yaml.tmp")
	if err != nil {
		return "", fmt.Errorf("config store: failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()

	defer func() {
		if tmpName != "" {
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return "", fmt.Errorf("config store: failed to write temp file: %w", err)
	}

	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return "", fmt.Errorf("config store: failed to sync temp file: %w", err)
	}

	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("config store: failed to close temp file: %w", err)
	}

	if err := os.Rename(tmpName, s.path); err != nil {
		return "", fmt.Errorf("config store: failed to rename temp file: %w", err)
	}
	tmpName = "" // prevent deferred Remove

	newVersion := hashBytes(data)
	s.version = newVersion

	_ = s.pruneHistory()

	return newVersion, nil
}

// Watch reports external changes to the config file. It watches the parent
// directory so the atomic rename performed by Save (and by editors) is
// observed, and emits an event whenever the file's content hash changes.
// The channel is closed when the context is cancelled.
func (s *FileStore) Watch(ctx context.Context) (<-chan ChangeEvent, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("config store: failed to create watcher: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := watcher.Add(dir); err != nil {
		_ = watcher.Close()
		return nil, fmt.Errorf("config store: failed to watch %s: %w", dir, err)
	}

	base := filepath.Base(s.path)
	events := make(chan ChangeEvent, 1)

	go func() {
		defer close(events)
		defer watcher.Close()

		last := s.currentVersion()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Base(ev.Name) != base {
					continue
				}
				if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
					continue
				}
				data, err := os.ReadFile(s.path)
				if err != nil {
					events <- ChangeEvent{Error: fmt.Errorf("config store: failed to re-read %s: %w", s.path, err)}
					continue
				}
				v := hashBytes(data)
				if v == last {
					continue
				}
				last = v
				s.setVersion(v)
				events <- ChangeEvent{Version: v}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				events <- ChangeEvent{Error: fmt.Errorf("config store: watcher error: %w", err)}
			}
		}
	}()

	return events, nil
}

func (s *FileStore) currentVersion() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.version
}

func (s *FileStore) setVersion(v string) {
	s.mu.Lock()
	s.version = v
	s.mu.Unlock()
}

// ListRevisions returns the revision history by scanning the .history/
// directory, newest first.
func (s *FileStore) ListRevisions(_ context.Context) ([]Revision, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	histDir := s.historyDir()
	entries, err := os.ReadDir(histDir)
	if err != nil {
		if os.IsNotExist(err) {
			return []Revision{}, nil
		}
		return nil, fmt.Errorf("config store: failed to read history dir: %w", err)
	}

	revisions := make([]Revision, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".yaml") {
			continue
		}
		rev, err := parseRevisionFilename(e)
		if err != nil {
			continue // skip unparseable filenames
		}
		revisions = append(revisions, rev)
	}

	sort.Slice(revisions, func(i, j int) bool {
		return revisions[i].Timestamp.After(revisions[j].Timestamp)
	})

	return revisions, nil
}

// Rollback restores the configuration to a previous revision identified by
// its version hash (full or 8-char short form). The revision file is read
// from .history/, parsed, and then saved via the normal Save path for
// concurrency safety.
func (s *FileStore) Rollback(ctx context.Context, version string) (Config, string, error) {
	s.mu.Lock()

	histDir := s.historyDir()
	entries, err := os.ReadDir(histDir)
	if err != nil {
		s.mu.Unlock()
		return Config{}, "", fmt.Errorf("config store: failed to read history dir: %w", err)
	}

	short := version
	if len(short) > 8 {
		short = short[:8]
	}
	var revisionFile string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".yaml") {
			continue
		}
		parts := strings.SplitN(strings.TrimSuffix(e.Name(), ".yaml"), "_", 2)
		if len(parts) == 2 && parts[1] == short {
			revisionFile = filepath.Join(histDir, e.Name())
			break
		}
	}
	if revisionFile == "" {
		s.mu.Unlock()
		return Config{}, "", ErrRevisionNotFound
	}

	revData, err := os.ReadFile(revisionFile)
	if err != nil {
		s.mu.Unlock()
		return Config{}, "", fmt.Errorf("config store: failed to read revision file: %w", err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal(revData, &fc); err != nil {
		s.mu.Unlock()
		return Config{}, "", fmt.Errorf("config store: revision file is invalid: %w", err)
	}
	cfg := DefaultConfig()
	fc.apply(&cfg)

	// Capture the current version for the concurrency check, then release
	// the lock so Save can re-acquire it.
	currentData, err := os.ReadFile(s.path)
	if err != nil {
		s.mu.Unlock()
		return Config{}, "", fmt.Errorf("config store: failed to read current file: %w", err)
	}
	currentVersion := hashBytes(currentData)
	s.mu.Unlock()

	newVersion, err := s.Save(ctx, cfg, currentVersion)
	if err != nil {
		return Config{}, "", fmt.Errorf("config store: rollback save failed: %w", err)
	}
	return cfg, newVersion, nil
}

// historyDir returns the path to the .history/ directory next to the config file.
func (s *FileStore) historyDir() string {
	return filepath.Join(filepath.Dir(s.path), historyDirName)
}

// snapshotCurrent copies file content to .history/{timestamp}_{version_short}.yaml.
// Must be called with s.mu held.
func (s *FileStore) snapshotCurrent(data []byte, version string) error {
	histDir := s.historyDir()
	if err := os.MkdirAll(histDir, 0o755); err != nil {
		return fmt.Errorf("config store: failed to create history dir: %w", err)
	}

	versionShort := version
	if len(versionShort) > 8 {
		versionShort = versionShort[:8]
	}

	filename := fmt.Sprintf("%d_%s.yaml", time.Now().Unix(), versionShort)
	if err := os.WriteFile(filepath.Join(histDir, filename), data, 0o644); err != nil {
		return fmt.Errorf("config store: failed to write history snapshot: %w", err)
	}

	return nil
}

// pruneHistory removes old revision files, keeping the most recent
// maxRevisionHistory. Must be called with s.mu held.
func (s *FileStore) pruneHistory() error {
	histDir := s.historyDir()
	entries, err := os.ReadDir(histDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	var yamlFiles []os.DirEntry
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".yaml") {
			yamlFiles = append(yamlFiles, e)
		}
	}

	if len(yamlFiles) <= maxRevisionHistory {
		return nil
	}

	// Names start with a unix timestamp, so lexical order is age order.
	sort.Slice(yamlFiles, func(i, j int) bool {
		return yamlFiles[i].Name() < yamlFiles[j].Name()
	})

	toRemove := len(yamlFiles) - maxRevisionHistory
	for i := 0; i < toRemove; i++ {
		_ = os.Remove(filepath.Join(histDir, yamlFiles[i].Name()))
	}

	return nil
}

// parseRevisionFilename extracts a Revision from a history directory entry.
// Expected filename format: {unix_timestamp}_{version_short}.yaml
func parseRevisionFilename(e os.DirEntry) (Revision, error) {
	name := strings.TrimSuffix(e.Name(), ".yaml")
	parts := strings.SplitN(name, "_", 2)
	if len(parts) != 2 {
		return Revision{}, fmt.Errorf("unexpected filename format: %s", e.Name())
	}

	ts, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return Revision{}, fmt.Errorf("invalid timestamp in filename: %s", e.Name())
	}

	info, err := e.Info()
	if err != nil {
		return Revision{}, fmt.Errorf("failed to stat history file: %w", err)
	}

	return Revision{
		Version:   parts[1],
		Timestamp: time.Unix(ts, 0),
		Size:      info.Size(),
	}, nil
}

// Resolve builds the effective runtime configuration: defaults, overlaid
// with the YAML file at path when path is non-empty and present, then
// environment overrides. The returned version is the file's content hash,
// or "" when no file was used.
func Resolve(ctx context.Context, path string) (Config, string, error) {
	cfg := DefaultConfig()
	version := ""

	if path != "" {
		store, err := NewFileStore(path)
		if err != nil {
			return Config{}, "", err
		}
		loaded, v, err := store.Load(ctx)
		switch {
		case err == nil:
			cfg = loaded
			version = v
		case errors.Is(err, os.ErrNotExist):
			// Missing file is fine; defaults plus env apply.
		default:
			return Config{}, "", err
		}
	}

	applyEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, "", fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, version, nil
}

// hashBytes returns the SHA-256 hex digest of the given byte slice.
func hashBytes(data []byte) string {
	h := sha256.Sum256(data)
	return fmt.Sprintf("%x", h)
}
