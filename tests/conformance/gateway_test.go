// Package conformance provides black-box tests that validate a running
// formulario gateway honors its admin API and routing contract. Tests run
// against a live gateway and require the GATEWAY_URL environment variable.
package conformance

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"sort"
	"strings"
	"testing"
	"time"
)

var gatewayURL string

func TestMain(m *testing.M) {
	gatewayURL = os.Getenv("GATEWAY_URL")
	if gatewayURL == "" {
		gatewayURL = "http://localhost:8090"
	}
	os.Exit(m.Run())
}

func skipIfNoServer(t *testing.T) {
	t.Helper()
	if os.Getenv("GATEWAY_URL") == "" {
		t.Skip("requires running gateway (set GATEWAY_URL)")
	}
}

// --- Types mirroring the gateway response structures ---

type statusResponse struct {
	State          string `json:"state"`
	Bucket         string `json:"bucket"`
	Online         bool   `json:"online"`
	Uptime         string `json:"uptime"`
	PendingRecords int64  `json:"pendingRecords"`
	TotalRecords   int64  `json:"totalRecords"`
	BucketEntries  int    `json:"bucketEntries"`
}

type formRecord struct {
	ID        uint   `json:"id"`
	Cliente   string `json:"cliente"`
	Servico   string `json:"servico"`
	Synced    bool   `json:"synced"`
	UniqueKey string `json:"chave"`
	ServerID  *int64 `json:"serverId,omitempty"`
}

type recordsResponse struct {
	Records   []formRecord `json:"records"`
	TotalSize int          `json:"totalSize"`
}

type passResult struct {
	Tag       string `json:"tag"`
	Trigger   string `json:"trigger"`
	Pending   int    `json:"pending"`
	Submitted int    `json:"submitted"`
	Synced    int    `json:"synced"`
	Rejected  int    `json:"rejected"`
	Errors    int    `json:"errors"`
}

type journalResponse struct {
	Entries []struct {
		ID      uint   `json:"id"`
		Trigger string `json:"trigger"`
	} `json:"entries"`
	TotalSize int `json:"totalSize"`
}

type bucketResponse struct {
	Bucket    string   `json:"bucket"`
	URLs      []string `json:"urls"`
	TotalSize int      `json:"totalSize"`
}

type configResponse struct {
	BucketName    string `json:"bucketName"`
	BucketVersion string `json:"bucketVersion"`
	BackendHost   string `json:"backendHost"`
	OriginHost    string `json:"originHost"`
	Sync          struct {
		Tag string `json:"tag"`
	} `json:"sync"`
}

// --- Helpers ---

func getJSON(t *testing.T, path string, v any) {
	t.Helper()
	resp, err := http.Get(gatewayURL + path)
	if err != nil {
		t.Fatalf("GET %s failed: %v", path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		t.Fatalf("GET %s returned %d: %s", path, resp.StatusCode, string(body))
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("GET %s: decode error: %v", path, err)
	}
}

func postJSON(t *testing.T, path, body string, wantStatus int, v any) {
	t.Helper()
	resp, err := http.Post(gatewayURL+path, "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST %s failed: %v", path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != wantStatus {
		respBody, _ := io.ReadAll(resp.Body)
		t.Fatalf("POST %s returned %d, want %d: %s", path, resp.StatusCode, wantStatus, string(respBody))
	}
	if v != nil {
		if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
			t.Fatalf("POST %s: decode error: %v", path, err)
		}
	}
}

func waitForReady(t *testing.T) {
	t.Helper()
	client := &http.Client{Timeout: 2 * time.Second}
	for i := 0; i < 30; i++ {
		resp, err := client.Get(gatewayURL + "/readyz")
		if err == nil && resp.StatusCode == http.StatusOK {
			resp.Body.Close()
			return
		}
		if resp != nil {
			resp.Body.Close()
		}
		time.Sleep(1 * time.Second)
	}
	t.Fatal("gateway not ready after 30 seconds")
}

// --- Tests ---

// TestHealthEndpoints validates /healthz, /livez and /readyz.
func TestHealthEndpoints(t *testing.T) {
	skipIfNoServer(t)
	waitForReady(t)

	for _, path := range []string{"/healthz", "/livez", "/readyz"} {
		t.Run(path, func(t *testing.T) {
			resp, err := http.Get(gatewayURL + path)
			if err != nil {
				t.Fatalf("GET %s failed: %v", path, err)
			}
			resp.Body.Close()
			if resp.StatusCode != http.StatusOK {
				t.Errorf("GET %s returned %d, want 200", path, resp.StatusCode)
			}
		})
	}

	var health struct {
		Status string `json:"status"`
	}
	getJSON(t, "/healthz", &health)
	if health.Status != "alive" {
		t.Errorf("health status = %q, want alive", health.Status)
	}
}

// TestStatusContract validates the shape and invariants of /api/v1/status.
func TestStatusContract(t *testing.T) {
	skipIfNoServer(t)
	waitForReady(t)

	var status statusResponse
	getJSON(t, "/api/v1/status", &status)

	if status.State != "active" {
		t.Errorf("state = %q, want active for a ready gateway", status.State)
	}
	if status.Bucket == "" {
		t.Error("bucket identity is empty")
	}
	if status.Uptime == "" {
		t.Error("uptime is empty")
	}
	if status.PendingRecords > status.TotalRecords {
		t.Errorf("pending (%d) exceeds total (%d)", status.PendingRecords, status.TotalRecords)
	}

	var cfg configResponse
	getJSON(t, "/api/v1/config", &cfg)
	if want := cfg.BucketName + "-" + cfg.BucketVersion; status.Bucket != want {
		t.Errorf("bucket = %q, want %q from config", status.Bucket, want)
	}
	if cfg.Sync.Tag == "" {
		t.Error("sync tag is empty")
	}
	if cfg.BackendHost == "" || cfg.OriginHost == "" {
		t.Error("backend or origin host is empty")
	}
}

// TestRecordLifecycle queues a record and validates its bookkeeping fields.
func TestRecordLifecycle(t *testing.T) {
	skipIfNoServer(t)
	waitForReady(t)

	var created formRecord
	postJSON(t, "/api/v1/records",
		`{"cliente": "Conformance Teste", "servico": "verificacao"}`,
		http.StatusCreated, &created)

	if created.ID == 0 {
		t.Fatal("created record has no ID")
	}
	if created.UniqueKey == "" {
		t.Error("created record has no idempotency key")
	}
	if created.Synced {
		t.Error("created record is already marked synced")
	}

	var got formRecord
	getJSON(t, fmt.Sprintf("/api/v1/records/%d", created.ID), &got)
	if got.UniqueKey != created.UniqueKey {
		t.Errorf("idempotency key changed: %q -> %q", created.UniqueKey, got.UniqueKey)
	}
	// A background pass may have drained the record already; either way the
	// invariant holds: synced records carry a server ID.
	if got.Synced && got.ServerID == nil {
		t.Error("synced record has no server ID")
	}
}

// TestSyncPass runs a manual pass and validates the result arithmetic and
// the journal entry it leaves behind.
func TestSyncPass(t *testing.T) {
	skipIfNoServer(t)
	waitForReady(t)

	var result passResult
	postJSON(t, "/api/v1/sync", "", http.StatusOK, &result)

	if result.Trigger != "manual" {
		t.Errorf("trigger = %q, want manual", result.Trigger)
	}
	if result.Submitted > result.Pending {
		t.Errorf("submitted (%d) exceeds pending (%d)", result.Submitted, result.Pending)
	}
	if got := result.Synced + result.Rejected + result.Errors; got != result.Submitted {
		t.Errorf("synced+rejected+errors = %d, want submitted = %d", got, result.Submitted)
	}

	var journal journalResponse
	getJSON(t, "/api/v1/journal", &journal)
	if journal.TotalSize < 1 {
		t.Fatal("journal has no entries after a manual pass")
	}
	if journal.Entries[0].Trigger != "manual" {
		t.Errorf("latest journal trigger = %q, want manual", journal.Entries[0].Trigger)
	}
}

// TestBucketListing validates /api/v1/bucket against the status counters.
func TestBucketListing(t *testing.T) {
	skipIfNoServer(t)
	waitForReady(t)

	var status statusResponse
	getJSON(t, "/api/v1/status", &status)

	var bucket bucketResponse
	getJSON(t, "/api/v1/bucket", &bucket)

	if bucket.Bucket != status.Bucket {
		t.Errorf("bucket = %q, status reports %q", bucket.Bucket, status.Bucket)
	}
	if bucket.TotalSize != len(bucket.URLs) {
		t.Errorf("totalSize = %d, urls = %d", bucket.TotalSize, len(bucket.URLs))
	}
	if !sort.StringsAreSorted(bucket.URLs) {
		t.Error("bucket urls are not sorted")
	}
}

// TestRoutingHeader validates that proxied responses report how the bucket
// participated.
func TestRoutingHeader(t *testing.T) {
	skipIfNoServer(t)
	waitForReady(t)

	resp, err := http.Get(gatewayURL + "/")
	if err != nil {
		t.Fatalf("GET / failed: %v", err)
	}
	defer resp.Body.Close()

	mode := resp.Header.Get("X-Gateway-Cache")
	switch mode {
	case "HIT", "MISS", "BYPASS":
	default:
		t.Errorf("X-Gateway-Cache = %q, want HIT, MISS or BYPASS", mode)
	}

	if resp.StatusCode == http.StatusServiceUnavailable {
		body, _ := io.ReadAll(resp.Body)
		if string(body) != "Offline" {
			t.Errorf("offline body = %q, want Offline", string(body))
		}
	}
}
