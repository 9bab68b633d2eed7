// Package bucket stores HTTP responses in named, versioned buckets and
// manages their lifecycle: install populates the current bucket with the
// application's core assets, activate evicts every superseded version.
package bucket

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"time"
)

// maxEntryBodySize caps the body size stored per entry (8 MiB).
const maxEntryBodySize = 8 << 20

// Entry is one stored response. The body bytes are owned by the entry;
// Response materializes an independent http.Response on every call so a
// stored entry can be served any number of times.
type Entry struct {
	// URL is the cache key: the request's path plus raw query.
	URL string

	Status   int
	Header   http.Header
	Body     []byte
	StoredAt time.Time
}

// NewEntry drains resp.Body and captures the response as an Entry keyed by
// url. The caller hands over the response; its body is closed here.
func NewEntry(url string, resp *http.Response) (*Entry, error) {
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxEntryBodySize+1))
	if err != nil {
		return nil, fmt.Errorf("read response body for %s: %w", url, err)
	}
	if len(body) > maxEntryBodySize {
		return nil, fmt.Errorf("response body for %s exceeds %d bytes", url, maxEntryBodySize)
	}

	return &Entry{
		URL:      url,
		Status:   resp.StatusCode,
		Header:   resp.Header.Clone(),
		Body:     body,
		StoredAt: time.Now(),
	}, nil
}

// Clone returns a deep copy of the entry with its own body array.
func (e *Entry) Clone() *Entry {
	if e == nil {
		return nil
	}
	return &Entry{
		URL:      e.URL,
		Status:   e.Status,
		Header:   e.Header.Clone(),
		Body:     append([]byte(nil), e.Body...),
		StoredAt: e.StoredAt,
	}
}

// Response materializes a fresh http.Response over a copy of the stored
// bytes. Consecutive calls return independent responses.
func (e *Entry) Response() *http.Response {
	body := append([]byte(nil), e.Body...)
	return &http.Response{
		StatusCode:    e.Status,
		Status:        fmt.Sprintf("%d %s", e.Status, http.StatusText(e.Status)),
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        e.Header.Clone(),
		Body:          io.NopCloser(bytes.NewReader(body)),
		ContentLength: int64(len(body)),
	}
}
