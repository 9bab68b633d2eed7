package bucket

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewEntry_CapturesResponse(t *testing.T) {
	rec := httptest.NewRecorder()
	rec.Header().Set("Content-Type", "application/json")
	rec.WriteHeader(http.StatusCreated)
	_, _ = rec.WriteString(`{"ok":true}`)

	entry, err := NewEntry("/api/config.json", rec.Result())
	require.NoError(t, err)

	assert.Equal(t, "/api/config.json", entry.URL)
	assert.Equal(t, http.StatusCreated, entry.Status)
	assert.Equal(t, "application/json", entry.Header.Get("Content-Type"))
	assert.Equal(t, `{"ok":true}`, string(entry.Body))
	assert.False(t, entry.StoredAt.IsZero())
}

func TestEntry_ResponsesAreIndependent(t *testing.T) {
	entry := testEntry("/index.html", "<html>hello</html>")

	r1 := entry.Response()
	r2 := entry.Response()

	b1, err := io.ReadAll(r1.Body)
	require.NoError(t, err)
	assert.Equal(t, "<html>hello</html>", string(b1))

	// Draining and mutating the first response must not affect the second.
	r1.Header.Set("Content-Type", "mutated")

	b2, err := io.ReadAll(r2.Body)
	require.NoError(t, err)
	assert.Equal(t, "<html>hello</html>", string(b2))
	assert.Equal(t, "text/html; charset=utf-8", r2.Header.Get("Content-Type"))

	// The stored entry itself stays intact.
	assert.Equal(t, "<html>hello</html>", string(entry.Body))
}

func TestEntry_Clone(t *testing.T) {
	entry := testEntry("/index.html", "body")

	c := entry.Clone()
	c.Body[0] = 'X'
	c.Header.Set("Content-Type", "mutated")

	assert.Equal(t, "body", string(entry.Body))
	assert.Equal(t, "text/html; charset=utf-8", entry.Header.Get("Content-Type"))
}
