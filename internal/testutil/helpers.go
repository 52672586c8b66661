// Package testutil holds helpers shared by tests that run against a live
// API router.
package testutil

import (
	"bytes"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/TimurManjosov/flagkit/internal/api"
	"github.com/TimurManjosov/flagkit/internal/snapshot"
)

// SamplePayload has one forced rule and one experiment rule.
const SamplePayload = `{
  "features": {
    "banner": {
      "defaultValue": "blue",
      "rules": [{"id": "us", "condition": {"country": "US"}, "force": "red"}]
    },
    "checkout": {
      "defaultValue": false,
      "rules": [{"id": "exp", "key": "checkout-exp", "variations": [false, true], "coverage": 1}]
    }
  }
}`

// SeedSnapshot parses raw and installs it as the current snapshot.
func SeedSnapshot(t *testing.T, raw string) *snapshot.Snapshot {
	t.Helper()
	snap, err := snapshot.Parse([]byte(raw))
	if err != nil {
		t.Fatalf("parse payload: %v", err)
	}
	snapshot.Update(snap)
	return snapshot.Load()
}

// NewTestServer seeds SamplePayload and starts an httptest server running
// the API router. The server is closed when the test ends.
func NewTestServer(t *testing.T, opts api.Options) *httptest.Server {
	t.Helper()
	SeedSnapshot(t, SamplePayload)
	ts := httptest.NewServer(api.NewServer(opts).Router())
	t.Cleanup(ts.Close)
	return ts
}

// HTTPRequest is a helper for making test HTTP requests.
type HTTPRequest struct {
	Method  string
	Path    string
	Body    string
	Headers map[string]string
}

// Do executes the HTTP request and returns the response recorder.
func (r *HTTPRequest) Do(t *testing.T, handler http.Handler) *httptest.ResponseRecorder {
	t.Helper()
	var body io.Reader
	if r.Body != "" {
		body = bytes.NewBufferString(r.Body)
	}
	req := httptest.NewRequest(r.Method, r.Path, body)
	if r.Body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range r.Headers {
		req.Header.Set(k, v)
	}
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	return rr
}
