package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/TimurManjosov/flagkit/internal/engine"
	"github.com/TimurManjosov/flagkit/internal/snapshot"
	"github.com/TimurManjosov/flagkit/internal/sticky"
)

const testPayload = `{
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

type trackRecorder struct {
	mu    sync.Mutex
	calls []string
}

func (tr *trackRecorder) track(exp *engine.Experiment, res *engine.ExperimentResult) {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	tr.calls = append(tr.calls, exp.Key+":"+res.HashValue)
}

func (tr *trackRecorder) count() int {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	return len(tr.calls)
}

func seedSnapshot(t *testing.T) *snapshot.Snapshot {
	t.Helper()
	snap, err := snapshot.Parse([]byte(testPayload))
	if err != nil {
		t.Fatalf("parse payload: %v", err)
	}
	snapshot.Update(snap)
	return snapshot.Load()
}

func newTestServer(t *testing.T, opts Options) (*httptest.Server, *snapshot.Snapshot) {
	t.Helper()
	snap := seedSnapshot(t)
	ts := httptest.NewServer(NewServer(opts).Router())
	t.Cleanup(ts.Close)
	return ts, snap
}

func post(t *testing.T, url, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestHealthz(t *testing.T) {
	ts, _ := newTestServer(t, Options{})

	resp, err := http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected 200, got %d", resp.StatusCode)
	}
}

func TestFeatures_ETag(t *testing.T) {
	ts, snap := newTestServer(t, Options{})

	resp, err := http.Get(ts.URL + "/v1/features")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200, got %d", resp.StatusCode)
	}
	if got := resp.Header.Get("ETag"); got != snap.ETag {
		t.Errorf("Expected ETag %s, got %s", snap.ETag, got)
	}
	var payload snapshot.Payload
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(payload.Features) != 2 {
		t.Errorf("Expected 2 features, got %d", len(payload.Features))
	}

	req, _ := http.NewRequest(http.MethodGet, ts.URL+"/v1/features", nil)
	req.Header.Set("If-None-Match", snap.ETag)
	resp2, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp2.Body.Close()
	if resp2.StatusCode != http.StatusNotModified {
		t.Errorf("Expected 304, got %d", resp2.StatusCode)
	}
}

func TestEvalOne(t *testing.T) {
	ts, _ := newTestServer(t, Options{})

	tests := []struct {
		name   string
		body   string
		value  string
		source engine.FeatureSource
	}{
		{"rule matches", `{"attributes": {"id": "u1", "country": "US"}}`, "red", engine.SourceForce},
		{"falls back to default", `{"attributes": {"id": "u1", "country": "DE"}}`, "blue", engine.SourceDefaultValue},
		{"no attributes", `{}`, "blue", engine.SourceDefaultValue},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := post(t, ts.URL+"/v1/features/banner/eval", tt.body)
			if resp.StatusCode != http.StatusOK {
				t.Fatalf("Expected 200, got %d", resp.StatusCode)
			}
			var res engine.FeatureResult
			if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if got, _ := res.Value.AsString(); got != tt.value {
				t.Errorf("Expected value %q, got %q", tt.value, got)
			}
			if res.Source != tt.source {
				t.Errorf("Expected source %s, got %s", tt.source, res.Source)
			}
		})
	}
}

func TestEvalOne_UnknownFeature(t *testing.T) {
	ts, _ := newTestServer(t, Options{})

	resp := post(t, ts.URL+"/v1/features/nope/eval", `{}`)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("Expected 404, got %d", resp.StatusCode)
	}
	var errResp ErrorResponse
	if err := json.NewDecoder(resp.Body).Decode(&errResp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if errResp.Code != ErrCodeNotFound {
		t.Errorf("Expected code %s, got %s", ErrCodeNotFound, errResp.Code)
	}
}

func TestEvalAll(t *testing.T) {
	ts, snap := newTestServer(t, Options{})

	resp := post(t, ts.URL+"/v1/features/eval", `{"attributes": {"id": "u1"}}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200, got %d", resp.StatusCode)
	}
	var out evalAllResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(out.Features) != 2 {
		t.Errorf("Expected 2 results, got %d", len(out.Features))
	}
	if out.ETag != snap.ETag {
		t.Errorf("Expected etag %s, got %s", snap.ETag, out.ETag)
	}
	if out.Features["checkout"].Source != engine.SourceExperiment {
		t.Errorf("Expected checkout from experiment, got %s", out.Features["checkout"].Source)
	}

	resp = post(t, ts.URL+"/v1/features/eval", `{"attributes": {"id": "u1"}, "keys": ["banner", "missing"]}`)
	out = evalAllResponse{}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(out.Features) != 2 {
		t.Fatalf("Expected 2 results, got %d", len(out.Features))
	}
	if out.Features["missing"].Source != engine.SourceUnknownFeature {
		t.Errorf("Expected unknownFeature, got %s", out.Features["missing"].Source)
	}
}

func TestRunExperiment(t *testing.T) {
	ts, _ := newTestServer(t, Options{})

	body := `{"attributes": {"id": "u1"}, "experiment": {"key": "hero", "variations": ["a", "b"]}}`
	resp := post(t, ts.URL+"/v1/experiments/run", body)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200, got %d", resp.StatusCode)
	}
	var res engine.ExperimentResult
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !res.InExperiment || !res.HashUsed {
		t.Errorf("Expected user in experiment with hash, got %+v", res)
	}
	if res.HashValue != "u1" {
		t.Errorf("Expected hash value u1, got %s", res.HashValue)
	}

	body = `{"attributes": {"id": "u1"}, "experiment": {"key": "hero", "variations": ["a", "b"]}, "forcedVariations": {"hero": 1}}`
	resp = post(t, ts.URL+"/v1/experiments/run", body)
	res = engine.ExperimentResult{}
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if res.VariationID != 1 || res.InExperiment {
		t.Errorf("Expected forced variation 1 outside the experiment, got %+v", res)
	}
}

func TestRunExperiment_BadRequests(t *testing.T) {
	ts, _ := newTestServer(t, Options{})

	tests := []struct {
		name   string
		body   string
		status int
		code   ErrorCode
	}{
		{"invalid json", `{"attributes": `, http.StatusBadRequest, ErrCodeInvalidJSON},
		{"missing experiment", `{"attributes": {"id": "u1"}}`, http.StatusBadRequest, ErrCodeMissingField},
		{"empty key", `{"experiment": {"key": "", "variations": [0, 1]}}`, http.StatusBadRequest, ErrCodeValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := post(t, ts.URL+"/v1/experiments/run", tt.body)
			if resp.StatusCode != tt.status {
				t.Fatalf("Expected %d, got %d", tt.status, resp.StatusCode)
			}
			var errResp ErrorResponse
			if err := json.NewDecoder(resp.Body).Decode(&errResp); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if errResp.Code != tt.code {
				t.Errorf("Expected code %s, got %s", tt.code, errResp.Code)
			}
		})
	}
}

func TestBodyTooLarge(t *testing.T) {
	seedSnapshot(t)
	router := NewServer(Options{}).Router()

	body := `{"attributes": {"blob": "` + strings.Repeat("x", maxBodyBytes) + `"}}`
	req := httptest.NewRequest(http.MethodPost, "/v1/features/eval", strings.NewReader(body))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("Expected 413, got %d", w.Code)
	}
	var errResp ErrorResponse
	if err := json.NewDecoder(w.Body).Decode(&errResp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if errResp.Code != ErrCodeRequestTooLarge {
		t.Errorf("Expected code %s, got %s", ErrCodeRequestTooLarge, errResp.Code)
	}
}

func TestTrackingSharedAcrossRequests(t *testing.T) {
	rec := &trackRecorder{}
	ts, _ := newTestServer(t, Options{TrackingCallback: rec.track})

	for i := 0; i < 3; i++ {
		post(t, ts.URL+"/v1/features/checkout/eval", `{"attributes": {"id": "u1"}}`)
	}
	if got := rec.count(); got != 1 {
		t.Errorf("Expected 1 exposure for repeated requests, got %d", got)
	}

	post(t, ts.URL+"/v1/features/checkout/eval", `{"attributes": {"id": "u2"}}`)
	if got := rec.count(); got != 2 {
		t.Errorf("Expected 2 exposures after a new user, got %d", got)
	}
}

func TestQAModeSkipsExperiments(t *testing.T) {
	rec := &trackRecorder{}
	ts, _ := newTestServer(t, Options{TrackingCallback: rec.track, QAMode: true})

	resp := post(t, ts.URL+"/v1/features/checkout/eval", `{"attributes": {"id": "u1"}}`)
	var res engine.FeatureResult
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if res.Source != engine.SourceDefaultValue {
		t.Errorf("Expected defaultValue in QA mode, got %s", res.Source)
	}
	if rec.count() != 0 {
		t.Errorf("Expected no exposures in QA mode, got %d", rec.count())
	}
}

func TestStickyBucketsPersisted(t *testing.T) {
	store := sticky.NewMemoryService()
	ts, _ := newTestServer(t, Options{StickyService: store})

	resp := post(t, ts.URL+"/v1/features/checkout/eval", `{"attributes": {"id": "u1"}}`)
	var first engine.FeatureResult
	if err := json.NewDecoder(resp.Body).Decode(&first); err != nil {
		t.Fatalf("decode: %v", err)
	}

	doc, err := store.GetAssignments(context.Background(), "id", "u1")
	if err != nil {
		t.Fatalf("GetAssignments: %v", err)
	}
	if doc == nil || len(doc.Assignments) != 1 {
		t.Fatalf("Expected one stored assignment, got %+v", doc)
	}

	resp = post(t, ts.URL+"/v1/features/checkout/eval", `{"attributes": {"id": "u1"}}`)
	var second engine.FeatureResult
	if err := json.NewDecoder(resp.Body).Decode(&second); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if second.ExperimentResult == nil || !second.ExperimentResult.StickyBucketUsed {
		t.Fatalf("Expected the second request to use the sticky bucket, got %+v", second.ExperimentResult)
	}
	if second.ExperimentResult.VariationID != first.ExperimentResult.VariationID {
		t.Errorf("Expected variation %d, got %d", first.ExperimentResult.VariationID, second.ExperimentResult.VariationID)
	}
}

func TestRateLimit(t *testing.T) {
	ts, _ := newTestServer(t, Options{RateLimitPerIP: 2})

	var last int
	for i := 0; i < 3; i++ {
		resp, err := http.Get(ts.URL + "/healthz")
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		last = resp.StatusCode
	}
	if last != http.StatusTooManyRequests {
		t.Errorf("Expected 429 on the third request, got %d", last)
	}
}
