package snapshot

import (
	"errors"
	"strings"
	"sync"
	"testing"
)

const payload = `{
	"features": {
		"banner": {"defaultValue": "blue", "rules": [{"condition": {"country": "DE"}, "force": "red"}]},
		"checkout": {"defaultValue": false}
	},
	"savedGroups": {"beta": ["u1", "u2"]}
}`

func TestParse(t *testing.T) {
	snap, err := Parse([]byte(payload))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if snap.Len() != 2 {
		t.Errorf("Expected 2 features, got %d", snap.Len())
	}
	banner, ok := snap.Features["banner"]
	if !ok {
		t.Fatal("banner feature not found")
	}
	if got := banner.DefaultValue.Content(); got != "blue" {
		t.Errorf("banner default = %q, want blue", got)
	}
	if len(banner.Rules) != 1 {
		t.Errorf("Expected 1 rule, got %d", len(banner.Rules))
	}
	if snap.SavedGroups["beta"].Len() != 2 {
		t.Errorf("Expected saved group with 2 members, got %v", snap.SavedGroups["beta"])
	}
	if !strings.HasPrefix(snap.ETag, `W/"`) {
		t.Errorf("Expected weak ETag, got %s", snap.ETag)
	}
}

func TestParse_Invalid(t *testing.T) {
	for _, raw := range []string{`{`, `{"features": []}`, `not json`} {
		if _, err := Parse([]byte(raw)); !errors.Is(err, ErrInvalidPayload) {
			t.Errorf("Parse(%q) error = %v, want ErrInvalidPayload", raw, err)
		}
	}
}

func TestParse_Empty(t *testing.T) {
	snap, err := Parse([]byte(`{}`))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if snap.Features == nil || snap.Len() != 0 {
		t.Errorf("Expected empty feature map, got %v", snap.Features)
	}
	if snap.ETag == "" {
		t.Error("Expected non-empty ETag")
	}
}

func TestETag_Deterministic(t *testing.T) {
	reordered := `{"savedGroups": {"beta": ["u1", "u2"]}, "features": {
		"checkout": {"defaultValue": false},
		"banner": {"rules": [{"force": "red", "condition": {"country": "DE"}}], "defaultValue": "blue"}
	}}`
	a, err := Parse([]byte(payload))
	if err != nil {
		t.Fatal(err)
	}
	b, err := Parse([]byte(reordered))
	if err != nil {
		t.Fatal(err)
	}
	if a.ETag != b.ETag {
		t.Errorf("Expected equal ETags, got %s and %s", a.ETag, b.ETag)
	}
}

func TestETag_NestedKeyOrder(t *testing.T) {
	a, err := Parse([]byte(`{"features": {"f": {"defaultValue": {"a": 1, "b": {"x": true, "y": [1, 2]}}}}}`))
	if err != nil {
		t.Fatal(err)
	}
	b, err := Parse([]byte(`{"features": {"f": {"defaultValue": {"b": {"y": [1, 2], "x": true}, "a": 1}}}}`))
	if err != nil {
		t.Fatal(err)
	}
	if a.ETag != b.ETag {
		t.Errorf("Expected equal ETags for reordered nested keys, got %s and %s", a.ETag, b.ETag)
	}
}

func TestETag_Different(t *testing.T) {
	a, _ := Parse([]byte(`{"features": {"a": {"defaultValue": 1}}}`))
	b, _ := Parse([]byte(`{"features": {"a": {"defaultValue": 2}}}`))
	if a.ETag == b.ETag {
		t.Error("Expected different ETags for different payloads")
	}
}

func TestLoad_BeforeUpdate(t *testing.T) {
	reset()
	snap := Load()
	if snap == nil || snap.Features == nil {
		t.Fatal("Load must return an empty snapshot before the first update")
	}
	if snap.ETag != "" {
		t.Errorf("Expected empty ETag, got %s", snap.ETag)
	}
}

func TestUpdate_SwapsAndSkipsUnchanged(t *testing.T) {
	reset()
	defer reset()

	first, _ := Parse([]byte(payload))
	if !Update(first) {
		t.Fatal("first update must be applied")
	}
	if Load() != first {
		t.Error("Load did not return the updated snapshot")
	}

	same, _ := Parse([]byte(payload))
	if Update(same) {
		t.Error("update with identical ETag must be skipped")
	}
	if Load() != first {
		t.Error("unchanged update replaced the snapshot")
	}
}

func TestConcurrentLoadAndUpdate(t *testing.T) {
	reset()
	defer reset()

	a, _ := Parse([]byte(`{"features": {"a": {"defaultValue": 1}}}`))
	b, _ := Parse([]byte(`{"features": {"b": {"defaultValue": 1}}}`))

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			if i%2 == 0 {
				Update(a)
			} else {
				Update(b)
			}
		}(i)
		go func() {
			defer wg.Done()
			if s := Load(); s.Len() > 1 {
				t.Errorf("observed mixed snapshot with %d features", s.Len())
			}
		}()
	}
	wg.Wait()
}
