package sticky

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeys(t *testing.T) {
	assert.Equal(t, "id||u1", DocKey("id", "u1"))
	assert.Equal(t, "exp__0", ExperimentKey("exp", 0))
	assert.Equal(t, "id||u1", Document{AttributeName: "id", AttributeValue: "u1"}.Key())
}

func TestAssignments_HashWinsOverFallback(t *testing.T) {
	docs := Docs{
		"id||u1":         {AttributeName: "id", AttributeValue: "u1", Assignments: map[string]string{"a__0": "1"}},
		"deviceId||d1":   {AttributeName: "deviceId", AttributeValue: "d1", Assignments: map[string]string{"a__0": "0", "b__0": "2"}},
		"deviceId||else": {AttributeName: "deviceId", AttributeValue: "else", Assignments: map[string]string{"c__0": "1"}},
	}

	got := Assignments(docs, "id||u1", "deviceId||d1")
	assert.Equal(t, map[string]string{"a__0": "1", "b__0": "2"}, got)

	assert.Empty(t, Assignments(docs, "id||missing", ""))
}

func TestVariation(t *testing.T) {
	keys := []string{"control", "treatment"}

	tests := []struct {
		name        string
		assignments map[string]string
		version     int
		minVersion  int
		want        int
		wantBlocked bool
	}{
		{"no assignment", map[string]string{}, 0, 0, -1, false},
		{"stored variation", map[string]string{"exp__0": "treatment"}, 0, 0, 1, false},
		{"other bucket version", map[string]string{"exp__0": "treatment"}, 1, 0, -1, false},
		{"unknown variation key", map[string]string{"exp__0": "gone"}, 0, 0, -1, false},
		{"blocked by min version", map[string]string{"exp__0": "treatment"}, 1, 1, -1, true},
		{"current version above min", map[string]string{"exp__2": "control"}, 2, 1, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, blocked := Variation(tt.assignments, "exp", tt.version, tt.minVersion, keys)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.wantBlocked, blocked)
		})
	}
}

func TestGenerateDocument(t *testing.T) {
	docs := Docs{
		"id||u1": {AttributeName: "id", AttributeValue: "u1", Assignments: map[string]string{"a__0": "1"}},
	}

	doc, changed := GenerateDocument(docs, "id", "u1", map[string]string{"a__0": "1"})
	assert.False(t, changed)
	assert.Equal(t, map[string]string{"a__0": "1"}, doc.Assignments)

	doc, changed = GenerateDocument(docs, "id", "u1", map[string]string{"b__0": "0"})
	assert.True(t, changed)
	assert.Equal(t, map[string]string{"a__0": "1", "b__0": "0"}, doc.Assignments)
	assert.Equal(t, map[string]string{"a__0": "1"}, docs["id||u1"].Assignments, "input docs must not be mutated")

	doc, changed = GenerateDocument(nil, "id", "u2", map[string]string{"a__0": "0"})
	assert.True(t, changed)
	assert.Equal(t, "id||u2", doc.Key())
}

// serviceContract runs the same behavior checks against every Service.
func serviceContract(t *testing.T, svc Service) {
	t.Helper()
	ctx := context.Background()

	doc, err := svc.GetAssignments(ctx, "id", "u1")
	require.NoError(t, err)
	assert.Nil(t, doc)

	require.NoError(t, svc.SaveAssignments(ctx, Document{
		AttributeName: "id", AttributeValue: "u1",
		Assignments: map[string]string{"exp__0": "1"},
	}))
	require.NoError(t, svc.SaveAssignments(ctx, Document{
		AttributeName: "deviceId", AttributeValue: "d1",
		Assignments: map[string]string{"exp__0": "0"},
	}))

	doc, err = svc.GetAssignments(ctx, "id", "u1")
	require.NoError(t, err)
	require.NotNil(t, doc)
	assert.Equal(t, "1", doc.Assignments["exp__0"])

	all, err := svc.GetAllAssignments(ctx, map[string]string{"id": "u1", "deviceId": "d1", "email": "nobody"})
	require.NoError(t, err)
	assert.Len(t, all, 2)
	assert.Equal(t, "0", all["deviceId||d1"].Assignments["exp__0"])

	require.NoError(t, svc.SaveAssignments(ctx, Document{
		AttributeName: "id", AttributeValue: "u1",
		Assignments: map[string]string{"exp__0": "1", "exp2__0": "0"},
	}))
	doc, err = svc.GetAssignments(ctx, "id", "u1")
	require.NoError(t, err)
	assert.Len(t, doc.Assignments, 2)
}

func TestMemoryService(t *testing.T) {
	svc := NewMemoryService()
	defer svc.Close()
	serviceContract(t, svc)
}

func TestMemoryService_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	svc := NewMemoryService()
	require.NoError(t, svc.SaveAssignments(ctx, Document{AttributeName: "id", AttributeValue: "u1", Assignments: map[string]string{"a__0": "0"}}))

	doc, _ := svc.GetAssignments(ctx, "id", "u1")
	doc.Assignments["a__0"] = "tampered"

	again, _ := svc.GetAssignments(ctx, "id", "u1")
	assert.Equal(t, "0", again.Assignments["a__0"])
}

func TestRedisService(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	svc := NewRedisService(client)
	defer svc.Close()

	serviceContract(t, svc)
	assert.True(t, mr.Exists(DefaultRedisPrefix+"id||u1"))
}

func TestRedisService_PrefixAndTTL(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	svc := NewRedisService(client, WithPrefix("test:"), WithTTL(time.Minute))
	defer svc.Close()

	require.NoError(t, svc.SaveAssignments(context.Background(), Document{AttributeName: "id", AttributeValue: "u1"}))
	assert.True(t, mr.Exists("test:id||u1"))
	assert.Positive(t, mr.TTL("test:id||u1"))
}

func TestNewService(t *testing.T) {
	ctx := context.Background()

	svc, err := NewService(ctx, "memory", "", "")
	require.NoError(t, err)
	assert.IsType(t, &MemoryService{}, svc)

	mr := miniredis.RunT(t)
	svc, err = NewService(ctx, "redis", "", "redis://"+mr.Addr())
	require.NoError(t, err)
	assert.IsType(t, &RedisService{}, svc)
	require.NoError(t, svc.Close())

	_, err = NewService(ctx, "mongo", "", "")
	assert.ErrorContains(t, err, "unsupported sticky store type")

	_, err = NewService(ctx, "redis", "", "::not a url")
	assert.Error(t, err)
}
