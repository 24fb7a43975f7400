package markov

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	_ "modernc.org/sqlite"
)

// setupTestStore creates a sqlite-backed Store pointed at a fake origin
// that serves the given model payloads by name. It returns the store and
// a counter of origin requests.
func setupTestStore(t *testing.T, payloads map[string]string) (*Store, *atomic.Int64) {
	t.Helper()

	var hits atomic.Int64
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		payload, ok := payloads[strings.TrimPrefix(r.URL.Path, "/")]
		if !ok {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte(payload))
	}))
	t.Cleanup(origin.Close)

	dbFile := filepath.Join(t.TempDir(), "test.db")
	db, err := sql.Open("sqlite", dbFile)
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	if err = SetupStoreSchema(db); err != nil {
		t.Fatalf("failed to set up schema: %v", err)
	}

	store, err := NewStore(db, origin.Client(), origin.URL)
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}
	t.Cleanup(store.Close)

	return store, &hits
}

func testModelJSON(t *testing.T) string {
	t.Helper()
	var buf bytes.Buffer
	if err := EncodeModels(&buf, []*Model{testModel()}); err != nil {
		t.Fatalf("EncodeModels() error = %v", err)
	}
	return buf.String()
}

func TestValidateModelName(t *testing.T) {
	testCases := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{name: "simple name", input: "inventions.json"},
		{name: "nested path", input: "sets/inventions_v2.json"},
		{name: "empty", input: "", wantErr: true},
		{name: "path traversal", input: "../etc/passwd", wantErr: true},
		{name: "absolute path", input: "/etc/passwd", wantErr: true},
		{name: "backslash path", input: `\windows\system32`, wantErr: true},
		{name: "protocol scheme", input: "https://evil.example/m.json", wantErr: true},
		{name: "invalid characters", input: "model name.json", wantErr: true},
		{name: "too long", input: strings.Repeat("a", 201), wantErr: true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidateModelName(tc.input)
			if tc.wantErr && err == nil {
				t.Errorf("ValidateModelName(%q) expected an error but got none", tc.input)
			}
			if !tc.wantErr && err != nil {
				t.Errorf("ValidateModelName(%q) error = %v", tc.input, err)
			}
		})
	}
}

func TestStoreGetFetchesThenCaches(t *testing.T) {
	store, hits := setupTestStore(t, map[string]string{
		"inventions.json": testModelJSON(t),
	})
	ctx := context.Background()

	models, err := store.Get(ctx, "inventions.json")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if len(models) != 1 {
		t.Fatalf("Get() got %d models, want 1", len(models))
	}
	if hits.Load() != 1 {
		t.Fatalf("first Get() made %d origin requests, want 1", hits.Load())
	}

	// Second load must come from the in-memory layer.
	if _, err = store.Get(ctx, "inventions.json"); err != nil {
		t.Fatalf("Get() error on cached load = %v", err)
	}
	if hits.Load() != 1 {
		t.Errorf("cached Get() made %d origin requests, want 1", hits.Load())
	}
}

func TestStoreGetSqliteCacheSurvivesRestart(t *testing.T) {
	payload := testModelJSON(t)

	var hits atomic.Int64
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		_, _ = w.Write([]byte(payload))
	}))
	t.Cleanup(origin.Close)

	dbFile := filepath.Join(t.TempDir(), "test.db")
	db, err := sql.Open("sqlite", dbFile)
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	if err = SetupStoreSchema(db); err != nil {
		t.Fatalf("failed to set up schema: %v", err)
	}

	ctx := context.Background()

	first, err := NewStore(db, origin.Client(), origin.URL)
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}
	if _, err = first.Get(ctx, "inventions.json"); err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	first.Close()

	// A fresh store over the same database starts with an empty memory
	// layer but must still resolve from sqlite without touching the origin.
	second, err := NewStore(db, origin.Client(), origin.URL)
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}
	t.Cleanup(second.Close)

	if _, err = second.Get(ctx, "inventions.json"); err != nil {
		t.Fatalf("Get() error after restart = %v", err)
	}
	if hits.Load() != 1 {
		t.Errorf("origin requests = %d, want 1", hits.Load())
	}
}

func TestStoreGetCorruptCacheRefetches(t *testing.T) {
	store, hits := setupTestStore(t, map[string]string{
		"inventions.json": testModelJSON(t),
	})
	ctx := context.Background()

	// Plant a corrupted payload directly in the cache table.
	_, err := store.db.Exec(
		`INSERT INTO model_cache (model_name, payload, fetched_at) VALUES (?, ?, datetime('now'))`,
		"inventions.json", []byte("{not json"),
	)
	if err != nil {
		t.Fatalf("failed to plant corrupt cache entry: %v", err)
	}

	models, err := store.Get(ctx, "inventions.json")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if len(models) != 1 {
		t.Fatalf("Get() got %d models, want 1", len(models))
	}
	if hits.Load() != 1 {
		t.Errorf("origin requests = %d, want 1 refetch after corrupt cache", hits.Load())
	}
}

func TestStoreGetNotFound(t *testing.T) {
	store, _ := setupTestStore(t, nil)

	_, err := store.Get(context.Background(), "missing.json")
	if !errors.Is(err, ErrModelNotFound) {
		t.Errorf("Get() error = %v, want ErrModelNotFound", err)
	}
}

func TestStoreGetInvalidName(t *testing.T) {
	store, hits := setupTestStore(t, nil)

	if _, err := store.Get(context.Background(), "../secrets"); err == nil {
		t.Error("Get() expected an error for an invalid name")
	}
	if hits.Load() != 0 {
		t.Errorf("invalid name reached the origin, %d requests", hits.Load())
	}
}

func TestStoreList(t *testing.T) {
	model := testModelJSON(t)
	store, _ := setupTestStore(t, map[string]string{
		"index.json":      `{"models": ["inventions.json", "gadgets.json", "../bad"]}`,
		"inventions.json": model,
		"gadgets.json":    model,
	})
	ctx := context.Background()

	if _, err := store.Get(ctx, "inventions.json"); err != nil {
		t.Fatalf("Get() error = %v", err)
	}

	index, err := store.List(ctx)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if index.TotalAvailable != 2 {
		t.Errorf("TotalAvailable = %d, want 2 (invalid names are skipped)", index.TotalAvailable)
	}
	if index.TotalCached != 1 {
		t.Errorf("TotalCached = %d, want 1", index.TotalCached)
	}
	if len(index.Cached) != 1 || index.Cached[0] != "inventions.json" {
		t.Errorf("Cached = %v, want [inventions.json]", index.Cached)
	}
}
