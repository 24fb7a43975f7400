package markov

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"regexp"
	"strings"
	"sync"
	"time"
)

// ErrModelNotFound indicates a model name that the origin does not serve.
var ErrModelNotFound = errors.New("model not found")

const storeSchema = `
CREATE TABLE IF NOT EXISTS model_cache (
    model_name TEXT     PRIMARY KEY,
    payload    BLOB     NOT NULL,
    fetched_at DATETIME NOT NULL
);
`

// SetupStoreSchema initializes the model cache table in the provided
// database. It is idempotent and safe to call on an already-initialized
// database.
func SetupStoreSchema(db *sql.DB) error {
	if _, err := db.Exec(storeSchema); err != nil {
		return fmt.Errorf("could not create model cache schema: %w", err)
	}
	return nil
}

var modelNamePattern = regexp.MustCompile(`^[a-zA-Z0-9._/-]+$`)

// ValidateModelName rejects model names that could escape the origin's
// model namespace: path traversal sequences, absolute paths, protocol
// schemes, and characters outside a conservative safe set.
func ValidateModelName(name string) error {
	switch {
	case name == "":
		return errors.New("model name cannot be empty")
	case strings.Contains(name, ".."):
		return errors.New("model name cannot contain '..' sequences")
	case strings.HasPrefix(name, "/") || strings.HasPrefix(name, `\`):
		return errors.New("model name cannot be an absolute path")
	case strings.Contains(name, "://"):
		return errors.New("model name cannot contain protocol schemes")
	case !modelNamePattern.MatchString(name):
		return errors.New("model name contains invalid characters")
	case len(name) > 200:
		return errors.New("model name is too long")
	}
	return nil
}

// Index describes the models the origin advertises and which of them are
// cached locally.
type Index struct {
	BaseURL        string   `json:"base_url"`
	Available      []string `json:"available_models"`
	Cached         []string `json:"cached_models"`
	TotalAvailable int      `json:"total_available"`
	TotalCached    int      `json:"total_cached"`
}

// Store resolves model names to trained models. Resolution goes through an
// in-memory map, then a sqlite cache of fetched model files, then an HTTP
// fetch from the origin; fetched payloads are written back to both layers.
// The cache lives for the process lifetime and is never evicted.
//
// All methods are safe for concurrent use.
type Store struct {
	db      *sql.DB
	client  *http.Client
	baseURL string
	logger  *slog.Logger

	stmtGetCached    *sql.Stmt
	stmtPutCached    *sql.Stmt
	stmtDeleteCached *sql.Stmt
	stmtListCached   *sql.Stmt

	mu     sync.RWMutex
	loaded map[string][]*Model
}

// NewStore creates a Store backed by db, fetching missing models from
// baseURL. A nil client falls back to http.DefaultClient. It pre-compiles
// the cache statements, returning an error if any preparation fails.
func NewStore(db *sql.DB, client *http.Client, baseURL string) (*Store, error) {
	stmtGetCached, err := db.Prepare(`SELECT payload FROM model_cache WHERE model_name = ?;`)
	if err != nil {
		return nil, err
	}

	stmtPutCached, err := db.Prepare(`INSERT INTO model_cache (model_name, payload, fetched_at) VALUES (?, ?, ?) ON CONFLICT(model_name) DO UPDATE SET payload = excluded.payload, fetched_at = excluded.fetched_at;`)
	if err != nil {
		return nil, err
	}

	stmtDeleteCached, err := db.Prepare(`DELETE FROM model_cache WHERE model_name = ?;`)
	if err != nil {
		return nil, err
	}

	stmtListCached, err := db.Prepare(`SELECT model_name FROM model_cache;`)
	if err != nil {
		return nil, err
	}

	if client == nil {
		client = http.DefaultClient
	}

	return &Store{
		db:               db,
		client:           client,
		baseURL:          strings.TrimSuffix(baseURL, "/"),
		logger:           slog.New(slog.NewTextHandler(io.Discard, nil)),
		stmtGetCached:    stmtGetCached,
		stmtPutCached:    stmtPutCached,
		stmtDeleteCached: stmtDeleteCached,
		stmtListCached:   stmtListCached,
		loaded:           make(map[string][]*Model),
	}, nil
}

// Close releases the prepared statements held by the Store.
func (s *Store) Close() {
	_ = s.stmtGetCached.Close()
	_ = s.stmtPutCached.Close()
	_ = s.stmtDeleteCached.Close()
	_ = s.stmtListCached.Close()
}

// SetLogger sets the logger for the Store. By default, all logs are
// discarded.
func (s *Store) SetLogger(logger *slog.Logger) {
	if logger != nil {
		s.logger = logger
	}
}

// Get resolves a model name to its per-column models, fetching and caching
// on miss. A resolution failure is surfaced to the caller, never masked.
func (s *Store) Get(ctx context.Context, name string) ([]*Model, error) {
	if err := ValidateModelName(name); err != nil {
		return nil, fmt.Errorf("invalid model name %q: %w", name, err)
	}

	s.mu.RLock()
	models, ok := s.loaded[name]
	s.mu.RUnlock()
	if ok {
		return models, nil
	}

	if models := s.getCached(ctx, name); models != nil {
		s.remember(name, models)
		return models, nil
	}

	payload, err := s.fetch(ctx, s.baseURL+"/"+name)
	if err != nil {
		return nil, fmt.Errorf("failed to load model %q: %w", name, err)
	}
	models, err = DecodeModels(bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to load model %q: %w", name, err)
	}

	if _, err = s.stmtPutCached.ExecContext(ctx, name, payload, time.Now().UTC()); err != nil {
		s.logger.WarnContext(ctx, "Failed to cache model", "model_name", name, "error", err)
	}
	s.remember(name, models)

	s.logger.InfoContext(ctx, "Model fetched and cached",
		slog.String("model_name", name),
		slog.Int("column_models", len(models)),
	)
	return models, nil
}

// List fetches the origin's index and reports available models alongside
// the subset already cached locally.
func (s *Store) List(ctx context.Context) (*Index, error) {
	payload, err := s.fetch(ctx, s.baseURL+"/index.json")
	if err != nil {
		return nil, fmt.Errorf("failed to list models: %w", err)
	}

	var index struct {
		Models []string `json:"models"`
	}
	if err = json.Unmarshal(payload, &index); err != nil {
		return nil, fmt.Errorf("failed to decode model index: %w", err)
	}

	cachedSet, err := s.cachedNames(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list cached models: %w", err)
	}

	cached := make([]string, 0, len(cachedSet))
	available := make([]string, 0, len(index.Models))
	for _, name := range index.Models {
		// Skip invalid names from the index rather than failing the listing.
		if ValidateModelName(name) != nil {
			continue
		}
		available = append(available, name)
		if _, ok := cachedSet[name]; ok {
			cached = append(cached, name)
		}
	}

	return &Index{
		BaseURL:        s.baseURL,
		Available:      available,
		Cached:         cached,
		TotalAvailable: len(available),
		TotalCached:    len(cached),
	}, nil
}

// getCached loads a model from the sqlite cache. A corrupted payload is
// deleted so the next Get re-fetches from the origin.
func (s *Store) getCached(ctx context.Context, name string) []*Model {
	var payload []byte
	err := s.stmtGetCached.QueryRowContext(ctx, name).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	if err != nil {
		s.logger.WarnContext(ctx, "Model cache read failed", "model_name", name, "error", err)
		return nil
	}

	models, err := DecodeModels(bytes.NewReader(payload))
	if err != nil {
		s.logger.WarnContext(ctx, "Dropping corrupted cached model", "model_name", name, "error", err)
		if _, err = s.stmtDeleteCached.ExecContext(ctx, name); err != nil {
			s.logger.WarnContext(ctx, "Failed to delete corrupted cache entry", "model_name", name, "error", err)
		}
		return nil
	}
	return models
}

func (s *Store) cachedNames(ctx context.Context) (map[string]struct{}, error) {
	rows, err := s.stmtListCached.QueryContext(ctx)
	if err != nil {
		return nil, err
	}
	defer func(rows *sql.Rows) {
		_ = rows.Close()
	}(rows)

	names := make(map[string]struct{})
	for rows.Next() {
		var name string
		if err = rows.Scan(&name); err != nil {
			return nil, err
		}
		names[name] = struct{}{}
	}
	return names, rows.Err()
}

func (s *Store) remember(name string, models []*Model) {
	s.mu.Lock()
	s.loaded[name] = models
	s.mu.Unlock()
}

func (s *Store) fetch(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch %s: %w", url, err)
	}
	defer func(body io.ReadCloser) {
		_ = body.Close()
	}(resp.Body)

	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrModelNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to fetch %s: unexpected status %s", url, resp.Status)
	}
	return io.ReadAll(resp.Body)
}
