package main

import (
	"context"
	"database/sql"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
)

const statsSchema = `
CREATE TABLE IF NOT EXISTS generation_log (
    request_id  TEXT     PRIMARY KEY,
    tool        TEXT     NOT NULL,
    model_name  TEXT     NOT NULL,
    row_count   INTEGER  NOT NULL,
    duration_ms INTEGER  NOT NULL,
    created_at  DATETIME NOT NULL
);
`

func setupStatsSchema(db *sql.DB) error {
	_, err := db.Exec(statsSchema)
	return err
}

// ToolSummary aggregates the generation log per tool.
type ToolSummary struct {
	Tool       string `json:"tool"`
	Calls      int64  `json:"calls"`
	IdeasTotal int64  `json:"ideas_total"`
}

// LogEntry is one recorded generation call.
type LogEntry struct {
	RequestID  string    `json:"request_id"`
	Tool       string    `json:"tool"`
	ModelName  string    `json:"model_name"`
	RowCount   int       `json:"row_count"`
	DurationMs int64     `json:"duration_ms"`
	CreatedAt  time.Time `json:"created_at"`
}

// StatsAPI records generation calls and serves aggregate statistics.
type StatsAPI struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewStatsAPI(db *sql.DB, logger *slog.Logger) *StatsAPI {
	return &StatsAPI{
		db:     db,
		logger: logger,
	}
}

// RegisterRoutes sets up the routing for all /api/stats endpoints.
func (s *StatsAPI) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/stats/summary", s.handleSummary)
	mux.HandleFunc("/api/stats/recent", s.handleRecent)
}

// LogGeneration records one generation call. A logging failure is reported
// but never fails the call that produced the rows.
func (s *StatsAPI) LogGeneration(ctx context.Context, tool, modelName string, rows int, elapsed time.Duration) {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO generation_log (request_id, tool, model_name, row_count, duration_ms, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		uuid.NewString(), tool, modelName, rows, elapsed.Milliseconds(), time.Now().UTC(),
	)
	if err != nil {
		s.logger.Warn("Failed to record generation call", "tool", tool, "model_name", modelName, "error", err)
	}
}

func (s *StatsAPI) handleSummary(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", "GET")
		respondWithError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	rows, err := s.db.QueryContext(r.Context(),
		`SELECT tool, COUNT(*), COALESCE(SUM(row_count), 0) FROM generation_log GROUP BY tool ORDER BY tool`)
	if err != nil {
		s.logger.Error("Failed to query stats summary", "error", err)
		respondWithError(w, http.StatusInternalServerError, "Failed to query statistics")
		return
	}
	defer func(rows *sql.Rows) {
		_ = rows.Close()
	}(rows)

	summaries := make([]ToolSummary, 0)
	var totalCalls, totalIdeas int64
	for rows.Next() {
		var summary ToolSummary
		if err = rows.Scan(&summary.Tool, &summary.Calls, &summary.IdeasTotal); err != nil {
			s.logger.Error("Failed to scan stats summary", "error", err)
			respondWithError(w, http.StatusInternalServerError, "Failed to read statistics")
			return
		}
		summaries = append(summaries, summary)
		totalCalls += summary.Calls
		totalIdeas += summary.IdeasTotal
	}
	if err = rows.Err(); err != nil {
		s.logger.Error("Failed to read stats summary", "error", err)
		respondWithError(w, http.StatusInternalServerError, "Failed to read statistics")
		return
	}

	respondWithJSON(w, http.StatusOK, map[string]any{
		"tools":       summaries,
		"total_calls": totalCalls,
		"total_ideas": totalIdeas,
	})
}

func (s *StatsAPI) handleRecent(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", "GET")
		respondWithError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 500 {
			limit = n
		}
	}

	rows, err := s.db.QueryContext(r.Context(),
		`SELECT request_id, tool, model_name, row_count, duration_ms, created_at FROM generation_log ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		s.logger.Error("Failed to query recent generations", "error", err)
		respondWithError(w, http.StatusInternalServerError, "Failed to query statistics")
		return
	}
	defer func(rows *sql.Rows) {
		_ = rows.Close()
	}(rows)

	entries := make([]LogEntry, 0, limit)
	for rows.Next() {
		var entry LogEntry
		if err = rows.Scan(&entry.RequestID, &entry.Tool, &entry.ModelName, &entry.RowCount, &entry.DurationMs, &entry.CreatedAt); err != nil {
			s.logger.Error("Failed to scan generation log entry", "error", err)
			respondWithError(w, http.StatusInternalServerError, "Failed to read statistics")
			return
		}
		entries = append(entries, entry)
	}
	if err = rows.Err(); err != nil {
		s.logger.Error("Failed to read generation log", "error", err)
		respondWithError(w, http.StatusInternalServerError, "Failed to read statistics")
		return
	}

	respondWithJSON(w, http.StatusOK, entries)
}
