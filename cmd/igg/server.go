package main

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/mesolimbo/igg/pkg/markov"
	"github.com/mesolimbo/igg/pkg/templating"
)

// Server wires the model store, generator and API handlers together.
type Server struct {
	config    *Config
	db        *sql.DB
	logger    *slog.Logger
	store     *markov.Store
	gen       *markov.Generator
	composer  *templating.Composer
	modelsAPI *ModelsAPI
	statsAPI  *StatsAPI
	serverAPI *ServerAPI
	mcpServer *MCPServer
	mux       *http.ServeMux
}

func NewServer(config *Config, configPath string, logger *slog.Logger, db *sql.DB, actionChan chan string) (*Server, error) {

	store, err := markov.NewStore(db, nil, config.Server.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("error creating model store: %w", err)
	}
	store.SetLogger(logger)

	gen := markov.NewGenerator()
	gen.SetLogger(logger)

	composer := templating.NewComposer(logger, gen)

	statsAPI := NewStatsAPI(db, logger)
	modelsAPI := NewModelsAPI(store, composer, statsAPI, config.Server.MaxIdeas, logger)
	serverAPI := NewServerAPI(config, configPath, actionChan, logger)
	mcpServer := NewMCPServer(store, composer, statsAPI, config.Server.MaxIdeas, logger)

	server := &Server{
		config:    config,
		db:        db,
		logger:    logger,
		store:     store,
		gen:       gen,
		composer:  composer,
		modelsAPI: modelsAPI,
		statsAPI:  statsAPI,
		serverAPI: serverAPI,
		mcpServer: mcpServer,
		mux:       http.NewServeMux(),
	}

	apiMux := http.NewServeMux()
	server.modelsAPI.RegisterRoutes(apiMux)
	server.statsAPI.RegisterRoutes(apiMux)
	server.serverAPI.RegisterRoutes(apiMux)

	// The MCP endpoint and the REST API share the same bearer token.
	server.mux.Handle("/api/", server.authenticate(apiMux))
	server.mux.Handle("/mcp", server.authenticate(mcpServer.HTTPHandler()))

	return server, nil
}

func (s *Server) Close() {
	s.store.Close()
}

// authenticate checks the Authorization header against the configured API
// token. An empty token leaves the server open.
func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.config.Server.APIToken == "" {
			next.ServeHTTP(w, r)
			return
		}

		auth := r.Header.Get("Authorization")
		if !strings.HasPrefix(auth, "Bearer ") || strings.TrimPrefix(auth, "Bearer ") != s.config.Server.APIToken {
			respondWithError(w, http.StatusUnauthorized, "Invalid or missing token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func respondWithError(w http.ResponseWriter, code int, message string) {
	respondWithJSON(w, code, map[string]string{"error": message})
}

func respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if payload != nil {
		err := json.NewEncoder(w).Encode(payload)
		if err != nil {
			fmt.Printf("ERROR: Failed to encode JSON response: %v\n", err)
		}
	}
}
