package main

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/mesolimbo/igg/pkg/markov"
	"github.com/mesolimbo/igg/pkg/templating"
)

// ModelsAPI holds the dependencies for the model and generation handlers.
type ModelsAPI struct {
	store    *markov.Store
	composer *templating.Composer
	stats    *StatsAPI
	maxIdeas int
	logger   *slog.Logger
}

func NewModelsAPI(store *markov.Store, composer *templating.Composer, stats *StatsAPI, maxIdeas int, logger *slog.Logger) *ModelsAPI {
	return &ModelsAPI{
		store:    store,
		composer: composer,
		stats:    stats,
		maxIdeas: maxIdeas,
		logger:   logger,
	}
}

// RegisterRoutes sets up the routing for the model endpoints.
func (a *ModelsAPI) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/models", a.handleModels)
	mux.HandleFunc("/api/generate", a.handleGenerate)
}

// GenerateRequest is the expected JSON body for a generation request.
type GenerateRequest struct {
	Model    string `json:"model"`
	Template string `json:"template,omitempty"`
	Count    int    `json:"count,omitempty"`
}

// GenerateResponse is the JSON response for a generation request.
type GenerateResponse struct {
	Model    string   `json:"model"`
	Template string   `json:"template,omitempty"`
	Count    int      `json:"count"`
	Ideas    []string `json:"ideas"`
}

func (a *ModelsAPI) handleModels(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", "GET")
		respondWithError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	index, err := a.store.List(r.Context())
	if err != nil {
		a.logger.Error("Failed to list models", "error", err)
		respondWithError(w, http.StatusBadGateway, "Failed to list models from origin")
		return
	}
	respondWithJSON(w, http.StatusOK, index)
}

func (a *ModelsAPI) handleGenerate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", "POST")
		respondWithError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	var req GenerateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid JSON request body")
		return
	}

	if err := markov.ValidateModelName(req.Model); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid model name")
		return
	}

	count := req.Count
	if count <= 0 {
		count = 5
	}
	if count > a.maxIdeas {
		count = a.maxIdeas
	}

	models, err := a.store.Get(r.Context(), req.Model)
	if err != nil {
		if errors.Is(err, markov.ErrModelNotFound) {
			respondWithError(w, http.StatusNotFound, "Model not found")
			return
		}
		a.logger.Error("Failed to load model", "model_name", req.Model, "error", err)
		respondWithError(w, http.StatusBadGateway, "Failed to load model")
		return
	}

	start := time.Now()
	ideas, err := a.composer.GenerateRows(models, req.Template, count)
	if err != nil {
		if errors.Is(err, markov.ErrInvalidModel) {
			respondWithError(w, http.StatusUnprocessableEntity, "Model cannot generate phrases")
			return
		}
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}
	a.stats.LogGeneration(r.Context(), "api_generate", req.Model, len(ideas), time.Since(start))

	respondWithJSON(w, http.StatusOK, GenerateResponse{
		Model:    req.Model,
		Template: req.Template,
		Count:    len(ideas),
		Ideas:    ideas,
	})
}
