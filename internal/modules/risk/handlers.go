package risk

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

// Handler handles risk HTTP requests
type Handler struct {
	service *Service
	log     zerolog.Logger
}

// NewHandler creates a new risk handler
func NewHandler(service *Service, log zerolog.Logger) *Handler {
	return &Handler{
		service: service,
		log:     log.With().Str("handler", "risk").Logger(),
	}
}

// Routes mounts the risk routes
func (h *Handler) Routes(r chi.Router) {
	r.Get("/risk/summary", h.HandleSummary)
	r.Get("/portfolio/metrics", h.HandleMetrics)
}

// HandleSummary handles GET /risk/summary
func (h *Handler) HandleSummary(w http.ResponseWriter, r *http.Request) {
	account := r.URL.Query().Get("account")

	summary, err := h.service.Summary(r.Context(), account)
	if err != nil {
		h.log.Error().Err(err).Str("account", account).Msg("Failed to build risk summary")
		http.Error(w, "Failed to build risk summary", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(summary)
}

// HandleMetrics handles GET /portfolio/metrics
func (h *Handler) HandleMetrics(w http.ResponseWriter, r *http.Request) {
	account := r.URL.Query().Get("account")

	metrics, err := h.service.PerformanceMetrics(r.Context(), account)
	if err != nil {
		h.log.Error().Err(err).Str("account", account).Msg("Failed to compute performance metrics")
		http.Error(w, "Failed to compute performance metrics", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(metrics)
}
