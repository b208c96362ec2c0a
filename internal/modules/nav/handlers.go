package nav

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

// Handler handles NAV HTTP requests
type Handler struct {
	service *Service
	log     zerolog.Logger
}

// NewHandler creates a new NAV handler
func NewHandler(service *Service, log zerolog.Logger) *Handler {
	return &Handler{
		service: service,
		log:     log.With().Str("handler", "nav").Logger(),
	}
}

// Routes mounts the NAV routes
func (h *Handler) Routes(r chi.Router) {
	r.Get("/portfolio/nav", h.HandleGetSeries)
	r.Post("/portfolio/rebuild-nav", h.HandleRebuild)
}

// HandleGetSeries handles GET /portfolio/nav
func (h *Handler) HandleGetSeries(w http.ResponseWriter, r *http.Request) {
	account := r.URL.Query().Get("account")

	limit := 0
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		l, err := strconv.Atoi(limitStr)
		if err != nil || l < 0 {
			http.Error(w, "Invalid limit", http.StatusBadRequest)
			return
		}
		limit = l
	}

	points, err := h.service.GetSeries(r.Context(), account, limit)
	if err != nil {
		h.log.Error().Err(err).Str("account", account).Msg("Failed to build NAV series")
		http.Error(w, "Failed to build NAV series", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"account": account,
		"points":  points,
	})
}

// HandleRebuild handles POST /portfolio/rebuild-nav
func (h *Handler) HandleRebuild(w http.ResponseWriter, r *http.Request) {
	total, err := h.service.RebuildHistory(r.Context())
	if err != nil {
		h.log.Error().Err(err).Msg("NAV rebuild failed")
		http.Error(w, "NAV rebuild failed", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]interface{}{"ok": true, "points": total})
}
