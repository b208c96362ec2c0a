package ledger

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

// Handler handles ledger HTTP requests
type Handler struct {
	service *Service
	log     zerolog.Logger
}

// NewHandler creates a new ledger handler
func NewHandler(service *Service, log zerolog.Logger) *Handler {
	return &Handler{
		service: service,
		log:     log.With().Str("handler", "ledger").Logger(),
	}
}

// Routes mounts the ledger routes
func (h *Handler) Routes(r chi.Router) {
	r.Route("/trades", func(r chi.Router) {
		r.Get("/", h.HandleListTrades)
		r.Post("/", h.HandleApplyTrade)
		r.Post("/preview", h.HandlePreviewTrade)
		r.Post("/multi", h.HandleSubmitMulti)
		r.Post("/{tradeID}/cancel", h.HandleCancelTrade)
		r.Post("/{tradeID}/replace", h.HandleReplaceTrade)
	})

	r.Route("/positions", func(r chi.Router) {
		r.Get("/", h.HandleListPositions)
		r.Post("/", h.HandleUpsertPosition)
		r.Delete("/", h.HandleDeletePosition)
	})

	r.Route("/accounts", func(r chi.Router) {
		r.Get("/", h.HandleListAccounts)
		r.Post("/balance", h.HandleSetBalance)
	})

	r.Post("/cash-flows", h.HandleAddCashFlow)
	r.Get("/portfolio/snapshot", h.HandleSnapshot)
}

// HandleApplyTrade handles POST /trades
func (h *Handler) HandleApplyTrade(w http.ResponseWriter, r *http.Request) {
	var req TradeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	result, err := h.service.ApplyTrade(req)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to apply trade")
		http.Error(w, "Failed to apply trade", http.StatusInternalServerError)
		return
	}

	status := http.StatusOK
	if !result.OK {
		status = http.StatusUnprocessableEntity
	}
	writeJSON(w, status, result)
}

// HandlePreviewTrade handles POST /trades/preview
func (h *Handler) HandlePreviewTrade(w http.ResponseWriter, r *http.Request) {
	var req TradeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	preview, err := h.service.PreviewTrade(req)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to preview trade")
		http.Error(w, "Failed to preview trade", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, preview)
}

type multiLegRequest struct {
	Account      string         `json:"account"`
	StrategyName string         `json:"strategy_name"`
	Legs         []TradeRequest `json:"legs"`
}

// HandleSubmitMulti handles POST /trades/multi
func (h *Handler) HandleSubmitMulti(w http.ResponseWriter, r *http.Request) {
	var req multiLegRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	result, err := h.service.SubmitMulti(req.Account, req.StrategyName, req.Legs)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to submit multi-leg strategy")
		http.Error(w, "Failed to submit strategy", http.StatusInternalServerError)
		return
	}

	status := http.StatusOK
	if !result.OK {
		status = http.StatusUnprocessableEntity
	}
	writeJSON(w, status, result)
}

// HandleCancelTrade handles POST /trades/{tradeID}/cancel
func (h *Handler) HandleCancelTrade(w http.ResponseWriter, r *http.Request) {
	tradeID := chi.URLParam(r, "tradeID")

	var body struct {
		Reason string `json:"reason"`
	}
	_ = json.NewDecoder(r.Body).Decode(&body)

	if err := h.service.CancelTrade(tradeID, body.Reason); err != nil {
		h.log.Warn().Err(err).Str("trade_id", tradeID).Msg("Cancel failed")
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"ok": true, "trade_id": tradeID})
}

// HandleReplaceTrade handles POST /trades/{tradeID}/replace
func (h *Handler) HandleReplaceTrade(w http.ResponseWriter, r *http.Request) {
	tradeID := chi.URLParam(r, "tradeID")

	var req TradeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	result, err := h.service.ReplaceTrade(tradeID, req)
	if err != nil {
		h.log.Error().Err(err).Str("trade_id", tradeID).Msg("Failed to replace trade")
		http.Error(w, "Failed to replace trade", http.StatusInternalServerError)
		return
	}

	status := http.StatusOK
	if !result.OK {
		status = http.StatusUnprocessableEntity
	}
	writeJSON(w, status, result)
}

// HandleListTrades handles GET /trades
func (h *Handler) HandleListTrades(w http.ResponseWriter, r *http.Request) {
	account := r.URL.Query().Get("account")
	if account == "" {
		account = AllAccounts
	}

	limit := 200
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		l, err := strconv.Atoi(limitStr)
		if err != nil || l < 1 || l > 10000 {
			http.Error(w, "Invalid limit. Must be 1-10000", http.StatusBadRequest)
			return
		}
		limit = l
	}

	trades, err := h.service.Trades().ListByAccount(account, limit)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to list trades")
		http.Error(w, "Failed to retrieve trades", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, trades)
}

// HandleListPositions handles GET /positions
func (h *Handler) HandleListPositions(w http.ResponseWriter, r *http.Request) {
	account := r.URL.Query().Get("account")
	if account == "" {
		account = AllAccounts
	}

	if _, err := h.service.CloseExpiredOptions(account); err != nil {
		h.log.Warn().Err(err).Msg("Expired option sweep failed")
	}

	positions, err := h.service.Positions().ListByAccount(account)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to list positions")
		http.Error(w, "Failed to retrieve positions", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, positions)
}

// HandleUpsertPosition handles POST /positions
func (h *Handler) HandleUpsertPosition(w http.ResponseWriter, r *http.Request) {
	var pos Position
	if err := json.NewDecoder(r.Body).Decode(&pos); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if err := h.service.UpsertPosition(pos); err != nil {
		h.log.Warn().Err(err).Msg("Position upsert failed")
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"ok": true})
}

// HandleDeletePosition handles DELETE /positions
func (h *Handler) HandleDeletePosition(w http.ResponseWriter, r *http.Request) {
	account := r.URL.Query().Get("account")
	instrumentID := r.URL.Query().Get("instrument_id")
	if account == "" || instrumentID == "" {
		http.Error(w, "account and instrument_id are required", http.StatusBadRequest)
		return
	}

	if err := h.service.DeletePosition(account, instrumentID); err != nil {
		h.log.Error().Err(err).Msg("Failed to delete position")
		http.Error(w, "Failed to delete position", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"ok": true})
}

// HandleListAccounts handles GET /accounts
func (h *Handler) HandleListAccounts(w http.ResponseWriter, r *http.Request) {
	accounts, err := h.service.Accounts().List()
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to list accounts")
		http.Error(w, "Failed to retrieve accounts", http.StatusInternalServerError)
		return
	}

	type accountView struct {
		Account
		CashBalance float64 `json:"cash_balance"`
	}

	views := make([]accountView, 0, len(accounts))
	for _, acc := range accounts {
		cash, err := h.service.CashBalance(acc.Account)
		if err != nil {
			h.log.Warn().Err(err).Str("account", acc.Account).Msg("Failed to compute cash balance")
			cash = acc.Cash
		}
		views = append(views, accountView{Account: acc, CashBalance: cash})
	}

	writeJSON(w, http.StatusOK, views)
}

// HandleSetBalance handles POST /accounts/balance
func (h *Handler) HandleSetBalance(w http.ResponseWriter, r *http.Request) {
	var acc Account
	if err := json.NewDecoder(r.Body).Decode(&acc); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if err := h.service.SetAccountBalance(acc); err != nil {
		h.log.Warn().Err(err).Msg("Set balance failed")
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"ok": true})
}

// HandleAddCashFlow handles POST /cash-flows
func (h *Handler) HandleAddCashFlow(w http.ResponseWriter, r *http.Request) {
	var flow CashFlow
	if err := json.NewDecoder(r.Body).Decode(&flow); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	id, err := h.service.RecordCashFlow(flow)
	if err != nil {
		h.log.Warn().Err(err).Msg("Cash flow rejected")
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"ok": true, "id": id})
}

// HandleSnapshot handles GET /portfolio/snapshot
func (h *Handler) HandleSnapshot(w http.ResponseWriter, r *http.Request) {
	account := r.URL.Query().Get("account")
	if account == "" {
		account = AllAccounts
	}

	snapshot, err := h.service.Snapshot(account)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to build snapshot")
		http.Error(w, "Failed to build snapshot", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, snapshot)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
