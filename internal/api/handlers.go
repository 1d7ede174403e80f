package api

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/pvzzle/yieldmint/internal/journal"
	"github.com/pvzzle/yieldmint/internal/ledger"
)

const maxBodyBytes = 1 << 16

// Only walletAddress is checked; the rest is accepted in whatever shape the
// client sends.
type startRequest struct {
	WalletAddress   string          `json:"walletAddress"`
	MiningContract  json.RawMessage `json:"miningContract"`
	YieldAggregator json.RawMessage `json:"yieldAggregator"`
	Strategies      json.RawMessage `json:"strategies"`
}

// strategyIDs keeps string entries as-is and any other JSON value as its
// compact text. A non-array value yields no strategies.
func strategyIDs(raw json.RawMessage) []string {
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		var id string
		if err := json.Unmarshal(item, &id); err == nil {
			out = append(out, id)
			continue
		}
		var buf bytes.Buffer
		if err := json.Compact(&buf, item); err == nil {
			out = append(out, buf.String())
		}
	}
	return out
}

type stopRequest struct {
	WalletAddress string `json:"walletAddress"`
}

type attemptView struct {
	ID          string  `json:"id"`
	Amount      float64 `json:"amount"`
	AmountWei   string  `json:"amount_wei"`
	Status      string  `json:"status"`
	TxHash      *string `json:"tx_hash"`
	BlockNumber *uint64 `json:"block_number"`
	Nonce       *uint64 `json:"nonce"`
	GasPriceWei *string `json:"gas_price_wei"`
	Error       *string `json:"error"`
	StartedAt   string  `json:"started_at"`
	FinishedAt  string  `json:"finished_at"`
}

func (s *Server) handleRoot(w http.ResponseWriter, _ *http.Request) {
	var admin *string
	if s.signer != nil {
		if addr := s.signer.Address(); addr != (common.Address{}) {
			hex := addr.Hex()
			admin = &hex
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":       "online",
		"service":      ServiceName,
		"version":      Version,
		"strategies":   s.model.StrategyCount(),
		"ai_boost":     s.model.Boost(),
		"web3_ready":   s.engine.ChainAvailable(),
		"admin_wallet": admin,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "healthy",
		"timestamp": s.now().Format(time.RFC3339Nano),
		"web3":      s.engine.ChainAvailable(),
	})
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}
	if strings.TrimSpace(req.WalletAddress) == "" {
		writeError(w, http.StatusBadRequest, "walletAddress is required")
		return
	}

	acct := s.engine.Start(req.WalletAddress, strategyIDs(req.Strategies), s.now())

	writeJSON(w, http.StatusOK, map[string]any{
		"success":          true,
		"message":          "10X Earning engine started successfully",
		"wallet":           acct.Address,
		"ai_boost":         s.model.Boost(),
		"strategies_count": s.model.StrategyCount(),
	})
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	wallet := strings.TrimSpace(r.Header.Get(WalletHeader))
	if wallet == "" {
		writeError(w, http.StatusBadRequest, "Wallet address header required")
		return
	}

	snap := s.engine.Metrics(r.Context(), wallet, s.now())
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	var req stopRequest
	// A malformed or empty body still gets the canned reply.
	_ = json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&req)

	if strings.TrimSpace(req.WalletAddress) != "" {
		s.engine.Stop(req.WalletAddress)
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": "Engine stopped"})
}

func (s *Server) handleSettlements(w http.ResponseWriter, r *http.Request) {
	wallet := strings.TrimSpace(r.Header.Get(WalletHeader))
	if wallet == "" {
		writeError(w, http.StatusBadRequest, "Wallet address header required")
		return
	}

	limit, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil {
		limit = journal.DefaultListLimit
	}

	items, err := s.engine.History(r.Context(), wallet, journal.ClampLimit(limit))
	if err != nil {
		s.log.WithError(err).WithField("account", ledger.Normalize(wallet)).Error("list settlements")
		writeError(w, http.StatusInternalServerError, "Could not read settlement history")
		return
	}

	views := make([]attemptView, 0, len(items))
	for _, it := range items {
		views = append(views, attemptView{
			ID:          it.ID.String(),
			Amount:      it.Amount,
			AmountWei:   it.AmountWei,
			Status:      it.Status,
			TxHash:      it.TxHash,
			BlockNumber: it.BlockNum,
			Nonce:       it.Nonce,
			GasPriceWei: it.GasPriceWei,
			Error:       it.Error,
			StartedAt:   it.StartedAt.UTC().Format(time.RFC3339Nano),
			FinishedAt:  it.FinishedAt.UTC().Format(time.RFC3339Nano),
		})
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"wallet":   ledger.Normalize(wallet),
		"attempts": views,
	})
}
