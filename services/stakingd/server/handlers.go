package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"

	nativecommon "stakeledger/native/common"
	"stakeledger/native/custody"
	"stakeledger/native/stakerewards"
)

const maxBodyBytes = 1 << 16

type ledgerResponse struct {
	StakeAsset        string `json:"stake_asset"`
	RewardAsset       string `json:"reward_asset"`
	CompoundEnabled   bool   `json:"compound_enabled"`
	Initialized       bool   `json:"initialized"`
	Paused            bool   `json:"paused"`
	TotalStaked       string `json:"total_staked"`
	TotalFunded       string `json:"total_funded"`
	TotalHarvested    string `json:"total_harvested"`
	TotalCompounded   string `json:"total_compounded"`
	UnallocatedReward string `json:"unallocated_reward"`
	RewardRate        string `json:"reward_rate"`
	PeriodDuration    uint64 `json:"period_duration"`
	PeriodFinish      uint64 `json:"period_finish"`
	LastUpdateTime    uint64 `json:"last_update_time"`
}

type positionResponse struct {
	Address         string `json:"address"`
	Balance         string `json:"balance"`
	SettledReward   string `json:"settled_reward"`
	PendingReward   string `json:"pending_reward,omitempty"`
	StakingDuration string `json:"staking_duration"`
	LastSettled     uint64 `json:"last_settled"`
}

type rewardResponse struct {
	Address  string            `json:"address"`
	Amount   string            `json:"amount"`
	Position *positionResponse `json:"position,omitempty"`
}

type amountRequest struct {
	Amount string `json:"amount"`
}

type fundRequest struct {
	Funder string `json:"funder"`
	Amount string `json:"amount"`
}

type periodRequest struct {
	DurationSeconds uint64 `json:"duration_seconds"`
}

type pauseRequest struct {
	Paused bool `json:"paused"`
}

type eventResponse struct {
	ID         string            `json:"id"`
	Sequence   uint64            `json:"sequence"`
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
	CreatedAt  time.Time         `json:"created_at"`
}

func (s *Server) handleLedger(w http.ResponseWriter, r *http.Request) {
	g, err := s.ledger.Global()
	if err != nil {
		s.writeLedgerError(w, err)
		return
	}
	audit, err := s.ledger.Audit()
	if err != nil {
		s.writeLedgerError(w, err)
		return
	}
	cfg := s.ledger.Config()
	writeJSON(w, http.StatusOK, ledgerResponse{
		StakeAsset:        cfg.StakeAsset,
		RewardAsset:       cfg.RewardAsset,
		CompoundEnabled:   cfg.CompoundEnabled,
		Initialized:       g.Initialized,
		Paused:            s.pauses.IsPaused(stakerewards.ModuleName()),
		TotalStaked:       audit.TotalStaked.String(),
		TotalFunded:       audit.TotalFunded.String(),
		TotalHarvested:    audit.TotalHarvested.String(),
		TotalCompounded:   audit.TotalCompounded.String(),
		UnallocatedReward: audit.Unallocated.String(),
		RewardRate:        audit.RewardRate.String(),
		PeriodDuration:    g.PeriodDuration,
		PeriodFinish:      g.PeriodFinish,
		LastUpdateTime:    g.LastUpdateTime,
	})
}

func (s *Server) handlePosition(w http.ResponseWriter, r *http.Request) {
	addr, err := parseAddress(chi.URLParam(r, "address"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	resp, err := s.positionView(addr, true)
	if err != nil {
		s.writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handlePositions(w http.ResponseWriter, r *http.Request) {
	positions, err := s.lister.Positions()
	if err != nil {
		s.writeLedgerError(w, err)
		return
	}
	g, err := s.ledger.Global()
	if err != nil {
		s.writeLedgerError(w, err)
		return
	}
	ts := unixNow(s.now())
	out := make([]positionResponse, 0, len(positions))
	for _, pos := range positions {
		if pos.IsEmpty() {
			continue
		}
		out = append(out, *newPositionResponse(pos, g, ts))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleAccount(w http.ResponseWriter, r *http.Request) {
	addr, err := parseAddress(chi.URLParam(r, "address"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	cfg := s.ledger.Config()
	balances := make(map[string]string, 2)
	for _, asset := range []string{cfg.StakeAsset, cfg.RewardAsset} {
		bal, err := s.balances.Balance(asset, addr)
		if err != nil {
			s.writeLedgerError(w, err)
			return
		}
		balances[asset] = bal.String()
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"address":  strings.ToLower(addr.Hex()),
		"balances": balances,
	})
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.events == nil {
		writeJSON(w, http.StatusOK, []eventResponse{})
		return
	}
	limit := 0
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = parsed
	}
	records, err := s.events.List(r.Context(), limit, r.URL.Query().Get("type"))
	if err != nil {
		s.writeLedgerError(w, err)
		return
	}
	out := make([]eventResponse, 0, len(records))
	for _, record := range records {
		evt, err := record.Event()
		if err != nil {
			s.writeLedgerError(w, err)
			return
		}
		out = append(out, eventResponse{
			ID:         record.ID.String(),
			Sequence:   record.Sequence,
			Type:       evt.Type,
			Attributes: evt.Attributes,
			CreatedAt:  record.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleStake(w http.ResponseWriter, r *http.Request) {
	s.handleBalanceChange(w, r, s.ledger.Stake)
}

func (s *Server) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	s.handleBalanceChange(w, r, s.ledger.Withdraw)
}

func (s *Server) handleBalanceChange(w http.ResponseWriter, r *http.Request, apply func(common.Address, *big.Int, time.Time) (*stakerewards.Position, error)) {
	addr := common.HexToAddress(chi.URLParam(r, "address"))
	var req amountRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if _, err := apply(addr, amount, s.now()); err != nil {
		s.writeLedgerError(w, err)
		return
	}
	resp, err := s.positionView(addr, false)
	if err != nil {
		s.writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleHarvest(w http.ResponseWriter, r *http.Request) {
	s.handleReward(w, r, s.ledger.Harvest)
}

func (s *Server) handleCompound(w http.ResponseWriter, r *http.Request) {
	s.handleReward(w, r, s.ledger.Compound)
}

func (s *Server) handleReward(w http.ResponseWriter, r *http.Request, apply func(common.Address, time.Time) (*big.Int, error)) {
	addr := common.HexToAddress(chi.URLParam(r, "address"))
	amount, err := apply(addr, s.now())
	if err != nil {
		s.writeLedgerError(w, err)
		return
	}
	pos, err := s.positionView(addr, false)
	if err != nil {
		s.writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rewardResponse{
		Address:  pos.Address,
		Amount:   amount.String(),
		Position: pos,
	})
}

func (s *Server) handleFund(w http.ResponseWriter, r *http.Request) {
	var req fundRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	funder, err := parseAddress(req.Funder)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.ledger.Fund(funder, amount, s.now()); err != nil {
		s.writeLedgerError(w, err)
		return
	}
	s.handleLedger(w, r)
}

func (s *Server) handlePeriod(w http.ResponseWriter, r *http.Request) {
	var req periodRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.DurationSeconds > uint64(time.Duration(1<<63-1)/time.Second) {
		writeError(w, http.StatusBadRequest, "duration_seconds out of range")
		return
	}
	duration := time.Duration(req.DurationSeconds) * time.Second
	if err := s.ledger.SetPeriodDuration(duration, s.now()); err != nil {
		s.writeLedgerError(w, err)
		return
	}
	s.handleLedger(w, r)
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	var req pauseRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.pauses.Set(stakerewards.ModuleName(), req.Paused)
	s.logger.Info("module pause toggled",
		slog.String("module", stakerewards.ModuleName()),
		slog.Bool("paused", req.Paused),
		slog.String("operator", subjectFromContext(r.Context())))
	writeJSON(w, http.StatusOK, map[string]bool{"paused": req.Paused})
}

func (s *Server) positionView(addr common.Address, withPending bool) (*positionResponse, error) {
	pos, err := s.ledger.Position(addr)
	if err != nil {
		return nil, err
	}
	g, err := s.ledger.Global()
	if err != nil {
		return nil, err
	}
	now := s.now()
	resp := newPositionResponse(pos, g, unixNow(now))
	if withPending {
		pending, err := s.ledger.Pending(addr, now)
		if err != nil {
			return nil, err
		}
		resp.PendingReward = pending.String()
	}
	return resp, nil
}

func newPositionResponse(pos *stakerewards.Position, g *stakerewards.GlobalState, ts uint64) *positionResponse {
	return &positionResponse{
		Address:         strings.ToLower(pos.Address.Hex()),
		Balance:         pos.Balance.String(),
		SettledReward:   pos.SettledReward.String(),
		StakingDuration: pos.StakingDuration(g, ts).String(),
		LastSettled:     pos.LastSettled,
	}
}

func unixNow(now time.Time) uint64 {
	if unix := now.Unix(); unix > 0 {
		return uint64(unix)
	}
	return 0
}

func (s *Server) writeLedgerError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("ledger request failed", slog.Any("error", err))
	}
	writeError(w, status, err.Error())
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, stakerewards.ErrInvalidAmount),
		errors.Is(err, stakerewards.ErrAmountOverflow),
		errors.Is(err, stakerewards.ErrInvalidPeriodDuration),
		errors.Is(err, custody.ErrInvalidAmount):
		return http.StatusBadRequest
	case errors.Is(err, stakerewards.ErrInsufficientBalance),
		errors.Is(err, stakerewards.ErrClockRegression),
		errors.Is(err, stakerewards.ErrPeriodNotConfigured),
		errors.Is(err, stakerewards.ErrPeriodActive),
		errors.Is(err, custody.ErrInsufficientFunds):
		return http.StatusConflict
	case errors.Is(err, stakerewards.ErrCompoundDisabled),
		errors.Is(err, stakerewards.ErrCompoundAssetMismatch):
		return http.StatusForbidden
	case errors.Is(err, nativecommon.ErrModulePaused):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func decodeBody(r *http.Request, dst interface{}) error {
	decoder := json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxBodyBytes))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

func parseAddress(raw string) (common.Address, error) {
	trimmed := strings.TrimSpace(raw)
	if !common.IsHexAddress(trimmed) {
		return common.Address{}, fmt.Errorf("invalid address %q", raw)
	}
	return common.HexToAddress(trimmed), nil
}

func parseAmount(raw string) (*big.Int, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, errors.New("amount required")
	}
	amount, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount %q", raw)
	}
	return amount, nil
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
