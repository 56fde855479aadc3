package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/calyptra-labs/stakedeck/internal/types"
	"github.com/gorilla/mux"
)

// Session handlers

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	session := s.store.Session()
	if session == nil {
		respondJSON(w, http.StatusOK, map[string]interface{}{
			"connected": false,
		})
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"connected": true,
		"session":   session,
	})
}

func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	if err := s.connection.Connect(r.Context()); err != nil {
		respondError(w, statusForError(err), "wallet connect failed", err)
		return
	}

	// Populate the views right away instead of waiting for the timers
	s.reconciler.ScheduleAfter(s.appCtx, 0)
	s.refresher.Kick()

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"connected": true,
		"session":   s.store.Session(),
	})
}

func (s *Server) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	s.connection.Disconnect()

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"connected": false,
	})
}

// View handlers

func (s *Server) handleTokens(w http.ResponseWriter, r *http.Request) {
	snap := s.store.Snapshot()

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"owned":        snap.Owned,
		"staked":       snap.Staked,
		"owned_count":  len(snap.Owned),
		"staked_count": len(snap.Staked),
	})
}

func (s *Server) handleRewards(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"rewards": s.store.Rewards(),
	})
}

// Operation handlers

func (s *Server) handleListOperations(w http.ResponseWriter, r *http.Request) {
	operations := s.store.Operations()

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"operations": operations,
		"total":      len(operations),
	})
}

func (s *Server) handleGetOperation(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	id := vars["id"]

	operation, ok := s.store.Operation(id)
	if !ok {
		respondError(w, http.StatusNotFound, "operation not found", nil)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"operation": operation,
	})
}

// TokenRequest targets one token by ID
type TokenRequest struct {
	TokenID uint64 `json:"token_id"`
}

func (s *Server) handleStake(w http.ResponseWriter, r *http.Request) {
	var req TokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	op, err := s.operator.Stake(r.Context(), req.TokenID)
	respondOperation(w, op, err)
}

func (s *Server) handleUnstake(w http.ResponseWriter, r *http.Request) {
	var req TokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	op, err := s.operator.Unstake(r.Context(), req.TokenID)
	respondOperation(w, op, err)
}

func (s *Server) handleClaim(w http.ResponseWriter, r *http.Request) {
	op, err := s.operator.Claim(r.Context())
	respondOperation(w, op, err)
}

// MintRequest asks for a number of tokens to mint
type MintRequest struct {
	Quantity uint64 `json:"quantity"`
}

func (s *Server) handleMint(w http.ResponseWriter, r *http.Request) {
	var req MintRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	op, err := s.operator.Mint(r.Context(), req.Quantity)
	respondOperation(w, op, err)
}

// AmountRequest carries a decimal amount in display units
type AmountRequest struct {
	Amount string `json:"amount"`
}

func (s *Server) handleDeposit(w http.ResponseWriter, r *http.Request) {
	var req AmountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	op, err := s.operator.Deposit(r.Context(), req.Amount)
	respondOperation(w, op, err)
}

// Admin handlers

func (s *Server) handleRewardCap(w http.ResponseWriter, r *http.Request) {
	var req AmountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	op, err := s.operator.UpdateDailyCap(r.Context(), req.Amount)
	respondOperation(w, op, err)
}

// WithdrawRequest asks for a timelocked pool withdrawal
type WithdrawRequest struct {
	Recipient string `json:"recipient"`
	Amount    string `json:"amount"`
}

func (s *Server) handleEmergencyWithdraw(w http.ResponseWriter, r *http.Request) {
	var req WithdrawRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	op, err := s.operator.InitiateEmergencyWithdraw(r.Context(), req.Recipient, req.Amount)
	respondOperation(w, op, err)
}

func (s *Server) handleEmergencyWithdrawComplete(w http.ResponseWriter, r *http.Request) {
	op, err := s.operator.CompleteEmergencyWithdraw(r.Context())
	respondOperation(w, op, err)
}

// respondOperation writes the operation result. A failed operation still
// ships its record so the caller can show the failure message and hashes.
func respondOperation(w http.ResponseWriter, op *types.PendingOperation, err error) {
	if err != nil {
		status := statusForError(err)
		response := map[string]interface{}{
			"error":  err.Error(),
			"status": status,
		}
		if op != nil {
			response["operation"] = op
		}
		respondJSON(w, status, response)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"operation": op,
	})
}

// statusForError maps the error taxonomy onto HTTP statuses
func statusForError(err error) int {
	switch {
	case errors.Is(err, types.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, types.ErrWalletUnavailable),
		errors.Is(err, types.ErrOwnershipMismatch),
		errors.Is(err, types.ErrChainSwitchRejected),
		errors.Is(err, types.ErrChainAddFailed):
		return http.StatusConflict
	case errors.Is(err, types.ErrRPCExhausted),
		errors.Is(err, types.ErrTransactionReverted):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
