package web

import (
	"encoding/json"
	"errors"
	"net/http"

	sdkmath "cosmossdk.io/math"
	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/basin-labs/vase/internal/types"
)

// depositRequest is the body of POST /api/deposit.
type depositRequest struct {
	Owner  string `json:"owner"`
	Amount string `json:"amount"`
}

// withdrawRequest is the body of POST /api/withdraw.
type withdrawRequest struct {
	Owner  string `json:"owner"`
	Shares string `json:"shares"`
}

// ownerRequest carries just an owner, for operations on a whole position.
type ownerRequest struct {
	Owner string `json:"owner"`
}

// operatorRequest names the operator performing a control action.
type operatorRequest struct {
	By string `json:"by"`
}

// proposeRequest is the body of POST /api/proposals.
type proposeRequest struct {
	Change     types.ConfigChange `json:"change"`
	ProposedBy string             `json:"proposed_by"`
}

func (ws *WebServer) handleGetVault(w http.ResponseWriter, r *http.Request) {
	vault := ws.engine.Vault()
	response := map[string]interface{}{
		"vault":       vault,
		"share_price": ws.engine.SharePrice().String(),
	}
	ws.writeJSONResponse(w, http.StatusOK, response)
}

func (ws *WebServer) handleGetSlots(w http.ResponseWriter, r *http.Request) {
	slots := ws.engine.Slots()
	response := map[string]interface{}{
		"slots": slots,
		"count": len(slots),
	}
	ws.writeJSONResponse(w, http.StatusOK, response)
}

func (ws *WebServer) handleGetBalance(w http.ResponseWriter, r *http.Request) {
	owner := mux.Vars(r)["owner"]
	if owner == "" {
		ws.writeErrorResponse(w, http.StatusBadRequest, "Owner is required")
		return
	}
	response := map[string]interface{}{
		"owner":  owner,
		"shares": ws.engine.BalanceOf(owner).String(),
	}
	ws.writeJSONResponse(w, http.StatusOK, response)
}

func (ws *WebServer) handleGetRisk(w http.ResponseWriter, r *http.Request) {
	snapshot, err := ws.engine.RiskSnapshot()
	if err != nil {
		webLogger.Error().Err(err).Msg("Failed to build risk snapshot")
		ws.writeErrorResponse(w, http.StatusInternalServerError, "Failed to build risk snapshot")
		return
	}
	response := map[string]interface{}{
		"risk":    snapshot,
		"breaker": ws.engine.BreakerSnapshot(),
	}
	ws.writeJSONResponse(w, http.StatusOK, response)
}

func (ws *WebServer) handleGetParams(w http.ResponseWriter, r *http.Request) {
	ws.writeJSONResponse(w, http.StatusOK, ws.engine.Params())
}

func (ws *WebServer) handleGetProposals(w http.ResponseWriter, r *http.Request) {
	proposals := ws.engine.Proposals()
	response := map[string]interface{}{
		"proposals": proposals,
		"count":     len(proposals),
	}
	ws.writeJSONResponse(w, http.StatusOK, response)
}

func (ws *WebServer) handleDeposit(w http.ResponseWriter, r *http.Request) {
	var req depositRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		ws.writeErrorResponse(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	amount, ok := sdkmath.NewIntFromString(req.Amount)
	if !ok {
		ws.writeErrorResponse(w, http.StatusBadRequest, "Amount must be a base-10 integer string")
		return
	}

	result, err := ws.engine.Deposit(r.Context(), req.Owner, amount)
	if err != nil {
		ws.writeEngineError(w, err, "Deposit failed")
		return
	}
	ws.writeJSONResponse(w, http.StatusOK, result)
}

func (ws *WebServer) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	var req withdrawRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		ws.writeErrorResponse(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	shares, ok := sdkmath.NewIntFromString(req.Shares)
	if !ok {
		ws.writeErrorResponse(w, http.StatusBadRequest, "Shares must be a base-10 integer string")
		return
	}

	result, err := ws.engine.Withdraw(r.Context(), req.Owner, shares)
	if err != nil {
		ws.writeEngineError(w, err, "Withdrawal failed")
		return
	}
	ws.writeJSONResponse(w, http.StatusOK, result)
}

func (ws *WebServer) handleEmergencyWithdraw(w http.ResponseWriter, r *http.Request) {
	var req ownerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		ws.writeErrorResponse(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	result, err := ws.engine.EmergencyWithdraw(r.Context(), req.Owner)
	if err != nil {
		ws.writeEngineError(w, err, "Emergency withdrawal failed")
		return
	}
	ws.writeJSONResponse(w, http.StatusOK, result)
}

func (ws *WebServer) handlePause(w http.ResponseWriter, r *http.Request) {
	by := decodeOperator(r)
	if err := ws.engine.Pause(by); err != nil {
		ws.writeEngineError(w, err, "Pause failed")
		return
	}
	ws.writeJSONResponse(w, http.StatusOK, ws.engine.Vault())
}

func (ws *WebServer) handleUnpause(w http.ResponseWriter, r *http.Request) {
	by := decodeOperator(r)
	if err := ws.engine.Unpause(by); err != nil {
		ws.writeEngineError(w, err, "Unpause failed")
		return
	}
	ws.writeJSONResponse(w, http.StatusOK, ws.engine.Vault())
}

func (ws *WebServer) handleTripBreaker(w http.ResponseWriter, r *http.Request) {
	by := decodeOperator(r)
	ws.engine.TripBreaker(by)
	ws.writeJSONResponse(w, http.StatusOK, ws.engine.BreakerSnapshot())
}

func (ws *WebServer) handleReleaseBreaker(w http.ResponseWriter, r *http.Request) {
	by := decodeOperator(r)
	ws.engine.ReleaseBreaker(by)
	ws.writeJSONResponse(w, http.StatusOK, ws.engine.BreakerSnapshot())
}

func (ws *WebServer) handleProposeChange(w http.ResponseWriter, r *http.Request) {
	var req proposeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		ws.writeErrorResponse(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.ProposedBy == "" {
		req.ProposedBy = "operator"
	}

	proposal, err := ws.engine.ProposeChange(req.Change, req.ProposedBy)
	if err != nil {
		ws.writeEngineError(w, err, "Proposal rejected")
		return
	}
	ws.writeJSONResponse(w, http.StatusCreated, proposal)
}

func (ws *WebServer) handleExecuteChange(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		ws.writeErrorResponse(w, http.StatusBadRequest, "Invalid proposal ID")
		return
	}

	proposal, err := ws.engine.ExecuteChange(id)
	if err != nil {
		ws.writeEngineError(w, err, "Execution failed")
		return
	}
	ws.writeJSONResponse(w, http.StatusOK, proposal)
}

func (ws *WebServer) handleCancelChange(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		ws.writeErrorResponse(w, http.StatusBadRequest, "Invalid proposal ID")
		return
	}
	by := decodeOperator(r)

	proposal, err := ws.engine.CancelChange(id, by)
	if err != nil {
		ws.writeEngineError(w, err, "Cancellation failed")
		return
	}
	ws.writeJSONResponse(w, http.StatusOK, proposal)
}

// writeEngineError maps engine sentinel errors to HTTP status codes.
func (ws *WebServer) writeEngineError(w http.ResponseWriter, err error, context string) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, types.ErrZeroAmount),
		errors.Is(err, types.ErrInvalidAmount),
		errors.Is(err, types.ErrInsufficientShares):
		status = http.StatusBadRequest
	case errors.Is(err, types.ErrUnknownStrategy):
		status = http.StatusNotFound
	case errors.Is(err, types.ErrVaultPaused),
		errors.Is(err, types.ErrNotInEmergency),
		errors.Is(err, types.ErrTimeLockNotElapsed),
		errors.Is(err, types.ErrCapExceeded),
		errors.Is(err, types.ErrLiquidityUnavailable):
		status = http.StatusConflict
	case errors.Is(err, types.ErrOracleStale):
		status = http.StatusServiceUnavailable
	}

	webLogger.Warn().Err(err).Int("status", status).Msg(context)
	ws.writeErrorResponse(w, status, context+": "+err.Error())
}

func decodeOperator(r *http.Request) string {
	var req operatorRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.By == "" {
		return "operator"
	}
	return req.By
}
