package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"

	"yieldscope/internal/earnings"
	"yieldscope/internal/model"
)

type earningsRequest struct {
	PoolID string          `json:"pool_id"`
	Amount decimal.Decimal `json:"amount"`
}

type depositBody struct {
	PoolID *string         `json:"pool_id"`
	Amount decimal.Decimal `json:"amount"`
	model.DepositDetails
}

type withdrawalBody struct {
	PoolID *string         `json:"pool_id"`
	Amount decimal.Decimal `json:"amount"`
	model.WithdrawalDetails
}

type rebalanceBody struct {
	Amount decimal.Decimal `json:"amount"`
	model.RebalanceDetails
}

type deploymentBody struct {
	PoolID string          `json:"pool_id"`
	Amount decimal.Decimal `json:"amount"`
	model.DeploymentDetails
}

type riskAdjustmentBody struct {
	Amount decimal.Decimal `json:"amount"`
	model.RiskAdjustmentDetails
}

func decodeBody(r *http.Request, dst any) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return &model.ValidationError{Field: "body", Reason: err.Error()}
	}
	return nil
}

func (s *Server) handleEarnings(w http.ResponseWriter, r *http.Request) {
	var req earningsRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	pos, err := s.engine.RecordDepositAndProject(r.Context(), mux.Vars(r)["user_id"], req.PoolID, req.Amount, nil)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, pos)
}

func (s *Server) handleCreateDeposit(w http.ResponseWriter, r *http.Request) {
	var body depositBody
	if err := decodeBody(r, &body); err != nil {
		s.writeError(w, r, err)
		return
	}
	action, err := s.engine.RecordDeposit(r.Context(), mux.Vars(r)["user_id"], earnings.DepositRequest{
		PoolID:  body.PoolID,
		Amount:  body.Amount,
		Details: body.DepositDetails,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, action)
}

func (s *Server) handleCreateWithdrawal(w http.ResponseWriter, r *http.Request) {
	var body withdrawalBody
	if err := decodeBody(r, &body); err != nil {
		s.writeError(w, r, err)
		return
	}
	action, err := s.engine.RecordWithdrawal(r.Context(), mux.Vars(r)["user_id"], earnings.WithdrawalRequest{
		PoolID:  body.PoolID,
		Amount:  body.Amount,
		Details: body.WithdrawalDetails,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, action)
}

func (s *Server) handleRebalance(w http.ResponseWriter, r *http.Request) {
	var body rebalanceBody
	if err := decodeBody(r, &body); err != nil {
		s.writeError(w, r, err)
		return
	}
	legs, err := s.engine.RecordRebalance(r.Context(), mux.Vars(r)["user_id"], earnings.RebalanceRequest{
		Amount:  body.Amount,
		Details: body.RebalanceDetails,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, legs)
}

func (s *Server) handleDeployment(w http.ResponseWriter, r *http.Request) {
	var body deploymentBody
	if err := decodeBody(r, &body); err != nil {
		s.writeError(w, r, err)
		return
	}
	action, err := s.engine.RecordDeployment(r.Context(), mux.Vars(r)["user_id"], earnings.DeploymentRequest{
		PoolID:  body.PoolID,
		Amount:  body.Amount,
		Details: body.DeploymentDetails,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, action)
}

func (s *Server) handleRiskAdjustment(w http.ResponseWriter, r *http.Request) {
	var body riskAdjustmentBody
	if err := decodeBody(r, &body); err != nil {
		s.writeError(w, r, err)
		return
	}
	legs, err := s.engine.RecordRiskAdjustment(r.Context(), mux.Vars(r)["user_id"], earnings.RiskAdjustmentRequest{
		Amount:  body.Amount,
		Details: body.RiskAdjustmentDetails,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, legs)
}
