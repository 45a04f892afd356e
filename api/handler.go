// Package api exposes the deployment orchestrator over HTTP.
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/scrawlsbenches/rollout/engine"
	"github.com/scrawlsbenches/rollout/target"
)

// Handler carries the collaborators the HTTP layer needs.
type Handler struct {
	orch    *engine.Orchestrator
	targets *target.Set
	gate    *engine.MemoryGate // nil when approvals are disabled
	logger  *slog.Logger
}

// NewHandler creates the API handler. gate may be nil.
func NewHandler(orch *engine.Orchestrator, targets *target.Set, gate *engine.MemoryGate, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{orch: orch, targets: targets, gate: gate, logger: logger}
}

func (h *Handler) createDeployment(w http.ResponseWriter, r *http.Request) {
	var req engine.CreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	dep, err := h.orch.Create(r.Context(), req)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	WriteJSON(w, http.StatusCreated, dep)
}

func (h *Handler) listDeployments(w http.ResponseWriter, r *http.Request) {
	deps, err := h.orch.List(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, deps)
}

func (h *Handler) getDeployment(w http.ResponseWriter, r *http.Request) {
	id, ok := h.deploymentID(w, r)
	if !ok {
		return
	}
	dep, err := h.orch.Get(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, dep)
}

func (h *Handler) startDeployment(w http.ResponseWriter, r *http.Request) {
	id, ok := h.deploymentID(w, r)
	if !ok {
		return
	}
	if err := h.orch.Start(r.Context(), id); err != nil {
		writeDomainError(w, err)
		return
	}
	dep, err := h.orch.Get(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	WriteJSON(w, http.StatusAccepted, dep)
}

func (h *Handler) promoteDeployment(w http.ResponseWriter, r *http.Request) {
	id, ok := h.deploymentID(w, r)
	if !ok {
		return
	}
	var req struct {
		Stage *int `json:"stage"`
	}
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			WriteError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
			return
		}
	}
	toStage := -1
	if req.Stage != nil {
		toStage = *req.Stage
	}

	if err := h.orch.Promote(r.Context(), id, toStage); err != nil {
		writeDomainError(w, err)
		return
	}
	dep, err := h.orch.Get(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, dep)
}

func (h *Handler) rollbackDeployment(w http.ResponseWriter, r *http.Request) {
	id, ok := h.deploymentID(w, r)
	if !ok {
		return
	}
	var req struct {
		Reason string `json:"reason"`
	}
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			WriteError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
			return
		}
	}

	if err := h.orch.Rollback(r.Context(), id, req.Reason); err != nil {
		writeDomainError(w, err)
		return
	}
	dep, err := h.orch.Get(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, dep)
}

func (h *Handler) abortDeployment(w http.ResponseWriter, r *http.Request) {
	id, ok := h.deploymentID(w, r)
	if !ok {
		return
	}
	var req struct {
		Reason string `json:"reason"`
	}
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			WriteError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
			return
		}
	}

	if err := h.orch.Abort(r.Context(), id, req.Reason); err != nil {
		writeDomainError(w, err)
		return
	}
	dep, err := h.orch.Get(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, dep)
}

func (h *Handler) listTargets(w http.ResponseWriter, _ *http.Request) {
	WriteJSON(w, http.StatusOK, h.targets.List())
}

func (h *Handler) registerTarget(w http.ResponseWriter, r *http.Request) {
	var t target.Target
	if err := json.NewDecoder(r.Body).Decode(&t); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if t.ID == "" || t.Address == "" {
		WriteError(w, http.StatusBadRequest, "target id and address are required")
		return
	}
	h.targets.Add(t)
	h.logger.Info("target registered", "target", t.ID, "pool", t.Pool)
	WriteJSON(w, http.StatusCreated, t)
}

func (h *Handler) removeTarget(w http.ResponseWriter, r *http.Request) {
	id := target.ID(chi.URLParam(r, "id"))
	if err := h.targets.Remove(id); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) approveEnvironment(w http.ResponseWriter, r *http.Request) {
	if h.gate == nil {
		WriteError(w, http.StatusNotFound, "approvals are not enabled")
		return
	}
	var req struct {
		Environment string `json:"environment"`
		Approver    string `json:"approver"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.Environment == "" {
		WriteError(w, http.StatusBadRequest, "environment is required")
		return
	}
	h.gate.Approve(req.Environment, req.Approver)
	h.logger.Info("environment approved", "environment", req.Environment, "approver", req.Approver)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) revokeApproval(w http.ResponseWriter, r *http.Request) {
	if h.gate == nil {
		WriteError(w, http.StatusNotFound, "approvals are not enabled")
		return
	}
	h.gate.Revoke(chi.URLParam(r, "environment"))
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) deploymentID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		WriteError(w, http.StatusBadRequest, "invalid deployment id")
		return uuid.Nil, false
	}
	return id, true
}
