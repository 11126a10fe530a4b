package controllers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/statorhq/stator/internal/engine"
	"github.com/statorhq/stator/internal/util"
	"github.com/statorhq/stator/pkg/stator/models"
)

type InterruptsController struct {
	AuthController
	Manager       *engine.ExecutionInterruptManager
	ExecutionRepo engine.ExecutionRepo
}

func NewInterruptsController(manager *engine.ExecutionInterruptManager, executionRepo engine.ExecutionRepo, userRepo engine.UserRepo) *InterruptsController {
	return &InterruptsController{
		Manager:       manager,
		ExecutionRepo: executionRepo,
		AuthController: AuthController{
			UserRepo: userRepo,
		},
	}
}

func (c *InterruptsController) handleRegisterInterrupt(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	req, err := util.DecodeJSONBody[models.RegisterInterruptRequest](r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_ARGUMENT", "invalid request body")
		return
	}
	req.ExecutionUUID = r.PathValue("uuid")
	if req.CreatedBy == "" {
		req.CreatedBy = Username(r)
	}

	record, err := c.Manager.RegisterExecutionInterrupt(req)
	if err != nil {
		var ie *engine.InterruptError
		if errors.As(err, &ie) {
			writeError(w, interruptStatus(ie.Code), string(ie.Code), ie.Message)
			return
		}
		slog.Error("Interrupt registration failed", "execution_uuid", req.ExecutionUUID, "error", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL", "server error")
		return
	}

	resp := models.InterruptApiResponse{
		UUID:          record.UUID,
		ExecutionUUID: record.ExecutionUUID,
		InterruptType: record.InterruptType,
		Seized:        record.Seized,
		CreatedBy:     record.CreatedBy,
		Created:       record.Created,
	}
	if record.StateExecutionInstanceID.Valid {
		resp.StateExecutionInstanceID = record.StateExecutionInstanceID.String
	}
	util.WriteJSONResponse(w, http.StatusCreated, resp)
}

// handleGetInterrupts returns the append-only interrupt audit trail for one
// execution, oldest first.
func (c *InterruptsController) handleGetInterrupts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	executionUUID := r.PathValue("uuid")
	exec, err := c.ExecutionRepo.FindByUUID(executionUUID)
	if err != nil {
		slog.Error("Execution lookup failed", "uuid", executionUUID, "error", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL", "server error")
		return
	}
	if exec == nil {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "execution not found")
		return
	}
	interrupts, err := c.Manager.Interrupts(executionUUID)
	if err != nil {
		slog.Error("Interrupt lookup failed", "uuid", executionUUID, "error", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL", "server error")
		return
	}
	util.WriteJSONResponse(w, http.StatusOK, interrupts)
}

func interruptStatus(code engine.InterruptErrorCode) int {
	if code == engine.InterruptInvalidArgument {
		return http.StatusBadRequest
	}
	return http.StatusConflict
}
