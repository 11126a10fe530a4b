package controllers

import (
	"database/sql"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/statorhq/stator/internal/config"
	"github.com/statorhq/stator/internal/engine"
	"github.com/statorhq/stator/internal/machine"
	"github.com/statorhq/stator/internal/util"
	"github.com/statorhq/stator/pkg/stator/domain"
	"github.com/statorhq/stator/pkg/stator/models"
)

type ExecutionsController struct {
	AuthController
	ExecutionRepo engine.ExecutionRepo
	InstanceRepo  engine.InstanceRepo
	MachineRepo   engine.MachineRepo
	Manager       *engine.ExecutionManager
}

func NewExecutionsController(
	executionRepo engine.ExecutionRepo,
	instanceRepo engine.InstanceRepo,
	machineRepo engine.MachineRepo,
	manager *engine.ExecutionManager,
	userRepo engine.UserRepo,
) *ExecutionsController {
	return &ExecutionsController{
		ExecutionRepo: executionRepo,
		InstanceRepo:  instanceRepo,
		MachineRepo:   machineRepo,
		Manager:       manager,
		AuthController: AuthController{
			UserRepo: userRepo,
		},
	}
}

// handleCreateExecution queues a new execution for the poller. The engine is
// woken immediately so the common case does not wait a full poll interval.
func (c *ExecutionsController) handleCreateExecution(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	req, err := util.DecodeJSONBody[models.CreateExecutionRequest](r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_ARGUMENT", "invalid request body")
		return
	}
	if strings.TrimSpace(req.MachineID) == "" {
		writeError(w, http.StatusBadRequest, "INVALID_ARGUMENT", "machineId is required")
		return
	}
	rec, err := c.MachineRepo.FindByMachineID(req.MachineID)
	if err != nil {
		slog.Error("Machine lookup failed", "machine_id", req.MachineID, "error", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL", "server error")
		return
	}
	if rec == nil {
		writeError(w, http.StatusBadRequest, "INVALID_ARGUMENT", "unknown machineId: "+req.MachineID)
		return
	}

	group := req.ExecutorGroup
	if group == "" {
		group = config.GetSystemSettingString(config.ENGINE_EXECUTOR_GROUP)
	}
	exec := &domain.Execution{
		UUID:          uuid.NewString(),
		AppID:         req.AppID,
		EnvID:         req.EnvID,
		MachineID:     req.MachineID,
		Status:        string(models.StatusQueued),
		ExecutorGroup: group,
		ExternalID:    req.ExternalID,
		BusinessKey:   req.BusinessKey,
	}
	if len(req.Params) > 0 {
		data, err := json.Marshal(req.Params)
		if err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_ARGUMENT", "invalid params")
			return
		}
		exec.Params = sql.NullString{String: string(data), Valid: true}
	}
	if _, err := c.ExecutionRepo.Save(exec); err != nil {
		slog.Error("Execution save failed", "machine_id", req.MachineID, "error", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL", "server error")
		return
	}
	c.Manager.Wakeup()

	slog.Info("Execution queued", "uuid", exec.UUID, "machine_id", exec.MachineID, "user", Username(r))
	util.WriteJSONResponse(w, http.StatusCreated, models.CreateExecutionResponse{UUID: exec.UUID})
}

func (c *ExecutionsController) handleGetExecution(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	exec, ok := c.findExecution(w, r)
	if !ok {
		return
	}
	util.WriteJSONResponse(w, http.StatusOK, toExecutionResponse(exec))
}

func (c *ExecutionsController) handleGetInstances(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	exec, ok := c.findExecution(w, r)
	if !ok {
		return
	}
	instances, err := c.InstanceRepo.FindByExecution(exec.UUID)
	if err != nil {
		slog.Error("Instance lookup failed", "execution_uuid", exec.UUID, "error", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL", "server error")
		return
	}
	out := make([]models.InstanceApiResponse, 0, len(*instances))
	for i := range *instances {
		out = append(out, toInstanceResponse(&(*instances)[i]))
	}
	util.WriteJSONResponse(w, http.StatusOK, out)
}

// handleGetBreakdown estimates progress by replaying the persisted graph
// against the recorded instance statuses.
func (c *ExecutionsController) handleGetBreakdown(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	exec, ok := c.findExecution(w, r)
	if !ok {
		return
	}
	rec, err := c.MachineRepo.FindByMachineID(exec.MachineID)
	if err != nil || rec == nil {
		slog.Error("Machine lookup failed", "machine_id", exec.MachineID, "error", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL", "server error")
		return
	}
	graph, err := machine.Parse([]byte(rec.Graph))
	if err != nil {
		slog.Error("Persisted graph unparsable", "machine_id", exec.MachineID, "error", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL", "server error")
		return
	}
	instances, err := c.InstanceRepo.FindByExecution(exec.UUID)
	if err != nil {
		slog.Error("Instance lookup failed", "execution_uuid", exec.UUID, "error", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL", "server error")
		return
	}
	sim := engine.NewProgressSimulator(graph,
		engine.RecordedStatuses(*instances),
		engine.SamplerFromInstances(*instances))
	counts := sim.GetStatusBreakdown()
	util.WriteJSONResponse(w, http.StatusOK, models.StatusBreakdownResponse{
		Success:    counts.Success,
		Failed:     counts.Failed,
		InProgress: counts.InProgress,
		Queued:     counts.Queued,
		Skipped:    counts.Skipped,
	})
}

func (c *ExecutionsController) findExecution(w http.ResponseWriter, r *http.Request) (*domain.Execution, bool) {
	executionUUID := r.PathValue("uuid")
	exec, err := c.ExecutionRepo.FindByUUID(executionUUID)
	if err != nil {
		slog.Error("Execution lookup failed", "uuid", executionUUID, "error", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL", "server error")
		return nil, false
	}
	if exec == nil {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "execution not found")
		return nil, false
	}
	return exec, true
}

func toExecutionResponse(e *domain.Execution) models.ExecutionApiResponse {
	resp := models.ExecutionApiResponse{
		UUID:          e.UUID,
		AppID:         e.AppID,
		EnvID:         e.EnvID,
		MachineID:     e.MachineID,
		Status:        e.Status,
		ExecutorGroup: e.ExecutorGroup,
		ExternalID:    e.ExternalID,
		BusinessKey:   e.BusinessKey,
		Created:       e.Created,
		Modified:      e.Modified,
		Started:       nullTimePtr(e.Started),
	}
	if e.Params.Valid && e.Params.String != "" {
		params := map[string]string{}
		if err := json.Unmarshal([]byte(e.Params.String), &params); err == nil {
			resp.Params = params
		}
	}
	return resp
}

func toInstanceResponse(si *domain.StateExecutionInstance) models.InstanceApiResponse {
	resp := models.InstanceApiResponse{
		UUID:             si.UUID,
		ExecutionUUID:    si.ExecutionUUID,
		StateName:        si.StateName,
		DisplayName:      si.DisplayName,
		StateType:        si.StateType,
		ParentInstanceID: si.ParentInstanceID.String,
		PrevInstanceID:   si.PrevInstanceID.String,
		Status:           si.Status,
		Created:          si.Created,
		Modified:         si.Modified,
		Started:          nullTimePtr(si.Started),
		Ended:            nullTimePtr(si.Ended),
	}
	if si.ContextElement.Valid && si.ContextElement.String != "" {
		var el models.ContextElement
		if err := json.Unmarshal([]byte(si.ContextElement.String), &el); err == nil {
			resp.ContextElement = &el
		}
	}
	if si.NotifyElements.Valid && si.NotifyElements.String != "" {
		var els []models.ContextElement
		if err := json.Unmarshal([]byte(si.NotifyElements.String), &els); err == nil {
			resp.NotifyElements = els
		}
	}
	if si.StateExecutionData.Valid && si.StateExecutionData.String != "" {
		data := map[string]string{}
		if err := json.Unmarshal([]byte(si.StateExecutionData.String), &data); err == nil {
			resp.StateExecutionData = data
		}
	}
	return resp
}

func nullTimePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	ts := t.Time
	return &ts
}
