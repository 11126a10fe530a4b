package controllers

import (
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/statorhq/stator/internal/engine"
	"github.com/statorhq/stator/internal/machine"
	"github.com/statorhq/stator/internal/util"
	"github.com/statorhq/stator/pkg/stator/domain"
)

type MachinesController struct {
	AuthController
	MachineRepo engine.MachineRepo
	Executor    *engine.StateMachineExecutor
}

func NewMachinesController(machineRepo engine.MachineRepo, executor *engine.StateMachineExecutor, userRepo engine.UserRepo) *MachinesController {
	return &MachinesController{
		MachineRepo: machineRepo,
		Executor:    executor,
		AuthController: AuthController{
			UserRepo: userRepo,
		},
	}
}

// handleSaveMachine validates the submitted graph, expands repeat
// requirements and persists the expanded form. Re-posting an existing
// machineId replaces its graph.
func (c *MachinesController) handleSaveMachine(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_ARGUMENT", "could not read request body")
		return
	}
	defer r.Body.Close()

	m, err := machine.Parse(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_ARGUMENT", err.Error())
		return
	}
	if m.MachineID == "" || m.Name == "" {
		writeError(w, http.StatusBadRequest, "INVALID_ARGUMENT", "machineId and name are required")
		return
	}
	if err := m.Validate(); err != nil {
		writeGraphError(w, err)
		return
	}
	if err := machine.ExpandRepeats(m); err != nil {
		writeGraphError(w, err)
		return
	}
	expanded, err := m.Marshal()
	if err != nil {
		slog.Error("Failed to marshal expanded graph", "machine_id", m.MachineID, "error", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL", "server error")
		return
	}

	existing, err := c.MachineRepo.FindByMachineID(m.MachineID)
	if err != nil {
		slog.Error("Machine lookup failed", "machine_id", m.MachineID, "error", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL", "server error")
		return
	}
	if existing != nil {
		if err := c.MachineRepo.UpdateGraph(m.MachineID, string(expanded)); err != nil {
			slog.Error("Machine update failed", "machine_id", m.MachineID, "error", err)
			writeError(w, http.StatusInternalServerError, "INTERNAL", "server error")
			return
		}
	} else {
		rec := &domain.StateMachineRecord{MachineID: m.MachineID, Name: m.Name, Graph: string(expanded)}
		if _, err := c.MachineRepo.Save(rec); err != nil {
			slog.Error("Machine save failed", "machine_id", m.MachineID, "error", err)
			writeError(w, http.StatusInternalServerError, "INTERNAL", "server error")
			return
		}
	}
	c.Executor.InvalidateGraph(m.MachineID)

	slog.Info("Machine saved", "machine_id", m.MachineID, "name", m.Name, "user", Username(r))
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(expanded)
}

func (c *MachinesController) handleGetMachine(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	machineID := r.PathValue("machineId")
	rec, err := c.MachineRepo.FindByMachineID(machineID)
	if err != nil {
		slog.Error("Machine lookup failed", "machine_id", machineID, "error", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL", "server error")
		return
	}
	if rec == nil {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "machine not found")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(rec.Graph))
}

func writeGraphError(w http.ResponseWriter, err error) {
	var ge *machine.GraphError
	if errors.As(err, &ge) {
		util.WriteJSONResponse(w, http.StatusBadRequest, struct {
			Code  string   `json:"code"`
			Names []string `json:"names"`
		}{Code: string(ge.Code), Names: ge.Names})
		return
	}
	writeError(w, http.StatusBadRequest, "INVALID_ARGUMENT", err.Error())
}
