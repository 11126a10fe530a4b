package controllers

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/statorhq/stator/internal/engine"
	"github.com/statorhq/stator/internal/util"
)

type ExecutorsController struct {
	AuthController
	Manager *engine.ExecutionManager
}

func NewExecutorsController(manager *engine.ExecutionManager, userRepo engine.UserRepo) *ExecutorsController {
	return &ExecutorsController{
		Manager: manager,
		AuthController: AuthController{
			UserRepo: userRepo,
		},
	}
}

type executorApiResponse struct {
	ID         int64     `json:"id"`
	Name       string    `json:"name"`
	Started    time.Time `json:"started"`
	LastActive time.Time `json:"lastActive"`
}

func (c *ExecutorsController) handleGetExecutors(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	executors, err := c.Manager.ListExecutors(50)
	if err != nil {
		slog.Error("Executor lookup failed", "error", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL", "server error")
		return
	}
	out := make([]executorApiResponse, 0, len(executors))
	for _, e := range executors {
		out = append(out, executorApiResponse{
			ID:         e.ID,
			Name:       e.Name,
			Started:    e.Started,
			LastActive: e.LastActive,
		})
	}
	util.WriteJSONResponse(w, http.StatusOK, out)
}
