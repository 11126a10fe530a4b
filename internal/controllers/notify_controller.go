package controllers

import (
	"net/http"

	"github.com/statorhq/stator/internal/engine"
	"github.com/statorhq/stator/internal/util"
	"github.com/statorhq/stator/pkg/stator/core"
	"github.com/statorhq/stator/pkg/stator/models"
)

type NotifyController struct {
	AuthController
	Executor *engine.StateMachineExecutor
}

func NewNotifyController(executor *engine.StateMachineExecutor, userRepo engine.UserRepo) *NotifyController {
	return &NotifyController{
		Executor: executor,
		AuthController: AuthController{
			UserRepo: userRepo,
		},
	}
}

// handleNotify delivers an external asynchronous response for one correlation
// ID. Delivery is accepted even when no waiter is registered yet; the engine
// buffers it until the owning step suspends.
func (c *NotifyController) handleNotify(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	correlationID := r.PathValue("correlationId")
	if correlationID == "" {
		writeError(w, http.StatusBadRequest, "INVALID_ARGUMENT", "correlationId is required")
		return
	}
	req, err := util.DecodeJSONBody[models.NotifyRequest](r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_ARGUMENT", "invalid request body")
		return
	}
	if !req.Status.IsFinal() {
		writeError(w, http.StatusBadRequest, "INVALID_ARGUMENT", "status must be SUCCESS, FAILED or ABORTED")
		return
	}

	c.Executor.Notifier().Notify(correlationID, core.ResponseData{
		Status:       req.Status,
		ErrorMessage: req.ErrorMessage,
		Data:         req.Data,
	})
	w.WriteHeader(http.StatusAccepted)
}
