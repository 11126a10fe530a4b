package steps

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/statorhq/stator/pkg/stator/core"
	"github.com/statorhq/stator/pkg/stator/models"
)

// WaitStep suspends its walk for a fixed duration and resumes through the
// notification channel. The duration comes from the state's configured
// "waitDuration" execution parameter, default 5s.
type WaitStep struct{}

func (WaitStep) Execute(ctx *core.ExecutionContext) (*core.ExecutionResponse, error) {
	dur := 5 * time.Second
	if v := ctx.Param("waitDuration"); v != "" {
		parsed, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("invalid waitDuration %q: %w", v, err)
		}
		dur = parsed
	}
	correlationID := uuid.NewString()
	notifier := ctx.Notifier
	time.AfterFunc(dur, func() {
		notifier.Notify(correlationID, core.ResponseData{Status: models.StatusSuccess})
	})
	ctx.SetStateData("waitDuration", dur.String())
	return &core.ExecutionResponse{Async: true, CorrelationIDs: []string{correlationID}}, nil
}

func (WaitStep) HandleAsyncResponse(ctx *core.ExecutionContext, responses map[string]core.ResponseData) (*core.ExecutionResponse, error) {
	for _, r := range responses {
		if r.Status != models.StatusSuccess {
			return &core.ExecutionResponse{Status: r.Status, ErrorMessage: r.ErrorMessage}, nil
		}
	}
	return &core.ExecutionResponse{Status: models.StatusSuccess}, nil
}

func (WaitStep) HandleAbortEvent(ctx *core.ExecutionContext) error {
	return nil
}
