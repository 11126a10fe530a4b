package steps

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/statorhq/stator/pkg/stator/core"
	"github.com/statorhq/stator/pkg/stator/models"
)

// HttpProbeStep performs a readiness probe against a target URL. The URL
// comes from the "probeUrl" execution parameter; a bound element's name
// replaces the "{element}" placeholder so the step works inside repeat
// states.
type HttpProbeStep struct {
	Client *http.Client
}

func (s *HttpProbeStep) Execute(ctx *core.ExecutionContext) (*core.ExecutionResponse, error) {
	target := ctx.Param("probeUrl")
	if target == "" {
		return nil, fmt.Errorf("probeUrl parameter is required")
	}
	if strings.Contains(target, "{element}") {
		el := innermostElement(ctx)
		if el == nil {
			return nil, fmt.Errorf("probeUrl references {element} but no element is bound")
		}
		target = strings.ReplaceAll(target, "{element}", el.Name)
	}

	client := s.Client
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	resp, err := client.Get(target)
	if err != nil {
		return &core.ExecutionResponse{
			Status:       models.StatusFailed,
			ErrorMessage: fmt.Sprintf("probe %s: %v", target, err),
		}, nil
	}
	defer resp.Body.Close()

	ctx.SetStateData("probeUrl", target)
	ctx.SetStateData("probeStatusCode", fmt.Sprintf("%d", resp.StatusCode))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &core.ExecutionResponse{
			Status:       models.StatusFailed,
			ErrorMessage: fmt.Sprintf("probe %s: status %d", target, resp.StatusCode),
		}, nil
	}
	return &core.ExecutionResponse{Status: models.StatusSuccess}, nil
}

func (s *HttpProbeStep) HandleAsyncResponse(ctx *core.ExecutionContext, responses map[string]core.ResponseData) (*core.ExecutionResponse, error) {
	return &core.ExecutionResponse{Status: models.StatusSuccess}, nil
}

func (s *HttpProbeStep) HandleAbortEvent(ctx *core.ExecutionContext) error {
	return nil
}

func innermostElement(ctx *core.ExecutionContext) *models.ContextElement {
	if len(ctx.Elements) == 0 {
		return nil
	}
	return &ctx.Elements[len(ctx.Elements)-1]
}
