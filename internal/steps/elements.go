package steps

import (
	"fmt"
	"strings"

	"github.com/statorhq/stator/pkg/stator/core"
	"github.com/statorhq/stator/pkg/stator/models"
)

// ParamsElementResolver resolves repeat element expressions against the
// execution parameters. An expression of the form "${key}" reads the
// comma-separated parameter named key; any other expression is taken as a
// comma-separated literal list.
type ParamsElementResolver struct{}

func (ParamsElementResolver) Resolve(ctx *core.ExecutionContext, elementType models.ContextElementType, expression string) ([]models.ContextElement, error) {
	raw := expression
	if strings.HasPrefix(expression, "${") && strings.HasSuffix(expression, "}") {
		key := expression[2 : len(expression)-1]
		raw = ctx.Param(key)
		if raw == "" {
			return nil, fmt.Errorf("repeat expression %q: parameter %q is empty", expression, key)
		}
	}
	var elements []models.ContextElement
	for _, name := range strings.Split(raw, ",") {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		elements = append(elements, models.ContextElement{Type: elementType, Name: name})
	}
	return elements, nil
}
