package steps

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/statorhq/stator/pkg/stator/core"
	"github.com/statorhq/stator/pkg/stator/models"
)

func TestParamsElementResolverReadsParameter(t *testing.T) {
	ctx := &core.ExecutionContext{Params: map[string]string{"services": "svc-a, svc-b,, svc-c"}}

	got, err := ParamsElementResolver{}.Resolve(ctx, models.ElementTypeService, "${services}")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	want := []string{"svc-a", "svc-b", "svc-c"}
	if len(got) != len(want) {
		t.Fatalf("expected %d elements, got %v", len(want), got)
	}
	for i, name := range want {
		if got[i].Name != name || got[i].Type != models.ElementTypeService {
			t.Errorf("element %d = %+v, want %s", i, got[i], name)
		}
	}
}

func TestParamsElementResolverLiteralList(t *testing.T) {
	ctx := &core.ExecutionContext{}

	got, err := ParamsElementResolver{}.Resolve(ctx, models.ElementTypeHost, "host-1,host-2")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if len(got) != 2 || got[0].Name != "host-1" || got[1].Name != "host-2" {
		t.Fatalf("unexpected elements: %v", got)
	}
}

func TestParamsElementResolverEmptyParameter(t *testing.T) {
	ctx := &core.ExecutionContext{Params: map[string]string{}}

	if _, err := (ParamsElementResolver{}).Resolve(ctx, models.ElementTypeService, "${services}"); err == nil {
		t.Fatal("expected error for empty parameter")
	}
}

type notifierFunc func(correlationID string, data core.ResponseData)

func (f notifierFunc) Notify(correlationID string, data core.ResponseData) { f(correlationID, data) }

func TestWaitStepNotifiesAfterDuration(t *testing.T) {
	type delivery struct {
		id   string
		data core.ResponseData
	}
	notified := make(chan delivery, 1)
	ctx := &core.ExecutionContext{
		Params: map[string]string{"waitDuration": "10ms"},
		Notifier: notifierFunc(func(id string, data core.ResponseData) {
			notified <- delivery{id: id, data: data}
		}),
	}

	resp, err := WaitStep{}.Execute(ctx)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !resp.Async || len(resp.CorrelationIDs) != 1 {
		t.Fatalf("expected one async correlation ID, got %+v", resp)
	}
	if ctx.StateData()["waitDuration"] != "10ms" {
		t.Fatalf("waitDuration not recorded: %v", ctx.StateData())
	}

	select {
	case d := <-notified:
		if d.id != resp.CorrelationIDs[0] {
			t.Fatalf("notified %q, expected %q", d.id, resp.CorrelationIDs[0])
		}
		if d.data.Status != models.StatusSuccess {
			t.Fatalf("expected SUCCESS, got %s", d.data.Status)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timer never fired")
	}

	done, err := WaitStep{}.HandleAsyncResponse(ctx, map[string]core.ResponseData{
		resp.CorrelationIDs[0]: {Status: models.StatusSuccess},
	})
	if err != nil || done.Status != models.StatusSuccess {
		t.Fatalf("HandleAsyncResponse = %+v, %v", done, err)
	}
}

func TestWaitStepRejectsBadDuration(t *testing.T) {
	ctx := &core.ExecutionContext{Params: map[string]string{"waitDuration": "soon"}}
	if _, err := (WaitStep{}).Execute(ctx); err == nil {
		t.Fatal("expected error for unparseable duration")
	}
}

func TestWaitStepPropagatesFailure(t *testing.T) {
	resp, err := WaitStep{}.HandleAsyncResponse(&core.ExecutionContext{}, map[string]core.ResponseData{
		"id": {Status: models.StatusAborted, ErrorMessage: "cancelled"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Status != models.StatusAborted || resp.ErrorMessage != "cancelled" {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

func TestHttpProbeSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	ctx := &core.ExecutionContext{Params: map[string]string{"probeUrl": srv.URL}}
	step := &HttpProbeStep{Client: srv.Client()}

	resp, err := step.Execute(ctx)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if resp.Status != models.StatusSuccess {
		t.Fatalf("expected SUCCESS, got %+v", resp)
	}
	if ctx.StateData()["probeStatusCode"] != "200" {
		t.Fatalf("status code not recorded: %v", ctx.StateData())
	}
}

func TestHttpProbeNon2xxFailsWithoutError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	ctx := &core.ExecutionContext{Params: map[string]string{"probeUrl": srv.URL}}
	step := &HttpProbeStep{Client: srv.Client()}

	resp, err := step.Execute(ctx)
	if err != nil {
		t.Fatalf("probe failures are responses, not errors: %v", err)
	}
	if resp.Status != models.StatusFailed {
		t.Fatalf("expected FAILED, got %s", resp.Status)
	}
	if ctx.StateData()["probeStatusCode"] != "503" {
		t.Fatalf("status code not recorded: %v", ctx.StateData())
	}
}

func TestHttpProbeSubstitutesElement(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
	}))
	defer srv.Close()

	ctx := &core.ExecutionContext{
		Params:   map[string]string{"probeUrl": srv.URL + "/health/{element}"},
		Elements: []models.ContextElement{{Type: models.ElementTypeService, Name: "svc-a"}},
	}
	step := &HttpProbeStep{Client: srv.Client()}

	resp, err := step.Execute(ctx)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if resp.Status != models.StatusSuccess {
		t.Fatalf("expected SUCCESS, got %+v", resp)
	}
	if gotPath != "/health/svc-a" {
		t.Fatalf("element not substituted, probed %q", gotPath)
	}
}

func TestHttpProbeElementPlaceholderWithoutElement(t *testing.T) {
	ctx := &core.ExecutionContext{Params: map[string]string{"probeUrl": "http://x/{element}"}}
	if _, err := (&HttpProbeStep{}).Execute(ctx); err == nil {
		t.Fatal("expected error when no element is bound")
	}
}
