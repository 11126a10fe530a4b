package controllers

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/statorhq/stator/internal/engine"
	"github.com/statorhq/stator/pkg/stator/domain"
)

type MockExecutorRepo struct {
	GetExecutorsByLastActiveFunc func(limit int) ([]*domain.Executor, error)
}

func (m *MockExecutorRepo) Save(e *domain.Executor) (int64, error) { return 1, nil }

func (m *MockExecutorRepo) UpdateLastActive(id int64, ts time.Time) error { return nil }

func (m *MockExecutorRepo) GetExecutorsByLastActive(limit int) ([]*domain.Executor, error) {
	if m.GetExecutorsByLastActiveFunc != nil {
		return m.GetExecutorsByLastActiveFunc(limit)
	}
	return nil, nil
}

func TestGetExecutorsListsRecentlyActive(t *testing.T) {
	started := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	repo := &MockExecutorRepo{
		GetExecutorsByLastActiveFunc: func(limit int) ([]*domain.Executor, error) {
			return []*domain.Executor{
				{ID: 2, Name: "host-b-1422", Started: started, LastActive: started.Add(time.Hour)},
				{ID: 1, Name: "host-a-9001", Started: started, LastActive: started.Add(time.Minute)},
			}, nil
		},
	}
	c := NewExecutorsController(engine.NewExecutionManager(nil, repo, nil, nil), apiUserRepo())
	mux := http.NewServeMux()
	c.RegisterRoutes(mux)

	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, jsonRequest(t, http.MethodGet, "/api/executors", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	resp := decodeBody[[]executorApiResponse](t, rr)
	if len(resp) != 2 || resp[0].Name != "host-b-1422" || resp[1].ID != 1 {
		t.Fatalf("unexpected executors: %+v", resp)
	}
}
