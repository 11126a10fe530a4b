package controllers

import (
	"bytes"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/statorhq/stator/pkg/stator/domain"
)

type MockUserRepo struct {
	FindByUsernameFunc          func(username string) (*domain.User, error)
	FindBySessionIDFunc         func(sessionID string, now time.Time) (*domain.User, error)
	FindByApiKeyFunc            func(apiKey string) (*domain.User, error)
	SaveFunc                    func(user *domain.User) (int64, error)
	UpdateSessionFunc           func(userID int64, sessionID string, expiry time.Time) error
	ClearSessionBySessionIDFunc func(sessionID string) error
}

func (m *MockUserRepo) FindByUsername(username string) (*domain.User, error) {
	if m.FindByUsernameFunc != nil {
		return m.FindByUsernameFunc(username)
	}
	return nil, nil
}

func (m *MockUserRepo) FindBySessionID(sessionID string, now time.Time) (*domain.User, error) {
	if m.FindBySessionIDFunc != nil {
		return m.FindBySessionIDFunc(sessionID, now)
	}
	return nil, nil
}

func (m *MockUserRepo) FindByApiKey(apiKey string) (*domain.User, error) {
	if m.FindByApiKeyFunc != nil {
		return m.FindByApiKeyFunc(apiKey)
	}
	return nil, nil
}

func (m *MockUserRepo) Save(user *domain.User) (int64, error) {
	if m.SaveFunc != nil {
		return m.SaveFunc(user)
	}
	return 1, nil
}

func (m *MockUserRepo) UpdateSession(userID int64, sessionID string, expiry time.Time) error {
	if m.UpdateSessionFunc != nil {
		return m.UpdateSessionFunc(userID, sessionID, expiry)
	}
	return nil
}

func (m *MockUserRepo) ClearSessionBySessionID(sessionID string) error {
	if m.ClearSessionBySessionIDFunc != nil {
		return m.ClearSessionBySessionIDFunc(sessionID)
	}
	return nil
}

type MockMachineRepo struct {
	SaveFunc            func(rec *domain.StateMachineRecord) (int64, error)
	UpdateGraphFunc     func(machineID string, graph string) error
	FindByMachineIDFunc func(machineID string) (*domain.StateMachineRecord, error)
}

func (m *MockMachineRepo) Save(rec *domain.StateMachineRecord) (int64, error) {
	if m.SaveFunc != nil {
		return m.SaveFunc(rec)
	}
	return 1, nil
}

func (m *MockMachineRepo) UpdateGraph(machineID string, graph string) error {
	if m.UpdateGraphFunc != nil {
		return m.UpdateGraphFunc(machineID, graph)
	}
	return nil
}

func (m *MockMachineRepo) FindByMachineID(machineID string) (*domain.StateMachineRecord, error) {
	if m.FindByMachineIDFunc != nil {
		return m.FindByMachineIDFunc(machineID)
	}
	return nil, nil
}

type MockExecutionRepo struct {
	SaveFunc         func(e *domain.Execution) (int64, error)
	FindByUUIDFunc   func(uuid string) (*domain.Execution, error)
	UpdateStatusFunc func(uuid string, status string) error
}

func (m *MockExecutionRepo) Save(e *domain.Execution) (int64, error) {
	if m.SaveFunc != nil {
		return m.SaveFunc(e)
	}
	return 1, nil
}

func (m *MockExecutionRepo) FindByUUID(uuid string) (*domain.Execution, error) {
	if m.FindByUUIDFunc != nil {
		return m.FindByUUIDFunc(uuid)
	}
	return nil, nil
}

func (m *MockExecutionRepo) UpdateStatus(uuid string, status string) error {
	if m.UpdateStatusFunc != nil {
		return m.UpdateStatusFunc(uuid, status)
	}
	return nil
}

func (m *MockExecutionRepo) UpdateStartingTime(uuid string) error { return nil }

func (m *MockExecutionRepo) FindQueued(limit int, executorGroup string) (*[]domain.Execution, error) {
	return &[]domain.Execution{}, nil
}

func (m *MockExecutionRepo) MarkScheduledForExecution(uuid string, executorID int64, modified time.Time) bool {
	return true
}

func (m *MockExecutionRepo) FindStuck(repairAfterMinutes string, executorGroup string, limit int) (*[]domain.Execution, error) {
	return &[]domain.Execution{}, nil
}

func (m *MockExecutionRepo) ClearExecutorID(uuid string) error { return nil }

type MockInstanceRepo struct {
	FindByExecutionFunc func(executionUUID string) (*[]domain.StateExecutionInstance, error)
}

func (m *MockInstanceRepo) Save(si *domain.StateExecutionInstance) (int64, error) { return 1, nil }
func (m *MockInstanceRepo) Update(si *domain.StateExecutionInstance) error        { return nil }

func (m *MockInstanceRepo) FindByUUID(uuid string) (*domain.StateExecutionInstance, error) {
	return nil, nil
}

func (m *MockInstanceRepo) FindByExecution(executionUUID string) (*[]domain.StateExecutionInstance, error) {
	if m.FindByExecutionFunc != nil {
		return m.FindByExecutionFunc(executionUUID)
	}
	return &[]domain.StateExecutionInstance{}, nil
}

func (m *MockInstanceRepo) FindNonTerminalByExecution(executionUUID string) (*[]domain.StateExecutionInstance, error) {
	return &[]domain.StateExecutionInstance{}, nil
}

func (m *MockInstanceRepo) FindPausedByExecution(executionUUID string) (*[]domain.StateExecutionInstance, error) {
	return &[]domain.StateExecutionInstance{}, nil
}

// apiUserRepo authenticates the X-API-Key value "secret" as alice.
func apiUserRepo() *MockUserRepo {
	return &MockUserRepo{
		FindByApiKeyFunc: func(apiKey string) (*domain.User, error) {
			if apiKey == "secret" {
				return &domain.User{
					ID:       1,
					Username: "alice",
					Enabled:  sql.NullBool{Bool: true, Valid: true},
				}, nil
			}
			return nil, nil
		},
	}
}

func jsonRequest(t *testing.T, method, target string, body any) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, target, &buf)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-Key", "secret")
	return req
}

func decodeBody[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(rr.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response %q: %v", rr.Body.String(), err)
	}
	return out
}
