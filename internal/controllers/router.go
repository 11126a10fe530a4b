package controllers

import "net/http"

// RegisterRoutes wires the HTTP routes for this controller.
func (ac *AuthController) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/login", ac.handleLogin)
	mux.HandleFunc("/api/logout", ac.RequireAuth(ac.handleLogout))
}
func (c *MachinesController) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/machines", c.RequireAuth(c.handleSaveMachine))
	mux.HandleFunc("GET /api/machines/{machineId}", c.RequireAuth(c.handleGetMachine))
}
func (c *ExecutionsController) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/executions", c.RequireAuth(c.handleCreateExecution))
	mux.HandleFunc("GET /api/executions/{uuid}", c.RequireAuth(c.handleGetExecution))
	mux.HandleFunc("GET /api/executions/{uuid}/instances", c.RequireAuth(c.handleGetInstances))
	mux.HandleFunc("GET /api/executions/{uuid}/breakdown", c.RequireAuth(c.handleGetBreakdown))
}
func (c *InterruptsController) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/executions/{uuid}/interrupts", c.RequireAuth(c.handleRegisterInterrupt))
	mux.HandleFunc("GET /api/executions/{uuid}/interrupts", c.RequireAuth(c.handleGetInterrupts))
}
func (c *NotifyController) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/notify/{correlationId}", c.RequireAuth(c.handleNotify))
}
func (c *ExecutorsController) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/executors", c.RequireAuth(c.handleGetExecutors))
}
