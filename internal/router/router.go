package router

import (
	"net/http"

	"github.com/atiendo/backend/internal/auth"
	"github.com/atiendo/backend/internal/middleware"
	"github.com/atiendo/backend/internal/operator"
)

// New returns an http.Handler serving the operator API under /api/v1.
// Auth routes are public; everything else requires an operator JWT, and
// battery recharge additionally requires the admin role.
func New(authHandler *auth.Handler, opHandler *operator.Handler, authSvc auth.Service) http.Handler {
	mux := http.NewServeMux()
	const base = "/api/v1"

	mux.HandleFunc("POST "+base+"/auth/register", authHandler.Register)
	mux.HandleFunc("POST "+base+"/auth/login", authHandler.Login)

	protect := middleware.OperatorAuth(authSvc)
	handle := func(pattern string, h http.HandlerFunc) {
		mux.Handle(pattern, protect(h))
	}

	handle("GET "+base+"/battery", opHandler.GetBattery)
	mux.Handle("POST "+base+"/battery/recharge",
		protect(middleware.RequireAdmin(http.HandlerFunc(opHandler.RechargeBattery))))

	handle("GET "+base+"/credit-ledger", opHandler.ListCreditLedger)
	handle("GET "+base+"/payments", opHandler.ListPayments)

	handle("GET "+base+"/drafts", opHandler.ListDrafts)
	handle("POST "+base+"/drafts/decide", opHandler.DecideDraft)

	handle("GET "+base+"/tasks", opHandler.ListTasks)
	handle("GET "+base+"/tasks/sla", opHandler.TasksNearingSLA)
	handle("GET "+base+"/tasks/{id}", opHandler.GetTask)

	handle("GET "+base+"/api-keys", opHandler.ListAPIKeys)
	handle("POST "+base+"/api-keys", opHandler.CreateAPIKey)
	handle("DELETE "+base+"/api-keys/{id}", opHandler.RevokeAPIKey)

	return mux
}
