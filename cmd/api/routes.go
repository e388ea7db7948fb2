package main

import (
	"log/slog"
	"net/http"

	"github.com/atiendo/backend/internal/auth"
	"github.com/atiendo/backend/internal/battery"
	"github.com/atiendo/backend/internal/handlers"
	"github.com/atiendo/backend/internal/intake"
	"github.com/atiendo/backend/internal/middleware"
	"github.com/atiendo/backend/internal/orchestrator"
)

// RegisterV1Routes adds the /v1/tasks endpoints to the given mux.
// Middleware chain: APIKeyAuth -> (BatteryCheck on POST /v1/tasks only) -> handler.
func RegisterV1Routes(
	mux *http.ServeMux,
	orch *orchestrator.Orchestrator,
	validator *intake.Validator,
	apiKeyRepo *auth.APIKeyRepository,
	bat *battery.Battery,
	logger *slog.Logger,
) {
	th := &handlers.TaskHandler{
		Service:   orch,
		Validator: validator,
		Logger:    logger,
	}

	keyAuth := middleware.APIKeyAuth(apiKeyRepo)
	batteryGate := middleware.BatteryCheck(bat)

	// POST /v1/tasks — Auth -> Battery gate -> CreateTask (ack + async generation)
	mux.Handle("POST /v1/tasks", keyAuth(batteryGate(http.HandlerFunc(th.CreateTask))))

	mux.Handle("GET /v1/tasks/{id}", keyAuth(http.HandlerFunc(th.GetTask)))
	mux.Handle("POST /v1/tasks/{id}/clarification", keyAuth(http.HandlerFunc(th.ProvideClarification)))
	mux.Handle("POST /v1/tasks/{id}/approve", keyAuth(http.HandlerFunc(th.ApproveDraft)))
	mux.Handle("POST /v1/tasks/{id}/reject", keyAuth(http.HandlerFunc(th.RejectDraft)))
	mux.Handle("POST /v1/tasks/{id}/deliver", keyAuth(http.HandlerFunc(th.Deliver)))
}
