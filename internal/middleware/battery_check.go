package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

const ctxEstimateKey contextKey = "parsed_estimate"

// BatteryGauge is the subset of the credit battery the middleware needs.
type BatteryGauge interface {
	HasBudget(estimatedCost float64) bool
	DailyLimit() float64
}

// parsedEstimate is stored in context so the handler can read the
// estimate without re-parsing the body.
type parsedEstimate struct {
	EstimatedCost float64 `json:"estimated_cost"`
}

// EstimateFromCtx returns the estimated cost parsed by BatteryCheck,
// or 0 if not set.
func EstimateFromCtx(ctx context.Context) float64 {
	if e, ok := ctx.Value(ctxEstimateKey).(*parsedEstimate); ok {
		return e.EstimatedCost
	}
	return 0
}

// BatteryCheck peeks at the optional "estimated_cost" field on task
// creation and rejects requests that can never be served: negative
// estimates, and estimates above the daily limit (no recharge within
// bounds could cover them). A merely depleted battery does NOT reject
// here; the task is accepted and resolved with the low-battery notice.
// Reads the body and replaces r.Body so downstream handlers can re-read.
func BatteryCheck(battery BatteryGauge) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			acc := AccountFromCtx(r.Context())
			if acc == nil {
				http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
				return
			}

			bodyBytes, err := io.ReadAll(r.Body)
			r.Body.Close()
			if err != nil {
				http.Error(w, `{"error":"failed to read body"}`, http.StatusBadRequest)
				return
			}
			// Restore body for the handler.
			r.Body = io.NopCloser(bytes.NewReader(bodyBytes))

			var peek parsedEstimate
			if err := json.Unmarshal(bodyBytes, &peek); err != nil {
				http.Error(w, `{"error":"invalid JSON body"}`, http.StatusBadRequest)
				return
			}
			if peek.EstimatedCost < 0 {
				http.Error(w, `{"error":"estimated_cost must be >= 0"}`, http.StatusBadRequest)
				return
			}
			if limit := battery.DailyLimit(); peek.EstimatedCost > limit {
				http.Error(w, fmt.Sprintf(`{"error":"estimated_cost %.4f exceeds daily limit %.4f"}`, peek.EstimatedCost, limit), http.StatusForbidden)
				return
			}

			ctx := context.WithValue(r.Context(), ctxEstimateKey, &peek)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
