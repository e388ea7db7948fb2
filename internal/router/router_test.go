package router

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/atiendo/backend/internal/auth"
	"github.com/atiendo/backend/internal/battery"
	"github.com/atiendo/backend/internal/dispatch"
	"github.com/atiendo/backend/internal/drafts"
	"github.com/atiendo/backend/internal/models"
	"github.com/atiendo/backend/internal/operator"
)

// ---------------------------------------------------------------------------
// Mocks
// ---------------------------------------------------------------------------

// stubAuthSvc maps fixed tokens to roles.
type stubAuthSvc struct{}

func (stubAuthSvc) Register(context.Context, string, string, string, string) (*models.Account, error) {
	return nil, errors.New("not implemented")
}

func (stubAuthSvc) Login(context.Context, string, string) (string, error) {
	return "", errors.New("not implemented")
}

func (stubAuthSvc) ValidateToken(_ context.Context, token string) (uuid.UUID, string, error) {
	switch token {
	case "admin-token":
		return uuid.New(), models.RoleAdmin, nil
	case "operator-token":
		return uuid.New(), models.RoleOperator, nil
	}
	return uuid.Nil, "", errors.New("invalid token")
}

// ---------------------------------------------------------------------------
// Tests
// ---------------------------------------------------------------------------

func newTestRouter() http.Handler {
	log := slog.Default()
	bat := battery.New(5.0, nil, log)
	queue := drafts.NewQueue(log)
	disp := dispatch.New(nil, queue, log)
	opHandler := operator.NewHandler(bat, nil, queue, nil, disp, nil, nil, 0, log)
	authHandler := auth.NewHandler(stubAuthSvc{}, log)
	return New(authHandler, opHandler, stubAuthSvc{})
}

func do(h http.Handler, method, path, token, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestBatteryStatusRequiresOperatorToken(t *testing.T) {
	h := newTestRouter()

	if rec := do(h, http.MethodGet, "/api/v1/battery", "", ""); rec.Code != http.StatusUnauthorized {
		t.Errorf("no token: expected 401, got %d", rec.Code)
	}
	if rec := do(h, http.MethodGet, "/api/v1/battery", "bogus", ""); rec.Code != http.StatusUnauthorized {
		t.Errorf("bad token: expected 401, got %d", rec.Code)
	}
	rec := do(h, http.MethodGet, "/api/v1/battery", "operator-token", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("operator token: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var snap battery.Snapshot
	if err := json.Unmarshal(rec.Body.Bytes(), &snap); err != nil {
		t.Fatal(err)
	}
	if snap.DailyLimit != 5.0 {
		t.Errorf("expected daily limit 5.0, got %v", snap.DailyLimit)
	}
}

func TestRechargeRequiresAdmin(t *testing.T) {
	h := newTestRouter()
	body := `{"credits":10}`

	if rec := do(h, http.MethodPost, "/api/v1/battery/recharge", "operator-token", body); rec.Code != http.StatusForbidden {
		t.Errorf("operator: expected 403, got %d", rec.Code)
	}

	rec := do(h, http.MethodPost, "/api/v1/battery/recharge", "admin-token", body)
	if rec.Code != http.StatusOK {
		t.Fatalf("admin: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var snap battery.Snapshot
	if err := json.Unmarshal(rec.Body.Bytes(), &snap); err != nil {
		t.Fatal(err)
	}
	if snap.DailyLimit != 15.0 {
		t.Errorf("expected daily limit 15.0 after recharge, got %v", snap.DailyLimit)
	}
}

func TestRechargeBoundsSurfaceAs400(t *testing.T) {
	h := newTestRouter()
	for _, body := range []string{`{"credits":0.5}`, `{"credits":101}`} {
		if rec := do(h, http.MethodPost, "/api/v1/battery/recharge", "admin-token", body); rec.Code != http.StatusBadRequest {
			t.Errorf("body %s: expected 400, got %d", body, rec.Code)
		}
	}
}
