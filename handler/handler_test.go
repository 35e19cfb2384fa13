package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/phbpx/leadtrack"
	"github.com/phbpx/leadtrack/auth"
	"github.com/phbpx/leadtrack/memory"
	"github.com/phbpx/leadtrack/render"
	"github.com/phbpx/leadtrack/service"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.uber.org/zap"
)

type testAPI struct {
	handler http.Handler
	store   *memory.Store
	authn   *auth.Authenticator
	admin   leadtrack.User
	other   leadtrack.User
	super   leadtrack.User
}

func newTestAPI(t *testing.T) testAPI {
	t.Helper()
	ctx := context.Background()
	store := memory.NewStore()

	hash, err := auth.HashPassword("pa55word")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	save := func(name, email string, role leadtrack.Role) leadtrack.User {
		u, err := store.SaveUser(ctx, leadtrack.User{Name: name, Email: email, Role: role, PasswordHash: hash})
		if err != nil {
			t.Fatalf("save: %v", err)
		}
		return u
	}

	authn, err := auth.New("0123456789abcdef0123", time.Hour)
	if err != nil {
		t.Fatalf("auth: %v", err)
	}

	log := zap.NewNop().Sugar()
	api := testAPI{
		store: store,
		authn: authn,
		admin: save("Asha", "asha@example.com", leadtrack.RoleAdmin),
		other: save("Bala", "bala@example.com", leadtrack.RoleAdmin),
		super: save("Chitra", "chitra@example.com", leadtrack.RoleSuperAdmin),
	}
	api.handler = NewRouter(Config{
		ServerName: "test",
		Leads:      service.NewLeadService(store, store, nil, log, service.LeadConfig{}),
		Reports: service.NewReportService(store, store, map[string]render.Renderer{
			"csv": render.CSV{},
		}, log, time.UTC),
		Users: store,
		Auth:  authn,
		Log:   otelzap.New(zap.NewNop()).Sugar(),
	})
	return api
}

func (a testAPI) token(t *testing.T, u leadtrack.User) string {
	t.Helper()
	tok, err := a.authn.Issue(u)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	return tok
}

func (a testAPI) do(t *testing.T, method, path string, as *leadtrack.User, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if s, ok := body.(string); ok {
			buf.WriteString(s)
		} else if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if as != nil {
		req.Header.Set("Authorization", "Bearer "+a.token(t, *as))
	}
	rr := httptest.NewRecorder()
	a.handler.ServeHTTP(rr, req)
	return rr
}

type response struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Count   *int            `json:"count"`
	Data    json.RawMessage `json:"data"`
}

func decodeResponse(t *testing.T, rr *httptest.ResponseRecorder) response {
	t.Helper()
	var r response
	if err := json.Unmarshal(rr.Body.Bytes(), &r); err != nil {
		t.Fatalf("decode %q: %v", rr.Body.String(), err)
	}
	return r
}

func leadBody() map[string]interface{} {
	return map[string]interface{}{
		"customerName":  "Doe, John",
		"mobileNumber":  "9876543210",
		"panNumber":     "abcde1234f",
		"nationalId":    "123456789012",
		"monthlyIncome": "55000.50",
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{leadtrack.Invalidf("bad"), http.StatusBadRequest},
		{&leadtrack.ConflictError{}, http.StatusConflict},
		{leadtrack.ErrLeadNotFound, http.StatusNotFound},
		{leadtrack.ErrInvalidReferral, http.StatusNotFound},
		{leadtrack.ErrForbidden, http.StatusForbidden},
		{leadtrack.ErrUnauthorized, http.StatusUnauthorized},
		{errors.New("db down"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := statusFor(tt.err); got != tt.want {
			t.Errorf("statusFor(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}

func TestAuthGate(t *testing.T) {
	api := newTestAPI(t)

	rr := api.do(t, http.MethodGet, "/leads", nil, nil)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("no token: got %d", rr.Code)
	}
	if r := decodeResponse(t, rr); r.Success || r.Message == "" {
		t.Fatalf("error envelope = %+v", r)
	}

	req := httptest.NewRequest(http.MethodGet, "/leads", nil)
	req.Header.Set("Authorization", "Bearer nope")
	rr = httptest.NewRecorder()
	api.handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("bad token: got %d", rr.Code)
	}
}

func TestLogin(t *testing.T) {
	api := newTestAPI(t)

	rr := api.do(t, http.MethodPost, "/auth/login", nil, map[string]string{"email": "asha@example.com", "password": "pa55word"})
	if rr.Code != http.StatusOK {
		t.Fatalf("login: got %d %s", rr.Code, rr.Body)
	}
	var data struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(decodeResponse(t, rr).Data, &data); err != nil || data.Token == "" {
		t.Fatalf("no token in %s", rr.Body)
	}

	rr = api.do(t, http.MethodPost, "/auth/login", nil, map[string]string{"email": "asha@example.com", "password": "wrong"})
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("wrong password: got %d", rr.Code)
	}

	rr = api.do(t, http.MethodPost, "/auth/login", nil, map[string]string{"email": "not-an-email", "password": "x"})
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("bad email: got %d", rr.Code)
	}
}

func TestCreateLead(t *testing.T) {
	api := newTestAPI(t)

	rr := api.do(t, http.MethodPost, "/leads", &api.admin, leadBody())
	if rr.Code != http.StatusCreated {
		t.Fatalf("create: got %d %s", rr.Code, rr.Body)
	}
	var lead leadtrack.Lead
	if err := json.Unmarshal(decodeResponse(t, rr).Data, &lead); err != nil {
		t.Fatalf("decode lead: %v", err)
	}
	if lead.PANNumber != "ABCDE1234F" || lead.CreatedBy.Email != api.admin.Email {
		t.Fatalf("lead = %+v", lead)
	}
	if !lead.MonthlyIncome.Valid || lead.MonthlyIncome.Decimal.String() != "55000.5" {
		t.Fatalf("income = %+v", lead.MonthlyIncome)
	}

	rr = api.do(t, http.MethodPost, "/leads", &api.other, leadBody())
	if rr.Code != http.StatusConflict {
		t.Fatalf("duplicate: got %d %s", rr.Code, rr.Body)
	}
	if msg := decodeResponse(t, rr).Message; !strings.Contains(msg, "Asha (asha@example.com)") {
		t.Fatalf("conflict message = %q", msg)
	}

	bad := leadBody()
	bad["panNumber"] = "ABCDE12345"
	rr = api.do(t, http.MethodPost, "/leads", &api.admin, bad)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("bad PAN: got %d", rr.Code)
	}

	rr = api.do(t, http.MethodPost, "/leads", &api.admin, "{not json")
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("bad JSON: got %d", rr.Code)
	}
}

func TestCreateFromLink(t *testing.T) {
	api := newTestAPI(t)

	body := leadBody()
	body["nationalId"] = "1234567890123456"
	rr := api.do(t, http.MethodPost, "/leads/link/"+api.admin.ID, nil, body)
	if rr.Code != http.StatusCreated {
		t.Fatalf("link create: got %d %s", rr.Code, rr.Body)
	}

	body["panNumber"] = "QWERT1234Y"
	body["nationalId"] = "6543210987654321"
	rr = api.do(t, http.MethodPost, "/leads/link/unknown", nil, body)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("unknown referrer: got %d", rr.Code)
	}
}

func TestListUpdateDelete(t *testing.T) {
	api := newTestAPI(t)

	rr := api.do(t, http.MethodPost, "/leads", &api.admin, leadBody())
	var lead leadtrack.Lead
	json.Unmarshal(decodeResponse(t, rr).Data, &lead)

	rr = api.do(t, http.MethodGet, "/leads", &api.other, nil)
	if r := decodeResponse(t, rr); rr.Code != http.StatusOK || r.Count == nil || *r.Count != 0 {
		t.Fatalf("other admin list: %d %s", rr.Code, rr.Body)
	}
	rr = api.do(t, http.MethodGet, "/leads", &api.super, nil)
	if r := decodeResponse(t, rr); r.Count == nil || *r.Count != 1 {
		t.Fatalf("super admin list: %s", rr.Body)
	}

	patch := map[string]string{"status": "Rejected", "rejectionReason": "Low Income"}
	rr = api.do(t, http.MethodPut, "/leads/"+lead.ID, &api.other, patch)
	if rr.Code != http.StatusForbidden {
		t.Fatalf("foreign update: got %d", rr.Code)
	}
	rr = api.do(t, http.MethodPut, "/leads/"+lead.ID, &api.admin, patch)
	if rr.Code != http.StatusOK {
		t.Fatalf("update: got %d %s", rr.Code, rr.Body)
	}
	var updated leadtrack.Lead
	json.Unmarshal(decodeResponse(t, rr).Data, &updated)
	if updated.Status != leadtrack.StatusRejected || len(updated.EditHistory) != 1 {
		t.Fatalf("updated = %+v", updated)
	}

	rr = api.do(t, http.MethodGet, "/leads/not-a-uuid", &api.admin, nil)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("bad id: got %d", rr.Code)
	}

	rr = api.do(t, http.MethodDelete, "/leads/"+lead.ID, &api.super, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("delete: got %d", rr.Code)
	}
	rr = api.do(t, http.MethodGet, "/leads/"+lead.ID, &api.super, nil)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("deleted lead: got %d", rr.Code)
	}
}

func TestUpdateClearsIncomeOnNull(t *testing.T) {
	api := newTestAPI(t)

	rr := api.do(t, http.MethodPost, "/leads", &api.admin, leadBody())
	var lead leadtrack.Lead
	json.Unmarshal(decodeResponse(t, rr).Data, &lead)

	tests := []struct {
		name  string
		body  string
		valid bool
	}{
		{"absent key keeps income", `{"customerName": "Doe, Jane"}`, true},
		{"new value", `{"monthlyIncome": "61000"}`, true},
		{"null clears income", `{"monthlyIncome": null}`, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := api.do(t, http.MethodPut, "/leads/"+lead.ID, &api.admin, tt.body)
			if rr.Code != http.StatusOK {
				t.Fatalf("update: got %d %s", rr.Code, rr.Body)
			}
			var updated leadtrack.Lead
			json.Unmarshal(decodeResponse(t, rr).Data, &updated)
			if updated.MonthlyIncome.Valid != tt.valid {
				t.Fatalf("income = %+v, want valid=%v", updated.MonthlyIncome, tt.valid)
			}
		})
	}

	rr = api.do(t, http.MethodGet, "/leads/"+lead.ID, &api.admin, nil)
	var stored leadtrack.Lead
	json.Unmarshal(decodeResponse(t, rr).Data, &stored)
	if stored.MonthlyIncome.Valid {
		t.Fatalf("stored income = %+v, want cleared", stored.MonthlyIncome)
	}
}

func TestReports(t *testing.T) {
	api := newTestAPI(t)
	api.do(t, http.MethodPost, "/leads", &api.admin, leadBody())

	rr := api.do(t, http.MethodGet, "/reports/dashboard", &api.admin, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("dashboard: got %d", rr.Code)
	}
	var stats service.DashboardStats
	json.Unmarshal(decodeResponse(t, rr).Data, &stats)
	if stats.TotalLeads != 1 {
		t.Fatalf("stats = %+v", stats)
	}

	today := time.Now().UTC().Format("2006-01-02")
	rr = api.do(t, http.MethodPost, "/reports/download", &api.admin, map[string]string{"startDate": today, "endDate": today})
	if rr.Code != http.StatusOK {
		t.Fatalf("download: got %d %s", rr.Code, rr.Body)
	}
	if ct := rr.Header().Get("Content-Type"); ct != render.ContentTypeCSV {
		t.Fatalf("content type = %q", ct)
	}
	if cd := rr.Header().Get("Content-Disposition"); !strings.HasPrefix(cd, "attachment;") {
		t.Fatalf("content disposition = %q", cd)
	}
	if !strings.Contains(rr.Body.String(), `"Doe, John"`) {
		t.Fatalf("body = %s", rr.Body)
	}

	rr = api.do(t, http.MethodPost, "/reports/download", &api.admin, map[string]string{"startDate": "yesterday", "endDate": today})
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("bad date: got %d", rr.Code)
	}
}

func TestHealth(t *testing.T) {
	api := newTestAPI(t)
	rr := api.do(t, http.MethodGet, "/health", nil, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("health: got %d", rr.Code)
	}
}

func TestCORSCredentials(t *testing.T) {
	tests := []struct {
		name    string
		origins []string
		want    string
	}{
		{"default origins", nil, ""},
		{"wildcard", []string{"*"}, ""},
		{"wildcard subdomain", []string{"https://*.example.com"}, ""},
		{"explicit origin", []string{"https://app.example.com"}, "true"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewRouter(Config{
				ServerName:     "test",
				AllowedOrigins: tt.origins,
				Log:            otelzap.New(zap.NewNop()).Sugar(),
			})
			req := httptest.NewRequest(http.MethodGet, "/health", nil)
			req.Header.Set("Origin", "https://app.example.com")
			rr := httptest.NewRecorder()
			h.ServeHTTP(rr, req)

			if rr.Code != http.StatusOK {
				t.Fatalf("health: got %d", rr.Code)
			}
			if got := rr.Header().Get("Access-Control-Allow-Credentials"); got != tt.want {
				t.Fatalf("allow credentials = %q, want %q", got, tt.want)
			}
		})
	}
}
