package app

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

	"fundroom/api/internal/auth"
)

func tokenFor(t *testing.T, role string) string {
	t.Helper()
	token, err := auth.IssueToken([]byte(testSecret), auth.NewClaims("user-"+role, "Avery", role, time.Hour))
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	return token
}

func doRequest(t *testing.T, handler http.Handler, method, path, token, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	return rr
}

func decodeJSON(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var payload map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
		t.Fatalf("parse response %q: %v", rr.Body.String(), err)
	}
	return payload
}

func TestHealthEndpoint(t *testing.T) {
	server := NewHTTPServer(newTestService(newMemStore(), Integrations{}), "*", nil)
	rr := doRequest(t, server.Handler(), http.MethodGet, "/api/health", "", "")

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	if payload := decodeJSON(t, rr); payload["ok"] != true {
		t.Fatalf("expected ok=true, got %v", payload)
	}
	if rr.Header().Get("X-Request-ID") == "" {
		t.Fatalf("expected request id header")
	}
}

func TestReadyEndpointReportsDatabaseFailure(t *testing.T) {
	st := newMemStore()
	st.pingFn = func(context.Context) error { return errors.New("connection refused") }
	server := NewHTTPServer(newTestService(st, Integrations{}), "*", nil)

	rr := doRequest(t, server.Handler(), http.MethodGet, "/api/ready", "", "")
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected status 503, got %d", rr.Code)
	}
	payload := decodeJSON(t, rr)
	if payload["status"] != "not_ready" {
		t.Fatalf("expected not_ready, got %v", payload["status"])
	}
}

func TestMetricsEndpoint(t *testing.T) {
	server := NewHTTPServer(newTestService(newMemStore(), Integrations{}), "*", nil)
	handler := server.Handler()
	doRequest(t, handler, http.MethodGet, "/api/health", "", "")

	rr := doRequest(t, handler, http.MethodGet, "/metrics", "", "")
	if rr.Code != http.StatusOK || !bytes.Contains(rr.Body.Bytes(), []byte("fundroom_http_requests_total")) {
		t.Fatalf("expected prometheus output, got %d", rr.Code)
	}
}

func TestRequestsWithoutValidTokenAreUnauthorized(t *testing.T) {
	server := NewHTTPServer(newTestService(newMemStore(), Integrations{}), "*", nil)
	expired, err := auth.IssueToken([]byte(testSecret), auth.NewClaims("user-1", "Avery", "admin", -time.Minute))
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}

	for name, token := range map[string]string{"missing": "", "garbage": "not-a-jwt", "expired": expired} {
		rr := doRequest(t, server.Handler(), http.MethodGet, "/api/templates", token, "")
		if rr.Code != http.StatusUnauthorized {
			t.Fatalf("%s token: expected 401, got %d", name, rr.Code)
		}
	}
}

func TestRolePermissions(t *testing.T) {
	st := newMemStore()
	svc := newTestService(st, Integrations{})
	existing := mustSave(t, svc, "formation_agenda", `{"chairman":"A"}`, "seed")
	server := NewHTTPServer(svc, "*", nil)

	tests := []struct {
		name   string
		role   string
		method string
		path   string
		body   string
		want   int
	}{
		{name: "viewer reads", role: "viewer", method: http.MethodGet, path: "/api/templates/formation_agenda/versions", want: http.StatusOK},
		{name: "viewer cannot save", role: "viewer", method: http.MethodPost, path: "/api/templates/formation_agenda/versions", body: `{"content":{},"description":"x"}`, want: http.StatusForbidden},
		{name: "viewer cannot activate", role: "viewer", method: http.MethodPost, path: "/api/template-versions/" + existing.ID + "/activate", want: http.StatusForbidden},
		{name: "editor cannot delete", role: "editor", method: http.MethodDelete, path: "/api/template-versions/" + existing.ID, want: http.StatusForbidden},
		{name: "unknown role is viewer", role: "owner", method: http.MethodPost, path: "/api/templates/formation_agenda/versions", body: `{"content":{},"description":"x"}`, want: http.StatusForbidden},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rr := doRequest(t, server.Handler(), tc.method, tc.path, tokenFor(t, tc.role), tc.body)
			if rr.Code != tc.want {
				t.Fatalf("expected %d, got %d body=%s", tc.want, rr.Code, rr.Body.String())
			}
			if tc.want == http.StatusForbidden && decodeJSON(t, rr)["code"] != "FORBIDDEN" {
				t.Fatalf("expected FORBIDDEN code")
			}
		})
	}
	if st.rowCount("formation_agenda") != 1 {
		t.Fatalf("forbidden requests must not write")
	}
}

func TestTemplateLifecycleOverHTTP(t *testing.T) {
	server := NewHTTPServer(newTestService(newMemStore(), Integrations{}), "*", nil)
	handler := server.Handler()
	editorToken := tokenFor(t, "editor")
	adminToken := tokenFor(t, "admin")

	rr := doRequest(t, handler, http.MethodPost, "/api/templates/formation_agenda/versions", editorToken, `{"content":{"chairman":"A"},"description":"seed"}`)
	if rr.Code != http.StatusCreated {
		t.Fatalf("save seed: %d %s", rr.Code, rr.Body.String())
	}
	seed := decodeJSON(t, rr)

	rr = doRequest(t, handler, http.MethodPost, "/api/templates/formation_agenda/versions", editorToken, `{"content":{"chairman":"B"},"description":"change chair"}`)
	second := decodeJSON(t, rr)
	if second["version"] != "1.0.1" || second["is_active"] != true || second["created_by"] != "user-editor" {
		t.Fatalf("unexpected second version %v", second)
	}

	rr = doRequest(t, handler, http.MethodGet, "/api/template-versions/diff?from="+seed["id"].(string)+"&to="+second["id"].(string), editorToken, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("diff: %d %s", rr.Code, rr.Body.String())
	}
	diffPayload := decodeJSON(t, rr)
	changes := diffPayload["changes"].([]any)
	change := changes[0].(map[string]any)
	if len(changes) != 1 || change["path"] != "chairman" || change["type"] != "modified" || change["old_value"] != "A" || change["new_value"] != "B" {
		t.Fatalf("unexpected diff %v", diffPayload)
	}

	rr = doRequest(t, handler, http.MethodPost, "/api/template-versions/"+seed["id"].(string)+"/activate", editorToken, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("activate: %d %s", rr.Code, rr.Body.String())
	}

	rr = doRequest(t, handler, http.MethodGet, "/api/templates/formation_agenda/active", editorToken, "")
	active := decodeJSON(t, rr)["active"].(map[string]any)
	if active["version"] != "1.0.0" {
		t.Fatalf("expected 1.0.0 active after rollback, got %v", active)
	}

	rr = doRequest(t, handler, http.MethodDelete, "/api/template-versions/"+seed["id"].(string), adminToken, "")
	deleted := decodeJSON(t, rr)
	if rr.Code != http.StatusOK || deleted["reactivatedVersion"] != "1.0.1" {
		t.Fatalf("unexpected delete response %d %v", rr.Code, deleted)
	}

	rr = doRequest(t, handler, http.MethodDelete, "/api/template-versions/"+second["id"].(string), adminToken, "")
	deleted = decodeJSON(t, rr)
	if _, present := deleted["reactivatedVersion"]; present {
		t.Fatalf("expected no reactivatedVersion, got %v", deleted)
	}

	rr = doRequest(t, handler, http.MethodGet, "/api/templates/formation_agenda/active", editorToken, "")
	if payload := decodeJSON(t, rr); payload["active"] != nil {
		t.Fatalf("expected null active version, got %v", payload["active"])
	}
}

func TestErrorResponses(t *testing.T) {
	server := NewHTTPServer(newTestService(newMemStore(), Integrations{}), "*", nil)
	handler := server.Handler()
	token := tokenFor(t, "admin")

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		status int
		code   string
	}{
		{name: "blank description", method: http.MethodPost, path: "/api/templates/formation_agenda/versions", body: `{"content":{},"description":" "}`, status: http.StatusUnprocessableEntity, code: "VALIDATION_ERROR"},
		{name: "bad json", method: http.MethodPost, path: "/api/templates/formation_agenda/versions", body: `{"content":`, status: http.StatusBadRequest, code: "INVALID_BODY"},
		{name: "unknown version", method: http.MethodGet, path: "/api/template-versions/tv_missing", status: http.StatusNotFound, code: "NOT_FOUND"},
		{name: "activate unknown", method: http.MethodPost, path: "/api/template-versions/tv_missing/activate", status: http.StatusNotFound, code: "NOT_FOUND"},
		{name: "wrong method", method: http.MethodPut, path: "/api/templates/formation_agenda/versions", status: http.StatusMethodNotAllowed, code: "METHOD_NOT_ALLOWED"},
		{name: "unknown route", method: http.MethodGet, path: "/api/unknown", status: http.StatusNotFound, code: "NOT_FOUND"},
		{name: "bad limit", method: http.MethodGet, path: "/api/search?q=x&limit=ten", status: http.StatusUnprocessableEntity, code: "VALIDATION_ERROR"},
		{name: "render without renderer", method: http.MethodPost, path: "/api/templates/formation_agenda/render", body: `{"content":{}}`, status: http.StatusServiceUnavailable, code: "RENDERER_UNAVAILABLE"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rr := doRequest(t, handler, tc.method, tc.path, token, tc.body)
			if rr.Code != tc.status {
				t.Fatalf("expected %d, got %d body=%s", tc.status, rr.Code, rr.Body.String())
			}
			if payload := decodeJSON(t, rr); payload["code"] != tc.code {
				t.Fatalf("expected code %s, got %v", tc.code, payload["code"])
			}
		})
	}
}

func TestRenderEndpointStreamsDocument(t *testing.T) {
	svc := newTestService(newMemStore(), Integrations{Renderer: &fakeRenderer{}})
	server := NewHTTPServer(svc, "*", nil)

	rr := doRequest(t, server.Handler(), http.MethodPost, "/api/templates/formation_agenda/render", tokenFor(t, "viewer"), `{"content":{"title":"Draft"},"data":{"name":"Fund"}}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("render: %d %s", rr.Code, rr.Body.String())
	}
	if got := rr.Header().Get("Content-Type"); got != "application/pdf" {
		t.Fatalf("unexpected content type %q", got)
	}
	if got := rr.Header().Get("Content-Disposition"); got != `attachment; filename="formation_agenda.pdf"` {
		t.Fatalf("unexpected disposition %q", got)
	}
	if rr.Header().Get("X-Render-Cache") != "miss" || rr.Body.String() != `doc:{"title":"Draft"}` {
		t.Fatalf("unexpected body %q", rr.Body.String())
	}
}

func TestOversizedBodyIsRejected(t *testing.T) {
	st := newMemStore()
	server := NewHTTPServer(newTestService(st, Integrations{}), "*", nil)
	body := `{"description":"huge","content":{"notes":"` + strings.Repeat("x", maxBodyBytes) + `"}}`

	rr := doRequest(t, server.Handler(), http.MethodPost, "/api/templates/formation_agenda/versions", tokenFor(t, "editor"), body)
	if rr.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413, got %d", rr.Code)
	}
	if payload := decodeJSON(t, rr); payload["code"] != "BODY_TOO_LARGE" {
		t.Fatalf("expected BODY_TOO_LARGE, got %v", payload["code"])
	}
	if st.rowCount("formation_agenda") != 0 {
		t.Fatalf("oversized request must not write")
	}
}

func TestHistoryAtRevisionReturnsMirroredContent(t *testing.T) {
	svc := newTestService(newMemStore(), Integrations{Archive: &fakeArchive{}})
	mustSave(t, svc, "formation_agenda", `{"chairman":"A"}`, "seed")
	mustSave(t, svc, "formation_agenda", `{"chairman":"B"}`, "edit")
	handler := NewHTTPServer(svc, "*", nil).Handler()
	token := tokenFor(t, "viewer")

	rr := doRequest(t, handler, http.MethodGet, "/api/templates/formation_agenda/history?at=v1.0.0", token, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("history at: %d %s", rr.Code, rr.Body.String())
	}
	payload := decodeJSON(t, rr)
	if payload["revision"] != "v1.0.0" || payload["content"].(map[string]any)["chairman"] != "A" {
		t.Fatalf("unexpected revision payload %v", payload)
	}

	rr = doRequest(t, handler, http.MethodGet, "/api/templates/formation_agenda/history?at=3.0.0", token, "")
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown revision, got %d", rr.Code)
	}

	rr = doRequest(t, handler, http.MethodGet, "/api/templates/formation_agenda/history", token, "")
	if rr.Code != http.StatusOK || len(decodeJSON(t, rr)["history"].([]any)) != 2 {
		t.Fatalf("expected two history entries, got %d %s", rr.Code, rr.Body.String())
	}
}
