package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestLoginIssuesValidToken(t *testing.T) {
	handler, _ := newTestRouter(t)

	body := bytes.NewBufferString(`{"username":"admin","password":"password"}`)
	request := httptest.NewRequest(http.MethodPost, "/api/login", body)
	request.Header.Set("Content-Type", "application/json")
	response := doRequest(t, handler, request)

	if response.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", response.Code, response.Body.String())
	}

	var payload struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(response.Body.Bytes(), &payload); err != nil {
		t.Fatalf("failed to decode login response: %v", err)
	}
	if payload.Token == "" {
		t.Fatalf("expected a token in the login response")
	}

	subject, err := newTestTokens().ValidateToken(payload.Token)
	if err != nil {
		t.Fatalf("issued token failed validation: %v", err)
	}
	if subject != "admin" {
		t.Fatalf("expected subject admin, got %q", subject)
	}
}

func TestLoginRejectsWrongPassword(t *testing.T) {
	handler, _ := newTestRouter(t)

	body := bytes.NewBufferString(`{"username":"admin","password":"nope"}`)
	request := httptest.NewRequest(http.MethodPost, "/api/login", body)
	request.Header.Set("Content-Type", "application/json")
	response := doRequest(t, handler, request)

	if response.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401, got %d", response.Code)
	}
	if !strings.Contains(response.Body.String(), "Invalid credentials") {
		t.Fatalf("expected invalid credentials message, got %s", response.Body.String())
	}
}

func TestLoginRejectsMalformedBody(t *testing.T) {
	handler, _ := newTestRouter(t)

	request := httptest.NewRequest(http.MethodPost, "/api/login", bytes.NewBufferString("not json"))
	request.Header.Set("Content-Type", "application/json")
	response := doRequest(t, handler, request)

	if response.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", response.Code)
	}
}

func TestProtectedRoutesRequireBearerToken(t *testing.T) {
	handler, _ := newTestRouter(t)

	request := httptest.NewRequest(http.MethodGet, "/api/clients", nil)
	response := doRequest(t, handler, request)
	if response.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401 without a token, got %d", response.Code)
	}

	request = httptest.NewRequest(http.MethodGet, "/api/clients", nil)
	request.Header.Set("Authorization", "Bearer not-a-real-token")
	response = doRequest(t, handler, request)
	if response.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401 for a bogus token, got %d", response.Code)
	}
}

func TestHealthzIsPublic(t *testing.T) {
	handler, _ := newTestRouter(t)

	response := doRequest(t, handler, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if response.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", response.Code)
	}
	if !strings.Contains(response.Body.String(), "ok") {
		t.Fatalf("unexpected healthz body: %s", response.Body.String())
	}
}

func TestMetricsEndpointReportsRequestCounts(t *testing.T) {
	handler, _ := newTestRouter(t)

	doRequest(t, handler, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	response := doRequest(t, handler, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if response.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", response.Code)
	}
	if !strings.Contains(response.Body.String(), "clientbook_http_requests_total") {
		t.Fatalf("expected request counter in metrics output")
	}
}

func TestRequestIDHeaderIsSet(t *testing.T) {
	handler, _ := newTestRouter(t)

	response := doRequest(t, handler, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if response.Header().Get("X-Request-ID") == "" {
		t.Fatalf("expected an X-Request-ID header on the response")
	}
}
