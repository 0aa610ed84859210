package http

import (
	"bytes"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/goccy/go-json"
	"github.com/gofiber/fiber/v2"

	"unibox_server/adapter/out/persistence"
	"unibox_server/adapter/out/provider"
	"unibox_server/core/service/session"
	"unibox_server/infra/middleware"
)

// newTestApp builds a Fiber app over an in-memory session store, mirroring
// the production route layout. mockMode mirrors the MOCK_PROVIDER flag.
func newTestApp(t *testing.T, mockMode bool) *fiber.App {
	t.Helper()

	store := persistence.NewMemoryStore()
	sessions := session.NewManager(store, mockMode)
	factory := provider.NewFactory(&provider.FactoryConfig{
		Gmail:    &provider.GmailConfig{ClientID: "gid", ClientSecret: "gs"},
		Outlook:  &provider.OutlookConfig{ClientID: "oid", ClientSecret: "os"},
		MockMode: mockMode,
	})

	app := fiber.New(fiber.Config{
		ErrorHandler: middleware.ErrorHandler(),
		JSONEncoder:  json.Marshal,
		JSONDecoder:  json.Unmarshal,
	})
	app.Use(middleware.RequestID())

	NewHealthHandler(store).Register(app)
	NewAuthHandler(factory, sessions).Register(app)
	NewEmailHandler(factory, sessions, 500).Register(app)
	NewSessionHandler(sessions).Register(app)

	return app
}

func doRequest(t *testing.T, app *fiber.App, method, target string, body interface{}) (*http.Response, map[string]interface{}) {
	t.Helper()
	return doRequestWithHeaders(t, app, method, target, body, nil)
}

func doRequestWithHeaders(t *testing.T, app *fiber.App, method, target string, body interface{}, headers map[string]string) (*http.Response, map[string]interface{}) {
	t.Helper()

	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal request body: %v", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req := httptest.NewRequest(method, target, reqBody)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := app.Test(req, -1)
	if err != nil {
		t.Fatalf("app.Test(%s %s) error = %v", method, target, err)
	}

	var parsed map[string]interface{}
	data, _ := io.ReadAll(resp.Body)
	if len(data) > 0 {
		if err := json.Unmarshal(data, &parsed); err != nil {
			t.Fatalf("unmarshal response %q: %v", data, err)
		}
	}
	return resp, parsed
}

// authenticate runs the mock OAuth flow so session-backed routes work.
func authenticate(t *testing.T, app *fiber.App) {
	t.Helper()

	resp, _ := doRequest(t, app, "GET", "/mock/auth", nil)
	if resp.StatusCode != 200 {
		t.Fatalf("GET /mock/auth status = %d, want 200", resp.StatusCode)
	}
	resp, _ = doRequest(t, app, "GET", "/mock/auth/callback?code=test-code", nil)
	if resp.StatusCode != 200 {
		t.Fatalf("GET /mock/auth/callback status = %d, want 200", resp.StatusCode)
	}
}

func TestUnknownServiceReturns400(t *testing.T) {
	app := newTestApp(t, true)

	for _, target := range []string{"/yahoo/auth", "/yahoo/emails", "/yahoo/folders"} {
		t.Run(target, func(t *testing.T) {
			resp, body := doRequest(t, app, "GET", target, nil)
			if resp.StatusCode != 400 {
				t.Fatalf("GET %s status = %d, want 400", target, resp.StatusCode)
			}
			errObj, _ := body["error"].(map[string]interface{})
			if errObj["code"] != "unsupported_service" {
				t.Errorf("error code = %v, want unsupported_service", errObj["code"])
			}
		})
	}
}

func TestMockServiceRequiresMockMode(t *testing.T) {
	app := newTestApp(t, false)

	resp, body := doRequest(t, app, "GET", "/mock/auth", nil)
	if resp.StatusCode != 400 {
		t.Fatalf("GET /mock/auth status = %d without mock mode, want 400", resp.StatusCode)
	}
	errObj, _ := body["error"].(map[string]interface{})
	if errObj["code"] != "unsupported_service" {
		t.Errorf("error code = %v, want unsupported_service", errObj["code"])
	}

	resp, _ = doRequest(t, app, "POST", "/session/service", map[string]string{"service": "mock"})
	if resp.StatusCode != 400 {
		t.Errorf("POST /session/service mock status = %d without mock mode, want 400", resp.StatusCode)
	}

	mockApp := newTestApp(t, true)
	resp, _ = doRequest(t, mockApp, "GET", "/mock/auth", nil)
	if resp.StatusCode != 200 {
		t.Errorf("GET /mock/auth status = %d with mock mode, want 200", resp.StatusCode)
	}
}

func TestBeginAuthReturnsAuthURL(t *testing.T) {
	app := newTestApp(t, true)

	resp, body := doRequest(t, app, "GET", "/mock/auth", nil)
	if resp.StatusCode != 200 {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	data, _ := body["data"].(map[string]interface{})
	authURL, _ := data["auth_url"].(string)
	if authURL == "" {
		t.Error("auth_url missing from response")
	}
	if data["service"] != "mock" {
		t.Errorf("service = %v, want mock", data["service"])
	}
}

func TestCallbackReturnsTokenPair(t *testing.T) {
	app := newTestApp(t, true)

	resp, body := doRequest(t, app, "GET", "/mock/auth/callback?code=test-code", nil)
	if resp.StatusCode != 200 {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if body["success"] != true {
		t.Errorf("success = %v, want true", body["success"])
	}
	data, _ := body["data"].(map[string]interface{})
	if token, _ := data["accessToken"].(string); token == "" {
		t.Error("accessToken missing from callback response")
	}
	if token, _ := data["refreshToken"].(string); token == "" {
		t.Error("refreshToken missing from callback response")
	}
	if data["service"] != "mock" {
		t.Errorf("service = %v, want mock", data["service"])
	}
}

func TestCallbackUnknownService(t *testing.T) {
	app := newTestApp(t, true)

	resp, _ := doRequest(t, app, "GET", "/yahoo/auth/callback?code=abc", nil)
	if resp.StatusCode != 400 {
		t.Errorf("status = %d, want 400 for unknown service", resp.StatusCode)
	}
}

func TestCallbackMissingCode(t *testing.T) {
	app := newTestApp(t, true)

	resp, _ := doRequest(t, app, "GET", "/mock/auth/callback", nil)
	if resp.StatusCode != 400 {
		t.Errorf("status = %d, want 400 for missing code", resp.StatusCode)
	}
}

func TestEmailRoutesRequireAuthentication(t *testing.T) {
	app := newTestApp(t, true)

	for _, target := range []string{"/mock/emails", "/mock/emails/mock-1", "/mock/folders", "/mock/profile"} {
		resp, _ := doRequest(t, app, "GET", target, nil)
		if resp.StatusCode != 401 {
			t.Errorf("GET %s status = %d, want 401 without a session", target, resp.StatusCode)
		}
	}
}

func TestEmailRoutesRejectServiceMismatch(t *testing.T) {
	app := newTestApp(t, true)
	authenticate(t, app)

	// The session is bound to mock; gmail routes must not reuse its pair.
	resp, _ := doRequest(t, app, "GET", "/gmail/emails", nil)
	if resp.StatusCode != 401 {
		t.Errorf("status = %d for a service the session is not bound to, want 401", resp.StatusCode)
	}
}

func TestEmailRoutesAcceptHeaderBearer(t *testing.T) {
	app := newTestApp(t, true)

	// No session; the Authorization header alone must carry the request.
	resp, body := doRequestWithHeaders(t, app, "GET", "/mock/emails", nil,
		map[string]string{"Authorization": "Bearer header-token"})
	if resp.StatusCode != 200 {
		t.Fatalf("status = %d with bearer header, want 200", resp.StatusCode)
	}
	data, _ := body["data"].([]interface{})
	if len(data) != 4 {
		t.Errorf("got %d emails, want 4 fixtures", len(data))
	}

	resp, _ = doRequestWithHeaders(t, app, "GET", "/mock/emails", nil,
		map[string]string{"Authorization": "Basic dXNlcjpwdw=="})
	if resp.StatusCode != 401 {
		t.Errorf("status = %d for non-bearer scheme, want 401", resp.StatusCode)
	}
}

func TestListEmails(t *testing.T) {
	app := newTestApp(t, true)
	authenticate(t, app)

	resp, body := doRequest(t, app, "GET", "/mock/emails", nil)
	if resp.StatusCode != 200 {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	data, _ := body["data"].([]interface{})
	if len(data) != 4 {
		t.Errorf("got %d emails, want 4 fixtures", len(data))
	}
	meta, _ := body["meta"].(map[string]interface{})
	if meta["service"] != "mock" {
		t.Errorf("meta.service = %v, want mock", meta["service"])
	}
}

func TestListEmailsWithFilter(t *testing.T) {
	app := newTestApp(t, true)
	authenticate(t, app)

	resp, body := doRequest(t, app, "GET", "/mock/emails?filter=weekend", nil)
	if resp.StatusCode != 200 {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	data, _ := body["data"].([]interface{})
	if len(data) != 1 {
		t.Fatalf("got %d emails for filter, want 1", len(data))
	}
	first, _ := data[0].(map[string]interface{})
	if first["subject"] != "Weekend plans" {
		t.Errorf("subject = %v, want Weekend plans", first["subject"])
	}
}

func TestListEmailsExplicitZeroLimit(t *testing.T) {
	app := newTestApp(t, true)
	authenticate(t, app)

	resp, body := doRequest(t, app, "GET", "/mock/emails?limit=0", nil)
	if resp.StatusCode != 200 {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	data, _ := body["data"].([]interface{})
	if len(data) != 0 {
		t.Errorf("got %d emails for limit=0, want 0", len(data))
	}
}

func TestGetEmailByID(t *testing.T) {
	app := newTestApp(t, true)
	authenticate(t, app)

	resp, body := doRequest(t, app, "GET", "/mock/emails/mock-2", nil)
	if resp.StatusCode != 200 {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	data, _ := body["data"].(map[string]interface{})
	if data["subject"] != "Quarterly report draft" {
		t.Errorf("subject = %v", data["subject"])
	}

	resp, _ = doRequest(t, app, "GET", "/mock/emails/nonexistent", nil)
	if resp.StatusCode != 404 {
		t.Errorf("status = %d for unknown id, want 404", resp.StatusCode)
	}
}

func TestSendEmail(t *testing.T) {
	app := newTestApp(t, true)
	authenticate(t, app)

	resp, body := doRequest(t, app, "POST", "/mock/emails", map[string]interface{}{
		"to":      []string{"someone@example.com"},
		"subject": "hello",
		"body":    "world",
	})
	if resp.StatusCode != 201 {
		t.Fatalf("status = %d, want 201", resp.StatusCode)
	}
	data, _ := body["data"].(map[string]interface{})
	if data["success"] != true {
		t.Errorf("success = %v, want true", data["success"])
	}
	if id, _ := data["id"].(string); id == "" {
		t.Error("send result id is empty")
	}
}

func TestSendEmailValidation(t *testing.T) {
	app := newTestApp(t, true)
	authenticate(t, app)

	tests := []struct {
		name string
		body map[string]interface{}
	}{
		{"missing recipients", map[string]interface{}{"subject": "s", "body": "b"}},
		{"missing subject", map[string]interface{}{"to": []string{"a@example.com"}, "body": "b"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, _ := doRequest(t, app, "POST", "/mock/emails", tt.body)
			if resp.StatusCode != 400 {
				t.Errorf("status = %d, want 400", resp.StatusCode)
			}
		})
	}
}

func TestMarkAsRead(t *testing.T) {
	app := newTestApp(t, true)
	authenticate(t, app)

	resp, body := doRequest(t, app, "PATCH", "/mock/emails/mock-1/read", nil)
	if resp.StatusCode != 200 {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	data, _ := body["data"].(map[string]interface{})
	if data["success"] != true {
		t.Errorf("success = %v, want true", data["success"])
	}

	// Unknown ids report failure in the payload, not an error status.
	resp, body = doRequest(t, app, "PATCH", "/mock/emails/missing/read", nil)
	if resp.StatusCode != 200 {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	data, _ = body["data"].(map[string]interface{})
	if data["success"] != false {
		t.Errorf("success = %v for unknown id, want false", data["success"])
	}
}

func TestListFolders(t *testing.T) {
	app := newTestApp(t, true)
	authenticate(t, app)

	resp, body := doRequest(t, app, "GET", "/mock/folders", nil)
	if resp.StatusCode != 200 {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	data, _ := body["data"].([]interface{})
	if len(data) != 3 {
		t.Errorf("got %d folders, want 3", len(data))
	}
}

func TestGetProfile(t *testing.T) {
	app := newTestApp(t, true)
	authenticate(t, app)

	resp, body := doRequest(t, app, "GET", "/mock/profile", nil)
	if resp.StatusCode != 200 {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	data, _ := body["data"].(map[string]interface{})
	if data["email"] != "mock.user@example.com" {
		t.Errorf("email = %v", data["email"])
	}
}

func TestSessionLifecycle(t *testing.T) {
	app := newTestApp(t, true)

	resp, body := doRequest(t, app, "GET", "/session", nil)
	if resp.StatusCode != 200 {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	data, _ := body["data"].(map[string]interface{})
	if data["authenticated"] != false {
		t.Errorf("authenticated = %v on fresh session, want false", data["authenticated"])
	}

	authenticate(t, app)

	_, body = doRequest(t, app, "GET", "/session", nil)
	data, _ = body["data"].(map[string]interface{})
	if data["authenticated"] != true || data["service"] != "mock" {
		t.Errorf("session = %v, want authenticated mock", data)
	}

	resp, _ = doRequest(t, app, "DELETE", "/session/tokens", nil)
	if resp.StatusCode != 204 {
		t.Fatalf("DELETE /session/tokens status = %d, want 204", resp.StatusCode)
	}

	_, body = doRequest(t, app, "GET", "/session", nil)
	data, _ = body["data"].(map[string]interface{})
	if data["authenticated"] != false {
		t.Error("authenticated = true after token clear")
	}
	if data["service"] != "mock" {
		t.Errorf("service = %v after token clear, want mock kept", data["service"])
	}
}

func TestSetSessionService(t *testing.T) {
	app := newTestApp(t, true)

	resp, _ := doRequest(t, app, "POST", "/session/service", map[string]string{"service": "gmail"})
	if resp.StatusCode != 200 {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	resp, _ = doRequest(t, app, "POST", "/session/service", map[string]string{"service": "yahoo"})
	if resp.StatusCode != 400 {
		t.Errorf("status = %d for unknown service, want 400", resp.StatusCode)
	}
}

func TestHealth(t *testing.T) {
	app := newTestApp(t, true)

	resp, body := doRequest(t, app, "GET", "/health", nil)
	if resp.StatusCode != 200 {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	data, _ := body["data"].(map[string]interface{})
	if data["status"] != "ok" || data["token_store"] != "ok" {
		t.Errorf("health = %v", data)
	}
}
