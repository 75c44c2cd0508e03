package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"

	"github.com/devroom-ai/devroom/gateway"
	"github.com/devroom-ai/devroom/gitexport"
	"github.com/devroom-ai/devroom/model"
	"github.com/devroom-ai/devroom/relay"
	"github.com/devroom-ai/devroom/room"
	"github.com/devroom-ai/devroom/sandbox"
	sqliteStore "github.com/devroom-ai/devroom/store/sqlite"
)

var testSecret = []byte("test-secret")

type stubAssistant struct {
	reply string
	err   error
}

func (s *stubAssistant) Generate(ctx context.Context, prompt string) (string, error) {
	return s.reply, s.err
}

type stubExporter struct {
	url string
	err error
}

func (s *stubExporter) Export(ctx context.Context, opts gitexport.ExportOptions, files map[string]string) (string, error) {
	return s.url, s.err
}

type stubSandbox struct {
	url string
	err error
}

func (s *stubSandbox) Run(ctx context.Context, files map[string]string) (string, error) {
	return s.url, s.err
}

// testHandler wires a Handler to a real SQLite store, hub, and gateway
// with stub assistant/exporter/sandbox collaborators.
func testHandler(t *testing.T, ai *stubAssistant) *Handler {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	st, err := sqliteStore.New(dbPath)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	if ai == nil {
		ai = &stubAssistant{reply: "hello"}
	}
	hub := room.NewHub()
	return New(Options{
		Store:     st,
		Gateway:   gateway.New(testSecret, st),
		Hub:       hub,
		Relay:     relay.New(hub, ai),
		Assistant: ai,
		Exporter:  &stubExporter{url: "https://github.com/acme/site/commit/abc"},
		Sandbox:   &stubSandbox{url: "http://127.0.0.1:5173"},
	})
}

func mintToken(t *testing.T, email string, expiry time.Duration) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":   "user-1",
		"email": email,
		"exp":   time.Now().Add(expiry).Unix(),
	}).SignedString(testSecret)
	if err != nil {
		t.Fatalf("minting token: %v", err)
	}
	return token
}

func createProject(t *testing.T, h *Handler, name string) *model.Project {
	t.Helper()
	body := fmt.Sprintf(`{"name":%q,"users":["alice@example.com"]}`, name)
	req := httptest.NewRequest(http.MethodPost, "/api/projects", strings.NewReader(body))
	w := httptest.NewRecorder()
	h.Router().ServeHTTP(w, req)
	if w.Code != http.StatusCreated {
		t.Fatalf("create project: expected 201, got %d: %s", w.Code, w.Body.String())
	}
	var p model.Project
	if err := json.Unmarshal(w.Body.Bytes(), &p); err != nil {
		t.Fatalf("decoding project: %v", err)
	}
	return &p
}

func TestHealthEndpoint(t *testing.T) {
	h := testHandler(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	h.Router().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if w.Body.String() != "ok" {
		t.Fatalf("expected 'ok', got %q", w.Body.String())
	}
}

func TestProjectCRUD(t *testing.T) {
	h := testHandler(t, nil)

	p := createProject(t, h, "landing-page")
	if p.ID == "" || p.Name != "landing-page" {
		t.Fatalf("unexpected project: %+v", p)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/projects/"+p.ID, nil)
	w := httptest.NewRecorder()
	h.Router().ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("get project: expected 200, got %d", w.Code)
	}

	req = httptest.NewRequest(http.MethodPut, "/api/projects/"+p.ID+"/users",
		strings.NewReader(`{"users":["alice@example.com","bob@example.com"]}`))
	w = httptest.NewRecorder()
	h.Router().ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("update users: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var updated model.Project
	if err := json.Unmarshal(w.Body.Bytes(), &updated); err != nil {
		t.Fatalf("decoding project: %v", err)
	}
	if len(updated.Users) != 2 {
		t.Fatalf("users = %v, want 2 entries", updated.Users)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/projects", nil)
	w = httptest.NewRecorder()
	h.Router().ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("list projects: expected 200, got %d", w.Code)
	}
	var list []*model.Project
	if err := json.Unmarshal(w.Body.Bytes(), &list); err != nil {
		t.Fatalf("decoding list: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("got %d projects, want 1", len(list))
	}
}

func TestCreateProjectDuplicateName(t *testing.T) {
	h := testHandler(t, nil)
	createProject(t, h, "demo")

	req := httptest.NewRequest(http.MethodPost, "/api/projects", strings.NewReader(`{"name":"demo"}`))
	w := httptest.NewRecorder()
	h.Router().ServeHTTP(w, req)
	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", w.Code)
	}
}

func TestGetProjectNotFound(t *testing.T) {
	h := testHandler(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/projects/7e1e7b4e-0000-4000-8000-000000000000", nil)
	w := httptest.NewRecorder()
	h.Router().ServeHTTP(w, req)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

func TestGenerateEndpoint(t *testing.T) {
	h := testHandler(t, &stubAssistant{reply: "```python\nprint('hi')\n```"})

	req := httptest.NewRequest(http.MethodGet, "/api/ai?prompt=hello", nil)
	w := httptest.NewRecorder()
	h.Router().ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp generateResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if len(resp.Artifacts) != 1 || resp.Artifacts[0].Language != "python" {
		t.Fatalf("unexpected artifacts: %+v", resp.Artifacts)
	}
}

func TestGenerateRequiresPrompt(t *testing.T) {
	h := testHandler(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/ai", nil)
	w := httptest.NewRecorder()
	h.Router().ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestExportEndpoint(t *testing.T) {
	h := testHandler(t, nil)
	p := createProject(t, h, "export-me")

	body := `{"repo":"acme/site","files":{"package.json":"{}"}}`
	req := httptest.NewRequest(http.MethodPost, "/api/projects/"+p.ID+"/export", strings.NewReader(body))
	w := httptest.NewRecorder()
	h.Router().ServeHTTP(w, req)
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	var resp exportResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if resp.CommitURL == "" {
		t.Fatal("expected commit url")
	}
}

func TestSandboxRunEndpoint(t *testing.T) {
	h := testHandler(t, nil)
	p := createProject(t, h, "run-me")

	body := `{"files":{"package.json":"{}"}}`
	req := httptest.NewRequest(http.MethodPost, "/api/projects/"+p.ID+"/sandbox", strings.NewReader(body))
	w := httptest.NewRecorder()
	h.Router().ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var resp sandboxRunResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if resp.URL != "http://127.0.0.1:5173" {
		t.Fatalf("url = %q", resp.URL)
	}
}

func TestSandboxConfigErrorMapsTo400(t *testing.T) {
	h := testHandler(t, nil)
	h.opts.Sandbox = &stubSandbox{err: &sandbox.StageError{
		Stage: sandbox.StageConfig, ExitCode: -1, Err: fmt.Errorf("no package.json"),
	}}
	p := createProject(t, h, "bad-config")

	req := httptest.NewRequest(http.MethodPost, "/api/projects/"+p.ID+"/sandbox",
		strings.NewReader(`{"files":{}}`))
	w := httptest.NewRecorder()
	h.Router().ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", w.Code, w.Body.String())
	}
	var resp errorResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if resp.Stage != "config" {
		t.Fatalf("stage = %q, want config", resp.Stage)
	}
}

// --- Websocket tests ---

func wsURL(server *httptest.Server, projectID, token string) string {
	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws"
	sep := "?"
	if projectID != "" {
		url += sep + "projectId=" + projectID
		sep = "&"
	}
	if token != "" {
		url += sep + "token=" + token
	}
	return url
}

func dial(t *testing.T, server *httptest.Server, projectID, token string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(wsURL(server, projectID, token), nil)
	if err != nil {
		t.Fatalf("dialing websocket: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readEnvelope(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var payload map[string]any
	if err := conn.ReadJSON(&payload); err != nil {
		t.Fatalf("reading message: %v", err)
	}
	return payload
}

func TestWebsocketRejects(t *testing.T) {
	h := testHandler(t, nil)
	server := httptest.NewServer(h.Router())
	defer server.Close()

	p := createProject(t, h, "ws-rejects")
	valid := mintToken(t, "alice@example.com", time.Hour)

	cases := []struct {
		name      string
		projectID string
		token     string
		status    int
	}{
		{"missing token", p.ID, "", http.StatusUnauthorized},
		{"malformed project id", "not-a-uuid", valid, http.StatusBadRequest},
		{"garbage token", p.ID, "not.a.jwt", http.StatusUnauthorized},
		{"expired token", p.ID, mintToken(t, "alice@example.com", -time.Hour), http.StatusUnauthorized},
		{"unknown project", "7e1e7b4e-0000-4000-8000-000000000000", valid, http.StatusNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, resp, err := websocket.DefaultDialer.Dial(wsURL(server, tc.projectID, tc.token), nil)
			if err == nil {
				t.Fatal("expected handshake to fail")
			}
			if resp == nil || resp.StatusCode != tc.status {
				code := 0
				if resp != nil {
					code = resp.StatusCode
				}
				t.Fatalf("status = %d, want %d", code, tc.status)
			}
		})
	}
}

func TestWebsocketChatFanOut(t *testing.T) {
	h := testHandler(t, &stubAssistant{reply: "just prose"})
	server := httptest.NewServer(h.Router())
	defer server.Close()

	p := createProject(t, h, "ws-chat")
	alice := dial(t, server, p.ID, mintToken(t, "alice@example.com", time.Hour))
	bob := dial(t, server, p.ID, mintToken(t, "bob@example.com", time.Hour))

	if err := alice.WriteJSON(map[string]string{"message": "hello room"}); err != nil {
		t.Fatalf("sending message: %v", err)
	}

	got := readEnvelope(t, bob)
	if got["message"] != "hello room" {
		t.Fatalf("bob received %v", got)
	}
	if got["sender"] != "alice@example.com" {
		t.Fatalf("sender = %v", got["sender"])
	}

	// Alice must not receive her own broadcast; the next message she sees
	// is the typing notice from her assistant request.
	if err := alice.WriteJSON(map[string]string{"message": "@ai build a page"}); err != nil {
		t.Fatalf("sending assistant message: %v", err)
	}
	got = readEnvelope(t, alice)
	if got["message"] != relay.TypingNotice {
		t.Fatalf("alice's first received message = %v, want typing notice", got)
	}

	// The assistant reply is broadcast room-wide, both participants see it.
	got = readEnvelope(t, alice)
	if got["sender"] != model.AssistantSender || got["form"] != "text" {
		t.Fatalf("alice's assistant reply = %v", got)
	}
	got = readEnvelope(t, bob)
	if got["sender"] != model.AssistantSender {
		t.Fatalf("bob's assistant reply = %v", got)
	}
}
