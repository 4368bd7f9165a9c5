package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"cognify/internal/account"
	"cognify/internal/ai"
	"cognify/internal/app"
	"cognify/internal/history"
	"cognify/internal/store"
)

func newTestServer(t *testing.T, fragments []string, cfg Config) *httptest.Server {
	t.Helper()
	dir := t.TempDir()
	historyDir := filepath.Join(dir, "history")

	ollamaSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		enc := json.NewEncoder(w)
		for _, f := range fragments {
			enc.Encode(map[string]any{"response": f})
		}
		enc.Encode(map[string]any{"response": "", "done": true})
	}))
	t.Cleanup(ollamaSrv.Close)

	accounts, err := account.NewStore(filepath.Join(dir, "users.json"), historyDir)
	if err != nil {
		t.Fatalf("account store: %v", err)
	}
	transcripts, err := history.NewStore(historyDir)
	if err != nil {
		t.Fatalf("history store: %v", err)
	}
	a, err := app.New(app.Config{
		Accounts: accounts,
		History:  transcripts,
		Ollama:   ai.NewOllamaClient(ollamaSrv.URL, "llama3"),
		Sessions: store.NewJWTSessionStore("test-secret-test-secret-test-secret", time.Hour),
	})
	if err != nil {
		t.Fatalf("app.New() = %v", err)
	}
	cfg.App = a
	s, err := New(cfg)
	if err != nil {
		t.Fatalf("server.New() = %v", err)
	}
	srv := httptest.NewServer(s.Router())
	t.Cleanup(srv.Close)
	return srv
}

func postJSON(t *testing.T, url, token string, payload any) *http.Response {
	t.Helper()
	body, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	return resp
}

func doRequest(t *testing.T, method, url, token string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, url, nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	return resp
}

func mustSignupAndLogin(t *testing.T, baseURL, email, password string) string {
	t.Helper()
	resp := postJSON(t, baseURL+"/api/auth/signup", "", map[string]string{"email": email, "password": password})
	resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("signup status = %d, want 201", resp.StatusCode)
	}
	resp = postJSON(t, baseURL+"/api/auth/login", "", map[string]string{"email": email, "password": password})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("login status = %d, want 200", resp.StatusCode)
	}
	var out struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode login response: %v", err)
	}
	if out.Token == "" {
		t.Fatalf("login returned empty token")
	}
	return out.Token
}

func uploadFile(t *testing.T, baseURL, token, filename, content string) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", filename)
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	if _, err := io.WriteString(fw, content); err != nil {
		t.Fatalf("write form file: %v", err)
	}
	mw.Close()
	req, err := http.NewRequest(http.MethodPost, baseURL+"/api/documents", &buf)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	return resp
}

type sseEvent struct {
	Response string `json:"response"`
	Answer   string `json:"answer"`
	Saved    bool   `json:"saved"`
	Error    string `json:"error"`
	Done     bool   `json:"done"`
}

func parseSSE(t *testing.T, body io.Reader) []sseEvent {
	t.Helper()
	raw, err := io.ReadAll(body)
	if err != nil {
		t.Fatalf("read SSE body: %v", err)
	}
	var events []sseEvent
	for _, block := range strings.Split(string(raw), "\n\n") {
		block = strings.TrimSpace(block)
		if block == "" {
			continue
		}
		payload, found := strings.CutPrefix(block, "data: ")
		if !found {
			t.Fatalf("unexpected SSE block %q", block)
		}
		var ev sseEvent
		if err := json.Unmarshal([]byte(payload), &ev); err != nil {
			t.Fatalf("parse SSE event %q: %v", payload, err)
		}
		events = append(events, ev)
	}
	return events
}

func TestHealthz(t *testing.T) {
	srv := newTestServer(t, nil, Config{})
	resp, err := http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatalf("healthz: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("healthz status = %d, want 200", resp.StatusCode)
	}
	if got := resp.Header.Get("X-Content-Type-Options"); got != "nosniff" {
		t.Fatalf("X-Content-Type-Options = %q, want nosniff", got)
	}
}

func TestChatFlow(t *testing.T) {
	srv := newTestServer(t, []string{"The ", "answer."}, Config{})
	token := mustSignupAndLogin(t, srv.URL, "a@x.com", "pw1")

	// Empty transcript on a fresh account.
	resp := doRequest(t, http.MethodGet, srv.URL+"/api/chats", token)
	var list struct {
		Count int `json:"count"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		t.Fatalf("decode chats: %v", err)
	}
	resp.Body.Close()
	if list.Count != 0 {
		t.Fatalf("fresh transcript count = %d, want 0", list.Count)
	}

	// A question before any upload is rejected.
	resp = postJSON(t, srv.URL+"/api/chats", token, map[string]string{"question": "What is X?"})
	resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("ask without document status = %d, want 409", resp.StatusCode)
	}

	resp = uploadFile(t, srv.URL, token, "notes.txt", "X is a placeholder used in examples.")
	resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("upload status = %d, want 201", resp.StatusCode)
	}

	resp = postJSON(t, srv.URL+"/api/chats", token, map[string]string{"question": "What is X?"})
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("chat Content-Type = %q, want text/event-stream", ct)
	}
	events := parseSSE(t, resp.Body)
	resp.Body.Close()
	if len(events) != 3 {
		t.Fatalf("SSE events = %d, want 3", len(events))
	}
	if events[0].Response != "The " || events[1].Response != "answer." {
		t.Fatalf("fragments = %q, %q", events[0].Response, events[1].Response)
	}
	final := events[len(events)-1]
	if !final.Done || final.Answer != "The answer." || !final.Saved {
		t.Fatalf("final event = %+v", final)
	}

	resp = doRequest(t, http.MethodGet, srv.URL+"/api/chats", token)
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		t.Fatalf("decode chats: %v", err)
	}
	resp.Body.Close()
	if list.Count != 2 {
		t.Fatalf("transcript count after exchange = %d, want 2", list.Count)
	}

	// Generate and download the report.
	resp = postJSON(t, srv.URL+"/api/reports", token, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("report status = %d, want 201", resp.StatusCode)
	}
	resp = doRequest(t, http.MethodGet, srv.URL+"/api/reports", token)
	pdf, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("report download status = %d, want 200", resp.StatusCode)
	}
	if !bytes.HasPrefix(pdf, []byte("%PDF")) {
		t.Fatalf("report download is not a PDF")
	}

	// Clear history.
	resp = doRequest(t, http.MethodDelete, srv.URL+"/api/chats", token)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("clear status = %d, want 200", resp.StatusCode)
	}
	resp = doRequest(t, http.MethodGet, srv.URL+"/api/chats", token)
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		t.Fatalf("decode chats: %v", err)
	}
	resp.Body.Close()
	if list.Count != 0 {
		t.Fatalf("transcript count after clear = %d, want 0", list.Count)
	}

	// Logout invalidates the session.
	resp = postJSON(t, srv.URL+"/api/auth/logout", token, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("logout status = %d, want 204", resp.StatusCode)
	}
	resp = doRequest(t, http.MethodGet, srv.URL+"/api/users/me", token)
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("me after logout status = %d, want 401", resp.StatusCode)
	}
}

func TestMeReportsDocumentState(t *testing.T) {
	srv := newTestServer(t, nil, Config{})
	token := mustSignupAndLogin(t, srv.URL, "a@x.com", "pw1")

	resp := doRequest(t, http.MethodGet, srv.URL+"/api/users/me", token)
	var me struct {
		Email          string `json:"email"`
		DocumentLoaded bool   `json:"documentLoaded"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&me); err != nil {
		t.Fatalf("decode me: %v", err)
	}
	resp.Body.Close()
	if me.Email != "a@x.com" || me.DocumentLoaded {
		t.Fatalf("me = %+v", me)
	}

	resp = uploadFile(t, srv.URL, token, "notes.txt", "text")
	resp.Body.Close()
	resp = doRequest(t, http.MethodGet, srv.URL+"/api/users/me", token)
	if err := json.NewDecoder(resp.Body).Decode(&me); err != nil {
		t.Fatalf("decode me: %v", err)
	}
	resp.Body.Close()
	if !me.DocumentLoaded {
		t.Fatalf("documentLoaded = false after upload, want true")
	}
}

func TestSignupValidation(t *testing.T) {
	srv := newTestServer(t, nil, Config{})

	resp := postJSON(t, srv.URL+"/api/auth/signup", "", map[string]string{"email": "", "password": ""})
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("empty signup status = %d, want 400", resp.StatusCode)
	}

	resp = postJSON(t, srv.URL+"/api/auth/signup", "", map[string]string{"email": "a@x.com", "password": "pw1"})
	resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("signup status = %d, want 201", resp.StatusCode)
	}
	resp = postJSON(t, srv.URL+"/api/auth/signup", "", map[string]string{"email": "a@x.com", "password": "pw2"})
	resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("duplicate signup status = %d, want 409", resp.StatusCode)
	}
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	srv := newTestServer(t, nil, Config{})
	resp := postJSON(t, srv.URL+"/api/auth/signup", "", map[string]string{"email": "a@x.com", "password": "pw1"})
	resp.Body.Close()

	resp = postJSON(t, srv.URL+"/api/auth/login", "", map[string]string{"email": "a@x.com", "password": "wrong"})
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("bad login status = %d, want 401", resp.StatusCode)
	}
}

func TestUploadRejectsUnsupportedExtension(t *testing.T) {
	srv := newTestServer(t, nil, Config{})
	token := mustSignupAndLogin(t, srv.URL, "a@x.com", "pw1")
	resp := uploadFile(t, srv.URL, token, "malware.exe", "nope")
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("exe upload status = %d, want 400", resp.StatusCode)
	}
}

func TestAuthenticatedRoutesRequireToken(t *testing.T) {
	srv := newTestServer(t, nil, Config{})
	for _, route := range []struct {
		method string
		path   string
	}{
		{http.MethodGet, "/api/users/me"},
		{http.MethodGet, "/api/chats"},
		{http.MethodPost, "/api/documents"},
		{http.MethodGet, "/api/reports"},
		{http.MethodPost, "/api/auth/logout"},
	} {
		resp := doRequest(t, route.method, srv.URL+route.path, "")
		resp.Body.Close()
		if resp.StatusCode != http.StatusUnauthorized {
			t.Fatalf("%s %s status = %d, want 401", route.method, route.path, resp.StatusCode)
		}
		resp = doRequest(t, route.method, srv.URL+route.path, "garbage-token")
		resp.Body.Close()
		if resp.StatusCode != http.StatusUnauthorized {
			t.Fatalf("%s %s with garbage token status = %d, want 401", route.method, route.path, resp.StatusCode)
		}
	}
}

func TestSignupRateLimited(t *testing.T) {
	redis := miniredis.RunT(t)
	srv := newTestServer(t, nil, Config{
		RedisAddr:                redis.Addr(),
		SignupRateLimitPerMinute: 1,
	})

	resp := postJSON(t, srv.URL+"/api/auth/signup", "", map[string]string{"email": "a@x.com", "password": "pw1"})
	resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("first signup status = %d, want 201", resp.StatusCode)
	}
	for i := 0; i < 3; i++ {
		resp = postJSON(t, srv.URL+"/api/auth/signup", "", map[string]string{"email": fmt.Sprintf("b%d@x.com", i), "password": "pw1"})
		resp.Body.Close()
		if resp.StatusCode == http.StatusTooManyRequests {
			if got := resp.Header.Get("Retry-After"); got != "60" {
				t.Fatalf("Retry-After = %q, want 60", got)
			}
			return
		}
	}
	t.Fatalf("signup was never rate limited")
}

func TestReportBeforeGeneration(t *testing.T) {
	srv := newTestServer(t, nil, Config{})
	token := mustSignupAndLogin(t, srv.URL, "a@x.com", "pw1")
	resp := doRequest(t, http.MethodGet, srv.URL+"/api/reports", token)
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("report before generation status = %d, want 404", resp.StatusCode)
	}
}
