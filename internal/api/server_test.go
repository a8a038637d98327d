package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/callscribe/callscribe/internal/archive"
	"github.com/callscribe/callscribe/internal/config"
	"github.com/callscribe/callscribe/internal/fetcher"
	"github.com/callscribe/callscribe/internal/ledger"
	"github.com/callscribe/callscribe/internal/script"
	"github.com/callscribe/callscribe/internal/twiml"
)

// memRecordings is an in-memory RecordingRepository.
type memRecordings struct {
	rows map[string]ledger.Recording
}

func newMemRecordings() *memRecordings {
	return &memRecordings{rows: make(map[string]ledger.Recording)}
}

func (m *memRecordings) Insert(_ context.Context, rec *ledger.Recording) (bool, error) {
	if _, ok := m.rows[rec.RecordingSID]; ok {
		return false, nil
	}
	m.rows[rec.RecordingSID] = *rec
	return true, nil
}

func (m *memRecordings) Exists(_ context.Context, recordingSID string) (bool, error) {
	_, ok := m.rows[recordingSID]
	return ok, nil
}

func (m *memRecordings) ListByCaller(_ context.Context, callerID string) ([]ledger.Recording, error) {
	var out []ledger.Recording
	for _, r := range m.rows {
		if r.CallerID == callerID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *memRecordings) Count(_ context.Context) (int64, error) {
	return int64(len(m.rows)), nil
}

func (m *memRecordings) DeleteOlderThan(_ context.Context, _ int) ([]ledger.Recording, error) {
	return nil, nil
}

// memEvents is an in-memory CallEventRepository.
type memEvents struct {
	rows []ledger.CallEvent
}

func (m *memEvents) Insert(_ context.Context, ev *ledger.CallEvent) error {
	m.rows = append(m.rows, *ev)
	return nil
}

func (m *memEvents) ListByCall(_ context.Context, callSID string) ([]ledger.CallEvent, error) {
	var out []ledger.CallEvent
	for _, ev := range m.rows {
		if ev.CallSID == callSID {
			out = append(out, ev)
		}
	}
	return out, nil
}

func (m *memEvents) CountByEvent(_ context.Context) (map[string]int64, error) {
	counts := make(map[string]int64)
	for _, ev := range m.rows {
		counts[ev.Event]++
	}
	return counts, nil
}

func (m *memEvents) lastEvent() string {
	if len(m.rows) == 0 {
		return ""
	}
	return m.rows[len(m.rows)-1].Event
}

// memAdmins is an in-memory AdminUserRepository.
type memAdmins struct {
	users map[string]*ledger.AdminUser
}

func newMemAdmins() *memAdmins {
	return &memAdmins{users: make(map[string]*ledger.AdminUser)}
}

func (m *memAdmins) Create(_ context.Context, user *ledger.AdminUser) error {
	m.users[user.Username] = user
	return nil
}

func (m *memAdmins) GetByUsername(_ context.Context, username string) (*ledger.AdminUser, error) {
	return m.users[username], nil
}

func (m *memAdmins) Count(_ context.Context) (int64, error) {
	return int64(len(m.users)), nil
}

// stubFetcher captures recording notifications instead of downloading.
type stubFetcher struct {
	events []fetcher.Event
	err    error
}

func (f *stubFetcher) Handle(_ context.Context, ev fetcher.Event) error {
	if f.err != nil {
		return f.err
	}
	f.events = append(f.events, ev)
	return nil
}

type testEnv struct {
	server     *Server
	archive    *archive.Archive
	recordings *memRecordings
	events     *memEvents
	admins     *memAdmins
	fetcher    *stubFetcher
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	scr := script.Default()
	arch, err := archive.New(t.TempDir(), scr)
	if err != nil {
		t.Fatalf("archive.New: %v", err)
	}

	env := &testEnv{
		archive:    arch,
		recordings: newMemRecordings(),
		events:     &memEvents{},
		admins:     newMemAdmins(),
		fetcher:    &stubFetcher{},
	}

	env.server = NewServer(Deps{
		Config:     &config.Config{BaseURL: "http://example.com"},
		Script:     scr,
		Renderer:   twiml.NewRenderer("http://example.com"),
		Fetcher:    env.fetcher,
		Archive:    arch,
		Recordings: env.recordings,
		Events:     env.events,
		Admins:     env.admins,
		JWTSecret:  []byte("test-secret-test-secret-test-sec"),
	})
	t.Cleanup(env.server.Close)

	return env
}

// postForm sends a gateway-style form POST and returns the recorder.
func postForm(t *testing.T, s *Server, path string, form url.Values) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rr := httptest.NewRecorder()
	s.ServeHTTP(rr, req)
	return rr
}

func TestVoiceEntryRendersWelcome(t *testing.T) {
	env := newTestEnv(t)

	rr := postForm(t, env.server, "/voice", url.Values{
		"From":    {"+1-555-0100"},
		"CallSid": {"CA100"},
	})

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if ct := rr.Header().Get("Content-Type"); ct != "text/xml" {
		t.Fatalf("expected text/xml, got %q", ct)
	}

	body := rr.Body.String()
	if !strings.Contains(body, "<Gather") {
		t.Fatalf("expected Gather in welcome document: %s", body)
	}
	if !strings.Contains(body, "/voice/keypress") {
		t.Fatalf("expected keypress action URL: %s", body)
	}
	if env.events.lastEvent() != ledger.EventAnswered {
		t.Fatalf("expected answered event, got %q", env.events.lastEvent())
	}
}

func TestKeypressValidDigitStartsQuestions(t *testing.T) {
	env := newTestEnv(t)

	rr := postForm(t, env.server, "/voice/keypress?callerId=%2B1-555-0100", url.Values{
		"CallSid": {"CA100"},
		"Digits":  {"1"},
	})

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}

	body := rr.Body.String()
	first := env.server.script.First()
	if !strings.Contains(body, "<Record") {
		t.Fatalf("expected Record in question document: %s", body)
	}
	if !strings.Contains(body, "question="+first.Key) {
		t.Fatalf("expected callback URL to carry step %q: %s", first.Key, body)
	}
	if env.events.lastEvent() != ledger.EventQuestionAsked {
		t.Fatalf("expected question_asked event, got %q", env.events.lastEvent())
	}
}

func TestKeypressInvalidDigitReplaysMenu(t *testing.T) {
	env := newTestEnv(t)

	rr := postForm(t, env.server, "/voice/keypress?callerId=%2B1-555-0100", url.Values{
		"CallSid": {"CA100"},
		"Digits":  {"9"},
	})

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}

	body := rr.Body.String()
	if !strings.Contains(body, "<Redirect") {
		t.Fatalf("expected Redirect replay: %s", body)
	}
	if strings.Contains(body, "<Record") {
		t.Fatalf("invalid digit must not start recording: %s", body)
	}
	if env.events.lastEvent() != ledger.EventInvalidInput {
		t.Fatalf("expected invalid_input event, got %q", env.events.lastEvent())
	}
}

func TestQuestionAdvancesChain(t *testing.T) {
	env := newTestEnv(t)
	scr := env.server.script

	// Walk every non-terminal step and confirm the next prompt is rendered.
	steps := scr.Steps
	for i, st := range steps {
		rr := postForm(t, env.server, "/voice/question/"+st.Key+"?callerId=caller", url.Values{
			"CallSid": {"CA100"},
		})
		if rr.Code != http.StatusOK {
			t.Fatalf("step %s: expected 200, got %d", st.Key, rr.Code)
		}

		body := rr.Body.String()
		if i == len(steps)-1 {
			if !strings.Contains(body, "<Hangup") {
				t.Fatalf("final step should hang up: %s", body)
			}
			if env.events.lastEvent() != ledger.EventCompleted {
				t.Fatalf("expected completed event, got %q", env.events.lastEvent())
			}
		} else {
			next := steps[i+1]
			if !strings.Contains(body, next.Prompt) {
				t.Fatalf("step %s: expected next prompt %q: %s", st.Key, next.Prompt, body)
			}
		}
	}
}

func TestQuestionUnknownStep(t *testing.T) {
	env := newTestEnv(t)

	rr := postForm(t, env.server, "/voice/question/nosuch", url.Values{})
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
}

func TestRecordingCompleteDispatchesFetch(t *testing.T) {
	env := newTestEnv(t)

	rr := postForm(t, env.server,
		"/voice/recording-complete?question=name&callSid=CA100&callerId=%2B1-555-0100",
		url.Values{
			"RecordingSid": {"RE1"},
			"RecordingUrl": {"https://provider.example.com/RE1"},
		})

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if len(env.fetcher.events) != 1 {
		t.Fatalf("expected 1 fetch event, got %d", len(env.fetcher.events))
	}

	ev := env.fetcher.events[0]
	if ev.CallSID != "CA100" || ev.StepKey != "name" || ev.CallerID != "+1-555-0100" {
		t.Fatalf("unexpected event fields: %+v", ev)
	}
	if ev.RecordingSID != "RE1" || ev.RecordingURL != "https://provider.example.com/RE1" {
		t.Fatalf("unexpected recording fields: %+v", ev)
	}
	if env.events.lastEvent() != ledger.EventRecordingStored {
		t.Fatalf("expected recording_stored event, got %q", env.events.lastEvent())
	}
}

func TestRecordingCompleteForgedStepRejected(t *testing.T) {
	env := newTestEnv(t)

	for _, key := range []string{"x%2F..%2F..%2F..%2F..%2F001%2Fevil", "..%2Fescape", "bogus"} {
		rr := postForm(t, env.server,
			"/voice/recording-complete?question="+key+"&callSid=CA100&callerId=12345",
			url.Values{
				"RecordingSid": {"RE1"},
				"RecordingUrl": {"https://provider.example.com/RE1"},
			})

		if rr.Code != http.StatusNotFound {
			t.Errorf("question=%s: expected 404, got %d", key, rr.Code)
		}
	}

	if len(env.fetcher.events) != 0 {
		t.Errorf("expected no fetch events for forged step keys, got %d", len(env.fetcher.events))
	}
	if len(env.events.rows) != 0 {
		t.Errorf("expected no call events for forged step keys, got %d", len(env.events.rows))
	}
}

func TestRecordingCompleteFetchFailureReturns500(t *testing.T) {
	env := newTestEnv(t)
	env.fetcher.err = errors.New("download failed")

	rr := postForm(t, env.server,
		"/voice/recording-complete?question=name&callSid=CA100&callerId=caller",
		url.Values{
			"RecordingSid": {"RE1"},
			"RecordingUrl": {"https://provider.example.com/RE1"},
		})

	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500 so the gateway retries, got %d", rr.Code)
	}
}

func TestGoodbyeRendersTerminalDocument(t *testing.T) {
	env := newTestEnv(t)

	rr := postForm(t, env.server, "/voice/goodbye", url.Values{"CallSid": {"CA100"}})
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "<Hangup") {
		t.Fatalf("expected Hangup: %s", rr.Body.String())
	}
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	rr := httptest.NewRecorder()
	env.server.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
}

func TestLoginAndProtectedRoutes(t *testing.T) {
	env := newTestEnv(t)

	hash, err := ledger.HashPassword("correct horse")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	env.admins.Create(context.Background(), &ledger.AdminUser{
		Username:     "admin",
		PasswordHash: hash,
	})

	// Protected route without a token.
	req := httptest.NewRequest(http.MethodGet, "/api/v1/callers", nil)
	rr := httptest.NewRecorder()
	env.server.ServeHTTP(rr, req)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", rr.Code)
	}

	// Wrong password.
	body, _ := json.Marshal(map[string]string{"username": "admin", "password": "wrong"})
	req = httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", bytes.NewReader(body))
	rr = httptest.NewRecorder()
	env.server.ServeHTTP(rr, req)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for wrong password, got %d", rr.Code)
	}

	// Correct credentials.
	body, _ = json.Marshal(map[string]string{"username": "admin", "password": "correct horse"})
	req = httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", bytes.NewReader(body))
	rr = httptest.NewRecorder()
	env.server.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 for valid login, got %d: %s", rr.Code, rr.Body.String())
	}

	var resp struct {
		Data struct {
			Token string `json:"token"`
		} `json:"data"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse login response: %v", err)
	}
	if resp.Data.Token == "" {
		t.Fatal("expected a token in the login response")
	}

	// Protected route with the token.
	req = httptest.NewRequest(http.MethodGet, "/api/v1/callers", nil)
	req.Header.Set("Authorization", "Bearer "+resp.Data.Token)
	rr = httptest.NewRecorder()
	env.server.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 with token, got %d", rr.Code)
	}
}

func TestListCallersReturnsArchive(t *testing.T) {
	env := newTestEnv(t)

	if _, err := env.archive.Store("+1-555-0100", "name", strings.NewReader("RIFFaudio")); err != nil {
		t.Fatalf("Store: %v", err)
	}

	hash, _ := ledger.HashPassword("pw")
	env.admins.Create(context.Background(), &ledger.AdminUser{Username: "admin", PasswordHash: hash})
	token := loginToken(t, env, "admin", "pw")

	req := httptest.NewRequest(http.MethodGet, "/api/v1/callers", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rr := httptest.NewRecorder()
	env.server.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}

	var resp struct {
		Data []callerSummary `json:"data"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if len(resp.Data) != 1 {
		t.Fatalf("expected 1 caller, got %d", len(resp.Data))
	}
	if resp.Data[0].CallerID != "1_555_0100" {
		t.Fatalf("expected sanitized caller dir, got %q", resp.Data[0].CallerID)
	}
	if len(resp.Data[0].Answers) != 1 || resp.Data[0].Answers[0] != "name" {
		t.Fatalf("expected answers [name], got %v", resp.Data[0].Answers)
	}
}

func TestCallerAudioGuards(t *testing.T) {
	env := newTestEnv(t)

	hash, _ := ledger.HashPassword("pw")
	env.admins.Create(context.Background(), &ledger.AdminUser{Username: "admin", PasswordHash: hash})
	token := loginToken(t, env, "admin", "pw")

	tests := []struct {
		name string
		path string
		want int
	}{
		{"caller id that sanitization would change", "/api/v1/callers/bad.name/answers/name", http.StatusBadRequest},
		{"unknown step", "/api/v1/callers/1_555_0100/answers/nosuch", http.StatusNotFound},
		{"missing file", "/api/v1/callers/1_555_0100/answers/name", http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			req.Header.Set("Authorization", "Bearer "+token)
			rr := httptest.NewRecorder()
			env.server.ServeHTTP(rr, req)
			if rr.Code != tt.want {
				t.Fatalf("expected %d, got %d", tt.want, rr.Code)
			}
		})
	}
}

func TestStats(t *testing.T) {
	env := newTestEnv(t)

	env.recordings.Insert(context.Background(), &ledger.Recording{RecordingSID: "RE1", CallerID: "c"})
	env.events.Insert(context.Background(), &ledger.CallEvent{CallSID: "CA1", Event: ledger.EventAnswered})

	hash, _ := ledger.HashPassword("pw")
	env.admins.Create(context.Background(), &ledger.AdminUser{Username: "admin", PasswordHash: hash})
	token := loginToken(t, env, "admin", "pw")

	req := httptest.NewRequest(http.MethodGet, "/api/v1/stats", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rr := httptest.NewRecorder()
	env.server.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}

	var resp struct {
		Data struct {
			Recordings int64            `json:"recordings"`
			Events     map[string]int64 `json:"events"`
		} `json:"data"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if resp.Data.Recordings != 1 {
		t.Fatalf("expected 1 recording, got %d", resp.Data.Recordings)
	}
	if resp.Data.Events[ledger.EventAnswered] != 1 {
		t.Fatalf("expected 1 answered event, got %d", resp.Data.Events[ledger.EventAnswered])
	}
}

// loginToken authenticates and returns a bearer token.
func loginToken(t *testing.T, env *testEnv, username, password string) string {
	t.Helper()

	body, _ := json.Marshal(map[string]string{"username": username, "password": password})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", bytes.NewReader(body))
	rr := httptest.NewRecorder()
	env.server.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("login failed: %d %s", rr.Code, rr.Body.String())
	}

	var resp struct {
		Data struct {
			Token string `json:"token"`
		} `json:"data"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse login response: %v", err)
	}
	return resp.Data.Token
}
