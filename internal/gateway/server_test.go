package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/soyeahso/fichabot/internal/config"
	"github.com/soyeahso/fichabot/internal/domain"
	"github.com/soyeahso/fichabot/internal/logging"
	"github.com/soyeahso/fichabot/internal/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeHandler struct {
	results []domain.ActionResult
	closed  map[string]bool

	lastCtx   context.Context
	lastUser  string
	lastText  string
	lastCreds domain.Credentials
}

func (f *fakeHandler) HandleMessage(ctx context.Context, userID, text string) []domain.ActionResult {
	f.lastCtx, f.lastUser, f.lastText = ctx, userID, text
	return f.results
}

func (f *fakeHandler) CloseSession(ctx context.Context, userID string) bool {
	return f.closed[userID]
}

func (f *fakeHandler) UpdateCredentials(ctx context.Context, userID string, creds domain.Credentials) error {
	f.lastUser, f.lastCreds = userID, creds
	return nil
}

type fakeStats struct{ stats session.Stats }

func (f *fakeStats) Stats() session.Stats { return f.stats }

func testServer(t *testing.T, handler *fakeHandler, authToken string) (*Server, *httptest.Server) {
	t.Helper()
	cfg := config.Defaults()
	cfg.Gateway.AuthToken = authToken

	log := logging.New(nil, "silent")
	s := New(cfg, handler, &fakeStats{stats: session.Stats{
		ActiveSessions: 1,
		MaxSessions:    25,
		Users:          []string{"alice"},
	}}, log)

	mux := http.NewServeMux()
	s.registerRoutes(mux)
	ts := httptest.NewServer(withMiddleware(mux, log, authToken))
	t.Cleanup(ts.Close)
	return s, ts
}

func TestHealthEndpoint(t *testing.T) {
	_, ts := testServer(t, &fakeHandler{}, "")

	resp, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body healthResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "ok", body.Status)
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))
}

func TestHealthOpenWithAuthEnabled(t *testing.T) {
	_, ts := testServer(t, &fakeHandler{}, "sekrit")

	resp, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestStatsRequiresToken(t *testing.T) {
	_, ts := testServer(t, &fakeHandler{}, "sekrit")

	resp, err := http.Get(ts.URL + "/stats")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	req, _ := http.NewRequest(http.MethodGet, ts.URL+"/stats", nil)
	req.Header.Set("Authorization", "Bearer sekrit")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var stats session.Stats
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&stats))
	assert.Equal(t, 1, stats.ActiveSessions)
	assert.Equal(t, []string{"alice"}, stats.Users)
}

func TestMessageEndpoint(t *testing.T) {
	handler := &fakeHandler{
		results: []domain.ActionResult{
			domain.Text("Añadidas 3h el lunes en Desarrollo"),
			domain.NeedsDisambiguation{
				Project: "Soporte",
				Candidates: []domain.Candidate{
					{ProjectName: "Soporte", ParentNodeName: "Staff", FullPath: "Staff/Soporte"},
				},
			},
		},
	}
	_, ts := testServer(t, handler, "")

	body := bytes.NewBufferString(`{"userId":"alice","text":"imputa 3 horas"}`)
	resp, err := http.Post(ts.URL+"/message", "application/json", body)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out struct {
		Results []json.RawMessage `json:"results"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	require.Len(t, out.Results, 2)

	var text string
	require.NoError(t, json.Unmarshal(out.Results[0], &text))
	assert.Equal(t, "Añadidas 3h el lunes en Desarrollo", text)

	var structured map[string]any
	require.NoError(t, json.Unmarshal(out.Results[1], &structured))
	assert.Equal(t, "needs_disambiguation", structured["type"])
	assert.Equal(t, "Soporte", structured["project"])

	assert.Equal(t, "alice", handler.lastUser)
	assert.Equal(t, "imputa 3 horas", handler.lastText)
}

func TestMessageEndpoint_Validation(t *testing.T) {
	_, ts := testServer(t, &fakeHandler{}, "")

	resp, err := http.Post(ts.URL+"/message", "application/json", strings.NewReader(`{"text":"hola"}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, err = http.Post(ts.URL+"/message", "application/json", strings.NewReader(`{not json`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestMessageEndpoint_DetachedFromRequestContext(t *testing.T) {
	handler := &fakeHandler{results: []domain.ActionResult{domain.Text("hecho")}}
	s, _ := testServer(t, handler, "")

	mux := http.NewServeMux()
	s.registerRoutes(mux)

	// Simulate the client going away before the batch runs.
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req := httptest.NewRequest(http.MethodPost, "/message",
		strings.NewReader(`{"userId":"alice","text":"guarda"}`)).WithContext(ctx)
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	require.NotNil(t, handler.lastCtx)
	assert.NoError(t, handler.lastCtx.Err(), "a disconnect must not cancel the running batch")
}

func TestCloseSessionEndpoint(t *testing.T) {
	handler := &fakeHandler{closed: map[string]bool{"alice": true}}
	_, ts := testServer(t, handler, "")

	resp, err := http.Post(ts.URL+"/close-session/alice", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Post(ts.URL+"/close-session/bob", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestCredentialsEndpoint(t *testing.T) {
	handler := &fakeHandler{}
	_, ts := testServer(t, handler, "")

	req, _ := http.NewRequest(http.MethodPut, ts.URL+"/credentials/alice",
		strings.NewReader(`{"username":"alice@corp","password":"pw"}`))
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "alice", handler.lastUser)
	assert.Equal(t, domain.Credentials{Username: "alice@corp", Password: "pw"}, handler.lastCreds)

	req, _ = http.NewRequest(http.MethodPut, ts.URL+"/credentials/alice",
		strings.NewReader(`{"username":"alice@corp"}`))
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestUnknownRoute(t *testing.T) {
	_, ts := testServer(t, &fakeHandler{}, "")

	resp, err := http.Get(ts.URL + "/nope")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestEventFeed(t *testing.T) {
	s, ts := testServer(t, &fakeHandler{}, "")

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return s.clients.Count() == 1 },
		time.Second, 10*time.Millisecond)

	s.PublishSessionEvent(session.Event{
		Type:   session.EventCreated,
		UserID: "alice",
		Time:   time.Now(),
	})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var frame EventFrame
	require.NoError(t, conn.ReadJSON(&frame))
	assert.Equal(t, session.EventCreated, frame.Event)
	assert.Equal(t, int64(1), frame.Seq)

	payload, ok := frame.Payload.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "alice", payload["userId"])
}

func TestEventFeed_TokenViaQueryParam(t *testing.T) {
	s, ts := testServer(t, &fakeHandler{}, "sekrit")

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"

	_, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.Error(t, err)
	if resp != nil {
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	}

	conn, _, err := websocket.DefaultDialer.Dial(wsURL+"?token=sekrit", nil)
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, func() bool { return s.clients.Count() == 1 },
		time.Second, 10*time.Millisecond)
}
