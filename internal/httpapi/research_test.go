package httpapi

import (
	"bufio"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/dumplingcafe/research/internal/agents"
	"github.com/dumplingcafe/research/internal/auth"
	"github.com/dumplingcafe/research/internal/llm/llmtest"
	"github.com/dumplingcafe/research/internal/models"
	"github.com/dumplingcafe/research/internal/pricing"
	"github.com/dumplingcafe/research/internal/research"
	"github.com/dumplingcafe/research/internal/store/memory"
	"github.com/dumplingcafe/research/internal/streaming"
)

type testServer struct {
	*httptest.Server
	orch *research.Orchestrator
	jwt  *auth.JWTManager
}

func newTestServer(t *testing.T, skipAuth bool) *testServer {
	t.Helper()
	logger := zaptest.NewLogger(t)
	fake := llmtest.New(llmtest.Sequence(llmtest.Reply{Content: "answer", Usage: llmtest.Usage(100, 50)}))
	runner := agents.NewRunner(fake, pricing.Default(), logger, agents.Options{})
	events := streaming.NewManager(64)
	tracker := research.NewTracker(memory.New(), events, logger)
	cfg := research.DefaultConfig()
	cfg.CriticEnabled = false
	orch := research.NewOrchestrator(runner, tracker, cfg, logger)

	jwtManager := auth.NewJWTManager("test-secret", "research", time.Hour)
	h := NewHandler(orch, models.DefaultCatalog(), events, Options{
		DefaultPreset: "fast",
		Heartbeat:     50 * time.Millisecond,
	}, logger)
	mux := http.NewServeMux()
	h.RegisterRoutes(mux, auth.NewMiddleware(jwtManager, skipAuth, logger))

	srv := httptest.NewServer(Middleware(nil, logger, mux))
	t.Cleanup(func() {
		srv.Close()
		orch.Wait()
	})
	return &testServer{Server: srv, orch: orch, jwt: jwtManager}
}

func (s *testServer) do(t *testing.T, method, path, body string) *http.Response {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, s.URL+path, r)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func (s *testServer) startQuick(t *testing.T, query string) string {
	t.Helper()
	resp := s.do(t, http.MethodPost, "/api/v1/research", `{"query":"`+query+`","mode":"quick"}`)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	created := decode[createResponse](t, resp)
	require.NotEmpty(t, created.TaskID)
	return created.TaskID
}

func TestCreateAndGetResearch(t *testing.T) {
	s := newTestServer(t, true)

	resp := s.do(t, http.MethodPost, "/api/v1/research", `{"query":"solid state batteries","mode":"quick"}`)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	created := decode[createResponse](t, resp)
	assert.Equal(t, models.ModeQuick, created.Mode)
	assert.Equal(t, "x-ai/grok-4.1-fast", created.Models.Researcher)
	assert.Equal(t, "/api/v1/research/"+created.TaskID, resp.Header.Get("Location"))
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))

	s.orch.Wait()

	task := decode[models.ResearchTask](t, s.do(t, http.MethodGet, "/api/v1/research/"+created.TaskID, ""))
	assert.Equal(t, models.StatusCompleted, task.Status)
	assert.Equal(t, 100, task.Progress)
	assert.Equal(t, []string{"answer"}, task.Results)
	assert.Greater(t, task.TotalCost, 0.0)
}

func TestCreateResearchModeDefaultsToDeep(t *testing.T) {
	s := newTestServer(t, true)
	resp := s.do(t, http.MethodPost, "/api/v1/research", `{"query":"q","preset":"balanced","models":{"writer":"custom/writer"}}`)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	created := decode[createResponse](t, resp)
	assert.Equal(t, models.ModeDeep, created.Mode)
	assert.Equal(t, "anthropic/claude-haiku-4.5", created.Models.Planner)
	assert.Equal(t, "custom/writer", created.Models.Writer)
}

func TestCreateResearchRejectsBadRequests(t *testing.T) {
	s := newTestServer(t, true)
	for name, body := range map[string]string{
		"malformed":        `{"query":`,
		"unknown field":    `{"query":"q","extra":1}`,
		"empty query":      `{"query":"   ","mode":"quick"}`,
		"unknown mode":     `{"query":"q","mode":"slow"}`,
		"unknown preset":   `{"query":"q","preset":"nope"}`,
		"custom no models": `{"query":"q","preset":"custom"}`,
	} {
		t.Run(name, func(t *testing.T) {
			resp := s.do(t, http.MethodPost, "/api/v1/research", body)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
			errBody := decode[map[string]string](t, resp)
			assert.NotEmpty(t, errBody["error"])
		})
	}
	assert.Empty(t, s.orch.Tasks())
}

func TestListAndDeleteResearch(t *testing.T) {
	s := newTestServer(t, true)
	first := s.startQuick(t, "one")
	second := s.startQuick(t, "two")
	s.orch.Wait()

	list := decode[listResponse](t, s.do(t, http.MethodGet, "/api/v1/research", ""))
	assert.Equal(t, 2, list.Count)

	list = decode[listResponse](t, s.do(t, http.MethodGet, "/api/v1/research?status=failed", ""))
	assert.Equal(t, 0, list.Count)

	resp := s.do(t, http.MethodDelete, "/api/v1/research/"+first, "")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodGet, "/api/v1/research/"+first, "").StatusCode)
	assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodDelete, "/api/v1/research/"+first, "").StatusCode)

	list = decode[listResponse](t, s.do(t, http.MethodGet, "/api/v1/research?status=completed", ""))
	require.Equal(t, 1, list.Count)
	assert.Equal(t, second, list.Tasks[0].ID)
}

func TestModelsAndPresets(t *testing.T) {
	s := newTestServer(t, true)

	all := decode[map[string][]models.ChatModel](t, s.do(t, http.MethodGet, "/api/v1/models", ""))
	assert.NotEmpty(t, all["models"])

	search := decode[map[string][]models.ChatModel](t, s.do(t, http.MethodGet, "/api/v1/models?capability=research", ""))
	assert.NotEmpty(t, search["models"])
	assert.LessOrEqual(t, len(search["models"]), len(all["models"]))
	for _, m := range search["models"] {
		assert.True(t, m.HasCapability("research"), m.ID)
	}

	var presets struct {
		Presets []models.Preset `json:"presets"`
		Default string          `json:"default"`
	}
	require.NoError(t, json.NewDecoder(s.do(t, http.MethodGet, "/api/v1/presets", "").Body).Decode(&presets))
	assert.Equal(t, "fast", presets.Default)
	assert.Len(t, presets.Presets, 3)
}

func TestAuthenticationRequired(t *testing.T) {
	s := newTestServer(t, false)
	assert.Equal(t, http.StatusUnauthorized, s.do(t, http.MethodGet, "/api/v1/research", "").StatusCode)

	reader, err := s.jwt.IssueToken("reader", []string{auth.ScopeResearchRead})
	require.NoError(t, err)

	get, _ := http.NewRequest(http.MethodGet, s.URL+"/api/v1/research", nil)
	get.Header.Set("Authorization", "Bearer "+reader)
	resp, err := http.DefaultClient.Do(get)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	post, _ := http.NewRequest(http.MethodPost, s.URL+"/api/v1/research", strings.NewReader(`{"query":"q"}`))
	post.Header.Set("Authorization", "Bearer "+reader)
	resp, err = http.DefaultClient.Do(post)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

type sseFrame struct {
	id    string
	event string
	data  string
}

func readSSE(t *testing.T, body io.Reader) []sseFrame {
	t.Helper()
	var frames []sseFrame
	var cur sseFrame
	sc := bufio.NewScanner(body)
	for sc.Scan() {
		line := sc.Text()
		switch {
		case line == "":
			if cur.event != "" {
				frames = append(frames, cur)
			}
			cur = sseFrame{}
		case strings.HasPrefix(line, "id: "):
			cur.id = strings.TrimPrefix(line, "id: ")
		case strings.HasPrefix(line, "event: "):
			cur.event = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			cur.data = strings.TrimPrefix(line, "data: ")
		}
	}
	return frames
}

func TestSSEReplaysHistoryAndEnds(t *testing.T) {
	s := newTestServer(t, true)
	id := s.startQuick(t, "sse")
	s.orch.Wait()

	resp := s.do(t, http.MethodGet, "/stream/sse?task_id="+id, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	frames := readSSE(t, resp.Body)
	require.NotEmpty(t, frames)
	assert.Equal(t, "1", frames[0].id)
	assert.Equal(t, streaming.EventLog, frames[0].event)
	last := frames[len(frames)-1]
	assert.Equal(t, streaming.EventDone, last.event)

	var done streaming.Event
	require.NoError(t, json.Unmarshal([]byte(last.data), &done))
	assert.Equal(t, id, done.TaskID)
	assert.Equal(t, models.StatusCompleted, done.Status)
	assert.Equal(t, 100, done.Progress)

	// resume after the third event
	req, _ := http.NewRequest(http.MethodGet, s.URL+"/stream/sse?task_id="+id, nil)
	req.Header.Set("Last-Event-ID", "3")
	resumed, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resumed.Body.Close()
	rest := readSSE(t, resumed.Body)
	require.Len(t, rest, len(frames)-3)
	for _, f := range rest {
		n, err := strconv.Atoi(f.id)
		require.NoError(t, err)
		assert.Greater(t, n, 3)
	}
}

func TestSSETypeFilterKeepsTerminalEvents(t *testing.T) {
	s := newTestServer(t, true)
	id := s.startQuick(t, "filter")
	s.orch.Wait()

	frames := readSSE(t, s.do(t, http.MethodGet, "/stream/sse?task_id="+id+"&types=update", "").Body)
	require.NotEmpty(t, frames)
	for _, f := range frames[:len(frames)-1] {
		assert.Equal(t, streaming.EventUpdate, f.event)
	}
	assert.Equal(t, streaming.EventDone, frames[len(frames)-1].event)
}

func TestSSEErrors(t *testing.T) {
	s := newTestServer(t, true)
	assert.Equal(t, http.StatusBadRequest, s.do(t, http.MethodGet, "/stream/sse", "").StatusCode)
	assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodGet, "/stream/sse?task_id=missing", "").StatusCode)
}

func TestWebSocketStreamsUntilDone(t *testing.T) {
	s := newTestServer(t, true)
	id := s.startQuick(t, "ws")

	url := "ws" + strings.TrimPrefix(s.URL, "http") + "/stream/ws?task_id=" + id
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	defer conn.Close()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var got []streaming.Event
	for {
		var evt streaming.Event
		if err := conn.ReadJSON(&evt); err != nil {
			break
		}
		got = append(got, evt)
		if evt.Terminal() {
			break
		}
	}
	require.NotEmpty(t, got)
	assert.Equal(t, streaming.EventDone, got[len(got)-1].Type)
	for i := 1; i < len(got); i++ {
		assert.Greater(t, got[i].Seq, got[i-1].Seq)
	}
}

func TestOriginAllowed(t *testing.T) {
	assert.True(t, originAllowed(nil, "https://example.com"))
	assert.True(t, originAllowed([]string{"*"}, "https://example.com"))
	assert.True(t, originAllowed([]string{"https://Example.com"}, "https://example.com"))
	assert.False(t, originAllowed([]string{"https://other.com"}, "https://example.com"))
	assert.True(t, originAllowed([]string{"https://other.com"}, ""))
}

func TestMiddlewareRecoversPanics(t *testing.T) {
	h := Middleware(nil, zaptest.NewLogger(t), http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestMiddlewareCORSPreflight(t *testing.T) {
	h := Middleware([]string{"https://app.example"}, nil, http.NotFoundHandler())
	req := httptest.NewRequest(http.MethodOptions, "/api/v1/research", nil)
	req.Header.Set("Origin", "https://app.example")
	req.Header.Set("Access-Control-Request-Method", "POST")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "https://app.example", rec.Header().Get("Access-Control-Allow-Origin"))
}
