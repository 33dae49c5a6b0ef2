package mgmt

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/p-blackswan/roadmap-agent/internal/health"
	"github.com/p-blackswan/roadmap-agent/internal/metrics"
	"github.com/p-blackswan/roadmap-agent/internal/mirror"
	"github.com/p-blackswan/roadmap-agent/internal/render"
	"github.com/p-blackswan/roadmap-agent/internal/roadmap"
	"github.com/p-blackswan/roadmap-agent/internal/store"
)

// fakePort records pushes and fails edits with editErr when set.
type fakePort struct {
	mu      sync.Mutex
	sends   int
	edits   int
	editErr error
	last    string
}

func (p *fakePort) Send(_ context.Context, _ string, text string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sends++
	p.last = text
	return fmt.Sprintf("%d", p.sends), nil
}

func (p *fakePort) Edit(_ context.Context, _, _ string, text string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.edits++
	if p.editErr != nil {
		return p.editErr
	}
	p.last = text
	return nil
}

func (p *fakePort) Delete(context.Context, string, string) error { return nil }

type testServer struct {
	app  *fiber.App
	port *fakePort
}

func newTestServer(t *testing.T, auth AuthConfig) *testServer {
	t.Helper()
	logger := zerolog.Nop()

	ds, err := store.New(":memory:", logger)
	require.NoError(t, err)
	t.Cleanup(func() { ds.Close() })

	st := roadmap.NewStore(ds, logger)
	renderer, err := render.New(render.FormatHTML, nil, 0)
	require.NoError(t, err)

	m := metrics.New()
	port := &fakePort{}
	engine := mirror.NewEngine(port, st, roadmap.ContentSource(st, renderer), m, logger)
	coord := roadmap.NewCoordinator(st, engine, m, 2, logger)

	checker := health.NewChecker(logger)
	checker.Register("database", health.Required(st.Ping))

	srv := NewServer(ServerConfig{
		ListenAddr: ":0",
		AuthConfig: auth,
		RateLimit:  RateLimitConfig{RPS: 1000, Burst: 1000},
	}, coord, renderer, checker, m, logger)
	return &testServer{app: srv.App(), port: port}
}

func (ts *testServer) do(t *testing.T, method, path, body string, out any) int {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, path, r)
	require.NoError(t, err)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set(ActorHeader, "user-1")

	resp, err := ts.app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func (ts *testServer) createProject(t *testing.T, name string) *roadmap.Project {
	t.Helper()
	var res MutationResponse
	code := ts.do(t, http.MethodPost, "/api/v1/projects", fmt.Sprintf(`{"name":%q}`, name), &res)
	require.Equal(t, http.StatusCreated, code)
	return res.Project
}

func (ts *testServer) appendTask(t *testing.T, projectID, title string) *roadmap.Task {
	t.Helper()
	var res MutationResponse
	code := ts.do(t, http.MethodPost, "/api/v1/projects/"+projectID+"/tasks", fmt.Sprintf(`{"title":%q}`, title), &res)
	require.Equal(t, http.StatusCreated, code)
	return res.Task
}

func noAuth() AuthConfig { return AuthConfig{Mode: AuthNone} }

func TestServer_Probes(t *testing.T) {
	ts := newTestServer(t, AuthConfig{Mode: AuthAPIKey, APIKey: "secret"})

	var body map[string]any
	assert.Equal(t, http.StatusOK, ts.do(t, http.MethodGet, "/healthz", "", &body))
	assert.Equal(t, "ok", body["status"])

	assert.Equal(t, http.StatusOK, ts.do(t, http.MethodGet, "/readyz", "", &body))
	assert.Equal(t, "ready", body["status"])

	req, _ := http.NewRequest(http.MethodGet, "/metrics", nil)
	resp, err := ts.app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestServer_ProjectLifecycle(t *testing.T) {
	ts := newTestServer(t, noAuth())
	p := ts.createProject(t, "Launch")
	assert.Equal(t, "user-1", p.OwnerID, "owner defaults to the actor")

	var list ProjectListResponse
	assert.Equal(t, http.StatusOK, ts.do(t, http.MethodGet, "/api/v1/projects?owner=user-1", "", &list))
	assert.Equal(t, 1, list.Total)

	var upd MutationResponse
	assert.Equal(t, http.StatusOK, ts.do(t, http.MethodPatch, "/api/v1/projects/"+p.ID, `{"name":"Launch v2"}`, &upd))
	assert.True(t, upd.Changed)
	assert.Equal(t, "Launch v2", upd.Project.Name)
	assert.Equal(t, "skipped", upd.Mirror.Outcome, "unbound projects are not mirrored")

	assert.Equal(t, http.StatusOK, ts.do(t, http.MethodDelete, "/api/v1/projects/"+p.ID, "", nil))

	var problem ProblemDetail
	assert.Equal(t, http.StatusNotFound, ts.do(t, http.MethodGet, "/api/v1/projects/"+p.ID, "", &problem))
	assert.Equal(t, "not_found", problem.Type)
}

func TestServer_CreateProjectValidation(t *testing.T) {
	ts := newTestServer(t, noAuth())

	var problem ProblemDetail
	assert.Equal(t, http.StatusBadRequest, ts.do(t, http.MethodPost, "/api/v1/projects", `{"name":"  "}`, &problem))
	assert.Equal(t, "invalid_input", problem.Type)

	assert.Equal(t, http.StatusBadRequest, ts.do(t, http.MethodPost, "/api/v1/projects", `{not json`, &problem))
	assert.Equal(t, "invalid_body", problem.Type)
}

func TestServer_BindMoveAndMirror(t *testing.T) {
	ts := newTestServer(t, noAuth())
	p := ts.createProject(t, "Launch")
	a := ts.appendTask(t, p.ID, "Design")
	ts.appendTask(t, p.ID, "Build")
	c := ts.appendTask(t, p.ID, "Test")

	var bind MutationResponse
	require.Equal(t, http.StatusOK, ts.do(t, http.MethodPut, "/api/v1/projects/"+p.ID+"/channel", `{"channel_ref":"@launch"}`, &bind))
	assert.Equal(t, "created", bind.Mirror.Outcome)
	assert.Equal(t, "1", bind.Mirror.MessageRef)
	assert.Equal(t, "@launch", bind.Project.ChannelRef)

	var move MutationResponse
	require.Equal(t, http.StatusOK, ts.do(t, http.MethodPost, "/api/v1/tasks/"+c.ID+"/move", `{"position":1}`, &move))
	assert.Equal(t, "updated", move.Mirror.Outcome)
	assert.Equal(t, 1, move.Task.Position)

	var tasks TaskListResponse
	require.Equal(t, http.StatusOK, ts.do(t, http.MethodGet, "/api/v1/projects/"+p.ID+"/tasks", "", &tasks))
	var order []string
	for _, tk := range tasks.Tasks {
		order = append(order, fmt.Sprintf("%d:%s", tk.Position, tk.Title))
	}
	assert.Equal(t, []string{"1:Test", "2:Design", "3:Build"}, order)

	idx := strings.Index(ts.port.last, "1. ⏳ Test")
	assert.True(t, idx >= 0 && idx < strings.Index(ts.port.last, "2. ⏳ Design"), ts.port.last)

	var noop MutationResponse
	require.Equal(t, http.StatusOK, ts.do(t, http.MethodPost, "/api/v1/tasks/"+a.ID+"/move", `{"position":2}`, &noop))
	assert.False(t, noop.Changed)
	assert.Equal(t, "skipped", noop.Mirror.Outcome)

	var problem ProblemDetail
	assert.Equal(t, http.StatusBadRequest, ts.do(t, http.MethodPost, "/api/v1/tasks/"+a.ID+"/move", `{"position":9}`, &problem))
	assert.Equal(t, "invalid_position", problem.Type)

	assert.Equal(t, http.StatusBadRequest, ts.do(t, http.MethodPost, "/api/v1/tasks/"+c.ID+"/up", "", &problem))
	assert.Equal(t, http.StatusOK, ts.do(t, http.MethodPost, "/api/v1/tasks/"+c.ID+"/down", "", nil))
}

func TestServer_MirrorFailureIsAWarning(t *testing.T) {
	ts := newTestServer(t, noAuth())
	p := ts.createProject(t, "Launch")
	require.Equal(t, http.StatusOK, ts.do(t, http.MethodPut, "/api/v1/projects/"+p.ID+"/channel", `{"channel_ref":"@launch"}`, nil))

	ts.port.editErr = mirror.NewError("edit", mirror.ReasonTargetGone, nil)
	var res MutationResponse
	require.Equal(t, http.StatusCreated, ts.do(t, http.MethodPost, "/api/v1/projects/"+p.ID+"/tasks", `{"title":"A"}`, &res))
	assert.Equal(t, "unlinked", res.Mirror.Outcome)
	assert.True(t, res.Mirror.Unlinked)
	assert.NotEmpty(t, res.Mirror.Warning)
	assert.Equal(t, 1, res.Task.Position, "the mutation still committed")
	assert.Empty(t, res.Project.ChannelRef)
}

func TestServer_StatusAndUpdateTask(t *testing.T) {
	ts := newTestServer(t, noAuth())
	p := ts.createProject(t, "Launch")
	task := ts.appendTask(t, p.ID, "Design")

	var res MutationResponse
	require.Equal(t, http.StatusOK, ts.do(t, http.MethodPost, "/api/v1/tasks/"+task.ID+"/status", `{"status":"in_progress"}`, &res))
	assert.Equal(t, roadmap.StatusInProgress, res.Task.Status)

	var problem ProblemDetail
	assert.Equal(t, http.StatusBadRequest, ts.do(t, http.MethodPost, "/api/v1/tasks/"+task.ID+"/status", `{"status":"done"}`, &problem))
	assert.Equal(t, "invalid_input", problem.Type)

	require.Equal(t, http.StatusOK, ts.do(t, http.MethodPatch, "/api/v1/tasks/"+task.ID, `{"title":"Design v2","priority":"high"}`, &res))
	assert.Equal(t, "Design v2", res.Task.Title)
	assert.Equal(t, roadmap.PriorityHigh, res.Task.Priority)

	var got roadmap.Task
	require.Equal(t, http.StatusOK, ts.do(t, http.MethodGet, "/api/v1/tasks/"+task.ID, "", &got))
	assert.Equal(t, "Design v2", got.Title)

	require.Equal(t, http.StatusOK, ts.do(t, http.MethodDelete, "/api/v1/tasks/"+task.ID, "", nil))
	assert.Equal(t, http.StatusNotFound, ts.do(t, http.MethodGet, "/api/v1/tasks/"+task.ID, "", &problem))
}

func TestServer_RoadmapAndEvents(t *testing.T) {
	ts := newTestServer(t, noAuth())
	p := ts.createProject(t, "Launch")
	ts.appendTask(t, p.ID, "Design")

	var rm RoadmapResponse
	require.Equal(t, http.StatusOK, ts.do(t, http.MethodGet, "/api/v1/projects/"+p.ID+"/roadmap", "", &rm))
	assert.Equal(t, "html", rm.Format)
	assert.Contains(t, rm.Text, "<b>Roadmap: Launch</b>")
	assert.Contains(t, rm.Text, "1. ⏳ Design")

	var ev EventListResponse
	require.Equal(t, http.StatusOK, ts.do(t, http.MethodGet, "/api/v1/projects/"+p.ID+"/events?limit=10", "", &ev))
	require.Len(t, ev.Events, 2)
	assert.Equal(t, roadmap.EventTaskAdded, ev.Events[0].EventType)
	assert.Equal(t, roadmap.EventCreated, ev.Events[1].EventType)
	assert.Equal(t, "user-1", ev.Events[0].ActorID)
}

func TestServer_RequestIDEchoed(t *testing.T) {
	ts := newTestServer(t, noAuth())

	req, _ := http.NewRequest(http.MethodGet, "/api/v1/projects", nil)
	req.Header.Set("X-Request-ID", "trace-42")
	resp, err := ts.app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, "trace-42", resp.Header.Get("X-Request-ID"))

	req, _ = http.NewRequest(http.MethodGet, "/api/v1/projects", nil)
	resp, err = ts.app.Test(req, -1)
	require.NoError(t, err)
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))
}

func TestServer_UnknownRoute(t *testing.T) {
	ts := newTestServer(t, noAuth())
	var problem ProblemDetail
	assert.Equal(t, http.StatusNotFound, ts.do(t, http.MethodGet, "/api/v1/nope", "", &problem))
	assert.Equal(t, http.StatusNotFound, problem.Status)
}
