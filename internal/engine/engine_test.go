package engine

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/snapp-incubator/mokzi/internal/decider"
	"github.com/snapp-incubator/mokzi/internal/domainconfig"
	"github.com/snapp-incubator/mokzi/internal/fileurl"
	"github.com/snapp-incubator/mokzi/internal/mock"
	"github.com/snapp-incubator/mokzi/internal/saver"
	"github.com/snapp-incubator/mokzi/internal/storage"
)

type origin struct {
	*httptest.Server
	hits    atomic.Int32
	mu      sync.Mutex
	headers []http.Header
}

func newOrigin(t *testing.T, status int, body string) *origin {
	t.Helper()
	o := &origin{}
	o.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		o.hits.Add(1)
		o.mu.Lock()
		o.headers = append(o.headers, r.Header.Clone())
		o.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("X-Origin", "yes")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(o.Close)
	return o
}

func (o *origin) lastHeader() http.Header {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.headers[len(o.headers)-1]
}

type fixture struct {
	builder *fileurl.Builder
	engine  *Engine
}

func newFixture(t *testing.T, opts Options, deps Deps) *fixture {
	t.Helper()
	logger := zaptest.NewLogger(t)
	b := fileurl.NewBuilder(t.TempDir())

	if deps.Deciders == nil {
		deps.Deciders = decider.NewRegistry(b, logger)
	}
	if deps.Recorder == nil {
		deps.Recorder = saver.New(b, logger)
	}
	return &fixture{builder: b, engine: New(deps, opts, logger)}
}

func (f *fixture) configure(t *testing.T, domain string, cfg *domainconfig.Configuration) {
	t.Helper()
	require.NoError(t, f.builder.EnsureDomainSkeleton(domain))
	path, err := f.builder.ConfigFile(domain)
	require.NoError(t, err)
	require.NoError(t, domainconfig.NewSource(path, zaptest.NewLogger(t)).Save(cfg))
}

func request(t *testing.T, rawURL, method string, flags map[string]string) Request {
	t.Helper()
	u, err := url.Parse(rawURL)
	require.NoError(t, err)
	return Request{URL: u, Method: method, Headers: map[string]string{}, Flags: flags}
}

func live() Options {
	return Options{LiveEnabled: true}
}

func TestHandleRecordsThenServesMock(t *testing.T) {
	o := newOrigin(t, http.StatusOK, `{"id":1,"name":"a"}`)
	f := newFixture(t, live(), Deps{})
	ctx := context.Background()

	res, err := f.engine.Handle(ctx, request(t, o.URL+"/users/1", "get", nil))
	require.NoError(t, err)
	assert.Equal(t, SourceLive, res.Source)
	assert.Equal(t, decider.MockNotFound, res.Decision)
	assert.Equal(t, http.StatusOK, res.Status)
	assert.Equal(t, "yes", res.Headers["X-Origin"])
	require.NotEmpty(t, res.MockFile)

	folder, err := f.builder.MockListFolder(DefaultDomain, "/users/1", "GET")
	require.NoError(t, err)
	assert.Equal(t, folder, filepath.Dir(res.MockFile))

	stored, err := mock.ReadFile(res.MockFile, false)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, stored.HTTPStatus)
	assert.Equal(t, mock.BodyJSON, stored.ResponseBody.Type())
	assert.Greater(t, stored.ResponseTime, 0.0)

	res, err = f.engine.Handle(ctx, request(t, o.URL+"/users/1", "GET", nil))
	require.NoError(t, err)
	assert.Equal(t, SourceMock, res.Source)
	assert.Equal(t, decider.UseMock, res.Decision)
	assert.JSONEq(t, `{"id":1,"name":"a"}`, string(res.Body))
	assert.Equal(t, stored.ID, res.MockID)
	assert.Equal(t, int32(1), o.hits.Load())
}

func TestHandleLiveDisabledAnswers404(t *testing.T) {
	f := newFixture(t, Options{}, Deps{})

	res, err := f.engine.Handle(context.Background(), request(t, "http://api.example.com/users/1", "GET", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, res.Status)
	assert.Equal(t, SourceError, res.Source)
	assert.Equal(t, "application/json", res.Headers["Content-Type"])
	assert.Contains(t, string(res.Body), "mock not found")
}

func TestHandleDisableLiveEnvironmentFlag(t *testing.T) {
	o := newOrigin(t, http.StatusOK, `{}`)
	f := newFixture(t, live(), Deps{})

	res, err := f.engine.Handle(context.Background(),
		request(t, o.URL+"/a", "GET", map[string]string{FlagDisableLiveEnvironment: "true"}))
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, res.Status)
	assert.Zero(t, o.hits.Load())
}

func TestHandleShouldNotMock(t *testing.T) {
	o := newOrigin(t, http.StatusOK, `{}`)
	f := newFixture(t, live(), Deps{})
	flags := map[string]string{FlagShouldNotMock: "1"}

	for i := 0; i < 2; i++ {
		res, err := f.engine.Handle(context.Background(), request(t, o.URL+"/a", "GET", flags))
		require.NoError(t, err)
		assert.Equal(t, SourceLive, res.Source)
		assert.Empty(t, res.MockFile)
	}
	assert.Equal(t, int32(2), o.hits.Load())
}

func TestHandleSaveFilters(t *testing.T) {
	o := newOrigin(t, http.StatusOK, `{}`)
	f := newFixture(t, live(), Deps{})

	cfg := domainconfig.Default()
	cfg.SaveFilters = []domainconfig.SaveFilterRule{
		{Location: domainconfig.LocationPath, Comparison: domainconfig.CompareContains, InputText: "users", LogicType: domainconfig.LogicOr},
		{Location: domainconfig.LocationMethod, Comparison: domainconfig.CompareEqual, InputText: "PUT", LogicType: domainconfig.LogicAnd},
		{Location: domainconfig.LocationStatusCode, Comparison: domainconfig.CompareEqual, InputText: "200", LogicType: domainconfig.LogicMock},
	}
	f.configure(t, DefaultDomain, cfg)

	res, err := f.engine.Handle(context.Background(), request(t, o.URL+"/users", "PUT", nil))
	require.NoError(t, err)
	assert.NotEmpty(t, res.MockFile)

	res, err = f.engine.Handle(context.Background(), request(t, o.URL+"/users", "GET", nil))
	require.NoError(t, err)
	assert.Empty(t, res.MockFile)
}

func TestHandleScenarioFromDevice(t *testing.T) {
	o := newOrigin(t, http.StatusOK, `{"basket":[]}`)
	f := newFixture(t, live(), Deps{})
	ctx := context.Background()

	require.NoError(t, f.engine.AddScenario("emptyCart"))
	require.NoError(t, f.engine.AssignScenario("d1", "emptyCart"))
	assert.Equal(t, []string{"emptyCart"}, f.engine.Scenarios())

	device := map[string]string{FlagDeviceID: "d1"}
	res, err := f.engine.Handle(ctx, request(t, o.URL+"/cart", "GET", device))
	require.NoError(t, err)
	assert.Equal(t, decider.ScenarioNotFound, res.Decision)
	assert.Contains(t, filepath.Base(res.MockFile), "emptyCart")

	res, err = f.engine.Handle(ctx, request(t, o.URL+"/cart", "GET", device))
	require.NoError(t, err)
	assert.Equal(t, decider.UseMock, res.Decision)

	res, err = f.engine.Handle(ctx, request(t, o.URL+"/cart", "GET", nil))
	require.NoError(t, err)
	assert.Equal(t, decider.MockNotFound, res.Decision)

	f.engine.RemoveScenario("emptyCart")
	assert.Empty(t, f.engine.Scenarios())
	res, err = f.engine.Handle(ctx, request(t, o.URL+"/cart", "GET", device))
	require.NoError(t, err)
	assert.Equal(t, decider.UseMock, res.Decision, "the plain mock recorded above answers")
}

func TestHandleTransportErrorYieldsZeroStatus(t *testing.T) {
	o := newOrigin(t, http.StatusOK, `{}`)
	addr := o.URL
	o.Close()
	f := newFixture(t, live(), Deps{})

	res, err := f.engine.Handle(context.Background(), request(t, addr+"/a", "GET", nil))
	require.NoError(t, err)
	assert.Equal(t, 0, res.Status)
	assert.Equal(t, SourceLive, res.Source)
	assert.Empty(t, res.MockFile)
}

func TestHandleIgnoreDomainForwardsWithoutSaving(t *testing.T) {
	o := newOrigin(t, http.StatusOK, `{}`)
	f := newFixture(t, Options{}, Deps{})

	cfg := domainconfig.Default()
	cfg.App.Domains = []string{"example.com"}
	f.configure(t, DefaultDomain, cfg)

	res, err := f.engine.Handle(context.Background(), request(t, o.URL+"/a", "GET", nil))
	require.NoError(t, err)
	assert.Equal(t, decider.IgnoreDomain, res.Decision)
	assert.Equal(t, http.StatusOK, res.Status)
	assert.Empty(t, res.MockFile)
	assert.Equal(t, int32(1), o.hits.Load())
}

func TestHandleWildcardPathRuleSharesMocks(t *testing.T) {
	o := newOrigin(t, http.StatusOK, `{"user":true}`)
	f := newFixture(t, live(), Deps{})

	cfg := domainconfig.Default()
	cfg.PathRules = []domainconfig.PathRule{{Path: "/users/*"}}
	f.configure(t, DefaultDomain, cfg)

	res, err := f.engine.Handle(context.Background(), request(t, o.URL+"/users/7", "GET", nil))
	require.NoError(t, err)
	assert.Contains(t, res.MockFile, "+users+*")

	res, err = f.engine.Handle(context.Background(), request(t, o.URL+"/users/8", "GET", nil))
	require.NoError(t, err)
	assert.Equal(t, SourceMock, res.Source)
	assert.Equal(t, int32(1), o.hits.Load())
}

func TestHandleDisableMockResponseGoesLiveWithoutRecording(t *testing.T) {
	o := newOrigin(t, http.StatusOK, `{}`)
	f := newFixture(t, live(), Deps{})
	ctx := context.Background()

	first, err := f.engine.Handle(ctx, request(t, o.URL+"/a", "GET", nil))
	require.NoError(t, err)
	require.NotEmpty(t, first.MockFile)

	res, err := f.engine.Handle(ctx, request(t, o.URL+"/a", "GET", map[string]string{FlagDisableMockResponse: "true"}))
	require.NoError(t, err)
	assert.Equal(t, SourceLive, res.Source)
	assert.Empty(t, res.MockFile)

	entries, err := os.ReadDir(filepath.Dir(first.MockFile))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestHandleSimulatedLatencyHonoursContext(t *testing.T) {
	f := newFixture(t, Options{}, Deps{})

	r := mock.New("http://api.example.com/slow", "GET")
	r.HTTPStatus = 200
	r.ResponseTime = 5
	_, saved, err := saver.New(f.builder, zaptest.NewLogger(t)).Save(r, DefaultDomain)
	require.NoError(t, err)
	require.True(t, saved)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = f.engine.Handle(ctx, request(t, "http://api.example.com/slow", "GET", nil))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestHandleRedactsRecordedMocks(t *testing.T) {
	o := newOrigin(t, http.StatusOK, `{"token":"secret","name":"a"}`)
	f := newFixture(t, Options{
		LiveEnabled:     true,
		RedactJSONPaths: []string{"token", "missing.path"},
		RedactHeaders:   []string{"authorization"},
	}, Deps{})

	req := request(t, o.URL+"/login", "POST", nil)
	req.Headers["Authorization"] = "Bearer abc"
	req.Body = []byte(`{"password":"x"}`)

	res, err := f.engine.Handle(context.Background(), req)
	require.NoError(t, err)
	assert.Contains(t, string(res.Body), "secret", "the caller gets the live answer")
	assert.Equal(t, "Bearer abc", o.lastHeader().Get("Authorization"))

	stored, err := mock.ReadFile(res.MockFile, false)
	require.NoError(t, err)
	assert.JSONEq(t, `{"token":"[REDACTED]","name":"a"}`, stored.ResponseBody.Description())
	assert.Equal(t, "[REDACTED]", stored.RequestHeader["Authorization"])
	assert.JSONEq(t, `{"password":"x"}`, stored.RequestBody.Description())
}

type rewritingPlugins struct {
	NopPlugins
}

func (rewritingPlugins) ReloadRequest(_ string, req Request) Request {
	u := *req.URL
	u.Path = strings.TrimSuffix(u.Path, "/")
	req.URL = &u
	return req
}

func (rewritingPlugins) UpdateLiveRequest(domain string, req *http.Request) error {
	req.Header.Set("X-Mock-Domain", domain)
	return nil
}

func (rewritingPlugins) MockError(string, Request) []byte {
	return []byte("nothing recorded")
}

func TestHandleUsesPlugins(t *testing.T) {
	o := newOrigin(t, http.StatusOK, `{}`)
	f := newFixture(t, live(), Deps{Plugins: rewritingPlugins{}})

	res, err := f.engine.Handle(context.Background(),
		request(t, o.URL+"/users/", "GET", map[string]string{FlagMockDomain: "Stage"}))
	require.NoError(t, err)
	assert.Equal(t, "Stage", o.lastHeader().Get("X-Mock-Domain"))

	folder, err := f.builder.MockListFolder("Stage", "/users", "GET")
	require.NoError(t, err)
	assert.Equal(t, folder, filepath.Dir(res.MockFile))

	off := newFixture(t, Options{}, Deps{Plugins: rewritingPlugins{}})
	res, err = off.engine.Handle(context.Background(), request(t, "http://api.example.com/x", "GET", nil))
	require.NoError(t, err)
	assert.Equal(t, "nothing recorded", string(res.Body))
	assert.Equal(t, "text/plain; charset=utf-8", res.Headers["Content-Type"])
}

func TestHandleRejectsMalformedDomain(t *testing.T) {
	f := newFixture(t, live(), Deps{})
	_, err := f.engine.Handle(context.Background(),
		request(t, "http://api.example.com/x", "GET", map[string]string{FlagMockDomain: "../etc"}))
	assert.ErrorIs(t, err, fileurl.ErrMalformedURL)
}

type memoryStorage struct {
	mu   sync.Mutex
	logs []storage.Log
}

func (m *memoryStorage) Store(l storage.Log) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.logs = append(m.logs, l)
	return nil
}

func TestHandleLogsTraffic(t *testing.T) {
	o := newOrigin(t, http.StatusCreated, `{}`)
	store := &memoryStorage{}
	workers := StartWorkers(2, 8)
	f := newFixture(t, Options{LiveEnabled: true, RedactHeaders: []string{"Cookie"}}, Deps{Workers: workers, Storage: store})

	req := request(t, o.URL+"/orders", "POST", map[string]string{FlagDeviceID: "d9"})
	req.Headers["Cookie"] = "session=1"
	res, err := f.engine.Handle(context.Background(), req)
	require.NoError(t, err)
	workers.Stop()

	require.Len(t, store.logs, 1)
	l := store.logs[0]
	assert.Equal(t, DefaultDomain, l.MockDomain)
	assert.Equal(t, "mock_not_found", l.Decision)
	assert.Equal(t, "live", l.Source)
	assert.Equal(t, http.StatusCreated, l.StatusCode)
	assert.Equal(t, "d9", l.DeviceID)
	assert.Equal(t, res.MockID, l.MockID)
	assert.True(t, l.Saved)
	assert.Equal(t, "[REDACTED]", l.Headers["Cookie"])

	data, err := json.Marshal(l)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"mock_domain":"Dev"`)
}

type unreachableDeciders struct{}

func (unreachableDeciders) Decider(domain string) (*decider.Decider, error) {
	return nil, os.ErrPermission
}

func TestHandlePassthroughSkipsDecision(t *testing.T) {
	o := newOrigin(t, http.StatusAccepted, `{}`)
	opts := Options{Passthrough: func(method, path string) bool {
		return method == http.MethodGet && strings.HasPrefix(path, "/health")
	}}
	f := newFixture(t, opts, Deps{Deciders: unreachableDeciders{}})

	res, err := f.engine.Handle(context.Background(), request(t, o.URL+"/health/live", "get", nil))
	require.NoError(t, err)
	assert.Equal(t, decider.IgnoreDomain, res.Decision)
	assert.Equal(t, SourceLive, res.Source)
	assert.Equal(t, http.StatusAccepted, res.Status)
	assert.Empty(t, res.MockFile)

	_, err = f.engine.Handle(context.Background(), request(t, o.URL+"/users", "GET", nil))
	assert.ErrorIs(t, err, os.ErrPermission)
}
