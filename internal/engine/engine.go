// Package engine answers requests from recorded mocks, the live origin or a
// synthesized error, and records live answers as new mocks.
package engine

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/snapp-incubator/mokzi/internal/decider"
	"github.com/snapp-incubator/mokzi/internal/domainconfig"
	"github.com/snapp-incubator/mokzi/internal/metrics"
	"github.com/snapp-incubator/mokzi/internal/mock"
	"github.com/snapp-incubator/mokzi/internal/storage"
)

// Request is an incoming request with its raw flags.
type Request struct {
	URL     *url.URL
	Method  string
	Headers map[string]string
	Body    []byte
	Flags   map[string]string
}

// Source tells where a response came from.
type Source string

const (
	SourceMock  Source = "mock"
	SourceLive  Source = "live"
	SourceError Source = "error"
)

type Response struct {
	// Status is zero when the live origin could not be reached or read.
	Status  int
	Body    []byte
	Headers map[string]string

	Source   Source
	Decision decider.Kind
	// MockID and MockFile name the served mock, or the one recorded.
	MockID   string
	MockFile string
}

// Deciders gives the decider of a mock domain.
type Deciders interface {
	Decider(domain string) (*decider.Decider, error)
}

// Recorder persists new mocks.
type Recorder interface {
	SaveAt(r *mock.Record, folder string) (path string, saved bool, err error)
}

// Doer sends live requests.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

type Options struct {
	DefaultDomain   string
	LiveEnabled     bool
	RedactJSONPaths []string
	RedactHeaders   []string

	// Passthrough reports routes that are forwarded live without looking for
	// or recording a mock.
	Passthrough func(method, path string) bool
}

// Deps are the collaborators of an Engine. Plugins defaults to NopPlugins and
// Client to http.DefaultClient; traffic is logged only with both Workers and
// Storage set.
type Deps struct {
	Deciders Deciders
	Recorder Recorder
	Client   Doer
	Plugins  Plugins
	Workers  *Workers
	Storage  storage.Storage
}

type Engine struct {
	deps      Deps
	opts      Options
	scenarios *Scenarios
	redactor  redactor
	logger    *zap.Logger
}

func New(deps Deps, opts Options, logger *zap.Logger) *Engine {
	if deps.Plugins == nil {
		deps.Plugins = NopPlugins{}
	}
	if deps.Client == nil {
		deps.Client = http.DefaultClient
	}
	if opts.DefaultDomain == "" {
		opts.DefaultDomain = DefaultDomain
	}

	return &Engine{
		deps:      deps,
		opts:      opts,
		scenarios: NewScenarios(),
		redactor:  newRedactor(opts.RedactJSONPaths, opts.RedactHeaders),
		logger:    logger,
	}
}

var errNoURL = errors.New("request has no url")

// Handle answers req. Decision outcomes are never errors; an error means the
// domain could not be prepared, the mock tree could not be read or ctx ended.
func (e *Engine) Handle(ctx context.Context, req Request) (Response, error) {
	start := time.Now()
	flags := ParseFlags(req.Flags, e.opts.DefaultDomain)
	domain := flags.MockDomain

	req = e.deps.Plugins.ReloadRequest(domain, req)
	if req.URL == nil {
		return Response{}, errNoURL
	}
	req.Method = strings.ToUpper(req.Method)
	scenario := e.scenarios.Resolve(flags)

	decision, err := e.decide(ctx, domain, req, scenario)
	if err != nil {
		return Response{}, err
	}
	metrics.DecisionCounter.WithLabelValues(domain, decision.Kind.String()).Inc()

	var res Response
	switch {
	case decision.Kind == decider.UseMock && !flags.DisableMockResponse:
		res, err = e.serveMock(ctx, domain, decision.Record)
		if err != nil {
			return Response{}, err
		}

	case decision.Kind == decider.IgnoreDomain:
		res, _ = e.forward(ctx, domain, req)

	case e.opts.LiveEnabled && !flags.DisableLiveEnvironment:
		var elapsed time.Duration
		res, elapsed = e.forward(ctx, domain, req)
		if decision.Kind != decider.UseMock {
			e.record(domain, req, &res, scenario, flags, decision, elapsed)
		}

	default:
		res = e.mockError(domain, req)
	}
	res.Decision = decision.Kind

	metrics.HTTPReqCounter.WithLabelValues(strconv.Itoa(res.Status), req.Method, string(res.Source), domain).Inc()
	e.logger.Debug("request handled",
		zap.String("mock_domain", domain),
		zap.String("method", req.Method),
		zap.String("url", req.URL.String()),
		zap.String("scenario", scenario),
		zap.Stringer("decision", decision.Kind),
		zap.String("source", string(res.Source)),
		zap.Int("status", res.Status))

	e.logTraffic(ctx, req, flags, scenario, res, start)
	return res, nil
}

func (e *Engine) decide(ctx context.Context, domain string, req Request, scenario string) (decider.Decision, error) {
	if e.opts.Passthrough != nil && e.opts.Passthrough(req.Method, req.URL.Path) {
		return decider.Decision{Kind: decider.IgnoreDomain}, nil
	}

	d, err := e.deps.Deciders.Decider(domain)
	if err != nil {
		return decider.Decision{}, err
	}
	return d.DecideMock(ctx, decider.Request{
		URL:     req.URL,
		Method:  req.Method,
		Headers: req.Headers,
	}, decider.Flags{Scenario: scenario})
}

func (e *Engine) serveMock(ctx context.Context, domain string, r *mock.Record) (Response, error) {
	t := prometheus.NewTimer(metrics.HTTPReqDuration.WithLabelValues(r.Method, string(SourceMock), domain))
	defer t.ObserveDuration()

	if delay := time.Duration(r.ResponseTime * float64(time.Second)); delay > 0 {
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return Response{}, ctx.Err()
		}
	}

	return Response{
		Status:   r.HTTPStatus,
		Body:     r.ResponseBody.Bytes(),
		Headers:  copyHeader(r.ResponseHeader),
		Source:   SourceMock,
		MockID:   r.ID,
		MockFile: r.FilePath,
	}, nil
}

func (e *Engine) mockError(domain string, req Request) Response {
	body := e.deps.Plugins.MockError(domain, req)
	contentType := "text/plain; charset=utf-8"
	if mock.NewBody(body).Type() == mock.BodyJSON {
		contentType = "application/json"
	}
	return Response{
		Status:  http.StatusNotFound,
		Body:    body,
		Headers: map[string]string{"Content-Type": contentType},
		Source:  SourceError,
	}
}

// record saves the live answer as a new mock when the request and the save
// filters allow it.
func (e *Engine) record(domain string, req Request, res *Response, scenario string, flags Flags, decision decider.Decision, elapsed time.Duration) {
	result := "saved"
	defer func() { metrics.SaveCounter.WithLabelValues(domain, result).Inc() }()

	switch {
	case res.Status == 0:
		result = "live_error"
		return
	case flags.ShouldNotMock:
		result = "should_not_mock"
		return
	}

	in := domainconfig.FilterInput{
		Path:       req.URL.Path,
		Query:      req.URL.RawQuery,
		Scenario:   scenario,
		Method:     req.Method,
		StatusCode: res.Status,
	}
	if !domainconfig.ShouldSave(decision.Configuration.SaveFilters, in) {
		result = "filtered"
		return
	}

	r := mock.New(req.URL.String(), req.Method)
	r.HTTPStatus = res.Status
	r.ResponseTime = elapsed.Seconds()
	r.Scenario = scenario
	r.RequestHeader = e.redactor.headers(req.Headers)
	r.ResponseHeader = e.redactor.headers(res.Headers)
	r.RequestBody = mock.NewBody(e.redactor.body(req.Body))
	r.ResponseBody = mock.NewBody(e.redactor.body(res.Body))

	path, saved, err := e.deps.Recorder.SaveAt(r, decision.SaveFolder)
	if err != nil {
		result = "error"
		e.logger.Error("error in saving the live response as a mock",
			zap.String("mock_domain", domain), zap.String("url", r.URL), zap.Error(err))
		return
	}
	if !saved {
		result = "exists"
		return
	}
	res.MockID = r.ID
	res.MockFile = path
}

func (e *Engine) logTraffic(ctx context.Context, req Request, flags Flags, scenario string, res Response, start time.Time) {
	if e.deps.Workers == nil || e.deps.Storage == nil {
		return
	}

	job := &trafficJob{
		storage: e.deps.Storage,
		logger:  e.logger,
		log: storage.Log{
			Timestamp:  start.UTC(),
			URL:        req.URL.String(),
			Method:     req.Method,
			MockDomain: flags.MockDomain,
			Decision:   res.Decision.String(),
			Source:     string(res.Source),
			Scenario:   scenario,
			DeviceID:   flags.DeviceID,
			StatusCode: res.Status,
			DurationMS: float64(time.Since(start).Microseconds()) / 1000,
			Headers:    e.redactor.headers(req.Headers),
			MockID:     res.MockID,
			MockFile:   res.MockFile,
			Saved:      res.Source == SourceLive && res.MockID != "",
		},
	}
	if !e.deps.Workers.Submit(ctx, job) {
		e.logger.Warn("traffic log dropped", zap.String("url", job.log.URL))
	}
}

// AddScenario registers a scenario name.
func (e *Engine) AddScenario(name string) error {
	return e.scenarios.Add(name)
}

// RemoveScenario unregisters a scenario and its device assignments.
func (e *Engine) RemoveScenario(name string) {
	e.scenarios.Remove(name)
}

// Scenarios lists the registered scenario names.
func (e *Engine) Scenarios() []string {
	return e.scenarios.List()
}

// AssignScenario makes requests of deviceID use scenario unless they name one.
func (e *Engine) AssignScenario(deviceID, scenario string) error {
	return e.scenarios.Assign(deviceID, scenario)
}

func copyHeader(h map[string]string) map[string]string {
	out := make(map[string]string, len(h))
	for k, v := range h {
		out[k] = v
	}
	return out
}
