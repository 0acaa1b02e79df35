// Package server exposes the engine over HTTP: every request is answered from
// a mock, the live origin or a synthesized error, and requests under
// AdminPrefix manage scenarios and the mock catalog.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/snapp-incubator/mokzi/internal/discover"
	"github.com/snapp-incubator/mokzi/internal/engine"
	"github.com/snapp-incubator/mokzi/internal/fileurl"
	"github.com/snapp-incubator/mokzi/internal/mock"
)

const (
	// AdminPrefix is reserved for the management endpoints.
	AdminPrefix = "/__mokzi/"

	// FlagHeaderPrefix carries per-request flags, X-Mock-Scenario sets the
	// scenario flag. These headers are never forwarded.
	FlagHeaderPrefix = "X-Mock-"
	// OriginHeader names the live origin of requests sent to mokzi directly
	// instead of through it as a proxy, e.g. "https://api.example.com".
	OriginHeader = "X-Mock-Origin"

	SourceHeader   = "X-Mokzi-Source"
	DecisionHeader = "X-Mokzi-Decision"

	maxBodySize = 32 << 20
)

var flagHeaders = map[string]string{
	"X-Mock-Domain":                   engine.FlagMockDomain,
	"X-Mock-Device-Id":                engine.FlagDeviceID,
	"X-Mock-Scenario":                 engine.FlagScenario,
	"X-Mock-Disable-Live-Environment": engine.FlagDisableLiveEnvironment,
	"X-Mock-Disable-Mock-Response":    engine.FlagDisableMockResponse,
	"X-Mock-Should-Not-Mock":          engine.FlagShouldNotMock,
}

// Engine answers requests and keeps the scenario registry.
type Engine interface {
	Handle(ctx context.Context, req engine.Request) (engine.Response, error)
	AddScenario(name string) error
	RemoveScenario(name string)
	Scenarios() []string
	AssignScenario(deviceID, scenario string) error
}

// Catalog is the mock catalog of the active domain.
type Catalog interface {
	UpdateDomain(domain string) error
	Domain() (string, error)
	Search(query string) ([]discover.Entry, error)
	Reload() error
	MockFileChanged(path string) error
}

// Editor edits saved mocks.
type Editor interface {
	Update(original, edited *mock.Record, domain string) (*mock.Record, error)
	Delete(r *mock.Record) error
}

type Server struct {
	engine  Engine
	catalog Catalog
	editor  Editor
	logger  *zap.Logger
	admin   *http.ServeMux
}

// New returns a server. catalog may be nil, the catalog endpoints then answer
// 503.
func New(e Engine, catalog Catalog, editor Editor, logger *zap.Logger) *Server {
	s := &Server{
		engine:  e,
		catalog: catalog,
		editor:  editor,
		logger:  logger,
		admin:   http.NewServeMux(),
	}

	s.admin.HandleFunc("GET "+AdminPrefix+"scenarios", s.listScenarios)
	s.admin.HandleFunc("POST "+AdminPrefix+"scenarios", s.addScenario)
	s.admin.HandleFunc("DELETE "+AdminPrefix+"scenarios/{name}", s.removeScenario)
	s.admin.HandleFunc("PUT "+AdminPrefix+"devices/{device}/scenario", s.assignScenario)

	s.admin.HandleFunc("GET "+AdminPrefix+"mocks", s.listMocks)
	s.admin.HandleFunc("GET "+AdminPrefix+"mocks/{id}", s.getMock)
	s.admin.HandleFunc("PUT "+AdminPrefix+"mocks/{id}", s.updateMock)
	s.admin.HandleFunc("DELETE "+AdminPrefix+"mocks/{id}", s.deleteMock)
	s.admin.HandleFunc("POST "+AdminPrefix+"reload", s.reload)

	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if strings.HasPrefix(r.URL.Path, AdminPrefix) && !r.URL.IsAbs() && r.Header.Get(OriginHeader) == "" {
		s.admin.ServeHTTP(w, r)
		return
	}
	s.handle(w, r)
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	req, err := engineRequest(r)
	if err != nil {
		s.logger.Warn("error in reading the request",
			zap.String("method", r.Method), zap.String("url", r.URL.String()), zap.Error(err))
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	res, err := s.engine.Handle(r.Context(), req)
	if err != nil {
		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, fileurl.ErrMalformedURL):
			status = http.StatusBadRequest
		case errors.Is(err, context.Canceled):
			return
		}
		s.logger.Error("error in handling the request",
			zap.String("method", req.Method), zap.String("url", req.URL.String()), zap.Error(err))
		http.Error(w, err.Error(), status)
		return
	}

	for k, v := range res.Headers {
		w.Header().Set(k, v)
	}
	w.Header().Set(SourceHeader, string(res.Source))
	w.Header().Set(DecisionHeader, res.Decision.String())

	status := res.Status
	if status == 0 {
		status = http.StatusBadGateway
	}
	w.WriteHeader(status)
	if _, err := w.Write(res.Body); err != nil {
		s.logger.Debug("error in writing the response", zap.String("url", req.URL.String()), zap.Error(err))
	}
}

// engineRequest turns an incoming request into an engine request. Proxy
// requests carry an absolute URL; direct ones are addressed by OriginHeader or
// else by Host.
func engineRequest(r *http.Request) (engine.Request, error) {
	target, err := targetURL(r)
	if err != nil {
		return engine.Request{}, err
	}

	body, err := io.ReadAll(http.MaxBytesReader(nil, r.Body, maxBodySize))
	if err != nil {
		return engine.Request{}, fmt.Errorf("error in reading the request body: %w", err)
	}

	headers := make(map[string]string, len(r.Header))
	flags := make(map[string]string)
	for k, v := range r.Header {
		if key, ok := flagHeaders[k]; ok {
			flags[key] = strings.Join(v, ", ")
			continue
		}
		if strings.HasPrefix(k, FlagHeaderPrefix) {
			continue
		}
		headers[k] = strings.Join(v, ", ")
	}

	return engine.Request{
		URL:     target,
		Method:  r.Method,
		Headers: headers,
		Body:    body,
		Flags:   flags,
	}, nil
}

func targetURL(r *http.Request) (*url.URL, error) {
	if r.URL.IsAbs() {
		u := *r.URL
		return &u, nil
	}

	if origin := r.Header.Get(OriginHeader); origin != "" {
		base, err := url.Parse(origin)
		if err != nil || base.Scheme == "" || base.Host == "" {
			return nil, fmt.Errorf("invalid %s %q", OriginHeader, origin)
		}
		u := *r.URL
		u.Scheme = base.Scheme
		u.Host = base.Host
		u.Path = strings.TrimSuffix(base.Path, "/") + r.URL.Path
		if r.URL.RawPath != "" {
			u.RawPath = strings.TrimSuffix(base.EscapedPath(), "/") + r.URL.RawPath
		}
		return &u, nil
	}

	if r.Host == "" {
		return nil, errors.New("request has no host")
	}
	u := *r.URL
	u.Scheme = "http"
	if r.TLS != nil {
		u.Scheme = "https"
	}
	u.Host = r.Host
	return &u, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
