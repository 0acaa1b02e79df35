package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/snapp-incubator/mokzi/internal/discover"
	"github.com/snapp-incubator/mokzi/internal/engine"
	"github.com/snapp-incubator/mokzi/internal/fileurl"
	"github.com/snapp-incubator/mokzi/internal/mock"
)

var errNoCatalog = errors.New("mock discovery is disabled")

type scenarioBody struct {
	Name     string `json:"name"`
	Scenario string `json:"scenario"`
}

func (s *Server) listScenarios(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string][]string{"scenarios": s.engine.Scenarios()})
}

func (s *Server) addScenario(w http.ResponseWriter, r *http.Request) {
	var body scenarioBody
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodySize)).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.engine.AddScenario(body.Name); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string][]string{"scenarios": s.engine.Scenarios()})
}

func (s *Server) removeScenario(w http.ResponseWriter, r *http.Request) {
	s.engine.RemoveScenario(r.PathValue("name"))
	w.WriteHeader(http.StatusNoContent)
}

// assignScenario binds a device to a scenario; an empty scenario clears it.
func (s *Server) assignScenario(w http.ResponseWriter, r *http.Request) {
	var body scenarioBody
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodySize)).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.engine.AssignScenario(r.PathValue("device"), body.Scenario); err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, engine.ErrUnknownScenario) {
			status = http.StatusNotFound
		}
		writeError(w, status, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type catalogEntry struct {
	ID           string    `json:"id"`
	URL          string    `json:"url"`
	Method       string    `json:"method"`
	Scenario     string    `json:"scenario"`
	HTTPStatus   int       `json:"httpStatus"`
	UpdateTime   time.Time `json:"updateTime"`
	File         string    `json:"file"`
	PathViolated bool      `json:"pathViolated"`
	Outline      string    `json:"outline"`
}

type catalogResponse struct {
	Domain string         `json:"domain"`
	Mocks  []catalogEntry `json:"mocks"`
}

// listMocks searches the catalog. A domain parameter switches the active
// domain first; its catalog fills in as the rescan completes.
func (s *Server) listMocks(w http.ResponseWriter, r *http.Request) {
	if s.catalog == nil {
		writeError(w, http.StatusServiceUnavailable, errNoCatalog)
		return
	}

	if domain := r.URL.Query().Get("domain"); domain != "" {
		if err := s.catalog.UpdateDomain(domain); err != nil {
			writeError(w, catalogStatus(err), err)
			return
		}
	}

	domain, err := s.catalog.Domain()
	if err != nil {
		writeError(w, catalogStatus(err), err)
		return
	}
	found, err := s.catalog.Search(r.URL.Query().Get("q"))
	if err != nil {
		writeError(w, catalogStatus(err), err)
		return
	}

	res := catalogResponse{Domain: domain, Mocks: make([]catalogEntry, 0, len(found))}
	for _, e := range found {
		res.Mocks = append(res.Mocks, catalogEntry{
			ID:           e.Record.ID,
			URL:          e.Record.URL,
			Method:       e.Record.Method,
			Scenario:     e.Record.Scenario,
			HTTPStatus:   e.Record.HTTPStatus,
			UpdateTime:   e.Record.UpdateTime,
			File:         e.Record.FilePath,
			PathViolated: e.PathViolated,
			Outline:      e.Outline,
		})
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) getMock(w http.ResponseWriter, r *http.Request) {
	entry, ok := s.findMock(w, r.PathValue("id"))
	if !ok {
		return
	}

	// The catalog keeps lazily read records; the file is the full copy.
	full, err := mock.ReadFile(entry.Record.FilePath, false)
	if err != nil {
		writeError(w, catalogStatus(err), err)
		return
	}
	data, err := mock.Encode(full)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(data)
}

func (s *Server) updateMock(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	edited, err := mock.Decode(data)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if edited.ID == "" {
		edited.ID = r.PathValue("id")
	}

	entry, ok := s.findMock(w, r.PathValue("id"))
	if !ok {
		return
	}
	domain, err := s.catalog.Domain()
	if err != nil {
		writeError(w, catalogStatus(err), err)
		return
	}

	updated, err := s.editor.Update(entry.Record, edited, domain)
	if err != nil {
		writeError(w, catalogStatus(err), err)
		return
	}
	s.refresh(entry.Record.FilePath, updated.FilePath)

	out, err := mock.Encode(updated)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(out)
}

func (s *Server) deleteMock(w http.ResponseWriter, r *http.Request) {
	entry, ok := s.findMock(w, r.PathValue("id"))
	if !ok {
		return
	}
	if err := s.editor.Delete(entry.Record); err != nil {
		writeError(w, catalogStatus(err), err)
		return
	}
	s.refresh(entry.Record.FilePath)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) reload(w http.ResponseWriter, _ *http.Request) {
	if s.catalog == nil {
		writeError(w, http.StatusServiceUnavailable, errNoCatalog)
		return
	}
	if err := s.catalog.Reload(); err != nil {
		writeError(w, catalogStatus(err), err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// findMock looks id up in the active catalog, answering the request itself
// when it is not there.
func (s *Server) findMock(w http.ResponseWriter, id string) (discover.Entry, bool) {
	if s.catalog == nil {
		writeError(w, http.StatusServiceUnavailable, errNoCatalog)
		return discover.Entry{}, false
	}

	found, err := s.catalog.Search("")
	if err != nil {
		writeError(w, catalogStatus(err), err)
		return discover.Entry{}, false
	}
	for _, e := range found {
		if e.Record.ID == id {
			return e, true
		}
	}
	writeError(w, http.StatusNotFound, mock.ErrNotFound)
	return discover.Entry{}, false
}

// refresh tells the catalog about edited files without waiting for the
// watcher.
func (s *Server) refresh(paths ...string) {
	for _, p := range paths {
		if err := s.catalog.MockFileChanged(p); err != nil {
			s.logger.Warn("error in refreshing the catalog", zap.String("file", p), zap.Error(err))
		}
	}
}

func catalogStatus(err error) int {
	switch {
	case errors.Is(err, mock.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, mock.ErrAlreadyExists):
		return http.StatusConflict
	case errors.Is(err, mock.ErrDecode), errors.Is(err, fileurl.ErrMalformedURL):
		return http.StatusBadRequest
	case errors.Is(err, mock.ErrWrite):
		return http.StatusUnprocessableEntity
	case errors.Is(err, discover.ErrClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
