package engine

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
)

var (
	ErrEmptyScenario   = errors.New("scenario name is empty")
	ErrUnknownScenario = errors.New("scenario is not registered")
)

// Scenarios holds the registered scenario names and the scenario assigned to
// each device.
type Scenarios struct {
	mu       sync.RWMutex
	names    map[string]struct{}
	byDevice map[string]string
}

func NewScenarios() *Scenarios {
	return &Scenarios{
		names:    make(map[string]struct{}),
		byDevice: make(map[string]string),
	}
}

func (s *Scenarios) Add(name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return ErrEmptyScenario
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.names[name] = struct{}{}
	return nil
}

// Remove unregisters name and clears it from every device.
func (s *Scenarios) Remove(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.names, name)
	for device, assigned := range s.byDevice {
		if assigned == name {
			delete(s.byDevice, device)
		}
	}
}

// List returns the registered names, sorted.
func (s *Scenarios) List() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]string, 0, len(s.names))
	for n := range s.names {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// Assign binds a registered scenario to deviceID. An empty scenario clears the
// assignment.
func (s *Scenarios) Assign(deviceID, scenario string) error {
	deviceID = strings.TrimSpace(deviceID)
	if deviceID == "" {
		return errors.New("device id is empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if scenario == "" {
		delete(s.byDevice, deviceID)
		return nil
	}
	if _, ok := s.names[scenario]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownScenario, scenario)
	}
	s.byDevice[deviceID] = scenario
	return nil
}

// Resolve returns the scenario of a request: the explicit flag first, then the
// device assignment.
func (s *Scenarios) Resolve(f Flags) string {
	if f.Scenario != "" {
		return f.Scenario
	}
	if f.DeviceID == "" {
		return ""
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.byDevice[f.DeviceID]
}
