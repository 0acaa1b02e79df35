// Package decider picks the recorded mock, if any, that answers a request.
package decider

import (
	"context"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/snapp-incubator/mokzi/internal/domainconfig"
	"github.com/snapp-incubator/mokzi/internal/fileurl"
	"github.com/snapp-incubator/mokzi/internal/mock"
)

// Kind is the outcome of a decision. None of them is an error.
type Kind int

const (
	MockNotFound Kind = iota
	UseMock
	ScenarioNotFound
	IgnoreDomain
)

func (k Kind) String() string {
	switch k {
	case UseMock:
		return "use_mock"
	case ScenarioNotFound:
		return "scenario_not_found"
	case IgnoreDomain:
		return "ignore_domain"
	default:
		return "mock_not_found"
	}
}

// Request is the part of an incoming request the decision looks at.
type Request struct {
	URL     *url.URL
	Method  string
	Headers map[string]string
}

// Flags are the per-request switches relevant to matching.
type Flags struct {
	Scenario string
}

// Decision is the result of DecideMock.
type Decision struct {
	Kind   Kind
	Record *mock.Record

	// Configuration is the snapshot the decision was made with.
	Configuration *domainconfig.Configuration
	// SaveFolder is where a mock recorded for this request belongs: the folder
	// of the first applicable wildcard path rule, else the exact folder.
	SaveFolder string
}

// ConfigSource provides the current configuration of a domain.
type ConfigSource interface {
	Configuration() *domainconfig.Configuration
}

// Decider decides for one mock domain.
type Decider struct {
	domain  string
	builder *fileurl.Builder
	source  ConfigSource
	logger  *zap.Logger
}

// New returns a decider for domain.
func New(domain string, builder *fileurl.Builder, source ConfigSource, logger *zap.Logger) *Decider {
	return &Decider{
		domain:  domain,
		builder: builder,
		source:  source,
		logger:  logger.With(zap.String("mock_domain", domain)),
	}
}

// Domain returns the mock domain of the decider.
func (d *Decider) Domain() string {
	return d.domain
}

// Source returns the configuration source of the decider.
func (d *Decider) Source() ConfigSource {
	return d.source
}

// DecideMock finds the mock answering req.
func (d *Decider) DecideMock(ctx context.Context, req Request, flags Flags) (Decision, error) {
	cfg := d.source.Configuration()
	decision := Decision{Kind: MockNotFound, Configuration: cfg}

	if !cfg.App.AllowsHost(req.URL.Hostname()) {
		decision.Kind = IgnoreDomain
		return decision, nil
	}

	applicable := cfg.Applicable(req.URL, req.Headers)

	exact, err := d.builder.MockListFolder(d.domain, req.URL.Path, req.Method)
	if err != nil {
		return decision, err
	}
	decision.SaveFolder = exact

	folders := []string{exact}
	for _, rule := range applicable.PathRules {
		if !rule.HasWildcard() {
			continue
		}
		folder, err := d.builder.MockListConfiguredFolder(d.domain, req.URL.Path, rule.Path, req.Method)
		if err != nil {
			return decision, err
		}
		if decision.SaveFolder == exact {
			decision.SaveFolder = folder
		}
		folders = append(folders, folder)
	}

	var candidates []string
	for _, folder := range folders {
		candidates = append(candidates, d.listCandidates(folder)...)
	}

	if flags.Scenario != "" {
		var ok bool
		candidates, ok = partitionByScenario(candidates, flags.Scenario)
		if !ok {
			decision.Kind = ScenarioNotFound
			return decision, nil
		}
	}

	queryStyle := applicable.QueryStyle(cfg.App)
	headerStyle := applicable.HeaderStyle(cfg.App)
	reqQuery := querySet(mock.ParseQueryItems(req.URL.RawQuery), applicable.QueryRules, queryStyle)
	reqHeaders := headerSet(req.Headers, applicable.HeaderRules, headerStyle)

	for _, candidate := range candidates {
		if err := ctx.Err(); err != nil {
			return decision, err
		}

		record, err := mock.ReadFile(candidate, true)
		if err != nil {
			d.logger.Warn("error in loading the mock candidate, skipping it",
				zap.String("file", candidate), zap.Error(err))
			continue
		}

		if record.Scenario != flags.Scenario {
			continue
		}
		if !sameQuerySet(reqQuery, querySet(record.QueryItems(), applicable.QueryRules, queryStyle)) {
			continue
		}
		if !sameHeaderSet(reqHeaders, headerSet(record.RequestHeader, applicable.HeaderRules, headerStyle)) {
			continue
		}

		decision.Kind = UseMock
		decision.Record = record
		return decision, nil
	}

	return decision, nil
}

// SearchMock looks for a mock by path, method and scenario only. Without a
// scenario the first loadable mock is returned.
func (d *Decider) SearchMock(ctx context.Context, path, method, scenario string) (*mock.Record, bool, error) {
	folder, err := d.builder.MockListFolder(d.domain, path, method)
	if err != nil {
		return nil, false, err
	}

	for _, candidate := range d.listCandidates(folder) {
		if err := ctx.Err(); err != nil {
			return nil, false, err
		}
		if scenario != "" && !strings.Contains(candidateName(candidate), scenario) {
			continue
		}
		record, err := mock.ReadFile(candidate, true)
		if err != nil {
			d.logger.Warn("error in loading the mock candidate, skipping it",
				zap.String("file", candidate), zap.Error(err))
			continue
		}
		if scenario == "" || record.Scenario == scenario {
			return record, true, nil
		}
	}
	return nil, false, nil
}

func (d *Decider) listCandidates(folder string) []string {
	entries, err := os.ReadDir(folder)
	if err != nil {
		if !os.IsNotExist(err) {
			d.logger.Warn("error in listing the mock folder", zap.String("folder", folder), zap.Error(err))
		}
		return nil
	}

	out := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !mock.IsMockFile(e.Name()) {
			continue
		}
		out = append(out, filepath.Join(folder, e.Name()))
	}
	return out
}

// candidateName is the file name without its extension, so a scenario such as
// "s" is not found in ".json".
func candidateName(path string) string {
	return strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
}

// partitionByScenario moves candidates whose file name mentions scenario to the
// front, keeping relative order on both sides. ok is false when none mention it.
func partitionByScenario(candidates []string, scenario string) (out []string, ok bool) {
	var hit, miss []string
	for _, c := range candidates {
		if strings.Contains(candidateName(c), scenario) {
			hit = append(hit, c)
		} else {
			miss = append(miss, c)
		}
	}
	if len(hit) == 0 {
		return nil, false
	}
	return append(hit, miss...), true
}
