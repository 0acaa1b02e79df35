package decider

import (
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/snapp-incubator/mokzi/internal/domainconfig"
	"github.com/snapp-incubator/mokzi/internal/fileurl"
)

// Registry owns exactly one Decider per mock domain for the process lifetime.
type Registry struct {
	builder *fileurl.Builder
	logger  *zap.Logger

	mu       sync.Mutex
	deciders map[string]*Decider
}

// NewRegistry returns an empty registry.
func NewRegistry(builder *fileurl.Builder, logger *zap.Logger) *Registry {
	return &Registry{
		builder:  builder,
		logger:   logger,
		deciders: make(map[string]*Decider),
	}
}

// Decider returns the decider of domain, creating the domain folders and
// binding its configuration on first use.
func (r *Registry) Decider(domain string) (*Decider, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if d, ok := r.deciders[domain]; ok {
		return d, nil
	}

	if err := r.builder.EnsureDomainSkeleton(domain); err != nil {
		return nil, fmt.Errorf("error in preparing the mock domain %q: %w", domain, err)
	}
	configFile, err := r.builder.ConfigFile(domain)
	if err != nil {
		return nil, err
	}

	source := domainconfig.NewSource(configFile, r.logger)
	d := New(domain, r.builder, source, r.logger.Named("decider"))
	r.deciders[domain] = d

	r.logger.Info("mock domain decider created", zap.String("mock_domain", domain))
	return d, nil
}

// Domains lists the domains with a decider.
func (r *Registry) Domains() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]string, 0, len(r.deciders))
	for d := range r.deciders {
		out = append(out, d)
	}
	return out
}
