// Package fileurl maps domains and request paths to their place in the mock tree:
//
//	<root>/Domains/<domain>/Mocks/<escaped-path>/<METHOD>/<file>.json
//	<root>/Domains/<domain>/Configs/configs.json
//	<root>/Domains/<domain>/Plugins/
//	<root>/Plugins/
package fileurl

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/snapp-incubator/mokzi/internal/mock"
)

const (
	domainsDir    = "Domains"
	mocksDir      = "Mocks"
	configsDir    = "Configs"
	pluginsDir    = "Plugins"
	configFile    = "configs.json"
	pathSeparator = "+"
)

// ErrMalformedURL is returned when a domain cannot be turned into a folder.
var ErrMalformedURL = errors.New("malformed mock location")

// Builder composes every on-disk location below a root folder.
type Builder struct {
	root string
}

// NewBuilder returns a builder rooted at root.
func NewBuilder(root string) *Builder {
	return &Builder{root: filepath.Clean(root)}
}

// Root returns the root folder.
func (b *Builder) Root() string {
	return b.root
}

// DomainsFolder is the parent folder of every domain.
func (b *Builder) DomainsFolder() string {
	return filepath.Join(b.root, domainsDir)
}

// DomainFolder is the folder holding everything of a domain.
func (b *Builder) DomainFolder(domain string) (string, error) {
	if err := validateDomain(domain); err != nil {
		return "", err
	}
	return filepath.Join(b.root, domainsDir, domain), nil
}

// MocksFolder is the folder holding all mocks of a domain.
func (b *Builder) MocksFolder(domain string) (string, error) {
	return b.domainChild(domain, mocksDir)
}

// ConfigFile is the configuration file of a domain.
func (b *Builder) ConfigFile(domain string) (string, error) {
	dir, err := b.domainChild(domain, configsDir)
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, configFile), nil
}

// PluginFolder is the folder holding domain specific plugins.
func (b *Builder) PluginFolder(domain string) (string, error) {
	return b.domainChild(domain, pluginsDir)
}

// CommonPluginFolder holds plugins shared by all domains.
func (b *Builder) CommonPluginFolder() string {
	return filepath.Join(b.root, pluginsDir)
}

func (b *Builder) domainChild(domain, child string) (string, error) {
	dir, err := b.DomainFolder(domain)
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, child), nil
}

// EnsureDomainSkeleton creates the Mocks, Configs and Plugins folders of a domain.
func (b *Builder) EnsureDomainSkeleton(domain string) error {
	for _, child := range []string{mocksDir, configsDir, pluginsDir} {
		dir, err := b.domainChild(domain, child)
		if err != nil {
			return err
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("%w: %s: %v", mock.ErrWrite, dir, err)
		}
	}
	return nil
}

// MockListFolder is the canonical folder for mocks of a path and method.
func (b *Builder) MockListFolder(domain, requestPath, method string) (string, error) {
	mocks, err := b.MocksFolder(domain)
	if err != nil {
		return "", err
	}
	return filepath.Join(mocks, EscapePath(requestPath), strings.ToUpper(method)), nil
}

// MockListConfiguredFolder is the folder where mocks of a wildcard path rule
// live: request segments aligned with a "*" in configPath are replaced by "*".
// When a literal segment disagrees, the exact folder is returned instead.
func (b *Builder) MockListConfiguredFolder(domain, requestPath, configPath, method string) (string, error) {
	aligned, ok := alignWildcards(requestPath, configPath)
	if !ok {
		return b.MockListFolder(domain, requestPath, method)
	}
	return b.MockListFolder(domain, aligned, method)
}

// MockFilePath is the canonical file of a record.
func (b *Builder) MockFilePath(domain string, r *mock.Record) (string, error) {
	folder, err := b.MockListFolder(domain, r.Path(), r.Method)
	if err != nil {
		return "", err
	}
	return filepath.Join(folder, r.ExpectedFileName()), nil
}

var unsafePathChars = strings.NewReplacer(
	"/", pathSeparator,
	"\\", "_",
	":", "_",
	"?", "_",
	"\"", "_",
	"<", "_",
	">", "_",
	"|", "_",
	"\x00", "_",
)

// EscapePath flattens a URL path into a folder name, "/users/1" -> "+users+1".
// Wildcard segments are kept as "*".
func EscapePath(p string) string {
	segments := Segments(p)
	if len(segments) == 0 {
		return pathSeparator
	}
	return unsafePathChars.Replace("/" + strings.Join(segments, "/"))
}

// Segments splits a URL path into its non-empty segments.
func Segments(p string) []string {
	trimmed := strings.Trim(p, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

func alignWildcards(requestPath, configPath string) (string, bool) {
	req := Segments(requestPath)
	conf := Segments(configPath)
	if len(conf) > len(req) {
		return "", false
	}

	out := append([]string(nil), req...)
	for i := 1; i <= len(conf); i++ {
		c := conf[len(conf)-i]
		r := len(req) - i
		if c == "*" {
			out[r] = "*"
			continue
		}
		if c != req[r] {
			return "", false
		}
	}
	return "/" + strings.Join(out, "/"), true
}

// IsPathMatched compares segments from the end of both paths. A "*" config
// segment always matches; the share of matching config segments must reach
// ratio. A config with more segments than the request never matches.
func IsPathMatched(requestPath, configPath string, ratio float64) bool {
	req := Segments(requestPath)
	conf := Segments(configPath)
	if len(conf) == 0 {
		return len(req) == 0
	}
	if len(conf) > len(req) {
		return false
	}

	matched := 0
	for i := 1; i <= len(conf); i++ {
		c := conf[len(conf)-i]
		if c == "*" || c == req[len(req)-i] {
			matched++
		}
	}
	return float64(matched)/float64(len(conf)) >= ratio
}

func validateDomain(domain string) error {
	if domain == "" || domain == "." || domain == ".." || strings.ContainsAny(domain, `/\`) {
		return fmt.Errorf("%w: domain %q", ErrMalformedURL, domain)
	}
	return nil
}
