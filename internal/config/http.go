package config

import (
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"go.uber.org/zap"

	"github.com/snapp-incubator/mokzi/internal/logging"
)

// EnvPrefix prefixes environment overrides. Nested keys are joined with "__",
// MOKZI_LIVE__ENABLED sets live.enabled.
const EnvPrefix = "MOKZI_"

var defaultHTTP = HTTPConfig{
	Bind:          "0.0.0.0:9090",
	LogLevel:      "info",
	RootFolder:    "./mokzi",
	DefaultDomain: "Dev",
	Metrics: metric{
		Enabled: true,
		Bind:    "0.0.0.0:9001",
	},
	StorageType: "stdout",
	Elasticsearch: Elasticsearch{
		Addresses: []string{"http://127.0.0.1:9200"},
		Index:     "mokzi-traffic",
	},
	Worker: worker{
		Count:     4,
		QueueSize: 1024,
	},
	Live: live{
		Enabled: true,
		Timeout: 30 * time.Second,
	},
	Recording: recording{
		RedactJSONPaths: []string{},
		RedactHeaders:   []string{},
	},
	Discover: discover{
		Enabled: true,
		Workers: 8,
	},
	PassthroughRoutes: []string{},
}

// HTTPConfig represent config of the mokzi server.
type HTTPConfig struct {
	Bind          string        `koanf:"bind"`
	LogLevel      string        `koanf:"log_level"`    // Log level: "debug", "info", "warn", "error", "fatal"
	LogEncoding   string        `koanf:"log_encoding"` // "json" or "console"
	RootFolder    string        `koanf:"root_folder"`  // Holds Domains/ and Plugins/
	DefaultDomain string        `koanf:"default_domain"`
	Metrics       metric        `koanf:"metrics"`
	StorageType   string        `koanf:"storage_type"` // Traffic log backend: "stdout", "elasticsearch" or "none"
	Elasticsearch Elasticsearch `koanf:"elasticsearch"`
	Worker        worker        `koanf:"worker"`
	Live          live          `koanf:"live"`
	Recording     recording     `koanf:"recording"`
	Discover      discover      `koanf:"discover"`

	// PassthroughRoutes are forwarded live without looking for or recording mocks.
	// Entries look like "GET:/health", "*:/metrics" or "/static/*".
	PassthroughRoutes []string `koanf:"passthrough_routes"`

	// Legacy fields for backward compatibility - deprecated but still supported
	MocksFolder        string `koanf:"mocks_folder"`         // Deprecated: use RootFolder
	LiveTimeoutSeconds uint   `koanf:"live_timeout_seconds"` // Deprecated: use Live.Timeout
}

type metric struct {
	Enabled bool   `koanf:"enabled"`
	Bind    string `koanf:"bind"`
}

// Elasticsearch configures the elasticsearch traffic log backend.
type Elasticsearch struct {
	Addresses              []string `koanf:"addresses"`
	Username               string   `koanf:"username"`
	Password               string   `koanf:"password"`
	CloudID                string   `koanf:"cloud_id"`
	APIKey                 string   `koanf:"api_key"`
	ServiceToken           string   `koanf:"service_token"`
	CertificateFingerprint string   `koanf:"certificate_fingerprint"`
	Index                  string   `koanf:"index"`
}

type worker struct {
	Count     uint `koanf:"count"`
	QueueSize uint `koanf:"queue_size"`
}

type live struct {
	Enabled            bool          `koanf:"enabled"`
	Timeout            time.Duration `koanf:"timeout"`
	InsecureSkipVerify bool          `koanf:"insecure_skip_verify"`
}

type recording struct {
	RedactJSONPaths []string `koanf:"redact_json_paths"`
	RedactHeaders   []string `koanf:"redact_headers"`
}

type discover struct {
	Enabled bool `koanf:"enabled"`
	Workers int  `koanf:"workers"`
}

// Load reads the defaults, then the YAML file at path (skipped when path is
// empty), then the environment, and validates the result.
func Load(path string) (*HTTPConfig, error) {
	// Create a fresh koanf instance for each load to avoid state pollution
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultHTTP, "koanf"), nil); err != nil {
		return nil, fmt.Errorf("error in loading the default config: %w", err)
	}

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("error in loading the config file: %w", err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("error in loading the environment: %w", err)
	}

	var c HTTPConfig
	if err := k.Unmarshal("", &c); err != nil {
		return nil, fmt.Errorf("error in unmarshalling the config file: %w", err)
	}

	// Apply backward compatibility migrations
	c.migrateFromLegacyConfig()

	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// LoadHTTP is Load that exits the process on errors.
func LoadHTTP(path string) *HTTPConfig {
	c, err := Load(path)
	if err != nil {
		logging.L.Fatal("error in loading the config", zap.Error(err))
	}
	return c
}

func envKey(s string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, EnvPrefix)), "__", ".")
}

// migrateFromLegacyConfig moves deprecated fields into their replacements when
// the replacement still holds its default value.
func (c *HTTPConfig) migrateFromLegacyConfig() {
	if c.MocksFolder != "" && c.RootFolder == defaultHTTP.RootFolder {
		c.RootFolder = c.MocksFolder
	}

	if c.LiveTimeoutSeconds != 0 && c.Live.Timeout == defaultHTTP.Live.Timeout {
		c.Live.Timeout = time.Duration(c.LiveTimeoutSeconds) * time.Second
	}
}

// Validate reports every invalid field.
func (c *HTTPConfig) Validate() error {
	var errs []error

	if c.Bind == "" {
		errs = append(errs, errors.New("bind can not be empty"))
	}
	if c.RootFolder == "" {
		errs = append(errs, errors.New("root_folder can not be empty"))
	}
	if c.DefaultDomain == "" || strings.ContainsAny(c.DefaultDomain, `/\`) || c.DefaultDomain == "." || c.DefaultDomain == ".." {
		errs = append(errs, fmt.Errorf("invalid default_domain %q", c.DefaultDomain))
	}
	if _, err := logging.ParseLogLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	switch strings.ToLower(c.LogEncoding) {
	case "", logging.EncodingJSON, logging.EncodingConsole:
	default:
		errs = append(errs, fmt.Errorf("unknown log_encoding %q", c.LogEncoding))
	}

	switch c.StorageType {
	case "stdout", "elasticsearch", "none":
	default:
		errs = append(errs, fmt.Errorf("unknown storage_type %q", c.StorageType))
	}

	if c.Live.Timeout < 0 {
		errs = append(errs, fmt.Errorf("negative live.timeout %s", c.Live.Timeout))
	}
	if c.Discover.Workers < 0 {
		errs = append(errs, fmt.Errorf("negative discover.workers %d", c.Discover.Workers))
	}

	for _, route := range c.PassthroughRoutes {
		if _, p := ParseRoute(route); !isValidRoutePattern(p) {
			errs = append(errs, fmt.Errorf("invalid route pattern in passthrough_routes: %s", route))
		}
	}

	return errors.Join(errs...)
}

// IsPassthrough reports whether the request route matches a passthrough route.
func (c *HTTPConfig) IsPassthrough(method, requestPath string) bool {
	route := FormatRoute(method, requestPath)
	for _, r := range c.PassthroughRoutes {
		if MatchRoute(route, r) {
			return true
		}
	}
	return false
}

// isValidRoutePattern validates that a route pattern is well-formed
func isValidRoutePattern(path string) bool {
	// Empty path is invalid
	if path == "" {
		return false
	}

	// Path should start with / or be a single *
	if !strings.HasPrefix(path, "/") && path != "*" {
		return false
	}

	// Double wildcards are not supported
	if strings.Contains(path, "**") {
		return false
	}

	// Only /* or single * allowed at end
	if strings.HasSuffix(path, "*") && !strings.HasSuffix(path, "/*") && path != "*" {
		return false
	}

	return true
}

// FormatRoute formats HTTP method and path into a route string
func FormatRoute(method, path string) string {
	return fmt.Sprintf("%s:%s", strings.ToUpper(method), path)
}

// ParseRoute parses a route string into method and path components
func ParseRoute(route string) (method, path string) {
	parts := strings.SplitN(route, ":", 2)
	if len(parts) == 2 {
		return strings.ToUpper(parts[0]), parts[1]
	}
	// If no method specified, assume wildcard
	return "*", route
}

// MatchRoute checks if a request route matches a configured route pattern
func MatchRoute(requestRoute, configRoute string) bool {
	requestMethod, requestPath := ParseRoute(requestRoute)
	configMethod, configPath := ParseRoute(configRoute)

	if configMethod != "*" && configMethod != requestMethod {
		return false
	}
	return matchPath(requestPath, configPath)
}

func matchPath(requestPath, configPath string) bool {
	if requestPath == configPath || configPath == "*" {
		return true
	}

	if strings.Contains(configPath, "*") {
		return matchSegmentWildcards(requestPath, configPath)
	}

	matched, _ := path.Match(configPath, requestPath)
	return matched
}

// matchSegmentWildcards matches "*" segments one to one. A pattern whose only
// wildcard is a trailing "/*" matches everything below its prefix.
func matchSegmentWildcards(requestPath, configPath string) bool {
	configSegments := splitPath(configPath)

	if strings.HasSuffix(configPath, "/*") {
		trailingOnly := true
		for i, seg := range configSegments {
			if seg == "*" && i != len(configSegments)-1 {
				trailingOnly = false
				break
			}
		}
		if trailingOnly {
			prefix := strings.TrimSuffix(configPath, "/*")
			return requestPath == prefix || strings.HasPrefix(requestPath, prefix+"/")
		}
	}

	requestSegments := splitPath(requestPath)
	if len(requestSegments) != len(configSegments) {
		return false
	}
	for i, seg := range configSegments {
		if seg != "*" && seg != requestSegments[i] {
			return false
		}
	}
	return true
}

func splitPath(p string) []string {
	trimmed := strings.Trim(p, "/")
	if trimmed == "" {
		return []string{}
	}
	return strings.Split(trimmed, "/")
}
