package engine

import (
	"strconv"
	"strings"
)

// DefaultDomain is the mock domain of requests that do not name one.
const DefaultDomain = "Dev"

// Raw flag keys.
const (
	FlagMockDomain             = "mockDomain"
	FlagDeviceID               = "deviceId"
	FlagScenario               = "scenario"
	FlagDisableLiveEnvironment = "disableLiveEnvironment"
	FlagDisableMockResponse    = "disableMockResponse"
	FlagShouldNotMock          = "shouldNotMock"
)

// Flags are the per-request switches.
type Flags struct {
	MockDomain             string
	DeviceID               string
	Scenario               string
	DisableLiveEnvironment bool
	DisableMockResponse    bool
	ShouldNotMock          bool
}

// ParseFlags reads the recognized keys of raw. Unknown keys are ignored and
// unparseable booleans count as false.
func ParseFlags(raw map[string]string, defaultDomain string) Flags {
	if defaultDomain == "" {
		defaultDomain = DefaultDomain
	}

	f := Flags{
		MockDomain: strings.TrimSpace(raw[FlagMockDomain]),
		DeviceID:   strings.TrimSpace(raw[FlagDeviceID]),
		Scenario:   strings.TrimSpace(raw[FlagScenario]),

		DisableLiveEnvironment: parseBool(raw[FlagDisableLiveEnvironment]),
		DisableMockResponse:    parseBool(raw[FlagDisableMockResponse]),
		ShouldNotMock:          parseBool(raw[FlagShouldNotMock]),
	}
	if f.MockDomain == "" {
		f.MockDomain = defaultDomain
	}
	return f
}

func parseBool(s string) bool {
	b, err := strconv.ParseBool(strings.TrimSpace(s))
	return err == nil && b
}
