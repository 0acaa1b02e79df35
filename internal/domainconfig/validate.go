package domainconfig

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidConfiguration wraps every validation failure.
var ErrInvalidConfiguration = errors.New("invalid domain configuration")

// Validate checks rule patterns, the save-filter chain shape and the ratio.
func (c *Configuration) Validate() error {
	var errs []error

	for _, p := range c.PathRules {
		if !isValidPathPattern(p.Path) {
			errs = append(errs, fmt.Errorf("path rule %q: invalid pattern", p.Path))
		}
	}
	for _, rules := range [][]KeyRule{c.QueryRules, c.HeaderRules} {
		for _, r := range rules {
			if r.Key == "" {
				errs = append(errs, fmt.Errorf("rule %q: empty key", r.Identity()))
			}
			for _, p := range r.Paths {
				if !isValidPathPattern(p) {
					errs = append(errs, fmt.Errorf("rule %q: invalid path %q", r.Key, p))
				}
			}
		}
	}

	if err := ValidateSaveFilters(c.SaveFilters); err != nil {
		errs = append(errs, err)
	}

	if c.App.PathMatchingRatio < 0 || c.App.PathMatchingRatio > 1 {
		errs = append(errs, fmt.Errorf("path matching ratio %v out of [0,1]", c.App.PathMatchingRatio))
	}

	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrInvalidConfiguration, errors.Join(errs...))
}

// ValidateSaveFilters checks that only the last rule is terminal and that every
// location and comparison is known.
func ValidateSaveFilters(rules []SaveFilterRule) error {
	for i, r := range rules {
		if r.LogicType.Terminal() && i != len(rules)-1 {
			return fmt.Errorf("save filter %d: %s must be the last rule", i, r.LogicType)
		}
		switch r.LogicType {
		case LogicAnd, LogicOr, LogicMock, LogicDoNotMock:
		default:
			return fmt.Errorf("save filter %d: unknown logic type %q", i, r.LogicType)
		}
		switch r.Location {
		case LocationAll, LocationPath, LocationQuery, LocationScenario, LocationMethod, LocationStatusCode:
		default:
			return fmt.Errorf("save filter %d: unknown location %q", i, r.Location)
		}
		switch r.Comparison {
		case CompareContains, CompareNotContains, CompareStartsWith, CompareEndsWith, CompareEqual, CompareNotEqual:
		default:
			return fmt.Errorf("save filter %d: unknown comparison %q", i, r.Comparison)
		}
	}
	return nil
}

// isValidPathPattern validates that a rule path is well-formed
func isValidPathPattern(path string) bool {
	// Path should start with /
	if !strings.HasPrefix(path, "/") {
		return false
	}

	// Only whole-segment wildcards are supported
	for _, seg := range strings.Split(path, "/") {
		if strings.Contains(seg, "*") && seg != "*" {
			return false
		}
	}

	return true
}
