// Package validation holds the small set of name/identifier validators
// shared by the tool registry and the tool executor's security scanner, so
// the "what does a safe identifier look like" rule lives in exactly one
// place.
package validation

import (
	"fmt"
	"regexp"

	"github.com/Masterminds/semver/v3"
)

var (
	toolNamePattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)
	argKeyPattern   = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)
)

const maxArgKeyLength = 100

// ValidateToolName enforces the registry's naming rule: 1-64 characters
// from [A-Za-z0-9_-], containing at least one underscore (the registry's
// "Category_Action" convention).
func ValidateToolName(name string) error {
	if !toolNamePattern.MatchString(name) {
		return fmt.Errorf("tool name %q must match ^[A-Za-z0-9_-]{1,64}$", name)
	}
	if !containsUnderscore(name) {
		return fmt.Errorf("tool name %q must contain at least one underscore", name)
	}
	return nil
}

func containsUnderscore(s string) bool {
	for _, r := range s {
		if r == '_' {
			return true
		}
	}
	return false
}

// ValidateArgumentKey enforces the security scanner's argument-key rule:
// at most 100 characters, matching [A-Za-z0-9_-]+.
func ValidateArgumentKey(key string) error {
	if len(key) > maxArgKeyLength {
		return fmt.Errorf("argument key %q exceeds %d characters", key, maxArgKeyLength)
	}
	if !argKeyPattern.MatchString(key) {
		return fmt.Errorf("argument key %q must match ^[A-Za-z0-9_-]+$", key)
	}
	return nil
}

// ParseVersion parses a dotted-decimal version string, used by the tool
// registry to decide whether a re-registration strictly increases version.
func ParseVersion(v string) (*semver.Version, error) {
	parsed, err := semver.NewVersion(v)
	if err != nil {
		return nil, fmt.Errorf("invalid version %q: %w", v, err)
	}
	return parsed, nil
}

// IsStrictlyGreater reports whether candidate is a strictly greater version
// than current. An invalid candidate is never greater; an invalid current
// version is treated as lower than any valid candidate.
func IsStrictlyGreater(candidate, current string) bool {
	c, err := ParseVersion(candidate)
	if err != nil {
		return false
	}
	cur, err := ParseVersion(current)
	if err != nil {
		return true
	}
	return c.GreaterThan(cur)
}
