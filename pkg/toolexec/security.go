package toolexec

import (
	"fmt"
	"regexp"

	"github.com/dgraft/factengine/internal/validation"
	facterrors "github.com/dgraft/factengine/pkg/shared/errors"
)

const (
	maxArgumentCount = 50
	maxStringLength  = 10000
	maxArrayLength   = 1000
	maxObjectSize    = 100
	maxDepth         = 10
)

// dangerousPatterns matches SQL-injection keywords, shell metacharacters,
// path traversal, and script/markup injection across any string argument
// value, ported from the security validator's pattern list.
var dangerousPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\b(union\s+select|drop\s+table|delete\s+from|insert\s+into|update\s+set)\b`),
	regexp.MustCompile(`[;&|` + "`" + `$(){}\[\]\\]`),
	regexp.MustCompile(`\.\./|\.\.\\`),
	regexp.MustCompile(`(?i)<script\b|javascript:|data:text/html`),
}

// SecurityScanner rejects tool calls whose arguments carry injection
// patterns or exceed the structural limits meant to bound DoS exposure.
type SecurityScanner struct{}

// NewSecurityScanner constructs a SecurityScanner.
func NewSecurityScanner() *SecurityScanner {
	return &SecurityScanner{}
}

// Scan validates arguments for the given already-name-validated tool.
func (s *SecurityScanner) Scan(toolName string, arguments map[string]interface{}) error {
	if len(arguments) > maxArgumentCount {
		return securityErrf("too many arguments: %d exceeds the limit of %d", len(arguments), maxArgumentCount)
	}
	for key := range arguments {
		if err := validation.ValidateArgumentKey(key); err != nil {
			return facterrors.WrapKind(facterrors.KindSecurity, "argument key rejected", err)
		}
	}
	for key, value := range arguments {
		if err := s.scanValue(key, value, 0); err != nil {
			return err
		}
	}
	return nil
}

func (s *SecurityScanner) scanValue(path string, value interface{}, depth int) error {
	if depth > maxDepth {
		return securityErrf("argument structure too deep at %q", path)
	}
	switch v := value.(type) {
	case string:
		if len(v) > maxStringLength {
			return securityErrf("string argument %q too long: %d characters", path, len(v))
		}
		for _, pattern := range dangerousPatterns {
			if pattern.MatchString(v) {
				return securityErrf("dangerous pattern detected in argument %q", path)
			}
		}
	case []interface{}:
		if len(v) > maxArrayLength {
			return securityErrf("array argument %q too long: %d items", path, len(v))
		}
		for i, item := range v {
			if err := s.scanValue(fmt.Sprintf("%s[%d]", path, i), item, depth+1); err != nil {
				return err
			}
		}
	case map[string]interface{}:
		if len(v) > maxObjectSize {
			return securityErrf("object argument %q has too many properties: %d", path, len(v))
		}
		for k, item := range v {
			if err := s.scanValue(path+"."+k, item, depth+1); err != nil {
				return err
			}
		}
	}
	return nil
}

func securityErrf(format string, args ...interface{}) error {
	return facterrors.New(facterrors.KindSecurity, fmt.Sprintf(format, args...))
}
