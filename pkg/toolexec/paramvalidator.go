package toolexec

import (
	"fmt"
	"net"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/dgraft/factengine/pkg/toolregistry"
)

var (
	emailPattern = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)
	uriPattern   = regexp.MustCompile(`^https?://.+`)
)

// ParamValidator validates tool call arguments against a ToolDefinition's
// parameter schema: required-present, type match, range/length/pattern,
// enum membership, array/object constraints, recursing into nested
// schemas.
type ParamValidator struct{}

// NewParamValidator constructs a ParamValidator.
func NewParamValidator() *ParamValidator {
	return &ParamValidator{}
}

// Validate checks arguments against schema, returning every violation
// joined into one error (mirrors the collect-then-report style of the
// original validator it's grounded on).
func (p *ParamValidator) Validate(arguments map[string]interface{}, schema map[string]toolregistry.ParamSchema) error {
	var errs []string

	for name, paramSchema := range schema {
		if _, present := arguments[name]; !present {
			if isRequired(paramSchema) {
				errs = append(errs, fmt.Sprintf("missing required parameter: %s", name))
			}
			continue
		}
	}

	for name, value := range arguments {
		paramSchema, ok := schema[name]
		if !ok {
			continue // extra parameters are tolerated, not rejected
		}
		errs = append(errs, p.validateValue(name, value, paramSchema)...)
	}

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

func isRequired(schema toolregistry.ParamSchema) bool {
	if schema.Default != nil {
		return false
	}
	if schema.Required != nil && !*schema.Required {
		return false
	}
	return true
}

func (p *ParamValidator) validateValue(name string, value interface{}, schema toolregistry.ParamSchema) []string {
	var errs []string

	switch schema.Type {
	case "string":
		errs = append(errs, p.validateString(name, value, schema)...)
	case "number":
		errs = append(errs, p.validateNumber(name, value, schema)...)
	case "integer":
		errs = append(errs, p.validateInteger(name, value, schema)...)
	case "boolean":
		if _, ok := value.(bool); !ok {
			errs = append(errs, fmt.Sprintf("%s must be a boolean", name))
		}
	case "object":
		errs = append(errs, p.validateObject(name, value, schema)...)
	case "array":
		errs = append(errs, p.validateArray(name, value, schema)...)
	}

	if len(schema.Enum) > 0 && !enumContains(schema.Enum, value) {
		errs = append(errs, fmt.Sprintf("%s must be one of: %v", name, schema.Enum))
	}
	return errs
}

func enumContains(enum []interface{}, value interface{}) bool {
	for _, e := range enum {
		if fmt.Sprintf("%v", e) == fmt.Sprintf("%v", value) {
			return true
		}
	}
	return false
}

func (p *ParamValidator) validateString(name string, value interface{}, schema toolregistry.ParamSchema) []string {
	s, ok := value.(string)
	if !ok {
		return []string{fmt.Sprintf("%s must be a string", name)}
	}
	var errs []string
	if schema.MinLength != nil && len(s) < *schema.MinLength {
		errs = append(errs, fmt.Sprintf("%s must be at least %d characters long", name, *schema.MinLength))
	}
	if schema.MaxLength != nil && len(s) > *schema.MaxLength {
		errs = append(errs, fmt.Sprintf("%s must be at most %d characters long", name, *schema.MaxLength))
	}
	if schema.Pattern != "" {
		re, err := regexp.Compile(schema.Pattern)
		if err != nil {
			errs = append(errs, fmt.Sprintf("invalid pattern for %s: %v", name, err))
		} else if !re.MatchString(s) {
			errs = append(errs, fmt.Sprintf("%s does not match required pattern", name))
		}
	}
	if schema.Format != "" {
		if err := ValidateFormat(name, schema.Format, s); err != nil {
			errs = append(errs, err.Error())
		}
	}
	return errs
}

// ValidateFormat checks a string value against one of the named formats
// (email, uri, date, datetime, ipv4, ipv6).
func ValidateFormat(name, format, value string) error {
	var ok bool
	switch format {
	case "email":
		ok = emailPattern.MatchString(value)
	case "uri":
		ok = uriPattern.MatchString(value)
	case "date":
		_, err := time.Parse("2006-01-02", value)
		ok = err == nil
	case "datetime":
		_, err := time.Parse(time.RFC3339, value)
		ok = err == nil
	case "ipv4":
		parsed := net.ParseIP(value)
		ok = parsed != nil && parsed.To4() != nil
	case "ipv6":
		parsed := net.ParseIP(value)
		ok = parsed != nil && parsed.To4() == nil
	default:
		return nil
	}
	if !ok {
		return fmt.Errorf("%s is not a valid %s", name, format)
	}
	return nil
}

func (p *ParamValidator) validateNumber(name string, value interface{}, schema toolregistry.ParamSchema) []string {
	f, ok := asFloat(value)
	if !ok {
		return []string{fmt.Sprintf("%s must be a number", name)}
	}
	return numericRangeErrors(name, f, schema)
}

func (p *ParamValidator) validateInteger(name string, value interface{}, schema toolregistry.ParamSchema) []string {
	f, ok := asFloat(value)
	if !ok || f != float64(int64(f)) {
		return []string{fmt.Sprintf("%s must be an integer", name)}
	}
	return numericRangeErrors(name, f, schema)
}

func numericRangeErrors(name string, f float64, schema toolregistry.ParamSchema) []string {
	var errs []string
	if schema.Minimum != nil && f < *schema.Minimum {
		errs = append(errs, fmt.Sprintf("%s must be >= %v", name, *schema.Minimum))
	}
	if schema.Maximum != nil && f > *schema.Maximum {
		errs = append(errs, fmt.Sprintf("%s must be <= %v", name, *schema.Maximum))
	}
	return errs
}

func asFloat(value interface{}) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case string:
		f, err := strconv.ParseFloat(v, 64)
		return f, err == nil
	default:
		return 0, false
	}
}

func (p *ParamValidator) validateObject(name string, value interface{}, schema toolregistry.ParamSchema) []string {
	obj, ok := value.(map[string]interface{})
	if !ok {
		return []string{fmt.Sprintf("%s must be an object", name)}
	}
	var errs []string
	for propName, propValue := range obj {
		if propSchema, ok := schema.Properties[propName]; ok {
			errs = append(errs, p.validateValue(name+"."+propName, propValue, propSchema)...)
			continue
		}
		if schema.AdditionalProperties != nil && !*schema.AdditionalProperties && len(schema.Properties) > 0 {
			errs = append(errs, fmt.Sprintf("%s contains unexpected property: %s", name, propName))
		}
	}
	return errs
}

func (p *ParamValidator) validateArray(name string, value interface{}, schema toolregistry.ParamSchema) []string {
	arr, ok := value.([]interface{})
	if !ok {
		return []string{fmt.Sprintf("%s must be an array", name)}
	}
	var errs []string
	if schema.MinItems != nil && len(arr) < *schema.MinItems {
		errs = append(errs, fmt.Sprintf("%s must have at least %d items", name, *schema.MinItems))
	}
	if schema.MaxItems != nil && len(arr) > *schema.MaxItems {
		errs = append(errs, fmt.Sprintf("%s must have at most %d items", name, *schema.MaxItems))
	}
	if schema.Items != nil {
		for i, item := range arr {
			errs = append(errs, p.validateValue(fmt.Sprintf("%s[%d]", name, i), item, *schema.Items)...)
		}
	}
	if schema.UniqueItems {
		seen := make(map[string]struct{}, len(arr))
		for _, item := range arr {
			key := fmt.Sprintf("%v", item)
			if _, dup := seen[key]; dup {
				errs = append(errs, fmt.Sprintf("%s must contain unique items", name))
				break
			}
			seen[key] = struct{}{}
		}
	}
	return errs
}
