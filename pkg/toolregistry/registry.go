// Package toolregistry holds the versioned map of tool definitions the
// Driver's LLM loop can call, plus the pre-computed JSON-schema export fed
// to the model as its tool catalog.
package toolregistry

import (
	"fmt"
	"sync"

	"github.com/dgraft/factengine/internal/validation"
	facterrors "github.com/dgraft/factengine/pkg/shared/errors"
	"github.com/dgraft/factengine/pkg/shared/logging"
)

// Registry holds tool_name -> ToolDefinition. Safe for concurrent use.
type Registry struct {
	mu     sync.RWMutex
	defs   map[string]*ToolDefinition
	logger *logging.Logger
}

// New constructs an empty Registry. logger may be nil.
func New(logger *logging.Logger) *Registry {
	return &Registry{
		defs:   make(map[string]*ToolDefinition),
		logger: logger,
	}
}

// Register validates def and installs it. If a definition with the same
// name already exists, def replaces it only when def.Version is strictly
// greater; otherwise the call is a silent no-op (logged), per spec.
func (r *Registry) Register(def *ToolDefinition) error {
	if err := validateDefinition(def); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	existing, ok := r.defs[def.Name]
	if ok && !validation.IsStrictlyGreater(def.Version, existing.Version) {
		if r.logger != nil {
			r.logger.Info("tool registration ignored: version not strictly greater",
				logging.Fields{}.Custom("tool_name", def.Name).
					Custom("existing_version", existing.Version).
					Custom("candidate_version", def.Version).ToZapFields()...)
		}
		return nil
	}

	r.defs[def.Name] = def
	return nil
}

func validateDefinition(def *ToolDefinition) error {
	if def == nil {
		return facterrors.New(facterrors.KindValidation, "tool definition must not be nil")
	}
	if err := validation.ValidateToolName(def.Name); err != nil {
		return facterrors.WrapKind(facterrors.KindValidation, "invalid tool name", err)
	}
	if def.Description == "" {
		return facterrors.New(facterrors.KindValidation, "tool description must not be empty")
	}
	if _, err := validation.ParseVersion(def.Version); err != nil {
		return facterrors.WrapKind(facterrors.KindValidation, "invalid tool version", err)
	}
	if def.TimeoutSeconds <= 0 {
		return facterrors.New(facterrors.KindValidation, "tool timeout_seconds must be positive")
	}
	if def.Function == nil {
		return facterrors.New(facterrors.KindValidation, "tool function must not be nil")
	}
	for name, schema := range def.Parameters {
		if err := validateParamSchema(name, schema); err != nil {
			return err
		}
	}
	return nil
}

func validateParamSchema(name string, schema ParamSchema) error {
	switch schema.Type {
	case "string", "number", "integer", "boolean", "object", "array":
	default:
		return facterrors.New(facterrors.KindValidation, fmt.Sprintf("parameter %q has unsupported type %q", name, schema.Type))
	}
	if schema.Type == "array" && schema.Items != nil {
		return validateParamSchema(name+"[]", *schema.Items)
	}
	if schema.Type == "object" {
		for propName, prop := range schema.Properties {
			if err := validateParamSchema(name+"."+propName, prop); err != nil {
				return err
			}
		}
	}
	return nil
}

// Get returns the definition registered under name.
func (r *Registry) Get(name string) (*ToolDefinition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.defs[name]
	if !ok {
		return nil, facterrors.New(facterrors.KindNotFound, fmt.Sprintf("tool %q is not registered", name))
	}
	return def, nil
}

// ExportAllSchemas returns the LLM-consumable schema for every registered
// tool. Pure function of the current registration set — callers may cache
// the result between registrations, per spec.
func (r *Registry) ExportAllSchemas() []InputSchema {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]InputSchema, 0, len(r.defs))
	for _, def := range r.defs {
		out = append(out, InputSchema{
			Name:        def.Name,
			Description: def.Description,
			Input: SchemaObject{
				Type:       "object",
				Properties: def.Parameters,
				Required:   requiredParams(def.Parameters),
			},
		})
	}
	return out
}

// requiredParams implements the export rule: a parameter is required
// unless its schema carries a Default or an explicit Required: false.
func requiredParams(params map[string]ParamSchema) []string {
	required := make([]string, 0, len(params))
	for name, schema := range params {
		if schema.Default != nil {
			continue
		}
		if schema.Required != nil && !*schema.Required {
			continue
		}
		required = append(required, name)
	}
	return required
}
