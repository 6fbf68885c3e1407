// Package tools holds the registry of functions the chat model may call and
// the validation of model-supplied arguments against each tool's schema.
package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/davidbz/librarian/internal/domain"
	"github.com/davidbz/librarian/internal/observability"
)

// Handler executes a tool with already-validated arguments. Handlers may read
// the corpus and retriever but never mutate conversation state; they return a
// value the orchestrator appends as a tool turn.
type Handler func(ctx context.Context, args map[string]any) (string, error)

// Tool pairs a declared schema with its handler.
type Tool struct {
	Definition domain.ToolDefinition
	Run        Handler
}

// ValidationError reports a tool call the model got wrong: unknown tool,
// unparseable arguments, missing required field or wrong type. It is
// recoverable: the orchestrator feeds it back so the model can retry.
type ValidationError struct {
	Tool   string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid call to tool %q: %s", e.Tool, e.Reason)
}

// Registry maps tool names to tools. Registration happens once at startup;
// lookups are concurrent.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
	order []string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		tools: make(map[string]Tool),
	}
}

// Register adds a tool. Duplicate names are rejected.
func (r *Registry) Register(tool Tool) error {
	if tool.Definition.Name == "" {
		return errors.New("tool name cannot be empty")
	}
	if tool.Run == nil {
		return fmt.Errorf("tool %s has no handler", tool.Definition.Name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tools[tool.Definition.Name]; exists {
		return fmt.Errorf("tool %s already registered", tool.Definition.Name)
	}

	r.tools[tool.Definition.Name] = tool
	r.order = append(r.order, tool.Definition.Name)

	return nil
}

// Definitions returns the declared schemas in registration order, for the
// chat model.
func (r *Registry) Definitions() []domain.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	defs := make([]domain.ToolDefinition, 0, len(r.order))
	for _, name := range r.order {
		defs = append(defs, r.tools[name].Definition)
	}
	return defs
}

// Execute validates a raw tool call and runs it. A *ValidationError means the
// model should retry with corrected arguments; any other error is a handler
// failure.
func (r *Registry) Execute(ctx context.Context, name, rawArgs string) (string, error) {
	r.mu.RLock()
	tool, exists := r.tools[name]
	r.mu.RUnlock()

	if !exists {
		return "", &ValidationError{Tool: name, Reason: "unknown tool"}
	}

	args, vErr := parseArguments(name, rawArgs)
	if vErr != nil {
		return "", vErr
	}

	if vErr := validate(tool.Definition, args); vErr != nil {
		return "", vErr
	}

	ctx = observability.WithTool(ctx, name)
	logger := observability.FromContext(ctx)

	result, err := tool.Run(ctx, args)
	if err != nil {
		logger.Warn("tool execution failed", observability.Error(err))
		return "", fmt.Errorf("tool %s failed: %w", name, err)
	}

	logger.Debug("tool executed", observability.Int("result_length", len(result)))
	return result, nil
}

// parseArguments decodes the model-supplied JSON object. An empty argument
// string is an empty object.
func parseArguments(name, rawArgs string) (map[string]any, *ValidationError) {
	if rawArgs == "" {
		return map[string]any{}, nil
	}

	var args map[string]any
	if err := json.Unmarshal([]byte(rawArgs), &args); err != nil {
		return nil, &ValidationError{Tool: name, Reason: fmt.Sprintf("arguments are not a JSON object: %v", err)}
	}
	return args, nil
}

// validate checks required fields and argument types against the schema.
func validate(def domain.ToolDefinition, args map[string]any) *ValidationError {
	for _, required := range def.Parameters.Required {
		if _, present := args[required]; !present {
			return &ValidationError{Tool: def.Name, Reason: fmt.Sprintf("missing required field %q", required)}
		}
	}

	for key, value := range args {
		prop, declared := def.Parameters.Properties[key]
		if !declared {
			return &ValidationError{Tool: def.Name, Reason: fmt.Sprintf("unknown field %q", key)}
		}
		if reason := checkType(prop.Type, value); reason != "" {
			return &ValidationError{Tool: def.Name, Reason: fmt.Sprintf("field %q %s", key, reason)}
		}
	}

	return nil
}

func checkType(expected string, value any) string {
	switch expected {
	case "string":
		if _, ok := value.(string); !ok {
			return "must be a string"
		}
	case "integer":
		// encoding/json decodes all numbers to float64.
		num, ok := value.(float64)
		if !ok || num != float64(int64(num)) {
			return "must be an integer"
		}
	case "number":
		if _, ok := value.(float64); !ok {
			return "must be a number"
		}
	}
	return ""
}
