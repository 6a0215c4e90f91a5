// Package tools holds the tool registry the agent loop calls into and the
// built-in tools.
package tools

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/zivhm/yacb/internal/logger"
	"github.com/zivhm/yacb/pkg/types"
)

var log = logger.Component("tools")

// Handler is the function signature for tool handlers
type Handler func(ctx context.Context, params map[string]any) (string, error)

// Parameter describes a tool parameter
type Parameter struct {
	Name        string   `json:"name"`
	Type        string   `json:"type"` // string, integer, number, boolean, array, object
	Description string   `json:"description"`
	Required    bool     `json:"required"`
	Enum        []string `json:"enum,omitempty"`
}

// Tool is anything the registry can expose to a model
type Tool interface {
	Definition() types.ToolDefinition
	Execute(ctx context.Context, params map[string]any) (string, error)
}

// ContextSetter is implemented by tools that need the chat of the current turn
type ContextSetter interface {
	SetContext(channel, chatID string)
}

// Func is a tool built from a handler and a flat parameter list
type Func struct {
	Name        string
	Description string
	Parameters  []Parameter
	Handler     Handler
}

// Definition renders the parameter list as a JSON schema
func (f *Func) Definition() types.ToolDefinition {
	properties := make(map[string]any)
	required := make([]string, 0)

	for _, p := range f.Parameters {
		prop := map[string]any{
			"type": p.Type,
		}
		if p.Description != "" {
			prop["description"] = p.Description
		}
		if len(p.Enum) > 0 {
			prop["enum"] = p.Enum
		}
		properties[p.Name] = prop

		if p.Required {
			required = append(required, p.Name)
		}
	}

	return types.ToolDefinition{
		Name:        f.Name,
		Description: f.Description,
		Parameters: map[string]any{
			"type":       "object",
			"properties": properties,
			"required":   required,
		},
	}
}

// Execute runs the handler
func (f *Func) Execute(ctx context.Context, params map[string]any) (string, error) {
	return f.Handler(ctx, params)
}

// ResultKind classifies the outcome of one tool execution
type ResultKind string

const (
	ResultOK          ResultKind = "ok"
	ResultFailed      ResultKind = "failed"
	ResultNotFound    ResultKind = "not_found"
	ResultInvalidArgs ResultKind = "invalid_args"
	ResultPanicked    ResultKind = "panicked"
)

// Result is what the model sees for one tool call
type Result struct {
	Text string
	Kind ResultKind
}

// ArgError marks a handler failure caused by bad arguments
type ArgError struct {
	msg string
}

func (e *ArgError) Error() string { return e.msg }

// ArgErrorf builds an ArgError
func ArgErrorf(format string, args ...any) error {
	return &ArgError{msg: fmt.Sprintf(format, args...)}
}

// Registry manages available tools
type Registry struct {
	tools map[string]Tool
	mu    sync.RWMutex
}

// NewRegistry creates a new tool registry
func NewRegistry() *Registry {
	return &Registry{
		tools: make(map[string]Tool),
	}
}

// Register adds a tool, replacing any tool of the same name
func (r *Registry) Register(tool Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[tool.Definition().Name] = tool
}

// Get retrieves a tool by name
func (r *Registry) Get(name string) Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.tools[name]
}

// Has reports whether a tool is registered
func (r *Registry) Has(name string) bool {
	return r.Get(name) != nil
}

// Len returns the number of registered tools
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}

// Names returns the sorted tool names
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Definitions returns every tool schema in name order
func (r *Registry) Definitions() []types.ToolDefinition {
	names := r.Names()

	r.mu.RLock()
	defer r.mu.RUnlock()
	defs := make([]types.ToolDefinition, 0, len(names))
	for _, name := range names {
		defs = append(defs, r.tools[name].Definition())
	}
	return defs
}

// SetContext hands the current chat to every tool that wants it
func (r *Registry) SetContext(channel, chatID string) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, t := range r.tools {
		if cs, ok := t.(ContextSetter); ok {
			cs.SetContext(channel, chatID)
		}
	}
}

// Execute runs a tool and always returns a result; failures and panics become text
func (r *Registry) Execute(ctx context.Context, name string, params map[string]any) (res Result) {
	tool := r.Get(name)
	if tool == nil {
		return Result{Text: fmt.Sprintf("Error: Tool '%s' not found", name), Kind: ResultNotFound}
	}
	if params == nil {
		params = map[string]any{}
	}

	if missing := missingRequired(tool.Definition(), params); len(missing) > 0 {
		return Result{
			Text: "Error: Invalid parameters: missing required " + strings.Join(missing, ", missing required "),
			Kind: ResultInvalidArgs,
		}
	}

	defer func() {
		if p := recover(); p != nil {
			log.Error("tool %s panicked: %v", name, p)
			res = Result{Text: fmt.Sprintf("Error executing %s: panic: %v", name, p), Kind: ResultPanicked}
		}
	}()

	text, err := tool.Execute(ctx, params)
	if err != nil {
		var argErr *ArgError
		if errors.As(err, &argErr) {
			return Result{Text: "Error: Invalid parameters: " + argErr.msg, Kind: ResultInvalidArgs}
		}
		return Result{Text: fmt.Sprintf("Error executing %s: %v", name, err), Kind: ResultFailed}
	}
	return Result{Text: text, Kind: ResultOK}
}

func missingRequired(def types.ToolDefinition, params map[string]any) []string {
	var missing []string
	switch req := def.Parameters["required"].(type) {
	case []string:
		for _, k := range req {
			if _, ok := params[k]; !ok {
				missing = append(missing, k)
			}
		}
	case []any:
		for _, v := range req {
			if k, ok := v.(string); ok {
				if _, present := params[k]; !present {
					missing = append(missing, k)
				}
			}
		}
	}
	return missing
}

// StringParam reads a string argument, trimming whitespace
func StringParam(params map[string]any, key string) string {
	switch v := params[key].(type) {
	case string:
		return strings.TrimSpace(v)
	case nil:
		return ""
	default:
		return strings.TrimSpace(fmt.Sprint(v))
	}
}

// IntParam reads an integer argument. Models send JSON numbers as float64
// and sometimes quote them.
func IntParam(params map[string]any, key string) (int, bool) {
	switch v := params[key].(type) {
	case float64:
		return int(v), true
	case int:
		return v, true
	case int64:
		return int(v), true
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return 0, false
		}
		return n, true
	}
	return 0, false
}

// BoolParam reads a boolean argument; ok is false when absent or not a boolean
func BoolParam(params map[string]any, key string) (value bool, ok bool) {
	switch v := params[key].(type) {
	case bool:
		return v, true
	case string:
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return false, false
		}
		return b, true
	}
	return false, false
}
