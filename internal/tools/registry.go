// Package tools defines the tool contract exposed to the model and a
// registry that validates arguments before dispatch.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
	openai "github.com/sashabaranov/go-openai"
)

// MaxArgsSize caps tool argument payloads.
const MaxArgsSize = 1 << 20

// Tool is one model-callable capability. Schema returns the JSON Schema for
// the tool's arguments; Execute receives arguments already validated against
// it.
type Tool interface {
	Name() string
	Description() string
	Schema() json.RawMessage
	Execute(ctx context.Context, args json.RawMessage) (string, error)
}

type registeredTool struct {
	tool   Tool
	schema *jsonschema.Schema
}

// Registry holds registered tools with thread-safe lookup and validated
// dispatch.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]registeredTool
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]registeredTool)}
}

// Register adds a tool, compiling its argument schema. A tool with the same
// name is replaced.
func (r *Registry) Register(tool Tool) error {
	name := strings.TrimSpace(tool.Name())
	if name == "" {
		return fmt.Errorf("tool name is empty")
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(name+".json", strings.NewReader(string(tool.Schema()))); err != nil {
		return fmt.Errorf("add schema for %s: %w", name, err)
	}
	schema, err := compiler.Compile(name + ".json")
	if err != nil {
		return fmt.Errorf("compile schema for %s: %w", name, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[name] = registeredTool{tool: tool, schema: schema}
	return nil
}

// MustRegister registers the tool and panics on schema errors. Tool schemas
// are static, so a failure here is a programming error.
func (r *Registry) MustRegister(tool Tool) {
	if err := r.Register(tool); err != nil {
		panic(err)
	}
}

// Get returns a tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rt, ok := r.tools[name]
	if !ok {
		return nil, false
	}
	return rt.tool, true
}

// Names returns the registered tool names sorted.
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

// Definitions returns the registered tools as OpenAI-style function
// definitions for the chat payload, ordered by name.
func (r *Registry) Definitions() []openai.Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	defs := make([]openai.Tool, 0, len(r.tools))
	for _, rt := range r.tools {
		defs = append(defs, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        rt.tool.Name(),
				Description: rt.tool.Description(),
				Parameters:  rt.tool.Schema(),
			},
		})
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Function.Name < defs[j].Function.Name })
	return defs
}

// Dispatch validates args against the tool's schema and executes it. The
// return value is always a JSON string: failures come back as error payloads
// the model can read and recover from.
func (r *Registry) Dispatch(ctx context.Context, name string, args json.RawMessage) string {
	r.mu.RLock()
	rt, ok := r.tools[name]
	r.mu.RUnlock()
	if !ok {
		return errorPayload("unknown_tool", "no tool named "+name)
	}
	if len(args) == 0 {
		args = json.RawMessage(`{}`)
	}
	if len(args) > MaxArgsSize {
		return errorPayload("invalid_arguments", "arguments exceed size limit")
	}

	var decoded any
	if err := json.Unmarshal(args, &decoded); err != nil {
		return errorPayload("invalid_arguments", err.Error())
	}
	if err := rt.schema.Validate(decoded); err != nil {
		return errorPayload("invalid_arguments", err.Error())
	}

	result, err := rt.tool.Execute(ctx, args)
	if err != nil {
		return errorPayload("tool_failed", err.Error())
	}
	return result
}

func errorPayload(code, detail string) string {
	b, err := json.Marshal(map[string]string{"error": code, "detail": detail})
	if err != nil {
		return `{"error":"internal"}`
	}
	return string(b)
}
