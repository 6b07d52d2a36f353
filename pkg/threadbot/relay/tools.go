package relay

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/jholhewres/threadbot/pkg/threadbot/assistant"
)

// Sender identifies where a conversation came from, so replies and side
// effects are routed back to it.
type Sender struct {
	// Channel is the channel name (e.g. "telegram").
	Channel string

	// ChatID is the chat replies are sent to.
	ChatID string

	// Username is the sender's handle, for logging.
	Username string
}

// Invocation is one tool call as seen by a tool implementation.
type Invocation struct {
	CallID    string
	Name      string
	Arguments string
	Sender    Sender
}

// ToolFunc executes a tool call and returns its output text.
type ToolFunc func(ctx context.Context, inv Invocation) (string, error)

// ToolRegistry maps tool names to implementations.
type ToolRegistry struct {
	tools  map[string]ToolFunc
	logger *slog.Logger
	mu     sync.RWMutex
}

// NewToolRegistry creates an empty registry.
func NewToolRegistry(logger *slog.Logger) *ToolRegistry {
	if logger == nil {
		logger = slog.Default()
	}
	return &ToolRegistry{
		tools:  make(map[string]ToolFunc),
		logger: logger.With("component", "tools"),
	}
}

// Register adds or replaces a tool.
func (r *ToolRegistry) Register(name string, fn ToolFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[name] = fn
}

// Names returns the registered tool names, sorted.
func (r *ToolRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for n := range r.tools {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Dispatch runs every call and returns one output per call, in order. The
// run cannot continue until each requested call has an output, so unknown
// tools and failing tools still produce one.
func (r *ToolRegistry) Dispatch(ctx context.Context, calls []assistant.ToolCall, sender Sender) []assistant.ToolOutput {
	outputs := make([]assistant.ToolOutput, 0, len(calls))
	for _, call := range calls {
		r.mu.RLock()
		fn, ok := r.tools[call.Name]
		r.mu.RUnlock()

		var output string
		switch {
		case !ok:
			r.logger.Warn("unsupported tool requested", "tool", call.Name, "call_id", call.ID)
			output = fmt.Sprintf("Unsupported tool: %s", call.Name)
		default:
			res, err := fn(ctx, Invocation{
				CallID:    call.ID,
				Name:      call.Name,
				Arguments: call.Arguments,
				Sender:    sender,
			})
			if err != nil {
				r.logger.Error("tool failed", "tool", call.Name, "call_id", call.ID, "error", err)
				output = "Error: " + err.Error()
			} else {
				output = res
			}
		}

		outputs = append(outputs, assistant.ToolOutput{ToolCallID: call.ID, Output: output})
	}
	return outputs
}
