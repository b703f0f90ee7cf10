// Package tool holds the tool contract (§6.2): the ToolRegistry/
// ExecutionContext collaborator boundary the agent loop dispatches through.
// The registry itself is treated as an external collaborator by this
// module — concrete tool implementations (shell, file edit, search, …) are
// out of scope; this package only fixes the shapes the loop depends on.
package tool

import (
	"context"
	"fmt"

	"sidekickcore/provider"
)

// OutputAttachment is a non-text artifact a tool execution can surrender
// alongside its textual output (e.g. a generated image or file reference).
type OutputAttachment struct {
	Name      string `json:"name"`
	MediaType string `json:"mediaType"`
	URL       string `json:"url,omitempty"`
	Data      string `json:"data,omitempty"`
}

// Result is the structured outcome of a single tool execution.
type Result struct {
	Success     bool               `json:"success"`
	Output      string             `json:"output"`
	Error       string             `json:"error,omitempty"`
	Attachments []OutputAttachment `json:"attachments"`
}

// ExecutionContext carries whatever capability/workspace/tenant information
// a concrete registry needs to gate which tools are visible and how they
// run. The agent loop passes it through opaquely.
type ExecutionContext struct {
	WorkspaceID string
	TenantID    string
	Capabilities map[string]bool
}

// Registry looks up a tool by name, validates the execution context, and
// dispatches execution. Concrete implementations are collaborators outside
// this module's scope; the loop depends only on this interface.
type Registry interface {
	// Execute runs the named tool with the given JSON input under ctx.
	Execute(ctx context.Context, ectx ExecutionContext, name string, input any) (*Result, error)

	// SpecsForContext returns the tool specs visible under ctx (capability
	// gating), handed to providers by reference each turn.
	SpecsForContext(ectx ExecutionContext) []provider.ToolSpec
}

// ErrToolNotFound is returned by a Registry when no tool is registered
// under the requested name.
func ErrToolNotFound(name string) error {
	return fmt.Errorf("tool %q not found in registry", name)
}
