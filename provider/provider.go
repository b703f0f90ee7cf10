package provider

import "context"

// Provider is the uniform contract every vendor adapter implements (§6.1).
// Adapters MUST NOT close the event channel passed to ChatStream; the caller
// owns the channel's lifecycle.
type Provider interface {
	ChatWithSystem(ctx context.Context, system, user, model string, temperature float32) (string, error)
	ChatWithSystemFull(ctx context.Context, system, user, model string, temperature float32) (*ProviderResponse, error)
	ChatWithTools(ctx context.Context, req ChatRequest) (*ProviderResponse, error)
	ChatWithToolsStream(ctx context.Context, req ChatRequest, events chan<- StreamEvent) (*ProviderResponse, error)

	// Warmup hits a lightweight endpoint to establish pooled TLS. Optional;
	// callers should treat failure as non-fatal.
	Warmup(ctx context.Context) error

	SupportsToolCalling() bool
	SupportsStreaming() bool
	SupportsVision() bool

	// Name identifies the provider for logging and fallback-chain naming.
	Name() string
}

// FallbackToolHelper is implemented by adapters that degrade to prompt-based
// tool invocation when SupportsToolCalling() is false (§4.4 fallback-tool
// path). It injects the registry's tool specs as a synthetic system-prompt
// section and post-parses the model's reply for a tool-call block.
type FallbackToolHelper interface {
	InjectFallbackTools(system string, tools []ToolSpec) string
	ParseFallbackToolCall(text string) (*ContentBlock, bool)
}
