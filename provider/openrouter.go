package provider

// OpenRouterBaseURL is OpenRouter's OpenAI-compatible chat-completions host.
const OpenRouterBaseURL = "https://openrouter.ai/api/v1"

// NewOpenRouterAdapter builds an OpenAICompatAdapter configured for
// OpenRouter: same wire shape as OpenAI chat-completions, plus the
// HTTP-Referer/X-Title attribution headers OpenRouter asks integrators to
// send (§6.5).
func NewOpenRouterAdapter(apiKey, referer, title string) *OpenAICompatAdapter {
	headers := map[string]string{}
	if referer != "" {
		headers["HTTP-Referer"] = referer
	}
	if title != "" {
		headers["X-Title"] = title
	}
	return NewOpenAICompatAdapter(OpenRouterBaseURL, apiKey, OpenAICompatOptions{
		VendorName:     "openrouter",
		ExtraHeaders:   headers,
		SupportsVision: true,
	})
}

// NewOpenRouterFallbackAdapter builds an OpenRouter adapter in the degraded
// fallback-tool path (§4.4): some models OpenRouter routes to (local or
// older open models) never implement the tools/tool_calls wire fields, so
// tool specs are injected into the system prompt and replies are post-parsed
// for an embedded tool-call envelope instead.
func NewOpenRouterFallbackAdapter(apiKey, referer, title string) *OpenAICompatAdapter {
	a := NewOpenRouterAdapter(apiKey, referer, title)
	a.nativeTools = false
	return a
}
