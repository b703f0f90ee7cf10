package agentloop

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"sidekickcore/logger"
	"sidekickcore/provider"
	"sidekickcore/tool"
)

// ToolLoop runs a single bounded-iteration conversation (§4.6). Built fresh
// per turn from a Config; stateless between runs.
type ToolLoop struct {
	cfg           Config
	maxIterations int
}

// New builds a ToolLoop. maxIterations is clamped to ToolLoopHardCap at
// construction per the §8 testable property.
func New(cfg Config) *ToolLoop {
	logger.Init()
	return &ToolLoop{cfg: cfg, maxIterations: cfg.clampedMaxIterations()}
}

// MaxIterations reports the clamped iteration budget this loop will run
// with, for callers/tests that want to assert the cap was applied.
func (l *ToolLoop) MaxIterations() int { return l.maxIterations }

// Run drives the conversation to completion starting from history plus the
// new userMessage, optionally carrying image blocks already folded into
// userMessage by the caller.
func (l *ToolLoop) Run(ctx context.Context, history []provider.ProviderMessage, userMessage provider.ProviderMessage) (*Result, error) {
	specs := l.cfg.Registry.SpecsForContext(l.cfg.ExecCtx)

	systemPrompt := l.cfg.SystemPrompt
	if len(specs) > 0 {
		systemPrompt += trustPolicyBlock
	}

	messages := make([]provider.ProviderMessage, 0, len(history)+1)
	messages = append(messages, history...)
	messages = append(messages, userMessage)

	result := &Result{}
	var tokensUsed int
	var haveTokens bool

	for iteration := 0; ; iteration++ {
		if iteration >= l.maxIterations {
			result.StopReason = StopMaxIterations
			result.Iterations = iteration
			if haveTokens {
				result.TokensUsed = &tokensUsed
			}
			return result, nil
		}

		req := provider.ChatRequest{
			System:      systemPrompt,
			Messages:    messages,
			Tools:       specs,
			Model:       l.cfg.Model,
			Temperature: l.cfg.Temperature,
		}

		resp, err := l.callProvider(ctx, req)
		if err != nil {
			if cl := classify(err.Error()); cl != classifyNone {
				result.StopReason = stopReasonFor(cl)
				result.StopDetail = err.Error()
				result.Iterations = iteration
				if haveTokens {
					result.TokensUsed = &tokensUsed
				}
				return result, nil
			}
			return nil, fmt.Errorf("agentloop: provider call failed at iteration %d: %w", iteration, err)
		}

		if resp.InputTokens != nil {
			tokensUsed += *resp.InputTokens
			haveTokens = true
		}
		if resp.OutputTokens != nil {
			tokensUsed += *resp.OutputTokens
			haveTokens = true
		}

		assistantMsg := provider.ProviderMessage{Role: provider.RoleAssistant, Content: resp.ContentBlocks}
		messages = append(messages, assistantMsg)

		var toolUses []provider.ContentBlock
		for _, block := range resp.ContentBlocks {
			if block.Type == provider.BlockToolUse {
				toolUses = append(toolUses, block)
			}
		}

		if len(toolUses) == 0 {
			for _, hook := range l.cfg.CompletionHooks {
				hook(resp.Text)
			}
			result.FinalText = resp.Text
			result.StopReason = StopCompleted
			result.Iterations = iteration + 1
			if haveTokens {
				result.TokensUsed = &tokensUsed
			}
			return result, nil
		}

		for _, use := range toolUses {
			for _, hook := range l.cfg.PreToolHooks {
				decision := hook(use.ToolUseName, use.ToolUseInput)
				if decision.Kind == HookBlock {
					result.StopReason = StopHookBlocked
					result.StopDetail = decision.Reason
					result.Iterations = iteration + 1
					if haveTokens {
						result.TokensUsed = &tokensUsed
					}
					return result, nil
				}
			}

			execResult, err := l.cfg.Registry.Execute(ctx, l.cfg.ExecCtx, use.ToolUseName, use.ToolUseInput)
			if err != nil {
				if cl := classify(err.Error()); cl != classifyNone {
					result.StopReason = stopReasonFor(cl)
					result.StopDetail = err.Error()
					result.Iterations = iteration + 1
					if haveTokens {
						result.TokensUsed = &tokensUsed
					}
					return result, nil
				}
				log.Warn().Err(err).Str("tool", use.ToolUseName).Msg("tool execution failed, synthesizing error result")
				execResult = &tool.Result{Success: false, Error: err.Error(), Output: ""}
			}

			for _, hook := range l.cfg.PostToolHooks {
				hook(use.ToolUseName, use.ToolUseInput, execResult)
			}

			result.ToolCalls = append(result.ToolCalls, ToolCallRecord{
				ToolName:  use.ToolUseName,
				Args:      use.ToolUseInput,
				Result:    execResult,
				Iteration: iteration,
			})

			content := execResult.Output
			if !execResult.Success {
				msg := execResult.Error
				content = fmt.Sprintf("[ERROR] %s", msg)
			}
			messages = append(messages, provider.ProviderMessage{
				Role: provider.RoleUser,
				Content: []provider.ContentBlock{{
					Type:            provider.BlockToolResult,
					ToolResultUseID: use.ToolUseID,
					ToolResultText:  content,
					ToolResultError: !execResult.Success,
				}},
			})
		}
	}
}

func (l *ToolLoop) callProvider(ctx context.Context, req provider.ChatRequest) (*provider.ProviderResponse, error) {
	if l.cfg.StreamSink != nil {
		return l.cfg.Provider.ChatWithToolsStream(ctx, req, l.cfg.StreamSink)
	}
	return l.cfg.Provider.ChatWithTools(ctx, req)
}

func stopReasonFor(c classification) StopReason {
	switch c {
	case classifyRateLimited:
		return StopRateLimited
	case classifyApprovalDenied:
		return StopApprovalDenied
	default:
		return StopErrorReason
	}
}

