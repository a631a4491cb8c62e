package planner

import (
	"context"
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/diagd/internal/plan"
)

// LLMConfig configures the OpenAI-compatible planning backend.
type LLMConfig struct {
	// BaseURL of the chat completions endpoint. Any OpenAI-compatible
	// provider works.
	BaseURL string

	// APIKey for the provider.
	APIKey string

	// Model name, e.g. "llama-3.1-8b-instant".
	Model string
}

// LLM implements Planner and Synthesizer over a chat model.
type LLM struct {
	model  llms.Model
	logger *zap.Logger
}

// NewLLM wraps an existing model. Useful for tests with a fake model.
func NewLLM(model llms.Model, logger *zap.Logger) *LLM {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LLM{model: model, logger: logger}
}

// NewOpenAI creates an LLM planner against an OpenAI-compatible API.
func NewOpenAI(cfg LLMConfig, logger *zap.Logger) (*LLM, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("planner: api key is required")
	}
	opts := []openai.Option{
		openai.WithToken(cfg.APIKey),
		openai.WithModel(cfg.Model),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
	}
	model, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("planner: creating model: %w", err)
	}
	return NewLLM(model, logger), nil
}

// Plan asks the model for an ordered list of tool steps and validates
// the response.
func (l *LLM) Plan(ctx context.Context, req Request) ([]plan.StepSpec, error) {
	if strings.TrimSpace(req.Query) == "" {
		return nil, fmt.Errorf("%w: empty query", ErrAmbiguousRequest)
	}

	raw, err := l.generate(ctx, planSystemPrompt, buildPlanPrompt(req))
	if err != nil {
		return nil, fmt.Errorf("planning call: %w", err)
	}

	specs, err := ParseResponse(raw)
	if err != nil {
		return nil, err
	}

	l.logger.Debug("plan generated",
		zap.Int("steps", len(specs)),
		zap.Bool("replan", req.Feedback != ""),
	)
	return specs, nil
}

// Synthesize builds the final report from executed steps.
func (l *LLM) Synthesize(ctx context.Context, query, convoContext string, steps []plan.Step) (string, error) {
	raw, err := l.generate(ctx, synthesisSystemPrompt, buildSynthesisPrompt(query, convoContext, steps))
	if err != nil {
		return "", fmt.Errorf("synthesis call: %w", err)
	}
	report := strings.TrimSpace(raw)
	if report == "" {
		return "", fmt.Errorf("synthesis returned empty report")
	}
	return report, nil
}

func (l *LLM) generate(ctx context.Context, system, user string) (string, error) {
	messages := []llms.MessageContent{
		{
			Role:  llms.ChatMessageTypeSystem,
			Parts: []llms.ContentPart{llms.TextPart(system)},
		},
		{
			Role:  llms.ChatMessageTypeHuman,
			Parts: []llms.ContentPart{llms.TextPart(user)},
		},
	}

	resp, err := l.model.GenerateContent(ctx, messages,
		llms.WithTemperature(0.2),
		llms.WithMaxTokens(600),
	)
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("model returned no choices")
	}
	return resp.Choices[0].Content, nil
}

const planSystemPrompt = `You are an industrial diagnostics planning agent. ` +
	`You respond with a JSON object only.`

const synthesisSystemPrompt = `You are an expert industrial diagnostics analyst. ` +
	`Create comprehensive, actionable diagnostic responses.`

func buildPlanPrompt(req Request) string {
	var b strings.Builder
	b.WriteString("Create a step-by-step diagnostic execution plan using ONLY the available tools.\n\n")
	if req.Context != "" {
		b.WriteString("CONVERSATION CONTEXT:\n")
		b.WriteString(req.Context)
		b.WriteString("\n\n")
	}
	fmt.Fprintf(&b, "CURRENT QUERY: %q\n\n", req.Query)
	if req.Feedback != "" {
		fmt.Fprintf(&b, "HUMAN FEEDBACK replacing the previous plan: %q\n"+
			"Produce a fresh plan that follows this guidance.\n\n", req.Feedback)
	}
	b.WriteString(`Available tools:
- SCADA: real-time and historical sensor data (pressure, temperature, vibration, rpm, load, error codes)
- MANUAL: technical manuals and troubleshooting procedures

Constraints:
1. Each step MUST start with "SCADA:" or "MANUAL:".
2. Only data-gathering steps; no analysis, comparison, or synthesis steps.
3. Maximum 3 steps.

Respond with ONLY a JSON object like:
{"steps": ["SCADA: get specific data", "MANUAL: search for specific procedures"]}`)
	return b.String()
}

func buildSynthesisPrompt(query, convoContext string, steps []plan.Step) string {
	var b strings.Builder
	fmt.Fprintf(&b, "User question: %s\n\n", query)
	if convoContext != "" {
		b.WriteString("Conversation context:\n")
		b.WriteString(convoContext)
		b.WriteString("\n\n")
	}
	b.WriteString("Executed steps and results:\n\n")
	b.WriteString(FormatStepResults(steps))
	b.WriteString("\n\nCreate a diagnostic response that answers the question, " +
		"synthesizes the gathered data, and gives prioritized, actionable " +
		"recommendations. Note any steps that failed as gaps in the data. " +
		"Keep it thorough but concise.")
	return b.String()
}

// FormatStepResults renders executed steps for the synthesis capability:
// completed steps with their results, failed steps as noted gaps.
func FormatStepResults(steps []plan.Step) string {
	var blocks []string
	for _, s := range steps {
		switch s.Status {
		case plan.StatusCompleted:
			blocks = append(blocks, fmt.Sprintf("[%s] %s\nResult: %s", s.Tool, s.Description, s.Result))
		case plan.StatusFailed:
			blocks = append(blocks, fmt.Sprintf("[%s] %s\nResult: FAILED (%s) - treat as a data gap", s.Tool, s.Description, s.Result))
		}
	}
	if len(blocks) == 0 {
		return "(no steps were executed)"
	}
	return strings.Join(blocks, "\n\n")
}
