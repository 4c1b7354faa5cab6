package resolver

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"

	"github.com/tasktalk/tasktalk/internal/conversation"
	"github.com/tasktalk/tasktalk/internal/log"
	"github.com/tasktalk/tasktalk/internal/tools"
)

// HistoryWindow caps how many prior messages are sent to the model.
// Older context rarely changes intent and inflates token cost.
const HistoryWindow = 20

// Genkit resolves intent through a Genkit-registered language model.
type Genkit struct {
	g      *genkit.Genkit
	model  string
	logger log.Logger
}

// NewGenkit creates a resolver backed by the named model, e.g.
// "googleai/gemini-2.5-flash".
func NewGenkit(g *genkit.Genkit, model string, logger log.Logger) *Genkit {
	if logger == nil {
		logger = log.NewNop()
	}
	return &Genkit{g: g, model: model, logger: logger}
}

// planEnvelope is the JSON shape the model is instructed to emit.
type planEnvelope struct {
	Reply     string       `json:"reply"`
	ToolCalls []tools.Call `json:"tool_calls"`
}

// Resolve asks the model to interpret text against the conversation so far.
// All failures, transport, timeout, or unparseable output, are reported as
// ErrUnavailable so callers never leak provider internals.
func (r *Genkit) Resolve(ctx context.Context, history []conversation.Message, text string) (*Result, error) {
	messages := make([]*ai.Message, 0, len(history)+1)
	for _, m := range trimHistory(history) {
		switch m.Role {
		case conversation.RoleAssistant:
			messages = append(messages, ai.NewModelMessage(ai.NewTextPart(m.Content)))
		default:
			messages = append(messages, ai.NewUserMessage(ai.NewTextPart(m.Content)))
		}
	}
	messages = append(messages, ai.NewUserMessage(ai.NewTextPart(text)))

	response, err := genkit.Generate(ctx, r.g,
		ai.WithModelName(r.model),
		ai.WithSystem(systemPrompt()),
		ai.WithMessages(messages...),
	)
	if err != nil {
		r.logger.Warn("model generation failed", "model", r.model, "error", err)
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	plan, err := parsePlan(response.Text())
	if err != nil {
		r.logger.Warn("model returned unparseable plan", "model", r.model, "error", err)
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return plan, nil
}

// parsePlan decodes the model output into a Result. Models often wrap JSON
// in Markdown code fences despite instructions, so those are stripped first.
func parsePlan(raw string) (*Result, error) {
	cleaned := stripCodeFence(strings.TrimSpace(raw))
	if cleaned == "" {
		return nil, fmt.Errorf("empty model output")
	}

	var env planEnvelope
	if err := json.Unmarshal([]byte(cleaned), &env); err != nil {
		return nil, fmt.Errorf("decoding plan: %w", err)
	}
	if env.Reply == "" && len(env.ToolCalls) == 0 {
		return nil, fmt.Errorf("plan has neither reply nor tool calls")
	}
	return &Result{Reply: env.Reply, Calls: env.ToolCalls}, nil
}

func stripCodeFence(s string) string {
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

func trimHistory(history []conversation.Message) []conversation.Message {
	if len(history) <= HistoryWindow {
		return history
	}
	return history[len(history)-HistoryWindow:]
}

// systemPrompt describes the assistant's job and the exact output contract.
// The tool section is generated from the registry so prompt and dispatcher
// never drift apart.
func systemPrompt() string {
	var b strings.Builder
	b.WriteString(`You are TaskTalk, an assistant that manages a user's todo list through conversation.

Interpret the user's latest message and respond with a single JSON object, no Markdown, no commentary:

{"reply": "<conversational answer for the user>", "tool_calls": [{"name": "<tool name>", "parameters": {...}}]}

Rules:
- "reply" is always present and written in a friendly, concise tone.
- "tool_calls" lists the operations needed to fulfil the request, in order. Use an empty array when the user is just chatting.
- Only use the tools listed below. Never invent tool names or parameters.
- When the user refers to a task by title, find its id in the conversation history. If you cannot determine which task is meant, ask for clarification in "reply" and emit no tool calls.

Available tools:
`)
	for _, def := range tools.Catalogue() {
		fmt.Fprintf(&b, "- %s: %s Parameters: %s\n", def.Name, def.Description, def.Parameters)
	}
	return b.String()
}
