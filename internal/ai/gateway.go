// Package ai is the AI gateway (C4): the two network-bound operations
// the flow interpreter calls into an external model for — generating a
// conversational reply and extracting structured variables from free
// text — plus the tolerant parsing and stub degradation both need.
package ai

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/dohr-michael/chatflow/internal/config"
)

// Turn is one transcript entry fed into a prompt as conversation history.
type Turn struct {
	Sender string // "visitor" | "agent" | "ai"
	Text   string
}

// ContactInfo is the subset of a contact's fields worth surfacing to
// the model for personalization and extraction grounding.
type ContactInfo struct {
	Name  string
	Email string
	Phone string
}

// ToolSpec describes one flow eligible for the model to trigger via
// triggerFlow, when the tenant has tool-flows enabled.
type ToolSpec struct {
	ID          string
	Name        string
	Description string
	Parameters  []ToolParam
}

type ToolParam struct {
	Key      string
	Label    string
	Required bool
}

// TriggerFlow is the decoded triggerFlow directive of a reply, if any.
type TriggerFlow struct {
	FlowID    string
	Variables map[string]string
}

// Decision is the gateway's decoded answer to generate_reply.
type Decision struct {
	Reply       string
	Handover    bool
	CloseChat   bool
	Suggestions []string
	TriggerFlow *TriggerFlow
}

// handoverLexicon is the fixed substring lexicon used both as the
// unparseable-text fallback and as the transport-failure fallback.
var handoverLexicon = []string{
	"human", "real person", "representative", "live agent",
	"transfer", "handover", "talk to agent", "speak to agent",
}

func heuristicHandover(text string) bool {
	lower := strings.ToLower(text)
	for _, phrase := range handoverLexicon {
		if strings.Contains(lower, phrase) {
			return true
		}
	}
	return false
}

// DetectHandoverIntent reports whether text contains any handover-intent
// phrase, the same lexicon the gateway falls back to on unparseable model
// output. The orchestrator uses it for the pre-interpreter shortcut.
func DetectHandoverIntent(text string) bool {
	return heuristicHandover(text)
}

const fixedApology = "Sorry, I'm having trouble responding right now. Let me connect you with a human agent."

// maxReplyTranscriptTurns bounds how much history generate_reply sends,
// per the "last N≈14 turns" guidance.
const maxReplyTranscriptTurns = 14

// maxExtractTranscriptTurns bounds extract_variables' transcript, which
// keeps more turns than the reply prompt.
const maxExtractTranscriptTurns = 20

// Gateway is the AI client used by the flow interpreter. A nil or
// empty API key degrades both operations to safe stubs rather than
// erroring, so the rest of the system runs without a provider
// configured.
type Gateway struct {
	client    anthropic.Client
	model     string
	maxTokens int
	stub      bool
}

func New(cfg config.AIConfig) *Gateway {
	if cfg.Auth.APIKey == "" || cfg.Driver == "stub" {
		return &Gateway{stub: true}
	}

	timeout := cfg.Timeout.Duration()
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.Auth.APIKey),
		option.WithRequestTimeout(timeout),
	}
	model := cfg.Model
	if model == "" {
		model = "claude-3-5-haiku-latest"
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 1024
	}
	return &Gateway{
		client:    anthropic.NewClient(opts...),
		model:     model,
		maxTokens: maxTokens,
	}
}

// GenerateReply produces the next agent-authored message for a turn of
// conversation, optionally steered by a flow-provided system prompt and
// a tool catalog of triggerable sub-flows.
func (g *Gateway) GenerateReply(ctx context.Context, flowPrompt string, transcript []Turn, contact ContactInfo, tools []ToolSpec, visitorText string) Decision {
	if g.stub {
		return Decision{Reply: "Thanks for your message: " + visitorText}
	}

	transcript = lastN(transcript, maxReplyTranscriptTurns)
	prompt := buildReplyPrompt(flowPrompt, transcript, contact, tools, visitorText)

	resp, err := g.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(g.model),
		MaxTokens: int64(g.maxTokens),
		System:    []anthropic.TextBlockParam{{Text: prompt.system}},
		Messages:  []anthropic.MessageParam{anthropic.NewUserMessage(anthropic.NewTextBlock(prompt.user))},
	})
	if err != nil {
		slog.Warn("ai: generate_reply transport failure", "error", err)
		return Decision{Reply: fixedApology, Handover: true}
	}

	text := concatText(resp)
	decision, ok := parseDecisionJSON(text)
	if !ok {
		return Decision{Reply: text, Handover: heuristicHandover(text)}
	}
	return decision
}

// ExtractVariables pulls the requested keys out of free text via a
// focused, strictly-JSON extraction call. Failures return the empty map.
func (g *Gateway) ExtractVariables(ctx context.Context, transcript []Turn, contact ContactInfo, vars []ToolParam, visitorText string) map[string]string {
	if g.stub || len(vars) == 0 {
		return map[string]string{}
	}

	transcript = lastN(transcript, maxExtractTranscriptTurns)
	prompt := buildExtractPrompt(transcript, contact, vars, visitorText)

	resp, err := g.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(g.model),
		MaxTokens: int64(g.maxTokens),
		System:    []anthropic.TextBlockParam{{Text: prompt.system}},
		Messages:  []anthropic.MessageParam{anthropic.NewUserMessage(anthropic.NewTextBlock(prompt.user))},
	})
	if err != nil {
		slog.Warn("ai: extract_variables transport failure", "error", err)
		return map[string]string{}
	}

	text := concatText(resp)
	raw, ok := extractJSONObject(text)
	if !ok {
		return map[string]string{}
	}
	return coerceStringMap(raw)
}

func concatText(resp *anthropic.Message) string {
	var sb strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	return sb.String()
}

func lastN(turns []Turn, n int) []Turn {
	if len(turns) <= n {
		return turns
	}
	return turns[len(turns)-n:]
}
