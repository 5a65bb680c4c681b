package flow

import (
	"context"
	"strconv"
	"strings"

	"github.com/dohr-michael/chatflow/internal/store"
)

func (e *Engine) handleMessage(ctx context.Context, session *store.Session, node *store.FlowNode, vars map[string]string) (stepOutcome, error) {
	text := interpolate(dataString(node.Data, "text"), vars)
	suggestions := dataStringSlice(node.Data, "suggestions")
	delayMs := dataInt(node.Data, "delayMs")
	if err := e.sendAgentMessage(ctx, session.ID, "agent", text, suggestions, nil, delayMs); err != nil {
		return stepOutcome{}, err
	}
	return stepOutcome{}, nil
}

// widgetChoice mirrors the button/select entry shape
// carried in node data, each exposed to the widget as label+value.
type widgetChoice struct {
	Label string
	Value string
}

func decodeChoices(data map[string]any, key string) []widgetChoice {
	raw := dataMapSlice(data, key)
	out := make([]widgetChoice, 0, len(raw))
	for _, r := range raw {
		label := dataString(r, "label")
		value := dataString(r, "value")
		if value == "" {
			value = label
		}
		out = append(out, widgetChoice{Label: label, Value: value})
	}
	return out
}

// matchChoiceHandle resolves a visitor's free-text reply to a
// button/option handle by case-folded equality against label or
// value, falling back to "" (no match → first outgoing edge).
func matchChoiceHandle(choices []widgetChoice, reply, handlePrefix string) string {
	for i, c := range choices {
		if equalFold(c.Label, reply) || equalFold(c.Value, reply) {
			return handleFor(handlePrefix, i)
		}
	}
	return ""
}

func equalFold(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}

func handleFor(prefix string, index int) string {
	switch prefix {
	case "btn":
		return "btn-" + strconv.Itoa(index)
	case "opt":
		return "opt-" + strconv.Itoa(index)
	default:
		return ""
	}
}

func (e *Engine) handleButtons(ctx context.Context, session *store.Session, f *store.Flow, node *store.FlowNode, vars map[string]string) (stepOutcome, error) {
	text := interpolate(dataString(node.Data, "text"), vars)
	choices := decodeChoices(node.Data, "buttons")
	widget := map[string]any{"kind": "buttons", "buttons": choices}
	if err := e.sendAgentMessage(ctx, session.ID, "agent", text, nil, widget, 0); err != nil {
		return stepOutcome{}, err
	}
	if err := e.persistCursor(ctx, session, f.ID, node.ID, node.Type, vars); err != nil {
		return stepOutcome{}, err
	}
	return stepOutcome{paused: true}, nil
}

func (e *Engine) handleSelect(ctx context.Context, session *store.Session, f *store.Flow, node *store.FlowNode, vars map[string]string) (stepOutcome, error) {
	text := interpolate(dataString(node.Data, "text"), vars)
	choices := decodeChoices(node.Data, "options")
	widget := map[string]any{"kind": "select", "options": choices}
	if err := e.sendAgentMessage(ctx, session.ID, "agent", text, nil, widget, 0); err != nil {
		return stepOutcome{}, err
	}
	if err := e.persistCursor(ctx, session, f.ID, node.ID, node.Type, vars); err != nil {
		return stepOutcome{}, err
	}
	return stepOutcome{paused: true}, nil
}

func (e *Engine) handleInputForm(ctx context.Context, session *store.Session, f *store.Flow, node *store.FlowNode, vars map[string]string) (stepOutcome, error) {
	text := interpolate(dataString(node.Data, "text"), vars)
	fields := dataMapSlice(node.Data, "fields")
	widget := map[string]any{"kind": "input_form", "fields": fields}
	if err := e.sendAgentMessage(ctx, session.ID, "agent", text, nil, widget, 0); err != nil {
		return stepOutcome{}, err
	}
	if err := e.persistCursor(ctx, session, f.ID, node.ID, node.Type, vars); err != nil {
		return stepOutcome{}, err
	}
	return stepOutcome{paused: true}, nil
}

func (e *Engine) handleQuickInput(ctx context.Context, session *store.Session, f *store.Flow, node *store.FlowNode, vars map[string]string) (stepOutcome, error) {
	text := interpolate(dataString(node.Data, "text"), vars)
	widget := map[string]any{"kind": "quick_input", "variableName": dataString(node.Data, "variableName")}
	if err := e.sendAgentMessage(ctx, session.ID, "agent", text, nil, widget, 0); err != nil {
		return stepOutcome{}, err
	}
	if err := e.persistCursor(ctx, session, f.ID, node.ID, node.Type, vars); err != nil {
		return stepOutcome{}, err
	}
	return stepOutcome{paused: true}, nil
}

func (e *Engine) handleCarousel(ctx context.Context, session *store.Session, node *store.FlowNode, vars map[string]string) (stepOutcome, error) {
	items := dataMapSlice(node.Data, "items")
	widget := map[string]any{"kind": "carousel", "items": items}
	if err := e.sendAgentMessage(ctx, session.ID, "agent", "", nil, widget, 0); err != nil {
		return stepOutcome{}, err
	}
	return stepOutcome{}, nil
}
