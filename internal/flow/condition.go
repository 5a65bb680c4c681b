package flow

import (
	"strconv"
	"strings"
)

// conditionRule is one clause of a condition node's rule set.
type conditionRule struct {
	Attribute    string
	Operator     string
	Value        string
	AttributeKey string
}

// conditionCtx supplies every attribute a rule might reference.
// Dynamic attributes (contact_attribute / conversation_attribute and
// their contact_attr./conv_attr. prefix forms) are resolved through
// the two lookup functions so the evaluator never touches the store
// directly.
type conditionCtx struct {
	Message               string
	Channel               string
	Status                string
	Priority              string
	AssigneeEmail         string
	TeamName              string
	InboxName             string
	ContactEmail          string
	ContactName           string
	ContactPhone          string
	ContactCompany        string
	ContactLocation       string
	ContactIdentified     bool
	ContactAttribute      func(key string) string
	ConversationAttribute func(key string) string
}

func (c conditionCtx) attributeValue(attr, key string) (string, bool) {
	switch attr {
	case "message":
		return c.Message, true
	case "channel":
		return c.Channel, true
	case "status":
		return c.Status, true
	case "priority":
		return c.Priority, true
	case "assignee":
		return c.AssigneeEmail, true
	case "team":
		return c.TeamName, true
	case "inbox":
		return c.InboxName, true
	case "contact.email":
		return c.ContactEmail, true
	case "contact.name":
		return c.ContactName, true
	case "contact.phone":
		return c.ContactPhone, true
	case "contact.company":
		return c.ContactCompany, true
	case "contact.location":
		return c.ContactLocation, true
	case "contact.identified":
		if c.ContactIdentified {
			return "true", true
		}
		return "false", true
	case "contact_attribute":
		if c.ContactAttribute == nil {
			return "", true
		}
		return c.ContactAttribute(key), true
	case "conversation_attribute":
		if c.ConversationAttribute == nil {
			return "", true
		}
		return c.ConversationAttribute(key), true
	}
	if rest, ok := strings.CutPrefix(attr, "contact_attr."); ok {
		if c.ContactAttribute == nil {
			return "", true
		}
		return c.ContactAttribute(rest), true
	}
	if rest, ok := strings.CutPrefix(attr, "conv_attr."); ok {
		if c.ConversationAttribute == nil {
			return "", true
		}
		return c.ConversationAttribute(rest), true
	}
	return "", false
}

func evalOperator(operator, actual, expected string) bool {
	switch operator {
	case "equals":
		return strings.EqualFold(actual, expected)
	case "not_equals":
		return !strings.EqualFold(actual, expected)
	case "contains":
		return strings.Contains(strings.ToLower(actual), strings.ToLower(expected))
	case "not_contains":
		return !strings.Contains(strings.ToLower(actual), strings.ToLower(expected))
	case "starts_with":
		return strings.HasPrefix(strings.ToLower(actual), strings.ToLower(expected))
	case "ends_with":
		return strings.HasSuffix(strings.ToLower(actual), strings.ToLower(expected))
	case "is_empty":
		return actual == ""
	case "is_not_empty":
		return actual != ""
	case "greater_than":
		return parseFloatOrZero(actual) > parseFloatOrZero(expected)
	case "less_than":
		return parseFloatOrZero(actual) < parseFloatOrZero(expected)
	default:
		return false
	}
}

func parseFloatOrZero(s string) float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0
	}
	return v
}

// evalRule evaluates a single rule, with unresolvable attributes
// treated as the empty string.
func evalRule(ctx conditionCtx, r conditionRule) bool {
	actual, _ := ctx.attributeValue(r.Attribute, r.AttributeKey)
	return evalOperator(r.Operator, actual, r.Value)
}

// evalRules combines a rule set per logicOperator. An empty rule list
// is false, per spec.
func evalRules(ctx conditionCtx, rules []conditionRule, logicOperator string) bool {
	if len(rules) == 0 {
		return false
	}
	if logicOperator == "or" {
		for _, r := range rules {
			if evalRule(ctx, r) {
				return true
			}
		}
		return false
	}
	for _, r := range rules {
		if !evalRule(ctx, r) {
			return false
		}
	}
	return true
}

// evalLegacyContains is the bare-`contains` fallback used when a
// condition node carries no rules array at all, only a top-level
// `contains` string compared against the visitor message.
func evalLegacyContains(message, needle string) bool {
	if needle == "" {
		return false
	}
	return strings.Contains(strings.ToLower(message), strings.ToLower(needle))
}
