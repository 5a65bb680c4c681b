package flow

import (
	"context"

	"github.com/dohr-michael/chatflow/internal/store"
)

// buildConditionCtx resolves every attribute a condition rule might
// reference for the current session and visitor message.
func (e *Engine) buildConditionCtx(ctx context.Context, session *store.Session, message string) conditionCtx {
	cc := conditionCtx{
		Message:  message,
		Channel:  session.Channel,
		Status:   session.Status,
		Priority: session.Priority,
	}

	if session.AssigneeAgentID != "" {
		if agent, err := e.store.GetAgent(ctx, session.AssigneeAgentID); err == nil && agent != nil {
			cc.AssigneeEmail = agent.Email
		}
	}
	if session.TeamID != "" {
		if team, err := e.store.GetTeam(ctx, session.TeamID); err == nil && team != nil {
			cc.TeamName = team.Name
		}
	}
	if session.InboxID != "" {
		if inbox, err := e.store.GetInbox(ctx, session.InboxID); err == nil && inbox != nil {
			cc.InboxName = inbox.Name
		}
	}

	if contact := e.contactInfoFor(ctx, session); contact != nil {
		cc.ContactEmail = contact.Email
		cc.ContactName = contact.Name
		cc.ContactPhone = contact.Phone
		cc.ContactCompany = contact.Company
		cc.ContactLocation = contact.Location
		cc.ContactIdentified = contact.Email != ""
		cc.ContactAttribute = func(key string) string {
			v, _, _ := e.store.GetContactCustomAttribute(ctx, contact.ID, key)
			return v
		}
	}

	cc.ConversationAttribute = func(key string) string {
		v, _, _ := e.store.GetConversationCustomAttribute(ctx, session.ID, key)
		return v
	}

	return cc
}

func decodeRules(data map[string]any) ([]conditionRule, string) {
	logicOperator := dataString(data, "logicOperator")
	raw := dataMapSlice(data, "rules")
	rules := make([]conditionRule, 0, len(raw))
	for _, r := range raw {
		rules = append(rules, conditionRule{
			Attribute:    dataString(r, "attribute"),
			Operator:     dataString(r, "operator"),
			Value:        dataString(r, "value"),
			AttributeKey: dataString(r, "attributeKey"),
		})
	}
	return rules, logicOperator
}
