package flow

import (
	"context"

	"github.com/dohr-michael/chatflow/internal/store"
)

// prepopulateVars fills flow_vars from the linked contact, only for
// keys not already present, per spec §4.5.3.
func (e *Engine) prepopulateVars(ctx context.Context, vars map[string]string, contactID string) map[string]string {
	if vars == nil {
		vars = map[string]string{}
	}
	if contactID == "" {
		return vars
	}
	contact, err := e.store.GetContact(ctx, contactID)
	if err != nil || contact == nil {
		return vars
	}
	setIfAbsent(vars, "contact.name", contact.Name)
	setIfAbsent(vars, "contact.email", contact.Email)
	setIfAbsent(vars, "contact.phone", contact.Phone)
	setIfAbsent(vars, "contact.company", contact.Company)
	setIfAbsent(vars, "contact.location", contact.Location)

	attrs, err := e.store.ListContactCustomAttributes(ctx, contactID)
	if err == nil {
		for k, v := range attrs {
			setIfAbsent(vars, "contact."+k, v)
		}
	}
	return vars
}

func setIfAbsent(vars map[string]string, key, value string) {
	if _, ok := vars[key]; !ok {
		vars[key] = value
	}
}

// contactInfoFor returns a session's linked contact, or nil if it is
// unlinked or cannot be loaded.
func (e *Engine) contactInfoFor(ctx context.Context, session *store.Session) (contact *store.Contact) {
	if session.ContactID == "" {
		return nil
	}
	c, err := e.store.GetContact(ctx, session.ContactID)
	if err != nil {
		return nil
	}
	return c
}
