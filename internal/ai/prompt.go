package ai

import "strings"

type promptPair struct {
	system string
	user   string
}

func buildReplyPrompt(flowPrompt string, transcript []Turn, contact ContactInfo, tools []ToolSpec, visitorText string) promptPair {
	var sys strings.Builder
	sys.WriteString("You are a customer support assistant. Reply to the visitor's latest message.\n")
	if flowPrompt != "" {
		sys.WriteString(flowPrompt)
		sys.WriteString("\n")
	}
	sys.WriteString(contactBlock(contact))
	if len(tools) > 0 {
		sys.WriteString("\nYou may hand off to one of these flows by name when it fits the visitor's request:\n")
		for _, t := range tools {
			sys.WriteString("- ")
			sys.WriteString(t.Name)
			sys.WriteString(" (id=")
			sys.WriteString(t.ID)
			sys.WriteString("): ")
			sys.WriteString(t.Description)
			sys.WriteString("\n")
			for _, p := range t.Parameters {
				sys.WriteString("    param ")
				sys.WriteString(p.Key)
				if p.Required {
					sys.WriteString(" (required)")
				} else {
					sys.WriteString(" (optional)")
				}
				sys.WriteString(": ")
				sys.WriteString(p.Label)
				sys.WriteString("\n")
			}
		}
	}
	sys.WriteString("\nRespond with strict JSON of the shape:\n")
	sys.WriteString(`{"reply": string, "handover": bool, "closeChat": bool, "suggestions": string[], "triggerFlow": {"flowId": string, "variables": {"key": "value"}} | null}`)
	sys.WriteString("\nsuggestions has at most 6 entries. Omit fields you have no opinion on.")

	var user strings.Builder
	user.WriteString(transcriptBlock(transcript))
	user.WriteString("\nVisitor: ")
	user.WriteString(visitorText)

	return promptPair{system: sys.String(), user: user.String()}
}

func buildExtractPrompt(transcript []Turn, contact ContactInfo, vars []ToolParam, visitorText string) promptPair {
	var sys strings.Builder
	sys.WriteString("Extract the following fields from the conversation, if present. ")
	sys.WriteString("Respond with strict JSON mapping each key to a string value. Omit keys you cannot find.\n")
	for _, v := range vars {
		sys.WriteString("- ")
		sys.WriteString(v.Key)
		sys.WriteString(": ")
		sys.WriteString(v.Label)
		sys.WriteString("\n")
	}
	sys.WriteString(contactBlock(contact))

	var user strings.Builder
	user.WriteString(transcriptBlock(transcript))
	user.WriteString("\nVisitor: ")
	user.WriteString(visitorText)

	return promptPair{system: sys.String(), user: user.String()}
}

func contactBlock(c ContactInfo) string {
	if c.Name == "" && c.Email == "" && c.Phone == "" {
		return ""
	}
	var sb strings.Builder
	sb.WriteString("Known contact info:")
	if c.Name != "" {
		sb.WriteString(" name=")
		sb.WriteString(c.Name)
	}
	if c.Email != "" {
		sb.WriteString(" email=")
		sb.WriteString(c.Email)
	}
	if c.Phone != "" {
		sb.WriteString(" phone=")
		sb.WriteString(c.Phone)
	}
	sb.WriteString("\n")
	return sb.String()
}

func transcriptBlock(turns []Turn) string {
	var sb strings.Builder
	for _, t := range turns {
		sb.WriteString(t.Sender)
		sb.WriteString(": ")
		sb.WriteString(t.Text)
		sb.WriteString("\n")
	}
	return sb.String()
}
