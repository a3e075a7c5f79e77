package reason

import (
	"fmt"
	"os"
	"strings"
)

const responseContract = `# Response Format

Respond with a JSON object:

` + "```json" + `
{
  "action_type": "<one of the valid types below>",
  "title": "Brief title of proposed action",
  "reasoning": "Explain WHY this action based on handbook/goals",
  "action_data": {},
  "confidence": 0.85,
  "handbook_references": ["Section 2.1: Email Protocol"],
  "requires_approval": true
}
` + "```" + `

## VALID ACTION TYPES (you MUST use exactly one of these):

### email_reply - Reply to an email
action_data must contain:
- "body": the reply message text
- "to": (optional) recipient email, defaults to sender

### email_send - Send a new email
action_data must contain: "to", "subject", "body"

### chat_reply - Reply to a chat message
action_data must contain:
- "body": the reply message

### file_operation - Create, update, or move files
action_data must contain:
- "operation": "create" | "update" | "move"
- "path": file path
- "content": file content (for create/update)
- "dest": destination path (for move)

### calendar_event - Schedule calendar events
action_data must contain: "title", "datetime" (ISO format)

### invoice - Draft an invoice
action_data must contain: "client", "amount", "description"

### payment - Process payments (always requires approval)
action_data must contain: "amount", "recipient"

### social_post - Post to social media (always requires approval)
action_data must contain: "platform", "content"

### custom - Any other action

# Decision Rules

Auto-approve (requires_approval: false) when the handbook explicitly allows
this type of action, your confidence is at least 0.85, and the action has no
financial impact.

Require approval (requires_approval: true) when the handbook is unclear,
confidence is below 0.85, money is involved, or this scenario is new.

When in doubt, ask for approval.`

// BuildPrompt assembles the full prompt: operating context, response
// contract, and the task document.
func BuildPrompt(handbook, goals, taskContent string) string {
	var b strings.Builder
	b.WriteString("You are a digital employee helping with business operations.\n\n")
	b.WriteString("# Your Operating Context\n\n")
	fmt.Fprintf(&b, "## Company Handbook (Your Rules)\n%s\n\n", strings.TrimSpace(handbook))
	fmt.Fprintf(&b, "## Business Goals (Your Mission)\n%s\n\n", strings.TrimSpace(goals))
	b.WriteString(responseContract)
	b.WriteString("\n\n---\n\n# CURRENT TASK\n\n")
	b.WriteString(strings.TrimSpace(taskContent))
	b.WriteString("\n\n---\n\nBased on the Company Handbook and Business Goals above, propose an action to handle this task.\n\nRespond ONLY with the JSON object as specified. No other text.\n")
	return b.String()
}

// LoadContextFile reads an operating-context document, returning a
// placeholder when the file is absent so a fresh install still works.
func LoadContextFile(path, placeholder string) string {
	b, err := os.ReadFile(path)
	if err != nil || len(strings.TrimSpace(string(b))) == 0 {
		return placeholder
	}
	return string(b)
}
