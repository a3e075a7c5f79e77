package reason

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/basket/deskhand/internal/model"
)

// actionSchema is the contract the engine's JSON must satisfy. The
// action_type enum matches the closed set in the model package.
const actionSchema = `{
  "type": "object",
  "required": ["action_type", "title", "reasoning", "confidence"],
  "properties": {
    "action_type": {
      "type": "string",
      "enum": ["email_reply", "email_send", "chat_reply", "file_operation",
               "calendar_event", "payment", "social_post", "invoice", "custom"]
    },
    "title": {"type": "string", "minLength": 1},
    "reasoning": {"type": "string", "minLength": 1},
    "confidence": {"type": "number", "minimum": 0, "maximum": 1},
    "action_data": {"type": "object"},
    "handbook_references": {"type": "array", "items": {"type": "string"}},
    "requires_approval": {"type": "boolean"}
  }
}`

var compiledSchema = mustCompileSchema()

func mustCompileSchema() *jsonschema.Schema {
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(actionSchema))
	if err != nil {
		panic(fmt.Sprintf("action schema: %v", err))
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource("action.json", doc); err != nil {
		panic(fmt.Sprintf("action schema: %v", err))
	}
	s, err := c.Compile("action.json")
	if err != nil {
		panic(fmt.Sprintf("action schema: %v", err))
	}
	return s
}

type rawProposal struct {
	ActionType         string         `json:"action_type"`
	Title              string         `json:"title"`
	Reasoning          string         `json:"reasoning"`
	ActionData         map[string]any `json:"action_data"`
	Confidence         float64        `json:"confidence"`
	HandbookReferences []string       `json:"handbook_references"`
	RequiresApproval   *bool          `json:"requires_approval"`
}

// ParseResponse locates the engine's JSON object inside its textual output,
// validates it, and builds a ProposedAction. Surrounding commentary is
// tolerated; a missing or invalid object is an error and the caller retries
// the task next cycle.
func ParseResponse(response string) (*model.ProposedAction, error) {
	jsonStr := extractJSON(response)
	if jsonStr == "" {
		return nil, fmt.Errorf("response contains no JSON object")
	}

	parsed, err := jsonschema.UnmarshalJSON(strings.NewReader(jsonStr))
	if err != nil {
		return nil, fmt.Errorf("invalid JSON in response: %w", err)
	}
	if err := compiledSchema.Validate(parsed); err != nil {
		return nil, fmt.Errorf("response failed validation: %w", err)
	}

	var raw rawProposal
	if err := json.Unmarshal([]byte(jsonStr), &raw); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	at, err := model.ParseActionType(raw.ActionType)
	if err != nil {
		return nil, err
	}

	action := model.NewProposedAction(at, raw.Title, raw.Reasoning, raw.ActionData, raw.Confidence)
	if raw.HandbookReferences != nil {
		action.HandbookReferences = raw.HandbookReferences
	}
	if raw.RequiresApproval != nil {
		action.RequiresApproval = *raw.RequiresApproval
	}
	return action, nil
}

// extractJSON finds a JSON object in the response text: a fenced json
// block first, then a generic fence, then the first balanced brace run.
func extractJSON(text string) string {
	if idx := strings.Index(text, "```json"); idx >= 0 {
		start := idx + 7
		if start < len(text) && text[start] == '\n' {
			start++
		}
		if end := strings.Index(text[start:], "```"); end >= 0 {
			candidate := strings.TrimSpace(text[start : start+end])
			if candidate != "" {
				return candidate
			}
		}
	}

	if idx := strings.Index(text, "```\n"); idx >= 0 {
		start := idx + 4
		if end := strings.Index(text[start:], "```"); end >= 0 {
			candidate := strings.TrimSpace(text[start : start+end])
			if isJSON(candidate) {
				return candidate
			}
		}
	}

	for i := 0; i < len(text); i++ {
		if text[i] == '{' {
			candidate := extractBalanced(text[i:])
			if candidate != "" && isJSON(candidate) {
				return candidate
			}
		}
	}
	return ""
}

func isJSON(s string) bool {
	var v any
	return json.Unmarshal([]byte(s), &v) == nil
}

// extractBalanced returns the balanced object starting at s[0], respecting
// strings and escapes.
func extractBalanced(s string) string {
	if len(s) == 0 || s[0] != '{' {
		return ""
	}
	depth := 0
	inString := false
	escaped := false
	for i := 0; i < len(s); i++ {
		ch := s[i]
		if escaped {
			escaped = false
			continue
		}
		if ch == '\\' && inString {
			escaped = true
			continue
		}
		if ch == '"' {
			inString = !inString
			continue
		}
		if inString {
			continue
		}
		switch ch {
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[:i+1]
			}
		}
	}
	return ""
}
