package vault

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/basket/deskhand/internal/model"
)

// frontMatter is the yaml block between the first pair of --- lines.
type frontMatter struct {
	ID       string `yaml:"id"`
	Created  string `yaml:"created"`
	Priority string `yaml:"priority"`
	Status   string `yaml:"status"`
	Source   string `yaml:"source"`
}

var (
	contextBlockRe = regexp.MustCompile("(?s)```json\\s*(\\{.*?\\})\\s*```")
	subjectRe      = regexp.MustCompile(`\*\*Subject:\*\*\s*(.+)`)
	fromRe         = regexp.MustCompile(`New .* received from\s+(.+)`)

	actionIDRe     = regexp.MustCompile(`\*\*Action ID:\*\*\s*(\S+)`)
	actionTypeRe   = regexp.MustCompile(`\*\*Type:\*\*\s*(\S+)`)
	confidenceRe   = regexp.MustCompile(`\*\*Confidence:\*\*\s*(\d+)%`)
	frontMatterRe  = regexp.MustCompile(`(?s)\A\s*(?:#[^\n]*\n+)?---\n(.*?)\n---`)
	handbookRefsRe = regexp.MustCompile(`(?s)### Handbook References\n(.*?)(?:\n---|\n###|\z)`)
	reasoningRe    = regexp.MustCompile(`(?s)### Reasoning\n(.*?)(?:\n###|\z)`)
)

// Render produces the full markdown document for a task.
func Render(task *model.Task) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", task.Title)
	fmt.Fprintf(&b, "---\n")
	fmt.Fprintf(&b, "id: %s\n", task.ID)
	fmt.Fprintf(&b, "created: %s\n", task.CreatedAt.UTC().Format(time.RFC3339))
	fmt.Fprintf(&b, "priority: %s\n", task.Priority)
	fmt.Fprintf(&b, "status: %s\n", task.Status)
	fmt.Fprintf(&b, "source: %s\n", task.Source)
	fmt.Fprintf(&b, "---\n\n")

	fmt.Fprintf(&b, "## Description\n\n%s\n\n", task.Description)

	fmt.Fprintf(&b, "## Context\n\n```json\n%s\n```\n\n", marshalContext(task.Context))

	fmt.Fprintf(&b, "## History\n\n")
	fmt.Fprintf(&b, "- **Created:** %s\n", task.CreatedAt.UTC().Format("2006-01-02 15:04:05"))
	fmt.Fprintf(&b, "- **Updated:** %s\n\n", task.UpdatedAt.UTC().Format("2006-01-02 15:04:05"))

	fmt.Fprintf(&b, "---\n*Generated by deskhand - %s watcher*\n", task.Source)

	if task.ProposedAction != nil {
		b.WriteString(RenderProposedAction(task.ProposedAction))
	}
	return b.String()
}

// RenderProposedAction produces the approval section appended to a task
// document before it moves to Pending_Approval. The closing instruction is
// the contract with the human operator.
func RenderProposedAction(action *model.ProposedAction) string {
	var b strings.Builder
	b.WriteString("\n---\n\n## Proposed Action (Requires Approval)\n\n")
	fmt.Fprintf(&b, "**Action ID:** %s\n", action.ID)
	fmt.Fprintf(&b, "**Type:** %s\n", action.ActionType)
	fmt.Fprintf(&b, "**Confidence:** %.0f%%\n\n", action.Confidence*100)

	fmt.Fprintf(&b, "### Reasoning\n%s\n\n", action.Reasoning)

	fmt.Fprintf(&b, "### Proposed Details\n```json\n%s\n```\n\n", marshalContext(action.ActionData))

	b.WriteString("### Handbook References\n")
	if len(action.HandbookReferences) == 0 {
		b.WriteString("- None\n")
	} else {
		for _, ref := range action.HandbookReferences {
			fmt.Fprintf(&b, "- %s\n", ref)
		}
	}

	b.WriteString("\n---\n\n")
	b.WriteString("**To approve:** Move this file to `/Approved`\n")
	b.WriteString("**To reject:** Move this file to `/Rejected`\n")
	return b.String()
}

func marshalContext(m map[string]any) string {
	if m == nil {
		m = map[string]any{}
	}
	b, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return "{}"
	}
	return string(b)
}

// Parse reads a task document back into a Task. Documents are hand-editable,
// so every section degrades gracefully: missing front matter fields get
// defaults and a malformed context block falls back to regex extraction.
func Parse(content string) (*model.Task, error) {
	task := &model.Task{
		Priority: model.PriorityP2,
		Status:   model.StatusPending,
		Context:  map[string]any{},
	}

	if m := frontMatterRe.FindStringSubmatch(content); m != nil {
		var fm frontMatter
		if err := yaml.Unmarshal([]byte(m[1]), &fm); err != nil {
			return nil, fmt.Errorf("front matter: %w", err)
		}
		task.ID = fm.ID
		task.Source = fm.Source
		task.Priority = model.ParsePriority(fm.Priority)
		if st, ok := model.ParseStatus(fm.Status); ok {
			task.Status = st
		}
		if ts, err := parseTimestamp(fm.Created); err == nil {
			task.CreatedAt = ts
			task.UpdatedAt = ts
		}
	}

	if i := strings.Index(content, "# "); i >= 0 && (i == 0 || content[i-1] == '\n') {
		line := content[i+2:]
		if j := strings.IndexByte(line, '\n'); j >= 0 {
			line = line[:j]
		}
		task.Title = strings.TrimSpace(line)
	}

	task.Description = extractSection(content, "## Description")
	task.Context = extractContext(content)
	task.ProposedAction = parseProposedAction(content)
	return task, nil
}

func parseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05.999999", "2006-01-02T15:04:05"} {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}

// extractSection returns the body between a "## Heading" line and the next
// "## " heading or horizontal rule.
func extractSection(content, heading string) string {
	i := strings.Index(content, heading+"\n")
	if i < 0 {
		return ""
	}
	body := content[i+len(heading)+1:]
	for _, stop := range []string{"\n## ", "\n---"} {
		if j := strings.Index(body, stop); j >= 0 {
			body = body[:j]
		}
	}
	return strings.TrimSpace(body)
}

// extractContext pulls the structured context mapping out of the document.
// The canonical form is a fenced JSON block; single-quoted blocks written by
// earlier tooling are converted; well-known fields fall back to regex when
// the block is absent or unparseable.
func extractContext(content string) map[string]any {
	ctx := map[string]any{}

	if m := contextBlockRe.FindStringSubmatch(content); m != nil {
		raw := strings.TrimSpace(m[1])
		if err := json.Unmarshal([]byte(raw), &ctx); err != nil {
			if legacy := parseLegacyContext(raw); legacy != nil {
				ctx = legacy
			}
		}
	}

	if _, ok := ctx["subject"]; !ok {
		if m := subjectRe.FindStringSubmatch(content); m != nil {
			ctx["subject"] = strings.TrimSpace(m[1])
		}
	}
	if _, ok := ctx["from"]; !ok {
		if m := fromRe.FindStringSubmatch(content); m != nil {
			ctx["from"] = strings.TrimSpace(m[1])
		}
	}
	return ctx
}

// parseLegacyContext converts a single-quoted pseudo-JSON mapping, the shape
// an older generation of task files carried, into a map. Returns nil when
// the conversion does not yield valid JSON.
func parseLegacyContext(raw string) map[string]any {
	replaced := strings.NewReplacer(
		"'", `"`,
		"True", "true",
		"False", "false",
		"None", "null",
	).Replace(raw)
	var ctx map[string]any
	if err := json.Unmarshal([]byte(replaced), &ctx); err != nil {
		return nil
	}
	return ctx
}

// parseProposedAction reads back the approval section if one was appended.
func parseProposedAction(content string) *model.ProposedAction {
	i := strings.Index(content, "## Proposed Action (Requires Approval)")
	if i < 0 {
		return nil
	}
	section := content[i:]

	action := &model.ProposedAction{
		RequiresApproval:   true,
		ActionData:         map[string]any{},
		HandbookReferences: []string{},
	}

	if m := actionIDRe.FindStringSubmatch(section); m != nil {
		action.ID = m[1]
	}
	if m := actionTypeRe.FindStringSubmatch(section); m != nil {
		if at, err := model.ParseActionType(m[1]); err == nil {
			action.ActionType = at
		}
	}
	if m := confidenceRe.FindStringSubmatch(section); m != nil {
		if pct, err := strconv.Atoi(m[1]); err == nil {
			action.Confidence = float64(pct) / 100
		}
	}
	if m := reasoningRe.FindStringSubmatch(section); m != nil {
		action.Reasoning = strings.TrimSpace(m[1])
	}
	if m := contextBlockRe.FindStringSubmatch(section); m != nil {
		var data map[string]any
		if err := json.Unmarshal([]byte(m[1]), &data); err == nil {
			action.ActionData = data
		}
	}
	if m := handbookRefsRe.FindStringSubmatch(section); m != nil {
		for _, line := range strings.Split(m[1], "\n") {
			line = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(line), "-"))
			if line != "" && line != "None" {
				action.HandbookReferences = append(action.HandbookReferences, line)
			}
		}
	}
	if action.ID == "" && action.ActionType == "" {
		return nil
	}
	return action
}
