// Package watchers holds the channel watcher implementations: the vault
// filesystem watcher and the telegram chat watcher.
package watchers

import (
	"strings"

	"github.com/basket/deskhand/internal/model"
)

// urgentKeywords escalate a message-derived task above the default priority.
var urgentKeywords = []string{"urgent", "asap", "emergency", "important", "critical"}

// keywordPriority returns P1 when the text carries an urgency keyword,
// otherwise the given default.
func keywordPriority(text string, def model.Priority) model.Priority {
	lower := strings.ToLower(text)
	for _, kw := range urgentKeywords {
		if strings.Contains(lower, kw) {
			return model.PriorityP1
		}
	}
	return def
}
