// Package policy decides whether a proposed action may execute without a
// human in the loop.
package policy

import (
	"fmt"
	"hash/fnv"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/basket/deskhand/internal/model"
)

// neverAuto lists the action types that always require a human, no matter
// what the reasoning engine claims. Not configurable.
var neverAuto = map[model.ActionType]struct{}{
	model.ActionPayment:    {},
	model.ActionSocialPost: {},
}

// Policy is the serializable approval policy.
type Policy struct {
	// ConfidenceThreshold is the minimum engine confidence for automatic
	// approval. [0.0, 1.0].
	ConfidenceThreshold float64 `yaml:"confidence_threshold"`

	// RequireApprovalTypes extends the built-in never-auto set with
	// additional action types.
	RequireApprovalTypes []string `yaml:"require_approval_types"`
}

func Default() Policy {
	return Policy{ConfidenceThreshold: 0.85}
}

// Load reads a policy file. A missing or empty file yields the default
// policy with the given fallback threshold.
func Load(path string, fallbackThreshold float64) (Policy, error) {
	p := Default()
	if fallbackThreshold > 0 {
		p.ConfidenceThreshold = fallbackThreshold
	}
	if path == "" {
		return p, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return p, nil
		}
		return Policy{}, fmt.Errorf("read policy: %w", err)
	}
	if len(data) == 0 {
		return p, nil
	}
	if err := yaml.Unmarshal(data, &p); err != nil {
		return Policy{}, fmt.Errorf("parse policy: %w", err)
	}
	if err := p.validate(); err != nil {
		return Policy{}, err
	}
	return p, nil
}

func (p Policy) validate() error {
	if p.ConfidenceThreshold < 0 || p.ConfidenceThreshold > 1 {
		return fmt.Errorf("confidence_threshold %v out of range [0, 1]", p.ConfidenceThreshold)
	}
	for _, t := range p.RequireApprovalTypes {
		if _, err := model.ParseActionType(t); err != nil {
			return fmt.Errorf("require_approval_types: %w", err)
		}
	}
	return nil
}

// Decision is the outcome of an approval check.
type Decision struct {
	AutoApprove bool
	Reason      string
}

// Decide determines whether the action can execute without human review.
// All three gates must pass: the engine did not ask for approval, confidence
// meets the threshold, and the action type is not reserved for humans.
func (p Policy) Decide(action *model.ProposedAction) Decision {
	if action.RequiresApproval {
		return Decision{Reason: "engine requested approval"}
	}
	if action.Confidence < p.ConfidenceThreshold {
		return Decision{Reason: fmt.Sprintf("confidence %.2f below threshold %.2f", action.Confidence, p.ConfidenceThreshold)}
	}
	if _, ok := neverAuto[action.ActionType]; ok {
		return Decision{Reason: fmt.Sprintf("action type %s always requires approval", action.ActionType)}
	}
	for _, t := range p.RequireApprovalTypes {
		if model.ActionType(t) == action.ActionType {
			return Decision{Reason: fmt.Sprintf("action type %s reserved for human review by policy", action.ActionType)}
		}
	}
	return Decision{AutoApprove: true, Reason: "within policy"}
}

// Version is a stable fingerprint of the policy, recorded in audit entries
// so a decision can be traced to the rules in force at the time.
func (p Policy) Version() string {
	h := fnv.New64a()
	fmt.Fprintf(h, "%.4f|", p.ConfidenceThreshold)
	for _, t := range p.RequireApprovalTypes {
		fmt.Fprintf(h, "%s|", t)
	}
	return fmt.Sprintf("%x", h.Sum64())
}
