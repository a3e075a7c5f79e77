package policy

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/basket/deskhand/internal/model"
)

func action(at model.ActionType, confidence float64, requiresApproval bool) *model.ProposedAction {
	a := model.NewProposedAction(at, "t", "r", nil, confidence)
	a.RequiresApproval = requiresApproval
	return a
}

func TestDecide(t *testing.T) {
	p := Default()
	tests := []struct {
		name   string
		action *model.ProposedAction
		want   bool
	}{
		{"confident email reply", action(model.ActionEmailReply, 0.92, false), true},
		{"engine requested approval", action(model.ActionEmailReply, 0.99, true), false},
		{"below threshold", action(model.ActionEmailReply, 0.80, false), false},
		{"exactly at threshold", action(model.ActionEmailReply, 0.85, false), true},
		{"payment never auto", action(model.ActionPayment, 0.99, false), false},
		{"social post never auto", action(model.ActionSocialPost, 0.99, false), false},
		{"file operation", action(model.ActionFileOperation, 0.90, false), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := p.Decide(tt.action)
			if d.AutoApprove != tt.want {
				t.Fatalf("AutoApprove = %v, want %v (reason: %s)", d.AutoApprove, tt.want, d.Reason)
			}
			if d.Reason == "" {
				t.Fatal("empty decision reason")
			}
		})
	}
}

func TestLoadMissingFileUsesFallback(t *testing.T) {
	p, err := Load(filepath.Join(t.TempDir(), "nope.yaml"), 0.9)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if p.ConfidenceThreshold != 0.9 {
		t.Fatalf("threshold = %v, want 0.9", p.ConfidenceThreshold)
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.yaml")
	data := "confidence_threshold: 0.75\nrequire_approval_types:\n  - invoice\n"
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	p, err := Load(path, 0.85)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if p.ConfidenceThreshold != 0.75 {
		t.Fatalf("threshold = %v, want 0.75", p.ConfidenceThreshold)
	}
	d := p.Decide(action(model.ActionInvoice, 0.99, false))
	if d.AutoApprove {
		t.Fatal("invoice auto-approved despite require_approval_types")
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	dir := t.TempDir()
	cases := map[string]string{
		"bad_threshold.yaml": "confidence_threshold: 1.5\n",
		"bad_type.yaml":      "confidence_threshold: 0.8\nrequire_approval_types: [teleport]\n",
	}
	for name, data := range cases {
		path := filepath.Join(dir, name)
		if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
			t.Fatalf("write: %v", err)
		}
		if _, err := Load(path, 0.85); err == nil {
			t.Fatalf("%s: Load succeeded, want error", name)
		}
	}
}

func TestVersionTracksContent(t *testing.T) {
	a := Default()
	b := Default()
	if a.Version() != b.Version() {
		t.Fatal("identical policies have different versions")
	}
	b.ConfidenceThreshold = 0.5
	if a.Version() == b.Version() {
		t.Fatal("different policies share a version")
	}
}
