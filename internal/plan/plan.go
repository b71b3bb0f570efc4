// internal/plan/plan.go
package plan

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/user/deskhand/internal/audit"
	"github.com/user/deskhand/internal/types"
	"github.com/user/deskhand/internal/vault"
)

// Generator turns a work item into a stored Plan. It asks the reasoner
// first and falls back to deterministic templates on any reasoner error,
// timeout, or empty output; only fallback errors are fatal.
type Generator struct {
	store       types.Store
	reasoner    types.Reasoner
	log         *audit.Logger
	agent       types.AgentID
	contextText string
}

// NewGenerator creates a plan Generator. reasoner may be nil, in which case
// every plan is template-generated. contextText is the operator-supplied
// background (handbook, goals) handed to the reasoner.
func NewGenerator(store types.Store, reasoner types.Reasoner, log *audit.Logger, agent types.AgentID, contextText string) *Generator {
	return &Generator{
		store:       store,
		reasoner:    reasoner,
		log:         log,
		agent:       agent,
		contextText: contextText,
	}
}

// Generate produces and stores a Plan for the item. The sensitive-action
// heuristic is applied to the final step list regardless of planning mode.
func (g *Generator) Generate(ctx context.Context, item *types.WorkItem) (*types.Plan, error) {
	steps, mode := g.draftSteps(ctx, item)
	if len(steps) == 0 {
		return nil, fmt.Errorf("no steps generated for item %s", item.ID)
	}

	ForceApproval(steps)

	required := false
	for _, s := range steps {
		if s.ApprovalRequired {
			required = true
			break
		}
	}

	p := &types.Plan{
		ID:               types.NewPlanID(),
		ItemID:           item.ID,
		CreatedAt:        time.Now().UTC(),
		Steps:            steps,
		ApprovalRequired: required,
		Mode:             mode,
	}
	if required {
		p.RiskNotes = "Contains sensitive steps; execution gated on human approval."
	}

	if err := g.store.Put(ctx, vault.BucketPlans, string(p.ID)+".json", p); err != nil {
		return nil, fmt.Errorf("store plan: %w", err)
	}

	g.log.Record(audit.Entry{
		Actor:  string(g.agent),
		Action: "create_plan",
		Target: string(p.ID),
		Result: "success",
		Params: map[string]any{
			"item_id": string(item.ID),
			"mode":    string(mode),
			"steps":   len(steps),
		},
	})
	return p, nil
}

// draftSteps tries the reasoner, falling back to templates on any failure.
func (g *Generator) draftSteps(ctx context.Context, item *types.WorkItem) ([]types.PlanStep, types.PlanMode) {
	if g.reasoner != nil {
		output, err := g.reasoner.Plan(ctx, item, g.contextText)
		if err != nil {
			slog.Info("reasoner unavailable, using templates", "item_id", string(item.ID), "reason", err)
		} else if steps := ParseChecklist(output); len(steps) > 0 {
			return steps, types.ModeReasoner
		} else {
			slog.Info("reasoner returned no usable steps, using templates", "item_id", string(item.ID))
		}
	}
	return templateSteps(item.Type), types.ModeTemplate
}

// checklistLine matches "- [ ] 3. description" with an optional number.
var checklistLine = regexp.MustCompile(`^[-*]\s*\[[ xX]?\]\s*(?:\d+[.)]\s*)?(.+)$`)

const approvalMarker = "[APPROVAL REQUIRED]"

// ParseChecklist extracts plan steps from a markdown checklist. Lines that
// don't look like checklist entries are ignored; an empty result means the
// output was unusable.
func ParseChecklist(output string) []types.PlanStep {
	var steps []types.PlanStep
	for _, line := range strings.Split(output, "\n") {
		m := checklistLine.FindStringSubmatch(strings.TrimSpace(line))
		if m == nil {
			continue
		}
		desc := strings.TrimSpace(m[1])
		required := false
		if idx := strings.Index(strings.ToUpper(desc), approvalMarker); idx >= 0 {
			required = true
			desc = desc[:idx] + desc[idx+len(approvalMarker):]
			desc = strings.TrimSpace(strings.Trim(strings.TrimSpace(desc), "*"))
		}
		if desc == "" {
			continue
		}
		steps = append(steps, types.PlanStep{Description: desc, ApprovalRequired: required})
	}
	return steps
}
