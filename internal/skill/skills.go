// internal/skill/skills.go
package skill

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/user/deskhand/internal/types"
)

// Recorder is the fallback skill: it performs no external action and simply
// records that the step was carried out. Useful for analysis and
// acknowledgement steps that need no side effects.
type Recorder struct{}

func (Recorder) Name() string { return "recorder" }

func (Recorder) Execute(ctx context.Context, item *types.WorkItem, step types.PlanStep) (*types.SkillResult, error) {
	return &types.SkillResult{
		Output: fmt.Sprintf("completed: %s (item %s)", step.Description, item.ID),
	}, nil
}

var _ types.Skill = Recorder{}

// DraftWriter produces a draft artifact on disk for steps that compose text
// (replies, posts, summaries). The artifact path is reported back so
// approval context can reference it.
type DraftWriter struct {
	Dir string
}

func (DraftWriter) Name() string { return "draft_writer" }

func (d DraftWriter) Execute(ctx context.Context, item *types.WorkItem, step types.PlanStep) (*types.SkillResult, error) {
	if err := os.MkdirAll(d.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create draft dir: %w", err)
	}
	name := fmt.Sprintf("%s-%d.md", item.ID, time.Now().UnixNano())
	path := filepath.Join(d.Dir, name)

	var b strings.Builder
	fmt.Fprintf(&b, "# Draft for %s\n\n", item.ID)
	fmt.Fprintf(&b, "Step: %s\n\nSource: %s\n\n---\n\n%s\n", step.Description, item.Source, item.Body)
	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		return nil, fmt.Errorf("write draft: %w", err)
	}
	return &types.SkillResult{
		Output:       "draft written",
		ArtifactPath: path,
	}, nil
}

var _ types.Skill = DraftWriter{}
