// internal/skill/registry.go

// Package skill routes plan steps to the leaf capabilities that execute
// them. The engine treats skills as opaque: it hands a step in and gets a
// result or an error back.
package skill

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/user/deskhand/internal/types"
)

// Registry routes plan steps to skills by keyword match on the step
// description.
type Registry struct {
	mu     sync.RWMutex
	skills []entry
	// fallback runs steps no skill claims.
	fallback types.Skill
}

type entry struct {
	keywords []string
	skill    types.Skill
}

// NewRegistry creates a registry with the given fallback skill. The fallback
// must not be nil; every step needs somewhere to run.
func NewRegistry(fallback types.Skill) *Registry {
	return &Registry{fallback: fallback}
}

// Register adds a skill that claims steps whose description contains any of
// the given keywords (case-insensitive).
func (r *Registry) Register(skill types.Skill, keywords ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	lowered := make([]string, len(keywords))
	for i, k := range keywords {
		lowered[i] = strings.ToLower(k)
	}
	r.skills = append(r.skills, entry{keywords: lowered, skill: skill})
}

// Resolve returns the skill that will execute the given step.
func (r *Registry) Resolve(step types.PlanStep) types.Skill {
	r.mu.RLock()
	defer r.mu.RUnlock()
	desc := strings.ToLower(step.Description)
	for _, e := range r.skills {
		for _, k := range e.keywords {
			if strings.Contains(desc, k) {
				return e.skill
			}
		}
	}
	return r.fallback
}

// Execute runs one plan step through whichever skill claims it.
func (r *Registry) Execute(ctx context.Context, item *types.WorkItem, step types.PlanStep) (*types.SkillResult, error) {
	skill := r.Resolve(step)
	result, err := skill.Execute(ctx, item, step)
	if err != nil {
		return nil, fmt.Errorf("skill %s: %w", skill.Name(), err)
	}
	return result, nil
}
