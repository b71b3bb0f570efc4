// internal/types/interfaces.go
package types

import "context"

// Store is the shared hierarchical record store. Buckets are named
// partitions; a record lives in exactly one bucket at a time and an atomic
// Move between buckets is the only state transition primitive.
type Store interface {
	EnsureStructure() error
	Put(ctx context.Context, bucket, name string, record any) error
	Get(ctx context.Context, bucket, name string, out any) error
	GetRaw(ctx context.Context, bucket, name string) ([]byte, error)
	List(ctx context.Context, bucket string) ([]string, error)
	Move(ctx context.Context, fromBucket, name, toBucket string) error
	Delete(ctx context.Context, bucket, name string) error
	Exists(ctx context.Context, bucket, name string) (bool, error)
	Subbuckets(ctx context.Context, bucket string) ([]string, error)
}

// Reasoner generates a plan draft for a work item from its content plus
// supporting context. Any non-nil error or empty output means the caller
// should fall back to template planning.
type Reasoner interface {
	Plan(ctx context.Context, item *WorkItem, contextText string) (string, error)
}

// SkillResult reports the outcome of executing a single plan step.
type SkillResult struct {
	Output       string
	ArtifactPath string
}

// Skill performs exactly one plan step and reports success or failure.
// The core never inspects skill internals.
type Skill interface {
	Name() string
	Execute(ctx context.Context, item *WorkItem, step PlanStep) (*SkillResult, error)
}

// Watcher observes an external source and deposits work items into the
// incoming bucket. Watchers deduplicate on their own.
type Watcher interface {
	Name() string
	Run(ctx context.Context) error
}
