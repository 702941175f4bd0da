package execution

import (
	"context"
	"time"

	"github.com/ethpandaops/runkeeper/pkg/api/store"
)

// Digest is the aggregated data of a completed run handed to the
// notification collaborator. Rendering it is the collaborator's job.
type Digest struct {
	RunID         string              `json:"run_id"`
	ProjectID     string              `json:"project_id"`
	RunName       string              `json:"run_name"`
	ExecutionType store.ExecutionType `json:"execution_type"`
	Environment   string              `json:"environment,omitempty"`
	StartedAt     *time.Time          `json:"started_at,omitempty"`
	CompletedAt   *time.Time          `json:"completed_at,omitempty"`
	Stats         Stats               `json:"stats"`

	// Recipients are the deliverable addresses of eligible recipients.
	Recipients []string `json:"recipients"`
}

// Eligible reports whether the digest has anyone to go to.
func (d *Digest) Eligible() bool {
	return d != nil && len(d.Recipients) > 0
}

// Notifier prepares completion digests and hands them to delivery.
type Notifier interface {
	Prepare(ctx context.Context, run *store.Run, stats Stats) (*Digest, error)
	Dispatch(ctx context.Context, digest *Digest) error
}
