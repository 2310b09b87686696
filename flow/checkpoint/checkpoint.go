// Package checkpoint snapshots the state store and restores it on demand.
//
// A checkpoint captures the full variable mapping of a state store at a
// point in a workflow. Checkpoints persist as one JSON file each and are
// indexed in memory for latest-match queries. The transaction and rollback
// paths of the recovery manager are built on this package.
package checkpoint

import (
	"encoding/json"
	"time"
)

// Kind describes why a checkpoint was taken.
type Kind string

const (
	// KindAuto checkpoints are taken on a configured interval before steps.
	KindAuto Kind = "auto"

	// KindManual checkpoints are requested explicitly by callers.
	KindManual Kind = "manual"

	// KindTransactional checkpoints bracket a transactional step and back
	// its rollback path.
	KindTransactional Kind = "transactional"

	// KindIncremental checkpoints are lightweight snapshots between autos.
	KindIncremental Kind = "incremental"
)

// Checkpoint is one snapshot of the state store.
type Checkpoint struct {
	ID        string                 `json:"id"`
	Workflow  string                 `json:"workflow_id"`
	Step      string                 `json:"step_id"`
	Kind      Kind                   `json:"checkpoint_type"`
	Timestamp time.Time              `json:"timestamp"`
	State     map[string]interface{} `json:"state"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// encode renders the checkpoint as indented UTF-8 JSON with RFC 3339
// timestamps.
func (c *Checkpoint) encode() ([]byte, error) {
	return json.MarshalIndent(c, "", "  ")
}
