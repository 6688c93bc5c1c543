// Package checkpoint persists the latest state of every research thread so a
// paused thread can be resumed by any process.
package checkpoint

import (
	"context"
	"errors"
	"time"

	"github.com/srujansrutha/amri/internal/state"
)

var (
	// ErrNotFound is returned by Get when no checkpoint exists for a thread.
	ErrNotFound = errors.New("checkpoint not found")
	// ErrVersionConflict is returned by PutIfVersion when the stored version
	// moved since the caller read it.
	ErrVersionConflict = errors.New("checkpoint version conflict")
)

// Checkpoint is the materialized state of a thread plus the steps the engine
// would run next.
type Checkpoint struct {
	ThreadID     string             `json:"thread_id"`
	State        *state.ThreadState `json:"state"`
	PendingSteps []state.Step       `json:"pending_steps"`
	Version      int64              `json:"version"`
	UpdatedAt    time.Time          `json:"updated_at"`
}

// Store is durable keyed storage for checkpoints. Implementations must be safe
// for concurrent use. PutIfVersion is the only write that arbitrates between
// processes: it succeeds for exactly one of several writers holding the same
// expected version.
type Store interface {
	Put(ctx context.Context, cp *Checkpoint) error
	PutIfVersion(ctx context.Context, cp *Checkpoint, expected int64) error
	Get(ctx context.Context, threadID string) (*Checkpoint, error)
}

// Validate rejects checkpoints that could not be resumed from.
func (c *Checkpoint) Validate() error {
	if c == nil || c.State == nil {
		return errors.New("checkpoint has no state")
	}
	if c.ThreadID == "" || c.ThreadID != c.State.ThreadID {
		return errors.New("checkpoint thread id mismatch")
	}
	for _, s := range c.PendingSteps {
		if _, err := state.ParseStep(string(s)); err != nil {
			return err
		}
	}
	return nil
}
