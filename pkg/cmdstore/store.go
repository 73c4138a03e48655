package cmdstore

import (
	"context"
	"errors"

	"github.com/cuemby/behemoth/pkg/types"
)

// ErrNotFound is returned when a command does not exist in the store.
var ErrNotFound = errors.New("command not found")

// maxFieldLength is the write-side truncation policy applied by the
// relational backend. The search-index backend stores full values.
const maxFieldLength = 1024

// Update is a fields-only command mutation. Applying the same update twice
// yields identical store state.
type Update struct {
	Status    types.CommandStatus
	Output    string
	Timestamp int64
}

// Store is the append-only per-execution command log.
//
// Two interchangeable backends implement it: a BoltDB backend (truncating
// text fields on write) and a Redis search-index backend (full values,
// keyword indices on execution id and org id). The choice is made at init
// time; the contract is identical.
type Store interface {
	// Append inserts the command with the next dense ordinal for its
	// execution and returns the command id.
	Append(ctx context.Context, cmd *types.Command) (string, error)

	// BulkCreate atomically inserts a dense run of commands; failure rolls
	// back all of them.
	BulkCreate(ctx context.Context, cmds []*types.Command) error

	// Get looks up one command scoped by execution and org.
	Get(ctx context.Context, executionID, commandID, orgID string) (*types.Command, error)

	// List returns the execution's commands ordered by index. With all set
	// to false, commands already in success are omitted. Soft-deleted
	// commands are always omitted.
	List(ctx context.Context, executionID string, all bool) ([]*types.Command, error)

	// UpdateFields applies a fields-only update to one command. Idempotent.
	UpdateFields(ctx context.Context, executionID, commandID string, upd Update) error

	// SoftDelete flags a command as deleted without removing it, so
	// playback replay can still clone it.
	SoftDelete(ctx context.Context, executionID, commandID string) error

	// HardDeleteMarked removes the execution's soft-deleted commands.
	HardDeleteMarked(ctx context.Context, executionID string) error

	// DeleteByExecution removes every command of an execution.
	DeleteByExecution(ctx context.Context, executionID string) error

	Close() error
}

// truncate shortens s to the backend's field policy, marking the cut.
func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	if max <= 3 {
		return s[:max]
	}
	return s[:max-3] + "..."
}
