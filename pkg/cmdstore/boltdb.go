package cmdstore

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sort"

	"github.com/cuemby/behemoth/pkg/types"
	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"
)

var bucketCommands = []byte("commands")

// BoltStore implements Store using BoltDB with a nested bucket per
// execution. Input and output are truncated to the field policy on write.
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore opens (or creates) the command database in dataDir.
func NewBoltStore(dataDir string) (*BoltStore, error) {
	dbPath := filepath.Join(dataDir, "commands.db")

	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open command database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketCommands)
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db}, nil
}

// Close closes the database
func (s *BoltStore) Close() error {
	return s.db.Close()
}

func executionBucket(tx *bolt.Tx, executionID string, create bool) (*bolt.Bucket, error) {
	root := tx.Bucket(bucketCommands)
	if create {
		return root.CreateBucketIfNotExists([]byte(executionID))
	}
	b := root.Bucket([]byte(executionID))
	if b == nil {
		return nil, fmt.Errorf("%w: execution %s", ErrNotFound, executionID)
	}
	return b, nil
}

func (s *BoltStore) Append(ctx context.Context, cmd *types.Command) (string, error) {
	if cmd.ID == "" {
		cmd.ID = uuid.New().String()
	}
	if cmd.Status == "" {
		cmd.Status = types.CommandNotStart
	}
	err := s.db.Update(func(tx *bolt.Tx) error {
		b, err := executionBucket(tx, cmd.ExecutionID, true)
		if err != nil {
			return err
		}

		// Next dense ordinal.
		next := 0
		if err := b.ForEach(func(k, v []byte) error {
			var existing types.Command
			if err := json.Unmarshal(v, &existing); err != nil {
				return err
			}
			if existing.Index >= next {
				next = existing.Index + 1
			}
			return nil
		}); err != nil {
			return err
		}
		cmd.Index = next
		return putCommand(b, cmd)
	})
	if err != nil {
		return "", err
	}
	return cmd.ID, nil
}

func (s *BoltStore) BulkCreate(ctx context.Context, cmds []*types.Command) error {
	// A single bolt transaction gives the required all-or-nothing behavior.
	return s.db.Update(func(tx *bolt.Tx) error {
		for _, cmd := range cmds {
			if cmd.ID == "" {
				cmd.ID = uuid.New().String()
			}
			if cmd.Status == "" {
				cmd.Status = types.CommandNotStart
			}
			b, err := executionBucket(tx, cmd.ExecutionID, true)
			if err != nil {
				return err
			}
			if err := putCommand(b, cmd); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *BoltStore) Get(ctx context.Context, executionID, commandID, orgID string) (*types.Command, error) {
	var cmd types.Command
	err := s.db.View(func(tx *bolt.Tx) error {
		b, err := executionBucket(tx, executionID, false)
		if err != nil {
			return err
		}
		data := b.Get([]byte(commandID))
		if data == nil {
			return fmt.Errorf("%w: %s", ErrNotFound, commandID)
		}
		return json.Unmarshal(data, &cmd)
	})
	if err != nil {
		return nil, err
	}
	if orgID != "" && cmd.OrgID != orgID {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, commandID)
	}
	return &cmd, nil
}

func (s *BoltStore) List(ctx context.Context, executionID string, all bool) ([]*types.Command, error) {
	var cmds []*types.Command
	err := s.db.View(func(tx *bolt.Tx) error {
		b, err := executionBucket(tx, executionID, false)
		if err != nil {
			// No commands yet is not an error for listing.
			return nil
		}
		return b.ForEach(func(k, v []byte) error {
			var cmd types.Command
			if err := json.Unmarshal(v, &cmd); err != nil {
				return err
			}
			if cmd.HasDelete {
				return nil
			}
			if !all && cmd.Status == types.CommandSuccess {
				return nil
			}
			cmds = append(cmds, &cmd)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(cmds, func(i, j int) bool { return cmds[i].Index < cmds[j].Index })
	return cmds, nil
}

func (s *BoltStore) UpdateFields(ctx context.Context, executionID, commandID string, upd Update) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b, err := executionBucket(tx, executionID, false)
		if err != nil {
			return err
		}
		data := b.Get([]byte(commandID))
		if data == nil {
			return fmt.Errorf("%w: %s", ErrNotFound, commandID)
		}
		var cmd types.Command
		if err := json.Unmarshal(data, &cmd); err != nil {
			return err
		}
		cmd.Status = upd.Status
		cmd.Output = truncate(upd.Output, maxFieldLength)
		cmd.Timestamp = upd.Timestamp
		return putCommand(b, &cmd)
	})
}

func (s *BoltStore) SoftDelete(ctx context.Context, executionID, commandID string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b, err := executionBucket(tx, executionID, false)
		if err != nil {
			return err
		}
		data := b.Get([]byte(commandID))
		if data == nil {
			return fmt.Errorf("%w: %s", ErrNotFound, commandID)
		}
		var cmd types.Command
		if err := json.Unmarshal(data, &cmd); err != nil {
			return err
		}
		cmd.HasDelete = true
		return putCommand(b, &cmd)
	})
}

func (s *BoltStore) HardDeleteMarked(ctx context.Context, executionID string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b, err := executionBucket(tx, executionID, false)
		if err != nil {
			return nil
		}
		var doomed [][]byte
		if err := b.ForEach(func(k, v []byte) error {
			var cmd types.Command
			if err := json.Unmarshal(v, &cmd); err != nil {
				return err
			}
			if cmd.HasDelete {
				doomed = append(doomed, append([]byte(nil), k...))
			}
			return nil
		}); err != nil {
			return err
		}
		for _, k := range doomed {
			if err := b.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *BoltStore) DeleteByExecution(ctx context.Context, executionID string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		root := tx.Bucket(bucketCommands)
		if root.Bucket([]byte(executionID)) == nil {
			return nil
		}
		return root.DeleteBucket([]byte(executionID))
	})
}

func putCommand(b *bolt.Bucket, cmd *types.Command) error {
	stored := *cmd
	stored.Input = truncate(stored.Input, maxFieldLength)
	stored.Output = truncate(stored.Output, maxFieldLength)
	data, err := json.Marshal(&stored)
	if err != nil {
		return err
	}
	return b.Put([]byte(stored.ID), data)
}
