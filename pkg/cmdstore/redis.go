package cmdstore

import (
	"context"
	"fmt"
	"strconv"

	"github.com/cuemby/behemoth/pkg/types"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	keyPrefix = "behemoth:cmd:"
	idxPrefix = "behemoth:cmdidx:"
)

// RedisStore implements Store on a Redis search index. Unlike the BoltDB
// backend it keeps full input and output values, so it is the backend of
// choice when commands carry large SQL scripts.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore connects to Redis and verifies the connection.
func NewRedisStore(ctx context.Context, addr, password string, db int) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return &RedisStore{client: client}, nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

func cmdKey(executionID, commandID string) string {
	return keyPrefix + executionID + ":" + commandID
}

func idxKey(executionID string) string {
	return idxPrefix + executionID
}

func cmdFields(cmd *types.Command) map[string]any {
	return map[string]any{
		"id":           cmd.ID,
		"org_id":       cmd.OrgID,
		"execution_id": cmd.ExecutionID,
		"index":        cmd.Index,
		"input":        cmd.Input,
		"output":       cmd.Output,
		"pause":        strconv.FormatBool(cmd.Pause),
		"status":       string(cmd.Status),
		"timestamp":    cmd.Timestamp,
		"has_delete":   strconv.FormatBool(cmd.HasDelete),
	}
}

func cmdFromHash(fields map[string]string) (*types.Command, error) {
	if len(fields) == 0 {
		return nil, ErrNotFound
	}
	index, err := strconv.Atoi(fields["index"])
	if err != nil {
		return nil, fmt.Errorf("bad index field: %w", err)
	}
	timestamp, _ := strconv.ParseInt(fields["timestamp"], 10, 64)
	pause, _ := strconv.ParseBool(fields["pause"])
	hasDelete, _ := strconv.ParseBool(fields["has_delete"])
	return &types.Command{
		ID:          fields["id"],
		OrgID:       fields["org_id"],
		ExecutionID: fields["execution_id"],
		Index:       index,
		Input:       fields["input"],
		Output:      fields["output"],
		Pause:       pause,
		Status:      types.CommandStatus(fields["status"]),
		Timestamp:   timestamp,
		HasDelete:   hasDelete,
	}, nil
}

func (s *RedisStore) Append(ctx context.Context, cmd *types.Command) (string, error) {
	if cmd.ID == "" {
		cmd.ID = uuid.New().String()
	}
	if cmd.Status == "" {
		cmd.Status = types.CommandNotStart
	}

	// Highest existing ordinal plus one keeps the sequence dense.
	top, err := s.client.ZRevRangeWithScores(ctx, idxKey(cmd.ExecutionID), 0, 0).Result()
	if err != nil {
		return "", err
	}
	cmd.Index = 0
	if len(top) > 0 {
		cmd.Index = int(top[0].Score) + 1
	}

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, cmdKey(cmd.ExecutionID, cmd.ID), cmdFields(cmd))
	pipe.ZAdd(ctx, idxKey(cmd.ExecutionID), redis.Z{Score: float64(cmd.Index), Member: cmd.ID})
	if _, err := pipe.Exec(ctx); err != nil {
		return "", err
	}
	return cmd.ID, nil
}

func (s *RedisStore) BulkCreate(ctx context.Context, cmds []*types.Command) error {
	pipe := s.client.TxPipeline()
	for _, cmd := range cmds {
		if cmd.ID == "" {
			cmd.ID = uuid.New().String()
		}
		if cmd.Status == "" {
			cmd.Status = types.CommandNotStart
		}
		pipe.HSet(ctx, cmdKey(cmd.ExecutionID, cmd.ID), cmdFields(cmd))
		pipe.ZAdd(ctx, idxKey(cmd.ExecutionID), redis.Z{Score: float64(cmd.Index), Member: cmd.ID})
	}
	_, err := pipe.Exec(ctx)
	return err
}

func (s *RedisStore) Get(ctx context.Context, executionID, commandID, orgID string) (*types.Command, error) {
	fields, err := s.client.HGetAll(ctx, cmdKey(executionID, commandID)).Result()
	if err != nil {
		return nil, err
	}
	cmd, err := cmdFromHash(fields)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", err, commandID)
	}
	if orgID != "" && cmd.OrgID != orgID {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, commandID)
	}
	return cmd, nil
}

func (s *RedisStore) List(ctx context.Context, executionID string, all bool) ([]*types.Command, error) {
	ids, err := s.client.ZRange(ctx, idxKey(executionID), 0, -1).Result()
	if err != nil {
		return nil, err
	}

	var cmds []*types.Command
	for _, id := range ids {
		fields, err := s.client.HGetAll(ctx, cmdKey(executionID, id)).Result()
		if err != nil {
			return nil, err
		}
		cmd, err := cmdFromHash(fields)
		if err != nil {
			// Index entry without a hash means a half-removed command.
			continue
		}
		if cmd.HasDelete {
			continue
		}
		if !all && cmd.Status == types.CommandSuccess {
			continue
		}
		cmds = append(cmds, cmd)
	}
	return cmds, nil
}

func (s *RedisStore) UpdateFields(ctx context.Context, executionID, commandID string, upd Update) error {
	key := cmdKey(executionID, commandID)
	exists, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return err
	}
	if exists == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, commandID)
	}
	return s.client.HSet(ctx, key, map[string]any{
		"status":    string(upd.Status),
		"output":    upd.Output,
		"timestamp": upd.Timestamp,
	}).Err()
}

func (s *RedisStore) SoftDelete(ctx context.Context, executionID, commandID string) error {
	key := cmdKey(executionID, commandID)
	exists, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return err
	}
	if exists == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, commandID)
	}
	return s.client.HSet(ctx, key, "has_delete", "true").Err()
}

func (s *RedisStore) HardDeleteMarked(ctx context.Context, executionID string) error {
	ids, err := s.client.ZRange(ctx, idxKey(executionID), 0, -1).Result()
	if err != nil {
		return err
	}
	for _, id := range ids {
		flagged, err := s.client.HGet(ctx, cmdKey(executionID, id), "has_delete").Result()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			return err
		}
		if flagged != "true" {
			continue
		}
		pipe := s.client.TxPipeline()
		pipe.Del(ctx, cmdKey(executionID, id))
		pipe.ZRem(ctx, idxKey(executionID), id)
		if _, err := pipe.Exec(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (s *RedisStore) DeleteByExecution(ctx context.Context, executionID string) error {
	ids, err := s.client.ZRange(ctx, idxKey(executionID), 0, -1).Result()
	if err != nil {
		return err
	}
	pipe := s.client.TxPipeline()
	for _, id := range ids {
		pipe.Del(ctx, cmdKey(executionID, id))
	}
	pipe.Del(ctx, idxKey(executionID))
	_, err = pipe.Exec(ctx)
	return err
}
