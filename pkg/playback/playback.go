package playback

import (
	"context"
	"fmt"
	"time"

	"github.com/cuemby/behemoth/pkg/cmdstore"
	"github.com/cuemby/behemoth/pkg/log"
	"github.com/cuemby/behemoth/pkg/storage"
	"github.com/cuemby/behemoth/pkg/types"
	"github.com/google/uuid"
)

// Recorder appends successful deploy executions to playback history and
// clones recorded history into fresh executions for sync plans.
type Recorder struct {
	store storage.Store
	cmds  cmdstore.Store
}

// NewRecorder creates a recorder over the given stores.
func NewRecorder(store storage.Store, cmds cmdstore.Store) *Recorder {
	return &Recorder{store: store, cmds: cmds}
}

// RecordSuccess appends exactly one PlaybackExecution row for a deploy
// execution that reached success under an auto-promote plan. Replays are
// no-ops.
func (r *Recorder) RecordSuccess(plan *types.Plan, execution *types.Execution) error {
	if plan.Category != types.PlanCategoryDeploy ||
		plan.PlaybackStrategy != types.PlaybackAutoPromote ||
		plan.PlaybackID == "" {
		return nil
	}
	if execution.Status != types.StatusSuccess {
		return nil
	}

	existing, err := r.store.ListPlaybackExecutionsByExecution(execution.ID)
	if err != nil {
		return err
	}
	for _, pe := range existing {
		if pe.PlaybackID == plan.PlaybackID {
			return nil
		}
	}

	assetName, accountUsername := r.displayStrings(execution)
	row := &types.PlaybackExecution{
		ID:              uuid.New().String(),
		PlaybackID:      plan.PlaybackID,
		ExecutionID:     execution.ID,
		PlanName:        plan.Name,
		AssetName:       assetName,
		AccountUsername: accountUsername,
		Version:         execution.Version,
		CreatedAt:       time.Now(),
	}
	if err := r.store.CreatePlaybackExecution(row); err != nil {
		return fmt.Errorf("failed to record playback execution: %w", err)
	}

	logger := log.WithExecutionID(execution.ID)
	logger.Info().
		Str("playback_id", plan.PlaybackID).
		Msg("Execution promoted to playback")
	return nil
}

// displayStrings captures the asset and account names as shown to users;
// they later serve as late-binding hints for sync plans.
func (r *Recorder) displayStrings(execution *types.Execution) (assetName, accountUsername string) {
	asset, err := r.store.GetAsset(execution.AssetID)
	if err != nil {
		return execution.AssetNameHint, execution.AccountUsernameHint
	}
	assetName = asset.Name
	for _, acc := range asset.Accounts {
		if acc.ID == execution.AccountID {
			accountUsername = acc.Username
			break
		}
	}
	return assetName, accountUsername
}

// Materialize clones the recorded history rows, in order, into fresh
// executions under a sync plan. Each source execution's commands are
// cloned with a dense index run starting at 0; soft-deleted source
// commands are skipped and hard-removed. Cloning is atomic per source
// execution: a failed command clone rolls the new execution back.
func (r *Recorder) Materialize(ctx context.Context, plan *types.Plan, playbackExecutionIDs []string) ([]*types.Execution, error) {
	created := make([]*types.Execution, 0, len(playbackExecutionIDs))
	for _, peID := range playbackExecutionIDs {
		pe, err := r.store.GetPlaybackExecution(peID)
		if err != nil {
			return created, fmt.Errorf("failed to load playback execution %s: %w", peID, err)
		}
		execution, err := r.materializeOne(ctx, plan, pe)
		if err != nil {
			return created, err
		}
		created = append(created, execution)
	}
	return created, nil
}

func (r *Recorder) materializeOne(ctx context.Context, plan *types.Plan, pe *types.PlaybackExecution) (*types.Execution, error) {
	source, err := r.store.GetExecution(pe.ExecutionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load source execution: %w", err)
	}

	execution := &types.Execution{
		ID:                  uuid.New().String(),
		OrgID:               plan.OrgID,
		PlanID:              plan.ID,
		Name:                source.Name,
		Category:            source.Category,
		Status:              types.StatusNotStart,
		Version:             pe.Version,
		AssetNameHint:       pe.AssetName,
		AccountUsernameHint: pe.AccountUsername,
		UserID:              source.UserID,
		CreatedAt:           time.Now(),
	}
	if err := r.store.CreateExecution(execution); err != nil {
		return nil, err
	}

	sourceCmds, err := r.cmds.List(ctx, source.ID, true)
	if err != nil {
		r.store.DeleteExecution(execution.ID)
		return nil, err
	}

	clones := make([]*types.Command, 0, len(sourceCmds))
	for i, src := range sourceCmds {
		clone := &types.Command{
			ID:          uuid.New().String(),
			OrgID:       plan.OrgID,
			ExecutionID: execution.ID,
			Index:       i,
			Input:       src.Input,
			Pause:       src.Pause,
			Status:      types.CommandNotStart,
		}
		// Pause steps keep their recorded output as operator context.
		if source.Category == types.CategoryPause {
			clone.Output = src.Output
		}
		clones = append(clones, clone)
	}
	if err := r.cmds.BulkCreate(ctx, clones); err != nil {
		r.store.DeleteExecution(execution.ID)
		return nil, fmt.Errorf("failed to clone commands: %w", err)
	}

	// Source cleanup while we hold the rows.
	if err := r.cmds.HardDeleteMarked(ctx, source.ID); err != nil {
		logger := log.WithExecutionID(source.ID)
		logger.Warn().Err(err).Msg("Failed to purge soft-deleted commands")
	}
	return execution, nil
}
