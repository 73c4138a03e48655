/*
Package types defines the core data structures used throughout Behemoth.

This package contains all fundamental types that represent Behemoth's domain
model: workers, environments, plans, executions, commands, and playbacks.
These types are used by all other packages for state management, API
communication, and orchestration logic.

# Core Types

Hosts and targets:
  - Worker: Remote host that runs the Behemoth agent, reached over SSH
  - Asset: Target database host a plan runs commands against
  - Account: Credential on an asset
  - Environment: Named set of assets a sync plan can late-bind against

Intent and execution:
  - Plan: User-authored ordered intent (deploy) or playback-derived (sync)
  - Execution: One run of one plan's commands against one asset
  - Command: One logical step in an execution, dense-indexed from 0
  - Playback / PlaybackExecution: Immutable recording of successful deploy
    executions, cloneable into sync plans

# State Machine

Executions follow a state machine:

	not-start → executing → success
	                ↓    ↘
	              pause   failed
	                ↓  ↘
	           executing  success

Terminal states are success and failed; no observation ever shows a
terminal state reverting. Pause may re-enter executing on operator resume,
or fast-forward to success on operator manual-success.

# Design Patterns

All enums use typed string constants:

	type TaskStatus string
	const (
	    StatusNotStart  TaskStatus = "not-start"
	    StatusExecuting TaskStatus = "executing"
	)

All types are JSON-serializable for storage; mutations must be synchronized
by callers (the storage layer handles persisted state).
*/
package types
