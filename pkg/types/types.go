package types

import (
	"time"
)

// Worker represents a remote host that runs the Behemoth agent.
type Worker struct {
	ID       string
	Name     string
	OrgID    string
	Address  string
	Port     int
	Account  *WorkerAccount
	Labels   []string
	Platform PlatformBase
	Envs     string // environment variables injected at agent invocation
}

// WorkerAccount is the login used for the SSH handshake with a worker.
type WorkerAccount struct {
	Username string
	Password string
}

// GetLabels returns the worker's label set, never nil.
func (w *Worker) GetLabels() []string {
	if w.Labels == nil {
		return []string{}
	}
	return w.Labels
}

// PlatformBase is the base OS family of a worker host.
type PlatformBase string

const (
	PlatformLinux   PlatformBase = "linux"
	PlatformMac     PlatformBase = "mac"
	PlatformWindows PlatformBase = "windows"
)

// DatabaseType is the database family of a target asset.
type DatabaseType string

const (
	DatabaseMySQL  DatabaseType = "mysql"
	DatabaseOracle DatabaseType = "oracle"
	DatabaseScript DatabaseType = "script"
)

// Asset is a target database host addressed by plans.
type Asset struct {
	ID       string
	OrgID    string
	Name     string
	Address  string
	Port     int
	Type     DatabaseType
	DBName   string
	Labels   []string
	Accounts []*Account
}

// GetLabels returns the asset's label set, never nil. Worker selection
// matches these against worker label buckets.
func (a *Asset) GetLabels() []string {
	if a.Labels == nil {
		return []string{}
	}
	return a.Labels
}

// FindAccount returns the asset account with the given username.
func (a *Asset) FindAccount(username string) *Account {
	for _, acc := range a.Accounts {
		if acc.Username == username {
			return acc
		}
	}
	return nil
}

// Account is a credential on an asset.
type Account struct {
	ID         string
	Name       string
	Username   string
	Password   string
	Privileged bool
}

// Environment is a named set of target assets a plan can bind against.
type Environment struct {
	ID       string
	OrgID    string
	Name     string
	AssetIDs []string
}

// PlanCategory distinguishes authored deploy plans from playback-derived sync plans.
type PlanCategory string

const (
	PlanCategoryDeploy PlanCategory = "deploy"
	PlanCategorySync   PlanCategory = "sync"
)

// PlanStrategy controls whether a batch continues past a failed execution.
type PlanStrategy string

const (
	PlanFailedContinue PlanStrategy = "failed-continue"
	PlanFailedStop     PlanStrategy = "failed-stop"
)

// PlaybackStrategy controls promotion of successful deploy executions into playbacks.
type PlaybackStrategy string

const (
	PlaybackAutoPromote   PlaybackStrategy = "auto-promote"
	PlaybackManualPromote PlaybackStrategy = "manual-promote"
	PlaybackNeverPromote  PlaybackStrategy = "never-promote"
)

// Plan is a user-authored ordered intent to run commands.
//
// A deploy plan carries its asset and account directly; a sync plan leaves
// them empty until late binding resolves the hints carried by its executions.
type Plan struct {
	ID               string
	OrgID            string
	Name             string
	Category         PlanCategory
	Strategy         PlanStrategy
	PlaybackStrategy PlaybackStrategy
	EnvironmentID    string
	AssetID          string
	AccountID        string
	PlaybackID       string
	ReviewRequired   bool
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// TaskStatus is the lifecycle state of an execution.
type TaskStatus string

const (
	StatusNotStart  TaskStatus = "not-start"
	StatusExecuting TaskStatus = "executing"
	StatusPause     TaskStatus = "pause"
	StatusSuccess   TaskStatus = "success"
	StatusFailed    TaskStatus = "failed"
)

// IsTerminal reports whether the status is final.
func (s TaskStatus) IsTerminal() bool {
	return s == StatusSuccess || s == StatusFailed
}

// CanTransitionTo reports whether the status graph allows moving to next.
//
//	not-start → executing
//	executing → success | pause | failed
//	pause     → executing | success
func (s TaskStatus) CanTransitionTo(next TaskStatus) bool {
	switch s {
	case StatusNotStart:
		return next == StatusExecuting
	case StatusExecuting:
		return next == StatusSuccess || next == StatusPause || next == StatusFailed
	case StatusPause:
		return next == StatusExecuting || next == StatusSuccess
	default:
		return false
	}
}

// ExecutionCategory is the kind of payload an execution carries.
type ExecutionCategory string

const (
	CategoryCmd   ExecutionCategory = "cmd"
	CategoryFile  ExecutionCategory = "file"
	CategoryPause ExecutionCategory = "pause"
)

// Execution is one attempt to run one command sequence on one asset via one worker.
type Execution struct {
	ID       string
	OrgID    string
	PlanID   string
	Name     string
	Category ExecutionCategory
	Status   TaskStatus
	Reason   string
	Version  string

	// Resolved at dispatch time; nil-equivalent (empty) for sync executions
	// until late binding.
	WorkerID  string
	AssetID   string
	AccountID string

	// Late-binding hints captured from playback metadata.
	AssetNameHint       string
	AccountUsernameHint string

	UserID    string
	TaskID    string // id of the background batch driving this execution
	CreatedAt time.Time
	UpdatedAt time.Time
}

// CommandStatus is the lifecycle state of a single command.
type CommandStatus string

const (
	CommandNotStart CommandStatus = "not-start"
	CommandSuccess  CommandStatus = "success"
	CommandFailed   CommandStatus = "failed"
)

// Command is one logical step in an execution.
//
// Index values within one execution are unique and dense starting at 0.
// Once Status leaves not-start, Input is immutable.
type Command struct {
	ID          string `json:"id"`
	OrgID       string `json:"org_id"`
	ExecutionID string `json:"execution_id"`
	Index       int    `json:"index"`
	Input       string `json:"input"`
	Output      string `json:"output"`
	// Pause halts the execution after this command completes, for review.
	Pause     bool          `json:"pause"`
	Status    CommandStatus `json:"status"`
	Timestamp int64         `json:"timestamp"`
	HasDelete bool          `json:"has_delete"`
}

// Playback is an immutable recording of successful deploy executions.
type Playback struct {
	ID             string
	OrgID          string
	Name           string
	MonthlyVersion string
	CreatedAt      time.Time
}

// PlaybackExecution binds a playback to one recorded execution, capturing
// the display strings later used as late-binding hints by sync plans.
type PlaybackExecution struct {
	ID              string
	PlaybackID      string
	ExecutionID     string
	PlanName        string
	AssetName       string
	AccountUsername string
	Version         string
	CreatedAt       time.Time
}
