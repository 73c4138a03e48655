package agent

import (
	"context"
	"crypto/md5"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/cuemby/behemoth/pkg/cmdstore"
	"github.com/cuemby/behemoth/pkg/log"
	"github.com/cuemby/behemoth/pkg/security"
	"github.com/cuemby/behemoth/pkg/types"
)

// ErrNoCommands signals that every command of the execution already
// succeeded; nothing to invoke.
var ErrNoCommands = errors.New("no pending commands")

// AgentError is a fatal error reported by the remote agent on stderr.
type AgentError struct {
	Stderr string
}

func (e *AgentError) Error() string {
	return fmt.Sprintf("agent error: %s", e.Stderr)
}

// Auth is the target database credential block of the invocation envelope.
type Auth struct {
	Address    string `json:"address"`
	Port       int    `json:"port"`
	Username   string `json:"username"`
	Password   string `json:"password"`
	DBName     string `json:"db_name"`
	Privileged bool   `json:"privileged,omitempty"`
}

// Envelope is the parameter set handed to the agent, base64-encoded JSON
// on the --command flag.
type Envelope struct {
	Host           string `json:"host"`
	Token          string `json:"token"`
	TaskID         string `json:"task_id"`
	OrgID          string `json:"org_id"`
	CmdType        string `json:"cmd_type"`
	Script         string `json:"script"`
	CmdSetFilepath string `json:"cmd_set_filepath"`
	CmdFile        string `json:"cmd_file,omitempty"`
	Auth           Auth   `json:"auth"`
	EncryptedData  bool   `json:"encrypted_data"`
	Envs           string `json:"envs"`
}

// bundleCommand is one entry of the serialized command bundle.
type bundleCommand struct {
	ID    string `json:"id"`
	Input string `json:"input"`
	Index int    `json:"index"`
	Pause bool   `json:"pause"`
}

type bundle struct {
	CommandSet []bundleCommand `json:"command_set"`
}

// Config holds driver settings.
type Config struct {
	// SiteURL is the control-plane base URL agents call back to.
	SiteURL string
	// BinaryDir holds the local agent binaries, one per platform.
	BinaryDir string
	// DataDir is where local command bundles are materialized.
	DataDir string
	// EncryptBundle encrypts uploaded bundles with the task token.
	EncryptBundle bool
}

// Task is everything the driver needs for one invocation.
type Task struct {
	Execution *types.Execution
	Worker    *types.Worker
	Asset     *types.Asset
	Account   *types.Account
	Token     string
}

// Driver provisions a worker and invokes the remote agent for one
// execution. It returns once the agent has been started; command progress
// arrives asynchronously through callbacks.
type Driver struct {
	cfg    Config
	dialer Dialer
	cmds   cmdstore.Store
}

// NewDriver creates a driver using the given dialer and command store.
func NewDriver(cfg Config, dialer Dialer, cmds cmdstore.Store) *Driver {
	return &Driver{cfg: cfg, dialer: dialer, cmds: cmds}
}

// Invoke runs the full provisioning sequence over one reused session:
// ensure the agent binary, upload the command bundle, start the agent.
func (d *Driver) Invoke(ctx context.Context, task Task) error {
	logger := log.WithExecutionID(task.Execution.ID)

	pending, err := d.cmds.List(ctx, task.Execution.ID, false)
	if err != nil {
		return fmt.Errorf("failed to list pending commands: %w", err)
	}
	if len(pending) == 0 {
		return ErrNoCommands
	}
	logger.Info().Int("commands", len(pending)).Msg("Commands waiting for execution")

	transport, err := d.dialer.Dial(ctx, task.Worker)
	if err != nil {
		return err
	}
	defer transport.Close()

	spec, err := specFor(task.Worker.Platform)
	if err != nil {
		return err
	}

	if err := d.ensureBinary(ctx, transport, spec); err != nil {
		return err
	}

	remoteBundle, err := d.uploadBundle(ctx, transport, task, pending)
	if err != nil {
		return err
	}

	remoteBlob := ""
	if task.Execution.Category == types.CategoryFile {
		if remoteBlob, err = d.uploadInputBlob(ctx, transport, task, pending); err != nil {
			return err
		}
	}

	return d.invokeAgent(ctx, transport, spec, task, remoteBundle, remoteBlob)
}

// ensureBinary compares checksums and uploads the local agent binary when
// the remote copy is missing or stale.
func (d *Driver) ensureBinary(ctx context.Context, t Transport, spec platformSpec) error {
	localPath := filepath.Join(d.cfg.BinaryDir, spec.BinaryName)
	localSum, err := fileMD5(localPath)
	if err != nil {
		return fmt.Errorf("failed to checksum local agent binary: %w", err)
	}

	remotePath := spec.RemoteBinaryPath()
	stdout, _, err := t.Exec(ctx, fmt.Sprintf(spec.ChecksumCmd, remotePath))
	if err != nil {
		return fmt.Errorf("remote checksum failed: %w", err)
	}
	if spec.checksumFrom(stdout) == localSum {
		return nil
	}

	if _, _, err := t.Exec(ctx, "mkdir -p "+spec.RemoteDir); err != nil {
		return fmt.Errorf("failed to create remote dir: %w", err)
	}
	if err := t.Upload(ctx, localPath, remotePath, 0755); err != nil {
		return fmt.Errorf("failed to upload agent binary: %w", err)
	}
	return nil
}

// uploadBundle materializes the pending commands locally, optionally
// encrypts the file with the task token, and uploads it read-only.
func (d *Driver) uploadBundle(ctx context.Context, t Transport, task Task, pending []*types.Command) (string, error) {
	set := make([]bundleCommand, 0, len(pending))
	for _, cmd := range pending {
		set = append(set, bundleCommand{
			ID:    cmd.ID,
			Input: cmd.Input,
			Index: cmd.Index,
			Pause: cmd.Pause,
		})
	}
	data, err := json.Marshal(bundle{CommandSet: set})
	if err != nil {
		return "", err
	}

	localDir := filepath.Join(d.cfg.DataDir, "behemoth")
	if err := os.MkdirAll(localDir, 0755); err != nil {
		return "", err
	}
	localPath := filepath.Join(localDir, task.Execution.ID+".bs")
	if err := os.WriteFile(localPath, data, 0600); err != nil {
		return "", fmt.Errorf("failed to write command bundle: %w", err)
	}

	uploadPath := localPath
	if d.cfg.EncryptBundle {
		key, err := security.KeyFromToken(task.Token)
		if err != nil {
			return "", fmt.Errorf("failed to derive bundle key: %w", err)
		}
		if uploadPath, err = security.EncryptBundleFile(localPath, key); err != nil {
			return "", fmt.Errorf("failed to encrypt command bundle: %w", err)
		}
	}

	remoteDir := "/tmp/behemoth/commands/" + task.Execution.ID
	remotePath := remoteDir + "/" + task.Execution.ID + ".bs"
	if _, _, err := t.Exec(ctx, "mkdir -p "+remoteDir); err != nil {
		return "", fmt.Errorf("failed to create remote bundle dir: %w", err)
	}
	if err := t.Upload(ctx, uploadPath, remotePath, 0400); err != nil {
		return "", fmt.Errorf("failed to upload command bundle: %w", err)
	}
	return remotePath, nil
}

// uploadInputBlob ships the single input file of a file-category execution
// next to the bundle.
func (d *Driver) uploadInputBlob(ctx context.Context, t Transport, task Task, pending []*types.Command) (string, error) {
	localPath := pending[0].Input
	remotePath := "/tmp/behemoth/commands/" + task.Execution.ID + "/" + filepath.Base(localPath)
	if err := t.Upload(ctx, localPath, remotePath, 0400); err != nil {
		return "", fmt.Errorf("failed to upload input file: %w", err)
	}
	return remotePath, nil
}

func (d *Driver) invokeAgent(ctx context.Context, t Transport, spec platformSpec, task Task, remoteBundle, remoteBlob string) error {
	cmdType, script := commandType(task.Asset)
	auth := Auth{
		Address:  task.Asset.Address,
		Port:     task.Asset.Port,
		Username: task.Account.Username,
		Password: task.Account.Password,
		DBName:   task.Asset.DBName,
	}
	if task.Asset.Type == types.DatabaseOracle {
		auth.Privileged = task.Account.Privileged
	}

	env := Envelope{
		Host:           d.cfg.SiteURL,
		Token:          task.Token,
		TaskID:         task.Execution.ID,
		OrgID:          task.Execution.OrgID,
		CmdType:        cmdType,
		Script:         script,
		CmdSetFilepath: remoteBundle,
		CmdFile:        remoteBlob,
		Auth:           auth,
		EncryptedData:  d.cfg.EncryptBundle,
		Envs:           task.Worker.Envs,
	}
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}
	encoded := base64.StdEncoding.EncodeToString(data)

	command := fmt.Sprintf("%s --command %s --with_env", spec.RemoteBinaryPath(), encoded)
	_, stderr, err := t.Exec(ctx, command)
	if err != nil {
		return fmt.Errorf("failed to start agent: %w", err)
	}
	if stderr != "" {
		return &AgentError{Stderr: stderr}
	}
	return nil
}

// Cleanup removes remote and local bundle artifacts. Failures are logged
// and swallowed; artifacts may outlive the execution.
func (d *Driver) Cleanup(ctx context.Context, worker *types.Worker, executionID string) {
	logger := log.WithExecutionID(executionID)

	localPath := filepath.Join(d.cfg.DataDir, "behemoth", executionID+".bs")
	for _, p := range []string{localPath, localPath + ".jm"} {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			logger.Warn().Err(err).Msg("Local bundle deletion failed")
		}
	}

	transport, err := d.dialer.Dial(ctx, worker)
	if err != nil {
		logger.Warn().Err(err).Msg("Cleanup connection failed")
		return
	}
	defer transport.Close()
	if _, _, err := transport.Exec(ctx, "rm -rf /tmp/behemoth/commands/"+executionID); err != nil {
		logger.Warn().Err(err).Msg("Remote bundle deletion failed")
	}
}

func commandType(asset *types.Asset) (cmdType, script string) {
	switch asset.Type {
	case types.DatabaseMySQL:
		return "mysql", "mysql"
	case types.DatabaseOracle:
		return "oracle", "oracle"
	default:
		return "script", "script"
	}
}

func fileMD5(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := md5.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return fmt.Sprintf("%x", h.Sum(nil)), nil
}
