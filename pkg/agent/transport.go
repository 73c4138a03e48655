package agent

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/cuemby/behemoth/pkg/types"
	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
)

// Transport is one authenticated session with a worker.
type Transport interface {
	// Exec runs a command and returns its stdout and stderr.
	Exec(ctx context.Context, command string) (stdout, stderr string, err error)
	// Upload copies a local file to the worker with the given mode.
	Upload(ctx context.Context, localPath, remotePath string, mode os.FileMode) error
	Close() error
}

// Dialer opens transports to workers.
type Dialer interface {
	Dial(ctx context.Context, worker *types.Worker) (Transport, error)
}

// SSHDialer dials workers over SSH with password auth.
type SSHDialer struct {
	Timeout time.Duration
}

// Dial opens an SSH connection using the worker's account.
func (d *SSHDialer) Dial(ctx context.Context, worker *types.Worker) (Transport, error) {
	if worker.Account == nil {
		return nil, fmt.Errorf("worker %s has no account", worker.Name)
	}

	timeout := d.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}

	config := &ssh.ClientConfig{
		User: worker.Account.Username,
		Auth: []ssh.AuthMethod{
			ssh.Password(worker.Account.Password),
		},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         timeout,
	}

	addr := net.JoinHostPort(worker.Address, strconv.Itoa(worker.Port))
	client, err := ssh.Dial("tcp", addr, config)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to worker %s: %w", worker.Name, err)
	}
	return &sshTransport{client: client}, nil
}

// TestConnectivity satisfies the registry's prober: a successful dial and
// close means the worker is usable.
func (d *SSHDialer) TestConnectivity(ctx context.Context, worker *types.Worker) error {
	t, err := d.Dial(ctx, worker)
	if err != nil {
		return err
	}
	return t.Close()
}

type sshTransport struct {
	client *ssh.Client
}

func (t *sshTransport) Exec(ctx context.Context, command string) (string, string, error) {
	session, err := t.client.NewSession()
	if err != nil {
		return "", "", fmt.Errorf("failed to open session: %w", err)
	}
	defer session.Close()

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr

	done := make(chan error, 1)
	go func() { done <- session.Run(command) }()

	select {
	case err := <-done:
		// A non-zero exit still carries useful stderr; let the caller
		// interpret it.
		var exitErr *ssh.ExitError
		if err != nil && !errors.As(err, &exitErr) {
			return stdout.String(), stderr.String(), err
		}
		return stdout.String(), stderr.String(), nil
	case <-ctx.Done():
		session.Signal(ssh.SIGKILL)
		return stdout.String(), stderr.String(), ctx.Err()
	}
}

func (t *sshTransport) Upload(ctx context.Context, localPath, remotePath string, mode os.FileMode) error {
	client, err := sftp.NewClient(t.client)
	if err != nil {
		return fmt.Errorf("failed to open sftp session: %w", err)
	}
	defer client.Close()

	src, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("failed to open local file: %w", err)
	}
	defer src.Close()

	dst, err := client.Create(remotePath)
	if err != nil {
		return fmt.Errorf("failed to create remote file: %w", err)
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		return fmt.Errorf("failed to upload %s: %w", remotePath, err)
	}
	if err := dst.Close(); err != nil {
		return err
	}
	return client.Chmod(remotePath, mode)
}

func (t *sshTransport) Close() error {
	return t.client.Close()
}
