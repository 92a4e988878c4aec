package remote

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/pkg/sftp"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/ssh"
)

// Client is a Runner backed by an SSH connection to a remote host.
// File delivery goes over SFTP on the same connection.
type Client struct {
	config *Config
	log    zerolog.Logger

	mu     sync.Mutex
	client *ssh.Client
	sftp   *sftp.Client
}

// Dial connects to the host described by cfg and returns a Client
// ready for use as a Runner.
func Dial(ctx context.Context, cfg *Config, log zerolog.Logger) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid remote config: %w", err)
	}

	clientConfig, err := cfg.clientConfig()
	if err != nil {
		return nil, err
	}

	componentLog := log.With().
		Str("component", "remote").
		Str("host", cfg.Host).
		Logger()

	address := cfg.Address()
	componentLog.Debug().Str("address", address).Msg("establishing SSH connection")

	connChan := make(chan *ssh.Client, 1)
	errChan := make(chan error, 1)
	go func() {
		client, err := ssh.Dial("tcp", address, clientConfig)
		if err != nil {
			errChan <- err
			return
		}
		connChan <- client
	}()

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("connect to %s: %w", address, ctx.Err())
	case err := <-errChan:
		return nil, fmt.Errorf("connect to %s: %w", address, err)
	case client := <-connChan:
		componentLog.Info().Str("address", address).Msg("SSH connection established")
		return &Client{
			config: cfg,
			log:    componentLog,
			client: client,
		}, nil
	}
}

// Run executes cmd on the remote host and returns its combined output.
func (c *Client) Run(ctx context.Context, cmd string) (string, error) {
	c.mu.Lock()
	client := c.client
	c.mu.Unlock()
	if client == nil {
		return "", fmt.Errorf("not connected")
	}

	if _, ok := ctx.Deadline(); !ok && c.config.CommandTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.config.CommandTimeout)
		defer cancel()
	}

	session, err := client.NewSession()
	if err != nil {
		return "", fmt.Errorf("failed to create session: %w", err)
	}
	defer session.Close()

	var buf bytes.Buffer
	session.Stdout = &buf
	session.Stderr = &buf

	start := time.Now()
	done := make(chan error, 1)
	go func() {
		done <- session.Run(cmd)
	}()

	var runErr error
	select {
	case <-ctx.Done():
		_ = session.Signal(ssh.SIGTERM)
		time.Sleep(100 * time.Millisecond)
		_ = session.Signal(ssh.SIGKILL)
		runErr = ctx.Err()
	case runErr = <-done:
	}

	output := strings.TrimSpace(buf.String())

	c.log.Debug().
		Str("command", cmd).
		Dur("duration", time.Since(start)).
		Err(runErr).
		Msg("remote command completed")

	if runErr != nil {
		if exitErr, ok := runErr.(*ssh.ExitError); ok {
			return output, fmt.Errorf("command %q exited with code %d: %s", cmd, exitErr.ExitStatus(), output)
		}
		return output, fmt.Errorf("command %q: %w", cmd, runErr)
	}
	return output, nil
}

// Push writes src to remotePath over SFTP, creating parent
// directories as needed.
func (c *Client) Push(ctx context.Context, src io.Reader, remotePath string, mode os.FileMode) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	sftpClient, err := c.sftpClient()
	if err != nil {
		return err
	}

	if dir := path.Dir(remotePath); dir != "." && dir != "/" {
		if err := sftpClient.MkdirAll(dir); err != nil {
			return fmt.Errorf("failed to create remote directory %s: %w", dir, err)
		}
	}

	f, err := sftpClient.Create(remotePath)
	if err != nil {
		return fmt.Errorf("failed to create remote file %s: %w", remotePath, err)
	}

	if _, err := io.Copy(f, src); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to write remote file %s: %w", remotePath, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close remote file %s: %w", remotePath, err)
	}

	if err := sftpClient.Chmod(remotePath, mode); err != nil {
		return fmt.Errorf("failed to chmod remote file %s: %w", remotePath, err)
	}

	c.log.Debug().Str("path", remotePath).Msg("file pushed to remote host")
	return nil
}

// Close shuts down the SFTP channel and the SSH connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var firstErr error
	if c.sftp != nil {
		if err := c.sftp.Close(); err != nil {
			firstErr = err
		}
		c.sftp = nil
	}
	if c.client != nil {
		if err := c.client.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		c.client = nil
	}
	return firstErr
}

// HealthCheck verifies the connection still accepts sessions.
func (c *Client) HealthCheck(ctx context.Context) error {
	_, err := c.Run(ctx, "true")
	return err
}

// sftpClient lazily opens the SFTP channel.
func (c *Client) sftpClient() (*sftp.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.client == nil {
		return nil, fmt.Errorf("not connected")
	}
	if c.sftp != nil {
		return c.sftp, nil
	}

	sftpClient, err := sftp.NewClient(c.client)
	if err != nil {
		return nil, fmt.Errorf("failed to open sftp channel: %w", err)
	}
	c.sftp = sftpClient
	return sftpClient, nil
}
