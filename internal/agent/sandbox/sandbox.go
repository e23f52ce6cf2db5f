// Package sandbox wraps the Docker SDK to optionally run a provider
// subprocess's working directory inside a container instead of directly on
// the host, grounded on the teacher's agent/docker client wrapper. It is
// opt-in (config.DockerConfig.Enabled) and degrades to a nil Client,
// matching the teacher's "Docker unreachable -> agent features disabled"
// pattern rather than failing startup.
package sandbox

import (
	"context"
	"fmt"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/client"
	"go.uber.org/zap"

	"github.com/paseohq/paseod/internal/config"
	logger "github.com/paseohq/paseod/internal/logging"
)

// Client wraps a Docker client scoped to sandboxing provider cwds.
type Client struct {
	cli    *client.Client
	cfg    config.DockerConfig
	logger *logger.Logger
}

// NewClient connects to the configured Docker daemon. Callers should treat
// a non-nil error as "sandboxing unavailable" rather than fatal.
func NewClient(cfg config.DockerConfig, log *logger.Logger) (*Client, error) {
	opts := []client.Opt{client.WithAPIVersionNegotiation()}
	if cfg.Host != "" {
		opts = append(opts, client.WithHost(cfg.Host))
	}

	cli, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, fmt.Errorf("sandbox: create docker client: %w", err)
	}

	return &Client{cli: cli, cfg: cfg, logger: log}, nil
}

// Ping verifies the Docker daemon is reachable.
func (c *Client) Ping(ctx context.Context) error {
	if _, err := c.cli.Ping(ctx); err != nil {
		return fmt.Errorf("sandbox: docker ping: %w", err)
	}
	return nil
}

// Close releases the underlying Docker client connection.
func (c *Client) Close() error {
	return c.cli.Close()
}

// ContainerOptions configures a sandboxed cwd container.
type ContainerOptions struct {
	Name  string
	Image string
	CWD   string // host path bind-mounted at /workspace
	Env   map[string]string
}

const workspaceMount = "/workspace"

// EnsureContainer creates and starts a container bind-mounting opts.CWD at
// /workspace, returning its id. The caller is responsible for removing it
// via RemoveContainer once the sandboxed agent is done.
func (c *Client) EnsureContainer(ctx context.Context, opts ContainerOptions) (string, error) {
	env := make([]string, 0, len(opts.Env))
	for k, v := range opts.Env {
		env = append(env, k+"="+v)
	}

	containerCfg := &container.Config{
		Image:      opts.Image,
		WorkingDir: workspaceMount,
		Env:        env,
		Labels:     map[string]string{"paseod.sandbox": "true"},
		Tty:        false,
		Cmd:        []string{"sleep", "infinity"},
	}
	hostCfg := &container.HostConfig{
		Mounts: []mount.Mount{{
			Type:   mount.TypeBind,
			Source: opts.CWD,
			Target: workspaceMount,
		}},
		AutoRemove: false,
	}

	resp, err := c.cli.ContainerCreate(ctx, containerCfg, hostCfg, nil, nil, opts.Name)
	if err != nil {
		return "", fmt.Errorf("sandbox: create container %s: %w", opts.Name, err)
	}

	if err := c.cli.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		return "", fmt.Errorf("sandbox: start container %s: %w", resp.ID, err)
	}

	c.logger.Info("sandbox container started", zap.String("containerId", resp.ID), zap.String("cwd", opts.CWD))
	return resp.ID, nil
}

// RemoveContainer force-stops and removes a sandbox container.
func (c *Client) RemoveContainer(ctx context.Context, containerID string) error {
	if err := c.cli.ContainerRemove(ctx, containerID, container.RemoveOptions{Force: true, RemoveVolumes: true}); err != nil {
		return fmt.Errorf("sandbox: remove container %s: %w", containerID, err)
	}
	return nil
}
