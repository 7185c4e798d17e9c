// Package runtime provides the Runtime interface for external tool backends.
package runtime

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/client"
)

// ContainerDataDir is where StartOptions.WorkDir is mounted inside containers.
const ContainerDataDir = "/data"

// DockerRuntime implements the Runtime interface using the Docker SDK.
// The work directory is bind-mounted so relative paths in the command
// resolve to the same files as on the host.
type DockerRuntime struct {
	client *client.Client
	image  string
}

// DockerHandle represents a running container.
type DockerHandle struct {
	client      *client.Client
	containerID string
}

func mapToEnvList(m map[string]string) []string {
	var env []string
	for k, v := range m {
		env = append(env, fmt.Sprintf("%s=%s", k, v))
	}
	return env
}

// NewDockerRuntime creates a new Docker-based runtime. defaultImage is used
// when StartOptions.Image is empty.
func NewDockerRuntime(defaultImage string) (*DockerRuntime, error) {
	// Initializes client from standard environment variables (DOCKER_HOST, etc.)
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create Docker client: %w", err)
	}
	return &DockerRuntime{client: cli, image: defaultImage}, nil
}

// Check implements Runtime.Check. It pings the daemon and then resolves the
// binaries inside the configured image with a short-lived container.
func (d *DockerRuntime) Check(ctx context.Context, binaries ...string) error {
	if _, err := d.client.Ping(ctx); err != nil {
		return fmt.Errorf("%w: docker daemon unreachable: %v", ErrMissingPrerequisite, err)
	}
	if d.image == "" {
		return fmt.Errorf("%w: no container image configured", ErrMissingPrerequisite)
	}
	if len(binaries) == 0 {
		return nil
	}

	out, err := Run(ctx, d, StartOptions{Command: checkCommand(binaries), Timeout: checkTimeout})
	if err != nil {
		return fmt.Errorf("%w: check image %s: %v", ErrMissingPrerequisite, d.image, err)
	}
	if out.ExitCode != 0 {
		return fmt.Errorf("%w: %s not found in image %s", ErrMissingPrerequisite, out.LastLine(), d.image)
	}
	return nil
}

// Start implements Runtime.Start using Docker containers.
func (d *DockerRuntime) Start(ctx context.Context, opts StartOptions) (Handle, error) {
	img := opts.Image
	if img == "" {
		img = d.image
	}
	if img == "" {
		return nil, fmt.Errorf("image is required")
	}
	if len(opts.Command) == 0 {
		return nil, fmt.Errorf("command is required")
	}

	// Check if it exists locally first to save time.
	if _, err := d.client.ImageInspect(ctx, img); err != nil {
		reader, err := d.client.ImagePull(ctx, img, image.PullOptions{})
		if err != nil {
			return nil, fmt.Errorf("failed to pull image %s: %w", img, err)
		}
		defer reader.Close()
		// The pull only completes once its progress stream is drained.
		if _, err := io.Copy(io.Discard, reader); err != nil {
			return nil, fmt.Errorf("failed to pull image %s: %w", img, err)
		}
	}

	containerConfig := &container.Config{
		Image: img,
		Cmd:   opts.Command,
		Env:   mapToEnvList(opts.Env),
		// Files written into the mount stay owned by the invoking user.
		User: fmt.Sprintf("%d:%d", os.Getuid(), os.Getgid()),
		Tty:  true,
	}
	hostConfig := &container.HostConfig{}

	if opts.WorkDir != "" {
		hostDir, err := filepath.Abs(opts.WorkDir)
		if err != nil {
			return nil, fmt.Errorf("resolve work dir: %w", err)
		}
		containerConfig.WorkingDir = ContainerDataDir
		hostConfig.Mounts = []mount.Mount{{
			Type:   mount.TypeBind,
			Source: hostDir,
			Target: ContainerDataDir,
		}}
	}

	containerResponse, err := d.client.ContainerCreate(ctx, containerConfig, hostConfig, nil, nil, "")
	if err != nil {
		return nil, fmt.Errorf("failed to create container: %w", err)
	}

	if err := d.client.ContainerStart(ctx, containerResponse.ID, container.StartOptions{}); err != nil {
		return nil, fmt.Errorf("failed to start container: %w", err)
	}

	return &DockerHandle{
		client:      d.client,
		containerID: containerResponse.ID,
	}, nil
}

// Wait implements Handle.Wait.
func (h *DockerHandle) Wait(ctx context.Context) (ExitResult, error) {
	statusCh, errCh := h.client.ContainerWait(ctx, h.containerID, container.WaitConditionNotRunning)

	select {
	case err := <-errCh:
		return ExitResult{ExitCode: -1, Error: err}, err
	case status := <-statusCh:
		if status.Error != nil {
			return ExitResult{
				ExitCode: int(status.StatusCode),
				Error:    fmt.Errorf("%s", status.Error.Message),
			}, nil
		}
		return ExitResult{ExitCode: int(status.StatusCode)}, nil
	case <-ctx.Done():
		return ExitResult{ExitCode: -1, Error: ctx.Err()}, ctx.Err()
	}
}

// Stop implements Handle.Stop. The container is stopped and removed.
func (h *DockerHandle) Stop(ctx context.Context) error {
	timeOut := 5
	if err := h.client.ContainerStop(ctx, h.containerID, container.StopOptions{Timeout: &timeOut}); err != nil {
		return err
	}
	return h.client.ContainerRemove(ctx, h.containerID, container.RemoveOptions{Force: true})
}

// StreamLogs implements Handle.StreamLogs.
func (h *DockerHandle) StreamLogs(ctx context.Context) (io.ReadCloser, error) {
	return h.client.ContainerLogs(ctx, h.containerID, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Follow:     true,
	})
}
