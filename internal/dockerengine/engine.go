package dockerengine

import (
	"context"
	"fmt"
	"io"
	"strconv"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/archive"
	"github.com/docker/docker/pkg/jsonmessage"
	"github.com/docker/docker/pkg/stdcopy"
	units "github.com/docker/go-units"
)

// Engine wraps the Docker API client with the handful of operations the
// arena needs: a write-once image cache keyed by submission tag, and
// detached client containers with CPU/RAM caps.
type Engine struct {
	cli *client.Client
}

// ContainerSpec describes one bot client container
type ContainerSpec struct {
	Name        string
	Image       string
	Cmd         []string
	CPU         string // e.g. "0.5"
	RAM         string // e.g. "1g", swap is pinned to the same value
	HostNetwork bool
}

func New() (*Engine, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("create docker client: %w", err)
	}
	return &Engine{cli: cli}, nil
}

// ImageExists reports whether an image with the given tag is present
func (e *Engine) ImageExists(ctx context.Context, tag string) (bool, error) {
	images, err := e.cli.ImageList(ctx, types.ImageListOptions{
		Filters: filters.NewArgs(filters.Arg("reference", tag)),
	})
	if err != nil {
		return false, fmt.Errorf("list images for %s: %w", tag, err)
	}
	return len(images) > 0, nil
}

// BuildImage builds contextDir into an image tagged tag, streaming readable
// build output to out. A failed build surfaces through the message stream;
// callers decide success by re-checking ImageExists after the build.
func (e *Engine) BuildImage(ctx context.Context, contextDir, tag string, out io.Writer) error {
	buildCtx, err := archive.TarWithOptions(contextDir, &archive.TarOptions{})
	if err != nil {
		return fmt.Errorf("tar build context %s: %w", contextDir, err)
	}
	defer buildCtx.Close()

	resp, err := e.cli.ImageBuild(ctx, buildCtx, types.ImageBuildOptions{
		Tags:        []string{tag},
		Remove:      true,
		ForceRemove: true,
	})
	if err != nil {
		return fmt.Errorf("build %s: %w", tag, err)
	}
	defer resp.Body.Close()

	// Render the daemon's JSON message stream as plain text build output.
	// A build error arrives in-stream; it still lands in the log.
	if err := jsonmessage.DisplayJSONMessagesStream(resp.Body, out, 0, false, nil); err != nil {
		if _, ok := err.(*jsonmessage.JSONError); ok {
			return nil
		}
		return fmt.Errorf("stream build output for %s: %w", tag, err)
	}
	return nil
}

// RunDetached creates and starts a container and returns its id. The
// container is not attached to the arena's signal group; lifecycle is
// managed explicitly via WaitDone/Stop/Remove.
func (e *Engine) RunDetached(ctx context.Context, spec ContainerSpec) (string, error) {
	resources, err := parseResources(spec.CPU, spec.RAM)
	if err != nil {
		return "", err
	}

	hostCfg := &container.HostConfig{Resources: resources}
	if spec.HostNetwork {
		hostCfg.NetworkMode = "host"
	}

	resp, err := e.cli.ContainerCreate(ctx, &container.Config{
		Image: spec.Image,
		Cmd:   spec.Cmd,
	}, hostCfg, nil, nil, spec.Name)
	if err != nil {
		return "", fmt.Errorf("create container %s: %w", spec.Name, err)
	}

	if err := e.cli.ContainerStart(ctx, resp.ID, types.ContainerStartOptions{}); err != nil {
		// Never leave a created-but-unstarted container behind
		e.cli.ContainerRemove(context.Background(), resp.ID, types.ContainerRemoveOptions{Force: true})
		return "", fmt.Errorf("start container %s: %w", spec.Name, err)
	}
	return resp.ID, nil
}

// FollowLogs streams the container's combined stdout/stderr into w until the
// container exits or ctx is cancelled. Blocking; run it in a goroutine.
func (e *Engine) FollowLogs(ctx context.Context, containerID string, w io.Writer) error {
	logs, err := e.cli.ContainerLogs(ctx, containerID, types.ContainerLogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Follow:     true,
	})
	if err != nil {
		return fmt.Errorf("logs for %s: %w", containerID, err)
	}
	defer logs.Close()

	// Demux the daemon's multiplexed stream; both channels land in one file
	_, err = stdcopy.StdCopy(w, w, logs)
	return err
}

// WaitDone returns a channel that yields once when the container is no
// longer running: nil for a normal exit (any exit code), or the wait error.
func (e *Engine) WaitDone(ctx context.Context, containerID string) <-chan error {
	done := make(chan error, 1)
	waitCh, errCh := e.cli.ContainerWait(ctx, containerID, container.WaitConditionNotRunning)
	go func() {
		select {
		case <-waitCh:
			done <- nil
		case err := <-errCh:
			done <- err
		}
	}()
	return done
}

// Stop terminates a container, giving it graceSeconds before the kill
func (e *Engine) Stop(ctx context.Context, containerID string, graceSeconds int) error {
	if err := e.cli.ContainerStop(ctx, containerID, container.StopOptions{Timeout: &graceSeconds}); err != nil {
		return fmt.Errorf("stop container %s: %w", containerID, err)
	}
	return nil
}

// Remove force-removes a container; used as the final cleanup on all paths
func (e *Engine) Remove(ctx context.Context, containerID string) error {
	if err := e.cli.ContainerRemove(ctx, containerID, types.ContainerRemoveOptions{Force: true}); err != nil {
		return fmt.Errorf("remove container %s: %w", containerID, err)
	}
	return nil
}

func parseResources(cpu, ram string) (container.Resources, error) {
	var res container.Resources
	if cpu != "" {
		cpus, err := strconv.ParseFloat(cpu, 64)
		if err != nil {
			return res, fmt.Errorf("parse container cpu %q: %w", cpu, err)
		}
		res.NanoCPUs = int64(cpus * 1e9)
	}
	if ram != "" {
		bytes, err := units.RAMInBytes(ram)
		if err != nil {
			return res, fmt.Errorf("parse container ram %q: %w", ram, err)
		}
		res.Memory = bytes
		// Swap pinned to the memory limit disables swapping
		res.MemorySwap = bytes
	}
	return res, nil
}
