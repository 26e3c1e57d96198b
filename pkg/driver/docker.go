package driver

import (
	"bytes"
	"context"
	"fmt"
	"strconv"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/api/types/volume"
	"github.com/docker/docker/client"
	"github.com/docker/docker/errdefs"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/docker/go-connections/nat"
	"github.com/rs/zerolog"

	"github.com/baylabs/bay/pkg/log"
)

// labelRuntimePort records the runtime port on the container itself so
// StartContainer can derive the endpoint from the id alone.
const labelRuntimePort = "bay.runtime_port"

// DockerDriver runs sandbox containers on a single host through the docker
// engine API. Containers join a bridge network and are addressed by their
// network IP, so no host ports are published.
type DockerDriver struct {
	cli     *client.Client
	network string
	logger  zerolog.Logger
}

// NewDockerDriver connects to the docker daemon and ensures the shared
// bay network exists.
func NewDockerDriver(ctx context.Context, socket, networkName string) (*DockerDriver, error) {
	opts := []client.Opt{client.WithAPIVersionNegotiation()}
	if socket != "" {
		opts = append(opts, client.WithHost(socket))
	} else {
		opts = append(opts, client.FromEnv)
	}

	cli, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, NewError("connect", false, err)
	}

	d := &DockerDriver{
		cli:     cli,
		network: networkName,
		logger:  log.WithComponent("driver.docker"),
	}

	if err := d.ensureNetwork(ctx, networkName); err != nil {
		return nil, err
	}

	d.logger.Info().Str("network", networkName).Msg("Docker driver connected")
	return d, nil
}

func (d *DockerDriver) ensureNetwork(ctx context.Context, name string) error {
	_, err := d.cli.NetworkInspect(ctx, name, network.InspectOptions{})
	if err == nil {
		return nil
	}
	if !errdefs.IsNotFound(err) {
		return NewError("network-inspect", true, err)
	}
	_, err = d.cli.NetworkCreate(ctx, name, network.CreateOptions{
		Driver: "bridge",
		Labels: map[string]string{LabelManaged: "true"},
	})
	if err != nil && !errdefs.IsConflict(err) {
		return NewError("network-create", true, err)
	}
	return nil
}

// CreateVolume creates a named docker volume; the handle is the volume name.
func (d *DockerDriver) CreateVolume(ctx context.Context, spec VolumeSpec) (string, error) {
	vol, err := d.cli.VolumeCreate(ctx, volume.CreateOptions{
		Name:   spec.Name,
		Labels: spec.Labels,
	})
	if err != nil {
		return "", NewError("volume-create", true, err)
	}
	return vol.Name, nil
}

// DestroyVolume removes a volume. Missing volumes are not an error.
func (d *DockerDriver) DestroyVolume(ctx context.Context, handle string) error {
	if err := d.cli.VolumeRemove(ctx, handle, true); err != nil {
		if errdefs.IsNotFound(err) {
			return nil
		}
		return NewError("volume-remove", true, err)
	}
	return nil
}

// CreateNetwork creates a session-scoped bridge network.
func (d *DockerDriver) CreateNetwork(ctx context.Context, sessionID string) (string, error) {
	name := "bay-" + sessionID
	resp, err := d.cli.NetworkCreate(ctx, name, network.CreateOptions{
		Driver: "bridge",
		Labels: map[string]string{
			LabelManaged:   "true",
			LabelSessionID: sessionID,
		},
	})
	if err != nil {
		if errdefs.IsConflict(err) {
			existing, ierr := d.cli.NetworkInspect(ctx, name, network.InspectOptions{})
			if ierr == nil {
				return existing.ID, nil
			}
		}
		return "", NewError("network-create", true, err)
	}
	return resp.ID, nil
}

// DestroyNetwork removes a session network. Missing networks are not an error.
func (d *DockerDriver) DestroyNetwork(ctx context.Context, networkID string) error {
	if err := d.cli.NetworkRemove(ctx, networkID); err != nil {
		if errdefs.IsNotFound(err) {
			return nil
		}
		return NewError("network-remove", true, err)
	}
	return nil
}

// CreateContainer allocates a container with the cargo volume mounted and
// bay labels applied. The container is not started.
func (d *DockerDriver) CreateContainer(ctx context.Context, cfg *ContainerConfig) (string, error) {
	labels := make(map[string]string, len(cfg.Labels)+1)
	for k, v := range cfg.Labels {
		labels[k] = v
	}
	labels[labelRuntimePort] = strconv.Itoa(cfg.RuntimePort)

	runtimePort := nat.Port(fmt.Sprintf("%d/tcp", cfg.RuntimePort))
	containerCfg := &container.Config{
		Image:        cfg.Image,
		Env:          cfg.Env,
		Labels:       labels,
		ExposedPorts: nat.PortSet{runtimePort: struct{}{}},
	}

	hostCfg := &container.HostConfig{
		Mounts: []mount.Mount{
			{
				Type:   mount.TypeVolume,
				Source: cfg.VolumeHandle,
				Target: cfg.MountPath,
			},
		},
	}
	if r := cfg.Resources; r != nil {
		hostCfg.Resources = container.Resources{
			NanoCPUs: int64(r.CPUs * 1e9),
			Memory:   r.MemoryMB * 1024 * 1024,
		}
		if r.Pids > 0 {
			pids := r.Pids
			hostCfg.Resources.PidsLimit = &pids
		}
	}

	netName := cfg.NetworkID
	if netName == "" {
		netName = d.network
	}
	netCfg := &network.NetworkingConfig{
		EndpointsConfig: map[string]*network.EndpointSettings{
			netName: {},
		},
	}

	resp, err := d.cli.ContainerCreate(ctx, containerCfg, hostCfg, netCfg, nil, cfg.Name)
	if err != nil {
		// A missing image is a hard failure, everything else may be transient.
		return "", NewError("container-create", !errdefs.IsNotFound(err), err)
	}
	return resp.ID, nil
}

// StartContainer starts a container and returns its runtime endpoint, built
// from the container's IP on its bay network and the recorded runtime port.
func (d *DockerDriver) StartContainer(ctx context.Context, containerID string) (string, error) {
	if err := d.cli.ContainerStart(ctx, containerID, container.StartOptions{}); err != nil {
		return "", NewError("container-start", true, err)
	}

	inspect, err := d.cli.ContainerInspect(ctx, containerID)
	if err != nil {
		return "", NewError("container-inspect", true, err)
	}

	port := inspect.Config.Labels[labelRuntimePort]
	for _, settings := range inspect.NetworkSettings.Networks {
		if settings.IPAddress != "" {
			return fmt.Sprintf("http://%s:%s", settings.IPAddress, port), nil
		}
	}
	return "", NewError("container-start", true,
		fmt.Errorf("container %s has no network address", containerID))
}

// StopContainer gracefully stops a container. Missing containers are not
// an error.
func (d *DockerDriver) StopContainer(ctx context.Context, containerID string) error {
	timeout := 10
	if err := d.cli.ContainerStop(ctx, containerID, container.StopOptions{Timeout: &timeout}); err != nil {
		if errdefs.IsNotFound(err) {
			return nil
		}
		return NewError("container-stop", true, err)
	}
	return nil
}

// DestroyContainer force-removes a container. Missing containers are not
// an error.
func (d *DockerDriver) DestroyContainer(ctx context.Context, containerID string) error {
	err := d.cli.ContainerRemove(ctx, containerID, container.RemoveOptions{Force: true})
	if err != nil && !errdefs.IsNotFound(err) {
		return NewError("container-remove", true, err)
	}
	return nil
}

// Status inspects a container's running state.
func (d *DockerDriver) Status(ctx context.Context, containerID string) (ContainerState, error) {
	inspect, err := d.cli.ContainerInspect(ctx, containerID)
	if err != nil {
		if errdefs.IsNotFound(err) {
			return StateNotFound, nil
		}
		return StateUnknown, NewError("container-inspect", true, err)
	}
	switch {
	case inspect.State.Running:
		return StateRunning, nil
	case inspect.State.Status == "exited" || inspect.State.Status == "dead":
		return StateExited, nil
	default:
		return StateUnknown, nil
	}
}

// CreateMulti creates a group of containers on a shared network, destroying
// everything already created if any creation fails.
func (d *DockerDriver) CreateMulti(ctx context.Context, cfgs []*ContainerConfig, networkID string) ([]string, error) {
	ids := make([]string, 0, len(cfgs))
	for _, cfg := range cfgs {
		cfg.NetworkID = networkID
		id, err := d.CreateContainer(ctx, cfg)
		if err != nil {
			for _, created := range ids {
				if derr := d.DestroyContainer(context.WithoutCancel(ctx), created); derr != nil {
					d.logger.Warn().Err(derr).Str("container_id", created).
						Msg("Rollback destroy failed")
				}
			}
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// ListLabeled returns containers (running or not) matching the selector.
func (d *DockerDriver) ListLabeled(ctx context.Context, selector map[string]string) ([]LabeledContainer, error) {
	args := filters.NewArgs()
	for k, v := range selector {
		args.Add("label", k+"="+v)
	}

	containers, err := d.cli.ContainerList(ctx, container.ListOptions{All: true, Filters: args})
	if err != nil {
		return nil, NewError("container-list", true, err)
	}

	out := make([]LabeledContainer, 0, len(containers))
	for _, c := range containers {
		state := StateUnknown
		switch c.State {
		case "running":
			state = StateRunning
		case "exited", "dead", "created":
			state = StateExited
		}
		out = append(out, LabeledContainer{ID: c.ID, Labels: c.Labels, State: state})
	}
	return out, nil
}

// Logs returns the tail of a container's combined output. Missing containers
// yield an empty string.
func (d *DockerDriver) Logs(ctx context.Context, containerID string, tail int) (string, error) {
	reader, err := d.cli.ContainerLogs(ctx, containerID, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Tail:       strconv.Itoa(tail),
	})
	if err != nil {
		if errdefs.IsNotFound(err) {
			return "", nil
		}
		return "", NewError("container-logs", true, err)
	}
	defer reader.Close()

	var buf bytes.Buffer
	if _, err := stdcopy.StdCopy(&buf, &buf, reader); err != nil {
		return "", NewError("container-logs", false, err)
	}
	return buf.String(), nil
}

// Close releases the docker client.
func (d *DockerDriver) Close() error {
	return d.cli.Close()
}
