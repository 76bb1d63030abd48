package containerruntime

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	dockertypes "github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/client"
	"github.com/docker/go-connections/nat"

	"github.com/streamspace/sealskin/internal/logger"
	domaintypes "github.com/streamspace/sealskin/internal/types"
)

// ErrImageNotPresent is returned by LocalInfo when an image has never been
// pulled locally.
var ErrImageNotPresent = errors.New("image not present locally")

// DockerRuntime implements Runtime against a local or remote Docker daemon,
// grounded in docker-controller/pkg/docker/client.go and the original
// docker_provider.py's launch/stop/readiness semantics.
type DockerRuntime struct {
	docker      *client.Client
	networkName string
}

// NewDockerRuntime connects to the daemon and verifies it is reachable.
func NewDockerRuntime(host, networkName string) (*DockerRuntime, error) {
	opts := []client.Opt{
		client.FromEnv,
		client.WithAPIVersionNegotiation(),
	}
	if host != "" {
		opts = append(opts, client.WithHost(host))
	}

	cli, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, fmt.Errorf("create docker client: %w", err)
	}

	ctx := context.Background()
	if _, err := cli.Ping(ctx); err != nil {
		return nil, fmt.Errorf("connect to docker: %w", err)
	}

	return &DockerRuntime{docker: cli, networkName: networkName}, nil
}

// Close releases the underlying Docker client.
func (d *DockerRuntime) Close() error { return d.docker.Close() }

// Pull fetches image, blocking until the pull completes.
func (d *DockerRuntime) Pull(ctx context.Context, image string) error {
	rc, err := d.docker.ImagePull(ctx, image, dockertypes.ImagePullOptions{})
	if err != nil {
		return fmt.Errorf("pull image %s: %w", image, err)
	}
	defer rc.Close()
	// Drain the pull progress stream; we don't surface it.
	buf := make([]byte, 32*1024)
	for {
		if _, err := rc.Read(buf); err != nil {
			break
		}
	}
	return nil
}

// LocalInfo reports the locally known digests for image.
func (d *DockerRuntime) LocalInfo(ctx context.Context, image string) (LocalImageInfo, error) {
	insp, _, err := d.docker.ImageInspectWithRaw(ctx, image)
	if err != nil {
		if client.IsErrNotFound(err) {
			return LocalImageInfo{}, ErrImageNotPresent
		}
		return LocalImageInfo{}, fmt.Errorf("inspect image %s: %w", image, err)
	}
	return LocalImageInfo{ShortID: insp.ID, Digests: insp.RepoDigests}, nil
}

// RemoteDigest queries the registry's distribution manifest without pulling.
func (d *DockerRuntime) RemoteDigest(ctx context.Context, image string) (string, error) {
	dist, err := d.docker.DistributionInspect(ctx, image, "")
	if err != nil {
		return "", fmt.Errorf("inspect distribution %s: %w", image, err)
	}
	return dist.Descriptor.Digest.String(), nil
}

// Launch starts a session container from spec, built the way the original
// docker_provider.py's run_kwargs construction does: shm_size default 1g,
// device passthrough for dri3, a DeviceRequest for nvidia.
func (d *DockerRuntime) Launch(ctx context.Context, spec LaunchSpec) (string, string, error) {
	env := make([]string, 0, len(spec.Env))
	for k, v := range spec.Env {
		env = append(env, fmt.Sprintf("%s=%s", k, v))
	}

	var mounts []mount.Mount
	for _, m := range spec.Mounts {
		mounts = append(mounts, mount.Mount{
			Type:     mount.TypeBind,
			Source:   m.HostPath,
			Target:   m.ContainerPath,
			ReadOnly: m.ReadOnly,
		})
	}

	shmSize := spec.ShmSize
	if shmSize == "" {
		shmSize = "1g"
	}
	shmBytes, err := parseShmSize(shmSize)
	if err != nil {
		return "", "", fmt.Errorf("parse shm size %q: %w", shmSize, err)
	}

	hostConfig := &container.HostConfig{
		Mounts:     mounts,
		ShmSize:    shmBytes,
		AutoRemove: true,
	}

	var deviceRequests []container.DeviceRequest
	var devices []container.DeviceMapping
	if spec.GPU != nil {
		switch spec.GPU.Kind {
		case domaintypes.GPUNvidia:
			deviceRequests = append(deviceRequests, container.DeviceRequest{
				Driver:       "nvidia",
				Count:        -1,
				Capabilities: [][]string{{"compute", "video", "graphics", "utility", "gpu"}},
			})
		case domaintypes.GPUDri3:
			devices = append(devices, container.DeviceMapping{
				PathOnHost:      spec.GPU.Device,
				PathInContainer: spec.GPU.Device,
				CgroupPermissions: "rwm",
			})
		}
	}
	hostConfig.Resources = container.Resources{
		DeviceRequests: deviceRequests,
		Devices:        devices,
	}

	containerCfg := &container.Config{
		Image: spec.Image,
		Env:   env,
	}
	if spec.Port > 0 {
		containerCfg.ExposedPorts = nat.PortSet{
			nat.Port(fmt.Sprintf("%d/tcp", spec.Port)): struct{}{},
		}
	}

	resp, err := d.docker.ContainerCreate(ctx, containerCfg, hostConfig, nil, nil, "")
	if err != nil {
		if client.IsErrNotFound(err) {
			// On-demand pull, per §4.K step 8.
			if pullErr := d.Pull(ctx, spec.Image); pullErr != nil {
				return "", "", fmt.Errorf("image not present and pull failed: %w", pullErr)
			}
			resp, err = d.docker.ContainerCreate(ctx, containerCfg, hostConfig, nil, nil, "")
		}
		if err != nil {
			return "", "", fmt.Errorf("create container: %w", err)
		}
	}

	if err := d.docker.ContainerStart(ctx, resp.ID, dockertypes.ContainerStartOptions{}); err != nil {
		_ = d.docker.ContainerRemove(ctx, resp.ID, dockertypes.ContainerRemoveOptions{Force: true})
		return "", "", fmt.Errorf("start container: %w", err)
	}

	ip, err := d.containerIP(ctx, resp.ID)
	if err != nil {
		return "", "", fmt.Errorf("resolve container ip: %w", err)
	}

	logger.Launch().Info().Str("instance_id", resp.ID).Str("ip", ip).Msg("container launched")
	return resp.ID, ip, nil
}

// containerIP prefers the "bridge" network, else the first network with an
// assigned IP, matching the original's _get_container_ip.
func (d *DockerRuntime) containerIP(ctx context.Context, instanceID string) (string, error) {
	insp, err := d.docker.ContainerInspect(ctx, instanceID)
	if err != nil {
		return "", err
	}
	if insp.NetworkSettings == nil {
		return "", fmt.Errorf("no network settings for %s", instanceID)
	}
	if bridge, ok := insp.NetworkSettings.Networks["bridge"]; ok && bridge.IPAddress != "" {
		return bridge.IPAddress, nil
	}
	for _, net := range insp.NetworkSettings.Networks {
		if net.IPAddress != "" {
			return net.IPAddress, nil
		}
	}
	return "", fmt.Errorf("no ip address assigned to %s", instanceID)
}

// Stop stops and removes instanceID. A missing container is not an error,
// matching the original's NotFound-is-a-warning handling.
func (d *DockerRuntime) Stop(ctx context.Context, instanceID string) error {
	timeout := 5
	if err := d.docker.ContainerStop(ctx, instanceID, container.StopOptions{Timeout: &timeout}); err != nil {
		if client.IsErrNotFound(err) || strings.Contains(err.Error(), "No such container") {
			logger.Launch().Warn().Str("instance_id", instanceID).Msg("container already gone on stop")
			return nil
		}
		return fmt.Errorf("stop container: %w", err)
	}
	return nil
}

// Exists reports whether instanceID is a live container.
func (d *DockerRuntime) Exists(ctx context.Context, instanceID string) (bool, error) {
	_, err := d.docker.ContainerInspect(ctx, instanceID)
	if err != nil {
		if client.IsErrNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("inspect container: %w", err)
	}
	return true, nil
}

// InspectSelf discovers the broker's own container's bind mounts and
// published ports for PathTranslator, by looking up the container whose
// hostname matches this process's hostname.
func (d *DockerRuntime) InspectSelf(ctx context.Context) (SelfInfo, error) {
	hostname, err := osHostname()
	if err != nil {
		return SelfInfo{}, nil
	}
	insp, err := d.docker.ContainerInspect(ctx, hostname)
	if err != nil {
		// Not running containerised; not fatal per §4.H.
		return SelfInfo{}, nil
	}

	var info SelfInfo
	for _, m := range insp.Mounts {
		info.Mounts = append(info.Mounts, SelfMount{
			ContainerPath: m.Destination,
			HostPath:      m.Source,
		})
	}
	if insp.NetworkSettings != nil {
		for portSpec, bindings := range insp.NetworkSettings.Ports {
			for _, b := range bindings {
				hp := parsePort(b.HostPort)
				cp := parsePort(portSpec.Port())
				if hp > 0 && cp > 0 {
					info.Ports = append(info.Ports, PortBinding{ContainerPort: cp, HostPort: hp})
				}
			}
		}
	}
	return info, nil
}

// listManaged finds sealskin-managed containers, used by startup tooling.
func (d *DockerRuntime) listManaged(ctx context.Context) ([]dockertypes.Container, error) {
	return d.docker.ContainerList(ctx, dockertypes.ContainerListOptions{
		All:     true,
		Filters: filters.NewArgs(filters.Arg("label", "sealskin.io/managed=true")),
	})
}
