// Package containerruntime defines the ContainerRuntime capability (§9) and
// a Docker-backed implementation grounded in docker-controller/pkg/docker
// and the original docker_provider.py.
package containerruntime

import (
	"context"

	"github.com/streamspace/sealskin/internal/types"
)

// Mount is a single bind mount to attach to a launched container.
type Mount struct {
	HostPath      string
	ContainerPath string
	ReadOnly      bool
}

// LaunchSpec describes everything needed to start a session container.
type LaunchSpec struct {
	Image   string
	Env     map[string]string
	Mounts  []Mount
	Port    int
	GPU     *types.GPU
	ShmSize string
}

// LocalImageInfo is what the runtime knows about an image without contacting
// the registry.
type LocalImageInfo struct {
	ShortID string
	Digests []string
}

// SelfMount is a container-path -> host-path pair discovered by InspectSelf,
// used by PathTranslator.
type SelfMount struct {
	ContainerPath string
	HostPath      string
}

// PortBinding is a host-published port for one of the broker's own listeners.
type PortBinding struct {
	ContainerPort int
	HostPort      int
}

// SelfInfo is what InspectSelf reports about the broker's own container,
// consumed by PathTranslator.
type SelfInfo struct {
	Mounts []SelfMount
	Ports  []PortBinding
}

// Runtime is the capability interface SPEC_FULL.md §9 calls for in place of
// a dynamically-dispatched container driver. Implementations MUST be safe
// for concurrent use.
type Runtime interface {
	// Pull fetches an image, blocking until complete.
	Pull(ctx context.Context, image string) error
	// LocalInfo reports what's known about a locally present image, or
	// ErrImageNotPresent if it has never been pulled.
	LocalInfo(ctx context.Context, image string) (LocalImageInfo, error)
	// RemoteDigest queries the registry for the image's current digest
	// without pulling it.
	RemoteDigest(ctx context.Context, image string) (string, error)
	// Launch starts a container and returns its runtime id and assigned IP.
	// It does not wait for the application inside to become ready; that is
	// LaunchEngine's responsibility (§4.K step 9).
	Launch(ctx context.Context, spec LaunchSpec) (instanceID, ip string, err error)
	// Stop stops and removes a container. Stopping an already-absent
	// container is not an error.
	Stop(ctx context.Context, instanceID string) error
	// Exists reports whether instanceID currently refers to a live container.
	Exists(ctx context.Context, instanceID string) (bool, error)
	// InspectSelf reports the broker's own container's mounts and exposed
	// ports, if running containerised. Implementations MAY return a zero
	// SelfInfo when not containerised.
	InspectSelf(ctx context.Context) (SelfInfo, error)
}
