package driver

import (
	"context"
	"fmt"

	"github.com/baylabs/bay/pkg/types"
)

// Label keys applied to every backend resource Bay creates. The orphan
// reaper filters on InstanceLabel so co-located deployments don't collide.
const (
	LabelOwner     = "bay.owner"
	LabelSandboxID = "bay.sandbox_id"
	LabelSessionID = "bay.session_id"
	LabelRole      = "bay.role"
	LabelManaged   = "bay.managed"
	LabelInstance  = "bay.instance"
)

// ContainerState is the backend's cheap view of a container.
type ContainerState string

const (
	StateRunning  ContainerState = "running"
	StateExited   ContainerState = "exited"
	StateNotFound ContainerState = "not-found"
	StateUnknown  ContainerState = "unknown"
)

// VolumeSpec describes a persistent volume to create.
type VolumeSpec struct {
	Name   string
	Labels map[string]string
}

// ContainerConfig describes one container to create. The cargo volume is
// always mounted at MountPath.
type ContainerConfig struct {
	Name         string
	Image        string
	Env          []string
	Labels       map[string]string
	VolumeHandle string
	MountPath    string
	RuntimePort  int
	Resources    *types.ResourceLimits
	NetworkID    string // session network, empty for the default bay network
}

// Created pairs a container id with its endpoint after a multi-create.
type Created struct {
	ContainerID string
	Endpoint    string
}

// LabeledContainer is a backend container matched by a label selector.
type LabeledContainer struct {
	ID     string
	Labels map[string]string
	State  ContainerState
}

// Driver abstracts the container backend. It is the only component that
// talks to the backend; everything above it deals in sandbox/session terms.
//
// Destroy and stop operations are idempotent: a missing resource is never
// an error.
type Driver interface {
	// CreateVolume creates a persistent volume and returns its backend handle.
	CreateVolume(ctx context.Context, spec VolumeSpec) (string, error)

	// DestroyVolume deletes a volume. Missing volumes are not an error.
	DestroyVolume(ctx context.Context, handle string) error

	// CreateNetwork creates a session-scoped network. Idempotent.
	CreateNetwork(ctx context.Context, sessionID string) (string, error)

	// DestroyNetwork removes a session network. Missing networks are ok.
	DestroyNetwork(ctx context.Context, networkID string) error

	// CreateContainer allocates a container without starting it.
	CreateContainer(ctx context.Context, cfg *ContainerConfig) (string, error)

	// StartContainer starts a container and returns the endpoint its
	// runtime is reachable on. The endpoint format depends on backend mode.
	StartContainer(ctx context.Context, containerID string) (string, error)

	// StopContainer gracefully stops a container. Missing containers are ok.
	StopContainer(ctx context.Context, containerID string) error

	// DestroyContainer force-removes a container. Missing containers are ok.
	DestroyContainer(ctx context.Context, containerID string) error

	// Status is a cheap liveness probe.
	Status(ctx context.Context, containerID string) (ContainerState, error)

	// CreateMulti atomically creates a container group on a shared network.
	// On any failure every already-created container is destroyed before
	// the error propagates.
	CreateMulti(ctx context.Context, cfgs []*ContainerConfig, networkID string) ([]string, error)

	// ListLabeled returns all backend containers matching the selector.
	// Used by the orphan-container reaper.
	ListLabeled(ctx context.Context, selector map[string]string) ([]LabeledContainer, error)

	// Logs returns the tail of a container's output, for diagnostics on
	// failed sessions. Missing containers yield an empty string.
	Logs(ctx context.Context, containerID string, tail int) (string, error)

	// Close releases backend client resources.
	Close() error
}

// Error is the typed failure every driver operation returns. Retryable
// hints let callers distinguish transient backend trouble from hard
// failures; the raw cause is never exposed on the API surface.
type Error struct {
	Op        string
	Retryable bool
	cause     error
}

func (e *Error) Error() string {
	return fmt.Sprintf("driver: %s: %v", e.Op, e.cause)
}

func (e *Error) Unwrap() error { return e.cause }

// NewError wraps a backend failure.
func NewError(op string, retryable bool, cause error) *Error {
	return &Error{Op: op, Retryable: retryable, cause: cause}
}
