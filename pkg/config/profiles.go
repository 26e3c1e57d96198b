package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/baylabs/bay/pkg/types"
)

// WorkspaceMountPath is the fixed path cargos mount at inside every runtime
// container. Relative paths in filesystem and browser operations resolve
// against it. Runtimes advertise the same path in their meta payload.
const WorkspaceMountPath = "/workspace"

// profileManifest is the YAML shape of the profiles file.
type profileManifest struct {
	Profiles []*profileSpec `yaml:"profiles"`
}

type profileSpec struct {
	ID                 string                      `yaml:"id"`
	Containers         []*types.ContainerSpec      `yaml:"containers"`
	PrimaryFor         map[types.Capability]string `yaml:"primary_for,omitempty"`
	IdleTimeoutSeconds int                         `yaml:"idle_timeout_seconds"`
}

// ProfileRegistry holds the immutable set of profiles configured at startup.
type ProfileRegistry struct {
	profiles map[string]*types.Profile
	order    []string
}

// Get returns a profile by id, or nil.
func (r *ProfileRegistry) Get(id string) *types.Profile {
	return r.profiles[id]
}

// List returns all profiles in declaration order.
func (r *ProfileRegistry) List() []*types.Profile {
	out := make([]*types.Profile, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.profiles[id])
	}
	return out
}

// LoadProfiles parses the profile manifest. An empty path yields the
// built-in defaults.
func LoadProfiles(path string) (*ProfileRegistry, error) {
	if path == "" {
		return defaultProfiles(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read profiles file: %w", err)
	}

	var manifest profileManifest
	if err := yaml.Unmarshal(data, &manifest); err != nil {
		return nil, fmt.Errorf("failed to parse profiles file: %w", err)
	}

	registry := &ProfileRegistry{profiles: make(map[string]*types.Profile)}
	for _, spec := range manifest.Profiles {
		if err := validateProfileSpec(spec); err != nil {
			return nil, fmt.Errorf("profile %q: %w", spec.ID, err)
		}
		profile := &types.Profile{
			ID:          spec.ID,
			Containers:  spec.Containers,
			PrimaryFor:  spec.PrimaryFor,
			IdleTimeout: time.Duration(spec.IdleTimeoutSeconds) * time.Second,
		}
		if profile.IdleTimeout == 0 {
			profile.IdleTimeout = 30 * time.Minute
		}
		registry.profiles[spec.ID] = profile
		registry.order = append(registry.order, spec.ID)
	}

	if len(registry.profiles) == 0 {
		return defaultProfiles(), nil
	}
	return registry, nil
}

func validateProfileSpec(spec *profileSpec) error {
	if spec.ID == "" {
		return fmt.Errorf("missing id")
	}
	if len(spec.Containers) == 0 {
		return fmt.Errorf("at least one container required")
	}
	primaries := 0
	names := make(map[string]bool)
	for _, c := range spec.Containers {
		if c.Name == "" || c.Image == "" {
			return fmt.Errorf("container name and image are required")
		}
		if names[c.Name] {
			return fmt.Errorf("duplicate container name %q", c.Name)
		}
		names[c.Name] = true
		if c.RuntimePort == 0 {
			return fmt.Errorf("container %q: runtime_port required", c.Name)
		}
		if c.Primary {
			primaries++
		}
	}
	if primaries != 1 {
		return fmt.Errorf("exactly one container must be primary, got %d", primaries)
	}
	for capability, name := range spec.PrimaryFor {
		if !names[name] {
			return fmt.Errorf("primary_for[%s] names unknown container %q", capability, name)
		}
	}
	return nil
}

func defaultProfiles() *ProfileRegistry {
	pythonDefault := &types.Profile{
		ID: "python-default",
		Containers: []*types.ContainerSpec{
			{
				Name:        "ship",
				Image:       "ship:latest",
				Role:        "runtime",
				RuntimeKind: types.RuntimeKindShip,
				RuntimePort: 8000,
				Resources:   &types.ResourceLimits{CPUs: 1.0, MemoryMB: 1024, Pids: 256},
				Capabilities: []types.Capability{
					types.CapabilityPython,
					types.CapabilityShell,
					types.CapabilityFilesystem,
				},
				Primary: true,
			},
		},
		IdleTimeout: 30 * time.Minute,
	}

	browserDefault := &types.Profile{
		ID: "browser-default",
		Containers: []*types.ContainerSpec{
			{
				Name:        "ship",
				Image:       "ship:latest",
				Role:        "runtime",
				RuntimeKind: types.RuntimeKindShip,
				RuntimePort: 8000,
				Resources:   &types.ResourceLimits{CPUs: 1.0, MemoryMB: 1024, Pids: 256},
				Capabilities: []types.Capability{
					types.CapabilityPython,
					types.CapabilityShell,
					types.CapabilityFilesystem,
				},
				Primary: true,
			},
			{
				Name:        "helm",
				Image:       "helm:latest",
				Role:        "browser",
				RuntimeKind: types.RuntimeKindHelm,
				RuntimePort: 8100,
				Resources:   &types.ResourceLimits{CPUs: 2.0, MemoryMB: 2048},
				Capabilities: []types.Capability{
					types.CapabilityBrowser,
				},
			},
		},
		PrimaryFor: map[types.Capability]string{
			types.CapabilityBrowser: "helm",
		},
		IdleTimeout: 30 * time.Minute,
	}

	return &ProfileRegistry{
		profiles: map[string]*types.Profile{
			pythonDefault.ID:  pythonDefault,
			browserDefault.ID: browserDefault,
		},
		order: []string{pythonDefault.ID, browserDefault.ID},
	}
}
