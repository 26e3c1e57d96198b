package types

import (
	"time"
)

// Capability is a named operation family a runtime provides.
type Capability string

const (
	CapabilityPython     Capability = "python"
	CapabilityShell      Capability = "shell"
	CapabilityFilesystem Capability = "filesystem"
	CapabilityBrowser    Capability = "browser"
)

// RuntimeKind identifies the wire protocol a container speaks.
type RuntimeKind string

const (
	RuntimeKindShip RuntimeKind = "ship" // code execution: python, shell, filesystem
	RuntimeKindHelm RuntimeKind = "helm" // browser automation
)

// DesiredState is the caller's intent for a sandbox.
type DesiredState string

const (
	DesiredRunning DesiredState = "running"
	DesiredStopped DesiredState = "stopped"
	DesiredDeleted DesiredState = "deleted"
)

// SandboxStatus is the computed, externally visible sandbox state.
type SandboxStatus string

const (
	SandboxIdle     SandboxStatus = "idle"
	SandboxStarting SandboxStatus = "starting"
	SandboxReady    SandboxStatus = "ready"
	SandboxDegraded SandboxStatus = "degraded"
	SandboxFailed   SandboxStatus = "failed"
	SandboxExpired  SandboxStatus = "expired"
	SandboxDeleted  SandboxStatus = "deleted"
)

// SessionState tracks a session's lifecycle (both desired and observed).
type SessionState string

const (
	SessionPending  SessionState = "pending"
	SessionStarting SessionState = "starting"
	SessionRunning  SessionState = "running"
	SessionDegraded SessionState = "degraded"
	SessionStopping SessionState = "stopping"
	SessionStopped  SessionState = "stopped"
	SessionFailed   SessionState = "failed"
)

// Sandbox is the stable external handle for an execution environment.
// Compute (the Session) comes and goes; the Sandbox and its Cargo persist.
type Sandbox struct {
	ID               string
	Owner            string
	ProfileID        string
	CargoID          string
	CurrentSessionID string // empty = no running compute
	DesiredState     DesiredState
	ExpiresAt        *time.Time // nil = infinite TTL
	IdleExpiresAt    *time.Time
	LastActivity     time.Time
	CreatedAt        time.Time
	DeletedAt        *time.Time
	Version          int64 // optimistic concurrency counter
}

// Expired reports whether the sandbox's hard TTL has passed at now.
func (s *Sandbox) Expired(now time.Time) bool {
	return s.ExpiresAt != nil && now.After(*s.ExpiresAt)
}

// Session is the ephemeral container group currently realizing a
// sandbox's compute.
type Session struct {
	ID            string
	SandboxID     string
	ProfileID     string
	DesiredState  SessionState // running | stopped
	ObservedState SessionState
	Containers    []*SessionContainer // ordered per profile
	NetworkID     string              // set for multi-container sessions
	Endpoint      string              // primary container endpoint
	LastActivity  time.Time
	IdleTimeout   time.Duration
	ReadyAt       *time.Time
	FailedReason  string
	CreatedAt     time.Time
	Version       int64
}

// Ready reports whether the session can accept capability calls.
func (s *Session) Ready() bool {
	return s.ObservedState == SessionRunning && s.Endpoint != ""
}

// Primary returns the session's primary container, or nil before creation.
func (s *Session) Primary() *SessionContainer {
	for _, c := range s.Containers {
		if c.Primary {
			return c
		}
	}
	if len(s.Containers) > 0 {
		return s.Containers[0]
	}
	return nil
}

// ContainerFor returns the first container declaring a capability, or nil.
func (s *Session) ContainerFor(capability Capability) *SessionContainer {
	for _, c := range s.Containers {
		for _, declared := range c.Capabilities {
			if declared == capability {
				return c
			}
		}
	}
	return nil
}

// SessionContainer is one container within a session's group.
type SessionContainer struct {
	Name          string
	Role          string
	Image         string
	RuntimeKind   RuntimeKind
	ContainerID   string
	Endpoint      string
	Capabilities  []Capability
	Primary       bool
	ObservedState SessionState
}

// CargoKind distinguishes sandbox-owned volumes from shared ones.
type CargoKind string

const (
	CargoManaged  CargoKind = "managed"  // owned by exactly one sandbox, cascades on delete
	CargoExternal CargoKind = "external" // shared by reference, refcounted delete
)

// Cargo is a persistent data volume. All cargos mount at MountPath inside
// runtime containers; relative paths in capability calls resolve against it.
type Cargo struct {
	ID                 string
	Owner              string
	BackendHandle      string // volume name or claim name
	Kind               CargoKind
	MountPath          string
	ManagedBySandboxID string // set iff Kind == CargoManaged
	CreatedAt          time.Time
	DeletedAt          *time.Time
}

// Profile is an immutable configuration template for sandbox compute.
type Profile struct {
	ID          string                `yaml:"id"`
	Containers  []*ContainerSpec      `yaml:"containers"`
	PrimaryFor  map[Capability]string `yaml:"primary_for,omitempty"` // capability -> container name
	IdleTimeout time.Duration         `yaml:"idle_timeout"`
}

// Capabilities returns the union of capabilities across all containers.
func (p *Profile) Capabilities() []Capability {
	seen := make(map[Capability]bool)
	var caps []Capability
	for _, c := range p.Containers {
		for _, capability := range c.Capabilities {
			if !seen[capability] {
				seen[capability] = true
				caps = append(caps, capability)
			}
		}
	}
	return caps
}

// HasCapability reports whether any container in the profile declares it.
func (p *Profile) HasCapability(capability Capability) bool {
	for _, c := range p.Containers {
		for _, declared := range c.Capabilities {
			if declared == capability {
				return true
			}
		}
	}
	return false
}

// ContainerFor returns the name of the container that should serve a
// capability: the primary-for map wins, else the first declaring container.
func (p *Profile) ContainerFor(capability Capability) string {
	if name, ok := p.PrimaryFor[capability]; ok {
		return name
	}
	for _, c := range p.Containers {
		for _, declared := range c.Capabilities {
			if declared == capability {
				return c.Name
			}
		}
	}
	return ""
}

// ContainerSpecFor returns the spec of a named container, or nil.
func (p *Profile) ContainerSpecFor(name string) *ContainerSpec {
	for _, c := range p.Containers {
		if c.Name == name {
			return c
		}
	}
	return nil
}

// ContainerSpec describes one container within a profile.
type ContainerSpec struct {
	Name         string            `yaml:"name"`
	Image        string            `yaml:"image"`
	Role         string            `yaml:"role"`
	RuntimeKind  RuntimeKind       `yaml:"runtime_kind"`
	RuntimePort  int               `yaml:"runtime_port"`
	Env          map[string]string `yaml:"env,omitempty"`
	Resources    *ResourceLimits   `yaml:"resources,omitempty"`
	Capabilities []Capability      `yaml:"capabilities"`
	Primary      bool              `yaml:"primary"`
}

// ResourceLimits bounds a container's compute allocation.
type ResourceLimits struct {
	CPUs     float64 `yaml:"cpus"` // cores (0.5 = half a core)
	MemoryMB int64   `yaml:"memory_mb"`
	Pids     int64   `yaml:"pids,omitempty"`
}

// ExecType classifies execution history rows.
type ExecType string

const (
	ExecPython       ExecType = "python"
	ExecShell        ExecType = "shell"
	ExecFSRead       ExecType = "fs-read"
	ExecFSWrite      ExecType = "fs-write"
	ExecBrowser      ExecType = "browser"
	ExecBrowserBatch ExecType = "browser-batch"
)

// ExecutionRecord captures one capability invocation. Immutable except for
// the annotation fields (Description, Tags, Notes).
type ExecutionRecord struct {
	ID          string
	SandboxID   string
	Owner       string
	Type        ExecType
	Input       string
	Output      string
	Stdout      string
	Stderr      string
	ExitCode    *int
	Success     bool
	DurationMS  int64
	StartedAt   time.Time
	Description string
	Tags        []string
	Notes       string
}

// CandidateState tracks skill candidate progress.
type CandidateState string

const (
	CandidateDraft      CandidateState = "draft"
	CandidateEvaluating CandidateState = "evaluating"
	CandidateEvaluated  CandidateState = "evaluated"
	CandidatePromoted   CandidateState = "promoted"
	CandidateRejected   CandidateState = "rejected"
)

// ReleaseStage identifies where a skill release is active.
type ReleaseStage string

const (
	StageCanary ReleaseStage = "canary"
	StageStable ReleaseStage = "stable"
)

// SkillCandidate is a draft skill assembled from execution history.
type SkillCandidate struct {
	ID           string
	Owner        string
	SkillKey     string
	ExecutionIDs []string
	State        CandidateState
	Score        *float64
	Passed       *bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// SkillRelease is a promoted candidate, versioned per skill key. At most one
// release is active per (skill key, stage).
type SkillRelease struct {
	ID          string
	Owner       string
	SkillKey    string
	Version     int
	Stage       ReleaseStage
	CandidateID string
	Active      bool
	RolledBack  bool
	CreatedAt   time.Time
}

// BrowserStep is one command's result within a browser batch.
type BrowserStep struct {
	Command  string `json:"command"`
	Success  bool   `json:"success"`
	Output   string `json:"output"`
	Error    string `json:"error,omitempty"`
	ExitCode int    `json:"exit_code"`
}
