package store

import (
	"encoding/json"
	"time"

	"github.com/baylabs/bay/pkg/types"
)

// SandboxModel represents the sandboxes table.
type SandboxModel struct {
	ID               string     `gorm:"column:id;primaryKey"`
	Owner            string     `gorm:"column:owner;index;not null"`
	ProfileID        string     `gorm:"column:profile_id;not null"`
	CargoID          string     `gorm:"column:cargo_id;not null"`
	CurrentSessionID string     `gorm:"column:current_session_id"`
	DesiredState     string     `gorm:"column:desired_state;not null"`
	ExpiresAt        *time.Time `gorm:"column:expires_at;index"`
	IdleExpiresAt    *time.Time `gorm:"column:idle_expires_at"`
	LastActivity     time.Time  `gorm:"column:last_activity;not null"`
	CreatedAt        time.Time  `gorm:"column:created_at;not null"`
	DeletedAt        *time.Time `gorm:"column:deleted_at;index"`
	Version          int64      `gorm:"column:version;not null;default:1"`
}

func (SandboxModel) TableName() string { return "sandboxes" }

func (m *SandboxModel) toDomain() *types.Sandbox {
	return &types.Sandbox{
		ID:               m.ID,
		Owner:            m.Owner,
		ProfileID:        m.ProfileID,
		CargoID:          m.CargoID,
		CurrentSessionID: m.CurrentSessionID,
		DesiredState:     types.DesiredState(m.DesiredState),
		ExpiresAt:        m.ExpiresAt,
		IdleExpiresAt:    m.IdleExpiresAt,
		LastActivity:     m.LastActivity,
		CreatedAt:        m.CreatedAt,
		DeletedAt:        m.DeletedAt,
		Version:          m.Version,
	}
}

func sandboxModel(s *types.Sandbox) *SandboxModel {
	return &SandboxModel{
		ID:               s.ID,
		Owner:            s.Owner,
		ProfileID:        s.ProfileID,
		CargoID:          s.CargoID,
		CurrentSessionID: s.CurrentSessionID,
		DesiredState:     string(s.DesiredState),
		ExpiresAt:        s.ExpiresAt,
		IdleExpiresAt:    s.IdleExpiresAt,
		LastActivity:     s.LastActivity,
		CreatedAt:        s.CreatedAt,
		DeletedAt:        s.DeletedAt,
		Version:          s.Version,
	}
}

// SessionModel represents the sessions table. The container group is stored
// as JSON text so the schema stays portable between SQLite and PostgreSQL.
type SessionModel struct {
	ID            string     `gorm:"column:id;primaryKey"`
	SandboxID     string     `gorm:"column:sandbox_id;index;not null"`
	ProfileID     string     `gorm:"column:profile_id;not null"`
	DesiredState  string     `gorm:"column:desired_state;not null"`
	ObservedState string     `gorm:"column:observed_state;not null"`
	Containers    string     `gorm:"column:containers;type:text"`
	NetworkID     string     `gorm:"column:network_id"`
	Endpoint      string     `gorm:"column:endpoint"`
	LastActivity  time.Time  `gorm:"column:last_activity;not null"`
	IdleTimeoutMS int64      `gorm:"column:idle_timeout_ms;not null"`
	ReadyAt       *time.Time `gorm:"column:ready_at"`
	FailedReason  string     `gorm:"column:failed_reason"`
	CreatedAt     time.Time  `gorm:"column:created_at;not null"`
	Version       int64      `gorm:"column:version;not null;default:1"`
}

func (SessionModel) TableName() string { return "sessions" }

func (m *SessionModel) toDomain() (*types.Session, error) {
	var containers []*types.SessionContainer
	if m.Containers != "" {
		if err := json.Unmarshal([]byte(m.Containers), &containers); err != nil {
			return nil, err
		}
	}
	return &types.Session{
		ID:            m.ID,
		SandboxID:     m.SandboxID,
		ProfileID:     m.ProfileID,
		DesiredState:  types.SessionState(m.DesiredState),
		ObservedState: types.SessionState(m.ObservedState),
		Containers:    containers,
		NetworkID:     m.NetworkID,
		Endpoint:      m.Endpoint,
		LastActivity:  m.LastActivity,
		IdleTimeout:   time.Duration(m.IdleTimeoutMS) * time.Millisecond,
		ReadyAt:       m.ReadyAt,
		FailedReason:  m.FailedReason,
		CreatedAt:     m.CreatedAt,
		Version:       m.Version,
	}, nil
}

func sessionModel(s *types.Session) (*SessionModel, error) {
	containers, err := json.Marshal(s.Containers)
	if err != nil {
		return nil, err
	}
	return &SessionModel{
		ID:            s.ID,
		SandboxID:     s.SandboxID,
		ProfileID:     s.ProfileID,
		DesiredState:  string(s.DesiredState),
		ObservedState: string(s.ObservedState),
		Containers:    string(containers),
		NetworkID:     s.NetworkID,
		Endpoint:      s.Endpoint,
		LastActivity:  s.LastActivity,
		IdleTimeoutMS: s.IdleTimeout.Milliseconds(),
		ReadyAt:       s.ReadyAt,
		FailedReason:  s.FailedReason,
		CreatedAt:     s.CreatedAt,
		Version:       s.Version,
	}, nil
}

// CargoModel represents the cargos table.
type CargoModel struct {
	ID                 string     `gorm:"column:id;primaryKey"`
	Owner              string     `gorm:"column:owner;index;not null"`
	BackendHandle      string     `gorm:"column:backend_handle;not null"`
	Kind               string     `gorm:"column:kind;not null"`
	MountPath          string     `gorm:"column:mount_path;not null"`
	ManagedBySandboxID string     `gorm:"column:managed_by_sandbox_id;index"`
	CreatedAt          time.Time  `gorm:"column:created_at;not null"`
	DeletedAt          *time.Time `gorm:"column:deleted_at;index"`
}

func (CargoModel) TableName() string { return "cargos" }

func (m *CargoModel) toDomain() *types.Cargo {
	return &types.Cargo{
		ID:                 m.ID,
		Owner:              m.Owner,
		BackendHandle:      m.BackendHandle,
		Kind:               types.CargoKind(m.Kind),
		MountPath:          m.MountPath,
		ManagedBySandboxID: m.ManagedBySandboxID,
		CreatedAt:          m.CreatedAt,
		DeletedAt:          m.DeletedAt,
	}
}

func cargoModel(c *types.Cargo) *CargoModel {
	return &CargoModel{
		ID:                 c.ID,
		Owner:              c.Owner,
		BackendHandle:      c.BackendHandle,
		Kind:               string(c.Kind),
		MountPath:          c.MountPath,
		ManagedBySandboxID: c.ManagedBySandboxID,
		CreatedAt:          c.CreatedAt,
		DeletedAt:          c.DeletedAt,
	}
}

// ExecutionModel represents the executions table. Tags are stored as a JSON
// array in text.
type ExecutionModel struct {
	ID          string    `gorm:"column:id;primaryKey"`
	SandboxID   string    `gorm:"column:sandbox_id;index;not null"`
	Owner       string    `gorm:"column:owner;index;not null"`
	Type        string    `gorm:"column:type;index;not null"`
	Input       string    `gorm:"column:input;type:text"`
	Output      string    `gorm:"column:output;type:text"`
	Stdout      string    `gorm:"column:stdout;type:text"`
	Stderr      string    `gorm:"column:stderr;type:text"`
	ExitCode    *int      `gorm:"column:exit_code"`
	Success     bool      `gorm:"column:success;index"`
	DurationMS  int64     `gorm:"column:duration_ms;not null"`
	StartedAt   time.Time `gorm:"column:started_at;index;not null"`
	Description string    `gorm:"column:description;type:text"`
	Tags        string    `gorm:"column:tags;type:text"`
	Notes       string    `gorm:"column:notes;type:text"`
}

func (ExecutionModel) TableName() string { return "executions" }

func (m *ExecutionModel) toDomain() (*types.ExecutionRecord, error) {
	var tags []string
	if m.Tags != "" {
		if err := json.Unmarshal([]byte(m.Tags), &tags); err != nil {
			return nil, err
		}
	}
	return &types.ExecutionRecord{
		ID:          m.ID,
		SandboxID:   m.SandboxID,
		Owner:       m.Owner,
		Type:        types.ExecType(m.Type),
		Input:       m.Input,
		Output:      m.Output,
		Stdout:      m.Stdout,
		Stderr:      m.Stderr,
		ExitCode:    m.ExitCode,
		Success:     m.Success,
		DurationMS:  m.DurationMS,
		StartedAt:   m.StartedAt,
		Description: m.Description,
		Tags:        tags,
		Notes:       m.Notes,
	}, nil
}

func executionModel(r *types.ExecutionRecord) (*ExecutionModel, error) {
	tags, err := json.Marshal(r.Tags)
	if err != nil {
		return nil, err
	}
	return &ExecutionModel{
		ID:          r.ID,
		SandboxID:   r.SandboxID,
		Owner:       r.Owner,
		Type:        string(r.Type),
		Input:       r.Input,
		Output:      r.Output,
		Stdout:      r.Stdout,
		Stderr:      r.Stderr,
		ExitCode:    r.ExitCode,
		Success:     r.Success,
		DurationMS:  r.DurationMS,
		StartedAt:   r.StartedAt,
		Description: r.Description,
		Tags:        string(tags),
		Notes:       r.Notes,
	}, nil
}

// SkillCandidateModel represents the skill_candidates table.
type SkillCandidateModel struct {
	ID           string    `gorm:"column:id;primaryKey"`
	Owner        string    `gorm:"column:owner;index;not null"`
	SkillKey     string    `gorm:"column:skill_key;index;not null"`
	ExecutionIDs string    `gorm:"column:execution_ids;type:text"`
	State        string    `gorm:"column:state;index;not null"`
	Score        *float64  `gorm:"column:score"`
	Passed       *bool     `gorm:"column:passed"`
	CreatedAt    time.Time `gorm:"column:created_at;not null"`
	UpdatedAt    time.Time `gorm:"column:updated_at;not null"`
}

func (SkillCandidateModel) TableName() string { return "skill_candidates" }

func (m *SkillCandidateModel) toDomain() (*types.SkillCandidate, error) {
	var executionIDs []string
	if m.ExecutionIDs != "" {
		if err := json.Unmarshal([]byte(m.ExecutionIDs), &executionIDs); err != nil {
			return nil, err
		}
	}
	return &types.SkillCandidate{
		ID:           m.ID,
		Owner:        m.Owner,
		SkillKey:     m.SkillKey,
		ExecutionIDs: executionIDs,
		State:        types.CandidateState(m.State),
		Score:        m.Score,
		Passed:       m.Passed,
		CreatedAt:    m.CreatedAt,
		UpdatedAt:    m.UpdatedAt,
	}, nil
}

func skillCandidateModel(c *types.SkillCandidate) (*SkillCandidateModel, error) {
	executionIDs, err := json.Marshal(c.ExecutionIDs)
	if err != nil {
		return nil, err
	}
	return &SkillCandidateModel{
		ID:           c.ID,
		Owner:        c.Owner,
		SkillKey:     c.SkillKey,
		ExecutionIDs: string(executionIDs),
		State:        string(c.State),
		Score:        c.Score,
		Passed:       c.Passed,
		CreatedAt:    c.CreatedAt,
		UpdatedAt:    c.UpdatedAt,
	}, nil
}

// SkillReleaseModel represents the skill_releases table. The unique index
// on (owner, skill_key, version) makes version allocation race-safe.
type SkillReleaseModel struct {
	ID          string    `gorm:"column:id;primaryKey"`
	Owner       string    `gorm:"column:owner;not null;uniqueIndex:idx_release_version,priority:1"`
	SkillKey    string    `gorm:"column:skill_key;not null;uniqueIndex:idx_release_version,priority:2"`
	Version     int       `gorm:"column:version;not null;uniqueIndex:idx_release_version,priority:3"`
	Stage       string    `gorm:"column:stage;not null"`
	CandidateID string    `gorm:"column:candidate_id;not null"`
	Active      bool      `gorm:"column:active;index;not null"`
	RolledBack  bool      `gorm:"column:rolled_back;not null"`
	CreatedAt   time.Time `gorm:"column:created_at;not null"`
}

func (SkillReleaseModel) TableName() string { return "skill_releases" }

func (m *SkillReleaseModel) toDomain() *types.SkillRelease {
	return &types.SkillRelease{
		ID:          m.ID,
		Owner:       m.Owner,
		SkillKey:    m.SkillKey,
		Version:     m.Version,
		Stage:       types.ReleaseStage(m.Stage),
		CandidateID: m.CandidateID,
		Active:      m.Active,
		RolledBack:  m.RolledBack,
		CreatedAt:   m.CreatedAt,
	}
}

func skillReleaseModel(r *types.SkillRelease) *SkillReleaseModel {
	return &SkillReleaseModel{
		ID:          r.ID,
		Owner:       r.Owner,
		SkillKey:    r.SkillKey,
		Version:     r.Version,
		Stage:       string(r.Stage),
		CandidateID: r.CandidateID,
		Active:      r.Active,
		RolledBack:  r.RolledBack,
		CreatedAt:   r.CreatedAt,
	}
}

// IdempotencyModel represents the idempotency_records table. The unique
// index on (owner, endpoint, key) is the winner-picking mechanism for
// concurrent retries.
type IdempotencyModel struct {
	ID          uint       `gorm:"column:id;primaryKey;autoIncrement"`
	Owner       string     `gorm:"column:owner;not null;uniqueIndex:idx_idem_scope,priority:1"`
	Endpoint    string     `gorm:"column:endpoint;not null;uniqueIndex:idx_idem_scope,priority:2"`
	Key         string     `gorm:"column:key;not null;uniqueIndex:idx_idem_scope,priority:3"`
	Fingerprint string     `gorm:"column:fingerprint;not null"`
	Status      string     `gorm:"column:status;not null"`
	StatusCode  int        `gorm:"column:status_code"`
	Response    string     `gorm:"column:response;type:text"`
	CreatedAt   time.Time  `gorm:"column:created_at;not null"`
	ExpiresAt   time.Time  `gorm:"column:expires_at;index;not null"`
	CompletedAt *time.Time `gorm:"column:completed_at"`
}

func (IdempotencyModel) TableName() string { return "idempotency_records" }

// GCLeaseModel represents the gc_leases table. One row per task; a holder
// renews by extending expires_at.
type GCLeaseModel struct {
	Task      string    `gorm:"column:task;primaryKey"`
	Holder    string    `gorm:"column:holder;not null"`
	ExpiresAt time.Time `gorm:"column:expires_at;not null"`
}

func (GCLeaseModel) TableName() string { return "gc_leases" }
