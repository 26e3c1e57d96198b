package api

import (
	"time"

	"github.com/baylabs/bay/pkg/adapter"
	"github.com/baylabs/bay/pkg/types"
)

// Wire shapes for the /v1 surface. Handlers translate between these and
// the domain types; domain structs never serialize directly.

type errorBody struct {
	Code         string         `json:"code"`
	Message      string         `json:"message"`
	Details      map[string]any `json:"details,omitempty"`
	RetryAfterMS int            `json:"retry_after_ms,omitempty"`
}

type errorResponse struct {
	Error errorBody `json:"error"`
}

type createSandboxRequest struct {
	ProfileID  string `json:"profile_id"`
	TTLSeconds *int64 `json:"ttl_seconds"`
	CargoID    string `json:"cargo_id"`
}

type sandboxResponse struct {
	ID            string     `json:"id"`
	ProfileID     string     `json:"profile_id"`
	CargoID       string     `json:"cargo_id"`
	Status        string     `json:"status"`
	DesiredState  string     `json:"desired_state"`
	ExpiresAt     *time.Time `json:"expires_at"`
	IdleExpiresAt *time.Time `json:"idle_expires_at"`
	LastActivity  time.Time  `json:"last_activity"`
	CreatedAt     time.Time  `json:"created_at"`
}

func toSandboxResponse(s *types.Sandbox, status types.SandboxStatus) sandboxResponse {
	return sandboxResponse{
		ID:            s.ID,
		ProfileID:     s.ProfileID,
		CargoID:       s.CargoID,
		Status:        string(status),
		DesiredState:  string(s.DesiredState),
		ExpiresAt:     s.ExpiresAt,
		IdleExpiresAt: s.IdleExpiresAt,
		LastActivity:  s.LastActivity,
		CreatedAt:     s.CreatedAt,
	}
}

type sandboxListResponse struct {
	Sandboxes  []sandboxResponse `json:"sandboxes"`
	NextCursor string            `json:"next_cursor,omitempty"`
}

type extendTTLRequest struct {
	TTLSeconds int64 `json:"ttl_seconds" binding:"required"`
}

type execPythonRequest struct {
	Code           string `json:"code" binding:"required"`
	TimeoutSeconds int    `json:"timeout_seconds"`
}

type execShellRequest struct {
	Command        string `json:"command" binding:"required"`
	Cwd            string `json:"cwd"`
	TimeoutSeconds int    `json:"timeout_seconds"`
}

type execResponse struct {
	ExecutionID string `json:"execution_id"`
	Success     bool   `json:"success"`
	Output      string `json:"output"`
	Error       string `json:"error,omitempty"`
	ExitCode    *int   `json:"exit_code,omitempty"`
	DurationMS  int64  `json:"duration_ms"`
}

func toExecResponse(rec *types.ExecutionRecord, result *adapter.ExecResult) execResponse {
	return execResponse{
		ExecutionID: rec.ID,
		Success:     result.Success,
		Output:      result.Output,
		Error:       result.Error,
		ExitCode:    result.ExitCode,
		DurationMS:  rec.DurationMS,
	}
}

type writeFileRequest struct {
	Path    string `json:"path" binding:"required"`
	Content string `json:"content"`
}

type fileContentResponse struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

type fileListResponse struct {
	Path    string              `json:"path"`
	Entries []adapter.FileEntry `json:"entries"`
}

type browserExecRequest struct {
	Command        string `json:"command" binding:"required"`
	TimeoutSeconds int    `json:"timeout_seconds"`
}

type browserBatchRequest struct {
	Commands       []string `json:"commands" binding:"required"`
	TimeoutSeconds int      `json:"timeout_seconds"`
	StopOnError    bool     `json:"stop_on_error"`
}

type browserBatchResponse struct {
	ExecutionID string              `json:"execution_id"`
	Success     bool                `json:"success"`
	Steps       []types.BrowserStep `json:"steps"`
}

type createCargoRequest struct {
	// Reserved for future options; creation currently needs no parameters.
}

type cargoResponse struct {
	ID                 string     `json:"id"`
	Kind               string     `json:"kind"`
	MountPath          string     `json:"mount_path"`
	ManagedBySandboxID string     `json:"managed_by_sandbox_id,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
	DeletedAt          *time.Time `json:"deleted_at,omitempty"`
}

func toCargoResponse(c *types.Cargo) cargoResponse {
	return cargoResponse{
		ID:                 c.ID,
		Kind:               string(c.Kind),
		MountPath:          c.MountPath,
		ManagedBySandboxID: c.ManagedBySandboxID,
		CreatedAt:          c.CreatedAt,
		DeletedAt:          c.DeletedAt,
	}
}

type executionResponse struct {
	ID          string    `json:"id"`
	SandboxID   string    `json:"sandbox_id"`
	Type        string    `json:"type"`
	Input       string    `json:"input"`
	Output      string    `json:"output"`
	Stdout      string    `json:"stdout,omitempty"`
	Stderr      string    `json:"stderr,omitempty"`
	ExitCode    *int      `json:"exit_code,omitempty"`
	Success     bool      `json:"success"`
	DurationMS  int64     `json:"duration_ms"`
	StartedAt   time.Time `json:"started_at"`
	Description string    `json:"description,omitempty"`
	Tags        []string  `json:"tags,omitempty"`
	Notes       string    `json:"notes,omitempty"`
}

func toExecutionResponse(r *types.ExecutionRecord) executionResponse {
	return executionResponse{
		ID:          r.ID,
		SandboxID:   r.SandboxID,
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
		Tags:        r.Tags,
		Notes:       r.Notes,
	}
}

type annotateRequest struct {
	Description *string  `json:"description"`
	Tags        []string `json:"tags"`
	Notes       *string  `json:"notes"`
}

type createCandidateRequest struct {
	SkillKey     string   `json:"skill_key" binding:"required"`
	ExecutionIDs []string `json:"execution_ids" binding:"required"`
}

type evaluateCandidateRequest struct {
	Score  float64 `json:"score"`
	Passed bool    `json:"passed"`
}

type promoteCandidateRequest struct {
	Stage string `json:"stage" binding:"required"`
}

type candidateResponse struct {
	ID           string    `json:"id"`
	SkillKey     string    `json:"skill_key"`
	ExecutionIDs []string  `json:"execution_ids"`
	State        string    `json:"state"`
	Score        *float64  `json:"score,omitempty"`
	Passed       *bool     `json:"passed,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func toCandidateResponse(c *types.SkillCandidate) candidateResponse {
	return candidateResponse{
		ID:           c.ID,
		SkillKey:     c.SkillKey,
		ExecutionIDs: c.ExecutionIDs,
		State:        string(c.State),
		Score:        c.Score,
		Passed:       c.Passed,
		CreatedAt:    c.CreatedAt,
		UpdatedAt:    c.UpdatedAt,
	}
}

type rollbackRequest struct {
	SkillKey string `json:"skill_key" binding:"required"`
	Stage    string `json:"stage" binding:"required"`
}

type releaseResponse struct {
	ID          string    `json:"id"`
	SkillKey    string    `json:"skill_key"`
	Version     int       `json:"version"`
	Stage       string    `json:"stage"`
	CandidateID string    `json:"candidate_id"`
	Active      bool      `json:"active"`
	RolledBack  bool      `json:"rolled_back"`
	CreatedAt   time.Time `json:"created_at"`
}

func toReleaseResponse(r *types.SkillRelease) releaseResponse {
	return releaseResponse{
		ID:          r.ID,
		SkillKey:    r.SkillKey,
		Version:     r.Version,
		Stage:       string(r.Stage),
		CandidateID: r.CandidateID,
		Active:      r.Active,
		RolledBack:  r.RolledBack,
		CreatedAt:   r.CreatedAt,
	}
}

type profileResponse struct {
	ID           string   `json:"id"`
	Capabilities []string `json:"capabilities"`
	Containers   []string `json:"containers"`
	IdleTimeout  int      `json:"idle_timeout_seconds"`
}

func toProfileResponse(p *types.Profile) profileResponse {
	caps := make([]string, 0, 4)
	for _, capability := range p.Capabilities() {
		caps = append(caps, string(capability))
	}
	names := make([]string, 0, len(p.Containers))
	for _, c := range p.Containers {
		names = append(names, c.Name)
	}
	return profileResponse{
		ID:           p.ID,
		Capabilities: caps,
		Containers:   names,
		IdleTimeout:  int(p.IdleTimeout.Seconds()),
	}
}
