package history

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/baylabs/bay/pkg/bayerr"
	"github.com/baylabs/bay/pkg/log"
	"github.com/baylabs/bay/pkg/store"
	"github.com/baylabs/bay/pkg/types"
)

// Service exposes execution history and the skill lifecycle built on top
// of it: executions feed candidates, evaluated candidates promote into
// staged releases.
type Service struct {
	store  *store.Store
	logger zerolog.Logger
	now    func() time.Time
}

// New wires the history service.
func New(st *store.Store) *Service {
	return &Service{
		store:  st,
		logger: log.WithComponent("history"),
		now:    time.Now,
	}
}

// ListExecutions returns an owner's execution records matching the filter.
func (s *Service) ListExecutions(ctx context.Context, owner string, filter store.ExecutionFilter) ([]*types.ExecutionRecord, error) {
	return s.store.Executions.List(ctx, owner, filter)
}

// GetExecution returns one record by id.
func (s *Service) GetExecution(ctx context.Context, owner, id string) (*types.ExecutionRecord, error) {
	return s.store.Executions.Get(ctx, owner, id)
}

// GetLastExecution returns a sandbox's most recent record.
func (s *Service) GetLastExecution(ctx context.Context, owner, sandboxID string) (*types.ExecutionRecord, error) {
	return s.store.Executions.GetLast(ctx, owner, sandboxID)
}

// Annotate updates the mutable annotation fields of a record.
func (s *Service) Annotate(ctx context.Context, owner, id string, description *string, tags []string, notes *string) (*types.ExecutionRecord, error) {
	return s.store.Executions.Annotate(ctx, owner, id, description, tags, notes)
}

// CreateCandidate drafts a skill from a set of execution records. Every
// referenced execution must exist and belong to the owner.
func (s *Service) CreateCandidate(ctx context.Context, owner, skillKey string, executionIDs []string) (*types.SkillCandidate, error) {
	if skillKey == "" {
		return nil, bayerr.New(bayerr.CodeValidation, "skill_key must not be empty")
	}
	if len(executionIDs) == 0 {
		return nil, bayerr.New(bayerr.CodeValidation, "execution_ids must not be empty")
	}
	for _, id := range executionIDs {
		if _, err := s.store.Executions.Get(ctx, owner, id); err != nil {
			return nil, err
		}
	}

	now := s.now().UTC()
	candidate := &types.SkillCandidate{
		ID:           types.NewCandidateID(),
		Owner:        owner,
		SkillKey:     skillKey,
		ExecutionIDs: executionIDs,
		State:        types.CandidateDraft,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.store.Skills.CreateCandidate(ctx, candidate); err != nil {
		return nil, err
	}
	s.logger.Info().Str("candidate_id", candidate.ID).Str("skill_key", skillKey).Msg("Skill candidate created")
	return candidate, nil
}

// GetCandidate returns one candidate by id.
func (s *Service) GetCandidate(ctx context.Context, owner, id string) (*types.SkillCandidate, error) {
	return s.store.Skills.GetCandidate(ctx, owner, id)
}

// ListCandidates returns an owner's candidates, optionally filtered.
func (s *Service) ListCandidates(ctx context.Context, owner, skillKey string, state types.CandidateState) ([]*types.SkillCandidate, error) {
	return s.store.Skills.ListCandidates(ctx, owner, skillKey, state)
}

// Evaluate attaches a score and verdict to a draft candidate.
func (s *Service) Evaluate(ctx context.Context, owner, id string, score float64, passed bool) (*types.SkillCandidate, error) {
	candidate, err := s.store.Skills.GetCandidate(ctx, owner, id)
	if err != nil {
		return nil, err
	}
	if candidate.State != types.CandidateDraft && candidate.State != types.CandidateEvaluating {
		return nil, bayerr.Newf(bayerr.CodeConflict,
			"candidate %s is %s and cannot be evaluated", id, candidate.State)
	}

	fromState := candidate.State
	candidate.Score = &score
	candidate.Passed = &passed
	candidate.State = types.CandidateEvaluated
	if !passed {
		candidate.State = types.CandidateRejected
	}
	candidate.UpdatedAt = s.now().UTC()

	if err := s.store.Skills.UpdateCandidate(ctx, candidate, fromState); err != nil {
		return nil, err
	}
	return candidate, nil
}

// Promote turns an evaluated, passing candidate into the active release
// for its skill key at the given stage, superseding the prior one.
func (s *Service) Promote(ctx context.Context, owner, candidateID string, stage types.ReleaseStage) (*types.SkillRelease, error) {
	if stage != types.StageCanary && stage != types.StageStable {
		return nil, bayerr.Newf(bayerr.CodeValidation, "unknown release stage: %s", stage)
	}

	candidate, err := s.store.Skills.GetCandidate(ctx, owner, candidateID)
	if err != nil {
		return nil, err
	}
	if candidate.State != types.CandidateEvaluated {
		return nil, bayerr.Newf(bayerr.CodeConflict,
			"candidate %s is %s; only evaluated candidates promote", candidateID, candidate.State)
	}

	release := &types.SkillRelease{
		ID:          types.NewReleaseID(),
		Owner:       owner,
		SkillKey:    candidate.SkillKey,
		Stage:       stage,
		CandidateID: candidate.ID,
		CreatedAt:   s.now().UTC(),
	}
	if err := s.store.Skills.PromoteCandidate(ctx, release); err != nil {
		return nil, err
	}

	candidate.State = types.CandidatePromoted
	candidate.UpdatedAt = s.now().UTC()
	if err := s.store.Skills.UpdateCandidate(ctx, candidate, types.CandidateEvaluated); err != nil {
		// The release exists; a stale candidate state is tolerable and
		// logged rather than unwound.
		s.logger.Warn().Err(err).Str("candidate_id", candidateID).Msg("Failed to mark candidate promoted")
	}

	s.logger.Info().Str("release_id", release.ID).Str("skill_key", release.SkillKey).
		Int("version", release.Version).Str("stage", string(stage)).Msg("Skill promoted")
	return release, nil
}

// ListReleases returns an owner's releases, optionally for one skill key.
func (s *Service) ListReleases(ctx context.Context, owner, skillKey string) ([]*types.SkillRelease, error) {
	return s.store.Skills.ListReleases(ctx, owner, skillKey)
}

// Rollback deactivates the active release for a stage, marks it rolled
// back, and restores the previous version when one exists.
func (s *Service) Rollback(ctx context.Context, owner, skillKey string, stage types.ReleaseStage) (*types.SkillRelease, error) {
	if stage != types.StageCanary && stage != types.StageStable {
		return nil, bayerr.Newf(bayerr.CodeValidation, "unknown release stage: %s", stage)
	}
	restored, err := s.store.Skills.Rollback(ctx, owner, skillKey, stage, s.now().UTC())
	if err != nil {
		return nil, err
	}
	s.logger.Info().Str("skill_key", skillKey).Str("stage", string(stage)).Msg("Skill release rolled back")
	return restored, nil
}
