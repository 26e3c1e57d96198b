package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/baylabs/bay/pkg/bayerr"
	"github.com/baylabs/bay/pkg/log"
	"github.com/baylabs/bay/pkg/store"
)

// Result is the response snapshot an idempotent handler produced.
type Result struct {
	StatusCode int
	Body       []byte
	// Replayed is true when the response came from a completed record
	// instead of running the handler.
	Replayed bool
}

// Handler produces the response for the first execution of a key.
type Handler func(ctx context.Context) (int, []byte, error)

// Service deduplicates unsafe requests keyed by (owner, endpoint,
// idempotency key). The winner of the unique-constraint insert race runs
// the handler; everyone else replays its snapshot or gets a conflict while
// it is still in flight.
type Service struct {
	store  *store.Store
	ttl    time.Duration
	logger zerolog.Logger
	now    func() time.Time
}

// New wires the idempotency service.
func New(st *store.Store, ttl time.Duration) *Service {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Service{
		store:  st,
		ttl:    ttl,
		logger: log.WithComponent("idempotency"),
		now:    time.Now,
	}
}

// Fingerprint hashes a canonicalized request body.
func Fingerprint(body []byte) string {
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}

// Run executes the handler at most once per key. An empty key bypasses
// deduplication entirely.
func (s *Service) Run(ctx context.Context, owner, endpoint, key string, body []byte, handler Handler) (*Result, error) {
	if key == "" {
		status, respBody, err := handler(ctx)
		if err != nil {
			return nil, err
		}
		return &Result{StatusCode: status, Body: respBody}, nil
	}

	fingerprint := Fingerprint(body)
	now := s.now().UTC()

	err := s.store.Idempotency.Insert(ctx, &store.IdempotencyRecord{
		Owner:       owner,
		Endpoint:    endpoint,
		Key:         key,
		Fingerprint: fingerprint,
		Status:      store.IdemInProgress,
		CreatedAt:   now,
		ExpiresAt:   now.Add(s.ttl),
	})
	if err != nil {
		if !errors.Is(err, store.ErrIdemExists) {
			return nil, err
		}
		return s.replay(ctx, owner, endpoint, key, fingerprint)
	}

	status, respBody, err := handler(ctx)
	if err != nil {
		// A failed operation releases the key so a retry can run again.
		if rerr := s.store.Idempotency.Release(context.WithoutCancel(ctx), owner, endpoint, key); rerr != nil {
			s.logger.Warn().Err(rerr).Str("key", key).Msg("Failed to release idempotency key")
		}
		return nil, err
	}

	if err := s.store.Idempotency.Complete(ctx, owner, endpoint, key, status, string(respBody), s.now().UTC()); err != nil {
		s.logger.Warn().Err(err).Str("key", key).Msg("Failed to complete idempotency record")
	}
	return &Result{StatusCode: status, Body: respBody}, nil
}

func (s *Service) replay(ctx context.Context, owner, endpoint, key, fingerprint string) (*Result, error) {
	rec, err := s.store.Idempotency.Get(ctx, owner, endpoint, key, s.now().UTC())
	if err != nil {
		return nil, err
	}
	if rec == nil {
		// The record expired between insert and read; treat as in flight.
		return nil, bayerr.New(bayerr.CodeConflict, "request with this idempotency key is in progress")
	}
	if rec.Fingerprint != fingerprint {
		return nil, bayerr.New(bayerr.CodeConflict,
			"idempotency key was already used with a different request body")
	}
	if rec.Status != store.IdemCompleted {
		return nil, bayerr.New(bayerr.CodeConflict, "request with this idempotency key is in progress")
	}
	return &Result{StatusCode: rec.StatusCode, Body: []byte(rec.Response), Replayed: true}, nil
}

// PurgeExpired drops records past their TTL. Called by the GC coordinator.
func (s *Service) PurgeExpired(ctx context.Context) (int64, error) {
	return s.store.Idempotency.PurgeExpired(ctx, s.now().UTC())
}
