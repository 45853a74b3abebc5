package rbac

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/meridianhq/meridian/pkg/observability"
)

// DefaultDecisionTTL bounds how long a cached decision may lag a policy
// change that bypassed explicit invalidation.
const DefaultDecisionTTL = 60 * time.Second

// Service is the authorization front door. It lazily loads policy facts on
// first use, serializes reloads, consults the decision cache before the
// engine, and denies on any failure.
type Service struct {
	engine  *Engine
	facts   FactStore
	cache   DecisionCache
	logger  *observability.Logger
	metrics *observability.Metrics

	decisionTTL time.Duration

	// mu serializes reloads; loaded tracks whether the engine currently
	// holds a model built from the store.
	mu     sync.Mutex
	loaded atomic.Bool
	// lazy collapses concurrent first-use loads into one store round trip.
	lazy singleflight.Group
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithDecisionTTL overrides the decision cache TTL.
func WithDecisionTTL(ttl time.Duration) ServiceOption {
	return func(s *Service) { s.decisionTTL = ttl }
}

// WithLogger attaches a logger.
func WithLogger(logger *observability.Logger) ServiceOption {
	return func(s *Service) { s.logger = logger }
}

// WithMetrics attaches metric collectors.
func WithMetrics(m *observability.Metrics) ServiceOption {
	return func(s *Service) { s.metrics = m }
}

// NewService wires the engine, fact store and decision cache together.
// cache may be nil, which disables caching entirely.
func NewService(engine *Engine, facts FactStore, cache DecisionCache, opts ...ServiceOption) *Service {
	s := &Service{
		engine:      engine,
		facts:       facts,
		cache:       cache,
		decisionTTL: DefaultDecisionTTL,
		logger:      observability.NewLogger("info"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Loaded reports whether the engine holds a model loaded from the store.
func (s *Service) Loaded() bool {
	return s.loaded.Load()
}

// ensureLoaded loads facts on first use. Concurrent callers share a single
// reload; all of them see its error if it fails.
func (s *Service) ensureLoaded(ctx context.Context) error {
	if s.loaded.Load() {
		return nil
	}
	_, err, _ := s.lazy.Do("load", func() (any, error) {
		if s.loaded.Load() {
			return nil, nil
		}
		return nil, s.ReloadPolicies(ctx)
	})
	return err
}

// ReloadPolicies rebuilds the policy model from the fact store. Reloads are
// mutually exclusive. Cached decisions are invalidated before the new model
// becomes visible, so no stale allow can outlive a narrowing change. If any
// step fails the engine keeps its previous model and the loaded flag keeps
// its previous value.
func (s *Service) ReloadPolicies(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	start := time.Now()
	if err := s.reloadLocked(ctx); err != nil {
		if s.metrics != nil {
			s.metrics.RBACReloadsTotal.WithLabelValues("error").Inc()
		}
		s.logger.WithError(err).Error("policy reload failed")
		return err
	}
	if s.metrics != nil {
		s.metrics.RBACReloadsTotal.WithLabelValues("ok").Inc()
		s.metrics.RBACReloadDuration.Observe(time.Since(start).Seconds())
	}
	roles, grants, memberships := s.engine.Stats()
	s.logger.WithFields(map[string]any{
		"roles":       roles,
		"grants":      grants,
		"memberships": memberships,
		"duration":    time.Since(start).String(),
	}).Info("policy model reloaded")
	return nil
}

func (s *Service) reloadLocked(ctx context.Context) error {
	if s.cache != nil {
		if err := s.cache.Invalidate(ctx); err != nil {
			return fmt.Errorf("invalidate decision cache: %w", err)
		}
	}
	rolePerms, err := s.facts.RolePermissionFacts(ctx)
	if err != nil {
		return fmt.Errorf("load role permission facts: %w", err)
	}
	userRoles, err := s.facts.UserRoleFacts(ctx)
	if err != nil {
		return fmt.Errorf("load user role facts: %w", err)
	}
	s.engine.LoadFacts(rolePerms, userRoles)
	s.loaded.Store(true)
	return nil
}

// Enforce decides whether the user may exercise the permission within the
// organization. The empty action means ActionAccess. A false return with a
// nil error is a legitimate denial; an error return is an infrastructure
// failure and the caller must treat it as a denial too.
func (s *Service) Enforce(ctx context.Context, userID int64, permission string, orgID int64, action string) (bool, error) {
	if action == "" {
		action = ActionAccess
	}
	if err := s.ensureLoaded(ctx); err != nil {
		return false, fmt.Errorf("load policies: %w", err)
	}

	key := DecisionKey(userID, orgID, permission, action)
	if s.cache != nil {
		decision, ok, err := s.cache.Get(ctx, key)
		if err != nil {
			// The engine is authoritative; a cache read failure only
			// costs a recompute.
			s.logger.WithError(err).Warn("decision cache read failed")
		} else if ok {
			if s.metrics != nil {
				s.metrics.RBACCacheHitsTotal.Inc()
			}
			return decision, nil
		} else if s.metrics != nil {
			s.metrics.RBACCacheMissesTotal.Inc()
		}
	}

	decision := s.engine.Evaluate(userID, permission, orgID, action)
	if s.metrics != nil {
		s.metrics.RBACDecisionsTotal.WithLabelValues(fmt.Sprintf("%t", decision)).Inc()
	}
	if s.cache != nil {
		if err := s.cache.Set(ctx, key, decision, s.decisionTTL); err != nil {
			s.logger.WithError(err).Warn("decision cache write failed")
		}
	}
	return decision, nil
}

// UserPermissions returns the caller's effective permission names within
// the organization, sorted.
func (s *Service) UserPermissions(ctx context.Context, userID, orgID int64) ([]string, error) {
	if err := s.ensureLoaded(ctx); err != nil {
		return nil, fmt.Errorf("load policies: %w", err)
	}
	return s.engine.EffectivePermissions(userID, orgID), nil
}

// InvalidateCache drops every cached decision and forces the next
// enforcement to reload facts from the store. Policy mutations call this
// before reporting success.
func (s *Service) InvalidateCache(ctx context.Context) error {
	s.loaded.Store(false)
	if s.cache == nil {
		return nil
	}
	if err := s.cache.Invalidate(ctx); err != nil {
		return fmt.Errorf("invalidate decision cache: %w", err)
	}
	return nil
}
