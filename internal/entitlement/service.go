// Package entitlement tracks whether the current user holds the premium
// entitlement that enables sync.
//
// The last known answer per user is cached locally and offered immediately
// after Identify, but it stays unverified until a network round-trip to the
// backend confirms it. The lifecycle derives nothing from an unverified
// entitlement.
package entitlement

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nazar-pal/breadly-sub000/internal/notify"
)

const cachePrefix = "entitlement.cache."

// DefaultCheckTimeout bounds one background check started by Identify.
const DefaultCheckTimeout = 15 * time.Second

// Cell caches the last known answer per user.
type Cell interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
}

// Snapshot is the entitlement as currently known.
type Snapshot struct {
	UserID   string
	Entitled bool
	Verified bool
}

type cacheRecord struct {
	Active    bool      `json:"active"`
	CheckedAt time.Time `json:"checked_at"`
}

// Service holds the entitlement of the identified user.
type Service struct {
	checker      Checker
	cell         Cell
	logger       *slog.Logger
	checkTimeout time.Duration

	mu        sync.Mutex
	userID    string
	anonymous bool
	entitled  bool
	verified  bool
	gen       uint64

	changes notify.Broadcaster
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// WithCheckTimeout overrides DefaultCheckTimeout.
func WithCheckTimeout(d time.Duration) Option {
	return func(s *Service) { s.checkTimeout = d }
}

// New returns a Service that has identified nobody yet.
func New(checker Checker, cell Cell, opts ...Option) *Service {
	s := &Service{
		checker:      checker,
		cell:         cell,
		logger:       slog.Default(),
		checkTimeout: DefaultCheckTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Identify switches the service to userID. Anonymous principals are
// verified at once as not entitled. Otherwise the cached answer is exposed
// unverified and a background check is started. Identifying the current
// principal again does nothing.
func (s *Service) Identify(ctx context.Context, userID string, anonymous bool) {
	s.mu.Lock()
	if s.userID == userID && s.anonymous == anonymous && userID != "" {
		s.mu.Unlock()
		return
	}
	s.gen++
	gen := s.gen
	s.userID = userID
	s.anonymous = anonymous
	s.entitled = false
	s.verified = anonymous
	s.mu.Unlock()

	if !anonymous && userID != "" {
		if cached, ok := s.readCache(ctx, userID); ok {
			s.mu.Lock()
			if s.gen == gen {
				s.entitled = cached
			}
			s.mu.Unlock()
		}
	}
	s.changes.Notify()

	if anonymous || userID == "" {
		return
	}
	go func() {
		checkCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.checkTimeout)
		defer cancel()
		if err := s.check(checkCtx, gen, userID); err != nil {
			s.logger.Warn("entitlement check failed", "user_id", userID, "error", err)
		}
	}()
}

// Refresh re-checks the identified user synchronously. A failed check
// leaves the previous answer in place.
func (s *Service) Refresh(ctx context.Context) error {
	s.mu.Lock()
	gen, userID, anonymous := s.gen, s.userID, s.anonymous
	s.mu.Unlock()

	if userID == "" || anonymous {
		return nil
	}
	return s.check(ctx, gen, userID)
}

// Clear forgets the identified user and their cached answer.
func (s *Service) Clear(ctx context.Context) error {
	s.mu.Lock()
	userID, anonymous := s.userID, s.anonymous
	s.gen++
	s.userID = ""
	s.anonymous = false
	s.entitled = false
	s.verified = false
	s.mu.Unlock()

	s.changes.Notify()

	if userID == "" || anonymous {
		return nil
	}
	if err := s.cell.Delete(ctx, cachePrefix+userID); err != nil {
		return fmt.Errorf("clear entitlement cache: %w", err)
	}
	return nil
}

// Snapshot returns the current answer.
func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{UserID: s.userID, Entitled: s.entitled, Verified: s.verified}
}

// AwaitVerified blocks until userID's entitlement has been verified and
// returns it.
func (s *Service) AwaitVerified(ctx context.Context, userID string) (bool, error) {
	changes, cancel := s.changes.Subscribe()
	defer cancel()

	for {
		snap := s.Snapshot()
		if snap.Verified && snap.UserID == userID {
			return snap.Entitled, nil
		}
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-changes:
		}
	}
}

// Subscribe returns a signal that fires whenever Snapshot may have changed.
func (s *Service) Subscribe() (<-chan struct{}, func()) {
	return s.changes.Subscribe()
}

func (s *Service) check(ctx context.Context, gen uint64, userID string) error {
	entitled, err := s.checker.Check(ctx, userID)
	if err != nil {
		return err
	}
	s.writeCache(ctx, userID, entitled)

	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		s.logger.Debug("discarded superseded entitlement check", "user_id", userID)
		return nil
	}
	changed := !s.verified || s.entitled != entitled
	s.entitled = entitled
	s.verified = true
	s.mu.Unlock()

	if changed {
		s.logger.Info("entitlement verified", "user_id", userID, "entitled", entitled)
		s.changes.Notify()
	}
	return nil
}

func (s *Service) readCache(ctx context.Context, userID string) (bool, bool) {
	raw, ok, err := s.cell.Get(ctx, cachePrefix+userID)
	if err != nil {
		s.logger.Warn("read entitlement cache failed", "user_id", userID, "error", err)
		return false, false
	}
	if !ok {
		return false, false
	}
	var rec cacheRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		s.logger.Warn("ignoring corrupt entitlement cache", "user_id", userID, "error", err)
		return false, false
	}
	return rec.Active, true
}

func (s *Service) writeCache(ctx context.Context, userID string, entitled bool) {
	raw, err := json.Marshal(cacheRecord{Active: entitled, CheckedAt: time.Now().UTC()})
	if err == nil {
		err = s.cell.Set(ctx, cachePrefix+userID, raw)
	}
	if err != nil {
		s.logger.Warn("write entitlement cache failed", "user_id", userID, "error", err)
	}
}
