// Package recovery persists the last committed lifecycle state so an
// interrupted transition resumes after a crash or restart.
//
// The record is a single cell holding a versioned JSON envelope:
//
//	{"v":2,"saved_at":"2026-03-01T12:00:00Z","state":{"kind":"synced","user_id":"..."}}
//
// Version 1 records were the bare state object. They are migrated to the
// current envelope the first time they are read.
package recovery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nazar-pal/breadly-sub000/internal/clock"
	"github.com/nazar-pal/breadly-sub000/internal/lifecycle"
)

// Key is the cell the record lives in.
const Key = "lifecycle.recovery"

const envelopeVersion = 2

// DefaultErrorRetention bounds how long a persisted Error state is offered
// back on start.
const DefaultErrorRetention = time.Hour

// ErrStale is returned by Load when the persisted record was an Error older
// than the retention window. The record has been deleted.
var ErrStale = errors.New("stale recovery record")

// Cell is the durable key/value storage the record is written to.
// *store.Store satisfies it.
type Cell interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
}

// Store reads and writes the recovery record. Writes are last-writer-wins.
type Store struct {
	cell      Cell
	clock     clock.Clock
	retention time.Duration
	logger    *slog.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithClock sets the clock used for saved_at stamps and staleness checks.
func WithClock(c clock.Clock) Option {
	return func(s *Store) { s.clock = c }
}

// WithErrorRetention overrides DefaultErrorRetention.
func WithErrorRetention(d time.Duration) Option {
	return func(s *Store) { s.retention = d }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// New returns a Store writing to cell.
func New(cell Cell, opts ...Option) *Store {
	s := &Store{
		cell:      cell,
		clock:     clock.System{},
		retention: DefaultErrorRetention,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type envelope struct {
	V       int             `json:"v"`
	SavedAt time.Time       `json:"saved_at"`
	State   json.RawMessage `json:"state"`
}

// Save records st. Saving Uninitialized removes the record, since there is
// nothing to resume.
func (s *Store) Save(ctx context.Context, st lifecycle.State) error {
	if _, ok := st.(lifecycle.Uninitialized); ok || st == nil {
		return s.Clear(ctx)
	}

	raw, err := lifecycle.MarshalState(st)
	if err != nil {
		return fmt.Errorf("save recovery record: %w", err)
	}
	return s.write(ctx, raw, s.clock.Now())
}

// Load returns the persisted state. The bool is false when there is no
// record. Errors older than the retention window are deleted and reported
// as ErrStale.
func (s *Store) Load(ctx context.Context) (lifecycle.State, bool, error) {
	data, ok, err := s.cell.Get(ctx, Key)
	if err != nil {
		return nil, false, fmt.Errorf("load recovery record: %w", err)
	}
	if !ok {
		return nil, false, nil
	}

	env, legacy, err := decodeEnvelope(data)
	if err != nil {
		return nil, false, fmt.Errorf("load recovery record: %w", err)
	}

	st, err := lifecycle.UnmarshalState(env.State)
	if err != nil {
		return nil, false, fmt.Errorf("load recovery record: %w", err)
	}

	if _, isErr := st.(lifecycle.Error); isErr && s.stale(env.SavedAt) {
		if err := s.Clear(ctx); err != nil {
			return nil, false, err
		}
		s.logger.Info("discarded stale error state", "saved_at", env.SavedAt, "state", st.String())
		return nil, false, ErrStale
	}

	if legacy {
		if err := s.write(ctx, env.State, s.clock.Now()); err != nil {
			return nil, false, err
		}
		s.logger.Info("migrated recovery record", "from_version", 1, "to_version", envelopeVersion)
	}

	return st, true, nil
}

// Clear removes the record.
func (s *Store) Clear(ctx context.Context) error {
	if err := s.cell.Delete(ctx, Key); err != nil {
		return fmt.Errorf("clear recovery record: %w", err)
	}
	return nil
}

func (s *Store) write(ctx context.Context, state json.RawMessage, at time.Time) error {
	data, err := json.Marshal(envelope{V: envelopeVersion, SavedAt: at.UTC(), State: state})
	if err != nil {
		return fmt.Errorf("save recovery record: %w", err)
	}
	if err := s.cell.Set(ctx, Key, data); err != nil {
		return fmt.Errorf("save recovery record: %w", err)
	}
	return nil
}

// stale reports whether an Error saved at savedAt is past retention. A
// missing timestamp counts as stale.
func (s *Store) stale(savedAt time.Time) bool {
	if savedAt.IsZero() {
		return true
	}
	return s.clock.Now().Sub(savedAt) > s.retention
}

// decodeEnvelope accepts both the current envelope and a bare version 1
// state object. legacy is true for the latter.
func decodeEnvelope(data []byte) (envelope, bool, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return envelope{}, false, err
	}

	if _, ok := fields["v"]; !ok {
		return envelope{V: 1, State: json.RawMessage(data)}, true, nil
	}

	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return envelope{}, false, err
	}
	if env.V != envelopeVersion {
		return envelope{}, false, fmt.Errorf("unsupported record version %d", env.V)
	}
	if len(env.State) == 0 {
		return envelope{}, false, errors.New("record has no state")
	}
	return env, false, nil
}
