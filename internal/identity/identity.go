// Package identity tracks who the app is acting for: the device's
// persisted anonymous guest, or a signed-in user.
//
// Both values live in the store's KV cells so a session written by one
// process (the login and logout commands) is observed by another (the
// running daemon) through Watcher.
package identity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/text/unicode/norm"

	"github.com/nazar-pal/breadly-sub000/internal/notify"
)

const (
	anonymousKey = "identity.anonymous_id"
	sessionKey   = "identity.session"
)

// ErrEmptyUserID is returned when signing in without a user id.
var ErrEmptyUserID = errors.New("empty user id")

// Cell is the durable key/value storage identities are kept in.
type Cell interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
}

// IDGenerator creates anonymous ids.
type IDGenerator interface {
	Generate() string
}

// UUIDv7Generator generates time-sortable UUIDv7 ids.
//
// Thread-safety: stateless and safe for concurrent use.
type UUIDv7Generator struct{}

// Generate panics if UUID generation fails (should never happen in practice).
func (UUIDv7Generator) Generate() string {
	return uuid.Must(uuid.NewV7()).String()
}

// Identity is the current principal.
type Identity struct {
	UserID    string
	Anonymous bool
}

// Provider owns the anonymous id and the signed-in session.
type Provider struct {
	cell   Cell
	ids    IDGenerator
	logger *slog.Logger

	mu          sync.Mutex
	anonymousID string
	session     string

	changes notify.Broadcaster
}

// Option configures a Provider.
type Option func(*Provider)

// WithIDGenerator overrides the UUIDv7 generator.
func WithIDGenerator(g IDGenerator) Option {
	return func(p *Provider) { p.ids = g }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Provider) { p.logger = l }
}

// Open loads the persisted identity, creating and persisting an anonymous
// id on first use.
func Open(ctx context.Context, cell Cell, opts ...Option) (*Provider, error) {
	p := &Provider{
		cell:   cell,
		ids:    UUIDv7Generator{},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}

	anon, session, err := p.read(ctx)
	if err != nil {
		return nil, err
	}
	if anon == "" {
		anon = p.ids.Generate()
		if err := cell.Set(ctx, anonymousKey, []byte(anon)); err != nil {
			return nil, fmt.Errorf("persist anonymous id: %w", err)
		}
		p.logger.Info("created anonymous identity", "user_id", anon)
	}

	p.anonymousID = anon
	p.session = session
	return p, nil
}

// Current returns the signed-in user, or the anonymous guest.
func (p *Provider) Current() Identity {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.session != "" {
		return Identity{UserID: p.session}
	}
	return Identity{UserID: p.anonymousID, Anonymous: true}
}

// AnonymousID returns the device's persisted guest id.
func (p *Provider) AnonymousID() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.anonymousID
}

// SignIn persists a session for userID. The id is trimmed and NFC
// normalized so equivalent spellings compare equal.
func (p *Provider) SignIn(ctx context.Context, userID string) error {
	userID = NormalizeUserID(userID)
	if userID == "" {
		return ErrEmptyUserID
	}
	if err := p.cell.Set(ctx, sessionKey, []byte(userID)); err != nil {
		return fmt.Errorf("sign in: %w", err)
	}
	p.update(p.AnonymousID(), userID)
	return nil
}

// SignOut ends the session. Signing out without a session succeeds.
func (p *Provider) SignOut(ctx context.Context) error {
	if err := p.cell.Delete(ctx, sessionKey); err != nil {
		return fmt.Errorf("sign out: %w", err)
	}
	p.update(p.AnonymousID(), "")
	return nil
}

// NewAnonymousID replaces the guest id with a fresh, persisted one.
func (p *Provider) NewAnonymousID(ctx context.Context) (string, error) {
	id := p.ids.Generate()
	if err := p.cell.Set(ctx, anonymousKey, []byte(id)); err != nil {
		return "", fmt.Errorf("persist anonymous id: %w", err)
	}

	p.mu.Lock()
	session := p.session
	p.mu.Unlock()

	p.update(id, session)
	return id, nil
}

// Refresh re-reads persisted values and reports whether anything changed.
func (p *Provider) Refresh(ctx context.Context) (bool, error) {
	anon, session, err := p.read(ctx)
	if err != nil {
		return false, err
	}
	if anon == "" {
		anon = p.AnonymousID()
	}
	return p.update(anon, session), nil
}

// Subscribe returns a signal that fires whenever Current may have changed.
func (p *Provider) Subscribe() (<-chan struct{}, func()) {
	return p.changes.Subscribe()
}

func (p *Provider) update(anon, session string) bool {
	p.mu.Lock()
	changed := anon != p.anonymousID || session != p.session
	p.anonymousID = anon
	p.session = session
	p.mu.Unlock()

	if changed {
		p.logger.Debug("identity changed", "anonymous_id", anon, "session", session)
		p.changes.Notify()
	}
	return changed
}

func (p *Provider) read(ctx context.Context) (anon, session string, err error) {
	a, _, err := p.cell.Get(ctx, anonymousKey)
	if err != nil {
		return "", "", fmt.Errorf("read anonymous id: %w", err)
	}
	s, _, err := p.cell.Get(ctx, sessionKey)
	if err != nil {
		return "", "", fmt.Errorf("read session: %w", err)
	}
	return string(a), NormalizeUserID(string(s)), nil
}

// NormalizeUserID trims surrounding space and applies Unicode NFC.
func NormalizeUserID(id string) string {
	return norm.NFC.String(strings.TrimSpace(id))
}
