package session

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"bollette/internal/core"
)

var ErrInvalidToken = errors.New("invalid access token")

// RevokeFunc invalidates a token on the server during sign-out.
type RevokeFunc func(ctx context.Context, accessToken string) error

// TokenProvider is a Provider backed by a JWT access token. The signature is
// not verified here; the server does that on every request. Expired tokens
// count as no session.
type TokenProvider struct {
	mu        sync.Mutex
	session   *core.Session
	revoke    RevokeFunc
	now       func() time.Time
	listeners map[int]func(*core.Session)
	nextID    int
}

func NewTokenProvider(revoke RevokeFunc) *TokenProvider {
	return &TokenProvider{
		revoke:    revoke,
		now:       time.Now,
		listeners: make(map[int]func(*core.Session)),
	}
}

// ParseToken extracts the session claims (sub, exp) from a JWT.
func ParseToken(token string) (*core.Session, error) {
	claims := &jwt.RegisteredClaims{}
	parser := jwt.NewParser(jwt.WithoutClaimsValidation())
	if _, _, err := parser.ParseUnverified(token, claims); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}
	s := &core.Session{UserID: claims.Subject, AccessToken: token}
	if claims.ExpiresAt != nil {
		s.ExpiresAt = claims.ExpiresAt.Time
	}
	return s, nil
}

// LocalToken mints a token for backends that do not check credentials. It
// is signed with a throwaway key.
func LocalToken(userID string, ttl time.Duration) (string, error) {
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return "", fmt.Errorf("generate signing key: %w", err)
	}
	claims := jwt.RegisteredClaims{Subject: userID, IssuedAt: jwt.NewNumericDate(time.Now())}
	if ttl > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(time.Now().Add(ttl))
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(key)
}

// SignIn installs token as the current session and notifies watchers.
func (p *TokenProvider) SignIn(ctx context.Context, token string) (*core.Session, error) {
	s, err := ParseToken(token)
	if err != nil {
		return nil, err
	}
	if !s.ExpiresAt.IsZero() && !p.now().Before(s.ExpiresAt) {
		return nil, fmt.Errorf("%w: expired at %s", ErrInvalidToken, s.ExpiresAt.Format(time.RFC3339))
	}

	p.mu.Lock()
	p.session = s
	listeners := p.snapshotLocked()
	p.mu.Unlock()

	for _, fn := range listeners {
		fn(s)
	}
	return s, nil
}

// Current returns nil when signed out or when the token has expired.
func (p *TokenProvider) Current(ctx context.Context) (*core.Session, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.session == nil {
		return nil, nil
	}
	if !p.session.ExpiresAt.IsZero() && !p.now().Before(p.session.ExpiresAt) {
		return nil, nil
	}
	s := *p.session
	return &s, nil
}

// SignOut clears the session. The local state is cleared even when the
// revoke call fails.
func (p *TokenProvider) SignOut(ctx context.Context) error {
	p.mu.Lock()
	prev := p.session
	p.session = nil
	listeners := p.snapshotLocked()
	p.mu.Unlock()

	var err error
	if prev != nil && p.revoke != nil {
		if rerr := p.revoke(ctx, prev.AccessToken); rerr != nil {
			err = fmt.Errorf("revoke token: %w", rerr)
		}
	}
	if prev != nil {
		for _, fn := range listeners {
			fn(nil)
		}
	}
	return err
}

// Watch registers fn for session changes. fn receives nil on sign-out.
func (p *TokenProvider) Watch(fn func(*core.Session)) func() {
	p.mu.Lock()
	id := p.nextID
	p.nextID++
	p.listeners[id] = fn
	p.mu.Unlock()

	return func() {
		p.mu.Lock()
		delete(p.listeners, id)
		p.mu.Unlock()
	}
}

// SetClock replaces the time source. Tests only.
func (p *TokenProvider) SetClock(now func() time.Time) {
	p.mu.Lock()
	p.now = now
	p.mu.Unlock()
}

func (p *TokenProvider) snapshotLocked() []func(*core.Session) {
	out := make([]func(*core.Session), 0, len(p.listeners))
	for _, fn := range p.listeners {
		out = append(out, fn)
	}
	return out
}
