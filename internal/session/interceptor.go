// Package session normalizes session failures. Every remote call made on
// behalf of the UI goes through an Interceptor, which signs the user out at
// most once per burst of failures and returns a SessionExpiredError.
package session

import (
	"context"
	"sync"

	"golang.org/x/sync/singleflight"

	"bollette/internal/core"
	"bollette/internal/log"
)

// Provider is the session capability.
type Provider interface {
	Current(ctx context.Context) (*core.Session, error)
	SignOut(ctx context.Context) error
}

// Watcher is implemented by providers that report session changes.
type Watcher interface {
	Watch(fn func(*core.Session)) (stop func())
}

type Interceptor struct {
	provider Provider
	logger   *log.Logger

	group     singleflight.Group
	mu        sync.Mutex
	signedOut bool
	stopWatch func()
}

// NewInterceptor wraps provider. When provider is a Watcher the interceptor
// re-arms itself whenever a new session appears.
func NewInterceptor(provider Provider, logger *log.Logger) *Interceptor {
	if logger == nil {
		logger = log.Discard()
	}
	i := &Interceptor{
		provider: provider,
		logger:   logger.WithComponent(log.ComponentSession),
	}
	if w, ok := provider.(Watcher); ok {
		i.stopWatch = w.Watch(func(s *core.Session) {
			if s != nil {
				i.Rearm()
			}
		})
	}
	return i
}

// Run executes op and normalizes session failures.
func (i *Interceptor) Run(ctx context.Context, op func(ctx context.Context) error) error {
	err := op(ctx)
	if err == nil || !core.IsSessionError(err) {
		return err
	}
	i.signOutOnce(ctx, err)
	return core.NewSessionExpiredError(err)
}

// Do is Run for operations returning a value.
func Do[T any](ctx context.Context, i *Interceptor, op func(ctx context.Context) (T, error)) (T, error) {
	var out T
	err := i.Run(ctx, func(ctx context.Context) error {
		v, err := op(ctx)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}

// Rearm allows the next session failure to trigger a sign-out again.
func (i *Interceptor) Rearm() {
	i.mu.Lock()
	i.signedOut = false
	i.mu.Unlock()
}

// Close stops watching the provider.
func (i *Interceptor) Close() {
	if i.stopWatch != nil {
		i.stopWatch()
	}
}

// signOutOnce signs out unless a sign-out already happened since the last
// Rearm. Concurrent callers wait for the same sign-out.
func (i *Interceptor) signOutOnce(ctx context.Context, cause error) {
	i.group.Do("sign-out", func() (any, error) {
		i.mu.Lock()
		if i.signedOut {
			i.mu.Unlock()
			return nil, nil
		}
		i.signedOut = true
		i.mu.Unlock()

		i.logger.WarnContext(ctx, "Session expired, signing out", log.FieldError, cause)
		if err := i.provider.SignOut(context.WithoutCancel(ctx)); err != nil {
			i.logger.ErrorContext(ctx, "Failed to sign out", log.FieldOperation, log.OpSignOut, log.FieldError, err)
		}
		return nil, nil
	})
}
