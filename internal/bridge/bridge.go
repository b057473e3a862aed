// Package bridge turns push notifications into list refreshes. Events only
// mark the view stale; a burst of them yields a single Refresh.
package bridge

import (
	"context"
	"fmt"
	"sync"
	"time"

	"bollette/internal/core"
	"bollette/internal/log"
	"bollette/internal/notify"
)

// Refresher is the store side of the bridge.
type Refresher interface {
	Refresh(ctx context.Context) error
}

type Config struct {
	// Window delays the refresh so that events arriving close together are
	// absorbed by one reload. Zero refreshes as soon as the loop is free.
	Window time.Duration
}

type Bridge struct {
	sub    notify.Subscriber
	target Refresher
	config Config
	logger *log.Logger

	// single-slot coalescing queue
	pending chan struct{}

	subMu       sync.Mutex
	scope       string
	unsubscribe func()

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

func New(sub notify.Subscriber, target Refresher, config Config, logger *log.Logger) *Bridge {
	if logger == nil {
		logger = log.Discard()
	}
	return &Bridge{
		sub:     sub,
		target:  target,
		config:  config,
		logger:  logger.WithComponent(log.ComponentBridge),
		pending: make(chan struct{}, 1),
	}
}

// Start begins the refresh loop. Returns an error if already running.
func (b *Bridge) Start(ctx context.Context) error {
	b.mu.Lock()
	if b.running {
		b.mu.Unlock()
		return fmt.Errorf("change bridge is already running")
	}
	b.running = true
	stopCh, doneCh := make(chan struct{}), make(chan struct{})
	b.stopCh, b.doneCh = stopCh, doneCh
	b.mu.Unlock()

	go b.runLoop(ctx, stopCh, doneCh)

	b.logger.InfoContext(ctx, "Change bridge started", "window", b.config.Window)
	return nil
}

// Stop drops the subscription and waits for the loop to finish.
func (b *Bridge) Stop(ctx context.Context) error {
	b.teardown(ctx)

	b.mu.Lock()
	if !b.running {
		b.mu.Unlock()
		return nil
	}
	b.running = false
	stopCh, doneCh := b.stopCh, b.doneCh
	b.mu.Unlock()

	close(stopCh)

	select {
	case <-doneCh:
		b.logger.InfoContext(ctx, "Change bridge stopped gracefully")
		return nil
	case <-ctx.Done():
		b.logger.WarnContext(ctx, "Change bridge stop timed out")
		return ctx.Err()
	}
}

// SessionChanged moves the subscription to the scope of s. A nil session
// or one without user removes it.
func (b *Bridge) SessionChanged(ctx context.Context, s *core.Session) error {
	scope := ""
	if s != nil {
		scope = s.UserID
	}

	b.subMu.Lock()
	defer b.subMu.Unlock()

	if scope == b.scope && (scope == "" || b.unsubscribe != nil) {
		return nil
	}
	b.teardownLocked(ctx)
	if scope == "" {
		return nil
	}

	unsubscribe, err := b.sub.Subscribe(ctx, scope, func(ev notify.ChangeEvent) {
		b.logger.DebugContext(ctx, "Change event received", log.FieldScope, scope, log.FieldEventKind, string(ev.Kind))
		b.Signal()
	})
	if err != nil {
		return fmt.Errorf("subscribe to changes: %w", err)
	}
	b.scope = scope
	b.unsubscribe = unsubscribe
	b.logger.InfoContext(ctx, "Subscribed to bill changes", log.FieldScope, scope)
	return nil
}

// Scope returns the subscribed scope, empty when there is none.
func (b *Bridge) Scope() string {
	b.subMu.Lock()
	defer b.subMu.Unlock()
	return b.scope
}

// Signal marks the view stale. It never blocks.
func (b *Bridge) Signal() {
	select {
	case b.pending <- struct{}{}:
	default:
	}
}

func (b *Bridge) teardown(ctx context.Context) {
	b.subMu.Lock()
	defer b.subMu.Unlock()
	b.teardownLocked(ctx)
}

func (b *Bridge) teardownLocked(ctx context.Context) {
	if b.unsubscribe != nil {
		b.unsubscribe()
		b.logger.InfoContext(ctx, "Unsubscribed from bill changes", log.FieldScope, b.scope)
	}
	b.unsubscribe = nil
	b.scope = ""
}

func (b *Bridge) runLoop(ctx context.Context, stopCh <-chan struct{}, doneCh chan struct{}) {
	defer close(doneCh)

	for {
		select {
		case <-stopCh:
			return
		case <-ctx.Done():
			return
		case <-b.pending:
		}

		if b.config.Window > 0 {
			timer := time.NewTimer(b.config.Window)
			select {
			case <-stopCh:
				timer.Stop()
				return
			case <-ctx.Done():
				timer.Stop()
				return
			case <-timer.C:
			}
		}
		// absorb signals that arrived during the window
		select {
		case <-b.pending:
		default:
		}

		if err := b.target.Refresh(ctx); err != nil {
			b.logger.WarnContext(ctx, "Refresh after change event failed", log.FieldOperation, log.OpRefresh, log.FieldError, err)
		}
	}
}
