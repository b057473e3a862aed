// Package app assembles the synchronization core from configuration.
package app

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"bollette/internal/attachments"
	"bollette/internal/backend"
	"bollette/internal/bridge"
	"bollette/internal/cache"
	"bollette/internal/config"
	"bollette/internal/core"
	"bollette/internal/gateway"
	"bollette/internal/log"
	"bollette/internal/notify"
	"bollette/internal/services"
	"bollette/internal/session"
	"bollette/internal/store"
	"bollette/internal/summary"
)

// App owns every long-lived component. Bridge and Attachments are nil when
// the corresponding backend is not configured.
type App struct {
	Config      *config.Config
	Sessions    *session.TokenProvider
	Interceptor *session.Interceptor
	Gateway     *gateway.Gateway
	Resolver    *summary.Resolver
	Store       *store.Store
	Categories  backend.Categories
	Bus         notify.Bus
	Bridge      *bridge.Bridge
	Attachments *attachments.Service

	logger    *log.Logger
	cleanups  []backend.CleanupFunc
	stopWatch func()

	mu            sync.Mutex
	ctx           context.Context
	cancelJanitor context.CancelFunc
	janitor       *cache.Janitor
	started       bool
}

// New builds the application with the default backend factory.
func New(ctx context.Context, cfg *config.Config, logger *log.Logger) (*App, error) {
	return NewWithFactory(ctx, cfg, backend.NewFactory(logger), logger)
}

func NewWithFactory(ctx context.Context, cfg *config.Config, factory backend.Factory, logger *log.Logger) (*App, error) {
	if logger == nil {
		logger = log.Discard()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	backendCfg, err := backend.FromAppConfig(cfg)
	if err != nil {
		return nil, err
	}

	a := &App{
		Config:   cfg,
		Sessions: session.NewTokenProvider(nil),
		logger:   logger.WithComponent(log.ComponentApp),
		ctx:      context.Background(),
	}

	data, err := factory.CreateBackend(ctx, backendCfg, a.Sessions)
	if err != nil {
		return nil, fmt.Errorf("create data backend: %w", err)
	}
	a.addCleanup(data.Cleanup)
	a.Categories = data.Backend

	push, err := factory.CreatePush(ctx, backendCfg)
	if err != nil {
		a.runCleanups()
		return nil, fmt.Errorf("create push backend: %w", err)
	}
	a.addCleanup(push.Cleanup)
	a.Bus = push.Bus

	var transport gateway.Transport = data.Backend
	if a.Bus != nil {
		transport = services.NewChangePublisher(transport, a.Bus, a.Sessions, logger)
	}

	a.Interceptor = session.NewInterceptor(a.Sessions, logger)
	a.Gateway = gateway.New(transport, a.Sessions, logger)
	a.Resolver = summary.NewResolver(a.Gateway, summary.Options{
		CacheTTL:  cfg.SummaryCacheTTL,
		CacheSize: cfg.SummaryCacheSize,
	}, logger)
	a.Store = store.New(a.Gateway, a.Resolver, a.Interceptor, store.Options{PageSize: cfg.PageSize}, logger)

	if a.Bus != nil {
		a.Bridge = bridge.New(a.Bus, a.Store, bridge.Config{Window: cfg.RefreshWindow}, logger)
	}

	if cfg.AttachmentsEnabled() {
		if data.Records == nil {
			a.runCleanups()
			return nil, fmt.Errorf("attachments are not supported by the %s backend", cfg.DataBackend)
		}
		blobs, err := attachments.NewMinioBlobs(ctx, attachments.MinioConfig{
			Endpoint:  cfg.MinioEndpoint,
			AccessKey: cfg.MinioAccessKey,
			SecretKey: cfg.MinioSecretKey,
			Bucket:    cfg.MinioBucket,
			UseSSL:    cfg.MinioUseSSL,
		}, logger)
		if err != nil {
			a.runCleanups()
			return nil, fmt.Errorf("create attachment store: %w", err)
		}
		a.Attachments = attachments.NewService(blobs, data.Records, a.Interceptor, a.Sessions, cfg.SignedURLTTL, logger)
	}

	a.stopWatch = a.Sessions.Watch(a.sessionChanged)

	a.logger.InfoContext(ctx, "Application assembled",
		"data_backend", cfg.DataBackend,
		"push_backend", cfg.PushBackend,
		"attachments", a.Attachments != nil)
	return a, nil
}

// Start runs the background loops and signs in. Without ACCESS_TOKEN the
// local backends get a session for LOCAL_USER.
func (a *App) Start(ctx context.Context) error {
	a.mu.Lock()
	if a.started {
		a.mu.Unlock()
		return fmt.Errorf("application already started")
	}
	a.started = true
	a.ctx = ctx
	a.mu.Unlock()

	if a.Bridge != nil {
		if err := a.Bridge.Start(ctx); err != nil {
			return fmt.Errorf("start change bridge: %w", err)
		}
	}

	if c := a.Resolver.Cache(); c != nil {
		jctx, cancel := context.WithCancel(ctx)
		a.mu.Lock()
		a.cancelJanitor = cancel
		a.janitor = cache.NewJanitor(a.logger, c)
		a.mu.Unlock()
		go a.janitor.Run(jctx, a.Config.SummaryCacheTTL)
	}

	token := a.Config.AccessToken
	if token == "" {
		var err error
		token, err = session.LocalToken(a.Config.LocalUser, 0)
		if err != nil {
			return err
		}
	}
	if _, err := a.SignIn(ctx, token); err != nil {
		return err
	}

	a.logger.InfoContext(ctx, "Application started", log.FieldOperation, log.OpStartup)
	return nil
}

// SignIn installs a new session. Watchers re-arm the interceptor, reset the
// summary capability and move the push subscription.
func (a *App) SignIn(ctx context.Context, token string) (*core.Session, error) {
	s, err := a.Sessions.SignIn(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("sign in: %w", err)
	}
	return s, nil
}

func (a *App) SignOut(ctx context.Context) error {
	return a.Sessions.SignOut(ctx)
}

func (a *App) sessionChanged(s *core.Session) {
	a.mu.Lock()
	ctx := a.ctx
	a.mu.Unlock()

	a.Resolver.Reset()
	if a.Bridge == nil {
		return
	}
	if err := a.Bridge.SessionChanged(ctx, s); err != nil {
		a.logger.ErrorContext(ctx, "Failed to follow session change", log.FieldError, err)
		return
	}
	// Events published while unsubscribed are lost.
	if s != nil {
		a.Bridge.Signal()
	}
}

// Close stops the loops and releases the backends. The bridge gets until
// ctx ends to finish an in-flight refresh.
func (a *App) Close(ctx context.Context) error {
	var errs []error

	if a.stopWatch != nil {
		a.stopWatch()
	}
	if a.Bridge != nil {
		if err := a.Bridge.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("stop change bridge: %w", err))
		}
	}
	a.Interceptor.Close()

	a.mu.Lock()
	cancel, janitor := a.cancelJanitor, a.janitor
	a.cancelJanitor = nil
	a.mu.Unlock()
	if cancel != nil {
		cancel()
		select {
		case <-janitor.Done():
		case <-ctx.Done():
		}
	}

	if err := a.runCleanups(); err != nil {
		errs = append(errs, err)
	}
	a.logger.InfoContext(ctx, "Application stopped", log.FieldOperation, log.OpShutdown)
	return errors.Join(errs...)
}

func (a *App) addCleanup(fn backend.CleanupFunc) {
	if fn != nil {
		a.cleanups = append(a.cleanups, fn)
	}
}

// runCleanups releases resources in reverse creation order.
func (a *App) runCleanups() error {
	var errs []error
	for i := len(a.cleanups) - 1; i >= 0; i-- {
		if err := a.cleanups[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.cleanups = nil
	return errors.Join(errs...)
}
