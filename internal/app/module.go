// Package app composes the client: config, session lock, cache, store,
// realtime transport, call machine and the TUI, wired through fx.
package app

import (
	"context"
	"errors"
	"os"

	"github.com/glintapp/glint/internal/api"
	"github.com/glintapp/glint/internal/bus"
	"github.com/glintapp/glint/internal/cache"
	"github.com/glintapp/glint/internal/call"
	"github.com/glintapp/glint/internal/config"
	"github.com/glintapp/glint/internal/lock"
	"github.com/glintapp/glint/internal/logging"
	"github.com/glintapp/glint/internal/session"
	"github.com/glintapp/glint/internal/store"
	"github.com/glintapp/glint/internal/transport"
	"github.com/glintapp/glint/internal/tui"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Params holds the resolved session configuration passed to the fx module.
type Params struct {
	SessionName string
}

// Module returns the fx module for the client, composing all providers and
// lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("glint",
		fx.Supply(p),
		fx.Provide(
			provideLogger,
			provideBus,
			provideConfig,
			provideLock,
			provideCache,
			provideAPIClient,
			provideStore,
			provideTransport,
			provideDevices,
			provideMachine,
			provideMirror,
			provideRouter,
			provideTUI,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideLogger(p Params) (*zap.Logger, error) {
	return logging.New(session.LogPath(p.SessionName), p.SessionName)
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideConfig(logger *zap.Logger) *config.Config {
	cfg, err := config.Load(session.ConfigPath())
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			logger.Warn("config unreadable, using defaults", zap.Error(err))
		}
		return config.Default()
	}
	return cfg
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	if err := session.EnsureDir(p.SessionName); err != nil {
		return nil, err
	}
	logger.Info("acquiring session lock", zap.String("session", p.SessionName))
	l, err := lock.Acquire(session.Dir(p.SessionName))
	if err != nil {
		return nil, err
	}
	logger.Info("session lock acquired")
	return l, nil
}

func provideCache(p Params, logger *zap.Logger) (*cache.DB, error) {
	dbPath := session.CacheDBPath(p.SessionName)
	db, err := cache.Open(dbPath)
	if err != nil {
		return nil, err
	}
	result, err := db.Migrate()
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if result.Changed {
		logger.Info("cache migrations applied", zap.Uint("version", result.Version))
	} else {
		logger.Info("cache migrations up to date", zap.Uint("version", result.Version))
	}
	logger.Info("cache initialized", zap.String("path", dbPath))
	return db, nil
}

func provideAPIClient(cfg *config.Config, logger *zap.Logger) *api.Client {
	return api.NewClient(cfg.APIBaseURL, cfg.Auth.Token, logger)
}

func provideStore(cfg *config.Config, client *api.Client, b *bus.Bus, logger *zap.Logger) (*store.Store, error) {
	if cfg.Auth.UserID == "" {
		return nil, errors.New("not logged in: set auth.user_id in config.toml or GLINT_USER_ID")
	}
	return store.New(client, cfg.Auth.UserID, b, logger), nil
}

func provideTransport(b *bus.Bus, logger *zap.Logger) *transport.Adapter {
	return transport.New(b, logger)
}

func provideDevices(logger *zap.Logger) call.Devices {
	return call.NewDevices(logger)
}

func provideMachine(cfg *config.Config, t *transport.Adapter, s *store.Store, devices call.Devices, b *bus.Bus, logger *zap.Logger) *call.Machine {
	return call.NewMachine(call.Options{
		SelfID:      cfg.Auth.UserID,
		Signaler:    t,
		Markers:     s,
		Devices:     devices,
		NewPeer:     call.NewPionFactory(logger),
		RingTimeout: cfg.RingTimeout(),
		Bus:         b,
		Logger:      logger,
	})
}

func provideMirror(db *cache.DB, s *store.Store, b *bus.Bus, logger *zap.Logger) *cache.Mirror {
	return cache.NewMirror(db, s, b, logger)
}

func provideRouter(s *store.Store, b *bus.Bus, logger *zap.Logger) *Router {
	return NewRouter(s, b, logger)
}

func provideTUI(p Params, s *store.Store, m *call.Machine, b *bus.Bus, logger *zap.Logger) *tui.App {
	return tui.NewApp(s, m, b, p.SessionName, logger)
}

func registerLifecycle(
	lc fx.Lifecycle,
	shutdowner fx.Shutdowner,
	cfg *config.Config,
	lk *lock.Lock,
	db *cache.DB,
	s *store.Store,
	t *transport.Adapter,
	machine *call.Machine,
	mirror *cache.Mirror,
	router *Router,
	ui *tui.App,
	logger *zap.Logger,
) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			// Warm the store from the cache so the first paint has content.
			if convs, err := db.LoadConversations(); err != nil {
				logger.Warn("cache warm load failed", zap.Error(err))
			} else if len(convs) > 0 {
				s.Seed(convs)
				logger.Info("seeded from cache", zap.Int("conversations", len(convs)))
			}

			mirror.Start()
			router.Start(t)
			machine.Start()

			t.Connect(cfg.RealtimeURL)
			t.JoinRoom("user:" + s.SelfID())

			// Authoritative load replaces whatever the cache seeded. Failure
			// keeps last-known state on screen.
			go func() {
				if err := s.LoadConversations(context.Background()); err != nil {
					logger.Warn("initial conversation load failed", zap.Error(err))
				}
			}()

			go func() {
				if err := ui.Run(); err != nil {
					logger.Error("tui exited with error", zap.Error(err))
				}
				_ = shutdowner.Shutdown()
			}()

			return nil
		},
		OnStop: func(_ context.Context) error {
			ui.Stop()
			machine.Stop()
			router.Stop()
			mirror.Stop()
			t.Close()
			_ = db.Close()
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("client stopped")
			return nil
		},
	})
}
