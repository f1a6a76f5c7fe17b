// Package daemon composes wppcald: stores, chat gateway, calendar sink, sync
// coordinator, weekly scheduler and the control servers.
package daemon

import (
	"context"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/matheus3301/wppcal/internal/api"
	"github.com/matheus3301/wppcal/internal/auth"
	"github.com/matheus3301/wppcal/internal/bus"
	"github.com/matheus3301/wppcal/internal/calendar"
	"github.com/matheus3301/wppcal/internal/config"
	"github.com/matheus3301/wppcal/internal/lock"
	"github.com/matheus3301/wppcal/internal/logging"
	"github.com/matheus3301/wppcal/internal/profile"
	"github.com/matheus3301/wppcal/internal/scheduler"
	"github.com/matheus3301/wppcal/internal/store"
	wsync "github.com/matheus3301/wppcal/internal/sync"
	"github.com/matheus3301/wppcal/internal/wa"
)

// Params holds the resolved profile passed to the fx module.
type Params struct {
	Profile    string
	SocketPath string // optional override for testing; empty = use default

	// Config, Source and Sink replace the profile config file, the gateway
	// client and the Google sink when set. Tests use them.
	Config *config.Config
	Source wsync.ChatSource
	Sink   wsync.CalendarSink
	Logger *zap.Logger
}

// Module returns the fx module for the daemon, composing all providers and lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideLogger,
			provideLock,
			provideConfig,
			provideBus,
			provideStore,
			provideSource,
			provideSink,
			provideCoordinator,
			provideScheduler,
			provideGuard,
			provideControlService,
			NewServer,
			provideHTTPServer,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideLogger(p Params) (*zap.Logger, error) {
	if p.Logger != nil {
		return p.Logger, nil
	}
	return logging.New(profile.LogPath(p.Profile), p.Profile)
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	if err := profile.EnsureDir(p.Profile); err != nil {
		return nil, err
	}
	logger.Info("acquiring profile lock", zap.String("profile", p.Profile))
	l, err := lock.Acquire(profile.Dir(p.Profile))
	if err != nil {
		return nil, err
	}
	logger.Info("profile lock acquired")
	return l, nil
}

func provideConfig(p Params, _ *lock.Lock, logger *zap.Logger) (*config.Config, error) {
	cfg := p.Config
	if cfg == nil {
		var err error
		if cfg, err = config.Load(profile.ConfigPath(p.Profile)); err != nil {
			return nil, err
		}
	}
	if cfg.Calendar.CredentialsFile == "" {
		cfg.Calendar.CredentialsFile = profile.CalendarCredentialsPath(p.Profile)
	}
	if cfg.Calendar.TokenFile == "" {
		cfg.Calendar.TokenFile = profile.CalendarTokenPath(p.Profile)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger.Info("config loaded",
		zap.String("calendar", cfg.Calendar.TargetCalendarID),
		zap.Int("parallelism", cfg.Sync.MaxFleetParallelism),
		zap.Bool("scheduler", cfg.Scheduler.Enabled))
	return cfg, nil
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideStore(p Params, _ *lock.Lock, logger *zap.Logger) (*store.DB, error) {
	dbPath := profile.DBPath(p.Profile)
	db, err := store.Open(dbPath)
	if err != nil {
		return nil, err
	}
	result, err := db.Migrate()
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if result.Changed {
		logger.Info("migrations applied", zap.Uint("version", result.Version))
	} else {
		logger.Info("migrations up to date", zap.Uint("version", result.Version))
	}
	logger.Info("store initialized", zap.String("path", dbPath))
	return db, nil
}

func provideSource(p Params, cfg *config.Config, logger *zap.Logger) (wsync.ChatSource, error) {
	if p.Source != nil {
		return p.Source, nil
	}
	return wa.NewFromConfig(cfg.Chat, logger.Named("gateway"))
}

func provideSink(p Params, cfg *config.Config, logger *zap.Logger) (wsync.CalendarSink, error) {
	if p.Sink != nil {
		return p.Sink, nil
	}
	conf, err := calendar.LoadOAuthConfig(cfg.Calendar.CredentialsFile)
	if err != nil {
		return nil, err
	}
	ts, err := calendar.NewTokenSource(context.Background(), conf, cfg.Calendar.TokenFile)
	if err != nil {
		return nil, err
	}
	return calendar.NewSink(context.Background(), calendar.Options{
		CalendarID: cfg.Calendar.TargetCalendarID,
		HTTPClient: calendar.NewHTTPClient(ts),
		Tokens:     ts,
	}, logger.Named("calendar"))
}

func provideCoordinator(db *store.DB, source wsync.ChatSource, sink wsync.CalendarSink, cfg *config.Config, b *bus.Bus, logger *zap.Logger) *wsync.Coordinator {
	return wsync.NewCoordinator(db, source, sink, cfg, b, logger.Named("sync"))
}

func provideScheduler(p Params, coord *wsync.Coordinator, b *bus.Bus, logger *zap.Logger) *scheduler.Scheduler {
	return scheduler.New(coord, profile.ReportDir(p.Profile), b, logger.Named("scheduler"))
}

func provideGuard(db *store.DB, logger *zap.Logger) *auth.Guard {
	return auth.NewGuard(db, logger.Named("auth"), "/healthz")
}

func provideControlService(p Params, cfg *config.Config, db *store.DB, coord *wsync.Coordinator, sched *scheduler.Scheduler, b *bus.Bus, logger *zap.Logger) *api.ControlService {
	var weekly api.WeeklyRunner
	if cfg.Scheduler.Enabled {
		weekly = sched
	}
	return api.NewControlService(db, coord, weekly, b, profile.LogPath(p.Profile), logger.Named("control"))
}

// provideHTTPServer returns nil when HTTP_ADDR is unset.
func provideHTTPServer(cfg *config.Config, svc *api.ControlService, guard *auth.Guard, logger *zap.Logger) (*api.HTTPServer, error) {
	if cfg.Control.HTTPAddr == "" {
		return nil, nil
	}
	return api.NewHTTPServer(cfg.Control.HTTPAddr, api.NewRouter(svc, guard.Middleware), logger.Named("http"))
}

type lifecycleIn struct {
	fx.In

	Params    Params
	Config    *config.Config
	Lock      *lock.Lock
	DB        *store.DB
	Bus       *bus.Bus
	Guard     *auth.Guard
	Coord     *wsync.Coordinator
	Scheduler *scheduler.Scheduler
	Server    *Server
	HTTP      *api.HTTPServer
	Logger    *zap.Logger
}

func registerLifecycle(lc fx.Lifecycle, in lifecycleIn) {
	logger := in.Logger
	var watcher *config.Watcher

	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			if _, err := in.Guard.Issue(profile.TokenPath(in.Params.Profile), in.Config.Control.TokenTTL()); err != nil {
				return err
			}
			logger.Info("operator token issued", zap.String("path", profile.TokenPath(in.Params.Profile)))

			go func() {
				if err := in.Server.Start(); err != nil {
					logger.Error("gRPC server error", zap.Error(err))
				}
			}()
			if in.HTTP != nil {
				go func() {
					if err := in.HTTP.Start(); err != nil {
						logger.Error("HTTP server error", zap.Error(err))
					}
				}()
			}

			if in.Config.Scheduler.Enabled {
				if err := in.Scheduler.Start(in.Config.Scheduler.WeeklyRunCron); err != nil {
					return err
				}
			}

			w, err := config.Watch(profile.ConfigPath(in.Params.Profile), logger.Named("config"), reloader(in))
			if err != nil {
				logger.Warn("config watcher disabled", zap.Error(err))
			} else {
				watcher = w
			}
			logger.Info("daemon started")
			return nil
		},
		OnStop: func(ctx context.Context) error {
			if watcher != nil {
				_ = watcher.Close()
			}
			in.Scheduler.Stop()
			if in.HTTP != nil {
				if err := in.HTTP.Stop(ctx); err != nil {
					logger.Warn("HTTP shutdown", zap.Error(err))
				}
			}
			in.Server.Stop(ctx)
			if err := in.DB.Close(); err != nil {
				logger.Warn("error closing store", zap.Error(err))
			}
			if err := in.Lock.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("daemon stopped")
			return nil
		},
	})
}

// reloader applies a changed config file to the running daemon. Credentials,
// the target calendar and the HTTP address only take effect after a restart.
func reloader(in lifecycleIn) func(*config.Config) {
	return func(next *config.Config) {
		in.Coord.ApplyConfig(next)

		if in.Config.Scheduler.Enabled && next.Scheduler.Enabled {
			if err := in.Scheduler.Reschedule(next.Scheduler.WeeklyRunCron); err != nil {
				in.Logger.Warn("weekly schedule not changed", zap.Error(err))
			}
		} else if next.Scheduler.Enabled != in.Config.Scheduler.Enabled {
			in.Logger.Warn("enabling or disabling the scheduler requires a restart")
		}

		if restartNeeded(in.Config, next) {
			in.Logger.Warn("credential or calendar changes require a restart")
		}
		in.Bus.Emit(bus.KindConfigReload, map[string]any{
			"at": time.Now().UTC(),
		})
	}
}

func restartNeeded(cur, next *config.Config) bool {
	return cur.Chat.APIURL != next.Chat.APIURL ||
		cur.Chat.InstanceID != next.Chat.InstanceID ||
		cur.Chat.Token != next.Chat.Token ||
		cur.Calendar.TargetCalendarID != next.Calendar.TargetCalendarID ||
		cur.Control.HTTPAddr != next.Control.HTTPAddr
}
