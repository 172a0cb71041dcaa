package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/memberdesk/memberdesk/internal/auth"
	"github.com/memberdesk/memberdesk/internal/members"
	"github.com/memberdesk/memberdesk/internal/observability"
	"github.com/memberdesk/memberdesk/internal/platform/cache"
	"github.com/memberdesk/memberdesk/internal/platform/db"
	"github.com/memberdesk/memberdesk/internal/rbac"
	"github.com/memberdesk/memberdesk/internal/roles"
	"github.com/memberdesk/memberdesk/internal/session"
	"github.com/memberdesk/memberdesk/jobs"
)

// Deps lets callers supply pre-built backends instead of connecting from
// Config. Nil fields are built from Config.
type Deps struct {
	DB          db.Querier
	Credentials auth.CredentialStore
	Inspector   jobs.QueueInspector
	HTTPClient  *http.Client
}

// Container holds the wired application graph.
type Container struct {
	Config    *Config
	Logger    *slog.Logger
	Metrics   *observability.Metrics
	Auth      *auth.Client
	Sessions  *session.Store
	RoleCache *roles.Cache
	Validator *session.Validator
	Resolver  *roles.Resolver
	Service   *rbac.Service
	Router    http.Handler
	Worker    *jobs.Worker

	closers []func() error
}

// Build connects the backends named by cfg and wires every component.
func Build(ctx context.Context, cfg *Config, logger *slog.Logger, deps Deps) (*Container, error) {
	if cfg == nil {
		return nil, errors.New("app: config required")
	}
	if logger == nil {
		logger = NewLogger(cfg)
	}
	c := &Container{Config: cfg, Logger: logger, Metrics: observability.NewMetrics()}

	querier := deps.DB
	if querier == nil {
		pool, err := db.New(ctx, cfg.PGDSN, db.Options{MaxConns: cfg.PGMaxConns, ConnectTimeout: cfg.ProviderCallTimeout})
		if err != nil {
			return nil, err
		}
		c.closers = append(c.closers, func() error { pool.Close(); return nil })
		querier = pool
	}

	redisOpts := cache.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB}
	var redisClient *redis.Client
	needRedis := (deps.Credentials == nil && cfg.CredentialStore == "redis") || (cfg.WorkerEnabled && deps.Inspector == nil)
	if needRedis {
		client, err := cache.New(ctx, redisOpts)
		if err != nil {
			c.Close()
			return nil, err
		}
		c.closers = append(c.closers, client.Close)
		redisClient = client
	}

	credentials := deps.Credentials
	if credentials == nil {
		if cfg.CredentialStore == "redis" {
			credentials = auth.NewRedisCredentialStore(redisClient, "", cfg.CredentialTTL)
		} else {
			credentials = auth.NewMemoryCredentialStore()
		}
	}

	httpClient := deps.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.ProviderCallTimeout}
	}
	c.Auth = auth.NewClient(auth.ClientConfig{
		BaseURL:    cfg.AuthURL,
		APIKey:     cfg.AuthAnonKey,
		HTTPClient: httpClient,
		Store:      credentials,
		Logger:     logger.With(slog.String("component", "auth")),
	})

	policy := cfg.RetryPolicy()
	events := session.NewBroadcaster(16)
	c.Sessions = session.NewStore()
	c.RoleCache = roles.NewCache(cfg.RoleCacheSize, cfg.RoleCacheTTL)
	c.Validator = session.NewValidator(c.Auth, c.Sessions, c.RoleCache, events, policy,
		logger.With(slog.String("component", "session")), session.WithObserver(c.Metrics))
	c.Resolver = roles.NewResolver(c.RoleCache, roles.NewAssignmentRepository(querier), members.NewRepository(querier), policy,
		logger.With(slog.String("component", "roles")), roles.WithObserver(c.Metrics))
	c.Service = rbac.NewService(c.Validator, c.Resolver, events, logger)

	inspector := deps.Inspector
	if inspector == nil && cfg.WorkerEnabled {
		ins := asynq.NewInspector(cache.AsynqOpt(redisOpts))
		c.closers = append(c.closers, ins.Close)
		inspector = ins
	}

	if cfg.WorkerEnabled {
		worker, err := c.buildWorker(redisOpts)
		if err != nil {
			c.Close()
			return nil, err
		}
		c.Worker = worker
	}

	c.Router = NewRouter(RouterParams{
		Logger:         logger,
		Config:         cfg,
		RBACHandler:    rbac.NewHandler(c.Service, c.Sessions, logger, cfg.RetryDelay),
		RBACMiddleware: rbac.Middleware{Service: c.Service, Logger: logger, RetryAfter: cfg.RetryDelay},
		JobHandler:     jobs.NewHandler(inspector, logger),
		Metrics:        c.Metrics,
	})
	return c, nil
}

func (c *Container) buildWorker(redisOpts cache.Options) (*jobs.Worker, error) {
	task, err := jobs.NewRevalidateTask("schedule")
	if err != nil {
		return nil, fmt.Errorf("app: build revalidate task: %w", err)
	}
	job := jobs.NewRevalidateJob(c.Service, c.Logger.With(slog.String("component", "jobs")), c.Metrics.Jobs())
	return jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts:   cache.AsynqOpt(redisOpts),
		Logger:      c.Logger,
		Concurrency: c.Config.WorkerConcurrency,
		Handlers:    []jobs.TaskHandler{{Type: jobs.TaskSessionRevalidate, Handler: job.Handle}},
		Cron:        []jobs.CronRegistration{{Spec: c.Config.RevalidateCron, Task: task}},
	})
}

// WatchSessionEvents logs session lifecycle events until ctx is done.
func (c *Container) WatchSessionEvents(ctx context.Context) {
	events, unsubscribe := c.Service.Subscribe()
	defer unsubscribe()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			c.Logger.Info("session event",
				slog.String("kind", string(ev.Kind)),
				slog.String("principal", ev.PrincipalID),
				slog.String("redirect", ev.RedirectTo),
				slog.String("notice", ev.Notice.Title))
		}
	}
}

// Close releases every backend opened by Build, newest first.
func (c *Container) Close() error {
	var errs []error
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	c.closers = nil
	return errors.Join(errs...)
}
