// Package app builds the long-lived services once and wires them together.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"

	"github.com/PrateekKrishna/rank-sync/internal/achievement"
	"github.com/PrateekKrishna/rank-sync/internal/admin"
	"github.com/PrateekKrishna/rank-sync/internal/aggregate"
	"github.com/PrateekKrishna/rank-sync/internal/alert"
	"github.com/PrateekKrishna/rank-sync/internal/bus"
	"github.com/PrateekKrishna/rank-sync/internal/cache"
	"github.com/PrateekKrishna/rank-sync/internal/caches"
	"github.com/PrateekKrishna/rank-sync/internal/coherence"
	"github.com/PrateekKrishna/rank-sync/internal/config"
	"github.com/PrateekKrishna/rank-sync/internal/domain"
	"github.com/PrateekKrishna/rank-sync/internal/extract"
	"github.com/PrateekKrishna/rank-sync/internal/processor"
	"github.com/PrateekKrishna/rank-sync/internal/queue"
	"github.com/PrateekKrishna/rank-sync/internal/store"
	"github.com/PrateekKrishna/rank-sync/internal/streak"
	"github.com/PrateekKrishna/rank-sync/internal/suppress"
	"github.com/PrateekKrishna/rank-sync/internal/warmer"
	"github.com/PrateekKrishna/rank-sync/internal/webhook"
)

const (
	leaderboardWarmLimit = 50
	sweepInterval        = time.Minute
	shutdownTimeout      = 10 * time.Second
)

// Core holds the data services shared by every command.
type Core struct {
	Config     config.Config
	Logger     *slog.Logger
	Store      *store.Store
	Cache      *cache.Tiered
	Caches     *caches.Set
	Recomputer *aggregate.Recomputer
	Coherence  *coherence.Controller
}

// OpenCore connects the system-of-record and the cache tiers. A remote
// cache that misses its ready deadline leaves the core on the local tier.
func OpenCore(ctx context.Context, cfg config.Config, logger *slog.Logger) (*Core, error) {
	s, err := store.Open(cfg.DatabaseURL, store.Options{Timeout: cfg.IOTimeout})
	if err != nil {
		return nil, err
	}

	var remote cache.Remote
	if cfg.RedisURL != "" {
		r, err := cache.NewRedisRemote(cfg.RedisURL, cfg.IOTimeout)
		if err != nil {
			_ = s.Close()
			return nil, err
		}
		remote = r
	}
	tiered := cache.NewTiered(remote, cache.NewMemoryStore(), cache.TieredOptions{
		Prefix: cfg.CachePrefix,
		Logger: logger,
	})
	if err := tiered.Connect(ctx, cfg.CacheReadyDeadline); err != nil {
		logger.Warn("continuing with in-process cache", "error", err)
	}

	set := caches.New(tiered, logger)
	rec := aggregate.New(s)
	return &Core{
		Config:     cfg,
		Logger:     logger,
		Store:      s,
		Cache:      tiered,
		Caches:     set,
		Recomputer: rec,
		Coherence:  coherence.New(set, rec, s, logger),
	}, nil
}

// Migrate creates the schema and seeds the achievement catalog.
func (c *Core) Migrate(ctx context.Context) error {
	if err := c.Store.Migrate(ctx); err != nil {
		return err
	}
	return c.evaluator().Seed(ctx)
}

func (c *Core) evaluator() *achievement.Evaluator {
	return achievement.NewEvaluator(c.Store, achievement.DefaultCatalog(), c.Logger)
}

func (c *Core) Policy() domain.AccessPolicy {
	return domain.AccessPolicy{
		EmployeeDomain:   c.Config.EmployeeEmailDomain,
		SuperAdminEmails: c.Config.SuperAdminEmails,
	}
}

func (c *Core) Close() error {
	return errors.Join(c.Cache.Close(), c.Store.Close())
}

// Server is the full ingest and notification process.
type Server struct {
	*Core

	Alerts     alert.Sink
	Streaks    *streak.Engine
	Transport  queue.Transport
	Queue      *queue.Queue
	Bus        *bus.Bus
	Dispatcher *processor.Dispatcher
	Warmer     *warmer.Warmer
	Router     *gin.Engine
}

func NewServer(core *Core) (*Server, error) {
	cfg, logger := core.Config, core.Logger
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	srv := &Server{Core: core, Alerts: newAlerts(cfg, logger), Streaks: streak.New(core.Store, logger)}

	srv.Bus = bus.New(bus.Options{Policy: core.Policy(), Logger: logger})

	ev := core.evaluator()
	srv.Dispatcher = processor.NewDispatcher(
		core.Coherence,
		processor.NewAnnouncer(srv.Bus, suppress.New(core.Caches.Suppressor), logger),
		logger,
		processor.NewOrders(core.Store, logger),
		processor.NewProducts(core.Store, extract.Default(), logger),
		processor.NewCustomers(core.Store, logger),
		processor.NewRankings(core.Store, srv.Streaks, ev, logger),
	)

	srv.Transport = newTransport(cfg, logger)
	srv.Queue = queue.New(srv.Transport, srv.Dispatcher.Handle, queue.Options{
		Concurrency:  cfg.QueueConcurrency,
		RatePerSec:   float64(cfg.QueueRatePerSec),
		MaxAttempts:  cfg.QueueMaxAttempts,
		Backoff:      cfg.QueueBackoff,
		Logger:       logger,
		OnDeadLetter: srv.deadLettered,
	})

	srv.Warmer = warmer.New(cfg.WarmGap, logger)
	srv.registerWarmers()
	srv.Router = srv.routes()
	return srv, nil
}

func newAlerts(cfg config.Config, logger *slog.Logger) alert.Sink {
	sinks := alert.Multi{alert.NewLogSink(logger)}
	if cfg.DiscordWebhookURL != "" {
		d, err := alert.NewDiscordSink(cfg.DiscordWebhookURL, logger)
		if err != nil {
			logger.Warn("discord alerts disabled", "error", err)
		} else {
			sinks = append(sinks, d)
		}
	}
	if cfg.SMSAlertsEnabled() {
		sinks = append(sinks, alert.NewSMSSink(cfg.TwilioAccountSID, cfg.TwilioAuthToken, cfg.TwilioFrom, cfg.AlertSMSTo, logger))
	}
	return sinks
}

// newTransport dials the broker, falling back to the in-process transport
// when no broker is configured or reachable.
func newTransport(cfg config.Config, logger *slog.Logger) queue.Transport {
	if cfg.QueueURL != "" {
		t, err := queue.DialAMQP(cfg.QueueURL, cfg.QueueName, cfg.QueueConcurrency, logger)
		if err == nil {
			return t
		}
		logger.Warn("queue broker unavailable, using in-process queue", "error", err)
	}
	return queue.NewMemoryTransport(cfg.QueueConcurrency)
}

func (s *Server) deadLettered(ctx context.Context, dl queue.DeadLetter) {
	s.Alerts.Capture(ctx, errors.New(dl.Error), map[string]any{
		"job_id":   dl.Job.ID,
		"type":     dl.Job.Type,
		"topic":    dl.Job.Topic,
		"key":      dl.Job.Key,
		"attempts": dl.Job.Attempt,
	})
}

func (s *Server) registerWarmers() {
	c := s.Caches
	for _, period := range []string{"all_time", "week"} {
		s.Warmer.Register("leaderboard:"+period, func(ctx context.Context) error {
			_, err := c.Leaderboard.Load(ctx, period, leaderboardWarmLimit, func(ctx context.Context) ([]domain.LeaderboardEntry, error) {
				return s.Store.Leaderboard(ctx, period, leaderboardWarmLimit)
			})
			return err
		})
	}
	s.Warmer.Register(caches.NameRankingStats, func(ctx context.Context) error {
		_, err := c.RankingStats.Load(ctx, s.Recomputer.RecomputeAll)
		return err
	})
	s.Warmer.Register(caches.NameMetadata, s.Coherence.RebuildMetadata)
	s.Warmer.Register(caches.NameHomeStats, func(ctx context.Context) error {
		_, err := c.HomeStats.Load(ctx, s.Store.HomeStats)
		return err
	})
}

func (s *Server) routes() *gin.Engine {
	cfg := s.Config
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.Default()
	if len(cfg.AllowedOrigins) == 0 {
		router.Use(cors.Default())
	} else {
		cc := cors.DefaultConfig()
		cc.AllowOrigins = cfg.AllowedOrigins
		cc.AllowCredentials = true
		cc.AddAllowHeaders(admin.SessionHeader)
		router.Use(cors.New(cc))
	}

	webhook.New(s.Queue, s.Dispatcher, webhook.Options{
		Secret:   cfg.WebhookSecret,
		Deadline: cfg.IngressDeadline,
		Logger:   s.Logger,
	}).Register(router)

	admin.New(s.Store.ResolveSession, s.Policy(), s.Cache, s.Caches, s.Coherence, s.Store, s.Logger).Register(router)

	gw := bus.NewGateway(s.Bus, bus.GatewayOptions{
		Auth:           s.Store.ResolveSession,
		OnPageView:     s.Store.RecordPageView,
		OnLogin:        s.recordLogin,
		AllowedOrigins: cfg.AllowedOrigins,
		Timeout:        cfg.IOTimeout,
	})
	router.GET("/ws", gw.Handle)
	router.GET("/health", s.healthHandler())
	router.GET("/stats/community-ranks", s.communityRanksHandler())
	return router
}

// recordLogin counts an authenticated socket toward the daily login streak.
func (s *Server) recordLogin(ctx context.Context, userID string) (*domain.StreakUpdate, error) {
	res, err := s.Streaks.Record(ctx, userID, string(domain.StreakDailyLogin), time.Now())
	if err != nil {
		return nil, err
	}
	if !res.Changed() {
		return nil, nil
	}
	s.Caches.Streak.Invalidate(ctx, userID)
	return res.Update(), nil
}

func (s *Server) healthHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		conns, users := s.Bus.Stats()
		c.JSON(http.StatusOK, gin.H{
			"status":      "ok",
			"cacheTier":   s.Cache.Tier(),
			"queueReady":  s.Queue.Ready(),
			"connections": conns,
			"activeUsers": users,
		})
	}
}

func (s *Server) communityRanksHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		ranks, err := s.Coherence.CommunityRanks(c.Request.Context())
		if err != nil {
			s.Logger.Error("community ranks unavailable", "error", err)
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "ranking stats unavailable"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"products": ranks})
	}
}

// Run serves HTTP and runs the workers until ctx ends, then drains.
func (s *Server) Run(ctx context.Context) error {
	httpSrv := &http.Server{
		Addr:              ":" + s.Config.Port,
		Handler:           s.Router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.Bus.Run(ctx) })
	g.Go(func() error { return s.Queue.Run(ctx) })
	g.Go(func() error {
		s.Cache.Run(ctx)
		return nil
	})
	g.Go(func() error {
		s.Cache.Local().RunSweeper(ctx, sweepInterval)
		return nil
	})
	g.Go(func() error {
		s.Logger.Info("rank-sync listening", "port", s.Config.Port, "env", s.Config.Env)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	})

	s.Warmer.Start(ctx)
	return g.Wait()
}

func (s *Server) Close() error {
	return errors.Join(s.Transport.Close(), s.Core.Close())
}
