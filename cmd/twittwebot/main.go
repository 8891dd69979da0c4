package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/ilikepancakes-ink/twittwebot/common/id"
	"github.com/ilikepancakes-ink/twittwebot/common/llm"
	"github.com/ilikepancakes-ink/twittwebot/common/logger"
	"github.com/ilikepancakes-ink/twittwebot/common/otel"
	"github.com/ilikepancakes-ink/twittwebot/core/config"
	"github.com/ilikepancakes-ink/twittwebot/core/db"
	"github.com/ilikepancakes-ink/twittwebot/internal/bot"
	"github.com/ilikepancakes-ink/twittwebot/internal/conversation"
	"github.com/ilikepancakes-ink/twittwebot/internal/discovery"
	"github.com/ilikepancakes-ink/twittwebot/internal/gate"
	"github.com/ilikepancakes-ink/twittwebot/internal/generator"
	"github.com/ilikepancakes-ink/twittwebot/internal/http/handler"
	"github.com/ilikepancakes-ink/twittwebot/internal/http/middleware"
	httprouter "github.com/ilikepancakes-ink/twittwebot/internal/http/router"
	"github.com/ilikepancakes-ink/twittwebot/internal/metrics"
	"github.com/ilikepancakes-ink/twittwebot/internal/model"
	"github.com/ilikepancakes-ink/twittwebot/internal/platform/twitter"
	"github.com/ilikepancakes-ink/twittwebot/internal/policy"
	"github.com/ilikepancakes-ink/twittwebot/internal/scheduler"
	"github.com/ilikepancakes-ink/twittwebot/internal/store"
)

func main() {
	fmt.Printf("%s\n", banner)
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		slog.ErrorContext(ctx, "failed to load config", "error", err)
		os.Exit(1)
	}

	// OTel must init before logger (logger uses OTel provider in production)
	telemetry, err := otel.Setup(ctx, cfg.OTel)
	if err != nil {
		// Can't use slog yet; OTel failed before logger setup
		os.Stderr.WriteString("failed to initialize otel: " + err.Error() + "\n")
		os.Exit(1)
	}

	logger.Setup(cfg)

	if telemetry != nil {
		slog.InfoContext(ctx, "otel initialized", "endpoint", cfg.OTel.Endpoint)
	} else {
		slog.InfoContext(ctx, "otel disabled (no endpoint configured)")
	}

	slog.InfoContext(ctx, "twittwebot starting", "env", cfg.Env, "service", cfg.OTel.ServiceName)
	if err := id.Init(cfg.NodeID); err != nil {
		slog.ErrorContext(ctx, "failed to initialize snowflake id generator", "error", err)
		os.Exit(1)
	}

	m := metrics.New()

	var (
		ledger  store.Ledger
		threads store.ThreadStore
		cursors store.CursorStore
	)
	switch cfg.State.Backend {
	case config.BackendRedis:
		redisOpts, perr := redis.ParseURL(cfg.State.RedisURL)
		if perr != nil {
			slog.ErrorContext(ctx, "failed to parse redis url", "error", perr)
			os.Exit(1)
		}
		redisClient := redis.NewClient(redisOpts)
		if err := redisClient.Ping(ctx).Err(); err != nil {
			slog.ErrorContext(ctx, "failed to connect to redis", "error", err)
			os.Exit(1)
		}
		defer redisClient.Close()
		slog.InfoContext(ctx, "redis connected")

		ledger = store.NewRedisLedger(redisClient, cfg.State.LedgerTTL)
		cursors = store.NewRedisCursorStore(redisClient)
		// Threads stay in memory: losing a transcript degrades reply
		// context, losing the ledger or cursor causes duplicate writes.
		threads = store.NewMemoryThreadStore()
	case config.BackendPostgres:
		database, derr := db.New(ctx, cfg.DB)
		if derr != nil {
			slog.ErrorContext(ctx, "failed to connect to database", "error", derr)
			os.Exit(1)
		}
		defer database.Close()
		slog.InfoContext(ctx, "database connected")

		ledger = store.NewPostgresLedger(database)
		threads = store.NewPostgresThreadStore(database)
		cursors = store.NewPostgresCursorStore(database)
	default:
		ledger = store.NewMemoryLedger(cfg.State.LedgerMaxEntries)
		threads = store.NewMemoryThreadStore()
		cursors = store.NewMemoryCursorStore()
	}
	slog.InfoContext(ctx, "state backend ready", "backend", cfg.State.Backend)

	client := twitter.NewClient(twitter.Config{
		BaseURL:     cfg.Twitter.BaseURL,
		BearerToken: cfg.Twitter.BearerToken,
		Metrics:     m,
	})

	agent, err := llm.NewAgentClient(llm.Config{
		Provider: cfg.LLM.Provider,
		APIKey:   cfg.LLM.APIKey,
		BaseURL:  cfg.LLM.BaseURL,
		Model:    cfg.LLM.Model,
	})
	if err != nil {
		slog.ErrorContext(ctx, "failed to create llm client", "error", err)
		os.Exit(1)
	}

	g := gate.New(gate.Config{
		MaxAttempts: cfg.Gate.MaxAttempts,
		BaseBackoff: cfg.Gate.BaseBackoff,
		MaxBackoff:  cfg.Gate.MaxBackoff,
		Metrics:     m,
	})

	// Resolve the authenticated account before anything posts. Bad
	// credentials should fail startup, not the first tick.
	self, err := gate.Do(ctx, g, "resolve identity", func(ctx context.Context) (model.Account, error) {
		return client.Me(ctx)
	})
	if err != nil {
		slog.ErrorContext(ctx, "failed to resolve bot identity", "error", err)
		os.Exit(1)
	}
	slog.InfoContext(ctx, "authenticated", "account_id", self.ID, "username", self.Username)

	gen := generator.New(agent, cfg.LLM, cfg.Bot, m)
	tracker := conversation.NewTracker(threads, cfg.Bot.MaxReplyDepth, cfg.Bot.TrackReplyChains)
	finder := discovery.NewFinder(client, g, cfg.Bot)
	engagePolicy := policy.NewEngine(client, g, ledger, tracker, gen, cfg.Bot, m)

	engine := bot.NewEngine(cfg.Bot, bot.Deps{
		Client:    client,
		Gate:      g,
		Ledger:    ledger,
		Cursors:   cursors,
		Tracker:   tracker,
		Finder:    finder,
		Policy:    engagePolicy,
		Generator: gen,
		Metrics:   m,
		Self:      self,
	})

	sched := scheduler.New(scheduler.Config{TickTimeout: cfg.Bot.TickTimeout}, m)
	mustRegister := func(t scheduler.Task) {
		if err := sched.Register(t); err != nil {
			slog.ErrorContext(ctx, "failed to register task", "error", err)
			os.Exit(1)
		}
	}
	mustRegister(scheduler.Task{
		Name:      "post",
		Interval:  cfg.Bot.PostInterval,
		Cron:      cfg.Bot.PostCron,
		OnStartup: cfg.Bot.PostOnStartup,
		Run:       engine.PostOnce,
	})
	mustRegister(scheduler.Task{
		Name:     "mentions",
		Interval: cfg.Bot.MentionInterval,
		Run:      engine.CheckMentions,
	})
	if cfg.Bot.InteractWithPopular {
		mustRegister(scheduler.Task{
			Name:      "popular",
			Interval:  cfg.Bot.PopularInterval,
			OnStartup: cfg.Bot.ScanOnStartup,
			Run:       engine.ScanPopular,
		})
	}

	sched.Start(ctx)

	var server *http.Server
	if cfg.OpsServerEnabled() {
		if cfg.IsProduction() {
			gin.SetMode(gin.ReleaseMode)
		}

		server = &http.Server{
			Addr:              ":" + cfg.Port,
			Handler:           setupRouter(cfg, m, sched, g, tracker, self),
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       30 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       120 * time.Second,
		}
		go func() {
			slog.InfoContext(ctx, "ops server starting", "port", cfg.Port)
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				slog.ErrorContext(ctx, "ops server error", "error", err)
				os.Exit(1)
			}
		}()
	} else {
		slog.InfoContext(ctx, "ops server disabled")
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.InfoContext(ctx, "shutting down...")

	// Let in-flight ticks finish before tearing anything down under them.
	sched.Stop(cfg.Bot.ShutdownGrace)

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if server != nil {
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.ErrorContext(shutdownCtx, "ops server shutdown error", "error", err)
		}
	}

	if telemetry != nil {
		if err := telemetry.Shutdown(shutdownCtx); err != nil {
			slog.ErrorContext(shutdownCtx, "otel shutdown error", "error", err)
		}
	}

	slog.InfoContext(shutdownCtx, "shutdown complete")
}

func setupRouter(cfg config.Config, m *metrics.Metrics, sched *scheduler.Scheduler, g *gate.Gate, tracker *conversation.Tracker, self model.Account) *gin.Engine {
	router := gin.New()

	// Order matters: OTel creates span → Recovery catches panics → Logger logs with trace context
	if cfg.OTel.Enabled() {
		router.Use(otelgin.Middleware(cfg.OTel.ServiceName))
	}
	router.Use(middleware.Recovery())
	router.Use(middleware.Logger())

	httprouter.SetupRoutes(router, httprouter.Handlers{
		Status:  handler.NewStatusHandler(self, cfg.Env, cfg.State.Backend, sched, g, tracker),
		Threads: handler.NewThreadHandler(tracker),
	}, httprouter.RouterConfig{Registry: m.Registry()})

	return router
}

const banner = `
████████╗██╗    ██╗██╗████████╗████████╗██╗    ██╗███████╗██████╗  ██████╗ ████████╗
╚══██╔══╝██║    ██║██║╚══██╔══╝╚══██╔══╝██║    ██║██╔════╝██╔══██╗██╔═══██╗╚══██╔══╝
   ██║   ██║ █╗ ██║██║   ██║      ██║   ██║ █╗ ██║█████╗  ██████╔╝██║   ██║   ██║
   ██║   ██║███╗██║██║   ██║      ██║   ██║███╗██║██╔══╝  ██╔══██╗██║   ██║   ██║
   ██║   ╚███╔███╔╝██║   ██║      ██║   ╚███╔███╔╝███████╗██████╔╝╚██████╔╝   ██║
   ╚═╝    ╚══╝╚══╝ ╚═╝   ╚═╝      ╚═╝    ╚══╝╚══╝ ╚══════╝╚═════╝  ╚═════╝    ╚═╝
`
