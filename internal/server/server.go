package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"

	"github.com/golang-migrate/migrate/v4"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	appconfig "github.com/tickerdesk/tickerdesk/config"
	"github.com/tickerdesk/tickerdesk/internal/agent"
	"github.com/tickerdesk/tickerdesk/internal/budget"
	"github.com/tickerdesk/tickerdesk/internal/jobs"
	"github.com/tickerdesk/tickerdesk/internal/market"
	"github.com/tickerdesk/tickerdesk/internal/query"
	"github.com/tickerdesk/tickerdesk/internal/runtime"
	"github.com/tickerdesk/tickerdesk/internal/store"
)

// Run wires the full service and blocks serving HTTP.
func Run(cfg *appconfig.Config, addr string) error {
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())
	// Unified HTTP error handler with structured JSON and logging
	baseLogger := log.New(log.Writer(), "[HTTP] ", log.LstdFlags)
	e.HTTPErrorHandler = func(err error, c echo.Context) {
		code := http.StatusInternalServerError
		msg := err.Error()
		if he, ok := err.(*echo.HTTPError); ok {
			code = he.Code
			if he.Message != nil {
				msg = fmt.Sprint(he.Message)
			}
		}
		req := c.Request()
		baseLogger.Printf("%d %s %s from %s: %v", code, req.Method, req.URL.Path, c.RealIP(), err)
		if !c.Response().Committed {
			_ = c.JSON(code, map[string]interface{}{"error": msg})
		}
	}
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Content-Type", "Cookie", "Authorization"},
		AllowCredentials: true,
	}))

	e.GET("/healthz", func(c echo.Context) error { return c.String(200, "ok") })
	registerDocs(e)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	dsn := cfg.Databases.Postgres.DSN()
	if err := Migrate("file://migrations", dsn, "up", 0); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migrate: %w", err)
	}

	ctx := context.Background()
	st, err := store.NewWithDSN(ctx, dsn)
	if err != nil {
		return err
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Databases.Redis.Addr(),
		Password: cfg.Databases.Redis.Password,
		DB:       cfg.Databases.Redis.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis connection failed (%s): %w", cfg.Databases.Redis.Addr(), err)
	}

	secret, err := runtime.LoadJWTSecret(cfg)
	if err != nil {
		return err
	}

	ledger := budget.NewLedger(st, budget.Settings{
		DailyCap:   cfg.Budget.DailyCap,
		MonthlyCap: cfg.Budget.MonthlyCap,
		SessionCap: cfg.Budget.SessionCap,
		QueryCap:   cfg.Budget.QueryCap,
	})
	pipeline := market.NewPipeline(cfg.Market, market.NewSources(cfg.Market), market.NewCache(rdb))
	runner := agent.NewOpenAIRunner(cfg.Providers.OpenAI)
	executor := query.NewExecutor(st, ledger, runner, pipeline, cfg.Providers.OpenAI)
	queue := jobs.NewQueue(executor, cfg.Jobs.Timeout)

	api := e.Group("/api")
	auth := &AuthHandler{Store: st, Secret: secret, Secure: cfg.General.Env == "prod"}
	auth.Register(api.Group("/auth"))

	me := api.Group("/me")
	me.Use(runtime.EchoAuthMiddleware(secret))
	me.GET("", func(c echo.Context) error {
		return c.JSON(200, map[string]string{"user_id": c.Get("user_id").(string)})
	})

	qh := &QueriesHandler{Exec: executor, Queue: queue}
	qh.Register(api.Group("/queries"), secret)

	bh := &BudgetHandler{Ledger: ledger}
	bh.Register(api.Group("/budget"), secret)

	sh := &SessionsHandler{Store: st}
	sh.Register(api.Group("/sessions"), secret)

	sch := &ScheduledHandler{Store: st}
	sch.Register(api.Group("/scheduled"), secret)

	if cfg.Scheduler.Enabled {
		sched := &Scheduler{Store: st, Queue: queue, Rdb: rdb, Interval: cfg.Scheduler.Interval, Stop: make(chan struct{})}
		sched.Start()
	}

	if addr == "" {
		addr = cfg.General.Listen
		if addr != "" && addr[0] != ':' {
			addr = ":" + addr
		}
		if addr == "" {
			addr = ":8080"
		}
	}
	log.Printf("listening on %s", addr)
	return e.Start(addr)
}
