package main // Entry point package

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"github.com/iliyamo/service-booking-engine/internal/availability"
	"github.com/iliyamo/service-booking-engine/internal/booking"
	"github.com/iliyamo/service-booking-engine/internal/cart"
	"github.com/iliyamo/service-booking-engine/internal/clock"
	"github.com/iliyamo/service-booking-engine/internal/config"
	"github.com/iliyamo/service-booking-engine/internal/database"
	"github.com/iliyamo/service-booking-engine/internal/guard"
	"github.com/iliyamo/service-booking-engine/internal/handler"
	"github.com/iliyamo/service-booking-engine/internal/middleware"
	"github.com/iliyamo/service-booking-engine/internal/queue"
	"github.com/iliyamo/service-booking-engine/internal/repository"
	"github.com/iliyamo/service-booking-engine/internal/router"
	"github.com/iliyamo/service-booking-engine/internal/service"
)

func main() {
	_ = godotenv.Load() // .env is optional; real environment wins

	cfg := config.Load()
	log := newLogger(cfg.Env)
	defer func() { _ = log.Sync() }()

	engine, err := config.LoadEngineConfig()
	if err != nil {
		log.Fatal("engine config", zap.Error(err))
	}

	db, err := database.Open(cfg.DBUser, cfg.DBPass, cfg.DBHost, cfg.DBPort, cfg.DBName)
	if err != nil {
		log.Fatal("database", zap.Error(err))
	}
	defer db.Close()
	if err := database.Migrate(context.Background(), db); err != nil {
		log.Fatal("migrate", zap.Error(err))
	}

	rdb, err := config.NewRedisClient(config.LoadRedisConfig())
	if err != nil {
		log.Warn("redis unavailable; carts kept in memory, cache and rate limit off", zap.Error(err))
	}
	var carts cart.Store = cart.NewMemoryStore()
	if rdb != nil {
		defer rdb.Close()
		carts = cart.NewRedisStore(rdb, engine.CartTTL)
	}

	clk := clock.System(engine.Location)
	calendar := repository.NewCalendarRepo(db)
	reservations := repository.NewReservationRepo(db)
	projector := availability.NewProjector(calendar, clk, availability.Config{
		HorizonDays:  engine.HorizonDays,
		MaxRangeDays: engine.MaxRangeDays,
	})
	g := guard.New(calendar, clk, guard.Config{
		MaxAttempts:    engine.ReserveAttempts,
		AttemptTimeout: engine.ReserveTimeout,
		Backoff:        engine.RetryBackoff,
	}, log.Named("guard"))

	var events booking.EventPublisher
	if cfg.EventsEnabled {
		events = service.NewRabbitPublisher(cfg.AMQPURL, log.Named("publisher"))
	}
	orch := booking.New(booking.Deps{
		Guard:        g,
		Availability: projector,
		Reservations: reservations,
		Carts:        carts,
		Events:       events,
		Clock:        clk,
		Log:          log.Named("booking"),
	}, booking.Config{
		RequirePayment: engine.RequirePayment,
		ReleaseTimeout: engine.ReserveTimeout,
		PendingTTL:     engine.PendingTTL,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if engine.RequirePayment && engine.PendingTTL > 0 {
		log.Info("pending checkout expiry on",
			zap.Duration("ttl", engine.PendingTTL),
			zap.Duration("interval", engine.SweepInterval),
		)
		go orch.RunExpiry(ctx, engine.SweepInterval)
	}

	if cfg.ConsumerEnabled {
		consumer := queue.NewConsumer(cfg.AMQPURL, cfg.EventsLogPath, log.Named("consumer"))
		go func() {
			if err := consumer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Error("reservation consumer stopped", zap.Error(err))
			}
		}()
	}

	cacheCfg := config.LoadCacheConfig()
	rateCfg := config.LoadRateLimitConfig()
	invalidator := middleware.NewCacheInvalidator(cacheCfg, rdb)
	limiter := middleware.NewTokenBucket(rateCfg, rdb, log.Named("ratelimit"))

	e := echo.New()
	e.HideBanner = true
	e.Use(echomw.Recover())
	e.Use(echomw.RequestID())
	e.Use(middleware.RequestLogger(log.Named("http")))

	router.RegisterRoutes(e, db)
	router.RegisterPublic(e,
		handler.NewAvailabilityHandler(projector, log),
		limiter,
		middleware.NewRedisCache(cacheCfg, rdb, log.Named("cache")),
	)
	var cacheHook handler.Invalidator
	if invalidator != nil {
		cacheHook = invalidator
	}
	router.RegisterCustomer(e,
		handler.NewCartHandler(carts, log),
		handler.NewBookingHandler(orch, carts, cacheHook, log),
		cfg.JWTSecret,
		limiter,
	)
	router.RegisterProvider(e, handler.NewProviderHandler(calendar, cacheHook, engine.PublishMaxDays, log), cfg.JWTSecret)

	addr := ":" + cfg.Port
	go func() {
		log.Info("listening", zap.String("addr", addr), zap.String("env", cfg.Env))
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("http server", zap.Error(err))
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown", zap.Error(err))
	}
	orch.Wait()
}

func newLogger(env string) *zap.Logger {
	var (
		log *zap.Logger
		err error
	)
	if env == "dev" {
		log, err = zap.NewDevelopment()
	} else {
		log, err = zap.NewProduction()
	}
	if err != nil {
		panic(err)
	}
	return log
}
