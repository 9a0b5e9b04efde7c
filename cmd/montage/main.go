package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bradfitz/gomemcache/memcache"
	"github.com/labstack/echo/v4"
	echomiddleware "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"
	"golang.org/x/sync/errgroup"

	"github.com/montage-studio/montage/internal/config"
	"github.com/montage-studio/montage/internal/infra/database"
	"github.com/montage-studio/montage/internal/infra/gateway"
	"github.com/montage-studio/montage/internal/infra/repository"
	"github.com/montage-studio/montage/internal/metrics"
	"github.com/montage-studio/montage/internal/present/rest"
	"github.com/montage-studio/montage/internal/present/rest/middleware"
	"github.com/montage-studio/montage/internal/resolver"
	"github.com/montage-studio/montage/internal/service"
	"github.com/montage-studio/montage/internal/session"
	"github.com/montage-studio/montage/internal/tracing"
	"github.com/montage-studio/montage/internal/usecase"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	conf, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("loading config")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if conf.Server.EnableTrace {
		shutdown, err := tracing.Setup(ctx, "montage", conf.Server.TraceEndpoint)
		if err != nil {
			log.Fatal().Err(err).Msg("initializing tracing")
		}
		defer func() {
			flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdown(flushCtx); err != nil {
				log.Warn().Err(err).Msg("trace shutdown failed")
			}
		}()
	}

	db, err := database.NewPostgres(conf.Server.PostgresDsn)
	if err != nil {
		log.Fatal().Err(err).Msg("connecting to postgres")
	}
	if err := database.MigratePostgres(db); err != nil {
		log.Fatal().Err(err).Msg("migrating database")
	}

	rdb := database.NewRedis(conf.Server.RedisAddr, "", conf.Server.RedisDB)
	var mc *memcache.Client
	if conf.Server.MemcachedAddr != "" {
		mc = database.NewMemcached(conf.Server.MemcachedAddr)
	}

	projectRepo := repository.NewProjectRepository(db)
	snapshotRepo := repository.NewSnapshotRepository(db, mc)
	oplogRepo := repository.NewOperationLogRepository(db)
	chatRepo := repository.NewChatRepository(db)

	mtr := metrics.New()

	mgr := resolver.NewManager(snapshotRepo, oplogRepo, conf.Realtime.OplogRetention)
	hub := session.NewHub(conf.Realtime.SendQueueSize, conf.Realtime.CursorRateHz)
	sig := service.NewSignalService(rdb)

	// Hook order matters: connections first, then the cluster signal, then
	// accounting.
	mgr.AddCommitHook(hub)
	mgr.AddCommitHook(sig)
	mgr.AddCommitHook(mtr)

	auth := service.NewAuthService(conf.Auth)
	checkpoint := service.NewCheckpointService(
		mgr, snapshotRepo, oplogRepo,
		conf.Realtime.SnapshotInterval, conf.Realtime.SnapshotOpThreshold,
	)
	checkpoint.SetMetrics(mtr)

	var media *gateway.MediaGateway
	var mediaResolver usecase.MediaResolver
	if conf.Media.ResolverURL != "" {
		media = gateway.NewMediaGateway(conf.Media.ResolverURL, conf.Media.CacheTTL)
		mediaResolver = media
	}

	projectUC := usecase.NewProjectUsecase(projectRepo)
	timelineUC := usecase.NewTimelineUsecase(mgr, projectRepo, mediaResolver)
	versionUC := usecase.NewVersionUsecase(mgr, projectRepo, snapshotRepo)
	chatUC := usecase.NewChatUsecase(chatRepo, projectRepo)

	e := echo.New()
	e.HideBanner = true
	e.Use(echomiddleware.Recover())
	e.Use(echomiddleware.CORS())
	if conf.Server.EnableTrace {
		e.Use(otelecho.Middleware("montage"))
	}

	authMiddleware := middleware.NewAuthMiddleware(auth)
	e.Use(authMiddleware.IdentifyIdentity)

	e.GET("/metrics", echo.WrapHandler(mtr.Handler()))

	handler := rest.NewHandler(
		conf.Realtime,
		projectUC, timelineUC, versionUC, chatUC,
		hub, sig, auth, media, mtr,
	)
	handler.RegisterRoutes(e)

	group, ctx := errgroup.WithContext(ctx)

	group.Go(func() error {
		log.Info().Str("bind", conf.Server.Bind).Msg("montage server starting")
		if err := e.Start(conf.Server.Bind); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})

	group.Go(func() error {
		err := checkpoint.Run(ctx)
		if err == context.Canceled {
			return nil
		}
		return err
	})

	group.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := e.Shutdown(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("http shutdown failed")
		}
		mgr.Close()
		return nil
	})

	if err := group.Wait(); err != nil {
		log.Fatal().Err(err).Msg("server exited")
	}
	log.Info().Msg("montage server stopped")
}
