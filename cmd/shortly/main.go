package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"

	"github.com/go-chi/httplog/v2"
	"golang.org/x/sync/errgroup"

	myhttp "github.com/shortly-app/shortly/internal/api/http"
	"github.com/shortly-app/shortly/internal/cache"
	"github.com/shortly-app/shortly/internal/clicksync"
	"github.com/shortly-app/shortly/internal/config"
	"github.com/shortly-app/shortly/internal/database/postgres"
	"github.com/shortly-app/shortly/internal/service"
	pkgpostgres "github.com/shortly-app/shortly/pkg/postgres"
	pkgredis "github.com/shortly-app/shortly/pkg/redis"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx); err != nil {
		panic(err)
	}
}

func run(ctx context.Context) error {
	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		return err
	}

	logger := httplog.NewLogger("shortly", httplog.Options{
		JSON:    cfg.Env == config.EnvProd,
		Concise: cfg.Env != config.EnvProd,
	})

	g, ctx := errgroup.WithContext(ctx)

	db, err := pkgpostgres.Connect(ctx, pkgpostgres.Config{
		DSN:             cfg.Postgres.DSN(),
		ConnMaxIdleTime: cfg.Postgres.ConnMaxIdleTime,
		ConnMaxLifetime: cfg.Postgres.ConnMaxLifetime,
		MaxIdleConns:    cfg.Postgres.MaxIdleConns,
		MaxOpenConns:    cfg.Postgres.MaxOpenConns,
	})
	if err != nil {
		return err
	}

	if err := pkgpostgres.Migrate("file://migrations", cfg.Postgres.DSN()); err != nil {
		return err
	}

	redisClient, err := pkgredis.New(
		ctx,
		cfg.Redis.Addr(),
		pkgredis.WithPassword(cfg.Redis.Password),
		pkgredis.WithDB(cfg.Redis.DB),
		pkgredis.WithPoolSize(cfg.Redis.PoolSize),
	)
	if err != nil {
		return err
	}

	urlCache := cache.New(
		redisClient,
		cache.WithRedirectTTL(cfg.Cache.RedirectTTL),
		cache.WithSlugTTL(cfg.Cache.SlugTTL),
		cache.WithUserPagesTTL(cfg.Cache.UserPagesTTL),
		cache.WithOpTimeout(cfg.Cache.OpTimeout),
	)

	urlRepo := postgres.NewURLRepository(db)
	urlSvc := service.NewURLService(urlRepo, urlCache, logger.Logger,
		service.WithShortCodeLength(cfg.ShortCodeLength))

	syncJob := clicksync.New(urlCache, urlRepo, logger.Logger,
		clicksync.WithInterval(cfg.ClickSync.Interval))
	g.Go(func() error {
		return syncJob.Run(ctx)
	})

	r := myhttp.NewRouter(logger, urlSvc, cfg.BaseURL)

	server := &http.Server{
		Addr:           cfg.HTTPServer.Addr(),
		Handler:        r,
		ReadTimeout:    cfg.HTTPServer.ReadTimeout,
		WriteTimeout:   cfg.HTTPServer.WriteTimeout,
		IdleTimeout:    cfg.HTTPServer.IdleTimeout,
		MaxHeaderBytes: cfg.HTTPServer.MaxHeaderBytes,
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
	}

	g.Go(func() error {
		var err error

		switch cfg.Env {
		case config.EnvProd:
			err = server.ListenAndServeTLS(cfg.HTTPServer.CertFile, cfg.HTTPServer.KeyFile)
		default:
			err = server.ListenAndServe()
		}

		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}

		return nil
	})

	g.Go(func() error {
		<-ctx.Done()

		// Drain in-flight requests before closing anything they depend
		// on; the task queue, redis and the pool must outlive the server.
		err := server.Shutdown(context.Background())
		urlSvc.Close()
		redisClient.Close()
		db.Close()

		return err
	})

	return g.Wait()
}
