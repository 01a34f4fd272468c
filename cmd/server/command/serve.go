package command

import (
	"context"
	"net/http"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/iliyamo/virtual-queue/internal/config"
	"github.com/iliyamo/virtual-queue/internal/dashboard"
	"github.com/iliyamo/virtual-queue/internal/database"
	"github.com/iliyamo/virtual-queue/internal/engine"
	"github.com/iliyamo/virtual-queue/internal/handler"
	"github.com/iliyamo/virtual-queue/internal/qr"
	"github.com/iliyamo/virtual-queue/internal/queue"
	"github.com/iliyamo/virtual-queue/internal/repository"
	"github.com/iliyamo/virtual-queue/internal/router"
	"github.com/iliyamo/virtual-queue/internal/service"
	"github.com/iliyamo/virtual-queue/internal/tasks"
	"github.com/iliyamo/virtual-queue/internal/ws"
)

const (
	deliveryTimeout = 5 * time.Second
	shutdownTimeout = 10 * time.Second
)

type Serve struct {
	Logger *logrus.Logger
}

func (cmd Serve) Command(ctx context.Context, cfg config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "run the HTTP API, notification workers and scheduler",
		Run: func(_ *cobra.Command, _ []string) {
			if err := cmd.main(ctx, cfg); err != nil {
				cmd.Logger.WithContext(ctx).Fatal(err)
			}
		},
	}
}

func (cmd Serve) main(ctx context.Context, cfg config.Config) error {
	log := cmd.Logger

	db, err := database.Open(ctx, cfg.DB)
	if err != nil {
		return errors.Wrap(err, "serve: failed to connect to mysql")
	}
	defer db.Close()

	ready := map[string]handler.Pinger{"mysql": db}
	var (
		tokens qr.Store
		purger tasks.Purger
	)
	rdb := config.NewRedisClient(ctx, cfg.Redis)
	if rdb != nil {
		defer rdb.Close()
		tokens = qr.NewRedisStore(rdb, cfg.App.QRTokenTTL, "qr")
		ready["redis"] = redisPinger{rdb}
	} else {
		log.WithField("addr", cfg.Redis.Address()).Warn("redis unavailable: qr tokens kept in memory, rate limit and cache off")
		mem := qr.NewMemoryStore(cfg.App.QRTokenTTL)
		tokens, purger = mem, mem
	}

	// Events go to the log and, through RabbitMQ when configured, to the
	// websocket hub and the notification log.  Without a broker the hub is
	// fed directly.
	hub := ws.NewHub(log)
	sinks := []service.Sink{service.LogSink{Log: log}}
	var consumer *queue.Consumer
	if cfg.Broker.URL != "" {
		pub := service.NewPublisher(cfg.Broker.URL, cfg.Broker.Exchange, log)
		defer pub.Close()
		sinks = append(sinks, pub)
		notifications := &queue.FileLog{Path: cfg.Broker.NotificationLog}
		consumer = &queue.Consumer{
			URL:       cfg.Broker.URL,
			Exchange:  cfg.Broker.Exchange,
			QueueName: cfg.Broker.NotificationsQueue,
			Handlers:  []queue.Handler{hub.Send, notifications.Handle},
			Log:       log,
		}
	} else {
		sinks = append(sinks, hub)
	}
	dispatcher := service.NewDispatcher(log, cfg.Broker.DispatchBuffer, deliveryTimeout, sinks...)

	// create repositories
	users := repository.NewUserRepo(db)
	refreshTokens := repository.NewTokenRepo(db)
	establishments := repository.NewEstablishmentRepo(db)
	queues := repository.NewQueueRepo(db)

	eng := engine.New(queues,
		engine.WithNotifier(dispatcher),
		engine.WithResolver(tokens),
		engine.WithLogger(log),
		engine.WithRetry(cfg.Engine.RetryAttempts, engine.Jittered{Initial: cfg.Engine.RetryInitial, Max: cfg.Engine.RetryMax}),
	)
	views := dashboard.New(queues, dashboard.Config{
		AlertThreshold: cfg.Dashboard.AlertThreshold,
		AvgService:     cfg.Dashboard.AvgService,
		HistoryLimit:   cfg.Dashboard.HistoryLimit,
	})
	scheduler, err := tasks.New(cfg.Tasks, queues, eng, purger, log)
	if err != nil {
		return errors.Wrap(err, "serve: failed to schedule tasks")
	}

	e := router.New(cfg, router.Handlers{
		Auth:           handler.NewAuthHandler(cfg.App, users, refreshTokens),
		Establishments: handler.NewEstablishmentHandler(establishments, users),
		Queues:         handler.NewQueueHandler(queues, establishments, eng, tokens),
		Dashboard:      handler.NewDashboardHandler(views),
		Live:           hub.Serve,
		Users:          users,
		Ready:          ready,
	}, rdb, log)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return dispatcher.Run(gctx) })
	g.Go(func() error { return hub.Run(gctx) })
	g.Go(func() error { return scheduler.Run(gctx) })
	if consumer != nil {
		g.Go(func() error { return consumer.Run(gctx) })
	}
	g.Go(func() error {
		addr := ":" + cfg.App.Port
		log.WithFields(logrus.Fields{"addr": addr, "env": cfg.App.Env}).Info("http server listening")
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "http server")
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		log.Info("shutting down http server")
		return e.Shutdown(sctx)
	})
	return g.Wait()
}

// redisPinger lets the readiness probe ping Redis.
type redisPinger struct{ rdb *redis.Client }

func (p redisPinger) PingContext(ctx context.Context) error { return p.rdb.Ping(ctx).Err() }
