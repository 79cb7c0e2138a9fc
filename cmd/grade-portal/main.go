package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	_ "github.com/noah-isme/grade-portal/api/swagger"
	"github.com/noah-isme/grade-portal/internal/realtime"
	"github.com/noah-isme/grade-portal/internal/repository"
	"github.com/noah-isme/grade-portal/internal/service"
	"github.com/noah-isme/grade-portal/pkg/cache"
	"github.com/noah-isme/grade-portal/pkg/config"
	"github.com/noah-isme/grade-portal/pkg/database"
	"github.com/noah-isme/grade-portal/pkg/delivery"
	"github.com/noah-isme/grade-portal/pkg/jobs"
	"github.com/noah-isme/grade-portal/pkg/logger"
	"github.com/noah-isme/grade-portal/pkg/security"
	"github.com/noah-isme/grade-portal/pkg/storage"
)

// @title Grade Portal API
// @version 1.0.0
// @description Grade approval, guardian alerts and notifications for the university portal.
// @BasePath /api/v1
// @schemes http https
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.NewPostgres(ctx, cfg.Database)
	if err != nil {
		logr.Fatal("database unavailable", zap.Error(err))
	}
	defer db.Close()

	rdb, err := cache.NewRedis(ctx, cfg.Redis)
	if err != nil {
		logr.Warn("redis unavailable, running without grade cache and cross-instance push", zap.Error(err))
		rdb = nil
	} else {
		defer rdb.Close()
	}

	app, err := build(ctx, cfg, db, rdb, logr)
	if err != nil {
		logr.Fatal("failed to build application", zap.Error(err))
	}
	defer app.close()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           newRouter(cfg, app, logr),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logr.Sugar().Infow("server starting", "addr", srv.Addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	<-ctx.Done()
	logr.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Warn("graceful shutdown failed", zap.Error(err))
	}
}

// application holds the wired services and the resources that need closing.
type application struct {
	tokens        *service.TokenService
	metrics       *service.MetricsService
	grades        *service.GradeService
	students      *service.StudentService
	links         *service.LinkService
	alerts        *service.AlertService
	notifications *service.NotificationService
	reports       *service.ReportService
	sockets       *realtime.Upgrader
	db            pinger
	closers       []func()
}

type pinger interface {
	PingContext(ctx context.Context) error
}

func (a *application) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

func build(ctx context.Context, cfg *config.Config, db *sqlx.DB, rdb *redis.Client, logr *zap.Logger) (*application, error) {
	app := &application{db: db}
	metrics := service.NewMetricsService()
	app.metrics = metrics
	app.tokens = service.NewTokenService(cfg.JWT.Secret, cfg.JWT.Issuer)
	tx := database.NewTxManager(db)

	studentRepo := repository.NewStudentRepository(db)
	gradeRepo := repository.NewGradeRepository(db)
	linkRepo := repository.NewLinkRepository(db)
	parentRepo := repository.NewParentRepository(db)
	alertRepo := repository.NewAlertRepository(db)
	notificationRepo := repository.NewNotificationRepository(db)

	var cacheRepo service.CacheRepository
	if rdb != nil {
		cacheRepo = repository.NewCacheRepository(rdb, "grade-portal", logr)
	}
	gradeCache := service.NewGradeCacheService(cacheRepo, metrics, cfg.GradeCache.TTL, logr, cfg.GradeCache.Enabled && rdb != nil)

	var pusher service.Pusher
	if cfg.Realtime.Enabled {
		hub := realtime.NewHub(metrics, logr.Named("realtime"))
		hubCtx, cancelHub := context.WithCancel(ctx)
		go hub.Run(hubCtx)
		var publisher *realtime.Publisher
		if rdb != nil {
			publisher = realtime.NewPublisher(hub, rdb, cfg.Realtime.Channel, logr.Named("realtime"))
		} else {
			publisher = realtime.NewPublisher(hub, nil, cfg.Realtime.Channel, logr.Named("realtime"))
		}
		go func() {
			if err := publisher.Listen(hubCtx); err != nil {
				logr.Error("realtime listener stopped", zap.Error(err))
			}
		}()
		pusher = publisher
		app.sockets = realtime.NewUpgrader(hub, cfg.CORS.AllowedOrigins)
		app.closers = append(app.closers, cancelHub)
	}

	dispatcher, closeDelivery, err := newDispatcher(cfg, metrics, logr.Named("delivery"))
	if err != nil {
		return nil, err
	}
	app.closers = append(app.closers, closeDelivery)

	fanout := service.NewFanoutService(tx, linkRepo, alertRepo, notificationRepo, dispatcher, logr.Named("fanout"),
		service.WithFanoutMetrics(metrics),
		service.WithDeliveryTimeout(cfg.Delivery.Timeout),
		service.WithPusher(pusher),
	)
	if cfg.Delivery.Async {
		// fanout is its own queue handler.
		queue := jobs.NewQueue("guardian-delivery", fanout.HandleDeliveryJob, jobs.QueueConfig{
			Workers:    cfg.Delivery.Workers,
			MaxRetries: cfg.Delivery.Retries,
			RetryDelay: 2 * time.Second,
			Logger:     logr.Named("jobs"),
			OnDiscard: func(job jobs.Job, err error) {
				metrics.RecordFanoutFailure()
			},
		})
		service.WithDeliveryQueue(queue)(fanout)
		queue.Start(ctx)
		app.closers = append(app.closers, queue.Stop)
	}

	store, err := storage.NewAttachmentStore(cfg.Attachments.StorageDir, cfg.Attachments.MaxFileSizeBytes)
	if err != nil {
		return nil, fmt.Errorf("attachment storage: %w", err)
	}
	signer := storage.NewURLSigner(cfg.Attachments.SignedURLSecret, cfg.Attachments.SignedURLTTL)

	app.grades = service.NewGradeService(tx, gradeRepo, studentRepo, linkRepo, fanout, gradeCache, metrics, nil, logr.Named("grades"))
	app.students = service.NewStudentService(tx, studentRepo, service.StudentPurgers{
		Grades:        gradeRepo,
		Alerts:        alertRepo,
		Notifications: notificationRepo,
		Links:         linkRepo,
	}, gradeCache, nil, logr.Named("students"))
	app.links = service.NewLinkService(tx, linkRepo, parentRepo, studentRepo, fanout, security.NewPasswordHasher(0), nil, logr.Named("links"))
	app.alerts = service.NewAlertService(gradeRepo, studentRepo, linkRepo, alertRepo, metrics, logr.Named("alerts"))
	app.notifications = service.NewNotificationService(notificationRepo, studentRepo, parentRepo, service.NotificationServiceConfig{
		Files:    store,
		Signer:   signer,
		FilesURL: cfg.APIPrefix + "/files",
		Pusher:   pusher,
		Metrics:  metrics,
	}, nil, logr.Named("notifications"))
	app.reports = service.NewReportService(gradeRepo, studentRepo, linkRepo, logr.Named("reports"))
	return app, nil
}

// newDispatcher selects the configured email and sms channels.
func newDispatcher(cfg *config.Config, metrics *service.MetricsService, logr *zap.Logger) (*delivery.Dispatcher, func(), error) {
	closeFn := func() {}

	var email delivery.Channel = delivery.NewLogChannel(delivery.ChannelEmail, logr)
	if cfg.Email.Provider == "sendgrid" {
		if cfg.Email.APIKey == "" {
			return nil, nil, errors.New("SENDGRID_API_KEY is required when EMAIL_PROVIDER=sendgrid")
		}
		email = delivery.NewSendGridEmail(cfg.Email.APIKey, cfg.Email.FromName, cfg.Email.FromAddress, "")
	}

	var sms delivery.Channel = delivery.NewLogChannel(delivery.ChannelSMS, logr)
	if cfg.SMS.Provider == "rabbitmq" {
		publisher, err := delivery.NewAMQPSMS(cfg.SMS.AMQPURL, cfg.SMS.Queue)
		if err != nil {
			return nil, nil, fmt.Errorf("sms gateway: %w", err)
		}
		sms = publisher
		closeFn = func() {
			if err := publisher.Close(); err != nil {
				logr.Warn("closing sms gateway", zap.Error(err))
			}
		}
	}

	breaker := delivery.BreakerSettings{MaxFailures: cfg.Breaker.MaxFailures, OpenTimeout: cfg.Breaker.OpenTimeout}
	return delivery.NewDispatcher(email, sms, cfg.Delivery.Timeout, breaker, logr, metrics.RecordDelivery), closeFn, nil
}
