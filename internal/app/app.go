package app

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"

	"survey-platform/internal/audit"
	"survey-platform/internal/calls"
	"survey-platform/internal/config"
	"survey-platform/internal/dedupe"
	"survey-platform/internal/httpapi"
	"survey-platform/internal/metrics"
	"survey-platform/internal/priority"
	"survey-platform/internal/queue"
	"survey-platform/internal/reconcile"
	"survey-platform/internal/reporting"
	"survey-platform/internal/reports"
	"survey-platform/internal/responses"
	"survey-platform/internal/rules"
	"survey-platform/internal/storage"
	"survey-platform/internal/telephony"
	"survey-platform/pkg/utils"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
)

// App holds every wired service. Both the API process and surveyctl build one.
type App struct {
	Config config.Config

	Mongo    *mongo.Client
	Postgres *sql.DB
	Redis    *redis.Client

	Metrics    *metrics.Collector
	Audit      *audit.Service
	Priorities *priority.Index
	Queue      *queue.Service
	Calls      calls.Repository
	Responses  *responses.Service
	Rules      *rules.Engine
	Dedupe     *dedupe.Detector
	Reporting  *reporting.Service
	Store      storage.Store
	Reports    *reports.Generator

	Providers  *telephony.Registry
	Reconciler *reconcile.Reconciler
	Dialer     *reconcile.Dialer
}

// Open connects the stores and wires the services on top of them.
// The caller owns Close.
func Open(ctx context.Context, cfg config.Config, log *slog.Logger) (*App, error) {
	a := &App{Config: cfg, Metrics: metrics.New()}
	ok := false
	defer func() {
		if !ok {
			a.Close(context.Background())
		}
	}()

	var (
		mdb *mongo.Database
		err error
	)
	a.Mongo, mdb, err = utils.OpenMongo(ctx, utils.MongoConfig{URI: cfg.Mongo.URI, Database: cfg.Mongo.Database})
	if err != nil {
		return nil, fmt.Errorf("mongo: %w", err)
	}
	a.Postgres, err = utils.OpenPostgres(ctx, "pgx", cfg.PostgresDSN(), utils.PostgresPoolConfig{})
	if err != nil {
		return nil, fmt.Errorf("postgres: %w", err)
	}
	a.Redis, err = utils.OpenRedis(ctx, utils.RedisConfig{Addr: cfg.RedisAddr(), Password: cfg.Redis.Password})
	if err != nil {
		return nil, fmt.Errorf("redis: %w", err)
	}

	auditRepo := audit.NewPostgresRepo(a.Postgres)
	if err := auditRepo.EnsureSchema(ctx); err != nil {
		return nil, fmt.Errorf("audit schema: %w", err)
	}
	a.Audit = audit.NewService(auditRepo)

	queueRepo := queue.NewMongoRepo(mdb)
	callRepo := calls.NewMongoRepo(mdb)
	respRepo := responses.NewMongoRepo(mdb)
	for name, ix := range map[string]interface {
		EnsureIndexes(context.Context) error
	}{"queue": queueRepo, "calls": callRepo, "responses": respRepo} {
		if err := ix.EnsureIndexes(ctx); err != nil {
			return nil, fmt.Errorf("%s indexes: %w", name, err)
		}
	}

	a.Priorities = priority.NewIndex(priority.RedisLoader{
		Client: a.Redis,
		TTL:    cfg.Priority.TTL,
		Source: priority.FileLoader{Path: cfg.Priority.Source},
	}, cfg.Priority.TTL)

	a.Queue = queue.NewService(queueRepo, a.Priorities)
	a.Queue.SetObserver(queue.Observers{a.Metrics, queue.AuditObserver{Audit: a.Audit}})
	a.Calls = callRepo

	rulesCfg := rules.ConfigFrom(cfg.Rules)
	if cfg.Rules.SurveyRulesPath != "" {
		if rulesCfg.Surveys, err = rules.LoadSurveyRules(cfg.Rules.SurveyRulesPath); err != nil {
			return nil, err
		}
	}
	var points rules.PointResolver
	if cfg.Rules.SamplingPointsPath != "" {
		sp, err := rules.LoadSamplingPoints(cfg.Rules.SamplingPointsPath)
		if err != nil {
			return nil, err
		}
		points = sp
	}
	a.Rules = rules.NewEngine(rulesCfg, respRepo, points)

	a.Responses = responses.NewService(respRepo, a.Rules, a.Queue)
	a.Responses.Audit = a.Audit
	a.Responses.Metrics = a.Metrics
	a.Dedupe = dedupe.NewDetector(a.Responses, a.Responses, dedupe.Options{})

	a.Reporting = reporting.NewService(reporting.StoreRepo{Calls: callRepo, Responses: a.Responses, Queue: a.Queue})

	if cfg.Storage.Bucket != "" {
		if a.Store, err = storage.OpenS3(ctx, cfg.Storage); err != nil {
			return nil, fmt.Errorf("s3: %w", err)
		}
	} else {
		log.Warn("S3_BUCKET not set, recordings and reports are kept in memory")
		a.Store = storage.NewMemoryStore()
	}
	a.Reports = reports.NewGenerator(cfg.Reports.GeneratorPath, a.Store)
	a.Reports.Template = cfg.Reports.TemplatePath
	a.Reports.Timeout = cfg.Reports.Timeout
	a.Reports.URLTTL = cfg.Storage.URLTTL

	httpClient := &http.Client{}
	a.Providers = telephony.NewRegistry(cfg.Telephony.DefaultProvider)
	a.Providers.Register(telephony.NewDeepCallProvider(cfg.Telephony, httpClient), telephony.NewDeepCallNormalizer())
	a.Providers.Register(telephony.NewCloudTelephonyProvider(cfg.Telephony, httpClient), telephony.NewCloudTelephonyNormalizer())

	callCap := reconcile.RedisCallCap{Client: a.Redis, Limit: cfg.Telephony.MaxActiveCallsPerInterviewer}

	a.Reconciler = reconcile.NewReconciler(callRepo, a.Queue)
	a.Reconciler.Archiver = storage.NewRecordingArchiver(a.Store)
	a.Reconciler.Audit = a.Audit
	a.Reconciler.Cap = callCap
	a.Reconciler.Metrics = a.Metrics

	a.Dialer = reconcile.NewDialer(a.Queue, callRepo, a.Providers)
	a.Dialer.Cap = callCap
	a.Dialer.Metrics = a.Metrics
	a.Dialer.CallbackBase = cfg.Telephony.CallbackBaseURL

	ok = true
	return a, nil
}

// Handlers returns the HTTP handlers backed by this App.
func (a *App) Handlers() httpapi.Handlers {
	return httpapi.Handlers{
		Queue:     a.Queue,
		Dialer:    a.Dialer,
		Responses: a.Responses,
		Calls:     a.Calls,
		Store:     a.Store,
		Dedupe:    a.Dedupe,
		Reporting: a.Reporting,
		Audit:     a.Audit,
		URLTTL:    a.Config.Storage.URLTTL,
	}
}

// Webhooks returns the vendor webhook handler feeding the reconciler.
func (a *App) Webhooks() telephony.WebhookHandler {
	return telephony.WebhookHandler{
		Registry: a.Providers,
		Sink:     a.Reconciler,
		Metrics:  a.Metrics,
	}
}

func (a *App) Close(ctx context.Context) {
	if a.Redis != nil {
		_ = a.Redis.Close()
	}
	if a.Postgres != nil {
		_ = a.Postgres.Close()
	}
	if a.Mongo != nil {
		_ = a.Mongo.Disconnect(ctx)
	}
}
