package bootstrap

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/kirillkom/document-pipeline/internal/config"
	"github.com/kirillkom/document-pipeline/internal/core/domain"
	"github.com/kirillkom/document-pipeline/internal/core/ports"
	"github.com/kirillkom/document-pipeline/internal/core/usecase"
	"github.com/kirillkom/document-pipeline/internal/infrastructure/events/nats"
	"github.com/kirillkom/document-pipeline/internal/infrastructure/generation/httpapi"
	"github.com/kirillkom/document-pipeline/internal/infrastructure/resilience"
	"github.com/kirillkom/document-pipeline/internal/infrastructure/spreadsheet/excel"
	"github.com/kirillkom/document-pipeline/internal/infrastructure/storage/localfs"
	"github.com/kirillkom/document-pipeline/internal/observability/metrics"
)

type App struct {
	Config config.Config
	Logger *slog.Logger

	Service   ports.GenerationService
	Pipelines *usecase.PipelineFactory
	Viewer    *usecase.DocumentViewer
	Metrics   *metrics.HTTPServerMetrics
	// Events is nil when NATS_URL is unset.
	Events *nats.Publisher

	closeFn func()
}

type Option func(*options)

type options struct {
	navigator ports.ViewerNavigator
	service   string
}

// WithNavigator replaces the default navigator, which only logs viewer requests.
func WithNavigator(navigator ports.ViewerNavigator) Option {
	return func(o *options) { o.navigator = navigator }
}

// WithServiceName sets the service label on metrics.
func WithServiceName(name string) Option {
	return func(o *options) {
		if name != "" {
			o.service = name
		}
	}
}

func New(_ context.Context, cfg config.Config, logger *slog.Logger, opts ...Option) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	o := options{service: "pipeline-api"}
	for _, opt := range opts {
		opt(&o)
	}
	if o.navigator == nil {
		o.navigator = LogNavigator{Logger: logger}
	}

	httpMetrics := metrics.NewHTTPServerMetrics(o.service)
	pipelineMetrics := metrics.NewPipelineMetrics(o.service, httpMetrics.Registry())

	retryCfg := resilienceConfig(cfg)
	if budget := retryCfg.RetryBudget(); budget >= cfg.PollInterval() {
		logger.Warn("retry_budget_exceeds_poll_interval",
			"retry_budget_ms", budget.Milliseconds(),
			"poll_interval_ms", cfg.PollInterval().Milliseconds(),
		)
	}
	executor := resilience.NewExecutor(
		retryCfg,
		resilience.WithLogger(logger),
		resilience.WithStateObserver(pipelineMetrics.ObserveBreaker),
	)
	service := httpapi.New(cfg.GenerationBaseURL, httpapi.Options{
		Timeout:      time.Duration(cfg.GenerationTimeoutMS) * time.Millisecond,
		APIToken:     cfg.GenerationAPIToken,
		TriggerRPS:   cfg.TriggerRPS,
		TriggerBurst: cfg.TriggerBurst,
		Executor:     executor,
	})

	var archive ports.ObjectStorage
	if cfg.ArchiveEnabled {
		storage, err := localfs.New(cfg.StoragePath)
		if err != nil {
			return nil, fmt.Errorf("init document archive: %w", err)
		}
		archive = storage
	}

	var publisher ports.SnapshotPublisher = nats.NopPublisher{}
	var events *nats.Publisher
	if cfg.NATSURL != "" {
		p, err := nats.New(cfg.NATSURL, nats.Options{
			SubjectPrefix:      cfg.NATSSubjectPrefix,
			ResilienceExecutor: executor,
			Logger:             logger,
		})
		if err != nil {
			return nil, fmt.Errorf("init status events: %w", err)
		}
		publisher = p
		events = p
	}

	tracker := usecase.NewStatusTracker(service, publisher, pipelineMetrics, logger)
	scheduler := usecase.NewPollingScheduler(tracker, cfg.PollInterval(), logger)
	pipelines := usecase.NewPipelineFactory(usecase.PipelineDeps{
		Tracker:   tracker,
		Scheduler: scheduler,
		Generator: service,
		Remover:   service,
		Navigator: o.navigator,
		Observer:  pipelineMetrics,
		OwnerID:   cfg.OwnerID,
		Logger:    logger,
	})
	decoder := excel.NewDecoder(int64(cfg.DecoderUnzipLimitMB) << 20)
	viewer := usecase.NewDocumentViewer(service, decoder, archive, pipelineMetrics, logger)

	return &App{
		Config:    cfg,
		Logger:    logger,
		Service:   service,
		Pipelines: pipelines,
		Viewer:    viewer,
		Metrics:   httpMetrics,
		Events:    events,

		closeFn: func() {
			if events != nil {
				events.Close()
			}
		},
	}, nil
}

func (a *App) Close() {
	if a.closeFn != nil {
		a.closeFn()
	}
}

func resilienceConfig(cfg config.Config) resilience.Config {
	rc := resilience.DefaultConfig()
	rc.RetryMaxAttempts = cfg.RetryMaxAttempts
	rc.RetryInitialBackoff = time.Duration(cfg.RetryInitialBackoffMS) * time.Millisecond
	rc.RetryMaxBackoff = time.Duration(cfg.RetryMaxBackoffMS) * time.Millisecond
	rc.BreakerEnabled = cfg.BreakerEnabled
	if cfg.BreakerMinRequests > 0 {
		rc.BreakerMinRequests = uint32(cfg.BreakerMinRequests)
	}
	rc.BreakerFailureRatio = cfg.BreakerFailureRatio
	rc.BreakerOpenTimeout = time.Duration(cfg.BreakerOpenTimeoutMS) * time.Millisecond
	return rc
}

// LogNavigator records viewer requests. Headless processes have no screen to navigate.
type LogNavigator struct {
	Logger *slog.Logger
}

func (n LogNavigator) OpenViewer(projectID string, docType domain.DocumentType, documentID string) {
	n.Logger.Info("viewer_opened", "project_id", projectID, "document_type", docType.String(), "document_id", documentID)
}
