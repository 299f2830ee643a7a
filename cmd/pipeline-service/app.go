package main

import (
	"context"
	"fmt"
	"net/http"

	"golang.org/x/sync/errgroup"

	"crmflow/internal/api"
	"crmflow/internal/campaign"
	"crmflow/internal/communication"
	"crmflow/internal/config"
	"crmflow/internal/constants"
	"crmflow/internal/customer"
	"crmflow/internal/logger"
	"crmflow/internal/order"
	"crmflow/internal/publisher"
	"crmflow/internal/segment"
	"crmflow/internal/vendor"
	"crmflow/pkg/bootstrap"
	"crmflow/pkg/logging"
	"crmflow/pkg/metrics"
	"crmflow/pkg/ratelimit"
	"crmflow/pkg/tracing"
)

type App struct {
	*bootstrap.Base
	tracerProvider *tracing.TracerProvider
	server         *http.Server
	limiterCancel  context.CancelFunc

	customerRepo *customer.MongoRepository
	commRepo     *communication.MongoRepository
	campaignRepo *campaign.MongoRepository

	customers     *customer.Consumer
	orders        *order.Consumer
	communication *communication.Consumer
	orchestrator  *campaign.Orchestrator
}

func NewApp(cfg *config.Config, log logger.Logger) *App {
	if sugaredLogger, ok := log.(*logger.SugaredLogger); ok {
		sugaredLogger.SetServiceName(constants.ServiceName)
	}
	return &App{
		Base: bootstrap.NewBase(cfg, log),
	}
}

func (a *App) Initialize(ctx context.Context) error {
	tp, err := tracing.Init(a.Config.Tracing, constants.ServiceName, a.Config.Broker.Redis.ConsumerName)
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}
	a.tracerProvider = tp

	metrics.RegisterStreamMetrics()
	metrics.RegisterConsumerMetrics()
	metrics.RegisterCampaignMetrics()
	metrics.RegisterAPIMetrics()
	if a.Config.CircuitBreaker.Enabled {
		metrics.RegisterCircuitBreakerMetrics()
	}

	if err := a.InitStorage(ctx); err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}

	if err := a.InitBroker(); err != nil {
		return fmt.Errorf("failed to initialize broker: %w", err)
	}

	if err := a.initConsumers(ctx); err != nil {
		return fmt.Errorf("failed to initialize consumers: %w", err)
	}

	if err := a.initHTTPServer(ctx); err != nil {
		return fmt.Errorf("failed to initialize HTTP server: %w", err)
	}

	return nil
}

func (a *App) initConsumers(ctx context.Context) error {
	streamCfg := a.Config.Broker.Redis
	pipeline := a.Config.Pipeline

	a.customerRepo = customer.NewMongoRepository(a.DB)
	a.commRepo = communication.NewMongoRepository(a.DB)
	a.campaignRepo = campaign.NewMongoRepository(a.DB)
	orderRepo := order.NewMongoRepository(a.DB)

	var groups []bootstrap.StreamGroup
	if pipeline.Customer.Enabled {
		a.customers = customer.NewConsumer(a.Transport, a.customerRepo, pipeline.Customer, streamCfg, a.Logger)
		groups = append(groups, bootstrap.StreamGroup{Stream: constants.CustomerStream, Group: groupOr(pipeline.Customer.Group, constants.CustomerGroup)})
	}
	if pipeline.Order.Enabled {
		a.orders = order.NewConsumer(a.Transport, orderRepo, a.customerRepo, pipeline.Order, streamCfg, a.Logger)
		groups = append(groups, bootstrap.StreamGroup{Stream: constants.OrderStream, Group: groupOr(pipeline.Order.Group, constants.OrderGroup)})
	}
	if pipeline.Communication.Enabled {
		a.communication = communication.NewConsumer(a.Transport, a.commRepo, pipeline.Communication, streamCfg, a.Logger)
		groups = append(groups, bootstrap.StreamGroup{Stream: constants.CommunicationStream, Group: groupOr(pipeline.Communication.Group, constants.CommunicationGroup)})
	}

	if err := a.EnsureGroups(ctx, groups...); err != nil {
		return err
	}

	var sender vendor.Sender = vendor.NewSimulator(a.Config.Vendor)
	if a.Config.CircuitBreaker.Enabled {
		sender = vendor.NewCircuitBreakerSender(sender, a.Config.CircuitBreaker)
	}

	pub := publisher.New(a.Transport, a.Logger)
	a.orchestrator = campaign.NewOrchestrator(a.commRepo, sender, pub, a.Config.Campaign, a.Logger,
		campaign.WithCampaignRepository(a.campaignRepo),
	)
	return nil
}

func groupOr(group, fallback string) string {
	if group == "" {
		return fallback
	}
	return group
}

func (a *App) initHTTPServer(ctx context.Context) error {
	validator, err := segment.NewValidator()
	if err != nil {
		return fmt.Errorf("failed to build segment validator: %w", err)
	}

	evaluator := segment.NewMongoEvaluator(a.customerRepo, validator)
	svc := campaign.NewService(a.campaignRepo, evaluator, a.orchestrator, a.commRepo,
		a.Config.Campaign.PreviewSample, a.Logger)

	opts := api.RouterOptions{Swagger: a.Config.Server.SwaggerEnabled}
	if a.Config.API.RateLimit.Enabled {
		limiterCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		a.limiterCancel = cancel
		opts.RateLimiter = ratelimit.NewPerClient(limiterCtx, ratelimit.FromConfig(a.Config.API.RateLimit))
	}
	if a.Config.Tracing.Enabled {
		opts.TracingService = constants.ServiceName
	}

	handler := api.NewHandler(svc, publisher.New(a.Transport, a.Logger), a.Health, a.Logger)
	a.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", a.Config.Server.Port),
		Handler:      api.NewRouter(handler, a.Logger, opts),
		ReadTimeout:  a.Config.Server.ReadTimeoutSeconds,
		WriteTimeout: a.Config.Server.WriteTimeoutSeconds,
	}
	return nil
}

// Run blocks until ctx is cancelled or a component fails. Consumers flush
// their buffers on the way out.
func (a *App) Run(ctx context.Context) error {
	g, gCtx := errgroup.WithContext(ctx)

	if a.server != nil {
		g.Go(func() error {
			a.Logger.InfowCtx(ctx, "HTTP server starting", "port", a.Config.Server.Port)
			if err := a.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				return fmt.Errorf("HTTP server error: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gCtx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gCtx), constants.ShutdownTimeout)
			defer cancel()
			return a.server.Shutdown(shutdownCtx)
		})
	}

	if a.customers != nil {
		g.Go(func() error { return a.customers.Run(gCtx) })
	}
	if a.orders != nil {
		g.Go(func() error { return a.orders.Run(gCtx) })
	}
	if a.communication != nil {
		g.Go(func() error { return a.communication.Run(gCtx) })
	}

	return g.Wait()
}

func (a *App) Shutdown(ctx context.Context) error {
	shutdownCtx := logging.WithServiceName(ctx, constants.ServiceName)
	a.Logger.InfowCtx(shutdownCtx, "Shutting down pipeline service")

	additionalShutdown := func(ctx context.Context) []error {
		var errs []error

		if a.orchestrator != nil {
			a.orchestrator.Close()
		}

		if a.limiterCancel != nil {
			a.limiterCancel()
		}

		if a.tracerProvider != nil {
			if err := a.tracerProvider.Shutdown(ctx); err != nil {
				errs = append(errs, fmt.Errorf("tracer provider shutdown error: %w", err))
			}
		}

		return errs
	}

	return a.Base.Shutdown(ctx, additionalShutdown)
}
