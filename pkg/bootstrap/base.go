package bootstrap

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"

	"crmflow/internal/broker"
	"crmflow/internal/config"
	"crmflow/internal/logger"
	"crmflow/pkg/health"
	"crmflow/pkg/migrations"
	"crmflow/pkg/retry"
)

// Base holds the connections every process of the pipeline shares.
type Base struct {
	Config    *config.Config
	Logger    logger.Logger
	Redis     *redis.Client
	Mongo     *mongo.Client
	DB        *mongo.Database
	Transport broker.Transport
	Health    *health.CheckerRegistry

	dbConnector *DatabaseConnector
}

func NewBase(cfg *config.Config, log logger.Logger) *Base {
	return &Base{
		Config:      cfg,
		Logger:      log,
		Health:      health.NewCheckerRegistry(),
		dbConnector: NewDatabaseConnector(cfg, log),
	}
}

// InitStorage connects Redis and MongoDB and, when enabled, creates the
// collection indexes.
func (b *Base) InitStorage(ctx context.Context) error {
	rdb, err := b.dbConnector.InitRedis(ctx)
	if err != nil {
		return err
	}
	b.Redis = rdb
	b.Health.Register(health.NewRedisChecker(rdb))

	client, err := b.dbConnector.InitMongoDB(ctx)
	if err != nil {
		return err
	}
	b.Mongo = client
	b.DB = b.dbConnector.Database(client)
	b.Health.Register(health.NewMongoDBChecker(client))

	if b.Config.Database.RunMigrations {
		if err := migrations.EnsureIndexes(ctx, b.DB); err != nil {
			return fmt.Errorf("failed to ensure indexes: %w", err)
		}
		b.Logger.Info("MongoDB indexes ensured")
	}
	return nil
}

// InitBroker builds the stream transport on top of the shared Redis client.
func (b *Base) InitBroker() error {
	t, err := broker.NewTransport(b.Config, b.Redis)
	if err != nil {
		return fmt.Errorf("failed to create transport: %w", err)
	}
	b.Transport = t
	return nil
}

// StreamGroup names one consumer group on one stream.
type StreamGroup struct {
	Stream string
	Group  string
}

// EnsureGroups creates the consumer groups up front, retrying with the
// startup policy so a Redis that is still loading does not fail the process.
func (b *Base) EnsureGroups(ctx context.Context, groups ...StreamGroup) error {
	for _, g := range groups {
		err := retry.RetryWithCallback(ctx, b.dbConnector.Policy, func() error {
			return b.Transport.EnsureGroup(ctx, g.Stream, g.Group)
		}, b.dbConnector.onRetry(g.Stream+"/"+g.Group))
		if err != nil {
			return fmt.Errorf("failed to create consumer group %s on %s: %w", g.Group, g.Stream, err)
		}
	}
	return nil
}

func (b *Base) ShutdownBroker() []error {
	if b.Transport == nil {
		return nil
	}
	if err := b.Transport.Close(); err != nil {
		return []error{fmt.Errorf("transport close error: %w", err)}
	}
	return nil
}

func (b *Base) Shutdown(ctx context.Context, additionalShutdown func(ctx context.Context) []error) error {
	b.Logger.Info("Shutting down application...")

	var errs []error

	if additionalShutdown != nil {
		errs = append(errs, additionalShutdown(ctx)...)
	}

	errs = append(errs, b.ShutdownBroker()...)
	errs = append(errs, b.dbConnector.ShutdownDatabases(ctx, b.Redis, b.Mongo)...)

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %v", errs)
	}

	b.Logger.Info("Application exited successfully")
	return nil
}
