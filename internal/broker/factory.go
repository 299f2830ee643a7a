package broker

import (
	"fmt"

	"github.com/redis/go-redis/v9"

	"crmflow/internal/config"
	"crmflow/internal/constants"
)

// NewTransport builds the transport selected by broker.type. client may be
// nil, in which case a dedicated connection is opened from the database config.
func NewTransport(cfg *config.Config, client *redis.Client) (Transport, error) {
	switch cfg.Broker.Type {
	case constants.BrokerTypeRedis:
		if client != nil {
			return NewRedisTransport(client), nil
		}
		t := NewRedisTransport(redis.NewClient(&redis.Options{
			Addr:     fmt.Sprintf("%s:%d", cfg.Database.Redis.Host, cfg.Database.Redis.Port),
			Password: cfg.Database.Redis.Password,
			DB:       cfg.Database.Redis.DB,
		}))
		t.owned = true
		return t, nil
	default:
		return nil, fmt.Errorf("unknown broker type: %s", cfg.Broker.Type)
	}
}
