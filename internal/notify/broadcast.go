package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"tienda/internal/model"
)

// Broadcaster publishes order status changes for realtime consumers:
// storefront pages polling an order and admin dashboards.
type Broadcaster interface {
	OrderStatusChanged(ctx context.Context, change model.StatusChangedPayload) error
}

type redisBroadcaster struct {
	rdb    *redis.Client
	logger zerolog.Logger
}

// NewRedisBroadcaster publishes changes on redis pub/sub. Each change
// goes to the per-order channel and to the admin firehose.
func NewRedisBroadcaster(rdb *redis.Client, logger zerolog.Logger) Broadcaster {
	return &redisBroadcaster{
		rdb:    rdb,
		logger: logger.With().Str("service", "broadcaster").Logger(),
	}
}

func (b *redisBroadcaster) OrderStatusChanged(ctx context.Context, change model.StatusChangedPayload) error {
	data, err := json.Marshal(change)
	if err != nil {
		return fmt.Errorf("marshal status change: %w", err)
	}

	channels := []string{
		"orders." + change.OrderID.String(),
		"admin.orders",
	}
	for _, ch := range channels {
		if err := b.rdb.Publish(ctx, ch, data).Err(); err != nil {
			return fmt.Errorf("publish to %s: %w", ch, err)
		}
	}

	b.logger.Debug().
		Str("order_id", change.OrderID.String()).
		Str("status", string(change.Status)).
		Msg("status change broadcast")
	return nil
}

// NopBroadcaster drops every change. Used when redis is not configured.
type NopBroadcaster struct{}

func (NopBroadcaster) OrderStatusChanged(context.Context, model.StatusChangedPayload) error {
	return nil
}
