package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"tychoscope/internal/model"
)

const latestTTL = 10 * time.Minute

// Publisher publishes reports on a channel and keeps the latest quote per component.
type Publisher struct {
	client  redis.UniversalClient
	channel string
}

// New connects to addr and verifies the connection.
func New(ctx context.Context, addr, channel string) (*Publisher, error) {
	if addr == "" {
		return nil, fmt.Errorf("redis addr is required")
	}
	if channel == "" {
		return nil, fmt.Errorf("redis channel is required")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	return NewWithClient(client, channel), nil
}

func NewWithClient(client redis.UniversalClient, channel string) *Publisher {
	return &Publisher{client: client, channel: channel}
}

// PutReport publishes the report and stores each component quote under latest:<exchange>:<component>.
func (p *Publisher) PutReport(ctx context.Context, report model.Report) error {
	data, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("marshal report: %w", err)
	}

	pipe := p.client.Pipeline()
	pipe.Publish(ctx, p.channel, data)
	for _, ex := range report.Exchanges {
		for _, c := range ex.Components {
			if c.Quote == nil {
				continue
			}
			quote, err := json.Marshal(c.Quote)
			if err != nil {
				return fmt.Errorf("marshal quote: %w", err)
			}
			pipe.Set(ctx, LatestKey(ex.Exchange, c.ID), quote, latestTTL)
		}
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("publish report: %w", err)
	}
	return nil
}

func (p *Publisher) Close() error {
	return p.client.Close()
}

// LatestKey is the key of the latest quote of a component.
func LatestKey(exchange, componentID string) string {
	return fmt.Sprintf("latest:%s:%s", exchange, componentID)
}
