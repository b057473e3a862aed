// Package redisbus is a notify.Bus over Redis pub/sub.
package redisbus

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"bollette/internal/log"
	"bollette/internal/notify"
)

const channelPrefix = "bollette:changes:"

type Bus struct {
	client *redis.Client
	prefix string
	logger *log.Logger
}

// New connects to redisURL and checks the connection.
func New(ctx context.Context, redisURL string, logger *log.Logger) (*Bus, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return NewWithClient(client, logger), nil
}

func NewWithClient(client *redis.Client, logger *log.Logger) *Bus {
	if logger == nil {
		logger = log.Discard()
	}
	return &Bus{
		client: client,
		prefix: channelPrefix,
		logger: logger.WithComponent(log.ComponentRedis),
	}
}

func (b *Bus) channel(scope string) string {
	return b.prefix + scope
}

func (b *Bus) Publish(ctx context.Context, scope string, ev notify.ChangeEvent) error {
	body, err := ev.ToJSON()
	if err != nil {
		return fmt.Errorf("marshal change event: %w", err)
	}
	if err := b.client.Publish(ctx, b.channel(scope), body).Err(); err != nil {
		return fmt.Errorf("publish change event: %w", err)
	}
	return nil
}

// Subscribe returns once the server has confirmed the subscription.
func (b *Bus) Subscribe(ctx context.Context, scope string, h notify.Handler) (func(), error) {
	pubsub := b.client.Subscribe(context.WithoutCancel(ctx), b.channel(scope))
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("subscribe %s: %w", scope, err)
	}

	b.logger.InfoContext(ctx, "Subscribed to change events", log.FieldScope, scope)

	msgs := pubsub.Channel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		for msg := range msgs {
			ev, err := notify.ChangeEventFromJSON([]byte(msg.Payload))
			if err != nil {
				b.logger.Error("Failed to decode change event", log.FieldScope, scope, log.FieldError, err)
				continue
			}
			h(ev)
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			pubsub.Close()
			<-done
		})
	}, nil
}

func (b *Bus) Close() error {
	return b.client.Close()
}
