// Package redis carries remote frames over Redis pub/sub.
package redis

import (
	"context"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// subscribeBuffer bounds the messages queued per subscription before the
// reader applies backpressure to the Redis connection.
const subscribeBuffer = 64

// Options configures the Redis connection.
type Options struct {
	Addr     string
	Password string //nolint:gosec // G117: Redis connection config
	DB       int
}

// PubSub publishes and subscribes frame messages.
type PubSub struct {
	client *redis.Client
}

// New connects and pings the server.
func New(ctx context.Context, opts Options) (*PubSub, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis.New: ping %s: %w", opts.Addr, err)
	}

	return &PubSub{client: client}, nil
}

func (ps *PubSub) Ping(ctx context.Context) error {
	if err := ps.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis.PubSub.Ping: %w", err)
	}
	return nil
}

func (ps *PubSub) Close() error {
	if err := ps.client.Close(); err != nil {
		return fmt.Errorf("redis.PubSub.Close: %w", err)
	}
	return nil
}

// Publish sends payload on channel. A message nobody hears is not an error:
// the other end of a frame may not have subscribed yet.
func (ps *PubSub) Publish(ctx context.Context, channel string, payload []byte) error {
	receivers, err := ps.client.Publish(ctx, channel, payload).Result()
	if err != nil {
		return fmt.Errorf("redis.PubSub.Publish(%s): %w", channel, err)
	}
	if receivers == 0 {
		log.Debug().Str("channel", channel).Msg("redis: published to no subscribers")
	}
	return nil
}

// Subscribe returns the payloads published on channel until ctx is done or
// cleanup is called. The returned channel is closed when the subscription
// ends, which is how a Window learns its remote end is gone.
func (ps *PubSub) Subscribe(ctx context.Context, channel string) (<-chan []byte, func(), error) {
	sub := ps.client.Subscribe(ctx, channel)

	// The first reply confirms the subscription; messages published before
	// it would be lost.
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, nil, fmt.Errorf("redis.PubSub.Subscribe(%s): %w", channel, err)
	}

	out := make(chan []byte, subscribeBuffer)
	go forward(ctx, sub.Channel(), out)

	var once sync.Once
	cleanup := func() {
		once.Do(func() { _ = sub.Close() })
	}

	return out, cleanup, nil
}

func forward(ctx context.Context, in <-chan *redis.Message, out chan<- []byte) {
	defer close(out)

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-in:
			if !ok {
				return
			}
			select {
			case out <- []byte(msg.Payload):
			case <-ctx.Done():
				return
			}
		}
	}
}

// HostChannel returns the Redis channel carrying messages from a remote
// frame to the host.
func HostChannel(frameID string) string {
	return "frame:" + frameID + ":host"
}

// TaskChannel returns the Redis channel carrying messages from the host to a
// remote frame.
func TaskChannel(frameID string) string {
	return "frame:" + frameID + ":task"
}
