// internal/changefeed/redis.go
package changefeed

import (
	"context"
	"fmt"
	"time"

	"github.com/jason-s-yu/jestblank/internal/docstore"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// RedisFeed carries change events over Redis pub/sub. Every event is
// published on both its collection channel and its document channel.
type RedisFeed struct {
	Rdb      *redis.Client
	database string
	logger   *logrus.Logger
}

// ConnectRedis opens a client to addr/db and pings it.
func ConnectRedis(ctx context.Context, addr string, db int, database string, logger *logrus.Logger) (*RedisFeed, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr: addr,
		DB:   db,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", addr, err)
	}
	return NewRedisFeed(rdb, database, logger), nil
}

// NewRedisFeed wraps an existing client.
func NewRedisFeed(rdb *redis.Client, database string, logger *logrus.Logger) *RedisFeed {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &RedisFeed{Rdb: rdb, database: database, logger: logger}
}

// Publish implements docstore.Publisher.
func (f *RedisFeed) Publish(ctx context.Context, ev docstore.Event) error {
	data, err := encode(ev)
	if err != nil {
		return err
	}
	for _, ch := range []string{
		Collection(ev.Record.Collection).Channel(f.database),
		Document(ev.Record.Collection, ev.Record.ID).Channel(f.database),
	} {
		if err := f.Rdb.Publish(ctx, ch, data).Err(); err != nil {
			return fmt.Errorf("failed to publish to Redis channel '%s': %w", ch, err)
		}
	}
	return nil
}

// Subscribe implements Feed.
func (f *RedisFeed) Subscribe(ctx context.Context, topic Topic, handler Handler) (Unsubscribe, error) {
	channel := topic.Channel(f.database)
	ps := f.Rdb.Subscribe(ctx, channel)
	// wait for the subscription confirmation so no event published after
	// Subscribe returns is missed
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("failed to subscribe to Redis channel '%s': %w", channel, err)
	}

	go func() {
		for msg := range ps.Channel() {
			ev, err := decode([]byte(msg.Payload))
			if err != nil {
				f.logger.WithField("channel", msg.Channel).Warnf("dropping malformed change event: %v", err)
				continue
			}
			handler(ev)
		}
	}()

	return ps.Close, nil
}

// Close closes the underlying client.
func (f *RedisFeed) Close() error {
	return f.Rdb.Close()
}
