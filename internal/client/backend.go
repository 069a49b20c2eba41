// internal/client/backend.go
package client

import (
	"context"
	"errors"
	"fmt"

	"github.com/jason-s-yu/jestblank/internal/changefeed"
	"github.com/jason-s-yu/jestblank/internal/config"
	"github.com/jason-s-yu/jestblank/internal/docstore"
	"github.com/sirupsen/logrus"
)

// Backend is the document store and change feed a client talks to.
type Backend struct {
	Store docstore.Store
	Feed  changefeed.Feed

	// Postgres is set when the store is PostgreSQL, for migrations.
	Postgres *docstore.PostgresStore

	closers []func()
}

// Close releases every connection the backend opened.
func (b *Backend) Close() {
	for i := len(b.closers) - 1; i >= 0; i-- {
		b.closers[i]()
	}
	b.closers = nil
}

// ErrUnsharedStore is returned for a feed shared between processes over a
// store each process keeps to itself: players would get events for
// documents they cannot read.
var ErrUnsharedStore = errors.New("the memory store cannot be shared, a non-memory feed needs STORE_BACKEND=postgres")

// OpenBackend connects the store and feed selected by cfg. Writes are
// published on the broker the feed reads from; the realtime feed reads
// through a relay that follows Redis, so its writes go to Redis.
func OpenBackend(ctx context.Context, cfg *config.Config, logger *logrus.Logger) (*Backend, error) {
	if isMemory(cfg.StoreBackend) && !isMemory(cfg.FeedBackend) {
		return nil, fmt.Errorf("%w (FEED_BACKEND=%s)", ErrUnsharedStore, cfg.FeedBackend)
	}
	b, publisher, err := openFeed(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	switch cfg.StoreBackend {
	case "", "memory":
		b.Store = docstore.NewMemoryStore(docstore.WithPublisher(publisher), docstore.WithLogger(logger))
	case "postgres":
		if cfg.DatabaseURL == "" {
			b.Close()
			return nil, fmt.Errorf("STORE_BACKEND=postgres requires DATABASE_URL")
		}
		pg, err := docstore.ConnectPostgres(ctx, cfg.DatabaseURL,
			docstore.WithPostgresPublisher(publisher), docstore.WithPostgresLogger(logger))
		if err != nil {
			b.Close()
			return nil, err
		}
		b.closers = append(b.closers, pg.Close)
		b.Store, b.Postgres = pg, pg
	default:
		b.Close()
		return nil, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
	}

	logger.WithFields(logrus.Fields{
		"store": cfg.StoreBackend,
		"feed":  cfg.FeedBackend,
	}).Debug("backend ready")
	return b, nil
}

// OpenFeed connects only the change feed selected by cfg. The relay uses it;
// it never touches documents.
func OpenFeed(ctx context.Context, cfg *config.Config, logger *logrus.Logger) (*Backend, error) {
	b, _, err := openFeed(ctx, cfg, logger)
	return b, err
}

func openFeed(ctx context.Context, cfg *config.Config, logger *logrus.Logger) (*Backend, docstore.Publisher, error) {
	b := &Backend{}
	var publisher docstore.Publisher

	switch cfg.FeedBackend {
	case "", "memory":
		broker := changefeed.NewBroker(logger)
		b.Feed, publisher = broker, broker
	case "redis", "realtime":
		rf, err := changefeed.ConnectRedis(ctx, cfg.RedisAddr, cfg.RedisDB, cfg.DatabaseID, logger)
		if err != nil {
			return nil, nil, err
		}
		b.closers = append(b.closers, func() {
			if err := rf.Close(); err != nil {
				logger.Warnf("failed to close Redis feed: %v", err)
			}
		})
		b.Feed, publisher = rf, rf
		if cfg.FeedBackend == "realtime" {
			if cfg.RealtimeURL == "" {
				b.Close()
				return nil, nil, fmt.Errorf("FEED_BACKEND=realtime requires REALTIME_URL")
			}
			b.Feed = changefeed.NewRealtimeFeed(cfg.RealtimeURL, cfg.ProjectID, cfg.DatabaseID, logger)
		}
	case "nats":
		nf, err := changefeed.ConnectNats(cfg.NatsURL, cfg.DatabaseID, logger)
		if err != nil {
			return nil, nil, err
		}
		b.closers = append(b.closers, func() {
			if err := nf.Close(); err != nil {
				logger.Warnf("failed to close NATS feed: %v", err)
			}
		})
		b.Feed, publisher = nf, nf
	default:
		return nil, nil, fmt.Errorf("unknown feed backend %q", cfg.FeedBackend)
	}
	return b, publisher, nil
}

func isMemory(backend string) bool {
	return backend == "" || backend == "memory"
}
