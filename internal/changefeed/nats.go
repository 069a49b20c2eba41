// internal/changefeed/nats.go
package changefeed

import (
	"context"
	"fmt"
	"time"

	"github.com/jason-s-yu/jestblank/internal/docstore"
	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"
)

// NatsFeed carries change events as NATS core messages on subjects of the
// form <database>.<collection>.<documentID>.
type NatsFeed struct {
	nc       *nats.Conn
	database string
	logger   *logrus.Logger
}

// ConnectNats dials url with reconnect handling.
func ConnectNats(url, database string, logger *logrus.Logger) (*NatsFeed, error) {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	opts := []nats.Option{
		nats.Name("jestblank"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			logger.WithError(err).Warn("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.WithField("url", nc.ConnectedUrl()).Info("NATS reconnected")
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			logger.WithError(err).Error("NATS error")
		}),
	}
	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	return &NatsFeed{nc: nc, database: database, logger: logger}, nil
}

func (f *NatsFeed) subject(t Topic) string {
	id := t.DocumentID
	if id == "" {
		id = "*"
	}
	return fmt.Sprintf("%s.%s.%s", f.database, t.Collection, id)
}

// Publish implements docstore.Publisher.
func (f *NatsFeed) Publish(_ context.Context, ev docstore.Event) error {
	data, err := encode(ev)
	if err != nil {
		return err
	}
	subject := f.subject(Document(ev.Record.Collection, ev.Record.ID))
	if err := f.nc.Publish(subject, data); err != nil {
		return fmt.Errorf("publish to NATS subject %s: %w", subject, err)
	}
	return nil
}

// Subscribe implements Feed. A collection topic subscribes with a single
// token wildcard over document ids.
func (f *NatsFeed) Subscribe(_ context.Context, topic Topic, handler Handler) (Unsubscribe, error) {
	subject := f.subject(topic)
	sub, err := f.nc.Subscribe(subject, func(msg *nats.Msg) {
		ev, err := decode(msg.Data)
		if err != nil {
			f.logger.WithField("subject", msg.Subject).Warnf("dropping malformed change event: %v", err)
			return
		}
		handler(ev)
	})
	if err != nil {
		return nil, fmt.Errorf("subscribe to NATS subject %s: %w", subject, err)
	}
	if err := f.nc.Flush(); err != nil {
		_ = sub.Unsubscribe()
		return nil, fmt.Errorf("flush NATS subscription %s: %w", subject, err)
	}
	return sub.Unsubscribe, nil
}

// Close drains the connection.
func (f *NatsFeed) Close() error {
	return f.nc.Drain()
}
