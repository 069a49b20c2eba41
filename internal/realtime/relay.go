// internal/realtime/relay.go
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/jason-s-yu/jestblank/internal/changefeed"
	"github.com/jason-s-yu/jestblank/internal/docstore"
	"github.com/jason-s-yu/jestblank/internal/middleware"
	"github.com/sirupsen/logrus"
)

// Custom close codes sent to realtime clients.
const (
	StatusSubscribeFailed websocket.StatusCode = 3000 // the upstream feed refused a channel
	StatusSlowConsumer    websocket.StatusCode = 3001 // the client fell too far behind
)

const (
	outboxSize   = 64
	writeTimeout = 5 * time.Second
)

// Relay serves the realtime websocket protocol on top of a change feed, so
// clients without broker access can follow documents. One connection
// carries the channels named in its channels[] query parameters.
type Relay struct {
	feed           changefeed.Feed
	project        string
	database       string
	logger         *logrus.Logger
	originPatterns []string
}

// RelayOption configures a Relay.
type RelayOption func(*Relay)

// WithOriginPatterns allows cross-origin browser clients matching patterns.
func WithOriginPatterns(patterns ...string) RelayOption {
	return func(r *Relay) { r.originPatterns = patterns }
}

// NewRelay returns a relay for database. An empty project accepts any.
func NewRelay(feed changefeed.Feed, project, database string, logger *logrus.Logger, opts ...RelayOption) *Relay {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	r := &Relay{feed: feed, project: project, database: database, logger: logger}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Handler returns the relay wrapped in request logging.
func (rl *Relay) Handler() http.Handler {
	return middleware.LogMiddleware(rl.logger)(rl)
}

func (rl *Relay) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if rl.project != "" && q.Get("project") != rl.project {
		http.Error(w, "unknown project", http.StatusForbidden)
		return
	}
	channels := q["channels[]"]
	if len(channels) == 0 {
		http.Error(w, "missing channels", http.StatusBadRequest)
		return
	}
	topics := make([]changefeed.Topic, 0, len(channels))
	for _, ch := range channels {
		topic, err := changefeed.ParseChannel(rl.database, ch)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		topics = append(topics, topic)
	}

	c, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: rl.originPatterns})
	if err != nil {
		rl.logger.Warnf("websocket accept error: %v", err)
		return
	}
	defer c.Close(websocket.StatusInternalError, "relay finished")

	// clients never send; CloseRead handles control frames and cancels ctx
	// when the client goes away
	ctx := c.CloseRead(r.Context())
	middleware.LogWebSocketConnect(rl.logger, r.RemoteAddr, channels)

	sent, err := rl.pump(ctx, c, topics, channels)
	middleware.LogWebSocketDisconnect(rl.logger, r.RemoteAddr, sent, err)
}

// pump subscribes every topic, confirms the handshake and forwards events
// until the client leaves. It returns the number of events sent.
func (rl *Relay) pump(ctx context.Context, c *websocket.Conn, topics []changefeed.Topic, channels []string) (int, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	outbox := make(chan docstore.Event, outboxSize)
	overflow := make(chan struct{})
	var overflowOnce sync.Once
	enqueue := func(ev docstore.Event) {
		select {
		case outbox <- ev:
		default:
			overflowOnce.Do(func() { close(overflow) })
		}
	}

	for _, topic := range topics {
		unsub, err := rl.feed.Subscribe(ctx, topic, enqueue)
		if err != nil {
			rl.writeError(ctx, c, http.StatusServiceUnavailable, "subscription failed")
			c.Close(StatusSubscribeFailed, "subscription failed")
			return 0, err
		}
		defer func(topic changefeed.Topic) {
			if err := unsub(); err != nil {
				rl.logger.WithField("topic", topic.String()).Warnf("relay unsubscribe: %v", err)
			}
		}(topic)
	}

	hello, err := json.Marshal(changefeed.RealtimeConnected{Channels: channels})
	if err != nil {
		return 0, err
	}
	if err := rl.write(ctx, c, changefeed.RealtimeMessage{Type: "connected", Data: hello}); err != nil {
		return 0, err
	}

	sent := 0
	for {
		select {
		case <-ctx.Done():
			c.Close(websocket.StatusNormalClosure, "")
			return sent, nil
		case <-overflow:
			c.Close(StatusSlowConsumer, "too far behind")
			return sent, errors.New("client fell behind, events dropped")
		case ev := <-outbox:
			msg, err := changefeed.ToRealtime(rl.database, ev)
			if err != nil {
				rl.logger.Warnf("dropping unencodable event: %v", err)
				continue
			}
			if err := rl.write(ctx, c, msg); err != nil {
				return sent, err
			}
			sent++
		}
	}
}

func (rl *Relay) write(ctx context.Context, c *websocket.Conn, msg changefeed.RealtimeMessage) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return wsjson.Write(ctx, c, msg)
}

func (rl *Relay) writeError(ctx context.Context, c *websocket.Conn, code int, message string) {
	data, err := json.Marshal(changefeed.RealtimeError{Code: code, Message: message})
	if err != nil {
		return
	}
	if err := rl.write(ctx, c, changefeed.RealtimeMessage{Type: "error", Data: data}); err != nil {
		rl.logger.Debugf("failed to send error frame: %v", err)
	}
}
