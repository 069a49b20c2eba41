// internal/changefeed/realtime.go
package changefeed

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/sirupsen/logrus"
)

// RealtimeFeed subscribes over a realtime websocket endpoint, one connection
// per subscription. It only consumes events; writes reach the endpoint
// through the document store.
type RealtimeFeed struct {
	endpoint string
	project  string
	database string
	logger   *logrus.Logger
}

// NewRealtimeFeed returns a feed dialing endpoint (ws:// or wss://).
func NewRealtimeFeed(endpoint, project, database string, logger *logrus.Logger) *RealtimeFeed {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &RealtimeFeed{endpoint: endpoint, project: project, database: database, logger: logger}
}

func (f *RealtimeFeed) dialURL(channel string) (string, error) {
	u, err := url.Parse(f.endpoint)
	if err != nil {
		return "", fmt.Errorf("invalid realtime endpoint: %w", err)
	}
	q := u.Query()
	q.Set("project", f.project)
	q.Add("channels[]", channel)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Subscribe implements Feed.
func (f *RealtimeFeed) Subscribe(ctx context.Context, topic Topic, handler Handler) (Unsubscribe, error) {
	channel := topic.Channel(f.database)
	dial, err := f.dialURL(channel)
	if err != nil {
		return nil, err
	}
	c, _, err := websocket.Dial(ctx, dial, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to dial realtime endpoint: %w", err)
	}

	// the first frame confirms the channel set
	var hello RealtimeMessage
	if err := wsjson.Read(ctx, c, &hello); err != nil {
		c.Close(websocket.StatusInternalError, "handshake failed")
		return nil, fmt.Errorf("realtime handshake: %w", err)
	}
	if hello.Type != "connected" {
		c.Close(websocket.StatusPolicyViolation, "unexpected handshake")
		return nil, fmt.Errorf("realtime handshake: unexpected %q frame", hello.Type)
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	log := f.logger.WithField("channel", channel)
	go func() {
		defer cancel()
		for {
			var msg RealtimeMessage
			if err := wsjson.Read(loopCtx, c, &msg); err != nil {
				status := websocket.CloseStatus(err)
				if status != websocket.StatusNormalClosure && status != websocket.StatusGoingAway &&
					!strings.Contains(err.Error(), "context canceled") {
					log.Warnf("realtime read error: %v", err)
				}
				return
			}
			switch msg.Type {
			case "event":
				ev, err := FromRealtime(msg.Data)
				if err != nil {
					log.Warnf("dropping malformed realtime event: %v", err)
					continue
				}
				if topic.Matches(ev) {
					handler(ev)
				}
			case "error":
				log.Warnf("realtime error frame: %s", string(msg.Data))
			}
		}
	}()

	return func() error {
		defer cancel()
		// the read loop may already have torn the connection down
		if err := c.Close(websocket.StatusNormalClosure, "unsubscribe"); err != nil {
			log.Debugf("realtime close: %v", err)
		}
		return nil
	}, nil
}
