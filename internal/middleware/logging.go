// internal/middleware/logging.go

package middleware

import (
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// LogMiddleware logs every request with its method, path, duration and
// remote address. Websocket upgrades are logged when the connection ends,
// so the duration is the lifetime of the subscription.
func LogMiddleware(logger *logrus.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			path := r.URL.Path
			method := r.Method

			next.ServeHTTP(w, r)

			logger.WithFields(logrus.Fields{
				"method":   method,
				"path":     path,
				"duration": time.Since(start),
				"remote":   r.RemoteAddr,
				"upgrade":  isWebSocketUpgrade(r),
			}).Info("HTTP Request")
		})
	}
}

func isWebSocketUpgrade(r *http.Request) bool {
	return strings.EqualFold(r.Header.Get("Upgrade"), "websocket")
}

// LogWebSocketConnect logs a realtime client subscribing to channels.
func LogWebSocketConnect(logger *logrus.Logger, remoteAddr string, channels []string) {
	logger.WithFields(logrus.Fields{
		"remote":   remoteAddr,
		"channels": channels,
	}).Info("WebSocket connected")
}

// LogWebSocketDisconnect logs a realtime client going away along with the
// number of events it was sent.
func LogWebSocketDisconnect(logger *logrus.Logger, remoteAddr string, sent int, err error) {
	fields := logrus.Fields{
		"remote": remoteAddr,
		"sent":   sent,
	}
	if err != nil {
		fields["error"] = err
	}
	logger.WithFields(fields).Info("WebSocket disconnected")
}
