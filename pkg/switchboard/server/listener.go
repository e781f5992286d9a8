package server

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/tsarna/switchboard/pkg/switchboard/session"
	"go.uber.org/zap"
)

// Listener upgrades HTTP requests to WebSocket sessions and tracks them so
// they can be closed gracefully on shutdown.
type Listener struct {
	config  *session.Config
	logger  *zap.Logger
	metrics *session.Metrics

	connections  map[*session.Connection]struct{}
	connMutex    sync.RWMutex
	shutdown     chan struct{}
	shutdownOnce sync.Once
}

// NewListener creates a Listener serving sessions built from config.
func NewListener(config *session.Config) (*Listener, error) {
	if err := config.IsValid(); err != nil {
		return nil, err
	}

	return &Listener{
		config:      config,
		logger:      config.Logger(),
		metrics:     config.Metrics(),
		connections: make(map[*session.Connection]struct{}),
		shutdown:    make(chan struct{}),
	}, nil
}

// ServeWebsocket upgrades the request and serves the session until it
// closes.
func (l *Listener) ServeWebsocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		CompressionMode: websocket.CompressionContextTakeover,
	})
	if err != nil {
		l.metrics.RecordConnectionError(r.Context(), "upgrade_failed")
		l.logger.Warn("Failed to accept WebSocket connection",
			zap.Error(err),
			zap.String("remote_addr", r.RemoteAddr),
			zap.String("user_agent", r.UserAgent()),
		)
		return
	}

	select {
	case <-l.shutdown:
		l.logger.Debug("Rejecting new connection due to shutdown")
		conn.Close(websocket.StatusServiceRestart, "Server shutting down")
		return
	default:
	}

	// The session must not end when the upgrade request's context does.
	connection := session.New(context.WithoutCancel(r.Context()), conn, l.config)
	l.metrics.RecordConnectionStart(r.Context())

	l.connMutex.Lock()
	l.connections[connection] = struct{}{}
	connCount := len(l.connections)
	l.connMutex.Unlock()
	l.metrics.RecordConnectionActive(r.Context(), connCount)

	l.logger.Debug("WebSocket connection established",
		zap.String("connection_id", connection.ID()),
		zap.String("remote_addr", r.RemoteAddr),
		zap.Int("active_connections", connCount),
	)

	connection.Start()

	l.connMutex.Lock()
	delete(l.connections, connection)
	connCount = len(l.connections)
	l.connMutex.Unlock()
	l.metrics.RecordConnectionActive(context.Background(), connCount)

	l.logger.Debug("WebSocket connection closed",
		zap.String("connection_id", connection.ID()),
		zap.Int("active_connections", connCount),
	)
}

// Shutdown stops accepting connections, closes the open ones with
// StatusGoingAway and waits for them to finish or for ctx to end.
func (l *Listener) Shutdown(ctx context.Context) error {
	l.shutdownOnce.Do(func() {
		close(l.shutdown)

		l.connMutex.RLock()
		connections := make([]*session.Connection, 0, len(l.connections))
		for conn := range l.connections {
			connections = append(connections, conn)
		}
		l.connMutex.RUnlock()

		if len(connections) == 0 {
			return
		}

		l.logger.Info("Closing active WebSocket connections", zap.Int("connection_count", len(connections)))
		for _, conn := range connections {
			go conn.Shutdown(websocket.StatusGoingAway, "Server shutting down")
		}
	})

	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for {
		remaining := l.ConnectionCount()
		if remaining == 0 {
			return nil
		}

		select {
		case <-ctx.Done():
			l.logger.Warn("Shutdown timeout reached with active connections",
				zap.Int("remaining_connections", remaining),
			)
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// ConnectionCount returns the number of open sessions.
func (l *Listener) ConnectionCount() int {
	l.connMutex.RLock()
	defer l.connMutex.RUnlock()
	return len(l.connections)
}
