package events

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"rangeview/internal/core/ports"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

type DialerConfig struct {
	HandshakeTimeout time.Duration
	PingInterval     time.Duration
	PongTimeout      time.Duration
	WriteTimeout     time.Duration
	MaxMessageSize   int64
}

// WebsocketDialer opens event connections over gorilla/websocket and keeps
// them alive with ping frames.
type WebsocketDialer struct {
	dialer *websocket.Dialer
	cfg    DialerConfig
	logger *zap.Logger
}

func NewWebsocketDialer(cfg DialerConfig, logger *zap.Logger) *WebsocketDialer {
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 30 * time.Second
	}
	if cfg.PongTimeout <= 0 {
		cfg.PongTimeout = 60 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WebsocketDialer{
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: cfg.HandshakeTimeout,
			ReadBufferSize:   1024,
			WriteBufferSize:  1024,
		},
		cfg:    cfg,
		logger: logger,
	}
}

func (d *WebsocketDialer) Dial(ctx context.Context, rawURL string, header http.Header) (ports.EventConn, error) {
	conn, resp, err := d.dialer.DialContext(ctx, rawURL, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %w (status %d)", rawURL, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial %s: %w", rawURL, err)
	}

	if d.cfg.MaxMessageSize > 0 {
		conn.SetReadLimit(d.cfg.MaxMessageSize)
	}
	conn.SetReadDeadline(time.Now().Add(d.cfg.PongTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(d.cfg.PongTimeout))
	})

	c := &wsConn{
		conn:         conn,
		writeTimeout: d.cfg.WriteTimeout,
		pongTimeout:  d.cfg.PongTimeout,
		done:         make(chan struct{}),
		logger:       d.logger,
	}
	go c.pingLoop(d.cfg.PingInterval)
	return c, nil
}

type wsConn struct {
	conn         *websocket.Conn
	writeTimeout time.Duration
	pongTimeout  time.Duration

	writeMu   sync.Mutex
	done      chan struct{}
	closeOnce sync.Once
	logger    *zap.Logger
}

// ReadMessage returns the next data frame. Control frames are handled
// internally by the websocket library.
func (c *wsConn) ReadMessage() ([]byte, error) {
	for {
		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			return nil, err
		}
		c.conn.SetReadDeadline(time.Now().Add(c.pongTimeout))
		if messageType == websocket.TextMessage || messageType == websocket.BinaryMessage {
			return data, nil
		}
	}
}

func (c *wsConn) WriteMessage(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

func (c *wsConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		c.writeMu.Lock()
		c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		c.writeMu.Unlock()
		err = c.conn.Close()
	})
	return err
}

func (c *wsConn) pingLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.writeMu.Lock()
			err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.writeTimeout))
			c.writeMu.Unlock()
			if err != nil {
				c.logger.Debug("ping failed", zap.Error(err))
				return
			}
		}
	}
}
