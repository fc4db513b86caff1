package pbx

import (
	"bufio"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"omnidesk/internal/observability"
)

// Handler consumes signaling events read off the connection, serially.
type Handler interface {
	HandleSignal(sig Signal)
}

type ClientConfig struct {
	Addr     string
	Username string
	Secret   string

	DialTimeout    time.Duration
	ReconnectDelay time.Duration
}

func (c ClientConfig) withDefaults() ClientConfig {
	out := c
	if out.DialTimeout <= 0 {
		out.DialTimeout = 5 * time.Second
	}
	if out.ReconnectDelay <= 0 {
		out.ReconnectDelay = 10 * time.Second
	}
	return out
}

// Client maintains the single long-lived connection to the PBX signaling
// source. On error or close it schedules exactly one reconnect attempt after
// a fixed delay, replacing any pending reconnect timer.
//
// Connection state does not gate event processing: while disconnected events
// simply stop arriving, and in-flight calls tracked by the correlator are
// abandoned. No synthetic hangup is synthesized on disconnect.
type Client struct {
	cfg     ClientConfig
	handler Handler
	log     *slog.Logger

	mu        sync.Mutex
	conn      net.Conn
	connected bool
	reconnect *time.Timer
	closed    bool
}

func NewClient(cfg ClientConfig, handler Handler, log *slog.Logger) *Client {
	if log == nil {
		log = slog.Default()
	}
	return &Client{cfg: cfg.withDefaults(), handler: handler, log: log}
}

// Start kicks off the first connection attempt and returns immediately.
func (c *Client) Start() {
	go c.connect()
}

// Connected reports connection state for health reporting only.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	if c.reconnect != nil {
		c.reconnect.Stop()
		c.reconnect = nil
	}
	if c.conn != nil {
		err := c.conn.Close()
		c.conn = nil
		c.connected = false
		observability.PBXConnected.Set(0)
		return err
	}
	return nil
}

func (c *Client) connect() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	conn, err := net.DialTimeout("tcp", c.cfg.Addr, c.cfg.DialTimeout)
	if err != nil {
		c.log.Error("pbx dial failed", "addr", c.cfg.Addr, "err", err)
		c.scheduleReconnect()
		return
	}

	// One reader for the connection's lifetime: the banner read below may
	// buffer past the first line, so the read loop must reuse it.
	r := bufio.NewReader(conn)
	if err := c.login(conn, r); err != nil {
		c.log.Error("pbx login failed", "err", err)
		_ = conn.Close()
		c.scheduleReconnect()
		return
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		_ = conn.Close()
		return
	}
	c.conn = conn
	c.connected = true
	c.mu.Unlock()

	observability.PBXConnected.Set(1)
	c.log.Info("pbx signaling connected", "addr", c.cfg.Addr)

	c.readLoop(conn, r)
}

func (c *Client) login(conn net.Conn, r *bufio.Reader) error {
	_ = conn.SetDeadline(time.Now().Add(c.cfg.DialTimeout))
	defer conn.SetDeadline(time.Time{})

	// The source greets with a single protocol banner line before framing.
	if _, err := r.ReadString('\n'); err != nil {
		return fmt.Errorf("banner read: %w", err)
	}

	login := fmt.Sprintf(
		"Action: Login\r\nUsername: %s\r\nSecret: %s\r\nEvents: call\r\n\r\n",
		c.cfg.Username, c.cfg.Secret,
	)
	if _, err := conn.Write([]byte(login)); err != nil {
		return fmt.Errorf("login write: %w", err)
	}
	return nil
}

func (c *Client) readLoop(conn net.Conn, r *bufio.Reader) {
	for {
		sig, err := readSignal(r)
		if err != nil {
			c.markDisconnected(conn)
			c.log.Warn("pbx signaling connection lost", "err", err)
			c.scheduleReconnect()
			return
		}
		// Action responses and empty frames carry no event name.
		if sig.Name == "" {
			continue
		}
		c.handler.HandleSignal(sig)
	}
}

func (c *Client) markDisconnected(conn net.Conn) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == conn {
		c.conn = nil
		c.connected = false
	}
	_ = conn.Close()
	observability.PBXConnected.Set(0)
}

// scheduleReconnect arms a single reconnect timer, replacing any pending one
// so reconnect attempts never stack.
func (c *Client) scheduleReconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	if c.reconnect != nil {
		c.reconnect.Stop()
	}
	c.reconnect = time.AfterFunc(c.cfg.ReconnectDelay, c.connect)
}
