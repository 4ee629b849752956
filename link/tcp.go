package link

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/arloliu/go-grbl/grbl"
	"github.com/arloliu/go-grbl/logger"
	"go.uber.org/atomic"
)

const (
	DefaultConnectTimeout = 3 * time.Second
	DefaultKeepAlive      = 30 * time.Second
)

// TCPConfig holds the configuration of a TCP link.
type TCPConfig struct {
	host           string
	port           int
	connectTimeout time.Duration
	keepAlive      time.Duration
	logger         logger.Logger
}

// NewTCPConfig creates a TCP link configuration for host:port.
func NewTCPConfig(host string, port int, opts ...TCPOption) (*TCPConfig, error) {
	if host == "" {
		return nil, fmt.Errorf("link: host cannot be empty")
	}
	if port <= 0 || port > 65535 {
		return nil, fmt.Errorf("link: port %d out of range [1, 65535]", port)
	}

	cfg := &TCPConfig{
		host:           host,
		port:           port,
		connectTimeout: DefaultConnectTimeout,
		keepAlive:      DefaultKeepAlive,
		logger:         logger.GetLogger(),
	}

	for _, opt := range opts {
		if err := opt.apply(cfg); err != nil {
			return nil, err
		}
	}

	return cfg, nil
}

// ParseTCPAddress creates a TCP link configuration from a "host:port" address.
func ParseTCPAddress(addr string, opts ...TCPOption) (*TCPConfig, error) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, fmt.Errorf("link: invalid address %q: %w", addr, err)
	}

	port, err := strconv.Atoi(portStr)
	if err != nil {
		return nil, fmt.Errorf("link: invalid port in %q: %w", addr, err)
	}

	return NewTCPConfig(host, port, opts...)
}

// Addr returns "host:port".
func (cfg *TCPConfig) Addr() string { return net.JoinHostPort(cfg.host, strconv.Itoa(cfg.port)) }

// ConnectTimeout returns the dial timeout.
func (cfg *TCPConfig) ConnectTimeout() time.Duration { return cfg.connectTimeout }

// KeepAlive returns the TCP keep-alive period.
func (cfg *TCPConfig) KeepAlive() time.Duration { return cfg.keepAlive }

// TCPOption is a functional option for configuring a TCPConfig.
type TCPOption interface {
	apply(*TCPConfig) error
}

type tcpOptFunc func(*TCPConfig) error

func (f tcpOptFunc) apply(cfg *TCPConfig) error { return f(cfg) }

// WithConnectTimeout sets the dial timeout.
func WithConnectTimeout(d time.Duration) TCPOption {
	return tcpOptFunc(func(cfg *TCPConfig) error {
		if d <= 0 {
			return fmt.Errorf("link: connect timeout must be positive, got %v", d)
		}
		cfg.connectTimeout = d

		return nil
	})
}

// WithKeepAlive sets the TCP keep-alive period. A negative value disables keep-alive.
func WithKeepAlive(d time.Duration) TCPOption {
	return tcpOptFunc(func(cfg *TCPConfig) error {
		cfg.keepAlive = d
		return nil
	})
}

// WithTCPLogger sets the logger.
func WithTCPLogger(l logger.Logger) TCPOption {
	return tcpOptFunc(func(cfg *TCPConfig) error {
		if l == nil {
			return fmt.Errorf("link: logger is nil")
		}
		cfg.logger = l

		return nil
	})
}

// TCP is a grbl.Link over a TCP connection, e.g. to a serial-to-network bridge.
type TCP struct {
	cfg    *TCPConfig
	logger logger.Logger

	mu     sync.RWMutex
	conn   net.Conn
	opened atomic.Bool
}

var _ grbl.Link = (*TCP)(nil)

// NewTCP creates a TCP link. The connection is established by Open.
func NewTCP(cfg *TCPConfig) *TCP {
	return &TCP{cfg: cfg, logger: cfg.logger.With("addr", cfg.Addr())}
}

// Info describes the TCP endpoint.
func (t *TCP) Info() grbl.PortInfo {
	return grbl.PortInfo{Kind: grbl.LinkTCP, Name: t.cfg.Addr()}
}

// Open dials the remote address within the connect timeout.
func (t *TCP) Open(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.opened.Load() {
		return fmt.Errorf("link: %s already open", t.cfg.Addr())
	}

	dialer := &net.Dialer{KeepAlive: t.cfg.keepAlive}
	dialCtx, cancel := context.WithTimeout(ctx, t.cfg.connectTimeout)
	defer cancel()

	conn, err := dialer.DialContext(dialCtx, "tcp", t.cfg.Addr())
	if err != nil {
		t.logger.Debug("link: dial failed", "error", err)
		return fmt.Errorf("link: dial %s: %w", t.cfg.Addr(), err)
	}

	if tcpConn, ok := conn.(*net.TCPConn); ok {
		_ = tcpConn.SetNoDelay(true)
	}

	t.conn = conn
	t.opened.Store(true)
	t.logger.Debug("link: connected", "localAddr", conn.LocalAddr(), "remoteAddr", conn.RemoteAddr())

	return nil
}

func (t *TCP) getConn() net.Conn {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return t.conn
}

func (t *TCP) Read(p []byte) (int, error) {
	conn := t.getConn()
	if conn == nil || !t.opened.Load() {
		return 0, ErrClosed
	}

	return conn.Read(p)
}

func (t *TCP) Write(p []byte) (int, error) {
	conn := t.getConn()
	if conn == nil || !t.opened.Load() {
		return 0, ErrClosed
	}

	return conn.Write(p)
}

// Close closes the connection and unblocks a pending Read. Closing a closed link is a no-op.
func (t *TCP) Close() error {
	if !t.opened.CompareAndSwap(true, false) {
		return nil
	}

	t.mu.Lock()
	conn := t.conn
	t.conn = nil
	t.mu.Unlock()

	return conn.Close()
}
