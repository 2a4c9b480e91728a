// Package gateway pushes camera lifecycle and alert events to the
// control-room gateway over a minimal TCP line protocol.
package gateway

import (
	"log/slog"
	"net"
	"strings"
	"sync"
	"time"
)

// Status values understood by the gateway.
const (
	StatusConnected    = "CONNECTED"
	StatusDisconnected = "DISCONNECTED"
	StatusControl      = "CONTROL"
	StatusMonitor      = "MONITOR"
	StatusDanger       = "DANGER"
	StatusSafe         = "SAFE"
)

const (
	dialTimeout    = time.Second
	logSuppression = 5 * time.Second
)

// Metrics receives delivery counters. The prometheus-backed implementation
// lives in platform/metrics; tests use a local stub.
type Metrics interface {
	IncGatewaySends()
	IncGatewayFailures()
}

// Client sends one message per connection: dial, write, close. Delivery is
// best effort; a down gateway never affects camera processing.
type Client struct {
	addr string
	log  *slog.Logger
	met  Metrics

	dial func(addr string, timeout time.Duration) (net.Conn, error)

	mu      sync.Mutex
	lastLog map[string]time.Time
}

// New creates a gateway client for addr (host:port). met may be nil.
func New(addr string, log *slog.Logger, met Metrics) *Client {
	if log == nil {
		log = slog.Default()
	}
	return &Client{
		addr:    addr,
		log:     log,
		met:     met,
		dial: func(addr string, timeout time.Duration) (net.Conn, error) {
			return net.DialTimeout("tcp", addr, timeout)
		},
		lastLog: make(map[string]time.Time),
	}
}

// Send delivers `camID:status` to the gateway, with optional extra fields
// appended colon-separated (the evidence path on DANGER). Errors are
// swallowed; failures for the same camera are logged at most once every
// five seconds so a dead gateway cannot flood the log.
func (c *Client) Send(camID, status string, extra ...string) {
	parts := append([]string{camID, status}, extra...)
	msg := strings.Join(parts, ":")

	conn, err := c.dial(c.addr, dialTimeout)
	if err != nil {
		c.fail(camID, status, err)
		return
	}
	defer conn.Close()

	conn.SetWriteDeadline(time.Now().Add(dialTimeout))
	if _, err := conn.Write([]byte(msg)); err != nil {
		c.fail(camID, status, err)
		return
	}
	if c.met != nil {
		c.met.IncGatewaySends()
	}
}

func (c *Client) fail(camID, status string, err error) {
	if c.met != nil {
		c.met.IncGatewayFailures()
	}
	now := time.Now()
	c.mu.Lock()
	last, ok := c.lastLog[camID]
	if ok && now.Sub(last) < logSuppression {
		c.mu.Unlock()
		return
	}
	c.lastLog[camID] = now
	c.mu.Unlock()
	c.log.Warn("gateway send failed", "camera", camID, "status", status, "error", err)
}
