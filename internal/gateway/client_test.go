package gateway

import (
	"io"
	"net"
	"sync/atomic"
	"testing"
	"time"
)

type countingMetrics struct {
	sends    atomic.Int64
	failures atomic.Int64
}

func (m *countingMetrics) IncGatewaySends()    { m.sends.Add(1) }
func (m *countingMetrics) IncGatewayFailures() { m.failures.Add(1) }

// acceptOne reads one full message from the next connection on ln.
func acceptOne(t *testing.T, ln net.Listener) chan string {
	t.Helper()
	out := make(chan string, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		b, _ := io.ReadAll(conn)
		out <- string(b)
	}()
	return out
}

func TestSendWritesWireFormat(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	met := &countingMetrics{}
	c := New(ln.Addr().String(), nil, met)

	got := acceptOne(t, ln)
	c.Send("cam1", StatusDanger, "/recordings/cam1_x.jpg")

	select {
	case msg := <-got:
		want := "cam1:DANGER:/recordings/cam1_x.jpg"
		if msg != want {
			t.Errorf("wire message = %q, want %q", msg, want)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no message received")
	}
	if met.sends.Load() != 1 {
		t.Errorf("sends = %d, want 1", met.sends.Load())
	}
}

func TestSendWithoutExtra(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	c := New(ln.Addr().String(), nil, nil)

	got := acceptOne(t, ln)
	c.Send("cam2", StatusConnected)

	select {
	case msg := <-got:
		if msg != "cam2:CONNECTED" {
			t.Errorf("wire message = %q, want %q", msg, "cam2:CONNECTED")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no message received")
	}
}

func TestSendSwallowsDialFailure(t *testing.T) {
	met := &countingMetrics{}
	c := New("127.0.0.1:1", nil, met)
	c.dial = func(addr string, timeout time.Duration) (net.Conn, error) {
		return nil, &net.OpError{Op: "dial", Err: net.ErrClosed}
	}

	// Must not panic or block; every attempt counts as a failure even
	// though logging is suppressed.
	for i := 0; i < 3; i++ {
		c.Send("cam1", StatusSafe)
	}
	if met.failures.Load() != 3 {
		t.Errorf("failures = %d, want 3", met.failures.Load())
	}
	if met.sends.Load() != 0 {
		t.Errorf("sends = %d, want 0", met.sends.Load())
	}
}
