package directout

import (
	"bufio"
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"
)

// fakeDevice is a TCP listener standing in for a router.
type fakeDevice struct {
	ln    net.Listener
	conns chan net.Conn
}

func newFakeDevice(t *testing.T) *fakeDevice {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	d := &fakeDevice{ln: ln, conns: make(chan net.Conn, 4)}
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			d.conns <- c
		}
	}()
	t.Cleanup(func() { ln.Close() })
	return d
}

func (d *fakeDevice) port() int { return d.ln.Addr().(*net.TCPAddr).Port }

func (d *fakeDevice) accept(t *testing.T) net.Conn {
	t.Helper()
	select {
	case c := <-d.conns:
		t.Cleanup(func() { c.Close() })
		return c
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for connection")
		return nil
	}
}

// lineCollector gathers delivered lines.
type lineCollector struct {
	mu    sync.Mutex
	lines []string
	ch    chan struct{}
}

func newLineCollector() *lineCollector {
	return &lineCollector{ch: make(chan struct{}, 64)}
}

func (c *lineCollector) add(line []byte) {
	c.mu.Lock()
	c.lines = append(c.lines, string(line))
	c.mu.Unlock()
	c.ch <- struct{}{}
}

func (c *lineCollector) wait(t *testing.T, n int) []string {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		c.mu.Lock()
		if len(c.lines) >= n {
			out := append([]string(nil), c.lines...)
			c.mu.Unlock()
			return out
		}
		c.mu.Unlock()
		select {
		case <-c.ch:
		case <-deadline:
			t.Fatalf("timed out waiting for %d lines", n)
		}
	}
}

func testTransportConfig(port int) TransportConfig {
	return TransportConfig{
		Host:                 "127.0.0.1",
		Port:                 port,
		ConnectTimeout:       time.Second,
		ReadTimeout:          100 * time.Millisecond,
		ReconnectInterval:    10 * time.Millisecond,
		MaxReconnectInterval: 50 * time.Millisecond,
		AutoReconnect:        true,
	}
}

func TestTransport_LineFraming(t *testing.T) {
	dev := newFakeDevice(t)
	tp := NewTransport(testTransportConfig(dev.port()), nil)
	lines := newLineCollector()
	tp.SetOnLine(lines.add)
	if err := tp.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer tp.Close()

	conn := dev.accept(t)
	if _, err := conn.Write([]byte(`{"type":"ack"}` + "\n" + `{"type":"upd`)); err != nil {
		t.Fatal(err)
	}
	time.Sleep(20 * time.Millisecond)
	if _, err := conn.Write([]byte(`ate","payload":{}}` + "\n\n")); err != nil {
		t.Fatal(err)
	}

	got := lines.wait(t, 3)
	want := []string{`{"type":"ack"}`, `{"type":"update","payload":{}}`, ``}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("line %d = %q, want %q", i, got[i], want[i])
		}
	}
	if s := tp.Stats(); s.LinesRx != 3 || !s.Connected {
		t.Errorf("stats = %+v", s)
	}
}

func TestTransport_OnConnectAndSend(t *testing.T) {
	dev := newFakeDevice(t)
	tp := NewTransport(testTransportConfig(dev.port()), nil)

	connected := make(chan struct{}, 1)
	tp.SetOnConnect(func() {
		if err := tp.SendLine(context.Background(), []byte(`{"type":"get","seq":0}`)); err != nil {
			t.Errorf("SendLine() in onConnect error = %v", err)
		}
		connected <- struct{}{}
	})
	if err := tp.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer tp.Close()

	conn := dev.accept(t)
	select {
	case <-connected:
	case <-time.After(2 * time.Second):
		t.Fatal("onConnect not called")
	}

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	line, err := bufio.NewReader(conn).ReadString('\n')
	if err != nil {
		t.Fatalf("device read: %v", err)
	}
	if line != `{"type":"get","seq":0}`+"\n" {
		t.Errorf("device got %q", line)
	}
	if tp.Stats().LinesTx != 1 {
		t.Errorf("LinesTx = %d, want 1", tp.Stats().LinesTx)
	}
}

func TestTransport_Reconnects(t *testing.T) {
	dev := newFakeDevice(t)
	tp := NewTransport(testTransportConfig(dev.port()), nil)

	var mu sync.Mutex
	var states []ConnState
	tp.SetOnState(func(s ConnState, _ error) {
		mu.Lock()
		states = append(states, s)
		mu.Unlock()
	})
	if err := tp.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer tp.Close()

	first := dev.accept(t)
	first.Close()

	second := dev.accept(t)
	if err := tp.WaitConnected(context.Background()); err != nil {
		t.Fatalf("WaitConnected() error = %v", err)
	}
	if _, err := second.Write([]byte(`{"type":"ack"}` + "\n")); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for tp.Stats().ReconnectsTotal == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if tp.Stats().ReconnectsTotal == 0 {
		t.Error("ReconnectsTotal = 0 after a dropped socket")
	}

	mu.Lock()
	defer mu.Unlock()
	sawDisconnect := false
	for _, s := range states {
		if s == StateDisconnected {
			sawDisconnect = true
		}
	}
	if !sawDisconnect {
		t.Errorf("states = %v, want a disconnect", states)
	}
}

func TestTransport_NoAutoReconnect(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()

	cfg := testTransportConfig(port)
	cfg.AutoReconnect = false
	tp := NewTransport(cfg, nil)

	failed := make(chan error, 1)
	tp.SetOnState(func(s ConnState, err error) {
		if s == StateDisconnected {
			failed <- err
		}
	})
	if err := tp.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	select {
	case err := <-failed:
		if !errors.Is(err, ErrConnectionFailed) {
			t.Errorf("error = %v, want ErrConnectionFailed", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no disconnect reported")
	}
	_ = tp.Close()
}

func TestTransport_Close(t *testing.T) {
	dev := newFakeDevice(t)
	tp := NewTransport(testTransportConfig(dev.port()), nil)
	if err := tp.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	dev.accept(t)
	if err := tp.WaitConnected(context.Background()); err != nil {
		t.Fatalf("WaitConnected() error = %v", err)
	}

	if err := tp.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
	if err := tp.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
	if tp.IsConnected() {
		t.Error("still connected after Close")
	}
	if err := tp.SendLine(context.Background(), []byte("{}")); !errors.Is(err, ErrNotConnected) {
		t.Errorf("SendLine() after Close error = %v, want ErrNotConnected", err)
	}
	if err := tp.WaitConnected(context.Background()); !errors.Is(err, ErrNotConnected) {
		t.Errorf("WaitConnected() after Close error = %v", err)
	}
}

func TestTransport_InvalidHost(t *testing.T) {
	tests := []struct {
		host    string
		wantErr bool
	}{
		{"192.168.1.20", false},
		{"::1", false},
		{"router.local", true},
		{"", true},
	}
	for _, tt := range tests {
		t.Run(tt.host, func(t *testing.T) {
			err := ValidateHost(tt.host)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateHost(%q) error = %v, wantErr %v", tt.host, err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidHost) {
				t.Errorf("error = %v, want ErrInvalidHost", err)
			}
		})
	}

	tp := NewTransport(TransportConfig{Host: "not-an-ip"}, nil)
	if err := tp.Start(); !errors.Is(err, ErrInvalidHost) {
		t.Errorf("Start() error = %v, want ErrInvalidHost", err)
	}
	if tp.Address() != "not-an-ip:5003" {
		t.Errorf("Address() = %q", tp.Address())
	}
}
