package directout

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"
)

// closeOnce wraps a channel with sync.Once to prevent double-close panics.
type closeOnce struct {
	ch   chan struct{}
	once sync.Once
}

func newCloseOnce() *closeOnce {
	return &closeOnce{ch: make(chan struct{})}
}

func (c *closeOnce) Close() {
	c.once.Do(func() { close(c.ch) })
}

func (c *closeOnce) Done() <-chan struct{} {
	return c.ch
}

// Default timeouts and limits for the device connection.
const (
	// DefaultPort is the device's fixed control port.
	DefaultPort = 5003

	defaultConnectTimeout    = 10 * time.Second
	defaultReadTimeout       = 30 * time.Second
	defaultWriteTimeout      = 5 * time.Second
	defaultReconnectInterval = 5 * time.Second
	maxReconnectInterval     = 2 * time.Minute

	readChunkSize = 32 * 1024

	// maxLineSize bounds a single buffered line. A device never sends lines
	// this long; exceeding it means the stream is desynchronised.
	maxLineSize = 64 * 1024 * 1024
)

// errLineTooLong is returned by the receive loop when the buffer limit is hit.
var errLineTooLong = errors.New("directout: inbound line exceeds buffer limit")

// ConnState is the connection status surfaced to the session.
type ConnState int

// Connection states.
const (
	StateDisconnected ConnState = iota
	StateConnecting
	StateConnected
	StateClosed
)

// String returns the state name.
func (s ConnState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateClosed:
		return "closed"
	default:
		return "disconnected"
	}
}

// TransportConfig holds device connection settings.
type TransportConfig struct {
	// Host must be an IPv4 or IPv6 address.
	Host string

	// Port defaults to 5003.
	Port int

	// ConnectTimeout bounds a single dial. Default: 10 seconds.
	ConnectTimeout time.Duration

	// ReadTimeout is the idle read deadline; expiry is not an error.
	// Default: 30 seconds.
	ReadTimeout time.Duration

	// WriteTimeout bounds a single write. Default: 5 seconds.
	WriteTimeout time.Duration

	// ReconnectInterval is the initial delay between reconnection attempts.
	// Default: 5 seconds.
	ReconnectInterval time.Duration

	// MaxReconnectInterval caps the backoff. Default: 2 minutes.
	MaxReconnectInterval time.Duration

	// AutoReconnect keeps dialling after a failed dial or a dropped socket.
	AutoReconnect bool
}

// TransportStats holds operational statistics.
type TransportStats struct {
	LinesRx         uint64
	LinesTx         uint64
	BytesRx         uint64
	ErrorsTotal     uint64
	ReconnectsTotal uint64
	LastActivity    time.Time
	Connected       bool
}

// Transport is a persistent line-delimited JSON connection to one device.
//
// Inbound lines are delivered to the line handler on the receive
// goroutine, one at a time and in arrival order. The handler must not
// block for long: the next line is read only after it returns.
type Transport struct {
	cfg    TransportConfig
	logger Logger

	connMu    sync.RWMutex
	conn      net.Conn
	connected bool

	writeMu sync.Mutex

	handlerMu sync.RWMutex
	onLine    func([]byte)
	onConnect func()
	onState   func(ConnState, error)

	done *closeOnce
	wg   sync.WaitGroup

	linesRx         atomic.Uint64
	linesTx         atomic.Uint64
	bytesRx         atomic.Uint64
	errorsTotal     atomic.Uint64
	reconnectsTotal atomic.Uint64
	lastActivity    atomic.Int64
}

// Ensure Transport implements Sender.
var _ Sender = (*Transport)(nil)

// NewTransport applies defaults to cfg and returns an idle transport.
func NewTransport(cfg TransportConfig, logger Logger) *Transport {
	if cfg.Port == 0 {
		cfg.Port = DefaultPort
	}
	if cfg.ConnectTimeout == 0 {
		cfg.ConnectTimeout = defaultConnectTimeout
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = defaultReadTimeout
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = defaultWriteTimeout
	}
	if cfg.ReconnectInterval == 0 {
		cfg.ReconnectInterval = defaultReconnectInterval
	}
	if cfg.MaxReconnectInterval == 0 {
		cfg.MaxReconnectInterval = maxReconnectInterval
	}
	if logger == nil {
		logger = nopLogger{}
	}
	return &Transport{cfg: cfg, logger: logger, done: newCloseOnce()}
}

// ValidateHost reports whether host is an IP address.
func ValidateHost(host string) error {
	if net.ParseIP(host) == nil {
		return fmt.Errorf("%w: %q", ErrInvalidHost, host)
	}
	return nil
}

// SetOnLine sets the handler for complete inbound lines.
func (t *Transport) SetOnLine(fn func([]byte)) {
	t.handlerMu.Lock()
	t.onLine = fn
	t.handlerMu.Unlock()
}

// SetOnConnect sets the handler run after every successful dial, before
// any inbound line of that connection is read.
func (t *Transport) SetOnConnect(fn func()) {
	t.handlerMu.Lock()
	t.onConnect = fn
	t.handlerMu.Unlock()
}

// SetOnState sets the connection status handler.
func (t *Transport) SetOnState(fn func(ConnState, error)) {
	t.handlerMu.Lock()
	t.onState = fn
	t.handlerMu.Unlock()
}

// Start validates the host and launches the connection loop. It returns
// once the loop is running; use WaitConnected to block for the socket.
func (t *Transport) Start() error {
	if err := ValidateHost(t.cfg.Host); err != nil {
		t.logger.Error("invalid host address", "host", t.cfg.Host)
		return err
	}
	t.wg.Add(1)
	go t.run()
	return nil
}

// Address returns host:port.
func (t *Transport) Address() string {
	return net.JoinHostPort(t.cfg.Host, strconv.Itoa(t.cfg.Port))
}

func (t *Transport) run() {
	defer t.wg.Done()

	backoff := t.cfg.ReconnectInterval
	for !t.isClosed() {
		t.emitState(StateConnecting, nil)
		conn, err := t.dial()
		if err != nil {
			t.errorsTotal.Add(1)
			t.logger.Error("connection failed", "address", t.Address(), "error", err)
			t.emitState(StateDisconnected, err)
			if !t.cfg.AutoReconnect {
				return
			}
			if backoff = t.waitBackoff(backoff); backoff == 0 {
				return
			}
			continue
		}

		backoff = t.cfg.ReconnectInterval
		t.setConn(conn)
		t.logger.Info("connected", "address", t.Address())
		t.emitState(StateConnected, nil)
		t.fireConnect()

		err = t.receive(conn)
		t.dropConn(conn)
		if t.isClosed() {
			return
		}
		t.errorsTotal.Add(1)
		t.logger.Error("network error", "error", err)
		t.emitState(StateDisconnected, err)
		if !t.cfg.AutoReconnect {
			return
		}
		if backoff = t.waitBackoff(backoff); backoff == 0 {
			return
		}
		t.reconnectsTotal.Add(1)
	}
}

func (t *Transport) dial() (net.Conn, error) {
	ctx, cancel := context.WithTimeout(context.Background(), t.cfg.ConnectTimeout)
	defer cancel()

	go func() {
		select {
		case <-t.done.Done():
			cancel()
		case <-ctx.Done():
		}
	}()

	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "tcp", t.Address())
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}
	return conn, nil
}

// receive reads until the socket fails, splitting the stream on '\n' and
// keeping the unterminated remainder for the next read.
func (t *Transport) receive(conn net.Conn) error {
	chunk := make([]byte, readChunkSize)
	var pending []byte

	for {
		if err := conn.SetReadDeadline(time.Now().Add(t.cfg.ReadTimeout)); err != nil {
			return fmt.Errorf("set read deadline: %w", err)
		}
		n, err := conn.Read(chunk)
		if n > 0 {
			t.bytesRx.Add(uint64(n))
			t.lastActivity.Store(time.Now().Unix())
			pending = append(pending, chunk[:n]...)
			pending = t.drainLines(pending)
			if len(pending) > maxLineSize {
				return errLineTooLong
			}
		}
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() && !t.isClosed() {
				continue
			}
			if errors.Is(err, io.EOF) {
				return fmt.Errorf("connection closed by device: %w", err)
			}
			return err
		}
	}
}

// drainLines dispatches every complete line in buf and returns the rest.
func (t *Transport) drainLines(buf []byte) []byte {
	offset := 0
	for {
		i := bytes.IndexByte(buf[offset:], '\n')
		if i < 0 {
			break
		}
		line := make([]byte, i)
		copy(line, buf[offset:offset+i])
		offset += i + 1
		t.linesRx.Add(1)
		t.deliver(line)
	}
	if offset == 0 {
		return buf
	}
	rest := make([]byte, len(buf)-offset)
	copy(rest, buf[offset:])
	return rest
}

func (t *Transport) deliver(line []byte) {
	t.handlerMu.RLock()
	fn := t.onLine
	t.handlerMu.RUnlock()
	if fn == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			t.errorsTotal.Add(1)
			t.logger.Error("line handler panic", "panic", fmt.Sprint(r))
		}
	}()
	fn(line)
}

func (t *Transport) fireConnect() {
	t.handlerMu.RLock()
	fn := t.onConnect
	t.handlerMu.RUnlock()
	if fn != nil {
		fn()
	}
}

func (t *Transport) emitState(s ConnState, err error) {
	t.handlerMu.RLock()
	fn := t.onState
	t.handlerMu.RUnlock()
	if fn != nil {
		fn(s, err)
	}
}

// waitBackoff sleeps for backoff and returns the next, larger interval,
// or 0 if the transport was closed meanwhile.
func (t *Transport) waitBackoff(backoff time.Duration) time.Duration {
	t.logger.Info("attempting reconnection", "backoff", backoff.String())
	select {
	case <-t.done.Done():
		return 0
	case <-time.After(backoff):
	}
	next := time.Duration(float64(backoff) * 1.5)
	if next > t.cfg.MaxReconnectInterval {
		next = t.cfg.MaxReconnectInterval
	}
	return next
}

func (t *Transport) setConn(conn net.Conn) {
	t.connMu.Lock()
	t.conn = conn
	t.connected = true
	t.connMu.Unlock()
	t.lastActivity.Store(time.Now().Unix())
}

func (t *Transport) dropConn(conn net.Conn) {
	t.connMu.Lock()
	if t.conn == conn {
		t.conn = nil
		t.connected = false
	}
	t.connMu.Unlock()
	conn.Close()
}

// SendLine writes line followed by '\n'.
func (t *Transport) SendLine(ctx context.Context, line []byte) error {
	t.connMu.RLock()
	conn := t.conn
	t.connMu.RUnlock()
	if conn == nil {
		return ErrNotConnected
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	deadline := time.Now().Add(t.cfg.WriteTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	if err := conn.SetWriteDeadline(deadline); err != nil {
		return fmt.Errorf("set write deadline: %w", err)
	}
	buf := make([]byte, 0, len(line)+1)
	buf = append(buf, line...)
	buf = append(buf, '\n')
	if _, err := conn.Write(buf); err != nil {
		t.errorsTotal.Add(1)
		return fmt.Errorf("write: %w", err)
	}
	t.linesTx.Add(1)
	t.lastActivity.Store(time.Now().Unix())
	return nil
}

// IsConnected reports whether a socket is open.
func (t *Transport) IsConnected() bool {
	t.connMu.RLock()
	defer t.connMu.RUnlock()
	return t.connected
}

// WaitConnected blocks until a socket is open, the context ends, or the
// transport is closed.
func (t *Transport) WaitConnected(ctx context.Context) error {
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()
	for {
		if t.IsConnected() {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.done.Done():
			return ErrNotConnected
		case <-ticker.C:
		}
	}
}

// Stats returns current operational statistics.
func (t *Transport) Stats() TransportStats {
	return TransportStats{
		LinesRx:         t.linesRx.Load(),
		LinesTx:         t.linesTx.Load(),
		BytesRx:         t.bytesRx.Load(),
		ErrorsTotal:     t.errorsTotal.Load(),
		ReconnectsTotal: t.reconnectsTotal.Load(),
		LastActivity:    time.Unix(t.lastActivity.Load(), 0),
		Connected:       t.IsConnected(),
	}
}

// Close stops the connection loop and closes the socket. Safe to call
// multiple times.
func (t *Transport) Close() error {
	t.done.Close()

	t.connMu.Lock()
	if t.conn != nil {
		t.conn.Close()
	}
	t.connected = false
	t.connMu.Unlock()

	t.wg.Wait()
	t.emitState(StateClosed, nil)
	return nil
}

func (t *Transport) isClosed() bool {
	select {
	case <-t.done.Done():
		return true
	default:
		return false
	}
}
