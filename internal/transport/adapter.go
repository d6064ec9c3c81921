// Package transport keeps a STOMP-over-WebSocket session to the portal
// alive and hands inbound messages to a handler.
package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"runtime/debug"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/go-stomp/stomp/v3/frame"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/medfatnasii277/portalbell/internal/logger"
)

const (
	handshakeTimeout = 10 * time.Second
	writeWait        = 10 * time.Second
	// Missing this many incoming heartbeat intervals ends the session.
	heartbeatGrace = 3
	maxFrameSize   = 1 << 20
)

// BrokerError is a STOMP ERROR frame sent by the server.
type BrokerError struct {
	Message string
	Body    string
}

func (e *BrokerError) Error() string {
	if e.Body == "" {
		return "stomp error: " + e.Message
	}
	return fmt.Sprintf("stomp error: %s: %s", e.Message, e.Body)
}

// Config configures an Adapter.
type Config struct {
	// URL is the WebSocket endpoint, e.g. ws://localhost:8080/ws/websocket.
	URL   string
	Token string
	// Destinations are subscribed in order once the session is connected.
	Destinations []string
	Heartbeat    time.Duration
	Reconnect    ReconnectPolicy
	// OnStateChange is called after every state transition, outside any lock.
	OnStateChange func(State)
	Logger        *slog.Logger
}

// Adapter owns one STOMP session and reconnects it until Disconnect.
type Adapter struct {
	cfg    Config
	log    *slog.Logger
	dialer *websocket.Dialer

	mu     sync.Mutex
	state  State
	cancel context.CancelFunc
	done   chan struct{}
}

// NewAdapter creates an idle adapter.
func NewAdapter(cfg Config) *Adapter {
	if cfg.Reconnect == nil {
		cfg.Reconnect = ConstantPolicy(5 * time.Second)
	}
	log := cfg.Logger
	if log == nil {
		log = logger.WithComponent("transport")
	}
	return &Adapter{
		cfg: cfg,
		log: log,
		dialer: &websocket.Dialer{
			HandshakeTimeout: handshakeTimeout,
		},
		state: Idle,
	}
}

// State returns the current connection state.
func (a *Adapter) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// Connect starts the session loop for identity. An empty identity is a
// no-op, and so is connecting while a session loop is already running.
func (a *Adapter) Connect(identity string, handler Handler) {
	if identity == "" {
		a.log.Debug("connect skipped, no identity")
		return
	}

	a.mu.Lock()
	if a.cancel != nil {
		a.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel
	a.done = make(chan struct{})
	done := a.done
	a.mu.Unlock()

	a.log.Info("connecting", "identity", identity, "url", a.cfg.URL)
	a.setState(Connecting)
	go a.run(ctx, identity, handler, done)
}

// Disconnect stops the session loop and waits for it to exit. Safe to call
// in any state.
func (a *Adapter) Disconnect() {
	a.mu.Lock()
	cancel, done := a.cancel, a.done
	a.cancel = nil
	a.done = nil
	a.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
	a.setState(Disconnected)
}

func (a *Adapter) setState(s State) {
	a.mu.Lock()
	changed := a.state != s
	a.state = s
	a.mu.Unlock()

	if changed {
		a.log.Info("connection state changed", "state", s.String())
		if a.cfg.OnStateChange != nil {
			a.cfg.OnStateChange(s)
		}
	}
}

// run keeps sessions going until ctx is cancelled.
func (a *Adapter) run(ctx context.Context, identity string, handler Handler, done chan struct{}) {
	defer close(done)

	bo := a.cfg.Reconnect()
	for {
		err := a.session(ctx, handler, bo)
		if ctx.Err() != nil {
			return
		}

		a.setState(Reconnecting)
		delay := bo.NextBackOff()
		if delay == backoff.Stop {
			delay = 5 * time.Second
		}
		a.log.Warn("session ended, reconnecting",
			"identity", identity,
			"error", err,
			"delay", delay,
		)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
		a.setState(Connecting)
	}
}

// session runs one connection from dial to failure or cancellation.
func (a *Adapter) session(ctx context.Context, handler Handler, bo backoff.BackOff) error {
	conn, err := a.dial(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	// Unblock the handshake read if Disconnect arrives mid-handshake.
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	outgoing, incoming, err := a.handshake(conn)
	if !stop() || err != nil {
		if err == nil {
			err = ctx.Err()
		}
		return err
	}

	a.setState(Connected)
	bo.Reset()

	sctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, 2)
	go func() {
		errCh <- a.writePump(ctx, sctx, conn, outgoing)
	}()
	go func() {
		errCh <- a.readPump(conn, handler, incoming)
	}()

	err = <-errCh
	cancel()
	conn.Close()
	<-errCh
	return err
}

func (a *Adapter) dial(ctx context.Context) (*websocket.Conn, error) {
	header := http.Header{}
	if a.cfg.Token != "" {
		header.Set("Authorization", "Bearer "+a.cfg.Token)
	}

	conn, resp, err := a.dialer.DialContext(ctx, a.cfg.URL, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("websocket dial failed: status=%d, err=%w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("websocket dial: %w", err)
	}
	conn.SetReadLimit(maxFrameSize)
	return conn, nil
}

// handshake exchanges CONNECT/CONNECTED and subscribes. It runs before the
// pumps start, so writing directly to conn is safe here.
func (a *Adapter) handshake(conn *websocket.Conn) (outgoing, incoming time.Duration, err error) {
	host := ""
	if u, perr := url.Parse(a.cfg.URL); perr == nil {
		host = u.Hostname()
	}

	if err := a.writeFrame(conn, connectFrame(host, a.cfg.Token, a.cfg.Heartbeat)); err != nil {
		return 0, 0, err
	}

	conn.SetReadDeadline(time.Now().Add(handshakeTimeout))
	f, err := awaitFrame(conn)
	if err != nil {
		return 0, 0, fmt.Errorf("waiting for CONNECTED: %w", err)
	}
	switch f.Command {
	case frame.CONNECTED:
		outgoing, incoming = negotiateHeartbeat(a.cfg.Heartbeat, f.Header.Get("heart-beat"))
	case frame.ERROR:
		return 0, 0, &BrokerError{Message: f.Header.Get("message"), Body: string(f.Body)}
	default:
		return 0, 0, fmt.Errorf("handshake: unexpected %s frame", f.Command)
	}
	conn.SetReadDeadline(time.Time{})

	for _, dest := range a.cfg.Destinations {
		id := "sub-" + uuid.NewString()
		if err := a.writeFrame(conn, subscribeFrame(id, dest)); err != nil {
			return 0, 0, err
		}
		a.log.Debug("subscribed", "destination", dest, "id", id)
	}

	return outgoing, incoming, nil
}

// awaitFrame reads until the first non-heartbeat frame.
func awaitFrame(conn *websocket.Conn) (*frame.Frame, error) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return nil, err
		}
		f, err := decodeFrame(data)
		if err != nil {
			return nil, err
		}
		if f != nil {
			return f, nil
		}
	}
}

func (a *Adapter) writeFrame(conn *websocket.Conn, f *frame.Frame) error {
	data, err := encodeFrame(f)
	if err != nil {
		return err
	}
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("write %s: %w", f.Command, err)
	}
	return nil
}

// readPump delivers MESSAGE frames until the connection fails.
func (a *Adapter) readPump(conn *websocket.Conn, handler Handler, incoming time.Duration) error {
	extend := func() {
		if incoming > 0 {
			conn.SetReadDeadline(time.Now().Add(heartbeatGrace * incoming))
		}
	}
	extend()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read message: %w", err)
		}
		extend()

		f, err := decodeFrame(data)
		if err != nil {
			a.log.Warn("dropping malformed frame", "error", err)
			continue
		}
		if f == nil {
			continue
		}

		switch f.Command {
		case frame.MESSAGE:
			a.deliver(handler, Message{
				Destination:  f.Header.Get("destination"),
				Subscription: f.Header.Get("subscription"),
				Body:         f.Body,
			})
		case frame.ERROR:
			return &BrokerError{Message: f.Header.Get("message"), Body: string(f.Body)}
		case frame.RECEIPT:
		default:
			a.log.Debug("ignoring frame", "command", f.Command)
		}
	}
}

// writePump owns all writes once the session is up: heartbeats while
// running and a DISCONNECT when the caller asked to stop.
func (a *Adapter) writePump(parent, ctx context.Context, conn *websocket.Conn, outgoing time.Duration) error {
	var tick <-chan time.Time
	if outgoing > 0 {
		ticker := time.NewTicker(outgoing)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			if parent.Err() != nil {
				if err := a.writeFrame(conn, disconnectFrame()); err != nil {
					a.log.Debug("sending DISCONNECT", "error", err)
				}
				conn.SetWriteDeadline(time.Now().Add(writeWait))
				conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			}
			return ctx.Err()

		case <-tick:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, []byte("\n")); err != nil {
				return fmt.Errorf("heartbeat: %w", err)
			}
		}
	}
}

// deliver calls handler and recovers a panic so one bad message cannot end
// the session.
func (a *Adapter) deliver(handler Handler, msg Message) {
	defer func() {
		if r := recover(); r != nil {
			a.log.Error("message handler panicked",
				"destination", msg.Destination,
				"panic", fmt.Sprintf("%v", r),
				"stack", string(debug.Stack()),
			)
		}
	}()
	if handler != nil {
		handler(msg)
	}
}

// IsBrokerError reports whether err came from a STOMP ERROR frame.
func IsBrokerError(err error) bool {
	var be *BrokerError
	return errors.As(err, &be)
}
