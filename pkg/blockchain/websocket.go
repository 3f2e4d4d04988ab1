package blockchain

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/gorilla/rpc/v2/json2"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// StateCallMethod is the JSON-RPC method that runs a read-only runtime API call.
const StateCallMethod = "state_call"

// Gateway defaults.
const (
	DefaultRequestTimeout   = 5 * time.Second
	DefaultPingInterval     = time.Second
	DefaultHandshakeTimeout = 10 * time.Second
	DefaultMaxMessageSize   = 16 << 20
)

var (
	// ErrTransport is returned when the node cannot be reached or does not answer in time.
	ErrTransport = errors.New("transport error")
	// ErrRPC is matched by every *RPCError.
	ErrRPC = errors.New("rpc error")
	// ErrGatewayClosed is returned by calls made after Close.
	ErrGatewayClosed = fmt.Errorf("%w: gateway closed", ErrTransport)
)

// RPCError is an error object returned by the node in place of a result.
type RPCError struct {
	Code    int
	Message string
	Data    any
}

func (e *RPCError) Error() string {
	if e.Data != nil {
		return fmt.Sprintf("rpc error %d: %s (%v)", e.Code, e.Message, e.Data)
	}
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// Is lets errors.Is(err, ErrRPC) match any RPCError.
func (e *RPCError) Is(target error) bool {
	return target == ErrRPC
}

// GatewayConfig configures a Gateway. Zero durations and sizes take the package defaults.
type GatewayConfig struct {
	URL              string
	RequestTimeout   time.Duration
	PingInterval     time.Duration
	HandshakeTimeout time.Duration
	MaxMessageSize   int64
	Logger           zerolog.Logger
}

func (c *GatewayConfig) setDefaults() {
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = DefaultRequestTimeout
	}
	if c.PingInterval <= 0 {
		c.PingInterval = DefaultPingInterval
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if c.MaxMessageSize <= 0 {
		c.MaxMessageSize = DefaultMaxMessageSize
	}
}

// Gateway is a JSON-RPC client over a single persistent websocket.
//
// At most one request is outstanding at any time; concurrent callers queue. The connection
// is dialled lazily, pinged every PingInterval and replaced after any transport failure.
type Gateway struct {
	cfg    GatewayConfig
	log    zerolog.Logger
	dialer *websocket.Dialer
	sem    chan struct{}

	mu     sync.Mutex
	conn   *gatewayConn
	closed bool
}

type gatewayConn struct {
	ws   *websocket.Conn
	done chan struct{}
	once sync.Once
}

func (c *gatewayConn) close() {
	c.once.Do(func() {
		close(c.done)
		c.ws.Close()
	})
}

// NewGateway creates a gateway that connects on first use.
func NewGateway(cfg GatewayConfig) *Gateway {
	cfg.setDefaults()
	return &Gateway{
		cfg: cfg,
		log: cfg.Logger.With().Str("component", "gateway").Str("url", cfg.URL).Logger(),
		dialer: &websocket.Dialer{
			HandshakeTimeout: cfg.HandshakeTimeout,
		},
		sem: make(chan struct{}, 1),
	}
}

// DialGateway creates a gateway and establishes its connection.
func DialGateway(ctx context.Context, cfg GatewayConfig) (*Gateway, error) {
	g := NewGateway(cfg)
	ctx, cancel := context.WithTimeout(ctx, g.cfg.HandshakeTimeout)
	defer cancel()
	if _, err := g.connection(ctx); err != nil {
		return nil, err
	}
	return g, nil
}

// StateCall runs the runtime API function api with the SCALE-encoded payload and returns
// the raw result bytes.
func (g *Gateway) StateCall(ctx context.Context, api string, payload []byte) ([]byte, error) {
	var result hexutil.Bytes
	if err := g.Call(ctx, StateCallMethod, []any{api, hexutil.Bytes(payload)}, &result); err != nil {
		return nil, err
	}
	return result, nil
}

// Call sends one JSON-RPC request and decodes its result into reply.
func (g *Gateway) Call(ctx context.Context, method string, params []any, reply any) error {
	select {
	case g.sem <- struct{}{}:
	case <-ctx.Done():
		return fmt.Errorf("%w: waiting to send %s: %w", ErrTransport, method, ctx.Err())
	}
	defer func() { <-g.sem }()

	ctx, cancel := context.WithTimeout(ctx, g.cfg.RequestTimeout)
	defer cancel()

	conn, err := g.connection(ctx)
	if err != nil {
		return err
	}

	body, err := json2.EncodeClientRequest(method, params)
	if err != nil {
		return fmt.Errorf("encode %s request: %w", method, err)
	}
	var req JSONRPCRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return fmt.Errorf("encode %s request: %w", method, err)
	}

	deadline, _ := ctx.Deadline()
	conn.ws.SetWriteDeadline(deadline)
	if err := conn.ws.WriteMessage(websocket.TextMessage, body); err != nil {
		g.drop(conn)
		return g.transportErr(ctx, "send "+method, err)
	}
	g.log.Debug().Str("method", method).Uint64("id", req.ID).Msg("request sent")

	conn.ws.SetReadDeadline(deadline)
	stop := context.AfterFunc(ctx, func() {
		conn.ws.SetReadDeadline(time.Now())
	})
	defer stop()

	for {
		_, msg, err := conn.ws.ReadMessage()
		if err != nil {
			g.drop(conn)
			return g.transportErr(ctx, "await "+method+" response", err)
		}

		var hdr messageHeader
		if err := json.Unmarshal(msg, &hdr); err != nil {
			g.log.Warn().Err(err).Msg("discarding unparseable message")
			continue
		}
		if hdr.ID == nil || *hdr.ID != req.ID {
			g.log.Debug().Str("method", hdr.Method).Msg("discarding unrelated message")
			continue
		}
		return decodeResponse(msg, reply)
	}
}

func decodeResponse(msg []byte, reply any) error {
	var raw json.RawMessage
	err := json2.DecodeClientResponse(bytes.NewReader(msg), &raw)

	var rpcErr *json2.Error
	switch {
	case errors.As(err, &rpcErr):
		return &RPCError{Code: int(rpcErr.Code), Message: rpcErr.Message, Data: rpcErr.Data}
	case errors.Is(err, json2.ErrNullResult):
		return fmt.Errorf("%w: null result", ErrDecode)
	case err != nil:
		return fmt.Errorf("%w: response envelope: %w", ErrDecode, err)
	}

	if err := json.Unmarshal(raw, reply); err != nil {
		return fmt.Errorf("%w: result: %w", ErrDecode, err)
	}
	return nil
}

// transportErr classifies a socket failure. The read deadline and the request deadline are
// the same instant, so the socket may report its timeout before ctx does.
func (g *Gateway) transportErr(ctx context.Context, op string, err error) error {
	ctxErr := ctx.Err()
	switch {
	case errors.Is(ctxErr, context.Canceled):
		return fmt.Errorf("%w: %s: %w", ErrTransport, op, ctxErr)
	case errors.Is(ctxErr, context.DeadlineExceeded) || isTimeout(err):
		return fmt.Errorf("%w: %s: timed out after %s: %w", ErrTransport, op, g.cfg.RequestTimeout, context.DeadlineExceeded)
	default:
		return fmt.Errorf("%w: %s: %w", ErrTransport, op, err)
	}
}

func isTimeout(err error) bool {
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// connection returns the live connection, dialling a new one if needed.
func (g *Gateway) connection(ctx context.Context) (*gatewayConn, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.closed {
		return nil, ErrGatewayClosed
	}
	if g.conn != nil {
		return g.conn, nil
	}

	ws, _, err := g.dialer.DialContext(ctx, g.cfg.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %w", ErrTransport, g.cfg.URL, err)
	}
	ws.SetReadLimit(g.cfg.MaxMessageSize)

	c := &gatewayConn{ws: ws, done: make(chan struct{})}
	g.conn = c
	go g.keepAlive(c)

	g.log.Info().Msg("connected")
	return c, nil
}

func (g *Gateway) keepAlive(c *gatewayConn) {
	ticker := time.NewTicker(g.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			deadline := time.Now().Add(g.cfg.RequestTimeout)
			if err := c.ws.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				g.log.Warn().Err(err).Msg("ping failed, dropping connection")
				g.drop(c)
				return
			}
		}
	}
}

func (g *Gateway) drop(c *gatewayConn) {
	g.mu.Lock()
	if g.conn == c {
		g.conn = nil
	}
	g.mu.Unlock()
	c.close()
}

// Close shuts the connection down. Calls made afterwards fail with ErrGatewayClosed.
func (g *Gateway) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.closed = true
	if g.conn != nil {
		g.conn.close()
		g.conn = nil
	}
	return nil
}
