package blockchain_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/web3ekko/ekko-bridge/pkg/blockchain"
)

// fakeNode is a websocket JSON-RPC server that answers each request from its own goroutine,
// so a client that pipelined requests would be observed with more than one pending.
type fakeNode struct {
	srv    *httptest.Server
	handle func(req blockchain.JSONRPCRequest) *blockchain.JSONRPCResponse

	delay      atomic.Int64
	preamble   [][]byte
	pending    atomic.Int32
	maxPending atomic.Int32
	conns      atomic.Int32
}

func newFakeNode(t *testing.T, handle func(req blockchain.JSONRPCRequest) *blockchain.JSONRPCResponse) *fakeNode {
	t.Helper()
	n := &fakeNode{handle: handle}
	upgrader := websocket.Upgrader{}

	n.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		n.conns.Add(1)

		var writeMu sync.Mutex
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var req blockchain.JSONRPCRequest
			if err := json.Unmarshal(msg, &req); err != nil {
				return
			}

			p := n.pending.Add(1)
			for {
				m := n.maxPending.Load()
				if p <= m || n.maxPending.CompareAndSwap(m, p) {
					break
				}
			}

			go func() {
				time.Sleep(time.Duration(n.delay.Load()))
				resp := n.handle(req)
				n.pending.Add(-1)

				writeMu.Lock()
				defer writeMu.Unlock()
				for _, m := range n.preamble {
					conn.WriteMessage(websocket.TextMessage, m)
				}
				if resp != nil {
					resp.JSONRPC = "2.0"
					resp.ID = req.ID
					conn.WriteJSON(resp)
				}
			}()
		}
	}))
	t.Cleanup(n.srv.Close)
	return n
}

func (n *fakeNode) url() string {
	return "ws" + strings.TrimPrefix(n.srv.URL, "http")
}

func echoNode(t *testing.T) *fakeNode {
	return newFakeNode(t, func(req blockchain.JSONRPCRequest) *blockchain.JSONRPCResponse {
		return &blockchain.JSONRPCResponse{Result: req.Params[1]}
	})
}

func testGateway(t *testing.T, url string) *blockchain.Gateway {
	t.Helper()
	g := blockchain.NewGateway(blockchain.GatewayConfig{
		URL:            url,
		RequestTimeout: time.Second,
		PingInterval:   50 * time.Millisecond,
		Logger:         zerolog.Nop(),
	})
	t.Cleanup(func() { g.Close() })
	return g
}

func TestGateway_StateCall(t *testing.T) {
	seen := make(chan blockchain.JSONRPCRequest, 1)
	node := newFakeNode(t, func(req blockchain.JSONRPCRequest) *blockchain.JSONRPCResponse {
		seen <- req
		return &blockchain.JSONRPCResponse{Result: "0x0102ff"}
	})
	g := testGateway(t, node.url())

	res, err := g.StateCall(context.Background(), blockchain.ContractsCallAPI, []byte{0xca, 0xfe})
	require.NoError(t, err)
	assert.Equal(t, []byte{0x01, 0x02, 0xff}, res)

	got := <-seen
	assert.Equal(t, "2.0", got.JSONRPC)
	assert.Equal(t, "state_call", got.Method)
	assert.Equal(t, []any{"ContractsApi_call", "0xcafe"}, got.Params)
}

func TestGateway_RPCError(t *testing.T) {
	node := newFakeNode(t, func(req blockchain.JSONRPCRequest) *blockchain.JSONRPCResponse {
		return &blockchain.JSONRPCResponse{Error: &blockchain.JSONRPCError{Code: -32602, Message: "Invalid params"}}
	})
	g := testGateway(t, node.url())

	_, err := g.StateCall(context.Background(), blockchain.ContractsCallAPI, []byte{0x00})
	require.Error(t, err)
	assert.ErrorIs(t, err, blockchain.ErrRPC)
	assert.NotErrorIs(t, err, blockchain.ErrTransport)

	var rpcErr *blockchain.RPCError
	require.True(t, errors.As(err, &rpcErr))
	assert.Equal(t, -32602, rpcErr.Code)
	assert.Equal(t, "Invalid params", rpcErr.Message)
}

func TestGateway_BadResult(t *testing.T) {
	results := []any{nil, "not-hex", 42}
	for _, r := range results {
		node := newFakeNode(t, func(req blockchain.JSONRPCRequest) *blockchain.JSONRPCResponse {
			return &blockchain.JSONRPCResponse{Result: r}
		})
		g := testGateway(t, node.url())

		_, err := g.StateCall(context.Background(), blockchain.ContractsCallAPI, nil)
		assert.ErrorIs(t, err, blockchain.ErrDecode, "result %v", r)
	}
}

func TestGateway_SkipsUnrelatedMessages(t *testing.T) {
	node := echoNode(t)
	node.preamble = [][]byte{
		[]byte(`{"jsonrpc":"2.0","method":"chain_newHead","params":{"result":{}}}`),
		[]byte(`{"jsonrpc":"2.0","id":1,"result":"0xdead"}`),
		[]byte(`not json`),
	}
	g := testGateway(t, node.url())

	res, err := g.StateCall(context.Background(), blockchain.ContractsCallAPI, []byte{0xbe, 0xef})
	require.NoError(t, err)
	assert.Equal(t, []byte{0xbe, 0xef}, res)
}

func TestGateway_Timeout(t *testing.T) {
	node := echoNode(t)
	node.delay.Store(int64(300 * time.Millisecond))

	g := blockchain.NewGateway(blockchain.GatewayConfig{
		URL:            node.url(),
		RequestTimeout: 50 * time.Millisecond,
		Logger:         zerolog.Nop(),
	})
	defer g.Close()

	_, err := g.StateCall(context.Background(), blockchain.ContractsCallAPI, []byte{0x01})
	require.Error(t, err)
	assert.ErrorIs(t, err, blockchain.ErrTransport)
	assert.Contains(t, err.Error(), "timed out")

	// the broken connection is replaced on the next call
	node.delay.Store(0)
	res, err := g.StateCall(context.Background(), blockchain.ContractsCallAPI, []byte{0x02})
	require.NoError(t, err)
	assert.Equal(t, []byte{0x02}, res)
	assert.Equal(t, int32(2), node.conns.Load())
}

func TestGateway_KeepAliveRedialsDeadConnection(t *testing.T) {
	var conns, pings atomic.Int32
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		n := conns.Add(1)

		replied := false
		conn.SetPingHandler(func(data string) error {
			pings.Add(1)
			if n == 1 && replied {
				// drop the socket without a close frame
				return conn.UnderlyingConn().Close()
			}
			return conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(time.Second))
		})

		for {
			var req blockchain.JSONRPCRequest
			if err := conn.ReadJSON(&req); err != nil {
				return
			}
			conn.WriteJSON(blockchain.JSONRPCResponse{JSONRPC: "2.0", ID: req.ID, Result: req.Params[1]})
			replied = true
		}
	}))
	defer srv.Close()

	g := blockchain.NewGateway(blockchain.GatewayConfig{
		URL:            "ws" + strings.TrimPrefix(srv.URL, "http"),
		RequestTimeout: time.Second,
		PingInterval:   20 * time.Millisecond,
		Logger:         zerolog.Nop(),
	})
	defer g.Close()

	res, err := g.StateCall(context.Background(), blockchain.ContractsCallAPI, []byte{0x01})
	require.NoError(t, err)
	assert.Equal(t, []byte{0x01}, res)

	// the failed ping drops the connection before the next call needs it
	time.Sleep(300 * time.Millisecond)

	res, err = g.StateCall(context.Background(), blockchain.ContractsCallAPI, []byte{0x02})
	require.NoError(t, err)
	assert.Equal(t, []byte{0x02}, res)
	assert.Equal(t, int32(2), conns.Load())

	// the replacement connection is pinged too
	seen := pings.Load()
	assert.Eventually(t, func() bool { return pings.Load() > seen }, time.Second, 10*time.Millisecond)
}

func TestGateway_OneInFlight(t *testing.T) {
	node := echoNode(t)
	node.delay.Store(int64(20 * time.Millisecond))
	g := testGateway(t, node.url())

	const callers = 8
	var wg sync.WaitGroup
	errs := make(chan error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := g.StateCall(context.Background(), blockchain.ContractsCallAPI, []byte{byte(i)})
			if err == nil && (len(res) != 1 || res[0] != byte(i)) {
				err = errors.New("response routed to the wrong caller")
			}
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		assert.NoError(t, err)
	}
	assert.Equal(t, int32(1), node.maxPending.Load())
	assert.Equal(t, int32(1), node.conns.Load())
}

func TestGateway_ContextCancelled(t *testing.T) {
	node := echoNode(t)
	node.delay.Store(int64(500 * time.Millisecond))
	g := testGateway(t, node.url())

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	_, err := g.StateCall(ctx, blockchain.ContractsCallAPI, []byte{0x01})
	assert.ErrorIs(t, err, blockchain.ErrTransport)
}

func TestGateway_DialFailure(t *testing.T) {
	node := echoNode(t)
	url := node.url()
	node.srv.Close()

	_, err := blockchain.DialGateway(context.Background(), blockchain.GatewayConfig{URL: url, Logger: zerolog.Nop()})
	assert.ErrorIs(t, err, blockchain.ErrTransport)
}

func TestGateway_Closed(t *testing.T) {
	node := echoNode(t)
	g, err := blockchain.DialGateway(context.Background(), blockchain.GatewayConfig{URL: node.url(), Logger: zerolog.Nop()})
	require.NoError(t, err)
	require.NoError(t, g.Close())

	_, err = g.StateCall(context.Background(), blockchain.ContractsCallAPI, nil)
	assert.ErrorIs(t, err, blockchain.ErrGatewayClosed)
	assert.ErrorIs(t, err, blockchain.ErrTransport)
}
