package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/gorilla/websocket"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/web3ekko/ekko-bridge/pkg/blockchain"
	"github.com/web3ekko/ekko-bridge/pkg/contract"
	"github.com/web3ekko/ekko-bridge/pkg/decoder"
	"github.com/web3ekko/ekko-bridge/pkg/framer"
	"github.com/web3ekko/ekko-bridge/pkg/record"
)

const (
	testMethod   = "get_product_status"
	testCaller   = "5ExcvnRUfE9dWBgma5DCVeENgiq2jEo1cY4pW7J8yqvjTE3C"
	testContract = "gr4LugUgbox1qh3JdjMsecmqREXvDCmAwVc5GhyhQjgei3HyS"
)

var testFormat = blockchain.AddressFormat{Prefix: blockchain.GoroFormat, AcceptGeneric: true}

// stubCaller answers every call with the next queued response.
type stubCaller struct {
	payloads [][]byte
	replies  []func() ([]byte, error)
}

func (c *stubCaller) StateCall(_ context.Context, api string, payload []byte) ([]byte, error) {
	if api != blockchain.ContractsCallAPI {
		return nil, fmt.Errorf("unexpected api %s", api)
	}
	c.payloads = append(c.payloads, payload)
	if len(c.replies) == 0 {
		return nil, errors.New("no reply queued")
	}
	next := c.replies[0]
	c.replies = c.replies[1:]
	return next()
}

type captureSink struct {
	events []*ResultEvent
	err    error
}

func (s *captureSink) Write(_ context.Context, ev *ResultEvent) error {
	s.events = append(s.events, ev)
	return s.err
}

func (s *captureSink) Close() error { return nil }

func loadSchema(t *testing.T) *contract.Schema {
	t.Helper()
	s, err := contract.Load(context.Background(), contract.FileSource{Path: "../../pkg/contract/testdata/rantai_suplai.json"})
	require.NoError(t, err)
	return s
}

func testIdentity(t *testing.T) blockchain.Identity {
	t.Helper()
	id, err := blockchain.NewIdentity(testCaller, testContract, testFormat)
	require.NoError(t, err)
	return id
}

func successReply(t *testing.T, s *contract.Schema, n int64) []byte {
	t.Helper()
	data, err := s.EncodeReturn(testMethod, &contract.Variant{Name: "Ok", Fields: []contract.Field{{Value: big.NewInt(n)}}})
	require.NoError(t, err)
	raw, err := (&blockchain.ExecResult{
		GasConsumed:    blockchain.Weight{RefTime: 1000, ProofSize: 10},
		StorageDeposit: blockchain.StorageDeposit{Amount: new(big.Int)},
		Return:         &blockchain.ExecReturnValue{Data: data},
	}).Encode()
	require.NoError(t, err)
	return raw
}

func dispatchFailureReply(t *testing.T) []byte {
	t.Helper()
	raw, err := (&blockchain.ExecResult{
		StorageDeposit: blockchain.StorageDeposit{Amount: new(big.Int)},
		DispatchError:  &blockchain.DispatchError{Kind: "Module", Module: &blockchain.ModuleError{Index: 70, Error: [4]byte{0x0b}}},
	}).Encode()
	require.NoError(t, err)
	return raw
}

func reply(raw []byte) func() ([]byte, error) {
	return func() ([]byte, error) { return raw, nil }
}

func fail(err error) func() ([]byte, error) {
	return func() ([]byte, error) { return nil, err }
}

func newTestPipeline(t *testing.T, caller Caller, sink Sink, abort bool, log zerolog.Logger) *Pipeline {
	t.Helper()
	s := loadSchema(t)
	return New(Options{
		Parser:       record.NewParser(record.DefaultDelimiter, false),
		Builder:      blockchain.NewCallBuilder(s, testMethod, testIdentity(t)),
		Caller:       caller,
		Decoder:      decoder.NewDecoder(s, testMethod),
		Sink:         sink,
		AbortOnError: abort,
		Logger:       log,
	})
}

// findLog returns the first JSON log entry with the given message.
func findLog(t *testing.T, logs *bytes.Buffer, msg string) map[string]any {
	t.Helper()
	for _, line := range strings.Split(strings.TrimSpace(logs.String()), "\n") {
		var entry map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &entry))
		if entry["message"] == msg {
			return entry
		}
	}
	require.Failf(t, "log entry not found", "%q in %s", msg, logs.String())
	return nil
}

func expectedPayload(t *testing.T, args ...string) []byte {
	t.Helper()
	s := loadSchema(t)
	input, err := s.EncodeCall(testMethod, args)
	require.NoError(t, err)
	id := testIdentity(t)
	payload, err := (&blockchain.CallEnvelope{
		Origin:    id.Caller,
		Dest:      id.Contract,
		Value:     new(big.Int),
		InputData: input,
	}).Encode()
	require.NoError(t, err)
	return payload
}

func TestPipeline_EndToEnd(t *testing.T) {
	s := loadSchema(t)
	upgrader := websocket.Upgrader{}
	requests := make(chan blockchain.JSONRPCRequest, 4)
	result := hexutil.Encode(successReply(t, s, 3))

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			var req blockchain.JSONRPCRequest
			if err := conn.ReadJSON(&req); err != nil {
				return
			}
			requests <- req
			conn.WriteJSON(blockchain.JSONRPCResponse{
				JSONRPC: "2.0",
				ID:      req.ID,
				Result:  result,
			})
		}
	}))
	defer srv.Close()

	gw := blockchain.NewGateway(blockchain.GatewayConfig{
		URL:            "ws" + strings.TrimPrefix(srv.URL, "http"),
		RequestTimeout: time.Second,
		PingInterval:   time.Second,
		Logger:         zerolog.Nop(),
	})
	defer gw.Close()

	var logs bytes.Buffer
	p := newTestPipeline(t, gw, nil, false, zerolog.New(&logs))

	err := p.Run(context.Background(), framer.New(strings.NewReader("A1 - P9\n")))
	require.NoError(t, err)

	require.Len(t, requests, 1)
	req := <-requests
	assert.Equal(t, blockchain.StateCallMethod, req.Method)
	require.Len(t, req.Params, 2)
	assert.Equal(t, blockchain.ContractsCallAPI, req.Params[0])
	assert.Equal(t, hexutil.Encode(expectedPayload(t, "A1", "P9")), req.Params[1])

	success := findLog(t, &logs, "contract call succeeded")
	assert.Equal(t, "info", success["level"])
	assert.Equal(t, "Ok(3)", success["value"])
	assert.Equal(t, "A1", success["batch_id"])
	assert.Equal(t, "P9", success["product_id"])
}

func TestPipeline_ProcessLine(t *testing.T) {
	s := loadSchema(t)
	caller := &stubCaller{replies: []func() ([]byte, error){reply(successReply(t, s, 7))}}
	sink := &captureSink{}
	p := newTestPipeline(t, caller, sink, false, zerolog.Nop())

	ev, err := p.ProcessLine(context.Background(), "B100 - P200\r")
	require.NoError(t, err)
	assert.True(t, ev.Success)
	assert.Equal(t, "Ok(7)", ev.Value)
	assert.Equal(t, "B100", ev.BatchID)
	assert.Equal(t, "P200", ev.ProductID)
	assert.Equal(t, uint64(1000), ev.GasConsumed.RefTime)
	assert.NotEmpty(t, ev.RecordID)
	require.Len(t, sink.events, 1)
	assert.Same(t, ev, sink.events[0])

	require.Len(t, caller.payloads, 1)
	assert.Equal(t, expectedPayload(t, "B100", "P200"), caller.payloads[0])
}

func TestPipeline_DispatchFailureContinues(t *testing.T) {
	s := loadSchema(t)
	caller := &stubCaller{replies: []func() ([]byte, error){
		reply(dispatchFailureReply(t)),
		reply(successReply(t, s, 1)),
	}}
	sink := &captureSink{}
	var logs bytes.Buffer
	p := newTestPipeline(t, caller, sink, true, zerolog.New(&logs))

	err := p.Run(context.Background(), framer.New(strings.NewReader("A1 - P1\nA2 - P2\n")))
	require.NoError(t, err)

	require.Len(t, sink.events, 2)
	assert.False(t, sink.events[0].Success)
	assert.Equal(t, "Module { index: 70, error: 0x0b000000 }", sink.events[0].DispatchError)
	assert.True(t, sink.events[1].Success)
}

func TestPipeline_LogSinkLevels(t *testing.T) {
	caller := &stubCaller{replies: []func() ([]byte, error){reply(dispatchFailureReply(t))}}
	var logs bytes.Buffer
	p := newTestPipeline(t, caller, nil, false, zerolog.New(&logs))

	_, err := p.ProcessLine(context.Background(), "A1 - P1")
	require.NoError(t, err)

	entry := findLog(t, &logs, "contract dispatch failed")
	assert.Equal(t, "error", entry["level"])
	assert.Equal(t, "Module { index: 70, error: 0x0b000000 }", entry["dispatch_error"])
}

func TestPipeline_RecordErrors(t *testing.T) {
	s := loadSchema(t)
	transport := fmt.Errorf("%w: connection refused", blockchain.ErrTransport)

	tests := []struct {
		name    string
		input   string
		replies []func() ([]byte, error)
		state   State
		target  error
	}{
		{
			name:   "malformed record",
			input:  "onlyonefield\n",
			state:  AwaitingLine,
			target: record.ErrMalformedRecord,
		},
		{
			name:   "invalid utf-8",
			input:  "A1 - \xff\n",
			state:  AwaitingLine,
			target: framer.ErrFraming,
		},
		{
			name:   "overlong line",
			input:  strings.Repeat("x", framer.DefaultMaxLineLength+1) + "\n",
			state:  AwaitingLine,
			target: framer.ErrFraming,
		},
		{
			name:    "transport",
			input:   "A1 - P1\n",
			replies: []func() ([]byte, error){fail(transport)},
			state:   EnvelopeBuilt,
			target:  blockchain.ErrTransport,
		},
		{
			name:    "decode",
			input:   "A1 - P1\n",
			replies: []func() ([]byte, error){reply([]byte{0xff})},
			state:   RequestSent,
			target:  blockchain.ErrDecode,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name+"/skip", func(t *testing.T) {
			replies := append(append([]func() ([]byte, error){}, tt.replies...), reply(successReply(t, s, 5)))
			sink := &captureSink{}
			p := newTestPipeline(t, &stubCaller{replies: replies}, sink, false, zerolog.Nop())

			err := p.Run(context.Background(), framer.New(strings.NewReader(tt.input+"OK - 1\n")))
			require.NoError(t, err)
			require.Len(t, sink.events, 1)
			assert.Equal(t, "OK", sink.events[0].BatchID)
		})

		t.Run(tt.name+"/abort", func(t *testing.T) {
			sink := &captureSink{}
			p := newTestPipeline(t, &stubCaller{replies: tt.replies}, sink, true, zerolog.Nop())

			err := p.Run(context.Background(), framer.New(strings.NewReader(tt.input+"OK - 1\n")))
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.target)
			assert.True(t, Recoverable(err))

			var stage *StageError
			require.ErrorAs(t, err, &stage)
			assert.Equal(t, tt.state, stage.State)
			assert.Empty(t, sink.events)
		})
	}
}

type errReader struct{ err error }

func (r errReader) Next() (string, error) { return "", r.err }

func TestPipeline_FatalReadError(t *testing.T) {
	p := newTestPipeline(t, &stubCaller{}, &captureSink{}, false, zerolog.Nop())

	err := p.Run(context.Background(), errReader{err: errors.New("device unplugged")})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "device unplugged")
	assert.False(t, Recoverable(err))
}

func TestPipeline_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p := newTestPipeline(t, &stubCaller{}, &captureSink{}, false, zerolog.Nop())

	err := p.Run(ctx, errReader{err: errors.New("file already closed")})
	assert.NoError(t, err)
}

// cancelCaller cancels the run while the call is in flight, as a shutdown signal would.
type cancelCaller struct{ cancel context.CancelFunc }

func (c cancelCaller) StateCall(ctx context.Context, _ string, _ []byte) ([]byte, error) {
	c.cancel()
	<-ctx.Done()
	return nil, fmt.Errorf("%w: state_call: %w", blockchain.ErrTransport, ctx.Err())
}

func TestPipeline_ShutdownDuringCall(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var logs bytes.Buffer
	sink := &captureSink{}
	p := newTestPipeline(t, cancelCaller{cancel: cancel}, sink, true, zerolog.New(&logs).Level(zerolog.DebugLevel))

	err := p.Run(ctx, framer.New(strings.NewReader("A1 - P1\nA2 - P2\n")))
	require.NoError(t, err)
	assert.Empty(t, sink.events)

	entry := findLog(t, &logs, "record abandoned on shutdown")
	assert.Equal(t, "debug", entry["level"])
	assert.Equal(t, EnvelopeBuilt.String(), entry["stage"])
	assert.NotContains(t, logs.String(), `"message":"record failed"`)
	findLog(t, &logs, "pipeline stopped")
}

func TestPipeline_SinkFailureIsNotFatal(t *testing.T) {
	s := loadSchema(t)
	caller := &stubCaller{replies: []func() ([]byte, error){reply(successReply(t, s, 2))}}
	sink := &captureSink{err: errors.New("broker down")}
	p := newTestPipeline(t, caller, sink, true, zerolog.Nop())

	ev, err := p.ProcessLine(context.Background(), "A1 - P1")
	require.NoError(t, err)
	assert.True(t, ev.Success)
}

func TestRecoverable(t *testing.T) {
	assert.True(t, Recoverable(&StageError{Err: fmt.Errorf("%w: bad", contract.ErrSchema)}))
	assert.True(t, Recoverable(&blockchain.RPCError{Code: -32000}))
	assert.False(t, Recoverable(blockchain.ErrIdentity))
	assert.False(t, Recoverable(errors.New("boom")))
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "awaiting_line", AwaitingLine.String())
	assert.Equal(t, "result_decoded", ResultDecoded.String())
	assert.Equal(t, "state(9)", State(9).String())
}

type fakePublisher struct {
	subject string
	data    []byte
}

func (p *fakePublisher) Publish(subj string, data []byte, _ ...nats.PubOpt) (*nats.PubAck, error) {
	p.subject = subj
	p.data = data
	return &nats.PubAck{Stream: "BRIDGE", Sequence: 1}, nil
}

func TestNATSSink_Write(t *testing.T) {
	pub := &fakePublisher{}
	sink := newNATSSink(pub, "bridge.results", zerolog.Nop())

	ev := &ResultEvent{RecordID: "r-1", BatchID: "A1", ProductID: "P9", Method: testMethod, Success: true, Value: "Ok(3)"}
	require.NoError(t, sink.Write(context.Background(), ev))
	assert.Equal(t, "bridge.results", pub.subject)

	var got ResultEvent
	require.NoError(t, json.Unmarshal(pub.data, &got))
	assert.Equal(t, "r-1", got.RecordID)
	assert.Equal(t, "Ok(3)", got.Value)

	require.NoError(t, sink.Close())
	assert.ErrorIs(t, sink.Write(context.Background(), ev), ErrSinkClosed)
}

func TestMultiSink(t *testing.T) {
	a := &captureSink{}
	b := &captureSink{err: errors.New("b failed")}
	c := &captureSink{}
	m := MultiSink{a, b, c}

	err := m.Write(context.Background(), &ResultEvent{RecordID: "x"})
	assert.ErrorContains(t, err, "b failed")
	assert.Len(t, a.events, 1)
	assert.Len(t, c.events, 1)
	assert.NoError(t, m.Close())
}
