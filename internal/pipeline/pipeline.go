// Package pipeline forwards device records to a contract and reports the decoded results.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/web3ekko/ekko-bridge/internal/metrics"
	"github.com/web3ekko/ekko-bridge/pkg/blockchain"
	"github.com/web3ekko/ekko-bridge/pkg/contract"
	"github.com/web3ekko/ekko-bridge/pkg/decoder"
	"github.com/web3ekko/ekko-bridge/pkg/framer"
	"github.com/web3ekko/ekko-bridge/pkg/record"
)

// State is the position of a record in the forwarding loop.
type State int

const (
	AwaitingLine State = iota
	RecordReady
	EnvelopeBuilt
	RequestSent
	ResultDecoded
)

func (s State) String() string {
	switch s {
	case AwaitingLine:
		return "awaiting_line"
	case RecordReady:
		return "record_ready"
	case EnvelopeBuilt:
		return "envelope_built"
	case RequestSent:
		return "request_sent"
	case ResultDecoded:
		return "result_decoded"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// StageError reports the state a record was in when its processing failed.
type StageError struct {
	State State
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("record failed at %s: %v", e.State, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// Recoverable reports whether err only spoils the record it occurred on.
func Recoverable(err error) bool {
	for _, target := range []error{
		framer.ErrFraming,
		record.ErrMalformedRecord,
		contract.ErrSchema,
		contract.ErrCodec,
		blockchain.ErrTransport,
		blockchain.ErrRPC,
		blockchain.ErrDecode,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// LineReader yields one framed line per call and io.EOF when the device stream closes.
type LineReader interface {
	Next() (string, error)
}

// Caller executes a runtime API call against a node.
type Caller interface {
	StateCall(ctx context.Context, api string, payload []byte) ([]byte, error)
}

// Options wires the collaborators of a Pipeline.
type Options struct {
	Parser     *record.Parser
	Builder    *blockchain.CallBuilder
	Caller     Caller
	Decoder    *decoder.Decoder
	RuntimeAPI string
	Sink       Sink
	Metrics    *metrics.Metrics
	// AbortOnError stops Run on the first record-level failure.
	AbortOnError bool
	Logger       zerolog.Logger
}

// Pipeline processes one record at a time: parse, build, call, decode, report.
type Pipeline struct {
	parser  *record.Parser
	builder *blockchain.CallBuilder
	caller  Caller
	decoder *decoder.Decoder
	api     string
	sink    Sink
	metrics *metrics.Metrics
	abort   bool
	log     zerolog.Logger
}

// New creates a Pipeline. A nil Parser uses the default delimiter and a nil Sink logs results.
func New(opts Options) *Pipeline {
	p := &Pipeline{
		parser:  opts.Parser,
		builder: opts.Builder,
		caller:  opts.Caller,
		decoder: opts.Decoder,
		api:     opts.RuntimeAPI,
		sink:    opts.Sink,
		metrics: opts.Metrics,
		abort:   opts.AbortOnError,
		log:     opts.Logger.With().Str("component", "pipeline").Logger(),
	}
	if p.parser == nil {
		p.parser = record.NewParser(record.DefaultDelimiter, false)
	}
	if p.api == "" {
		p.api = blockchain.ContractsCallAPI
	}
	if p.sink == nil {
		p.sink = NewLogSink(opts.Logger)
	}
	return p
}

// Run reads lines until the stream closes or ctx is cancelled.
//
// Record-level failures are logged and skipped unless the pipeline aborts on error, in
// which case the first one is returned. Read failures other than framing errors are fatal.
func (p *Pipeline) Run(ctx context.Context, lines LineReader) error {
	p.log.Info().Str("method", p.builder.Method()).Msg("waiting for records")

	for {
		line, err := lines.Next()
		if ctx.Err() != nil {
			p.log.Info().Msg("pipeline stopped")
			return nil
		}
		switch {
		case err == nil:
			_, err = p.ProcessLine(ctx, line)
		case errors.Is(err, io.EOF):
			p.log.Info().Msg("device stream closed")
			return nil
		case errors.Is(err, framer.ErrFraming):
			err = p.fail(p.log.With().Str("record_id", uuid.NewString()).Logger(), AwaitingLine, err)
		default:
			return fmt.Errorf("read device: %w", err)
		}

		if ctx.Err() != nil {
			p.log.Info().Msg("pipeline stopped")
			return nil
		}
		if err != nil && (p.abort || !Recoverable(err)) {
			return err
		}
	}
}

// ProcessLine takes one line through the whole forwarding sequence and reports the result to
// the sink. A dispatch failure is a result, not an error.
func (p *Pipeline) ProcessLine(ctx context.Context, line string) (*ResultEvent, error) {
	id := uuid.NewString()
	log := p.log.With().Str("record_id", id).Logger()

	rec, err := p.parser.Parse(line)
	if err != nil {
		return nil, p.fail(log, AwaitingLine, err)
	}
	log = log.With().Str("batch_id", rec.BatchID).Str("product_id", rec.ProductID).Logger()

	env, err := p.builder.Build(rec.Args())
	if err != nil {
		return nil, p.fail(log, RecordReady, err)
	}
	payload, err := env.Encode()
	if err != nil {
		return nil, p.fail(log, RecordReady, err)
	}
	log.Debug().Str("input_data", hexutil.Encode(env.InputData)).Msg("envelope built")

	start := time.Now()
	raw, err := p.caller.StateCall(ctx, p.api, payload)
	p.metrics.ObserveRPC(time.Since(start))
	if err != nil {
		return nil, p.fail(log, EnvelopeBuilt, err)
	}

	res, err := p.decoder.Decode(raw)
	if err != nil {
		return nil, p.fail(log, RequestSent, err)
	}

	event := NewResultEvent(id, rec, res)
	if res.Succeeded() {
		p.metrics.Record(metrics.OutcomeSuccess, "")
	} else {
		p.metrics.Record(metrics.OutcomeDispatchFailed, "")
	}
	if err := p.sink.Write(ctx, event); err != nil {
		log.Warn().Err(err).Msg("result sink failed")
	}
	return event, nil
}

func (p *Pipeline) fail(log zerolog.Logger, state State, err error) error {
	if errors.Is(err, context.Canceled) {
		log.Debug().Err(err).Str("stage", state.String()).Msg("record abandoned on shutdown")
		return &StageError{State: state, Err: err}
	}
	p.metrics.Record(metrics.OutcomeFailed, state.String())
	log.Error().Err(err).Str("stage", state.String()).Msg("record failed")
	return &StageError{State: state, Err: err}
}
