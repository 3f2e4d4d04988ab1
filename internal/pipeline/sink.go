package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/web3ekko/ekko-bridge/pkg/blockchain"
	"github.com/web3ekko/ekko-bridge/pkg/decoder"
	"github.com/web3ekko/ekko-bridge/pkg/record"
)

// ResultEvent is the published outcome of one record.
type ResultEvent struct {
	RecordID      string            `json:"record_id"`
	BatchID       string            `json:"batch_id"`
	ProductID     string            `json:"product_id"`
	Method        string            `json:"method"`
	Success       bool              `json:"success"`
	Value         string            `json:"value,omitempty"`
	Reverted      bool              `json:"reverted"`
	DispatchError string            `json:"dispatch_error,omitempty"`
	GasConsumed   blockchain.Weight `json:"gas_consumed"`
	GasRequired   blockchain.Weight `json:"gas_required"`
	DebugMessage  string            `json:"debug_message,omitempty"`
	ProcessedAt   time.Time         `json:"processed_at"`
}

// NewResultEvent flattens a decoded result for publishing.
func NewResultEvent(id string, rec record.Record, res *decoder.Result) *ResultEvent {
	ev := &ResultEvent{
		RecordID:    id,
		BatchID:     rec.BatchID,
		ProductID:   rec.ProductID,
		Method:      res.Method,
		Success:     res.Succeeded(),
		Value:       res.Display,
		Reverted:    res.Reverted,
		ProcessedAt: time.Now().UTC(),
	}
	if res.DispatchError != nil {
		ev.DispatchError = res.DispatchError.String()
	}
	if res.Exec != nil {
		ev.GasConsumed = res.Exec.GasConsumed
		ev.GasRequired = res.Exec.GasRequired
		ev.DebugMessage = res.Exec.DebugMessage
	}
	return ev
}

// Sink receives every decoded result.
type Sink interface {
	Write(ctx context.Context, ev *ResultEvent) error
	Close() error
}

// LogSink reports results as log entries.
type LogSink struct {
	log zerolog.Logger
}

// NewLogSink creates a sink writing to log.
func NewLogSink(log zerolog.Logger) *LogSink {
	return &LogSink{log: log.With().Str("component", "results").Logger()}
}

// Write logs successes at info level and dispatch failures at error level.
func (s *LogSink) Write(_ context.Context, ev *ResultEvent) error {
	if ev.Success {
		s.log.Info().
			Str("record_id", ev.RecordID).
			Str("batch_id", ev.BatchID).
			Str("product_id", ev.ProductID).
			Str("method", ev.Method).
			Str("value", ev.Value).
			Bool("reverted", ev.Reverted).
			Msg("contract call succeeded")
		return nil
	}

	s.log.Error().
		Str("record_id", ev.RecordID).
		Str("batch_id", ev.BatchID).
		Str("product_id", ev.ProductID).
		Str("method", ev.Method).
		Str("dispatch_error", ev.DispatchError).
		Str("debug_message", ev.DebugMessage).
		Msg("contract dispatch failed")
	return nil
}

func (s *LogSink) Close() error {
	return nil
}

// MultiSink writes each event to every sink in order.
type MultiSink []Sink

func (m MultiSink) Write(ctx context.Context, ev *ResultEvent) error {
	var errs []error
	for _, s := range m {
		if err := s.Write(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m MultiSink) Close() error {
	var errs []error
	for _, s := range m {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
