package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
)

// ErrSinkClosed is returned by Write after Close.
var ErrSinkClosed = errors.New("sink closed")

type publisher interface {
	Publish(subj string, data []byte, opts ...nats.PubOpt) (*nats.PubAck, error)
}

// NATSSink publishes result events to a JetStream subject.
type NATSSink struct {
	conn    *nats.Conn
	js      publisher
	subject string
	closed  bool
	log     zerolog.Logger
}

// NewNATSSink connects to url and makes sure stream captures subject.
func NewNATSSink(url, stream, subject string, log zerolog.Logger) (*NATSSink, error) {
	if url == "" {
		url = nats.DefaultURL
	}

	conn, err := nats.Connect(url, nats.RetryOnFailedConnect(true), nats.MaxReconnects(-1))
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}

	js, err := conn.JetStream()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("create JetStream context: %w", err)
	}

	sink, err := NewJetStreamSink(js, stream, subject, log)
	if err != nil {
		conn.Close()
		return nil, err
	}
	sink.conn = conn
	return sink, nil
}

// NewJetStreamSink publishes through an existing JetStream context, creating stream if needed.
// Closing the sink leaves the underlying connection open.
func NewJetStreamSink(js nats.JetStreamContext, stream, subject string, log zerolog.Logger) (*NATSSink, error) {
	log = log.With().Str("component", "nats_sink").Str("subject", subject).Logger()

	if _, err := js.StreamInfo(stream); err != nil {
		log.Info().Str("stream", stream).Msg("creating stream")
		_, err = js.AddStream(&nats.StreamConfig{
			Name:      stream,
			Subjects:  []string{subject},
			// results published before a consumer attaches are kept until MaxAge
			Retention: nats.LimitsPolicy,
			Storage:   nats.FileStorage,
			MaxAge:    24 * time.Hour,
			Replicas:  1,
		})
		if err != nil {
			return nil, fmt.Errorf("create stream %s: %w", stream, err)
		}
	}

	return newNATSSink(js, subject, log), nil
}

func newNATSSink(js publisher, subject string, log zerolog.Logger) *NATSSink {
	return &NATSSink{js: js, subject: subject, log: log}
}

// Write publishes ev as JSON. The record id doubles as the JetStream message id so a
// redelivered event is deduplicated.
func (s *NATSSink) Write(ctx context.Context, ev *ResultEvent) error {
	if s.closed {
		return ErrSinkClosed
	}

	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}

	ack, err := s.js.Publish(s.subject, data, nats.Context(ctx), nats.MsgId(ev.RecordID))
	if err != nil {
		return fmt.Errorf("publish to NATS: %w", err)
	}
	s.log.Debug().Str("record_id", ev.RecordID).Uint64("seq", ack.Sequence).Msg("result published")
	return nil
}

// Close drains the connection if the sink owns one.
func (s *NATSSink) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	if s.conn != nil {
		return s.conn.Drain()
	}
	return nil
}
