package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/web3ekko/ekko-bridge/internal/config"
	"github.com/web3ekko/ekko-bridge/internal/metrics"
	"github.com/web3ekko/ekko-bridge/internal/pipeline"
	"github.com/web3ekko/ekko-bridge/pkg/blockchain"
	"github.com/web3ekko/ekko-bridge/pkg/contract"
	"github.com/web3ekko/ekko-bridge/pkg/decoder"
	"github.com/web3ekko/ekko-bridge/pkg/record"
)

// bridge holds everything that is set up once before the first record is read.
type bridge struct {
	identity blockchain.Identity
	schema   *contract.Schema
	builder  *blockchain.CallBuilder
	decoder  *decoder.Decoder
	parser   *record.Parser
	closers  []io.Closer
}

// newBridge decodes the identities and loads the schema. Either failing is fatal.
func newBridge(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*bridge, error) {
	identity, err := blockchain.NewIdentity(cfg.Contract.Caller, cfg.Contract.Address, blockchain.AddressFormat{
		Prefix:        cfg.Contract.SS58Format,
		AcceptGeneric: cfg.Contract.AcceptGenericFormat,
	})
	if err != nil {
		return nil, err
	}

	b := &bridge{identity: identity}
	src, err := b.schemaSource(cfg)
	if err != nil {
		b.Close()
		return nil, err
	}
	if b.schema, err = contract.Load(ctx, src); err != nil {
		b.Close()
		return nil, err
	}
	if _, err := b.schema.Message(cfg.Contract.Method); err != nil {
		b.Close()
		return nil, err
	}

	log.Info().
		Str("source", src.String()).
		Str("contract", b.schema.Name()).
		Str("version", b.schema.Version()).
		Int("messages", len(b.schema.Messages())).
		Msg("contract schema loaded")

	b.builder = blockchain.NewCallBuilder(b.schema, cfg.Contract.Method, identity)
	b.decoder = decoder.NewDecoder(b.schema, cfg.Contract.Method)
	b.parser = record.NewParser(cfg.Pipeline.Delimiter, cfg.Pipeline.StrictFields)
	return b, nil
}

func (b *bridge) schemaSource(cfg *config.Config) (contract.Source, error) {
	switch {
	case cfg.Contract.RedisKey != "":
		client, err := newRedisClient(cfg.RedisURL)
		if err != nil {
			return nil, err
		}
		b.closers = append(b.closers, client)
		return contract.NewRedisSource(client, cfg.Contract.RedisKey), nil
	case cfg.Contract.MinioObject != "":
		return contract.NewMinioSource(minioConfig(cfg), cfg.Contract.MinioObject)
	default:
		return contract.FileSource{Path: cfg.Contract.Metadata}, nil
	}
}

// gateway creates the node connection. It dials lazily unless eager is set.
func (b *bridge) gateway(ctx context.Context, cfg *config.Config, log zerolog.Logger, eager bool) (*blockchain.Gateway, error) {
	gcfg := blockchain.GatewayConfig{
		URL:              cfg.Node.WebSocketURL,
		RequestTimeout:   cfg.Node.RequestTimeout,
		PingInterval:     cfg.Node.PingInterval,
		HandshakeTimeout: cfg.Node.HandshakeTimeout,
		Logger:           log,
	}

	var gw *blockchain.Gateway
	if eager {
		var err error
		if gw, err = blockchain.DialGateway(ctx, gcfg); err != nil {
			return nil, err
		}
	} else {
		gw = blockchain.NewGateway(gcfg)
	}
	b.closers = append(b.closers, gw)
	return gw, nil
}

// sinks returns the result observers: the log always, NATS when configured.
func (b *bridge) sinks(cfg *config.Config, log zerolog.Logger) (pipeline.Sink, error) {
	sinks := pipeline.MultiSink{pipeline.NewLogSink(log)}
	if cfg.NATS.URL != "" {
		ns, err := pipeline.NewNATSSink(cfg.NATS.URL, cfg.NATS.Stream, cfg.NATS.Subject, log)
		if err != nil {
			return nil, err
		}
		b.closers = append(b.closers, ns)
		sinks = append(sinks, ns)
	}
	return sinks, nil
}

// newMetrics registers the bridge collectors and serves them when an address is configured.
func (b *bridge) newMetrics(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*metrics.Metrics, error) {
	if cfg.MetricsAddr == "" {
		return nil, nil
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m, err := metrics.New(reg)
	if err != nil {
		return nil, err
	}

	go func() {
		if err := metrics.Serve(ctx, cfg.MetricsAddr, reg, log); err != nil {
			log.Error().Err(err).Str("addr", cfg.MetricsAddr).Msg("metrics endpoint stopped")
		}
	}()
	return m, nil
}

func (b *bridge) Close() error {
	var errs []error
	for i := len(b.closers) - 1; i >= 0; i-- {
		if err := b.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	b.closers = nil
	return errors.Join(errs...)
}

func newRedisClient(rawURL string) (*redis.Client, error) {
	if rawURL == "" {
		return nil, errors.New("redis_url is not set")
	}
	opt, err := redis.ParseURL(rawURL)
	if err != nil {
		opt = &redis.Options{Addr: rawURL}
	}
	return redis.NewClient(opt), nil
}

func minioConfig(cfg *config.Config) contract.MinioConfig {
	return contract.MinioConfig{
		Endpoint:   cfg.Minio.Endpoint,
		AccessKey:  cfg.Minio.AccessKey,
		SecretKey:  cfg.Minio.SecretKey,
		UseSSL:     cfg.Minio.UseSSL,
		BucketName: cfg.Minio.Bucket,
		BasePath:   cfg.Minio.BasePath,
	}
}

func policyAborts(cfg *config.Config) bool {
	return cfg.Pipeline.OnRecordError == config.OnRecordErrorAbort
}

func describeMessage(m *contract.Message) string {
	args := make([]string, len(m.Args))
	for i, a := range m.Args {
		args[i] = fmt.Sprintf("%s: %s", a.Label, strings.Join(a.DisplayName, "::"))
	}
	return fmt.Sprintf("%s %s(%s)", m.SelectorHex(), m.Label, strings.Join(args, ", "))
}
