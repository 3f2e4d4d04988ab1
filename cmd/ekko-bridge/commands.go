package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path"
	"syscall"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/reugn/go-streams/flow"
	"github.com/urfave/cli/v2"

	"github.com/web3ekko/ekko-bridge/internal/device"
	"github.com/web3ekko/ekko-bridge/internal/logger"
	"github.com/web3ekko/ekko-bridge/internal/pipeline"
	"github.com/web3ekko/ekko-bridge/pkg/blockchain"
	"github.com/web3ekko/ekko-bridge/pkg/contract"
	"github.com/web3ekko/ekko-bridge/pkg/framer"
	"github.com/web3ekko/ekko-bridge/pkg/record"
)

func runAction(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	log, closer, err := logger.New(cfg.Log, c.App.ErrWriter)
	if err != nil {
		return err
	}
	defer closer.Close()

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	b, err := newBridge(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer b.Close()

	gw, err := b.gateway(ctx, cfg, log, false)
	if err != nil {
		return err
	}
	sink, err := b.sinks(cfg, log)
	if err != nil {
		return err
	}
	m, err := b.newMetrics(ctx, cfg, log)
	if err != nil {
		return err
	}

	devPath := devicePath(c, cfg)
	dev, err := device.Open(devPath, cfg.Device.BaudRate)
	if err != nil {
		return err
	}
	// closing the device is the only way to unblock a pending read
	stopClose := context.AfterFunc(ctx, func() { dev.Close() })
	defer func() {
		if stopClose() {
			dev.Close()
		}
	}()

	log.Info().
		Str("device", devPath).
		Int("baud_rate", cfg.Device.BaudRate).
		Str("node", cfg.Node.WebSocketURL).
		Str("on_record_error", cfg.Pipeline.OnRecordError).
		Msg("bridge started")

	p := pipeline.New(pipeline.Options{
		Parser:       b.parser,
		Builder:      b.builder,
		Caller:       gw,
		Decoder:      b.decoder,
		RuntimeAPI:   cfg.Node.RuntimeAPI,
		Sink:         sink,
		Metrics:      m,
		AbortOnError: policyAborts(cfg),
		Logger:       log,
	})
	return p.Run(ctx, deviceFramer(dev, cfg))
}

func framesAction(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	log, closer, err := logger.New(cfg.Log, c.App.ErrWriter)
	if err != nil {
		return err
	}
	defer closer.Close()

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	dev, err := device.Open(devicePath(c, cfg), cfg.Device.BaudRate)
	if err != nil {
		return err
	}
	defer dev.Close()
	stopClose := context.AfterFunc(ctx, func() { dev.Close() })
	defer stopClose()

	parser := record.NewParser(cfg.Pipeline.Delimiter, cfg.Pipeline.StrictFields)
	src := framer.NewLineSource(ctx, deviceFramer(dev, cfg), log)
	out := src.Via(flow.NewMap(func(line string) string {
		rec, err := parser.Parse(line)
		if err != nil {
			return fmt.Sprintf("%q: %v", line, err)
		}
		return fmt.Sprintf("batch_id=%s product_id=%s", rec.BatchID, rec.ProductID)
	}, 1))

	for v := range out.Out() {
		fmt.Fprintln(c.App.Writer, v)
	}
	return nil
}

func checkAction(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	log, closer, err := logger.New(cfg.Log, c.App.ErrWriter)
	if err != nil {
		return err
	}
	defer closer.Close()

	ctx := c.Context
	b, err := newBridge(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer b.Close()

	w := c.App.Writer
	for _, who := range []struct {
		role string
		id   blockchain.AccountID
	}{
		{"caller", b.identity.Caller},
		{"contract", b.identity.Contract},
	} {
		addr, err := blockchain.EncodeAddress(who.id, cfg.Contract.SS58Format)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "%-10s %s (%s)\n", who.role, addr, who.id.Hex())
	}

	fmt.Fprintf(w, "schema     %s %s\n", b.schema.Name(), b.schema.Version())
	for _, m := range b.schema.Messages() {
		marker := " "
		if m.Label == cfg.Contract.Method {
			marker = "*"
		}
		fmt.Fprintf(w, "  %s %s\n", marker, describeMessage(m))
	}

	rec, err := b.parser.Parse(c.String("record"))
	if err != nil {
		return err
	}
	env, err := b.builder.Build(rec.Args())
	if err != nil {
		return err
	}
	payload, err := env.Encode()
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "input_data %s\n", hexutil.Encode(env.InputData))
	fmt.Fprintf(w, "payload    %s\n", hexutil.Encode(payload))

	if !c.Bool("dial") {
		return nil
	}

	gw, err := b.gateway(ctx, cfg, log, true)
	if err != nil {
		return err
	}
	raw, err := gw.StateCall(ctx, cfg.Node.RuntimeAPI, payload)
	if err != nil {
		return err
	}
	res, err := b.decoder.Decode(raw)
	if err != nil {
		return err
	}
	if res.Succeeded() {
		fmt.Fprintf(w, "result     %s\n", res.Display)
	} else {
		fmt.Fprintf(w, "dispatch   %s\n", res.DispatchError)
	}
	return nil
}

func pushSchemaAction(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	ctx := c.Context

	file := contract.FileSource{Path: cfg.Contract.Metadata}
	data, err := file.Fetch(ctx)
	if err != nil {
		return err
	}

	var dst interface {
		Store(ctx context.Context, data []byte) error
		String() string
	}
	switch c.String("target") {
	case "redis":
		client, err := newRedisClient(cfg.RedisURL)
		if err != nil {
			return err
		}
		defer client.Close()
		key := cfg.Contract.RedisKey
		if key == "" {
			key = contract.RedisKey(cfg.Contract.Address)
		}
		dst = contract.NewRedisSource(client, key)
	case "minio":
		object := cfg.Contract.MinioObject
		if object == "" {
			object = path.Base(cfg.Contract.Metadata)
		}
		ms, err := contract.NewMinioSource(minioConfig(cfg), object)
		if err != nil {
			return err
		}
		dst = ms
	default:
		return fmt.Errorf("unknown target %q, want redis or minio", c.String("target"))
	}

	if err := dst.Store(ctx, data); err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "stored %s at %s\n", file, dst)
	return nil
}

func portsAction(c *cli.Context) error {
	ports, err := device.Ports()
	if err != nil {
		return err
	}
	for _, p := range ports {
		fmt.Fprintln(c.App.Writer, p)
	}
	return nil
}
