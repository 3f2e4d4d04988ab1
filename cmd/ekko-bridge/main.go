package main

import (
	"io"
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"

	"github.com/web3ekko/ekko-bridge/internal/config"
	"github.com/web3ekko/ekko-bridge/pkg/framer"
)

func main() {
	log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()

	if err := newApp().Run(os.Args); err != nil {
		log.Fatal().Err(err).Msg("ekko-bridge failed")
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "ekko-bridge",
		Usage: "forward device records to an ink! contract and log the results",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "path to the YAML configuration file",
				Value:   "config.yaml",
				EnvVars: []string{"BRIDGE_CONFIG"},
			},
			&cli.StringFlag{Name: "log-level", Usage: "override log.level"},
			&cli.StringFlag{Name: "log-format", Usage: "override log.format (console or json)"},
			&cli.StringFlag{Name: "node-url", Usage: "override node.websocket_url"},
			&cli.StringFlag{Name: "metadata", Usage: "override contract.metadata"},
			&cli.StringFlag{Name: "method", Usage: "override contract.method"},
			&cli.StringFlag{Name: "on-record-error", Usage: "skip or abort"},
			&cli.StringFlag{Name: "metrics-addr", Usage: "override metrics_addr"},
		},
		DefaultCommand: "run",
		Commands: []*cli.Command{
			{
				Name:      "run",
				Usage:     "read records from the device and call the contract for each",
				ArgsUsage: "[device]",
				Action:    runAction,
			},
			{
				Name:      "frames",
				Usage:     "print the records framed from the device without calling the node",
				ArgsUsage: "[device]",
				Action:    framesAction,
			},
			{
				Name:  "check",
				Usage: "validate configuration, identities and schema and show the call for a sample record",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "record", Usage: "sample record line", Value: "B100 - P200"},
					&cli.BoolFlag{Name: "dial", Usage: "also send the sample call to the node"},
				},
				Action: checkAction,
			},
			{
				Name:  "push-schema",
				Usage: "upload contract.metadata to Redis or MinIO",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "target", Usage: "redis or minio", Value: "redis"},
				},
				Action: pushSchemaAction,
			},
			{
				Name:   "ports",
				Usage:  "list serial ports",
				Action: portsAction,
			},
		},
	}
}

// loadConfig reads the configuration file and applies command line overrides.
func loadConfig(c *cli.Context) (*config.Config, error) {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return nil, err
	}

	overrides := []struct {
		flag string
		dst  *string
	}{
		{"log-level", &cfg.Log.Level},
		{"log-format", &cfg.Log.Format},
		{"node-url", &cfg.Node.WebSocketURL},
		{"metadata", &cfg.Contract.Metadata},
		{"method", &cfg.Contract.Method},
		{"on-record-error", &cfg.Pipeline.OnRecordError},
		{"metrics-addr", &cfg.MetricsAddr},
	}
	for _, o := range overrides {
		if c.IsSet(o.flag) {
			*o.dst = c.String(o.flag)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func devicePath(c *cli.Context, cfg *config.Config) string {
	if c.Args().Present() {
		return c.Args().First()
	}
	return cfg.Device.Path
}

func deviceFramer(r io.Reader, cfg *config.Config) *framer.Framer {
	f := framer.New(r)
	f.SetMaxLineLength(cfg.Device.MaxLineLength)
	return f
}
