// Package main is the robobus command line tool.
package main

import (
	"io"
	"log"
	"os"

	"github.com/urfave/cli/v2"
)

const (
	// Global flags.
	flagConfig  = "config"
	flagDebug   = "debug"
	flagLogFile = "log-file"
	flagLocal   = "local"
	flagRemote  = "remote"
	flagRole    = "role"
	flagPipe    = "pipe"
	flagBus     = "bus"
	flagChannel = "channel"
	flagBitrate = "bitrate"

	// Command flags.
	flagTimeout = "timeout"
	flagHexOut  = "hex-out"
	flagCount   = "count"
	flagLoss    = "loss"
	flagSeed    = "seed"
)

func main() {
	if err := newApp(os.Stdout).Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func newApp(out io.Writer) *cli.App {
	env := &environment{}
	return &cli.App{
		Name:   "robobus",
		Usage:  "replicate control data reliably over CAN",
		Writer: out,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    flagConfig,
				Aliases: []string{"c"},
				Usage:   "load configuration from `FILE`",
			},
			&cli.BoolFlag{
				Name:  flagDebug,
				Usage: "enable debug logging",
			},
			&cli.StringFlag{
				Name:  flagLogFile,
				Usage: "also record logs to rotating `FILE`",
			},
			&cli.IntFlag{
				Name:  flagLocal,
				Usage: "local device id",
			},
			&cli.IntFlag{
				Name:  flagRemote,
				Usage: "remote device id",
			},
			&cli.StringFlag{
				Name:  flagRole,
				Usage: "server or client; the two ends must differ",
			},
			&cli.IntFlag{
				Name:  flagPipe,
				Usage: "use point-to-point pipe `ID` instead of control channels",
			},
			&cli.StringFlag{
				Name:  flagBus,
				Usage: "bus type: socketcan, slcan, toomoss or virtual",
			},
			&cli.StringFlag{
				Name:  flagChannel,
				Usage: "CAN interface (socketcan), serial device (slcan) or adapter channel index (toomoss)",
			},
			&cli.IntFlag{
				Name:  flagBitrate,
				Usage: "CAN bitrate for slcan adapters",
			},
		},
		Before: env.before,
		After:  env.after,
		Commands: []*cli.Command{
			{
				Name:   "channels",
				Usage:  "print the arbitration ids of the configured link",
				Action: env.channelsAction,
			},
			{
				Name:      "decode-id",
				Usage:     "decode a raw arbitration id",
				ArgsUsage: "<hex id>",
				Action:    env.decodeIDAction,
			},
			{
				Name:  "listen",
				Usage: "print every payload accepted from the remote device",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  flagHexOut,
						Usage: "write a received firmware image to `FILE`",
					},
				},
				Action: env.listenAction,
			},
			{
				Name:      "send",
				Usage:     "send hex encoded bytes, split into frame-sized chunks",
				ArgsUsage: "<hex bytes>...",
				Flags: []cli.Flag{
					&cli.DurationFlag{
						Name:  flagTimeout,
						Value: defaultSendTimeout,
						Usage: "give up waiting for acknowledgment after this long",
					},
				},
				Action: env.sendAction,
			},
			{
				Name:      "push",
				Usage:     "stream an Intel HEX image to the remote device",
				ArgsUsage: "<file.hex>",
				Flags: []cli.Flag{
					&cli.DurationFlag{
						Name:  flagTimeout,
						Value: defaultPushTimeout,
						Usage: "abort the transfer after this long",
					},
				},
				Action: env.pushAction,
			},
			{
				Name:  "loopback",
				Usage: "run two nodes on an in-memory bus and check exactly-once delivery",
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:  flagCount,
						Value: 100,
						Usage: "number of payloads",
					},
					&cli.Float64Flag{
						Name:  flagLoss,
						Usage: "fraction of frames to drop, 0 to 1",
					},
					&cli.Int64Flag{
						Name:  flagSeed,
						Value: 1,
						Usage: "random seed for payloads and loss",
					},
					&cli.DurationFlag{
						Name:  flagTimeout,
						Value: defaultPushTimeout,
						Usage: "abort after this long",
					},
				},
				Action: env.loopbackAction,
			},
		},
	}
}
