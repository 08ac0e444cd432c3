// nodesim runs the garden node firmware loop without node hardware.
//
// Against a radio modem it behaves like one real node on the air, so a
// gateway can be tested with a second modem:
//
//	nodesim --port /dev/ttyUSB1 --id 2
//
// The air subcommand puts a listening gateway transport and every node on
// an in-process air and logs what the gateway would publish:
//
//	nodesim air --interval 2s --toggle 10s
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ImGhostCode/smart-garden/internal/address"
	"github.com/ImGhostCode/smart-garden/internal/infrastructure/config"
	"github.com/ImGhostCode/smart-garden/internal/infrastructure/logging"
	"github.com/ImGhostCode/smart-garden/internal/node"
	"github.com/ImGhostCode/smart-garden/internal/radio"
)

var version = "dev"

const defaultPoll = 10 * time.Millisecond

// options are the flags shared by every subcommand.
type options struct {
	logLevel  string
	interval  time.Duration
	seed      uint64
	failEvery int
	channel   uint8
	paLevel   string
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	var (
		port string
		baud int
		id   int
	)

	root := &cobra.Command{
		Use:           "nodesim",
		Short:         "Simulated smart garden sensor node",
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runSerial(cmd.Context(), opts, port, baud, id)
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&opts.logLevel, "log-level", "info", "debug, info, warn or error")
	pf.DurationVar(&opts.interval, "interval", node.DefaultSampleInterval, "telemetry sample interval")
	pf.Uint64Var(&opts.seed, "seed", 1, "sensor random walk seed")
	pf.IntVar(&opts.failEvery, "fail-every", 0, "report a DHT failure every N samples (0 never)")
	pf.Uint8Var(&opts.channel, "channel", radio.DefaultConfig().Channel, "RF channel")
	pf.StringVar(&opts.paLevel, "pa-level", "low", "min, low, high or max")

	root.Flags().StringVar(&port, "port", "", "radio modem serial port")
	root.Flags().IntVar(&baud, "baud", 115200, "radio modem baud rate")
	root.Flags().IntVar(&id, "id", 1, "node id (1-5)")

	root.AddCommand(newAirCmd(opts))
	return root
}

func (o *options) logger() *logging.Logger {
	return logging.NewWithWriter(os.Stderr, config.LoggingConfig{Level: o.logLevel, Format: "text"}, version)
}

func (o *options) radioConfig() (radio.Config, error) {
	cfg := radio.DefaultConfig()
	pa, err := radio.ParsePALevel(o.paLevel)
	if err != nil {
		return radio.Config{}, err
	}
	cfg.PALevel = pa
	cfg.Channel = o.channel
	return cfg, nil
}

// newNode builds one simulated node on driver.
func (o *options) newNode(driver radio.Driver, table *address.Table, id address.NodeID, log *logging.Logger) (*node.Node, *node.MemoryRelay, error) {
	rcfg, err := o.radioConfig()
	if err != nil {
		return nil, nil, err
	}
	sensors := node.NewSimSensors(o.seed + uint64(id))
	sensors.FailEvery = o.failEvery
	relay := &node.MemoryRelay{}

	n, err := node.New(driver, table, sensors, relay, node.Config{
		ID:             id,
		SampleInterval: o.interval,
		Radio:          rcfg,
	})
	if err != nil {
		return nil, nil, err
	}
	n.SetLogger(log)
	return n, relay, nil
}

// runSerial runs a single node against a radio modem.
func runSerial(ctx context.Context, opts *options, port string, baud, id int) error {
	log := opts.logger()

	table := address.Default()
	nodeID, err := table.Validate(id)
	if err != nil {
		return err
	}

	driver, err := radio.OpenSerial(port, baud)
	if err != nil {
		return fmt.Errorf("opening radio modem: %w", err)
	}
	defer func() {
		if closeErr := driver.Close(); closeErr != nil {
			log.Error("error closing radio modem", "error", closeErr)
		}
	}()

	n, _, err := opts.newNode(driver, table, nodeID, log)
	if err != nil {
		return err
	}
	if err := n.Begin(ctx); err != nil {
		return err
	}

	log.Info("node simulator running", "port", port, "node_id", id, "interval", opts.interval.String())
	if err := n.Run(ctx, defaultPoll); err != nil {
		return err
	}

	s := n.Stats()
	log.Info("node simulator stopped",
		"sent", s.Sent,
		"send_failed", s.SendFailed,
		"commands", s.Commands,
	)
	return nil
}
