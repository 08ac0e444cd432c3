package main

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/ImGhostCode/smart-garden/internal/address"
	"github.com/ImGhostCode/smart-garden/internal/node"
	"github.com/ImGhostCode/smart-garden/internal/packet"
	"github.com/ImGhostCode/smart-garden/internal/radio"
	"github.com/ImGhostCode/smart-garden/internal/radio/radiotest"
)

// airResult summarises an air session.
type airResult struct {
	Telemetry int
	Malformed int
	Commands  int
	Relays    map[address.NodeID]*node.MemoryRelay
}

func newAirCmd(opts *options) *cobra.Command {
	var toggle time.Duration

	cmd := &cobra.Command{
		Use:   "air",
		Short: "Run every node and a listening gateway radio in process",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			res, err := runAir(cmd.Context(), opts, toggle)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "telemetry=%d malformed=%d commands=%d\n",
				res.Telemetry, res.Malformed, res.Commands)
			return nil
		},
	}
	cmd.Flags().DurationVar(&toggle, "toggle", 0, "send alternating ON/OFF pump commands at this period (0 disables)")
	return cmd
}

// runAir runs until ctx is cancelled.
func runAir(ctx context.Context, opts *options, toggle time.Duration) (airResult, error) {
	log := opts.logger()
	res := airResult{Relays: make(map[address.NodeID]*node.MemoryRelay)}

	rcfg, err := opts.radioConfig()
	if err != nil {
		return res, err
	}

	table := address.Default()
	air := radiotest.NewAir()
	gw := radio.NewTransport(air.NewRadio("gateway"), table, rcfg)
	gw.SetLogger(log)
	if err := gw.Init(ctx); err != nil {
		return res, fmt.Errorf("initialising gateway radio: %w", err)
	}

	var wg sync.WaitGroup
	defer wg.Wait()

	for _, id := range table.Nodes() {
		n, relay, err := opts.newNode(air.NewRadio(fmt.Sprintf("node-%d", id)), table, id, log)
		if err != nil {
			return res, err
		}
		if err := n.Begin(ctx); err != nil {
			return res, err
		}
		res.Relays[id] = relay

		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := n.Run(ctx, defaultPoll); err != nil {
				log.Error("node stopped", "node_id", int(id), "error", err)
			}
		}()
	}
	log.Info("simulated air running", "nodes", table.Len(), "interval", opts.interval.String())

	poll := time.NewTicker(defaultPoll)
	defer poll.Stop()

	var toggleC <-chan time.Time
	if toggle > 0 {
		t := time.NewTicker(toggle)
		defer t.Stop()
		toggleC = t.C
	}

	nodes := table.Nodes()
	for {
		select {
		case <-ctx.Done():
			return res, nil

		case <-toggleC:
			// Round robin: each node gets ON, then OFF on its next turn.
			id := nodes[res.Commands%len(nodes)]
			text := packet.CommandOn
			if (res.Commands/len(nodes))%2 == 1 {
				text = packet.CommandOff
			}
			if err := gw.Send(ctx, id, packet.EncodeCommand([]byte(text)).Bytes()); err != nil {
				log.Warn("command not delivered", "node_id", int(id), "command", text, "error", err)
			}
			res.Commands++

		case <-poll.C:
			in, ok, err := gw.PollReceive()
			if err != nil {
				log.Warn("gateway radio read failed", "error", err)
				continue
			}
			if !ok {
				continue
			}
			t, err := packet.DecodeTelemetry(in.Payload)
			if err != nil {
				res.Malformed++
				log.Warn("malformed telemetry", "pipe", in.Pipe, "error", err)
				continue
			}
			res.Telemetry++
			log.Info("telemetry",
				"node_id", int(t.NodeID),
				"pipe", in.Pipe,
				"temperature", printable(t.Temperature),
				"humidity", printable(t.Humidity),
				"ldr", t.LDR,
				"soil", t.Soil,
			)
		}
	}
}

// printable keeps NaN readings legible in text logs.
func printable(v float32) any {
	if math.IsNaN(float64(v)) {
		return "nan"
	}
	return v
}
