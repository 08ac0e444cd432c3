package main

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ImGhostCode/smart-garden/internal/address"
	"github.com/ImGhostCode/smart-garden/internal/infrastructure/config"
	"github.com/ImGhostCode/smart-garden/internal/infrastructure/logging"
	"github.com/ImGhostCode/smart-garden/internal/node"
	"github.com/ImGhostCode/smart-garden/internal/radio"
	"github.com/ImGhostCode/smart-garden/internal/radio/radiotest"
)

const (
	driverSerial = "serial"
	driverSim    = "sim"

	simNodePoll = 10 * time.Millisecond
)

// radioConfig maps the radio section of config.yaml.
func radioConfig(cfg config.RadioConfig) (radio.Config, error) {
	pa, err := radio.ParsePALevel(cfg.PALevel)
	if err != nil {
		return radio.Config{}, err
	}
	rate, err := radio.ParseDataRate(cfg.DataRate)
	if err != nil {
		return radio.Config{}, err
	}
	return radio.Config{
		PALevel:     pa,
		DataRate:    rate,
		Channel:     uint8(cfg.Channel),     //nolint:gosec // validated 0..125
		PayloadSize: uint8(cfg.PayloadSize), //nolint:gosec // validated 13..32
	}, nil
}

// openDriver returns the gateway's radio driver.
//
// The sim driver puts the gateway and one virtual node per configured
// address on a shared in-process air. The nodes run until ctx is cancelled
// and are tracked by wg.
func openDriver(ctx context.Context, wg *sync.WaitGroup, cfg config.RadioConfig, rcfg radio.Config, table *address.Table, log *logging.Logger) (radio.Driver, error) {
	switch cfg.Driver {
	case driverSerial:
		d, err := radio.OpenSerial(cfg.Serial.Port, cfg.Serial.Baud)
		if err != nil {
			return nil, err
		}
		log.Info("radio modem opened", "port", cfg.Serial.Port, "baud", cfg.Serial.Baud)
		return d, nil

	case driverSim:
		air := radiotest.NewAir()
		gw := air.NewRadio("gateway")
		interval := time.Duration(cfg.SimInterval) * time.Second
		for _, id := range table.Nodes() {
			if err := startSimNode(ctx, wg, air, table, id, rcfg, interval, log); err != nil {
				return nil, err
			}
		}
		log.Warn("using simulated radio", "nodes", table.Len(), "sample_interval", interval.String())
		return gw, nil

	default:
		return nil, fmt.Errorf("unknown radio driver %q", cfg.Driver)
	}
}

func startSimNode(ctx context.Context, wg *sync.WaitGroup, air *radiotest.Air, table *address.Table, id address.NodeID, rcfg radio.Config, interval time.Duration, log *logging.Logger) error {
	n, err := node.New(air.NewRadio(fmt.Sprintf("node-%d", id)), table,
		node.NewSimSensors(uint64(id)), &node.MemoryRelay{},
		node.Config{ID: id, SampleInterval: interval, Radio: rcfg})
	if err != nil {
		return err
	}
	n.SetLogger(log.With("component", "nodesim"))
	if err := n.Begin(ctx); err != nil {
		return err
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := n.Run(ctx, simNodePoll); err != nil {
			log.Error("simulated node stopped", "node_id", int(id), "error", err)
		}
	}()
	return nil
}
