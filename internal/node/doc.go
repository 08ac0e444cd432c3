// Package node mirrors the garden node firmware so the gateway can be
// exercised end to end without hardware.
//
// A node listens on reading pipe 1 for its own address, switches the pump
// relay on "ON" and "OFF" commands, and every sample interval sends a
// 13-byte telemetry packet back to the same address, where the gateway is
// listening.
package node
