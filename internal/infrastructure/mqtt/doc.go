// Package mqtt provides the gateway's MQTT session.
//
// This package manages:
//   - One connection to the broker, with paho's auto-reconnect disabled
//   - A blocking Reconnect with a fixed backoff between attempts
//   - Subscription to the command topic, re-established on every connect
//   - A bounded inbox between paho's goroutines and the control loop
//   - Retained gateway status with a Last Will for offline detection
//
// # Architecture
//
// The control loop owns the session. paho delivers messages on its own
// goroutines; the session only queues them. The control loop calls Loop to
// run the command handler on its own goroutine, so the radio is never touched
// concurrently.
//
//	Broker → paho goroutine → inbox → Loop() → command handler → radio
//
// # State
//
//	Disconnected --Reconnect--> Subscribed
//	Subscribed --connection lost--> Disconnected
//
// Publishing while Disconnected returns ErrSessionLost.
//
// # Usage
//
//	session, err := mqtt.NewSession(cfg.MQTT, mqtt.Options{GatewayID: cfg.Gateway.ID, Logger: log})
//	if err != nil {
//	    return err
//	}
//	defer session.Close()
//
//	session.SetCommandHandler(func(topic string, payload []byte) error {
//	    return bridge.HandleCommand(topic, payload)
//	})
//	if err := session.Reconnect(ctx); err != nil {
//	    return err
//	}
//	for ctx.Err() == nil {
//	    session.Loop()
//	}
package mqtt
