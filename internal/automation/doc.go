// Package automation waters the garden on its own.
//
// Rules watch one metric of one node (soil moisture, humidity or
// temperature). When a reading falls below a rule's minimum the engine
// switches the node's pump on for the rule's duration, then off again.
//
// Architecture:
//
//	gateway.Reading ──▶ Engine.OnReading
//	                      │ rules for the node (Registry cache)
//	                      │ time window, cooldown, daily runtime cap
//	                      ▼
//	              Publisher.Publish(command topic, "ON")
//	                      │ CommandRecorder: source "automation"
//	                      ▼
//	              Clock.AfterFunc(duration) ──▶ Publish "OFF"
//
// Commands go to the broker like those of the HTTP API, so the gateway
// control loop sends them over the radio. The engine is itself a
// gateway.Sink: it sees every command outcome and tracks who owns each pump.
// A manual command takes the pump over and cancels the pending auto-off.
//
// # Key Types
//
//   - Rule: threshold, duration, cooldown, daily cap and time windows
//   - Registry: thread-safe in-memory cache wrapping Repository
//   - Engine: evaluates readings and drives the pumps
//   - PumpState: ON/OFF and whether it was set manually or automatically
//
// # Usage
//
//	repo := automation.NewSQLiteRepository(db)
//	rules := automation.NewRegistry(repo, table)
//	if err := rules.RefreshCache(ctx); err != nil {
//	    return err
//	}
//
//	engine := automation.NewEngine(rules, repo, table, session, gw, automation.Options{
//	    CommandTopic: cfg.MQTT.Topics.Command,
//	})
//	if err := engine.Start(ctx); err != nil {
//	    return err
//	}
//	gw.AddSink(engine)
package automation
