// Package logging provides structured logging for the smart garden gateway.
//
// It wraps log/slog so every component logs the same way.
//
// # Configuration
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
//
// # Usage
//
//	logger := logging.New(cfg.Logging, version)
//	logger.Info("radio initialised", "channel", 76)
//	logger.Error("publish failed", "error", err)
//
// Never log broker passwords or InfluxDB tokens.
package logging
