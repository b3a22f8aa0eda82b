// Package logging provides structured logging for octobridge.
//
// It wraps log/slog so every component emits the same default fields
// (service, version) and honours one level/format setting.
//
// Configuration lives in the logging section of the config file:
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
//
// Usage:
//
//	logger := logging.New(cfg.Logging, version)
//	bridgeLog := logger.Component("octoprint")
//	bridgeLog.Info("poll cycle complete", "routes", 3)
//
// Never log the printer API key or broker credentials.
package logging
