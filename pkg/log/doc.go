// Package log is Rookery's structured logging facade.
//
// Components receive a Logger and tag it with their name:
//
//	l := log.NewLogger(
//	    log.WithLevel(log.InfoLevel),
//	    log.WithFormatter(&log.TextFormatter{}),
//	    log.WithOutput(log.NewConsoleOutput()),
//	)
//	l = l.With(log.Component("broadcast"))
//	l.Info("subscriber registered", log.Str("subscriber_id", id), log.Int("active", n))
//
// Records flow through log/slog via a bridge handler into the package's own
// formatter and outputs. ApplyConfig builds a logger from a declarative Config
// (text or JSON, console, rotating file or null output). RedirectStdLog routes
// the standard library logger through a facade Logger so that net/http and
// third-party packages share one output.
package log
