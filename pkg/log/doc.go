/*
Package log provides structured logging for Behemoth built on zerolog.

Call Init once at startup, then use the package helpers or create child
loggers scoped to a component, plan, execution, or worker:

	log.Init(log.Config{Level: log.InfoLevel})
	logger := log.WithComponent("dispatcher")
	logger.Info().Str("execution_id", id).Msg("execution started")

Console output is the default; JSONOutput switches to machine-readable
records for production deployments.
*/
package log
