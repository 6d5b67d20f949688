/*
Package log provides structured logging for nspawnd using zerolog.

Init configures the process-wide global logger's level and output
format (JSON for production, console-friendly for a terminal).
WithComponent, WithContainerID, and WithStage return child loggers that
tag every line with the caller's identity, the convention the
provisioning pipeline, lifecycle controller, and Host Invoker all use.

# Usage

	log.Init(log.Config{Level: log.InfoLevel, JSONOutput: true})

	logger := log.WithContainerID("web-1")
	logger.Info().Str("stage", "bootstrap_rootfs").Msg("stage started")
*/
package log
