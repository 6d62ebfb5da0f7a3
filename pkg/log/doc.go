/*
Package log provides structured logging for the launcher using zerolog.

A single global logger is initialized via log.Init() with a configurable
level and either JSON or console output. Packages obtain child loggers with
WithComponent("reconciler") or WithInstance(id) so every line carries the
context needed to trace one instance through the system.

# Usage

	log.Init(log.Config{Level: log.InfoLevel, JSONOutput: true})

	logger := log.WithComponent("orchestrator")
	logger.Info().Str("instance", id).Int("port", port).Msg("instance launched")
*/
package log
