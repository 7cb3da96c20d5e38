/*
Package log provides structured logging for trainyard using zerolog.

The package wraps a single global zerolog.Logger. Init configures level and
format once at startup; components derive child loggers that carry a fixed
field so every line can be filtered by origin.

# Usage

	import "github.com/cuemby/trainyard/pkg/log"

	log.Init(log.Config{Level: log.InfoLevel, JSONOutput: true})

	logger := log.WithComponent("dispatcher")
	logger.Error().Err(err).Str("task_id", id).Msg("coordinator call failed")

	taskLog := log.WithTaskID(task.ID)
	taskLog.Info().Str("status", string(task.Status)).Msg("status changed")

# Output

JSON output (production):

	{"level":"info","component":"ledger","node_id":"n-1","time":"2026-10-16T10:30:00Z","message":"memory allocated"}

Console output (development):

	10:30AM INF memory allocated component=ledger node_id=n-1

# Fields

  - component: ledger, lifecycle, dispatcher, scheduler, api, auditor, events
  - node_id, task_id: entity the line is about
  - error: set through Err(err)

Levels are debug, info, warn and error. Unknown levels fall back to info.
*/
package log
