// Package logging provides structured logging for streamstop runs.
//
// Every run writes JSON entries through [RotatingWriter] so the log file can
// be grepped or fed to a log shipper after the fact, and mirrors the same
// entries as text to the console. When the local syslog daemon is reachable
// entries are also tagged "stream_stop" in syslog, which keeps a record even
// when the run was triggered by a service manager during host shutdown.
//
// Child loggers carry the run ID, stream index and stage:
//
//	log := root.WithRun(runID).WithStage("terminate")
//	log.Info("sending SIGTERM", "pids", pids)
//
// Closing any logger derived from a root closes the root's sinks.
package logging
