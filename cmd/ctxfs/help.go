package main

const (
	helpTextUse = "ctxfs <origin-dir> <mount-dir>"

	helpTextShort = "a FUSE filesystem prepending a shared context onto every file"

	helpTextLong = `ctxfs is a FUSE filesystem that mirrors a directory tree below "/wrapped",
prepending the lines of a shared, append-only context onto every file read.
Writing to "/context" appends lines to the context, empty lines are dropped.
Reading "/context" returns the context followed by a closing marker line.
It includes a HTTP webserver for a diagnostics dashboard and runtime configurables.

When mounted, the following OS signals are observed at runtime:
- SIGTERM/SIGINT for gracefully unmounting the FS
- SIGUSR1 for forcing a garbage collection run within Go
- SIGUSR2 for printing a stack trace to standard error (stderr)

When enabled, the diagnostics dashboard exposes the following routes:
- "/" for filesystem dashboard and event ring-buffer
- "/metrics.json" for the dashboard data as JSON
- "/context" for reading (GET) or appending to (POST) the context
- "/gc" for forcing of a garbage collection (within Go)
- "/reset" for resetting the filesystem metrics at runtime
- "/set/exact-size/<bool>" for reporting the exact size of "/context"
- "/set/verbose/<bool>" for adapting the verbosity of the event log`
)
