package mcp

// Static documentation served under debugging://docs/.

const docDebuggingWorkflows = `# Crash Dump Analysis Workflows

## Getting started

1. Open a session against a dump file:
   call ` + "`" + ToolOpenSession + "`" + ` with the dump path (and optionally a
   symbol directory). Note the returned sessionId.
2. Queue commands with ` + "`" + ToolAsyncCommand + "`" + `. Each call returns a
   commandId immediately; commands execute one at a time in queue order.
3. Poll ` + "`" + ToolCommandStatus + "`" + ` with the commandId, or subscribe to
   ` + "`notifications/commandStatus`" + ` to be told when it finishes.
4. Close the session with ` + "`" + ToolCloseSession + "`" + ` when done.

## Triage a crash

A typical first pass over an unfamiliar dump:

    !analyze -v          automated crash analysis
    .lastevent           what stopped the process
    k                    stack of the faulting thread
    lm                   loaded modules
    ~*k                  stacks of every thread

## Memory and heap

    !address -summary    address space overview
    !heap -s             heap summary
    dd <address>         dump memory at an address

## Symbols

Pass a symbol directory when opening the session, or set the _NT_SYMBOL_PATH
environment variable before starting the server. Inside a session:

    .sympath             show the current symbol path
    .reload              reload symbols
    !sym noisy           trace symbol resolution

Long-running commands (large dumps, remote symbol servers) stay in the
executing state until they finish or hit the command timeout; the session
remains usable afterwards either way.
`

const docTroubleshooting = `# Troubleshooting

## Session creation fails

- "dump file ... does not exist": the path must be readable by the server
  process. Paths are not expanded; pass absolute paths.
- "debugger binary not found": install the Windows Debugging Tools or set
  debugger.path (NEXUS_DEBUGGER_PATH / CDB_PATH) to the cdb executable.
- "maximum of N concurrent sessions reached": close idle sessions or raise
  session.maxConcurrent.

## Commands never complete

Commands finish when the debugger echoes the completion marker. A command
that produces no output for a long time is usually still running (symbol
download, large heap walk); check the server log for "no debugger output"
lines. If the command exceeded the timeout its status becomes timed_out and
the session stays usable for further commands.

## Command status returns not found

Terminal command results are kept for a bounded retention window and table
size. Poll status promptly after a commandStatus notification, or raise
queue.resultRetentionMs / queue.maxTrackedCommands.

## Session disappeared

Sessions idle past session.idleTimeoutMs are expired by the sweep; a
sessionEvent notification with event "expired" is published first. If the
debugger process dies mid-session, queued commands are cancelled, the
session is disposed and the "closed" event carries reason process-died.

## Logs

Logs go to stderr so stdout stays clean for JSON-RPC framing in stdio mode.
Set logging.level=debug for per-command tracing.
`
