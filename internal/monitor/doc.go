// Package monitor launches the target application against one artifact and
// classifies what happens.
//
// A Monitor drives one execution through Idle, Launching, Running and
// Classified. While running it polls liveness, responsiveness, resource
// usage and error output every PollInterval; a watchdog timer armed at
// launch fires after HangTimeout no matter what the polling loop sees.
// Classification priority is crash, hang, error, normal. Evidence for
// crash and hang is archived before the process is killed, and the
// process group is always killed and reaped before Execute returns.
//
// The OS-facing side is the Driver interface; ExecDriver is the os/exec
// implementation.
package monitor
