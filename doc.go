/*
Package proc spawns child OS processes and interacts with them through
buffered byte streams attached to the child's stdin, stdout and stderr,
while tracking the child's lifecycle. The API is deliberately
thread-like: a Process supports blocking (Join), non-blocking (Poll) and
bounded (TryJoinFor, TryJoinUntil) joins, plus Detach and signal
delivery, but the "thread" lives across a process boundary.

A child is either an external program spawned with Spawn, or a function
of the current binary registered with Register and spawned with
SpawnHandler, which re-executes the binary and dispatches through Main.

The lifecycle moves NotStarted -> Running -> {Stopped, Exited, Signaled},
where Stopped may resume to Running. Exited and Signaled end the handle's
joinability, as does Detach. When a child's status can no longer be
retrieved, because it was reaped externally or the OS is discarding
child termination notifications, the state degrades to NotStarted,
since exited-vs-signaled can no longer be told apart.

A handle that is still joinable must be joined or detached before it is
dropped; abandoning it to the garbage collector crashes the program.
Handles are not safe for concurrent use from multiple goroutines.
*/
package proc
