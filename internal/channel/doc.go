// Package channel runs channel business logic on dedicated workers.
//
// Every successful join spawns one Process: a goroutine with a mailbox that
// serialises the channel's callbacks. The connection owner talks to it only
// through Deliver, Leave and Stop, and learns about its termination through
// Monitor, which posts an Exit once the worker has fully stopped.
//
// Lifecycle:
//   - Server.Join spawns the worker and waits for Channel.Join (bounded by
//     the join timeout); a rejected or crashed join never yields a Process
//   - While running, the worker also relays pubsub broadcasts on its topic
//     to the client as pushes
//   - Leave makes the worker run Terminate(ErrLeft), reply ok to the leave
//     ref and exit with a shutdown reason
//   - A HandleIn error or panic exits the worker abnormally
//   - Deliver never blocks; a worker whose mailbox overflows is stopped
//     with ErrMailboxOverflow
//
// Exit reasons:
//   - nil, ErrNormal and anything wrapping ErrShutdown are normal exits
//   - everything else is abnormal
package channel
