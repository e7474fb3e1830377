package node

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/loom-services/loom/term"
)

var (
	// ErrTimeout is returned by ReceiveWithTimeout when no matching message
	// arrived in time. A timeout is ordinary control flow, not a failure.
	ErrTimeout = errors.New("timed out")
	// ErrProcessUnknown means the addressed registered name or pid is not
	// known to this node.
	ErrProcessUnknown = errors.New("unknown process")
	// ErrProcessTerminated means the target process has already exited.
	ErrProcessTerminated = errors.New("process terminated")
	// ErrTaken means the registered name is already in use.
	ErrTaken = errors.New("name is taken")
	// ErrNameUnknown means there is no such registered name.
	ErrNameUnknown = errors.New("unknown name")
	// ErrNodeTerminated means the node is shutting down.
	ErrNodeTerminated = errors.New("node terminated")
)

// ReasonNormal is the exit reason of a process whose task returned without
// an error term. It never propagates as a kill to linked peers.
const ReasonNormal = term.Atom("normal")

// ReasonNoProc is delivered when linking to or monitoring a pid that is
// already dead.
const ReasonNoProc = term.Atom("noproc")

// ReasonKill is the reason used when the node force-stops its processes.
const ReasonKill = term.Atom("kill")

// ExitReason wraps an arbitrary payload into the abnormal reason shape
// ('exit', Term). Terms already carrying that shape are returned as is,
// as are 'normal', 'noproc' and 'kill'.
func ExitReason(t term.Term) term.Term {
	switch x := t.(type) {
	case nil:
		return ReasonNormal
	case term.Atom:
		if x == ReasonNormal || x == ReasonNoProc || x == ReasonKill {
			return t
		}
	case term.Tuple:
		if len(x) == 2 && x.Element(1) == term.Atom("exit") {
			return t
		}
	}
	return term.Tuple{term.Atom("exit"), t}
}

// IsReasonNormal reports whether the reason is 'normal'.
func IsReasonNormal(reason term.Term) bool {
	a, ok := reason.(term.Atom)
	return ok && a == ReasonNormal
}

// MessageExit builds the exit notification ('EXIT', SourcePid, Reason)
// delivered to trapping linked processes.
func MessageExit(from term.Pid, reason term.Term) term.Tuple {
	return term.Tuple{term.Atom("EXIT"), from, reason}
}

// MessageDown builds the monitor notification
// ('DOWN', MonitorRef, 'process', SourcePid, Reason).
func MessageDown(ref term.Ref, from term.Pid, reason term.Term) term.Tuple {
	return term.Tuple{term.Atom("DOWN"), ref, term.Atom("process"), from, reason}
}

// Task is the body of a process. The returned term becomes the exit
// reason: nil or 'normal' terminate the process normally, anything else
// is normalized with ExitReason.
type Task func(p Process) term.Term

// Pattern is a selective receive predicate. Patterns are evaluated against
// mailbox messages in FIFO order; the first message matching any pattern is
// consumed, the rest stay in the mailbox in place.
type Pattern func(m term.Term) bool

// Options defines bootstrapping options for the node.
type Options struct {
	// Logger receives runtime events at debug level. Defaults to a nop logger.
	Logger *zap.Logger
	// Creation is stamped into every Pid and Ref made by this node.
	// Zero means "derive from the start time".
	Creation uint32
}

// ProcessOptions defines options for a process being spawned at node level.
type ProcessOptions struct {
	// MailboxSize is accepted for interface compatibility with bounded
	// mailboxes; the runtime mailbox is unbounded and the value is ignored.
	MailboxSize int64
}

// Node is a running runtime instance owning a set of processes.
type Node interface {
	Name() string
	// Spawn starts a top-level process. Register is an optional registered
	// name ("" for none).
	Spawn(register string, opts ProcessOptions, task Task) (Process, error)
	RegisterName(name string, pid term.Pid) error
	UnregisterName(name string) error
	ProcessByPid(pid term.Pid) Process
	ProcessByName(name string) Process
	// IsProcessAlive is a best-effort snapshot; the answer may be stale the
	// moment it returns.
	IsProcessAlive(pid term.Pid) bool
	// Links returns a copy of the link set of the given process.
	Links(pid term.Pid) []term.Pid
	// Monitors returns the pids the given process watches.
	Monitors(pid term.Pid) []term.Pid
	// MonitoredBy returns the pids watching the given process.
	MonitoredBy(pid term.Pid) []term.Pid
	Uptime() int64
	// Stop force-terminates every process and shuts the node down.
	Stop()
	Wait()
	WaitWithTimeout(d time.Duration) error
}

// Process is the handle a task uses to act as itself, and the handle
// returned by Node.Spawn for outside interaction.
type Process interface {
	Self() term.Pid
	Name() string
	Node() Node
	Context() context.Context
	IsAlive() bool

	// Spawn starts a new process with no relation to this one.
	Spawn(task Task) (term.Pid, error)
	// SpawnLink atomically spawns and links: the link is in place before
	// the child runs and before SpawnLink returns.
	SpawnLink(task Task) (term.Pid, error)
	// SpawnMonitor atomically spawns and monitors the new process.
	SpawnMonitor(task Task) (term.Pid, term.Ref, error)

	// Send enqueues a message into the target mailbox. The target may be a
	// term.Pid or a registered name (string or term.Atom). Sending to a
	// dead pid is a silent no-op.
	Send(to interface{}, message term.Term) error
	// Receive blocks until a mailbox message matches one of the patterns.
	// No patterns means "match anything".
	Receive(patterns ...Pattern) (term.Term, error)
	// ReceiveWithTimeout is Receive with a deadline; it returns ErrTimeout
	// when it elapses first.
	ReceiveWithTimeout(timeout time.Duration, patterns ...Pattern) (term.Term, error)

	// SetTrapExit changes how incoming exit signals are handled: trapped
	// signals become ('EXIT', Pid, Reason) mailbox messages instead of
	// terminating this process. Only affects signals arriving after the
	// call returns.
	SetTrapExit(trap bool)
	TrapExit() bool

	Link(pid term.Pid) error
	Unlink(pid term.Pid) error
	Monitor(pid term.Pid) (term.Ref, error)
	// Demonitor removes a monitor created by this process. Returns false
	// if the monitor already fired or never existed.
	Demonitor(ref term.Ref) bool

	// SendExit sends an exit signal to another process, subject to the
	// same trap/normal rules as link-propagated signals.
	SendExit(to term.Pid, reason term.Term) error

	// Wait blocks until the process terminates.
	Wait()
	WaitWithTimeout(d time.Duration) error
	// ExitReason returns the terminal reason, valid once Wait returned.
	ExitReason() term.Term
}

// processOptions carries the spawn-relation bookkeeping between
// Process.Spawn* and core.spawn.
type processOptions struct {
	ProcessOptions
	parent  term.Pid
	link    bool
	monitor bool
}
