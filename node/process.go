package node

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/loom-services/loom/lib"

	"github.com/loom-services/loom/term"
)

// exitSignal is the termination command a dispatcher leaves for a process
// that must die. It is consumed at the process's next suspension point.
type exitSignal struct {
	from   term.Pid
	reason term.Term
}

// processKill unwinds the task goroutine when a forced exit is consumed.
// It is recovered by core.runProcess, never visible to callers.
type processKill struct {
	from   term.Pid
	reason term.Term
}

type process struct {
	core *core
	self term.Pid
	name string

	parent term.Pid
	task   Task

	mailbox *mailbox

	// die carries at most one pending forced-exit command. Capacity one:
	// the first signal terminates the process, later ones have nothing
	// left to kill.
	die chan exitSignal

	trapExit atomic.Bool
	alive    atomic.Bool

	context context.Context
	kill    context.CancelFunc

	// terminal reason; written once before done is closed
	reason term.Term
	done   chan struct{}
}

func (p *process) Self() term.Pid {
	return p.self
}

func (p *process) Name() string {
	return p.name
}

func (p *process) Node() Node {
	return p.core.node
}

func (p *process) Context() context.Context {
	return p.context
}

func (p *process) IsAlive() bool {
	return p.alive.Load()
}

func (p *process) Spawn(task Task) (term.Pid, error) {
	np, _, err := p.core.spawn("", processOptions{parent: p.self}, task)
	if err != nil {
		return term.Pid{}, err
	}
	return np.self, nil
}

func (p *process) SpawnLink(task Task) (term.Pid, error) {
	if !p.alive.Load() {
		return term.Pid{}, ErrProcessTerminated
	}
	np, _, err := p.core.spawn("", processOptions{parent: p.self, link: true}, task)
	if err != nil {
		return term.Pid{}, err
	}
	return np.self, nil
}

func (p *process) SpawnMonitor(task Task) (term.Pid, term.Ref, error) {
	if !p.alive.Load() {
		return term.Pid{}, term.Ref{}, ErrProcessTerminated
	}
	np, ref, err := p.core.spawn("", processOptions{parent: p.self, monitor: true}, task)
	if err != nil {
		return term.Pid{}, term.Ref{}, err
	}
	return np.self, ref, nil
}

func (p *process) Send(to interface{}, message term.Term) error {
	switch t := to.(type) {
	case term.Pid:
		// a dead or stale pid is a valid discard target
		if target := p.core.processByPid(t); target != nil {
			target.deliver(message)
		}
		return nil
	case string:
		return p.sendByName(t, message)
	case term.Atom:
		return p.sendByName(string(t), message)
	}
	return ErrProcessUnknown
}

func (p *process) sendByName(name string, message term.Term) error {
	target := p.core.processByName(name)
	if target == nil {
		return ErrProcessUnknown
	}
	target.deliver(message)
	return nil
}

func (p *process) Receive(patterns ...Pattern) (term.Term, error) {
	return p.receive(-1, patterns)
}

func (p *process) ReceiveWithTimeout(timeout time.Duration, patterns ...Pattern) (term.Term, error) {
	if timeout < 0 {
		timeout = 0
	}
	return p.receive(timeout, patterns)
}

// receive suspends the calling task until a matching message arrives, the
// timeout elapses (timeout < 0 blocks forever), or a pending forced exit is
// consumed. Owner-only: must be called from the process task itself.
func (p *process) receive(timeout time.Duration, patterns []Pattern) (term.Term, error) {
	// a forced exit issued while we were busy takes effect before any
	// further mailbox consumption
	p.consumePendingExit()

	var timerC <-chan time.Time
	if timeout >= 0 {
		timer := lib.TakeTimer()
		defer lib.ReleaseTimer(timer)
		timer.Reset(timeout)
		timerC = timer.C
	}

	for {
		if m, ok := p.mailbox.match(patterns); ok {
			return m, nil
		}
		select {
		case <-p.mailbox.notify:
			p.consumePendingExit()
		case ex := <-p.die:
			panic(processKill{from: ex.from, reason: ex.reason})
		case <-p.context.Done():
			// forceExit cancels the context right after leaving the die
			// signal; prefer the signal's reason if one is pending
			p.consumePendingExit()
			panic(processKill{from: p.self, reason: ReasonKill})
		case <-timerC:
			return nil, ErrTimeout
		}
	}
}

func (p *process) consumePendingExit() {
	select {
	case ex := <-p.die:
		panic(processKill{from: ex.from, reason: ex.reason})
	default:
	}
}

func (p *process) SetTrapExit(trap bool) {
	p.trapExit.Store(trap)
}

func (p *process) TrapExit() bool {
	return p.trapExit.Load()
}

func (p *process) Link(pid term.Pid) error {
	if !p.alive.Load() {
		return ErrProcessTerminated
	}
	p.core.link(p.self, pid)
	return nil
}

func (p *process) Unlink(pid term.Pid) error {
	if !p.alive.Load() {
		return ErrProcessTerminated
	}
	p.core.unlink(p.self, pid)
	return nil
}

func (p *process) Monitor(pid term.Pid) (term.Ref, error) {
	if !p.alive.Load() {
		return term.Ref{}, ErrProcessTerminated
	}
	ref := p.core.MakeRef()
	p.core.monitorProcess(p.self, pid, ref)
	return ref, nil
}

func (p *process) Demonitor(ref term.Ref) bool {
	return p.core.demonitorProcess(ref)
}

func (p *process) SendExit(to term.Pid, reason term.Term) error {
	target := p.core.processByPid(to)
	if target == nil {
		return ErrProcessTerminated
	}
	return target.sendExit(p.self, ExitReason(reason))
}

func (p *process) Wait() {
	<-p.done
}

func (p *process) WaitWithTimeout(d time.Duration) error {
	timer := lib.TakeTimer()
	defer lib.ReleaseTimer(timer)
	timer.Reset(d)

	select {
	case <-timer.C:
		return ErrTimeout
	case <-p.done:
		return nil
	}
}

// ExitReason returns the terminal reason. Valid once Wait has returned.
func (p *process) ExitReason() term.Term {
	select {
	case <-p.done:
		return p.reason
	default:
		return nil
	}
}

// deliver enqueues a message. Deliveries to an exited process are dropped:
// the mailbox of a dead process is a discard target, not an error.
func (p *process) deliver(message term.Term) {
	if !p.alive.Load() {
		return
	}
	p.mailbox.enqueue(message)
}

// sendExit applies an incoming exit signal to this process. Trapping
// converts the signal into an ('EXIT', Pid, Reason) mailbox message; the
// default is a forced termination unless the reason is 'normal'. Never
// blocks, and never requires the recipient to be running.
func (p *process) sendExit(from term.Pid, reason term.Term) error {
	if !p.alive.Load() {
		return ErrProcessTerminated
	}
	if p.trapExit.Load() {
		p.deliver(MessageExit(from, reason))
		return nil
	}
	if IsReasonNormal(reason) {
		// a normal exit of a peer leaves non-trapping processes untouched
		return nil
	}
	p.forceExit(from, reason)
	return nil
}

// forceExit leaves a termination command for the process and cancels its
// context. The command is applied at the next scheduling point (the next
// receive); it never unwinds the target synchronously from the caller's
// stack. Bypasses trap_exit: used for abnormal link propagation after the
// trap check, and for node shutdown.
func (p *process) forceExit(from term.Pid, reason term.Term) {
	select {
	case p.die <- exitSignal{from: from, reason: reason}:
	default:
		// a forced exit is already pending; the first one wins
	}
	p.kill()
}
