package node

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/loom-services/loom/term"
)

const (
	startPID = 1000
)

type core struct {
	monitorInternal

	ctx  context.Context
	stop context.CancelFunc

	nextPID  uint64
	uniqID   uint64
	nodename string
	creation uint32
	started  int64

	logger *zap.Logger

	// back pointer for Process.Node(); set once at node start
	node Node

	names      map[string]term.Pid
	mutexNames sync.RWMutex

	processes      map[uint64]*process
	mutexProcesses sync.RWMutex
}

func newCore(ctx context.Context, nodename string, options Options) *core {
	corectx, corestop := context.WithCancel(ctx)

	c := &core{
		ctx:       corectx,
		stop:      corestop,
		nextPID:   startPID,
		uniqID:    uint64(time.Now().UnixNano()),
		nodename:  nodename,
		creation:  options.Creation,
		started:   time.Now().Unix(),
		logger:    options.Logger,
		names:     make(map[string]term.Pid),
		processes: make(map[uint64]*process),
	}
	c.monitorInternal = newMonitor(c)
	return c
}

func (c *core) NodeName() string {
	return c.nodename
}

func (c *core) Log() *zap.Logger {
	return c.logger
}

func (c *core) newPID() term.Pid {
	// the counter is never rewound, so a pid can not be reused while any
	// reference to the dead process is still around
	i := atomic.AddUint64(&c.nextPID, 1)
	return term.Pid{
		Node:     term.Atom(c.nodename),
		ID:       i,
		Creation: c.creation,
	}
}

// MakeRef returns a fresh unique reference within this node.
func (c *core) MakeRef() (ref term.Ref) {
	ref.Node = term.Atom(c.nodename)
	ref.Creation = c.creation
	nt := atomic.AddUint64(&c.uniqID, 1)
	ref.ID[0] = uint32(nt & ((2 << 17) - 1))
	ref.ID[1] = uint32(nt >> 46)
	return
}

func (c *core) processByPid(pid term.Pid) *process {
	c.mutexProcesses.RLock()
	defer c.mutexProcesses.RUnlock()
	if p, ok := c.processes[pid.ID]; ok && p.self == pid {
		return p
	}
	return nil
}

func (c *core) processByName(name string) *process {
	c.mutexNames.RLock()
	pid, ok := c.names[name]
	c.mutexNames.RUnlock()
	if !ok {
		return nil
	}
	return c.processByPid(pid)
}

// spawn creates a process and schedules its task. Any requested link or
// monitor relation with the parent is registered before the task gets its
// first scheduling and before spawn returns: there is no window where the
// child exists but the relation does not.
func (c *core) spawn(register string, opts processOptions, task Task) (*process, term.Ref, error) {
	var ref term.Ref

	if c.ctx.Err() != nil {
		return nil, ref, ErrNodeTerminated
	}

	processContext, kill := context.WithCancel(c.ctx)
	p := &process{
		core:    c,
		self:    c.newPID(),
		name:    register,
		parent:  opts.parent,
		task:    task,
		mailbox: newMailbox(),
		die:     make(chan exitSignal, 1),
		context: processContext,
		kill:    kill,
		done:    make(chan struct{}),
	}
	p.alive.Store(true)

	if register != "" {
		c.mutexNames.Lock()
		if _, exist := c.names[register]; exist {
			c.mutexNames.Unlock()
			kill()
			return nil, ref, ErrTaken
		}
		c.names[register] = p.self
		c.mutexNames.Unlock()
	}

	c.mutexProcesses.Lock()
	c.processes[p.self.ID] = p
	c.mutexProcesses.Unlock()

	if opts.link {
		c.link(opts.parent, p.self)
	}
	if opts.monitor {
		ref = c.MakeRef()
		c.monitorProcess(opts.parent, p.self, ref)
	}

	c.logger.Debug("spawn process",
		zap.Stringer("pid", p.self),
		zap.String("name", register),
		zap.Stringer("parent", opts.parent))

	go c.runProcess(p)

	return p, ref, nil
}

// runProcess executes the task and drives the termination transaction when
// it ends, whichever way it ends.
func (c *core) runProcess(p *process) {
	reason := term.Term(ReasonNormal)
	defer func() {
		if r := recover(); r != nil {
			if kill, ok := r.(processKill); ok {
				reason = kill.reason
			} else {
				reason = ExitReason(fmt.Sprintf("panic: %v", r))
			}
		}
		c.cleanupProcess(p, ExitReason(reason))
	}()

	if ret := p.task(p); ret != nil {
		reason = ret
	}
}

// cleanupProcess is the single termination transaction of a process. It
// runs exactly once, in the dying process's goroutine. Ordering matters:
// the process goes terminal and leaves the node table before the signal
// walk, so concurrent link/monitor requests either see it dead (noproc) or
// land in the tables ahead of the walk and get their delivery.
func (c *core) cleanupProcess(p *process, reason term.Term) {
	p.alive.Store(false)
	p.kill()

	c.deleteProcess(p.self)

	p.reason = reason
	c.handleTerminated(p.self, reason)

	// every signal has been enqueued; watchers may still be processing
	close(p.done)
}

func (c *core) deleteProcess(pid term.Pid) {
	c.mutexProcesses.Lock()
	p, exist := c.processes[pid.ID]
	if !exist {
		c.mutexProcesses.Unlock()
		return
	}
	delete(c.processes, pid.ID)
	c.mutexProcesses.Unlock()

	c.logger.Debug("unregister process", zap.Stringer("pid", p.self))

	c.mutexNames.Lock()
	// drop every name registered to this pid
	for name, owner := range c.names {
		if owner == p.self {
			delete(c.names, name)
		}
	}
	c.mutexNames.Unlock()
}

func (c *core) registerName(name string, pid term.Pid) error {
	c.logger.Debug("register name", zap.String("name", name), zap.Stringer("pid", pid))
	if c.processByPid(pid) == nil {
		return ErrProcessUnknown
	}
	c.mutexNames.Lock()
	defer c.mutexNames.Unlock()
	if _, ok := c.names[name]; ok {
		return ErrTaken
	}
	c.names[name] = pid
	return nil
}

func (c *core) unregisterName(name string) error {
	c.logger.Debug("unregister name", zap.String("name", name))
	c.mutexNames.Lock()
	defer c.mutexNames.Unlock()
	if _, ok := c.names[name]; ok {
		delete(c.names, name)
		return nil
	}
	return ErrNameUnknown
}

// listProcesses snapshots the process table.
func (c *core) listProcesses() []*process {
	c.mutexProcesses.RLock()
	defer c.mutexProcesses.RUnlock()
	list := make([]*process, 0, len(c.processes))
	for _, p := range c.processes {
		list = append(list, p)
	}
	return list
}

func (c *core) processesLeft() int {
	c.mutexProcesses.RLock()
	defer c.mutexProcesses.RUnlock()
	return len(c.processes)
}
