package node

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/loom-services/loom/lib"

	"github.com/loom-services/loom/term"
)

const (
	// how long Stop waits for the process table to drain
	defaultStopTimeout = 5 * time.Second
)

// node is the Node implementation wrapping the core.
type node struct {
	*core
}

// Start creates a new node with the given name.
func Start(ctx context.Context, name string, opts Options) (Node, error) {
	if name == "" {
		return nil, fmt.Errorf("node name must be defined")
	}

	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	// Creation must be > 0 so make 'or 0x1'
	if opts.Creation == 0 {
		opts.Creation = uint32(time.Now().Unix()) | 1
	}

	n := &node{
		core: newCore(ctx, name, opts),
	}
	n.core.node = n

	opts.Logger.Debug("node started", zap.String("node", name))
	return n, nil
}

func (n *node) Name() string {
	return n.nodename
}

func (n *node) Spawn(register string, opts ProcessOptions, task Task) (Process, error) {
	popts := processOptions{
		ProcessOptions: opts,
	}
	p, _, err := n.spawn(register, popts, task)
	if err != nil {
		return nil, err
	}
	return p, nil
}

func (n *node) RegisterName(name string, pid term.Pid) error {
	return n.registerName(name, pid)
}

func (n *node) UnregisterName(name string) error {
	return n.unregisterName(name)
}

func (n *node) ProcessByPid(pid term.Pid) Process {
	if p := n.processByPid(pid); p != nil {
		return p
	}
	return nil
}

func (n *node) ProcessByName(name string) Process {
	if p := n.processByName(name); p != nil {
		return p
	}
	return nil
}

func (n *node) IsProcessAlive(pid term.Pid) bool {
	p := n.processByPid(pid)
	return p != nil && p.IsAlive()
}

func (n *node) Links(pid term.Pid) []term.Pid {
	return n.getLinks(pid)
}

func (n *node) Monitors(pid term.Pid) []term.Pid {
	return n.getMonitors(pid)
}

func (n *node) MonitoredBy(pid term.Pid) []term.Pid {
	return n.getMonitoredBy(pid)
}

func (n *node) Uptime() int64 {
	return time.Now().Unix() - n.started
}

// Stop force-terminates every process with reason 'kill' (not trappable),
// waits for the table to drain and shuts the node down.
func (n *node) Stop() {
	n.logger.Debug("node stopping", zap.String("node", n.nodename))

	for _, p := range n.listProcesses() {
		p.forceExit(term.Pid{Node: term.Atom(n.nodename)}, ReasonKill)
	}

	deadline := time.Now().Add(defaultStopTimeout)
	for n.processesLeft() > 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}

	n.stop()
}

func (n *node) Wait() {
	<-n.ctx.Done()
}

// WaitWithTimeout waits until the node is stopped. Returns ErrTimeout if
// the given timeout is exceeded.
func (n *node) WaitWithTimeout(d time.Duration) error {
	timer := lib.TakeTimer()
	defer lib.ReleaseTimer(timer)
	timer.Reset(d)

	select {
	case <-timer.C:
		return ErrTimeout
	case <-n.ctx.Done():
		return nil
	}
}
