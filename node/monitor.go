package node

// Erlang link/monitor semantics: http://erlang.org/doc/reference_manual/processes.html

import (
	"sync"

	"go.uber.org/zap"

	"github.com/loom-services/loom/term"
)

type monitorItem struct {
	pid term.Pid // watcher
	ref term.Ref
}

type monitorInternal interface {
	link(pidA, pidB term.Pid)
	unlink(pidA, pidB term.Pid)

	monitorProcess(by term.Pid, process term.Pid, ref term.Ref)
	demonitorProcess(ref term.Ref) bool

	handleTerminated(terminated term.Pid, reason term.Term)

	getLinks(process term.Pid) []term.Pid
	getMonitors(process term.Pid) []term.Pid
	getMonitoredBy(process term.Pid) []term.Pid
}

// monitorRouter is the slice of the core the monitor subsystem needs to
// deliver signals.
type monitorRouter interface {
	processByPid(pid term.Pid) *process
	NodeName() string
	Log() *zap.Logger
}

type monitor struct {
	// processes maps a watched pid to its watchers. One-shot entries:
	// removed when they fire, when demonitored, or when the watcher dies.
	processes      map[term.Pid][]monitorItem
	ref2pid        map[term.Ref]term.Pid
	mutexProcesses sync.Mutex

	// links holds the symmetric link relation: if B is in links[A] then A
	// is in links[B]. Both sides are always edited under mutexLinks, so no
	// observer ever sees a half-made link.
	links      map[term.Pid][]term.Pid
	mutexLinks sync.Mutex

	router monitorRouter
}

func newMonitor(router monitorRouter) monitorInternal {
	return &monitor{
		processes: make(map[term.Pid][]monitorItem),
		ref2pid:   make(map[term.Ref]term.Pid),
		links:     make(map[term.Pid][]term.Pid),
		router:    router,
	}
}

func (m *monitor) link(pidA, pidB term.Pid) {
	m.router.Log().Debug("link processes",
		zap.Stringer("pid", pidA), zap.Stringer("with", pidB))

	// Links are bidirectional and there can only be one link between two
	// processes. Repeated link calls and linking to self have no effect.
	if pidA == pidB {
		return
	}

	m.mutexLinks.Lock()
	defer m.mutexLinks.Unlock()

	linksA := m.links[pidA]
	for i := range linksA {
		if linksA[i] == pidB {
			return
		}
	}

	// linking to a dead process delivers an immediate exit signal with
	// reason 'noproc' instead of creating the edge
	if p := m.router.processByPid(pidB); p == nil {
		m.notifyProcessExit(pidA, pidB, ReasonNoProc)
		return
	}

	m.links[pidA] = append(linksA, pidB)
	m.links[pidB] = append(m.links[pidB], pidA)
}

func (m *monitor) unlink(pidA, pidB term.Pid) {
	m.mutexLinks.Lock()
	defer m.mutexLinks.Unlock()

	m.removeLinkEdge(pidA, pidB)
	m.removeLinkEdge(pidB, pidA)
}

// removeLinkEdge drops 'to' from the link set of 'from'. Caller must hold
// mutexLinks.
func (m *monitor) removeLinkEdge(from, to term.Pid) {
	links := m.links[from]
	for i := range links {
		if links[i] != to {
			continue
		}
		links[i] = links[0]
		links = links[1:]
		if len(links) > 0 {
			m.links[from] = links
		} else {
			delete(m.links, from)
		}
		return
	}
}

func (m *monitor) monitorProcess(by term.Pid, process term.Pid, ref term.Ref) {
	m.router.Log().Debug("monitor process",
		zap.Stringer("by", by), zap.Stringer("process", process))

	m.mutexProcesses.Lock()
	// if the target is already dead the 'DOWN' message is delivered
	// immediately with reason 'noproc'. The aliveness check happens under
	// the table mutex: the target is removed from the node table before
	// handleTerminated takes this mutex, so either we see it dead here or
	// the termination walk is ordered after our insert and fires the entry.
	if p := m.router.processByPid(process); p == nil {
		m.mutexProcesses.Unlock()
		m.notifyProcessTerminated(ref, by, process, ReasonNoProc)
		return
	}

	item := monitorItem{
		pid: by,
		ref: ref,
	}
	m.processes[process] = append(m.processes[process], item)
	m.ref2pid[ref] = process
	m.mutexProcesses.Unlock()
}

func (m *monitor) demonitorProcess(ref term.Ref) bool {
	m.mutexProcesses.Lock()
	defer m.mutexProcesses.Unlock()

	pid, ok := m.ref2pid[ref]
	if !ok {
		// already fired or never existed
		return false
	}

	items := m.processes[pid]
	for i := range items {
		if items[i].ref != ref {
			continue
		}
		items[i] = items[0]
		items = items[1:]
		delete(m.ref2pid, ref)
		break
	}

	if len(items) == 0 {
		delete(m.processes, pid)
	} else {
		m.processes[pid] = items
	}
	return true
}

// handleTerminated is the termination transaction for a dead process. It
// runs exactly once per process, from the dying process's own goroutine,
// after the process has been removed from the node table. Both walks
// snapshot-and-remove their edges under the table mutex, so concurrent
// link/monitor edits can neither double-deliver nor miss a delivery.
func (m *monitor) handleTerminated(terminated term.Pid, reason term.Term) {
	m.router.Log().Debug("process terminated",
		zap.Stringer("pid", terminated), zap.Any("reason", reason))

	// notify linked processes and drop both sides of every edge
	m.mutexLinks.Lock()
	if pidLinks, ok := m.links[terminated]; ok {
		delete(m.links, terminated)
		for _, to := range pidLinks {
			m.removeLinkEdge(to, terminated)
			m.notifyProcessExit(to, terminated, reason)
		}
	}
	m.mutexLinks.Unlock()

	m.mutexProcesses.Lock()
	// fire the one-shot monitors watching the terminated process
	if items, ok := m.processes[terminated]; ok {
		delete(m.processes, terminated)
		for i := range items {
			delete(m.ref2pid, items[i].ref)
			m.notifyProcessTerminated(items[i].ref, items[i].pid, terminated, reason)
		}
	}
	// drop monitors the terminated process had created
	for watched, items := range m.processes {
		kept := items[:0]
		for i := range items {
			if items[i].pid == terminated {
				delete(m.ref2pid, items[i].ref)
				continue
			}
			kept = append(kept, items[i])
		}
		if len(kept) == 0 {
			delete(m.processes, watched)
		} else {
			m.processes[watched] = kept
		}
	}
	m.mutexProcesses.Unlock()
}

func (m *monitor) getLinks(process term.Pid) []term.Pid {
	m.mutexLinks.Lock()
	defer m.mutexLinks.Unlock()

	if l, ok := m.links[process]; ok {
		links := make([]term.Pid, len(l))
		copy(links, l)
		return links
	}
	return nil
}

func (m *monitor) getMonitors(process term.Pid) []term.Pid {
	monitors := []term.Pid{}
	m.mutexProcesses.Lock()
	defer m.mutexProcesses.Unlock()

	for watched, items := range m.processes {
		for i := range items {
			if items[i].pid == process {
				monitors = append(monitors, watched)
			}
		}
	}
	return monitors
}

func (m *monitor) getMonitoredBy(process term.Pid) []term.Pid {
	monitors := []term.Pid{}
	m.mutexProcesses.Lock()
	defer m.mutexProcesses.Unlock()

	if items, ok := m.processes[process]; ok {
		for i := range items {
			monitors = append(monitors, items[i].pid)
		}
	}
	return monitors
}

// notifyProcessExit routes an exit signal to a linked process. The target
// decides what the signal means: trapping targets get it as an ('EXIT',
// Pid, Reason) message, others are force-terminated unless the reason is
// 'normal'. Delivery is an enqueue; it never blocks on the recipient.
func (m *monitor) notifyProcessExit(to term.Pid, terminated term.Pid, reason term.Term) {
	p := m.router.processByPid(to)
	if p == nil {
		return
	}
	p.sendExit(terminated, reason)
}

// notifyProcessTerminated delivers the one-shot
// ('DOWN', Ref, 'process', Pid, Reason) message to a watcher. Monitors are
// purely informational: trap_exit of the watcher is irrelevant.
func (m *monitor) notifyProcessTerminated(ref term.Ref, to term.Pid, terminated term.Pid, reason term.Term) {
	p := m.router.processByPid(to)
	if p == nil {
		return
	}
	p.deliver(MessageDown(ref, terminated, reason))
}
