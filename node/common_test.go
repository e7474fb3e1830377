package node_test

import (
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/loom-services/loom"
	"github.com/loom-services/loom/node"
	"github.com/loom-services/loom/term"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var nodeSeq uint64

func startTestNode(t *testing.T) node.Node {
	t.Helper()
	name := fmt.Sprintf("test%d@localhost", atomic.AddUint64(&nodeSeq, 1))
	n, err := loom.StartNode(name, node.Options{})
	require.NoError(t, err)
	t.Cleanup(n.Stop)
	return n
}

// command asks a puppet process to run f in its own context.
type command struct {
	f func(p node.Process)
}

// stopCommand asks a puppet process to terminate with the given reason.
type stopCommand struct {
	reason term.Term
}

// puppet is a process task driven entirely by messages: commands execute in
// the process context, everything else is forwarded to the events channel.
func puppet(events chan term.Term) node.Task {
	return func(p node.Process) term.Term {
		for {
			m, err := p.Receive()
			if err != nil {
				return nil
			}
			switch x := m.(type) {
			case command:
				x.f(p)
			case stopCommand:
				return x.reason
			default:
				if events != nil {
					events <- m
				}
			}
		}
	}
}

func spawnPuppet(t *testing.T, n node.Node, events chan term.Term) node.Process {
	t.Helper()
	p, err := n.Spawn("", node.ProcessOptions{}, puppet(events))
	require.NoError(t, err)
	return p
}

// exec runs f inside the puppet's own context and waits for it to finish.
func exec(t *testing.T, p node.Process, f func(p node.Process)) {
	t.Helper()
	done := make(chan struct{})
	require.NoError(t, p.Send(p.Self(), command{f: func(pp node.Process) {
		f(pp)
		close(done)
	}}))
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("puppet did not execute the command")
	}
}

func stopPuppet(t *testing.T, p node.Process, reason term.Term) {
	t.Helper()
	require.NoError(t, p.Send(p.Self(), stopCommand{reason: reason}))
}

func expectEvent(t *testing.T, events chan term.Term) term.Term {
	t.Helper()
	select {
	case m := <-events:
		return m
	case <-time.After(2 * time.Second):
		t.Fatal("no message arrived")
		return nil
	}
}

func expectNoEvent(t *testing.T, events chan term.Term, d time.Duration) {
	t.Helper()
	select {
	case m := <-events:
		t.Fatalf("unexpected message: %#v", m)
	case <-time.After(d):
	}
}

func waitTerminated(t *testing.T, p node.Process) term.Term {
	t.Helper()
	require.NoError(t, p.WaitWithTimeout(2*time.Second))
	return p.ExitReason()
}
