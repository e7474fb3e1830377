package node_test

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/loom-services/loom/node"
	"github.com/loom-services/loom/term"
)

func TestReceiveFIFO(t *testing.T) {
	n := startTestNode(t)
	ev := make(chan term.Term, 16)
	a := spawnPuppet(t, n, ev)
	b := spawnPuppet(t, n, nil)

	exec(t, b, func(p node.Process) {
		p.Send(a.Self(), term.Atom("one"))
		p.Send(a.Self(), term.Atom("two"))
		p.Send(a.Self(), term.Atom("three"))
	})

	require.Equal(t, term.Term(term.Atom("one")), expectEvent(t, ev))
	require.Equal(t, term.Term(term.Atom("two")), expectEvent(t, ev))
	require.Equal(t, term.Term(term.Atom("three")), expectEvent(t, ev))
}

func TestSelectiveReceiveKeepsOrder(t *testing.T) {
	n := startTestNode(t)
	a := spawnPuppet(t, n, nil)

	var picked term.Term
	var rest []term.Term
	exec(t, a, func(p node.Process) {
		p.Send(p.Self(), term.Atom("first"))
		p.Send(p.Self(), term.Atom("wanted"))
		p.Send(p.Self(), term.Atom("last"))

		// the matching message is consumed out of the middle
		picked, _ = p.ReceiveWithTimeout(time.Second, func(m term.Term) bool {
			return m == term.Term(term.Atom("wanted"))
		})
		// the scanned-over messages stay in the mailbox, in place
		m1, _ := p.ReceiveWithTimeout(time.Second)
		m2, _ := p.ReceiveWithTimeout(time.Second)
		rest = append(rest, m1, m2)
	})

	require.Equal(t, term.Term(term.Atom("wanted")), picked)
	require.Equal(t, []term.Term{term.Atom("first"), term.Atom("last")}, rest)
}

func TestReceiveTimeout(t *testing.T) {
	n := startTestNode(t)
	a := spawnPuppet(t, n, nil)

	var err error
	var elapsed time.Duration
	exec(t, a, func(p node.Process) {
		start := time.Now()
		_, err = p.ReceiveWithTimeout(50 * time.Millisecond)
		elapsed = time.Since(start)
	})
	require.ErrorIs(t, err, node.ErrTimeout)
	require.GreaterOrEqual(t, elapsed, 50*time.Millisecond)

	// the process is unharmed: a timeout is control flow, not a failure
	require.True(t, a.IsAlive())
}

func TestReceiveTimeoutSkipsNonMatching(t *testing.T) {
	n := startTestNode(t)
	a := spawnPuppet(t, n, nil)

	var err error
	exec(t, a, func(p node.Process) {
		p.Send(p.Self(), term.Atom("noise"))
		_, err = p.ReceiveWithTimeout(50*time.Millisecond, func(m term.Term) bool {
			return m == term.Term(term.Atom("wanted"))
		})
	})
	require.ErrorIs(t, err, node.ErrTimeout)
}

func TestSendToDeadPidIsSilent(t *testing.T) {
	n := startTestNode(t)
	a := spawnPuppet(t, n, nil)
	dead := spawnPuppet(t, n, nil)
	stopPuppet(t, dead, nil)
	waitTerminated(t, dead)

	var err error
	exec(t, a, func(p node.Process) {
		err = p.Send(dead.Self(), term.Atom("hello"))
	})
	require.NoError(t, err)
}

func TestSendToUnknownName(t *testing.T) {
	n := startTestNode(t)
	a := spawnPuppet(t, n, nil)

	var err error
	exec(t, a, func(p node.Process) {
		err = p.Send("nobody", term.Atom("hello"))
	})
	require.ErrorIs(t, err, node.ErrProcessUnknown)
}

func TestSendByRegisteredName(t *testing.T) {
	n := startTestNode(t)
	ev := make(chan term.Term, 16)
	target, err := n.Spawn("target", node.ProcessOptions{}, puppet(ev))
	require.NoError(t, err)
	require.Equal(t, "target", target.Name())
	require.Equal(t, target.Self(), n.ProcessByName("target").Self())

	a := spawnPuppet(t, n, nil)
	exec(t, a, func(p node.Process) {
		p.Send("target", term.Atom("by-string"))
		p.Send(term.Atom("target"), term.Atom("by-atom"))
	})
	require.Equal(t, term.Term(term.Atom("by-string")), expectEvent(t, ev))
	require.Equal(t, term.Term(term.Atom("by-atom")), expectEvent(t, ev))
}

func TestTrapExitNotRetroactive(t *testing.T) {
	n := startTestNode(t)
	sender := spawnPuppet(t, n, nil)

	// the flag affects signals arriving after the call, and flipping it
	// back restores the forced-kill behavior
	a := spawnPuppet(t, n, nil)
	exec(t, a, func(p node.Process) {
		p.SetTrapExit(true)
	})
	require.True(t, a.TrapExit())
	exec(t, a, func(p node.Process) {
		p.SetTrapExit(false)
	})
	require.False(t, a.TrapExit())

	exec(t, sender, func(p node.Process) {
		p.SendExit(a.Self(), term.Atom("boom"))
	})
	require.Equal(t, term.Term(node.ExitReason(term.Atom("boom"))), waitTerminated(t, a))
}

func TestPanicBecomesAbnormalExit(t *testing.T) {
	n := startTestNode(t)
	p, err := n.Spawn("", node.ProcessOptions{}, func(p node.Process) term.Term {
		panic("kaboom")
	})
	require.NoError(t, err)

	reason := waitTerminated(t, p)
	tup, ok := reason.(term.Tuple)
	require.True(t, ok)
	require.Equal(t, term.Term(term.Atom("exit")), tup.Element(1))
	require.True(t, strings.Contains(tup.Element(2).(string), "kaboom"))
}

func TestTaskReturnBecomesReason(t *testing.T) {
	n := startTestNode(t)

	normal, err := n.Spawn("", node.ProcessOptions{}, func(p node.Process) term.Term {
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, term.Term(node.ReasonNormal), waitTerminated(t, normal))

	abnormal, err := n.Spawn("", node.ProcessOptions{}, func(p node.Process) term.Term {
		return term.Atom("worn out")
	})
	require.NoError(t, err)
	require.Equal(t, term.Term(node.ExitReason(term.Atom("worn out"))), waitTerminated(t, abnormal))
}

func TestExitReasonBeforeTermination(t *testing.T) {
	n := startTestNode(t)
	a := spawnPuppet(t, n, nil)
	require.Nil(t, a.ExitReason())
	require.ErrorIs(t, a.WaitWithTimeout(50*time.Millisecond), node.ErrTimeout)
}
