package term

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTupleElement(t *testing.T) {
	tup := Tuple{Atom("EXIT"), Pid{Node: "demo@localhost", ID: 1001}, Atom("normal")}
	require.Equal(t, Term(Atom("EXIT")), tup.Element(1))
	require.Equal(t, Term(Atom("normal")), tup.Element(3))
}

func TestPidString(t *testing.T) {
	pid := Pid{Node: "demo@localhost", ID: 1001, Creation: 2}
	require.Equal(t, "<demo@localhost.1001.2>", pid.String())
}

func TestRefString(t *testing.T) {
	ref := Ref{Node: "demo@localhost", Creation: 2, ID: [3]uint32{7, 8, 9}}
	require.Equal(t, "#Ref<demo@localhost.7.8.9>", ref.String())
}

func TestPidComparable(t *testing.T) {
	a := Pid{Node: "demo@localhost", ID: 1001, Creation: 2}
	b := Pid{Node: "demo@localhost", ID: 1001, Creation: 2}
	require.True(t, a == b)

	b.Creation = 3
	require.False(t, a == b)
}

func TestStringTerm(t *testing.T) {
	s, ok := StringTerm(Atom("hello"))
	require.True(t, ok)
	require.Equal(t, "hello", s)

	s, ok = StringTerm("world")
	require.True(t, ok)
	require.Equal(t, "world", s)

	s, ok = StringTerm([]byte("raw"))
	require.True(t, ok)
	require.Equal(t, "raw", s)

	_, ok = StringTerm(42)
	require.False(t, ok)
}
