package term

import "fmt"

// Term is any value a process can keep in its mailbox or carry as an
// exit reason.
type Term interface{}

// Tuple is a fixed-size ordered group of terms.
type Tuple []Term

// List is an ordered collection of terms.
type List []Term

// Atom is a symbolic constant.
type Atom string

// Map is an associative collection of terms.
type Map map[Term]Term

// Pid is a process identifier. It stays unique for the node lifetime:
// the ID counter is never rewound, so a pid is never reused while any
// reference to it is outstanding.
type Pid struct {
	Node     Atom
	ID       uint64
	Creation uint32
}

// Ref is a unique reference. Every Monitor call gets a fresh one, which
// disambiguates multiple monitors between the same pair of processes.
type Ref struct {
	Node     Atom
	Creation uint32
	ID       [3]uint32
}

// Element returns the i-th element of the tuple (1-based, Erlang style).
func (t Tuple) Element(i int) Term {
	return t[i-1]
}

func (p Pid) String() string {
	return fmt.Sprintf("<%s.%d.%d>", p.Node, p.ID, p.Creation)
}

func (r Ref) String() string {
	return fmt.Sprintf("#Ref<%s.%d.%d.%d>", r.Node, r.ID[0], r.ID[1], r.ID[2])
}

// StringTerm converts an Atom, string or []byte term into a string.
func StringTerm(t Term) (s string, ok bool) {
	ok = true
	switch x := t.(type) {
	case Atom:
		s = string(x)
	case string:
		s = x
	case []byte:
		s = string(x)
	default:
		ok = false
	}
	return
}
