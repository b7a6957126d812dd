// Package index keeps track of the composite indexes of each application and
// uses them to decide whether a query can run and what a write costs.
package index

import (
	"fmt"
	"strings"

	"github.com/leftmike/egdb/errors"
	"github.com/leftmike/egdb/query"
)

type State int

const (
	WriteOnly State = iota + 1
	ReadWrite
	Error
	Deleted
)

func (st State) String() string {
	switch st {
	case WriteOnly:
		return "WRITE_ONLY"
	case ReadWrite:
		return "READ_WRITE"
	case Error:
		return "ERROR"
	case Deleted:
		return "DELETED"
	}
	return fmt.Sprintf("State(%d)", int(st))
}

// ParseState accepts the names returned by State.String, in any case.
func ParseState(s string) (State, bool) {
	for st := WriteOnly; st <= Deleted; st++ {
		if strings.EqualFold(s, st.String()) {
			return st, true
		}
	}
	return 0, false
}

var transitions = map[State][]State{
	WriteOnly: {ReadWrite, Deleted, Error},
	ReadWrite: {Deleted},
	Error:     {Deleted},
	Deleted:   {Error},
}

// CheckTransition returns an error unless an index may move from one state to
// another; staying in the same state is always allowed.
func CheckTransition(from, to State) error {
	if from == to {
		return nil
	}
	for _, st := range transitions[from] {
		if st == to {
			return nil
		}
	}
	return errors.Newf(errors.ErrBadRequest, "cannot move index state from %s to %s", from, to)
}

type Property struct {
	Name      string
	Direction query.Direction
}

type Definition struct {
	Kind       string
	Ancestor   bool
	Properties []Property
}

func (def Definition) Equal(def2 Definition) bool {
	if def.Kind != def2.Kind || def.Ancestor != def2.Ancestor ||
		len(def.Properties) != len(def2.Properties) {

		return false
	}
	for idx := range def.Properties {
		if def.Properties[idx] != def2.Properties[idx] {
			return false
		}
	}
	return true
}

func (def Definition) String() string {
	var buf strings.Builder
	buf.WriteString(def.Kind)
	if def.Ancestor {
		buf.WriteString(" ancestor")
	}
	buf.WriteString(" (")
	for idx, p := range def.Properties {
		if idx > 0 {
			buf.WriteString(", ")
		}
		fmt.Fprintf(&buf, "%s %s", p.Name, p.Direction)
	}
	buf.WriteByte(')')
	return buf.String()
}

// YAML returns def as an entry for an index.yaml file.
func (def Definition) YAML() string {
	lines := []string{fmt.Sprintf("- kind: %s", def.Kind)}
	if def.Ancestor {
		lines = append(lines, "  ancestor: yes")
	}
	if len(def.Properties) > 0 {
		lines = append(lines, "  properties:")
		for _, p := range def.Properties {
			lines = append(lines, fmt.Sprintf("  - name: %s", p.Name))
			if p.Direction == query.Descending {
				lines = append(lines, "    direction: desc")
			}
		}
	}
	return strings.Join(lines, "\n")
}

type Index struct {
	ID         int64
	App        string
	State      State
	Definition Definition
}

func (idx Index) clone() Index {
	idx.Definition.Properties = append([]Property(nil), idx.Definition.Properties...)
	return idx
}
