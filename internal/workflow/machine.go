package workflow

import (
	"fmt"
	"sort"
)

// Machine is a compiled, immutable Definition.
type Machine struct {
	def      Definition
	table    map[State]map[Action]Transition
	terminal map[State]bool
	states   []State
}

// Compile validates def and builds its transition table.
func Compile(def Definition) (*Machine, error) {
	if def.DocType == "" {
		return nil, fmt.Errorf("%w: doc type required", ErrInvalidDefinition)
	}
	if def.Initial == "" {
		return nil, fmt.Errorf("%w: %s: initial state required", ErrInvalidDefinition, def.DocType)
	}
	m := &Machine{
		def:      def,
		table:    make(map[State]map[Action]Transition),
		terminal: make(map[State]bool),
	}
	known := map[State]bool{def.Initial: true}
	for _, s := range def.Terminal {
		m.terminal[s] = true
		known[s] = true
	}
	for _, t := range def.Transitions {
		if t.Action == "" || t.To == "" || len(t.From) == 0 {
			return nil, fmt.Errorf("%w: %s: transition needs action, from and to", ErrInvalidDefinition, def.DocType)
		}
		known[t.To] = true
		for _, from := range t.From {
			if m.terminal[from] {
				return nil, fmt.Errorf("%w: %s: terminal state %s has outgoing %s", ErrInvalidDefinition, def.DocType, from, t.Action)
			}
			known[from] = true
			row, ok := m.table[from]
			if !ok {
				row = make(map[Action]Transition)
				m.table[from] = row
			}
			if _, dup := row[t.Action]; dup {
				return nil, fmt.Errorf("%w: %s: %s declared twice from %s", ErrInvalidDefinition, def.DocType, t.Action, from)
			}
			row[t.Action] = t
		}
	}
	for s := range known {
		m.states = append(m.states, s)
	}
	sort.Slice(m.states, func(i, j int) bool { return m.states[i] < m.states[j] })

	reached := m.reachable()
	for _, s := range m.states {
		if !reached[s] {
			return nil, fmt.Errorf("%w: %s: state %s unreachable from %s", ErrInvalidDefinition, def.DocType, s, def.Initial)
		}
	}
	return m, nil
}

func (m *Machine) reachable() map[State]bool {
	seen := map[State]bool{m.def.Initial: true}
	queue := []State{m.def.Initial}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, t := range m.table[cur] {
			if !seen[t.To] {
				seen[t.To] = true
				queue = append(queue, t.To)
			}
		}
	}
	return seen
}

// DocType returns the governed document type.
func (m *Machine) DocType() DocType { return m.def.DocType }

// Initial returns the state new documents start in.
func (m *Machine) Initial() State { return m.def.Initial }

// States lists every state of the lifecycle, sorted.
func (m *Machine) States() []State {
	return append([]State(nil), m.states...)
}

// IsTerminal reports whether s is final.
func (m *Machine) IsTerminal(s State) bool { return m.terminal[s] }

// Lookup returns the transition for action out of from.
func (m *Machine) Lookup(from State, action Action) (Transition, bool) {
	t, ok := m.table[from][action]
	return t, ok
}

// Available lists the actions actor may attempt from state, sorted. Guards are
// not evaluated.
func (m *Machine) Available(from State, actor Actor) []Action {
	var actions []Action
	for action, t := range m.table[from] {
		if roleAllowed(t, actor) {
			actions = append(actions, action)
		}
	}
	sort.Slice(actions, func(i, j int) bool { return actions[i] < actions[j] })
	return actions
}

// Transitions returns a copy of the declared transitions.
func (m *Machine) Transitions() []Transition {
	return append([]Transition(nil), m.def.Transitions...)
}

func roleAllowed(t Transition, actor Actor) bool {
	if len(t.Roles) == 0 {
		return !actor.IsSystem()
	}
	for _, r := range t.Roles {
		if actor.HasRole(r) {
			return true
		}
	}
	return false
}
