// Package dispatch composes PumpkinDB's built-in instruction modules into a
// single vm.Dispatcher: stack, control-flow, comparison/boolean, arithmetic, time and
// identity, hashing, JSON, storage, messaging, and terminal-only modules,
// each a plain map[string]vm.Handler, tried in a fixed order. Dynamic
// dictionary definitions installed by SET/DEF take precedence over a
// built-in only when the name does not collide with one (vm.Env.Resolve
// enforces that rule; this package only supplies the built-in half).
package dispatch

import "github.com/pumpkindb/pumpkindb/vm"

// Module is one named group of built-in instruction handlers.
type Module struct {
	Name     string
	Handlers map[string]vm.Handler
}

// table is the composed, flattened lookup built from every module in order.
type table struct {
	byName map[string]vm.Handler
}

func (t *table) Lookup(name string) (vm.Handler, bool) {
	h, ok := t.byName[name]
	return h, ok
}

// New composes the full built-in instruction set into a vm.Dispatcher, in
// a fixed module order: stack, control-flow,
// arithmetic/comparison, time/identity, hashing, JSON, storage, messaging,
// terminal-only.
func New() vm.Dispatcher {
	modules := []Module{
		StackModule(),
		ControlModule(),
		CompareModule(),
		ArithmeticModule(),
		TimeModule(),
		HashModule(),
		JSONModule(),
		StorageModule(),
		MessagingModule(),
		TraceModule(),
	}
	t := &table{byName: make(map[string]vm.Handler)}
	for _, m := range modules {
		for name, h := range m.Handlers {
			if _, exists := t.byName[name]; exists {
				panic("dispatch: duplicate built-in instruction name " + name)
			}
			t.byName[name] = h
		}
	}
	return t
}
