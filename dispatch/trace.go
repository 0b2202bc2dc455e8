package dispatch

import "github.com/pumpkindb/pumpkindb/vm"

// TraceModule implements the terminal-only debug instruction.
func TraceModule() Module {
	return Module{Name: "trace", Handlers: map[string]vm.Handler{
		"TRACE": opTrace,
	}}
}

func opTrace(e *vm.Env) error {
	v, err := e.Pop()
	if err != nil {
		return err
	}
	_, _ = e.Trace().Write(append(append([]byte("TRACE "), v...), '\n'))
	return nil
}
