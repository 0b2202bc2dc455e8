package dispatch

import "github.com/pumpkindb/pumpkindb/vm"

// MessagingModule implements the pub/sub instructions. The message-delivery
// suspension point (a subscriber parked between iterations of its main loop)
// is exposed as vm.Env.AwaitMessage, not as a VM instruction: there is no
// blocking receive instruction, and neither this module nor the scheduler
// package calls AwaitMessage.
func MessagingModule() Module {
	return Module{Name: "messaging", Handlers: map[string]vm.Handler{
		"SUBSCRIBE":   opSubscribe,
		"UNSUBSCRIBE": opUnsubscribe,
		"PUBLISH":     opPublish,
	}}
}

func opSubscribe(e *vm.Env) error {
	topic, err := e.Pop()
	if err != nil {
		return err
	}
	id := e.Subscribe(string(topic))
	e.Push(id)
	return nil
}

func opUnsubscribe(e *vm.Env) error {
	id, err := e.Pop()
	if err != nil {
		return err
	}
	e.Unsubscribe(id)
	return nil
}

func opPublish(e *vm.Env) error {
	vs, err := e.PopN(2)
	if err != nil {
		return err
	}
	value, topic := vs[0], vs[1]
	e.Publish(string(topic), value)
	return nil
}
