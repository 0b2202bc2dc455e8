package dispatch

import (
	"encoding/json"
	"unicode/utf8"

	"github.com/pumpkindb/pumpkindb/vm"
)

// JSONModule implements the JSON validation/query/build family over
// byte-sequence-held JSON text. Invalid JSON or non-UTF-8 keys/strings fail
// with InvalidValue. Parsing uses stdlib encoding/json (no JSON-pointer or
// JSON-path library appears anywhere in the retrieval pack; stdlib is the
// right tool for a handful of object get/set/has operations).
func JSONModule() Module {
	return Module{Name: "json", Handlers: map[string]vm.Handler{
		"JSON?":         jsonTest(func(v any, raw json.RawMessage) bool { return true }),
		"JSON/OBJECT?":  jsonTest(func(v any, raw json.RawMessage) bool { _, ok := v.(map[string]any); return ok }),
		"JSON/ARRAY?":   jsonTest(func(v any, raw json.RawMessage) bool { _, ok := v.([]any); return ok }),
		"JSON/STRING?":  jsonTest(func(v any, raw json.RawMessage) bool { _, ok := v.(string); return ok }),
		"JSON/NUMBER?":  jsonTest(func(v any, raw json.RawMessage) bool { _, ok := v.(float64); return ok }),
		"JSON/BOOLEAN?": jsonTest(func(v any, raw json.RawMessage) bool { _, ok := v.(bool); return ok }),
		"JSON/NULL?":    jsonTest(func(v any, raw json.RawMessage) bool { return v == nil && string(raw) == "null" }),

		"JSON/HAS?":     opJSONHas,
		"JSON/GET":      opJSONGet,
		"JSON/SET":      opJSONSet,
		"JSON/EMPTY":    opJSONEmpty,
		"JSON/STRING->": opJSONStringTo,
		"JSON/->STRING": opJSONToString,
	}}
}

func jsonTest(pred func(v any, raw json.RawMessage) bool) vm.Handler {
	return func(e *vm.Env) error {
		v, err := e.Pop()
		if err != nil {
			return err
		}
		if !json.Valid(v) {
			e.Push(boolByte(false))
			return nil
		}
		var decoded any
		if decErr := json.Unmarshal(v, &decoded); decErr != nil {
			e.Push(boolByte(false))
			return nil
		}
		e.Push(boolByte(pred(decoded, json.RawMessage(v))))
		return nil
	}
}

func decodeObject(v vm.Value, op string) (map[string]any, error) {
	var obj map[string]any
	if err := json.Unmarshal(v, &obj); err != nil {
		return nil, vm.ErrInvalidValue(op + ": not a JSON object: " + err.Error())
	}
	return obj, nil
}

func opJSONHas(e *vm.Env) error {
	vs, err := e.PopN(2)
	if err != nil {
		return err
	}
	obj, err := decodeObject(vs[0], "JSON/HAS?")
	if err != nil {
		return err
	}
	if !utf8.Valid(vs[1]) {
		return vm.ErrInvalidValue("JSON/HAS?: key is not valid UTF-8")
	}
	_, ok := obj[string(vs[1])]
	e.Push(boolByte(ok))
	return nil
}

func opJSONGet(e *vm.Env) error {
	vs, err := e.PopN(2)
	if err != nil {
		return err
	}
	obj, err := decodeObject(vs[0], "JSON/GET")
	if err != nil {
		return err
	}
	if !utf8.Valid(vs[1]) {
		return vm.ErrInvalidValue("JSON/GET: key is not valid UTF-8")
	}
	val, ok := obj[string(vs[1])]
	if !ok {
		return vm.ErrInvalidValue("JSON/GET: key not present")
	}
	out, err := json.Marshal(val)
	if err != nil {
		return vm.ErrInvalidValue("JSON/GET: " + err.Error())
	}
	e.Push(out)
	return nil
}

func opJSONSet(e *vm.Env) error {
	vs, err := e.PopN(3)
	if err != nil {
		return err
	}
	obj, err := decodeObject(vs[0], "JSON/SET")
	if err != nil {
		return err
	}
	if !utf8.Valid(vs[1]) {
		return vm.ErrInvalidValue("JSON/SET: key is not valid UTF-8")
	}
	var val any
	if err := json.Unmarshal(vs[2], &val); err != nil {
		return vm.ErrInvalidValue("JSON/SET: value is not valid JSON: " + err.Error())
	}
	obj[string(vs[1])] = val
	out, err := json.Marshal(obj)
	if err != nil {
		return vm.ErrInvalidValue("JSON/SET: " + err.Error())
	}
	e.Push(out)
	return nil
}

func opJSONEmpty(e *vm.Env) error {
	e.Push([]byte("{}"))
	return nil
}

// opJSONStringTo converts a raw UTF-8 byte string into its JSON string
// encoding (quoted, escaped), backing JSON/STRING->.
func opJSONStringTo(e *vm.Env) error {
	v, err := e.Pop()
	if err != nil {
		return err
	}
	if !utf8.Valid(v) {
		return vm.ErrInvalidValue("JSON/STRING->: not valid UTF-8")
	}
	out, marshalErr := json.Marshal(string(v))
	if marshalErr != nil {
		return vm.ErrInvalidValue("JSON/STRING->: " + marshalErr.Error())
	}
	e.Push(out)
	return nil
}

// opJSONToString converts a JSON string value back into its raw UTF-8 bytes,
// backing JSON/->STRING.
func opJSONToString(e *vm.Env) error {
	v, err := e.Pop()
	if err != nil {
		return err
	}
	var s string
	if err := json.Unmarshal(v, &s); err != nil {
		return vm.ErrInvalidValue("JSON/->STRING: not a JSON string: " + err.Error())
	}
	e.Push([]byte(s))
	return nil
}
