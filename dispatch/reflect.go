package dispatch

import (
	"fmt"
	"reflect"
	"sort"

	"mini-rpc/codec"
)

// MethodTable maps a trait's method names to the stable 32-bit method ids
// both ends of a link agree on. It is built once per trait (not per
// object), independently by each end, from the trait's method name list;
// no table is exchanged at link time. Because ids follow sorted name
// order, two implementations that list the methods in different orders
// still agree on the numeric encoding, but only if their name lists are
// identical.
type MethodTable struct {
	nameToID map[string]uint32
	idToName map[uint32]string
}

// NewMethodTable assigns ids to methodNames in sorted order, giving both
// ends of a link a deterministic numbering without any runtime exchange
// beyond agreeing on the trait's method name list.
func NewMethodTable(methodNames []string) *MethodTable {
	sorted := append([]string(nil), methodNames...)
	sort.Strings(sorted)

	t := &MethodTable{
		nameToID: make(map[string]uint32, len(sorted)),
		idToName: make(map[uint32]string, len(sorted)),
	}
	for i, name := range sorted {
		t.nameToID[name] = uint32(i)
		t.idToName[uint32(i)] = name
	}
	return t
}

// ID returns the method id for name.
func (t *MethodTable) ID(name string) (uint32, bool) {
	id, ok := t.nameToID[name]
	return id, ok
}

// Name returns the method name for id.
func (t *MethodTable) Name(id uint32) (string, bool) {
	name, ok := t.idToName[id]
	return name, ok
}

var errorType = reflect.TypeOf((*error)(nil)).Elem()

// NewReflectDispatcher scans rcvr (a pointer to a struct) for exported
// methods matching the RTO method-handler convention:
//
//	func (receiver) MethodName(args *ArgsType) (*ReplyType, error)
//
// and builds a DispatcherFunc that decodes payload into the right ArgsType,
// invokes the method, and encodes the ReplyType result — the direct
// analogue of the teacher's reflect-based service.go, adapted from the
// "args,reply,error" triple-argument RPC convention to this core's
// "args-in, reply-and-error-out" RTO convention.
func NewReflectDispatcher(rcvr any, table *MethodTable, c codec.Codec) (DispatcherFunc, error) {
	typ := reflect.TypeOf(rcvr)
	if typ.Kind() != reflect.Ptr || typ.Elem().Kind() != reflect.Struct {
		return nil, fmt.Errorf("dispatch: rcvr must be a pointer to a struct, got %s", typ)
	}
	val := reflect.ValueOf(rcvr)

	type boundMethod struct {
		method  reflect.Method
		argType reflect.Type
	}
	methods := make(map[uint32]boundMethod)

	for i := 0; i < typ.NumMethod(); i++ {
		m := typ.Method(i)
		id, ok := table.ID(m.Name)
		if !ok {
			continue
		}
		if m.Type.NumIn() != 2 || m.Type.NumOut() != 2 {
			continue
		}
		if m.Type.In(1).Kind() != reflect.Ptr {
			continue
		}
		if m.Type.Out(1) != errorType {
			continue
		}
		methods[id] = boundMethod{method: m, argType: m.Type.In(1).Elem()}
	}

	return func(method uint32, payload []byte) ([]byte, error) {
		bm, ok := methods[method]
		if !ok {
			panic(fmt.Sprintf("dispatch: unknown method id %d", method))
		}

		argv := reflect.New(bm.argType)
		if err := c.Decode(payload, argv.Interface()); err != nil {
			panic(fmt.Sprintf("dispatch: decode error for method id %d: %v", method, err))
		}

		results := bm.method.Func.Call([]reflect.Value{val, argv})
		replyv, errv := results[0], results[1]
		if !errv.IsNil() {
			return nil, errv.Interface().(error)
		}
		return c.Encode(replyv.Interface())
	}, nil
}
