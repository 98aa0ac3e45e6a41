package server

import (
	"context"
	"fmt"
	"reflect"
)

type methodType struct {
	method    reflect.Method
	takesCtx  bool
	ArgType   reflect.Type
	ReplyType reflect.Type
}

type service struct {
	name   string
	rcvr   reflect.Value
	typ    reflect.Type
	method map[string]*methodType
}

// newService builds a service from rcvr and scans its exported methods. An empty name
// defaults to the receiver's type name.
func newService(name string, rcvr any) (*service, error) {
	typ := reflect.TypeOf(rcvr)
	if typ == nil || typ.Kind() != reflect.Ptr {
		return nil, fmt.Errorf("server: receiver must be a pointer, got %T", rcvr)
	}
	if typ.Elem().Kind() != reflect.Struct {
		return nil, fmt.Errorf("server: receiver must point to a struct, got %s", typ.Elem().Kind())
	}
	if name == "" {
		name = typ.Elem().Name()
	}

	svc := &service{
		name:   name,
		rcvr:   reflect.ValueOf(rcvr),
		typ:    typ,
		method: make(map[string]*methodType),
	}
	svc.registerMethods()
	if len(svc.method) == 0 {
		return nil, fmt.Errorf("server: %s has no exported methods of the form (ctx, *Args, *Reply) error", name)
	}
	return svc, nil
}

var (
	errorType   = reflect.TypeOf((*error)(nil)).Elem()
	contextType = reflect.TypeOf((*context.Context)(nil)).Elem()
)

// registerMethods keeps the exported methods shaped like
//
//	func (s *T) Method(ctx context.Context, args *Args, reply *Reply) error
//	func (s *T) Method(args *Args, reply *Reply) error
func (s *service) registerMethods() {
	for i := 0; i < s.typ.NumMethod(); i++ {
		method := s.typ.Method(i)
		mt := method.Type
		if mt.NumOut() != 1 || mt.Out(0) != errorType {
			continue
		}

		first := 1
		takesCtx := mt.NumIn() == 4 && mt.In(1) == contextType
		if takesCtx {
			first = 2
		} else if mt.NumIn() != 3 {
			continue
		}
		if mt.In(first).Kind() != reflect.Ptr || mt.In(first+1).Kind() != reflect.Ptr {
			continue
		}

		s.method[method.Name] = &methodType{
			method:    method,
			takesCtx:  takesCtx,
			ArgType:   mt.In(first).Elem(),
			ReplyType: mt.In(first + 1).Elem(),
		}
	}
}

func (s *service) call(ctx context.Context, mType *methodType, argv, replyv reflect.Value) error {
	args := []reflect.Value{s.rcvr, argv, replyv}
	if mType.takesCtx {
		args = []reflect.Value{s.rcvr, reflect.ValueOf(ctx), argv, replyv}
	}
	results := mType.method.Func.Call(args)
	if !results[0].IsNil() {
		return results[0].Interface().(error)
	}
	return nil
}
