package cmdrdata

import (
	"fmt"
	"reflect"
	"sort"
	"strings"
	"sync"
)

// TrackMethods maps dotted method paths (e.g. "Models.GenerateContent") to
// the extraction function invoked after each call. Keys at depth > 1 take
// effect at the nesting level matching their prefix.
type TrackMethods map[string]Extractor

// TrackedProxy forwards member access to an arbitrary target while wrapping
// the methods named in its tracking table. Targets may be structs, pointers
// to structs, or map[string]any for fully dynamic surfaces. Resolution
// decisions are memoized per name for the proxy's lifetime; the target's
// member set is assumed stable after construction.
type TrackedProxy struct {
	target reflect.Value
	sink   UsageSink
	logger *Logger
	prefix string

	// direct holds exact-name tracked methods at this level; nested holds
	// suffix tables for child proxies, split once at construction.
	direct map[string]Extractor
	nested map[string]TrackMethods

	memo sync.Map // member name -> resolved handle
}

// NewTrackedProxy wraps target with the given tracking table. All members
// absent from the table pass through untouched.
func NewTrackedProxy(target any, sink UsageSink, methods TrackMethods) *TrackedProxy {
	return newChildProxy(target, sink, methods, "")
}

func newChildProxy(target any, sink UsageSink, methods TrackMethods, prefix string) *TrackedProxy {
	logger := defaultLogger
	if t, ok := sink.(*Tracker); ok {
		logger = t.logger
	}
	p := &TrackedProxy{
		target: reflect.ValueOf(target),
		sink:   sink,
		logger: logger,
		prefix: prefix,
		direct: make(map[string]Extractor),
		nested: make(map[string]TrackMethods),
	}
	for path, extract := range methods {
		head, rest, found := strings.Cut(path, ".")
		if !found {
			p.direct[head] = extract
			continue
		}
		sub := p.nested[head]
		if sub == nil {
			sub = make(TrackMethods)
			p.nested[head] = sub
		}
		sub[rest] = extract
	}
	return p
}

// Get resolves a member of the target: a tracked wrapper for methods in the
// table, a child proxy for sub-objects with tracked descendants, or the
// member unchanged. The first resolution per name wins and is returned to
// every subsequent (including concurrent) caller.
func (p *TrackedProxy) Get(name string) (any, error) {
	if handle, ok := p.memo.Load(name); ok {
		return handle, nil
	}
	if !p.target.IsValid() {
		return nil, &LookupError{Target: "<nil>", Member: name}
	}
	member, ok := p.lookupMember(name)
	if !ok {
		// Misses are never memoized so members added to dynamic targets
		// later are observed.
		return nil, &LookupError{Target: p.targetTypeName(), Member: name}
	}
	handle, _ := p.memo.LoadOrStore(name, p.buildHandle(name, member))
	return handle, nil
}

// Resolve walks a dotted path through nested members and returns the final
// handle.
func (p *TrackedProxy) Resolve(path string) (any, error) {
	cur, rest := p, path
	for {
		head, tail, found := strings.Cut(rest, ".")
		handle, err := cur.Get(head)
		if err != nil || !found {
			return handle, err
		}
		child, ok := handle.(*TrackedProxy)
		if !ok {
			// Untracked intermediates still resolve, without wrapping.
			child = newChildProxy(handle, cur.sink, nil, cur.prefix+head+".")
		}
		cur, rest = child, tail
	}
}

// Set forwards a member assignment to the target. The proxy's own
// bookkeeping lives in unexported fields and is never addressable here.
func (p *TrackedProxy) Set(name string, value any) error {
	if !p.target.IsValid() {
		return &LookupError{Target: "<nil>", Member: name}
	}
	v := reflect.Indirect(p.target)
	rv := reflect.ValueOf(value)
	switch v.Kind() {
	case reflect.Struct:
		f := v.FieldByName(name)
		if !f.IsValid() {
			return &LookupError{Target: p.targetTypeName(), Member: name}
		}
		if !f.CanSet() {
			return newValidationError(fmt.Sprintf("member %q of %s is not settable", name, p.targetTypeName()), nil)
		}
		if !rv.IsValid() {
			f.Set(reflect.Zero(f.Type()))
			return nil
		}
		if !rv.Type().AssignableTo(f.Type()) {
			return newValidationError(fmt.Sprintf("cannot assign %T to member %q of %s", value, name, p.targetTypeName()), nil)
		}
		f.Set(rv)
		return nil
	case reflect.Map:
		key := reflect.ValueOf(name).Convert(v.Type().Key())
		if rv.IsValid() && !rv.Type().AssignableTo(v.Type().Elem()) {
			return newValidationError(fmt.Sprintf("cannot assign %T to member %q of %s", value, name, p.targetTypeName()), nil)
		}
		if !rv.IsValid() {
			rv = reflect.Zero(v.Type().Elem())
		}
		v.SetMapIndex(key, rv)
		return nil
	}
	return newValidationError(fmt.Sprintf("%s does not accept member assignment", p.targetTypeName()), nil)
}

// Members returns the union of the proxy's own exported methods and the
// target's exported members, deduplicated and sorted.
func (p *TrackedProxy) Members() []string {
	seen := make(map[string]struct{})
	pt := reflect.TypeOf(p)
	for i := 0; i < pt.NumMethod(); i++ {
		seen[pt.Method(i).Name] = struct{}{}
	}
	if p.target.IsValid() {
		tt := p.target.Type()
		for i := 0; i < tt.NumMethod(); i++ {
			seen[tt.Method(i).Name] = struct{}{}
		}
		v := reflect.Indirect(p.target)
		switch v.Kind() {
		case reflect.Struct:
			t := v.Type()
			for i := 0; i < t.NumField(); i++ {
				if f := t.Field(i); f.IsExported() {
					seen[f.Name] = struct{}{}
				}
			}
		case reflect.Map:
			for _, k := range v.MapKeys() {
				if k.Kind() == reflect.String {
					seen[k.String()] = struct{}{}
				}
			}
		}
	}
	names := make([]string, 0, len(seen))
	for n := range seen {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Target returns the wrapped object.
func (p *TrackedProxy) Target() any {
	if !p.target.IsValid() {
		return nil
	}
	return p.target.Interface()
}

func (p *TrackedProxy) String() string {
	return fmt.Sprintf("TrackedProxy(%s)", p.targetTypeName())
}

func (p *TrackedProxy) targetTypeName() string {
	if !p.target.IsValid() {
		return "<nil>"
	}
	return p.target.Type().String()
}

func (p *TrackedProxy) lookupMember(name string) (reflect.Value, bool) {
	if m := p.target.MethodByName(name); m.IsValid() {
		return m, true
	}
	v := reflect.Indirect(p.target)
	switch v.Kind() {
	case reflect.Struct:
		if f := v.FieldByName(name); f.IsValid() && f.CanInterface() {
			return f, true
		}
	case reflect.Map:
		if v.Type().Key().Kind() == reflect.String {
			key := reflect.ValueOf(name).Convert(v.Type().Key())
			if e := v.MapIndex(key); e.IsValid() {
				if e.Kind() == reflect.Interface && !e.IsNil() {
					e = e.Elem()
				}
				return e, true
			}
		}
	}
	return reflect.Value{}, false
}

func (p *TrackedProxy) buildHandle(name string, member reflect.Value) any {
	if extract, ok := p.direct[name]; ok && member.Kind() == reflect.Func {
		return makeTrackedFunc(member, p.prefix+name, extract, p.sink, p.logger)
	}
	if sub, ok := p.nested[name]; ok && isStructured(member) {
		return newChildProxy(member.Interface(), p.sink, sub, p.prefix+name+".")
	}
	if !member.IsValid() || !member.CanInterface() {
		return nil
	}
	return member.Interface()
}

// isStructured reports whether a member is a structured sub-object worth
// proxying, as opposed to a scalar, nil, or function.
func isStructured(v reflect.Value) bool {
	if v.Kind() == reflect.Interface {
		if v.IsNil() {
			return false
		}
		v = v.Elem()
	}
	v = reflect.Indirect(v)
	if !v.IsValid() {
		return false
	}
	switch v.Kind() {
	case reflect.Struct, reflect.Map:
		return true
	}
	return false
}
