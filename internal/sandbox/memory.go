package sandbox

import (
	lua "github.com/yuin/gopher-lua"
)

// Estimated costs of interpreter objects, in bytes.
const (
	tableOverhead    = 64
	entryOverhead    = 32
	functionOverhead = 64
	userdataOverhead = 48
	stringOverhead   = 16
)

// footprint estimates the bytes reachable from the globals and the registry
// of L. Strings are counted once per reference, so the figure is an upper
// bound that does not depend on interning or map iteration order. The walk
// stops once limit is passed.
func footprint(L *lua.LState, limit int64) int64 {
	w := heapWalker{seen: make(map[lua.LValue]struct{}), limit: limit}
	w.visit(L.G.Global)
	w.visit(L.G.Registry)
	for len(w.pending) > 0 && w.size <= w.limit {
		v := w.pending[len(w.pending)-1]
		w.pending = w.pending[:len(w.pending)-1]
		w.expand(v)
	}
	return w.size
}

type heapWalker struct {
	seen    map[lua.LValue]struct{}
	pending []lua.LValue
	size    int64
	limit   int64
}

func (w *heapWalker) visit(v lua.LValue) {
	switch x := v.(type) {
	case lua.LString:
		w.size += int64(len(x)) + stringOverhead
	case *lua.LTable:
		if x != nil {
			w.push(x)
		}
	case *lua.LFunction:
		if x != nil {
			w.push(x)
		}
	case *lua.LUserData:
		if x != nil {
			w.push(x)
		}
	}
}

func (w *heapWalker) push(v lua.LValue) {
	if _, ok := w.seen[v]; ok {
		return
	}
	w.seen[v] = struct{}{}
	w.pending = append(w.pending, v)
}

func (w *heapWalker) expand(v lua.LValue) {
	switch x := v.(type) {
	case *lua.LTable:
		w.size += tableOverhead
		w.visit(x.Metatable)
		x.ForEach(func(k, val lua.LValue) {
			w.size += entryOverhead
			w.visit(k)
			w.visit(val)
		})
	case *lua.LFunction:
		w.size += functionOverhead
		if x.Env != nil {
			w.visit(x.Env)
		}
		for _, up := range x.Upvalues {
			if up != nil {
				w.visit(up.Value())
			}
		}
	case *lua.LUserData:
		w.size += userdataOverhead
		if x.Env != nil {
			w.visit(x.Env)
		}
		w.visit(x.Metatable)
	}
}
