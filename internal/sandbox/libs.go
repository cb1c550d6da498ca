package sandbox

import (
	"sort"
	"strings"

	lua "github.com/yuin/gopher-lua"
)

// removedGlobals reach the file system or the module loader.
var removedGlobals = []string{
	"dofile", "loadfile", "load", "loadstring", "require", "module", "collectgarbage", "_printregs",
}

func (c *Context) openLibs() {
	L := c.state
	for _, lib := range []struct {
		name string
		open lua.LGFunction
	}{
		{lua.BaseLibName, lua.OpenBase},
		{lua.TabLibName, lua.OpenTable},
		{lua.StringLibName, lua.OpenString},
		{lua.MathLibName, lua.OpenMath},
	} {
		L.Push(L.NewFunction(lib.open))
		L.Push(lua.LString(lib.name))
		L.Call(1, 0)
	}

	for _, name := range removedGlobals {
		L.SetGlobal(name, lua.LNil)
	}

	if math, ok := L.GetGlobal(lua.MathLibName).(*lua.LTable); ok {
		math.RawSetString("random", L.NewFunction(c.luaRandom))
		math.RawSetString("randomseed", L.NewFunction(c.luaRandomSeed))
	}
	L.SetGlobal("print", L.NewFunction(c.luaPrint))

	c.installBaseLib(L)
	c.installStringLib(L)
	c.installTableLib(L)
}

// math.random with Lua 5.1 argument handling, backed by the context's own
// seeded generator.
func (c *Context) luaRandom(L *lua.LState) int {
	switch L.GetTop() {
	case 0:
		L.Push(lua.LNumber(c.rng.Float64()))
	case 1:
		hi := L.CheckInt(1)
		if hi < 1 {
			L.ArgError(1, "interval is empty")
		}
		L.Push(lua.LNumber(c.rng.Intn(hi) + 1))
	default:
		lo, hi := L.CheckInt(1), L.CheckInt(2)
		if lo > hi {
			L.ArgError(2, "interval is empty")
		}
		L.Push(lua.LNumber(lo + c.rng.Intn(hi-lo+1)))
	}
	return 1
}

func (c *Context) luaRandomSeed(L *lua.LState) int {
	c.rng.Seed(int64(L.CheckNumber(1)))
	return 0
}

func (c *Context) luaPrint(L *lua.LState) int {
	n := L.GetTop()
	parts := make([]string, 0, n)
	size := 0
	for i := 1; i <= n; i++ {
		part := L.ToStringMeta(L.Get(i)).String()
		size += len(part)
		parts = append(parts, part)
	}
	c.chargeBytes(L, size)
	c.logger.Debug().Msg(strings.Join(parts, "\t"))
	return 0
}

// NewObject builds a table whose fields are the given functions, inserted in
// key order so that pairs() over it is reproducible.
func NewObject(L *lua.LState, methods map[string]lua.LGFunction) *lua.LTable {
	tbl := L.NewTable()
	SetFuncs(L, tbl, methods)
	return tbl
}

// SetFuncs installs methods on tbl in sorted key order.
func SetFuncs(L *lua.LState, tbl *lua.LTable, methods map[string]lua.LGFunction) {
	names := make([]string, 0, len(methods))
	for name := range methods {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		tbl.RawSetString(name, L.NewFunction(methods[name]))
	}
}
