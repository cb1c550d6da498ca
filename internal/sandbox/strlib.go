package sandbox

import (
	"math/bits"
	"strings"

	lua "github.com/yuin/gopher-lua"
)

// bytesPerStep is how many bytes a library function may copy or scan per
// step it bills.
const bytesPerStep = 64

const (
	defaultMaxStringLen = 1 << 20
	defaultMaxMemory    = 64 << 20
	maxFormatWidth      = 99
)

// charge bills n steps to the call in progress and raises a Lua error when
// the budget is exhausted or the call was aborted.
func (c *Context) charge(L *lua.LState, n int64) {
	if c.budget == nil || n <= 0 {
		return
	}
	if !c.budget.charge(n) {
		L.RaiseError("%s", c.budget.err.Error())
	}
}

func (c *Context) chargeBytes(L *lua.LState, n int) {
	c.charge(L, int64(n/bytesPerStep)+1)
}

// checkLength rejects a string of n bytes before it is built. Going over the
// limit ends the call for good, pcall included.
func (c *Context) checkLength(L *lua.LState, n int) {
	if n <= c.maxStringLen && n >= 0 {
		return
	}
	if c.budget != nil {
		c.budget.fail(ErrMemoryLimit)
	}
	L.RaiseError("string of %d bytes exceeds the %d byte limit", n, c.maxStringLen)
}

// meter runs fn after billing cost(L) steps.
func (c *Context) meter(fn lua.LGFunction, cost func(L *lua.LState) int64) lua.LGFunction {
	return func(L *lua.LState) int {
		c.charge(L, cost(L))
		return fn(L)
	}
}

func builtin(tbl *lua.LTable, name string) lua.LGFunction {
	if fn, ok := tbl.RawGetString(name).(*lua.LFunction); ok && fn.IsG {
		return fn.GFunction
	}
	return nil
}

func argLen(L *lua.LState, n int) int {
	switch v := L.Get(n).(type) {
	case lua.LString:
		return len(v)
	case lua.LNumber:
		return len(lua.LVAsString(v))
	}
	return 0
}

func argInt(L *lua.LState, n, def int) int {
	if v, ok := L.Get(n).(lua.LNumber); ok {
		return int(v)
	}
	return def
}

// installStringLib swaps the string functions whose work grows with their
// input for metered versions. The string metatable indexes the same table,
// so method calls on strings are covered too.
func (c *Context) installStringLib(L *lua.LState) {
	str, ok := L.GetGlobal(lua.StringLibName).(*lua.LTable)
	if !ok {
		return
	}
	byLen := func(L *lua.LState) int64 { return int64(argLen(L, 1)/bytesPerStep) + 1 }
	for _, name := range []string{"lower", "upper", "reverse"} {
		if fn := builtin(str, name); fn != nil {
			str.RawSetString(name, L.NewFunction(c.meter(fn, byLen)))
		}
	}
	if fn := builtin(str, "byte"); fn != nil {
		str.RawSetString("byte", L.NewFunction(c.meter(fn, func(L *lua.LState) int64 {
			l := argLen(L, 1)
			i := argInt(L, 2, 1)
			j := argInt(L, 3, i)
			if i < 0 {
				i += l + 1
			}
			if j < 0 {
				j += l + 1
			}
			return int64(max(1, min(j, l)-max(i, 1)+1))
		})))
	}
	if fn := builtin(str, "char"); fn != nil {
		str.RawSetString("char", L.NewFunction(c.meter(fn, func(L *lua.LState) int64 {
			return int64(L.GetTop()/bytesPerStep) + 1
		})))
	}
	if fn := builtin(str, "format"); fn != nil {
		str.RawSetString("format", L.NewFunction(c.strFormat(fn)))
	}
	SetFuncs(L, str, map[string]lua.LGFunction{
		"find":   c.strFind,
		"match":  c.strMatch,
		"gmatch": c.strGmatch,
		"gsub":   c.strGsub,
		"rep":    c.strRep,
	})
}

func (c *Context) installTableLib(L *lua.LState) {
	tbl, ok := L.GetGlobal(lua.TabLibName).(*lua.LTable)
	if !ok {
		return
	}
	tableLen := func(L *lua.LState) int {
		if t, ok := L.Get(1).(*lua.LTable); ok {
			return t.Len()
		}
		return 0
	}
	if fn := builtin(tbl, "insert"); fn != nil {
		tbl.RawSetString("insert", L.NewFunction(c.meter(fn, func(L *lua.LState) int64 {
			n := tableLen(L)
			if L.GetTop() >= 3 {
				return int64(max(1, n-argInt(L, 2, n)+1))
			}
			return 1
		})))
	}
	if fn := builtin(tbl, "remove"); fn != nil {
		tbl.RawSetString("remove", L.NewFunction(c.meter(fn, func(L *lua.LState) int64 {
			n := tableLen(L)
			return int64(max(1, n-argInt(L, 2, n)+1))
		})))
	}
	if fn := builtin(tbl, "sort"); fn != nil {
		tbl.RawSetString("sort", L.NewFunction(c.meter(fn, func(L *lua.LState) int64 {
			n := tableLen(L)
			return int64(n*bits.Len(uint(n))) + 1
		})))
	}
	if fn := builtin(tbl, "maxn"); fn != nil {
		tbl.RawSetString("maxn", L.NewFunction(c.meter(fn, func(L *lua.LState) int64 {
			return int64(tableLen(L)) + 1
		})))
	}
	tbl.RawSetString("concat", L.NewFunction(c.tabConcat))
}

func (c *Context) installBaseLib(L *lua.LState) {
	if fn, ok := L.GetGlobal("unpack").(*lua.LFunction); ok && fn.IsG {
		unpack := fn.GFunction
		L.SetGlobal("unpack", L.NewFunction(c.meter(unpack, func(L *lua.LState) int64 {
			n := 0
			if t, ok := L.Get(1).(*lua.LTable); ok {
				n = t.Len()
			}
			i, j := argInt(L, 2, 1), argInt(L, 3, n)
			return int64(max(1, j-i+1))
		})))
	}
}

func (c *Context) strRep(L *lua.LState) int {
	s := L.CheckString(1)
	n := L.CheckInt(2)
	if n <= 0 || len(s) == 0 {
		L.Push(lua.LString(""))
		return 1
	}
	if n > c.maxStringLen/len(s) {
		c.checkLength(L, c.maxStringLen+1)
	}
	c.chargeBytes(L, n*len(s))
	L.Push(lua.LString(strings.Repeat(s, n)))
	return 1
}

// strFormat validates the format directives and bounds the output size
// before handing the call to the interpreter's formatter.
func (c *Context) strFormat(format lua.LGFunction) lua.LGFunction {
	return func(L *lua.LState) int {
		f := L.CheckString(1)
		size := len(f)
		arg := 1
		for i := 0; i < len(f); i++ {
			if f[i] != '%' {
				continue
			}
			i++
			if i < len(f) && f[i] == '%' {
				continue
			}
			for i < len(f) && strings.IndexByte("-+ #0", f[i]) >= 0 {
				i++
			}
			width := 0
			for i < len(f) && isDigit(f[i]) {
				width = width*10 + int(f[i]-'0')
				i++
				if width > maxFormatWidth {
					L.ArgError(1, "invalid format (width or precision too long)")
				}
			}
			if i < len(f) && f[i] == '.' {
				prec := 0
				for i++; i < len(f) && isDigit(f[i]); i++ {
					prec = prec*10 + int(f[i]-'0')
					if prec > maxFormatWidth {
						L.ArgError(1, "invalid format (width or precision too long)")
					}
				}
				width += prec
			}
			arg++
			n := argLen(L, arg)
			if i < len(f) && f[i] == 'q' {
				n *= 2
			}
			size += width + n + 32
		}
		c.checkLength(L, size)
		c.chargeBytes(L, size)
		return format(L)
	}
}

func (c *Context) tabConcat(L *lua.LState) int {
	tbl := L.CheckTable(1)
	sep := L.OptString(2, "")
	i := L.OptInt(3, 1)
	j := L.OptInt(4, tbl.Len())
	if i > j {
		L.Push(lua.LString(""))
		return 1
	}
	c.charge(L, int64(j-i)+1)

	parts := make([]string, 0, min(j-i+1, c.maxStringLen+1))
	size := 0
	for k := i; k <= j; k++ {
		v := tbl.RawGetInt(k)
		switch v.(type) {
		case lua.LString, lua.LNumber:
		default:
			L.RaiseError("invalid value (at index %d) in table for 'concat'", k)
		}
		s := lua.LVAsString(v)
		size += len(s)
		if k > i {
			size += len(sep)
		}
		c.checkLength(L, size)
		parts = append(parts, s)
	}
	c.chargeBytes(L, size)
	L.Push(lua.LString(strings.Join(parts, sep)))
	return 1
}

func strInit(L *lua.LState, n, size int) int {
	init := L.OptInt(n, 1)
	if init < 0 {
		init += size + 1
	}
	init--
	if init < 0 {
		return 0
	}
	return min(init, size)
}

func (c *Context) strFind(L *lua.LState) int {
	src := L.CheckString(1)
	pat := L.CheckString(2)
	init := strInit(L, 3, len(src))

	if L.ToBool(4) || !strings.ContainsAny(pat, patternSpecials) {
		c.chargeBytes(L, len(src)-init)
		idx := strings.Index(src[init:], pat)
		if idx < 0 {
			L.Push(lua.LNil)
			return 1
		}
		L.Push(lua.LNumber(init + idx + 1))
		L.Push(lua.LNumber(init + idx + len(pat)))
		return 2
	}
	return c.findAux(L, src, pat, init, true)
}

func (c *Context) strMatch(L *lua.LState) int {
	src := L.CheckString(1)
	pat := L.CheckString(2)
	return c.findAux(L, src, pat, strInit(L, 3, len(src)), false)
}

func (c *Context) findAux(L *lua.LState, src, pat string, init int, find bool) int {
	anchor := strings.HasPrefix(pat, "^")
	if anchor {
		pat = pat[1:]
	}
	m := c.newMatcher(L, src, pat)
	for s := init; s <= len(src); s++ {
		m.level = 0
		if e := m.match(s, 0); e != -1 {
			if find {
				L.Push(lua.LNumber(s + 1))
				L.Push(lua.LNumber(e))
				return m.pushCaptures(-1, -1, false) + 2
			}
			return m.pushCaptures(s, e, true)
		}
		if anchor {
			break
		}
	}
	L.Push(lua.LNil)
	return 1
}

func (c *Context) strGmatch(L *lua.LState) int {
	src := L.CheckString(1)
	pat := L.CheckString(2)
	pos := 0
	L.Push(L.NewFunction(func(L *lua.LState) int {
		m := c.newMatcher(L, src, pat)
		for s := pos; s <= len(src); s++ {
			m.level = 0
			if e := m.match(s, 0); e != -1 {
				pos = e
				if e == s {
					pos++
				}
				return m.pushCaptures(s, e, true)
			}
		}
		pos = len(src) + 1
		return 0
	}))
	return 1
}

func (c *Context) strGsub(L *lua.LState) int {
	src := L.CheckString(1)
	pat := L.CheckString(2)
	repl := L.Get(3)
	switch repl.Type() {
	case lua.LTNumber, lua.LTString, lua.LTFunction, lua.LTTable:
	default:
		L.ArgError(3, "string/function/table expected")
	}
	maxN := L.OptInt(4, len(src)+1)

	anchor := strings.HasPrefix(pat, "^")
	if anchor {
		pat = pat[1:]
	}
	m := c.newMatcher(L, src, pat)
	var out strings.Builder
	s, n := 0, 0
	for n < maxN {
		m.level = 0
		e := m.match(s, 0)
		if e != -1 {
			n++
			c.addReplacement(L, m, &out, repl, s, e)
		}
		switch {
		case e != -1 && e > s:
			s = e
		case s < len(src):
			out.WriteByte(src[s])
			s++
		default:
			s = len(src) + 1
		}
		c.checkLength(L, out.Len())
		if s > len(src) || anchor {
			break
		}
	}
	if s < len(src) {
		out.WriteString(src[s:])
	}
	c.checkLength(L, out.Len())
	c.chargeBytes(L, out.Len())
	L.Push(lua.LString(out.String()))
	L.Push(lua.LNumber(n))
	return 2
}

func (c *Context) addReplacement(L *lua.LState, m *patternMatcher, out *strings.Builder, repl lua.LValue, s, e int) {
	var v lua.LValue
	switch r := repl.(type) {
	case lua.LString, lua.LNumber:
		news := lua.LVAsString(r)
		for i := 0; i < len(news); i++ {
			if news[i] != patternEscape {
				out.WriteByte(news[i])
				continue
			}
			i++
			switch {
			case i >= len(news):
			case !isDigit(news[i]):
				out.WriteByte(news[i])
			case news[i] == '0':
				out.WriteString(m.src[s:e])
			default:
				out.WriteString(lua.LVAsString(m.captureValue(int(news[i]-'1'), s, e)))
			}
			c.checkLength(L, out.Len())
		}
		return
	case *lua.LFunction:
		top := L.GetTop()
		L.Push(r)
		nargs := m.pushCaptures(s, e, true)
		L.Call(nargs, 1)
		v = L.Get(-1)
		L.SetTop(top)
	case *lua.LTable:
		v = L.GetTable(r, m.captureValue(0, s, e))
	}

	switch v.(type) {
	case lua.LString, lua.LNumber:
		out.WriteString(lua.LVAsString(v))
	default:
		if lua.LVAsBool(v) {
			L.RaiseError("invalid replacement value (a %s)", v.Type().String())
		}
		out.WriteString(m.src[s:e])
	}
}
