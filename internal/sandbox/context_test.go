package sandbox

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	lua "github.com/yuin/gopher-lua"
)

func testOptions(name string) Options {
	return Options{
		Name:          name,
		Seed:          42,
		StepLimit:     10_000,
		InitStepLimit: 100_000,
		Logger:        zerolog.Nop(),
	}
}

func loadContext(t *testing.T, ctx context.Context, code string) *Context {
	t.Helper()
	c := New(ctx, testOptions("test.lua"))
	t.Cleanup(c.Close)
	require.NoError(t, c.Load(Source{Name: "test.lua", Code: code}))
	return c
}

func TestLoadSyntaxError(t *testing.T) {
	c := New(context.Background(), testOptions("broken.lua"))
	defer c.Close()

	err := c.Load(Source{Name: "broken.lua", Code: "function init( end"})
	var loadErr *ScriptLoadError
	require.ErrorAs(t, err, &loadErr)
	assert.Equal(t, "broken.lua", loadErr.Script)
	assert.True(t, IsContained(err))
}

func TestLoadTopLevelErrorIsLoadError(t *testing.T) {
	c := New(context.Background(), testOptions("boom.lua"))
	defer c.Close()

	err := c.Load(Source{Name: "boom.lua", Code: `error("boom")`})
	var loadErr *ScriptLoadError
	require.ErrorAs(t, err, &loadErr)
	assert.Contains(t, err.Error(), "boom")
}

func TestCallReturnsResults(t *testing.T) {
	c := loadContext(t, context.Background(), `function add(a, b) return a + b, "ok" end`)

	results, stats, err := c.Call(PhaseRun, "add", 2, lua.LNumber(2), lua.LNumber(3))
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, lua.LNumber(5), results[0])
	assert.Equal(t, lua.LString("ok"), results[1])
	assert.Positive(t, stats.Steps)
	assert.Equal(t, 0, c.State().GetTop(), "stack must be balanced after a call")
}

func TestCallMissingFunctionIsNoop(t *testing.T) {
	c := loadContext(t, context.Background(), `x = 1`)

	results, stats, err := c.Call(PhaseRun, "run", 0)
	require.NoError(t, err)
	assert.Nil(t, results)
	assert.Zero(t, stats.Calls)
}

func TestRuntimeError(t *testing.T) {
	c := loadContext(t, context.Background(), `function run() local t = nil; return t.x end`)

	_, _, err := c.Call(PhaseRun, "run", 0)
	var rtErr *ScriptRuntimeError
	require.ErrorAs(t, err, &rtErr)
	assert.Equal(t, PhaseRun, rtErr.Phase)
	assert.True(t, IsContained(err))
}

func TestStepLimitIsDeterministic(t *testing.T) {
	code := `function run() local i = 0 while true do i = i + 1 end end`

	var steps []int64
	for i := 0; i < 2; i++ {
		c := loadContext(t, context.Background(), code)
		_, stats, err := c.Call(PhaseRun, "run", 0)

		var timeout *ScriptTimeoutError
		require.ErrorAs(t, err, &timeout)
		assert.ErrorIs(t, err, ErrStepLimit)
		assert.Equal(t, int64(10_000), timeout.Limit)
		steps = append(steps, stats.Steps)
	}
	assert.Equal(t, steps[0], steps[1])
	assert.Equal(t, int64(10_001), steps[0])
}

func TestPcallCannotSwallowTimeout(t *testing.T) {
	c := loadContext(t, context.Background(), `
		function spin() while true do end end
		function run()
			for i = 1, 5 do pcall(spin) end
			return "escaped"
		end`)

	results, _, err := c.Call(PhaseRun, "run", 1)
	assert.Nil(t, results)
	var timeout *ScriptTimeoutError
	assert.ErrorAs(t, err, &timeout)
}

func TestAbortInterruptsTightLoop(t *testing.T) {
	opts := testOptions("spin.lua")
	opts.StepLimit = 0
	c := New(context.Background(), opts)
	defer c.Close()
	require.NoError(t, c.Load(Source{Name: "spin.lua", Code: `function run() while true do end end`}))

	go func() {
		time.Sleep(20 * time.Millisecond)
		c.Abort()
	}()

	_, _, err := c.Call(PhaseRun, "run", 0)
	assert.ErrorIs(t, err, ErrAborted)
	assert.False(t, IsContained(err), "aborts end the match rather than disabling a team")
	assert.True(t, c.Aborted())
}

func TestParentCancellationAborts(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	opts := testOptions("spin.lua")
	opts.StepLimit = 0
	c := New(ctx, opts)
	defer c.Close()
	require.NoError(t, c.Load(Source{Name: "spin.lua", Code: `function run() while true do end end`}))

	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, _, err := c.Call(PhaseRun, "run", 0)
	assert.ErrorIs(t, err, ErrAborted)
}

func TestRandomIsSeededPerContext(t *testing.T) {
	code := `function roll() return math.random(1, 1000000), math.random() end`
	a := loadContext(t, context.Background(), code)
	b := loadContext(t, context.Background(), code)

	ra, _, err := a.Call(PhaseRun, "roll", 2)
	require.NoError(t, err)
	rb, _, err := b.Call(PhaseRun, "roll", 2)
	require.NoError(t, err)
	assert.Equal(t, ra, rb)
}

func TestDangerousGlobalsRemoved(t *testing.T) {
	c := loadContext(t, context.Background(), `
		function check()
			return dofile == nil and loadfile == nil and require == nil and io == nil and os == nil
		end`)

	results, _, err := c.Call(PhaseRun, "check", 1)
	require.NoError(t, err)
	assert.Equal(t, lua.LTrue, results[0])
}

func TestValidate(t *testing.T) {
	opts := testOptions("")
	tests := []struct {
		name    string
		kind    Kind
		code    string
		wantErr bool
	}{
		{"ship with init", KindShip, `function init(ships, world) end`, false},
		{"ship with only run", KindShip, `function run() end`, false},
		{"ship defining configure", KindShip, `function init() end function configure() end`, true},
		{"ship without entry points", KindShip, `x = 1`, true},
		{"stage with configure", KindStage, `function configure(b) end`, false},
		{"stage without configure", KindStage, `function init() end`, true},
		{"syntax error", KindShip, `function init(`, true},
		{"runaway top level", KindShip, `while true do end`, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(context.Background(), Source{Name: "x.lua", Code: tt.code}, tt.kind, opts)
			if !tt.wantErr {
				assert.NoError(t, err)
				return
			}
			var failure *ScriptValidationFailure
			assert.ErrorAs(t, err, &failure)
		})
	}
}

func TestLoaderResolve(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "bots"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "bots", "a.lua"), []byte("function run() end"), 0o644))

	l := NewLoader(root)

	src, err := l.Load("bots/a.lua")
	require.NoError(t, err)
	assert.Equal(t, "bots/a.lua", src.Name)
	assert.Contains(t, src.Code, "function run")

	for _, bad := range []string{"../escape.lua", "/etc/passwd", "bots/../../x.lua"} {
		_, err := l.Load(bad)
		var loadErr *ScriptLoadError
		assert.ErrorAs(t, err, &loadErr, bad)
	}

	_, err = l.Load("bots/missing.lua")
	var loadErr *ScriptLoadError
	assert.ErrorAs(t, err, &loadErr)
}

func TestPatternMatchingIsMetered(t *testing.T) {
	for _, code := range []string{
		`function run() return string.rep("a", 1500):find(".-.-.-b") end`,
		`function run() return ("a"):rep(1500):match("(.-)(.-)(.-)b") end`,
		`function run() return string.gsub(string.rep("a", 1500), ".-.-.-b", "") end`,
		`function run() for w in string.rep("a", 1500):gmatch(".-.-.-b") do end end`,
	} {
		opts := testOptions("pattern.lua")
		opts.StepLimit = 200
		c := New(context.Background(), opts)
		require.NoError(t, c.Load(Source{Name: "pattern.lua", Code: code}))

		_, stats, err := c.Call(PhaseRun, "run", 0)
		var timeout *ScriptTimeoutError
		require.ErrorAs(t, err, &timeout, code)
		assert.LessOrEqual(t, stats.Steps, int64(300), code)
		c.Close()
	}
}

func TestAbortInterruptsPatternMatch(t *testing.T) {
	opts := testOptions("pattern.lua")
	opts.StepLimit = 0
	c := New(context.Background(), opts)
	defer c.Close()
	require.NoError(t, c.Load(Source{Name: "pattern.lua", Code: `
		function run()
			local s = string.rep("a", 20000)
			while true do s:find(".-.-.-.-b") end
		end`}))

	go func() {
		time.Sleep(20 * time.Millisecond)
		c.Abort()
	}()

	_, _, err := c.Call(PhaseRun, "run", 0)
	assert.ErrorIs(t, err, ErrAborted)
}

func TestStringLibrarySemantics(t *testing.T) {
	tests := []struct {
		expr string
		want []lua.LValue
	}{
		{`string.find("hello world", "o w")`, []lua.LValue{lua.LNumber(5), lua.LNumber(7)}},
		{`string.find("hello", "l+")`, []lua.LValue{lua.LNumber(3), lua.LNumber(4)}},
		{`string.find("a.b", ".", 1, true)`, []lua.LValue{lua.LNumber(2), lua.LNumber(2)}},
		{`string.find("abc", "x")`, []lua.LValue{lua.LNil}},
		{`("THE (quick) fox"):find("%((%a+)%)")`, []lua.LValue{lua.LNumber(5), lua.LNumber(11), lua.LString("quick")}},
		{`string.match("key=val", "(%w+)=(%w+)")`, []lua.LValue{lua.LString("key"), lua.LString("val")}},
		{`string.match("  x", "^%s*()")`, []lua.LValue{lua.LNumber(3)}},
		{`string.match("f(a(b)c) d", "%b()")`, []lua.LValue{lua.LString("(a(b)c)")}},
		{`string.match("hello hello", "(h%a+) %1")`, []lua.LValue{lua.LString("hello")}},
		{`string.match("x = 12", "%d+$")`, []lua.LValue{lua.LString("12")}},
		{`string.gsub("hello world", "o", "0")`, []lua.LValue{lua.LString("hell0 w0rld"), lua.LNumber(2)}},
		{`string.gsub("abc", "%w", "%0%0")`, []lua.LValue{lua.LString("aabbcc"), lua.LNumber(3)}},
		{`string.gsub("abc", "", "-")`, []lua.LValue{lua.LString("-a-b-c-"), lua.LNumber(4)}},
		{`string.gsub("aaa", "a", "b", 2)`, []lua.LValue{lua.LString("bba"), lua.LNumber(2)}},
		{`string.gsub("$name!", "%$(%w+)", {name = "bot"})`, []lua.LValue{lua.LString("bot!"), lua.LNumber(1)}},
		{`string.gsub("a b", "%w", function(c) return c:upper() end)`, []lua.LValue{lua.LString("A B"), lua.LNumber(2)}},
		{`string.gsub("THE (quick) fox", "%f[%a]%a+", "W")`, []lua.LValue{lua.LString("W (W) W"), lua.LNumber(3)}},
		{`string.rep("ab", 3)`, []lua.LValue{lua.LString("ababab")}},
		{`string.format("%5.1f|%s", 3.14159, "x")`, []lua.LValue{lua.LString("  3.1|x")}},
		{`table.concat({1, "b", 3}, ",")`, []lua.LValue{lua.LString("1,b,3")}},
		{`"a" .. 1 .. "b"`, []lua.LValue{lua.LString("a1b")}},
		{`(function()
			local words = {}
			for w in ("one two three"):gmatch("%a+") do words[#words + 1] = w end
			return table.concat(words, ",")
		end)()`, []lua.LValue{lua.LString("one,two,three")}},
		{`setmetatable({}, {__concat = function(a, b) return "meta" end}) .. "x"`, []lua.LValue{lua.LString("meta")}},
	}

	for _, tt := range tests {
		c := loadContext(t, context.Background(), "function run() return "+tt.expr+" end")
		results, _, err := c.Call(PhaseRun, "run", len(tt.want))
		require.NoError(t, err, tt.expr)
		assert.Equal(t, tt.want, results, tt.expr)
	}
}

func TestConcatTypeError(t *testing.T) {
	c := loadContext(t, context.Background(), `function run() return "a" .. nil end`)

	_, _, err := c.Call(PhaseRun, "run", 1)
	var rtErr *ScriptRuntimeError
	require.ErrorAs(t, err, &rtErr)
	assert.Contains(t, err.Error(), "concat")
	assert.NotErrorIs(t, err, ErrMemoryLimit)
}

func TestStringLengthLimit(t *testing.T) {
	for _, code := range []string{
		`function run() local s = "x" for i = 1, 28 do s = s .. s end end`,
		`function run() local s = "x" for i = 1, 28 do pcall(function() s = s .. s end) end end`,
		`function run() return string.rep("x", 2 ^ 30) end`,
		`function run() local t = {} for i = 1, 40 do t[i] = string.rep("y", 60000) end return table.concat(t) end`,
		`function run() local s = string.rep("ab", 100000) return (s:gsub("a", string.rep("z", 20))) end`,
	} {
		opts := testOptions("hog.lua")
		opts.StepLimit = 1_000_000
		c := New(context.Background(), opts)
		require.NoError(t, c.Load(Source{Name: "hog.lua", Code: code}))

		_, _, err := c.Call(PhaseRun, "run", 0)
		var rtErr *ScriptRuntimeError
		require.ErrorAs(t, err, &rtErr, code)
		assert.ErrorIs(t, err, ErrMemoryLimit, code)
		assert.True(t, IsContained(err), code)
		c.Close()
	}
}

func TestFormatRejectsHugeWidth(t *testing.T) {
	c := loadContext(t, context.Background(), `function run() return string.format("%999999d", 1) end`)

	_, _, err := c.Call(PhaseRun, "run", 1)
	var rtErr *ScriptRuntimeError
	require.ErrorAs(t, err, &rtErr)
	assert.Contains(t, err.Error(), "invalid format")
}

func TestRetainedMemoryLimit(t *testing.T) {
	opts := testOptions("hoard.lua")
	opts.MaxMemory = 1 << 20
	c := New(context.Background(), opts)
	defer c.Close()
	require.NoError(t, c.Load(Source{Name: "hoard.lua", Code: `
		hoard = {}
		function run()
			for i = 1, 100 do hoard[#hoard + 1] = string.rep("x", 1000) .. i end
		end`}))

	var err error
	calls := 0
	for ; calls < 50 && err == nil; calls++ {
		_, _, err = c.Call(PhaseRun, "run", 0)
	}
	require.ErrorIs(t, err, ErrMemoryLimit)
	assert.True(t, IsContained(err))
	assert.Less(t, calls, 20, "roughly 100KB is retained per call")
}

func TestLargeTableOperationsAreMetered(t *testing.T) {
	opts := testOptions("table.lua")
	opts.StepLimit = 100_000
	opts.InitStepLimit = 1_000_000
	c := New(context.Background(), opts)
	defer c.Close()
	require.NoError(t, c.Load(Source{Name: "table.lua", Code: `
		big = {}
		for i = 1, 50000 do big[i] = i end
		function run()
			for i = 1, 1000 do table.insert(big, 1, i) end
		end`}))

	_, _, err := c.Call(PhaseRun, "run", 0)
	var timeout *ScriptTimeoutError
	assert.ErrorAs(t, err, &timeout)
}
