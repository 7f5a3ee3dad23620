package lua

import (
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"

	lua "github.com/yuin/gopher-lua"

	"github.com/raniellyferreira/redis-node/protocol"
)

// ErrNoScript is returned by EvalSHA for an unknown digest. Its text is a
// complete Redis error reply.
var ErrNoScript = errors.New("NOSCRIPT No matching script. Please use EVAL.")

// Caller executes a command issued by a script through redis.call or
// redis.pcall. args holds the command name followed by its arguments.
type Caller func(args [][]byte) protocol.Value

// Engine provides Redis-compatible Lua script execution
type Engine struct {
	scripts sync.Map // map[string]string - SHA1 -> script content
}

// NewEngine creates a new Lua execution engine
func NewEngine() *Engine {
	return &Engine{}
}

// Eval executes a Lua script. Commands issued by the script go through
// call, and the script is cached under its SHA1 digest.
func (e *Engine) Eval(script string, keys, args []string, call Caller) (protocol.Value, error) {
	e.LoadScript(script)
	return e.run(script, keys, args, call)
}

// EvalSHA executes a previously loaded script by its SHA1 digest
func (e *Engine) EvalSHA(sha string, keys, args []string, call Caller) (protocol.Value, error) {
	script, ok := e.scripts.Load(strings.ToLower(sha))
	if !ok {
		return protocol.Value{}, ErrNoScript
	}
	return e.run(script.(string), keys, args, call)
}

// LoadScript caches a script and returns its SHA1 digest
func (e *Engine) LoadScript(script string) string {
	sum := sha1.Sum([]byte(script))
	hash := hex.EncodeToString(sum[:])
	e.scripts.Store(hash, script)
	return hash
}

// ScriptExists reports, per digest, whether a script is cached
func (e *Engine) ScriptExists(hashes []string) []bool {
	results := make([]bool, len(hashes))
	for i, hash := range hashes {
		_, results[i] = e.scripts.Load(strings.ToLower(hash))
	}
	return results
}

// ScriptFlush removes all cached scripts
func (e *Engine) ScriptFlush() {
	e.scripts.Range(func(key, _ interface{}) bool {
		e.scripts.Delete(key)
		return true
	})
}

func (e *Engine) run(script string, keys, args []string, call Caller) (protocol.Value, error) {
	L := lua.NewState(lua.Options{SkipOpenLibs: true})
	defer L.Close()

	if err := openSandboxLibs(L); err != nil {
		return protocol.Value{}, fmt.Errorf("error preparing script state: %w", err)
	}
	setupRedisAPI(L, keys, args, call)

	fn, err := L.LoadString(script)
	if err != nil {
		return protocol.Value{}, fmt.Errorf("error compiling script: %w", err)
	}
	L.Push(fn)
	if err := L.PCall(0, 1, nil); err != nil {
		var apiErr *lua.ApiError
		if errors.As(err, &apiErr) && apiErr.Object != nil {
			return protocol.Value{}, fmt.Errorf("error running script: %s", apiErr.Object.String())
		}
		return protocol.Value{}, fmt.Errorf("error running script: %w", err)
	}

	ret := L.Get(-1)
	L.Pop(1)
	return toReply(ret), nil
}

// sandboxLibs are the only standard libraries scripts can reach. os, io,
// package and debug stay closed.
var sandboxLibs = []struct {
	name string
	open lua.LGFunction
}{
	{lua.BaseLibName, lua.OpenBase},
	{lua.TabLibName, lua.OpenTable},
	{lua.StringLibName, lua.OpenString},
	{lua.MathLibName, lua.OpenMath},
}

// openSandboxLibs opens sandboxLibs and removes the base functions that
// read files from disk
func openSandboxLibs(L *lua.LState) error {
	for _, lib := range sandboxLibs {
		if err := L.CallByParam(lua.P{
			Fn:      L.NewFunction(lib.open),
			NRet:    0,
			Protect: true,
		}, lua.LString(lib.name)); err != nil {
			return fmt.Errorf("open %q: %w", lib.name, err)
		}
	}
	for _, name := range []string{"dofile", "loadfile", "require"} {
		L.SetGlobal(name, lua.LNil)
	}
	return nil
}

// setupRedisAPI installs KEYS, ARGV and the redis table
func setupRedisAPI(L *lua.LState, keys, args []string, call Caller) {
	keysTable := L.NewTable()
	for i, key := range keys {
		keysTable.RawSetInt(i+1, lua.LString(key))
	}
	L.SetGlobal("KEYS", keysTable)

	argvTable := L.NewTable()
	for i, arg := range args {
		argvTable.RawSetInt(i+1, lua.LString(arg))
	}
	L.SetGlobal("ARGV", argvTable)

	redisTable := L.NewTable()
	L.SetFuncs(redisTable, map[string]lua.LGFunction{
		"call": func(L *lua.LState) int {
			return redisCall(L, call, true)
		},
		"pcall": func(L *lua.LState) int {
			return redisCall(L, call, false)
		},
		"status_reply": func(L *lua.LState) int {
			t := L.NewTable()
			t.RawSetString("ok", lua.LString(L.CheckString(1)))
			L.Push(t)
			return 1
		},
		"error_reply": func(L *lua.LState) int {
			t := L.NewTable()
			t.RawSetString("err", lua.LString(L.CheckString(1)))
			L.Push(t)
			return 1
		},
		"sha1hex": func(L *lua.LState) int {
			sum := sha1.Sum([]byte(L.CheckString(1)))
			L.Push(lua.LString(hex.EncodeToString(sum[:])))
			return 1
		},
	})
	L.SetGlobal("redis", redisTable)
}

// redisCall runs a command for redis.call (raise set) or redis.pcall
func redisCall(L *lua.LState, call Caller, raise bool) int {
	argc := L.GetTop()
	if argc == 0 {
		L.RaiseError("Please specify at least one argument for this redis lib call")
		return 0
	}

	argv := make([][]byte, argc)
	for i := 1; i <= argc; i++ {
		switch v := L.Get(i).(type) {
		case lua.LString:
			argv[i-1] = []byte(v)
		case lua.LNumber:
			argv[i-1] = []byte(v.String())
		default:
			L.RaiseError("Lua redis lib command arguments must be strings or integers")
			return 0
		}
	}

	result := call(argv)
	if result.IsError() && raise {
		L.RaiseError("%s", result.Error())
		return 0
	}
	L.Push(toLua(L, result))
	return 1
}

// toLua converts a command reply to a Lua value
func toLua(L *lua.LState, v protocol.Value) lua.LValue {
	if v.IsNull {
		return lua.LFalse
	}

	switch v.Type {
	case protocol.TypeSimpleString:
		t := L.NewTable()
		t.RawSetString("ok", lua.LString(v.Data))
		return t
	case protocol.TypeError, protocol.TypeBulkError:
		t := L.NewTable()
		t.RawSetString("err", lua.LString(v.Data))
		return t
	case protocol.TypeInteger:
		return lua.LNumber(v.Integer)
	case protocol.TypeBulkString, protocol.TypeVerbatimString:
		return lua.LString(v.Data)
	case protocol.TypeBoolean:
		return lua.LBool(v.Bool)
	case protocol.TypeDouble:
		return lua.LNumber(v.Float)
	case protocol.TypeNull:
		return lua.LFalse
	case protocol.TypeArray, protocol.TypeSet, protocol.TypePush:
		t := L.NewTable()
		for i, item := range v.Array {
			t.RawSetInt(i+1, toLua(L, item))
		}
		return t
	default:
		return lua.LString(v.String())
	}
}

// toReply converts a script's return value to a reply. Numbers are
// truncated to integers, false and nil become a null bulk string and
// array conversion stops at the first nil.
func toReply(lv lua.LValue) protocol.Value {
	switch v := lv.(type) {
	case lua.LBool:
		if v {
			return protocol.Integer(1)
		}
		return protocol.NullBulk()
	case lua.LString:
		return protocol.BulkStringFromString(string(v))
	case lua.LNumber:
		f := float64(v)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return protocol.Integer(0)
		}
		return protocol.Integer(int64(f))
	case *lua.LTable:
		if ok, isStr := v.RawGetString("ok").(lua.LString); isStr {
			return protocol.SimpleString(string(ok))
		}
		if msg, isStr := v.RawGetString("err").(lua.LString); isStr {
			return protocol.Error(string(msg))
		}
		var items []protocol.Value
		for i := 1; ; i++ {
			item := v.RawGetInt(i)
			if item == lua.LNil {
				break
			}
			items = append(items, toReply(item))
		}
		return protocol.Array(items...)
	default:
		return protocol.NullBulk()
	}
}
