package server

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/raniellyferreira/redis-node/lua"
	"github.com/raniellyferreira/redis-node/protocol"
)

func registerCommands(d *Dispatcher) {
	d.RegisterFunc("PING", handlePing)
	d.RegisterFunc("ECHO", handleEcho)
	d.RegisterFunc("SET", handleSet)
	d.RegisterFunc("GET", handleGet)
	d.RegisterFunc("DEL", handleDel)
	d.RegisterFunc("EXISTS", handleExists)
	d.RegisterFunc("KEYS", handleKeys)
	d.RegisterFunc("DBSIZE", handleDBSize)
	d.RegisterFunc("FLUSHALL", handleFlushAll)
	d.RegisterFunc("INFO", handleInfo)
	d.RegisterFunc("REPLCONF", handleReplconf)
	d.RegisterFunc("PSYNC", handlePsync)
	d.RegisterFunc("EVAL", handleEval)
	d.RegisterFunc("EVALSHA", handleEvalSHA)
	d.RegisterFunc("SCRIPT", handleScript)
	d.RegisterFunc("COMMAND", handleCommand)
	d.RegisterFunc("QUIT", handleQuit)

	d.DenyFromScript("REPLCONF", "PSYNC", "EVAL", "EVALSHA", "SCRIPT", "QUIT")
}

func arityError(name string) protocol.Value {
	return protocol.Error(fmt.Sprintf("ERR wrong number of arguments for '%s' command", strings.ToLower(name)))
}

var (
	errNotInteger  = protocol.Error("ERR value is not an integer or out of range")
	errSyntax      = protocol.Error("ERR syntax error")
	errNotAllowed  = protocol.Error("ERR command not allowed in this context")
	replyOK        = protocol.SimpleString("OK")
	replyEmptyList = protocol.Array()
)

func handlePing(_ *State, _ *Conn, args [][]byte) protocol.Value {
	switch len(args) {
	case 0:
		return protocol.SimpleString("PONG")
	case 1:
		return protocol.BulkString(args[0])
	default:
		return arityError("ping")
	}
}

func handleEcho(_ *State, _ *Conn, args [][]byte) protocol.Value {
	if len(args) != 1 {
		return arityError("echo")
	}
	return protocol.BulkString(args[0])
}

// handleSet implements SET key value [EX seconds | PX milliseconds]
func handleSet(st *State, _ *Conn, args [][]byte) protocol.Value {
	if len(args) < 2 {
		return arityError("set")
	}

	var ttl time.Duration
	for i := 2; i < len(args); i++ {
		opt := upper(args[i])
		if (opt != "EX" && opt != "PX") || ttl != 0 || i+1 >= len(args) {
			return errSyntax
		}
		i++
		n, err := strconv.ParseInt(string(args[i]), 10, 64)
		if err != nil {
			return errNotInteger
		}
		if n <= 0 {
			return protocol.Error("ERR invalid expire time in 'set' command")
		}
		unit := time.Millisecond
		if opt == "EX" {
			unit = time.Second
		}
		if n > int64(1<<62)/int64(unit) {
			return protocol.Error("ERR invalid expire time in 'set' command")
		}
		ttl = time.Duration(n) * unit
	}

	var expiry *time.Time
	if ttl > 0 {
		at := time.Now().Add(ttl)
		expiry = &at
	}

	if err := st.store.Set(string(args[0]), args[1], expiry); err != nil {
		return protocol.Error("ERR " + err.Error())
	}
	st.propagate()
	return replyOK
}

func handleGet(st *State, _ *Conn, args [][]byte) protocol.Value {
	if len(args) != 1 {
		return arityError("get")
	}
	value, ok := st.store.Get(string(args[0]))
	if !ok {
		return protocol.NullBulk()
	}
	return protocol.BulkString(value)
}

func handleDel(st *State, _ *Conn, args [][]byte) protocol.Value {
	if len(args) == 0 {
		return arityError("del")
	}
	deleted := st.store.Del(toKeys(args)...)
	if deleted > 0 {
		st.propagate()
	}
	return protocol.Integer(deleted)
}

func handleExists(st *State, _ *Conn, args [][]byte) protocol.Value {
	if len(args) == 0 {
		return arityError("exists")
	}
	return protocol.Integer(st.store.Exists(toKeys(args)...))
}

func handleKeys(st *State, _ *Conn, args [][]byte) protocol.Value {
	if len(args) != 1 {
		return arityError("keys")
	}
	keys := st.store.Keys(string(args[0]))
	values := make([]protocol.Value, len(keys))
	for i, key := range keys {
		values[i] = protocol.BulkStringFromString(key)
	}
	return protocol.Array(values...)
}

func handleDBSize(st *State, _ *Conn, args [][]byte) protocol.Value {
	if len(args) != 0 {
		return arityError("dbsize")
	}
	return protocol.Integer(st.store.Keyspace().Keys)
}

func handleFlushAll(st *State, _ *Conn, args [][]byte) protocol.Value {
	if len(args) > 1 {
		return arityError("flushall")
	}
	if len(args) == 1 {
		if mode := upper(args[0]); mode != "SYNC" && mode != "ASYNC" {
			return errSyntax
		}
	}
	if err := st.store.FlushAll(); err != nil {
		return protocol.Error("ERR " + err.Error())
	}
	st.propagate()
	return replyOK
}

// handleInfo serves the replication and keyspace sections. Unknown
// sections produce an empty reply.
func handleInfo(st *State, _ *Conn, args [][]byte) protocol.Value {
	sections := []string{"replication"}
	if len(args) > 0 {
		sections = sections[:0]
		for _, arg := range args {
			switch name := strings.ToLower(string(arg)); name {
			case "all", "everything", "default":
				sections = append(sections, "replication", "keyspace")
			default:
				sections = append(sections, name)
			}
		}
	}

	var b strings.Builder
	seen := make(map[string]bool)
	for _, name := range sections {
		if seen[name] {
			continue
		}
		seen[name] = true

		var body string
		switch name {
		case "replication":
			body = st.infoReplication()
		case "keyspace":
			body = st.infoKeyspace()
		default:
			continue
		}
		if b.Len() > 0 {
			b.WriteString("\r\n")
		}
		b.WriteString(body)
	}
	return protocol.BulkStringFromString(b.String())
}

func (s *State) infoReplication() string {
	var b strings.Builder
	b.WriteString("# Replication\r\n")
	writeInfoField(&b, "role", s.role.String())
	if s.role == RoleMaster {
		writeInfoField(&b, "connected_slaves", strconv.Itoa(s.registry.Count()))
	}
	writeInfoField(&b, "master_replid", s.replID)
	writeInfoField(&b, "master_repl_offset", strconv.FormatInt(s.offset, 10))
	return b.String()
}

func (s *State) infoKeyspace() string {
	var b strings.Builder
	b.WriteString("# Keyspace\r\n")
	stats := s.store.Keyspace()
	if stats.Keys > 0 {
		writeInfoField(&b, "db0", fmt.Sprintf("keys=%d,expires=%d,avg_ttl=0", stats.Keys, stats.Expires))
	}
	return b.String()
}

func writeInfoField(b *strings.Builder, field, value string) {
	b.WriteString(field)
	b.WriteByte(':')
	b.WriteString(value)
	b.WriteString("\r\n")
}

// handleReplconf implements the REPLCONF options a replica sends during
// the handshake
func handleReplconf(st *State, c *Conn, args [][]byte) protocol.Value {
	if len(args) == 0 {
		return arityError("replconf")
	}

	switch strings.ToLower(string(args[0])) {
	case "listening-port":
		if len(args) != 2 {
			return arityError("replconf")
		}
		port, err := strconv.Atoi(string(args[1]))
		if err != nil || port < 0 || port > 65535 {
			return errNotInteger
		}
		if c == nil {
			return errNotAllowed
		}
		st.registry.Register(c.ID(), port, c)
		st.replicasChanged()
		return replyOK
	case "capa":
		if len(args) < 2 || len(args)%2 != 0 {
			return arityError("replconf")
		}
		for i := 1; i < len(args); i += 2 {
			if !strings.EqualFold(string(args[i]), "psync2") {
				return protocol.Error("ERR only supports psync2")
			}
		}
		return replyOK
	case "ack":
		// Acknowledgements carry no reply
		return protocol.Value{}
	case "getack":
		return replyOK
	default:
		return protocol.Error(fmt.Sprintf("ERR Unrecognized REPLCONF option: %s", args[0]))
	}
}

// handlePsync always answers with a full resync. The FULLRESYNC line and
// the snapshot are written directly, after which the connection only
// receives propagated commands.
func handlePsync(st *State, c *Conn, args [][]byte) protocol.Value {
	if len(args) != 2 {
		return arityError("psync")
	}
	if _, err := strconv.ParseInt(string(args[1]), 10, 64); err != nil {
		return errNotInteger
	}
	if c == nil {
		return errNotAllowed
	}

	if err := c.writeFullResync(st.replID, st.offset, st.snapshot); err != nil {
		st.logger.Error("Failed to send snapshot to replica", "conn", c.ID(), "error", err)
		c.Close()
		return protocol.Value{}
	}

	st.registry.Promote(c.ID(), c)
	c.markReplica()
	st.replicasChanged()
	st.logger.Info("Full resync sent",
		"conn", c.ID(),
		"replid", st.replID,
		"offset", st.offset,
		"snapshot_size", len(st.snapshot))
	return protocol.Value{}
}

// parseScriptArgs splits numkeys key... arg... as used by EVAL and EVALSHA
func parseScriptArgs(args [][]byte) ([]string, []string, *protocol.Value) {
	numKeys, err := strconv.Atoi(string(args[0]))
	if err != nil {
		return nil, nil, &errNotInteger
	}
	if numKeys < 0 {
		e := protocol.Error("ERR Number of keys can't be negative")
		return nil, nil, &e
	}
	if numKeys > len(args)-1 {
		e := protocol.Error("ERR Number of keys can't be greater than number of args")
		return nil, nil, &e
	}

	keys := toKeys(args[1 : 1+numKeys])
	argv := toKeys(args[1+numKeys:])
	return keys, argv, nil
}

func handleEval(st *State, _ *Conn, args [][]byte) protocol.Value {
	if len(args) < 2 {
		return arityError("eval")
	}
	keys, argv, errReply := parseScriptArgs(args[1:])
	if errReply != nil {
		return *errReply
	}

	result, err := st.scripts.Eval(string(args[0]), keys, argv, st.scriptCaller())
	return scriptReply(result, err)
}

func handleEvalSHA(st *State, _ *Conn, args [][]byte) protocol.Value {
	if len(args) < 2 {
		return arityError("evalsha")
	}
	keys, argv, errReply := parseScriptArgs(args[1:])
	if errReply != nil {
		return *errReply
	}

	result, err := st.scripts.EvalSHA(string(args[0]), keys, argv, st.scriptCaller())
	return scriptReply(result, err)
}

func scriptReply(result protocol.Value, err error) protocol.Value {
	if errors.Is(err, lua.ErrNoScript) {
		return protocol.Error(err.Error())
	}
	if err != nil {
		return protocol.Error("ERR " + err.Error())
	}
	return result
}

func handleScript(st *State, _ *Conn, args [][]byte) protocol.Value {
	if len(args) == 0 {
		return arityError("script")
	}

	switch sub := upper(args[0]); sub {
	case "LOAD":
		if len(args) != 2 {
			return arityError("script|load")
		}
		return protocol.BulkStringFromString(st.scripts.LoadScript(string(args[1])))
	case "EXISTS":
		if len(args) < 2 {
			return arityError("script|exists")
		}
		found := st.scripts.ScriptExists(toKeys(args[1:]))
		values := make([]protocol.Value, len(found))
		for i, ok := range found {
			if ok {
				values[i] = protocol.Integer(1)
			} else {
				values[i] = protocol.Integer(0)
			}
		}
		return protocol.Array(values...)
	case "FLUSH":
		st.scripts.ScriptFlush()
		return replyOK
	default:
		return protocol.Error(fmt.Sprintf("ERR unknown subcommand '%s'. Try SCRIPT HELP.", args[0]))
	}
}

// handleCommand lets clients that probe COMMAND on connect proceed
func handleCommand(_ *State, _ *Conn, _ [][]byte) protocol.Value {
	return replyEmptyList
}

func handleQuit(_ *State, c *Conn, _ [][]byte) protocol.Value {
	if c != nil {
		c.closeAfterReply()
	}
	return replyOK
}

func toKeys(args [][]byte) []string {
	keys := make([]string, len(args))
	for i, arg := range args {
		keys[i] = string(arg)
	}
	return keys
}
