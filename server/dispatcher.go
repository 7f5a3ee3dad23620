package server

import (
	"sort"
	"strings"
	"sync"

	"github.com/raniellyferreira/redis-node/protocol"
)

// Handler executes one command. args excludes the command name. A handler
// that writes to the connection itself returns the zero Value.
type Handler interface {
	Execute(st *State, c *Conn, args [][]byte) protocol.Value
}

// HandlerFunc adapts a function to Handler
type HandlerFunc func(st *State, c *Conn, args [][]byte) protocol.Value

// Execute calls f
func (f HandlerFunc) Execute(st *State, c *Conn, args [][]byte) protocol.Value {
	return f(st, c, args)
}

// Dispatcher maps case-insensitive command names to handlers
type Dispatcher struct {
	mu       sync.RWMutex
	handlers map[string]Handler
	noScript map[string]bool
	fallback Handler
}

// NewDispatcher creates an empty command table whose fallback replies
// with an unknown command error
func NewDispatcher() *Dispatcher {
	return &Dispatcher{
		handlers: make(map[string]Handler),
		noScript: make(map[string]bool),
		fallback: HandlerFunc(unknownCommand),
	}
}

// Register adds or replaces the handler for name
func (d *Dispatcher) Register(name string, h Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[upper([]byte(name))] = h
}

// RegisterFunc registers a function as the handler for name
func (d *Dispatcher) RegisterFunc(name string, fn func(st *State, c *Conn, args [][]byte) protocol.Value) {
	d.Register(name, HandlerFunc(fn))
}

// DenyFromScript stops scripts from running name through redis.call
func (d *Dispatcher) DenyFromScript(names ...string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, name := range names {
		d.noScript[upper([]byte(name))] = true
	}
}

// Lookup returns the handler for name, or the fallback
func (d *Dispatcher) Lookup(name string) Handler {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if h, ok := d.handlers[strings.ToUpper(name)]; ok {
		return h
	}
	return d.fallback
}

// Commands returns the registered command names in order
func (d *Dispatcher) Commands() []string {
	d.mu.RLock()
	names := make([]string, 0, len(d.handlers))
	for name := range d.handlers {
		names = append(names, name)
	}
	d.mu.RUnlock()

	sort.Strings(names)
	return names
}

func (d *Dispatcher) scriptDenied(name string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.noScript[name]
}

func unknownCommand(st *State, _ *Conn, _ [][]byte) protocol.Value {
	name := ""
	if st.current != nil && len(st.current.Argv) > 0 {
		name = string(st.current.Argv[0])
	}
	return protocol.Error("ERR unknown command '" + name + "'")
}

func upper(b []byte) string {
	return strings.ToUpper(string(b))
}
