// Package dispatcher maps parsed RESP command arrays onto Engine
// Facade calls, per spec.md §6.3's command table. It holds no storage
// state of its own.
package dispatcher

import (
	"fmt"
	"strings"

	"github.com/GH41318103/kvengine/internal/engine"
	"github.com/GH41318103/kvengine/internal/protocol"
)

// Dispatcher turns a RESP command name plus arguments into a reply,
// by calling the Engine Facade operation the command maps to (DEL
// calls Remove once per key).
type Dispatcher struct {
	engine *engine.Engine
}

// New constructs a dispatcher over e.
func New(e *engine.Engine) *Dispatcher {
	return &Dispatcher{engine: e}
}

// Dispatch executes cmd (matched case-insensitively) with args and
// writes the RESP reply through w.
func (d *Dispatcher) Dispatch(w *protocol.Writer, cmd string, args []protocol.Value) error {
	switch strings.ToUpper(cmd) {
	case "PING":
		return d.ping(w, args)
	case "SET":
		return d.set(w, args)
	case "GET":
		return d.get(w, args)
	case "DEL":
		return d.del(w, args)
	case "EXISTS":
		return d.exists(w, args)
	case "KEYS":
		return d.keys(w, args)
	default:
		return w.WriteError(fmt.Sprintf("unknown command '%s'", cmd))
	}
}

func (d *Dispatcher) ping(w *protocol.Writer, args []protocol.Value) error {
	if len(args) > 1 {
		return w.WriteError("wrong number of arguments for 'PING' command")
	}
	if len(args) == 1 {
		return w.WriteBulkString([]byte(args[0].Str))
	}
	return w.WriteSimpleString("PONG")
}

func (d *Dispatcher) set(w *protocol.Writer, args []protocol.Value) error {
	if len(args) != 2 {
		return w.WriteError("wrong number of arguments for 'SET' command")
	}
	if err := d.engine.Put([]byte(args[0].Str), []byte(args[1].Str)); err != nil {
		return w.WriteError(err.Error())
	}
	return w.WriteSimpleString("OK")
}

func (d *Dispatcher) get(w *protocol.Writer, args []protocol.Value) error {
	if len(args) != 1 {
		return w.WriteError("wrong number of arguments for 'GET' command")
	}
	v, ok := d.engine.Get([]byte(args[0].Str))
	if !ok {
		return w.WriteNull()
	}
	return w.WriteBulkString(v)
}

func (d *Dispatcher) del(w *protocol.Writer, args []protocol.Value) error {
	if len(args) < 1 {
		return w.WriteError("wrong number of arguments for 'DEL' command")
	}
	var count int64
	for _, arg := range args {
		removed, err := d.engine.Remove([]byte(arg.Str))
		if err != nil {
			return w.WriteError(err.Error())
		}
		if removed {
			count++
		}
	}
	return w.WriteInteger(count)
}

func (d *Dispatcher) exists(w *protocol.Writer, args []protocol.Value) error {
	if len(args) != 1 {
		return w.WriteError("wrong number of arguments for 'EXISTS' command")
	}
	if d.engine.Exists([]byte(args[0].Str)) {
		return w.WriteInteger(1)
	}
	return w.WriteInteger(0)
}

// keys implements spec.md §6.3's restricted glob: "*" means all keys;
// a trailing "*" means prefix match; no other globs are supported.
func (d *Dispatcher) keys(w *protocol.Writer, args []protocol.Value) error {
	if len(args) != 1 {
		return w.WriteError("wrong number of arguments for 'KEYS' command")
	}
	pattern := args[0].Str

	var prefix string
	switch {
	case pattern == "*":
		prefix = ""
	case strings.HasSuffix(pattern, "*"):
		prefix = strings.TrimSuffix(pattern, "*")
	default:
		return w.WriteError("unsupported KEYS pattern, only '*' and a trailing '*' prefix are supported")
	}

	it := d.engine.Scan([]byte(prefix))
	var keys []string
	for {
		e, ok := it.Next()
		if !ok {
			break
		}
		keys = append(keys, string(e.Key))
	}
	return w.WriteStringArray(keys)
}
