package dispatcher

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GH41318103/kvengine/internal/engine"
	"github.com/GH41318103/kvengine/internal/protocol"
)

func newTestDispatcher(t *testing.T) *Dispatcher {
	t.Helper()
	e, err := engine.Open(t.TempDir(), engine.Options{})
	require.NoError(t, err)
	t.Cleanup(func() { e.Close() })
	return New(e)
}

func run(t *testing.T, d *Dispatcher, cmd string, args ...string) string {
	t.Helper()
	var buf bytes.Buffer
	w := protocol.NewWriter(&buf)
	vals := make([]protocol.Value, len(args))
	for i, a := range args {
		vals[i] = protocol.Value{Str: a}
	}
	require.NoError(t, d.Dispatch(w, cmd, vals))
	return buf.String()
}

func TestDispatch_PingWithoutArgument(t *testing.T) {
	d := newTestDispatcher(t)
	assert.Equal(t, "+PONG\r\n", run(t, d, "PING"))
}

func TestDispatch_PingEchoesArgument(t *testing.T) {
	d := newTestDispatcher(t)
	assert.Equal(t, "$5\r\nhello\r\n", run(t, d, "PING", "hello"))
}

func TestDispatch_SetThenGetRoundTrips(t *testing.T) {
	d := newTestDispatcher(t)
	assert.Equal(t, "+OK\r\n", run(t, d, "SET", "k", "v"))
	assert.Equal(t, "$1\r\nv\r\n", run(t, d, "GET", "k"))
}

func TestDispatch_GetMissingKeyReturnsNull(t *testing.T) {
	d := newTestDispatcher(t)
	assert.Equal(t, "$-1\r\n", run(t, d, "GET", "missing"))
}

func TestDispatch_ExistsReflectsPresence(t *testing.T) {
	d := newTestDispatcher(t)
	assert.Equal(t, ":0\r\n", run(t, d, "EXISTS", "k"))
	run(t, d, "SET", "k", "v")
	assert.Equal(t, ":1\r\n", run(t, d, "EXISTS", "k"))
}

func TestDispatch_DelCountsRemovedKeysOnly(t *testing.T) {
	d := newTestDispatcher(t)
	run(t, d, "SET", "a", "1")
	run(t, d, "SET", "b", "2")
	assert.Equal(t, ":2\r\n", run(t, d, "DEL", "a", "b", "missing"))
}

func TestDispatch_KeysWithTrailingStarMatchesPrefix(t *testing.T) {
	d := newTestDispatcher(t)
	run(t, d, "SET", "user:1", "a")
	run(t, d, "SET", "user:2", "b")
	run(t, d, "SET", "order:1", "c")

	out := run(t, d, "KEYS", "user:*")
	assert.Equal(t, "*2\r\n$6\r\nuser:1\r\n$6\r\nuser:2\r\n", out)
}

func TestDispatch_KeysStarMatchesEverything(t *testing.T) {
	d := newTestDispatcher(t)
	run(t, d, "SET", "a", "1")
	run(t, d, "SET", "b", "2")
	assert.Equal(t, "*2\r\n$1\r\na\r\n$1\r\nb\r\n", run(t, d, "KEYS", "*"))
}

func TestDispatch_KeysRejectsUnsupportedGlob(t *testing.T) {
	d := newTestDispatcher(t)
	out := run(t, d, "KEYS", "a?b")
	assert.Contains(t, out, "-ERR")
}

func TestDispatch_UnknownCommandRepliesError(t *testing.T) {
	d := newTestDispatcher(t)
	out := run(t, d, "FROBNICATE")
	assert.Equal(t, "-ERR unknown command 'FROBNICATE'\r\n", out)
}

func TestDispatch_SetWrongArityRepliesError(t *testing.T) {
	d := newTestDispatcher(t)
	out := run(t, d, "SET", "onlykey")
	assert.Contains(t, out, "-ERR")
}
