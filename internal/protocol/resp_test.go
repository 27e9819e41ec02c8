package protocol

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReader_ParsesCommandArray(t *testing.T) {
	r := NewReader(bytes.NewBufferString("*3\r\n$3\r\nSET\r\n$1\r\nk\r\n$1\r\nv\r\n"))
	v, err := r.ReadValue()
	require.NoError(t, err)
	require.Equal(t, TypeArray, v.Type)
	require.Len(t, v.Array, 3)
	assert.Equal(t, "SET", v.Array[0].Str)
	assert.Equal(t, "k", v.Array[1].Str)
	assert.Equal(t, "v", v.Array[2].Str)
}

func TestReader_ParsesNullBulkString(t *testing.T) {
	r := NewReader(bytes.NewBufferString("$-1\r\n"))
	v, err := r.ReadValue()
	require.NoError(t, err)
	assert.True(t, v.Null)
}

func TestReader_RejectsMalformedLine(t *testing.T) {
	r := NewReader(bytes.NewBufferString("$3\nfoo\r\n"))
	_, err := r.ReadValue()
	assert.ErrorIs(t, err, ErrInvalidProtocol)
}

func TestWriter_WritesExpectedWireForms(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)

	require.NoError(t, w.WriteSimpleString("OK"))
	assert.Equal(t, "+OK\r\n", buf.String())

	buf.Reset()
	require.NoError(t, w.WriteBulkString([]byte("v")))
	assert.Equal(t, "$1\r\nv\r\n", buf.String())

	buf.Reset()
	require.NoError(t, w.WriteNull())
	assert.Equal(t, "$-1\r\n", buf.String())

	buf.Reset()
	require.NoError(t, w.WriteInteger(2))
	assert.Equal(t, ":2\r\n", buf.String())

	buf.Reset()
	require.NoError(t, w.WriteError("unknown command 'FOO'"))
	assert.Equal(t, "-ERR unknown command 'FOO'\r\n", buf.String())

	buf.Reset()
	require.NoError(t, w.WriteRaw("*1\r\n$4\r\nPING\r\n"))
	assert.Equal(t, "*1\r\n$4\r\nPING\r\n", buf.String())
}
