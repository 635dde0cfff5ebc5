package helperclient

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteReadFrame_RoundTrip(t *testing.T) {
	var buf bytes.Buffer
	req := newRequest(7, "probe", map[string]any{"url": "https://cdn/a.m3u8"})
	require.NoError(t, writeFrame(&buf, req))

	msg, err := readFrame(&buf)
	require.NoError(t, err)
	assert.Equal(t, int64(7), msg.ID())
	assert.Equal(t, "probe", msg.Command())
	assert.Equal(t, "https://cdn/a.m3u8", msg["url"])
}

func TestMessage_IsTerminal(t *testing.T) {
	progress := Message{"id": 1.0, "command": "progress", "percent": 50.0}
	assert.False(t, progress.IsTerminal())

	success := Message{"id": 1.0, "command": "probe", "success": true}
	assert.True(t, success.IsTerminal())

	failure := Message{"id": 1.0, "command": "probe", "error": "boom"}
	assert.True(t, failure.IsTerminal())
	assert.True(t, failure.HasError())
	assert.Equal(t, "boom", failure.Error())
}

func TestMessage_Alive(t *testing.T) {
	alive := Message{"alive": true}
	assert.True(t, alive.Alive())

	notAlive := Message{}
	assert.False(t, notAlive.Alive())
}

func TestReadFrame_RejectsOversizedLength(t *testing.T) {
	var buf bytes.Buffer
	header := []byte{0xff, 0xff, 0xff, 0xff} // absurd length, little-endian
	buf.Write(header)
	_, err := readFrame(&buf)
	assert.Error(t, err)
}
