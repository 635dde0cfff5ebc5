package helperclient

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/streamcore/streamcore/internal/config"
	"github.com/streamcore/streamcore/internal/observability"
)

func newTestClient(t *testing.T) *Client {
	t.Helper()
	logger := observability.NewLogger(config.LoggingConfig{Level: "error", Format: "text"})
	return New(config.HelperConfig{
		RequestTimeout:       0,
		DownloadTimeout:      0,
		ReconnectMaxAttempts: 1,
		ReconnectDelay:       time.Millisecond,
		ReconnectMaxDelay:    time.Millisecond,
	}, logger)
}

func TestDispatch_RoutesTerminalToCorrelatedRequest(t *testing.T) {
	c := newTestClient(t)
	req := &pendingRequest{command: "probe", terminal: make(chan Message, 1)}
	c.pending[5] = req

	c.dispatch(Message{"id": 5.0, "command": "probe", "success": true, "width": 1920.0})

	select {
	case msg := <-req.terminal:
		assert.True(t, msg.Success())
		assert.Equal(t, 1920.0, msg["width"])
	default:
		t.Fatal("expected terminal message to be delivered")
	}
	_, stillPending := c.pending[5]
	assert.False(t, stillPending)
}

func TestDispatch_RoutesProgressToCallbackWithoutResolving(t *testing.T) {
	c := newTestClient(t)
	var gotProgress []Message
	req := &pendingRequest{
		command:  "download",
		terminal: make(chan Message, 1),
		progress: func(m Message) { gotProgress = append(gotProgress, m) },
	}
	c.pending[9] = req

	c.dispatch(Message{"id": 9.0, "command": "progress", "percent": 10.0})
	c.dispatch(Message{"id": 9.0, "command": "progress", "percent": 50.0})

	require.Len(t, gotProgress, 2)
	assert.Equal(t, 10.0, gotProgress[0]["percent"])
	assert.Equal(t, 50.0, gotProgress[1]["percent"])

	_, stillPending := c.pending[9]
	assert.True(t, stillPending, "progress frames must not resolve the request")

	c.dispatch(Message{"id": 9.0, "command": "download", "success": true})
	_, stillPending = c.pending[9]
	assert.False(t, stillPending)
}

func TestDispatch_UnknownIDIsIgnored(t *testing.T) {
	c := newTestClient(t)
	assert.NotPanics(t, func() {
		c.dispatch(Message{"id": 123.0, "command": "probe", "success": true})
	})
}

func TestHandleDisconnect_FailsAllPendingWithTransportError(t *testing.T) {
	c := newTestClient(t)
	req1 := &pendingRequest{command: "probe", terminal: make(chan Message, 1)}
	req2 := &pendingRequest{command: "download", terminal: make(chan Message, 1)}
	c.pending[1] = req1
	c.pending[2] = req2

	c.handleDisconnect(assertErr("pipe closed"))

	for _, req := range []*pendingRequest{req1, req2} {
		select {
		case msg := <-req.terminal:
			assert.True(t, msg.HasError())
			transport, _ := msg["transportError"].(bool)
			assert.True(t, transport)
		default:
			t.Fatal("expected disconnect to resolve pending request")
		}
	}
	assert.Empty(t, c.pending)
}

type stringError string

func (e stringError) Error() string { return string(e) }

func assertErr(s string) error { return stringError(s) }
