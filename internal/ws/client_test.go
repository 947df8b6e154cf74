package ws

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stratumd/backend/internal/pubsub"
)

// newBufferedClient builds a client without a write pump so the send buffer
// can be inspected directly.
func newBufferedClient(buffer int, onSlow func(*client)) *client {
	return &client{
		id:         "test-client",
		remoteAddr: "127.0.0.1:50000",
		send:       make(chan []byte, buffer),
		onSlow:     onSlow,
	}
}

func TestClientNotifyFrame(t *testing.T) {
	c := newBufferedClient(1, nil)
	require.NoError(t, c.Notify("mining.set_difficulty", []any{2048}))

	assert.JSONEq(t, `{"id":null,"method":"mining.set_difficulty","params":[2048]}`, string(<-c.send))
}

func TestClientNotifyNilParams(t *testing.T) {
	c := newBufferedClient(1, nil)
	require.NoError(t, c.Notify("ping", nil))

	assert.JSONEq(t, `{"id":null,"method":"ping","params":[]}`, string(<-c.send))
}

func TestClientReply(t *testing.T) {
	c := newBufferedClient(2, nil)
	require.NoError(t, c.reply(json.RawMessage("7"), true, nil))
	require.NoError(t, c.reply(json.RawMessage(`"abc"`), "ignored", &RPCError{Code: 25, Message: "not subscribed"}))

	assert.JSONEq(t, `{"id":7,"result":true,"error":null}`, string(<-c.send))
	assert.JSONEq(t, `{"id":"abc","result":null,"error":[25,"not subscribed",null]}`, string(<-c.send))
}

func TestClientSlowIsDropped(t *testing.T) {
	var dropped *client
	c := newBufferedClient(1, func(c *client) { dropped = c })

	require.NoError(t, c.Notify("x", nil))
	err := c.Notify("x", nil)
	assert.ErrorIs(t, err, ErrClientSlow)
	assert.Same(t, c, dropped)
}

func TestClientClosed(t *testing.T) {
	c := newBufferedClient(1, nil)
	c.close()
	c.close()

	assert.ErrorIs(t, c.Notify("x", nil), ErrClientClosed)
}

func TestRPCErrorRoundTrip(t *testing.T) {
	data, err := json.Marshal(&RPCError{Code: ErrCodeAlreadySubscribed, Message: "dup"})
	require.NoError(t, err)
	assert.JSONEq(t, `[22,"dup",null]`, string(data))

	var back RPCError
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, RPCError{Code: ErrCodeAlreadySubscribed, Message: "dup"}, back)

	assert.Error(t, json.Unmarshal([]byte(`[1]`), &back))
}

func TestRPCErrorMapping(t *testing.T) {
	tests := []struct {
		err  error
		code int
	}{
		{pubsub.ErrNotConnected, ErrCodeUnauthorized},
		{pubsub.ErrNoSession, ErrCodeUnauthorized},
		{pubsub.ErrAlreadySubscribed, ErrCodeAlreadySubscribed},
		{fmt.Errorf("%w x", pubsub.ErrNotSubscribed), ErrCodeNotSubscribed},
		{pubsub.ErrNoEvent, ErrCodeInvalidParams},
		{&RPCError{Code: ErrCodeParse, Message: "parse error"}, ErrCodeParse},
		{errors.New("boom"), ErrCodeOther},
	}

	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			assert.Equal(t, tt.code, rpcError(tt.err).Code)
		})
	}
}
