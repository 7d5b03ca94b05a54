package socket

import (
	"testing"

	"github.com/fxamacker/cbor/v2"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jsherman999/openclaw_logfeed/internal/accounts"
)

func TestDecodeJSON(t *testing.T) {
	env, err := Decode(Frame{Type: websocket.TextMessage, Data: []byte(`{"type":"subscribe","uid":"a1","log_level":"warn"}`)})
	require.NoError(t, err)
	assert.Equal(t, "subscribe", env.Type)
	assert.Equal(t, "a1", env.UID)
	assert.Equal(t, "warn", env.Fields["log_level"])
}

func TestDecodeCBOR(t *testing.T) {
	b, err := cbor.Marshal(map[string]any{"type": "subscribe", "uid": 42, "nested": map[string]any{"k": "v"}})
	require.NoError(t, err)

	env, err := Decode(Frame{Type: websocket.BinaryMessage, Data: b})
	require.NoError(t, err)
	assert.Equal(t, "subscribe", env.Type)
	assert.Equal(t, "42", env.UID)
	assert.Equal(t, map[string]any{"k": "v"}, env.Fields["nested"])
}

func TestDecodeRejects(t *testing.T) {
	dup := []byte{0xa2, 0x64, 't', 'y', 'p', 'e', 0x61, 'a', 0x64, 't', 'y', 'p', 'e', 0x61, 'b'}
	tests := []struct {
		name string
		f    Frame
	}{
		{"invalid json", Frame{Type: websocket.TextMessage, Data: []byte("{")}},
		{"json array", Frame{Type: websocket.TextMessage, Data: []byte(`[1,2]`)}},
		{"missing type", Frame{Type: websocket.TextMessage, Data: []byte(`{"uid":"1"}`)}},
		{"empty type", Frame{Type: websocket.TextMessage, Data: []byte(`{"type":""}`)}},
		{"numeric type", Frame{Type: websocket.TextMessage, Data: []byte(`{"type":3}`)}},
		{"invalid cbor", Frame{Type: websocket.BinaryMessage, Data: []byte{0xff, 0x00}}},
		{"duplicate cbor key", Frame{Type: websocket.BinaryMessage, Data: dup}},
		{"ping frame", Frame{Type: websocket.PingMessage}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(tt.f)
			assert.Error(t, err)
		})
	}
}

func TestEnvelopeBind(t *testing.T) {
	env, err := Decode(Frame{Type: websocket.TextMessage, Data: []byte(`{"type":"auth","email":"a@b.c","password":"pw"}`)})
	require.NoError(t, err)

	var cred accounts.Credentials
	require.NoError(t, env.Bind(&cred))
	assert.Equal(t, "a@b.c", cred.Email)
	assert.Equal(t, "pw", cred.Password)
	assert.False(t, cred.Empty())
}

func TestErrorWireForm(t *testing.T) {
	env := &Envelope{Type: "subscribe", UID: "9"}
	e := consumerFailure(env, assert.AnError)

	b, err := encode(e.Wire())
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"type": "subscribe",
		"status": "error",
		"uid": "9",
		"error": {"category": "consumer", "code": "SERVER_ERROR", "message": "An unexpected error occurred while handling the message."}
	}`, string(b))

	assert.ErrorIs(t, e, ErrConsumer)
	assert.ErrorIs(t, e, assert.AnError)
	assert.False(t, IsFatal(e))
	assert.True(t, IsFatal(Denied("no")))
	assert.NotErrorIs(t, Denied("no"), ErrAuthFailed)
}
