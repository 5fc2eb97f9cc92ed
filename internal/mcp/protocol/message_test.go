package protocol

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessageKindDiscrimination(t *testing.T) {
	id := uint64(7)
	req := &Message{JSONRPC: Version, ID: &id, Method: "ping"}
	assert.Equal(t, KindRequest, req.Kind())

	notif := &Message{JSONRPC: Version, Method: "notifications/initialized"}
	assert.Equal(t, KindNotification, notif.Kind())

	resp := &Message{JSONRPC: Version, ID: &id, Result: json.RawMessage(`{}`)}
	assert.Equal(t, KindResponse, resp.Kind())
}

func TestRoundTripSerialization(t *testing.T) {
	original := NewRequest(3, "tools/call", json.RawMessage(`{"name":"x"}`))
	data, err := Marshal(original)
	require.NoError(t, err)

	parsed, err := Unmarshal(data)
	require.NoError(t, err)

	assert.Equal(t, original.Method, parsed.Method)
	assert.Equal(t, *original.ID, *parsed.ID)
	assert.JSONEq(t, string(original.Params), string(parsed.Params))
}

func TestErrorCodes(t *testing.T) {
	assert.Equal(t, -32700, CodeParseError)
	assert.Equal(t, -32601, CodeMethodNotFound)
	assert.Equal(t, -1, CodeConnectionClosed)
	assert.Equal(t, -2, CodeRequestTimeout)

	err := NewError(CodeMethodNotFound, "method not found: no-such")
	assert.Contains(t, err.Error(), "no-such")
}
