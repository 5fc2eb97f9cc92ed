package transport

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrypster/mcprt/internal/mcp/protocol"
)

func TestSplitSSEDataUnderThresholdIsSingleChunk(t *testing.T) {
	data := []byte(`{"jsonrpc":"2.0","id":1,"result":{}}`)
	chunks := splitSSEData(data)
	require.Len(t, chunks, 1)
	assert.Equal(t, data, chunks[0])
}

func TestSplitSSEDataReconstructsVerbatim(t *testing.T) {
	// Build a ~168KiB JSON array so the splitter is forced to cut repeatedly.
	var b strings.Builder
	b.WriteString(`{"jsonrpc":"2.0","id":1,"result":{"tools":[`)
	for i := 0; i < 2000; i++ {
		if i > 0 {
			b.WriteString(",")
		}
		b.WriteString(`{"name":"tool-0000","description":"a reasonably long description string to pad size"}`)
	}
	b.WriteString(`]}}`)
	data := []byte(b.String())
	require.Greater(t, len(data), sseChunkSize)

	chunks := SplitSSEData(data)
	require.Greater(t, len(chunks), 1)
	for _, c := range chunks {
		assert.LessOrEqual(t, len(c), sseChunkSize)
	}

	var reconstructed bytes.Buffer
	for _, c := range chunks {
		reconstructed.Write(c)
	}
	assert.Equal(t, data, reconstructed.Bytes())
}

func TestSplitSSEDataWorstCaseNoBoundaries(t *testing.T) {
	// No commas or spaces anywhere: splitter must fall back to a hard cut
	// every sseChunkSize bytes rather than looping forever.
	data := bytes.Repeat([]byte("x"), sseChunkSize*2+37)
	chunks := splitSSEData(data)
	require.Len(t, chunks, 3)

	var reconstructed bytes.Buffer
	for _, c := range chunks {
		reconstructed.Write(c)
	}
	assert.Equal(t, data, reconstructed.Bytes())
}

func TestSSEReaderParsesEndpointEvent(t *testing.T) {
	raw := "event: endpoint\ndata: /message?sessionId=abc-123\n\n"
	r := newSSEReader(strings.NewReader(raw))

	ev, err := r.next()
	require.NoError(t, err)
	assert.Equal(t, "endpoint", ev.event)
	assert.Equal(t, "/message?sessionId=abc-123", ev.data)
}

func TestSSEReaderReassemblesSplitDataLines(t *testing.T) {
	raw := "event: message\n" +
		"data: {\"jsonrpc\":\"2.0\",\n" +
		"data: \"id\":1,\n" +
		"data: \"result\":{}}\n" +
		"\n"
	r := newSSEReader(strings.NewReader(raw))

	ev, err := r.next()
	require.NoError(t, err)
	assert.Equal(t, "message", ev.event)
	assert.Equal(t, `{"jsonrpc":"2.0","id":1,"result":{}}`, ev.data)
}

func TestSSEReaderSkipsKeepAliveComments(t *testing.T) {
	raw := ": keep-alive\n" +
		": keep-alive\n" +
		"data: {\"jsonrpc\":\"2.0\"}\n" +
		"\n"
	r := newSSEReader(strings.NewReader(raw))

	ev, err := r.next()
	require.NoError(t, err)
	assert.Equal(t, `{"jsonrpc":"2.0"}`, ev.data)
}

func TestSSEReaderYieldsMultipleEventsInSequence(t *testing.T) {
	raw := "event: endpoint\ndata: /message?sessionId=s1\n\n" +
		"event: message\ndata: {\"a\":1}\n\n" +
		"event: message\ndata: {\"a\":2}\n\n"
	r := newSSEReader(strings.NewReader(raw))

	first, err := r.next()
	require.NoError(t, err)
	assert.Equal(t, "endpoint", first.event)

	second, err := r.next()
	require.NoError(t, err)
	assert.Equal(t, `{"a":1}`, second.data)

	third, err := r.next()
	require.NoError(t, err)
	assert.Equal(t, `{"a":2}`, third.data)
}

func TestSSEReaderEOFWithTrailingDataYieldsFinalEvent(t *testing.T) {
	// No trailing blank line before EOF.
	raw := "event: message\ndata: {\"a\":1}"
	r := newSSEReader(strings.NewReader(raw))

	ev, err := r.next()
	require.NoError(t, err)
	assert.Equal(t, `{"a":1}`, ev.data)

	_, err = r.next()
	assert.Error(t, err)
}

func TestServerSSESendAfterCloseReturnsConnectionClosed(t *testing.T) {
	srv := NewServerSSE()
	require.NoError(t, srv.Close())

	msg := &protocol.Message{JSONRPC: protocol.Version, Method: "ping"}
	err := srv.Send(context.Background(), msg)
	assert.ErrorIs(t, err, ErrConnectionClosed)

	err = srv.Deliver(msg)
	assert.ErrorIs(t, err, ErrConnectionClosed)
}

func TestServerSSEDeliverAndReceiveRoundTrip(t *testing.T) {
	srv := NewServerSSE()
	defer srv.Close()

	id := uint64(1)
	msg := &protocol.Message{JSONRPC: protocol.Version, ID: &id, Method: "ping"}
	require.NoError(t, srv.Deliver(msg))

	got, err := srv.Receive(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "ping", got.Method)
}
