package stream

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func envelope(t *testing.T, raw string) Envelope {
	t.Helper()
	env, err := DecodeEnvelope([]byte(raw))
	require.NoError(t, err)
	return env
}

func TestDecodeEnvelope_Rejects(t *testing.T) {
	_, err := DecodeEnvelope([]byte(`not json`))
	require.Error(t, err)
	_, err = DecodeEnvelope([]byte(`{"data":"x"}`))
	require.Error(t, err)
}

func TestFromEnvelope_TokenShapes(t *testing.T) {
	c := Classifier{}
	assert.Equal(t, "Hel", c.FromEnvelope(envelope(t, `{"message_type":"token","data":"Hel"}`)).Text)
	assert.Equal(t, "lo", c.FromEnvelope(envelope(t, `{"message_type":"token","data":{"content":"lo"}}`)).Text)
	assert.Equal(t, "tk", c.FromEnvelope(envelope(t, `{"message_type":"token","data":{"token":"tk"}}`)).Text)
	assert.Equal(t, "", c.FromEnvelope(envelope(t, `{"message_type":"token","data":{}}`)).Text)
}

func TestFromEnvelope_NodeFilterAndHistory(t *testing.T) {
	c := Classifier{Mode: ModeChat, PrimaryNode: "agent"}
	ev := c.FromEnvelope(envelope(t, `{"message_type":"token","node_name":"router","data":"x"}`))
	assert.True(t, ev.Suppressed)
	assert.Empty(t, ev.Text)

	ev = c.FromEnvelope(envelope(t, `{"message_type":"token","node_name":"agent","is_history":true,"data":"x"}`))
	assert.False(t, ev.Suppressed)
	assert.True(t, ev.History)
	assert.Equal(t, "x", ev.Text)
}

func TestFromEnvelope_Error(t *testing.T) {
	c := Classifier{}
	ev := c.FromEnvelope(envelope(t, `{"message_type":"error","data":"boom"}`))
	assert.Equal(t, KindError, ev.Kind)
	assert.Equal(t, "\n[错误] boom", ev.Text)

	ev = c.FromEnvelope(envelope(t, `{"message_type":"error","data":{"code": 500}}`))
	assert.Equal(t, "\n[错误] {\"code\":500}", ev.Text)
}

func TestFromEnvelope_Output(t *testing.T) {
	ev := Classifier{}.FromEnvelope(envelope(t, `{"message_type":"output","node_name":"agent",
		"data":{"messages":[{"role":"assistant","content":"Final answer","tool_calls":null}]}}`))
	final, ok := ev.FinalAnswer()
	require.True(t, ok)
	require.Equal(t, "Final answer", final)
}

func TestFromEnvelope_CompleteAndUnknown(t *testing.T) {
	c := Classifier{}
	ev := c.FromEnvelope(envelope(t, `{"message_type":"complete"}`))
	assert.Equal(t, KindComplete, ev.Kind)
	assert.True(t, ev.Kind.Terminal())

	ev = c.FromEnvelope(envelope(t, `{"message_type":"progress","data":{"text":"50%"}}`))
	assert.Equal(t, KindUnknown, ev.Kind)
	assert.Equal(t, "progress", ev.Type)
	assert.Equal(t, "50%", ev.Text)
}

func TestNewEnvelope(t *testing.T) {
	env := NewEnvelope(TypeToken, "agent", "hi")
	assert.JSONEq(t, `"hi"`, string(env.Data))
	env = NewEnvelope(TypeComplete, "", nil)
	assert.Nil(t, env.Data)
}
