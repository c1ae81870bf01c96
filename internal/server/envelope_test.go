package server

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassifyFrame(t *testing.T) {
	tests := []struct {
		name     string
		raw      string
		wantKind frameKind
		wantText string
	}{
		{name: "typing event", raw: `{"type":"typing","isTyping":true}`, wantKind: frameTyping},
		{name: "presence event", raw: `{"type":"presence","status":"online"}`, wantKind: framePresence},
		{name: "plain chat", raw: `{"text":"hi"}`, wantKind: frameChat},
		{name: "unknown type falls back to chat", raw: `{"type":"dance","text":"hi"}`, wantKind: frameChat},
		{name: "invalid json becomes raw chat", raw: `not json at all`, wantKind: frameChat, wantText: "not json at all"},
		{name: "non-object json becomes raw chat", raw: `[1,2,3]`, wantKind: frameChat, wantText: "[1,2,3]"},
		{name: "null becomes raw chat", raw: `null`, wantKind: frameChat, wantText: "null"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			kind, fields := classifyFrame([]byte(tt.raw))
			assert.Equal(t, tt.wantKind, kind)
			require.NotNil(t, fields)
			if tt.wantText != "" {
				assert.Equal(t, tt.wantText, fields["text"])
			}
		})
	}
}

func TestFillSenderID(t *testing.T) {
	fields := map[string]any{}
	assert.Equal(t, "guest-1", fillSenderID(fields, "guest-1"))
	assert.Equal(t, "guest-1", fields["senderId"])

	fields = map[string]any{"senderId": "u1"}
	assert.Equal(t, "u1", fillSenderID(fields, "guest-1"))
	assert.Equal(t, "u1", fields["senderId"])

	fields = map[string]any{"senderId": ""}
	assert.Equal(t, "guest-1", fillSenderID(fields, "guest-1"))
}

func TestBuildChatMessage_Defaults(t *testing.T) {
	now := time.Now()
	msg := buildChatMessage(map[string]any{"text": "hi"}, "guest-42", now)

	require.NotNil(t, msg.Text)
	assert.Equal(t, "hi", *msg.Text)
	assert.Equal(t, "guest-42", msg.Sender)
	assert.Equal(t, "guest-42", msg.SenderID)
	assert.Nil(t, msg.Avatar)
	assert.Equal(t, now.UnixMilli(), msg.Timestamp)
}

func TestBuildChatMessage_ProvidedFieldsKept(t *testing.T) {
	fields := map[string]any{
		"text":      "hello",
		"sender":    "Alice",
		"senderId":  "u1",
		"avatar":    "https://cdn.example/a.png",
		"timestamp": float64(1700000000000),
	}
	msg := buildChatMessage(fields, "guest-42", time.Now())

	require.NotNil(t, msg.Text)
	assert.Equal(t, "hello", *msg.Text)
	assert.Equal(t, "Alice", msg.Sender)
	assert.Equal(t, "u1", msg.SenderID)
	require.NotNil(t, msg.Avatar)
	assert.Equal(t, "https://cdn.example/a.png", *msg.Avatar)
	assert.Equal(t, int64(1700000000000), msg.Timestamp)
}

func TestBuildChatMessage_DropsExtraFields(t *testing.T) {
	fields := map[string]any{"text": "hi", "room": "general", "color": "red"}
	msg := buildChatMessage(fields, "guest-42", time.Now())

	payload, err := json.Marshal(msg)
	require.NoError(t, err)

	var out map[string]any
	require.NoError(t, json.Unmarshal(payload, &out))
	assert.NotContains(t, out, "room")
	assert.NotContains(t, out, "color")
	assert.Contains(t, out, "avatar")
}

func TestChatMessage_WireShape(t *testing.T) {
	msg := buildChatMessage(map[string]any{"text": "hi"}, "guest-42", time.UnixMilli(1234))

	payload, err := json.Marshal(msg)
	require.NoError(t, err)
	assert.JSONEq(t,
		`{"text":"hi","sender":"guest-42","senderId":"guest-42","avatar":null,"timestamp":1234}`,
		string(payload))
}

func TestChatMessage_EmptyTextSurvivesMarshal(t *testing.T) {
	msg := buildChatMessage(map[string]any{"text": ""}, "guest-42", time.UnixMilli(1234))

	payload, err := json.Marshal(msg)
	require.NoError(t, err)
	assert.JSONEq(t,
		`{"text":"","sender":"guest-42","senderId":"guest-42","avatar":null,"timestamp":1234}`,
		string(payload))
}

func TestChatMessage_MissingTextOmitsKey(t *testing.T) {
	msg := buildChatMessage(map[string]any{"sender": "Alice"}, "guest-42", time.UnixMilli(1234))

	payload, err := json.Marshal(msg)
	require.NoError(t, err)

	var out map[string]any
	require.NoError(t, json.Unmarshal(payload, &out))
	assert.NotContains(t, out, "text")
}

func TestPresenceSnapshot_MarshalsEmptyListAsArray(t *testing.T) {
	payload, err := json.Marshal(newPresenceSnapshot(nil))
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"presenceSnapshot","users":[]}`, string(payload))
}

func TestPresenceNotice_WireShape(t *testing.T) {
	payload, err := json.Marshal(newPresenceNotice("u1", statusOnline))
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"presence","senderId":"u1","status":"online"}`, string(payload))
}

func TestGenerateGuestID(t *testing.T) {
	for i := 0; i < 100; i++ {
		id := generateGuestID()
		assert.Regexp(t, `^guest-\d{1,4}$`, id)
	}
}
