package types

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMessageType(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    MessageType
		wantErr bool
	}{
		{name: "fact", in: "HSP::Fact_v0.1", want: MessageTypeFact},
		{name: "capability advertisement", in: "HSP::CapabilityAdvertisement_v0.1", want: MessageTypeCapabilityAdvertisement},
		{name: "task request", in: "HSP::TaskRequest_v0.1", want: MessageTypeTaskRequest},
		{name: "task result", in: "HSP::TaskResult_v0.1", want: MessageTypeTaskResult},
		{name: "acknowledgement", in: "HSP::Acknowledgement_v0.1", want: MessageTypeAcknowledgement},
		{name: "unknown", in: "HSP::Gossip_v0.1", wantErr: true},
		{name: "empty", in: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseMessageType(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, IsProtocolError(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDecodeEnvelope(t *testing.T) {
	payload, err := json.Marshal(FactPayload{
		ID:            "fact-1",
		Statement:     "the sky is blue",
		SourceAgentID: "ai_1",
		CreatedAt:     time.Now().UTC(),
		Confidence:    0.8,
	})
	require.NoError(t, err)

	valid := Envelope{
		ID:              "msg-1",
		SenderID:        "ai_1",
		Timestamp:       time.Now().UTC(),
		MessageType:     MessageTypeFact,
		ProtocolVersion: ProtocolVersion,
		Payload:         payload,
	}
	data, err := json.Marshal(valid)
	require.NoError(t, err)

	t.Run("round trip", func(t *testing.T) {
		env, err := DecodeEnvelope(data)
		require.NoError(t, err)
		assert.Equal(t, "msg-1", env.ID)
		assert.True(t, env.Broadcast())

		fact, err := env.FactPayload()
		require.NoError(t, err)
		assert.Equal(t, "the sky is blue", fact.Statement)
		assert.InDelta(t, 0.8, fact.Confidence, 1e-9)
	})

	t.Run("malformed json", func(t *testing.T) {
		_, err := DecodeEnvelope([]byte("{not json"))
		require.Error(t, err)
		assert.True(t, IsProtocolError(err))
		assert.False(t, IsRetryable(err))
	})

	t.Run("missing sender", func(t *testing.T) {
		bad := valid
		bad.SenderID = ""
		raw, _ := json.Marshal(bad)
		_, err := DecodeEnvelope(raw)
		assert.True(t, IsProtocolError(err))
	})

	t.Run("unsupported protocol version", func(t *testing.T) {
		bad := valid
		bad.ProtocolVersion = "9.9"
		raw, _ := json.Marshal(bad)
		_, err := DecodeEnvelope(raw)
		assert.True(t, IsProtocolError(err))
	})

	t.Run("unknown message type", func(t *testing.T) {
		bad := valid
		bad.MessageType = "HSP::Gossip_v0.1"
		raw, _ := json.Marshal(bad)
		_, err := DecodeEnvelope(raw)
		assert.True(t, IsProtocolError(err))
	})
}

func TestEnvelopePayloadDecoding(t *testing.T) {
	payload, err := json.Marshal(TaskRequest{
		TaskID:         "task-1",
		CapabilityName: "translate",
	})
	require.NoError(t, err)

	env := &Envelope{
		ID:              "msg-2",
		SenderID:        "ai_1",
		MessageType:     MessageTypeTaskRequest,
		ProtocolVersion: ProtocolVersion,
		Payload:         payload,
	}

	req, err := env.TaskRequestPayload()
	require.NoError(t, err)
	assert.Equal(t, "translate", req.CapabilityName)

	// Decoding as the wrong type is a protocol error.
	_, err = env.FactPayload()
	require.Error(t, err)
	assert.True(t, IsProtocolError(err))

	// Empty payload is a protocol error.
	env.Payload = nil
	_, err = env.TaskRequestPayload()
	require.Error(t, err)
	assert.True(t, IsProtocolError(err))
}
