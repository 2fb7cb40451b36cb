package protocol

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMutationsKeepWireOrder(t *testing.T) {
	var payload SyncPayload
	err := json.Unmarshal([]byte(`{"mutations":{"+b":1,"-a":null,"+a.c":"x"}}`), &payload)
	require.NoError(t, err)

	require.Len(t, payload.Mutations, 3)
	assert.Equal(t, "+b", payload.Mutations[0].Key)
	assert.Equal(t, "-a", payload.Mutations[1].Key)
	assert.Equal(t, "+a.c", payload.Mutations[2].Key)
	assert.JSONEq(t, `"x"`, string(payload.Mutations[2].Value))

	out, err := json.Marshal(payload.Mutations)
	require.NoError(t, err)
	assert.Equal(t, `{"+b":1,"-a":null,"+a.c":"x"}`, string(out))
}

func TestMutationsRejectNonObject(t *testing.T) {
	var m Mutations
	assert.Error(t, json.Unmarshal([]byte(`[1,2]`), &m))
	require.NoError(t, json.Unmarshal([]byte(`null`), &m))
	assert.Nil(t, m)
}

func TestInboundEnvelope(t *testing.T) {
	var msg Inbound
	err := json.Unmarshal([]byte(`{"messageType":"announcement","payload":{"announce":"codeUpdate"}}`), &msg)
	require.NoError(t, err)
	assert.Equal(t, TypeAnnouncement, msg.MessageType)

	var a Announcement
	require.NoError(t, json.Unmarshal(msg.Payload, &a))
	assert.Equal(t, AnnounceCodeUpdate, a.Announce)
}

func TestOutboundEnvelope(t *testing.T) {
	out, err := json.Marshal(Outbound{Type: TypeStreamInit, TrackingID: 1, Payload: StreamInitPayload{SessionID: "s1"}})
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"streamInit","trackingId":1,"payload":{"sessionId":"s1"}}`, string(out))
}
