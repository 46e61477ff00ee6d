package xray

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDocumentRoundTripPreservesEntryFields(t *testing.T) {
	src := `{
	  "inbounds": [
	    {
	      "tag": "t",
	      "protocol": "vless",
	      "port": 8443,
	      "settings": {
	        "clients": [
	          {"id": "abc", "email": "x", "level": 3, "customFlag": true}
	        ],
	        "decryption": "none"
	      }
	    }
	  ]
	}`

	doc, err := ParseDocument([]byte(src))
	require.NoError(t, err)
	require.Len(t, doc.Inbounds, 1)
	require.Len(t, doc.Inbounds[0].Clients, 1)

	out, err := doc.Marshal()
	require.NoError(t, err)

	var top struct {
		Inbounds []struct {
			Settings struct {
				Clients    []map[string]json.RawMessage `json:"clients"`
				Decryption string                       `json:"decryption"`
			} `json:"settings"`
		} `json:"inbounds"`
	}
	require.NoError(t, json.Unmarshal(out, &top))
	require.Len(t, top.Inbounds, 1)
	assert.Equal(t, "none", top.Inbounds[0].Settings.Decryption)

	entry := top.Inbounds[0].Settings.Clients[0]
	assert.Contains(t, entry, "level")
	assert.Contains(t, entry, "customFlag")
}

func TestParseDocumentWithoutInbounds(t *testing.T) {
	doc, err := ParseDocument([]byte(`{"log": {"loglevel": "info"}}`))
	require.NoError(t, err)
	assert.Empty(t, doc.Inbounds)

	out, err := doc.Marshal()
	require.NoError(t, err)

	var top map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(out, &top))
	assert.Contains(t, top, "log")
}

func TestParseDocumentRejectsNonObject(t *testing.T) {
	_, err := ParseDocument([]byte(`[1, 2, 3]`))
	assert.Error(t, err)
}

func TestEmptyClientsListSurvives(t *testing.T) {
	doc, err := ParseDocument([]byte(`{"inbounds": [{"protocol": "vless", "settings": {"clients": []}}]}`))
	require.NoError(t, err)

	out, err := doc.Marshal()
	require.NoError(t, err)
	assert.Contains(t, string(out), `"clients"`)
}

func TestProtocolKind(t *testing.T) {
	assert.Equal(t, KindIdentifier, ProtocolKind("vless"))
	assert.Equal(t, KindIdentifier, ProtocolKind("vmess"))
	assert.Equal(t, KindSecret, ProtocolKind("trojan"))
	assert.Equal(t, KindShared, ProtocolKind("shadowsocks-2022"))
	assert.Equal(t, KindShared, ProtocolKind("shadowsocks"))
	assert.Equal(t, KindUnknown, ProtocolKind("dokodemo-door"))
}

func TestAccountEmail(t *testing.T) {
	assert.Equal(t, "alice", AccountEmail(testUUID, "alice"))
	assert.Equal(t, "6ba7b810", AccountEmail(testUUID, ""))
	assert.Equal(t, "short", AccountEmail("short", ""))
}

func TestSecretEntryMatchedByLabel(t *testing.T) {
	in := &Inbound{Protocol: "trojan", Port: 8447}
	legacy := NewEntry()
	legacy.SetString("password", "old-secret")
	legacy.SetString("email", "alice")
	in.Clients = append(in.Clients, legacy)

	// same subscriber under a rotated credential: the existing entry wins
	changed := project(in, testUUID, "alice", true)
	assert.False(t, changed)
	assert.Len(t, in.Clients, 1)
	assert.Equal(t, "old-secret", in.Clients[0].Password())
}
