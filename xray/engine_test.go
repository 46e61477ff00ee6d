package xray

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testConfig = `{
  "log": {"loglevel": "warning"},
  "routing": {
    "rules": [{"type": "field", "outboundTag": "block", "protocol": ["bittorrent"]}]
  },
  "inbounds": [
    {
      "tag": "vless-xhttp",
      "protocol": "vless",
      "port": 8443,
      "settings": {"clients": [], "decryption": "none"},
      "streamSettings": {"network": "xhttp", "security": "reality"}
    },
    {
      "tag": "vless-vision",
      "protocol": "vless",
      "port": 8446,
      "settings": {"clients": [], "decryption": "none"}
    },
    {
      "tag": "trojan-grpc",
      "protocol": "trojan",
      "port": 8447,
      "settings": {"clients": []}
    },
    {
      "tag": "ss2022",
      "protocol": "shadowsocks-2022",
      "port": 8448,
      "settings": {"method": "2022-blake3-aes-128-gcm", "password": "opsecret"}
    }
  ],
  "outbounds": [{"protocol": "freedom"}]
}`

const testUUID = "6ba7b810-9dad-11d1-80b4-00c04fd430c8"

type fakeValidator struct {
	err   error
	calls int
}

func (f *fakeValidator) Validate(path string) error {
	f.calls++
	return f.err
}

type fakeReloader struct {
	err   error
	calls int
}

func (f *fakeReloader) Reload() error {
	f.calls++
	return f.err
}

func newTestEngine(t *testing.T) (*Engine, string, *fakeValidator, *fakeReloader) {
	t.Helper()

	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.json")
	require.NoError(t, os.WriteFile(configPath, []byte(testConfig), 0644))

	v := &fakeValidator{}
	r := &fakeReloader{}
	e := NewEngine(configPath, filepath.Join(dir, "backups"), v, r, nil)
	return e, configPath, v, r
}

func readDoc(t *testing.T, path string) *Document {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	doc, err := ParseDocument(data)
	require.NoError(t, err)
	return doc
}

func inboundByTag(t *testing.T, doc *Document, tag string) *Inbound {
	t.Helper()
	for _, in := range doc.Inbounds {
		if in.Tag == tag {
			return in
		}
	}
	t.Fatalf("no inbound tagged %q", tag)
	return nil
}

func TestReconcileAddsAcrossListeners(t *testing.T) {
	e, configPath, v, r := newTestEngine(t)

	res, err := e.Reconcile(testUUID, "alice", true)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"vless:8443", "vless:8446", "trojan:8447"}, res.Changed)
	assert.FileExists(t, res.BackupPath)
	assert.Equal(t, 1, v.calls)
	assert.Equal(t, 1, r.calls)

	doc := readDoc(t, configPath)

	plain := inboundByTag(t, doc, "vless-xhttp")
	require.Len(t, plain.Clients, 1)
	assert.Equal(t, testUUID, plain.Clients[0].ID())
	assert.Equal(t, "alice", plain.Clients[0].Email())
	assert.Equal(t, "", plain.Clients[0].Flow())

	vision := inboundByTag(t, doc, "vless-vision")
	require.Len(t, vision.Clients, 1)
	assert.Equal(t, VisionFlow, vision.Clients[0].Flow())

	trojan := inboundByTag(t, doc, "trojan-grpc")
	require.Len(t, trojan.Clients, 1)
	assert.Equal(t, testUUID, trojan.Clients[0].Password())
	assert.Equal(t, "", trojan.Clients[0].ID())
}

func TestReconcileIsIdempotent(t *testing.T) {
	e, configPath, v, _ := newTestEngine(t)

	_, err := e.Reconcile(testUUID, "alice", true)
	require.NoError(t, err)
	after, err := os.ReadFile(configPath)
	require.NoError(t, err)

	res, err := e.Reconcile(testUUID, "alice", true)
	require.NoError(t, err)
	assert.Empty(t, res.Changed)
	assert.Equal(t, 1, v.calls) // no change, no second validation

	again, err := os.ReadFile(configPath)
	require.NoError(t, err)
	assert.Equal(t, after, again)
}

func TestReconcileRemoves(t *testing.T) {
	e, configPath, _, _ := newTestEngine(t)

	_, err := e.Reconcile(testUUID, "alice", true)
	require.NoError(t, err)

	res, err := e.Reconcile(testUUID, "alice", false)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"vless:8443", "vless:8446", "trojan:8447"}, res.Changed)

	doc := readDoc(t, configPath)
	for _, tag := range []string{"vless-xhttp", "vless-vision", "trojan-grpc"} {
		assert.Empty(t, inboundByTag(t, doc, tag).Clients, tag)
	}

	// removing an absent credential is a no-op
	res, err = e.Reconcile(testUUID, "alice", false)
	require.NoError(t, err)
	assert.Empty(t, res.Changed)
}

func TestReconcileRequiresCredential(t *testing.T) {
	e, _, _, _ := newTestEngine(t)

	_, err := e.Reconcile("", "alice", true)
	assert.Error(t, err)
}

func TestValidationFailureRollsBack(t *testing.T) {
	e, configPath, v, r := newTestEngine(t)
	v.err = assert.AnError

	before, err := os.ReadFile(configPath)
	require.NoError(t, err)

	_, err = e.Reconcile(testUUID, "alice", true)
	var vfe *ValidationFailedError
	require.ErrorAs(t, err, &vfe)
	assert.FileExists(t, vfe.BackupPath)
	assert.Zero(t, r.calls)

	after, err := os.ReadFile(configPath)
	require.NoError(t, err)
	assert.Equal(t, before, after, "live config must be byte-identical to the pre-call document")
}

func TestReloadFailureKeepsValidatedConfig(t *testing.T) {
	e, configPath, _, r := newTestEngine(t)
	r.err = assert.AnError

	res, err := e.Reconcile(testUUID, "alice", true)
	var re *ReloadError
	require.ErrorAs(t, err, &re)
	require.NotNil(t, res)
	assert.NotEmpty(t, res.Changed)

	// the written document stays: it validated, only the process restart failed
	doc := readDoc(t, configPath)
	assert.Len(t, inboundByTag(t, doc, "vless-xhttp").Clients, 1)
}

func TestMissingConfigFailsClosed(t *testing.T) {
	dir := t.TempDir()
	e := NewEngine(filepath.Join(dir, "nope.json"), filepath.Join(dir, "backups"),
		&fakeValidator{}, &fakeReloader{}, nil)

	_, err := e.Reconcile(testUUID, "alice", true)
	var ioe *IOError
	require.ErrorAs(t, err, &ioe)
	assert.Equal(t, "backup", ioe.Stage)
}

func TestSharedSecretListenerUntouched(t *testing.T) {
	e, configPath, _, _ := newTestEngine(t)

	_, err := e.Reconcile(testUUID, "alice", true)
	require.NoError(t, err)

	data, err := os.ReadFile(configPath)
	require.NoError(t, err)

	var top struct {
		Inbounds []map[string]json.RawMessage `json:"inbounds"`
	}
	require.NoError(t, json.Unmarshal(data, &top))

	for _, in := range top.Inbounds {
		var tag string
		json.Unmarshal(in["tag"], &tag)
		if tag != "ss2022" {
			continue
		}
		var settings map[string]json.RawMessage
		require.NoError(t, json.Unmarshal(in["settings"], &settings))
		assert.Contains(t, settings, "password")
		assert.NotContains(t, settings, "clients")
		return
	}
	t.Fatal("ss2022 inbound missing from written config")
}

func TestUnknownFieldsSurviveRewrite(t *testing.T) {
	e, configPath, _, _ := newTestEngine(t)

	_, err := e.Reconcile(testUUID, "alice", true)
	require.NoError(t, err)

	data, err := os.ReadFile(configPath)
	require.NoError(t, err)

	var top map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(data, &top))
	assert.Contains(t, top, "routing")
	assert.Contains(t, top, "outbounds")
	assert.Contains(t, top, "log")

	doc := readDoc(t, configPath)
	plain := inboundByTag(t, doc, "vless-xhttp")
	assert.Contains(t, plain.fields, "streamSettings")
	assert.Contains(t, plain.settingsExtra, "decryption")
}

func TestListPresenceDedupsAcrossKeying(t *testing.T) {
	e, _, _, _ := newTestEngine(t)

	_, err := e.Reconcile(testUUID, "alice", true)
	require.NoError(t, err)
	other := "11111111-2222-3333-4444-555555555555"
	_, err = e.Reconcile(other, "bob", true)
	require.NoError(t, err)

	presence, err := e.ListPresence()
	require.NoError(t, err)
	require.Len(t, presence, 2)

	// sorted by credential id
	assert.Equal(t, other, presence[0].CredentialID)
	assert.Equal(t, testUUID, presence[1].CredentialID)

	alice := presence[1]
	assert.Equal(t, "alice", alice.Label)
	require.Len(t, alice.Listeners, 3)

	ports := map[int]bool{}
	for _, ref := range alice.Listeners {
		ports[ref.Port] = true
		if ref.Port == VisionPort {
			assert.Equal(t, VisionFlow, ref.Flow)
		}
	}
	assert.Equal(t, map[int]bool{8443: true, 8446: true, 8447: true}, ports)
}
