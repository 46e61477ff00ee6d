package xray

// Kind describes how a listener protocol keys its credential entries.
type Kind int

const (
	// KindIdentifier protocols (vless, vmess) key entries by a per-client id.
	KindIdentifier Kind = iota
	// KindSecret protocols (trojan) key entries by a per-client password.
	KindSecret
	// KindShared protocols run on one operator-wide secret and carry no
	// per-subscriber entries. Never mutated.
	KindShared
	// KindUnknown listeners are passed through untouched.
	KindUnknown
)

// VisionPort is the distinguished vless listener whose entries carry the
// xtls-rprx-vision flow flag that ordinary vless entries do not.
const (
	VisionPort = 8446
	VisionFlow = "xtls-rprx-vision"
)

func ProtocolKind(protocol string) Kind {
	switch protocol {
	case "vless", "vmess":
		return KindIdentifier
	case "trojan":
		return KindSecret
	case "shadowsocks", "shadowsocks-2022":
		return KindShared
	default:
		return KindUnknown
	}
}

// AccountEmail is the per-entry label written into the config; traffic stats
// are queried back by the same value.
func AccountEmail(credentialID, label string) string {
	if label != "" {
		return label
	}
	if len(credentialID) >= 8 {
		return credentialID[:8]
	}
	return credentialID
}

// project applies one credential's desired presence to one listener and
// reports whether the listener changed. Insertion and deletion are idempotent
// set operations on the protocol's identity field.
func project(in *Inbound, credentialID, label string, present bool) bool {
	switch ProtocolKind(in.Protocol) {
	case KindIdentifier:
		if present {
			return ensureIdentifierEntry(in, credentialID, label)
		}
		return removeEntries(in, func(e *Entry) bool { return e.ID() == credentialID })

	case KindSecret:
		if present {
			return ensureSecretEntry(in, credentialID, label)
		}
		return removeEntries(in, func(e *Entry) bool { return e.Password() == credentialID })

	default:
		return false
	}
}

func ensureIdentifierEntry(in *Inbound, credentialID, label string) bool {
	for _, e := range in.Clients {
		if e.ID() == credentialID {
			return false
		}
	}

	e := NewEntry()
	e.SetString("id", credentialID)
	if in.Port == VisionPort {
		e.SetString("flow", VisionFlow)
	} else {
		e.SetString("flow", "")
	}
	e.SetString("email", AccountEmail(credentialID, label))
	in.Clients = append(in.Clients, e)
	return true
}

func ensureSecretEntry(in *Inbound, credentialID, label string) bool {
	email := AccountEmail(credentialID, label)
	for _, e := range in.Clients {
		// the subscriber may already hold a secret here under a different
		// value; matching by label keeps it
		if e.Password() == credentialID || (e.Email() != "" && e.Email() == email) {
			return false
		}
	}

	e := NewEntry()
	e.SetString("password", credentialID)
	e.SetString("email", email)
	in.Clients = append(in.Clients, e)
	return true
}

func removeEntries(in *Inbound, match func(*Entry) bool) bool {
	kept := in.Clients[:0]
	changed := false
	for _, e := range in.Clients {
		if match(e) {
			changed = true
			continue
		}
		kept = append(kept, e)
	}
	in.Clients = kept
	return changed
}
