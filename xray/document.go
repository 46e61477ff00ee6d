// Package xray reconciles subscriber credentials into the live xray
// configuration document. The document model only understands the fields the
// engine needs (inbounds, protocol, port, settings.clients); everything else
// is carried through as raw JSON so the engine never strips operator config
// it does not know about.
package xray

import (
	"encoding/json"
	"fmt"
)

type Document struct {
	Inbounds []*Inbound

	// top-level fields other than inbounds, preserved verbatim
	extra map[string]json.RawMessage
}

func ParseDocument(data []byte) (*Document, error) {
	var top map[string]json.RawMessage
	if err := json.Unmarshal(data, &top); err != nil {
		return nil, fmt.Errorf("config is not a JSON object: %w", err)
	}

	doc := &Document{extra: top}

	raw, ok := top["inbounds"]
	if !ok {
		return doc, nil
	}
	delete(top, "inbounds")

	var rawInbounds []json.RawMessage
	if err := json.Unmarshal(raw, &rawInbounds); err != nil {
		return nil, fmt.Errorf("inbounds is not an array: %w", err)
	}

	for i, ri := range rawInbounds {
		in, err := parseInbound(ri)
		if err != nil {
			return nil, fmt.Errorf("inbound %d: %w", i, err)
		}
		doc.Inbounds = append(doc.Inbounds, in)
	}
	return doc, nil
}

func (d *Document) Marshal() ([]byte, error) {
	out := make(map[string]json.RawMessage, len(d.extra)+1)
	for k, v := range d.extra {
		out[k] = v
	}

	ins := make([]json.RawMessage, len(d.Inbounds))
	for i, in := range d.Inbounds {
		b, err := in.marshal()
		if err != nil {
			return nil, fmt.Errorf("inbound %d: %w", i, err)
		}
		ins[i] = b
	}
	insRaw, err := json.Marshal(ins)
	if err != nil {
		return nil, err
	}
	out["inbounds"] = insRaw

	return json.MarshalIndent(out, "", "  ")
}

// Inbound is one listener. Only the credential entry list is ever mutated;
// protocol, port, tag and all unknown fields stay as parsed.
type Inbound struct {
	Tag      string
	Protocol string
	Port     int
	Clients  []*Entry

	fields        map[string]json.RawMessage // all fields except settings
	settingsExtra map[string]json.RawMessage // settings fields except clients
	hasSettings   bool
	hasClients    bool
}

func parseInbound(data json.RawMessage) (*Inbound, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, err
	}

	in := &Inbound{fields: fields}
	if raw, ok := fields["tag"]; ok {
		_ = json.Unmarshal(raw, &in.Tag)
	}
	if raw, ok := fields["protocol"]; ok {
		_ = json.Unmarshal(raw, &in.Protocol)
	}
	if raw, ok := fields["port"]; ok {
		// ports may be ranges or strings for some protocols; those listeners
		// just keep Port zero and are matched by protocol alone
		_ = json.Unmarshal(raw, &in.Port)
	}

	rawSettings, ok := fields["settings"]
	if !ok {
		return in, nil
	}
	delete(fields, "settings")
	in.hasSettings = true

	if err := json.Unmarshal(rawSettings, &in.settingsExtra); err != nil {
		return nil, fmt.Errorf("settings: %w", err)
	}

	rawClients, ok := in.settingsExtra["clients"]
	if !ok {
		return in, nil
	}
	delete(in.settingsExtra, "clients")
	in.hasClients = true

	var rawEntries []json.RawMessage
	if err := json.Unmarshal(rawClients, &rawEntries); err != nil {
		return nil, fmt.Errorf("settings.clients: %w", err)
	}
	for _, re := range rawEntries {
		e, err := parseEntry(re)
		if err != nil {
			return nil, err
		}
		in.Clients = append(in.Clients, e)
	}
	return in, nil
}

func (in *Inbound) marshal() (json.RawMessage, error) {
	out := make(map[string]json.RawMessage, len(in.fields)+1)
	for k, v := range in.fields {
		out[k] = v
	}

	if in.hasSettings || len(in.Clients) > 0 {
		settings := make(map[string]json.RawMessage, len(in.settingsExtra)+1)
		for k, v := range in.settingsExtra {
			settings[k] = v
		}
		if in.hasClients || len(in.Clients) > 0 {
			entries := make([]json.RawMessage, len(in.Clients))
			for i, e := range in.Clients {
				b, err := e.marshal()
				if err != nil {
					return nil, err
				}
				entries[i] = b
			}
			rawEntries, err := json.Marshal(entries)
			if err != nil {
				return nil, err
			}
			settings["clients"] = rawEntries
		}
		rawSettings, err := json.Marshal(settings)
		if err != nil {
			return nil, err
		}
		out["settings"] = rawSettings
	}

	return json.Marshal(out)
}

// Entry is one credential record inside a listener, kept as raw fields so
// per-entry flags the engine does not model survive round trips.
type Entry struct {
	fields map[string]json.RawMessage
}

func NewEntry() *Entry {
	return &Entry{fields: make(map[string]json.RawMessage)}
}

func parseEntry(data json.RawMessage) (*Entry, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, fmt.Errorf("client entry: %w", err)
	}
	return &Entry{fields: fields}, nil
}

func (e *Entry) marshal() (json.RawMessage, error) {
	return json.Marshal(e.fields)
}

func (e *Entry) str(key string) string {
	raw, ok := e.fields[key]
	if !ok {
		return ""
	}
	var s string
	_ = json.Unmarshal(raw, &s)
	return s
}

func (e *Entry) ID() string       { return e.str("id") }
func (e *Entry) Password() string { return e.str("password") }
func (e *Entry) Email() string    { return e.str("email") }
func (e *Entry) Flow() string     { return e.str("flow") }

func (e *Entry) SetString(key, value string) {
	raw, _ := json.Marshal(value)
	e.fields[key] = raw
}
