package subscription

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
)

// Bundle is the ordered descriptor set for one subscriber. Both serialized
// forms — the base64-wrapped link list most clients import, and the JSON
// document — are lossless round trips of the same set.
type Bundle struct {
	Version int
	Nodes   []Descriptor
}

func (b *Bundle) Links() []string {
	links := make([]string, len(b.Nodes))
	for i, d := range b.Nodes {
		links[i] = d.URI()
	}
	return links
}

// EncodeBase64 renders the newline-joined link list wrapped in base64 for
// opaque transport.
func (b *Bundle) EncodeBase64() string {
	return base64.StdEncoding.EncodeToString([]byte(strings.Join(b.Links(), "\n")))
}

func DecodeBase64(s string) (*Bundle, error) {
	raw, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("bundle is not valid base64: %w", err)
	}

	b := &Bundle{Version: 1}
	for _, line := range strings.Split(string(raw), "\n") {
		if line == "" {
			continue
		}
		d, err := ParseDescriptor(line)
		if err != nil {
			return nil, err
		}
		b.Nodes = append(b.Nodes, d)
	}
	return b, nil
}

type bundleJSON struct {
	Version int      `json:"version"`
	Nodes   []string `json:"nodes"`
}

func (b *Bundle) EncodeJSON() ([]byte, error) {
	return json.MarshalIndent(bundleJSON{Version: b.Version, Nodes: b.Links()}, "", "  ")
}

func DecodeJSON(data []byte) (*Bundle, error) {
	var bj bundleJSON
	if err := json.Unmarshal(data, &bj); err != nil {
		return nil, fmt.Errorf("bad bundle document: %w", err)
	}

	b := &Bundle{Version: bj.Version}
	for _, link := range bj.Nodes {
		d, err := ParseDescriptor(link)
		if err != nil {
			return nil, err
		}
		b.Nodes = append(b.Nodes, d)
	}
	return b, nil
}
