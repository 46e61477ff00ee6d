// Package subscription turns a subscriber's credential into the
// client-importable connection descriptors for every listener variant the
// server exposes, and packs them into an importable bundle.
package subscription

import (
	"encoding/base64"
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// Descriptor is one connection link. Credential is the uuid for vless, the
// password for trojan, and "method:password" for shadowsocks.
type Descriptor struct {
	Scheme     string
	Credential string
	Host       string
	Port       int
	Query      url.Values
	Label      string
}

// URI renders the descriptor in the standard share-link form. Query
// parameters come out in canonical (sorted) order, so rendering is
// deterministic and round-trips through ParseDescriptor.
func (d Descriptor) URI() string {
	var sb strings.Builder
	sb.WriteString(d.Scheme)
	sb.WriteString("://")

	if d.Scheme == "ss" {
		// URL-safe alphabet: userinfo must not contain "/" or "+"
		sb.WriteString(base64.RawURLEncoding.EncodeToString([]byte(d.Credential)))
	} else {
		sb.WriteString(d.Credential)
	}

	sb.WriteString("@")
	sb.WriteString(d.Host)
	sb.WriteString(":")
	sb.WriteString(strconv.Itoa(d.Port))

	if len(d.Query) > 0 {
		sb.WriteString("?")
		sb.WriteString(d.Query.Encode())
	}

	sb.WriteString("#")
	sb.WriteString(url.PathEscape(d.Label))
	return sb.String()
}

func ParseDescriptor(link string) (Descriptor, error) {
	u, err := url.Parse(link)
	if err != nil {
		return Descriptor{}, fmt.Errorf("bad descriptor: %w", err)
	}
	if u.Scheme == "" || u.User == nil {
		return Descriptor{}, fmt.Errorf("bad descriptor %q: missing scheme or credential", link)
	}

	port, err := strconv.Atoi(u.Port())
	if err != nil {
		return Descriptor{}, fmt.Errorf("bad descriptor %q: %w", link, err)
	}

	credential := u.User.Username()
	if u.Scheme == "ss" {
		decoded, err := base64.RawURLEncoding.DecodeString(credential)
		if err != nil {
			return Descriptor{}, fmt.Errorf("bad ss credential: %w", err)
		}
		credential = string(decoded)
	}

	d := Descriptor{
		Scheme:     u.Scheme,
		Credential: credential,
		Host:       u.Hostname(),
		Port:       port,
		Label:      u.Fragment,
	}
	if q := u.Query(); len(q) > 0 {
		d.Query = q
	}
	return d, nil
}
