package subscription

import (
	"net/url"
	"os"
)

const (
	DefaultSNI        = "www.microsoft.com"
	DefaultClientName = "MyVPN"

	ss2022Method = "2022-blake3-aes-128-gcm"
)

// Params is everything needed to render one subscriber's bundle.
type Params struct {
	UUID           string
	ServerIP       string
	PublicKey      string // Reality public key
	ShortID        string // Reality short id
	SNI            string
	SS2022Password string
	ClientName     string
}

// ParamsFromEnv fills the server-side parameters the way the subscription
// endpoint reads them.
func ParamsFromEnv(uuid, clientName string) Params {
	sni := os.Getenv("REALITY_SNI")
	if sni == "" {
		sni = DefaultSNI
	}
	return Params{
		UUID:           uuid,
		ServerIP:       os.Getenv("SERVER_IP"),
		PublicKey:      os.Getenv("REALITY_PUBLIC_KEY"),
		ShortID:        os.Getenv("REALITY_SHORT_ID"),
		SNI:            sni,
		SS2022Password: os.Getenv("SS2022_PASSWORD"),
		ClientName:     clientName,
	}
}

// variant is one listener the server exposes; the catalog is fixed at build
// time and mirrors the inbound set of the live config.
type variant struct {
	name        string
	scheme      string
	port        int
	network     string
	security    string
	flow        string
	path        string
	serviceName string
	shared      bool // shadowsocks shared-secret scheme
}

var catalog = []variant{
	{name: "Reality XHTTP", scheme: "vless", port: 8443, network: "xhttp", security: "reality"},
	{name: "Reality TCP", scheme: "vless", port: 8444, network: "tcp", security: "reality"},
	{name: "Reality gRPC", scheme: "vless", port: 8445, network: "grpc", security: "reality", serviceName: "vless-grpc"},
	{name: "Reality Vision", scheme: "vless", port: 8446, network: "tcp", security: "reality", flow: "xtls-rprx-vision"},
	{name: "Trojan gRPC", scheme: "trojan", port: 8447, network: "grpc", serviceName: "grpc"},
	{name: "SS2022", scheme: "ss", port: 8448, shared: true},
	{name: "VLESS WS", scheme: "vless", port: 8449, network: "ws", security: "none", path: "/ws"},
}

// Generate renders the full ordered bundle for one credential. Variants whose
// required secret material is not configured are omitted rather than emitted
// with empty fields.
func Generate(p Params) *Bundle {
	if p.SNI == "" {
		p.SNI = DefaultSNI
	}
	if p.ClientName == "" {
		p.ClientName = DefaultClientName
	}

	b := &Bundle{Version: 1}
	for _, v := range catalog {
		label := p.ClientName + " - " + v.name

		switch {
		case v.shared:
			if p.SS2022Password == "" {
				continue
			}
			b.Nodes = append(b.Nodes, Descriptor{
				Scheme:     "ss",
				Credential: ss2022Method + ":" + p.SS2022Password,
				Host:       p.ServerIP,
				Port:       v.port,
				Label:      label,
			})

		case v.scheme == "trojan":
			b.Nodes = append(b.Nodes, Descriptor{
				Scheme:     "trojan",
				Credential: p.UUID,
				Host:       p.ServerIP,
				Port:       v.port,
				Query:      trojanQuery(v),
				Label:      label,
			})

		default:
			b.Nodes = append(b.Nodes, Descriptor{
				Scheme:     "vless",
				Credential: p.UUID,
				Host:       p.ServerIP,
				Port:       v.port,
				Query:      vlessQuery(v, p),
				Label:      label,
			})
		}
	}
	return b
}

func vlessQuery(v variant, p Params) url.Values {
	q := url.Values{}
	q.Set("encryption", "none")
	q.Set("type", v.network)
	if v.security != "" {
		q.Set("security", v.security)
	}
	if v.flow != "" {
		q.Set("flow", v.flow)
	}
	if v.path != "" {
		q.Set("path", v.path)
	}
	if v.serviceName != "" {
		q.Set("serviceName", v.serviceName)
	}
	if v.security == "reality" {
		q.Set("sni", p.SNI)
		if p.PublicKey != "" {
			q.Set("pbk", p.PublicKey)
		}
		if p.ShortID != "" {
			q.Set("sid", p.ShortID)
		}
		q.Set("fp", "chrome")
	}
	return q
}

func trojanQuery(v variant) url.Values {
	q := url.Values{}
	q.Set("type", v.network)
	q.Set("security", "none")
	if v.serviceName != "" {
		q.Set("serviceName", v.serviceName)
	}
	return q
}
