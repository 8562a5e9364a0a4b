package issuance

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	"golang.org/x/crypto/curve25519"
)

// Credentials is the opaque config blob stored on a pool member.
type Credentials struct {
	DeviceID   string `json:"device_id"`
	Token      string `json:"token"`
	PrivateKey string `json:"private_key"`
	PublicKey  string `json:"public_key"`
	WireGuard  string `json:"wireguard"`
}

func (c Credentials) Encode() (string, error) {
	data, err := json.Marshal(c)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func DecodeCredentials(config string) (Credentials, error) {
	var c Credentials
	if err := json.Unmarshal([]byte(config), &c); err != nil {
		return c, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if c.DeviceID == "" || c.Token == "" {
		return c, fmt.Errorf("%w: missing device id or token", ErrInvalidConfig)
	}
	return c, nil
}

type keyPair struct {
	private string
	public  string
}

func generateKeyPair() (keyPair, error) {
	var priv [curve25519.ScalarSize]byte
	if _, err := rand.Read(priv[:]); err != nil {
		return keyPair{}, fmt.Errorf("failed to read random key: %w", err)
	}
	priv[0] &= 248
	priv[31] = (priv[31] & 127) | 64

	pub, err := curve25519.X25519(priv[:], curve25519.Basepoint)
	if err != nil {
		return keyPair{}, fmt.Errorf("failed to derive public key: %w", err)
	}

	return keyPair{
		private: base64.StdEncoding.EncodeToString(priv[:]),
		public:  base64.StdEncoding.EncodeToString(pub),
	}, nil
}

const (
	defaultAddressV4     = "172.16.0.2/32"
	defaultPeerPublicKey = "bmXOC+F1FxEMF9dyiK2H5/1SUtzH0JuVo51h2wPfgyo="
)

type wireGuardParams struct {
	PrivateKey    string
	AddressV4     string
	AddressV6     string
	PeerPublicKey string
	Endpoint      string
	Reserved      []int
}

func renderWireGuard(p wireGuardParams) string {
	if p.AddressV4 == "" {
		p.AddressV4 = defaultAddressV4
	}
	if p.PeerPublicKey == "" {
		p.PeerPublicKey = defaultPeerPublicKey
	}

	var b strings.Builder
	b.WriteString("[Interface]\n")
	fmt.Fprintf(&b, "PrivateKey = %s\n", p.PrivateKey)
	if p.AddressV6 != "" {
		fmt.Fprintf(&b, "Address = %s, %s\n", p.AddressV4, p.AddressV6)
	} else {
		fmt.Fprintf(&b, "Address = %s\n", p.AddressV4)
	}
	b.WriteString("DNS = 1.1.1.1, 1.0.0.1, 2606:4700:4700::1111, 2606:4700:4700::1001\n")
	b.WriteString("MTU = 1280\n\n")
	b.WriteString("[Peer]\n")
	fmt.Fprintf(&b, "PublicKey = %s\n", p.PeerPublicKey)
	b.WriteString("AllowedIPs = 0.0.0.0/0, ::/0\n")
	fmt.Fprintf(&b, "Endpoint = %s\n", p.Endpoint)
	if len(p.Reserved) > 0 {
		parts := make([]string, len(p.Reserved))
		for i, r := range p.Reserved {
			parts[i] = fmt.Sprint(r)
		}
		fmt.Fprintf(&b, "Reserved = %s\n", strings.Join(parts, ","))
	}
	return b.String()
}

// reservedFromClientID turns the base64 client id into the reserved bytes
// some peers expect in the WireGuard handshake.
func reservedFromClientID(clientID string) []int {
	if clientID == "" {
		return nil
	}
	raw, err := base64.StdEncoding.DecodeString(clientID)
	if err != nil {
		return nil
	}
	reserved := make([]int, len(raw))
	for i, b := range raw {
		reserved[i] = int(b)
	}
	return reserved
}
