package simulator

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	peerPublicKey = "bmXOC+F1FxEMF9dyiK2H5/1SUtzH0JuVo51h2wPfgyo="
	peerEndpoint  = "engage.cloudflareclient.com:2408"
)

var (
	ErrDeviceNotFound = errors.New("device not found")
	ErrUnauthorized   = errors.New("invalid token")
	ErrRevoked        = errors.New("device revoked")
)

type Device struct {
	ID        string    `json:"id"`
	Token     string    `json:"-"`
	PublicKey string    `json:"public_key"`
	ClientID  string    `json:"client_id"`
	AddressV4 string    `json:"address_v4"`
	AddressV6 string    `json:"address_v6"`
	CreatedAt time.Time `json:"created_at"`
	Revoked   bool      `json:"revoked"`
	Probes    int       `json:"probes"`
}

// Registry holds the simulated devices.
type Registry struct {
	devices map[string]*Device
	mu      sync.RWMutex
}

func NewRegistry() *Registry {
	return &Registry{devices: make(map[string]*Device)}
}

func (r *Registry) Register(publicKey string, now time.Time) Device {
	d := &Device{
		ID:        uuid.NewString(),
		Token:     strings.ReplaceAll(uuid.NewString(), "-", ""),
		PublicKey: publicKey,
		ClientID:  clientID(),
		AddressV4: fmt.Sprintf("172.16.%d.%d/32", rand.IntN(256), 2+rand.IntN(250)),
		AddressV6: fmt.Sprintf("2606:4700:110:%x::%x/128", rand.IntN(0x10000), 1+rand.IntN(0xffff)),
		CreatedAt: now,
	}

	r.mu.Lock()
	r.devices[d.ID] = d
	r.mu.Unlock()
	return *d
}

// clientID is three random bytes, base64 encoded, like the reserved field
// of the real service.
func clientID() string {
	const alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789+/"
	var b [4]byte
	for i := range b {
		b[i] = alphabet[rand.IntN(len(alphabet))]
	}
	return string(b[:])
}

// Check validates a probe and counts it.
func (r *Registry) Check(id, token string) (Device, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	d, ok := r.devices[id]
	if !ok {
		return Device{}, ErrDeviceNotFound
	}
	if d.Token != token {
		return Device{}, ErrUnauthorized
	}
	if d.Revoked {
		return Device{}, ErrRevoked
	}
	d.Probes++
	return *d, nil
}

func (r *Registry) SetRevoked(id string, revoked bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	d, ok := r.devices[id]
	if !ok {
		return ErrDeviceNotFound
	}
	d.Revoked = revoked
	return nil
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.devices)
}

// List returns the devices oldest first.
func (r *Registry) List() []Device {
	r.mu.RLock()
	out := make([]Device, 0, len(r.devices))
	for _, d := range r.devices {
		out = append(out, *d)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}
