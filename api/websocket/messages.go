package websocket

import (
	"encoding/json"
	"time"

	"github.com/OldStager01/egress-gateway/pkg/config"
	"github.com/OldStager01/egress-gateway/pkg/models"
)

type MessageType string

const (
	MessageTypeMemberUpdate MessageType = "member_update"
	MessageTypeProvisioning MessageType = "provisioning"
	MessageTypeDecision     MessageType = "decision"
	MessageTypeScalingEvent MessageType = "scaling_event"
	MessageTypeLeaseExpired MessageType = "lease_expired"
	MessageTypeAlert        MessageType = "alert"
	MessageTypeError        MessageType = "error"
	MessageTypePoolState    MessageType = "pool_state"
	MessageTypeSubscription MessageType = "subscription_update"
)

// OutgoingMessage is the frame format sent to clients. MemberID is empty
// for pool-wide messages.
type OutgoingMessage struct {
	Type      MessageType `json:"type"`
	MemberID  string      `json:"member_id,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
	Severity  string      `json:"severity,omitempty"`
	Message   string      `json:"message,omitempty"`
	Data      interface{} `json:"data,omitempty"`
}

func NewMessage(msgType MessageType, memberID string, data interface{}) *OutgoingMessage {
	return &OutgoingMessage{
		Type:      msgType,
		MemberID:  memberID,
		Timestamp: time.Now(),
		Data:      data,
	}
}

func (m *OutgoingMessage) JSON() []byte {
	data, _ := json.Marshal(m)
	return data
}

type PoolStateData struct {
	Ceiling      int                        `json:"ceiling"`
	Desired      int                        `json:"desired_members"`
	ByState      map[models.HealthState]int `json:"by_state"`
	ActiveLeases int                        `json:"active_leases"`
	QueueDepth   int                        `json:"queue_depth"`
}

func BroadcastPoolState(hub *Hub, s models.PoolSnapshot) {
	data := PoolStateData{
		Ceiling:      s.Ceiling,
		Desired:      s.DesiredMembers,
		ByState:      s.ByState,
		ActiveLeases: s.Admission.ActiveLeases,
		QueueDepth:   s.Admission.QueueDepth,
	}
	hub.Broadcast(NewMessage(MessageTypePoolState, "", data).JSON())
}

// Settings are the connection limits and timings of the hub.
type Settings struct {
	MaxConnections  int
	PingInterval    time.Duration
	WriteTimeout    time.Duration
	PongTimeout     time.Duration
	MaxMessageSize  int64
	ClientBuffer    int
	BroadcastBuffer int
}

func NewSettings(cfg *config.WebSocketConfig) Settings {
	s := Settings{
		MaxConnections:  100,
		PingInterval:    54 * time.Second,
		WriteTimeout:    10 * time.Second,
		PongTimeout:     60 * time.Second,
		MaxMessageSize:  512,
		ClientBuffer:    256,
		BroadcastBuffer: 256,
	}
	if cfg == nil {
		return s
	}
	if cfg.MaxConnections > 0 {
		s.MaxConnections = cfg.MaxConnections
	}
	if cfg.PingInterval > 0 {
		s.PingInterval = cfg.PingInterval
	}
	if cfg.WriteTimeout > 0 {
		s.WriteTimeout = cfg.WriteTimeout
	}
	if cfg.PongTimeout > 0 {
		s.PongTimeout = cfg.PongTimeout
	}
	if cfg.MaxMessageSize > 0 {
		s.MaxMessageSize = cfg.MaxMessageSize
	}
	if cfg.ClientBuffer > 0 {
		s.ClientBuffer = cfg.ClientBuffer
	}
	if cfg.BroadcastBuffer > 0 {
		s.BroadcastBuffer = cfg.BroadcastBuffer
	}
	// Pings must land inside the pong window.
	if s.PingInterval >= s.PongTimeout {
		s.PingInterval = s.PongTimeout * 9 / 10
	}
	return s
}
